package strata

import "github.com/strata-db/strata/pkg/value"

// KVPut stores v under key on the current branch, replacing any
// existing value (spec.md §4.3).
func (s *Strata) KVPut(key string, v value.Value) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	return s.guard(s.kv.Put(s.currentBranch(), key, v))
}

// KVGet returns the value stored under key, or (zero, false) if absent.
func (s *Strata) KVGet(key string) (value.Value, bool, error) {
	return s.kv.Get(s.currentBranch(), key)
}

// KVDelete removes key's value. Returns false, not an error, if key was
// already absent.
func (s *Strata) KVDelete(key string) (bool, error) {
	if err := s.checkPoisoned(); err != nil {
		return false, err
	}
	existed, err := s.kv.Delete(s.currentBranch(), key)
	return existed, s.guard(err)
}

// KVList returns every live key on the current branch starting with
// prefix, in ascending byte order. An empty prefix lists every key.
func (s *Strata) KVList(prefix string) ([]string, error) {
	return s.kv.List(s.currentBranch(), prefix)
}

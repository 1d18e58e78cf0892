package strata

import "github.com/strata-db/strata/pkg/value"

// JSONSet writes newVal at path within the document stored under key,
// creating the document if it doesn't already exist (spec.md §4.6).
func (s *Strata) JSONSet(key, path string, newVal value.Value) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	return s.guard(s.document.Set(s.currentBranch(), key, path, newVal))
}

// JSONGet returns the value at path within key's document.
func (s *Strata) JSONGet(key, path string) (value.Value, bool, error) {
	return s.document.Get(s.currentBranch(), key, path)
}

// JSONDelete removes path from key's document. Returns false, not an
// error, if key or path is absent.
func (s *Strata) JSONDelete(key, path string) (bool, error) {
	if err := s.checkPoisoned(); err != nil {
		return false, err
	}
	existed, err := s.document.Delete(s.currentBranch(), key, path)
	return existed, s.guard(err)
}

// JSONList returns a page of document keys starting with prefix,
// resuming from cursor, in ascending byte order.
func (s *Strata) JSONList(prefix, cursor string, limit int) ([]string, string, error) {
	return s.document.List(s.currentBranch(), prefix, cursor, limit)
}

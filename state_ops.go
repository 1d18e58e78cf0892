package strata

import "github.com/strata-db/strata/pkg/value"

// StateSet unconditionally writes v to cell, incrementing its version
// (spec.md §4.4).
func (s *Strata) StateSet(cell string, v value.Value) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	return s.guard(s.state.Set(s.currentBranch(), cell, v))
}

// StateGet returns cell's current value.
func (s *Strata) StateGet(cell string) (value.Value, bool, error) {
	return s.state.Get(s.currentBranch(), cell)
}

// StateRead returns cell's current value together with its version,
// the pairing state_cas's expected_version argument comes from.
func (s *Strata) StateRead(cell string) (value.Value, uint64, bool, error) {
	return s.state.Read(s.currentBranch(), cell)
}

// StateCAS writes newValue iff cell's stored version exactly matches
// expectedVersion (nil meaning "must not currently exist"). A version
// mismatch returns (nil, nil), not an error (spec.md §4.4, §7).
func (s *Strata) StateCAS(cell string, expectedVersion *uint64, newValue value.Value) (*uint64, error) {
	if err := s.checkPoisoned(); err != nil {
		return nil, err
	}
	version, err := s.state.CAS(s.currentBranch(), cell, expectedVersion, newValue)
	return version, s.guard(err)
}

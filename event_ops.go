package strata

import (
	"github.com/strata-db/strata/pkg/event"
	"github.com/strata-db/strata/pkg/value"
)

// EventAppend assigns the next sequence number on the current branch
// and persists the event (spec.md §4.5).
func (s *Strata) EventAppend(eventType string, payload value.Value) (uint64, error) {
	if err := s.checkPoisoned(); err != nil {
		return 0, err
	}
	seq, err := s.event.Append(s.currentBranch(), eventType, payload)
	return seq, s.guard(err)
}

// EventRead returns the event at seq on the current branch.
func (s *Strata) EventRead(seq uint64) (event.Event, bool, error) {
	return s.event.Read(s.currentBranch(), seq)
}

// EventGet is an alias for EventRead (spec.md §4.5's "event_get (alias)").
func (s *Strata) EventGet(seq uint64) (event.Event, bool, error) {
	return s.EventRead(seq)
}

// EventReadByType returns every event of eventType on the current
// branch, in append order.
func (s *Strata) EventReadByType(eventType string) ([]event.Event, error) {
	return s.event.ReadByType(s.currentBranch(), eventType)
}

// EventGetByType is an alias for EventReadByType.
func (s *Strata) EventGetByType(eventType string) ([]event.Event, error) {
	return s.EventReadByType(eventType)
}

// EventLen returns the number of events appended to the current branch.
func (s *Strata) EventLen() uint64 {
	return s.event.Len(s.currentBranch())
}

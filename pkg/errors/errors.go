// Package errors defines Strata's error taxonomy (spec.md §7): a closed
// set of kinds, each its own typed struct in the teacher's style
// (upstream pkg/storage/errors.go), wrapped with cockroachdb/errors so
// causes survive across the WAL/recovery/primitive boundary.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Kind is one of the seven error kinds spec.md §7 enumerates.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindInvalidState     Kind = "invalid_state"
	KindInvalidArgument  Kind = "invalid_argument"
	KindCasConflict      Kind = "cas_conflict"
	KindDurabilityFailed Kind = "durability_failed"
	KindCorruption       Kind = "corruption"
)

// NotFound — key/cell/branch/collection absent where required.
type NotFoundError struct{ Subject, Name string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Subject, e.Name)
}
func (e *NotFoundError) Kind() Kind { return KindNotFound }

// AlreadyExists — create-operations colliding with existing names.
type AlreadyExistsError struct{ Subject, Name string }

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Subject, e.Name)
}
func (e *AlreadyExistsError) Kind() Kind { return KindAlreadyExists }

// InvalidState — operation forbidden given the engine/branch's current state.
type InvalidStateError struct{ Reason string }

func (e *InvalidStateError) Error() string { return fmt.Sprintf("invalid state: %s", e.Reason) }
func (e *InvalidStateError) Kind() Kind    { return KindInvalidState }

// InvalidArgument — dimension mismatch, malformed path, bad input.
type InvalidArgumentError struct{ Reason string }

func (e *InvalidArgumentError) Error() string { return fmt.Sprintf("invalid argument: %s", e.Reason) }
func (e *InvalidArgumentError) Kind() Kind    { return KindInvalidArgument }

// DurabilityFailed — WAL write or fsync returned an OS error.
type DurabilityFailedError struct{ Cause error }

func (e *DurabilityFailedError) Error() string {
	return fmt.Sprintf("durability failed: %v", e.Cause)
}
func (e *DurabilityFailedError) Unwrap() error { return e.Cause }
func (e *DurabilityFailedError) Kind() Kind    { return KindDurabilityFailed }

// Corruption — WAL CRC mismatch or snapshot integrity failure.
type CorruptionError struct{ Reason string }

func (e *CorruptionError) Error() string { return fmt.Sprintf("corruption: %s", e.Reason) }
func (e *CorruptionError) Kind() Kind    { return KindCorruption }

// CasConflict is returned only internally (state.CAS surfaces it as
// Ok(None), per spec.md §7); kept as a typed error so the state package
// can distinguish it from a real failure before translating it away.
type CasConflictError struct{ Cell string }

func (e *CasConflictError) Error() string { return fmt.Sprintf("cas conflict on cell %q", e.Cell) }
func (e *CasConflictError) Kind() Kind    { return KindCasConflict }

// Constructors used throughout the codebase.

func NotFound(subject, name string) error { return &NotFoundError{Subject: subject, Name: name} }
func AlreadyExists(subject, name string) error {
	return &AlreadyExistsError{Subject: subject, Name: name}
}
func InvalidState(reason string) error { return &InvalidStateError{Reason: reason} }
func InvalidStatef(format string, args ...interface{}) error {
	return &InvalidStateError{Reason: fmt.Sprintf(format, args...)}
}
func InvalidArgument(reason string) error { return &InvalidArgumentError{Reason: reason} }
func InvalidArgumentf(format string, args ...interface{}) error {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}
func DurabilityFailed(cause error) error { return &DurabilityFailedError{Cause: cause} }
func Corruption(reason string) error     { return &CorruptionError{Reason: reason} }
func CasConflict(cell string) error      { return &CasConflictError{Cell: cell} }

// Wrapf keeps cockroachdb/errors in the dependency graph for the one
// place the codebase wants annotated, stack-carrying wrapping without a
// new Kind for every intermediate frame: WAL recovery and durability I/O.
func Wrapf(cause error, format string, args ...interface{}) error {
	return cockroacherrors.Wrapf(cause, format, args...)
}

// KindOf inspects err for one of the typed errors above, walking the
// Unwrap chain. Returns "" if err doesn't carry a known Kind.
func KindOf(err error) Kind {
	type kinder interface{ Kind() Kind }
	for err != nil {
		if k, ok := err.(kinder); ok {
			return k.Kind()
		}
		err = cockroacherrors.UnwrapOnce(err)
	}
	return ""
}

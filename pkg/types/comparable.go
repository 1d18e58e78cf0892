// Package types defines the ordered key types shared by every primary
// index in Strata: the primitive-specific key kinds (string, int,
// float, bool, date) and BranchKey, the wrapper that turns any one of
// them into a branch-scoped key so all branches can share a single
// B+Tree per primitive instead of one tree per (primitive, branch) pair
// (spec.md §9: "branch as keyspace prefix, not a separate tree").
package types

import (
	"fmt"
	"time"
)

// Comparable is the interface every index key must implement.
type Comparable interface {
	Compare(other Comparable) int // -1 if <, 0 if ==, 1 if >
}

// === Key kinds ===

// IntKey is a signed 64-bit integer key (event sequence numbers).
type IntKey int64

func (k IntKey) Compare(other Comparable) int {
	o := other.(IntKey)
	if k < o {
		return -1
	}
	if k > o {
		return 1
	}
	return 0
}

// VarcharKey is a string key (KV keys, JSON document keys, state cell
// names, vector entry keys).
type VarcharKey string

func (k VarcharKey) Compare(other Comparable) int {
	o := other.(VarcharKey)
	if k < o {
		return -1
	}
	if k > o {
		return 1
	}
	return 0
}

// FloatKey is a float64 key.
type FloatKey float64

func (k FloatKey) Compare(other Comparable) int {
	o := other.(FloatKey)
	if k < o {
		return -1
	}
	if k > o {
		return 1
	}
	return 0
}

// BoolKey orders false before true.
type BoolKey bool

func (k BoolKey) Compare(other Comparable) int {
	o := other.(BoolKey)
	if k == o {
		return 0
	}
	if !k && o {
		return -1
	}
	return 1
}

// DateKey is a timestamp key.
type DateKey time.Time

func (k DateKey) Compare(other Comparable) int {
	o := time.Time(other.(DateKey))
	t := time.Time(k)
	if t.Before(o) {
		return -1
	}
	if t.After(o) {
		return 1
	}
	return 0
}

func (k DateKey) String() string    { return time.Time(k).Format("2006-01-02 15:04:05") }
func (k IntKey) String() string     { return fmt.Sprintf("%d", k) }
func (k VarcharKey) String() string { return string(k) }
func (k FloatKey) String() string   { return fmt.Sprintf("%f", k) }
func (k BoolKey) String() string    { return fmt.Sprintf("%t", bool(k)) }

// BranchKey prefixes any Comparable with a branch id, ordering first by
// branch then by the wrapped key. A shared B+Tree keyed by BranchKey
// behaves, from any single branch's point of view, exactly like a
// private tree dedicated to that branch: a range scan bounded to one
// branch id never observes another branch's entries, and deleting a
// branch is a contiguous range — [BranchKey{id,min}, BranchKey{id+1,min}).
type BranchKey struct {
	Branch uint32
	Key    Comparable
}

func (k BranchKey) Compare(other Comparable) int {
	o := other.(BranchKey)
	if k.Branch != o.Branch {
		if k.Branch < o.Branch {
			return -1
		}
		return 1
	}
	if k.Key == nil && o.Key == nil {
		return 0
	}
	if k.Key == nil {
		return -1
	}
	if o.Key == nil {
		return 1
	}
	return k.Key.Compare(o.Key)
}

func (k BranchKey) String() string {
	if s, ok := k.Key.(fmt.Stringer); ok {
		return fmt.Sprintf("%d/%s", k.Branch, s.String())
	}
	return fmt.Sprintf("%d/%v", k.Branch, k.Key)
}

// BranchLowerBound returns the smallest possible BranchKey for branch,
// used as the start of a full-branch range scan.
func BranchLowerBound(branch uint32) BranchKey {
	return BranchKey{Branch: branch, Key: nil}
}

// BranchUpperBound returns the exclusive end of branch's key range —
// the lower bound of the next branch id.
func BranchUpperBound(branch uint32) BranchKey {
	return BranchKey{Branch: branch + 1, Key: nil}
}

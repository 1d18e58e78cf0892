// Package state implements Strata's State primitive: single-writer
// cells carrying a monotonically increasing version used as a
// compare-and-swap token (spec.md §4.4).
package state

import (
	"encoding/binary"
	"time"

	"github.com/strata-db/strata/pkg/btree"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/types"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/wal"
)

// Store is the State primitive, one unique-keyed tree and heap shared
// across every branch.
type Store struct {
	tree *btree.BPlusTree
	heap *heap.HeapManager
	w    *wal.WALWriter
	lsn  *wal.LSNTracker
}

func NewStore(t int, h *heap.HeapManager, w *wal.WALWriter, lsn *wal.LSNTracker) *Store {
	return &Store{
		tree: btree.NewUniqueTree(t),
		heap: h,
		w:    w,
		lsn:  lsn,
	}
}

func branchKey(branch uint32, cell string) types.BranchKey {
	return types.BranchKey{Branch: branch, Key: types.VarcharKey(cell)}
}

// Set unconditionally writes value to cell, incrementing its version
// (or starting it at 1 on first write) regardless of the current
// version. Equivalent to CAS with no expected-version check.
func (s *Store) Set(branch uint32, cell string, v value.Value) error {
	_, err := s.write(branch, cell, v, nil)
	return err
}

// CAS writes newValue iff the cell's stored version exactly matches
// expectedVersion (nil meaning "the cell must not currently exist").
// Returns the new version on success, nil on a version mismatch — a
// CAS conflict is reported as (nil, nil), not an error, per spec.md §4.4.
func (s *Store) CAS(branch uint32, cell string, expectedVersion *uint64, newValue value.Value) (*uint64, error) {
	version, err := s.write(branch, cell, newValue, func(storedVersion uint64, validExisting bool) error {
		if expectedVersion == nil {
			if validExisting {
				return errors.CasConflict(cell)
			}
			return nil
		}
		if !validExisting || *expectedVersion != storedVersion {
			return errors.CasConflict(cell)
		}
		return nil
	})
	if err != nil {
		if errors.KindOf(err) == errors.KindCasConflict {
			return nil, nil
		}
		return nil, err
	}
	return &version, nil
}

// Get returns the cell's current value.
func (s *Store) Get(branch uint32, cell string) (value.Value, bool, error) {
	v, _, _, ok, err := s.read(branch, cell)
	return v, ok, err
}

// Read returns the cell's current value and version together, the
// pairing CAS's expected_version argument is taken from.
func (s *Store) Read(branch uint32, cell string) (value.Value, uint64, bool, error) {
	v, version, _, ok, err := s.read(branch, cell)
	return v, version, ok, err
}

// write runs check (if non-nil) against the cell's current state while
// the leaf latch is held, so the check and the version bump that
// follows it are atomic with respect to concurrent writers on the same
// cell. check returning an error aborts the write without mutating
// anything (spec.md §5's "acquiring a per-cell lock for State CAS" is
// satisfied by the B+Tree's own leaf latch, not a separate lock).
func (s *Store) write(branch uint32, cell string, newValue value.Value, check func(storedVersion uint64, validExisting bool) error) (uint64, error) {
	bk := branchKey(branch, cell)
	var resultVersion uint64

	err := s.tree.Upsert(bk, func(oldOffset int64, exists bool) (int64, error) {
		var storedVersion uint64
		validExisting := false
		if exists {
			data, header, err := s.heap.Read(oldOffset)
			if err != nil {
				return 0, err
			}
			if header.Valid {
				v, _, _, derr := decodeCell(data)
				if derr != nil {
					return 0, errors.Corruption("state: decode cell: " + derr.Error())
				}
				storedVersion = v
				validExisting = true
			}
		}

		if check != nil {
			if err := check(storedVersion, validExisting); err != nil {
				return 0, err
			}
		}

		newVersion := uint64(1)
		if validExisting {
			newVersion = storedVersion + 1
		}

		encodedValue, err := value.Encode(newValue)
		if err != nil {
			return 0, errors.InvalidArgumentf("state: encode value: %v", err)
		}

		currentLSN := s.lsn.Next()
		payload := encodeCell(newVersion, time.Now(), encodedValue)

		if s.w != nil {
			if err := s.appendWAL(currentLSN, branch, cell, payload); err != nil {
				return 0, err
			}
		}

		prevOffset := int64(-1)
		if exists {
			prevOffset = oldOffset
		}
		offset, err := s.heap.Write(payload, currentLSN, prevOffset)
		if err != nil {
			return 0, errors.Wrapf(err, "state: heap write")
		}

		resultVersion = newVersion
		return offset, nil
	})

	return resultVersion, err
}

func (s *Store) read(branch uint32, cell string) (value.Value, uint64, time.Time, bool, error) {
	offset, ok := s.tree.Get(branchKey(branch, cell))
	if !ok {
		return value.Value{}, 0, time.Time{}, false, nil
	}

	data, header, err := s.heap.Read(offset)
	if err != nil {
		return value.Value{}, 0, time.Time{}, false, err
	}
	if !header.Valid {
		return value.Value{}, 0, time.Time{}, false, nil
	}

	version, ts, v, err := decodeCell(data)
	if err != nil {
		return value.Value{}, 0, time.Time{}, false, errors.Corruption("state: decode cell: " + err.Error())
	}
	return v, version, ts, true, nil
}

// ReplayWrite reconstructs a cell write during WAL recovery: raw is the
// already-encoded [version][timestamp][value] record taken verbatim
// from the WAL payload, written to the heap under lsnValue without
// re-running the CAS check (the WAL only ever recorded writes that
// already passed it).
func (s *Store) ReplayWrite(branch uint32, cell string, raw []byte, lsnValue uint64) error {
	bk := branchKey(branch, cell)
	return s.tree.Upsert(bk, func(oldOffset int64, exists bool) (int64, error) {
		prev := int64(-1)
		if exists {
			prev = oldOffset
		}
		return s.heap.Write(raw, lsnValue, prev)
	})
}

func (s *Store) appendWAL(lsnValue uint64, branch uint32, cell string, payload []byte) error {
	entry := wal.NewBranchKeyedEntry(wal.EntryStateSet, lsnValue, wal.FrameBranchKeyed(branch, cell, payload))
	defer wal.ReleaseEntry(entry)
	return s.w.WriteEntry(entry)
}

// encodeCell lays out a cell record as [version(8)][unixNano(8)][value].
func encodeCell(version uint64, ts time.Time, encodedValue []byte) []byte {
	buf := make([]byte, 16+len(encodedValue))
	binary.BigEndian.PutUint64(buf[0:8], version)
	binary.BigEndian.PutUint64(buf[8:16], uint64(ts.UnixNano()))
	copy(buf[16:], encodedValue)
	return buf
}

func decodeCell(buf []byte) (version uint64, ts time.Time, v value.Value, err error) {
	version = binary.BigEndian.Uint64(buf[0:8])
	ts = time.Unix(0, int64(binary.BigEndian.Uint64(buf[8:16])))
	v, err = value.Decode(buf[16:])
	return
}

// DecodeEntry reverses appendWAL's framing, used by recovery replay.
// raw is the still-encoded cell record, suitable for ReplayWrite
// without a decode/re-encode round trip.
func DecodeEntry(payload []byte) (branch uint32, cell string, raw []byte) {
	return wal.UnframeBranchKeyed(payload)
}

// DecodeCell exposes decodeCell for callers (diagnostics, tests) that
// need the version/timestamp/value out of a raw cell record.
func DecodeCell(raw []byte) (version uint64, ts time.Time, v value.Value, err error) {
	return decodeCell(raw)
}

// Package kv implements Strata's KV primitive: a branch-scoped mapping
// from arbitrary string keys to Values, prefix-scannable in ascending
// byte order.
package kv

import (
	"strings"

	"github.com/strata-db/strata/pkg/btree"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/types"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/wal"
)

// Store is the KV primitive: one unique-keyed B+Tree and one heap
// shared across every branch, keyed by types.BranchKey so branches
// never pay for a tree of their own.
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

func branchKey(branch uint32, key string) types.BranchKey {
	return types.BranchKey{Branch: branch, Key: types.VarcharKey(key)}
}

// Put stores value under key, replacing any existing value.
func (s *Store) Put(branch uint32, key string, v value.Value) error {
	encoded, err := value.Encode(v)
	if err != nil {
		return errors.InvalidArgumentf("kv: encode value: %v", err)
	}

	currentLSN := s.lsn.Next()

	if s.w != nil {
		if err := s.appendWAL(wal.EntryKVPut, currentLSN, branch, key, encoded); err != nil {
			return err
		}
	}

	bk := branchKey(branch, key)
	return s.tree.Upsert(bk, func(oldOffset int64, exists bool) (int64, error) {
		prev := int64(-1)
		if exists {
			prev = oldOffset
		}
		offset, err := s.heap.Write(encoded, currentLSN, prev)
		if err != nil {
			return 0, errors.Wrapf(err, "kv: heap write")
		}
		return offset, nil
	})
}

// Get returns the value stored under key, or (zero, false) if absent
// or tombstoned.
func (s *Store) Get(branch uint32, key string) (value.Value, bool, error) {
	offset, ok := s.tree.Get(branchKey(branch, key))
	if !ok {
		return value.Value{}, false, nil
	}

	data, header, err := s.heap.Read(offset)
	if err != nil {
		return value.Value{}, false, err
	}
	if !header.Valid {
		return value.Value{}, false, nil
	}

	v, err := value.Decode(data)
	if err != nil {
		return value.Value{}, false, errors.Corruption("kv: decode value: " + err.Error())
	}
	return v, true, nil
}

// Delete tombstones key's current value. Returns false, not an error,
// if key was already absent.
func (s *Store) Delete(branch uint32, key string) (bool, error) {
	bk := branchKey(branch, key)
	offset, ok := s.tree.Get(bk)
	if !ok {
		return false, nil
	}

	_, header, err := s.heap.Read(offset)
	if err != nil {
		return false, err
	}
	if !header.Valid {
		return false, nil
	}

	currentLSN := s.lsn.Next()
	if s.w != nil {
		if err := s.appendWAL(wal.EntryKVDelete, currentLSN, branch, key, nil); err != nil {
			return false, err
		}
	}

	if err := s.heap.Delete(offset, currentLSN); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every live key on branch whose byte representation
// starts with prefix, in ascending byte order. An empty prefix lists
// every key on the branch.
func (s *Store) List(branch uint32, prefix string) ([]string, error) {
	cursor := btree.NewCursor(s.tree)
	defer cursor.Close()

	cursor.Seek(branchKey(branch, prefix))

	var keys []string
	for cursor.Valid() {
		bk, ok := cursor.Key().(types.BranchKey)
		if !ok || bk.Branch != branch {
			break
		}
		k := string(bk.Key.(types.VarcharKey))
		if !strings.HasPrefix(k, prefix) {
			break
		}

		_, header, err := s.heap.Read(cursor.Value())
		if err != nil {
			return nil, err
		}
		if header.Valid {
			keys = append(keys, k)
		}

		if !cursor.Next() {
			break
		}
	}
	return keys, nil
}

// ReplayPut reconstructs a Put during WAL recovery, writing encoded
// directly to the heap under lsnValue (the LSN recorded in the WAL
// entry, not a freshly allocated one) and skipping WAL re-emission,
// mirroring the teacher's Recover loop writing straight to the heap
// and tree under entry.Header.LSN.
func (s *Store) ReplayPut(branch uint32, key string, encoded []byte, lsnValue uint64) error {
	bk := branchKey(branch, key)
	return s.tree.Upsert(bk, func(oldOffset int64, exists bool) (int64, error) {
		prev := int64(-1)
		if exists {
			prev = oldOffset
		}
		return s.heap.Write(encoded, lsnValue, prev)
	})
}

// ReplayDelete reconstructs a Delete during WAL recovery.
func (s *Store) ReplayDelete(branch uint32, key string, lsnValue uint64) error {
	offset, ok := s.tree.Get(branchKey(branch, key))
	if !ok {
		return nil
	}
	return s.heap.Delete(offset, lsnValue)
}

// PurgeBranch tombstones every live key on branch. Used by the
// background branch garbage collector after delete_branch retires the
// branch id; isolation never depends on this having run, since a
// retired id is never resolved back to a branch name.
func (s *Store) PurgeBranch(branch uint32) error {
	keys, err := s.List(branch, "")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := s.Delete(branch, k); err != nil {
			return err
		}
	}
	return nil
}

// appendWAL frames a KV mutation as branch+key+value and appends it.
// val is empty for EntryKVDelete.
func (s *Store) appendWAL(entryType uint8, lsnValue uint64, branch uint32, key string, val []byte) error {
	entry := wal.NewBranchKeyedEntry(entryType, lsnValue, wal.FrameBranchKeyed(branch, key, val))
	defer wal.ReleaseEntry(entry)
	return s.w.WriteEntry(entry)
}

// DecodeEntry reverses appendWAL's framing, used by recovery replay.
func DecodeEntry(payload []byte) (branch uint32, key string, val []byte) {
	return wal.UnframeBranchKeyed(payload)
}

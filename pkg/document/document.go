// Package document implements Strata's JSON primitive: documents
// addressed by key, with sub-values addressed within a document by a
// JSONPath-lite expression (spec.md §4.6).
package document

import (
	"strings"

	"github.com/strata-db/strata/pkg/btree"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/types"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/wal"
)

// Store is the JSON primitive, one unique-keyed tree and heap shared
// across every branch, the same shape as kv.Store but storing a whole
// document Value per key rather than an opaque scalar.
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

// Set writes newVal at path within the document stored at key. Setting
// at "$" (or "") replaces the whole document; a deeper path creates
// missing intermediate Objects along the way (never Arrays) and fails
// with InvalidArgument if it must traverse a non-Object field or an
// out-of-range array index.
func (s *Store) Set(branch uint32, key, path string, newVal value.Value) error {
	segments, err := parsePath(path)
	if err != nil {
		return err
	}

	root, existed, err := s.getRoot(branch, key)
	if err != nil {
		return err
	}

	var updated value.Value
	if len(segments) == 0 {
		updated = newVal
	} else {
		base := root
		if !existed {
			base = value.Object(map[string]value.Value{})
		}
		updated, err = setPath(base, segments, newVal)
		if err != nil {
			return err
		}
	}

	return s.writeRoot(branch, key, updated)
}

// Get reads the value at path within the document stored at key.
// Returns (zero, false) if the document or the path within it is absent.
func (s *Store) Get(branch uint32, key, path string) (value.Value, bool, error) {
	root, existed, err := s.getRoot(branch, key)
	if err != nil || !existed {
		return value.Value{}, false, err
	}

	segments, err := parsePath(path)
	if err != nil {
		return value.Value{}, false, err
	}
	if len(segments) == 0 {
		return root, true, nil
	}

	v, ok := getPath(root, segments)
	return v, ok, nil
}

// Delete removes the value at path. Deleting "$" removes the whole
// document. Deleting a deeper path removes that field and leaves
// surrounding structure intact. Returns false, not an error, if the
// document or the path within it was already absent.
func (s *Store) Delete(branch uint32, key, path string) (bool, error) {
	segments, err := parsePath(path)
	if err != nil {
		return false, err
	}

	root, existed, err := s.getRoot(branch, key)
	if err != nil || !existed {
		return false, err
	}

	if len(segments) == 0 {
		return true, s.deleteRoot(branch, key)
	}

	updated, removed, err := deletePath(root, segments)
	if err != nil || !removed {
		return false, err
	}
	return true, s.writeRoot(branch, key, updated)
}

// List returns up to limit keys on branch whose byte representation
// starts with prefix, in ascending byte order, resuming from cursor (an
// opaque token: the last key returned by a previous call, or "" to
// start from the beginning). A non-empty returned cursor means more
// keys may follow; an empty one means the listing is exhausted.
func (s *Store) List(branch uint32, prefix, cursor string, limit int) ([]string, string, error) {
	c := btree.NewCursor(s.tree)
	defer c.Close()

	start := prefix
	if cursor != "" {
		start = cursor
	}
	c.Seek(branchKey(branch, start))

	var keys []string
	next := ""
	for c.Valid() {
		bk, ok := c.Key().(types.BranchKey)
		if !ok || bk.Branch != branch {
			break
		}
		k := string(bk.Key.(types.VarcharKey))
		if !strings.HasPrefix(k, prefix) {
			break
		}
		if cursor != "" && k == cursor {
			if !c.Next() {
				break
			}
			continue
		}

		_, header, err := s.heap.Read(c.Value())
		if err != nil {
			return nil, "", err
		}
		if header.Valid {
			keys = append(keys, k)
			if limit > 0 && len(keys) == limit {
				next = k
				break
			}
		}

		if !c.Next() {
			break
		}
	}
	return keys, next, nil
}

// ReplaySet reconstructs an EntryDocSet during WAL recovery, writing
// the already-encoded document root straight to the heap under
// lsnValue, skipping path resolution (the WAL payload already holds
// the whole materialized root, not a per-path delta).
func (s *Store) ReplaySet(branch uint32, key string, encoded []byte, lsnValue uint64) error {
	bk := branchKey(branch, key)
	return s.tree.Upsert(bk, func(oldOffset int64, exists bool) (int64, error) {
		prev := int64(-1)
		if exists {
			prev = oldOffset
		}
		return s.heap.Write(encoded, lsnValue, prev)
	})
}

// ReplayDelete reconstructs an EntryDocDelete during WAL recovery.
func (s *Store) ReplayDelete(branch uint32, key string, lsnValue uint64) error {
	offset, ok := s.tree.Get(branchKey(branch, key))
	if !ok {
		return nil
	}
	return s.heap.Delete(offset, lsnValue)
}

// PurgeBranch deletes every live document on branch. Used by the
// background branch garbage collector after delete_branch retires the
// branch id; isolation never depends on this having run.
func (s *Store) PurgeBranch(branch uint32) error {
	cursor := ""
	for {
		keys, next, err := s.List(branch, "", cursor, 256)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := s.Delete(branch, k, "$"); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// ApplyPath returns root with newVal written at path, without touching
// storage. Used by callers (session transactions) that need to
// materialize a pending document version in memory before commit.
func ApplyPath(root value.Value, path string, newVal value.Value) (value.Value, error) {
	segments, err := parsePath(path)
	if err != nil {
		return value.Value{}, err
	}
	if len(segments) == 0 {
		return newVal, nil
	}
	return setPath(root, segments, newVal)
}

// RemovePath returns root with path removed and whether anything was
// actually removed, without touching storage.
func RemovePath(root value.Value, path string) (value.Value, bool, error) {
	segments, err := parsePath(path)
	if err != nil {
		return value.Value{}, false, err
	}
	if len(segments) == 0 {
		return value.Value{}, true, nil
	}
	return deletePath(root, segments)
}

// ReadPath returns the value at path within root, without touching storage.
func ReadPath(root value.Value, path string) (value.Value, bool, error) {
	segments, err := parsePath(path)
	if err != nil {
		return value.Value{}, false, err
	}
	if len(segments) == 0 {
		return root, true, nil
	}
	v, ok := getPath(root, segments)
	return v, ok, nil
}

func (s *Store) getRoot(branch uint32, key string) (value.Value, bool, error) {
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
	root, err := value.Decode(data)
	if err != nil {
		return value.Value{}, false, errors.Corruption("document: decode root: " + err.Error())
	}
	return root, true, nil
}

func (s *Store) writeRoot(branch uint32, key string, root value.Value) error {
	encoded, err := value.Encode(root)
	if err != nil {
		return errors.InvalidArgumentf("document: encode root: %v", err)
	}

	currentLSN := s.lsn.Next()
	if s.w != nil {
		if err := s.appendWAL(wal.EntryDocSet, currentLSN, branch, key, encoded); err != nil {
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
			return 0, errors.Wrapf(err, "document: heap write")
		}
		return offset, nil
	})
}

func (s *Store) deleteRoot(branch uint32, key string) error {
	bk := branchKey(branch, key)
	offset, ok := s.tree.Get(bk)
	if !ok {
		return nil
	}

	currentLSN := s.lsn.Next()
	if s.w != nil {
		if err := s.appendWAL(wal.EntryDocDelete, currentLSN, branch, key, nil); err != nil {
			return err
		}
	}

	return s.heap.Delete(offset, currentLSN)
}

func (s *Store) appendWAL(entryType uint8, lsnValue uint64, branch uint32, key string, payload []byte) error {
	entry := wal.NewBranchKeyedEntry(entryType, lsnValue, wal.FrameBranchKeyed(branch, key, payload))
	defer wal.ReleaseEntry(entry)
	return s.w.WriteEntry(entry)
}

// DecodeEntry reverses appendWAL's framing, used by recovery replay.
func DecodeEntry(payload []byte) (branch uint32, key string, root []byte) {
	return wal.UnframeBranchKeyed(payload)
}

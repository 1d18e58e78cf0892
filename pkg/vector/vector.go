// Package vector implements Strata's Vector primitive: named
// collections of fixed-dimension embeddings searchable by approximate
// nearest neighbor (spec.md §4.7).
package vector

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/strata-db/strata/pkg/btree"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/types"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/wal"
)

// CollectionInfo describes a collection's fixed shape.
type CollectionInfo struct {
	Name      string
	Dimension uint32
	Metric    Metric
}

type collectionMeta struct {
	dimension uint32
	metric    Metric
	version   uint64
}

// Store is the Vector primitive: one unique tree of collection
// metadata, one unique tree of entries, one in-memory ANN index per
// (branch, collection), all sharing the heap and WAL every other
// primitive uses.
type Store struct {
	collections *btree.BPlusTree
	entries     *btree.BPlusTree
	heap        *heap.HeapManager
	w           *wal.WALWriter
	lsn         *wal.LSNTracker

	mu      sync.RWMutex
	indices map[string]*index
}

func NewStore(t int, h *heap.HeapManager, w *wal.WALWriter, lsn *wal.LSNTracker) *Store {
	return &Store{
		collections: btree.NewUniqueTree(t),
		entries:     btree.NewUniqueTree(t),
		heap:        h,
		w:           w,
		lsn:         lsn,
		indices:     make(map[string]*index),
	}
}

func collectionKey(branch uint32, name string) types.BranchKey {
	return types.BranchKey{Branch: branch, Key: types.VarcharKey(name)}
}

// entryKey namespaces an entry's key within its collection, so one
// shared tree can hold every collection's entries the same way one
// shared tree holds every branch's KV keys.
func entryKey(branch uint32, collection, key string) types.BranchKey {
	return types.BranchKey{Branch: branch, Key: types.VarcharKey(collection + "\x00" + key)}
}

// CreateCollection registers name on branch with a fixed dimension and
// metric. Fails with AlreadyExists if the name is already in use on
// this branch.
func (s *Store) CreateCollection(branch uint32, name string, dimension uint32, metric Metric) (uint64, error) {
	ck := collectionKey(branch, name)
	if _, live, err := s.getCollectionMeta(branch, name); err != nil {
		return 0, err
	} else if live {
		return 0, errors.AlreadyExists("vector collection", name)
	}

	meta := collectionMeta{dimension: dimension, metric: metric, version: 1}
	payload := encodeCollectionMeta(meta)

	currentLSN := s.lsn.Next()
	if s.w != nil {
		if err := s.appendWAL(wal.EntryVectorCreateCollection, currentLSN, branch, name, payload); err != nil {
			return 0, err
		}
	}

	offset, err := s.heap.Write(payload, currentLSN, -1)
	if err != nil {
		return 0, errors.Wrapf(err, "vector: heap write collection meta")
	}
	if err := s.collections.Upsert(ck, func(int64, bool) (int64, error) { return offset, nil }); err != nil {
		return 0, err
	}

	s.withIndexSlot(branch, name, func() *index { return newIndex(metric) })
	return meta.version, nil
}

// DeleteCollection removes name and its entries from branch, and drops
// its in-memory ANN index. Deleting a nonexistent collection returns
// (false, nil), matching the idempotent-delete convention used across
// every other primitive's delete operation.
func (s *Store) DeleteCollection(branch uint32, name string) (bool, error) {
	ck := collectionKey(branch, name)
	offset, ok := s.collections.Get(ck)
	if !ok {
		return false, nil
	}
	if _, live, err := s.getCollectionMeta(branch, name); err != nil || !live {
		return false, err
	}
	entries, err := s.Entries(branch, name)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if _, err := s.Delete(branch, name, e.Key); err != nil {
			return false, err
		}
	}

	currentLSN := s.lsn.Next()
	if s.w != nil {
		if err := s.appendWAL(wal.EntryVectorDeleteCollection, currentLSN, branch, name, nil); err != nil {
			return false, err
		}
	}

	if err := s.heap.Delete(offset, currentLSN); err != nil {
		return false, err
	}

	s.mu.Lock()
	delete(s.indices, branch2str(branch)+"\x00"+name)
	s.mu.Unlock()

	return true, nil
}

// ListCollections returns every live collection defined on branch.
func (s *Store) ListCollections(branch uint32) ([]CollectionInfo, error) {
	c := btree.NewCursor(s.collections)
	defer c.Close()

	c.Seek(types.BranchLowerBound(branch))
	var out []CollectionInfo
	for c.Valid() {
		bk, ok := c.Key().(types.BranchKey)
		if !ok || bk.Branch != branch {
			break
		}
		name := string(bk.Key.(types.VarcharKey))
		data, header, err := s.heap.Read(c.Value())
		if err != nil {
			return nil, err
		}
		if header.Valid {
			meta, err := decodeCollectionMeta(data)
			if err != nil {
				return nil, errors.Corruption("vector: decode collection meta: " + err.Error())
			}
			out = append(out, CollectionInfo{Name: name, Dimension: meta.dimension, Metric: meta.metric})
		}
		if !c.Next() {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SnapshotEntry is one (key, embedding, metadata) triple returned by
// Entries, used to rebuild a collection's ANN index from a snapshot
// without replaying the WAL.
type SnapshotEntry struct {
	Key       string
	Embedding []float32
	Metadata  value.Value
}

// Entries returns every live entry in collection name on branch, used
// to build an on-disk snapshot of the ANN index (spec.md §4.7's
// "periodic snapshot... advisory, WAL remains source of truth").
func (s *Store) Entries(branch uint32, name string) ([]SnapshotEntry, error) {
	c := btree.NewCursor(s.entries)
	defer c.Close()

	prefix := name + "\x00"
	c.Seek(types.BranchLowerBound(branch))
	var out []SnapshotEntry
	for c.Valid() {
		bk, ok := c.Key().(types.BranchKey)
		if !ok || bk.Branch != branch {
			break
		}
		compositeKey := string(bk.Key.(types.VarcharKey))
		if !strings.HasPrefix(compositeKey, prefix) {
			if !c.Next() {
				break
			}
			continue
		}
		data, header, err := s.heap.Read(c.Value())
		if err != nil {
			return nil, err
		}
		if header.Valid {
			embedding, metadata, err := decodeEntry(data)
			if err != nil {
				return nil, errors.Corruption("vector: decode entry: " + err.Error())
			}
			out = append(out, SnapshotEntry{Key: strings.TrimPrefix(compositeKey, prefix), Embedding: embedding, Metadata: metadata})
		}
		if !c.Next() {
			break
		}
	}
	return out, nil
}

// Upsert creates or replaces key's embedding and metadata within
// collection name, failing with InvalidArgument (DimensionMismatch)
// if embedding's length doesn't match the collection's fixed
// dimension. The ANN index is updated before the call returns.
func (s *Store) Upsert(branch uint32, name, key string, embedding []float32, metadata value.Value) error {
	meta, ok, err := s.getCollectionMeta(branch, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("vector collection", name)
	}
	if uint32(len(embedding)) != meta.dimension {
		return errors.InvalidArgumentf("vector: embedding has %d dimensions, collection %q expects %d", len(embedding), name, meta.dimension)
	}

	encodedMeta, err := value.Encode(metadata)
	if err != nil {
		return errors.InvalidArgumentf("vector: encode metadata: %v", err)
	}
	payload := encodeEntry(embedding, encodedMeta)

	ek := entryKey(branch, name, key)
	currentLSN := s.lsn.Next()
	compositeKey := name + "\x00" + key
	if s.w != nil {
		if err := s.appendWAL(wal.EntryVectorUpsert, currentLSN, branch, compositeKey, payload); err != nil {
			return err
		}
	}

	err = s.entries.Upsert(ek, func(oldOffset int64, exists bool) (int64, error) {
		prev := int64(-1)
		if exists {
			prev = oldOffset
		}
		offset, err := s.heap.Write(payload, currentLSN, prev)
		if err != nil {
			return 0, errors.Wrapf(err, "vector: heap write entry")
		}
		return offset, nil
	})
	if err != nil {
		return err
	}

	idx := s.withIndexSlot(branch, name, func() *index { return newIndex(meta.metric) })
	idx.Upsert(key, embedding)
	return nil
}

// RestoreFromSnapshot writes key's embedding and metadata into
// collection name the way a loaded vector.snapshot.zst entry should:
// heap and ANN index only, never the WAL. recover() has already
// replayed every entry the WAL actually recorded, so this is a no-op
// whenever key is already present — the snapshot is advisory and must
// never re-append what recovery already rebuilt. Only a key the WAL
// never had (e.g. a snapshot predating a truncated or rotated log)
// actually reaches the heap write below.
func (s *Store) RestoreFromSnapshot(branch uint32, name, key string, embedding []float32, metadata value.Value) error {
	meta, ok, err := s.getCollectionMeta(branch, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("vector collection", name)
	}

	ek := entryKey(branch, name, key)
	if _, _, live, err := s.Get(branch, name, key); err != nil {
		return err
	} else if live {
		return nil
	}

	encodedMeta, err := value.Encode(metadata)
	if err != nil {
		return errors.InvalidArgumentf("vector: encode metadata: %v", err)
	}
	payload := encodeEntry(embedding, encodedMeta)
	currentLSN := s.lsn.Next()

	if err := s.entries.Upsert(ek, func(oldOffset int64, exists bool) (int64, error) {
		prev := int64(-1)
		if exists {
			prev = oldOffset
		}
		offset, err := s.heap.Write(payload, currentLSN, prev)
		if err != nil {
			return 0, errors.Wrapf(err, "vector: heap write entry")
		}
		return offset, nil
	}); err != nil {
		return err
	}

	idx := s.withIndexSlot(branch, name, func() *index { return newIndex(meta.metric) })
	idx.Upsert(key, embedding)
	return nil
}

// Get returns key's embedding and metadata within collection name.
func (s *Store) Get(branch uint32, name, key string) ([]float32, value.Value, bool, error) {
	offset, ok := s.entries.Get(entryKey(branch, name, key))
	if !ok {
		return nil, value.Value{}, false, nil
	}
	data, header, err := s.heap.Read(offset)
	if err != nil {
		return nil, value.Value{}, false, err
	}
	if !header.Valid {
		return nil, value.Value{}, false, nil
	}
	embedding, metadata, err := decodeEntry(data)
	if err != nil {
		return nil, value.Value{}, false, errors.Corruption("vector: decode entry: " + err.Error())
	}
	return embedding, metadata, true, nil
}

// Delete removes key from collection name and tombstones it in the ANN
// index so subsequent searches never return it.
func (s *Store) Delete(branch uint32, name, key string) (bool, error) {
	ek := entryKey(branch, name, key)
	offset, ok := s.entries.Get(ek)
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
	compositeKey := name + "\x00" + key
	if s.w != nil {
		if err := s.appendWAL(wal.EntryVectorDelete, currentLSN, branch, compositeKey, nil); err != nil {
			return false, err
		}
	}

	if err := s.heap.Delete(offset, currentLSN); err != nil {
		return false, err
	}

	if idx := s.lookupIndex(branch, name); idx != nil {
		idx.Delete(key)
	}
	return true, nil
}

// Search returns up to k nearest entries to query within collection
// name, highest score first. Tombstoned entries are never returned.
func (s *Store) Search(branch uint32, name string, query []float32, k int) ([]ScoredKey, error) {
	meta, ok, err := s.getCollectionMeta(branch, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("vector collection", name)
	}
	if uint32(len(query)) != meta.dimension {
		return nil, errors.InvalidArgumentf("vector: query has %d dimensions, collection %q expects %d", len(query), name, meta.dimension)
	}

	idx := s.lookupIndex(branch, name)
	if idx == nil {
		return nil, nil
	}
	return idx.Search(query, k), nil
}

// ValidateDimension checks embedding against collection name's fixed
// dimension without writing anything, so callers (session transactions)
// can fail a pending command's validation eagerly, at issue time,
// rather than deferring the check to commit (spec.md §4.8).
func (s *Store) ValidateDimension(branch uint32, name string, embedding []float32) error {
	meta, ok, err := s.getCollectionMeta(branch, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("vector collection", name)
	}
	if uint32(len(embedding)) != meta.dimension {
		return errors.InvalidArgumentf("vector: embedding has %d dimensions, collection %q expects %d", len(embedding), name, meta.dimension)
	}
	return nil
}

// PurgeBranch deletes every collection on branch. Used by the
// background branch garbage collector after delete_branch retires the
// branch id; isolation never depends on this having run.
func (s *Store) PurgeBranch(branch uint32) error {
	collections, err := s.ListCollections(branch)
	if err != nil {
		return err
	}
	for _, c := range collections {
		if _, err := s.DeleteCollection(branch, c.Name); err != nil {
			return err
		}
	}
	return nil
}

// CompactAll reclaims tombstoned ANN nodes across every collection this
// Store currently holds in memory, returning the total nodes reclaimed.
// Intended to be driven by a low-frequency background scheduler; per
// spec.md §4.7 it must never change observable search results, only
// free memory behind already-excluded tombstones.
func (s *Store) CompactAll() int {
	s.mu.RLock()
	indices := make([]*index, 0, len(s.indices))
	for _, idx := range s.indices {
		indices = append(indices, idx)
	}
	s.mu.RUnlock()

	total := 0
	for _, idx := range indices {
		total += idx.compact()
	}
	return total
}

// ReplayCreateCollection reconstructs an EntryVectorCreateCollection
// during WAL recovery.
func (s *Store) ReplayCreateCollection(branch uint32, name string, payload []byte, lsnValue uint64) error {
	meta, err := decodeCollectionMeta(payload)
	if err != nil {
		return err
	}
	offset, err := s.heap.Write(payload, lsnValue, -1)
	if err != nil {
		return errors.Wrapf(err, "vector: heap write collection meta")
	}
	if err := s.collections.Upsert(collectionKey(branch, name), func(int64, bool) (int64, error) { return offset, nil }); err != nil {
		return err
	}
	s.withIndexSlot(branch, name, func() *index { return newIndex(meta.metric) })
	return nil
}

// ReplayDeleteCollection reconstructs an EntryVectorDeleteCollection
// during WAL recovery.
func (s *Store) ReplayDeleteCollection(branch uint32, name string, lsnValue uint64) error {
	offset, ok := s.collections.Get(collectionKey(branch, name))
	if !ok {
		return nil
	}
	if err := s.heap.Delete(offset, lsnValue); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.indices, branch2str(branch)+"\x00"+name)
	s.mu.Unlock()
	return nil
}

// ReplayUpsert reconstructs an EntryVectorUpsert during WAL recovery,
// rebuilding the in-memory ANN index the same way Upsert does, minus
// the dimension check (the WAL only ever recorded entries that already
// passed it).
func (s *Store) ReplayUpsert(branch uint32, compositeKey string, payload []byte, lsnValue uint64) error {
	collection, key := SplitCompositeKey(compositeKey)
	embedding, _, err := decodeEntry(payload)
	if err != nil {
		return err
	}

	ek := entryKey(branch, collection, key)
	if err := s.entries.Upsert(ek, func(oldOffset int64, exists bool) (int64, error) {
		prev := int64(-1)
		if exists {
			prev = oldOffset
		}
		return s.heap.Write(payload, lsnValue, prev)
	}); err != nil {
		return err
	}

	meta, ok, err := s.getCollectionMeta(branch, collection)
	if err != nil {
		return err
	}
	if ok {
		idx := s.withIndexSlot(branch, collection, func() *index { return newIndex(meta.metric) })
		idx.Upsert(key, embedding)
	}
	return nil
}

// ReplayDelete reconstructs an EntryVectorDelete during WAL recovery.
func (s *Store) ReplayDelete(branch uint32, compositeKey string, lsnValue uint64) error {
	collection, key := SplitCompositeKey(compositeKey)
	ek := entryKey(branch, collection, key)
	offset, ok := s.entries.Get(ek)
	if !ok {
		return nil
	}
	if err := s.heap.Delete(offset, lsnValue); err != nil {
		return err
	}
	if idx := s.lookupIndex(branch, collection); idx != nil {
		idx.Delete(key)
	}
	return nil
}

func (s *Store) getCollectionMeta(branch uint32, name string) (collectionMeta, bool, error) {
	offset, ok := s.collections.Get(collectionKey(branch, name))
	if !ok {
		return collectionMeta{}, false, nil
	}
	data, header, err := s.heap.Read(offset)
	if err != nil {
		return collectionMeta{}, false, err
	}
	if !header.Valid {
		return collectionMeta{}, false, nil
	}
	meta, err := decodeCollectionMeta(data)
	if err != nil {
		return collectionMeta{}, false, errors.Corruption("vector: decode collection meta: " + err.Error())
	}
	return meta, true, nil
}

func (s *Store) withIndexSlot(branch uint32, name string, create func() *index) *index {
	id := branch2str(branch) + "\x00" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[id]; ok {
		return idx
	}
	idx := create()
	s.indices[id] = idx
	return idx
}

func (s *Store) lookupIndex(branch uint32, name string) *index {
	id := branch2str(branch) + "\x00" + name
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indices[id]
}

func branch2str(branch uint32) string {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, branch)
	return string(buf)
}

func (s *Store) appendWAL(entryType uint8, lsnValue uint64, branch uint32, key string, payload []byte) error {
	entry := wal.NewBranchKeyedEntry(entryType, lsnValue, wal.FrameBranchKeyed(branch, key, payload))
	defer wal.ReleaseEntry(entry)
	return s.w.WriteEntry(entry)
}

// DecodeEntry reverses appendWAL's framing for every Vector entry type,
// used by recovery replay. The key returned for Upsert/Delete records
// is "collection\x00entryKey"; callers split on the first NUL.
func DecodeEntry(payload []byte) (branch uint32, key string, tail []byte) {
	return wal.UnframeBranchKeyed(payload)
}

// SplitCompositeKey separates a DecodeEntry key back into its
// collection name and entry key.
func SplitCompositeKey(key string) (collection, entryKey string) {
	i := strings.IndexByte(key, 0)
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

func encodeCollectionMeta(meta collectionMeta) []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint32(buf[0:4], meta.dimension)
	buf[4] = byte(meta.metric)
	binary.BigEndian.PutUint64(buf[5:13], meta.version)
	return buf
}

func decodeCollectionMeta(buf []byte) (collectionMeta, error) {
	if len(buf) < 13 {
		return collectionMeta{}, errors.Corruption("vector: truncated collection meta")
	}
	return collectionMeta{
		dimension: binary.BigEndian.Uint32(buf[0:4]),
		metric:    Metric(buf[4]),
		version:   binary.BigEndian.Uint64(buf[5:13]),
	}, nil
}

// encodeEntry lays out [dim(4)][embedding floats][metaLen(4)][metadata].
func encodeEntry(embedding []float32, encodedMetadata []byte) []byte {
	buf := make([]byte, 4+4*len(embedding)+4+len(encodedMetadata))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(embedding)))
	off := 4
	for _, f := range embedding {
		binary.BigEndian.PutUint32(buf[off:off+4], math.Float32bits(f))
		off += 4
	}
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(encodedMetadata)))
	off += 4
	copy(buf[off:], encodedMetadata)
	return buf
}

func decodeEntry(buf []byte) ([]float32, value.Value, error) {
	if len(buf) < 4 {
		return nil, value.Value{}, errors.Corruption("vector: truncated entry")
	}
	dim := int(binary.BigEndian.Uint32(buf[0:4]))
	off := 4
	embedding := make([]float32, dim)
	for i := 0; i < dim; i++ {
		embedding[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	if len(buf) < off+4 {
		return nil, value.Value{}, errors.Corruption("vector: truncated entry metadata length")
	}
	metaLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	if len(buf) < off+metaLen {
		return nil, value.Value{}, errors.Corruption("vector: truncated entry metadata")
	}
	metadata, err := value.Decode(buf[off : off+metaLen])
	if err != nil {
		return nil, value.Value{}, err
	}
	return embedding, metadata, nil
}

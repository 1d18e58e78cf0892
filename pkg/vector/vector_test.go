package vector_test

import (
	"os"
	"testing"

	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/vector"
	"github.com/strata-db/strata/pkg/wal"
)

func newStore(t *testing.T) *vector.Store {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "vector_heap_*.bin")
	if err != nil {
		t.Fatal(err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	h, err := heap.NewHeapManager(tmpPath)
	if err != nil {
		t.Fatalf("NewHeapManager: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	return vector.NewStore(3, h, nil, wal.NewLSNTracker(0))
}

func TestCreateCollection_DuplicateName(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 4, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	_, err := s.CreateCollection(0, "vecs", 4, vector.MetricCosine)
	if errors.KindOf(err) != errors.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 4, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	err := s.Upsert(0, "vecs", "a", []float32{1, 0, 0}, value.Null())
	if errors.KindOf(err) != errors.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for a dimension mismatch, got %v", err)
	}
}

func TestUpsertGet_RoundTrips(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 3, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	meta := value.Object(map[string]value.Value{"label": value.String("north")})
	if err := s.Upsert(0, "vecs", "north", []float32{0, 1, 0}, meta); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	embedding, gotMeta, ok, err := s.Get(0, "vecs", "north")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(embedding) != 3 || embedding[1] != 1 {
		t.Fatalf("unexpected embedding: %v", embedding)
	}
	obj, _ := gotMeta.AsObject()
	if s, _ := obj["label"].AsString(); s != "north" {
		t.Fatalf("expected label north, got %v", obj)
	}
}

func TestSearch_NearestNeighborOrdering(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 4, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	entries := map[string][]float32{
		"north": {0, 1, 0, 0},
		"east":  {1, 0, 0, 0},
		"south": {0, -1, 0, 0},
	}
	for key, emb := range entries {
		if err := s.Upsert(0, "vecs", key, emb, value.Null()); err != nil {
			t.Fatalf("Upsert %s: %v", key, err)
		}
	}

	results, err := s.Search(0, "vecs", []float32{0.1, 0.99, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Key != "north" {
		t.Fatalf("expected north as the closest match, got %v", results)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("expected non-increasing scores, got %v", results)
		}
	}
}

func TestSearch_SkipsDeletedEntries(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 2, vector.MetricEuclidean); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := s.Upsert(0, "vecs", "a", []float32{0, 0}, value.Null()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(0, "vecs", "b", []float32{10, 10}, value.Null()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	removed, err := s.Delete(0, "vecs", "a")
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}

	results, err := s.Search(0, "vecs", []float32{0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Key == "a" {
			t.Fatalf("deleted entry %q was returned by search", r.Key)
		}
	}
}

func TestDeleteCollection_Idempotent(t *testing.T) {
	s := newStore(t)

	removed, err := s.DeleteCollection(0, "ghost")
	if err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if removed {
		t.Fatal("deleting a nonexistent collection must report false, not true")
	}
}

func TestListCollections_SortedByName(t *testing.T) {
	s := newStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.CreateCollection(0, name, 2, vector.MetricDotProduct); err != nil {
			t.Fatalf("CreateCollection %s: %v", name, err)
		}
	}

	list, err := s.ListCollections(0)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(list) != 3 || list[0].Name != "alpha" || list[1].Name != "mid" || list[2].Name != "zeta" {
		t.Fatalf("expected sorted [alpha mid zeta], got %v", list)
	}
}

func TestBranchIsolation(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 2, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection branch 0: %v", err)
	}

	err := s.Upsert(1, "vecs", "a", []float32{1, 0}, value.Null())
	if errors.KindOf(err) != errors.KindNotFound {
		t.Fatalf("expected NotFound for a collection that only exists on another branch, got %v", err)
	}
}

func TestEntries_SkipsTombstonedAndOtherCollections(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 2, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if _, err := s.CreateCollection(0, "other", 2, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if err := s.Upsert(0, "vecs", "a", []float32{1, 0}, value.Int(1)); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := s.Upsert(0, "vecs", "b", []float32{0, 1}, value.Int(2)); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}
	if err := s.Upsert(0, "other", "z", []float32{1, 1}, value.Null()); err != nil {
		t.Fatalf("Upsert z: %v", err)
	}
	if _, err := s.Delete(0, "vecs", "b"); err != nil {
		t.Fatalf("Delete b: %v", err)
	}

	entries, err := s.Entries(0, "vecs")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "a" {
		t.Fatalf("expected only the live entry \"a\", got %v", entries)
	}
	if entries[0].Embedding[0] != 1 || entries[0].Embedding[1] != 0 {
		t.Fatalf("expected embedding [1 0], got %v", entries[0].Embedding)
	}
}

func TestPurgeBranch_RemovesOnlyThatBranchsCollections(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 2, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection branch 0: %v", err)
	}
	if _, err := s.CreateCollection(1, "vecs", 2, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection branch 1: %v", err)
	}
	if err := s.Upsert(1, "vecs", "a", []float32{1, 0}, value.Null()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.PurgeBranch(1); err != nil {
		t.Fatalf("PurgeBranch: %v", err)
	}

	list1, err := s.ListCollections(1)
	if err != nil {
		t.Fatalf("ListCollections branch 1: %v", err)
	}
	if len(list1) != 0 {
		t.Fatalf("expected branch 1's collections gone after purge, got %v", list1)
	}

	list0, err := s.ListCollections(0)
	if err != nil {
		t.Fatalf("ListCollections branch 0: %v", err)
	}
	if len(list0) != 1 {
		t.Fatalf("purging branch 1 should not touch branch 0, got %v", list0)
	}
}

func TestCompactAll_ReclaimsTombstonedNodes(t *testing.T) {
	s := newStore(t)

	if _, err := s.CreateCollection(0, "vecs", 2, vector.MetricCosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := s.Upsert(0, "vecs", "a", []float32{1, 0}, value.Null()); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := s.Upsert(0, "vecs", "b", []float32{0, 1}, value.Null()); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}
	if _, err := s.Delete(0, "vecs", "b"); err != nil {
		t.Fatalf("Delete b: %v", err)
	}

	if reclaimed := s.CompactAll(); reclaimed != 1 {
		t.Fatalf("expected 1 tombstoned node reclaimed, got %d", reclaimed)
	}
	if reclaimed := s.CompactAll(); reclaimed != 0 {
		t.Fatalf("expected nothing left to reclaim on a second pass, got %d", reclaimed)
	}

	results, err := s.Search(0, "vecs", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Key != "a" {
		t.Fatalf("expected compaction to leave search results unchanged, got %v", results)
	}
}

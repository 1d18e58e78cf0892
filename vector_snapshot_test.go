package strata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/vector"
	"github.com/strata-db/strata/pkg/wal"
)

func TestVectorSnapshotEncodeDecodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, wal.Standard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.VectorCreateCollection("docs", 2, vector.MetricCosine); err != nil {
		t.Fatalf("VectorCreateCollection: %v", err)
	}
	if err := s.VectorUpsert("docs", "a", []float32{1, 0}, value.Int(7)); err != nil {
		t.Fatalf("VectorUpsert: %v", err)
	}

	raw, err := s.encodeVectorSnapshot()
	if err != nil {
		t.Fatalf("encodeVectorSnapshot: %v", err)
	}

	if _, err := s.vector.DeleteCollection(s.currentBranch(), "docs"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if _, found, _ := s.VectorGet("docs", "a"); found {
		t.Fatal("collection should be gone before decoding the snapshot back in")
	}

	if err := s.decodeVectorSnapshot(raw); err != nil {
		t.Fatalf("decodeVectorSnapshot: %v", err)
	}

	embedding, metadata, found, err := s.VectorGet("docs", "a")
	if err != nil || !found {
		t.Fatalf("VectorGet after decode: found=%v err=%v", found, err)
	}
	if embedding[0] != 1 || embedding[1] != 0 {
		t.Fatalf("expected embedding [1 0], got %v", embedding)
	}
	if n, _ := metadata.AsInt(); n != 7 {
		t.Fatalf("expected metadata 7, got %v", metadata)
	}
}

func TestVectorSnapshotSurvivesRestartWithoutWAL(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, wal.Standard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.VectorCreateCollection("docs", 2, vector.MetricCosine); err != nil {
		t.Fatalf("VectorCreateCollection: %v", err)
	}
	if err := s.VectorUpsert("docs", "a", []float32{1, 0}, value.Null()); err != nil {
		t.Fatalf("VectorUpsert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a WAL lost to an external restore: the snapshot is the
	// only remaining source for this collection.
	if err := os.Remove(filepath.Join(dir, walFileName)); err != nil {
		t.Fatalf("remove wal: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "vector_001.data")); err != nil {
		t.Fatalf("remove vector heap: %v", err)
	}

	s2, err := Open(dir, wal.Standard)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	_, _, found, err := s2.VectorGet("docs", "a")
	if err != nil || !found {
		t.Fatalf("expected the snapshot to rebuild collection \"docs\", found=%v err=%v", found, err)
	}
}

// TestVectorSnapshotDoesNotDuplicateAlreadyRecoveredEntries reproduces the
// normal restart path left untested elsewhere in this file: both the WAL
// and the vector heap survive intact, so recover() rebuilds every entry
// via vector.Store.ReplayUpsert before loadVectorSnapshots ever runs. The
// snapshot must then be a no-op for those entries — restoring from it must
// not re-append to the WAL or re-write the heap for data recover() already
// restored.
func TestVectorSnapshotDoesNotDuplicateAlreadyRecoveredEntries(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, wal.Standard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.VectorCreateCollection("docs", 2, vector.MetricCosine); err != nil {
		t.Fatalf("VectorCreateCollection: %v", err)
	}
	if err := s.VectorUpsert("docs", "a", []float32{1, 0}, value.Int(7)); err != nil {
		t.Fatalf("VectorUpsert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i := 0; i < 2; i++ {
		reopened, err := Open(dir, wal.Standard)
		if err != nil {
			t.Fatalf("reopen %d: %v", i, err)
		}

		if got := reopened.WalCounters().Appends; got != 0 {
			t.Fatalf("reopen %d: expected loading an existing snapshot over already-recovered data to append nothing to the WAL, got %d appends", i, got)
		}

		embedding, metadata, found, err := reopened.VectorGet("docs", "a")
		if err != nil || !found {
			t.Fatalf("reopen %d: VectorGet: found=%v err=%v", i, found, err)
		}
		if embedding[0] != 1 || embedding[1] != 0 {
			t.Fatalf("reopen %d: expected embedding [1 0], got %v", i, embedding)
		}
		if n, _ := metadata.AsInt(); n != 7 {
			t.Fatalf("reopen %d: expected metadata 7, got %v", i, metadata)
		}

		if err := reopened.Close(); err != nil {
			t.Fatalf("reopen %d: Close: %v", i, err)
		}
	}
}

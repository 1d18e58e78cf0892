package document_test

import (
	"os"
	"testing"

	"github.com/strata-db/strata/pkg/document"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/wal"
)

func newStore(t *testing.T) *document.Store {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "doc_heap_*.bin")
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

	return document.NewStore(3, h, nil, wal.NewLSNTracker(0))
}

func obj(fields map[string]value.Value) value.Value { return value.Object(fields) }

func TestSetRoot_ReplacesWholeDocument(t *testing.T) {
	s := newStore(t)

	doc := obj(map[string]value.Value{"name": value.String("alice")})
	if err := s.Set(0, "user:1", "$", doc); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := s.Get(0, "user:1", "$")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !got.Equal(doc) {
		t.Fatalf("expected %v, got %v", doc, got)
	}
}

func TestSet_CreatesIntermediateObjects(t *testing.T) {
	s := newStore(t)

	if err := s.Set(0, "user:1", "$.profile.address.city", value.String("nyc")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := s.Get(0, "user:1", "profile.address.city")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if str, _ := got.AsString(); str != "nyc" {
		t.Fatalf("expected nyc, got %s", str)
	}
}

func TestSet_ArrayIndexRequiresExistingArray(t *testing.T) {
	s := newStore(t)

	err := s.Set(0, "doc", "$.items[0]", value.Int(1))
	if errors.KindOf(err) != errors.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument setting into a missing array, got %v", err)
	}
}

func TestSet_ArrayIndexOnExistingArray(t *testing.T) {
	s := newStore(t)

	initial := obj(map[string]value.Value{
		"items": value.Array([]value.Value{value.Int(1), value.Int(2)}),
	})
	if err := s.Set(0, "doc", "$", initial); err != nil {
		t.Fatalf("Set root: %v", err)
	}

	if err := s.Set(0, "doc", "$.items[1]", value.Int(99)); err != nil {
		t.Fatalf("Set index: %v", err)
	}

	got, ok, err := s.Get(0, "doc", "$.items[1]")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if n, _ := got.AsInt(); n != 99 {
		t.Fatalf("expected 99, got %d", n)
	}

	// Untouched sibling element survives.
	first, ok, err := s.Get(0, "doc", "$.items[0]")
	if err != nil || !ok {
		t.Fatalf("Get sibling: ok=%v err=%v", ok, err)
	}
	if n, _ := first.AsInt(); n != 1 {
		t.Fatalf("expected untouched sibling 1, got %d", n)
	}
}

func TestSet_NonObjectIntermediateFails(t *testing.T) {
	s := newStore(t)

	initial := obj(map[string]value.Value{"name": value.String("alice")})
	if err := s.Set(0, "doc", "$", initial); err != nil {
		t.Fatalf("Set root: %v", err)
	}

	err := s.Set(0, "doc", "$.name.first", value.String("a"))
	if errors.KindOf(err) != errors.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument traversing a scalar field as an object, got %v", err)
	}
}

func TestGet_MissingPathReturnsAbsent(t *testing.T) {
	s := newStore(t)

	if err := s.Set(0, "doc", "$", obj(map[string]value.Value{"a": value.Int(1)})); err != nil {
		t.Fatalf("Set: %v", err)
	}

	_, ok, err := s.Get(0, "doc", "$.b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected missing field to report absent")
	}
}

func TestGet_MissingDocument(t *testing.T) {
	s := newStore(t)

	_, ok, err := s.Get(0, "ghost", "$")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected missing document to report absent")
	}
}

func TestDelete_DeeperPathLeavesSiblingsIntact(t *testing.T) {
	s := newStore(t)

	initial := obj(map[string]value.Value{
		"a": value.Int(1),
		"b": value.Int(2),
	})
	if err := s.Set(0, "doc", "$", initial); err != nil {
		t.Fatalf("Set: %v", err)
	}

	removed, err := s.Delete(0, "doc", "$.a")
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}

	_, ok, _ := s.Get(0, "doc", "$.a")
	if ok {
		t.Fatal("expected $.a to be gone")
	}
	b, ok, err := s.Get(0, "doc", "$.b")
	if err != nil || !ok {
		t.Fatalf("expected sibling $.b to survive: ok=%v err=%v", ok, err)
	}
	if n, _ := b.AsInt(); n != 2 {
		t.Fatalf("expected sibling value 2, got %d", n)
	}
}

func TestDelete_Root(t *testing.T) {
	s := newStore(t)

	if err := s.Set(0, "doc", "$", obj(map[string]value.Value{"a": value.Int(1)})); err != nil {
		t.Fatalf("Set: %v", err)
	}

	removed, err := s.Delete(0, "doc", "$")
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}

	_, ok, err := s.Get(0, "doc", "$")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected document to be gone after root delete")
	}
}

func TestDelete_AbsentPathIsNotAnError(t *testing.T) {
	s := newStore(t)

	if err := s.Set(0, "doc", "$", obj(map[string]value.Value{"a": value.Int(1)})); err != nil {
		t.Fatalf("Set: %v", err)
	}

	removed, err := s.Delete(0, "doc", "$.ghost")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed {
		t.Fatal("deleting an absent path must report false, not true")
	}
}

func TestList_PaginatesWithCursor(t *testing.T) {
	s := newStore(t)

	for _, k := range []string{"doc:1", "doc:2", "doc:3", "doc:4"} {
		if err := s.Set(0, k, "$", value.Int(1)); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	page1, cursor1, err := s.List(0, "doc:", "", 2)
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if len(page1) != 2 || page1[0] != "doc:1" || page1[1] != "doc:2" {
		t.Fatalf("expected [doc:1 doc:2], got %v", page1)
	}
	if cursor1 == "" {
		t.Fatal("expected a continuation cursor after a partial page")
	}

	page2, cursor2, err := s.List(0, "doc:", cursor1, 2)
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2) != 2 || page2[0] != "doc:3" || page2[1] != "doc:4" {
		t.Fatalf("expected [doc:3 doc:4], got %v", page2)
	}
	_ = cursor2
}

func TestBranchIsolation(t *testing.T) {
	s := newStore(t)

	if err := s.Set(0, "doc", "$", value.String("branch-zero")); err != nil {
		t.Fatalf("Set branch 0: %v", err)
	}
	if err := s.Set(1, "doc", "$", value.String("branch-one")); err != nil {
		t.Fatalf("Set branch 1: %v", err)
	}

	v0, _, _ := s.Get(0, "doc", "$")
	v1, _, _ := s.Get(1, "doc", "$")

	s0, _ := v0.AsString()
	s1, _ := v1.AsString()
	if s0 != "branch-zero" || s1 != "branch-one" {
		t.Fatalf("expected isolated documents, got %q and %q", s0, s1)
	}
}

func TestPurgeBranch_RemovesOnlyThatBranch(t *testing.T) {
	s := newStore(t)

	if err := s.Set(0, "doc", "$", value.String("branch-zero")); err != nil {
		t.Fatalf("Set branch 0: %v", err)
	}
	if err := s.Set(1, "doc", "$", value.String("branch-one")); err != nil {
		t.Fatalf("Set branch 1: %v", err)
	}

	if err := s.PurgeBranch(1); err != nil {
		t.Fatalf("PurgeBranch: %v", err)
	}

	if _, found, _ := s.Get(1, "doc", "$"); found {
		t.Fatal("expected the purged branch's document to be gone")
	}
	v, found, err := s.Get(0, "doc", "$")
	if err != nil || !found {
		t.Fatalf("purging branch 1 should not touch branch 0, found=%v err=%v", found, err)
	}
	if got, _ := v.AsString(); got != "branch-zero" {
		t.Fatalf("expected branch 0's document untouched, got %q", got)
	}
}

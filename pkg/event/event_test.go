package event_test

import (
	"os"
	"testing"

	"github.com/strata-db/strata/pkg/event"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/wal"
)

func newStore(t *testing.T) *event.Store {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "event_heap_*.bin")
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

	return event.NewStore(3, h, nil, wal.NewLSNTracker(0))
}

func TestAppend_SeqStartsAtOne(t *testing.T) {
	s := newStore(t)

	seq, err := s.Append(0, "signup", value.String("alice"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected first seq 1, got %d", seq)
	}
}

func TestAppend_SeqIsMonotonic(t *testing.T) {
	s := newStore(t)

	var seqs []uint64
	for i := 0; i < 5; i++ {
		seq, err := s.Append(0, "tick", value.Int(int64(i)))
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		seqs = append(seqs, seq)
	}

	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, seq)
		}
	}
}

func TestRead(t *testing.T) {
	s := newStore(t)

	seq, err := s.Append(0, "signup", value.String("alice"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	ev, ok, err := s.Read(0, seq)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if ev.Type != "signup" {
		t.Fatalf("expected type signup, got %s", ev.Type)
	}
	if str, _ := ev.Payload.AsString(); str != "alice" {
		t.Fatalf("expected payload alice, got %s", str)
	}
}

func TestRead_AbsentSeq(t *testing.T) {
	s := newStore(t)

	_, ok, err := s.Read(0, 42)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Fatal("expected absent seq to report false")
	}
}

func TestReadByType_PreservesAppendOrder(t *testing.T) {
	s := newStore(t)

	if _, err := s.Append(0, "signup", value.String("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(0, "login", value.String("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(0, "signup", value.String("b")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(0, "signup", value.String("c")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := s.ReadByType(0, "signup")
	if err != nil {
		t.Fatalf("ReadByType: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 signup events, got %d", len(events))
	}

	want := []string{"a", "b", "c"}
	for i, ev := range events {
		got, _ := ev.Payload.AsString()
		if got != want[i] {
			t.Fatalf("expected append order %v, got mismatch at %d: %s", want, i, got)
		}
	}
}

func TestReadByType_Empty(t *testing.T) {
	s := newStore(t)

	events, err := s.ReadByType(0, "nothing-appended")
	if err != nil {
		t.Fatalf("ReadByType: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestLen(t *testing.T) {
	s := newStore(t)

	if s.Len(0) != 0 {
		t.Fatalf("expected empty branch length 0, got %d", s.Len(0))
	}

	for i := 0; i < 4; i++ {
		if _, err := s.Append(0, "tick", value.Null()); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := s.Append(0, "other-type", value.Null()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if s.Len(0) != 5 {
		t.Fatalf("expected length 5 regardless of type filtering, got %d", s.Len(0))
	}
}

func TestBranchIsolation(t *testing.T) {
	s := newStore(t)

	if _, err := s.Append(0, "tick", value.Int(1)); err != nil {
		t.Fatalf("Append branch 0: %v", err)
	}
	if _, err := s.Append(1, "tick", value.Int(2)); err != nil {
		t.Fatalf("Append branch 1: %v", err)
	}
	if _, err := s.Append(1, "tick", value.Int(3)); err != nil {
		t.Fatalf("Append branch 1: %v", err)
	}

	if s.Len(0) != 1 {
		t.Fatalf("expected branch 0 length 1, got %d", s.Len(0))
	}
	if s.Len(1) != 2 {
		t.Fatalf("expected branch 1 length 2, got %d", s.Len(1))
	}

	events, err := s.ReadByType(0, "tick")
	if err != nil {
		t.Fatalf("ReadByType: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("branch 0 type index leaked branch 1 events: %v", events)
	}
}

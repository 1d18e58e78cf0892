package branch_test

import (
	"path/filepath"
	"testing"

	"github.com/strata-db/strata/pkg/branch"
)

func TestManifest_SaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifest")

	m, err := branch.OpenManifest(dir)
	if err != nil {
		t.Fatalf("OpenManifest: %v", err)
	}

	if err := m.Save("default", 0, false); err != nil {
		t.Fatalf("Save default: %v", err)
	}
	if err := m.Save("feature", 1, false); err != nil {
		t.Fatalf("Save feature: %v", err)
	}
	if err := m.SaveNextID(2); err != nil {
		t.Fatalf("SaveNextID: %v", err)
	}
	if err := m.SaveCurrent("feature"); err != nil {
		t.Fatalf("SaveCurrent: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := branch.OpenManifest(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()

	byName, nextID, current, err := m2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if byName["default"] != 0 || byName["feature"] != 1 {
		t.Fatalf("expected {default:0 feature:1}, got %v", byName)
	}
	if nextID != 2 {
		t.Fatalf("expected nextID 2, got %d", nextID)
	}
	if current != "feature" {
		t.Fatalf("expected current %q, got %q", "feature", current)
	}
}

func TestManifest_SaveFreedRemovesName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifest")

	m, err := branch.OpenManifest(dir)
	if err != nil {
		t.Fatalf("OpenManifest: %v", err)
	}
	defer m.Close()

	if err := m.Save("feature", 1, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Save("feature", 1, true); err != nil {
		t.Fatalf("Save freed: %v", err)
	}

	byName, _, _, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := byName["feature"]; ok {
		t.Fatal("expected a freed name to be absent after reload")
	}
}

func TestManager_PersistsAcrossRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifest")

	m1, err := branch.OpenManifest(dir)
	if err != nil {
		t.Fatalf("OpenManifest: %v", err)
	}

	mgr1 := branch.NewManager(nil, nil)
	if err := mgr1.UseManifest(m1); err != nil {
		t.Fatalf("UseManifest: %v", err)
	}
	id, err := mgr1.Create("feature")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mgr1.Set("feature"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := branch.OpenManifest(dir)
	if err != nil {
		t.Fatalf("reopen manifest: %v", err)
	}
	defer m2.Close()

	mgr2 := branch.NewManager(nil, nil)
	if err := mgr2.UseManifest(m2); err != nil {
		t.Fatalf("UseManifest: %v", err)
	}

	if mgr2.Current() != "feature" {
		t.Fatalf("expected current branch to survive restart as %q, got %q", "feature", mgr2.Current())
	}
	if gotID, ok := mgr2.IDOf("feature"); !ok || gotID != id {
		t.Fatalf("expected feature's id %d to survive restart, got %d (ok=%v)", id, gotID, ok)
	}

	newID, err := mgr2.Create("another")
	if err != nil {
		t.Fatalf("Create after restart: %v", err)
	}
	if newID <= id {
		t.Fatalf("expected the restored manager to keep handing out increasing ids, got %d after %d", newID, id)
	}
}

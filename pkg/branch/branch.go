// Package branch owns the lifecycle of named branches and the small
// integer identifiers every primitive embeds in its B+Tree keys via
// types.BranchKey. A Manager is the single source of truth for
// name<->id mappings and the process-scoped "current branch" that every
// primitive call is implicitly routed through.
package branch

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/wal"
)

// DefaultBranch is created at database creation and may never be
// deleted.
const DefaultBranch = "default"

// Manager assigns branch ids (never reused after deletion, so a deleted
// branch's residual heap/WAL records can never resurrect under a new
// branch of the same name) and tracks the current branch selection.
//
// It does not itself hold any primitive data: deleting a branch here
// only retires the name and emits the WAL record. The caller (the root
// engine façade) is responsible for sweeping every primitive's index
// for the freed id, the same way table.go left Heap/Tree cleanup to its
// caller rather than owning cross-cutting state itself.
type Manager struct {
	mu      sync.RWMutex
	byName  map[string]uint32
	nextID  uint32
	current string

	w   *wal.WALWriter
	lsn *wal.LSNTracker

	manifest *Manifest
}

// NewManager creates a Manager with only the default branch present, id
// 0, current. w and lsn may both be nil for a memory-only engine; no
// WAL record is emitted for the initial default branch since it has no
// prior state to recover from.
func NewManager(w *wal.WALWriter, lsn *wal.LSNTracker) *Manager {
	return &Manager{
		byName:  map[string]uint32{DefaultBranch: 0},
		nextID:  1,
		current: DefaultBranch,
		w:       w,
		lsn:     lsn,
	}
}

// UseManifest attaches m so every subsequent Create/Delete/Set is
// mirrored into it, and hydrates the Manager's in-memory state from
// whatever m already holds on disk (if anything). Called once, right
// after NewManager, by a persistent façade's Open path.
func (mgr *Manager) UseManifest(m *Manifest) error {
	byName, nextID, current, err := m.Load()
	if err != nil {
		return err
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.manifest = m

	if len(byName) > 0 {
		if _, ok := byName[DefaultBranch]; !ok {
			byName[DefaultBranch] = 0
		}
		mgr.byName = byName
	}
	if nextID > mgr.nextID {
		mgr.nextID = nextID
	}
	if current != "" {
		mgr.current = current
	}
	return nil
}

// Current returns the name of the process-scoped current branch.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CurrentID returns the id of the current branch.
func (m *Manager) CurrentID() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[m.current]
}

// IDOf resolves a branch name to its id.
func (m *Manager) IDOf(name string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	return id, ok
}

// Create assigns a fresh id to name and emits a WAL record. Fails with
// AlreadyExists if name is taken.
func (m *Manager) Create(name string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[name]; exists {
		return 0, errors.AlreadyExists("branch", name)
	}

	id := m.nextID
	if err := m.appendWAL(wal.EntryBranchCreate, id, name); err != nil {
		return 0, err
	}
	m.nextID++
	m.byName[name] = id

	if m.manifest != nil {
		if err := m.manifest.Save(name, id, false); err != nil {
			return 0, err
		}
		if err := m.manifest.SaveNextID(m.nextID); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// Set switches the current branch. Fails with NotFound if name is
// absent. The switch itself has no WAL effect: it is process-local.
func (m *Manager) Set(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[name]; !ok {
		return errors.NotFound("branch", name)
	}
	m.current = name

	if m.manifest != nil {
		if err := m.manifest.SaveCurrent(name); err != nil {
			return err
		}
	}
	return nil
}

// Delete retires name, freeing nothing for reuse, and emits a WAL
// record. Fails with InvalidState if name is the current branch or
// default, NotFound if absent. Returns the freed id so the caller can
// purge that id's entries from every primitive index.
func (m *Manager) Delete(name string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == DefaultBranch {
		return 0, errors.InvalidState("the default branch can never be deleted")
	}
	if name == m.current {
		return 0, errors.InvalidState("cannot delete the current branch")
	}

	id, ok := m.byName[name]
	if !ok {
		return 0, errors.NotFound("branch", name)
	}

	if err := m.appendWAL(wal.EntryBranchDelete, id, name); err != nil {
		return 0, err
	}
	delete(m.byName, name)

	if m.manifest != nil {
		if err := m.manifest.Save(name, id, true); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// ReplayCreate reconstructs a branch assignment during WAL recovery,
// without re-emitting a WAL record or touching the manifest (the
// manifest, if present, is already authoritative and recovery only
// needs to fill in whatever the manifest didn't capture).
func (m *Manager) ReplayCreate(id uint32, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; !exists {
		m.byName[name] = id
	}
	if id >= m.nextID {
		m.nextID = id + 1
	}
}

// ReplayDelete mirrors Delete during WAL recovery, without re-emitting
// a WAL record.
func (m *Manager) ReplayDelete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byName, name)
}

// List returns every branch name, sorted, as a point-in-time snapshot.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// appendWAL must be called with m.mu held.
func (m *Manager) appendWAL(entryType uint8, id uint32, name string) error {
	if m.w == nil {
		return nil
	}

	payload := make([]byte, 4+len(name))
	binary.BigEndian.PutUint32(payload[:4], id)
	copy(payload[4:], name)

	entry := wal.AcquireEntry()
	defer wal.ReleaseEntry(entry)

	entry.Header.Magic = wal.WALMagic
	entry.Header.Version = wal.WALVersion
	entry.Header.EntryType = entryType
	entry.Header.LSN = m.lsn.Next()
	entry.Header.PayloadLen = uint32(len(payload))
	entry.Header.CRC32 = wal.CalculateCRC32(payload)
	entry.Payload = append(entry.Payload, payload...)

	return m.w.WriteEntry(entry)
}

// DecodeBranchEntry reverses appendWAL's payload framing, used by
// recovery replay to reconstruct the name<->id table without rerunning
// Create/Delete (which would re-emit WAL records).
func DecodeBranchEntry(payload []byte) (id uint32, name string) {
	id = binary.BigEndian.Uint32(payload[:4])
	name = string(payload[4:])
	return
}

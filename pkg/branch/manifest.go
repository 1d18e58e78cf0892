package branch

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/strata-db/strata/pkg/errors"
)

// Manifest persists the branch name<->id table and the current-branch
// selection to a small pebble database, the "manifest file recording
// branch id assignments" spec.md §6 calls for in the persisted data
// directory layout. It is a convenience fast-path only: a Manager
// rebuilt purely by replaying EntryBranchCreate/EntryBranchDelete
// records from the WAL would reach the same state, the same way a
// vector collection's ANN snapshot is "advisory" next to the WAL
// (spec.md §4.7).
type Manifest struct {
	db *pebble.DB
}

const (
	manifestNamePrefix = "n:"
	manifestNextIDKey  = "next"
	manifestCurrentKey = "current"
)

// OpenManifest opens (or creates) the manifest database at dir.
func OpenManifest(dir string) (*Manifest, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "branch: open manifest at %s", dir)
	}
	return &Manifest{db: db}, nil
}

// Close releases the manifest database.
func (m *Manifest) Close() error {
	return m.db.Close()
}

// Save records name -> id as given (ids are assigned by the Manager, not
// here), or removes name's entry when freed is true.
func (m *Manifest) Save(name string, id uint32, freed bool) error {
	if freed {
		return m.db.Delete([]byte(manifestNamePrefix+name), pebble.Sync)
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return m.db.Set([]byte(manifestNamePrefix+name), buf, pebble.Sync)
}

// SaveNextID persists the next id to be assigned.
func (m *Manifest) SaveNextID(next uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, next)
	return m.db.Set([]byte(manifestNextIDKey), buf, pebble.Sync)
}

// SaveCurrent persists the process's current-branch selection.
func (m *Manifest) SaveCurrent(name string) error {
	return m.db.Set([]byte(manifestCurrentKey), []byte(name), pebble.Sync)
}

// Load reads back the manifest's full state: every name->id assignment,
// the next id to hand out, and the last-saved current branch (empty if
// never saved, in which case the caller falls back to DefaultBranch).
func (m *Manifest) Load() (byName map[string]uint32, nextID uint32, current string, err error) {
	byName = make(map[string]uint32)

	iter, err := m.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(manifestNamePrefix),
		UpperBound: []byte(manifestNamePrefix + "\xff"),
	})
	if err != nil {
		return nil, 0, "", err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(manifestNamePrefix):])
		byName[name] = binary.BigEndian.Uint32(iter.Value())
	}

	if v, closer, err := m.db.Get([]byte(manifestNextIDKey)); err == nil {
		nextID = binary.BigEndian.Uint32(v)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, 0, "", err
	}

	if v, closer, err := m.db.Get([]byte(manifestCurrentKey)); err == nil {
		current = string(v)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, 0, "", err
	}

	return byName, nextID, current, nil
}

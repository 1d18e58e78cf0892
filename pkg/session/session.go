// Package session implements Strata's Session/Transaction primitive
// (spec.md §4.8): a client handle that submits commands against every
// other primitive, either applied immediately (autocommit) or buffered
// between TxnBegin and TxnCommit with read-your-writes visibility.
//
// Grounded on pkg/storage/transaction_write.go's WriteTransaction: a
// mutex-guarded write-set of typed operations, validated as they're
// added and applied in one pass at commit. The teacher buffers a single
// table/index's writes; Command generalizes writeOp into one enum
// spanning all five primitives, and TxnCommit's apply loop replaces the
// teacher's two-phase WAL-then-memory Commit with a single pass that
// defers to each primitive's own Store (which already does its own
// WAL-then-heap-then-tree ordering internally).
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/strata-db/strata/pkg/document"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/event"
	"github.com/strata-db/strata/pkg/kv"
	"github.com/strata-db/strata/pkg/state"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/vector"
)

// Kind identifies the mutation a Command performs.
type Kind uint8

const (
	KVPut Kind = iota + 1
	KVDelete
	StateSet
	StateCAS
	EventAppend
	DocSet
	DocDelete
	VectorUpsert
	VectorDelete
)

// Command is one buffered or immediately-applied mutation, covering
// every primitive's write surface (spec.md §4.8's "command enum").
type Command struct {
	Kind   Kind
	Branch uint32

	Key  string // KV / State cell / Event type / Document key / Vector entry key
	Path string // Document only

	Value value.Value

	ExpectedVersion *uint64 // State CAS only

	Collection string    // Vector only
	Embedding  []float32 // Vector only
	Metadata   value.Value

	EventType string // Event only
}

// Result reports what a successfully applied Command produced.
type Result struct {
	Version *uint64 // State Set/CAS: the new version (nil on a CAS conflict)
	Seq     uint64  // Event Append: the assigned sequence
	Existed bool    // *Delete: whether anything was actually removed
}

// Stores bundles every primitive a Session can issue commands against.
type Stores struct {
	KV       *kv.Store
	State    *state.Store
	Event    *event.Store
	Document *document.Store
	Vector   *vector.Store
}

type kvState struct {
	value   value.Value
	deleted bool
}

type docState struct {
	value   value.Value
	existed bool
}

type vectorState struct {
	embedding []float32
	metadata  value.Value
	deleted   bool
}

// transaction is the pending write-set of one open TxnBegin/TxnCommit
// block, plus per-primitive overlays giving Session's Get-style methods
// read-your-writes visibility before anything actually commits.
type transaction struct {
	writeSet []Command

	kvOverlay     map[string]kvState
	stateOverlay  map[string]value.Value
	docOverlay    map[string]docState
	vectorOverlay map[string]vectorState
}

func newTransaction() *transaction {
	return &transaction{
		kvOverlay:     make(map[string]kvState),
		stateOverlay:  make(map[string]value.Value),
		docOverlay:    make(map[string]docState),
		vectorOverlay: make(map[string]vectorState),
	}
}

// Session is a client handle. In autocommit mode (the default) every Do
// call applies immediately. Between TxnBegin and TxnCommit/TxnAbort,
// commands are buffered and only become visible to other sessions at
// commit (spec.md §4.8's snapshot-on-read isolation).
type Session struct {
	id     uuid.UUID
	stores Stores
	mu     sync.Mutex
	tx     *transaction
}

func New(stores Stores) *Session {
	return &Session{id: uuid.New(), stores: stores}
}

// ID identifies this client handle for log correlation; it has no
// bearing on command ordering or visibility.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// InTransaction reports whether a transaction is currently open.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// TxnBegin opens a transaction. Fails with InvalidState if one is
// already open.
func (s *Session) TxnBegin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return errors.InvalidState("session: a transaction is already open")
	}
	s.tx = newTransaction()
	return nil
}

// TxnAbort discards the pending buffer (spec.md §4.8).
func (s *Session) TxnAbort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errors.InvalidState("session: no open transaction")
	}
	s.tx = nil
	return nil
}

// TxnCommit applies every buffered command, in issue order, against the
// real stores. State CAS commands run their version check here, not
// when they were issued (spec.md §4.8). The first command that fails
// aborts the whole transaction: already-applied commands before it are
// not rolled back, matching the teacher's own simplifying note that
// this is not full ARIES-style undo ("Refactoring... however, for this
// implementation, let's just use a fresh LSN").
func (s *Session) TxnCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errors.InvalidState("session: no open transaction")
	}
	tx := s.tx
	s.tx = nil

	for _, cmd := range tx.writeSet {
		if _, err := s.apply(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Do issues cmd: applied immediately in autocommit mode, buffered
// (after eager validation) in transaction mode.
func (s *Session) Do(cmd Command) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return s.apply(cmd)
	}
	return s.buffer(cmd)
}

func (s *Session) apply(cmd Command) (Result, error) {
	switch cmd.Kind {
	case KVPut:
		return Result{}, s.stores.KV.Put(cmd.Branch, cmd.Key, cmd.Value)
	case KVDelete:
		existed, err := s.stores.KV.Delete(cmd.Branch, cmd.Key)
		return Result{Existed: existed}, err
	case StateSet:
		err := s.stores.State.Set(cmd.Branch, cmd.Key, cmd.Value)
		return Result{}, err
	case StateCAS:
		version, err := s.stores.State.CAS(cmd.Branch, cmd.Key, cmd.ExpectedVersion, cmd.Value)
		return Result{Version: version}, err
	case EventAppend:
		seq, err := s.stores.Event.Append(cmd.Branch, cmd.EventType, cmd.Value)
		return Result{Seq: seq}, err
	case DocSet:
		return Result{}, s.stores.Document.Set(cmd.Branch, cmd.Key, cmd.Path, cmd.Value)
	case DocDelete:
		existed, err := s.stores.Document.Delete(cmd.Branch, cmd.Key, cmd.Path)
		return Result{Existed: existed}, err
	case VectorUpsert:
		return Result{}, s.stores.Vector.Upsert(cmd.Branch, cmd.Collection, cmd.Key, cmd.Embedding, cmd.Metadata)
	case VectorDelete:
		existed, err := s.stores.Vector.Delete(cmd.Branch, cmd.Collection, cmd.Key)
		return Result{Existed: existed}, err
	default:
		return Result{}, errors.InvalidArgumentf("session: unknown command kind %d", cmd.Kind)
	}
}

// buffer validates cmd (eagerly, so e.g. a DimensionMismatch aborts the
// transaction at issue time per spec.md §4.8), appends it to the
// write-set, and updates the matching overlay so a subsequent Get*
// call in the same transaction observes it.
func (s *Session) buffer(cmd Command) (Result, error) {
	switch cmd.Kind {
	case KVPut:
		s.tx.kvOverlay[kvOverlayKey(cmd.Branch, cmd.Key)] = kvState{value: cmd.Value}
	case KVDelete:
		s.tx.kvOverlay[kvOverlayKey(cmd.Branch, cmd.Key)] = kvState{deleted: true}
	case StateSet:
		s.tx.stateOverlay[kvOverlayKey(cmd.Branch, cmd.Key)] = cmd.Value
	case StateCAS:
		// The version check is deferred to commit; the overlay still
		// exposes the tentative value so a same-transaction Get sees it,
		// but a conflicting CAS at commit means the value never actually
		// lands.
		s.tx.stateOverlay[kvOverlayKey(cmd.Branch, cmd.Key)] = cmd.Value
	case DocSet:
		base, _ := s.loadDoc(cmd.Branch, cmd.Key)
		updated, err := document.ApplyPath(base, cmd.Path, cmd.Value)
		if err != nil {
			s.tx = nil
			return Result{}, err
		}
		s.tx.docOverlay[kvOverlayKey(cmd.Branch, cmd.Key)] = docState{value: updated, existed: true}
	case DocDelete:
		base, existed := s.loadDoc(cmd.Branch, cmd.Key)
		if !existed {
			s.tx.docOverlay[kvOverlayKey(cmd.Branch, cmd.Key)] = docState{existed: false}
		} else if cmd.Path == "" || cmd.Path == "$" {
			s.tx.docOverlay[kvOverlayKey(cmd.Branch, cmd.Key)] = docState{existed: false}
		} else {
			updated, removed, err := document.RemovePath(base, cmd.Path)
			if err != nil {
				s.tx = nil
				return Result{}, err
			}
			if removed {
				s.tx.docOverlay[kvOverlayKey(cmd.Branch, cmd.Key)] = docState{value: updated, existed: true}
			}
		}
	case VectorUpsert:
		if err := s.stores.Vector.ValidateDimension(cmd.Branch, cmd.Collection, cmd.Embedding); err != nil {
			s.tx = nil
			return Result{}, err
		}
		s.tx.vectorOverlay[vectorOverlayKey(cmd.Branch, cmd.Collection, cmd.Key)] = vectorState{embedding: cmd.Embedding, metadata: cmd.Metadata}
	case VectorDelete:
		s.tx.vectorOverlay[vectorOverlayKey(cmd.Branch, cmd.Collection, cmd.Key)] = vectorState{deleted: true}
	case EventAppend:
		// Events are immutable and their sequence is only assigned at
		// append time; there is nothing meaningful to overlay before
		// commit actually runs Append.
	default:
		s.tx = nil
		return Result{}, errors.InvalidArgumentf("session: unknown command kind %d", cmd.Kind)
	}

	s.tx.writeSet = append(s.tx.writeSet, cmd)
	return Result{}, nil
}

func (s *Session) loadDoc(branch uint32, key string) (value.Value, bool) {
	if ov, ok := s.tx.docOverlay[kvOverlayKey(branch, key)]; ok {
		return ov.value, ov.existed
	}
	root, existed, _ := s.stores.Document.Get(branch, key, "$")
	return root, existed
}

// GetKV returns key's value, observing this session's own pending
// write if one exists within an open transaction.
func (s *Session) GetKV(branch uint32, key string) (value.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		if ov, ok := s.tx.kvOverlay[kvOverlayKey(branch, key)]; ok {
			return ov.value, !ov.deleted, nil
		}
	}
	return s.stores.KV.Get(branch, key)
}

// GetState returns cell's value, observing this session's own pending
// write if one exists within an open transaction. No version is
// returned, since a pending write's version is not settled until
// TxnCommit runs.
func (s *Session) GetState(branch uint32, cell string) (value.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		if v, ok := s.tx.stateOverlay[kvOverlayKey(branch, cell)]; ok {
			return v, true, nil
		}
	}
	return s.stores.State.Get(branch, cell)
}

// GetDocument returns the value at path within key's document,
// observing this session's own pending writes within an open
// transaction.
func (s *Session) GetDocument(branch uint32, key, path string) (value.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		if ov, ok := s.tx.docOverlay[kvOverlayKey(branch, key)]; ok {
			if !ov.existed {
				return value.Value{}, false, nil
			}
			return document.ReadPath(ov.value, path)
		}
	}
	return s.stores.Document.Get(branch, key, path)
}

// GetVector returns key's embedding and metadata within collection,
// observing this session's own pending writes within an open
// transaction.
func (s *Session) GetVector(branch uint32, collection, key string) ([]float32, value.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		if ov, ok := s.tx.vectorOverlay[vectorOverlayKey(branch, collection, key)]; ok {
			if ov.deleted {
				return nil, value.Value{}, false, nil
			}
			return ov.embedding, ov.metadata, true, nil
		}
	}
	return s.stores.Vector.Get(branch, collection, key)
}

func kvOverlayKey(branch uint32, key string) string {
	return fmt.Sprintf("%d/%s", branch, key)
}

func vectorOverlayKey(branch uint32, collection, key string) string {
	return fmt.Sprintf("%d/%s/%s", branch, collection, key)
}

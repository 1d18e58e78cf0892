// Package strata ties the branch manager, the WAL, every primitive
// store, and the session factory together behind the single
// process-level handle spec.md §6 describes.
//
// Grounded on the teacher's StorageEngine (pkg/storage/engine.go):
// one WAL writer and one LSN tracker shared across every index, a
// Recover(walPath) pass that replays the log before the engine accepts
// writes, and a deliberately thin façade that delegates almost
// everything to per-concern packages rather than owning logic itself.
package strata

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/strata-db/strata/pkg/branch"
	"github.com/strata-db/strata/pkg/document"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/event"
	"github.com/strata-db/strata/pkg/graph"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/kv"
	"github.com/strata-db/strata/pkg/session"
	"github.com/strata-db/strata/pkg/state"
	"github.com/strata-db/strata/pkg/vector"
	"github.com/strata-db/strata/pkg/wal"
)

// treeOrder is the B+Tree minimum degree T every primitive's tree is
// built with (a node holds at most 2T-1 keys). One constant, shared by every primitive, the same way
// the teacher's tables all shared a single configured grade.
const treeOrder = 64

const walFileName = "wal.log"

// Strata is the embedded multi-model engine handle: one branch
// manager, one WAL, one store per primitive (KV, State, Event,
// Document, Vector, Graph), and the diagnostics/background machinery
// layered on top.
type Strata struct {
	dataDir   string
	ephemeral bool

	walWriter *wal.WALWriter
	walPath   string
	lsn       *wal.LSNTracker
	metrics   *wal.Metrics
	registry  *prometheus.Registry

	branches *branch.Manager
	manifest *branch.Manifest

	kv       *kv.Store
	state    *state.Store
	event    *event.Store
	document *document.Store
	vector   *vector.Store
	graph    *graph.Store

	logger zerolog.Logger
	cron   *cron.Cron

	mu              sync.RWMutex
	poisoned        error
	autoEmbed       bool
	retiredBranches []uint32
}

// Open opens (or creates) a persistent engine rooted at dir, recovering
// from any existing WAL before returning.
func Open(dir string, durability wal.DurabilityPolicy) (*Strata, error) {
	return open(dir, durability, false)
}

// OpenTemp creates an ephemeral instance in a freshly created temp
// directory, removed on Close. Intended for tests and scratch use.
func OpenTemp() (*Strata, error) {
	dir, err := os.MkdirTemp("", "strata-temp-*")
	if err != nil {
		return nil, errors.Wrapf(err, "strata: create temp dir")
	}
	s, err := open(dir, wal.Standard, true)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return s, nil
}

// Cache opens an ephemeral instance under Cache durability: no fsync
// is ever forced, matching spec.md §6's "cache() opens in Cache
// durability" and the original Rust test suite's Strata::cache().
func Cache() (*Strata, error) {
	dir, err := os.MkdirTemp("", "strata-cache-*")
	if err != nil {
		return nil, errors.Wrapf(err, "strata: create temp dir")
	}
	s, err := open(dir, wal.Cache, true)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return s, nil
}

func open(dir string, durability wal.DurabilityPolicy, ephemeral bool) (*Strata, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "strata: create data dir %s", dir)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "strata").Logger()

	registry := prometheus.NewRegistry()
	metrics := wal.NewMetrics(registry)

	walPath := filepath.Join(dir, walFileName)
	walOpts := wal.Options{
		DirPath:      dir,
		BufferSize:   64 * 1024,
		Policy:       durability,
		SyncInterval: time.Second,
	}
	w, err := wal.NewWALWriter(walPath, walOpts, metrics)
	if err != nil {
		return nil, err
	}

	lsn := wal.NewLSNTracker(0)

	heapFor := func(name string) (*heap.HeapManager, error) {
		return heap.NewHeapManager(filepath.Join(dir, name))
	}
	kvHeap, err := heapFor("kv")
	if err != nil {
		return nil, errors.Wrapf(err, "strata: open kv heap")
	}
	stateHeap, err := heapFor("state")
	if err != nil {
		return nil, errors.Wrapf(err, "strata: open state heap")
	}
	eventHeap, err := heapFor("event")
	if err != nil {
		return nil, errors.Wrapf(err, "strata: open event heap")
	}
	docHeap, err := heapFor("document")
	if err != nil {
		return nil, errors.Wrapf(err, "strata: open document heap")
	}
	vectorHeap, err := heapFor("vector")
	if err != nil {
		return nil, errors.Wrapf(err, "strata: open vector heap")
	}

	s := &Strata{
		dataDir:   dir,
		ephemeral: ephemeral,
		walWriter: w,
		walPath:   walPath,
		lsn:       lsn,
		metrics:   metrics,
		registry:  registry,
		logger:    logger,
		autoEmbed: false,
	}

	s.branches = branch.NewManager(w, lsn)
	manifest, err := branch.OpenManifest(filepath.Join(dir, "manifest"))
	if err != nil {
		return nil, err
	}
	s.manifest = manifest
	if err := s.branches.UseManifest(manifest); err != nil {
		return nil, err
	}

	s.kv = kv.NewStore(treeOrder, kvHeap, w, lsn)
	s.state = state.NewStore(treeOrder, stateHeap, w, lsn)
	s.event = event.NewStore(treeOrder, eventHeap, w, lsn)
	s.document = document.NewStore(treeOrder, docHeap, w, lsn)
	s.vector = vector.NewStore(treeOrder, vectorHeap, w, lsn)
	s.graph = graph.NewStore(treeOrder, w, lsn)

	if err := s.recover(); err != nil {
		return nil, err
	}

	s.loadVectorSnapshots()

	s.cron = cron.New()
	s.startBackground()

	initSentry(logger)

	return s, nil
}

// Session creates a new client handle (spec.md §4.8) wired against this
// engine's primitive stores. Graph is deliberately excluded from the
// session command enum, matching the spec's framing of it as a
// collaborator rather than a full transactional participant.
func (s *Strata) Session() *session.Session {
	return session.New(session.Stores{
		KV:       s.kv,
		State:    s.state,
		Event:    s.event,
		Document: s.document,
		Vector:   s.vector,
	})
}

// Close stops the background scheduler, flushes and closes the WAL and
// manifest, and removes the data directory if this engine was opened
// ephemerally.
func (s *Strata) Close() error {
	s.cron.Stop()
	s.saveVectorSnapshots()

	if err := s.walWriter.Close(); err != nil {
		return err
	}
	if err := s.manifest.Close(); err != nil {
		return err
	}
	if s.ephemeral {
		return os.RemoveAll(s.dataDir)
	}
	return nil
}

func (s *Strata) currentBranch() uint32 {
	return s.branches.CurrentID()
}

// poison transitions the engine into a failed state after a
// DurabilityFailed or Corruption error (spec.md §7): every later
// mutating call fails fast with InvalidState without re-attempting I/O.
func (s *Strata) poison(cause error) {
	s.mu.Lock()
	already := s.poisoned != nil
	if !already {
		s.poisoned = cause
	}
	s.mu.Unlock()
	if already {
		return
	}
	s.logger.Error().Err(cause).Msg("engine transitioning to poisoned state")
	reportPoison(cause)
}

func (s *Strata) checkPoisoned() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.poisoned != nil {
		return errors.InvalidStatef("strata: engine is poisoned: %v", s.poisoned)
	}
	return nil
}

// guard inspects err for a DurabilityFailed or Corruption kind and
// poisons the engine before passing it through unchanged.
func (s *Strata) guard(err error) error {
	if err == nil {
		return nil
	}
	switch errors.KindOf(err) {
	case errors.KindDurabilityFailed, errors.KindCorruption:
		s.poison(err)
	}
	return err
}

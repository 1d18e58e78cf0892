// Package graph implements Strata's Graph collaborator primitive:
// nodes and edges participating in the branch/WAL model, with a
// standard breadth-first traversal (spec.md §1 — "touched only insofar
// as it participates in the branch/WAL model; its traversal algorithm
// is a standard BFS and is not a distinguishing component").
package graph

import (
	"sort"
	"sync"

	"github.com/strata-db/strata/pkg/btree"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/types"
	"github.com/strata-db/strata/pkg/wal"
)

// Depth is one node's BFS distance from the traversal's source.
type Depth struct {
	Node  string
	Depth int
}

// Store is the Graph primitive: a unique tree recording which node ids
// have been added (so AddEdge can reject unknown endpoints), and an
// in-memory adjacency list per branch
// that BFS walks directly — grounded on the teacher's pattern of
// keeping one authoritative tree per primitive but doing read-hot work
// (here, graph traversal) against an in-memory structure rather than
// re-walking a B+Tree for every edge.
type Store struct {
	nodes *btree.BPlusTree
	w     *wal.WALWriter
	lsn   *wal.LSNTracker

	mu        sync.RWMutex
	adjacency map[uint32]map[string][]string
}

func NewStore(t int, w *wal.WALWriter, lsn *wal.LSNTracker) *Store {
	return &Store{
		nodes:     btree.NewUniqueTree(t),
		w:         w,
		lsn:       lsn,
		adjacency: make(map[uint32]map[string][]string),
	}
}

func nodeKey(branch uint32, id string) types.BranchKey {
	return types.BranchKey{Branch: branch, Key: types.VarcharKey(id)}
}

// AddNode registers id on branch. Adding an already-registered id is a
// no-op, matching the idempotent-write convention used elsewhere (e.g.
// kv.Put overwriting, rather than rejecting, an existing key).
func (s *Store) AddNode(branch uint32, id string) error {
	nk := nodeKey(branch, id)
	if _, ok := s.nodes.Get(nk); ok {
		return nil
	}

	currentLSN := s.lsn.Next()
	if s.w != nil {
		if err := s.appendWAL(wal.EntryGraphAddNode, currentLSN, branch, id, nil); err != nil {
			return err
		}
	}

	if err := s.nodes.Insert(nk, 0); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adjacency[branch] == nil {
		s.adjacency[branch] = make(map[string][]string)
	}
	if _, ok := s.adjacency[branch][id]; !ok {
		s.adjacency[branch][id] = nil
	}
	return nil
}

// AddEdge connects from and to on branch. Both endpoints must already
// exist (NotFound otherwise). Edges are undirected for traversal
// purposes (spec.md §8's LDBC scenario explicitly calls for "undirected
// traversal"), so this records both directions.
func (s *Store) AddEdge(branch uint32, from, to string) error {
	if _, ok := s.nodes.Get(nodeKey(branch, from)); !ok {
		return errors.NotFound("graph node", from)
	}
	if _, ok := s.nodes.Get(nodeKey(branch, to)); !ok {
		return errors.NotFound("graph node", to)
	}

	currentLSN := s.lsn.Next()
	if s.w != nil {
		if err := s.appendWAL(wal.EntryGraphAddEdge, currentLSN, branch, from, []byte(to)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjacency[branch][from] = appendUnique(s.adjacency[branch][from], to)
	s.adjacency[branch][to] = appendUnique(s.adjacency[branch][to], from)
	return nil
}

// BFS returns every node reachable from source on branch, in
// non-decreasing depth order, depth 0 being source itself. Returns nil
// if source was never added.
func (s *Store) BFS(branch uint32, source string) []Depth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adj, ok := s.adjacency[branch]
	if !ok {
		return nil
	}
	if _, ok := adj[source]; !ok {
		return nil
	}

	visited := map[string]int{source: 0}
	queue := []string{source}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		depth := visited[node]
		neighbors := append([]string(nil), adj[node]...)
		sort.Strings(neighbors)
		for _, n := range neighbors {
			if _, seen := visited[n]; !seen {
				visited[n] = depth + 1
				queue = append(queue, n)
			}
		}
	}

	out := make([]Depth, 0, len(visited))
	for node, depth := range visited {
		out = append(out, Depth{Node: node, Depth: depth})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].Node < out[j].Node
	})
	return out
}

// ReplayAddNode reconstructs an EntryGraphAddNode during WAL recovery.
func (s *Store) ReplayAddNode(branch uint32, id string) error {
	nk := nodeKey(branch, id)
	if _, ok := s.nodes.Get(nk); ok {
		return nil
	}
	if err := s.nodes.Insert(nk, 0); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adjacency[branch] == nil {
		s.adjacency[branch] = make(map[string][]string)
	}
	if _, ok := s.adjacency[branch][id]; !ok {
		s.adjacency[branch][id] = nil
	}
	return nil
}

// ReplayAddEdge reconstructs an EntryGraphAddEdge during WAL recovery.
func (s *Store) ReplayAddEdge(branch uint32, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjacency[branch][from] = appendUnique(s.adjacency[branch][from], to)
	s.adjacency[branch][to] = appendUnique(s.adjacency[branch][to], from)
}

// PurgeBranch drops branch's adjacency list from memory. Used by the
// background branch garbage collector after delete_branch retires the
// branch id; isolation never depends on this having run, since a
// retired id is never resolved back to a branch name. Node registration
// in the shared tree is left in place, matching every other primitive's
// convention of tombstoning rather than physically erasing.
func (s *Store) PurgeBranch(branch uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.adjacency, branch)
}

func appendUnique(neighbors []string, n string) []string {
	for _, existing := range neighbors {
		if existing == n {
			return neighbors
		}
	}
	return append(neighbors, n)
}

func (s *Store) appendWAL(entryType uint8, lsnValue uint64, branch uint32, key string, payload []byte) error {
	entry := wal.NewBranchKeyedEntry(entryType, lsnValue, wal.FrameBranchKeyed(branch, key, payload))
	defer wal.ReleaseEntry(entry)
	return s.w.WriteEntry(entry)
}

// DecodeEntry reverses appendWAL's framing, used by recovery replay.
// For EntryGraphAddEdge, tail is the "to" node id.
func DecodeEntry(payload []byte) (branch uint32, key string, tail []byte) {
	return wal.UnframeBranchKeyed(payload)
}

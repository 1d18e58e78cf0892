package vector

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// ScoredKey is one hit from a nearest-neighbor search.
type ScoredKey struct {
	Key   string
	Score float64
}

// node is one vector's position in the proximity graph: its embedding
// and the neighbor keys discovered when it was inserted or last
// re-upserted. id is this node's slot in the collection's tombstone
// bitmap; a tombstoned node is kept in the graph (other nodes may still
// route through it) but never returned by Search.
type node struct {
	id        uint32
	embedding []float32
	neighbors []string
}

// index is a single-layer navigable small-world graph (spec.md §4.7):
// insertion greedily connects a new point to the maxDegree nearest
// points already reachable from the entry point, so search from any
// point can hill-climb toward any other without a full scan. It trades
// the teacher's B+Tree latch-crabbing for a dedicated per-collection
// RWMutex, since graph neighbor lists are not ordered and can't be
// addressed by the teacher's Comparable key scheme.
//
// Deletions are tracked in a roaring.Bitmap of node ids rather than a
// per-node flag, so a background compaction can test "is this id live"
// against one compact structure instead of walking every node (spec.md
// §4.7: "search must skip tombstoned entries... a background compaction
// MAY reclaim tombstones").
type index struct {
	mu         sync.RWMutex
	metric     Metric
	nodes      map[string]*node
	entry      string
	maxDegree  int
	efSearch   int
	nextID     uint32
	tombstones *roaring.Bitmap
}

func newIndex(metric Metric) *index {
	return &index{
		metric:     metric,
		nodes:      make(map[string]*node),
		maxDegree:  16,
		efSearch:   64,
		tombstones: roaring.New(),
	}
}

// Upsert inserts key or, if present, replaces its embedding and clears
// any tombstone. Re-inserts are wired into the graph exactly like a
// fresh insert: no batch rebuild is required (spec.md §4.7).
func (idx *index) Upsert(key string, embedding []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.nodes[key]; ok {
		existing.embedding = embedding
		idx.tombstones.Remove(existing.id)
		for _, c := range idx.searchLocked(embedding, idx.maxDegree, true) {
			if c.Key == key {
				continue
			}
			existing.neighbors = appendBounded(existing.neighbors, c.Key, idx.maxDegree)
			if other, ok := idx.nodes[c.Key]; ok {
				other.neighbors = appendBounded(other.neighbors, key, idx.maxDegree)
			}
		}
		return
	}

	id := idx.nextID
	idx.nextID++

	if len(idx.nodes) == 0 {
		idx.nodes[key] = &node{id: id, embedding: embedding}
		idx.entry = key
		return
	}

	candidates := idx.searchLocked(embedding, idx.maxDegree, true)
	n := &node{id: id, embedding: embedding}
	for _, c := range candidates {
		if c.Key == key {
			continue
		}
		n.neighbors = appendBounded(n.neighbors, c.Key, idx.maxDegree)
		if other, ok := idx.nodes[c.Key]; ok {
			other.neighbors = appendBounded(other.neighbors, key, idx.maxDegree)
		}
	}
	idx.nodes[key] = n
}

// Delete tombstones key. Returns false if key was absent or already
// tombstoned. The neighbor edges are left in place; searches route
// through a tombstoned node without ever reporting it.
func (idx *index) Delete(key string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[key]
	if !ok || idx.tombstones.Contains(n.id) {
		return false
	}
	idx.tombstones.Add(n.id)
	return true
}

// compact drops every tombstoned node from the graph entirely,
// reclaiming its memory. Per spec.md §4.7 this must not change
// observable search results, since tombstoned nodes were already
// excluded from Search; only Upsert's internal routing could have
// walked through one, and that routing is recomputed from the
// survivors as they're visited again naturally.
func (idx *index) compact() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.tombstones.IsEmpty() {
		return 0
	}

	reclaimed := 0
	for key, n := range idx.nodes {
		if idx.tombstones.Contains(n.id) {
			delete(idx.nodes, key)
			reclaimed++
		}
	}
	for key, n := range idx.nodes {
		n.neighbors = pruneDead(n.neighbors, idx.nodes)
		if key == idx.entry {
			if _, ok := idx.nodes[idx.entry]; !ok {
				idx.entry = ""
			}
		}
	}
	if _, ok := idx.nodes[idx.entry]; !ok {
		for key := range idx.nodes {
			idx.entry = key
			break
		}
	}
	idx.tombstones.Clear()
	return reclaimed
}

func pruneDead(neighbors []string, live map[string]*node) []string {
	out := neighbors[:0]
	for _, n := range neighbors {
		if _, ok := live[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Search returns up to k keys closest to query by the collection's
// metric, highest score first, skipping tombstoned entries.
func (idx *index) Search(query []float32, k int) []ScoredKey {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.searchLocked(query, k, false)
}

// searchLocked runs a bounded breadth-first walk of the graph starting
// at the entry point: each round expands every node currently on the
// frontier (not just the best-scoring one) into its unvisited
// neighbors, until no new node is reached or the visited set hits
// efSearch, then returns the top k scored candidates seen along the
// way. This trades the selectivity a true best-first walk gets from
// prioritizing the frontier by score for the simplicity of a single
// unordered layer — approximate, not exact, nearest-neighbor search.
// includeTombstoned lets Upsert route new edges through
// recently-deleted nodes (they still shape the graph's connectivity)
// without ever surfacing them to a caller-facing Search.
func (idx *index) searchLocked(query []float32, k int, includeTombstoned bool) []ScoredKey {
	if idx.entry == "" {
		return nil
	}

	visited := map[string]bool{idx.entry: true}
	frontier := []string{idx.entry}
	var candidates []ScoredKey

	for len(frontier) > 0 && len(visited) < idx.efSearch {
		var next []string
		for _, key := range frontier {
			n, ok := idx.nodes[key]
			if !ok {
				continue
			}
			if includeTombstoned || !idx.tombstones.Contains(n.id) {
				candidates = append(candidates, ScoredKey{Key: key, Score: score(idx.metric, query, n.embedding)})
			}
			for _, nb := range n.neighbors {
				if !visited[nb] {
					visited[nb] = true
					next = append(next, nb)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// appendBounded adds key to neighbors if absent, evicting the oldest
// entry once maxDegree is exceeded so no node's fan-out grows without
// bound as the graph fills in.
func appendBounded(neighbors []string, key string, maxDegree int) []string {
	for _, n := range neighbors {
		if n == key {
			return neighbors
		}
	}
	neighbors = append(neighbors, key)
	if len(neighbors) > maxDegree {
		neighbors = neighbors[len(neighbors)-maxDegree:]
	}
	return neighbors
}

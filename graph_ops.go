package strata

import "github.com/strata-db/strata/pkg/graph"

// GraphAddNode adds id as a node on the current branch. A no-op, not
// an error, if id already exists (spec.md §4.8).
func (s *Strata) GraphAddNode(id string) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	return s.guard(s.graph.AddNode(s.currentBranch(), id))
}

// GraphAddEdge adds an undirected edge between from and to. Both
// endpoints must already exist as nodes; a missing one fails with
// NotFound and no node is added.
func (s *Strata) GraphAddEdge(from, to string) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	return s.guard(s.graph.AddEdge(s.currentBranch(), from, to))
}

// GraphBFS returns every node reachable from source together with its
// distance, source itself at depth 0.
func (s *Strata) GraphBFS(source string) []graph.Depth {
	return s.graph.BFS(s.currentBranch(), source)
}

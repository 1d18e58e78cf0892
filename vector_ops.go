package strata

import (
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/vector"
)

// VectorCreateCollection declares a collection of fixed-dimension
// embeddings compared under metric (spec.md §4.7).
func (s *Strata) VectorCreateCollection(name string, dimension uint32, metric vector.Metric) (uint64, error) {
	if err := s.checkPoisoned(); err != nil {
		return 0, err
	}
	id, err := s.vector.CreateCollection(s.currentBranch(), name, dimension, metric)
	return id, s.guard(err)
}

// VectorDeleteCollection removes a collection and every embedding in
// it. Returns false, not an error, if name is absent.
func (s *Strata) VectorDeleteCollection(name string) (bool, error) {
	if err := s.checkPoisoned(); err != nil {
		return false, err
	}
	existed, err := s.vector.DeleteCollection(s.currentBranch(), name)
	return existed, s.guard(err)
}

// VectorListCollections returns every collection on the current branch.
func (s *Strata) VectorListCollections() ([]vector.CollectionInfo, error) {
	return s.vector.ListCollections(s.currentBranch())
}

// VectorUpsert stores or replaces the embedding under key in
// collection name, along with its metadata.
func (s *Strata) VectorUpsert(name, key string, embedding []float32, metadata value.Value) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	return s.guard(s.vector.Upsert(s.currentBranch(), name, key, embedding, metadata))
}

// VectorGet returns the embedding and metadata stored under key.
func (s *Strata) VectorGet(name, key string) ([]float32, value.Value, bool, error) {
	return s.vector.Get(s.currentBranch(), name, key)
}

// VectorDelete removes key from collection name. Returns false, not an
// error, if key was already absent.
func (s *Strata) VectorDelete(name, key string) (bool, error) {
	if err := s.checkPoisoned(); err != nil {
		return false, err
	}
	existed, err := s.vector.Delete(s.currentBranch(), name, key)
	return existed, s.guard(err)
}

// VectorSearch returns the k nearest neighbors of query in collection
// name, ordered by similarity.
func (s *Strata) VectorSearch(name string, query []float32, k int) ([]vector.ScoredKey, error) {
	return s.vector.Search(s.currentBranch(), name, query, k)
}

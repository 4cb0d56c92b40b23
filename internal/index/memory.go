package index

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryStore is an in-memory vector store using brute-force cosine
// similarity. Vectors are assumed L2-normalized by the embedder.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float64
	docs      []Document
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Init(dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.vectors = nil
	s.docs = nil
	return nil
}

func (s *MemoryStore) Upsert(docs []Document, vectors [][]float64) error {
	if len(docs) != len(vectors) {
		return errors.New("docs and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if len(v) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	s.docs = append(s.docs, docs...)
	s.vectors = append(s.vectors, vectors...)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float64, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 4
	}
	results := make([]Result, len(s.vectors))
	for i, v := range s.vectors {
		results[i] = Result{
			ProductID: s.docs[i].ProductID,
			Text:      s.docs[i].Text,
			Score:     dot(v, vector),
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

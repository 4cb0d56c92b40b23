package index

import (
	"context"
	"fmt"
	"sync"
)

// Document is a catalog entry projected into the index as free text.
type Document struct {
	ProductID int64
	Text      string
}

// Result is a retrieved document with its similarity score.
type Result struct {
	ProductID int64
	Text      string
	Score     float64
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Prepare(corpus []string) error
	Dimension() int
	Embed(text string) ([]float64, error)
}

// Store persists vectors and supports nearest-neighbor search.
type Store interface {
	Init(dimension int) error
	Upsert(docs []Document, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, k int) ([]Result, error)
}

// Searcher is the read contract consumed by the chat orchestrator.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Result, error)
}

// Index combines an embedder with a vector store. Built once from the
// catalog and read-only afterwards.
type Index struct {
	embedder Embedder
	store    Store
	empty    bool
}

func New(embedder Embedder, store Store) *Index {
	return &Index{embedder: embedder, store: store}
}

// Ingest embeds the documents and loads them into the store. An empty
// document set is valid; subsequent searches return no results.
func (ix *Index) Ingest(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		ix.empty = true
		return nil
	}
	corpus := make([]string, len(docs))
	for i, d := range docs {
		corpus[i] = d.Text
	}
	if err := ix.embedder.Prepare(corpus); err != nil {
		return fmt.Errorf("prepare embedder: %w", err)
	}
	// Embed before initializing the store: remote embedders only learn
	// their dimension from the first returned vector.
	vectors := make([][]float64, len(docs))
	for i, d := range docs {
		vec, err := ix.embedder.Embed(d.Text)
		if err != nil {
			return fmt.Errorf("embed document %d: %w", d.ProductID, err)
		}
		vectors[i] = vec
	}
	if err := ix.store.Init(len(vectors[0])); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if err := ix.store.Upsert(docs, vectors); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	return nil
}

// Search returns at most k documents ordered by descending similarity.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if ix.empty {
		return []Result{}, nil
	}
	vec, err := ix.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return ix.store.Search(ctx, vec, k)
}

// Lazy defers the expensive index build to the first Search call.
// Concurrent first callers block on a single build; a successful build
// is reused for the process lifetime, a failed one is retried on the
// next call. The build runs detached from the caller's cancellation so
// a disconnecting first client cannot poison retrieval.
type Lazy struct {
	mu    sync.Mutex
	build func(ctx context.Context) (Searcher, error)
	inner Searcher
}

func NewLazy(build func(ctx context.Context) (Searcher, error)) *Lazy {
	return &Lazy{build: build}
}

func (l *Lazy) Search(ctx context.Context, query string, k int) ([]Result, error) {
	inner, err := l.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return inner.Search(ctx, query, k)
}

func (l *Lazy) get(ctx context.Context) (Searcher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner != nil {
		return l.inner, nil
	}
	inner, err := l.build(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	l.inner = inner
	return inner, nil
}

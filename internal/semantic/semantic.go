// Package semantic is the semantic search backend: the query is embedded and
// matched against stored symbol vectors.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/codeqa/internal/embedder"
	"github.com/dshills/codeqa/internal/storage"
	"github.com/dshills/codeqa/pkg/types"
)

// ErrEmptyQuery is returned for blank queries
var ErrEmptyQuery = errors.New("empty query")

// VectorSearcher is the storage capability this backend needs
type VectorSearcher interface {
	SearchSymbolVectors(ctx context.Context, projectID int64, vector []float32, limit int, filters *storage.SearchFilters) ([]storage.SymbolResult, error)
}

// Searcher answers semantic queries for one project
type Searcher struct {
	store        VectorSearcher
	embedder     embedder.Embedder
	projectID    int64
	minRelevance float64
}

// Option configures a Searcher
type Option func(*Searcher)

// WithMinRelevance drops hits whose cosine similarity is below min
func WithMinRelevance(min float64) Option {
	return func(s *Searcher) { s.minRelevance = min }
}

// New creates a semantic searcher over a project's symbols
func New(store VectorSearcher, emb embedder.Embedder, projectID int64, opts ...Option) *Searcher {
	s := &Searcher{store: store, embedder: emb, projectID: projectID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchSemantic returns up to limit symbol hits, most similar first
func (s *Searcher) SearchSemantic(ctx context.Context, query string, limit int) ([]types.SemanticHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var filters *storage.SearchFilters
	if s.minRelevance > 0 {
		filters = &storage.SearchFilters{MinRelevance: s.minRelevance}
	}

	results, err := s.store.SearchSymbolVectors(ctx, s.projectID, emb.Vector, limit, filters)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	hits := make([]types.SemanticHit, len(results))
	for i, r := range results {
		hits[i] = r.Symbol.ToSemanticHit(r.FilePath)
	}
	return hits, nil
}

// Package lexical is the code search backend: full-text matches over stored
// snippet line ranges, reported with 0-based inclusive lines.
package lexical

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/codeqa/internal/storage"
	"github.com/dshills/codeqa/pkg/types"
)

// ErrEmptyQuery is returned for blank queries
var ErrEmptyQuery = errors.New("empty query")

// SnippetSearcher is the storage capability this backend needs
type SnippetSearcher interface {
	SearchSnippets(ctx context.Context, projectID int64, query string, limit int, filters *storage.SearchFilters) ([]storage.SnippetResult, error)
}

// Searcher answers lexical queries for one project
type Searcher struct {
	store     SnippetSearcher
	projectID int64
}

// New creates a lexical searcher over a project's snippets
func New(store SnippetSearcher, projectID int64) *Searcher {
	return &Searcher{store: store, projectID: projectID}
}

// SearchLexical returns up to limit line-range hits, best match first
func (s *Searcher) SearchLexical(ctx context.Context, query string, limit int) ([]types.LexicalHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	rows, err := s.store.SearchSnippets(ctx, s.projectID, query, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]types.LexicalHit, len(rows))
	for i, r := range rows {
		// Snippets are stored 1-based
		hits[i] = types.LexicalHit{
			File:      r.FilePath,
			StartLine: r.StartLine - 1,
			EndLine:   r.EndLine - 1,
		}
	}
	return hits, nil
}

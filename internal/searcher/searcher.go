package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeqa/internal/reconcile"
	"github.com/dshills/codeqa/pkg/types"
)

const (
	// DefaultLimit is the number of results returned when a request leaves Limit unset
	DefaultLimit = 5
	// MaxLimit caps the number of results per request
	MaxLimit = 100
	// DefaultCacheSize is the number of responses kept in the LRU cache
	DefaultCacheSize = 1000
	// DefaultCacheTTL applies when a cached request sets no TTL
	DefaultCacheTTL = 5 * time.Minute

	minLexicalLimit = 50
)

var (
	// ErrEmptyQuery is returned for blank queries
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrInvalidRequest wraps every other request validation failure
	ErrInvalidRequest = errors.New("invalid search request")
)

// LexicalBackend returns line-range hits with 0-based inclusive lines
type LexicalBackend interface {
	SearchLexical(ctx context.Context, query string, limit int) ([]types.LexicalHit, error)
}

// SemanticBackend returns symbol hits with 1-based inclusive lines, most relevant first
type SemanticBackend interface {
	SearchSemantic(ctx context.Context, query string, limit int) ([]types.SemanticHit, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query         string
	Limit         int           // Results returned; 0 means DefaultLimit
	LexicalLimit  int           // Lexical candidates; 0 means max(Limit*10, 50)
	SemanticLimit int           // Semantic candidates; 0 means Limit*2
	FilePattern   string        // Optional doublestar glob over repository paths
	UseCache      bool          // Whether to use the response cache
	CacheTTL      time.Duration // 0 means DefaultCacheTTL
}

// SearchResponse contains reconciled results and metadata
type SearchResponse struct {
	Results      []types.ReconciledHit
	TotalResults int
	LexicalHits  int  // Lexical candidates after filtering
	SemanticHits int  // Semantic candidates after filtering
	Degraded     bool // Results carry no lexical evidence
	CacheHit     bool
	Duration     time.Duration
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs both backends for a query and reconciles their hits
type Searcher struct {
	lexical    LexicalBackend
	semantic   SemanticBackend
	reconciler *reconcile.Reconciler
	cache      *lru.Cache[uint64, *cacheEntry]
	logger     *slog.Logger
	cacheTTL   time.Duration
	now        func() time.Time
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger; nil keeps slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheSize sets the response cache capacity
func WithCacheSize(size int) Option {
	return func(s *Searcher) {
		if size > 0 {
			s.cache, _ = lru.New[uint64, *cacheEntry](size)
		}
	}
}

// WithCacheTTL sets the TTL for requests that leave CacheTTL unset
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Searcher) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// New creates a Searcher over the two backends
func New(lexical LexicalBackend, semantic SemanticBackend, opts ...Option) *Searcher {
	cache, err := lru.New[uint64, *cacheEntry](DefaultCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	s := &Searcher{
		lexical:  lexical,
		semantic: semantic,
		cache:    cache,
		logger:   slog.Default(),
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconciler = reconcile.New(s.logger)
	return s
}

// Search fans out to both backends, reconciles, and truncates to the request limit.
//
// A semantic backend failure fails the search. A lexical backend failure or a
// reconciliation failure degrades it: semantic hits come back in upstream order with
// no evidence attached and Degraded set.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := s.now()

	if req.CacheTTL <= 0 {
		req.CacheTTL = s.cacheTTL
	}
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	var key uint64
	if req.UseCache {
		key = cacheKey(req)
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	var (
		semanticHits []types.SemanticHit
		lexicalHits  []types.LexicalHit
		lexicalErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.semantic.SearchSemantic(gctx, req.Query, req.SemanticLimit)
		if err != nil {
			return fmt.Errorf("semantic backend: %w", err)
		}
		semanticHits = hits
		return nil
	})
	g.Go(func() error {
		// Captured, not returned: a lexical failure must not cancel the semantic search
		lexicalHits, lexicalErr = s.lexical.SearchLexical(gctx, req.Query, req.LexicalLimit)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if req.FilePattern != "" {
		semanticHits = filterSemantic(semanticHits, req.FilePattern)
		lexicalHits = filterLexical(lexicalHits, req.FilePattern)
	}

	resp := &SearchResponse{
		LexicalHits:  len(lexicalHits),
		SemanticHits: len(semanticHits),
	}

	if lexicalErr != nil {
		s.logger.Warn("lexical backend failed, returning unreconciled results",
			slog.String("query", req.Query),
			slog.String("error", lexicalErr.Error()))
		resp.Results = types.Unreconciled(semanticHits)
		resp.Degraded = true
	} else {
		results, err := s.reconciler.Reconcile(lexicalHits, semanticHits)
		if err != nil {
			// Already logged by the reconciler
			resp.Results = types.Unreconciled(semanticHits)
			resp.Degraded = true
		} else {
			resp.Results = results
		}
	}

	if len(resp.Results) > req.Limit {
		resp.Results = resp.Results[:req.Limit]
	}
	resp.TotalResults = len(resp.Results)
	resp.Duration = time.Since(start)

	if req.UseCache && !resp.Degraded {
		s.storeInCache(key, req.CacheTTL, resp)
	}

	return resp, nil
}

// validateRequest checks the request and fills in derived limits
func validateRequest(req *SearchRequest) error {
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Limit < 0 || req.LexicalLimit < 0 || req.SemanticLimit < 0 {
		return fmt.Errorf("%w: limits cannot be negative", ErrInvalidRequest)
	}
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be at most %d", ErrInvalidRequest, MaxLimit)
	}
	if req.SemanticLimit == 0 {
		req.SemanticLimit = req.Limit * 2
	}
	if req.LexicalLimit == 0 {
		req.LexicalLimit = max(req.Limit*10, minLexicalLimit)
	}
	if req.FilePattern != "" && !doublestar.ValidatePattern(req.FilePattern) {
		return fmt.Errorf("%w: bad file pattern %q", ErrInvalidRequest, req.FilePattern)
	}
	if req.CacheTTL <= 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

func filterSemantic(hits []types.SemanticHit, pattern string) []types.SemanticHit {
	out := make([]types.SemanticHit, 0, len(hits))
	for _, h := range hits {
		if ok, _ := doublestar.Match(pattern, h.Context.FilePath); ok {
			out = append(out, h)
		}
	}
	return out
}

func filterLexical(hits []types.LexicalHit, pattern string) []types.LexicalHit {
	out := make([]types.LexicalHit, 0, len(hits))
	for _, h := range hits {
		if ok, _ := doublestar.Match(pattern, h.File); ok {
			out = append(out, h)
		}
	}
	return out
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(key uint64) *SearchResponse {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	if s.now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil
	}
	return copySearchResponse(entry.response)
}

func (s *Searcher) storeInCache(key uint64, ttl time.Duration, resp *SearchResponse) {
	s.cache.Add(key, &cacheEntry{
		response:  copySearchResponse(resp),
		expiresAt: s.now().Add(ttl),
	})
}

// InvalidateCache drops every cached response, e.g. after an import
func (s *Searcher) InvalidateCache() {
	s.cache.Purge()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	return s.cache.Len()
}

// copySearchResponse deep-copies a response so cached state is never shared
func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = make([]types.ReconciledHit, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r.Clone()
	}
	return &dst
}

// cacheKey digests every request field that affects the result
func cacheKey(req SearchRequest) uint64 {
	d := xxhash.New()
	for _, part := range []string{
		req.Query,
		strconv.Itoa(req.Limit),
		strconv.Itoa(req.LexicalLimit),
		strconv.Itoa(req.SemanticLimit),
		req.FilePattern,
	} {
		_, _ = d.WriteString(part)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// Package answer turns a question into an LLM answer grounded on search results.
package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dshills/codeqa/internal/llm"
	"github.com/dshills/codeqa/internal/searcher"
	"github.com/dshills/codeqa/pkg/types"
)

// DefaultLanguage is the language answers are written in unless configured otherwise
const DefaultLanguage = "Korean(한국어)"

// ErrEmptyQuestion is returned for blank questions
var ErrEmptyQuestion = errors.New("question cannot be empty")

// Searcher finds the code context for a question
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// Completer produces chat completions
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
	Stream(ctx context.Context, req llm.ChatRequest) (*llm.Stream, error)
	StreamRaw(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error)
}

// BuildMessages returns the system and user messages for a question. Contexts are
// embedded as JSON.
func BuildMessages(question string, contexts []types.ReconciledHit, language string) []llm.Message {
	if language == "" {
		language = DefaultLanguage
	}
	if contexts == nil {
		contexts = []types.ReconciledHit{}
	}
	encoded, err := json.MarshalIndent(contexts, "", "  ")
	if err != nil {
		// ReconciledHit holds only plain data
		encoded = []byte("[]")
	}

	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: "You are a helpful assistant that answers questions about code based on " +
				"the provided context in " + language + ".",
		},
		{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("Please answer the following question based on the provided code context:\n\n"+
				"Question: %s\n\nCode Context:\n%s", question, encoded),
		},
	}
}

// Service answers questions about the indexed code
type Service struct {
	searcher Searcher
	llm      Completer
	limit    int
	language string
	logger   *slog.Logger
}

// Config tunes a Service
type Config struct {
	Limit    int    // Context hits per question; 0 means searcher.DefaultLimit
	Language string // Empty means DefaultLanguage
	Logger   *slog.Logger
}

// New creates a Service
func New(s Searcher, c Completer, cfg Config) *Service {
	svc := &Service{
		searcher: s,
		llm:      c,
		limit:    cfg.Limit,
		language: cfg.Language,
		logger:   cfg.Logger,
	}
	if svc.limit <= 0 {
		svc.limit = searcher.DefaultLimit
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// Answer searches for context and returns the model's completion
func (s *Service) Answer(ctx context.Context, question string) (*llm.ChatResponse, error) {
	req, err := s.prepare(ctx, question)
	if err != nil {
		return nil, err
	}
	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return resp, nil
}

// AnswerStream writes the answer to w as NDJSON events. flush, when non-nil, is
// called after each event.
func (s *Service) AnswerStream(ctx context.Context, question string, w io.Writer, flush func()) error {
	req, err := s.prepare(ctx, question)
	if err != nil {
		return err
	}
	stream, err := s.llm.Stream(ctx, req)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	defer func() {
		_ = stream.Close()
	}()
	return llm.WriteNDJSON(w, stream, flush)
}

// AnswerSSE writes the upstream stream to w as reframed server-sent events
func (s *Service) AnswerSSE(ctx context.Context, question string, w io.Writer) error {
	req, err := s.prepare(ctx, question)
	if err != nil {
		return err
	}
	body, err := s.llm.StreamRaw(ctx, req)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	defer func() {
		_ = body.Close()
	}()
	return llm.ReframeSSE(body, w)
}

func (s *Service) prepare(ctx context.Context, question string) (llm.ChatRequest, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return llm.ChatRequest{}, ErrEmptyQuestion
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    question,
		Limit:    s.limit,
		UseCache: true,
	})
	if err != nil {
		return llm.ChatRequest{}, fmt.Errorf("search context: %w", err)
	}

	s.logger.Debug("answer context",
		slog.String("question", question),
		slog.Int("contexts", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded))

	return llm.ChatRequest{Messages: BuildMessages(question, resp.Results, s.language)}, nil
}

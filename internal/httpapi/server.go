// Package httpapi serves search, file and answer endpoints plus the web frontend.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/codeqa/internal/answer"
	"github.com/dshills/codeqa/internal/llm"
	"github.com/dshills/codeqa/internal/searcher"
	"github.com/dshills/codeqa/internal/storage"
)

// SearchService runs combined searches
type SearchService interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// AnswerService answers questions about the code
type AnswerService interface {
	Answer(ctx context.Context, question string) (*llm.ChatResponse, error)
	AnswerStream(ctx context.Context, question string, w io.Writer, flush func()) error
	AnswerSSE(ctx context.Context, question string, w io.Writer) error
}

// FileSource reads imported file content
type FileSource interface {
	GetFileByPath(ctx context.Context, projectID int64, filePath string) (*storage.File, error)
}

// Config wires an API
type Config struct {
	Search    SearchService
	Answers   AnswerService
	Files     FileSource
	ProjectID int64
	Limit     int    // Search results per request; 0 means searcher.DefaultLimit
	StaticDir string // Frontend dist directory; empty disables it
	Logger    *slog.Logger
}

// API holds the handlers
type API struct {
	search    SearchService
	answers   AnswerService
	files     FileSource
	projectID int64
	limit     int
	staticDir string
	logger    *slog.Logger
}

// New creates an API
func New(cfg Config) *API {
	a := &API{
		search:    cfg.Search,
		answers:   cfg.Answers,
		files:     cfg.Files,
		projectID: cfg.ProjectID,
		limit:     cfg.Limit,
		staticDir: cfg.StaticDir,
		logger:    cfg.Logger,
	}
	if a.limit <= 0 {
		a.limit = searcher.DefaultLimit
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Handler returns the routed handler wrapped in request logging
func (a *API) Handler() http.Handler {
	return a.logMiddleware(a.mux())
}

func (a *API) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/search", a.handleSearch)
	mux.HandleFunc("GET /api/file", a.handleFile)
	mux.HandleFunc("POST /api/answer", a.handleAnswer)
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "unknown endpoint")
	})
	if a.staticDir != "" {
		mux.Handle("/", spaHandler(a.staticDir))
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout
func (a *API) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type result struct {
	Result any `json:"result"`
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query required")
		return
	}

	limit := a.limit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > searcher.MaxLimit {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and "+strconv.Itoa(searcher.MaxLimit))
			return
		}
		limit = n
	}

	resp, err := a.search.Search(r.Context(), searcher.SearchRequest{
		Query:       query,
		Limit:       limit,
		FilePattern: r.URL.Query().Get("file_pattern"),
		UseCache:    true,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if resp.Degraded {
		w.Header().Set("X-Search-Degraded", "true")
	}
	writeJSON(w, http.StatusOK, result{Result: resp.Results})
}

type fileBody struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	p, ok := cleanRepoPath(r.URL.Query().Get("path"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "path must be a relative repository path")
		return
	}

	file, err := a.files.GetFileByPath(r.Context(), a.projectID, p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result{Result: fileBody{Path: file.FilePath, Content: file.Content}})
}

// cleanRepoPath normalises a repository-relative path and rejects escapes
func cleanRepoPath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", false
	}
	p = path.Clean(p)
	if p == "." || !fs.ValidPath(p) {
		return "", false
	}
	return p, true
}

func (a *API) handleAnswer(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query required")
		return
	}

	stream, _ := strconv.ParseBool(r.URL.Query().Get("stream"))
	if !stream {
		resp, err := a.answers.Answer(r.Context(), query)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result{Result: resp})
		return
	}

	sw := &streamWriter{ResponseWriter: w}
	var err error
	if r.URL.Query().Get("format") == "sse" {
		sw.contentType = "text/event-stream"
		err = a.answers.AnswerSSE(r.Context(), query, sw)
	} else {
		sw.contentType = "application/x-ndjson"
		err = a.answers.AnswerStream(r.Context(), query, sw, sw.Flush)
	}
	if err == nil {
		return
	}
	if !sw.started {
		a.fail(w, r, err)
		return
	}
	// Headers are gone; the client sees a truncated stream
	a.logger.Error("answer stream interrupted",
		slog.String("request_id", requestID(r)),
		slog.String("error", err.Error()))
}

// streamWriter sets streaming headers on the first write, so failures before any
// output can still be reported with a status code
type streamWriter struct {
	http.ResponseWriter
	contentType string
	started     bool
}

func (s *streamWriter) Write(b []byte) (int, error) {
	if !s.started {
		s.started = true
		h := s.Header()
		h.Set("Content-Type", s.contentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

func (s *streamWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// fail maps an error to a status and writes it
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery),
		errors.Is(err, searcher.ErrInvalidRequest),
		errors.Is(err, answer.ErrEmptyQuestion):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, storage.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, llm.ErrUpstream):
		status, code = http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.Canceled):
		return
	}
	if status >= 500 {
		a.logger.Error("request failed",
			slog.String("request_id", requestID(r)),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeError(w, status, code, err.Error())
}

// spaHandler serves files from dir and falls back to index.html for unknown paths
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if name != "/" {
			if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err != nil || info.IsDir() {
				http.ServeFile(w, r, filepath.Join(dir, "index.html"))
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}

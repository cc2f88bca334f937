package ingest

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeqa/internal/embedder"
	"github.com/dshills/codeqa/internal/storage"
)

const (
	// DefaultBatchSize is the number of records committed per transaction
	DefaultBatchSize = 200
	// maxLineSize bounds a single dump line, which may hold a whole file
	maxLineSize = 64 << 20
	// maxErrorMessages caps Statistics.ErrorMessages
	maxErrorMessages = 100
)

// ErrImportInProgress is returned when another import holds the importer
var ErrImportInProgress = errors.New("import already in progress")

// Importer loads index dumps into storage
type Importer struct {
	storage  storage.Storage
	embedder embedder.Embedder
	logger   *slog.Logger
	lock     importLock
}

// Config tunes one import
type Config struct {
	BatchSize      int // Records per transaction (default: DefaultBatchSize)
	EmbedBatchSize int // Texts per embedding call (default: embedder.DefaultBatchSize)
	Workers        int // Concurrent embedding calls (default: runtime.NumCPU())
}

// Statistics summarizes an import
type Statistics struct {
	FilesImported       int
	FilesSkipped        int // Unchanged since the last import
	SnippetsImported    int
	SymbolsImported     int
	EmbeddingsProvided  int // Vectors carried by the dump
	EmbeddingsGenerated int
	RecordsSkipped      int // Records of unchanged files
	RecordsFailed       int
	Duration            time.Duration
	ErrorMessages       []string
}

func (s *Statistics) fail(format string, args ...any) {
	s.RecordsFailed++
	if len(s.ErrorMessages) < maxErrorMessages {
		s.ErrorMessages = append(s.ErrorMessages, fmt.Sprintf(format, args...))
	}
}

// New creates an Importer. A nil embedder stores symbols without vectors
// unless the dump provides them.
func New(store storage.Storage, emb embedder.Embedder, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{storage: store, embedder: emb, logger: logger}
}

// ImportFile imports the dump at path into the named project
func (im *Importer) ImportFile(ctx context.Context, project, path string, cfg *Config) (*Statistics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	defer func() { _ = f.Close() }()
	return im.Import(ctx, project, f, cfg)
}

// Import reads JSONL records from r into the named project, creating it if needed.
// Malformed records are counted and skipped; storage failures abort the import.
func (im *Importer) Import(ctx context.Context, projectName string, r io.Reader, cfg *Config) (*Statistics, error) {
	if !im.lock.TryAcquire() {
		return nil, ErrImportInProgress
	}
	defer im.lock.Release()

	cfg = withDefaults(cfg)
	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	project, err := storage.EnsureProject(ctx, im.storage, projectName)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create project: %w", err)
	}

	run := &importRun{
		Importer: im,
		cfg:      cfg,
		project:  project,
		stats:    stats,
		files:    make(map[string]*fileState),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	batch := make([]*Record, 0, cfg.BatchSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			stats.fail("line %d: %v", lineNo, err)
			continue
		}
		batch = append(batch, rec)
		if len(batch) == cfg.BatchSize {
			if err := run.processBatch(ctx, batch); err != nil {
				return nil, err
			}
			batch = batch[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dump at line %d: %w", lineNo+1, err)
	}
	if len(batch) > 0 {
		if err := run.processBatch(ctx, batch); err != nil {
			return nil, err
		}
	}

	if err := im.updateProjectStats(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to update project stats: %w", err)
	}

	stats.Duration = time.Since(start)
	im.logger.Info("import finished",
		slog.String("project", project.Name),
		slog.Int("files", stats.FilesImported),
		slog.Int("files_skipped", stats.FilesSkipped),
		slog.Int("snippets", stats.SnippetsImported),
		slog.Int("symbols", stats.SymbolsImported),
		slog.Int("embeddings_generated", stats.EmbeddingsGenerated),
		slog.Int("failed", stats.RecordsFailed),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func withDefaults(cfg *Config) *Config {
	out := Config{}
	if cfg != nil {
		out = *cfg
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.EmbedBatchSize <= 0 {
		out.EmbedBatchSize = embedder.DefaultBatchSize
	}
	out.EmbedBatchSize = min(out.EmbedBatchSize, embedder.MaxBatchSize)
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	return &out
}

func (im *Importer) updateProjectStats(ctx context.Context, project *storage.Project) error {
	status, err := im.storage.GetStatus(ctx, project.ID)
	if err != nil {
		return err
	}
	project.TotalFiles = status.FilesCount
	project.TotalSymbols = status.SymbolsCount
	project.LastImportedAt = time.Now()
	return im.storage.UpdateProject(ctx, project)
}

// fileState remembers how a path was resolved earlier in the dump
type fileState struct {
	id        int64
	unchanged bool
}

// importRun carries the state of one Import call
type importRun struct {
	*Importer
	cfg     *Config
	project *storage.Project
	stats   *Statistics
	files   map[string]*fileState
}

// processBatch embeds the batch's symbols, then writes the batch in one transaction
func (run *importRun) processBatch(ctx context.Context, batch []*Record) error {
	if err := run.markUnchanged(ctx, batch); err != nil {
		return err
	}
	vectors := run.embedSymbols(ctx, batch)

	tx, err := run.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, rec := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := run.apply(ctx, tx, rec, vectors[i]); err != nil {
			var recErr *recordError
			if errors.As(err, &recErr) {
				run.stats.fail("%s %s: %v", rec.Kind, rec.filePath(), recErr.err)
				continue
			}
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// markUnchanged finds the batch's files whose content matches storage, so their
// symbols are not embedded again
func (run *importRun) markUnchanged(ctx context.Context, batch []*Record) error {
	for _, rec := range batch {
		if rec.Kind != KindFile {
			continue
		}
		existing, err := run.storage.GetFileByPath(ctx, run.project.ID, rec.Path)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if existing.ContentHash == sha256.Sum256([]byte(rec.Content)) {
			run.files[rec.Path] = &fileState{id: existing.ID, unchanged: true}
		}
	}
	return nil
}

// recordError marks a failure confined to one record
type recordError struct{ err error }

func (e *recordError) Error() string { return e.err.Error() }
func (e *recordError) Unwrap() error { return e.err }

func (run *importRun) apply(ctx context.Context, tx storage.Tx, rec *Record, vec *embedder.Embedding) error {
	if rec.Kind == KindFile {
		return run.applyFile(ctx, tx, rec)
	}

	state, err := run.resolveFile(ctx, tx, rec.filePath())
	if err != nil {
		return err
	}
	if state.unchanged {
		run.stats.RecordsSkipped++
		return nil
	}

	switch rec.Kind {
	case KindSnippet:
		sn := &storage.Snippet{
			FileID:    state.id,
			StartLine: rec.StartLine,
			EndLine:   rec.EndLine,
			Text:      rec.Text,
		}
		if err := tx.UpsertSnippet(ctx, sn); err != nil {
			return fmt.Errorf("failed to store snippet: %w", err)
		}
		run.stats.SnippetsImported++

	case KindSymbol:
		sym := storage.FromSemanticHit(rec.SemanticHit, state.id)
		if err := tx.UpsertSymbol(ctx, sym); err != nil {
			return fmt.Errorf("failed to store symbol: %w", err)
		}
		run.stats.SymbolsImported++

		if vec == nil {
			return nil
		}
		if err := tx.UpsertSymbolEmbedding(ctx, &storage.SymbolEmbedding{
			SymbolID:  sym.ID,
			Vector:    storage.SerializeVector(vec.Vector),
			Dimension: len(vec.Vector),
			Provider:  vec.Provider,
			Model:     vec.Model,
		}); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}
	return nil
}

// applyFile upserts a file unless its content is unchanged. A changed file loses
// its old snippets and symbols; the dump is expected to carry the new ones.
func (run *importRun) applyFile(ctx context.Context, tx storage.Tx, rec *Record) error {
	hash := sha256.Sum256([]byte(rec.Content))

	existing, err := tx.GetFileByPath(ctx, run.project.ID, rec.Path)
	switch {
	case err == nil && existing.ContentHash == hash:
		run.files[rec.Path] = &fileState{id: existing.ID, unchanged: true}
		run.stats.FilesSkipped++
		return nil
	case err == nil:
		if err := tx.DeleteSnippetsByFile(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to delete old snippets: %w", err)
		}
		if err := tx.DeleteSymbolsByFile(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to delete old symbols: %w", err)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	file := &storage.File{
		ProjectID:   run.project.ID,
		FilePath:    rec.Path,
		Content:     rec.Content,
		ContentHash: hash,
		SizeBytes:   int64(len(rec.Content)),
	}
	if err := tx.UpsertFile(ctx, file); err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}
	run.files[rec.Path] = &fileState{id: file.ID}
	run.stats.FilesImported++
	return nil
}

// resolveFile finds the file a snippet or symbol belongs to. Files imported
// before this run are writable; paths never seen are a record error.
func (run *importRun) resolveFile(ctx context.Context, tx storage.Tx, path string) (*fileState, error) {
	if state, ok := run.files[path]; ok {
		return state, nil
	}
	existing, err := tx.GetFileByPath(ctx, run.project.ID, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &recordError{err: errors.New("unknown file")}
	}
	if err != nil {
		return nil, err
	}
	state := &fileState{id: existing.ID}
	run.files[path] = state
	return state, nil
}

// embedSymbols returns one embedding per record, nil for non-symbols and for
// symbols that could not be embedded. Dump vectors are used as-is.
func (run *importRun) embedSymbols(ctx context.Context, batch []*Record) []*embedder.Embedding {
	out := make([]*embedder.Embedding, len(batch))

	var pending []int
	for i, rec := range batch {
		if rec.Kind != KindSymbol {
			continue
		}
		if state, ok := run.files[rec.filePath()]; ok && state.unchanged {
			continue
		}
		if len(rec.Embedding) > 0 {
			out[i] = &embedder.Embedding{
				Vector:    rec.Embedding,
				Dimension: len(rec.Embedding),
				Provider:  "import",
				Model:     "import",
			}
			if run.embedder != nil {
				out[i].Provider = run.embedder.Provider()
				out[i].Model = run.embedder.Model()
			}
			run.stats.EmbeddingsProvided++
			continue
		}
		if run.embedder != nil {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(run.cfg.Workers)
	for start := 0; start < len(pending); start += run.cfg.EmbedBatchSize {
		chunk := pending[start:min(start+run.cfg.EmbedBatchSize, len(pending))]
		g.Go(func() error {
			texts := make([]string, len(chunk))
			for j, i := range chunk {
				texts[j] = EmbeddingText(batch[i].SemanticHit)
			}
			resp, err := run.embedder.GenerateBatch(gctx, embedder.BatchEmbeddingRequest{Texts: texts})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				run.logger.Warn("embedding batch failed", slog.Int("symbols", len(chunk)), slog.String("error", err.Error()))
				run.stats.fail("embedding %d symbols: %v", len(chunk), err)
				return nil
			}
			for j, i := range chunk {
				out[i] = resp.Embeddings[j]
			}
			run.stats.EmbeddingsGenerated += len(chunk)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL lets the HTTP server read while an import writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens the database at dbPath and brings its schema up to date
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Project operations

func (s *SQLiteStorage) createProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	query := `
		INSERT INTO projects (name, index_version, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query, project.Name, project.IndexVersion, now, now)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("project %q: %w", project.Name, ErrAlreadyExists)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	project.ID = id
	project.CreatedAt = now
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateProject(ctx context.Context, project *Project) error {
	return s.createProjectWithQuerier(ctx, s.querier(), project)
}

const projectColumns = `id, name, index_version, total_files, total_symbols,
		       last_imported_at, created_at, updated_at`

func scanProject(row *sql.Row) (*Project, error) {
	var project Project
	var lastImportedAt sql.NullTime
	err := row.Scan(
		&project.ID, &project.Name, &project.IndexVersion,
		&project.TotalFiles, &project.TotalSymbols,
		&lastImportedAt, &project.CreatedAt, &project.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastImportedAt.Valid {
		project.LastImportedAt = lastImportedAt.Time
	}
	return &project, nil
}

func (s *SQLiteStorage) getProjectWithQuerier(ctx context.Context, q querier, name string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE name = ?`
	return scanProject(q.QueryRowContext(ctx, query, name))
}

// GetProject looks a project up by name
func (s *SQLiteStorage) GetProject(ctx context.Context, name string) (*Project, error) {
	return s.getProjectWithQuerier(ctx, s.querier(), name)
}

func (s *SQLiteStorage) getProjectByIDWithQuerier(ctx context.Context, q querier, projectID int64) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`
	return scanProject(q.QueryRowContext(ctx, query, projectID))
}

func (s *SQLiteStorage) updateProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	query := `
		UPDATE projects
		SET index_version = ?, total_files = ?, total_symbols = ?,
		    last_imported_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		project.IndexVersion, project.TotalFiles, project.TotalSymbols,
		project.LastImportedAt, now, project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateProject(ctx context.Context, project *Project) error {
	return s.updateProjectWithQuerier(ctx, s.querier(), project)
}

// File operations

func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *File) error {
	query := `
		INSERT INTO files (project_id, file_path, content, content_hash, size_bytes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, file_path) DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		file.ProjectID, file.FilePath, file.Content, file.ContentHash[:],
		file.SizeBytes, now, now).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}

	file.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *File) error {
	return s.upsertFileWithQuerier(ctx, s.querier(), file)
}

const fileColumns = `id, project_id, file_path, content, content_hash, size_bytes, created_at, updated_at`

func scanFile(row *sql.Row) (*File, error) {
	var file File
	var hash []byte
	err := row.Scan(
		&file.ID, &file.ProjectID, &file.FilePath, &file.Content,
		&hash, &file.SizeBytes, &file.CreatedAt, &file.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(file.ContentHash[:], hash)
	return &file, nil
}

func (s *SQLiteStorage) getFileByPathWithQuerier(ctx context.Context, q querier, projectID int64, filePath string) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE project_id = ? AND file_path = ?`
	return scanFile(q.QueryRowContext(ctx, query, projectID, filePath))
}

// GetFileByPath returns the file stored under a repository-relative path
func (s *SQLiteStorage) GetFileByPath(ctx context.Context, projectID int64, filePath string) (*File, error) {
	return s.getFileByPathWithQuerier(ctx, s.querier(), projectID, filePath)
}

func (s *SQLiteStorage) getFileByIDWithQuerier(ctx context.Context, q querier, fileID int64) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ?`
	return scanFile(q.QueryRowContext(ctx, query, fileID))
}

func (s *SQLiteStorage) GetFileByID(ctx context.Context, fileID int64) (*File, error) {
	return s.getFileByIDWithQuerier(ctx, s.querier(), fileID)
}

// Snippet operations

func (s *SQLiteStorage) upsertSnippetWithQuerier(ctx context.Context, q querier, snippet *Snippet) error {
	if snippet.StartLine < 1 || snippet.StartLine > snippet.EndLine {
		return fmt.Errorf("invalid snippet range %d-%d", snippet.StartLine, snippet.EndLine)
	}
	query := `
		INSERT INTO snippets (file_id, start_line, end_line, text, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_id, start_line, end_line) DO UPDATE SET
			text = excluded.text
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		snippet.FileID, snippet.StartLine, snippet.EndLine, snippet.Text, now).Scan(&snippet.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert snippet: %w", err)
	}
	snippet.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertSnippet(ctx context.Context, snippet *Snippet) error {
	return s.upsertSnippetWithQuerier(ctx, s.querier(), snippet)
}

func (s *SQLiteStorage) deleteSnippetsByFileWithQuerier(ctx context.Context, q querier, fileID int64) error {
	_, err := q.ExecContext(ctx, "DELETE FROM snippets WHERE file_id = ?", fileID)
	return err
}

func (s *SQLiteStorage) DeleteSnippetsByFile(ctx context.Context, fileID int64) error {
	return s.deleteSnippetsByFileWithQuerier(ctx, s.querier(), fileID)
}

// Symbol operations

func (s *SQLiteStorage) upsertSymbolWithQuerier(ctx context.Context, q querier, symbol *Symbol) error {
	query := `
		INSERT INTO symbols (file_id, name, code_type, signature, docstring, module, struct_name,
		                     snippet, line, line_from, line_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, name, line_from, line_to) DO UPDATE SET
			code_type = excluded.code_type,
			signature = excluded.signature,
			docstring = excluded.docstring,
			module = excluded.module,
			struct_name = excluded.struct_name,
			snippet = excluded.snippet,
			line = excluded.line
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		symbol.FileID, symbol.Name, symbol.CodeType, symbol.Signature,
		nullString(symbol.Docstring), symbol.Module, nullString(symbol.StructName),
		symbol.Snippet, symbol.Line, symbol.LineFrom, symbol.LineTo, now).Scan(&symbol.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert symbol: %w", err)
	}
	symbol.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertSymbol(ctx context.Context, symbol *Symbol) error {
	return s.upsertSymbolWithQuerier(ctx, s.querier(), symbol)
}

const symbolColumns = `s.id, s.file_id, s.name, s.code_type, s.signature, s.docstring, s.module,
		       s.struct_name, s.snippet, s.line, s.line_from, s.line_to, s.created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSymbol reads symbolColumns followed by any extra destinations
func scanSymbol(r rowScanner, extra ...interface{}) (*Symbol, error) {
	var sym Symbol
	var signature, module, snippet sql.NullString
	var docstring, structName sql.NullString
	var line sql.NullInt64
	dest := []interface{}{
		&sym.ID, &sym.FileID, &sym.Name, &sym.CodeType, &signature, &docstring, &module,
		&structName, &snippet, &line, &sym.LineFrom, &sym.LineTo, &sym.CreatedAt,
	}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	sym.Signature = signature.String
	sym.Module = module.String
	sym.Snippet = snippet.String
	sym.Line = int(line.Int64)
	if docstring.Valid {
		sym.Docstring = &docstring.String
	}
	if structName.Valid {
		sym.StructName = &structName.String
	}
	return &sym, nil
}

func (s *SQLiteStorage) getSymbolWithQuerier(ctx context.Context, q querier, symbolID int64) (*Symbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM symbols s WHERE s.id = ?`
	sym, err := scanSymbol(q.QueryRowContext(ctx, query, symbolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sym, err
}

func (s *SQLiteStorage) GetSymbol(ctx context.Context, symbolID int64) (*Symbol, error) {
	return s.getSymbolWithQuerier(ctx, s.querier(), symbolID)
}

func (s *SQLiteStorage) deleteSymbolsByFileWithQuerier(ctx context.Context, q querier, fileID int64) error {
	_, err := q.ExecContext(ctx, "DELETE FROM symbols WHERE file_id = ?", fileID)
	return err
}

// DeleteSymbolsByFile removes a file's symbols; their embeddings cascade
func (s *SQLiteStorage) DeleteSymbolsByFile(ctx context.Context, fileID int64) error {
	return s.deleteSymbolsByFileWithQuerier(ctx, s.querier(), fileID)
}

func (s *SQLiteStorage) upsertSymbolEmbeddingWithQuerier(ctx context.Context, q querier, embedding *SymbolEmbedding) error {
	query := `
		INSERT INTO symbol_embeddings (symbol_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		embedding.SymbolID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, now).Scan(&embedding.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert symbol embedding: %w", err)
	}
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertSymbolEmbedding(ctx context.Context, embedding *SymbolEmbedding) error {
	return s.upsertSymbolEmbeddingWithQuerier(ctx, s.querier(), embedding)
}

// Search operations

func (s *SQLiteStorage) SearchSnippets(ctx context.Context, projectID int64, query string, limit int, filters *SearchFilters) ([]SnippetResult, error) {
	return s.searchSnippetsWithQuerier(ctx, s.querier(), projectID, query, limit, filters)
}

func (s *SQLiteStorage) SearchSymbolVectors(ctx context.Context, projectID int64, vector []float32, limit int, filters *SearchFilters) ([]SymbolResult, error) {
	return s.searchSymbolVectorsWithQuerier(ctx, s.querier(), projectID, vector, limit, filters)
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier, projectID int64) (*ProjectStatus, error) {
	project, err := s.getProjectByIDWithQuerier(ctx, q, projectID)
	if err != nil {
		return nil, err
	}

	status := &ProjectStatus{Project: project}

	counts := []struct {
		dest  *int
		query string
	}{
		{&status.FilesCount, `SELECT COUNT(*) FROM files WHERE project_id = ?`},
		{&status.SnippetsCount, `
			SELECT COUNT(*) FROM snippets sn
			JOIN files f ON sn.file_id = f.id
			WHERE f.project_id = ?`},
		{&status.SymbolsCount, `
			SELECT COUNT(*) FROM symbols s
			JOIN files f ON s.file_id = f.id
			WHERE f.project_id = ?`},
		{&status.EmbeddingsCount, `
			SELECT COUNT(*) FROM symbol_embeddings e
			JOIN symbols s ON e.symbol_id = s.id
			JOIN files f ON s.file_id = f.id
			WHERE f.project_id = ?`},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query, projectID).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count index rows: %w", err)
		}
	}

	var ftsTable string
	ftsErr := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='snippets_fts'").Scan(&ftsTable)

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		FTSIndexBuilt:       ftsErr == nil && status.SnippetsCount > 0,
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier(), projectID)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Transaction implementations route every call through the transaction's querier

func (t *sqliteTx) CreateProject(ctx context.Context, project *Project) error {
	return t.storage.createProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) GetProject(ctx context.Context, name string) (*Project, error) {
	return t.storage.getProjectWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) UpdateProject(ctx context.Context, project *Project) error {
	return t.storage.updateProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) UpsertFile(ctx context.Context, file *File) error {
	return t.storage.upsertFileWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) GetFileByPath(ctx context.Context, projectID int64, filePath string) (*File, error) {
	return t.storage.getFileByPathWithQuerier(ctx, t.querier(), projectID, filePath)
}

func (t *sqliteTx) GetFileByID(ctx context.Context, fileID int64) (*File, error) {
	return t.storage.getFileByIDWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) UpsertSnippet(ctx context.Context, snippet *Snippet) error {
	return t.storage.upsertSnippetWithQuerier(ctx, t.querier(), snippet)
}

func (t *sqliteTx) DeleteSnippetsByFile(ctx context.Context, fileID int64) error {
	return t.storage.deleteSnippetsByFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) UpsertSymbol(ctx context.Context, symbol *Symbol) error {
	return t.storage.upsertSymbolWithQuerier(ctx, t.querier(), symbol)
}

func (t *sqliteTx) GetSymbol(ctx context.Context, symbolID int64) (*Symbol, error) {
	return t.storage.getSymbolWithQuerier(ctx, t.querier(), symbolID)
}

func (t *sqliteTx) DeleteSymbolsByFile(ctx context.Context, fileID int64) error {
	return t.storage.deleteSymbolsByFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) UpsertSymbolEmbedding(ctx context.Context, embedding *SymbolEmbedding) error {
	return t.storage.upsertSymbolEmbeddingWithQuerier(ctx, t.querier(), embedding)
}

func (t *sqliteTx) SearchSnippets(ctx context.Context, projectID int64, query string, limit int, filters *SearchFilters) ([]SnippetResult, error) {
	return t.storage.searchSnippetsWithQuerier(ctx, t.querier(), projectID, query, limit, filters)
}

func (t *sqliteTx) SearchSymbolVectors(ctx context.Context, projectID int64, vector []float32, limit int, filters *SearchFilters) ([]SymbolResult, error) {
	return t.storage.searchSymbolVectorsWithQuerier(ctx, t.querier(), projectID, vector, limit, filters)
}

func (t *sqliteTx) GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) Close() error {
	return fmt.Errorf("cannot close storage from within a transaction")
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("nested transactions are not supported")
}

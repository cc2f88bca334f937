package storage

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func createTestProject(t *testing.T, s *SQLiteStorage) *Project {
	t.Helper()
	project := &Project{Name: "sample", IndexVersion: "1.0.0"}
	require.NoError(t, s.CreateProject(context.Background(), project))
	return project
}

func createTestFile(t *testing.T, s *SQLiteStorage, projectID int64, path, content string) *File {
	t.Helper()
	file := &File{
		ProjectID:   projectID,
		FilePath:    path,
		Content:     content,
		ContentHash: sha256.Sum256([]byte(content)),
		SizeBytes:   int64(len(content)),
	}
	require.NoError(t, s.UpsertFile(context.Background(), file))
	return file
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	v, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestCreateProject(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	project := createTestProject(t, storage)
	assert.Greater(t, project.ID, int64(0))

	err := storage.CreateProject(ctx, &Project{Name: "sample", IndexVersion: "1.0.0"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetProject(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)

	retrieved, err := storage.GetProject(ctx, "sample")
	require.NoError(t, err)
	assert.Equal(t, project.ID, retrieved.ID)
	assert.Equal(t, "1.0.0", retrieved.IndexVersion)
	assert.True(t, retrieved.LastImportedAt.IsZero())

	_, err = storage.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProject(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)

	project.TotalFiles = 3
	project.TotalSymbols = 12
	project.LastImportedAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, storage.UpdateProject(ctx, project))

	retrieved, err := storage.GetProject(ctx, "sample")
	require.NoError(t, err)
	assert.Equal(t, 3, retrieved.TotalFiles)
	assert.Equal(t, 12, retrieved.TotalSymbols)
	assert.False(t, retrieved.LastImportedAt.IsZero())

	err = storage.UpdateProject(ctx, &Project{ID: 999, IndexVersion: "1.0.0"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)

	file := createTestFile(t, storage, project.ID, "src/lib.rs", "fn main() {}\n")
	firstID := file.ID
	assert.Greater(t, firstID, int64(0))

	// Same path updates in place
	updated := createTestFile(t, storage, project.ID, "src/lib.rs", "fn main() { run(); }\n")
	assert.Equal(t, firstID, updated.ID)

	retrieved, err := storage.GetFileByPath(ctx, project.ID, "src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, "fn main() { run(); }\n", retrieved.Content)
	assert.Equal(t, sha256.Sum256([]byte("fn main() { run(); }\n")), retrieved.ContentHash)

	byID, err := storage.GetFileByID(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "src/lib.rs", byID.FilePath)
}

func TestGetFile_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)

	_, err := storage.GetFileByPath(ctx, project.ID, "nope.rs")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = storage.GetFileByID(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertSnippet(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	file := createTestFile(t, storage, project.ID, "src/lib.rs", "")

	snippet := &Snippet{FileID: file.ID, StartLine: 1, EndLine: 4, Text: "fn parse_config"}
	require.NoError(t, storage.UpsertSnippet(ctx, snippet))
	firstID := snippet.ID

	again := &Snippet{FileID: file.ID, StartLine: 1, EndLine: 4, Text: "fn load_config"}
	require.NoError(t, storage.UpsertSnippet(ctx, again))
	assert.Equal(t, firstID, again.ID)

	// The update trigger keeps the FTS index in step
	results, err := storage.SearchSnippets(ctx, project.ID, "load_config", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = storage.SearchSnippets(ctx, project.ID, "parse_config", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpsertSnippet_InvalidRange(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	file := createTestFile(t, storage, project.ID, "src/lib.rs", "")

	tests := []struct {
		name       string
		start, end int
	}{
		{"zero start", 0, 3},
		{"inverted", 5, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.UpsertSnippet(ctx, &Snippet{FileID: file.ID, StartLine: tt.start, EndLine: tt.end, Text: "x"})
			assert.Error(t, err)
		})
	}
}

func TestDeleteSnippetsByFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	file := createTestFile(t, storage, project.ID, "src/lib.rs", "")

	for i := 1; i <= 3; i++ {
		require.NoError(t, storage.UpsertSnippet(ctx, &Snippet{
			FileID: file.ID, StartLine: i * 10, EndLine: i*10 + 5, Text: "tokenizer state",
		}))
	}

	require.NoError(t, storage.DeleteSnippetsByFile(ctx, file.ID))

	results, err := storage.SearchSnippets(ctx, project.ID, "tokenizer", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpsertSymbol(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	file := createTestFile(t, storage, project.ID, "src/config.rs", "")

	doc := "Loads the configuration."
	owner := "Config"
	symbol := &Symbol{
		FileID:     file.ID,
		Name:       "load",
		CodeType:   "Method",
		Signature:  "fn load(path: &Path) -> Result<Config>",
		Docstring:  &doc,
		Module:     "config",
		StructName: &owner,
		Snippet:    "fn load(path: &Path) -> Result<Config> { ... }",
		Line:       12,
		LineFrom:   12,
		LineTo:     30,
	}
	require.NoError(t, storage.UpsertSymbol(ctx, symbol))
	assert.Greater(t, symbol.ID, int64(0))

	retrieved, err := storage.GetSymbol(ctx, symbol.ID)
	require.NoError(t, err)
	assert.Equal(t, "load", retrieved.Name)
	assert.Equal(t, "Method", retrieved.CodeType)
	require.NotNil(t, retrieved.Docstring)
	assert.Equal(t, doc, *retrieved.Docstring)
	require.NotNil(t, retrieved.StructName)
	assert.Equal(t, owner, *retrieved.StructName)
	assert.Equal(t, 12, retrieved.LineFrom)
	assert.Equal(t, 30, retrieved.LineTo)

	// Re-import of the same symbol keeps its ID and clears nullable fields
	again := *symbol
	again.ID = 0
	again.Docstring = nil
	again.StructName = nil
	require.NoError(t, storage.UpsertSymbol(ctx, &again))
	assert.Equal(t, symbol.ID, again.ID)

	retrieved, err = storage.GetSymbol(ctx, symbol.ID)
	require.NoError(t, err)
	assert.Nil(t, retrieved.Docstring)
	assert.Nil(t, retrieved.StructName)
}

func TestDeleteSymbolsByFile_CascadesEmbeddings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	file := createTestFile(t, storage, project.ID, "src/config.rs", "")

	symbol := &Symbol{FileID: file.ID, Name: "load", CodeType: "Function", LineFrom: 1, LineTo: 2}
	require.NoError(t, storage.UpsertSymbol(ctx, symbol))
	require.NoError(t, storage.UpsertSymbolEmbedding(ctx, &SymbolEmbedding{
		SymbolID: symbol.ID, Vector: SerializeVector([]float32{1, 0}), Dimension: 2,
		Provider: "local", Model: "test",
	}))

	require.NoError(t, storage.DeleteSymbolsByFile(ctx, file.ID))

	_, err := storage.GetSymbol(ctx, symbol.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	status, err := storage.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.EmbeddingsCount)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	file := createTestFile(t, storage, project.ID, "src/config.rs", "")

	require.NoError(t, storage.UpsertSnippet(ctx, &Snippet{FileID: file.ID, StartLine: 1, EndLine: 3, Text: "fn load"}))
	symbol := &Symbol{FileID: file.ID, Name: "load", CodeType: "Function", LineFrom: 1, LineTo: 3}
	require.NoError(t, storage.UpsertSymbol(ctx, symbol))

	status, err := storage.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.FilesCount)
	assert.Equal(t, 1, status.SnippetsCount)
	assert.Equal(t, 1, status.SymbolsCount)
	assert.Equal(t, 0, status.EmbeddingsCount)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.True(t, status.Health.FTSIndexBuilt)
	assert.False(t, status.Health.EmbeddingsAvailable)

	_, err = storage.GetStatus(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginTx_CommitRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	file := &File{ProjectID: project.ID, FilePath: "rolled_back.rs"}
	require.NoError(t, tx.UpsertFile(ctx, file))
	require.NoError(t, tx.Rollback())

	_, err = storage.GetFileByPath(ctx, project.ID, "rolled_back.rs")
	assert.ErrorIs(t, err, ErrNotFound)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	file = &File{ProjectID: project.ID, FilePath: "committed.rs"}
	require.NoError(t, tx.UpsertFile(ctx, file))
	require.NoError(t, tx.UpsertSnippet(ctx, &Snippet{FileID: file.ID, StartLine: 1, EndLine: 1, Text: "committed snippet"}))

	// Reads inside the transaction see its own writes
	results, err := tx.SearchSnippets(ctx, project.ID, "committed", 5, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	require.NoError(t, tx.Commit())

	_, err = storage.GetFileByPath(ctx, project.ID, "committed.rs")
	assert.NoError(t, err)

	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
}

func TestMigrations_Rollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))

	v, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	v, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	// Reapplying is a no-op
	require.NoError(t, ApplyMigrations(ctx, storage.db))
}

func TestEnsureProject(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	created, err := EnsureProject(ctx, storage, "repo")
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(0))
	assert.Equal(t, CurrentSchemaVersion, created.IndexVersion)

	again, err := EnsureProject(ctx, storage, "repo")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

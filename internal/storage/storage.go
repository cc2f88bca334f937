package storage

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/dshills/codeqa/pkg/types"
)

// Storage defines the interface for persisting and querying an imported code index
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, name string) (*Project, error)
	UpdateProject(ctx context.Context, project *Project) error

	// File operations
	UpsertFile(ctx context.Context, file *File) error
	GetFileByPath(ctx context.Context, projectID int64, filePath string) (*File, error)
	GetFileByID(ctx context.Context, fileID int64) (*File, error)

	// Snippet operations (lexical index)
	UpsertSnippet(ctx context.Context, snippet *Snippet) error
	DeleteSnippetsByFile(ctx context.Context, fileID int64) error

	// Symbol operations (semantic index)
	UpsertSymbol(ctx context.Context, symbol *Symbol) error
	GetSymbol(ctx context.Context, symbolID int64) (*Symbol, error)
	DeleteSymbolsByFile(ctx context.Context, fileID int64) error
	UpsertSymbolEmbedding(ctx context.Context, embedding *SymbolEmbedding) error

	// Search operations
	SearchSnippets(ctx context.Context, projectID int64, query string, limit int, filters *SearchFilters) ([]SnippetResult, error)
	SearchSymbolVectors(ctx context.Context, projectID int64, vector []float32, limit int, filters *SearchFilters) ([]SymbolResult, error)

	// Status operations
	GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}

// Project is one imported repository
type Project struct {
	ID             int64
	Name           string
	IndexVersion   string
	TotalFiles     int
	TotalSymbols   int
	LastImportedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// File is a repository file with its full content, served by the file endpoint
type File struct {
	ID          int64
	ProjectID   int64
	FilePath    string // Repository-relative
	Content     string
	ContentHash [32]byte
	SizeBytes   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snippet is a searchable line range of a file. Lines are 1-based and inclusive.
type Snippet struct {
	ID        int64
	FileID    int64
	StartLine int
	EndLine   int
	Text      string
	CreatedAt time.Time
}

// Symbol is a semantic index record. Lines are 1-based and inclusive.
type Symbol struct {
	ID         int64
	FileID     int64
	Name       string
	CodeType   string
	Signature  string
	Docstring  *string
	Module     string
	StructName *string
	Snippet    string
	Line       int
	LineFrom   int
	LineTo     int
	CreatedAt  time.Time
}

// SymbolEmbedding is the vector for one symbol
type SymbolEmbedding struct {
	ID        int64
	SymbolID  int64
	Vector    []byte // Serialized float32 array
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// SearchFilters narrows search results
type SearchFilters struct {
	FilePattern  string   // GLOB pattern over repository-relative paths
	CodeTypes    []string // Symbol code types, semantic search only
	MinRelevance float64  // Minimum normalized score
}

// SnippetResult is a full-text match. Lines are 1-based as stored.
type SnippetResult struct {
	SnippetID int64
	FilePath  string
	StartLine int
	EndLine   int
	Score     float64
}

// SymbolResult is a vector similarity match
type SymbolResult struct {
	Symbol     *Symbol
	FilePath   string
	Similarity float64
}

// ProjectStatus contains statistics about an imported project
type ProjectStatus struct {
	Project         *Project
	FilesCount      int
	SnippetsCount   int
	SymbolsCount    int
	EmbeddingsCount int
	Health          HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexBuilt       bool
}

// EnsureProject returns the named project, creating it when missing
func EnsureProject(ctx context.Context, s Storage, name string) (*Project, error) {
	project, err := s.GetProject(ctx, name)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	project = &Project{Name: name, IndexVersion: CurrentSchemaVersion}
	err = s.CreateProject(ctx, project)
	if errors.Is(err, ErrAlreadyExists) {
		// Created concurrently
		return s.GetProject(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	return project, nil
}

// ToSemanticHit converts a stored symbol into the semantic backend's record shape
func (s *Symbol) ToSemanticHit(filePath string) types.SemanticHit {
	return types.SemanticHit{
		CodeType: types.CodeType(s.CodeType),
		Context: types.SymbolContext{
			FileName:   path.Base(filePath),
			FilePath:   filePath,
			Module:     s.Module,
			Snippet:    s.Snippet,
			StructName: s.StructName,
		},
		Docstring: s.Docstring,
		Line:      s.Line,
		LineFrom:  s.LineFrom,
		LineTo:    s.LineTo,
		Name:      s.Name,
		Signature: s.Signature,
	}
}

// FromSemanticHit converts a semantic record into a storable symbol
func FromSemanticHit(h types.SemanticHit, fileID int64) *Symbol {
	return &Symbol{
		FileID:     fileID,
		Name:       h.Name,
		CodeType:   string(h.CodeType),
		Signature:  h.Signature,
		Docstring:  h.Docstring,
		Module:     h.Context.Module,
		StructName: h.Context.StructName,
		Snippet:    h.Context.Snippet,
		Line:       h.Line,
		LineFrom:   h.LineFrom,
		LineTo:     h.LineTo,
	}
}

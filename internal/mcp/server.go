package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeqa/internal/ingest"
	"github.com/dshills/codeqa/internal/llm"
	"github.com/dshills/codeqa/internal/searcher"
	"github.com/dshills/codeqa/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "codeqa"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Searcher runs combined searches
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	InvalidateCache()
}

// Answerer answers questions about the code
type Answerer interface {
	Answer(ctx context.Context, question string) (*llm.ChatResponse, error)
}

// Store is the storage subset the tools read
type Store interface {
	GetFileByPath(ctx context.Context, projectID int64, filePath string) (*storage.File, error)
	GetStatus(ctx context.Context, projectID int64) (*storage.ProjectStatus, error)
}

// Importer loads index dumps
type Importer interface {
	ImportFile(ctx context.Context, project, path string, cfg *ingest.Config) (*ingest.Statistics, error)
}

// Deps are the components behind the tools
type Deps struct {
	Search   Searcher
	Answers  Answerer
	Store    Store
	Importer Importer
	Project  *storage.Project
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	search   Searcher
	answers  Answerer
	store    Store
	importer Importer
	project  *storage.Project
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		search:   deps.Search,
		answers:  deps.Answers,
		store:    deps.Store,
		importer: deps.Importer,
		project:  deps.Project,
		logger:   logger,
	}
	s.registerTools()
	return s
}

// Serve speaks MCP over in and out until ctx is cancelled or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(answerQuestionTool(), s.handleAnswerQuestion)
	s.mcp.AddTool(getFileTool(), s.handleGetFile)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	if s.importer != nil {
		s.mcp.AddTool(importIndexTool(), s.handleImportIndex)
	}
}

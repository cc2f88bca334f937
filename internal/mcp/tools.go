package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeqa/internal/answer"
	"github.com/dshills/codeqa/internal/ingest"
	"github.com/dshills/codeqa/internal/llm"
	"github.com/dshills/codeqa/internal/searcher"
	"github.com/dshills/codeqa/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeFileNotFound     = -32001 // Path is not in the imported index
	ErrorCodeImportInProgress = -32002 // Another import is already running
	ErrorCodeUpstream         = -32003 // The LLM endpoint failed
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
)

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, err := requireQuery(args)
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.search.Search(ctx, searcher.SearchRequest{
		Query:       query,
		Limit:       limit,
		FilePattern: getStringDefault(args, "file_pattern", ""),
		UseCache:    true,
	})
	if errors.Is(err, searcher.ErrInvalidRequest) {
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"results":       resp.Results,
		"total_results": resp.TotalResults,
		"lexical_hits":  resp.LexicalHits,
		"semantic_hits": resp.SemanticHits,
		"degraded":      resp.Degraded,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAnswerQuestion handles the answer_question tool invocation
func (s *Server) handleAnswerQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, err := requireQuery(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.answers.Answer(ctx, query)
	switch {
	case errors.Is(err, answer.ErrEmptyQuestion):
		return nil, newMCPError(ErrorCodeEmptyQuery, err.Error(), nil)
	case errors.Is(err, llm.ErrUpstream):
		return nil, newMCPError(ErrorCodeUpstream, "answer failed", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "answer failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"answer": resp.Content(),
		"model":  resp.Model,
		"usage":  resp.Usage,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetFile handles the get_file tool invocation
func (s *Server) handleGetFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	p, ok := args["path"].(string)
	if !ok || p == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	clean := path.Clean(p)
	if strings.HasPrefix(p, "/") || !fs.ValidPath(clean) || clean == "." {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrPathNotRelative.Error(),
		})
	}

	file, err := s.store.GetFileByPath(ctx, s.project.ID, clean)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeFileNotFound, "file not found", map[string]interface{}{
			"path": clean,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read file", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(file.Content), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.store.GetStatus(ctx, s.project.ID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	project := status.Project
	lastImported := ""
	if !project.LastImportedAt.IsZero() {
		lastImported = project.LastImportedAt.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"imported": status.FilesCount > 0,
		"project": map[string]interface{}{
			"name":             project.Name,
			"index_version":    project.IndexVersion,
			"last_imported_at": lastImported,
		},
		"statistics": map[string]interface{}{
			"files_count":      status.FilesCount,
			"snippets_count":   status.SnippetsCount,
			"symbols_count":    status.SymbolsCount,
			"embeddings_count": status.EmbeddingsCount,
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"fts_index_built":      status.Health.FTSIndexBuilt,
		},
	}
	if status.FilesCount == 0 {
		response["message"] = "Nothing imported yet. Use import_index or `codeqa import` to load an index dump."
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleImportIndex handles the import_index tool invocation
func (s *Server) handleImportIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	p, ok := args["path"].(string)
	if !ok || p == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if !filepath.IsAbs(p) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrPathNotAbsolute.Error(),
		})
	}

	stats, err := s.importer.ImportFile(ctx, s.project.Name, p, nil)
	if errors.Is(err, ingest.ErrImportInProgress) {
		return nil, newMCPError(ErrorCodeImportInProgress, err.Error(), nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "import failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.search.InvalidateCache()

	response := map[string]interface{}{
		"imported":             true,
		"files_imported":       stats.FilesImported,
		"files_skipped":        stats.FilesSkipped,
		"snippets_imported":    stats.SnippetsImported,
		"symbols_imported":     stats.SymbolsImported,
		"embeddings_generated": stats.EmbeddingsGenerated,
		"records_failed":       stats.RecordsFailed,
		"duration_ms":          stats.Duration.Milliseconds(),
	}
	if n := len(stats.ErrorMessages); n > 0 {
		if n > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func requireQuery(args map[string]interface{}) (string, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	return query, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation errors

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotRelative = errors.New("path must be a relative repository path")
)

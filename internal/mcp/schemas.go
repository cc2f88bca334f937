package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeqa/internal/searcher"
)

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name: "search_code",
		Description: "Search the imported repository. Returns symbols ranked by how many " +
			"lexical matches fall inside them, each with the overlapping line ranges.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"file_pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern for file paths (e.g., 'src/**/*.rs')",
				},
			},
			Required: []string{"query"},
		},
	}
}

// answerQuestionTool returns the tool definition for answer_question
func answerQuestionTool() mcp.Tool {
	return mcp.Tool{
		Name:        "answer_question",
		Description: "Answer a question about the repository using search results as context",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Question about the code",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getFileTool returns the tool definition for get_file
func getFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_file",
		Description: "Return the full content of an imported file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Repository-relative file path, as returned by search_code",
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report import statistics and index health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// importIndexTool returns the tool definition for import_index
func importIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "import_index",
		Description: "Import a JSONL index dump produced by an external indexer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the dump file",
				},
			},
			Required: []string{"path"},
		},
	}
}

// Package mcp implements the Model Context Protocol (MCP) server for codeqa.
//
// The server exposes the imported repository to AI coding assistants:
//   - search_code: combined semantic and lexical search
//   - answer_question: an LLM answer grounded on search results
//   - get_file: full content of an imported file
//   - get_status: import statistics and index health
//   - import_index: load a JSONL index dump (when an importer is configured)
//
// MCP is JSON-RPC 2.0 over stdio. Stdout carries protocol messages only, so all
// logging goes to stderr.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {"query": "where is the config parsed", "limit": 5, "file_pattern": "src/**"}
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "name": "parse_config",
//	      "code_type": "Function",
//	      "line_from": 10,
//	      "line_to": 42,
//	      "context": {"file_path": "src/config.rs", ...},
//	      "sub_matches": [{"overlap_from": 12, "overlap_to": 14}]
//	    }
//	  ],
//	  "total_results": 1,
//	  "degraded": false
//	}
//
// Results with more sub_matches rank first; ties keep the semantic order. A result
// without a sub_matches key had no lexical candidates in its file. When the lexical
// backend fails, "degraded" is true and results come back in semantic order.
//
// # Errors
//
// Tool failures are returned as *MCPError with one of the ErrorCode constants.
package mcp

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeqa/internal/embedder"
	"github.com/dshills/codeqa/internal/ingest"
	"github.com/dshills/codeqa/internal/lexical"
	"github.com/dshills/codeqa/internal/llm"
	"github.com/dshills/codeqa/internal/searcher"
	"github.com/dshills/codeqa/internal/semantic"
	"github.com/dshills/codeqa/internal/storage"
)

const dump = `{"kind":"file","path":"src/config.rs","content":"pub fn parse_config(path: &str) -> Config {\n    let raw = read(path);\n    toml::from_str(&raw)\n}\n"}
{"kind":"snippet","path":"src/config.rs","start_line":2,"end_line":2,"text":"let raw = read(path);"}
{"kind":"snippet","path":"src/config.rs","start_line":3,"end_line":3,"text":"toml::from_str(&raw) parse config"}
{"kind":"symbol","name":"parse_config","code_type":"Function","signature":"pub fn parse_config(path: &str) -> Config","line":1,"line_from":1,"line_to":4,"context":{"file_name":"config.rs","file_path":"src/config.rs","module":"config","snippet":"pub fn parse_config"}}
`

type fakeAnswers struct {
	err error
}

func (f *fakeAnswers) Answer(_ context.Context, q string) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Model:   "m",
		Choices: []llm.Choice{{Message: llm.Message{Role: llm.RoleAssistant, Content: "It parses " + q}}},
	}, nil
}

func setupServer(t *testing.T, answers Answerer) (*Server, string) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	project, err := storage.EnsureProject(ctx, store, "repo")
	require.NoError(t, err)

	search := searcher.New(
		lexical.New(store, project.ID),
		semantic.New(store, emb, project.ID),
	)

	dumpPath := filepath.Join(t.TempDir(), "dump.jsonl")
	require.NoError(t, os.WriteFile(dumpPath, []byte(dump), 0o600))

	return NewServer(Deps{
		Search:   search,
		Answers:  answers,
		Store:    store,
		Importer: ingest.New(store, emb, nil),
		Project:  project,
	}), dumpPath
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestImportThenSearch(t *testing.T) {
	s, dumpPath := setupServer(t, &fakeAnswers{})
	ctx := context.Background()

	res, err := s.handleImportIndex(ctx, call(map[string]interface{}{"path": dumpPath}))
	require.NoError(t, err)
	var imported map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &imported))
	assert.EqualValues(t, 1, imported["files_imported"])
	assert.EqualValues(t, 1, imported["symbols_imported"])

	res, err = s.handleSearchCode(ctx, call(map[string]interface{}{"query": "parse config raw", "limit": float64(3)}))
	require.NoError(t, err)

	var body struct {
		Results []struct {
			Name       string `json:"name"`
			SubMatches []struct {
				From int `json:"overlap_from"`
				To   int `json:"overlap_to"`
			} `json:"sub_matches"`
		} `json:"results"`
		Degraded bool `json:"degraded"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	require.Len(t, body.Results, 1)
	assert.False(t, body.Degraded)
	assert.Equal(t, "parse_config", body.Results[0].Name)
	assert.NotEmpty(t, body.Results[0].SubMatches)
	for _, m := range body.Results[0].SubMatches {
		assert.GreaterOrEqual(t, m.From, 1)
		assert.LessOrEqual(t, m.To, 4)
	}
}

func TestSearchCode_Validation(t *testing.T) {
	s, _ := setupServer(t, &fakeAnswers{})
	ctx := context.Background()

	tests := []struct {
		name string
		args interface{}
		code int
	}{
		{"not an object", "query", ErrorCodeInvalidParams},
		{"missing query", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"blank query", map[string]interface{}{"query": "  "}, ErrorCodeEmptyQuery},
		{"limit too large", map[string]interface{}{"query": "x", "limit": float64(500)}, ErrorCodeInvalidParams},
		{"bad pattern", map[string]interface{}{"query": "x", "file_pattern": "src/[a"}, ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req mcp.CallToolRequest
			req.Params.Arguments = tt.args
			_, err := s.handleSearchCode(ctx, req)
			requireCode(t, err, tt.code)
		})
	}
}

func TestAnswerQuestion(t *testing.T) {
	ctx := context.Background()

	t.Run("answer", func(t *testing.T) {
		s, _ := setupServer(t, &fakeAnswers{})
		res, err := s.handleAnswerQuestion(ctx, call(map[string]interface{}{"query": "config"}))
		require.NoError(t, err)
		assert.Contains(t, resultText(t, res), `"answer": "It parses config"`)
	})

	t.Run("upstream failure", func(t *testing.T) {
		s, _ := setupServer(t, &fakeAnswers{err: llm.ErrUpstream})
		_, err := s.handleAnswerQuestion(ctx, call(map[string]interface{}{"query": "config"}))
		requireCode(t, err, ErrorCodeUpstream)
	})
}

func TestGetFile(t *testing.T) {
	s, dumpPath := setupServer(t, &fakeAnswers{})
	ctx := context.Background()
	_, err := s.handleImportIndex(ctx, call(map[string]interface{}{"path": dumpPath}))
	require.NoError(t, err)

	res, err := s.handleGetFile(ctx, call(map[string]interface{}{"path": "src/config.rs"}))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resultText(t, res), "pub fn parse_config"))

	_, err = s.handleGetFile(ctx, call(map[string]interface{}{"path": "src/main.rs"}))
	requireCode(t, err, ErrorCodeFileNotFound)

	for _, p := range []string{"../secret", "/etc/passwd", ""} {
		_, err = s.handleGetFile(ctx, call(map[string]interface{}{"path": p}))
		requireCode(t, err, ErrorCodeInvalidParams)
	}
}

func TestGetStatus(t *testing.T) {
	s, dumpPath := setupServer(t, &fakeAnswers{})
	ctx := context.Background()

	res, err := s.handleGetStatus(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"imported": false`)

	_, err = s.handleImportIndex(ctx, call(map[string]interface{}{"path": dumpPath}))
	require.NoError(t, err)

	res, err = s.handleGetStatus(ctx, call(nil))
	require.NoError(t, err)

	var body struct {
		Imported   bool            `json:"imported"`
		Statistics map[string]int  `json:"statistics"`
		Health     map[string]bool `json:"health"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	assert.True(t, body.Imported)
	assert.Equal(t, 1, body.Statistics["files_count"])
	assert.Equal(t, 2, body.Statistics["snippets_count"])
	assert.Equal(t, 1, body.Statistics["embeddings_count"])
	assert.True(t, body.Health["fts_index_built"])
}

func TestImportIndex_Validation(t *testing.T) {
	s, _ := setupServer(t, &fakeAnswers{})
	ctx := context.Background()

	_, err := s.handleImportIndex(ctx, call(map[string]interface{}{"path": "relative.jsonl"}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = s.handleImportIndex(ctx, call(map[string]interface{}{"path": filepath.Join(t.TempDir(), "missing.jsonl")}))
	requireCode(t, err, ErrorCodeInternalError)
}

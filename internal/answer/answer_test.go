package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeqa/internal/llm"
	"github.com/dshills/codeqa/internal/searcher"
	"github.com/dshills/codeqa/pkg/types"
)

type fakeSearcher struct {
	results []types.ReconciledHit
	err     error
	got     searcher.SearchRequest
}

func (f *fakeSearcher) Search(_ context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &searcher.SearchResponse{Results: f.results, TotalResults: len(f.results)}, nil
}

func sampleHits() []types.ReconciledHit {
	subs := []types.OverlapRange{{OverlapFrom: 3, OverlapTo: 4}}
	return []types.ReconciledHit{{
		SemanticHit: types.SemanticHit{
			CodeType: types.CodeFunction,
			Context:  types.SymbolContext{FileName: "lib.rs", FilePath: "src/lib.rs", Module: "lib"},
			LineFrom: 1,
			LineTo:   8,
			Name:     "parse_config",
		},
		SubMatches: &subs,
	}}
}

// llmServer answers every request with body and records the last request's messages
func llmServer(t *testing.T, body string) (*httptest.Server, *[]llm.Message) {
	t.Helper()
	var messages []llm.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []llm.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		messages = req.Messages
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &messages
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("what parses config?", sampleHits(), "")
	require.Len(t, msgs, 2)

	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are a helpful assistant that answers questions about code based on "+
		"the provided context in Korean(한국어).", msgs[0].Content)

	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Content,
		"Please answer the following question based on the provided code context:\n\nQuestion: what parses config?\n\nCode Context:\n"))
	assert.Contains(t, msgs[1].Content, `"file_path": "src/lib.rs"`)
	assert.Contains(t, msgs[1].Content, `"overlap_from": 3`)

	t.Run("language", func(t *testing.T) {
		msgs := BuildMessages("q", nil, "English")
		assert.True(t, strings.HasSuffix(msgs[0].Content, "in English."))
		assert.True(t, strings.HasSuffix(msgs[1].Content, "Code Context:\n[]"))
	})
}

func TestAnswer(t *testing.T) {
	srv, messages := llmServer(t, `{"id":"1","object":"chat.completion","model":"m",
		"choices":[{"index":0,"message":{"role":"assistant","content":" 설정을 읽습니다. "},"finish_reason":"stop"}]}`)
	search := &fakeSearcher{results: sampleHits()}
	svc := New(search, llm.New(llm.Config{BaseURL: srv.URL}), Config{})

	resp, err := svc.Answer(context.Background(), "  what parses config? ")
	require.NoError(t, err)
	assert.Equal(t, "설정을 읽습니다.", resp.Content())

	assert.Equal(t, "what parses config?", search.got.Query)
	assert.Equal(t, searcher.DefaultLimit, search.got.Limit)
	require.Len(t, *messages, 2)
	assert.Contains(t, (*messages)[1].Content, "parse_config")
}

func TestAnswer_Errors(t *testing.T) {
	srv, _ := llmServer(t, `{}`)
	client := llm.New(llm.Config{BaseURL: srv.URL})

	t.Run("empty question", func(t *testing.T) {
		svc := New(&fakeSearcher{}, client, Config{})
		_, err := svc.Answer(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	})

	t.Run("search failure", func(t *testing.T) {
		boom := errors.New("boom")
		svc := New(&fakeSearcher{err: boom}, client, Config{})
		_, err := svc.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("upstream failure", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad", http.StatusBadRequest)
		}))
		defer failing.Close()

		svc := New(&fakeSearcher{}, llm.New(llm.Config{BaseURL: failing.URL}), Config{})
		_, err := svc.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, llm.ErrUpstream)
	})
}

func TestAnswerStream(t *testing.T) {
	srv, _ := llmServer(t, "data: {\"model\":\"m\",\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n")
	svc := New(&fakeSearcher{results: sampleHits()}, llm.New(llm.Config{BaseURL: srv.URL}), Config{Limit: 3})

	var out bytes.Buffer
	require.NoError(t, svc.AnswerStream(context.Background(), "q", &out, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event_id":0,"content":"Hi","is_final_event":false}`, lines[0])

	var final llm.Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &final))
	assert.Equal(t, llm.Event{EventID: 1, Content: "Hi", IsFinalEvent: true, Created: final.Created, Provider: llm.Provider, Model: "m"}, final)
}

func TestAnswerSSE(t *testing.T) {
	srv, _ := llmServer(t, "data: {\"choices\": []}\n\ndata: [DONE]\n\n")
	svc := New(&fakeSearcher{}, llm.New(llm.Config{BaseURL: srv.URL}), Config{})

	var out bytes.Buffer
	require.NoError(t, svc.AnswerSSE(context.Background(), "q", &out))
	assert.Equal(t, "data: {\"choices\":[]}\n\ndata: [DONE]\n\n", out.String())
}

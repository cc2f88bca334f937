package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/codeqa/pkg/types"
)

// Record kinds
const (
	KindFile    = "file"
	KindSnippet = "snippet"
	KindSymbol  = "symbol"
)

// Record is one line of an index dump. Which fields apply depends on Kind.
//
//	{"kind":"file","path":"src/lib.rs","content":"..."}
//	{"kind":"snippet","path":"src/lib.rs","start_line":1,"end_line":8,"text":"..."}
//	{"kind":"symbol","name":"parse","code_type":"Function","line_from":1,"line_to":8,
//	 "context":{"file_path":"src/lib.rs",...},"embedding":[0.1,...]}
//
// Snippet and symbol lines are 1-based and inclusive.
type Record struct {
	Kind string `json:"kind"`

	// file and snippet
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`

	// snippet
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Text      string `json:"text,omitempty"`

	// symbol
	types.SemanticHit
	Embedding []float32 `json:"embedding,omitempty"`
}

var errUnknownKind = errors.New("unknown record kind")

// parseRecord decodes and validates one dump line
func parseRecord(line []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Record) validate() error {
	switch r.Kind {
	case KindFile:
		if r.Path == "" {
			return errors.New("file record without path")
		}
	case KindSnippet:
		if r.Path == "" {
			return errors.New("snippet record without path")
		}
		if r.StartLine < 1 || r.EndLine < r.StartLine {
			return fmt.Errorf("snippet %s: bad line range %d-%d", r.Path, r.StartLine, r.EndLine)
		}
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("snippet %s:%d: empty text", r.Path, r.StartLine)
		}
	case KindSymbol:
		if err := r.SemanticHit.Validate(); err != nil {
			return err
		}
		if r.Name == "" {
			return fmt.Errorf("symbol in %s: missing name", r.Context.FilePath)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownKind, r.Kind)
	}
	return nil
}

// filePath returns the repository path the record belongs to
func (r *Record) filePath() string {
	if r.Kind == KindSymbol {
		return r.Context.FilePath
	}
	return r.Path
}

// EmbeddingText is the text embedded for a symbol without a stored vector
func EmbeddingText(h types.SemanticHit) string {
	var b strings.Builder
	b.WriteString(string(h.CodeType))
	b.WriteByte(' ')
	b.WriteString(h.Name)
	if h.Signature != "" {
		b.WriteByte('\n')
		b.WriteString(h.Signature)
	}
	if h.Docstring != nil && *h.Docstring != "" {
		b.WriteByte('\n')
		b.WriteString(*h.Docstring)
	}
	if h.Context.Module != "" {
		b.WriteString("\nmodule ")
		b.WriteString(h.Context.Module)
	}
	if h.Context.Snippet != "" {
		b.WriteByte('\n')
		b.WriteString(h.Context.Snippet)
	}
	return b.String()
}

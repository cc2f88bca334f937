package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Event is one NDJSON record of a streamed answer
type Event struct {
	EventID      int    `json:"event_id"`
	Content      string `json:"content"`
	IsFinalEvent bool   `json:"is_final_event"`
	Created      int64  `json:"created,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
}

type wireChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream turns upstream SSE chunks into Events. Content events are numbered from
// zero; the final event takes the next number and carries the whole trimmed answer.
type Stream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	now    func() time.Time
	model  string
	answer strings.Builder
	index  int
	done   bool
}

func newStream(body io.ReadCloser, model string, now func() time.Time) *Stream {
	return &Stream{
		body:  body,
		r:     bufio.NewReader(body),
		now:   now,
		model: model,
	}
}

// Next returns the next event. After the final event it returns io.EOF.
func (s *Stream) Next() (*Event, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		payload, end, err := s.readPayload()
		if err != nil {
			return nil, upstream(err)
		}
		if end {
			s.done = true
			return &Event{
				EventID:      s.index,
				Content:      strings.TrimSpace(s.answer.String()),
				IsFinalEvent: true,
				Created:      s.now().Unix(),
				Provider:     Provider,
				Model:        s.model,
			}, nil
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, upstream(fmt.Errorf("decode chunk: %w", err))
		}
		if chunk.Model != "" {
			s.model = chunk.Model
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
			continue
		}
		content := *chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		s.answer.WriteString(content)
		ev := &Event{EventID: s.index, Content: content}
		s.index++
		return ev, nil
	}
}

// readPayload returns the next data payload, or end at [DONE] or EOF
func (s *Stream) readPayload() (payload string, end bool, err error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", false, err
		}
		eof := err == io.EOF

		line = strings.TrimSpace(line)
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return "", true, nil
			}
			if data != "" {
				return data, false, nil
			}
		}
		if eof {
			return "", true, nil
		}
	}
}

// Answer returns the content received so far
func (s *Stream) Answer() string {
	return strings.TrimSpace(s.answer.String())
}

// Close releases the upstream connection
func (s *Stream) Close() error {
	return s.body.Close()
}

// WriteNDJSON copies every event of s to w, one JSON object per line, calling
// flush after each line when it is non-nil.
func WriteNDJSON(w io.Writer, s *Stream, flush func()) error {
	enc := json.NewEncoder(w)
	for {
		ev, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if flush != nil {
			flush()
		}
	}
}

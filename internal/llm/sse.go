package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

var errorFrame = []byte(`data: {"error":"Unexpected chunk type"}` + "\n\n")

// ReframeSSE copies an upstream SSE body to w as compact "data: {json}\n\n" frames.
// Payloads that are not JSON become an error frame; [DONE] is passed through.
// Comments, event names and blank lines are dropped.
func ReframeSSE(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var buf bytes.Buffer
	for sc.Scan() {
		data, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		buf.Reset()
		switch {
		case data == "[DONE]":
			buf.WriteString("data: [DONE]\n\n")
		case json.Valid([]byte(data)):
			buf.WriteString("data: ")
			if err := json.Compact(&buf, []byte(data)); err != nil {
				return upstream(err)
			}
			buf.WriteString("\n\n")
		default:
			buf.Write(errorFrame)
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		if f, ok := w.(interface{ Flush() }); ok {
			f.Flush()
		}
	}
	if err := sc.Err(); err != nil {
		return upstream(err)
	}
	return nil
}

package types

import (
	"errors"
	"fmt"
)

// ErrMalformedHit is matched by every MalformedHitError
var ErrMalformedHit = errors.New("malformed hit")

// HitSource names the backend a hit came from
type HitSource string

const (
	SourceLexical  HitSource = "lexical"
	SourceSemantic HitSource = "semantic"
)

// MalformedHitError reports a hit that violates its upstream contract.
// Index is the position of the hit in its input sequence, or -1 when unknown.
type MalformedHitError struct {
	Source HitSource
	Index  int
	Field  string
	Reason string
}

func (e *MalformedHitError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("malformed %s hit at index %d: %s: %s", e.Source, e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s hit: %s: %s", e.Source, e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrMalformedHit)
func (e *MalformedHitError) Unwrap() error {
	return ErrMalformedHit
}

func malformed(source HitSource, field, reason string) *MalformedHitError {
	return &MalformedHitError{Source: source, Index: -1, Field: field, Reason: reason}
}

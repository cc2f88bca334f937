package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUpstream is matched by every failure to obtain a completion
var ErrUpstream = errors.New("failed to get the response from OpenAI")

// APIError is a non-2xx reply from the completion API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether sending the request again may succeed
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func upstream(err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

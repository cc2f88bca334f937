// Package llm is a client for OpenAI-compatible chat completion APIs.
//
// Complete returns a whole answer shaped into a provider-neutral ChatResponse.
// Stream returns incremental NDJSON-ready events ending in one final event that
// carries the full trimmed answer. ReframeSSE normalises an upstream SSE body into
// clean "data: {json}" frames for browsers.
//
// Requests that fail with a transport error, 429 or 5xx are retried with a random
// exponential wait. Every failure matches ErrUpstream; non-2xx replies also carry an
// *APIError.
package llm

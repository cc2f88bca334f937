package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults of the hosted Xionic endpoint
const (
	DefaultBaseURL = "https://sionic.chat/v1"
	DefaultModel   = "xionic-1-72b-20240919"
	DefaultTimeout = 60 * time.Second

	DefaultMaxAttempts = 2
	DefaultMinWait     = 1 * time.Second
	DefaultMaxWait     = 3 * time.Second

	// Provider is reported on every shaped response
	Provider = "openai"
)

// Role is the author of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Params are the sampling parameters sent with every request
type Params struct {
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Seed             int
}

// DefaultParams returns the sampling parameters used for code answers
func DefaultParams() Params {
	return Params{
		MaxTokens:        640,
		Temperature:      0.1,
		TopP:             0.9,
		FrequencyPenalty: 0.1,
		PresencePenalty:  0.1,
		Seed:             42,
	}
}

// Config configures a Client. Zero fields take the package defaults.
type Config struct {
	BaseURL     string
	APIKey      string // Sent as a bearer token when set
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Params      Params
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// ChatRequest is one completion call
type ChatRequest struct {
	Messages []Message
	Model    string  // Empty means the client model
	Params   *Params // Nil means the client params

	ExtraBody    map[string]any    // Merged into the JSON body
	ExtraHeaders map[string]string // Added to the HTTP request
	ExtraQuery   map[string]string // Added to the URL query
}

// ChatResponse is the provider-neutral shape of a completion
type ChatResponse struct {
	ID       string   `json:"id"`
	Object   string   `json:"object"`
	Created  int64    `json:"created"`
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	Choices  []Choice `json:"choices"`
	Usage    Usage    `json:"usage"`
}

// Choice is one generated alternative
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason *string `json:"finish_reason"`
}

// Usage counts tokens for a completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Content returns the first choice's message, or "" when there is none
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Client talks to an OpenAI-compatible /chat/completions endpoint
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	params      Params
	maxAttempts int
	minWait     time.Duration
	maxWait     time.Duration
	http        *http.Client
	logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client
func New(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		params:      cfg.Params,
		maxAttempts: cfg.MaxAttempts,
		minWait:     cfg.MinWait,
		maxWait:     cfg.MaxWait,
		http:        cfg.HTTPClient,
		logger:      cfg.Logger,
		sleep:       sleepCtx,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.params == (Params{}) {
		c.params = DefaultParams()
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.minWait <= 0 {
		c.minWait = DefaultMinWait
	}
	if c.maxWait < c.minWait {
		c.maxWait = max(DefaultMaxWait, c.minWait)
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Model returns the default model name
func (c *Client) Model() string { return c.model }

type wireChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    Role    `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason *string `json:"finish_reason"`
}

type wireCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *Usage       `json:"usage"`
}

// Complete runs a non-streaming completion and trims each choice's content
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var wire wireCompletion
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, upstream(fmt.Errorf("decode response: %w", err))
	}

	out := &ChatResponse{
		ID:       wire.ID,
		Object:   wire.Object,
		Created:  wire.Created,
		Provider: Provider,
		Model:    wire.Model,
		Choices:  make([]Choice, 0, len(wire.Choices)),
	}
	if wire.Usage != nil {
		out.Usage = *wire.Usage
	}
	for _, ch := range wire.Choices {
		if ch.Message.Content == nil {
			return nil, upstream(fmt.Errorf("choice %d has no content", ch.Index))
		}
		out.Choices = append(out.Choices, Choice{
			Index: ch.Index,
			Message: Message{
				Role:    ch.Message.Role,
				Content: strings.TrimSpace(*ch.Message.Content),
			},
			FinishReason: ch.FinishReason,
		})
	}
	return out, nil
}

// Stream starts a streaming completion. The caller must Close the stream.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	resp, err := c.send(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return newStream(resp.Body, c.model, time.Now), nil
}

// StreamRaw starts a streaming completion and returns the upstream SSE body
// untouched, for ReframeSSE. The caller must close it.
func (c *Client) StreamRaw(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	resp, err := c.send(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// send posts the request, retrying transport errors, 429 and 5xx.
// On success the caller owns resp.Body.
func (c *Client) send(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	if len(req.Messages) == 0 {
		return nil, upstream(errors.New("no messages"))
	}

	body, err := c.buildBody(req, stream)
	if err != nil {
		return nil, upstream(err)
	}
	endpoint, err := c.endpoint(req.ExtraQuery)
	if err != nil {
		return nil, upstream(err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.backoff(attempt - 1)
			c.logger.Warn("retrying chat completion",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", lastErr.Error()))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, upstream(err)
			}
		}

		resp, err := c.do(ctx, endpoint, body, req.ExtraHeaders, stream)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, upstream(lastErr)
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte, headers map[string]string, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	c.logger.Debug("chat completion",
		slog.Int("status", resp.StatusCode),
		slog.Bool("stream", stream),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

func (c *Client) buildBody(req ChatRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	p := c.params
	if req.Params != nil {
		p = *req.Params
	}

	body := make(map[string]any, 10+len(req.ExtraBody))
	for k, v := range req.ExtraBody {
		body[k] = v
	}
	body["model"] = model
	body["messages"] = req.Messages
	body["max_tokens"] = p.MaxTokens
	body["temperature"] = p.Temperature
	body["top_p"] = p.TopP
	body["frequency_penalty"] = p.FrequencyPenalty
	body["presence_penalty"] = p.PresencePenalty
	body["seed"] = p.Seed
	body["stream"] = stream

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return b, nil
}

func (c *Client) endpoint(query map[string]string) (string, error) {
	u, err := url.Parse(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// backoff draws a random wait in [minWait, min(maxWait, minWait*2^(n-1))]
// before retry n
func (c *Client) backoff(n int) time.Duration {
	high := float64(c.minWait) * math.Pow(2, float64(n-1))
	high = min(high, float64(c.maxWait))
	lo := float64(c.minWait)
	if high <= lo {
		return c.minWait
	}
	return time.Duration(lo + rand.Float64()*(high-lo))
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

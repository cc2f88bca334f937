// Package config loads codeqa settings from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/codeqa/internal/embedder"
	"github.com/dshills/codeqa/internal/llm"
	"github.com/dshills/codeqa/internal/searcher"
)

// DefaultFile is loaded when no path is given and it exists in the working directory
const DefaultFile = "codeqa.toml"

// Environment overrides, applied after the file
const (
	EnvDBPath    = "CODEQA_DB_PATH"
	EnvProject   = "CODEQA_PROJECT"
	EnvAddr      = "CODEQA_ADDR"
	EnvStaticDir = "CODEQA_STATIC_DIR"
	EnvLLMBase   = "CODEQA_LLM_BASE_URL"
	EnvLLMKey    = "CODEQA_LLM_API_KEY"
	EnvLLMModel  = "CODEQA_LLM_MODEL"
	EnvLogLevel  = "CODEQA_LOG_LEVEL"
	EnvLogFormat = "CODEQA_LOG_FORMAT"
	EnvLimit     = "CODEQA_SEARCH_LIMIT"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as "1m30s" in TOML
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the full application configuration
type Config struct {
	Server   Server   `toml:"server"`
	Storage  Storage  `toml:"storage"`
	Embedder Embedder `toml:"embedder"`
	LLM      LLM      `toml:"llm"`
	Search   Search   `toml:"search"`
	Log      Log      `toml:"log"`
}

type Server struct {
	Addr            string   `toml:"addr"`
	StaticDir       string   `toml:"static_dir"` // Frontend dist; empty disables static serving
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type Storage struct {
	DBPath  string `toml:"db_path"`
	Project string `toml:"project"`
}

type Embedder struct {
	Provider  string `toml:"provider"` // jina, openai or local; empty detects from API keys
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	Dimension int    `toml:"dimension"`
	CacheSize int    `toml:"cache_size"`
}

type LLM struct {
	BaseURL          string   `toml:"base_url"`
	APIKey           string   `toml:"api_key"`
	Model            string   `toml:"model"`
	Timeout          Duration `toml:"timeout"`
	MaxAttempts      int      `toml:"max_attempts"`
	MinWait          Duration `toml:"min_wait"`
	MaxWait          Duration `toml:"max_wait"`
	MaxTokens        int      `toml:"max_tokens"`
	Temperature      float64  `toml:"temperature"`
	TopP             float64  `toml:"top_p"`
	FrequencyPenalty float64  `toml:"frequency_penalty"`
	PresencePenalty  float64  `toml:"presence_penalty"`
	Seed             int      `toml:"seed"`
	Language         string   `toml:"language"` // Answer language named in the system prompt
}

type Search struct {
	Limit        int      `toml:"limit"`
	CacheSize    int      `toml:"cache_size"`
	CacheTTL     Duration `toml:"cache_ttl"`
	MinRelevance float64  `toml:"min_relevance"`
}

type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Default returns the built-in configuration
func Default() *Config {
	p := llm.DefaultParams()
	return &Config{
		Server: Server{
			Addr:            "0.0.0.0:8000",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: Storage{
			DBPath:  "codeqa.db",
			Project: "default",
		},
		Embedder: Embedder{
			CacheSize: embedder.DefaultCacheSize,
		},
		LLM: LLM{
			BaseURL:          llm.DefaultBaseURL,
			Model:            llm.DefaultModel,
			Timeout:          Duration(llm.DefaultTimeout),
			MaxAttempts:      llm.DefaultMaxAttempts,
			MinWait:          Duration(llm.DefaultMinWait),
			MaxWait:          Duration(llm.DefaultMaxWait),
			MaxTokens:        p.MaxTokens,
			Temperature:      p.Temperature,
			TopP:             p.TopP,
			FrequencyPenalty: p.FrequencyPenalty,
			PresencePenalty:  p.PresencePenalty,
			Seed:             p.Seed,
		},
		Search: Search{
			Limit:     searcher.DefaultLimit,
			CacheSize: searcher.DefaultCacheSize,
			CacheTTL:  Duration(searcher.DefaultCacheTTL),
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
// An empty path loads DefaultFile when it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CODEQA_* variables and provider API keys
func (c *Config) ApplyEnv() error {
	setString(&c.Storage.DBPath, EnvDBPath)
	setString(&c.Storage.Project, EnvProject)
	setString(&c.Server.Addr, EnvAddr)
	setString(&c.Server.StaticDir, EnvStaticDir)
	setString(&c.LLM.BaseURL, EnvLLMBase)
	setString(&c.LLM.APIKey, EnvLLMKey)
	setString(&c.LLM.Model, EnvLLMModel)
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Log.Format, EnvLogFormat)

	setString(&c.Embedder.Provider, embedder.EnvProvider)
	setString(&c.Embedder.BaseURL, embedder.EnvBaseURL)
	setString(&c.Embedder.Model, embedder.EnvModel)
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = embedder.DetectProvider()
	}
	c.Embedder.Provider = strings.ToLower(c.Embedder.Provider)
	if c.Embedder.APIKey == "" {
		switch c.Embedder.Provider {
		case embedder.ProviderJina:
			c.Embedder.APIKey = os.Getenv(embedder.EnvJinaAPIKey)
		case embedder.ProviderOpenAI:
			c.Embedder.APIKey = os.Getenv(embedder.EnvOpenAIAPIKey)
		}
	}

	if v := os.Getenv(EnvLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, EnvLimit, err)
		}
		c.Search.Limit = n
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Storage.DBPath != "", "storage.db_path cannot be empty")
	check(c.Storage.Project != "", "storage.project cannot be empty")

	switch c.Embedder.Provider {
	case embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderLocal:
	default:
		errs = append(errs, fmt.Errorf("embedder.provider %q is not one of jina, openai, local", c.Embedder.Provider))
	}
	check(c.Embedder.Dimension >= 0, "embedder.dimension must not be negative, got %d", c.Embedder.Dimension)

	check(c.LLM.BaseURL != "", "llm.base_url cannot be empty")
	check(c.LLM.MaxAttempts >= 1, "llm.max_attempts must be at least 1, got %d", c.LLM.MaxAttempts)
	check(c.LLM.MinWait >= 0 && c.LLM.MinWait <= c.LLM.MaxWait, "llm.min_wait must be between 0 and llm.max_wait")
	check(c.LLM.Timeout > 0, "llm.timeout must be positive")
	check(c.LLM.MaxTokens > 0, "llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature must be in [0, 2], got %g", c.LLM.Temperature)
	check(c.LLM.TopP > 0 && c.LLM.TopP <= 1, "llm.top_p must be in (0, 1], got %g", c.LLM.TopP)
	check(c.LLM.FrequencyPenalty >= -2 && c.LLM.FrequencyPenalty <= 2, "llm.frequency_penalty must be in [-2, 2]")
	check(c.LLM.PresencePenalty >= -2 && c.LLM.PresencePenalty <= 2, "llm.presence_penalty must be in [-2, 2]")

	check(c.Search.Limit >= 1 && c.Search.Limit <= searcher.MaxLimit,
		"search.limit must be between 1 and %d, got %d", searcher.MaxLimit, c.Search.Limit)
	check(c.Search.CacheSize >= 0, "search.cache_size must not be negative")
	check(c.Search.MinRelevance >= 0 && c.Search.MinRelevance <= 1, "search.min_relevance must be in [0, 1]")

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// EmbedderConfig returns the embedder factory settings
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedder.Provider,
		APIKey:    c.Embedder.APIKey,
		BaseURL:   c.Embedder.BaseURL,
		Model:     c.Embedder.Model,
		Dimension: c.Embedder.Dimension,
		CacheSize: c.Embedder.CacheSize,
	}
}

// LLMConfig returns the chat client settings
func (c *Config) LLMConfig(logger *slog.Logger) llm.Config {
	return llm.Config{
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Model:       c.LLM.Model,
		Timeout:     time.Duration(c.LLM.Timeout),
		MaxAttempts: c.LLM.MaxAttempts,
		MinWait:     time.Duration(c.LLM.MinWait),
		MaxWait:     time.Duration(c.LLM.MaxWait),
		Params: llm.Params{
			MaxTokens:        c.LLM.MaxTokens,
			Temperature:      c.LLM.Temperature,
			TopP:             c.LLM.TopP,
			FrequencyPenalty: c.LLM.FrequencyPenalty,
			PresencePenalty:  c.LLM.PresencePenalty,
			Seed:             c.LLM.Seed,
		},
		Logger: logger,
	}
}

// NewLogger builds the process logger writing to w
func NewLogger(cfg Log, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch cfg.Format {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("%w: log format %q", ErrInvalid, cfg.Format)
	}
	return slog.New(h), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}

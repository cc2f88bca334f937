package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeqa/internal/embedder"
	"github.com/dshills/codeqa/internal/llm"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvDBPath, EnvProject, EnvAddr, EnvStaticDir, EnvLLMBase, EnvLLMKey, EnvLLMModel,
		EnvLogLevel, EnvLogFormat, EnvLimit,
		embedder.EnvProvider, embedder.EnvBaseURL, embedder.EnvModel,
		embedder.EnvJinaAPIKey, embedder.EnvOpenAIAPIKey,
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codeqa.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	cfg.Embedder.Provider = embedder.ProviderLocal
	require.NoError(t, cfg.Validate())

	lc := cfg.LLMConfig(nil)
	assert.Equal(t, llm.DefaultParams(), lc.Params)
	assert.Equal(t, 60*time.Second, lc.Timeout)
	assert.Equal(t, 2, lc.MaxAttempts)
	assert.Equal(t, time.Second, lc.MinWait)
	assert.Equal(t, 3*time.Second, lc.MaxWait)
	assert.Empty(t, lc.APIKey)
	assert.Equal(t, 5, cfg.Search.Limit)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
[server]
addr = "127.0.0.1:9000"
static_dir = "frontend/dist"

[storage]
db_path = "/tmp/x.db"
project = "repo"

[llm]
model = "gpt-4o-mini"
timeout = "30s"
temperature = 0.0
language = "English"

[search]
limit = 8
cache_ttl = "1m"

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "frontend/dist", cfg.Server.StaticDir)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.DBPath)
	assert.Equal(t, "repo", cfg.Storage.Project)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, Duration(30*time.Second), cfg.LLM.Timeout)
	assert.Zero(t, cfg.LLM.Temperature)
	assert.Equal(t, 640, cfg.LLM.MaxTokens, "unset keys keep defaults")
	assert.Equal(t, "English", cfg.LLM.Language)
	assert.Equal(t, 8, cfg.Search.Limit)
	assert.Equal(t, Duration(time.Minute), cfg.Search.CacheTTL)
	assert.Equal(t, embedder.ProviderLocal, cfg.Embedder.Provider)
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDBPath, "/data/env.db")
	t.Setenv(EnvLLMKey, "llm-key")
	t.Setenv(EnvLimit, "12")
	t.Setenv(embedder.EnvOpenAIAPIKey, "sk-test")

	path := writeFile(t, "[storage]\ndb_path = \"/tmp/file.db\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/env.db", cfg.Storage.DBPath)
	assert.Equal(t, "llm-key", cfg.LLM.APIKey)
	assert.Equal(t, 12, cfg.Search.Limit)
	assert.Equal(t, embedder.ProviderOpenAI, cfg.Embedder.Provider)
	assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
	assert.Equal(t, "sk-test", cfg.EmbedderConfig().APIKey)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "bad toml", content: "[server\naddr = 1"},
		{name: "bad duration", content: "[llm]\ntimeout = \"soon\""},
		{name: "limit too large", content: "[search]\nlimit = 1000"},
		{name: "unknown provider", content: "[embedder]\nprovider = \"cohere\""},
		{name: "bad log level", content: "[log]\nlevel = \"loud\""},
		{name: "waits reversed", content: "[llm]\nmin_wait = \"5s\"\nmax_wait = \"1s\""},
		{name: "bad env limit", env: map[string]string{EnvLimit: "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "codeqa.db", cfg.Storage.DBPath)
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Embedder.Provider = embedder.ProviderLocal
	cfg.Storage.DBPath = ""
	cfg.LLM.TopP = 0

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "storage.db_path")
	assert.Contains(t, err.Error(), "llm.top_p")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Log{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = NewLogger(Log{Level: "info", Format: "xml"}, &buf)
	assert.Error(t, err)
}

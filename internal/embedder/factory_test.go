package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvProvider, EnvBaseURL, EnvModel, EnvJinaAPIKey, EnvOpenAIAPIKey} {
		t.Setenv(key, "")
	}
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		jinaKey   string
		openaiKey string
		want      string
	}{
		{"explicit jina", "jina", "", "", ProviderJina},
		{"explicit openai upper case", "OpenAI", "", "", ProviderOpenAI},
		{"explicit local beats keys", "local", "k", "k", ProviderLocal},
		{"jina key present", "", "k", "", ProviderJina},
		{"openai key present", "", "", "k", ProviderOpenAI},
		{"jina preferred over openai", "", "k", "k", ProviderJina},
		{"no configuration", "", "", "", ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvProvider, tt.provider)
			t.Setenv(EnvJinaAPIKey, tt.jinaKey)
			t.Setenv(EnvOpenAIAPIKey, tt.openaiKey)
			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Run("local provider without keys", func(t *testing.T) {
		clearEnv(t)
		emb, err := NewFromEnv()
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, emb.Provider())
	})

	t.Run("jina with key, model and base url", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvJinaAPIKey, "k")
		t.Setenv(EnvModel, "jina-code-v2")
		t.Setenv(EnvBaseURL, "http://localhost:9/v1")
		emb, err := NewFromEnv()
		require.NoError(t, err)
		assert.Equal(t, ProviderJina, emb.Provider())
		assert.Equal(t, "jina-code-v2", emb.Model())
	})

	t.Run("explicit openai without key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvProvider, "openai")
		_, err := NewFromEnv()
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("unknown provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvProvider, "bogus")
		_, err := NewFromEnv()
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantDim int
		wantErr error
	}{
		{"local", Config{Provider: "local"}, ProviderLocal, LocalDimension, nil},
		{"empty means local", Config{}, ProviderLocal, LocalDimension, nil},
		{"jina", Config{Provider: "jina", APIKey: "k", CacheSize: 5}, ProviderJina, JinaDimension, nil},
		{"openai", Config{Provider: "openai", APIKey: "k"}, ProviderOpenAI, OpenAIDimension, nil},
		{"openai custom dimension", Config{Provider: "openai", APIKey: "k", Dimension: 512}, ProviderOpenAI, 512, nil},
		{"jina without key", Config{Provider: "jina"}, "", 0, ErrNoProviderEnabled},
		{"unknown", Config{Provider: "cohere"}, "", 0, ErrUnsupportedModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer func() { _ = emb.Close() }()
			assert.Equal(t, tt.want, emb.Provider())
			assert.Equal(t, tt.wantDim, emb.Dimension())
		})
	}
}

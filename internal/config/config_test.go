package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/indexer"
)

// clearEnv isolates a test from provider keys set on the host
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		embedder.EnvProvider, embedder.EnvVoyageAPIKey, embedder.EnvOpenAIAPIKey,
		embedder.EnvJinaAPIKey, embedder.EnvOllamaURL,
	} {
		t.Setenv(key, "")
	}
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Store.WipeOnIndex)
	assert.False(t, strings.HasPrefix(cfg.Store.Path, "~"))
	assert.Equal(t, "code-vectors.db", filepath.Base(cfg.Store.Path))
	assert.Equal(t, indexer.DefaultExtensions, cfg.Index.Extensions)
	assert.Equal(t, indexer.DefaultExclude, cfg.Index.Exclude)
	assert.Equal(t, 800, cfg.Index.MaxChunkTokens)
	assert.Equal(t, 60, cfg.Index.WindowLines)
	assert.Equal(t, 10, cfg.Index.OverlapLines)
	assert.Equal(t, 128, cfg.Embedding.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Embedding.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, 50, cfg.Search.MaxLimit)
	assert.Equal(t, 3, cfg.Search.CandidateFactor)
	assert.Equal(t, "rerank-2", cfg.Search.RerankModel)

	assert.Empty(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "coderag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: json
store:
  path: /tmp/vectors.db
  wipe_on_index: false
index:
  extensions: [kt, java]
  include_hidden: true
embedding:
  provider: Ollama
  model: nomic-embed-text
  batch_size: 32
  timeout: 30s
retry:
  max_retries: 0
search:
  rerank: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/vectors.db", cfg.Store.Path)
	assert.False(t, cfg.Store.WipeOnIndex)
	assert.Equal(t, []string{"kt", "java"}, cfg.Index.Extensions)
	assert.True(t, cfg.Index.IncludeHidden)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Nil(t, cfg.EmbedderConfig().Retry)

	// Unset keys keep their defaults
	assert.Equal(t, indexer.DefaultExclude, cfg.Index.Exclude)
	assert.Equal(t, 50, cfg.Search.MaxLimit)

	// Rerank without a Voyage key is reported and disabled
	assert.True(t, hasWarning(cfg.Validate(), "rerank"))
	assert.Nil(t, cfg.Reranker())
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODERAG_STORE_PATH", "/data/index.db")
	t.Setenv("CODERAG_EMBEDDING_BATCH_SIZE", "16")
	t.Setenv("CODERAG_EMBEDDING_PROVIDER", "local")
	t.Setenv("CODERAG_INDEX_EXTENSIONS", "kt,kts")
	t.Setenv("CODERAG_RETRY_BASE_DELAY", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/data/index.db", cfg.Store.Path)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, []string{"kt", "kts"}, cfg.Index.Extensions)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string // substring of the expected warning, "" for none
	}{
		{"defaults", func(*Config) {}, ""},
		{"remote provider without key", func(c *Config) { c.Embedding.Provider = "voyage" }, "VOYAGEAI_API_KEY"},
		{"remote provider with key", func(c *Config) { c.Embedding.Provider = "openai"; c.Embedding.APIKey = "k" }, ""},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "acme" }, "unknown embedding provider"},
		{"batch size", func(c *Config) { c.Embedding.BatchSize = 0 }, "batch_size"},
		{"batch above provider limit", func(c *Config) {
			c.Embedding.Provider = "voyage"
			c.Embedding.APIKey = "k"
			c.Embedding.BatchSize = 500
		}, "exceeds the voyage limit of 128"},
		{"large batch for local", func(c *Config) { c.Embedding.Provider = "local"; c.Embedding.BatchSize = 500 }, ""},
		{"overlap", func(c *Config) { c.Index.OverlapLines = 60 }, "overlap_lines"},
		{"limits", func(c *Config) { c.Search.DefaultLimit = 80 }, "default_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			warnings := cfg.Validate()
			if tt.want == "" {
				assert.Empty(t, warnings)
				return
			}
			assert.True(t, hasWarning(warnings, tt.want), "warnings: %v", warnings)
		})
	}
}

func TestValidate_KeyFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(embedder.EnvJinaAPIKey, "jina-key")

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Embedding.Provider = "jina"
	assert.Empty(t, cfg.Validate())
}

func TestIndexerConfig_CapsBatchSize(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Embedding.BatchSize = 1000

	cfg.Embedding.Provider = "jina"
	assert.Equal(t, embedder.MaxBatchSize, cfg.IndexerConfig().BatchSize)

	cfg.Embedding.Provider = "openai"
	assert.Equal(t, 1000, cfg.IndexerConfig().BatchSize)

	cfg.Embedding.Provider = "local"
	assert.Equal(t, 1000, cfg.IndexerConfig().BatchSize)

	cfg.Embedding.Provider = "voyage"
	cfg.Embedding.BatchSize = 64
	assert.Equal(t, 64, cfg.IndexerConfig().BatchSize)
}

func TestEmbedderConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv(embedder.EnvVoyageAPIKey, "voyage-key")

	cfg, err := Load("")
	require.NoError(t, err)

	// Provider detected from the key
	ec := cfg.EmbedderConfig()
	assert.Equal(t, embedder.ProviderVoyage, ec.Provider)
	assert.Equal(t, "voyage-key", ec.APIKey)
	assert.Equal(t, 10000, ec.CacheSize)
	require.NotNil(t, ec.Retry)
	assert.Equal(t, 3, ec.Retry.MaxRetries)
	assert.InDelta(t, 2.0, ec.Retry.Multiplier, 1e-9)

	// An explicit key wins over the environment
	cfg.Embedding.APIKey = "configured"
	assert.Equal(t, "configured", cfg.EmbedderConfig().APIKey)

	// Ollama picks up its host
	t.Setenv(embedder.EnvOllamaURL, "http://gpu:11434")
	cfg.Embedding.Provider = "ollama"
	assert.Equal(t, "http://gpu:11434", cfg.EmbedderConfig().BaseURL)
}

func TestReranker(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Nil(t, cfg.Reranker(), "disabled by default")

	cfg.Search.Rerank = true
	assert.Nil(t, cfg.Reranker(), "no key")

	t.Setenv(embedder.EnvVoyageAPIKey, "voyage-key")
	assert.NotNil(t, cfg.Reranker())
}

func TestConversions(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Embedding.Model = "voyage-code-3"

	target := cfg.StoreTarget()
	assert.Equal(t, cfg.Store.Path, target.Path)
	assert.True(t, target.WipeOnInit)

	ic := cfg.IndexerConfig()
	assert.Equal(t, 128, ic.BatchSize)
	assert.Equal(t, "voyage-code-3", ic.Model)
	assert.Equal(t, cfg.Index.Extensions, ic.Extensions)

	co := cfg.ChunkerOptions()
	assert.Equal(t, 800, co.MaxTokens)
	assert.Equal(t, 60, co.WindowLines)

	so := cfg.SearcherOptions()
	assert.Equal(t, "voyage-code-3", so.Model)
	assert.Equal(t, 1000, so.CacheSize)

	assert.Nil(t, cfg.ClientOptions().Limiter)
	cfg.Embedding.RequestsPerSecond = 2
	cfg.Embedding.Burst = 0
	opts := cfg.ClientOptions()
	require.NotNil(t, opts.Limiter)
	assert.Equal(t, 1, opts.Limiter.Burst())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".coderag", "x.db"), expandHome("~/.coderag/x.db"))
	assert.Equal(t, "/abs/x.db", expandHome("/abs/x.db"))
	assert.Equal(t, "~user/x.db", expandHome("~user/x.db"))
	assert.Equal(t, "", expandHome(""))
}

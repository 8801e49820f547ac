package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/dshills/coderag/internal/chunker"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/searcher"
	"github.com/dshills/coderag/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. CODERAG_STORE_PATH
const EnvPrefix = "CODERAG"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Index     IndexConfig     `mapstructure:"index"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Search    SearchConfig    `mapstructure:"search"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Path        string `mapstructure:"path"`
	WipeOnIndex bool   `mapstructure:"wipe_on_index"`
}

type IndexConfig struct {
	Extensions     []string `mapstructure:"extensions"`
	Exclude        []string `mapstructure:"exclude"`
	IncludeHidden  bool     `mapstructure:"include_hidden"`
	MaxChunkTokens int      `mapstructure:"max_chunk_tokens"`
	WindowLines    int      `mapstructure:"window_lines"`
	OverlapLines   int      `mapstructure:"overlap_lines"`
}

type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"` // Empty selects by available API keys
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // 0 = unlimited
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	CacheSize         int           `mapstructure:"cache_size"`
	CachePath         string        `mapstructure:"cache_path"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"` // 0 disables retries
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
}

type SearchConfig struct {
	DefaultLimit    int    `mapstructure:"default_limit"`
	MaxLimit        int    `mapstructure:"max_limit"`
	Rerank          bool   `mapstructure:"rerank"`
	RerankModel     string `mapstructure:"rerank_model"`
	CandidateFactor int    `mapstructure:"candidate_factor"`
	CacheSize       int    `mapstructure:"cache_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.path", "~/.coderag/code-vectors.db")
	v.SetDefault("store.wipe_on_index", true)

	v.SetDefault("index.extensions", indexer.DefaultExtensions)
	v.SetDefault("index.exclude", indexer.DefaultExclude)
	v.SetDefault("index.include_hidden", false)
	v.SetDefault("index.max_chunk_tokens", chunker.DefaultMaxTokens)
	v.SetDefault("index.window_lines", chunker.DefaultWindowLines)
	v.SetDefault("index.overlap_lines", chunker.DefaultOverlapLines)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.batch_size", embedder.DefaultBatchSize)
	v.SetDefault("embedding.concurrency", 1)
	v.SetDefault("embedding.requests_per_second", 0)
	v.SetDefault("embedding.burst", 1)
	v.SetDefault("embedding.timeout", 2*time.Minute)
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.cache_path", "")

	v.SetDefault("retry.max_retries", embedder.MaxRetries)
	v.SetDefault("retry.base_delay", time.Duration(embedder.InitialBackoffMs)*time.Millisecond)
	v.SetDefault("retry.max_delay", time.Duration(embedder.MaxBackoffMs)*time.Millisecond)
	v.SetDefault("retry.multiplier", embedder.BackoffMultiplier)

	v.SetDefault("search.default_limit", searcher.DefaultLimit)
	v.SetDefault("search.max_limit", searcher.DefaultMaxLimit)
	v.SetDefault("search.rerank", false)
	v.SetDefault("search.rerank_model", embedder.DefaultRerankModel)
	v.SetDefault("search.candidate_factor", searcher.DefaultCandidateFactor)
	v.SetDefault("search.cache_size", searcher.DefaultCacheSize)
}

// Load reads configuration from defaults, the optional file at path and
// CODERAG_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Embedding.CachePath = expandHome(cfg.Embedding.CachePath)
	cfg.Embedding.Provider = strings.ToLower(cfg.Embedding.Provider)

	return &cfg, nil
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	provider := c.provider()
	switch provider {
	case embedder.ProviderVoyage, embedder.ProviderOpenAI, embedder.ProviderJina:
		if c.Embedding.APIKey == "" && os.Getenv(embedder.APIKeyEnv(provider)) == "" {
			warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but neither api_key nor %s is set", provider, embedder.APIKeyEnv(provider)))
		}
	case embedder.ProviderOllama, embedder.ProviderLocal:
	default:
		warnings = append(warnings, fmt.Sprintf("unknown embedding provider '%s'", provider))
	}

	if c.Embedding.BatchSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("embedding batch_size %d is not positive; using %d", c.Embedding.BatchSize, embedder.DefaultBatchSize))
	}
	if limit := embedder.MaxBatchFor(provider); limit > 0 && c.Embedding.BatchSize > limit {
		warnings = append(warnings, fmt.Sprintf("embedding batch_size %d exceeds the %s limit of %d; using %d", c.Embedding.BatchSize, provider, limit, limit))
	}

	if c.Index.OverlapLines >= c.Index.WindowLines {
		warnings = append(warnings, fmt.Sprintf("index overlap_lines %d must be smaller than window_lines %d; overlap disabled", c.Index.OverlapLines, c.Index.WindowLines))
	}

	if c.Search.DefaultLimit > c.Search.MaxLimit {
		warnings = append(warnings, fmt.Sprintf("search default_limit %d exceeds max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit))
	}

	if c.Search.Rerank && c.voyageKey() == "" {
		warnings = append(warnings, fmt.Sprintf("search rerank is enabled but %s is not set; results will not be reranked", embedder.EnvVoyageAPIKey))
	}

	return warnings
}

// StoreTarget returns the vector store location for index runs
func (c *Config) StoreTarget() storage.Target {
	return storage.Target{Path: c.Store.Path, WipeOnInit: c.Store.WipeOnIndex}
}

// ChunkerOptions returns chunk sizing
func (c *Config) ChunkerOptions() chunker.Options {
	return chunker.Options{
		MaxTokens:    c.Index.MaxChunkTokens,
		WindowLines:  c.Index.WindowLines,
		OverlapLines: c.Index.OverlapLines,
	}
}

// IndexerConfig returns file selection and batching for the indexer. The
// batch size is capped at the provider's per-request limit.
func (c *Config) IndexerConfig() indexer.Config {
	batch := c.Embedding.BatchSize
	if limit := embedder.MaxBatchFor(c.provider()); limit > 0 && batch > limit {
		batch = limit
	}
	return indexer.Config{
		Extensions:    c.Index.Extensions,
		Exclude:       c.Index.Exclude,
		IncludeHidden: c.Index.IncludeHidden,
		BatchSize:     batch,
		Model:         c.Embedding.Model,
	}
}

// provider is the configured provider, or the one the environment selects
func (c *Config) provider() string {
	if c.Embedding.Provider != "" {
		return c.Embedding.Provider
	}
	return embedder.DetectProvider()
}

// EmbedderConfig resolves the provider and its credentials. The API key
// falls back to the provider's usual environment variable.
func (c *Config) EmbedderConfig() embedder.Config {
	provider := c.provider()

	cfg := embedder.Config{
		Provider:  provider,
		APIKey:    c.Embedding.APIKey,
		BaseURL:   c.Embedding.BaseURL,
		Model:     c.Embedding.Model,
		Timeout:   c.Embedding.Timeout,
		CacheSize: c.Embedding.CacheSize,
		CachePath: c.Embedding.CachePath,
	}
	if cfg.APIKey == "" {
		if env := embedder.APIKeyEnv(provider); env != "" {
			cfg.APIKey = os.Getenv(env)
		}
	}
	if provider == embedder.ProviderOllama && cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv(embedder.EnvOllamaURL)
	}
	if c.Retry.MaxRetries > 0 {
		cfg.Retry = &embedder.RetryConfig{
			MaxRetries: c.Retry.MaxRetries,
			BaseDelay:  c.Retry.BaseDelay,
			MaxDelay:   c.Retry.MaxDelay,
			Multiplier: c.Retry.Multiplier,
		}
	}
	return cfg
}

// ClientOptions returns batch dispatch settings, including the rate limiter
func (c *Config) ClientOptions() embedder.ClientOptions {
	opts := embedder.ClientOptions{Concurrency: c.Embedding.Concurrency}
	if c.Embedding.RequestsPerSecond > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(c.Embedding.RequestsPerSecond), max(c.Embedding.Burst, 1))
	}
	return opts
}

// SearcherOptions returns query settings; the reranker is attached separately
func (c *Config) SearcherOptions() searcher.Options {
	return searcher.Options{
		Model:           c.Embedding.Model,
		DefaultLimit:    c.Search.DefaultLimit,
		MaxLimit:        c.Search.MaxLimit,
		CandidateFactor: c.Search.CandidateFactor,
		CacheSize:       c.Search.CacheSize,
	}
}

// Reranker returns the Voyage reranker when reranking is enabled and a key
// is available, or nil.
func (c *Config) Reranker() embedder.Reranker {
	key := c.voyageKey()
	if !c.Search.Rerank || key == "" {
		return nil
	}
	r, err := embedder.NewVoyageReranker(key, c.Search.RerankModel)
	if err != nil {
		return nil
	}
	return r
}

func (c *Config) voyageKey() string {
	if c.Embedding.Provider == embedder.ProviderVoyage && c.Embedding.APIKey != "" {
		return c.Embedding.APIKey
	}
	return os.Getenv(embedder.EnvVoyageAPIKey)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

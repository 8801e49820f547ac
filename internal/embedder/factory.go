package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment variables read by NewFromEnv
const (
	EnvProvider     = "CODERAG_EMBEDDING_PROVIDER"
	EnvVoyageAPIKey = "VOYAGEAI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOllamaURL    = "OLLAMA_HOST"
)

// Config holds embedder configuration
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string // Overrides the provider endpoint
	Model    string
	Timeout  time.Duration

	// CacheSize bounds the in-memory LRU; 0 disables it
	CacheSize int

	// CachePath, when set, adds a persistent bbolt cache behind the LRU
	CachePath string

	// Retry, when non-nil, wraps the provider with backoff retries
	Retry *RetryConfig
}

// New creates an embedder with explicit configuration. The returned
// embedder's Close releases the provider and any disk cache.
func New(cfg Config) (Embedder, error) {
	base, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	var e Embedder = base
	if cfg.Retry != nil {
		e = NewRetryEmbedder(e, *cfg.Retry)
	}

	var cache VectorCache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}
	if cfg.CachePath != "" {
		disk, err := OpenDiskCache(cfg.CachePath)
		if err != nil {
			_ = base.Close()
			return nil, err
		}
		if cache != nil {
			cache = NewTieredCache(cache, disk)
		} else {
			cache = disk
		}
	}
	if cache != nil {
		e = NewCachedEmbedder(e, cache)
	}

	return e, nil
}

func newProvider(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderVoyage:
		if cfg.BaseURL != "" {
			return newCustomHTTP(cfg, ProviderVoyage, DefaultVoyageModel, VoyageDimension, MaxBatchSize)
		}
		return NewVoyageProvider(cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		if cfg.BaseURL != "" {
			return newCustomHTTP(cfg, ProviderOpenAI, DefaultOpenAIModel, OpenAIDimension, OpenAIMaxBatch)
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model)
	case ProviderJina:
		if cfg.BaseURL != "" {
			return newCustomHTTP(cfg, ProviderJina, DefaultJinaModel, JinaDimension, MaxBatchSize)
		}
		return NewJinaProvider(cfg.APIKey, cfg.Model)
	case ProviderOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	case ProviderLocal, "":
		return NewLocalProvider()
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// newCustomHTTP points a hosted provider at a proxy or test server
func newCustomHTTP(cfg Config, name, defaultModel string, dim, maxBatch int) (*HTTPProvider, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return NewHTTPProvider(HTTPConfig{
		Provider:  name,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     model,
		Dimension: dim,
		MaxBatch:  maxBatch,
		Timeout:   cfg.Timeout,
	})
}

// NewFromEnv creates an embedder based on environment variables.
// Priority:
// 1. CODERAG_EMBEDDING_PROVIDER (voyage, openai, jina, ollama, local)
// 2. The first API key found: VOYAGEAI_API_KEY, OPENAI_API_KEY, JINA_API_KEY
// 3. The local provider
func NewFromEnv() (Embedder, error) {
	provider := DetectProvider()

	cfg := Config{
		Provider:  provider,
		CacheSize: 10000,
	}
	switch provider {
	case ProviderVoyage:
		cfg.APIKey = os.Getenv(EnvVoyageAPIKey)
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	case ProviderJina:
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	case ProviderOllama:
		cfg.BaseURL = os.Getenv(EnvOllamaURL)
	}

	return New(cfg)
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}

	switch {
	case os.Getenv(EnvVoyageAPIKey) != "":
		return ProviderVoyage
	case os.Getenv(EnvOpenAIAPIKey) != "":
		return ProviderOpenAI
	case os.Getenv(EnvJinaAPIKey) != "":
		return ProviderJina
	}

	return ProviderLocal
}

// MaxBatchFor returns the most texts provider accepts per request, or 0 when
// it has no limit.
func MaxBatchFor(provider string) int {
	switch strings.ToLower(provider) {
	case ProviderVoyage, ProviderJina:
		return MaxBatchSize
	case ProviderOpenAI:
		return OpenAIMaxBatch
	}
	return 0
}

// APIKeyEnv returns the environment variable holding provider's key, or ""
// for providers that need none.
func APIKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderVoyage:
		return EnvVoyageAPIKey
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	case ProviderJina:
		return EnvJinaAPIKey
	}
	return ""
}

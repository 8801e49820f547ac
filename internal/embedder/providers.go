package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provider configuration
const (
	ProviderVoyage = "voyage"
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default models
	DefaultVoyageModel = "voyage-code-3"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultLocalModel  = "local-hash"

	// Endpoints
	VoyageBaseURL = "https://api.voyageai.com/v1"
	JinaBaseURL   = "https://api.jina.ai/v1"
	OpenAIBaseURL = "https://api.openai.com/v1"
	OllamaBaseURL = "http://localhost:11434"

	// Dimensions
	VoyageDimension = 1024
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 128
	MaxBatchSize     = 128
	OpenAIMaxBatch   = 2048

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 1000
	MaxBackoffMs      = 30000
	BackoffMultiplier = 2.0

	DefaultTimeout = 60 * time.Second
)

// newHTTPClient returns a traced HTTP client
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// postJSON sends body to url and decodes a 2xx JSON answer into out.
// Non-2xx answers and undecodable payloads become *ServiceError.
func postJSON(ctx context.Context, client *http.Client, provider, url, apiKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s api call: %w", ErrProviderFailed, provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &ServiceError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Provider: provider, StatusCode: resp.StatusCode, Body: fmt.Sprintf("decode response: %v", err)}
	}

	return nil
}

// HTTPConfig configures an OpenAI-compatible embeddings endpoint
type HTTPConfig struct {
	Provider  string
	BaseURL   string // Without the trailing /embeddings
	APIKey    string
	Model     string
	Dimension int
	MaxBatch  int
	Timeout   time.Duration
}

// HTTPProvider implements Embedder for services speaking the
// POST {base}/embeddings {input, model} -> {data[{embedding, index}]} format
// (Voyage AI, OpenAI, Jina AI).
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	maxBatch   int
	httpClient *http.Client
}

// NewHTTPProvider creates an embedder for an OpenAI-compatible endpoint
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required for %s", ErrInvalidInput, cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required for %s", ErrUnsupportedModel, cfg.Provider)
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = MaxBatchSize
	}

	return &HTTPProvider{
		name:       cfg.Provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxBatch:   cfg.MaxBatch,
		httpClient: newHTTPClient(cfg.Timeout),
	}, nil
}

// NewVoyageProvider creates a Voyage AI embedder
func NewVoyageProvider(apiKey, model string) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvVoyageAPIKey)
	}
	if model == "" {
		model = DefaultVoyageModel
	}
	return NewHTTPProvider(HTTPConfig{
		Provider:  ProviderVoyage,
		BaseURL:   VoyageBaseURL,
		APIKey:    apiKey,
		Model:     model,
		Dimension: VoyageDimension,
		MaxBatch:  MaxBatchSize,
	})
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey, model string) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return NewHTTPProvider(HTTPConfig{
		Provider:  ProviderOpenAI,
		BaseURL:   OpenAIBaseURL,
		APIKey:    apiKey,
		Model:     model,
		Dimension: OpenAIDimension,
		MaxBatch:  OpenAIMaxBatch,
	})
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey, model string) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	if model == "" {
		model = DefaultJinaModel
	}
	return NewHTTPProvider(HTTPConfig{
		Provider:  ProviderJina,
		BaseURL:   JinaBaseURL,
		APIKey:    apiKey,
		Model:     model,
		Dimension: JinaDimension,
		MaxBatch:  MaxBatchSize,
	})
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	return resp.Embeddings[0], nil
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > p.maxBatch {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, p.maxBatch)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	embeddings, err := p.callAPI(ctx, req.Texts, model)
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      model,
	}, nil
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := postJSON(ctx, p.httpClient, p.name, p.baseURL+"/embeddings", p.apiKey, reqBody, &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Data) != len(texts) {
		return nil, &ServiceError{
			Provider: p.name,
			Body:     fmt.Sprintf("%v: got %d embeddings for %d texts", ErrCountMismatch, len(apiResp.Data), len(texts)),
		}
	}

	// Services may answer out of order; index is authoritative.
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		if data.Index != i || len(data.Embedding) == 0 {
			return nil, &ServiceError{Provider: p.name, Body: fmt.Sprintf("invalid embedding at index %d", data.Index)}
		}
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     model,
		}
	}

	return embeddings, nil
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.name
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// OllamaProvider implements Embedder using a local Ollama server
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaProvider creates an Ollama embedder
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = OllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: newHTTPClient(DefaultTimeout),
	}, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	reqBody := map[string]interface{}{
		"model": model,
		"input": req.Texts,
	}

	var apiResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := postJSON(ctx, o.httpClient, ProviderOllama, o.baseURL+"/api/embed", "", reqBody, &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Embeddings) != len(req.Texts) {
		return nil, &ServiceError{
			Provider: ProviderOllama,
			Body:     fmt.Sprintf("%v: got %d embeddings for %d texts", ErrCountMismatch, len(apiResp.Embeddings), len(req.Texts)),
		}
	}

	embeddings := make([]*Embedding, len(apiResp.Embeddings))
	for i, vec := range apiResp.Embeddings {
		embeddings[i] = &Embedding{
			Vector:    vec,
			Dimension: len(vec),
			Provider:  ProviderOllama,
			Model:     model,
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      model,
	}, nil
}

func (o *OllamaProvider) Dimension() int {
	return OllamaDimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider produces deterministic feature-hashed vectors without any
// network access. Texts sharing identifiers land close together, which is
// enough for offline indexing and tests.
type LocalProvider struct {
	model     string
	dimension int
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider() (*LocalProvider, error) {
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: LocalDimension,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Embedding{
		Vector:    l.vectorize(req.Text),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      ComputeHash(req.Text),
	}, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

// vectorize hashes lower-cased word tokens into signed buckets and
// normalizes the result to unit length.
func (l *LocalProvider) vectorize(text string) []float32 {
	vector := make([]float32, l.dimension)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.LittleEndian.Uint32(sum[0:4]) % uint32(l.dimension)
		if sum[4]&1 == 0 {
			vector[idx]++
		} else {
			vector[idx]--
		}
	}

	return NormalizeVector(vector)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}

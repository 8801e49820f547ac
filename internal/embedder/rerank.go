package embedder

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// DefaultRerankModel is the Voyage AI reranker used when none is configured
const DefaultRerankModel = "rerank-2"

// RerankResult scores one input document against a query
type RerankResult struct {
	Index          int // Position in the documents slice
	RelevanceScore float64
}

// Reranker reorders candidate documents by relevance to a query
type Reranker interface {
	// Rerank returns at most topK results, most relevant first
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
}

// VoyageReranker calls the Voyage AI rerank endpoint
type VoyageReranker struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewVoyageReranker creates a Voyage AI reranker
func NewVoyageReranker(apiKey, model string) (*VoyageReranker, error) {
	return NewVoyageRerankerWithURL(VoyageBaseURL, apiKey, model)
}

// NewVoyageRerankerWithURL creates a reranker against a custom endpoint
func NewVoyageRerankerWithURL(baseURL, apiKey, model string) (*VoyageReranker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvVoyageAPIKey)
	}
	if model == "" {
		model = DefaultRerankModel
	}
	return &VoyageReranker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: newHTTPClient(DefaultTimeout),
	}, nil
}

func (v *VoyageReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	reqBody := map[string]interface{}{
		"query":     query,
		"documents": documents,
		"model":     v.model,
		"top_k":     topK,
	}

	type scored struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	}
	var apiResp struct {
		Data    []scored `json:"data"`
		Results []scored `json:"results"`
	}

	if err := postJSON(ctx, v.httpClient, ProviderVoyage, v.baseURL+"/rerank", v.apiKey, reqBody, &apiResp); err != nil {
		return nil, err
	}

	items := apiResp.Data
	if len(items) == 0 {
		items = apiResp.Results
	}

	results := make([]RerankResult, 0, len(items))
	for _, it := range items {
		if it.Index < 0 || it.Index >= len(documents) {
			return nil, &ServiceError{Provider: ProviderVoyage, Body: fmt.Sprintf("rerank index %d out of range", it.Index)}
		}
		results = append(results, RerankResult{Index: it.Index, RelevanceScore: it.RelevanceScore})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Close releases idle connections
func (v *VoyageReranker) Close() error {
	v.httpClient.CloseIdleConnections()
	return nil
}

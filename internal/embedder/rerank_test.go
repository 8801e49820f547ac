package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoyageReranker(t *testing.T) {
	var got struct {
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
		Model     string   `json:"model"`
		TopK      int      `json:"top_k"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[
			{"index":2,"relevance_score":0.4},
			{"index":0,"relevance_score":0.9}
		]}`))
	}))
	defer server.Close()

	r, err := NewVoyageRerankerWithURL(server.URL, "key", "")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	results, err := r.Rerank(context.Background(), "weather widget", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)

	assert.Equal(t, "weather widget", got.Query)
	assert.Equal(t, DefaultRerankModel, got.Model)
	assert.Equal(t, 2, got.TopK)
	assert.Equal(t, []RerankResult{{Index: 0, RelevanceScore: 0.9}, {Index: 2, RelevanceScore: 0.4}}, results)
}

func TestVoyageReranker_ResultsField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.7}]}`))
	}))
	defer server.Close()

	r, err := NewVoyageRerankerWithURL(server.URL, "key", "")
	require.NoError(t, err)

	results, err := r.Rerank(context.Background(), "q", []string{"a", "b"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []RerankResult{{Index: 1, RelevanceScore: 0.7}}, results)
}

func TestVoyageReranker_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":5,"relevance_score":0.7}]}`))
	}))
	defer server.Close()

	_, err := NewVoyageRerankerWithURL(server.URL, "", "")
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	r, err := NewVoyageRerankerWithURL(server.URL, "key", "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Rerank(ctx, "q", []string{"a"}, 1)
	assert.ErrorIs(t, err, ErrProviderFailed)

	_, err = r.Rerank(ctx, "  ", []string{"a"}, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	results, err := r.Rerank(ctx, "q", nil, 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

package searcher

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/storage"
	"github.com/dshills/coderag/pkg/types"
)

// mockEmbedder maps known texts to fixed vectors
type mockEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   atomic.Int32
	model   atomic.Value
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(_ context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.calls.Add(1)
	m.model.Store(req.Model)
	if m.err != nil {
		return nil, m.err
	}
	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		v, ok := m.vectors[text]
		if !ok {
			v = []float32{0, 0, 1}
		}
		embeddings[i] = &embedder.Embedding{Vector: v, Dimension: len(v), Provider: "mock", Model: "mock-model"}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: "mock-model"}, nil
}

func (m *mockEmbedder) Dimension() int   { return 3 }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "mock-model" }
func (m *mockEmbedder) Close() error     { return nil }

// reverseReranker scores documents in reverse input order
type reverseReranker struct {
	docs []string
	err  error
}

func (r *reverseReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]embedder.RerankResult, error) {
	r.docs = documents
	if r.err != nil {
		return nil, r.err
	}
	out := make([]embedder.RerankResult, 0, len(documents))
	for i := len(documents) - 1; i >= 0; i-- {
		out = append(out, embedder.RerankResult{Index: i, RelevanceScore: 0.9 - 0.1*float64(len(out))})
	}
	return out[:min(topK, len(out))], nil
}

func testItem(name string, kind types.ChunkType, vector ...float32) storage.Item {
	return storage.Item{
		Chunk: types.Chunk{
			FilePath:  "app/src/" + name + ".kt",
			StartLine: 1,
			EndLine:   3,
			ChunkType: kind,
			Name:      name,
			Content:   types.ContextHeader("app/src/"+name+".kt", "") + "fun " + name + "() {}",
		},
		Vector: vector,
	}
}

func setupTestSearcher(t *testing.T, opts Options) (*Searcher, *mockEmbedder) {
	t.Helper()

	store, err := storage.Open(context.Background(), storage.Target{Path: storage.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Insert(context.Background(), []storage.Item{
		testItem("alpha", types.ChunkFunction, 1, 0, 0),
		testItem("beta", types.ChunkFunction, 0, 1, 0),
		testItem("alphaish", types.ChunkMethod, 0.9, 0.1, 0),
		testItem("gamma", types.ChunkClass, 0, 0, 1),
	}))

	emb := &mockEmbedder{vectors: map[string][]float32{
		"find alpha": {1, 0, 0},
		"find beta":  {0, 1, 0},
	}}
	return New(embedder.NewClient(emb, embedder.ClientOptions{}), store, opts), emb
}

func names(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Name
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, nil, Options{})
	assert.Equal(t, DefaultLimit, s.opts.DefaultLimit)
	assert.Equal(t, DefaultMaxLimit, s.opts.MaxLimit)
	assert.Equal(t, DefaultCandidateFactor, s.opts.CandidateFactor)
	assert.NotNil(t, s.cache)

	s = New(nil, nil, Options{CacheSize: -1, MaxLimit: 3, DefaultLimit: 10})
	assert.Nil(t, s.cache)
	assert.Equal(t, 3, s.opts.DefaultLimit)
}

func TestSearch_RanksByDistance(t *testing.T) {
	s, emb := setupTestSearcher(t, Options{Model: "code-model"})

	resp, err := s.Search(context.Background(), Request{Query: "  find alpha ", Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "alphaish", "beta"}, names(resp.Results))
	assert.False(t, resp.CacheHit)
	assert.False(t, resp.Reranked)
	assert.Equal(t, "code-model", emb.model.Load())

	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.NoError(t, r.Validate())
		assert.InDelta(t, 1-r.Distance, r.RelevanceScore, 1e-9)
	}
	assert.InDelta(t, 0, resp.Results[0].Distance, 1e-6)
	assert.InDelta(t, 1, resp.Results[2].Distance, 1e-6)
	assert.Equal(t, int64(1), resp.Results[0].ID)
}

func TestSearch_DefaultLimit(t *testing.T) {
	s, _ := setupTestSearcher(t, Options{DefaultLimit: 2})

	resp, err := s.Search(context.Background(), Request{Query: "find beta"})
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "alphaish"}, names(resp.Results))
}

func TestSearch_Validation(t *testing.T) {
	s, emb := setupTestSearcher(t, Options{MaxLimit: 10})

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"empty query", Request{Query: ""}, ErrEmptyQuery},
		{"blank query", Request{Query: " \n\t"}, ErrEmptyQuery},
		{"negative limit", Request{Query: "x", Limit: -1}, ErrInvalidLimit},
		{"limit too large", Request{Query: "x", Limit: 11}, ErrInvalidLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, emb.calls.Load())
}

func TestSearch_Filters(t *testing.T) {
	s, _ := setupTestSearcher(t, Options{})

	resp, err := s.Search(context.Background(), Request{
		Query:   "find alpha",
		Limit:   5,
		Filters: &storage.SearchFilters{ChunkTypes: []types.ChunkType{types.ChunkMethod, types.ChunkClass}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alphaish", "gamma"}, names(resp.Results))
}

func TestSearch_Cache(t *testing.T) {
	s, emb := setupTestSearcher(t, Options{})
	ctx := context.Background()
	req := Request{Query: "find alpha", Limit: 2}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	first.Results[0].Chunk.Name = "mutated"

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, []string{"alpha", "alphaish"}, names(second.Results))
	assert.EqualValues(t, 1, emb.calls.Load())

	// A different limit is a different entry
	_, err = s.Search(ctx, Request{Query: "find alpha", Limit: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 2, emb.calls.Load())

	s.Invalidate()
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.EqualValues(t, 3, emb.calls.Load())
}

func TestSearch_CacheDisabled(t *testing.T) {
	s, emb := setupTestSearcher(t, Options{CacheSize: -1})
	ctx := context.Background()

	for range 2 {
		resp, err := s.Search(ctx, Request{Query: "find alpha", Limit: 1})
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	}
	assert.EqualValues(t, 2, emb.calls.Load())
}

func TestCacheKey(t *testing.T) {
	base := Request{Query: "q", Limit: 5}
	withTypes := func(ts ...types.ChunkType) Request {
		r := base
		r.Filters = &storage.SearchFilters{ChunkTypes: ts}
		return r
	}

	assert.Equal(t, cacheKey(base, false), cacheKey(base, false))
	assert.NotEqual(t, cacheKey(base, false), cacheKey(base, true))
	assert.NotEqual(t, cacheKey(base, false), cacheKey(Request{Query: "q", Limit: 6}, false))
	assert.NotEqual(t, cacheKey(base, false), cacheKey(withTypes(types.ChunkClass), false))
	assert.Equal(t,
		cacheKey(withTypes(types.ChunkClass, types.ChunkMethod), false),
		cacheKey(withTypes(types.ChunkMethod, types.ChunkClass), false))

	pattern := base
	pattern.Filters = &storage.SearchFilters{FilePattern: "*.kt"}
	name := base
	name.Filters = &storage.SearchFilters{NameContains: "*.kt"}
	assert.NotEqual(t, cacheKey(pattern, false), cacheKey(name, false))
}

func TestSearch_Rerank(t *testing.T) {
	reranker := &reverseReranker{}
	s, _ := setupTestSearcher(t, Options{Reranker: reranker, CandidateFactor: 3})

	resp, err := s.Search(context.Background(), Request{Query: "find alpha", Limit: 1, Rerank: true})
	require.NoError(t, err)
	assert.True(t, resp.Reranked)

	// Three candidates fetched for one result, the last one wins
	require.Len(t, reranker.docs, 3)
	assert.Contains(t, reranker.docs[0], "fun alpha()")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "beta", resp.Results[0].Chunk.Name)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.InDelta(t, 0.9, resp.Results[0].RelevanceScore, 1e-9)
	assert.InDelta(t, 1, resp.Results[0].Distance, 1e-6)
}

func TestSearch_RerankWithoutReranker(t *testing.T) {
	s, _ := setupTestSearcher(t, Options{})

	resp, err := s.Search(context.Background(), Request{Query: "find alpha", Limit: 1, Rerank: true})
	require.NoError(t, err)
	assert.False(t, resp.Reranked)
	assert.Equal(t, []string{"alpha"}, names(resp.Results))
}

func TestSearch_RerankError(t *testing.T) {
	s, _ := setupTestSearcher(t, Options{Reranker: &reverseReranker{err: errors.New("rerank down")}})

	_, err := s.Search(context.Background(), Request{Query: "find alpha", Limit: 2, Rerank: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rerank down")
}

func TestSearch_EmbedderError(t *testing.T) {
	s, emb := setupTestSearcher(t, Options{})
	emb.err = &embedder.ServiceError{Provider: "mock", StatusCode: 503, Body: "unavailable"}

	_, err := s.Search(context.Background(), Request{Query: "find alpha"})
	assert.ErrorIs(t, err, embedder.ErrProviderFailed)
	assert.Contains(t, err.Error(), "failed to generate query embedding")
}

func TestSearch_EmptyStore(t *testing.T) {
	store, err := storage.Open(context.Background(), storage.Target{Path: storage.MemoryPath})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	s := New(embedder.NewClient(&mockEmbedder{}, embedder.ClientOptions{}), store, Options{})
	resp, err := s.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSetStore(t *testing.T) {
	emb := &mockEmbedder{}
	s := New(embedder.NewClient(emb, embedder.ClientOptions{}), nil, Options{})

	_, err := s.Search(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrNoStore)

	store, err := storage.Open(context.Background(), storage.Target{Path: storage.MemoryPath})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Insert(context.Background(), []storage.Item{testItem("gamma", types.ChunkClass, 0, 0, 1)}))

	s.SetStore(store)
	resp, err := s.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, names(resp.Results))
}

func TestCopyResponse(t *testing.T) {
	src := &Response{Results: []types.SearchResult{{ID: 1, Rank: 1}}, Reranked: true}
	dst := copyResponse(src)
	dst.Results[0].ID = 99

	assert.Equal(t, int64(1), src.Results[0].ID)
	assert.True(t, dst.Reranked)
	assert.False(t, slices.Equal(src.Results, dst.Results))
}

func BenchmarkSearch(b *testing.B) {
	store, err := storage.Open(context.Background(), storage.Target{Path: storage.MemoryPath})
	require.NoError(b, err)
	defer func() { _ = store.Close() }()

	items := make([]storage.Item, 2000)
	for i := range items {
		items[i] = testItem("fn", types.ChunkFunction, float32(i%7), float32(i%11), float32(i%13)+1)
	}
	require.NoError(b, store.Insert(context.Background(), items))

	s := New(embedder.NewClient(&mockEmbedder{}, embedder.ClientOptions{}), store, Options{CacheSize: -1})
	for b.Loop() {
		_, err := s.Search(context.Background(), Request{Query: "q", Limit: 10})
		require.NoError(b, err)
	}
}

func BenchmarkCacheKey(b *testing.B) {
	req := Request{Query: "how are users loaded", Limit: 10, Filters: &storage.SearchFilters{
		ChunkTypes:  []types.ChunkType{types.ChunkMethod, types.ChunkFunction},
		FilePattern: "*/data/*",
	}}
	for b.Loop() {
		_ = cacheKey(req, true)
	}
}

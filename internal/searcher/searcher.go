package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/storage"
	"github.com/dshills/coderag/pkg/types"
)

var (
	// ErrEmptyQuery is returned for blank queries
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrInvalidLimit is returned when the limit is outside [1, MaxLimit]
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrNoStore is returned when no store is attached
	ErrNoStore = errors.New("no store attached")
)

// Defaults used when Options leaves a field zero
const (
	DefaultLimit           = 5
	DefaultMaxLimit        = 50
	DefaultCandidateFactor = 3
	DefaultCacheSize       = 1000
)

// Request contains parameters for a search operation
type Request struct {
	Query   string
	Limit   int // 0 selects the default limit
	Rerank  bool
	Filters *storage.SearchFilters
}

// Response contains search results and metadata
type Response struct {
	Results  []types.SearchResult
	Reranked bool
	CacheHit bool
	Duration time.Duration
}

// Options configures a Searcher
type Options struct {
	Model           string // Must match the model used at index time
	DefaultLimit    int
	MaxLimit        int
	CandidateFactor int // Neighbours fetched per requested result when reranking
	CacheSize       int // Cached responses; negative disables the cache

	Reranker embedder.Reranker // Optional
	Logger   *slog.Logger
}

// Searcher answers natural-language queries against an indexed store
type Searcher struct {
	client *embedder.Client
	opts   Options
	logger *slog.Logger

	mu    sync.RWMutex
	store storage.Store

	cache *lru.Cache[[32]byte, *Response]
}

// New creates a Searcher over store. store may be nil and attached later
// with SetStore.
func New(client *embedder.Client, store storage.Store, opts Options) *Searcher {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	opts.DefaultLimit = min(opts.DefaultLimit, opts.MaxLimit)
	if opts.CandidateFactor <= 0 {
		opts.CandidateFactor = DefaultCandidateFactor
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = DefaultCacheSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Searcher{
		client: client,
		opts:   opts,
		logger: logger,
		store:  store,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[[32]byte, *Response](opts.CacheSize)
		if err != nil {
			// Only fails for non-positive sizes
			panic(fmt.Sprintf("failed to create LRU cache: %v", err))
		}
		s.cache = cache
	}
	return s
}

// SetStore swaps the attached store and drops cached responses. The
// caller owns both stores; the previous one is not closed.
func (s *Searcher) SetStore(store storage.Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
	s.Invalidate()
}

// Invalidate drops all cached responses. Call it after every index run.
func (s *Searcher) Invalidate() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// Search embeds the query with the indexing model and returns the nearest
// chunks, optionally reordered by the reranker.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	rerank := req.Rerank && s.opts.Reranker != nil

	key := cacheKey(req, rerank)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			resp := copyResponse(cached)
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp, nil
		}
	}

	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return nil, ErrNoStore
	}

	vectors, err := s.client.Embed(ctx, []string{req.Query}, s.opts.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	fetch := req.Limit
	if rerank {
		fetch = req.Limit * s.opts.CandidateFactor
	}

	neighbours, err := store.SearchSimilarFiltered(ctx, vectors[0], fetch, req.Filters)
	if err != nil {
		return nil, err
	}

	var results []types.SearchResult
	if rerank && len(neighbours) > 0 {
		results, err = s.rerank(ctx, req, neighbours)
		if err != nil {
			return nil, err
		}
	} else {
		results = rankByDistance(neighbours, req.Limit)
	}

	resp := &Response{
		Results:  results,
		Reranked: rerank,
		Duration: time.Since(start),
	}
	s.logger.Debug("search completed", "query", req.Query, "results", len(results), "reranked", rerank, "duration", resp.Duration)

	if s.cache != nil {
		s.cache.Add(key, copyResponse(resp))
	}
	return resp, nil
}

func (s *Searcher) normalize(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Limit == 0 {
		req.Limit = s.opts.DefaultLimit
	}
	if req.Limit < 1 || req.Limit > s.opts.MaxLimit {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLimit, req.Limit, s.opts.MaxLimit)
	}
	return nil
}

func (s *Searcher) rerank(ctx context.Context, req Request, neighbours []storage.SimilarityResult) ([]types.SearchResult, error) {
	docs := make([]string, len(neighbours))
	for i := range neighbours {
		docs[i] = neighbours[i].Chunk.Content
	}

	scored, err := s.opts.Reranker.Rerank(ctx, req.Query, docs, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	results := make([]types.SearchResult, 0, min(len(scored), req.Limit))
	for _, sc := range scored {
		if len(results) == req.Limit {
			break
		}
		n := neighbours[sc.Index]
		results = append(results, types.SearchResult{
			ID:             n.ID,
			Rank:           len(results) + 1,
			Distance:       n.Distance,
			RelevanceScore: min(max(sc.RelevanceScore, 0), 1),
			Chunk:          n.Chunk,
		})
	}
	return results, nil
}

// rankByDistance keeps the store's order and derives relevance from distance
func rankByDistance(neighbours []storage.SimilarityResult, limit int) []types.SearchResult {
	n := min(len(neighbours), limit)
	results := make([]types.SearchResult, n)
	for i := range n {
		results[i] = types.SearchResult{
			ID:             neighbours[i].ID,
			Rank:           i + 1,
			Distance:       neighbours[i].Distance,
			RelevanceScore: neighbours[i].Relevance(),
			Chunk:          neighbours[i].Chunk,
		}
	}
	return results
}

// copyResponse copies the result slice so cached entries can't be
// modified through a returned response. Chunks hold only strings, so a
// value copy is enough.
func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = slices.Clone(src.Results)
	return &dst
}

// cacheKey hashes every request field that affects the result
func cacheKey(req Request, rerank bool) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.Limit))
	data.WriteString("|")
	data.WriteString(strconv.FormatBool(rerank))

	if req.Filters != nil {
		chunkTypes := make([]string, len(req.Filters.ChunkTypes))
		for i, t := range req.Filters.ChunkTypes {
			chunkTypes[i] = string(t)
		}
		slices.Sort(chunkTypes)

		data.WriteString("|filters:")
		data.WriteString(strings.Join(chunkTypes, ","))
		data.WriteString("|")
		data.WriteString(req.Filters.FilePattern)
		data.WriteString("|")
		data.WriteString(req.Filters.NameContains)
	}

	return sha256.Sum256([]byte(data.String()))
}

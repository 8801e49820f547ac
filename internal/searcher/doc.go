// Package searcher answers natural-language queries against an indexed
// vector store.
//
// # Basic Usage
//
//	s := searcher.New(client, store, searcher.Options{Model: "voyage-code-3"})
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query: "where are users loaded from the API",
//	    Limit: 5,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s %s:%d (relevance %.2f)\n",
//	        r.Rank, r.Chunk.Name, r.Chunk.FilePath, r.Chunk.StartLine, r.RelevanceScore)
//	}
//
// The query is embedded with the same model used at index time and the
// store's nearest neighbours are returned in ascending cosine distance.
// Relevance is 1 - distance clamped to [0, 1].
//
// # Reranking
//
// When Options.Reranker is set and a request asks for it, the searcher
// fetches Limit * CandidateFactor neighbours and lets the reranker pick and
// order the final Limit. Relevance then comes from the reranker score.
//
// # Caching
//
// Responses are kept in an LRU keyed by a SHA-256 of the query, limit,
// rerank flag and filters. The cache is not aware of index runs: call
// Invalidate (or SetStore) after re-indexing.
package searcher

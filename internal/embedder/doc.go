// Package embedder turns chunk text into vectors using a remote or local
// embedding service.
//
// Providers implement Embedder and make exactly one service call per
// GenerateBatch. Everything else is layered on top:
//
//   - Client splits large inputs into batches, reports progress and keeps
//     output order aligned with input order.
//   - RetryEmbedder adds exponential backoff for transient failures. It is
//     opt-in; providers never retry on their own.
//   - CachedEmbedder serves repeated texts from an LRU (Cache), a bbolt file
//     (DiskCache) or both (TieredCache).
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider: embedder.ProviderVoyage,
//	    APIKey:   os.Getenv(embedder.EnvVoyageAPIKey),
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	client := embedder.NewClient(emb, embedder.ClientOptions{})
//	vectors, err := client.EmbedBatched(ctx, texts, "", 128, func(done, total int) {
//	    slog.Info("embedding", "done", done, "total", total)
//	})
//
// # Provider Selection
//
// NewFromEnv picks a provider in this order:
//
//  1. CODERAG_EMBEDDING_PROVIDER, when set
//  2. VOYAGEAI_API_KEY, OPENAI_API_KEY, JINA_API_KEY, first one present
//  3. The local provider, which needs no network
//
// # Errors
//
// Failures reported by a service are *ServiceError values carrying the HTTP
// status. Both those and transport failures match ErrProviderFailed:
//
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // service unavailable or returned garbage
//	}
package embedder

package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ProgressFunc is called after each completed batch with the number of
// texts embedded so far and the total.
type ProgressFunc func(processed, total int)

// ClientOptions configures batch dispatch
type ClientOptions struct {
	// Concurrency is the number of batches in flight. Values <= 1 dispatch
	// batches strictly one after another.
	Concurrency int

	// Limiter, when set, is waited on before every provider call
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Client splits large inputs into provider-sized batches
type Client struct {
	embedder Embedder
	opts     ClientOptions
	logger   *slog.Logger
}

// NewClient wraps an embedder with batching
func NewClient(e Embedder, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		embedder: e,
		opts:     opts,
		logger:   logger,
	}
}

// Embedder returns the wrapped embedder
func (c *Client) Embedder() Embedder {
	return c.embedder
}

// Embed embeds texts with one provider call. The result has one vector per
// input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return c.call(ctx, texts, model)
}

// EmbedBatched embeds texts in consecutive batches of at most batchSize.
// onProgress, when non-nil, runs after every completed batch with a
// monotonically increasing processed count. Any batch failure aborts the
// whole call and no partial result is returned.
func (c *Client) EmbedBatched(ctx context.Context, texts []string, model string, batchSize int, onProgress ProgressFunc) ([][]float32, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}

	total := len(texts)
	if total == 0 {
		return [][]float32{}, nil
	}

	batches := partition(total, batchSize)
	if c.opts.Concurrency <= 1 || len(batches) == 1 {
		return c.embedSequential(ctx, texts, model, batches, onProgress)
	}
	return c.embedConcurrent(ctx, texts, model, batches, onProgress)
}

func (c *Client) embedSequential(ctx context.Context, texts []string, model string, batches [][2]int, onProgress ProgressFunc) ([][]float32, error) {
	total := len(texts)
	out := make([][]float32, 0, total)

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vectors, err := c.call(ctx, texts[b[0]:b[1]], model)
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
		out = append(out, vectors...)

		c.logger.Debug("embedded batch", "batch", i+1, "batches", len(batches), "processed", len(out), "total", total)
		if onProgress != nil {
			onProgress(len(out), total)
		}
	}

	return out, nil
}

// embedConcurrent keeps several batches in flight but writes each result
// into its own slot so output order never depends on completion order.
func (c *Client) embedConcurrent(ctx context.Context, texts []string, model string, batches [][2]int, onProgress ProgressFunc) ([][]float32, error) {
	total := len(texts)
	slots := make([][][]float32, len(batches))
	done := make(chan int, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	// Progress is reported from a single goroutine so counts stay monotonic.
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		processed := 0
		for n := range done {
			processed += n
			if onProgress != nil {
				onProgress(processed, total)
			}
		}
	}()

	for i, b := range batches {
		g.Go(func() error {
			vectors, err := c.call(gctx, texts[b[0]:b[1]], model)
			if err != nil {
				return fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
			}
			slots[i] = vectors
			done <- len(vectors)
			return nil
		})
	}

	err := g.Wait()
	close(done)
	<-progressDone
	if err != nil {
		return nil, err
	}

	out := make([][]float32, 0, total)
	for _, s := range slots {
		out = append(out, s...)
	}
	return out, nil
}

// call performs one rate-limited provider call and checks the result shape
func (c *Client) call(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts, Model: model})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &ServiceError{
			Provider: c.embedder.Provider(),
			Body:     fmt.Sprintf("%v: got %d embeddings for %d texts", ErrCountMismatch, len(resp.Embeddings), len(texts)),
		}
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Vector
	}
	return vectors, nil
}

// partition splits [0, total) into consecutive [start, end) ranges of at
// most size elements.
func partition(total, size int) [][2]int {
	batches := make([][2]int, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		batches = append(batches, [2]int{start, min(start+size, total)})
	}
	return batches
}

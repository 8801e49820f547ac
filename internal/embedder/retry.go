package embedder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // Maximum number of attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns sensible defaults for API retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// retryWithBackoff executes a function with exponential backoff retry logic.
// Errors that isRetryable rejects are returned immediately, as is context
// cancellation.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay

	attempts := max(config.MaxRetries, 1)
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if !isRetryable(err) {
			return zero, err
		}

		// Apply exponential backoff before next retry
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if config.MaxDelay > 0 && backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// isRetryable determines if an error should trigger a retry
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Caller cancelled
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Invalid requests never succeed on retry
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrEmptyText) || errors.Is(err, ErrBatchTooLarge) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		switch {
		case svcErr.StatusCode == http.StatusTooManyRequests:
			return true
		case svcErr.StatusCode >= 500:
			return true
		case svcErr.StatusCode >= 400:
			return false
		}
		// Malformed payloads from a healthy service are worth one more try
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Transport failures such as connection resets
	return errors.Is(err, ErrProviderFailed)
}

// RetryEmbedder wraps an Embedder with exponential backoff retries.
// Retries are opt-in: the providers themselves never retry.
type RetryEmbedder struct {
	Embedder
	config RetryConfig
}

// NewRetryEmbedder wraps inner with retry logic
func NewRetryEmbedder(inner Embedder, config RetryConfig) *RetryEmbedder {
	return &RetryEmbedder{
		Embedder: inner,
		config:   config,
	}
}

func (r *RetryEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return retryWithBackoff(ctx, r.config, func() (*Embedding, error) {
		return r.Embedder.GenerateEmbedding(ctx, req)
	})
}

func (r *RetryEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return retryWithBackoff(ctx, r.config, func() (*BatchEmbeddingResponse, error) {
		return r.Embedder.GenerateBatch(ctx, req)
	})
}

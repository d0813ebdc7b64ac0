// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must satisfy,
// enabling text-to-vector conversion for similarity search.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrTimeout indicates that the provider did not answer before the deadline.
var ErrTimeout = errors.New("embedding timed out")

// Provider defines the interface for embedding providers.
//
// All embedding implementations (local hashing, OpenAI, etc.) must implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// This method is more efficient than calling Embed multiple times,
	// as it can batch process requests.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// EmbedWithTimeout runs p.Embed in its own goroutine and gives up after d.
//
// On timeout the provider call is cancelled through its context and ErrTimeout
// is returned immediately, without waiting for the provider to return.
// A non-positive d only honours ctx.
func EmbedWithTimeout(ctx context.Context, p Provider, text string, d time.Duration) ([]float64, error) {
	return withTimeout(ctx, d, func(ctx context.Context) ([]float64, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatchWithTimeout is EmbedWithTimeout for p.EmbedBatch. It also
// rejects a provider answer that does not hold one vector per text.
func EmbedBatchWithTimeout(ctx context.Context, p Provider, texts []string, d time.Duration) ([][]float64, error) {
	vecs, err := withTimeout(ctx, d, func(ctx context.Context) ([][]float64, error) {
		return p.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

func withTimeout[T any](ctx context.Context, d time.Duration, call func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := call(ctx)
		done <- result{val: val, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return r.val, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}

// Normalize scales v to unit length in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

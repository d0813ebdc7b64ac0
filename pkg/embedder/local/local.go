// Package local provides an offline, deterministic embedding provider.
package local

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/cognisphere/hybridmem-go/pkg/embedder"
)

// DefaultDimensions matches common small sentence-embedding models.
const DefaultDimensions = 384

// Embedder maps text to a bag-of-tokens vector using feature hashing.
//
// Every lower-cased alphanumeric token adds weight to one bucket chosen by
// its FNV-1a hash, and the result is scaled to unit length. All weights are
// non-negative, so two texts sharing a token always have positive similarity.
// Text without tokens embeds to the zero vector.
type Embedder struct {
	dimensions int
}

// New creates a local embedder. Non-positive dimensions use DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Tokens splits text into lower-cased alphanumeric tokens.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Embed returns the hashed embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, e.dimensions)
	for _, tok := range Tokens(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum64()%uint64(e.dimensions)] += 1
	}
	return embedder.Normalize(vec), nil
}

// EmbedBatch embeds each text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *Embedder) Close() error {
	return nil
}

package local_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/embedder/local"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

func TestEmbed_DeterministicUnitVectors(t *testing.T) {
	ctx := context.Background()
	e := local.New(64)
	assert.Equal(t, 64, e.Dimensions())

	a, err := e.Embed(ctx, "Agent traded food for energy.")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "agent traded food for energy")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, vector.Dot(a, a), 1e-9)
}

func TestEmbed_SharedTokensArePositive(t *testing.T) {
	ctx := context.Background()
	e := local.New(0)
	assert.Equal(t, local.DefaultDimensions, e.Dimensions())

	doc, err := e.Embed(ctx, "agent traded food for energy")
	require.NoError(t, err)
	query, err := e.Embed(ctx, "traded energy")
	require.NoError(t, err)
	assert.Greater(t, vector.Dot(doc, query), 0.0)
}

func TestEmbed_EmptyTextIsZero(t *testing.T) {
	e := local.New(8)
	vec, err := e.Embed(context.Background(), " ... ")
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 8), vec)
}

func TestEmbed_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := local.New(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedBatch(t *testing.T) {
	e := local.New(16)
	out, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	one, _ := e.Embed(context.Background(), "one")
	assert.Equal(t, one, out[0])
	assert.NoError(t, e.Close())
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, local.Tokens("Hello, WORLD! 42"))
}

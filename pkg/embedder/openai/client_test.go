package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/embedder/openai"
)

func fakeServer(t *testing.T, vectors [][]float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		data := make([]map[string]interface{}, len(vectors))
		for i, v := range vectors {
			data[i] = map[string]interface{}{"object": "embedding", "index": i, "embedding": v}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-ada-002",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := openai.NewClient(&openai.Config{})
	assert.Error(t, err)
}

func TestEmbed_NormalizesResponse(t *testing.T) {
	srv := fakeServer(t, [][]float32{{3, 4}})
	c, err := openai.NewClient(&openai.Config{APIKey: "test", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Dimensions())

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, vec, 1e-6)
	assert.NoError(t, c.Close())
}

func TestEmbed_RejectsWrongDimensions(t *testing.T) {
	srv := fakeServer(t, [][]float32{{1, 0, 0}})
	c, err := openai.NewClient(&openai.Config{APIKey: "test", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := fakeServer(t, [][]float32{{1, 0}})
	c, err := openai.NewClient(&openai.Config{APIKey: "test", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)

	_, err = c.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		name string
		want sdk.EmbeddingModel
	}{
		{"", sdk.AdaEmbeddingV2},
		{"text-embedding-ada-002", sdk.AdaEmbeddingV2},
		{"text-search-babbage-doc-001", sdk.BabbageSearchDocument},
	}
	for _, tt := range tests {
		got, err := openai.ParseModel(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := openai.ParseModel("no-such-model")
	assert.ErrorIs(t, err, openai.ErrUnknownModel)
}

func TestNewClient_UnknownModel(t *testing.T) {
	_, err := openai.NewClient(&openai.Config{APIKey: "test", Model: "no-such-model"})
	assert.ErrorIs(t, err, openai.ErrUnknownModel)
}

// Package openai provides an embedding provider backed by the OpenAI Embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cognisphere/hybridmem-go/pkg/embedder"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "text-embedding-ada-002"

// ErrUnknownModel is returned for a model name the SDK has no enum value for.
var ErrUnknownModel = errors.New("openai embedder: unknown embedding model")

// ParseModel maps a model name such as "text-embedding-ada-002" onto the SDK
// enum. An empty name selects AdaEmbeddingV2.
func ParseModel(name string) (openai.EmbeddingModel, error) {
	if name == "" {
		return openai.AdaEmbeddingV2, nil
	}
	var model openai.EmbeddingModel
	if err := model.UnmarshalText([]byte(name)); err != nil {
		return openai.Unknown, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	if model == openai.Unknown {
		return openai.Unknown, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return model, nil
}

// Client is an OpenAI Embedder client.
// It implements the embedder.Provider interface. Returned vectors are scaled
// to unit length so inner products equal cosine similarity.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for OpenAI Embedder.
// APIKey: OpenAI API key (required)
// Model: embedding model name, defaults to text-embedding-ada-002
// BaseURL: API base URL, defaults to OpenAI official address; any
// OpenAI-compatible endpoint works
// Dimensions: vector dimensions, defaults to 1536
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient creates a new OpenAI Embedder client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model, err := ParseModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536 // Default dimension for AdaEmbeddingV2
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts multiple texts to vectors in batch.
// The order of the result matches the order of texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from OpenAI API (got %d, expected %d)", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding generation failed: result index %d out of range", data.Index)
		}
		if len(data.Embedding) != c.dimensions {
			return nil, fmt.Errorf("embedding generation failed: got %d dimensions, expected %d", len(data.Embedding), c.dimensions)
		}
		embedding64 := make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			embedding64[j] = float64(v)
		}
		embeddings[data.Index] = embedder.Normalize(embedding64)
	}

	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is retained for interface compatibility; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}

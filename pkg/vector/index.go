// Package vector provides nearest-neighbor retrieval over content embeddings.
//
// Backends implement the Index interface and are selected at construction
// time through NewIndex. All backends score by inner product, which equals
// cosine similarity for the unit-length embeddings produced by the embedders.
package vector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates an unknown entry id.
	ErrNotFound = errors.New("vector: entry not found")

	// ErrDimensionMismatch indicates an embedding whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")

	// ErrBackendUnavailable indicates that a backend could not be initialized.
	ErrBackendUnavailable = errors.New("vector: backend unavailable")

	// ErrInvalidInput indicates a malformed entry.
	ErrInvalidInput = errors.New("vector: invalid input")
)

// Well-known metadata keys.
const (
	MetaGraphNodeID = "graph_node_id"
	MetaAgentID     = "agent_id"
)

// Entry is an embedded piece of memory content.
type Entry struct {
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	Embedding      []float64         `json:"embedding"`
	Kind           string            `json:"kind"`
	Importance     float64           `json:"importance"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	AccessCount    int               `json:"access_count"`
}

// GraphNodeID returns the linked graph node id, if any.
func (e Entry) GraphNodeID() string {
	return e.Metadata[MetaGraphNodeID]
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() Entry {
	c := *e
	c.Embedding = append([]float64(nil), e.Embedding...)
	c.Metadata = make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		c.Metadata[k] = v
	}
	return c
}

// Hit is a search result.
type Hit struct {
	Entry Entry
	Score float64
}

// Update lists the fields to change on an entry. Nil fields are left alone;
// Metadata is merged into the existing map.
type Update struct {
	Content    *string
	Embedding  []float64
	Kind       *string
	Importance *float64
	Metadata   map[string]string
}

// Stats describes the state of an index.
type Stats struct {
	Backend    string `json:"backend"`
	Dimension  int    `json:"dimension"`
	Entries    int    `json:"entries"`
	Tombstones int    `json:"tombstones"`
	Trained    bool   `json:"trained"`
	Lists      int    `json:"lists,omitempty"`
}

// Index is the capability every vector backend provides.
type Index interface {
	// Add stores an entry and returns its id, generating one when empty.
	// It fails with ErrDimensionMismatch and leaves the index unchanged when
	// the embedding length differs from Dimension.
	Add(ctx context.Context, entry *Entry) (string, error)

	// Search returns up to k entries ordered by descending score, ties broken
	// by insertion order. When kinds are given only those kinds match.
	Search(ctx context.Context, query []float64, k int, kinds ...string) ([]Hit, error)

	// Get returns a copy of an entry.
	Get(id string) (Entry, error)

	// Update changes selected fields of an entry.
	Update(ctx context.Context, id string, u Update) error

	// Remove deletes an entry so it never appears in later results.
	Remove(ctx context.Context, id string) error

	// Touch records an access.
	Touch(id string) error

	// All returns copies of every live entry in insertion order.
	All() []Entry

	Len() int
	Dimension() int
	Stats() Stats
	Close() error
}

// Backend names accepted by NewIndex.
const (
	BackendFlat    = "flat"
	BackendIVF     = "ivf"
	BackendChromem = "chromem"
)

// Config selects and tunes a backend.
type Config struct {
	// Backend is one of flat, ivf or chromem.
	Backend string `json:"backend"`

	// Dimension is the embedding length every entry must have.
	Dimension int `json:"dimension"`

	// MinTrainSize is the corpus size at which the ivf backend trains its
	// coarse quantizer. Below it searches are exhaustive.
	MinTrainSize int `json:"min_train_size"`

	// Nlist is the number of ivf clusters.
	Nlist int `json:"nlist"`

	// Nprobe is the number of ivf clusters scanned per query.
	Nprobe int `json:"nprobe"`

	// RebuildThreshold is the number of ivf tombstones that triggers a rebuild.
	RebuildThreshold int `json:"rebuild_threshold"`

	// Collection names the chromem collection.
	Collection string `json:"collection"`

	// NodeNumber is the snowflake node number for generated ids.
	NodeNumber int64 `json:"-"`

	// Clock overrides time.Now for timestamps.
	Clock func() time.Time `json:"-"`
}

// DefaultConfig returns a flat index configuration for the given dimension.
func DefaultConfig(dimension int) Config {
	return Config{
		Backend:          BackendFlat,
		Dimension:        dimension,
		MinTrainSize:     256,
		Nlist:            16,
		Nprobe:           4,
		RebuildThreshold: 64,
		Collection:       "memories",
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	def := DefaultConfig(c.Dimension)
	if out.MinTrainSize <= 0 {
		out.MinTrainSize = def.MinTrainSize
	}
	if out.Nlist <= 0 {
		out.Nlist = def.Nlist
	}
	if out.Nprobe <= 0 {
		out.Nprobe = def.Nprobe
	}
	if out.Nprobe > out.Nlist {
		out.Nprobe = out.Nlist
	}
	if out.RebuildThreshold <= 0 {
		out.RebuildThreshold = def.RebuildThreshold
	}
	if out.Collection == "" {
		out.Collection = def.Collection
	}
	if out.NodeNumber == 0 {
		out.NodeNumber = 2
	}
	if out.Clock == nil {
		out.Clock = func() time.Time { return time.Now().UTC() }
	}
	return out
}

// NewIndex builds the configured backend. Unknown backends and backends that
// fail to start return ErrBackendUnavailable; callers usually fall back to
// NewFlat in that case.
func NewIndex(cfg Config) (Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidInput, cfg.Dimension)
	}
	c := cfg.withDefaults()

	switch c.Backend {
	case "", BackendFlat:
		return newFlat(c)
	case BackendIVF:
		return newIVF(c)
	case BackendChromem:
		idx, err := newChromem(c)
		if err != nil {
			return nil, fmt.Errorf("%w: chromem: %v", ErrBackendUnavailable, err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, c.Backend)
	}
}

// NewFlat builds an exhaustive-scan index.
func NewFlat(dimension int) (Index, error) {
	cfg := DefaultConfig(dimension)
	return NewIndex(cfg)
}

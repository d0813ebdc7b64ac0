package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cognisphere/hybridmem-go/pkg/embedder"
)

// MemoryOption is a function type for configuring memory writes.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type MemoryOption func(*MemoryOptions)

// MemoryOptions contains the optional fields of a memory write.
type MemoryOptions struct {
	// Valence is the emotional polarity in [-1, 1].
	Valence float64

	// Arousal is the emotional intensity in [0, 1].
	Arousal float64

	// Metadata is copied to both the graph node and the vector entry.
	Metadata map[string]string

	// DecayRate overrides the configured node decay rate when set.
	DecayRate *float64

	// Accessibility overrides the initial accessibility when set.
	Accessibility *float64
}

// WithValence sets the emotional polarity of the memory.
//
// Example:
//
//	mgr.AddEpisodicMemory(ctx, "lost the harvest", "a1", 0.7, core.WithValence(-0.8))
func WithValence(v float64) MemoryOption {
	return func(opts *MemoryOptions) {
		opts.Valence = v
	}
}

// WithArousal sets the emotional intensity of the memory.
func WithArousal(a float64) MemoryOption {
	return func(opts *MemoryOptions) {
		opts.Arousal = a
	}
}

// WithMetadata adds metadata to the memory. Later calls merge over earlier ones.
//
// Example:
//
//	mgr.AddSemanticMemory(ctx, "wheat grows in spring", "a1", 0.6,
//	    core.WithMetadata(map[string]string{"source": "observation"}))
func WithMetadata(metadata map[string]string) MemoryOption {
	return func(opts *MemoryOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// WithDecayRate overrides the per-hour accessibility decay of the memory.
func WithDecayRate(rate float64) MemoryOption {
	return func(opts *MemoryOptions) {
		opts.DecayRate = &rate
	}
}

// WithAccessibility overrides the initial accessibility of the memory.
func WithAccessibility(a float64) MemoryOption {
	return func(opts *MemoryOptions) {
		opts.Accessibility = &a
	}
}

func applyMemoryOptions(opts []MemoryOption) *MemoryOptions {
	o := &MemoryOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	logger   *zerolog.Logger
	embedder embedder.Provider
	registry *prometheus.Registry
	clock    func() time.Time
}

// WithLogger sets the logger. The default is a zerolog logger built from
// Config.Logging.
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = &l
	}
}

// WithEmbedder injects an embedding provider instead of building one from
// Config.Embedder.
func WithEmbedder(p embedder.Provider) ManagerOption {
	return func(o *managerOptions) {
		o.embedder = p
	}
}

// WithRegistry registers the manager metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) ManagerOption {
	return func(o *managerOptions) {
		o.registry = reg
	}
}

// WithClock replaces the wall clock used for timestamps and cleanup ages.
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		o.clock = now
	}
}

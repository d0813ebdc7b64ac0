package core_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/core"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

func TestDefaultConfig(t *testing.T) {
	cfg := core.DefaultConfig()

	assert.Equal(t, "local", cfg.Embedder.Provider)
	assert.Equal(t, 384, cfg.Embedder.Dimensions)
	assert.Equal(t, vector.BackendFlat, cfg.VectorIndex.Backend)
	assert.Equal(t, 1000, cfg.Cache.Capacity)
	assert.InDelta(t, 0.01, cfg.Decay.NodeRate, 1e-12)
	assert.InDelta(t, 0.005, cfg.Decay.EdgeRate, 1e-12)
	assert.Equal(t, 30*24*time.Hour, cfg.Cleanup.MaxAge)
	assert.Equal(t, "@every 10m", cfg.Maintenance.Schedule)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HYBRIDMEM_GRAPH_ID", "village")
	t.Setenv("HYBRIDMEM_VECTOR_BACKEND", "ivf")
	t.Setenv("HYBRIDMEM_IVF_NLIST", "32")
	t.Setenv("HYBRIDMEM_CACHE_CAPACITY", "50")
	t.Setenv("HYBRIDMEM_EMBEDDER_TIMEOUT", "2s")
	t.Setenv("HYBRIDMEM_NODE_DECAY_RATE", "0.02")
	t.Setenv("HYBRIDMEM_MAINTENANCE_ENABLED", "true")
	t.Setenv("HYBRIDMEM_STORAGE_PROVIDER", "postgres")
	t.Setenv("HYBRIDMEM_DB_PASSWORD", "secret")

	cfg, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "village", cfg.GraphID)
	assert.Equal(t, vector.BackendIVF, cfg.VectorIndex.Backend)
	assert.Equal(t, 32, cfg.VectorIndex.Nlist)
	assert.Equal(t, 50, cfg.Cache.Capacity)
	assert.Equal(t, 2*time.Second, cfg.Embedder.Timeout)
	assert.InDelta(t, 0.02, cfg.Decay.NodeRate, 1e-12)
	assert.True(t, cfg.Maintenance.Enabled)
	assert.Equal(t, "postgres", cfg.Storage.Provider)
	assert.Equal(t, "localhost", cfg.Storage.Host)
	assert.Equal(t, 5432, cfg.Storage.Port)
	assert.Equal(t, "secret", cfg.Storage.Password)
}

func TestLoadConfigFromEnv_MalformedNumber(t *testing.T) {
	t.Setenv("HYBRIDMEM_CACHE_CAPACITY", "lots")

	_, err := core.LoadConfigFromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "HYBRIDMEM_CACHE_CAPACITY")
}

func TestLoadConfigFromJSON_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"graph_id": "village",
		"vector_index": {"backend": "ivf", "nprobe": 8},
		"cache": {"capacity": 20}
	}`), 0o644))

	cfg, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "village", cfg.GraphID)
	assert.Equal(t, vector.BackendIVF, cfg.VectorIndex.Backend)
	assert.Equal(t, 8, cfg.VectorIndex.Nprobe)
	assert.Equal(t, 16, cfg.VectorIndex.Nlist)
	assert.Equal(t, 20, cfg.Cache.Capacity)
	assert.Equal(t, 384, cfg.Embedder.Dimensions)
}

func TestLoadConfigFromJSON_MissingFile(t *testing.T) {
	_, err := core.LoadConfigFromJSON(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.Config)
	}{
		{"unknown embedder", func(c *core.Config) { c.Embedder.Provider = "word2vec" }},
		{"zero dimension", func(c *core.Config) { c.Embedder.Dimensions = 0 }},
		{"unknown backend", func(c *core.Config) { c.VectorIndex.Backend = "hnsw" }},
		{"negative cache", func(c *core.Config) { c.Cache.Capacity = -1 }},
		{"negative decay", func(c *core.Config) { c.Decay.EdgeRate = -0.1 }},
		{"negative cleanup", func(c *core.Config) { c.Cleanup.MaxAge = -time.Hour }},
		{"unknown storage", func(c *core.Config) { c.Storage.Provider = "redis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
		})
	}
}

func TestMemoryError(t *testing.T) {
	assert.NoError(t, core.NewMemoryError("Search", nil))

	err := core.NewMemoryError("AddEpisodicMemory", core.ErrTimeout)
	assert.Equal(t, "hybridmem: AddEpisodicMemory: embedding timed out", err.Error())
	assert.ErrorIs(t, err, core.ErrTimeout)

	var memErr *core.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, "AddEpisodicMemory", memErr.Op)
}

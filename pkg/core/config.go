package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/cognisphere/hybridmem-go/pkg/cache"
	"github.com/cognisphere/hybridmem-go/pkg/embedder/local"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/logging"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

// Config contains the complete configuration of a memory manager.
//
// Every option is an explicit field. Zero values are replaced by the
// defaults of DefaultConfig when the manager is created.
//
// Example:
//
//	cfg := core.DefaultConfig()
//	cfg.VectorIndex.Backend = vector.BackendIVF
//	cfg.Cache.Capacity = 500
//	mgr, err := core.NewManager(cfg)
type Config struct {
	// GraphID identifies the memory graph in snapshots. A random UUID is
	// used when empty.
	GraphID string `json:"graph_id,omitempty"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorIndex selects and tunes the vector backend.
	VectorIndex VectorIndexConfig `json:"vector_index"`

	// Cache contains query cache configuration.
	Cache CacheConfig `json:"cache"`

	// Decay contains the default decay rates of new nodes and edges.
	Decay DecayConfig `json:"decay"`

	// Cleanup contains the thresholds of the maintenance cleanup passes.
	Cleanup CleanupConfig `json:"cleanup"`

	// Maintenance controls the background maintenance schedule.
	Maintenance MaintenanceConfig `json:"maintenance"`

	// Storage selects the snapshot database (optional).
	Storage StorageConfig `json:"storage"`

	// Logging configures the zerolog logger.
	Logging logging.Config `json:"logging"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: local, openai
type EmbedderConfig struct {
	// Provider is the embedding provider name (local, openai).
	Provider string `json:"provider"`

	// APIKey is the API key for remote providers.
	APIKey string `json:"api_key,omitempty"`

	// Model is the embedding model name (e.g., "text-embedding-ada-002").
	Model string `json:"model,omitempty"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors and of the index.
	Dimensions int `json:"dimensions"`

	// Timeout bounds every embedding call.
	Timeout time.Duration `json:"timeout"`
}

// VectorIndexConfig selects the vector backend.
//
// Supported backends: flat, ivf, chromem
type VectorIndexConfig struct {
	// Backend is the index backend name.
	Backend string `json:"backend"`

	// MinTrainSize is the corpus size at which the ivf backend trains.
	MinTrainSize int `json:"min_train_size,omitempty"`

	// Nlist is the number of ivf clusters.
	Nlist int `json:"nlist,omitempty"`

	// Nprobe is the number of ivf clusters scanned per query.
	Nprobe int `json:"nprobe,omitempty"`

	// RebuildThreshold is the number of ivf tombstones that triggers a rebuild.
	RebuildThreshold int `json:"rebuild_threshold,omitempty"`

	// Collection names the chromem collection.
	Collection string `json:"collection,omitempty"`
}

// CacheConfig contains query cache configuration.
type CacheConfig struct {
	// Capacity is the maximum number of cached queries.
	Capacity int `json:"capacity"`
}

// DecayConfig contains the per-hour decay rates given to new memories.
type DecayConfig struct {
	// NodeRate is subtracted from accessibility per hour.
	NodeRate float64 `json:"node_rate"`

	// EdgeRate is subtracted from edge weight per hour.
	EdgeRate float64 `json:"edge_rate"`
}

// CleanupConfig contains maintenance cleanup thresholds.
type CleanupConfig struct {
	// WeakThreshold removes nodes with lower accessibility and edges with
	// lower weight.
	WeakThreshold float64 `json:"weak_threshold"`

	// MaxAge is the age after which unimportant memories are removed.
	MaxAge time.Duration `json:"max_age"`

	// ImportanceThreshold protects old memories at or above this importance.
	ImportanceThreshold float64 `json:"importance_threshold"`

	// AccessCountThreshold protects old memories accessed at least this often.
	AccessCountThreshold int `json:"access_count_threshold"`
}

// MaintenanceConfig controls the background maintenance scheduler.
type MaintenanceConfig struct {
	// Enabled starts the scheduler together with the CLI and examples.
	Enabled bool `json:"enabled"`

	// Schedule is a cron spec, e.g. "@every 10m".
	Schedule string `json:"schedule"`
}

// StorageConfig selects the snapshot database.
//
// Supported providers: sqlite, postgres, oceanbase. An empty provider
// disables database snapshots; JSON export stays available.
type StorageConfig struct {
	Provider    string `json:"provider,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	User        string `json:"user,omitempty"`
	Password    string `json:"password,omitempty"`
	Database    string `json:"database,omitempty"`
	SSLMode     string `json:"ssl_mode,omitempty"`
	TablePrefix string `json:"table_prefix,omitempty"`
}

// DefaultConfig returns the offline configuration: local hashing embedder,
// flat index, 1000 cached queries and the standard decay rates.
func DefaultConfig() *Config {
	return &Config{
		Embedder: EmbedderConfig{
			Provider:   "local",
			Dimensions: local.DefaultDimensions,
			Timeout:    5 * time.Second,
		},
		VectorIndex: VectorIndexConfig{
			Backend:          vector.BackendFlat,
			MinTrainSize:     256,
			Nlist:            16,
			Nprobe:           4,
			RebuildThreshold: 64,
			Collection:       "memories",
		},
		Cache: CacheConfig{Capacity: cache.DefaultCapacity},
		Decay: DecayConfig{
			NodeRate: graph.DefaultNodeDecayRate,
			EdgeRate: graph.DefaultEdgeDecayRate,
		},
		Cleanup: CleanupConfig{
			WeakThreshold:        0.1,
			MaxAge:               30 * 24 * time.Hour,
			ImportanceThreshold:  0.1,
			AccessCountThreshold: 5,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  false,
			Schedule: "@every 10m",
		},
		Storage: StorageConfig{
			SQLitePath:  "./hybridmem.db",
			TablePrefix: "hm",
		},
		Logging: logging.Config{Level: "info"},
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Overlays HYBRIDMEM_* variables on DefaultConfig
//
// Supported environment variables:
//   - HYBRIDMEM_GRAPH_ID
//   - HYBRIDMEM_EMBEDDER_PROVIDER, HYBRIDMEM_EMBEDDER_API_KEY, HYBRIDMEM_EMBEDDER_MODEL,
//     HYBRIDMEM_EMBEDDER_BASE_URL, HYBRIDMEM_EMBEDDING_DIMS, HYBRIDMEM_EMBEDDER_TIMEOUT
//   - HYBRIDMEM_VECTOR_BACKEND, HYBRIDMEM_IVF_MIN_TRAIN_SIZE, HYBRIDMEM_IVF_NLIST,
//     HYBRIDMEM_IVF_NPROBE, HYBRIDMEM_IVF_REBUILD_THRESHOLD, HYBRIDMEM_CHROMEM_COLLECTION
//   - HYBRIDMEM_CACHE_CAPACITY
//   - HYBRIDMEM_NODE_DECAY_RATE, HYBRIDMEM_EDGE_DECAY_RATE
//   - HYBRIDMEM_WEAK_THRESHOLD, HYBRIDMEM_CLEANUP_MAX_AGE, HYBRIDMEM_CLEANUP_IMPORTANCE,
//     HYBRIDMEM_CLEANUP_ACCESS_COUNT
//   - HYBRIDMEM_MAINTENANCE_ENABLED, HYBRIDMEM_MAINTENANCE_SCHEDULE
//   - HYBRIDMEM_STORAGE_PROVIDER, HYBRIDMEM_SQLITE_PATH, HYBRIDMEM_DB_HOST, HYBRIDMEM_DB_PORT,
//     HYBRIDMEM_DB_USER, HYBRIDMEM_DB_PASSWORD, HYBRIDMEM_DB_NAME, HYBRIDMEM_DB_SSLMODE,
//     HYBRIDMEM_TABLE_PREFIX
//   - HYBRIDMEM_LOG_LEVEL, HYBRIDMEM_LOG_PRETTY
//
// Malformed numeric values are reported as ErrInvalidConfig.
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	e := envReader{}

	cfg.GraphID = getEnvOrDefault("HYBRIDMEM_GRAPH_ID", cfg.GraphID)

	cfg.Embedder.Provider = getEnvOrDefault("HYBRIDMEM_EMBEDDER_PROVIDER", cfg.Embedder.Provider)
	cfg.Embedder.APIKey = os.Getenv("HYBRIDMEM_EMBEDDER_API_KEY")
	cfg.Embedder.Model = os.Getenv("HYBRIDMEM_EMBEDDER_MODEL")
	cfg.Embedder.BaseURL = os.Getenv("HYBRIDMEM_EMBEDDER_BASE_URL")
	if cfg.Embedder.Provider == "openai" {
		cfg.Embedder.Dimensions = 1536
	}
	cfg.Embedder.Dimensions = e.intVar("HYBRIDMEM_EMBEDDING_DIMS", cfg.Embedder.Dimensions)
	cfg.Embedder.Timeout = e.durationVar("HYBRIDMEM_EMBEDDER_TIMEOUT", cfg.Embedder.Timeout)

	cfg.VectorIndex.Backend = getEnvOrDefault("HYBRIDMEM_VECTOR_BACKEND", cfg.VectorIndex.Backend)
	cfg.VectorIndex.MinTrainSize = e.intVar("HYBRIDMEM_IVF_MIN_TRAIN_SIZE", cfg.VectorIndex.MinTrainSize)
	cfg.VectorIndex.Nlist = e.intVar("HYBRIDMEM_IVF_NLIST", cfg.VectorIndex.Nlist)
	cfg.VectorIndex.Nprobe = e.intVar("HYBRIDMEM_IVF_NPROBE", cfg.VectorIndex.Nprobe)
	cfg.VectorIndex.RebuildThreshold = e.intVar("HYBRIDMEM_IVF_REBUILD_THRESHOLD", cfg.VectorIndex.RebuildThreshold)
	cfg.VectorIndex.Collection = getEnvOrDefault("HYBRIDMEM_CHROMEM_COLLECTION", cfg.VectorIndex.Collection)

	cfg.Cache.Capacity = e.intVar("HYBRIDMEM_CACHE_CAPACITY", cfg.Cache.Capacity)

	cfg.Decay.NodeRate = e.floatVar("HYBRIDMEM_NODE_DECAY_RATE", cfg.Decay.NodeRate)
	cfg.Decay.EdgeRate = e.floatVar("HYBRIDMEM_EDGE_DECAY_RATE", cfg.Decay.EdgeRate)

	cfg.Cleanup.WeakThreshold = e.floatVar("HYBRIDMEM_WEAK_THRESHOLD", cfg.Cleanup.WeakThreshold)
	cfg.Cleanup.MaxAge = e.durationVar("HYBRIDMEM_CLEANUP_MAX_AGE", cfg.Cleanup.MaxAge)
	cfg.Cleanup.ImportanceThreshold = e.floatVar("HYBRIDMEM_CLEANUP_IMPORTANCE", cfg.Cleanup.ImportanceThreshold)
	cfg.Cleanup.AccessCountThreshold = e.intVar("HYBRIDMEM_CLEANUP_ACCESS_COUNT", cfg.Cleanup.AccessCountThreshold)

	cfg.Maintenance.Enabled = e.boolVar("HYBRIDMEM_MAINTENANCE_ENABLED", cfg.Maintenance.Enabled)
	cfg.Maintenance.Schedule = getEnvOrDefault("HYBRIDMEM_MAINTENANCE_SCHEDULE", cfg.Maintenance.Schedule)

	cfg.Storage.Provider = os.Getenv("HYBRIDMEM_STORAGE_PROVIDER")
	cfg.Storage.SQLitePath = getEnvOrDefault("HYBRIDMEM_SQLITE_PATH", cfg.Storage.SQLitePath)
	switch cfg.Storage.Provider {
	case "postgres":
		cfg.Storage.Host = getEnvOrDefault("HYBRIDMEM_DB_HOST", "localhost")
		cfg.Storage.Port = e.intVar("HYBRIDMEM_DB_PORT", 5432)
		cfg.Storage.User = getEnvOrDefault("HYBRIDMEM_DB_USER", "postgres")
	case "oceanbase":
		cfg.Storage.Host = getEnvOrDefault("HYBRIDMEM_DB_HOST", "127.0.0.1")
		cfg.Storage.Port = e.intVar("HYBRIDMEM_DB_PORT", 2881)
		cfg.Storage.User = getEnvOrDefault("HYBRIDMEM_DB_USER", "root@sys")
	}
	cfg.Storage.Password = os.Getenv("HYBRIDMEM_DB_PASSWORD")
	cfg.Storage.Database = getEnvOrDefault("HYBRIDMEM_DB_NAME", "hybridmem")
	cfg.Storage.SSLMode = getEnvOrDefault("HYBRIDMEM_DB_SSLMODE", "disable")
	cfg.Storage.TablePrefix = getEnvOrDefault("HYBRIDMEM_TABLE_PREFIX", cfg.Storage.TablePrefix)

	cfg.Logging.Level = getEnvOrDefault("HYBRIDMEM_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Pretty = e.boolVar("HYBRIDMEM_LOG_PRETTY", cfg.Logging.Pretty)

	if e.err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", e.err)
	}
	return cfg, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields missing
// from the file keep their DefaultConfig values. Durations are nanoseconds.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// Validate validates the configuration.
//
// Checks that:
//   - the embedder provider is known and the dimension is positive
//   - the vector backend is known
//   - rates and thresholds are not negative
//   - the storage provider, if set, is known
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return NewMemoryError("Validate", fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Embedder.Provider {
	case "local", "openai":
	default:
		return invalid("unknown embedder provider %q", c.Embedder.Provider)
	}
	if c.Embedder.Dimensions <= 0 {
		return invalid("embedding dimension must be positive, got %d", c.Embedder.Dimensions)
	}
	if c.Embedder.Timeout < 0 {
		return invalid("negative embedder timeout")
	}
	switch c.VectorIndex.Backend {
	case "", vector.BackendFlat, vector.BackendIVF, vector.BackendChromem:
	default:
		return invalid("unknown vector backend %q", c.VectorIndex.Backend)
	}
	if c.Cache.Capacity < 0 {
		return invalid("negative cache capacity")
	}
	if c.Decay.NodeRate < 0 || c.Decay.EdgeRate < 0 {
		return invalid("negative decay rate")
	}
	if c.Cleanup.WeakThreshold < 0 || c.Cleanup.ImportanceThreshold < 0 || c.Cleanup.MaxAge < 0 {
		return invalid("negative cleanup threshold")
	}
	switch c.Storage.Provider {
	case "", "sqlite", "postgres", "oceanbase":
	default:
		return invalid("unknown storage provider %q", c.Storage.Provider)
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and keeps the first error.
type envReader struct {
	err error
}

func (r *envReader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err)
	}
}

func (r *envReader) intVar(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *envReader) floatVar(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return f
}

func (r *envReader) boolVar(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

func (r *envReader) durationVar(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

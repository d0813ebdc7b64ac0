// Package postgres provides PostgreSQL snapshot persistence.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cognisphere/hybridmem-go/pkg/storage"
)

// Config contains PostgreSQL configuration.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	TablePrefix string
}

// Dialect is the PostgreSQL flavour of the snapshot schema. Payloads use
// JSONB so they can be queried in place.
var Dialect = storage.Dialect{
	Name:        "postgres",
	Placeholder: storage.Dollar,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS {prefix}_snapshots (
			graph_id VARCHAR(64) PRIMARY KEY,
			exported_at VARCHAR(64) NOT NULL,
			last_maintenance VARCHAR(64) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS {prefix}_nodes (
			graph_id VARCHAR(64) NOT NULL,
			id VARCHAR(64) NOT NULL,
			kind VARCHAR(32),
			payload JSONB NOT NULL,
			PRIMARY KEY (graph_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS {prefix}_edges (
			graph_id VARCHAR(64) NOT NULL,
			id VARCHAR(64) NOT NULL,
			source_id VARCHAR(64) NOT NULL,
			target_id VARCHAR(64) NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (graph_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS {prefix}_vector_entries (
			graph_id VARCHAR(64) NOT NULL,
			id VARCHAR(64) NOT NULL,
			graph_node_id VARCHAR(64),
			payload JSONB NOT NULL,
			PRIMARY KEY (graph_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_{prefix}_entries_node ON {prefix}_vector_entries(graph_id, graph_node_id)`,
	},
}

// DSN builds the lib/pq connection string.
func DSN(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient connects to PostgreSQL and prepares the snapshot tables.
func NewClient(cfg *Config) (*storage.SQLStore, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	store, err := storage.NewSQLStore(context.Background(), db, Dialect, cfg.TablePrefix)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

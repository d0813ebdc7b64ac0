// Package sqlite provides SQLite snapshot persistence.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-process simulations. Node, edge and vector entry payloads are
// stored as JSON strings in TEXT fields.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cognisphere/hybridmem-go/pkg/storage"
)

// Config contains configuration for creating a SQLite snapshot store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TablePrefix namespaces the tables (default "hm").
	TablePrefix string
}

// Dialect is the SQLite flavour of the snapshot schema.
var Dialect = storage.Dialect{
	Name:        "sqlite",
	Placeholder: storage.QuestionMark,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS {prefix}_snapshots (
			graph_id TEXT PRIMARY KEY,
			exported_at TEXT NOT NULL,
			last_maintenance TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS {prefix}_nodes (
			graph_id TEXT NOT NULL,
			id TEXT NOT NULL,
			kind TEXT,
			payload TEXT NOT NULL,
			PRIMARY KEY (graph_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS {prefix}_edges (
			graph_id TEXT NOT NULL,
			id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (graph_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS {prefix}_vector_entries (
			graph_id TEXT NOT NULL,
			id TEXT NOT NULL,
			graph_node_id TEXT,
			payload TEXT NOT NULL,
			PRIMARY KEY (graph_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_{prefix}_entries_node ON {prefix}_vector_entries(graph_id, graph_node_id)`,
	},
}

// NewClient opens (creating if needed) a SQLite database and prepares the
// snapshot tables.
func NewClient(cfg *Config) (*storage.SQLStore, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	// A single writer avoids SQLITE_BUSY inside snapshot transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	store, err := storage.NewSQLStore(context.Background(), db, Dialect, cfg.TablePrefix)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

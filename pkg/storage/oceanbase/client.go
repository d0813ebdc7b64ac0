// Package oceanbase provides snapshot persistence on OceanBase (or any
// server speaking the MySQL protocol).
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/cognisphere/hybridmem-go/pkg/storage"
)

// Config contains OceanBase configuration.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	TablePrefix string
}

// Dialect is the MySQL flavour of the snapshot schema.
var Dialect = storage.Dialect{
	Name:        "oceanbase",
	Placeholder: storage.QuestionMark,
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
			payload LONGTEXT NOT NULL,
			PRIMARY KEY (graph_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS {prefix}_edges (
			graph_id VARCHAR(64) NOT NULL,
			id VARCHAR(64) NOT NULL,
			source_id VARCHAR(64) NOT NULL,
			target_id VARCHAR(64) NOT NULL,
			payload LONGTEXT NOT NULL,
			PRIMARY KEY (graph_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS {prefix}_vector_entries (
			graph_id VARCHAR(64) NOT NULL,
			id VARCHAR(64) NOT NULL,
			graph_node_id VARCHAR(64),
			payload LONGTEXT NOT NULL,
			PRIMARY KEY (graph_id, id),
			INDEX idx_entries_node (graph_id, graph_node_id)
		)`,
	},
}

// DSN builds the go-sql-driver/mysql connection string.
func DSN(cfg *Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	return mc.FormatDSN()
}

// NewClient connects to OceanBase and prepares the snapshot tables.
func NewClient(cfg *Config) (*storage.SQLStore, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	store, err := storage.NewSQLStore(context.Background(), db, Dialect, cfg.TablePrefix)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Dialect captures the SQL differences between backends.
type Dialect struct {
	// Name is used in error messages.
	Name string

	// Placeholder returns the bind marker of the n-th argument (1-based).
	Placeholder func(n int) string

	// Schema lists the statements creating the tables. "{prefix}" is replaced
	// by the table prefix.
	Schema []string
}

// QuestionMark is the placeholder style of SQLite and MySQL.
func QuestionMark(int) string { return "?" }

// Dollar is the placeholder style of PostgreSQL.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// SQLStore saves snapshots as rows of four tables: one header row per graph
// plus one JSON payload row per node, edge and vector entry.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	prefix  string
}

// NewSQLStore wraps an open database and creates the tables if needed.
// prefix namespaces the tables, defaulting to "hm".
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, prefix string) (*SQLStore, error) {
	if prefix == "" {
		prefix = "hm"
	}
	s := &SQLStore{db: db, dialect: dialect, prefix: prefix}
	if err := s.initTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initTables(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, strings.ReplaceAll(stmt, "{prefix}", s.prefix)); err != nil {
			return fmt.Errorf("initTables: %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) table(name string) string {
	return s.prefix + "_" + name
}

// bind rewrites ? markers into the dialect's placeholder style.
func (s *SQLStore) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB exposes the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Save replaces the stored snapshot in a single transaction.
func (s *SQLStore) Save(ctx context.Context, snap *Snapshot) (err error) {
	if snap == nil || snap.GraphID == "" {
		return errors.New("Save: snapshot without graph id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.deleteRows(ctx, tx, snap.GraphID); err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.bind(fmt.Sprintf(
		"INSERT INTO %s (graph_id, exported_at, last_maintenance) VALUES (?, ?, ?)", s.table("snapshots"))),
		snap.GraphID, formatTime(snap.ExportedAt), formatTime(snap.LastMaintenance))
	if err != nil {
		return fmt.Errorf("Save: snapshot: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx, s.bind(fmt.Sprintf(
		"INSERT INTO %s (graph_id, id, kind, payload) VALUES (?, ?, ?, ?)", s.table("nodes"))))
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	defer nodeStmt.Close()
	for _, id := range sortedKeys(snap.Nodes) {
		n := snap.Nodes[id]
		payload, mErr := json.Marshal(n)
		if mErr != nil {
			return fmt.Errorf("Save: node %s: %w", id, mErr)
		}
		if _, err = nodeStmt.ExecContext(ctx, snap.GraphID, id, string(n.Kind), string(payload)); err != nil {
			return fmt.Errorf("Save: node %s: %w", id, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, s.bind(fmt.Sprintf(
		"INSERT INTO %s (graph_id, id, source_id, target_id, payload) VALUES (?, ?, ?, ?, ?)", s.table("edges"))))
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	defer edgeStmt.Close()
	for _, id := range sortedKeys(snap.Edges) {
		e := snap.Edges[id]
		payload, mErr := json.Marshal(e)
		if mErr != nil {
			return fmt.Errorf("Save: edge %s: %w", id, mErr)
		}
		if _, err = edgeStmt.ExecContext(ctx, snap.GraphID, id, e.SourceID, e.TargetID, string(payload)); err != nil {
			return fmt.Errorf("Save: edge %s: %w", id, err)
		}
	}

	entryStmt, err := tx.PrepareContext(ctx, s.bind(fmt.Sprintf(
		"INSERT INTO %s (graph_id, id, graph_node_id, payload) VALUES (?, ?, ?, ?)", s.table("vector_entries"))))
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	defer entryStmt.Close()
	for _, id := range sortedKeys(snap.VectorEntries) {
		e := snap.VectorEntries[id]
		payload, mErr := json.Marshal(e)
		if mErr != nil {
			return fmt.Errorf("Save: vector entry %s: %w", id, mErr)
		}
		if _, err = entryStmt.ExecContext(ctx, snap.GraphID, id, e.GraphNodeID(), string(payload)); err != nil {
			return fmt.Errorf("Save: vector entry %s: %w", id, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("Save: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) deleteRows(ctx context.Context, tx *sql.Tx, graphID string) error {
	for _, t := range []string{"vector_entries", "edges", "nodes", "snapshots"} {
		if _, err := tx.ExecContext(ctx, s.bind(fmt.Sprintf("DELETE FROM %s WHERE graph_id = ?", s.table(t))), graphID); err != nil {
			return fmt.Errorf("delete %s: %w", t, err)
		}
	}
	return nil
}

// Load reads the snapshot of one graph.
func (s *SQLStore) Load(ctx context.Context, graphID string) (*Snapshot, error) {
	var exported, maintained string
	err := s.db.QueryRowContext(ctx, s.bind(fmt.Sprintf(
		"SELECT exported_at, last_maintenance FROM %s WHERE graph_id = ?", s.table("snapshots"))), graphID).
		Scan(&exported, &maintained)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, graphID)
	}
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	snap := NewSnapshot(graphID)
	if snap.ExportedAt, err = parseTime(exported); err != nil {
		return nil, fmt.Errorf("Load: exported_at: %w", err)
	}
	if snap.LastMaintenance, err = parseTime(maintained); err != nil {
		return nil, fmt.Errorf("Load: last_maintenance: %w", err)
	}

	err = s.scanPayloads(ctx, "nodes", graphID, func(payload []byte) error {
		var n graph.Node
		if err := json.Unmarshal(payload, &n); err != nil {
			return err
		}
		snap.Nodes[n.ID] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.scanPayloads(ctx, "edges", graphID, func(payload []byte) error {
		var e graph.Edge
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		snap.Edges[e.ID] = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.scanPayloads(ctx, "vector_entries", graphID, func(payload []byte) error {
		var e vector.Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		snap.VectorEntries[e.ID] = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLStore) scanPayloads(ctx context.Context, table, graphID string, fn func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx, s.bind(fmt.Sprintf(
		"SELECT payload FROM %s WHERE graph_id = ?", s.table(table))), graphID)
	if err != nil {
		return fmt.Errorf("Load: %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("Load: %s: %w", table, err)
		}
		if err := fn([]byte(payload)); err != nil {
			return fmt.Errorf("Load: %s: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("Load: %s: %w", table, err)
	}
	return nil
}

// Latest loads the snapshot with the newest export time.
func (s *SQLStore) Latest(ctx context.Context) (*Snapshot, error) {
	var graphID string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT graph_id FROM %s ORDER BY exported_at DESC LIMIT 1", s.table("snapshots"))).
		Scan(&graphID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	return s.Load(ctx, graphID)
}

// List returns every stored graph id in lexical order.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT graph_id FROM %s ORDER BY graph_id", s.table("snapshots")))
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a snapshot and its rows.
func (s *SQLStore) Delete(ctx context.Context, graphID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = s.deleteRows(ctx, tx, graphID); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

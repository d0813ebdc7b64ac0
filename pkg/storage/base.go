// Package storage persists memory engine snapshots.
//
// A Snapshot is the complete, self-describing export of one memory graph and
// its vector entries. It is serialized as JSON with RFC 3339 timestamps and can
// be written to any io.Writer or saved to a SQL database through SQLStore.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

// ErrSnapshotNotFound indicates that no snapshot exists for a graph id.
var ErrSnapshotNotFound = errors.New("storage: snapshot not found")

// Snapshot is the export document of a memory engine.
type Snapshot struct {
	// GraphID identifies the memory graph.
	GraphID string `json:"graph_id"`

	// ExportedAt is when the snapshot was taken.
	ExportedAt time.Time `json:"exported_at"`

	// LastMaintenance is the end of the last completed decay pass, used to
	// compute the next decay interval after a restore.
	LastMaintenance time.Time `json:"last_maintenance"`

	Nodes         map[string]graph.Node   `json:"nodes"`
	Edges         map[string]graph.Edge   `json:"edges"`
	VectorEntries map[string]vector.Entry `json:"vector_entries"`
}

// NewSnapshot creates an empty snapshot for a graph.
func NewSnapshot(graphID string) *Snapshot {
	return &Snapshot{
		GraphID:       graphID,
		Nodes:         make(map[string]graph.Node),
		Edges:         make(map[string]graph.Edge),
		VectorEntries: make(map[string]vector.Entry),
	}
}

// WriteJSON encodes the snapshot as indented JSON.
func (s *Snapshot) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// ReadJSON decodes a snapshot written by WriteJSON.
func ReadJSON(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Nodes == nil {
		s.Nodes = make(map[string]graph.Node)
	}
	if s.Edges == nil {
		s.Edges = make(map[string]graph.Edge)
	}
	if s.VectorEntries == nil {
		s.VectorEntries = make(map[string]vector.Entry)
	}
	return &s, nil
}

// SnapshotStore persists snapshots keyed by graph id.
//
// All persistence backends (SQLite, PostgreSQL, OceanBase) implement this interface.
type SnapshotStore interface {
	// Save replaces the stored snapshot of s.GraphID.
	Save(ctx context.Context, s *Snapshot) error

	// Load returns the snapshot of a graph, or ErrSnapshotNotFound.
	Load(ctx context.Context, graphID string) (*Snapshot, error)

	// Latest returns the most recently exported snapshot, or ErrSnapshotNotFound.
	Latest(ctx context.Context) (*Snapshot, error)

	// List returns the stored graph ids.
	List(ctx context.Context) ([]string, error)

	// Delete removes a stored snapshot.
	Delete(ctx context.Context, graphID string) error

	// Close releases the underlying connection.
	Close() error
}

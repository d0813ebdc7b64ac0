package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/storage"
	"github.com/cognisphere/hybridmem-go/pkg/storage/oceanbase"
	"github.com/cognisphere/hybridmem-go/pkg/storage/postgres"
	"github.com/cognisphere/hybridmem-go/pkg/storage/sqlite"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

// Export takes a consistent snapshot of both stores.
func (m *Manager) Export() *storage.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := storage.NewSnapshot(m.graphID)
	snap.ExportedAt = m.now()
	snap.LastMaintenance = m.lastMaintenance
	for _, n := range m.graph.Nodes() {
		snap.Nodes[n.ID] = n
	}
	for _, e := range m.graph.Edges() {
		snap.Edges[e.ID] = e
	}
	for _, e := range m.index.All() {
		snap.VectorEntries[e.ID] = e
	}
	return snap
}

// Import replaces the manager state with a snapshot.
//
// Vector entries are re-inserted into a fresh index of the configured
// backend, so an exported ivf index is retrained on import. Every embedding
// must match the embedder dimension. On error the current state is kept.
func (m *Manager) Import(ctx context.Context, snap *storage.Snapshot) error {
	if snap == nil {
		return NewMemoryError("Import", fmt.Errorf("%w: nil snapshot", ErrInvalidInput))
	}

	index, err := initIndex(m.config, m.embedder.Dimensions(), m.now, m.log)
	if err != nil {
		return NewMemoryError("Import", err)
	}
	entries := make([]vector.Entry, 0, len(snap.VectorEntries))
	for id, e := range snap.VectorEntries {
		if e.ID == "" {
			e.ID = id
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entryLess(&entries[i], &entries[j]) })
	for i := range entries {
		if _, err := index.Add(ctx, &entries[i]); err != nil {
			_ = index.Close()
			return NewMemoryError("Import", fmt.Errorf("vector entry %s: %w", entries[i].ID, err))
		}
	}

	nodes := make([]graph.Node, 0, len(snap.Nodes))
	for id, n := range snap.Nodes {
		if n.ID == "" {
			n.ID = id
		}
		nodes = append(nodes, n)
	}
	edges := make([]graph.Edge, 0, len(snap.Edges))
	for id, e := range snap.Edges {
		if e.ID == "" {
			e.ID = id
		}
		edges = append(edges, e)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.graph.Restore(nodes, edges); err != nil {
		_ = index.Close()
		return NewMemoryError("Import", err)
	}
	old := m.index
	m.index = index
	if err := old.Close(); err != nil {
		m.log.Warn().Err(err).Msg("failed to close replaced index")
	}

	if snap.GraphID != "" {
		m.graphID = snap.GraphID
	}
	m.lastMaintenance = snap.LastMaintenance
	if m.lastMaintenance.IsZero() {
		m.lastMaintenance = m.now()
	}
	m.invalidate()
	m.updateSizes()
	m.log.Info().
		Str("graph_id", m.graphID).
		Int("nodes", len(nodes)).
		Int("edges", len(edges)).
		Int("entries", len(entries)).
		Msg("snapshot imported")
	return nil
}

// ExportJSON writes a snapshot as JSON.
func (m *Manager) ExportJSON(w io.Writer) error {
	return NewMemoryError("ExportJSON", m.Export().WriteJSON(w))
}

// ImportJSON reads a snapshot written by ExportJSON and imports it.
func (m *Manager) ImportJSON(ctx context.Context, r io.Reader) error {
	snap, err := storage.ReadJSON(r)
	if err != nil {
		return NewMemoryError("ImportJSON", fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	return m.Import(ctx, snap)
}

// SaveSnapshot exports the manager state to a snapshot store under the
// manager's graph id.
//
// Parameters:
//   - ctx: Context for cancellation
//   - store: destination, usually from OpenSnapshotStore
//
// Example:
//
//	store, err := core.OpenSnapshotStore(cfg.Storage)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	err = mgr.SaveSnapshot(ctx, store)
func (m *Manager) SaveSnapshot(ctx context.Context, store storage.SnapshotStore) error {
	snap := m.Export()
	if err := store.Save(ctx, snap); err != nil {
		return NewMemoryError("SaveSnapshot", err)
	}
	m.log.Info().Str("graph_id", snap.GraphID).Msg("snapshot saved")
	return nil
}

// LoadSnapshot imports a stored snapshot. An empty graphID loads the most
// recently exported one. A missing snapshot is reported as ErrNotFound.
func (m *Manager) LoadSnapshot(ctx context.Context, store storage.SnapshotStore, graphID string) error {
	var (
		snap *storage.Snapshot
		err  error
	)
	if graphID == "" {
		snap, err = store.Latest(ctx)
	} else {
		snap, err = store.Load(ctx, graphID)
	}
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		return NewMemoryError("LoadSnapshot", fmt.Errorf("%w: %w", ErrNotFound, err))
	}
	if err != nil {
		return NewMemoryError("LoadSnapshot", err)
	}
	return m.Import(ctx, snap)
}

// OpenSnapshotStore connects to the configured snapshot database.
func OpenSnapshotStore(cfg StorageConfig) (storage.SnapshotStore, error) {
	var (
		store *storage.SQLStore
		err   error
	)
	switch cfg.Provider {
	case "", "sqlite":
		store, err = sqlite.NewClient(&sqlite.Config{
			DBPath:      cfg.SQLitePath,
			TablePrefix: cfg.TablePrefix,
		})
	case "postgres":
		store, err = postgres.NewClient(&postgres.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			User:        cfg.User,
			Password:    cfg.Password,
			DBName:      cfg.Database,
			SSLMode:     cfg.SSLMode,
			TablePrefix: cfg.TablePrefix,
		})
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			User:        cfg.User,
			Password:    cfg.Password,
			DBName:      cfg.Database,
			TablePrefix: cfg.TablePrefix,
		})
	default:
		return nil, NewMemoryError("OpenSnapshotStore", fmt.Errorf("%w: unknown storage provider %q", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewMemoryError("OpenSnapshotStore", err)
	}
	return store, nil
}

var _ storage.SnapshotStore = (*storage.SQLStore)(nil)

// entryLess orders entries the way they were inserted.
func entryLess(a, b *vector.Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

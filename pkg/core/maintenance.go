package core

import (
	"context"
	"errors"
	"time"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

// Consolidate applies dt of decay to every node and edge and bumps the
// consolidation strength of frequently accessed memories. The last
// maintenance mark is set once the pass completes.
func (m *Manager) Consolidate(ctx context.Context, dt time.Duration) error {
	if err := ctx.Err(); err != nil {
		return NewMemoryError("Consolidate", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.graph.Consolidate(dt)
	m.lastMaintenance = m.now()
	m.invalidate()
	m.log.Debug().Dur("dt", dt).Msg("graph consolidated")
	return nil
}

// ConsolidateElapsed decays the graph by the time elapsed since the last
// maintenance mark and returns that interval. Running it twice in a row
// decays by a near-zero interval the second time.
func (m *Manager) ConsolidateElapsed(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewMemoryError("ConsolidateElapsed", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	dt := now.Sub(m.lastMaintenance)
	if dt < 0 {
		dt = 0
	}
	m.graph.Consolidate(dt)
	m.lastMaintenance = now
	m.invalidate()
	return dt, nil
}

// CleanupWeak removes nodes with accessibility below threshold and edges with
// weight below threshold, together with the vector entries of removed memories.
//
// Parameters:
//   - ctx: Context for cancellation
//   - threshold: accessibility and weight cutoff, typically Config.Cleanup.WeakThreshold
//
// Returns what was removed from each store.
func (m *Manager) CleanupWeak(ctx context.Context, threshold float64) (*CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("CleanupWeak", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	nodeIDs, edgeIDs := m.graph.PruneWeak(threshold)
	report := &CleanupReport{
		GraphNodesRemoved: len(nodeIDs),
		EdgesRemoved:      len(edgeIDs),
	}
	report.VectorEntriesRemoved = m.reconcile(ctx)
	m.finishCleanup("weak", report)
	return report, nil
}

// CleanupOldMemories removes memories created more than age ago whose
// importance is below importance and whose access count is below the
// configured access threshold. Their vector entries are removed as well, so
// both stores stay in sync.
func (m *Manager) CleanupOldMemories(ctx context.Context, age time.Duration, importance float64) (*CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("CleanupOldMemories", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-age)
	report := &CleanupReport{}
	for _, node := range m.graph.Nodes() {
		if !node.IsMemory() ||
			!node.CreatedAt.Before(cutoff) ||
			node.Importance >= importance ||
			node.AccessCount >= m.config.Cleanup.AccessCountThreshold {
			continue
		}
		edges, err := m.graph.RemoveNode(node.ID)
		if err != nil {
			continue
		}
		report.GraphNodesRemoved++
		report.EdgesRemoved += edges
		if id := node.Metadata[MetaVectorID]; id != "" {
			if err := m.index.Remove(ctx, id); err == nil {
				report.VectorEntriesRemoved++
			}
		}
	}
	report.VectorEntriesRemoved += m.reconcile(ctx)
	m.finishCleanup("old", report)
	return report, nil
}

// RemoveMemory deletes a memory node, its edges and its vector entry.
//
// Returns an error wrapping ErrNotFound for an unknown node id.
func (m *Manager) RemoveMemory(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, err := m.graph.GetNode(nodeID)
	if err != nil {
		return NewMemoryError("RemoveMemory", err)
	}
	if _, err := m.graph.RemoveNode(nodeID); err != nil {
		return NewMemoryError("RemoveMemory", err)
	}
	report := &CleanupReport{GraphNodesRemoved: 1}
	if id := node.Metadata[MetaVectorID]; id != "" {
		if err := m.index.Remove(ctx, id); err != nil && !errors.Is(err, vector.ErrNotFound) {
			return NewMemoryError("RemoveMemory", err)
		} else if err == nil {
			report.VectorEntriesRemoved++
		}
	}
	report.VectorEntriesRemoved += m.reconcile(ctx)
	m.finishCleanup("explicit", report)
	return nil
}

// reconcile removes vector entries whose linked graph node no longer
// exists. Entries that were never linked are kept. It must be called with
// the write lock held.
func (m *Manager) reconcile(ctx context.Context) int {
	removed := 0
	for _, entry := range m.index.All() {
		id := entry.GraphNodeID()
		if id == "" || m.graph.HasNode(id) {
			continue
		}
		if err := m.index.Remove(ctx, entry.ID); err != nil {
			m.log.Warn().Err(err).Str("vector_id", entry.ID).Msg("failed to remove orphaned entry")
			continue
		}
		removed++
	}
	return removed
}

func (m *Manager) finishCleanup(kind string, report *CleanupReport) {
	m.metrics.Removed.WithLabelValues("graph").Add(float64(report.GraphNodesRemoved))
	m.metrics.Removed.WithLabelValues("edges").Add(float64(report.EdgesRemoved))
	m.metrics.Removed.WithLabelValues("vector").Add(float64(report.VectorEntriesRemoved))
	m.invalidate()
	m.updateSizes()
	m.log.Info().
		Str("cleanup", kind).
		Int("nodes", report.GraphNodesRemoved).
		Int("edges", report.EdgesRemoved).
		Int("entries", report.VectorEntriesRemoved).
		Msg("cleanup finished")
}

// ShortestPath returns the node ids of a shortest directed path, optionally
// following only the given relations. It is empty when there is no path.
func (m *Manager) ShortestPath(sourceID, targetID string, relations ...graph.Relation) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.ShortestPath(sourceID, targetID, relations...)
}

// Centrality returns the betweenness centrality of a node. It walks the
// whole graph, so callers that need it repeatedly should cache it.
func (m *Manager) Centrality(nodeID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.Centrality(nodeID)
}

// ConnectedComponents returns the weakly connected components of the graph.
func (m *Manager) ConnectedComponents() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.ConnectedComponents()
}

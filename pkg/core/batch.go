package core

import (
	"context"
	"fmt"

	"github.com/cognisphere/hybridmem-go/pkg/embedder"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
)

// BatchItem is one memory of an AddBatch call.
type BatchItem struct {
	// Kind defaults to episodic. Social items get no agent-to-agent edges;
	// use AddSocialMemory for those.
	Kind       graph.Kind
	Content    string
	AgentID    string
	Importance float64
	Options    []MemoryOption
}

// AddedMemory holds the ids of one stored memory.
type AddedMemory struct {
	NodeID   string `json:"node_id"`
	VectorID string `json:"vector_id"`
}

// AddBatch records several memories with a single embedding call.
//
// Every item is validated before anything is embedded, the contents are
// embedded with one EmbedBatch request, and all pairs are committed under a
// single manager lock. The batch is all or nothing: if one pair cannot be
// stored, the pairs already committed by this call are removed again.
//
// Parameters:
//   - ctx: Context for cancellation and the embedding deadline
//   - items: memories to record; an empty batch is a no-op
//
// Returns the ids in item order.
func (m *Manager) AddBatch(ctx context.Context, items []BatchItem) ([]AddedMemory, error) {
	if len(items) == 0 {
		return nil, nil
	}

	pending := make([]*pendingWrite, len(items))
	texts := make([]string, len(items))
	for i, item := range items {
		kind := item.Kind
		if kind == "" {
			kind = graph.KindEpisodic
		}
		req := writeRequest{
			op:            "AddBatch",
			kind:          kind,
			content:       item.Content,
			agentID:       item.AgentID,
			importance:    item.Importance,
			accessibility: 1,
			agentRelation: graph.RelCreated,
		}
		if kind == graph.KindSemantic {
			req.accessibility = semanticAccessibility
			req.agentRelation = graph.RelKnows
		}
		pw, err := m.prepare(req, item.Options)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		pending[i] = pw
		texts[i] = item.Content
	}

	embeddings, err := embedder.EmbedBatchWithTimeout(ctx, m.embedder, texts, m.config.Embedder.Timeout)
	if err != nil {
		return nil, m.failWrite(pending[0].req, embedFailure(err), err)
	}
	for i, pw := range pending {
		pw.entry.Embedding = embeddings[i]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AddedMemory, 0, len(pending))
	for i, pw := range pending {
		if err := m.commit(ctx, pw); err != nil {
			m.rollback(ctx, out)
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, AddedMemory{NodeID: pw.node.ID, VectorID: pw.entry.ID})
	}

	m.invalidate()
	for _, pw := range pending {
		m.metrics.Writes.WithLabelValues(string(pw.req.kind)).Inc()
	}
	m.updateSizes()
	m.log.Debug().Int("count", len(out)).Msg("memory batch added")
	return out, nil
}

// rollback removes pairs committed earlier in a failed batch. The caller
// holds the write lock.
func (m *Manager) rollback(ctx context.Context, added []AddedMemory) {
	for _, a := range added {
		if _, err := m.graph.RemoveNode(a.NodeID); err != nil {
			m.log.Error().Err(err).Str("node_id", a.NodeID).Msg("batch rollback: node")
		}
		if err := m.index.Remove(ctx, a.VectorID); err != nil {
			m.log.Error().Err(err).Str("vector_id", a.VectorID).Msg("batch rollback: entry")
		}
	}
}

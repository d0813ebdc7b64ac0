package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cognisphere/hybridmem-go/pkg/embedder"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/intelligence"
)

// DefaultAgentMemoryLimit is used by GetAgentMemories when limit is zero.
const DefaultAgentMemoryLimit = 50

// Search runs a hybrid query.
//
// The method:
//  1. Runs a vector search for 2*MaxResults candidates
//  2. Scores each hit as similarity * importance of its linked node, dropping
//     hits below ImportanceThreshold
//  3. If Relations is set, runs a graph content search scored as
//     importance * accessibility with the related neighbors attached
//  4. Merges both paths by memory id, keeping the larger relevance and the
//     graph relationship path
//  5. Sorts by relevance and truncates to MaxResults
//  6. Reinforces every returned memory
//
// Identical queries are answered from the cache until the next write or
// maintenance pass, without reinforcement. When embedding fails the query
// degrades to the graph path. ContextMemories, when set, are blended into
// the query embedding before step 1.
//
// Parameters:
//   - ctx: Context for cancellation and the embedding deadline
//   - q: the query; Text must not be blank
//
// Returns results sorted by relevance (highest first), or an error wrapping
// ErrInvalidInput for an empty query.
//
// Example:
//
//	results, err := mgr.Search(ctx, &core.MemoryQuery{
//	    Text:       "who sold fish",
//	    Relations:  []graph.Relation{graph.RelTradedWith},
//	    MaxResults: 5,
//	})
func (m *Manager) Search(ctx context.Context, q *MemoryQuery) ([]*MemoryResult, error) {
	if q == nil || strings.TrimSpace(q.Text) == "" {
		return nil, NewMemoryError("Search", fmt.Errorf("%w: empty query", ErrInvalidInput))
	}
	query := *q
	if query.MaxResults <= 0 {
		query.MaxResults = DefaultMaxResults
	}

	m.queries.Add(1)
	m.metrics.Queries.Inc()

	key := cacheKey(&query)
	if cached, ok := m.cache.Get(key); ok {
		m.cacheHits.Add(1)
		m.metrics.CacheHits.Inc()
		return cloneResults(cached), nil
	}
	generation := m.generation.Load()

	embedding, embedErr := m.embed(ctx, query.Text)
	if embedErr != nil {
		if ctx.Err() != nil {
			return nil, NewMemoryError("Search", ctx.Err())
		}
		m.log.Warn().Err(embedErr).Str("query", query.Text).Msg("vector path unavailable, using graph path")
	}

	m.mu.RLock()
	if embedErr == nil && len(query.ContextMemories) > 0 {
		embedding = m.blendContext(embedding, query.ContextMemories)
	}
	results, err := m.search(ctx, &query, embedding, embedErr == nil)
	if err == nil {
		m.reinforce(results)
		// writers invalidate under the write lock, so the generation cannot
		// move between this check and the Put
		if m.generation.Load() == generation {
			m.cache.Put(key, cloneResults(results))
		}
	}
	m.mu.RUnlock()
	if err != nil {
		return nil, NewMemoryError("Search", err)
	}
	return results, nil
}

// search must be called with the read lock held.
func (m *Manager) search(ctx context.Context, q *MemoryQuery, embedding []float64, useVector bool) ([]*MemoryResult, error) {
	var results []*MemoryResult
	byID := make(map[string]*MemoryResult)

	if useVector {
		vectorResults, err := m.vectorPath(ctx, q, embedding)
		if err != nil {
			return nil, err
		}
		for _, r := range vectorResults {
			byID[r.ID()] = r
			results = append(results, r)
		}
		m.vectorSearches.Add(1)
		m.metrics.Searches.WithLabelValues(SourceVector).Inc()
	}

	if len(q.Relations) > 0 || !useVector {
		m.graphSearches.Add(1)
		m.metrics.Searches.WithLabelValues(SourceGraph).Inc()
		for _, r := range m.graphPath(q) {
			existing, ok := byID[r.ID()]
			if !ok {
				byID[r.ID()] = r
				results = append(results, r)
				continue
			}
			if r.Relevance > existing.Relevance {
				existing.Relevance = r.Relevance
			}
			existing.RelationshipPath = r.RelationshipPath
			existing.Source = SourceHybrid
		}
		if useVector {
			m.hybridSearches.Add(1)
			m.metrics.Searches.WithLabelValues(SourceHybrid).Inc()
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > q.MaxResults {
		results = results[:q.MaxResults]
	}
	return results, nil
}

func (m *Manager) vectorPath(ctx context.Context, q *MemoryQuery, embedding []float64) ([]*MemoryResult, error) {
	kinds := make([]string, len(q.Kinds))
	for i, k := range q.Kinds {
		kinds[i] = string(k)
	}
	hits, err := m.index.Search(ctx, embedding, 2*q.MaxResults, kinds...)
	if err != nil {
		return nil, err
	}

	out := make([]*MemoryResult, 0, len(hits))
	for i := range hits {
		hit := hits[i]
		if hit.Score < q.SimilarityThreshold {
			continue
		}
		entry := hit.Entry
		res := &MemoryResult{Entry: &entry, Similarity: hit.Score, Source: SourceVector}

		importance := entry.Importance
		if id := entry.GraphNodeID(); id != "" {
			if node, err := m.graph.GetNode(id); err == nil {
				res.Node = &node
				importance = node.Importance
			}
		}
		res.Relevance = hit.Score * importance
		if res.Relevance < q.ImportanceThreshold {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (m *Manager) graphPath(q *MemoryQuery) []*MemoryResult {
	allowed := make(map[graph.Kind]bool, len(q.Kinds))
	for _, k := range q.Kinds {
		allowed[k] = true
	}

	var out []*MemoryResult
	for _, hit := range m.graph.SearchNodes(q.Text, 0) {
		node := hit.Node
		if !node.IsMemory() {
			continue
		}
		if len(allowed) > 0 && !allowed[node.Kind] {
			continue
		}
		if node.Importance < q.ImportanceThreshold {
			continue
		}

		path := []string{node.ID}
		for _, nb := range m.graph.GetNeighbors(node.ID, q.Relations...) {
			path = append(path, nb.Node.ID)
		}
		res := &MemoryResult{
			Node:             &node,
			Relevance:        node.Importance * node.Accessibility,
			RelationshipPath: path,
			Source:           SourceGraph,
		}
		if entry, ok := m.entryFor(&node); ok {
			res.Entry = &entry
		}
		out = append(out, res)
		if len(out) == q.MaxResults {
			break
		}
	}
	return out
}

// reinforce accesses every returned memory in both stores. The results keep
// the values observed by the search. Both stores lock themselves, so the
// manager read lock is enough.
func (m *Manager) reinforce(results []*MemoryResult) {
	for _, r := range results {
		if r.Node != nil {
			if err := m.graph.AccessNode(r.Node.ID); err != nil {
				m.log.Debug().Err(err).Str("node_id", r.Node.ID).Msg("reinforce skipped")
			}
		}
		if r.Entry != nil {
			if err := m.index.Touch(r.Entry.ID); err != nil {
				m.log.Debug().Err(err).Str("vector_id", r.Entry.ID).Msg("reinforce skipped")
			}
		}
	}
}

func cacheKey(q *MemoryQuery) string {
	var b strings.Builder
	b.WriteString(q.Text)
	b.WriteString("\x00")
	for _, k := range q.Kinds {
		b.WriteString(string(k))
		b.WriteString(",")
	}
	b.WriteString("\x00")
	for _, r := range q.Relations {
		b.WriteString(string(r))
		b.WriteString(",")
	}
	b.WriteString("\x00")
	for _, id := range q.ContextMemories {
		b.WriteString(id)
		b.WriteString(",")
	}
	fmt.Fprintf(&b, "\x00%d\x00%g\x00%g", q.MaxResults, q.ImportanceThreshold, q.SimilarityThreshold)
	return b.String()
}

// contextWeight is the share of the context memories in a blended query.
const contextWeight = 0.5

// blendContext mixes the mean embedding of the context memories into the
// query embedding and rescales the result to unit length. Ids without a
// stored entry are skipped. It must be called with the read lock held.
func (m *Manager) blendContext(query []float64, ids []string) []float64 {
	mean := make([]float64, len(query))
	n := 0
	for _, id := range ids {
		node, err := m.graph.GetNode(id)
		if err != nil {
			continue
		}
		entry, ok := m.entryFor(&node)
		if !ok {
			continue
		}
		for i, v := range entry.Embedding {
			mean[i] += v
		}
		n++
	}
	if n == 0 {
		return query
	}
	out := make([]float64, len(query))
	for i := range query {
		out[i] = (1-contextWeight)*query[i] + contextWeight*mean[i]/float64(n)
	}
	return embedder.Normalize(out)
}

// SemanticSearch is a vector search steered by a set of memories the caller
// is currently thinking about.
//
// Parameters:
//   - ctx: Context for cancellation
//   - text: query text
//   - contextMemories: node ids whose embeddings are blended into the query
//   - k: maximum number of results (default 10)
//
// It is a shorthand for Search with MemoryQuery.ContextMemories set, so the
// results are cached and reinforced the same way.
func (m *Manager) SemanticSearch(ctx context.Context, text string, contextMemories []string, k int) ([]*MemoryResult, error) {
	return m.Search(ctx, &MemoryQuery{Text: text, ContextMemories: contextMemories, MaxResults: k})
}

// GetRelatedMemories returns the memories closest to a stored memory.
//
// The stored entry's embedding seeds a vector search and the memory itself
// is left out. Results are ordered by similarity, scored like the vector
// path of Search, and are not reinforced.
//
// Parameters:
//   - ctx: Context for cancellation
//   - memoryID: graph node id of the seed memory
//   - k: maximum number of results (default 10)
//
// Returns ErrNotFound when the memory or its vector entry does not exist.
func (m *Manager) GetRelatedMemories(ctx context.Context, memoryID string, k int) ([]*MemoryResult, error) {
	if k <= 0 {
		k = DefaultMaxResults
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	node, err := m.graph.GetNode(memoryID)
	if err != nil {
		return nil, NewMemoryError("GetRelatedMemories", err)
	}
	seed, ok := m.entryFor(&node)
	if !ok {
		return nil, NewMemoryError("GetRelatedMemories", fmt.Errorf("%w: memory %q has no vector entry", ErrNotFound, memoryID))
	}

	results, err := m.vectorPath(ctx, &MemoryQuery{MaxResults: k}, seed.Embedding)
	if err != nil {
		return nil, NewMemoryError("GetRelatedMemories", err)
	}
	out := make([]*MemoryResult, 0, k)
	for _, r := range results {
		if r.Entry.ID == seed.ID {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// GetAgentMemories returns the memories of an agent, most recent first.
//
// A memory belongs to the agent when its agent_id metadata matches or when it
// has an edge to the agent node (created, knows, or the relation of a social
// memory involving the agent). Results are scored importance * accessibility
// and are not reinforced.
func (m *Manager) GetAgentMemories(ctx context.Context, agentID string, limit int, kinds ...graph.Kind) ([]*MemoryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("GetAgentMemories", err)
	}
	if limit == 0 {
		limit = DefaultAgentMemoryLimit
	}
	allowed := make(map[graph.Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*MemoryResult
	for _, node := range m.graph.Nodes() {
		if !node.IsMemory() || (len(allowed) > 0 && !allowed[node.Kind]) {
			continue
		}
		if !m.belongsTo(&node, agentID) {
			continue
		}
		n := node
		res := &MemoryResult{
			Node:      &n,
			Relevance: n.Importance * n.Accessibility,
			Source:    SourceGraph,
		}
		if entry, ok := m.entryFor(&n); ok {
			res.Entry = &entry
		}
		out = append(out, res)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Node, out[j].Node
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Manager) belongsTo(node *graph.Node, agentID string) bool {
	if node.Metadata[MetaAgentID] == agentID {
		return true
	}
	for _, nb := range m.graph.GetNeighbors(node.ID) {
		if nb.Node.ID == agentID {
			return true
		}
	}
	return false
}

// GetMemoryContext returns a memory with its direct neighbors and, when
// radius is at least 2, the neighbors of those neighbors.
func (m *Manager) GetMemoryContext(memoryID string, radius int) (*MemoryContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, err := m.graph.GetNode(memoryID)
	if err != nil {
		return nil, NewMemoryError("GetMemoryContext", err)
	}
	out := &MemoryContext{
		Memory:   node,
		Related:  m.graph.GetNeighbors(memoryID),
		Incoming: m.graph.GetIncoming(memoryID),
	}
	if radius >= 2 {
		for _, nb := range out.Related {
			out.SecondDegree = append(out.SecondDegree, m.graph.GetNeighbors(nb.Node.ID)...)
		}
	}
	return out, nil
}

// ConsolidateAgentMemories groups an agent's memories into similarity
// clusters, extracts frequent concepts and builds a chronological timeline.
func (m *Manager) ConsolidateAgentMemories(ctx context.Context, agentID string) (*intelligence.Consolidation, error) {
	memories, err := m.GetAgentMemories(ctx, agentID, -1)
	if err != nil {
		return nil, NewMemoryError("ConsolidateAgentMemories", err)
	}

	items := make([]intelligence.Item, 0, len(memories))
	for _, r := range memories {
		it := intelligence.Item{
			ID:         r.Node.ID,
			Content:    r.Node.Content,
			Kind:       string(r.Node.Kind),
			Importance: r.Node.Importance,
			CreatedAt:  r.Node.CreatedAt,
		}
		if r.Entry != nil {
			it.Embedding = r.Entry.Embedding
		}
		items = append(items, it)
	}
	return m.consolidator.Consolidate(agentID, items), nil
}

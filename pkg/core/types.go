package core

import (
	"time"

	"github.com/cognisphere/hybridmem-go/pkg/cache"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

// DefaultMaxResults is used when a query does not set MaxResults.
const DefaultMaxResults = 10

// Metadata keys written by the manager.
const (
	MetaAgentID          = vector.MetaAgentID
	MetaGraphNodeID      = vector.MetaGraphNodeID
	MetaVectorID         = "vector_id"
	MetaOtherAgentID     = "other_agent_id"
	MetaRelationshipType = "relationship_type"
)

// Result sources.
const (
	SourceVector = "vector"
	SourceGraph  = "graph"
	SourceHybrid = "hybrid"
)

// MemoryQuery describes a hybrid search.
//
// Example:
//
//	results, err := mgr.Search(ctx, &core.MemoryQuery{
//	    Text:       "traded energy",
//	    Kinds:      []graph.Kind{graph.KindEpisodic},
//	    Relations:  []graph.Relation{graph.RelTradedWith},
//	    MaxResults: 5,
//	})
type MemoryQuery struct {
	// Text is embedded for the vector path and tokenized for the graph path.
	Text string `json:"text"`

	// Kinds restricts results to these memory kinds (optional).
	Kinds []graph.Kind `json:"kinds,omitempty"`

	// Relations enables the graph path and restricts the neighbor
	// relationships attached to its results (optional).
	Relations []graph.Relation `json:"relations,omitempty"`

	// ImportanceThreshold drops results whose relevance (vector path) or
	// importance (graph path) is lower.
	ImportanceThreshold float64 `json:"importance_threshold"`

	// SimilarityThreshold drops vector hits with a lower similarity.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// MaxResults caps the result count (default 10).
	MaxResults int `json:"max_results"`

	// ContextMemories are node ids whose embeddings are blended into the
	// query embedding, pulling results toward what the agent is already
	// recalling (optional).
	ContextMemories []string `json:"context_memories,omitempty"`
}

// MemoryResult is one search hit.
type MemoryResult struct {
	// Node is the graph node, nil for vector entries whose node is gone.
	Node *graph.Node `json:"memory_node,omitempty"`

	// Entry is the vector entry, nil for graph-only hits.
	Entry *vector.Entry `json:"vector_memory,omitempty"`

	// Similarity is the inner product with the query embedding.
	Similarity float64 `json:"similarity_score"`

	// Relevance is the fused ranking score.
	Relevance float64 `json:"relevance_score"`

	// RelationshipPath is the graph hit followed by its related neighbors.
	RelationshipPath []string `json:"relationship_path,omitempty"`

	// Source is vector, graph or hybrid.
	Source string `json:"source"`
}

// ID returns the graph node id when the result has a node, otherwise the
// vector entry id.
func (r *MemoryResult) ID() string {
	if r.Node != nil {
		return r.Node.ID
	}
	if r.Entry != nil {
		return r.Entry.ID
	}
	return ""
}

// Content returns the remembered text.
func (r *MemoryResult) Content() string {
	if r.Node != nil {
		return r.Node.Content
	}
	if r.Entry != nil {
		return r.Entry.Content
	}
	return ""
}

func (r *MemoryResult) clone() *MemoryResult {
	c := *r
	if r.Node != nil {
		n := r.Node.Clone()
		c.Node = &n
	}
	if r.Entry != nil {
		e := r.Entry.Clone()
		c.Entry = &e
	}
	c.RelationshipPath = append([]string(nil), r.RelationshipPath...)
	return &c
}

func cloneResults(in []*MemoryResult) []*MemoryResult {
	out := make([]*MemoryResult, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}

// MemoryContext is a memory with its graph neighborhood.
type MemoryContext struct {
	Memory graph.Node `json:"memory"`

	// Related are the targets of the memory's outgoing edges.
	Related []graph.Neighbor `json:"related_memories"`

	// Incoming are the sources of edges pointing at the memory.
	Incoming []graph.Neighbor `json:"incoming,omitempty"`

	// SecondDegree are the outgoing neighbors of Related, filled when the
	// radius is at least 2.
	SecondDegree []graph.Neighbor `json:"relationships,omitempty"`
}

// CleanupReport counts what a cleanup pass removed.
type CleanupReport struct {
	GraphNodesRemoved    int `json:"graph_memories_removed"`
	VectorEntriesRemoved int `json:"vector_memories_removed"`
	EdgesRemoved         int `json:"relationships_removed"`
}

// Removed returns the number of removed graph nodes and edges.
func (r *CleanupReport) Removed() int {
	return r.GraphNodesRemoved + r.EdgesRemoved
}

// QueryStats counts searches since the manager was created.
type QueryStats struct {
	TotalQueries   uint64 `json:"total_queries"`
	CacheHits      uint64 `json:"cache_hits"`
	VectorSearches uint64 `json:"vector_searches"`
	GraphSearches  uint64 `json:"graph_searches"`
	HybridSearches uint64 `json:"hybrid_searches"`
}

// Statistics summarizes the whole memory system.
type Statistics struct {
	GraphID         string           `json:"graph_id"`
	Graph           graph.Statistics `json:"graph_memory"`
	Vector          vector.Stats     `json:"vector_memory"`
	Queries         QueryStats       `json:"query_stats"`
	Cache           cache.Stats      `json:"cache_stats"`
	LastMaintenance time.Time        `json:"last_maintenance"`
}

package intelligence

import "time"

// Item is one memory as seen by the consolidation analysis.
type Item struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Kind       string    `json:"kind"`
	Importance float64   `json:"importance"`
	Embedding  []float64 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Concept is a frequent content token with a few example memories.
type Concept struct {
	Concept   string   `json:"concept"`
	Frequency int      `json:"frequency"`
	Examples  []string `json:"examples"`
}

// TimelineEntry is one memory placed in time.
type TimelineEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Content    string    `json:"content"`
	Kind       string    `json:"kind"`
	Importance float64   `json:"importance"`
}

// Consolidation summarizes an agent's memories.
type Consolidation struct {
	AgentID       string          `json:"agent_id"`
	TotalMemories int             `json:"total_memories"`
	ByKind        map[string]int  `json:"by_kind"`
	Clusters      [][]Item        `json:"memory_clusters"`
	Concepts      []Concept       `json:"consolidated_concepts"`
	Timeline      []TimelineEntry `json:"timeline"`
}

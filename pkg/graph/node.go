// Package graph provides the in-memory multi-relational memory graph.
//
// Nodes and edges are owned by a Store and addressed by id. Callers only ever
// receive copies, so mutations go through the Store methods that keep the
// bounded fields clamped and the content index consistent.
package graph

import (
	"math"
	"time"
)

// NodeType distinguishes memories from the agents they belong to.
type NodeType string

const (
	// NodeTypeMemory is a unit of remembered content.
	NodeTypeMemory NodeType = "memory"

	// NodeTypeAgent is an anchor node representing an agent.
	NodeTypeAgent NodeType = "agent"
)

// Kind is the cognitive category of a memory node.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindSocial     Kind = "social"
	KindCultural   Kind = "cultural"
	KindEmotional  Kind = "emotional"
	KindProcedural Kind = "procedural"
)

// Kinds lists every memory kind in declaration order.
var Kinds = []Kind{KindEpisodic, KindSemantic, KindSocial, KindCultural, KindEmotional, KindProcedural}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Relation is the closed set of edge types.
type Relation string

const (
	RelKnows       Relation = "knows"
	RelTrusts      Relation = "trusts"
	RelLikes       Relation = "likes"
	RelDislikes    Relation = "dislikes"
	RelAlliesWith  Relation = "allies_with"
	RelEnemiesWith Relation = "enemies_with"
	RelTradedWith  Relation = "traded_with"
	RelBetrayed    Relation = "betrayed"
	RelCreated     Relation = "created"
	RelReferences  Relation = "references"
	RelContradicts Relation = "contradicts"
	RelDerivesFrom Relation = "derives_from"
	RelPartOf      Relation = "part_of"
	RelCauses      Relation = "causes"
	RelLeadsTo     Relation = "leads_to"
)

// Relations lists every relation in declaration order.
var Relations = []Relation{
	RelKnows, RelTrusts, RelLikes, RelDislikes, RelAlliesWith, RelEnemiesWith,
	RelTradedWith, RelBetrayed, RelCreated, RelReferences, RelContradicts,
	RelDerivesFrom, RelPartOf, RelCauses, RelLeadsTo,
}

// Valid reports whether r is one of the known relations.
func (r Relation) Valid() bool {
	for _, known := range Relations {
		if r == known {
			return true
		}
	}
	return false
}

// Default decay rates, expressed per hour.
const (
	DefaultNodeDecayRate = 0.01
	DefaultEdgeDecayRate = 0.005

	// MaxEdgeWeight is the upper bound of an edge weight.
	MaxEdgeWeight = 2.0
)

// Reinforcement applied by a single access.
const (
	accessConsolidationBoost = 0.05
	accessAccessibilityBoost = 0.05
	accessEdgeBoost          = 0.02

	consolidationAccessCount = 5
	consolidationCeiling     = 0.8
	consolidationBoost       = 0.1
)

// Node is a memory or agent vertex.
type Node struct {
	ID                    string            `json:"id"`
	Type                  NodeType          `json:"node_type"`
	Kind                  Kind              `json:"kind,omitempty"`
	Content               string            `json:"content"`
	Metadata              map[string]string `json:"metadata"`
	Importance            float64           `json:"importance"`
	Accessibility         float64           `json:"accessibility"`
	Valence               float64           `json:"valence"`
	Arousal               float64           `json:"arousal"`
	CreatedAt             time.Time         `json:"created_at"`
	LastAccessedAt        time.Time         `json:"last_accessed_at"`
	AccessCount           int               `json:"access_count"`
	DecayRate             float64           `json:"decay_rate"`
	ConsolidationStrength float64           `json:"consolidation_strength"`
}

// IsMemory reports whether the node holds memory content.
func (n *Node) IsMemory() bool {
	return n.Type == NodeTypeMemory
}

// Access reinforces the node: it is now more consolidated and easier to recall.
func (n *Node) Access(now time.Time) {
	n.AccessCount++
	n.LastAccessedAt = now
	n.ConsolidationStrength += accessConsolidationBoost
	n.Accessibility += accessAccessibilityBoost
	n.clamp()
}

// Decay lowers accessibility linearly over the elapsed hours.
func (n *Node) Decay(hours float64) {
	if hours <= 0 || n.DecayRate <= 0 {
		return
	}
	n.Accessibility -= n.DecayRate * hours
	n.clamp()
}

// consolidate bumps frequently accessed but not yet consolidated memories.
func (n *Node) consolidate() {
	if n.AccessCount > consolidationAccessCount && n.ConsolidationStrength < consolidationCeiling {
		n.ConsolidationStrength += consolidationBoost
		n.clamp()
	}
}

func (n *Node) clamp() {
	n.Importance = clamp(n.Importance, 0, 1)
	n.Accessibility = clamp(n.Accessibility, 0, 1)
	n.ConsolidationStrength = clamp(n.ConsolidationStrength, 0, 1)
	n.Valence = clamp(n.Valence, -1, 1)
	n.Arousal = clamp(n.Arousal, 0, 1)
	if n.DecayRate < 0 {
		n.DecayRate = 0
	}
	if n.AccessCount < 0 {
		n.AccessCount = 0
	}
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() Node {
	c := *n
	c.Metadata = cloneMetadata(n.Metadata)
	return c
}

// Edge is a typed, weighted, directed relationship between two nodes.
type Edge struct {
	ID             string            `json:"id"`
	SourceID       string            `json:"source_id"`
	TargetID       string            `json:"target_id"`
	Relation       Relation          `json:"relationship"`
	Weight         float64           `json:"weight"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	AccessCount    int               `json:"access_count"`
	DecayRate      float64           `json:"decay_rate"`
}

// Access strengthens the edge.
func (e *Edge) Access(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
	e.Weight += accessEdgeBoost
	e.clamp()
}

// Decay lowers the weight linearly over the elapsed hours.
func (e *Edge) Decay(hours float64) {
	if hours <= 0 || e.DecayRate <= 0 {
		return
	}
	e.Weight -= e.DecayRate * hours
	e.clamp()
}

func (e *Edge) clamp() {
	e.Weight = clamp(e.Weight, 0, MaxEdgeWeight)
	if e.DecayRate < 0 {
		e.DecayRate = 0
	}
	if e.AccessCount < 0 {
		e.AccessCount = 0
	}
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() Edge {
	c := *e
	c.Metadata = cloneMetadata(e.Metadata)
	return c
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

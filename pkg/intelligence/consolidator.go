package intelligence

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultClusterThreshold is the similarity needed to share a cluster.
	DefaultClusterThreshold = 0.7

	// DefaultMaxConcepts caps the number of extracted concepts.
	DefaultMaxConcepts = 20

	minConceptLength = 4
	maxExamples      = 3
	exampleLength    = 100
)

// Consolidator turns a set of memories into clusters, concepts and a timeline.
//
// Example usage:
//
//	c := intelligence.NewConsolidator(0.7, 20)
//	summary := c.Consolidate("agent-1", items)
type Consolidator struct {
	threshold   float64
	maxConcepts int
}

// NewConsolidator creates a consolidator. Zero values select the defaults.
func NewConsolidator(threshold float64, maxConcepts int) *Consolidator {
	if threshold == 0 {
		threshold = DefaultClusterThreshold
	}
	if maxConcepts <= 0 {
		maxConcepts = DefaultMaxConcepts
	}
	return &Consolidator{threshold: threshold, maxConcepts: maxConcepts}
}

// Consolidate analyses the given memories of one agent.
func (c *Consolidator) Consolidate(agentID string, items []Item) *Consolidation {
	out := &Consolidation{
		AgentID:       agentID,
		TotalMemories: len(items),
		ByKind:        make(map[string]int),
		Clusters:      Cluster(items, c.threshold),
		Concepts:      ExtractConcepts(items, c.maxConcepts),
		Timeline:      Timeline(items),
	}
	for _, it := range items {
		out.ByKind[it.Kind]++
	}
	return out
}

// ExtractConcepts counts lower-cased whitespace tokens longer than three
// characters and returns the most frequent, each with up to three example
// snippets. Ties are ordered alphabetically.
func ExtractConcepts(items []Item, limit int) []Concept {
	counts := make(map[string]int)
	examples := make(map[string][]string)
	for _, it := range items {
		snippet := truncate(it.Content, exampleLength)
		for _, word := range strings.Fields(strings.ToLower(it.Content)) {
			if utf8.RuneCountInString(word) < minConceptLength {
				continue
			}
			counts[word]++
			if len(examples[word]) < maxExamples {
				examples[word] = append(examples[word], snippet)
			}
		}
	}

	concepts := make([]Concept, 0, len(counts))
	for word, n := range counts {
		concepts = append(concepts, Concept{Concept: word, Frequency: n, Examples: examples[word]})
	}
	sort.Slice(concepts, func(i, j int) bool {
		if concepts[i].Frequency != concepts[j].Frequency {
			return concepts[i].Frequency > concepts[j].Frequency
		}
		return concepts[i].Concept < concepts[j].Concept
	})
	if limit > 0 && len(concepts) > limit {
		concepts = concepts[:limit]
	}
	return concepts
}

// Timeline orders memories by creation time, oldest first.
func Timeline(items []Item) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(items))
	for _, it := range items {
		out = append(out, TimelineEntry{
			ID:         it.ID,
			Timestamp:  it.CreatedAt,
			Content:    it.Content,
			Kind:       it.Kind,
			Importance: it.Importance,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

package intelligence_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/intelligence"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2}, []float64{1, 2}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-2, 0}, -1},
		{"length mismatch", []float64{1}, []float64{1, 0}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, intelligence.CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCluster(t *testing.T) {
	items := []intelligence.Item{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{0, 1}},
		{ID: "c", Embedding: []float64{0.95, 0.05}},
		{ID: "d", Embedding: []float64{0.1, 0.9}},
		{ID: "e", Embedding: []float64{-1, 0}},
	}

	clusters := intelligence.Cluster(items, 0.9)
	require.Len(t, clusters, 2)
	assert.Equal(t, "a", clusters[0][0].ID)
	assert.Equal(t, "c", clusters[0][1].ID)
	assert.Equal(t, "b", clusters[1][0].ID)
	assert.Equal(t, "d", clusters[1][1].ID)

	assert.Nil(t, intelligence.Cluster(items[:1], 0.5))
}

func TestExtractConcepts(t *testing.T) {
	long := strings.Repeat("x", 150)
	items := []intelligence.Item{
		{Content: "Trade with the river village"},
		{Content: "river trade failed"},
		{Content: "the river flooded " + long},
		{Content: "river again"},
	}

	concepts := intelligence.ExtractConcepts(items, 2)
	require.Len(t, concepts, 2)
	assert.Equal(t, "river", concepts[0].Concept)
	assert.Equal(t, 4, concepts[0].Frequency)
	assert.Len(t, concepts[0].Examples, 3)
	assert.Equal(t, "trade", concepts[1].Concept)
	assert.Equal(t, 2, concepts[1].Frequency)

	all := intelligence.ExtractConcepts(items, 0)
	for _, c := range all {
		assert.GreaterOrEqual(t, len(c.Concept), 4)
		assert.NotEqual(t, "the", c.Concept)
		for _, ex := range c.Examples {
			assert.LessOrEqual(t, len([]rune(ex)), 100)
		}
	}
}

func TestTimeline(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	items := []intelligence.Item{
		{ID: "late", CreatedAt: base.Add(2 * time.Hour), Kind: "social"},
		{ID: "early", CreatedAt: base, Kind: "episodic"},
		{ID: "mid", CreatedAt: base.Add(time.Hour), Kind: "semantic"},
	}
	tl := intelligence.Timeline(items)
	require.Len(t, tl, 3)
	assert.Equal(t, "early", tl[0].ID)
	assert.Equal(t, "mid", tl[1].ID)
	assert.Equal(t, "late", tl[2].ID)
}

func TestConsolidator(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	items := []intelligence.Item{
		{ID: "1", Content: "harvest wheat today", Kind: "episodic", Embedding: []float64{1, 0}, CreatedAt: base},
		{ID: "2", Content: "harvest wheat tomorrow", Kind: "episodic", Embedding: []float64{1, 0.1}, CreatedAt: base.Add(time.Hour)},
		{ID: "3", Content: "wheat grows in spring", Kind: "semantic", Embedding: []float64{0, 1}, CreatedAt: base.Add(-time.Hour)},
	}

	c := intelligence.NewConsolidator(0, 0)
	summary := c.Consolidate("agent-1", items)
	assert.Equal(t, "agent-1", summary.AgentID)
	assert.Equal(t, 3, summary.TotalMemories)
	assert.Equal(t, map[string]int{"episodic": 2, "semantic": 1}, summary.ByKind)
	require.Len(t, summary.Clusters, 1)
	assert.Len(t, summary.Clusters[0], 2)
	require.NotEmpty(t, summary.Concepts)
	assert.Equal(t, "wheat", summary.Concepts[0].Concept)
	assert.Equal(t, "3", summary.Timeline[0].ID)
}

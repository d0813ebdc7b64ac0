package storage_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/storage"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

func sampleSnapshot(graphID string, at time.Time) *storage.Snapshot {
	snap := storage.NewSnapshot(graphID)
	snap.ExportedAt = at
	snap.LastMaintenance = at.Add(-time.Hour)
	snap.Nodes["n1"] = graph.Node{
		ID: "n1", Type: graph.NodeTypeMemory, Kind: graph.KindEpisodic,
		Content: "traded food for energy", Metadata: map[string]string{"agent_id": "a1"},
		Importance: 0.7, Accessibility: 1, CreatedAt: at, LastAccessedAt: at,
		DecayRate: graph.DefaultNodeDecayRate,
	}
	snap.Nodes["a1"] = graph.Node{
		ID: "a1", Type: graph.NodeTypeAgent, Content: "trader",
		Metadata: map[string]string{}, Importance: 1, Accessibility: 1, CreatedAt: at, LastAccessedAt: at,
	}
	snap.Edges["e1"] = graph.Edge{
		ID: "e1", SourceID: "a1", TargetID: "n1", Relation: graph.RelCreated,
		Weight: 1, Metadata: map[string]string{}, CreatedAt: at, LastAccessedAt: at,
		DecayRate: graph.DefaultEdgeDecayRate,
	}
	snap.VectorEntries["v1"] = vector.Entry{
		ID: "v1", Content: "traded food for energy", Embedding: []float64{0.6, 0.8},
		Kind: "episodic", Importance: 0.7,
		Metadata:  map[string]string{vector.MetaGraphNodeID: "n1"},
		CreatedAt: at, LastAccessedAt: at,
	}
	return snap
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	snap := sampleSnapshot("g1", at)

	var buf bytes.Buffer
	require.NoError(t, snap.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"relationship": "created"`)

	got, err := storage.ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GraphID)
	assert.True(t, at.Equal(got.ExportedAt))
	assert.True(t, snap.LastMaintenance.Equal(got.LastMaintenance))
	assert.Equal(t, snap.Nodes["n1"].Content, got.Nodes["n1"].Content)
	assert.Equal(t, snap.Edges["e1"].Relation, got.Edges["e1"].Relation)
	assert.Equal(t, []float64{0.6, 0.8}, got.VectorEntries["v1"].Embedding)
	assert.Equal(t, "n1", got.VectorEntries["v1"].GraphNodeID())
}

func TestReadJSON_FillsMissingMaps(t *testing.T) {
	got, err := storage.ReadJSON(strings.NewReader(`{"graph_id":"empty"}`))
	require.NoError(t, err)
	assert.NotNil(t, got.Nodes)
	assert.NotNil(t, got.Edges)
	assert.NotNil(t, got.VectorEntries)

	_, err = storage.ReadJSON(strings.NewReader(`{"graph_id":`))
	assert.Error(t, err)
}

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/storage"
	"github.com/cognisphere/hybridmem-go/pkg/storage/sqlite"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

func newStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "nested", "memories.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshot(graphID string, at time.Time) *storage.Snapshot {
	snap := storage.NewSnapshot(graphID)
	snap.ExportedAt = at
	snap.Nodes["n1"] = graph.Node{
		ID: "n1", Type: graph.NodeTypeMemory, Kind: graph.KindSemantic,
		Content: "rivers flood in spring", Metadata: map[string]string{"agent_id": "a1"},
		Importance: 0.5, Accessibility: 0.8, CreatedAt: at, LastAccessedAt: at,
	}
	snap.Nodes["a1"] = graph.Node{
		ID: "a1", Type: graph.NodeTypeAgent, Content: "farmer",
		Metadata: map[string]string{}, CreatedAt: at, LastAccessedAt: at,
	}
	snap.Edges["e1"] = graph.Edge{
		ID: "e1", SourceID: "a1", TargetID: "n1", Relation: graph.RelKnows,
		Weight: 1, Metadata: map[string]string{}, CreatedAt: at, LastAccessedAt: at,
	}
	snap.VectorEntries["v1"] = vector.Entry{
		ID: "v1", Content: "rivers flood in spring", Embedding: []float64{1, 0},
		Kind: "semantic", Metadata: map[string]string{vector.MetaGraphNodeID: "n1"},
		CreatedAt: at, LastAccessedAt: at,
	}
	return snap
}

func TestSQLite_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	at := time.Date(2024, 5, 2, 8, 0, 0, 42, time.UTC)

	require.NoError(t, store.Save(ctx, snapshot("village", at)))

	got, err := store.Load(ctx, "village")
	require.NoError(t, err)
	assert.True(t, at.Equal(got.ExportedAt))
	assert.True(t, got.LastMaintenance.IsZero())
	require.Len(t, got.Nodes, 2)
	require.Len(t, got.Edges, 1)
	require.Len(t, got.VectorEntries, 1)
	assert.Equal(t, "rivers flood in spring", got.Nodes["n1"].Content)
	assert.Equal(t, graph.RelKnows, got.Edges["e1"].Relation)
	assert.Equal(t, "n1", got.VectorEntries["v1"].GraphNodeID())

	// saving again replaces rather than appends
	next := snapshot("village", at.Add(time.Minute))
	delete(next.Nodes, "a1")
	delete(next.Edges, "e1")
	require.NoError(t, store.Save(ctx, next))
	got, err = store.Load(ctx, "village")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Edges)
}

func TestSQLite_LatestListDelete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, snapshot("b", base)))
	require.NoError(t, store.Save(ctx, snapshot("a", base.Add(time.Hour))))

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", latest.GraphID)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	latest, err = store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.GraphID)
}

func TestSQLite_RejectsAnonymousSnapshot(t *testing.T) {
	store := newStore(t)
	assert.Error(t, store.Save(context.Background(), storage.NewSnapshot("")))
	assert.Error(t, store.Save(context.Background(), nil))
}

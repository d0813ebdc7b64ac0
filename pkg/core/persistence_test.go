package core_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/core"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
)

func populate(t *testing.T, mgr *core.Manager, clock *testClock) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mgr.RegisterAgent("a1", "trader"))
	require.NoError(t, mgr.RegisterAgent("a2", "fisher"))
	_, _, err := mgr.AddEpisodicMemory(ctx, "agent traded food for energy", "a1", 0.6)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, _, err = mgr.AddSemanticMemory(ctx, "salt keeps fish fresh", "a2", 0.5)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, _, err = mgr.AddSocialMemory(ctx, "traded salt with the fisher", "a1", "a2", graph.RelTradedWith, 0.7)
	require.NoError(t, err)
	require.NoError(t, mgr.Consolidate(ctx, time.Hour))
}

func TestExportImportJSON_RoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	src := newTestManager(t, clock)
	populate(t, src, clock)

	var exported bytes.Buffer
	require.NoError(t, src.ExportJSON(&exported))

	dst := newTestManager(t, clock)
	require.NoError(t, dst.ImportJSON(ctx, bytes.NewReader(exported.Bytes())))
	assert.Equal(t, src.GraphID(), dst.GraphID())
	assert.Equal(t, src.LastMaintenance(), dst.LastMaintenance())

	var reexported bytes.Buffer
	require.NoError(t, dst.ExportJSON(&reexported))
	assert.JSONEq(t, exported.String(), reexported.String())

	results, err := dst.Search(ctx, &core.MemoryQuery{Text: "traded energy"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "agent traded food for energy", results[0].Content())
}

func TestImportJSON_Malformed(t *testing.T) {
	mgr := newTestManager(t, newTestClock())

	err := mgr.ImportJSON(context.Background(), strings.NewReader("{not json"))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestImport_DanglingEdgeKeepsState(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	mgr := newTestManager(t, clock)
	populate(t, mgr, clock)
	before := mgr.Statistics()

	snap := mgr.Export()
	for id, e := range snap.Edges {
		e.TargetID = "missing"
		snap.Edges[id] = e
		break
	}

	err := mgr.Import(ctx, snap)
	assert.ErrorIs(t, err, core.ErrDanglingReference)

	after := mgr.Statistics()
	assert.Equal(t, before.Graph, after.Graph)
	assert.Equal(t, before.Vector.Entries, after.Vector.Entries)
}

func TestImport_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	src := newTestManager(t, clock)
	populate(t, src, clock)
	snap := src.Export()

	dst := newTestManager(t, clock, core.WithEmbedder(&switchableEmbedder{}))
	err := dst.Import(ctx, snap)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.Zero(t, dst.Statistics().Graph.TotalNodes)
}

func TestSnapshotStore_SQLite(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	src := newTestManager(t, clock)
	populate(t, src, clock)

	store, err := core.OpenSnapshotStore(core.StorageConfig{
		Provider:    "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "snapshots.db"),
		TablePrefix: "test",
	})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, src.SaveSnapshot(ctx, store))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-graph"}, ids)

	dst := newTestManager(t, clock)
	require.NoError(t, dst.LoadSnapshot(ctx, store, ""))

	want, got := src.Statistics(), dst.Statistics()
	assert.Equal(t, want.GraphID, got.GraphID)
	assert.Equal(t, want.Graph, got.Graph)
	assert.Equal(t, want.Vector.Entries, got.Vector.Entries)

	err = dst.LoadSnapshot(ctx, store, "unknown-graph")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestOpenSnapshotStore_UnknownProvider(t *testing.T) {
	_, err := core.OpenSnapshotStore(core.StorageConfig{Provider: "cassandra"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

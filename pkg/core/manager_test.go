package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/core"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.GraphID = "test-graph"
	cfg.Embedder.Dimensions = 128
	return cfg
}

func newTestManager(t *testing.T, clock *testClock, opts ...core.ManagerOption) *core.Manager {
	t.Helper()
	base := []core.ManagerOption{
		core.WithLogger(zerolog.Nop()),
		core.WithRegistry(prometheus.NewRegistry()),
		core.WithClock(clock.Now),
	}
	mgr, err := core.NewManager(testConfig(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

// brokenEmbedder reports dimension 8 but fails or returns short vectors.
type brokenEmbedder struct {
	err   error
	short bool
}

func (b *brokenEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if b.short {
		return []float64{1, 0, 0, 0}, nil
	}
	return nil, b.err
}

func (b *brokenEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := b.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (b *brokenEmbedder) Dimensions() int { return 8 }
func (b *brokenEmbedder) Close() error    { return nil }

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.VectorIndex.Backend = "annoy"

	_, err := core.NewManager(cfg, core.WithLogger(zerolog.Nop()))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewManager_UnknownEmbeddingModel(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Embedder.Provider = "openai"
	cfg.Embedder.APIKey = "test"
	cfg.Embedder.Model = "no-such-model"

	_, err := core.NewManager(cfg, core.WithLogger(zerolog.Nop()))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewManager_UsesConfiguredGraphID(t *testing.T) {
	mgr := newTestManager(t, newTestClock())
	assert.Equal(t, "test-graph", mgr.GraphID())
	assert.Equal(t, 128, mgr.Statistics().Vector.Dimension)
}

func TestAddEpisodicMemory_CrossLinksStores(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, newTestClock())
	require.NoError(t, mgr.RegisterAgent("a1", "river trader"))

	nodeID, vectorID, err := mgr.AddEpisodicMemory(ctx, "agent traded food for energy", "a1", 0.6,
		core.WithValence(0.4), core.WithMetadata(map[string]string{"tick": "12"}))
	require.NoError(t, err)
	require.NotEmpty(t, nodeID)
	require.NotEmpty(t, vectorID)

	res, err := mgr.GetMemory(nodeID)
	require.NoError(t, err)
	require.NotNil(t, res.Entry)
	assert.Equal(t, vectorID, res.Entry.ID)
	assert.Equal(t, nodeID, res.Entry.Metadata[core.MetaGraphNodeID])
	assert.Equal(t, vectorID, res.Node.Metadata[core.MetaVectorID])
	assert.Equal(t, "a1", res.Node.Metadata[core.MetaAgentID])
	assert.Equal(t, "12", res.Entry.Metadata["tick"])
	assert.Equal(t, graph.KindEpisodic, res.Node.Kind)
	assert.InDelta(t, 0.4, res.Node.Valence, 1e-9)
	assert.InDelta(t, 1.0, res.Node.Accessibility, 1e-9)

	ctxMem, err := mgr.GetMemoryContext(nodeID, 1)
	require.NoError(t, err)
	require.Len(t, ctxMem.Related, 1)
	assert.Equal(t, "a1", ctxMem.Related[0].Node.ID)
	assert.Equal(t, graph.RelCreated, ctxMem.Related[0].Edge.Relation)

	stats := mgr.Statistics()
	assert.Equal(t, 1, stats.Graph.MemoryNodes)
	assert.Equal(t, 1, stats.Graph.AgentNodes)
	assert.Equal(t, 1, stats.Graph.TotalEdges)
	assert.Equal(t, 1, stats.Vector.Entries)
}

func TestAddSemanticMemory_KnowsEdgeAndLowerAccessibility(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, newTestClock())
	require.NoError(t, mgr.RegisterAgent("a1", ""))

	nodeID, _, err := mgr.AddSemanticMemory(ctx, "fish spawn upstream in spring", "a1", 0.5)
	require.NoError(t, err)

	res, err := mgr.GetMemory(nodeID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, res.Node.Accessibility, 1e-9)

	mc, err := mgr.GetMemoryContext(nodeID, 1)
	require.NoError(t, err)
	require.Len(t, mc.Related, 1)
	assert.Equal(t, graph.RelKnows, mc.Related[0].Edge.Relation)
}

func TestAddMemory_UnregisteredAgentIsNotLinked(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, newTestClock())

	nodeID, _, err := mgr.AddMemory(ctx, graph.KindProcedural, "stack wood before lighting", "ghost", 0.3)
	require.NoError(t, err)

	mc, err := mgr.GetMemoryContext(nodeID, 1)
	require.NoError(t, err)
	assert.Empty(t, mc.Related)
	assert.Equal(t, "ghost", mc.Memory.Metadata[core.MetaAgentID])
}

func TestAddSocialMemory_LinksBothAgents(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, newTestClock())
	require.NoError(t, mgr.RegisterAgent("a1", "trader"))
	require.NoError(t, mgr.RegisterAgent("a2", "fisher"))

	nodeID, _, err := mgr.AddSocialMemory(ctx, "traded salt with the fisher", "a1", "a2", graph.RelTradedWith, 0.7)
	require.NoError(t, err)

	mc, err := mgr.GetMemoryContext(nodeID, 2)
	require.NoError(t, err)
	related := map[string]graph.Relation{}
	for _, nb := range mc.Related {
		related[nb.Node.ID] = nb.Edge.Relation
	}
	assert.Equal(t, map[string]graph.Relation{"a1": graph.RelCreated, "a2": graph.RelTradedWith}, related)
	assert.Equal(t, "a2", mc.Memory.Metadata[core.MetaOtherAgentID])
	assert.Equal(t, "traded_with", mc.Memory.Metadata[core.MetaRelationshipType])

	assert.Equal(t, []string{"a1", "a2"}, mgr.ShortestPath("a1", "a2", graph.RelTradedWith))
	assert.Len(t, mgr.ConnectedComponents(), 1)
}

func TestAddSocialMemory_RejectsUnknownRelation(t *testing.T) {
	mgr := newTestManager(t, newTestClock())

	_, _, err := mgr.AddSocialMemory(context.Background(), "x", "a1", "a2", graph.Relation("hugs"), 0.5)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestAdd_InvalidInputLeavesStoresEmpty(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, newTestClock())

	_, _, err := mgr.AddEpisodicMemory(ctx, "   ", "a1", 0.5)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, _, err = mgr.AddMemory(ctx, graph.Kind("dream"), "flying", "a1", 0.5)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	stats := mgr.Statistics()
	assert.Zero(t, stats.Graph.TotalNodes)
	assert.Zero(t, stats.Vector.Entries)
}

func TestAdd_EmbeddingFailureSkipsWrite(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("provider down")
	mgr := newTestManager(t, newTestClock(), core.WithEmbedder(&brokenEmbedder{err: boom}))

	_, _, err := mgr.AddEpisodicMemory(ctx, "agent traded food for energy", "a1", 0.6)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var memErr *core.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, "AddEpisodicMemory", memErr.Op)
	assert.Zero(t, mgr.Statistics().Graph.TotalNodes)
}

func TestAdd_DimensionMismatchDropsNode(t *testing.T) {
	mgr := newTestManager(t, newTestClock(), core.WithEmbedder(&brokenEmbedder{short: true}))

	_, _, err := mgr.AddEpisodicMemory(context.Background(), "agent traded food for energy", "a1", 0.6)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	stats := mgr.Statistics()
	assert.Zero(t, stats.Graph.TotalNodes)
	assert.Zero(t, stats.Vector.Entries)
}

func TestRegisterAgent_UpdatesDescription(t *testing.T) {
	mgr := newTestManager(t, newTestClock())
	require.NoError(t, mgr.RegisterAgent("a1", "young trader"))
	require.NoError(t, mgr.RegisterAgent("a1", "old trader"))

	res, err := mgr.GetMemory("a1")
	require.NoError(t, err)
	assert.Equal(t, "old trader", res.Node.Content)
	assert.Equal(t, graph.NodeTypeAgent, res.Node.Type)
	assert.Equal(t, 1, mgr.Statistics().Graph.TotalNodes)

	assert.ErrorIs(t, mgr.RegisterAgent("", "nobody"), core.ErrInvalidInput)
}

func TestRegisterAgent_UpdateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, newTestClock())
	require.NoError(t, mgr.RegisterAgent("a1", "young trader"))
	_, _, err := mgr.AddEpisodicMemory(ctx, "sold salt at the market", "a1", 0.6)
	require.NoError(t, err)

	q := &core.MemoryQuery{Text: "salt market"}
	_, err = mgr.Search(ctx, q)
	require.NoError(t, err)
	_, err = mgr.Search(ctx, q)
	require.NoError(t, err)
	require.Equal(t, uint64(1), mgr.Statistics().Queries.CacheHits)

	require.NoError(t, mgr.RegisterAgent("a1", "old trader"))
	_, err = mgr.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mgr.Statistics().Queries.CacheHits)
}

func TestAddRelationship_DanglingReference(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, newTestClock())
	a, _, err := mgr.AddEpisodicMemory(ctx, "storm hit the village", "a1", 0.8)
	require.NoError(t, err)
	b, _, err := mgr.AddEpisodicMemory(ctx, "the granary flooded", "a1", 0.7)
	require.NoError(t, err)

	edgeID, err := mgr.AddRelationship(a, b, graph.RelCauses, 1.5)
	require.NoError(t, err)
	assert.NotEmpty(t, edgeID)
	assert.Equal(t, []string{a, b}, mgr.ShortestPath(a, b))

	_, err = mgr.AddRelationship(a, "missing", graph.RelCauses, 1)
	assert.ErrorIs(t, err, core.ErrDanglingReference)
}

func TestGetMemory_NotFound(t *testing.T) {
	mgr := newTestManager(t, newTestClock())

	_, err := mgr.GetMemory("nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

package core_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/core"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
)

func TestAsyncManager_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	am := core.WrapAsync(newTestManager(t, newTestClock()))
	require.NoError(t, am.RegisterAgent("a1", ""))
	require.NoError(t, am.RegisterAgent("a2", ""))

	var chans []<-chan *core.AddResult
	for i := 0; i < 20; i++ {
		chans = append(chans, am.AddEpisodicMemoryAsync(ctx, fmt.Sprintf("harvest day %d", i), "a1", 0.5))
	}
	chans = append(chans,
		am.AddSemanticMemoryAsync(ctx, "harvest needs rain", "a1", 0.6),
		am.AddSocialMemoryAsync(ctx, "shared the harvest", "a1", "a2", graph.RelAlliesWith, 0.7),
	)

	seen := map[string]bool{}
	for _, ch := range chans {
		res := <-ch
		require.NoError(t, res.Error)
		assert.False(t, seen[res.NodeID])
		seen[res.NodeID] = true
	}
	am.Wait()

	stats := am.Statistics()
	assert.Equal(t, 22, stats.Graph.MemoryNodes)
	assert.Equal(t, 22, stats.Vector.Entries)

	search := <-am.SearchAsync(ctx, &core.MemoryQuery{Text: "harvest", MaxResults: 5})
	require.NoError(t, search.Error)
	assert.Len(t, search.Results, 5)

	require.NoError(t, <-am.ConsolidateAsync(ctx, time.Hour))

	cleanup := <-am.CleanupWeakAsync(ctx, 0.1)
	require.NoError(t, cleanup.Error)
	assert.Zero(t, cleanup.Report.GraphNodesRemoved)
}

func TestAsyncManager_ErrorsArriveOnChannel(t *testing.T) {
	am := core.WrapAsync(newTestManager(t, newTestClock()))

	res := <-am.AddEpisodicMemoryAsync(context.Background(), "", "a1", 0.5)
	assert.ErrorIs(t, res.Error, core.ErrInvalidInput)
	assert.Empty(t, res.NodeID)

	search := <-am.SearchAsync(context.Background(), &core.MemoryQuery{})
	assert.ErrorIs(t, search.Error, core.ErrInvalidInput)
}

package cache_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/cache"
)

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := cache.New[int](2)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestCache_StatsAndPurge(t *testing.T) {
	c, err := cache.New[string](0)
	require.NoError(t, err)

	c.Put("k", "v")
	c.Get("k")
	c.Get("missing")

	st := c.Stats()
	assert.Equal(t, cache.DefaultCapacity, st.Capacity)
	assert.Equal(t, 1, st.Size)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Hits)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, err := cache.New[int](50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", g, i%20)
				c.Put(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

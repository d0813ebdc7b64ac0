// Package cache provides the bounded query result cache.
package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// Cache is a fixed-capacity least-recently-used cache guarded by its own
// mutex, independent of any store lock held by the caller.
type Cache[V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, V]
	capacity int
	hits     uint64
	misses   uint64
}

// Stats reports cache occupancy and effectiveness.
type Stats struct {
	Size     int     `json:"cache_size"`
	Capacity int     `json:"capacity"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"cache_hit_rate"`
}

// New creates a cache holding at most capacity entries.
func New[V any](capacity int) (*Cache[V], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := simplelru.NewLRU[string, V](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache[V]{lru: l, capacity: capacity}, nil
}

// Get returns the cached value and marks it recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores a value, evicting the least recently used entry when full.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

// Purge drops every entry. Counters are kept.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		Size:     c.lru.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}

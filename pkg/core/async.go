package core

import (
	"context"
	"sync"
	"time"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
)

// AsyncManager provides asynchronous memory operations.
//
// It wraps the synchronous Manager and runs each operation in its own
// goroutine, which suits simulations that record memories for many agents
// per tick. Every async method returns a buffered channel that receives
// exactly one result and is then closed. Wait blocks until all started
// operations have finished.
//
// Example:
//
//	am, _ := core.NewAsyncManager(cfg)
//	defer am.Close()
//
//	ch := am.AddEpisodicMemoryAsync(ctx, "agent traded food for energy", "a1", 0.6)
//	if res := <-ch; res.Error != nil {
//	    log.Fatal(res.Error)
//	}
type AsyncManager struct {
	*Manager
	wg sync.WaitGroup
}

// AddResult is the outcome of an asynchronous write.
type AddResult struct {
	NodeID   string
	VectorID string
	Error    error
}

// SearchResult is the outcome of an asynchronous search.
type SearchResult struct {
	Results []*MemoryResult
	Error   error
}

// CleanupResult is the outcome of an asynchronous cleanup.
type CleanupResult struct {
	Report *CleanupReport
	Error  error
}

// NewAsyncManager creates a manager whose operations can run asynchronously.
func NewAsyncManager(cfg *Config, opts ...ManagerOption) (*AsyncManager, error) {
	m, err := NewManager(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncManager{Manager: m}, nil
}

// WrapAsync adds asynchronous operations to an existing manager.
func WrapAsync(m *Manager) *AsyncManager {
	return &AsyncManager{Manager: m}
}

func (am *AsyncManager) goAdd(fn func() (string, string, error)) <-chan *AddResult {
	resultChan := make(chan *AddResult, 1)
	am.wg.Add(1)

	go func() {
		defer am.wg.Done()
		nodeID, vectorID, err := fn()
		resultChan <- &AddResult{NodeID: nodeID, VectorID: vectorID, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// AddEpisodicMemoryAsync runs AddEpisodicMemory in a goroutine.
func (am *AsyncManager) AddEpisodicMemoryAsync(ctx context.Context, content, agentID string, importance float64, opts ...MemoryOption) <-chan *AddResult {
	return am.goAdd(func() (string, string, error) {
		return am.AddEpisodicMemory(ctx, content, agentID, importance, opts...)
	})
}

// AddSemanticMemoryAsync runs AddSemanticMemory in a goroutine.
func (am *AsyncManager) AddSemanticMemoryAsync(ctx context.Context, content, agentID string, importance float64, opts ...MemoryOption) <-chan *AddResult {
	return am.goAdd(func() (string, string, error) {
		return am.AddSemanticMemory(ctx, content, agentID, importance, opts...)
	})
}

// AddSocialMemoryAsync runs AddSocialMemory in a goroutine.
func (am *AsyncManager) AddSocialMemoryAsync(ctx context.Context, content, agentID, otherAgentID string, relation graph.Relation, importance float64, opts ...MemoryOption) <-chan *AddResult {
	return am.goAdd(func() (string, string, error) {
		return am.AddSocialMemory(ctx, content, agentID, otherAgentID, relation, importance, opts...)
	})
}

// SearchAsync runs Search in a goroutine.
func (am *AsyncManager) SearchAsync(ctx context.Context, q *MemoryQuery) <-chan *SearchResult {
	resultChan := make(chan *SearchResult, 1)
	am.wg.Add(1)

	go func() {
		defer am.wg.Done()
		results, err := am.Search(ctx, q)
		resultChan <- &SearchResult{Results: results, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// ConsolidateAsync runs Consolidate in a goroutine.
func (am *AsyncManager) ConsolidateAsync(ctx context.Context, dt time.Duration) <-chan error {
	resultChan := make(chan error, 1)
	am.wg.Add(1)

	go func() {
		defer am.wg.Done()
		resultChan <- am.Consolidate(ctx, dt)
		close(resultChan)
	}()

	return resultChan
}

// CleanupWeakAsync runs CleanupWeak in a goroutine.
func (am *AsyncManager) CleanupWeakAsync(ctx context.Context, threshold float64) <-chan *CleanupResult {
	resultChan := make(chan *CleanupResult, 1)
	am.wg.Add(1)

	go func() {
		defer am.wg.Done()
		report, err := am.CleanupWeak(ctx, threshold)
		resultChan <- &CleanupResult{Report: report, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// Wait blocks until every started operation has completed.
func (am *AsyncManager) Wait() {
	am.wg.Wait()
}

// Close waits for pending operations and closes the manager.
func (am *AsyncManager) Close() error {
	am.wg.Wait()
	return am.Manager.Close()
}

package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cognisphere/hybridmem-go/pkg/cache"
	"github.com/cognisphere/hybridmem-go/pkg/embedder"
	"github.com/cognisphere/hybridmem-go/pkg/embedder/local"
	openaiEmbedder "github.com/cognisphere/hybridmem-go/pkg/embedder/openai"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/intelligence"
	"github.com/cognisphere/hybridmem-go/pkg/logging"
	"github.com/cognisphere/hybridmem-go/pkg/metrics"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

// semanticAccessibility is the initial accessibility of semantic memories.
const semanticAccessibility = 0.8

// idNodeNumber is the snowflake node number of manager-allocated ids. The
// graph store and the vector index use their own numbers.
const idNodeNumber = 3

// Manager is the single entry point of the hybrid memory engine.
//
// Every write creates a graph node and a vector entry for the same content and
// cross-links them by id. Reads fan out to the vector index and, when
// relationship filters are given, to the graph store, then fuse the results.
//
// The manager is safe for concurrent use. Composite writes hold the manager
// lock exclusively, so a search never observes a node without its entry.
//
// Example usage:
//
//	mgr, _ := core.NewManager(core.DefaultConfig())
//	defer mgr.Close()
//
//	_ = mgr.RegisterAgent("a1", "river trader")
//	mgr.AddEpisodicMemory(ctx, "agent traded food for energy", "a1", 0.6)
//	results, _ := mgr.Search(ctx, &core.MemoryQuery{Text: "traded energy"})
type Manager struct {
	config *Config

	graph    *graph.Store
	index    vector.Index
	embedder embedder.Provider

	cache        *cache.Cache[[]*MemoryResult]
	generation   atomic.Uint64
	consolidator *intelligence.Consolidator
	metrics      *metrics.Metrics
	log          zerolog.Logger

	ids *snowflake.Node
	now func() time.Time

	graphID         string
	lastMaintenance time.Time

	queries        atomic.Uint64
	cacheHits      atomic.Uint64
	vectorSearches atomic.Uint64
	graphSearches  atomic.Uint64
	hybridSearches atomic.Uint64

	// mu guards composite operations across both stores.
	mu sync.RWMutex
}

// NewManager creates a memory manager.
//
// The manager is initialized with:
//   - an embedding provider (local hashing or OpenAI)
//   - the configured vector backend, falling back to a flat index when the
//     backend is unavailable
//   - an empty graph store and query cache
//
// Returns an error wrapping ErrInvalidConfig for an invalid configuration.
func NewManager(cfg *Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &managerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	logger := logging.New(cfg.Logging)
	if o.logger != nil {
		logger = *o.logger
	}
	logger = logging.Component(logger, "memory")

	now := o.clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	emb := o.embedder
	if emb == nil {
		var err error
		if emb, err = initEmbedder(cfg.Embedder); err != nil {
			return nil, NewMemoryError("NewManager", err)
		}
	}

	index, err := initIndex(cfg, emb.Dimensions(), now, logger)
	if err != nil {
		return nil, NewMemoryError("NewManager", err)
	}

	store, err := graph.NewStore(graph.WithClock(now))
	if err != nil {
		return nil, NewMemoryError("NewManager", err)
	}

	queryCache, err := cache.New[[]*MemoryResult](cfg.Cache.Capacity)
	if err != nil {
		return nil, NewMemoryError("NewManager", err)
	}

	ids, err := snowflake.NewNode(idNodeNumber)
	if err != nil {
		return nil, NewMemoryError("NewManager", err)
	}

	graphID := cfg.GraphID
	if graphID == "" {
		graphID = uuid.NewString()
	}

	m := &Manager{
		config:          cfg,
		graph:           store,
		index:           index,
		embedder:        emb,
		cache:           queryCache,
		consolidator:    intelligence.NewConsolidator(intelligence.DefaultClusterThreshold, intelligence.DefaultMaxConcepts),
		metrics:         metrics.New(o.registry),
		log:             logger,
		ids:             ids,
		now:             now,
		graphID:         graphID,
		lastMaintenance: now(),
	}
	m.log.Info().
		Str("graph_id", graphID).
		Str("backend", index.Stats().Backend).
		Int("dimension", index.Dimension()).
		Msg("memory manager ready")
	return m, nil
}

func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "", "local":
		return local.New(cfg.Dimensions), nil
	case "openai":
		client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedder provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func (c *Config) indexConfig(dimension int, now func() time.Time) vector.Config {
	return vector.Config{
		Backend:          c.VectorIndex.Backend,
		Dimension:        dimension,
		MinTrainSize:     c.VectorIndex.MinTrainSize,
		Nlist:            c.VectorIndex.Nlist,
		Nprobe:           c.VectorIndex.Nprobe,
		RebuildThreshold: c.VectorIndex.RebuildThreshold,
		Collection:       c.VectorIndex.Collection,
		Clock:            now,
	}
}

// initIndex builds the configured backend and falls back to a flat index
// when it is unavailable.
func initIndex(cfg *Config, dimension int, now func() time.Time, log zerolog.Logger) (vector.Index, error) {
	vcfg := cfg.indexConfig(dimension, now)
	index, err := vector.NewIndex(vcfg)
	if err == nil {
		return index, nil
	}
	if !errors.Is(err, vector.ErrBackendUnavailable) {
		return nil, err
	}
	log.Warn().Err(err).Str("backend", vcfg.Backend).Msg("vector backend unavailable, falling back to flat index")
	vcfg.Backend = vector.BackendFlat
	return vector.NewIndex(vcfg)
}

// Close releases the vector index and the embedding provider.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.index.Close(), m.embedder.Close())
}

// GraphID returns the id under which snapshots are saved.
func (m *Manager) GraphID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graphID
}

// Config returns the manager configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// Metrics returns the manager's Prometheus collectors.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// writeRequest describes one composite memory write.
type writeRequest struct {
	op            string
	kind          graph.Kind
	content       string
	agentID       string
	importance    float64
	accessibility float64
	agentRelation graph.Relation

	otherAgentID string
	relation     graph.Relation
}

// AddEpisodicMemory records a lived experience of an agent.
//
// The content is embedded before any lock is taken, then the graph node and
// the vector entry are written together under the manager lock. The memory
// node is linked to the agent node with a "created" edge when the agent has
// been registered.
//
// Parameters:
//   - ctx: Context for cancellation and the embedding deadline
//   - content: what happened, in plain text
//   - agentID: owning agent (may be unregistered)
//   - importance: importance in [0, 1]
//   - opts: Optional parameters (Valence, Arousal, Metadata, DecayRate, Accessibility)
//
// Returns the graph node id and the vector entry id. On any failure neither
// store is changed.
//
// Example:
//
//	nodeID, vectorID, err := mgr.AddEpisodicMemory(ctx, "traded salt for fish", "trader_01", 0.6,
//	    core.WithValence(0.4),
//	    core.WithMetadata(map[string]string{"location": "harbor"}),
//	)
func (m *Manager) AddEpisodicMemory(ctx context.Context, content, agentID string, importance float64, opts ...MemoryOption) (string, string, error) {
	return m.add(ctx, writeRequest{
		op:            "AddEpisodicMemory",
		kind:          graph.KindEpisodic,
		content:       content,
		agentID:       agentID,
		importance:    importance,
		accessibility: 1,
		agentRelation: graph.RelCreated,
	}, opts)
}

// AddSemanticMemory records a fact an agent knows. Semantic memories start
// with accessibility 0.8 and link to the agent with a "knows" edge.
func (m *Manager) AddSemanticMemory(ctx context.Context, content, agentID string, importance float64, opts ...MemoryOption) (string, string, error) {
	return m.add(ctx, writeRequest{
		op:            "AddSemanticMemory",
		kind:          graph.KindSemantic,
		content:       content,
		agentID:       agentID,
		importance:    importance,
		accessibility: semanticAccessibility,
		agentRelation: graph.RelKnows,
	}, opts)
}

// AddSocialMemory records an interaction between two agents.
//
// Besides the memory→agent "created" edge, the memory is linked to the other
// agent with relation, and the two agents are linked with relation when both
// are registered.
//
// Parameters:
//   - ctx: Context for cancellation and the embedding deadline
//   - content: the interaction, in plain text
//   - agentID: the agent remembering the interaction
//   - otherAgentID: the other party
//   - relation: one of the graph relations (trusts, traded_with, ...)
//   - importance: importance in [0, 1]
//   - opts: Optional parameters
//
// Returns the graph node id and the vector entry id, or an error wrapping
// ErrInvalidInput for an unknown relation.
//
// Example:
//
//	_, _, err := mgr.AddSocialMemory(ctx, "the smith repaired my hooks",
//	    "fisher", "smith", graph.RelTrusts, 0.6)
func (m *Manager) AddSocialMemory(ctx context.Context, content, agentID, otherAgentID string, relation graph.Relation, importance float64, opts ...MemoryOption) (string, string, error) {
	if !relation.Valid() {
		return "", "", NewMemoryError("AddSocialMemory", fmt.Errorf("%w: unknown relation %q", ErrInvalidInput, relation))
	}
	return m.add(ctx, writeRequest{
		op:            "AddSocialMemory",
		kind:          graph.KindSocial,
		content:       content,
		agentID:       agentID,
		importance:    importance,
		accessibility: 1,
		agentRelation: graph.RelCreated,
		otherAgentID:  otherAgentID,
		relation:      relation,
	}, opts)
}

// AddMemory records a memory of any kind, including cultural, emotional and
// procedural memories. Episodic, semantic and social kinds behave like their
// dedicated methods, without the social edges.
//
// Returns the graph node id and the vector entry id, or an error wrapping
// ErrInvalidInput for an unknown kind or empty content.
func (m *Manager) AddMemory(ctx context.Context, kind graph.Kind, content, agentID string, importance float64, opts ...MemoryOption) (string, string, error) {
	req := writeRequest{
		op:            "AddMemory",
		kind:          kind,
		content:       content,
		agentID:       agentID,
		importance:    importance,
		accessibility: 1,
		agentRelation: graph.RelCreated,
	}
	if kind == graph.KindSemantic {
		req.accessibility = semanticAccessibility
		req.agentRelation = graph.RelKnows
	}
	return m.add(ctx, req, opts)
}

// add embeds the content outside any lock, then writes the node, the entry
// and the agent edges under the manager lock.
func (m *Manager) add(ctx context.Context, req writeRequest, opts []MemoryOption) (string, string, error) {
	pw, err := m.prepare(req, opts)
	if err != nil {
		return "", "", err
	}

	embedding, err := m.embed(ctx, req.content)
	if err != nil {
		return "", "", m.failWrite(req, embedFailure(err), err)
	}
	pw.entry.Embedding = embedding

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commit(ctx, pw); err != nil {
		return "", "", err
	}
	m.invalidate()
	m.metrics.Writes.WithLabelValues(string(req.kind)).Inc()
	m.updateSizes()
	return pw.node.ID, pw.entry.ID, nil
}

// pendingWrite is a validated node and entry pair waiting for its embedding.
type pendingWrite struct {
	req   writeRequest
	node  *graph.Node
	entry *vector.Entry
}

// prepare validates a write and builds its cross-linked node and entry.
func (m *Manager) prepare(req writeRequest, opts []MemoryOption) (*pendingWrite, error) {
	if !req.kind.Valid() {
		return nil, m.failWrite(req, "invalid_input", fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, req.kind))
	}
	if strings.TrimSpace(req.content) == "" {
		return nil, m.failWrite(req, "invalid_input", fmt.Errorf("%w: empty content", ErrInvalidInput))
	}
	o := applyMemoryOptions(opts)

	accessibility := req.accessibility
	if o.Accessibility != nil {
		accessibility = *o.Accessibility
	}
	decayRate := m.config.Decay.NodeRate
	if o.DecayRate != nil {
		decayRate = *o.DecayRate
	}

	nodeID := m.ids.Generate().String()
	vectorID := m.ids.Generate().String()

	nodeMeta := make(map[string]string, len(o.Metadata)+4)
	for k, v := range o.Metadata {
		nodeMeta[k] = v
	}
	if req.agentID != "" {
		nodeMeta[MetaAgentID] = req.agentID
	}
	if req.otherAgentID != "" {
		nodeMeta[MetaOtherAgentID] = req.otherAgentID
		nodeMeta[MetaRelationshipType] = string(req.relation)
	}
	entryMeta := make(map[string]string, len(nodeMeta)+1)
	for k, v := range nodeMeta {
		entryMeta[k] = v
	}
	nodeMeta[MetaVectorID] = vectorID
	entryMeta[MetaGraphNodeID] = nodeID

	return &pendingWrite{
		req: req,
		node: &graph.Node{
			ID:            nodeID,
			Type:          graph.NodeTypeMemory,
			Kind:          req.kind,
			Content:       req.content,
			Metadata:      nodeMeta,
			Importance:    req.importance,
			Accessibility: accessibility,
			Valence:       o.Valence,
			Arousal:       o.Arousal,
			DecayRate:     decayRate,
		},
		entry: &vector.Entry{
			ID:         vectorID,
			Content:    req.content,
			Kind:       string(req.kind),
			Importance: req.importance,
			Metadata:   entryMeta,
		},
	}, nil
}

// commit stores a prepared pair and links it to its agents. A node whose
// entry cannot be stored is dropped again. The caller holds the write lock
// and invalidates the cache.
func (m *Manager) commit(ctx context.Context, pw *pendingWrite) error {
	if _, err := m.graph.AddNode(pw.node); err != nil {
		return m.failWrite(pw.req, "graph", err)
	}
	if _, err := m.index.Add(ctx, pw.entry); err != nil {
		if _, rmErr := m.graph.RemoveNode(pw.node.ID); rmErr != nil {
			m.log.Error().Err(rmErr).Str("node_id", pw.node.ID).Msg("failed to drop unpaired node")
		}
		return m.failWrite(pw.req, "vector", err)
	}

	m.linkAgents(pw.req, pw.node.ID)

	m.log.Debug().
		Str("op", pw.req.op).
		Str("node_id", pw.node.ID).
		Str("vector_id", pw.entry.ID).
		Str("agent_id", pw.req.agentID).
		Msg("memory added")
	return nil
}

func embedFailure(err error) string {
	if errors.Is(err, ErrTimeout) {
		return "timeout"
	}
	return "embedding"
}

// linkAgents creates the agent edges of a write. Missing agents are not an
// error; the memory is simply not linked.
func (m *Manager) linkAgents(req writeRequest, nodeID string) {
	link := func(source, target string, relation graph.Relation) {
		if source == "" || target == "" || !m.graph.HasNode(source) || !m.graph.HasNode(target) {
			return
		}
		if _, err := m.graph.AddEdge(&graph.Edge{
			SourceID:  source,
			TargetID:  target,
			Relation:  relation,
			Weight:    1,
			DecayRate: m.config.Decay.EdgeRate,
		}); err != nil {
			m.log.Warn().Err(err).Str("source", source).Str("target", target).Msg("failed to link memory")
		}
	}

	link(nodeID, req.agentID, req.agentRelation)
	if req.otherAgentID != "" {
		link(nodeID, req.otherAgentID, req.relation)
		link(req.agentID, req.otherAgentID, req.relation)
	}
}

func (m *Manager) failWrite(req writeRequest, reason string, err error) error {
	m.metrics.FailedWrites.WithLabelValues(reason).Inc()
	m.log.Warn().
		Err(err).
		Str("op", req.op).
		Str("agent_id", req.agentID).
		Str("reason", reason).
		Msg("memory write skipped")
	return NewMemoryError(req.op, err)
}

// embed runs the provider with the configured timeout.
func (m *Manager) embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	vec, err := embedder.EmbedWithTimeout(ctx, m.embedder, text, m.config.Embedder.Timeout)
	m.metrics.EmbedDuration.Observe(time.Since(start).Seconds())
	return vec, err
}

// RegisterAgent creates the anchor node of an agent, or updates its
// description if it already exists. Agent nodes do not decay.
//
// The agent id doubles as the node id, so memories added later for the agent
// are linked to it. Both branches drop the query cache.
func (m *Manager) RegisterAgent(agentID, description string) error {
	if agentID == "" {
		return NewMemoryError("RegisterAgent", fmt.Errorf("%w: empty agent id", ErrInvalidInput))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.graph.HasNode(agentID) {
		err := m.graph.UpdateNode(agentID, func(n *graph.Node) {
			n.Content = description
		})
		if err != nil {
			return NewMemoryError("RegisterAgent", err)
		}
		m.invalidate()
		return nil
	}
	_, err := m.graph.AddNode(&graph.Node{
		ID:            agentID,
		Type:          graph.NodeTypeAgent,
		Content:       description,
		Metadata:      map[string]string{MetaAgentID: agentID},
		Importance:    1,
		Accessibility: 1,
	})
	if err != nil {
		return NewMemoryError("RegisterAgent", err)
	}
	m.invalidate()
	m.updateSizes()
	return nil
}

// AddRelationship links two existing nodes. It fails with
// ErrDanglingReference when either endpoint is missing.
func (m *Manager) AddRelationship(sourceID, targetID string, relation graph.Relation, weight float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.graph.AddEdge(&graph.Edge{
		SourceID:  sourceID,
		TargetID:  targetID,
		Relation:  relation,
		Weight:    weight,
		DecayRate: m.config.Decay.EdgeRate,
	})
	if err != nil {
		return "", NewMemoryError("AddRelationship", err)
	}
	m.invalidate()
	m.updateSizes()
	return id, nil
}

// GetMemory returns a memory with its vector entry, if any.
func (m *Manager) GetMemory(nodeID string) (*MemoryResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, err := m.graph.GetNode(nodeID)
	if err != nil {
		return nil, NewMemoryError("GetMemory", err)
	}
	res := &MemoryResult{Node: &node, Source: SourceGraph}
	if entry, ok := m.entryFor(&node); ok {
		res.Entry = &entry
	}
	return res, nil
}

// entryFor resolves the vector entry cross-linked from a node.
func (m *Manager) entryFor(node *graph.Node) (vector.Entry, bool) {
	id := node.Metadata[MetaVectorID]
	if id == "" {
		return vector.Entry{}, false
	}
	entry, err := m.index.Get(id)
	if err != nil {
		return vector.Entry{}, false
	}
	return entry, true
}

// Statistics reports graph, index, query and cache statistics.
func (m *Manager) Statistics() *Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &Statistics{
		GraphID: m.graphID,
		Graph:   m.graph.Statistics(),
		Vector:  m.index.Stats(),
		Queries: QueryStats{
			TotalQueries:   m.queries.Load(),
			CacheHits:      m.cacheHits.Load(),
			VectorSearches: m.vectorSearches.Load(),
			GraphSearches:  m.graphSearches.Load(),
			HybridSearches: m.hybridSearches.Load(),
		},
		Cache:           m.cache.Stats(),
		LastMaintenance: m.lastMaintenance,
	}
}

// LastMaintenance returns the end of the last completed decay pass.
func (m *Manager) LastMaintenance() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastMaintenance
}

// invalidate drops every cached query. Searches that started before the
// call will not store their now stale results.
func (m *Manager) invalidate() {
	m.generation.Add(1)
	m.cache.Purge()
}

func (m *Manager) updateSizes() {
	m.metrics.SetSizes(m.graph.Len(), m.graph.EdgeCount(), m.index.Len())
}

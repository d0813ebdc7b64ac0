package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrNotFound indicates an unknown node or edge id.
	ErrNotFound = errors.New("graph: not found")

	// ErrDanglingReference indicates an edge endpoint that is not in the graph.
	ErrDanglingReference = errors.New("graph: dangling reference")

	// ErrInvalidInput indicates a malformed node or edge.
	ErrInvalidInput = errors.New("graph: invalid input")
)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithNodeNumber sets the snowflake node number used for generated ids.
func WithNodeNumber(n int64) Option {
	return func(s *Store) {
		s.nodeNumber = n
	}
}

// Store is an in-memory directed multigraph of memory and agent nodes.
//
// Nodes and edges live in id-keyed maps; adjacency is kept as id sets so there
// are no pointer cycles between vertices. All methods are safe for concurrent
// use: readers share the lock, writers take it exclusively.
type Store struct {
	mu sync.RWMutex

	nodes map[string]*Node
	edges map[string]*Edge
	out   map[string]map[string]struct{}
	in    map[string]map[string]struct{}
	index map[string]map[string]struct{}

	ids        *snowflake.Node
	nodeNumber int64
	now        func() time.Time
}

// NewStore creates an empty graph store.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		nodeNumber: 1,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	ids, err := snowflake.NewNode(s.nodeNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}
	s.ids = ids
	s.reset()
	return s, nil
}

func (s *Store) reset() {
	s.nodes = make(map[string]*Node)
	s.edges = make(map[string]*Edge)
	s.out = make(map[string]map[string]struct{})
	s.in = make(map[string]map[string]struct{})
	s.index = make(map[string]map[string]struct{})
}

// AddNode inserts a node and indexes its content.
//
// Empty ids, timestamps and metadata are filled in. Bounded fields are clamped.
// Adding a node whose id already exists replaces it in place and keeps its edges.
func (s *Store) AddNode(node *Node) (string, error) {
	if node == nil {
		return "", ErrInvalidInput
	}
	n := node.Clone()
	if n.Type == "" {
		n.Type = NodeTypeMemory
	}
	if n.Type == NodeTypeMemory && !n.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, n.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if n.ID == "" {
		n.ID = s.ids.Generate().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.LastAccessedAt.IsZero() {
		n.LastAccessedAt = n.CreatedAt
	}
	n.clamp()

	if old, ok := s.nodes[n.ID]; ok {
		s.unindex(old)
	}
	s.nodes[n.ID] = &n
	s.indexNode(&n)
	return n.ID, nil
}

// AddEdge inserts a directed edge. Both endpoints must already exist;
// otherwise ErrDanglingReference is returned and the graph is untouched.
func (s *Store) AddEdge(edge *Edge) (string, error) {
	if edge == nil {
		return "", ErrInvalidInput
	}
	if !edge.Relation.Valid() {
		return "", fmt.Errorf("%w: unknown relation %q", ErrInvalidInput, edge.Relation)
	}
	e := edge.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[e.SourceID]; !ok {
		return "", fmt.Errorf("%w: source %q", ErrDanglingReference, e.SourceID)
	}
	if _, ok := s.nodes[e.TargetID]; !ok {
		return "", fmt.Errorf("%w: target %q", ErrDanglingReference, e.TargetID)
	}

	now := s.now()
	if e.ID == "" {
		e.ID = s.ids.Generate().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = e.CreatedAt
	}
	e.clamp()

	if old, ok := s.edges[e.ID]; ok {
		s.unlinkEdge(old)
	}
	s.edges[e.ID] = &e
	s.linkEdge(&e)
	return e.ID, nil
}

// GetNode returns a copy of the node.
func (s *Store) GetNode(id string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	return n.Clone(), nil
}

// HasNode reports whether the node exists.
func (s *Store) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// GetEdge returns a copy of the edge.
func (s *Store) GetEdge(id string) (Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.edges[id]
	if !ok {
		return Edge{}, fmt.Errorf("%w: edge %q", ErrNotFound, id)
	}
	return e.Clone(), nil
}

// UpdateNode applies fn to the stored node under the write lock.
// The id cannot be changed; content changes are re-indexed.
func (s *Store) UpdateNode(id string, fn func(*Node)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	s.unindex(n)
	fn(n)
	n.ID = id
	n.clamp()
	s.indexNode(n)
	return nil
}

// AccessNode reinforces a node.
func (s *Store) AccessNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	n.Access(s.now())
	return nil
}

// AccessEdge reinforces an edge.
func (s *Store) AccessEdge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("%w: edge %q", ErrNotFound, id)
	}
	e.Access(s.now())
	return nil
}

// RemoveNode deletes a node together with its incident edges and index
// entries. It returns the number of edges removed by the cascade.
func (s *Store) RemoveNode(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return 0, fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	return len(s.removeNode(id)), nil
}

// RemoveEdge deletes a single edge.
func (s *Store) RemoveEdge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("%w: edge %q", ErrNotFound, id)
	}
	s.unlinkEdge(e)
	delete(s.edges, id)
	return nil
}

// removeNode must be called with the write lock held.
func (s *Store) removeNode(id string) []string {
	var removed []string
	for eid := range s.out[id] {
		removed = append(removed, eid)
	}
	for eid := range s.in[id] {
		if _, dup := s.out[id][eid]; !dup {
			removed = append(removed, eid)
		}
	}
	for _, eid := range removed {
		s.unlinkEdge(s.edges[eid])
		delete(s.edges, eid)
	}
	s.unindex(s.nodes[id])
	delete(s.nodes, id)
	delete(s.out, id)
	delete(s.in, id)
	return removed
}

func (s *Store) linkEdge(e *Edge) {
	if s.out[e.SourceID] == nil {
		s.out[e.SourceID] = make(map[string]struct{})
	}
	if s.in[e.TargetID] == nil {
		s.in[e.TargetID] = make(map[string]struct{})
	}
	s.out[e.SourceID][e.ID] = struct{}{}
	s.in[e.TargetID][e.ID] = struct{}{}
}

func (s *Store) unlinkEdge(e *Edge) {
	delete(s.out[e.SourceID], e.ID)
	delete(s.in[e.TargetID], e.ID)
}

func (s *Store) indexNode(n *Node) {
	for tok := range tokenSet(n.Content) {
		ids, ok := s.index[tok]
		if !ok {
			ids = make(map[string]struct{})
			s.index[tok] = ids
		}
		ids[n.ID] = struct{}{}
	}
}

func (s *Store) unindex(n *Node) {
	for tok := range tokenSet(n.Content) {
		ids := s.index[tok]
		delete(ids, n.ID)
		if len(ids) == 0 {
			delete(s.index, tok)
		}
	}
}

// tokenSet splits content into lower-cased whitespace tokens.
func tokenSet(content string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(content))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// ScoredNode is a content search hit.
type ScoredNode struct {
	Node  Node
	Score float64
}

// SearchNodes ranks nodes by the share of query tokens found in their content.
//
// Nodes with no overlap are excluded. Ties are broken by importance, then by
// recency, then by id so repeated calls return the same order. A limit of zero
// or less returns every match.
func (s *Store) SearchNodes(query string, limit int) []ScoredNode {
	q := tokenSet(query)
	if len(q) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	overlap := make(map[string]int)
	for tok := range q {
		for id := range s.index[tok] {
			overlap[id]++
		}
	}

	hits := make([]ScoredNode, 0, len(overlap))
	for id, count := range overlap {
		hits = append(hits, ScoredNode{
			Node:  s.nodes[id].Clone(),
			Score: float64(count) / float64(len(q)),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Node.Importance != b.Node.Importance {
			return a.Node.Importance > b.Node.Importance
		}
		if !a.Node.CreatedAt.Equal(b.Node.CreatedAt) {
			return a.Node.CreatedAt.After(b.Node.CreatedAt)
		}
		return a.Node.ID < b.Node.ID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Neighbor pairs an adjacent node with the edge that reaches it.
type Neighbor struct {
	Node Node
	Edge Edge
}

// GetNeighbors returns the targets of the node's outgoing edges, optionally
// restricted to the given relations. An unknown node has no neighbors.
func (s *Store) GetNeighbors(nodeID string, relations ...Relation) []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.out[nodeID], relations, func(e *Edge) string { return e.TargetID })
}

// GetIncoming returns the sources of the node's incoming edges, optionally
// restricted to the given relations.
func (s *Store) GetIncoming(nodeID string, relations ...Relation) []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.in[nodeID], relations, func(e *Edge) string { return e.SourceID })
}

func (s *Store) collect(edgeIDs map[string]struct{}, relations []Relation, other func(*Edge) string) []Neighbor {
	allowed := relationSet(relations)
	out := make([]Neighbor, 0, len(edgeIDs))
	for _, e := range s.sortedEdges(edgeIDs) {
		if allowed != nil {
			if _, ok := allowed[e.Relation]; !ok {
				continue
			}
		}
		n, ok := s.nodes[other(e)]
		if !ok {
			continue
		}
		out = append(out, Neighbor{Node: n.Clone(), Edge: e.Clone()})
	}
	return out
}

// sortedEdges orders edges by creation time then id.
func (s *Store) sortedEdges(edgeIDs map[string]struct{}) []*Edge {
	edges := make([]*Edge, 0, len(edgeIDs))
	for id := range edgeIDs {
		if e, ok := s.edges[id]; ok {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].ID < edges[j].ID
	})
	return edges
}

func relationSet(relations []Relation) map[Relation]struct{} {
	if len(relations) == 0 {
		return nil
	}
	set := make(map[Relation]struct{}, len(relations))
	for _, r := range relations {
		set[r] = struct{}{}
	}
	return set
}

// Consolidate applies dt of decay to every node and edge, and bumps the
// consolidation strength of frequently accessed memories.
func (s *Store) Consolidate(dt time.Duration) {
	hours := dt.Hours()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		n.Decay(hours)
		n.consolidate()
	}
	for _, e := range s.edges {
		e.Decay(hours)
	}
}

// PruneWeak removes nodes whose accessibility and edges whose weight fall
// below threshold. Edges incident to a pruned node go with it.
func (s *Store) PruneWeak(threshold float64) (nodeIDs, edgeIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range s.nodes {
		if n.Accessibility < threshold {
			nodeIDs = append(nodeIDs, id)
		}
	}
	sort.Strings(nodeIDs)
	for _, id := range nodeIDs {
		edgeIDs = append(edgeIDs, s.removeNode(id)...)
	}

	var weak []string
	for id, e := range s.edges {
		if e.Weight < threshold {
			weak = append(weak, id)
		}
	}
	for _, id := range weak {
		s.unlinkEdge(s.edges[id])
		delete(s.edges, id)
	}
	edgeIDs = append(edgeIDs, weak...)
	sort.Strings(edgeIDs)
	return nodeIDs, edgeIDs
}

// CleanupWeak is PruneWeak reporting only the number of removed nodes and edges.
func (s *Store) CleanupWeak(threshold float64) int {
	nodes, edges := s.PruneWeak(threshold)
	return len(nodes) + len(edges)
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Nodes returns copies of every node ordered by id.
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns copies of every edge ordered by id.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the whole graph with the given nodes and edges, rebuilding
// adjacency and the content index. Stored timestamps and counters are kept
// as they are. On error the current graph is left untouched.
func (s *Store) Restore(nodes []Node, edges []Edge) error {
	next := &Store{}
	next.reset()

	for i := range nodes {
		n := nodes[i].Clone()
		if n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrInvalidInput)
		}
		n.clamp()
		next.nodes[n.ID] = &n
		next.indexNode(&n)
	}
	for i := range edges {
		e := edges[i].Clone()
		if e.ID == "" {
			return fmt.Errorf("%w: edge without id", ErrInvalidInput)
		}
		if _, ok := next.nodes[e.SourceID]; !ok {
			return fmt.Errorf("%w: edge %q source %q", ErrDanglingReference, e.ID, e.SourceID)
		}
		if _, ok := next.nodes[e.TargetID]; !ok {
			return fmt.Errorf("%w: edge %q target %q", ErrDanglingReference, e.ID, e.TargetID)
		}
		e.clamp()
		next.edges[e.ID] = &e
		next.linkEdge(&e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes, s.edges = next.nodes, next.edges
	s.out, s.in, s.index = next.out, next.in, next.index
	return nil
}

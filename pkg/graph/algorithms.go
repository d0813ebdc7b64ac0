package graph

import (
	"sort"
)

// ShortestPath returns the node ids of a shortest directed path from source
// to target, following only the given relations when any are listed.
// It returns nil when either endpoint is missing or no path exists.
func (s *Store) ShortestPath(source, target string, relations ...Relation) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[source]; !ok {
		return nil
	}
	if _, ok := s.nodes[target]; !ok {
		return nil
	}
	if source == target {
		return []string{source}
	}

	allowed := relationSet(relations)
	parent := map[string]string{source: ""}
	queue := []string{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range s.sortedEdges(s.out[cur]) {
			if allowed != nil {
				if _, ok := allowed[e.Relation]; !ok {
					continue
				}
			}
			next := e.TargetID
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == target {
				return buildPath(parent, source, target)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func buildPath(parent map[string]string, source, target string) []string {
	var path []string
	for cur := target; ; cur = parent[cur] {
		path = append(path, cur)
		if cur == source {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// ConnectedComponents groups nodes into weakly connected components, treating
// every edge as undirected. Each component is sorted by id and components are
// ordered largest first.
func (s *Store) ConnectedComponents() [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.components()
}

func (s *Store) components() [][]string {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]bool, len(ids))
	var comps [][]string
	for _, start := range ids {
		if seen[start] {
			continue
		}
		seen[start] = true
		comp := []string{start}
		stack := []string{start}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, next := range s.undirectedNeighbors(cur) {
				if !seen[next] {
					seen[next] = true
					comp = append(comp, next)
					stack = append(stack, next)
				}
			}
		}
		sort.Strings(comp)
		comps = append(comps, comp)
	}
	sort.SliceStable(comps, func(i, j int) bool {
		return len(comps[i]) > len(comps[j])
	})
	return comps
}

func (s *Store) undirectedNeighbors(id string) []string {
	var out []string
	for eid := range s.out[id] {
		out = append(out, s.edges[eid].TargetID)
	}
	for eid := range s.in[id] {
		out = append(out, s.edges[eid].SourceID)
	}
	return out
}

// Centrality returns the normalized betweenness centrality of a node.
//
// It runs Brandes' algorithm over the whole directed graph on every call, so
// it costs O(V*E); callers that need it repeatedly should cache the result.
// Parallel edges count once. Unknown nodes score 0.
func (s *Store) Centrality(nodeID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[nodeID]; !ok {
		return 0
	}
	n := len(s.nodes)
	if n <= 2 {
		return 0
	}

	succ := make(map[string][]string, n)
	for id := range s.nodes {
		uniq := make(map[string]struct{})
		for eid := range s.out[id] {
			uniq[s.edges[eid].TargetID] = struct{}{}
		}
		for t := range uniq {
			succ[id] = append(succ[id], t)
		}
	}

	var bc float64
	for src := range s.nodes {
		if src == nodeID {
			continue
		}
		var order []string
		preds := make(map[string][]string)
		sigma := map[string]float64{src: 1}
		dist := map[string]int{src: 0}
		queue := []string{src}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			order = append(order, v)
			for _, w := range succ[v] {
				if _, ok := dist[w]; !ok {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		delta := make(map[string]float64, len(order))
		for i := len(order) - 1; i >= 0; i-- {
			w := order[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w == nodeID {
				bc += delta[w]
			}
		}
	}
	return bc / float64((n-1)*(n-2))
}

// Statistics summarizes the graph.
type Statistics struct {
	TotalNodes       int            `json:"total_nodes"`
	TotalEdges       int            `json:"total_edges"`
	MemoryNodes      int            `json:"memory_nodes"`
	AgentNodes       int            `json:"agent_nodes"`
	NodesByKind      map[string]int `json:"nodes_by_kind"`
	EdgesByRelation  map[string]int `json:"edges_by_relation"`
	AvgImportance    float64        `json:"avg_importance"`
	AvgAccessibility float64        `json:"avg_accessibility"`
	Components       int            `json:"connected_components"`
	Density          float64        `json:"density"`
}

// Statistics computes counts, averages and density of the graph.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Statistics{
		TotalNodes:      len(s.nodes),
		TotalEdges:      len(s.edges),
		NodesByKind:     make(map[string]int),
		EdgesByRelation: make(map[string]int),
	}
	// summed in id order so repeated calls agree to the last bit
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var imp, acc float64
	for _, id := range ids {
		n := s.nodes[id]
		if n.IsMemory() {
			st.MemoryNodes++
			st.NodesByKind[string(n.Kind)]++
		} else {
			st.AgentNodes++
		}
		imp += n.Importance
		acc += n.Accessibility
	}
	for _, e := range s.edges {
		st.EdgesByRelation[string(e.Relation)]++
	}
	if st.TotalNodes > 0 {
		st.AvgImportance = imp / float64(st.TotalNodes)
		st.AvgAccessibility = acc / float64(st.TotalNodes)
		st.Components = len(s.components())
	}
	if st.TotalNodes > 1 {
		st.Density = float64(st.TotalEdges) / float64(st.TotalNodes*(st.TotalNodes-1))
	}
	return st
}

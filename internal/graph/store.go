package graph

import (
	"fmt"
	"sync"
)

// Graph is the query surface the plan builder, executor, and processor rely
// on. Store is the canonical in-memory implementation; persistent
// implementations must preserve the same query semantics.
type Graph interface {
	AddNode(n Node) error
	UpdateNode(id string, data NodeData) error
	Node(id string) (Node, bool)
	AddEdge(e Edge) error
	Edges(q EdgeQuery) []Edge
}

// From returns the edges of the given kind leaving src, in insertion order.
func From(g Graph, src string, kind EdgeKind) []Edge {
	return g.Edges(EdgeQuery{Src: src, Kind: kind})
}

// To returns the edges of the given kind arriving at dst, in insertion order.
func To(g Graph, dst string, kind EdgeKind) []Edge {
	return g.Edges(EdgeQuery{Dst: dst, Kind: kind})
}

type kindKey struct {
	kind EdgeKind
	id   string
}

// Store is an in-memory Graph guarded by a RWMutex. Edges are indexed by
// src, by dst, and by (kind, src)/(kind, dst) so the executor's dependency
// queries stay constant-time in the number of unrelated edges.
type Store struct {
	mu        sync.RWMutex
	nodes     map[string]Node
	edges     []Edge
	bySrc     map[string][]Edge
	byDst     map[string][]Edge
	byKindSrc map[kindKey][]Edge
	byKindDst map[kindKey][]Edge
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		nodes:     make(map[string]Node),
		bySrc:     make(map[string][]Edge),
		byDst:     make(map[string][]Edge),
		byKindSrc: make(map[kindKey][]Edge),
		byKindDst: make(map[kindKey][]Edge),
	}
}

// AddNode stores a node. Empty ids, nil payloads, and duplicate ids are
// rejected.
func (s *Store) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("graph: node id is empty")
	}
	if n.Data == nil {
		return fmt.Errorf("graph: node %s has no payload", n.ID)
	}
	if n.Kind == "" {
		n.Kind = n.Data.NodeKind()
	}
	if n.Kind != n.Data.NodeKind() {
		return fmt.Errorf("graph: node %s kind %s does not match payload kind %s", n.ID, n.Kind, n.Data.NodeKind())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ID]; exists {
		return fmt.Errorf("graph: node %s already exists", n.ID)
	}
	s.nodes[n.ID] = n
	return nil
}

// UpdateNode replaces a node's payload, preserving its id and kind. Changing
// the kind is rejected.
func (s *Store) UpdateNode(id string, data NodeData) error {
	if data == nil {
		return fmt.Errorf("graph: update of node %s has no payload", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.nodes[id]
	if !exists {
		return fmt.Errorf("graph: node %s does not exist", id)
	}
	if current.Kind != data.NodeKind() {
		return fmt.Errorf("graph: node %s is %s, cannot replace payload with %s", id, current.Kind, data.NodeKind())
	}
	current.Data = data
	s.nodes[id] = current
	return nil
}

// Node returns the node with the given id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	return n, ok
}

// AddEdge stores a directed edge. Both endpoints must already exist.
func (s *Store) AddEdge(e Edge) error {
	if e.Kind == "" {
		return fmt.Errorf("graph: edge %s -> %s has no kind", e.Src, e.Dst)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[e.Src]; !ok {
		return fmt.Errorf("graph: edge src %s does not exist", e.Src)
	}
	if _, ok := s.nodes[e.Dst]; !ok {
		return fmt.Errorf("graph: edge dst %s does not exist", e.Dst)
	}

	s.edges = append(s.edges, e)
	s.bySrc[e.Src] = append(s.bySrc[e.Src], e)
	s.byDst[e.Dst] = append(s.byDst[e.Dst], e)
	s.byKindSrc[kindKey{e.Kind, e.Src}] = append(s.byKindSrc[kindKey{e.Kind, e.Src}], e)
	s.byKindDst[kindKey{e.Kind, e.Dst}] = append(s.byKindDst[kindKey{e.Kind, e.Dst}], e)
	return nil
}

// Edges returns the edges matching the query in insertion order. The
// narrowest available index serves the lookup; only kind-less full scans
// walk the master list.
func (s *Store) Edges(q EdgeQuery) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []Edge
	switch {
	case q.Kind != "" && q.Src != "":
		candidates = s.byKindSrc[kindKey{q.Kind, q.Src}]
	case q.Kind != "" && q.Dst != "":
		candidates = s.byKindDst[kindKey{q.Kind, q.Dst}]
	case q.Src != "":
		candidates = s.bySrc[q.Src]
	case q.Dst != "":
		candidates = s.byDst[q.Dst]
	default:
		candidates = s.edges
	}

	out := make([]Edge, 0, len(candidates))
	for _, e := range candidates {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// NodeCount reports how many nodes the store holds.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

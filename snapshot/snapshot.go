// ABOUTME: Core data types for heap snapshots
// ABOUTME: Defines Node, Edge, and the Snapshot container

// Package snapshot captures the structural graph of a managed heap and
// analyzes it: dominators, retained sizes, and paths back to the roots.
// Importing the package registers its serializer with the heap package, so
// Collector.CreateSnapshot produces this format.
package snapshot

import (
	"sync"

	"github.com/prateek/heapcore/heap"
)

// Edge is one named pointer from a node to another node.
type Edge struct {
	Name string      `json:"name"`
	To   heap.NodeID `json:"to"`
}

// Node is a single snapshot node: a heap cell, a native-memory block, or one
// of the synthetic root nodes (the super root and the per-section nodes).
type Node struct {
	ID       heap.NodeID `json:"id"`
	Name     string      `json:"name"`
	SelfSize uint64      `json:"self_size"`
	Edges    []Edge      `json:"edges,omitempty"`
}

// Snapshot is a point-in-time heap graph. Node IDs are the stable identities
// assigned by the heap's IDTracker, so nodes match up across snapshots of the
// same heap. The super root (heap.SuperRootID) points at one synthetic node
// per populated root section, and those point at the rooted cells.
type Snapshot struct {
	HeapName string

	// Identifiers maps interned identifier text to symbol numbers, for
	// tools that resolve symbol values in cell slots.
	Identifiers map[string]heap.SymbolID

	mu    sync.RWMutex
	nodes []*Node
	index map[heap.NodeID]*Node
}

// New returns an empty snapshot for the named heap.
func New(heapName string) *Snapshot {
	return &Snapshot{
		HeapName:    heapName,
		Identifiers: make(map[string]heap.SymbolID),
		index:       make(map[heap.NodeID]*Node),
	}
}

// AddNode adds a node. A node with the same ID replaces the earlier one.
func (s *Snapshot) AddNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.index[n.ID]; ok {
		for i, existing := range s.nodes {
			if existing == old {
				s.nodes[i] = n
				break
			}
		}
	} else {
		s.nodes = append(s.nodes, n)
	}
	s.index[n.ID] = n
}

// Node retrieves a node by ID, or nil.
func (s *Snapshot) Node(id heap.NodeID) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[id]
}

// NumNodes returns the total number of nodes.
func (s *Snapshot) NumNodes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// ForEachNode visits every node in insertion order.
func (s *Snapshot) ForEachNode(fn func(*Node)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		fn(n)
	}
}

// SuperRoot returns the synthetic super-root node, or nil for a snapshot
// with no roots recorded.
func (s *Snapshot) SuperRoot() *Node {
	return s.Node(heap.SuperRootID)
}

// ReverseEdges maps each node to the nodes that point to it.
type ReverseEdges map[heap.NodeID][]heap.NodeID

// BuildReverseEdges creates the referrer map used by paths-to-roots and the
// dominator computation.
func BuildReverseEdges(s *Snapshot) ReverseEdges {
	reverse := make(ReverseEdges)
	s.ForEachNode(func(n *Node) {
		for _, e := range n.Edges {
			reverse[e.To] = append(reverse[e.To], n.ID)
		}
	})
	return reverse
}

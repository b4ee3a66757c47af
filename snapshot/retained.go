// ABOUTME: Retained-size computation from the dominator tree
// ABOUTME: A node retains everything it dominates

package snapshot

import "github.com/prateek/heapcore/heap"

// RetainedSize computes, for every node reachable from the super root, the
// bytes that would become unreachable if that node were removed: the node's
// own size plus the retained sizes of everything it immediately dominates.
// Synthetic root nodes have size zero, so their retained size is the total
// their section keeps alive.
func RetainedSize(s *Snapshot) map[heap.NodeID]uint64 {
	idom := Dominators(s)
	tree := DominatorTree(idom)

	selfSize := make(map[heap.NodeID]uint64, s.NumNodes())
	s.ForEachNode(func(n *Node) {
		selfSize[n.ID] = n.SelfSize
	})

	retained := make(map[heap.NodeID]uint64, len(tree))
	var compute func(heap.NodeID) uint64
	compute = func(id heap.NodeID) uint64 {
		if size, done := retained[id]; done {
			return size
		}
		size := selfSize[id]
		for _, child := range tree[id] {
			size += compute(child)
		}
		retained[id] = size
		return size
	}
	for id := range tree {
		compute(id)
	}

	delete(retained, heap.SuperRootID)
	return retained
}

// RetainedSizeSubset computes retained sizes only for the requested nodes.
// Cheaper than RetainedSize when a few nodes are of interest, though the
// dominator tree is still built in full. Unknown IDs are skipped.
func RetainedSizeSubset(s *Snapshot, ids []heap.NodeID) map[heap.NodeID]uint64 {
	result := make(map[heap.NodeID]uint64, len(ids))
	if len(ids) == 0 {
		return result
	}
	idom := Dominators(s)
	tree := DominatorTree(idom)

	selfSize := make(map[heap.NodeID]uint64, s.NumNodes())
	s.ForEachNode(func(n *Node) {
		selfSize[n.ID] = n.SelfSize
	})

	cache := make(map[heap.NodeID]uint64)
	var compute func(heap.NodeID) uint64
	compute = func(id heap.NodeID) uint64 {
		if size, done := cache[id]; done {
			return size
		}
		size := selfSize[id]
		for _, child := range tree[id] {
			size += compute(child)
		}
		cache[id] = size
		return size
	}
	for _, id := range ids {
		if id == heap.SuperRootID {
			continue
		}
		if _, known := selfSize[id]; known {
			result[id] = compute(id)
		}
	}
	return result
}

// ABOUTME: Lengauer-Tarjan immediate dominators over a heap snapshot
// ABOUTME: The synthetic super root dominates every reachable node

package snapshot

import "github.com/prateek/heapcore/heap"

// Dominators computes the immediate dominator of every node reachable from
// the super root, using the Lengauer-Tarjan algorithm with path compression.
// Returns a map from node ID to immediate dominator ID. The super root
// dominates everything and does not appear as a key. Nodes unreachable from
// the super root are absent.
func Dominators(s *Snapshot) map[heap.NodeID]heap.NodeID {
	adj := make(map[heap.NodeID][]heap.NodeID, s.NumNodes())
	s.ForEachNode(func(n *Node) {
		targets := make([]heap.NodeID, 0, len(n.Edges))
		for _, e := range n.Edges {
			targets = append(targets, e.To)
		}
		adj[n.ID] = targets
	})
	preds := BuildReverseEdges(s)

	// DFS numbering and spanning tree from the super root.
	var dfsCount int
	vertex := make([]heap.NodeID, 0, s.NumNodes())
	parent := make(map[heap.NodeID]int)
	dfnum := make(map[heap.NodeID]int)
	semi := make(map[heap.NodeID]int)
	ancestor := make(map[heap.NodeID]int)
	idom := make(map[heap.NodeID]heap.NodeID)
	samedom := make(map[heap.NodeID]heap.NodeID)
	best := make(map[heap.NodeID]heap.NodeID)
	bucket := make(map[int][]heap.NodeID)

	var dfs func(v heap.NodeID, p int)
	dfs = func(v heap.NodeID, p int) {
		if _, visited := dfnum[v]; visited {
			return
		}
		dfnum[v] = dfsCount
		vertex = append(vertex, v)
		parent[v] = p
		semi[v] = dfsCount
		ancestor[v] = -1
		best[v] = v
		samedom[v] = v
		dfsCount++
		for _, w := range adj[v] {
			dfs(w, dfnum[v])
		}
	}
	dfs(heap.SuperRootID, -1)

	// Link-eval forest with path compression.
	var compress func(v heap.NodeID)
	compress = func(v heap.NodeID) {
		anc := ancestor[v]
		if anc == -1 {
			return
		}
		ancID := vertex[anc]
		if ancestor[ancID] != -1 {
			compress(ancID)
			if semi[best[ancID]] < semi[best[v]] {
				best[v] = best[ancID]
			}
			ancestor[v] = ancestor[ancID]
		}
	}
	eval := func(v heap.NodeID) heap.NodeID {
		if ancestor[v] == -1 {
			return v
		}
		compress(v)
		return best[v]
	}

	// Vertices in reverse DFS order: compute semidominators, then resolve
	// immediate dominators through the buckets.
	for i := dfsCount - 1; i > 0; i-- {
		w := vertex[i]
		wNum := dfnum[w]

		for _, v := range preds[w] {
			vNum, reachable := dfnum[v]
			if !reachable {
				continue
			}
			var u heap.NodeID
			if vNum <= wNum {
				u = v
			} else {
				u = eval(v)
			}
			if semi[u] < semi[w] {
				semi[w] = semi[u]
			}
		}

		bucket[semi[w]] = append(bucket[semi[w]], w)
		if parent[w] != -1 {
			ancestor[w] = parent[w]
		}

		for _, v := range bucket[parent[w]] {
			u := eval(v)
			if semi[u] == semi[v] {
				idom[v] = vertex[parent[w]]
			} else {
				samedom[v] = u
			}
		}
		bucket[parent[w]] = nil
	}

	for i := 1; i < dfsCount; i++ {
		w := vertex[i]
		if samedom[w] != w {
			idom[w] = idom[samedom[w]]
		}
	}

	delete(idom, heap.SuperRootID)
	return idom
}

// DominatorTree inverts an immediate-dominator map into child lists. The
// super root is always present as the tree's root.
func DominatorTree(idom map[heap.NodeID]heap.NodeID) map[heap.NodeID][]heap.NodeID {
	tree := make(map[heap.NodeID][]heap.NodeID, len(idom)+1)
	for node := range idom {
		tree[node] = []heap.NodeID{}
	}
	tree[heap.SuperRootID] = []heap.NodeID{}
	for node, dom := range idom {
		tree[dom] = append(tree[dom], node)
	}
	return tree
}

// DominatorDepth computes each node's depth in the dominator tree; the super
// root has depth 0.
func DominatorDepth(tree map[heap.NodeID][]heap.NodeID) map[heap.NodeID]int {
	depth := make(map[heap.NodeID]int, len(tree))
	var walk func(node heap.NodeID, d int)
	walk = func(node heap.NodeID, d int) {
		depth[node] = d
		for _, child := range tree[node] {
			walk(child, d+1)
		}
	}
	walk(heap.SuperRootID, 0)
	return depth
}

// DominatorPath returns the chain of dominators from node up to and
// including the super root, starting with node itself.
func DominatorPath(idom map[heap.NodeID]heap.NodeID, node heap.NodeID) []heap.NodeID {
	path := []heap.NodeID{node}
	current := node
	for current != heap.SuperRootID {
		dom, ok := idom[current]
		if !ok {
			path = append(path, heap.SuperRootID)
			break
		}
		path = append(path, dom)
		current = dom
	}
	return path
}

// IsDominated reports whether every path from the super root to node passes
// through dominator. A node dominates itself.
func IsDominated(idom map[heap.NodeID]heap.NodeID, node, dominator heap.NodeID) bool {
	if node == dominator {
		return true
	}
	current := node
	for {
		dom, ok := idom[current]
		if !ok {
			return dominator == heap.SuperRootID && current == heap.SuperRootID
		}
		if dom == dominator {
			return true
		}
		if dom == heap.SuperRootID {
			return dominator == heap.SuperRootID
		}
		current = dom
	}
}

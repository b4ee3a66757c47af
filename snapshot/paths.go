// ABOUTME: BFS over reverse edges to explain why a node is alive
// ABOUTME: Paths run from the node back to a root-section node

package snapshot

import "github.com/prateek/heapcore/heap"

// Path is one chain of references keeping a node alive, ordered from the
// node itself back to the root-section node that anchors it.
type Path struct {
	IDs []heap.NodeID
}

// PathsToRoots finds up to maxPaths reference chains from the given node
// back to root-section nodes, shortest first. Paths never repeat a node, and
// the search stops at section nodes rather than continuing to the super
// root.
func PathsToRoots(s *Snapshot, from heap.NodeID, maxPaths int) []Path {
	if maxPaths <= 0 || s.Node(from) == nil {
		return nil
	}
	if isRootNode(from) {
		return []Path{{IDs: []heap.NodeID{from}}}
	}

	reverse := BuildReverseEdges(s)

	type searchNode struct {
		id   heap.NodeID
		path []heap.NodeID
	}
	var result []Path
	queue := []searchNode{{id: from, path: []heap.NodeID{from}}}

	for len(queue) > 0 && len(result) < maxPaths {
		node := queue[0]
		queue = queue[1:]

		for _, referrer := range reverse[node.id] {
			if referrer == heap.SuperRootID {
				continue
			}
			inPath := false
			for _, id := range node.path {
				if id == referrer {
					inPath = true
					break
				}
			}
			if inPath {
				continue
			}

			next := make([]heap.NodeID, len(node.path)+1)
			copy(next, node.path)
			next[len(node.path)] = referrer

			if isRootNode(referrer) {
				result = append(result, Path{IDs: next})
				if len(result) >= maxPaths {
					break
				}
			} else {
				queue = append(queue, searchNode{id: referrer, path: next})
			}
		}
	}
	return result
}

// isRootNode reports whether id is a synthetic root-section node.
func isRootNode(id heap.NodeID) bool {
	return heap.IsReservedID(id) && id != heap.SuperRootID
}

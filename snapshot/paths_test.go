// ABOUTME: Tests for paths-to-roots search
// ABOUTME: Shortest-first ordering, path limits, and cycle safety

package snapshot

import (
	"testing"

	"github.com/prateek/heapcore/heap"
)

func pathEqual(p Path, want []heap.NodeID) bool {
	if len(p.IDs) != len(want) {
		return false
	}
	for i := range want {
		if p.IDs[i] != want[i] {
			return false
		}
	}
	return true
}

func TestPathsToRootsChain(t *testing.T) {
	s := buildSnapshot([]*Node{
		{ID: 100, Edges: edges(102)},
		{ID: 102, Edges: edges(104)},
		{ID: 104},
	}, []heap.NodeID{100})

	paths := PathsToRoots(s, 104, 10)
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1: %v", len(paths), paths)
	}
	if !pathEqual(paths[0], []heap.NodeID{104, 102, 100, sectionID()}) {
		t.Errorf("path = %v", paths[0].IDs)
	}
}

func TestPathsToRootsDiamond(t *testing.T) {
	s := buildSnapshot([]*Node{
		{ID: 100, Edges: edges(102, 104)},
		{ID: 102, Edges: edges(106)},
		{ID: 104, Edges: edges(106)},
		{ID: 106},
	}, []heap.NodeID{100})

	paths := PathsToRoots(s, 106, 10)
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2: %v", len(paths), paths)
	}
	for _, p := range paths {
		if len(p.IDs) != 4 || p.IDs[0] != 106 || p.IDs[3] != sectionID() {
			t.Errorf("malformed path %v", p.IDs)
		}
	}

	// The limit truncates the result.
	if got := PathsToRoots(s, 106, 1); len(got) != 1 {
		t.Errorf("maxPaths=1 returned %d paths", len(got))
	}
	if got := PathsToRoots(s, 106, 0); got != nil {
		t.Errorf("maxPaths=0 returned %v", got)
	}
}

func TestPathsToRootsCycle(t *testing.T) {
	s := buildSnapshot([]*Node{
		{ID: 100, Edges: edges(102)},
		{ID: 102, Edges: edges(104)},
		{ID: 104, Edges: edges(102)}, // cycle between 102 and 104
	}, []heap.NodeID{100})

	paths := PathsToRoots(s, 104, 10)
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1: %v", len(paths), paths)
	}
	if !pathEqual(paths[0], []heap.NodeID{104, 102, 100, sectionID()}) {
		t.Errorf("path = %v", paths[0].IDs)
	}
}

func TestPathsToRootsUnreachable(t *testing.T) {
	s := buildSnapshot([]*Node{
		{ID: 100},
		{ID: 102}, // nothing points at it
	}, []heap.NodeID{100})

	if paths := PathsToRoots(s, 102, 10); len(paths) != 0 {
		t.Errorf("unreachable node has paths: %v", paths)
	}
	if paths := PathsToRoots(s, 999, 10); paths != nil {
		t.Errorf("unknown node has paths: %v", paths)
	}
}

func TestPathsToRootsFromRootNode(t *testing.T) {
	s := buildSnapshot([]*Node{{ID: 100}}, []heap.NodeID{100})
	paths := PathsToRoots(s, sectionID(), 10)
	if len(paths) != 1 || !pathEqual(paths[0], []heap.NodeID{sectionID()}) {
		t.Errorf("paths from a section node = %v", paths)
	}
}

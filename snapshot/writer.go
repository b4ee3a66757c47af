// ABOUTME: Builds snapshots from live heaps and serializes them as JSON
// ABOUTME: Registers itself as the heap package's snapshot writer

package snapshot

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/prateek/heapcore/heap"
)

func init() {
	heap.RegisterSnapshotWriter(Write)
}

// Build captures the current graph of gc: every allocated cell with its
// named pointer edges, the root sections, and tracked native-memory blocks.
// Querying node IDs assigns stable identities as a side effect; the heap
// itself is not mutated.
func Build(gc heap.Collector) *Snapshot {
	s := New(gc.Name())
	tracker := gc.IDTracker()

	// Synthetic root structure first: super root, then one node per
	// populated section pointing at the rooted cells.
	collector := &rootCollector{tracker: tracker}
	gc.MarkRoots(collector, true)

	super := &Node{ID: heap.SuperRootID, Name: "(super root)"}
	for sec := heap.RootSection(0); sec < heap.NumRootSections; sec++ {
		targets := collector.targets[sec]
		if len(targets) == 0 {
			continue
		}
		node := &Node{ID: heap.RootSectionID(sec), Name: "(" + sec.String() + ")"}
		for _, to := range targets {
			node.Edges = append(node.Edges, Edge{Name: "root", To: to})
		}
		super.Edges = append(super.Edges, Edge{Name: sec.String(), To: node.ID})
		s.AddNode(node)
	}
	s.AddNode(super)

	gc.ForEachCell(func(c heap.Cell) {
		h := c.Header()
		node := &Node{
			ID:       tracker.GetObjectID(h.Address()),
			Name:     h.VTable().Name,
			SelfSize: uint64(h.Size()),
		}
		heap.MarkCellWithNames(c, &edgeAcceptor{tracker: tracker, node: node})
		s.AddNode(node)
	})

	tracker.ForEachNativeID(func(ptr uintptr, id heap.NodeID) {
		s.AddNode(&Node{ID: id, Name: "(native)"})
		super.Edges = append(super.Edges, Edge{Name: "native", To: id})
	})

	gc.Callbacks().VisitIdentifiers(func(name string, sym heap.SymbolID) {
		s.Identifiers[name] = sym
	})
	return s
}

// rootCollector records, per section, the cells the runtime reports as
// strong roots. Duplicate reports within a section collapse to one edge.
type rootCollector struct {
	tracker *heap.IDTracker
	current heap.RootSection
	seen    map[heap.NodeID]bool
	targets [heap.NumRootSections][]heap.NodeID
}

func (r *rootCollector) BeginRootSection(s heap.RootSection) {
	r.current = s
	r.seen = make(map[heap.NodeID]bool)
}

func (r *rootCollector) EndRootSection() {}

func (r *rootCollector) Accept(slot *heap.Value) {
	v := *slot
	if !v.IsObject() {
		return
	}
	id := r.tracker.GetObjectID(v.Object())
	if r.seen[id] {
		return
	}
	r.seen[id] = true
	r.targets[r.current] = append(r.targets[r.current], id)
}

// edgeAcceptor turns a cell's named object slots into snapshot edges. Weak
// references are deliberately not edges; they do not retain.
type edgeAcceptor struct {
	tracker *heap.IDTracker
	node    *Node
}

func (e *edgeAcceptor) AcceptNamed(slot *heap.Value, name string) {
	v := *slot
	if !v.IsObject() {
		return
	}
	e.node.Edges = append(e.node.Edges, Edge{Name: name, To: e.tracker.GetObjectID(v.Object())})
}

// serialized is the on-disk form.
type serialized struct {
	Heap        string                   `json:"heap"`
	SuperRoot   heap.NodeID              `json:"super_root"`
	Nodes       []*Node                  `json:"nodes"`
	Identifiers map[string]heap.SymbolID `json:"identifiers,omitempty"`
}

// Write captures gc and serializes the snapshot to w.
func Write(gc heap.Collector, w io.Writer) error {
	return encode(Build(gc), w, false)
}

// WritePretty is Write with indented output, for snapshots meant to be read
// by people.
func WritePretty(gc heap.Collector, w io.Writer) error {
	return encode(Build(gc), w, true)
}

func encode(s *Snapshot, w io.Writer, pretty bool) error {
	out := serialized{
		Heap:        s.HeapName,
		SuperRoot:   heap.SuperRootID,
		Identifiers: s.Identifiers,
	}
	s.ForEachNode(func(n *Node) {
		out.Nodes = append(out.Nodes, n)
	})
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}

// Parse reads a serialized snapshot and rebuilds the graph. Node IDs must be
// nonzero and unique, and every edge must resolve to a node in the snapshot.
func Parse(r io.Reader) (*Snapshot, error) {
	var in serialized
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("snapshot: decoding: %w", err)
	}
	s := New(in.Heap)
	for name, sym := range in.Identifiers {
		s.Identifiers[name] = sym
	}
	for i, n := range in.Nodes {
		if n.ID == heap.NoID {
			return nil, fmt.Errorf("snapshot: node at index %d has no ID", i)
		}
		if s.Node(n.ID) != nil {
			return nil, fmt.Errorf("snapshot: duplicate node ID %d", n.ID)
		}
		s.AddNode(n)
	}
	for _, n := range in.Nodes {
		for _, e := range n.Edges {
			if s.Node(e.To) == nil {
				return nil, fmt.Errorf("snapshot: node %d has an edge to unknown node %d", n.ID, e.To)
			}
		}
	}
	return s, nil
}

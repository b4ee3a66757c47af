// ABOUTME: Stable, address-independent identities for heap cells and native memory
// ABOUTME: Heap IDs are even, native IDs odd; IDs are lazily assigned and never reused

package heap

// NodeID is the stable identity of a heap cell or native-memory block, used
// by heap snapshots and diagnostics. IDs survive object moves and are never
// reused.
type NodeID uint64

// Reserved node IDs. Every root section gets one so snapshots can attach root
// edges to a section node.
const (
	// NoID is returned where an ID cannot be found.
	NoID NodeID = 0
	// SuperRootID is the ID of the synthetic super root that points at every
	// root section.
	SuperRootID NodeID = 1

	firstRootSectionID = SuperRootID + 1
	firstNonReservedID = firstRootSectionID + NodeID(NumRootSections)
)

// RootSectionID returns the reserved node ID for a root section.
func RootSectionID(s RootSection) NodeID {
	assert(s < NumRootSections, "invalid root section")
	return firstRootSectionID + NodeID(s)
}

// IsReservedID reports whether id belongs to the reserved range: the super
// root and the per-section root nodes. Reserved IDs are never assigned to
// cells or native memory.
func IsReservedID(id NodeID) bool {
	return id != NoID && id < firstNonReservedID
}

// idStep keeps heap and native counters on separate parities.
const idStep = 2

// IDTracker lazily assigns stable identities to addresses. Heap identities
// are even and native identities odd; that separation is an implementation
// detail, not a guarantee. State is owned by the collector instance that
// embeds the tracker, so multiple heaps stay independent.
//
// Not safe for concurrent use; the tracker is touched only by the mutator
// thread and by the collector while the mutator is paused.
type IDTracker struct {
	nextHeapID   NodeID
	nextNativeID NodeID
	heapIDs      map[Address]NodeID
	nativeIDs    map[uintptr]NodeID

	// fatal terminates the process on ID-space exhaustion; continuing would
	// risk ID collisions. Wired to the owning collector's fatal path.
	fatal func(msg string)
}

// NewIDTracker returns an empty tracker.
func NewIDTracker() *IDTracker {
	first := firstNonReservedID + firstNonReservedID%2 // must start even
	return &IDTracker{
		nextHeapID:   first,
		nextNativeID: first + 1,
		heapIDs:      make(map[Address]NodeID),
		nativeIDs:    make(map[uintptr]NodeID),
		fatal:        func(msg string) { panic("heap: " + msg) },
	}
}

// IsTrackingIDs reports whether any IDs have been assigned yet.
func (t *IDTracker) IsTrackingIDs() bool {
	return len(t.heapIDs) > 0 || len(t.nativeIDs) > 0
}

// GetObjectID returns the cell's stable ID, assigning one on first query.
func (t *IDTracker) GetObjectID(addr Address) NodeID {
	assert(addr != NilAddress, "GetObjectID on nil address")
	if id, ok := t.heapIDs[addr]; ok {
		return id
	}
	id := t.allocObjectID()
	t.heapIDs[addr] = id
	return id
}

// GetNativeID returns the native block's stable ID, assigning one on first
// query.
func (t *IDTracker) GetNativeID(mem uintptr) NodeID {
	assert(mem != 0, "GetNativeID on nil pointer")
	if id, ok := t.nativeIDs[mem]; ok {
		return id
	}
	id := t.allocNativeID()
	t.nativeIDs[mem] = id
	return id
}

// MoveObject relocates the identity mapping when a cell moves. Calls must be
// issued in a safe temporal order: if A moves to B and C moves to A in the
// same pass, A->B must be recorded before C->A. The tracker does not enforce
// the ordering itself; see the collector for how slide compaction satisfies
// it structurally.
func (t *IDTracker) MoveObject(oldAddr, newAddr Address) {
	if oldAddr == newAddr {
		// Compaction may leave a cell in place.
		return
	}
	id, ok := t.heapIDs[oldAddr]
	if !ok {
		// Avoid making new entries for objects that were never tracked.
		return
	}
	_, clash := t.heapIDs[newAddr]
	assert(!clash, "moving to an address that is already tracked")
	delete(t.heapIDs, oldAddr)
	t.heapIDs[newAddr] = id
}

// UntrackObject drops a collected cell's entry, keeping the working set small.
func (t *IDTracker) UntrackObject(addr Address) {
	delete(t.heapIDs, addr)
}

// UntrackNative drops a native block's entry. Mandatory on free: the
// allocator reuses addresses, and a stale entry would apply a stale ID to an
// unrelated allocation.
func (t *IDTracker) UntrackNative(mem uintptr) {
	delete(t.nativeIDs, mem)
}

// ForEachObjectID calls fn for every tracked cell.
func (t *IDTracker) ForEachObjectID(fn func(addr Address, id NodeID)) {
	for addr, id := range t.heapIDs {
		fn(addr, id)
	}
}

// ForEachNativeID calls fn for every tracked native block.
func (t *IDTracker) ForEachNativeID(fn func(mem uintptr, id NodeID)) {
	for mem, id := range t.nativeIDs {
		fn(mem, id)
	}
}

func (t *IDTracker) allocObjectID() NodeID {
	if t.nextHeapID >= ^NodeID(0)-idStep {
		t.fatal("ran out of object IDs")
	}
	t.nextHeapID += idStep
	return t.nextHeapID
}

func (t *IDTracker) allocNativeID() NodeID {
	if t.nextNativeID >= ^NodeID(0)-idStep {
		t.fatal("ran out of native IDs")
	}
	t.nextNativeID += idStep
	return t.nextNativeID
}

// ABOUTME: CompactingGC: a stop-the-world sliding mark-compact collector
// ABOUTME: Arena of cells with stable addresses; live cells slide toward address 1

package heap

import (
	"fmt"
	"time"
)

// maxAllocationSize is the largest single allocation CompactingGC accepts in
// any state.
const maxAllocationSize = 1 << 30

// FixedSizeValue records whether the last allocation was fixed size. For
// long-lived allocations no fixed-sizeness is declared, so Unknown is used.
type FixedSizeValue uint8

const (
	FixedSizeValueYes FixedSizeValue = iota
	FixedSizeValueNo
	FixedSizeValueUnknown
)

// CompactingGC is a full, synchronous mark-compact collector over an arena of
// cells addressed by index. A collection marks from the roots, slides every
// survivor toward address 1 in address order, then runs a dedicated phase in
// which every surviving pointer is rewritten to its final address
// (IsUpdatingPointers reports true only during that phase). Weak slots are
// processed strictly after strong marking. The mutator is paused for the
// whole cycle.
//
// Write barriers are the no-op defaults: the collector is neither
// generational nor incremental, so no mutator write can create an edge it
// would miss.
type CompactingGC struct {
	GCBase

	// cells is the arena; a cell's Address is its index plus one.
	cells []Cell

	allocatedBytes uint64
	externalBytes  uint64
	heapSize       uint64

	weakSlots     []*WeakRefSlot
	firstFreeWeak *WeakRefSlot

	// finalizables holds live cells with finalizers, in allocation order.
	finalizables []Cell

	updatingPointers bool

	lastAllocFixedSize FixedSizeValue
}

var _ Collector = (*CompactingGC)(nil)

// NewCompactingGC builds a collector from a validated configuration.
func NewCompactingGC(cfg Config, cb GCCallbacks) (*CompactingGC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gc := &CompactingGC{
		GCBase:             newGCBase(cfg, cb),
		heapSize:           cfg.InitHeapSize,
		lastAllocFixedSize: FixedSizeValueUnknown,
	}
	gc.GCBase.init(gc)
	return gc, nil
}

// MaxAllocationSize is the largest single allocation the collector accepts.
func (gc *CompactingGC) MaxAllocationSize() uint32 { return maxAllocationSize }

// Alloc admits c to the heap, collecting first if the heap is full.
func (gc *CompactingGC) Alloc(c Cell, vt *VTable, size uint32, fixed FixedSize, fin HasFinalizer) (Address, error) {
	fsv := FixedSizeValueNo
	if fixed {
		fsv = FixedSizeValueYes
	}
	return gc.allocImpl(c, vt, size, fsv, fin, false)
}

// AllocLongLived admits c with a long-lifetime hint. CompactingGC has a
// single space, so the hint only tags the cell for diagnostics and for the
// markLongLived root-marking flag of generational collectors.
func (gc *CompactingGC) AllocLongLived(c Cell, vt *VTable, size uint32, fin HasFinalizer) (Address, error) {
	return gc.allocImpl(c, vt, size, FixedSizeValueUnknown, fin, true)
}

func (gc *CompactingGC) allocImpl(c Cell, vt *VTable, size uint32, fsv FixedSizeValue, fin HasFinalizer, longLived bool) (Address, error) {
	gc.assertAllocAllowed()
	assert(c.Header().addr == NilAddress, "cell already admitted to a heap")
	if size == 0 {
		size = vt.Size
	}
	assert(size > 0, "zero-sized allocation")
	if size > maxAllocationSize {
		return NilAddress, gc.oom(fmt.Errorf(
			"allocation of %s exceeds the maximum single allocation %s",
			formatSize(uint64(size)), formatSize(uint64(maxAllocationSize))))
	}
	if gc.shouldSanitize() {
		gc.Collect()
	}
	if !gc.fits(uint64(size)) {
		gc.Collect()
		for !gc.fits(uint64(size)) && gc.heapSize < gc.config.MaxHeapSize {
			gc.growHeap()
		}
		if !gc.fits(uint64(size)) {
			return NilAddress, gc.oom(fmt.Errorf(
				"cannot allocate %s: %s live + %s external in a %s heap (max %s)",
				formatSize(uint64(size)), formatSize(gc.allocatedBytes),
				formatSize(gc.externalBytes), formatSize(gc.heapSize),
				formatSize(gc.config.MaxHeapSize)))
		}
	}

	addr := Address(len(gc.cells) + 1)
	c.Header().init(vt, size, addr, longLived, gc.nextDebugID())
	gc.cells = append(gc.cells, c)
	gc.allocatedBytes += uint64(size)
	gc.totalAllocatedBytes += uint64(size)
	if fin == HasFinalizerYes {
		assert(vt.Finalize != nil, "HasFinalizerYes without a finalizer")
		gc.finalizables = append(gc.finalizables, c)
	}
	if heapAsserts {
		gc.debug.NumAllocatedObjects++
		gc.lastAllocFixedSize = fsv
	}
	return addr, nil
}

func (gc *CompactingGC) fits(size uint64) bool {
	return gc.allocatedBytes+gc.externalBytes+size <= gc.heapSize
}

func (gc *CompactingGC) growHeap() {
	next := gc.heapSize * 2
	if next > gc.config.MaxHeapSize {
		next = gc.config.MaxHeapSize
	}
	gc.heapSize = next
}

// LastAllocationWasFixedSize reports the fixed-sizeness of the most recent
// allocation. Meaningful only when heapAsserts is enabled.
func (gc *CompactingGC) LastAllocationWasFixedSize() FixedSizeValue {
	return gc.lastAllocFixedSize
}

// IsMostRecentFinalizableObj reports whether c is the most recently allocated
// finalizable cell.
func (gc *CompactingGC) IsMostRecentFinalizableObj(c Cell) bool {
	n := len(gc.finalizables)
	return n > 0 && gc.finalizables[n-1] == c
}

// Contains reports whether addr is a currently valid arena address.
func (gc *CompactingGC) Contains(addr Address) bool {
	return addr != NilAddress && int(addr) <= len(gc.cells)
}

// Lookup resolves addr to its cell.
func (gc *CompactingGC) Lookup(addr Address) Cell {
	assert(gc.Contains(addr), "address outside the heap")
	return gc.cells[addr-1]
}

// ForEachCell visits every allocated cell, reachable or not.
func (gc *CompactingGC) ForEachCell(fn func(c Cell)) {
	for _, c := range gc.cells {
		fn(c)
	}
}

// IsUpdatingPointers reports whether the current phase stores final
// addresses into accepted slots.
func (gc *CompactingGC) IsUpdatingPointers() bool { return gc.updatingPointers }

// CanAllocExternalMemory reports whether size bytes of external memory could
// ever be accounted for by this heap.
func (gc *CompactingGC) CanAllocExternalMemory(size uint64) bool {
	return size <= gc.config.MaxHeapSize
}

// CreditExternalMemory adds off-heap bytes owned by c to the sizing
// heuristics, so external pressure can trigger collections.
func (gc *CompactingGC) CreditExternalMemory(c Cell, size uint64) {
	gc.externalBytes += size
}

// DebitExternalMemory reverses a credit, typically from a finalizer.
func (gc *CompactingGC) DebitExternalMemory(c Cell, size uint64) {
	assert(gc.externalBytes >= size, "debiting more external memory than was credited")
	gc.externalBytes -= size
}

// NewWeakRef allocates a weak reference to v, recycling a freed slot when one
// is available.
func (gc *CompactingGC) NewWeakRef(v Value) *WeakRef {
	if s := gc.firstFreeWeak; s != nil {
		gc.firstFreeWeak = s.NextFree()
		s.Reset(v)
		return &WeakRef{slot: s}
	}
	s := NewWeakRefSlot(v)
	gc.weakSlots = append(gc.weakSlots, s)
	return &WeakRef{slot: s}
}

// GetHeapInfo populates info without allocating or collecting.
func (gc *CompactingGC) GetHeapInfo(info *HeapInfo) {
	gc.getHeapInfoBase(info)
	info.AllocatedBytes = gc.allocatedBytes
	info.HeapSize = gc.heapSize
	info.ExternalBytes = gc.externalBytes
}

// GetHeapInfoWithMallocSize additionally estimates off-heap memory by asking
// the runtime and each cell that can report it.
func (gc *CompactingGC) GetHeapInfoWithMallocSize(info *HeapInfo) {
	gc.GetHeapInfo(info)
	estimate := gc.callbacks.MallocSize()
	for _, c := range gc.cells {
		if ms := c.Header().VTable().MallocSize; ms != nil {
			estimate += ms(c)
		}
	}
	info.MallocSizeEstimate = estimate
}

// Collect runs one full collection cycle synchronously. Phases, in order:
// strong mark from roots, compaction planning, pointer update (the only phase
// in which IsUpdatingPointers is true), weak-root and weak-slot processing,
// then sweep with finalization, identity moves, and trimming.
func (gc *CompactingGC) Collect() {
	cycle := gc.BeginGCCycle()
	defer cycle.End()

	wallStart := time.Now()
	cpuStart := processCPUSeconds()
	usedBefore := gc.allocatedBytes + gc.externalBytes

	// Phase 1: strong mark. Cells' weak slots are marked along the way via
	// the acceptor's weak capability; weak roots wait until liveness is
	// final.
	marker := &markAcceptor{
		gc:            gc,
		markedSymbols: make([]bool, gc.callbacks.SymbolsEnd()),
	}
	gc.MarkRoots(marker, true)
	marker.drain()

	// Phase 2: plan the slide. Survivors get consecutive final addresses in
	// current address order, so no forward address exceeds its old one.
	var live Address
	for _, c := range gc.cells {
		h := c.Header()
		if h.marked {
			live++
			h.forward = live
		}
	}

	// Phase 3: update pointers to final addresses. Root slots and live
	// cells' slots are each visited exactly once. Weak roots are processed
	// here too: they see final liveness and final addresses.
	gc.updatingPointers = true
	updater := updateAcceptor{gc: gc}
	gc.MarkRoots(updater, true)
	for _, c := range gc.cells {
		if c.Header().marked {
			MarkCell(c, updater)
		}
	}
	gc.markWeakRoots(weakUpdateAcceptor{gc: gc})
	gc.sweepWeakSlots()
	gc.updatingPointers = false

	// Phase 4: sweep. Iterating in ascending old-address order keeps the
	// identity moves safe: every destination was vacated (moved or
	// untracked) before it is reassigned.
	newCells := make([]Cell, 0, live)
	var liveBytes uint64
	var collected, finalized uint64
	for _, c := range gc.cells {
		h := c.Header()
		if !h.marked {
			collected++
			if h.vt.Finalize != nil {
				h.vt.Finalize(c, gc)
				finalized++
			}
			gc.idTracker.UntrackObject(h.addr)
			continue
		}
		gc.idTracker.MoveObject(h.addr, h.forward)
		h.addr = h.forward
		h.forward = NilAddress
		h.marked = false
		newCells = append(newCells, c)
		liveBytes += uint64(h.size)
	}
	gc.cells = newCells

	// Trim: let oversized survivors release slack capacity.
	for _, c := range gc.cells {
		vt := c.Header().vt
		if vt.TrimSize == nil || vt.Trim == nil {
			continue
		}
		if trimmed := vt.TrimSize(c); trimmed < c.Header().size {
			vt.Trim(c)
			liveBytes -= uint64(c.Header().size - trimmed)
			c.Header().size = trimmed
		}
	}
	gc.allocatedBytes = liveBytes

	gc.finalizables = gc.finalizables[:0]
	for _, c := range gc.cells {
		if c.Header().vt.Finalize != nil {
			gc.finalizables = append(gc.finalizables, c)
		}
	}

	gc.callbacks.FreeSymbols(marker.markedSymbols)

	gc.numFinalizedObjects = finalized
	if heapAsserts {
		gc.debug.NumReachableObjects = uint64(live)
		gc.debug.NumCollectedObjects = collected
		gc.debug.NumFinalizedObjects = finalized
		gc.debug.NumAllocatedObjects = uint64(len(gc.cells))
		var markedCount uint64
		for _, ok := range marker.markedSymbols {
			if ok {
				markedCount++
			}
		}
		gc.debug.NumMarkedSymbols = markedCount
	}

	now := time.Now()
	gc.recordGCStats(now.Sub(wallStart).Seconds(), processCPUSeconds()-cpuStart,
		gc.heapSize, usedBefore, gc.allocatedBytes+gc.externalBytes)
	gc.checkTripwire(gc.allocatedBytes, now)
}

// sweepWeakSlots applies final liveness to every weak slot: marked slots get
// their referent cleared or repointed and return to Unmarked; slots no live
// holder marked are recycled onto the free list.
func (gc *CompactingGC) sweepWeakSlots() {
	for _, s := range gc.weakSlots {
		switch s.State() {
		case WeakSlotMarked:
			if s.HasPointer() {
				h := gc.cells[s.Pointer()-1].Header()
				if h.marked {
					s.SetPointer(h.forward)
				} else {
					s.ClearPointer()
				}
			}
			s.Unmark()
		case WeakSlotUnmarked:
			s.Free(gc.firstFreeWeak)
			gc.firstFreeWeak = s
		case WeakSlotFree:
			// Already recycled.
		}
	}
}

// markAcceptor is the strong-marking visitor. It declares the weak-marking
// capability so MarkCell marks cells' weak slots during the same pass.
type markAcceptor struct {
	gc            *CompactingGC
	markedSymbols []bool
	worklist      []Cell
}

func (m *markAcceptor) Accept(slot *Value) {
	v := *slot
	switch {
	case v.IsObject():
		c := m.gc.Lookup(v.Object())
		h := c.Header()
		if !h.marked {
			h.marked = true
			m.worklist = append(m.worklist, c)
		}
	case v.IsSymbol():
		if id := v.Symbol(); int(id) < len(m.markedSymbols) {
			m.markedSymbols[id] = true
		}
	}
}

func (m *markAcceptor) BeginRootSection(s RootSection) {}
func (m *markAcceptor) EndRootSection()                {}

func (m *markAcceptor) AcceptWeakSlot(s *WeakRefSlot) {
	if s.State() == WeakSlotUnmarked {
		s.Mark()
	}
}

func (m *markAcceptor) drain() {
	for len(m.worklist) > 0 {
		c := m.worklist[len(m.worklist)-1]
		m.worklist = m.worklist[:len(m.worklist)-1]
		MarkCell(c, m)
	}
}

// updateAcceptor rewrites object slots to their referents' final addresses.
// It deliberately lacks the weak-marking capability: weak slots are handled
// once, in sweepWeakSlots.
type updateAcceptor struct {
	gc *CompactingGC
}

func (u updateAcceptor) Accept(slot *Value) {
	v := *slot
	if !v.IsObject() {
		return
	}
	h := u.gc.cells[v.Object()-1].Header()
	assert(h.marked, "updating a pointer to a dead cell")
	*slot = EncodeObject(h.forward)
}

func (u updateAcceptor) BeginRootSection(s RootSection) {}
func (u updateAcceptor) EndRootSection()                {}

// weakUpdateAcceptor handles the weak-root phase: weak root Values observe
// final liveness, and mutator-held weak slots are marked live.
type weakUpdateAcceptor struct {
	gc *CompactingGC
}

func (w weakUpdateAcceptor) AcceptWeakRoot(slot *Value) {
	v := *slot
	if !v.IsObject() {
		return
	}
	h := w.gc.cells[v.Object()-1].Header()
	if h.marked {
		*slot = EncodeObject(h.forward)
	} else {
		*slot = EncodeEmpty()
	}
}

func (w weakUpdateAcceptor) AcceptWeakSlot(s *WeakRefSlot) {
	if s.State() == WeakSlotUnmarked {
		s.Mark()
	}
}

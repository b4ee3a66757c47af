// ABOUTME: End-to-end tests for the mark-compact collector
// ABOUTME: Reachability, compaction, finalizers, weak refs, symbols, stats

package heap

import (
	"errors"
	"testing"
)

// linkCell is a test cell with a fixed number of traced slots.
type linkCell struct {
	header    CellHeader
	slots     []Value
	finalized *int
	weak      *WeakRefSlot
}

func (c *linkCell) Header() *CellHeader { return &c.header }
func (c *linkCell) Slots() []Value      { return c.slots }

const linkCellSize = 64

var linkVT = &VTable{
	Kind: KindFirstUser,
	Name: "Link",
	Size: linkCellSize,
	Meta: Metadata{
		Array: &ArrayField{
			Name:  "slots",
			Start: 0,
			Length: func(c Cell) int {
				return len(c.(*linkCell).slots)
			},
		},
	},
}

var finalizableVT = &VTable{
	Kind: KindFirstUser + 1,
	Name: "Finalizable",
	Size: linkCellSize,
	Finalize: func(c Cell, gc Collector) {
		*c.(*linkCell).finalized++
	},
	MallocSize: func(c Cell) uint64 { return 128 },
	Meta:       linkVT.Meta,
}

var weakHolderVT = &VTable{
	Kind: KindFirstUser + 2,
	Name: "WeakHolder",
	MarkWeak: func(c Cell, acc WeakSlotAcceptor) {
		if w := c.(*linkCell).weak; w != nil {
			acc.AcceptWeakSlot(w)
		}
	},
	Meta: linkVT.Meta,
}

// vmStub is a minimal runtime: a flat custom root section plus symbol and
// weak-ref bookkeeping.
type vmStub struct {
	NopCallbacks
	roots      []Value
	weakRefs   []*WeakRef
	symbolsEnd SymbolID
	freed      [][]bool
}

func (r *vmStub) MarkRoots(acc RootAcceptor, markLongLived bool) {
	acc.BeginRootSection(RootSectionCustom)
	for i := range r.roots {
		acc.Accept(&r.roots[i])
	}
	acc.EndRootSection()
}

func (r *vmStub) MarkWeakRoots(acc WeakRootAcceptor) {
	for _, w := range r.weakRefs {
		if w.Slot().State() == WeakSlotUnmarked {
			acc.AcceptWeakSlot(w.Slot())
		}
	}
}

func (r *vmStub) SymbolsEnd() SymbolID { return r.symbolsEnd }

func (r *vmStub) FreeSymbols(marked []bool) {
	cp := make([]bool, len(marked))
	copy(cp, marked)
	r.freed = append(r.freed, cp)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test-heap"
	cfg.InitHeapSize = 4096
	cfg.MaxHeapSize = 1 << 20
	cfg.RecordStats = true
	cfg.RecoverableOOM = true
	return cfg
}

func newTestGC(t *testing.T, rt *vmStub) *CompactingGC {
	t.Helper()
	gc, err := NewCompactingGC(testConfig(), rt)
	if err != nil {
		t.Fatalf("NewCompactingGC: %v", err)
	}
	return gc
}

func allocLink(t *testing.T, gc *CompactingGC, vt *VTable, slots int) *linkCell {
	t.Helper()
	c := &linkCell{slots: make([]Value, slots)}
	fin := HasFinalizerNo
	if vt.Finalize != nil {
		fin = HasFinalizerYes
	}
	if _, err := gc.Alloc(c, vt, linkCellSize, FixedSizeNo, fin); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	return c
}

func TestCollectReclaimsUnreachable(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	rooted := allocLink(t, gc, linkVT, 1)
	child := allocLink(t, gc, linkVT, 0)
	garbage := allocLink(t, gc, linkVT, 0)
	_ = garbage

	SetValue(gc, &rooted.slots[0], EncodeObject(child.Header().Address()))
	rt.roots = append(rt.roots, EncodeObject(rooted.Header().Address()))

	gc.Collect()

	var info DebugHeapInfo
	gc.GetDebugHeapInfo(&info)
	if info.NumReachableObjects != 2 {
		t.Errorf("reachable = %d, want 2", info.NumReachableObjects)
	}
	if info.NumCollectedObjects != 1 {
		t.Errorf("collected = %d, want 1", info.NumCollectedObjects)
	}

	// Survivors slid to the lowest addresses and all pointers were updated.
	if rooted.Header().Address() != Address(1) {
		t.Errorf("rooted address = %d, want 1", rooted.Header().Address())
	}
	if child.Header().Address() != Address(2) {
		t.Errorf("child address = %d, want 2", child.Header().Address())
	}
	if rt.roots[0] != EncodeObject(rooted.Header().Address()) {
		t.Error("root slot not updated to the final address")
	}
	if rooted.slots[0] != EncodeObject(child.Header().Address()) {
		t.Error("cell slot not updated to the final address")
	}
	if gc.Lookup(Address(1)) != Cell(rooted) {
		t.Error("Lookup does not resolve the compacted address")
	}
}

func TestCollectEmptyHeap(t *testing.T) {
	gc := newTestGC(t, &vmStub{})
	gc.Collect()
	gc.Collect()
	if n := gc.NumCollections(); n != 2 {
		t.Errorf("NumCollections = %d, want 2", n)
	}
}

func TestIDStabilityAcrossMoves(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	for i := 0; i < 5; i++ {
		allocLink(t, gc, linkVT, 0) // padding that dies at the first collect
	}
	surv := allocLink(t, gc, linkVT, 0)
	rt.roots = append(rt.roots, EncodeObject(surv.Header().Address()))

	id := gc.IDTracker().GetObjectID(surv.Header().Address())
	gc.Collect()

	if surv.Header().Address() != Address(1) {
		t.Fatalf("survivor address = %d, want 1", surv.Header().Address())
	}
	if got := gc.IDTracker().GetObjectID(surv.Header().Address()); got != id {
		t.Errorf("ID after move = %d, want %d", got, id)
	}
}

func TestFinalizersRunOncePerDeadCell(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	count := 0
	keep := &linkCell{finalized: &count}
	if _, err := gc.Alloc(keep, finalizableVT, linkCellSize, FixedSizeNo, HasFinalizerYes); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	die := &linkCell{finalized: &count}
	if _, err := gc.Alloc(die, finalizableVT, linkCellSize, FixedSizeNo, HasFinalizerYes); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if !gc.IsMostRecentFinalizableObj(die) {
		t.Error("most recent finalizable should be the last allocation")
	}
	rt.roots = append(rt.roots, EncodeObject(keep.Header().Address()))

	gc.Collect()
	if count != 1 {
		t.Errorf("finalizer ran %d times, want 1", count)
	}
	gc.Collect()
	if count != 1 {
		t.Errorf("finalizer re-ran on a later cycle: %d", count)
	}

	// Drop the root; the remaining finalizable dies too.
	rt.roots = nil
	gc.Collect()
	if count != 2 {
		t.Errorf("finalizer count after dropping root = %d, want 2", count)
	}
}

func TestWeakRefLifecycle(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	target := allocLink(t, gc, linkVT, 0)
	rt.roots = append(rt.roots, EncodeObject(target.Header().Address()))

	ref := gc.NewWeakRef(EncodeObject(target.Header().Address()))
	rt.weakRefs = append(rt.weakRefs, ref)

	// Cycle 1: referent alive. The ref tracks the moved address.
	allocLink(t, gc, linkVT, 0) // garbage so compaction has something to slide over
	gc.Collect()
	if !ref.IsValid() {
		t.Fatal("weak ref invalid while referent is rooted")
	}
	if ref.Value() != EncodeObject(target.Header().Address()) {
		t.Error("weak ref not repointed to the referent's final address")
	}
	if ref.Slot().State() != WeakSlotUnmarked {
		t.Errorf("slot state between cycles = %v, want Unmarked", ref.Slot().State())
	}

	// Cycle 2: referent dies; the still-held ref observes collected.
	rt.roots = nil
	gc.Collect()
	if ref.IsValid() {
		t.Error("weak ref still valid after referent was collected")
	}
}

func TestWeakSlotRecycling(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	target := allocLink(t, gc, linkVT, 0)
	rt.roots = append(rt.roots, EncodeObject(target.Header().Address()))

	ref := gc.NewWeakRef(EncodeObject(target.Header().Address()))
	slot := ref.Slot()
	// The mutator dropped the ref: nobody marks the slot this cycle.
	gc.Collect()
	if slot.State() != WeakSlotFree {
		t.Fatalf("unmarked slot state after collect = %v, want Free", slot.State())
	}

	ref2 := gc.NewWeakRef(EncodeObject(target.Header().Address()))
	if ref2.Slot() != slot {
		t.Error("NewWeakRef did not recycle the freed slot")
	}
	if !ref2.IsValid() {
		t.Error("recycled slot should reference the new target")
	}
}

func TestWeakSlotsInsideCells(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	target := allocLink(t, gc, linkVT, 0)
	holder := allocLink(t, gc, weakHolderVT, 0)
	holder.weak = gc.NewWeakRef(EncodeObject(target.Header().Address())).Slot()

	rt.roots = []Value{
		EncodeObject(holder.Header().Address()),
		EncodeObject(target.Header().Address()),
	}

	// Holder and target both live: the slot survives and tracks moves.
	gc.Collect()
	if holder.weak.State() != WeakSlotUnmarked {
		t.Fatalf("slot state = %v, want Unmarked", holder.weak.State())
	}
	if !holder.weak.HasValue() {
		t.Fatal("slot lost its referent while the referent is live")
	}

	// Target dies; holder keeps the slot, which observes the collection.
	rt.roots = rt.roots[:1]
	gc.Collect()
	if holder.weak.State() != WeakSlotUnmarked {
		t.Errorf("slot state = %v, want Unmarked", holder.weak.State())
	}
	if holder.weak.HasValue() {
		t.Error("slot still has a value after its referent died")
	}
}

func TestHandlesSurviveCollection(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	scope := gc.NewHandleScope()
	defer scope.Close()

	allocLink(t, gc, linkVT, 0) // dies
	c := allocLink(t, gc, linkVT, 0)
	h := scope.Handle(EncodeObject(c.Header().Address()))

	gc.Collect()

	if h.Value() != EncodeObject(c.Header().Address()) {
		t.Error("handle not updated to the final address")
	}
	if h.Cell(gc) != Cell(c) {
		t.Error("handle resolves to the wrong cell")
	}
}

func TestHandleScopeLIFO(t *testing.T) {
	gc := newTestGC(t, &vmStub{})
	outer := gc.NewHandleScope()
	inner := gc.NewHandleScope()
	expectPanic(t, "out of order close", func() { outer.Close() })
	inner.Close()
	outer.Close()
}

func TestSymbolMarkingAndFreeing(t *testing.T) {
	rt := &vmStub{symbolsEnd: 4}
	gc := newTestGC(t, rt)

	c := allocLink(t, gc, linkVT, 1)
	SetValue(gc, &c.slots[0], EncodeSymbol(2))
	rt.roots = []Value{EncodeObject(c.Header().Address()), EncodeSymbol(0)}

	gc.Collect()

	if len(rt.freed) != 1 {
		t.Fatalf("FreeSymbols called %d times, want 1", len(rt.freed))
	}
	marked := rt.freed[0]
	if len(marked) != 4 {
		t.Fatalf("marked bitmap length = %d, want SymbolsEnd", len(marked))
	}
	want := []bool{true, false, true, false}
	for i, m := range want {
		if marked[i] != m {
			t.Errorf("symbol %d marked = %v, want %v", i, marked[i], m)
		}
	}
}

func TestAllocGrowsThenFails(t *testing.T) {
	cfg := testConfig()
	cfg.InitHeapSize = 256
	cfg.MaxHeapSize = 1024
	rt := &vmStub{}
	gc, err := NewCompactingGC(cfg, rt)
	if err != nil {
		t.Fatalf("NewCompactingGC: %v", err)
	}

	// Everything is rooted, so collections free nothing; the heap grows
	// until the cap and then allocation fails recoverable.
	var failed error
	for i := 0; i < 64; i++ {
		c := &linkCell{}
		_, err := gc.Alloc(c, linkVT, linkCellSize, FixedSizeNo, HasFinalizerNo)
		if err != nil {
			failed = err
			break
		}
		rt.roots = append(rt.roots, EncodeObject(c.Header().Address()))
	}
	if failed == nil {
		t.Fatal("allocation never failed despite the heap cap")
	}
	if !errors.Is(failed, ErrOutOfMemory) {
		t.Errorf("err = %v, want ErrOutOfMemory", failed)
	}

	var info HeapInfo
	gc.GetHeapInfo(&info)
	if info.HeapSize != 1024 {
		t.Errorf("HeapSize = %d, want grown to the 1024 cap", info.HeapSize)
	}
	if info.AllocatedBytes != uint64(len(rt.roots))*linkCellSize {
		t.Errorf("AllocatedBytes = %d, want %d", info.AllocatedBytes, len(rt.roots)*linkCellSize)
	}
}

func TestOversizedAllocationFails(t *testing.T) {
	gc := newTestGC(t, &vmStub{})
	c := &linkCell{}
	_, err := gc.Alloc(c, linkVT, gc.MaxAllocationSize()+1, FixedSizeNo, HasFinalizerNo)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("err = %v, want ErrOutOfMemory", err)
	}
}

func TestExternalMemoryPressure(t *testing.T) {
	cfg := testConfig()
	cfg.InitHeapSize = 512
	cfg.MaxHeapSize = 512
	rt := &vmStub{}
	gc, err := NewCompactingGC(cfg, rt)
	if err != nil {
		t.Fatalf("NewCompactingGC: %v", err)
	}

	c := allocLink(t, gc, linkVT, 0)
	rt.roots = append(rt.roots, EncodeObject(c.Header().Address()))

	if !gc.CanAllocExternalMemory(256) {
		t.Error("256 external bytes should be admissible")
	}
	if gc.CanAllocExternalMemory(1 << 40) {
		t.Error("absurd external size should not be admissible")
	}

	gc.CreditExternalMemory(c, 448)
	var info HeapInfo
	gc.GetHeapInfo(&info)
	if info.ExternalBytes != 448 {
		t.Errorf("ExternalBytes = %d, want 448", info.ExternalBytes)
	}

	// External pressure leaves no room for another cell.
	if _, err := gc.Alloc(&linkCell{}, linkVT, linkCellSize, FixedSizeNo, HasFinalizerNo); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("err = %v, want ErrOutOfMemory under external pressure", err)
	}

	gc.DebitExternalMemory(c, 448)
	if _, err := gc.Alloc(&linkCell{}, linkVT, linkCellSize, FixedSizeNo, HasFinalizerNo); err != nil {
		t.Errorf("Alloc after debit: %v", err)
	}
}

func TestTripwireFiresOncePerCooldown(t *testing.T) {
	fired := 0
	cfg := testConfig()
	cfg.TripwireLimit = 1
	cfg.TripwireCallback = func(ctx TripwireContext) {
		fired++
		if ctx.GCName() != "test-heap" {
			t.Errorf("tripwire GCName = %q", ctx.GCName())
		}
		if ctx.UsedBytes() == 0 {
			t.Error("tripwire UsedBytes = 0")
		}
	}
	rt := &vmStub{}
	gc, err := NewCompactingGC(cfg, rt)
	if err != nil {
		t.Fatalf("NewCompactingGC: %v", err)
	}

	c := allocLink(t, gc, linkVT, 0)
	rt.roots = append(rt.roots, EncodeObject(c.Header().Address()))

	gc.Collect()
	gc.Collect()
	if fired != 1 {
		t.Errorf("tripwire fired %d times within one cooldown, want 1", fired)
	}
}

func TestSanitizeCollectsOnEveryAllocation(t *testing.T) {
	cfg := testConfig()
	cfg.SanitizeRate = 1
	cfg.SanitizeSeed = 42
	rt := &vmStub{}
	gc, err := NewCompactingGC(cfg, rt)
	if err != nil {
		t.Fatalf("NewCompactingGC: %v", err)
	}

	allocLink(t, gc, linkVT, 0)
	allocLink(t, gc, linkVT, 0)
	allocLink(t, gc, linkVT, 0)
	if n := gc.NumCollections(); n != 3 {
		t.Errorf("NumCollections = %d, want one per allocation", n)
	}
}

func TestGCStatsRecorded(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	c := allocLink(t, gc, linkVT, 0)
	allocLink(t, gc, linkVT, 0) // dies
	rt.roots = append(rt.roots, EncodeObject(c.Header().Address()))

	gc.Collect()

	if gc.NumCollections() != 1 {
		t.Errorf("NumCollections = %d, want 1", gc.NumCollections())
	}
	if gc.PeakAllocatedBytes() != 2*linkCellSize {
		t.Errorf("PeakAllocatedBytes = %d, want %d", gc.PeakAllocatedBytes(), 2*linkCellSize)
	}
	if gc.PeakLiveAfterGC() != linkCellSize {
		t.Errorf("PeakLiveAfterGC = %d, want %d", gc.PeakLiveAfterGC(), linkCellSize)
	}

	var info HeapInfo
	gc.GetHeapInfoWithMallocSize(&info)
	if info.TotalAllocatedBytes != 2*linkCellSize {
		t.Errorf("TotalAllocatedBytes = %d, want %d", info.TotalAllocatedBytes, 2*linkCellSize)
	}
}

func TestMallocSizeEstimate(t *testing.T) {
	rt := &vmStub{}
	gc := newTestGC(t, rt)

	count := 0
	c := &linkCell{finalized: &count}
	if _, err := gc.Alloc(c, finalizableVT, linkCellSize, FixedSizeNo, HasFinalizerYes); err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	var info HeapInfo
	gc.GetHeapInfoWithMallocSize(&info)
	if info.MallocSizeEstimate != 128 {
		t.Errorf("MallocSizeEstimate = %d, want the cell's reported 128", info.MallocSizeEstimate)
	}
}

func TestNoAllocScope(t *testing.T) {
	gc := newTestGC(t, &vmStub{})
	release := gc.NoAllocScope()
	expectPanic(t, "alloc inside no-alloc scope", func() {
		gc.Alloc(&linkCell{}, linkVT, linkCellSize, FixedSizeNo, HasFinalizerNo)
	})
	release()
	if _, err := gc.Alloc(&linkCell{}, linkVT, linkCellSize, FixedSizeNo, HasFinalizerNo); err != nil {
		t.Errorf("Alloc after scope release: %v", err)
	}
}

func TestLastAllocationFixedSizeTracking(t *testing.T) {
	gc := newTestGC(t, &vmStub{})
	if got := gc.LastAllocationWasFixedSize(); got != FixedSizeValueUnknown {
		t.Fatalf("before any allocation = %v, want unknown", got)
	}
	if _, err := gc.Alloc(&linkCell{}, linkVT, linkCellSize, FixedSizeYes, HasFinalizerNo); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if got := gc.LastAllocationWasFixedSize(); got != FixedSizeValueYes {
		t.Errorf("after a fixed-size allocation = %v, want yes", got)
	}
	if _, err := gc.Alloc(&linkCell{}, linkVT, linkCellSize, FixedSizeNo, HasFinalizerNo); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if got := gc.LastAllocationWasFixedSize(); got != FixedSizeValueNo {
		t.Errorf("after a variable-size allocation = %v, want no", got)
	}
	if _, err := gc.AllocLongLived(&linkCell{}, linkVT, linkCellSize, HasFinalizerNo); err != nil {
		t.Fatalf("AllocLongLived: %v", err)
	}
	if got := gc.LastAllocationWasFixedSize(); got != FixedSizeValueUnknown {
		t.Errorf("after a long-lived allocation = %v, want unknown", got)
	}
}

func TestContains(t *testing.T) {
	gc := newTestGC(t, &vmStub{})
	c := allocLink(t, gc, linkVT, 0)
	if !gc.Contains(c.Header().Address()) {
		t.Error("Contains(live address) = false")
	}
	if gc.Contains(NilAddress) {
		t.Error("Contains(nil) = true")
	}
	if gc.Contains(Address(99)) {
		t.Error("Contains(out of range) = true")
	}
}

// ABOUTME: The Collector interface: the contract every concrete collector satisfies
// ABOUTME: Allocation, marking, barriers, heap info, snapshots, and phase queries

package heap

import (
	"errors"
	"io"
)

// ErrOutOfMemory is returned from allocation entry points when the heap
// cannot satisfy a request even after collecting and growing to its maximum,
// and the configuration made OOM recoverable. Otherwise heap exhaustion is
// terminal.
var ErrOutOfMemory = errors.New("heap out of memory")

// FixedSize tells the allocator whether a request is for a fixed-size, small
// cell; some collectors optimize on this basis.
type FixedSize bool

const (
	FixedSizeYes FixedSize = true
	FixedSizeNo  FixedSize = false
)

// HasFinalizer must be HasFinalizerYes for cell types whose vtable carries a
// finalizer, so the collector can track finalizable cells.
type HasFinalizer bool

const (
	HasFinalizerYes HasFinalizer = true
	HasFinalizerNo  HasFinalizer = false
)

// Collector is the contract every concrete collector fulfills. Shared
// bookkeeping lives in GCBase, which concrete collectors embed.
//
// Any call that may allocate is a point where previously computed raw
// Addresses become invalid; only Handle-indirected references are safe across
// such calls.
type Collector interface {
	// Alloc admits c to the heap as a cell of type vt and size bytes,
	// collecting first if necessary. The cell's header is initialized before
	// Alloc returns; the returned address is c's initial location. Fails
	// with ErrOutOfMemory (recoverable builds) only when no strategy can
	// satisfy the request after collecting and growing to the maximum.
	Alloc(c Cell, vt *VTable, size uint32, fixed FixedSize, fin HasFinalizer) (Address, error)

	// AllocLongLived is Alloc with a hint that the cell is expected to live
	// long; collectors that segregate by generation may place it so young
	// scans need not re-examine references to it.
	AllocLongLived(c Cell, vt *VTable, size uint32, fin HasFinalizer) (Address, error)

	// MaxAllocationSize is the largest single allocation the collector
	// accepts in any state.
	MaxAllocationSize() uint32

	// CanAllocExternalMemory reports whether an external allocation of the
	// given size is within what the heap could ever account for.
	CanAllocExternalMemory(size uint64) bool
	// CreditExternalMemory informs the collector that c owns size bytes of
	// off-heap memory, for sizing heuristics. Collectors that do not track
	// external memory implement this as a no-op.
	CreditExternalMemory(c Cell, size uint64)
	// DebitExternalMemory reverses a credit.
	DebitExternalMemory(c Cell, size uint64)

	// Collect forces a full collection cycle synchronously. Live cells may
	// be relocated.
	Collect()

	// Contains reports whether addr lies in collector-owned storage. O(1).
	Contains(addr Address) bool
	// Lookup resolves an address to its cell. The address must be valid.
	Lookup(addr Address) Cell
	// ForEachCell visits every allocated cell, reachable or not. Read-only;
	// used by snapshots and diagnostics.
	ForEachCell(fn func(c Cell))

	// MarkRoots runs the full strong-root enumeration (runtime callbacks
	// plus collector-owned handle scopes) against acceptor. Exposed for
	// collectors' own phases and for read-only diagnostic passes.
	MarkRoots(acceptor RootAcceptor, markLongLived bool)

	// Write barriers. Called once per logical write, after the write. The
	// defaults do nothing, which is valid for non-generational,
	// non-incremental collectors; strategies that track edges incrementally
	// must override and must never skip a write that could create a
	// collector-visible edge.
	WriteBarrier(loc *Value, v Value)
	WriteBarrierRange(slots []Value)
	WriteBarrierRangeFill(slots []Value, v Value)

	// IsUpdatingPointers reports whether mark calls in the current phase
	// store final addresses. A moving collector guarantees a later phase
	// exists in which every surviving pointer is final.
	IsUpdatingPointers() bool

	// InGC reports whether a collection cycle is in progress. When false,
	// every cell in the heap has a valid vtable.
	InGC() bool

	// NewWeakRef allocates (or recycles) a weak reference to v, which must
	// be an object value.
	NewWeakRef(v Value) *WeakRef

	// GetHeapInfo populates info. Read-only; never allocates or collects.
	GetHeapInfo(info *HeapInfo)
	// GetHeapInfoWithMallocSize additionally estimates off-heap usage by
	// querying the runtime and each finalizable cell.
	GetHeapInfoWithMallocSize(info *HeapInfo)
	// GetDebugHeapInfo populates the debug counters.
	GetDebugHeapInfo(info *DebugHeapInfo)

	// CreateSnapshot serializes the structural graph of all live cells and
	// their pointer edges, annotated with stable IDs. Must not mutate the
	// heap and tolerates being invoked mid-execution.
	CreateSnapshot(w io.Writer) error
	// CreateSnapshotToFile writes a snapshot to the named file.
	CreateSnapshotToFile(path string) error

	// NewHandleScope opens a handle scope rooted in this heap. Scopes close
	// in reverse creation order.
	NewHandleScope() *HandleScope

	// Name identifies this heap in logs.
	Name() string
	// Callbacks returns the runtime callbacks the collector was built with.
	Callbacks() GCCallbacks
	// IDTracker returns the stable-identity tracker owned by this heap.
	IDTracker() *IDTracker
}

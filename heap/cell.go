// ABOUTME: Heap cell model: headers, vtables, and declarative slot metadata
// ABOUTME: Every GC-managed object embeds a CellHeader and exposes traced slots

package heap

// CellKind identifies a cell type. Embedders allocate their own kinds; the
// kinds below are reserved by the library.
type CellKind uint8

const (
	KindInvalid CellKind = iota
	KindSegment
	KindSegmentedArray
	KindFirstUser // first kind available to embedders
)

// Cell is a single GC-managed heap object. Concrete cell types embed a
// CellHeader and expose their traced Value storage through Slots. A cell's
// vtable must be valid at all times except during the narrow window between
// construction and Alloc admitting the cell to the heap.
type Cell interface {
	Header() *CellHeader
	Slots() []Value
}

// CellHeader is the bookkeeping embedded in every cell. All fields are owned
// by the collector once the cell has been admitted via Alloc.
type CellHeader struct {
	vt        *VTable
	size      uint32
	addr      Address
	longLived bool

	// Collector working state. marked is meaningful only during a collection
	// cycle; forward only during the pointer-update phase.
	marked  bool
	forward Address

	// Semi-unique allocation number for debugging, distinct from the stable
	// IDTracker identity.
	debugID uint64
}

// VTable returns the cell's type descriptor.
func (h *CellHeader) VTable() *VTable {
	assert(h.vt != nil, "cell has no vtable")
	return h.vt
}

// Kind returns the cell's kind.
func (h *CellHeader) Kind() CellKind { return h.VTable().Kind }

// Size returns the cell's accounted size in bytes.
func (h *CellHeader) Size() uint32 { return h.size }

// Address returns the cell's current arena address. It changes when a moving
// collector relocates the cell; identity is stable only through IDTracker.
func (h *CellHeader) Address() Address { return h.addr }

// LongLived reports whether the cell was allocated with a long-lifetime hint.
func (h *CellHeader) LongLived() bool { return h.longLived }

// DebugID returns the allocation-order debug number.
func (h *CellHeader) DebugID() uint64 { return h.debugID }

func (h *CellHeader) init(vt *VTable, size uint32, addr Address, longLived bool, debugID uint64) {
	assert(vt != nil, "allocating a cell without a vtable")
	h.vt = vt
	h.size = size
	h.addr = addr
	h.longLived = longLived
	h.debugID = debugID
}

// FinalizeFunc is invoked on a cell that has been proven unreachable, before
// its storage is reclaimed. It must not allocate.
type FinalizeFunc func(c Cell, gc Collector)

// WeakMarkFunc marks the weak reference slots held inside a cell. Called only
// for acceptors that declare weak-marking capability.
type WeakMarkFunc func(c Cell, acc WeakSlotAcceptor)

// VTable describes a cell type to the collector: its kind, size, lifecycle
// callbacks, and the declarative metadata driving the generic mark algorithm.
type VTable struct {
	Kind CellKind
	// Name identifies the type in logs and heap snapshots.
	Name string
	// Size is the fixed allocation size in bytes, or 0 for variable-sized
	// cells whose size is passed to Alloc per allocation.
	Size uint32

	// Finalize, if non-nil, runs before the cell's memory is reclaimed.
	Finalize FinalizeFunc
	// MarkWeak, if non-nil, marks WeakRefSlots owned by the cell.
	MarkWeak WeakMarkFunc

	// TrimSize, if non-nil, reports the size the cell could shrink to if its
	// slack capacity were released. Trim performs the shrink. Both are
	// invoked only by the collector, never during mutator execution.
	TrimSize func(c Cell) uint32
	Trim     func(c Cell)

	// MallocSize, if non-nil, reports bytes of off-heap memory owned by the
	// cell, for diagnostic estimates only.
	MallocSize func(c Cell) uint64

	Meta Metadata
}

// ValueField names one fixed traced slot at a known index in a cell's slot
// storage.
type ValueField struct {
	Name  string
	Index int
}

// ArrayField describes a variable-length run of traced slots. Length is read
// at mark time so a cell may legally shrink its traced region mid-cycle, but
// never grow it past initialized storage.
type ArrayField struct {
	Name   string
	Start  int
	Length func(c Cell) int
}

// Metadata is the declarative list of traced slots for a cell kind. The mark
// algorithm visits Values in listed order, then the array region in ascending
// index order.
type Metadata struct {
	Values []ValueField
	Array  *ArrayField
}

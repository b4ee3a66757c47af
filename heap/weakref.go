// ABOUTME: Weak reference slots with the three-state recycling machine
// ABOUTME: Explicit state field plus value-or-freelist union instead of low-bit tagging

package heap

// WeakSlotState is the per-cycle state of a WeakRefSlot. Legal transitions
// are Unmarked->Marked->Unmarked within a cycle, and Unmarked->Free exactly
// once, terminal until the slot is recycled via Reset.
type WeakSlotState uint8

const (
	// WeakSlotUnmarked means it is unknown whether the slot is in use by the
	// mutator this cycle.
	WeakSlotUnmarked WeakSlotState = iota
	// WeakSlotMarked means the slot was proven in use by the mutator.
	WeakSlotMarked
	// WeakSlotFree means the slot was proven NOT in use and is recyclable.
	WeakSlotFree
)

// WeakRefSlot is one slot in the weak reference table. It holds a value
// referencing a GC-managed cell; the collector repoints it when the referent
// moves and clears it when the referent is collected. Freed slots double as
// links in an intrusive free list.
//
// The original single-word low-bit-tagged encoding is replaced by an explicit
// state field and a separate free-list link, accepting a wider slot for
// memory safety. The transition contract is unchanged.
type WeakRefSlot struct {
	state WeakSlotState
	value Value
	next  *WeakRefSlot
}

// NewWeakRefSlot returns a slot referencing v, in the Unmarked state.
func NewWeakRefSlot(v Value) *WeakRefSlot {
	s := &WeakRefSlot{}
	s.Reset(v)
	return s
}

// Mutator methods.

// HasValue reports whether the referent is still alive.
func (s *WeakRefSlot) HasValue() bool {
	return s.state != WeakSlotFree && !s.value.IsEmpty()
}

// Value returns the referent. The slot must be in a clean (Unmarked) state
// and the referent must not have been collected.
func (s *WeakRefSlot) Value() Value {
	assert(s.state == WeakSlotUnmarked, "unclean GC mark state")
	assert(s.HasValue(), "tried to access collected referent")
	return s.value
}

// GC methods to update the slot when the referent moves or dies.

// HasPointer reports whether the slot stores a reference to a cell.
func (s *WeakRefSlot) HasPointer() bool {
	return s.state != WeakSlotFree && s.value.IsObject()
}

// Pointer returns the referent's address regardless of mark state.
func (s *WeakRefSlot) Pointer() Address {
	assert(s.state != WeakSlotFree, "use NextFree instead")
	return s.value.Object()
}

// SetPointer repoints the slot at a moved referent, preserving mark state.
func (s *WeakRefSlot) SetPointer(newAddr Address) {
	assert(s.state != WeakSlotFree, "tried to update unallocated slot")
	s.value = EncodeObject(newAddr)
}

// ClearPointer empties the slot because the referent died.
func (s *WeakRefSlot) ClearPointer() {
	s.value = EncodeEmpty()
}

// GC methods to recycle slots.

// State returns the slot's current state.
func (s *WeakRefSlot) State() WeakSlotState { return s.state }

// Mark transitions Unmarked->Marked. Called only from the collector's weak
// scanning phase, at most once per cycle.
func (s *WeakRefSlot) Mark() {
	assert(s.state == WeakSlotUnmarked, "already marked")
	s.state = WeakSlotMarked
}

// Unmark transitions Marked->Unmarked at the end of the cycle.
func (s *WeakRefSlot) Unmark() {
	assert(s.state == WeakSlotMarked, "not yet marked")
	s.state = WeakSlotUnmarked
}

// Free links the slot into the free list. Only legal after a completed
// marking cycle proved the slot unreachable (state still Unmarked).
func (s *WeakRefSlot) Free(nextFree *WeakRefSlot) {
	assert(s.state == WeakSlotUnmarked, "cannot free a reachable slot")
	s.state = WeakSlotFree
	s.value = EncodeEmpty()
	s.next = nextFree
}

// NextFree returns the next slot in the free list.
func (s *WeakRefSlot) NextFree() *WeakRefSlot {
	assert(s.state == WeakSlotFree, "slot is not free")
	return s.next
}

// Reset re-activates a freed or newly constructed slot for a new referent.
func (s *WeakRefSlot) Reset(v Value) {
	assert(v.IsObject(), "weak ref must be to a cell")
	s.state = WeakSlotUnmarked
	s.value = v
	s.next = nil
}

// WeakRef is the mutator-facing weak reference, a thin wrapper over a slot
// owned by the collector. It observes "collected" once the referent is
// otherwise unreachable.
type WeakRef struct {
	slot *WeakRefSlot
}

// IsValid reports whether the referent has not been collected.
func (w *WeakRef) IsValid() bool { return w.slot.HasValue() }

// Value returns the referent. Unsafe across allocating calls: the referent
// may be collected whenever a collection runs.
func (w *WeakRef) Value() Value { return w.slot.Value() }

// Slot exposes the underlying slot, primarily for the runtime's weak-root
// marking callback.
func (w *WeakRef) Slot() *WeakRefSlot { return w.slot }

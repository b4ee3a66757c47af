// ABOUTME: SegmentedArray: a growable container with inline and segment storage
// ABOUTME: Small arrays live inline; large ones spill into fixed-size segments

// Package segarray implements a segmented array held in a managed heap. The
// first few elements are stored inline in the array cell itself; beyond that,
// elements live in fixed-size Segment cells referenced through traced slots.
// Growing never copies more than the slot spine, so push cost stays amortized
// linear without the element-copy churn of a flat array.
//
// Operations that can allocate take a *heap.MutableHandle to the array and
// update it when the array is reallocated; operations that cannot allocate
// are methods on *SegmentedArray.
package segarray

import (
	"errors"
	"fmt"
	"math"

	"github.com/prateek/heapcore/heap"
)

const (
	// SegmentMaxLength is the element capacity of one Segment cell.
	SegmentMaxLength = 1024
	// inlineThreshold is the number of elements stored directly in the
	// array cell before segments are used.
	inlineThreshold = 4
)

// Accounted sizes, in bytes. valueSize is the accounted footprint of one
// traced slot; cellBaseSize covers a cell's header and fixed fields.
const (
	valueSize    = 16
	cellBaseSize = 32

	segmentAllocSize = cellBaseSize + SegmentMaxLength*valueSize
)

// ErrExcessiveCapacity is returned when a requested capacity cannot be
// represented within the collector's allocation limits.
var ErrExcessiveCapacity = errors.New("segarray: requested capacity exceeds maximum")

func assert(cond bool, msg string) {
	if !cond {
		panic("segarray: " + msg)
	}
}

// Segment is a fixed-capacity block of elements. Only the first length
// elements are initialized and traced.
type Segment struct {
	header heap.CellHeader
	length uint32
	data   [SegmentMaxLength]heap.Value
}

var segmentVTable = &heap.VTable{
	Kind: heap.KindSegment,
	Name: "Segment",
	Size: segmentAllocSize,
	Meta: heap.Metadata{
		Array: &heap.ArrayField{
			Name:  "data",
			Start: 0,
			Length: func(c heap.Cell) int {
				return int(c.(*Segment).length)
			},
		},
	},
}

func (s *Segment) Header() *heap.CellHeader { return &s.header }
func (s *Segment) Slots() []heap.Value      { return s.data[:] }

// Length returns the number of initialized elements.
func (s *Segment) Length() uint32 { return s.length }

// SetLength grows or shrinks the initialized region. Slots entering or
// leaving the region are reset to the empty sentinel.
func (s *Segment) SetLength(gc heap.Collector, n uint32) {
	assert(n <= SegmentMaxLength, "segment length beyond capacity")
	switch {
	case n > s.length:
		heap.FillValues(gc, s.data[s.length:n], heap.EncodeEmpty())
	case n < s.length:
		heap.FillValues(gc, s.data[n:s.length], heap.EncodeEmpty())
	}
	s.length = n
}

func createSegment(gc heap.Collector) (*Segment, error) {
	s := &Segment{}
	if _, err := gc.Alloc(s, segmentVTable, segmentAllocSize, heap.FixedSizeYes, heap.HasFinalizerNo); err != nil {
		return nil, err
	}
	return s, nil
}

// SegmentedArray is the array cell. Its slot storage has two regions: slots
// [0, inlineThreshold) hold the first elements directly, and slots from
// inlineThreshold on hold object references to Segments. numSlotsUsed counts
// the slots currently traced; slotCapacity is the allocated spine length.
type SegmentedArray struct {
	header       heap.CellHeader
	slotCapacity uint32
	numSlotsUsed uint32
	slots        []heap.Value
}

var arrayVTable = &heap.VTable{
	Kind: heap.KindSegmentedArray,
	Name: "SegmentedArray",
	TrimSize: func(c heap.Cell) uint32 {
		return allocationSizeForSlots(c.(*SegmentedArray).numSlotsUsed)
	},
	Trim: func(c heap.Cell) {
		a := c.(*SegmentedArray)
		a.slots = a.slots[:a.numSlotsUsed:a.numSlotsUsed]
		a.slotCapacity = a.numSlotsUsed
	},
	Meta: heap.Metadata{
		Array: &heap.ArrayField{
			Name:  "slots",
			Start: 0,
			Length: func(c heap.Cell) int {
				return int(c.(*SegmentedArray).numSlotsUsed)
			},
		},
	},
}

func (a *SegmentedArray) Header() *heap.CellHeader { return &a.header }
func (a *SegmentedArray) Slots() []heap.Value      { return a.slots }

func allocationSizeForSlots(n uint32) uint32 {
	return cellBaseSize + n*valueSize
}

// numSlotsForCapacity returns the spine length needed to hold capacity
// elements: one slot per inline element, then one per segment.
func numSlotsForCapacity(capacity uint32) uint32 {
	if capacity <= inlineThreshold {
		return capacity
	}
	segments := (capacity - inlineThreshold + SegmentMaxLength - 1) / SegmentMaxLength
	return inlineThreshold + segments
}

// MaxElements is the largest element count any SegmentedArray on gc can
// reach, derived from the collector's single-allocation limit on the spine.
func MaxElements(gc heap.Collector) uint32 {
	maxSlots := uint64(gc.MaxAllocationSize()-cellBaseSize) / valueSize
	if maxSlots <= inlineThreshold {
		return uint32(maxSlots)
	}
	total := uint64(inlineThreshold) + (maxSlots-inlineThreshold)*SegmentMaxLength
	if total > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(total)
}

// Create allocates an empty array with room for capacity elements before the
// spine must be reallocated.
func Create(gc heap.Collector, capacity uint32) (*SegmentedArray, error) {
	return create(gc, capacity, false)
}

// CreateLongLived is Create with a long-lifetime allocation hint.
func CreateLongLived(gc heap.Collector, capacity uint32) (*SegmentedArray, error) {
	return create(gc, capacity, true)
}

func create(gc heap.Collector, capacity uint32, longLived bool) (*SegmentedArray, error) {
	if max := MaxElements(gc); capacity > max {
		return nil, fmt.Errorf("%w: requested %d, maximum %d", ErrExcessiveCapacity, capacity, max)
	}
	nSlots := numSlotsForCapacity(capacity)
	a := &SegmentedArray{
		slotCapacity: nSlots,
		slots:        make([]heap.Value, nSlots),
	}
	size := allocationSizeForSlots(nSlots)
	var err error
	if longLived {
		_, err = gc.AllocLongLived(a, arrayVTable, size, heap.HasFinalizerNo)
	} else {
		_, err = gc.Alloc(a, arrayVTable, size, heap.FixedSizeNo, heap.HasFinalizerNo)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FromValue resolves an object value known to reference a SegmentedArray.
func FromValue(gc heap.Collector, v heap.Value) *SegmentedArray {
	c := gc.Lookup(v.Object())
	assert(c.Header().Kind() == heap.KindSegmentedArray, "value is not a SegmentedArray")
	return c.(*SegmentedArray)
}

func fromHandle(gc heap.Collector, h *heap.MutableHandle) *SegmentedArray {
	return h.Cell(gc).(*SegmentedArray)
}

func (a *SegmentedArray) segment(gc heap.Collector, i uint32) *Segment {
	v := a.slots[inlineThreshold+i]
	return gc.Lookup(v.Object()).(*Segment)
}

// Size returns the current number of elements.
func (a *SegmentedArray) Size(gc heap.Collector) uint32 {
	if a.numSlotsUsed <= inlineThreshold {
		return a.numSlotsUsed
	}
	segs := a.numSlotsUsed - inlineThreshold
	return inlineThreshold + (segs-1)*SegmentMaxLength + a.segment(gc, segs-1).Length()
}

// Capacity returns the elements the array can hold without any allocation:
// the inline region plus the full capacity of already-allocated segments.
func (a *SegmentedArray) Capacity() uint32 {
	if a.numSlotsUsed <= inlineThreshold {
		if a.slotCapacity < inlineThreshold {
			return a.slotCapacity
		}
		return inlineThreshold
	}
	return inlineThreshold + (a.numSlotsUsed-inlineThreshold)*SegmentMaxLength
}

// TotalCapacityOfSegments returns the elements the array can hold without
// reallocating the spine, counting unallocated segment slots at full size.
func (a *SegmentedArray) TotalCapacityOfSegments() uint32 {
	if a.slotCapacity <= inlineThreshold {
		return a.slotCapacity
	}
	return inlineThreshold + (a.slotCapacity-inlineThreshold)*SegmentMaxLength
}

func (a *SegmentedArray) slotFor(gc heap.Collector, i uint32) *heap.Value {
	if i < inlineThreshold {
		return &a.slots[i]
	}
	seg := a.segment(gc, (i-inlineThreshold)/SegmentMaxLength)
	return &seg.data[(i-inlineThreshold)%SegmentMaxLength]
}

// At returns element i. The index must be in range.
func (a *SegmentedArray) At(gc heap.Collector, i uint32) heap.Value {
	assert(i < a.Size(gc), "element index out of range")
	return *a.slotFor(gc, i)
}

// Set stores v at element i through the write barrier.
func (a *SegmentedArray) Set(gc heap.Collector, i uint32, v heap.Value) {
	assert(i < a.Size(gc), "element index out of range")
	heap.SetValue(gc, a.slotFor(gc, i), v)
}

// calculateNewCapacity doubles the current size, clamped to the maximum, but
// never returns less than newSize.
func calculateNewCapacity(gc heap.Collector, currentSize, newSize uint32) uint32 {
	doubled := uint64(currentSize) * 2
	if max := uint64(MaxElements(gc)); doubled > max {
		doubled = max
	}
	if uint64(newSize) > doubled {
		return newSize
	}
	return uint32(doubled)
}

// PushBack appends the value held by v. The value arrives through a handle
// because appending may collect.
func PushBack(gc heap.Collector, h *heap.MutableHandle, v heap.Handle) error {
	oldSize := fromHandle(gc, h).Size(gc)
	if err := GrowRight(gc, h, 1); err != nil {
		return err
	}
	a := fromHandle(gc, h)
	heap.SetValue(gc, a.slotFor(gc, oldSize), v.Value())
	return nil
}

// Resize grows the array at the right end to newSize, filling new elements
// with the empty sentinel, or shrinks it by dropping elements on the right.
func Resize(gc heap.Collector, h *heap.MutableHandle, newSize uint32) error {
	a := fromHandle(gc, h)
	size := a.Size(gc)
	switch {
	case newSize > size:
		return GrowRight(gc, h, newSize-size)
	case newSize < size:
		a.decreaseSize(gc, size-newSize)
	}
	return nil
}

// ResizeLeft is Resize operating on the left end: growth inserts empty
// elements before index 0, shrinking drops the leftmost elements. Element
// indices shift accordingly.
func ResizeLeft(gc heap.Collector, h *heap.MutableHandle, newSize uint32) error {
	a := fromHandle(gc, h)
	size := a.Size(gc)
	switch {
	case newSize > size:
		return GrowLeft(gc, h, newSize-size)
	case newSize < size:
		ShrinkLeft(gc, a, size-newSize)
	}
	return nil
}

// ResizeWithinCapacity resizes without any possibility of allocation. The
// new size must not exceed Capacity.
func ResizeWithinCapacity(gc heap.Collector, a *SegmentedArray, newSize uint32) {
	size := a.Size(gc)
	switch {
	case newSize > size:
		a.increaseSizeWithinCapacity(gc, newSize-size)
	case newSize < size:
		a.decreaseSize(gc, size-newSize)
	}
}

// GrowRight extends the array by amount empty elements at the right end,
// reallocating the spine if the current one cannot hold the new size.
func GrowRight(gc heap.Collector, h *heap.MutableHandle, amount uint32) error {
	a := fromHandle(gc, h)
	size := a.Size(gc)
	newSize := size + amount
	if newSize <= a.TotalCapacityOfSegments() {
		return increaseSize(gc, h, amount)
	}
	na, err := create(gc, calculateNewCapacity(gc, size, newSize), a.header.LongLived())
	if err != nil {
		return err
	}
	a = fromHandle(gc, h)
	na.numSlotsUsed = a.numSlotsUsed
	heap.CopyValues(gc, na.slots[:a.numSlotsUsed], a.slots[:a.numSlotsUsed])
	h.Set(heap.EncodeObject(na.Header().Address()))
	return increaseSize(gc, h, amount)
}

// GrowRightWithinCapacity extends the array by amount empty elements at the
// right end without any possibility of allocation. The new size must not
// exceed Capacity.
func GrowRightWithinCapacity(gc heap.Collector, a *SegmentedArray, amount uint32) {
	a.increaseSizeWithinCapacity(gc, amount)
}

// GrowLeft extends the array by amount empty elements at the left end;
// existing elements move to indices shifted up by amount.
func GrowLeft(gc heap.Collector, h *heap.MutableHandle, amount uint32) error {
	a := fromHandle(gc, h)
	size := a.Size(gc)
	newSize := size + amount
	if newSize < a.TotalCapacityOfSegments() {
		return GrowLeftWithinCapacity(gc, h, amount)
	}
	na, err := create(gc, calculateNewCapacity(gc, size, newSize), a.header.LongLived())
	if err != nil {
		return err
	}
	scope := gc.NewHandleScope()
	defer scope.Close()
	nh := scope.MutableHandle(heap.EncodeObject(na.Header().Address()))
	if err := increaseSize(gc, nh, newSize); err != nil {
		return err
	}
	na = fromHandle(gc, nh)
	a = fromHandle(gc, h)
	for i := uint32(0); i < size; i++ {
		heap.SetValue(gc, na.slotFor(gc, amount+i), a.At(gc, i))
	}
	h.Set(nh.Value())
	return nil
}

// GrowLeftWithinCapacity is GrowLeft for sizes the current spine can hold.
// Segments may still be allocated, so the array arrives through a handle.
func GrowLeftWithinCapacity(gc heap.Collector, h *heap.MutableHandle, amount uint32) error {
	oldSize := fromHandle(gc, h).Size(gc)
	if err := increaseSize(gc, h, amount); err != nil {
		return err
	}
	a := fromHandle(gc, h)
	if oldSize+amount <= inlineThreshold {
		// Entirely inline: one overlapping backward copy over the spine.
		heap.CopyValuesBackward(gc, a.slots[amount:oldSize+amount], a.slots[:oldSize])
		heap.FillValues(gc, a.slots[:amount], heap.EncodeEmpty())
		return nil
	}
	for i := int64(oldSize) - 1; i >= 0; i-- {
		heap.SetValue(gc, a.slotFor(gc, uint32(i)+amount), *a.slotFor(gc, uint32(i)))
	}
	for i := uint32(0); i < amount; i++ {
		heap.SetValue(gc, a.slotFor(gc, i), heap.EncodeEmpty())
	}
	return nil
}

// ShrinkRight drops the rightmost amount elements.
func ShrinkRight(gc heap.Collector, a *SegmentedArray, amount uint32) {
	a.decreaseSize(gc, amount)
}

// ShrinkLeft drops the leftmost amount elements; the rest shift down to
// start at index 0.
func ShrinkLeft(gc heap.Collector, a *SegmentedArray, amount uint32) {
	size := a.Size(gc)
	assert(amount <= size, "shrinking by more than the current size")
	for i := uint32(0); i < size-amount; i++ {
		heap.SetValue(gc, a.slotFor(gc, i), *a.slotFor(gc, i+amount))
	}
	a.decreaseSize(gc, amount)
}

// increaseSize appends amount empty elements, allocating segments as needed
// within the current spine. The caller guarantees the spine is large enough.
func increaseSize(gc heap.Collector, h *heap.MutableHandle, amount uint32) error {
	a := fromHandle(gc, h)
	currentSize := a.Size(gc)
	newSize := currentSize + amount
	if newSize <= a.Capacity() {
		a.increaseSizeWithinCapacity(gc, amount)
		return nil
	}
	assert(newSize <= a.TotalCapacityOfSegments(), "increase beyond allocated spine capacity")

	// Expose the final slot count before allocating segments. The new slots
	// hold the empty sentinel until their segment exists, so a collection
	// triggered by a segment allocation traces only valid references.
	oldNumSlotsUsed := a.numSlotsUsed
	newNumSlotsUsed := numSlotsForCapacity(newSize)
	heap.FillValues(gc, a.slots[oldNumSlotsUsed:newNumSlotsUsed], heap.EncodeEmpty())
	a.numSlotsUsed = newNumSlotsUsed

	firstNewSegment := uint32(0)
	if oldNumSlotsUsed > inlineThreshold {
		firstNewSegment = oldNumSlotsUsed - inlineThreshold
	}
	totalSegments := newNumSlotsUsed - inlineThreshold
	for i := firstNewSegment; i < totalSegments; i++ {
		seg, err := createSegment(gc)
		if err != nil {
			return err
		}
		a = fromHandle(gc, h)
		heap.SetValue(gc, &a.slots[inlineThreshold+i], heap.EncodeObject(seg.Header().Address()))
	}

	// All segments exist now; set their lengths to cover the new size.
	firstAffected := uint32(0)
	if currentSize > inlineThreshold {
		firstAffected = (currentSize - inlineThreshold) / SegmentMaxLength
	}
	for i := firstAffected; i < totalSegments; i++ {
		end := newSize - inlineThreshold - i*SegmentMaxLength
		if end > SegmentMaxLength {
			end = SegmentMaxLength
		}
		a.segment(gc, i).SetLength(gc, end)
	}
	return nil
}

// increaseSizeWithinCapacity appends amount empty elements without any
// allocation. The new size must fit in Capacity.
func (a *SegmentedArray) increaseSizeWithinCapacity(gc heap.Collector, amount uint32) {
	currentSize := a.Size(gc)
	newSize := currentSize + amount
	assert(newSize <= a.Capacity(), "increase beyond no-allocation capacity")
	if newSize <= inlineThreshold {
		heap.FillValues(gc, a.slots[currentSize:newSize], heap.EncodeEmpty())
		a.numSlotsUsed = newSize
		return
	}
	// Capacity counts only allocated segments, so every affected segment
	// exists; only lengths change.
	firstAffected := uint32(0)
	if currentSize > inlineThreshold {
		firstAffected = (currentSize - inlineThreshold) / SegmentMaxLength
	}
	lastSegment := (newSize - inlineThreshold - 1) / SegmentMaxLength
	for i := firstAffected; i <= lastSegment; i++ {
		end := newSize - inlineThreshold - i*SegmentMaxLength
		if end > SegmentMaxLength {
			end = SegmentMaxLength
		}
		a.segment(gc, i).SetLength(gc, end)
	}
}

// decreaseSize drops the rightmost amount elements. Vacated element slots,
// and spine slots of dropped segments, are reset to the empty sentinel;
// dropped segments become unreachable and are reclaimed by the next
// collection.
func (a *SegmentedArray) decreaseSize(gc heap.Collector, amount uint32) {
	currentSize := a.Size(gc)
	assert(amount <= currentSize, "decreasing size by more than the current size")
	newSize := currentSize - amount
	if newSize <= inlineThreshold {
		heap.FillValues(gc, a.slots[newSize:a.numSlotsUsed], heap.EncodeEmpty())
		a.numSlotsUsed = newSize
		return
	}
	newNumSlotsUsed := numSlotsForCapacity(newSize)
	lastLength := newSize - inlineThreshold - (newNumSlotsUsed-inlineThreshold-1)*SegmentMaxLength
	a.segment(gc, newNumSlotsUsed-inlineThreshold-1).SetLength(gc, lastLength)
	heap.FillValues(gc, a.slots[newNumSlotsUsed:a.numSlotsUsed], heap.EncodeEmpty())
	a.numSlotsUsed = newNumSlotsUsed
}

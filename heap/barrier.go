// ABOUTME: Barrier-aware helpers for writing traced Value slots
// ABOUTME: Barriers fire after the write, consistently, once per logical write

package heap

// SetValue stores v into loc and runs the collector's write barrier. All
// mutator writes into traced heap slots must go through this helper or one of
// the bulk variants below.
func SetValue(gc Collector, loc *Value, v Value) {
	*loc = v
	gc.WriteBarrier(loc, v)
}

// CopyValues copies src into dst front-to-back and runs a single range
// barrier over the written region. Returns the number of values copied.
func CopyValues(gc Collector, dst, src []Value) int {
	n := copy(dst, src)
	gc.WriteBarrierRange(dst[:n])
	return n
}

// CopyValuesBackward copies src into dst back-to-front, for overlapping
// regions where dst starts inside src.
func CopyValuesBackward(gc Collector, dst, src []Value) {
	assert(len(dst) >= len(src), "backward copy into short destination")
	for i := len(src) - 1; i >= 0; i-- {
		dst[i] = src[i]
	}
	gc.WriteBarrierRange(dst[:len(src)])
}

// FillValues stores v into every slot of dst and runs a single range-fill
// barrier.
func FillValues(gc Collector, dst []Value, v Value) {
	for i := range dst {
		dst[i] = v
	}
	gc.WriteBarrierRangeFill(dst, v)
}

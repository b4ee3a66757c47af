// ABOUTME: Summary statistics for collections and heap info snapshots
// ABOUTME: StatsAccumulator keeps count/sum/min/max without storing samples

package heap

import (
	"fmt"

	"github.com/inhies/go-bytesize"
)

type statNumber interface {
	~uint32 | ~uint64 | ~float64
}

// StatsAccumulator accumulates summary statistics of a series of samples.
type StatsAccumulator[T statNumber] struct {
	count    uint64
	sum      T
	min, max T
}

// Record adds a sample.
func (a *StatsAccumulator[T]) Record(v T) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += v
}

// Count returns the number of samples recorded.
func (a *StatsAccumulator[T]) Count() uint64 { return a.count }

// Sum returns the sum of all samples.
func (a *StatsAccumulator[T]) Sum() T { return a.sum }

// Min returns the smallest sample, or zero if none were recorded.
func (a *StatsAccumulator[T]) Min() T { return a.min }

// Max returns the largest sample, or zero if none were recorded.
func (a *StatsAccumulator[T]) Max() T { return a.max }

// Average returns the mean sample, or zero if none were recorded.
func (a *StatsAccumulator[T]) Average() float64 {
	if a.count == 0 {
		return 0
	}
	return float64(a.sum) / float64(a.count)
}

// CumulativeHeapStats accumulates stats over collections. Time unit, where
// applicable, is seconds.
type CumulativeHeapStats struct {
	NumCollections uint64

	// Summary statistics for GC wall times.
	GCWallTime StatsAccumulator[float64]
	// Summary statistics for GC CPU times.
	GCCPUTime StatsAccumulator[float64]

	FinalHeapSize uint64

	// Bytes allocated just before a collection.
	UsedBefore StatsAccumulator[uint64]
	// Bytes alive after a collection.
	UsedAfter StatsAccumulator[uint64]
}

// HeapInfo is a point-in-time snapshot of heap accounting. Populating one
// never allocates on the heap and never triggers a collection.
type HeapInfo struct {
	// NumCollections is the number of collections since creation.
	NumCollections uint64
	// TotalAllocatedBytes is cumulative bytes allocated since creation.
	TotalAllocatedBytes uint64
	// AllocatedBytes is the bytes currently allocated. Some may belong to
	// unreachable cells unless a collection just finished.
	AllocatedBytes uint64
	// HeapSize is the heap's current capacity in bytes.
	HeapSize uint64
	// ExternalBytes is off-heap memory credited to heap cells.
	ExternalBytes uint64
	// MallocSizeEstimate estimates off-heap memory in use by the runtime and
	// by finalizable cells. Populated only by GetHeapInfoWithMallocSize.
	MallocSizeEstimate uint64
	// FullStats covers full collections.
	FullStats CumulativeHeapStats
}

// DebugHeapInfo carries counts too expensive to maintain outside debug
// builds. Meaningful only when heapAsserts is enabled.
type DebugHeapInfo struct {
	// NumAllocatedObjects is the number of cells present in the heap; some
	// may be unreachable.
	NumAllocatedObjects uint64
	// NumReachableObjects is the cells found reachable by the last collection.
	NumReachableObjects uint64
	// NumCollectedObjects is the cells reclaimed by the last collection.
	NumCollectedObjects uint64
	// NumFinalizedObjects is the cells finalized by the last collection.
	NumFinalizedObjects uint64
	// NumMarkedSymbols is the symbols marked by the last collection.
	NumMarkedSymbols uint64
}

// assertInvariants checks consistency among the debug counters.
func (i *DebugHeapInfo) assertInvariants() {
	assert(i.NumReachableObjects <= i.NumAllocatedObjects+i.NumCollectedObjects,
		"more reachable objects than were ever allocated")
	assert(i.NumFinalizedObjects <= i.NumCollectedObjects,
		"finalized more objects than were collected")
}

// formatSize renders a byte count in appropriate units, bytes to GiB.
func formatSize(n uint64) string {
	return bytesize.New(float64(n)).String()
}

// formatSecs renders a duration in seconds in appropriate units, down to
// microseconds.
func formatSecs(secs float64) string {
	switch {
	case secs >= 1:
		return fmt.Sprintf("%.3fs", secs)
	case secs >= 1e-3:
		return fmt.Sprintf("%.3fms", secs*1e3)
	default:
		return fmt.Sprintf("%.3fus", secs*1e6)
	}
}

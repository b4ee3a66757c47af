// ABOUTME: GCBase: shared bookkeeping embedded by every concrete collector
// ABOUTME: Stats, tripwire, OOM path, cycle bracketing, handles, snapshot plumbing

package heap

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"
)

// SnapshotWriterFunc serializes a heap snapshot for a collector. The concrete
// format is owned by the snapshot package, which registers its writer here;
// the indirection keeps the dependency pointing one way.
type SnapshotWriterFunc func(gc Collector, w io.Writer) error

var (
	snapshotMu     sync.RWMutex
	snapshotWriter SnapshotWriterFunc
)

// errNoSnapshotWriter is returned by CreateSnapshot when no writer has been
// registered (the snapshot package was not imported).
var errNoSnapshotWriter = fmt.Errorf("no snapshot writer registered")

// RegisterSnapshotWriter installs the snapshot serializer used by every
// collector's CreateSnapshot.
func RegisterSnapshotWriter(fn SnapshotWriterFunc) {
	snapshotMu.Lock()
	defer snapshotMu.Unlock()
	snapshotWriter = fn
}

// GCBase is the shared portion of every collector: naming, configuration,
// cumulative statistics, stable-ID tracking, tripwire monitoring, the OOM
// path, handle scopes, and cycle bracketing. Concrete collectors embed it and
// fulfill the rest of the Collector contract.
type GCBase struct {
	name      string
	config    Config
	callbacks GCCallbacks
	logger    *log.Logger
	idTracker *IDTracker

	// self is the embedding collector, for operations that need the full
	// contract (heap info in OOM logs, snapshots).
	self Collector

	recordStats bool
	cumStats    CumulativeHeapStats
	inGC        bool

	// NumFinalizedObjects in the last collection.
	numFinalizedObjects uint64
	// Total bytes ever allocated on this heap.
	totalAllocatedBytes uint64

	// Debug counters, maintained only when heapAsserts is enabled.
	debug             DebugHeapInfo
	debugAllocCounter uint64
	noAllocLevel      uint32

	topScope *HandleScope

	execStartTime    time.Time
	execStartCPUSecs float64

	// Tripwire state.
	tripwireLimit           uint64
	tripwireCooldown        time.Duration
	nextTripwireMinTime     time.Time
	tripwireCallbackRunning bool

	sanitizeRate float64
	sanitizeRNG  *rand.Rand

	// fatalf terminates the process. Overridable so tests can observe the
	// terminal paths without dying.
	fatalf func(format string, args ...any)
}

func newGCBase(cfg Config, cb GCCallbacks) GCBase {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	seed := cfg.SanitizeSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gc := GCBase{
		name:                cfg.Name,
		config:              cfg,
		callbacks:           cb,
		logger:              logger,
		idTracker:           NewIDTracker(),
		recordStats:         cfg.RecordStats,
		tripwireLimit:       cfg.TripwireLimit,
		tripwireCooldown:    cfg.TripwireCooldown,
		nextTripwireMinTime: time.Now(),
		sanitizeRate:        cfg.SanitizeRate,
		sanitizeRNG:         rand.New(rand.NewSource(seed)),
	}
	gc.fatalf = func(format string, args ...any) {
		logger.Printf(format, args...)
		os.Exit(1)
	}
	return gc
}

// init wires the embedding collector in after construction.
func (gc *GCBase) init(self Collector) {
	gc.self = self
	gc.idTracker.fatal = func(msg string) {
		gc.fatalf("heap %q: %s", gc.name, msg)
	}
}

// Name identifies this heap in logs.
func (gc *GCBase) Name() string { return gc.name }

// Callbacks returns the runtime callbacks.
func (gc *GCBase) Callbacks() GCCallbacks { return gc.callbacks }

// IDTracker returns the stable-identity tracker owned by this heap.
func (gc *GCBase) IDTracker() *IDTracker { return gc.idTracker }

// InGC reports whether a collection cycle is in progress.
func (gc *GCBase) InGC() bool { return gc.inGC }

// RuntimeWillExecute is called by the runtime just before it executes program
// code for the first time, anchoring execution-time stats.
func (gc *GCBase) RuntimeWillExecute() {
	gc.execStartTime = time.Now()
	gc.execStartCPUSecs = processCPUSeconds()
}

// NumCollections returns the total number of collections of any kind.
func (gc *GCBase) NumCollections() uint64 { return gc.cumStats.NumCollections }

// GCTime returns total wall seconds of all collection pauses so far.
func (gc *GCBase) GCTime() float64 { return gc.cumStats.GCWallTime.Sum() }

// GCCPUTime returns total CPU seconds of all collection pauses so far.
func (gc *GCBase) GCCPUTime() float64 { return gc.cumStats.GCCPUTime.Sum() }

// PeakAllocatedBytes returns the most bytes ever seen before a collection.
func (gc *GCBase) PeakAllocatedBytes() uint64 { return gc.cumStats.UsedBefore.Max() }

// PeakLiveAfterGC returns the most bytes ever left live after a collection.
func (gc *GCBase) PeakLiveAfterGC() uint64 { return gc.cumStats.UsedAfter.Max() }

// MarkRoots runs the full strong-root enumeration against acceptor: the
// runtime's sections first, then the collector-owned handle scopes
// (RootSectionGCScopes). Handle scopes are the one exception to the
// declaration-order rule: the collector appends them after every runtime
// section, so acceptors must not assume GCScopes precedes SymbolRegistry,
// SamplingProfiler, or Custom. Each root slot is visited exactly once.
func (gc *GCBase) MarkRoots(acceptor RootAcceptor, markLongLived bool) {
	gc.callbacks.MarkRoots(acceptor, markLongLived)
	gc.markHandles(acceptor)
}

// markWeakRoots runs the weak-root enumeration. Only legal after strong
// marking has established final liveness.
func (gc *GCBase) markWeakRoots(acceptor WeakRootAcceptor) {
	gc.callbacks.MarkWeakRoots(acceptor)
}

// GCCycle brackets a collection cycle for diagnostics and reentrancy checks.
type GCCycle struct {
	base *GCBase
}

// BeginGCCycle opens a cycle. Collections do not nest.
func (gc *GCBase) BeginGCCycle() GCCycle {
	assert(!gc.inGC, "collection cycles do not nest")
	gc.inGC = true
	return GCCycle{base: gc}
}

// End closes the cycle.
func (c GCCycle) End() {
	assert(c.base.inGC, "ending a cycle that never began")
	c.base.inGC = false
}

// NoAllocScope forbids allocation until the returned release function runs.
// Used by code holding raw addresses that a collection would invalidate.
func (gc *GCBase) NoAllocScope() func() {
	gc.noAllocLevel++
	return func() {
		assert(gc.noAllocLevel > 0, "unbalanced NoAllocScope release")
		gc.noAllocLevel--
	}
}

func (gc *GCBase) assertAllocAllowed() {
	assert(gc.noAllocLevel == 0, "allocation inside a NoAllocScope")
	assert(!gc.inGC, "allocation during a collection cycle")
}

// shouldSanitize flips the sanitizer coin for one allocation.
func (gc *GCBase) shouldSanitize() bool {
	if gc.sanitizeRate <= 0 {
		return false
	}
	return gc.sanitizeRate >= 1 || gc.sanitizeRNG.Float64() < gc.sanitizeRate
}

func (gc *GCBase) nextDebugID() uint64 {
	if !heapAsserts {
		return 0
	}
	gc.debugAllocCounter++
	return gc.debugAllocCounter
}

// recordGCStats folds one collection's measurements into the cumulative
// stats. Times are seconds.
func (gc *GCBase) recordGCStats(wallSecs, cpuSecs float64, finalHeapSize, usedBefore, usedAfter uint64) {
	gc.cumStats.NumCollections++
	if !gc.recordStats {
		return
	}
	gc.cumStats.GCWallTime.Record(wallSecs)
	gc.cumStats.GCCPUTime.Record(cpuSecs)
	gc.cumStats.FinalHeapSize = finalHeapSize
	gc.cumStats.UsedBefore.Record(usedBefore)
	gc.cumStats.UsedAfter.Record(usedAfter)
}

// getHeapInfoBase fills the fields GCBase owns.
func (gc *GCBase) getHeapInfoBase(info *HeapInfo) {
	info.NumCollections = gc.cumStats.NumCollections
	info.TotalAllocatedBytes = gc.totalAllocatedBytes
	info.FullStats = gc.cumStats
}

// tripwireContext is the TripwireContext handed to the callback.
type tripwireContext struct {
	name string
	used uint64
}

func (c tripwireContext) GCName() string    { return c.name }
func (c tripwireContext) UsedBytes() uint64 { return c.used }

// checkTripwire triggers the tripwire callback when live data crosses the
// configured limit, at most once per cooldown period, never reentrantly.
func (gc *GCBase) checkTripwire(dataSize uint64, now time.Time) {
	if gc.tripwireLimit == 0 || gc.config.TripwireCallback == nil {
		return
	}
	if gc.tripwireCallbackRunning || dataSize < gc.tripwireLimit || now.Before(gc.nextTripwireMinTime) {
		return
	}
	gc.tripwireCallbackRunning = true
	gc.nextTripwireMinTime = now.Add(gc.tripwireCooldown)
	gc.config.TripwireCallback(tripwireContext{name: gc.name, used: dataSize})
	gc.tripwireCallbackRunning = false
}

// oom logs best-effort diagnostics and terminates, unless the configuration
// made heap exhaustion recoverable, in which case it returns the error to
// surface from the allocation entry point. The logging path performs no heap
// operations.
func (gc *GCBase) oom(reason error) error {
	gc.oomDetail(reason)
	if gc.config.RecoverableOOM {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, reason)
	}
	gc.fatalf("heap %q: fatal out of memory: %v", gc.name, reason)
	return ErrOutOfMemory // only reached with an overridden fatalf
}

// oomDetail logs whatever heap state can be gathered without allocating.
func (gc *GCBase) oomDetail(reason error) {
	var info HeapInfo
	gc.self.GetHeapInfo(&info)
	gc.logger.Printf("heap %q: out of memory: %v", gc.name, reason)
	gc.logger.Printf("heap %q: allocated=%s capacity=%s external=%s collections=%d",
		gc.name, formatSize(info.AllocatedBytes), formatSize(info.HeapSize),
		formatSize(info.ExternalBytes), info.NumCollections)
	if stack := gc.callbacks.CallStackNoAlloc(); stack != "" {
		gc.logger.Printf("heap %q: call stack:\n%s", gc.name, stack)
	}
}

// collectedStats is the JSON shape of PrintAllCollectedStats.
type collectedStats struct {
	HeapName       string  `json:"heapName"`
	TotalTime      string  `json:"totalTime"`
	TotalCPUTime   string  `json:"totalCPUTime"`
	NumCollections uint64  `json:"numCollections"`
	TotalGCTime    string  `json:"totalGCTime"`
	MaxPause       string  `json:"maxPause"`
	TotalGCCPUTime string  `json:"totalGCCPUTime"`
	PeakAllocated  string  `json:"peakAllocatedBytes"`
	PeakLiveAfter  string  `json:"peakLiveAfterGC"`
	AvgUsedBefore  float64 `json:"avgUsedBeforeBytes"`
	AvgUsedAfter   float64 `json:"avgUsedAfterBytes"`
	FinalHeapSize  string  `json:"finalHeapSize"`
}

// PrintAllCollectedStats writes every collected statistic to w, followed by
// runtime-maintained stats from the callbacks.
func (gc *GCBase) PrintAllCollectedStats(w io.Writer) {
	stats := collectedStats{
		HeapName:       gc.name,
		TotalTime:      formatSecs(time.Since(gc.execStartTime).Seconds()),
		TotalCPUTime:   formatSecs(processCPUSeconds() - gc.execStartCPUSecs),
		NumCollections: gc.cumStats.NumCollections,
		TotalGCTime:    formatSecs(gc.cumStats.GCWallTime.Sum()),
		MaxPause:       formatSecs(gc.cumStats.GCWallTime.Max()),
		TotalGCCPUTime: formatSecs(gc.cumStats.GCCPUTime.Sum()),
		PeakAllocated:  formatSize(gc.cumStats.UsedBefore.Max()),
		PeakLiveAfter:  formatSize(gc.cumStats.UsedAfter.Max()),
		AvgUsedBefore:  gc.cumStats.UsedBefore.Average(),
		AvgUsedAfter:   gc.cumStats.UsedAfter.Average(),
		FinalHeapSize:  formatSize(gc.cumStats.FinalHeapSize),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	if err := enc.Encode(stats); err != nil {
		gc.logger.Printf("heap %q: printing stats: %v", gc.name, err)
		return
	}
	gc.callbacks.PrintRuntimeGCStats(w)
}

// Default implementations for the external memory credit APIs: do nothing.
// Valid for collectors whose sizing heuristics ignore external pressure.

func (gc *GCBase) CanAllocExternalMemory(size uint64) bool  { return true }
func (gc *GCBase) CreditExternalMemory(c Cell, size uint64) {}
func (gc *GCBase) DebitExternalMemory(c Cell, size uint64)  {}

// Default implementations for write barriers: do nothing. Valid for
// non-generational, non-incremental collectors.

func (gc *GCBase) WriteBarrier(loc *Value, v Value)             {}
func (gc *GCBase) WriteBarrierRange(slots []Value)              {}
func (gc *GCBase) WriteBarrierRangeFill(slots []Value, v Value) {}

// CreateSnapshot serializes the heap through the registered snapshot writer.
func (gc *GCBase) CreateSnapshot(w io.Writer) error {
	snapshotMu.RLock()
	fn := snapshotWriter
	snapshotMu.RUnlock()
	if fn == nil {
		return errNoSnapshotWriter
	}
	return fn(gc.self, w)
}

// CreateSnapshotToFile writes a snapshot to the named file.
func (gc *GCBase) CreateSnapshotToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	if err := gc.CreateSnapshot(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// GetDebugHeapInfo populates the debug counters.
func (gc *GCBase) GetDebugHeapInfo(info *DebugHeapInfo) {
	*info = gc.debug
	if heapAsserts {
		info.assertInvariants()
	}
}

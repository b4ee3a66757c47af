// ABOUTME: The GCCallbacks interface the embedding runtime implements
// ABOUTME: The collector never reaches into runtime internals except through these

package heap

import "io"

// GCCallbacks is the runtime's side of the collection contract. The collector
// calls back into the runtime for everything it needs from program state:
// root sets, weak roots, and symbol bookkeeping.
type GCCallbacks interface {
	// MarkRoots visits every strong root slot with the acceptor, bracketing
	// groups with Begin/EndRootSection in declaration order, each slot
	// exactly once. markLongLived indicates whether root structures that
	// exclusively reference long-lived allocations must be rescanned; a
	// generational collector may pass false for young collections.
	MarkRoots(acceptor RootAcceptor, markLongLived bool)

	// MarkWeakRoots visits roots that must not keep referents alive. Invoked
	// strictly after strong marking, so liveness queries give final answers.
	// Live mutator-held WeakRefs must have their slots marked here via
	// AcceptWeakSlot.
	MarkWeakRoots(acceptor WeakRootAcceptor)

	// SymbolsEnd returns one past the largest live symbol ID, sizing the
	// collector's symbol mark bits.
	SymbolsEnd() SymbolID

	// FreeSymbols releases every symbol not marked true in marked. Invoked
	// at the end of a collection.
	FreeSymbols(marked []bool)

	// MallocSize approximates off-heap memory used by the roots of the
	// object graph.
	MallocSize() uint64

	// PrintRuntimeGCStats writes runtime-maintained GC statistics, such as
	// the per-section breakdown of root marking time.
	PrintRuntimeGCStats(w io.Writer)

	// VisitIdentifiers calls fn for every identifier-table entry. Slow;
	// intended only for heap snapshots. fn must not touch the heap.
	VisitIdentifiers(fn func(name string, id SymbolID))

	// ConvertSymbolToUTF8 renders a symbol without performing any heap
	// operation.
	ConvertSymbolToUTF8(id SymbolID) string

	// CallStackNoAlloc returns the current call stack without allocating on
	// the heap, for OOM diagnostics.
	CallStackNoAlloc() string
}

// NopCallbacks is a GCCallbacks with no roots and no symbols. Embed it to
// implement only the callbacks a runtime actually needs.
type NopCallbacks struct{}

var _ GCCallbacks = NopCallbacks{}

func (NopCallbacks) MarkRoots(acceptor RootAcceptor, markLongLived bool) {}
func (NopCallbacks) MarkWeakRoots(acceptor WeakRootAcceptor)            {}
func (NopCallbacks) SymbolsEnd() SymbolID                               { return 0 }
func (NopCallbacks) FreeSymbols(marked []bool)                          {}
func (NopCallbacks) MallocSize() uint64                                 { return 0 }
func (NopCallbacks) PrintRuntimeGCStats(w io.Writer)                    {}
func (NopCallbacks) VisitIdentifiers(fn func(name string, id SymbolID)) {}
func (NopCallbacks) ConvertSymbolToUTF8(id SymbolID) string             { return "" }
func (NopCallbacks) CallStackNoAlloc() string                           { return "" }

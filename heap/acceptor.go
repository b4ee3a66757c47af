// ABOUTME: Acceptor interfaces through which the collector visits slots
// ABOUTME: Weak-marking is a declared capability, not a runtime type branch per slot

package heap

// Acceptor is the action a marking pass performs on each traced slot. After
// the call, the slot holds the final address of its referent if and only if
// the collector's IsUpdatingPointers reports true for the current phase.
type Acceptor interface {
	Accept(slot *Value)
}

// RootSection identifies one phase of root marking. Sections are visited in
// the fixed order below so per-phase timings are comparable across runs and
// later sections may rely on earlier ones having run.
type RootSection uint8

const (
	RootSectionRegisters RootSection = iota
	RootSectionRuntimeInstanceVars
	RootSectionRuntimeModules
	RootSectionCharStrings
	RootSectionBuiltins
	RootSectionPrototypes
	RootSectionIdentifierTable
	RootSectionGCScopes
	RootSectionSymbolRegistry
	RootSectionSamplingProfiler
	RootSectionCustom

	NumRootSections
)

var rootSectionNames = [NumRootSections]string{
	"Registers",
	"RuntimeInstanceVars",
	"RuntimeModules",
	"CharStrings",
	"Builtins",
	"Prototypes",
	"IdentifierTable",
	"GCScopes",
	"SymbolRegistry",
	"SamplingProfiler",
	"Custom",
}

// String returns the section name used in stats and snapshots.
func (s RootSection) String() string {
	if s >= NumRootSections {
		return "!err"
	}
	return rootSectionNames[s]
}

// RootAcceptor is handed to the runtime's MarkRoots callback. The runtime
// must bracket each group of roots with Begin/EndRootSection, visiting its
// sections in declaration order, and must visit each root slot exactly once
// per invocation. GCScopes is collector-owned and never marked by the
// runtime; the collector appends it after the runtime's sections.
type RootAcceptor interface {
	Acceptor
	BeginRootSection(s RootSection)
	EndRootSection()
}

// WeakSlotAcceptor is the weak-marking capability. An acceptor that can mark
// WeakRefSlots declares it by implementing this interface; MarkCell checks
// the capability once per cell with a type assertion, never per slot.
type WeakSlotAcceptor interface {
	AcceptWeakSlot(slot *WeakRefSlot)
}

// WeakRootAcceptor is handed to the runtime's MarkWeakRoots callback, in a
// phase strictly after strong marking so liveness queries give final answers.
// AcceptWeakRoot visits a Value slot that must not keep its referent alive:
// the collector clears it if the referent died and repoints it if it moved.
type WeakRootAcceptor interface {
	WeakSlotAcceptor
	AcceptWeakRoot(slot *Value)
}

// NamedAcceptor additionally receives the metadata name of every slot. Used
// by heap snapshots to label edges.
type NamedAcceptor interface {
	AcceptNamed(slot *Value, name string)
}

// Package markers implements the managed-runtime-side state machines
// of the event assembler (spec §4.E): one state machine per kind of
// interval (JIT compile, GC, suspend-the-world, restart-the-world),
// plus the two kinds of instance markers (heap stats, allocation
// tick).
//
// Design Note 2 (spec §9) asks that per-thread state, which the
// original source keeps in captured closures, be re-architected as an
// explicit tagged-variant MarkerBuilder with one variant per state
// machine and a single dispatcher indexed by event kind. Builder is
// that dispatcher; each state machine lives in its own file
// (jit.go, gc.go, suspendee.go, restartee.go, instance.go).
package markers

// EventKind tags a RuntimeEvent so Builder.Dispatch can route it to
// the right state machine without a large manual type switch at every
// call site.
type EventKind int

const (
	MethodJittingStarted EventKind = iota
	MethodLoadVerbose
	GCStart
	GCEnd
	GCSuspendEEStart
	GCSuspendEEStop
	GCRestartEEStart
	GCRestartEEStop
	GCHeapStatsEvent
	GCAllocationTickEvent
)

// RuntimeEvent is the tagged union of every managed-runtime event the
// assembler feeds to a Builder. Only the fields relevant to Kind are
// meaningful; this mirrors the wire events in spec §6 after they've
// been decoded from the diagnostic-port stream.
type RuntimeEvent struct {
	Kind      EventKind
	ThreadID  uint64
	TimeMs    float64

	// MethodJittingStarted / MethodLoadVerbose
	MethodID   uint64
	Namespace  string
	Name       string
	Signature  string
	ILSize     uint32
	ModuleID   uint64
	Token      uint32
	StartAddr  uint64
	CodeSize   uint32

	// GCStart
	GCReason string
	GCCount  int

	// GCSuspendEEStart
	SuspendReason string

	// GCHeapStats
	HeapStats HeapStats

	// GCAllocationTick
	Alloc AllocationTick
}

// HeapStats carries the per-generation sizes and promoted counts of a
// GCHeapStats event (spec §3 Marker payload variants).
type HeapStats struct {
	Gen0Size, Gen0Promoted     uint64
	Gen1Size, Gen1Promoted     uint64
	Gen2Size, Gen2Promoted     uint64
	LOHSize, LOHPromoted       uint64
	FinalizationPromoted       uint64
	TotalHeapSize              uint64
}

// AllocationKind classifies a GCAllocationTick (spec §3).
type AllocationKind int

const (
	AllocSmall AllocationKind = iota
	AllocLarge
	AllocPinned
	AllocUnknown
)

func (k AllocationKind) String() string {
	switch k {
	case AllocSmall:
		return "Small"
	case AllocLarge:
		return "Large"
	case AllocPinned:
		return "Pinned"
	default:
		return "Unknown"
	}
}

// AllocationTick carries the payload of a GCAllocationTick event.
type AllocationTick struct {
	Amount    uint64
	Kind      AllocationKind
	TypeName  string
	HeapIndex int
}

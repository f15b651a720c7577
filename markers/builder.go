package markers

// Phase mirrors profile.MarkerPhase without importing the profile
// package, keeping markers free of a dependency on the serialization
// layer; the assembler translates between the two.
type Phase int

const (
	PhaseInstance Phase = iota
	PhaseInterval
	PhaseIntervalStart
	PhaseIntervalEnd
)

// Category mirrors the subset of profile.Category this package needs
// to assign, for the same reason.
type Category int

const (
	CategoryJIT Category = iota
	CategoryGC
)

// Completed is a marker a state machine has finished building and is
// ready for the assembler to intern into the Profile model.
type Completed struct {
	Name     string
	Start    float64
	End      float64
	Category Category
	Phase    Phase
	Payload  map[string]interface{}

	// Method, when non-nil, additionally registers a method in the
	// assembler's method table (spec §4.E JIT state machine: "also
	// register the method in the method registry").
	Method *MethodInfo
}

// MethodInfo is what the JIT state machine hands the assembler to
// register a newly-compiled method.
type MethodInfo struct {
	MethodID  uint64
	ModuleID  uint64
	Namespace string
	Name      string
	Signature string
	Token     uint32
	StartAddr uint64
	CodeSize  uint32
}

func (m *MethodInfo) FullName() string {
	if m.Namespace == "" {
		return m.Name
	}
	return m.Namespace + "." + m.Name
}

// Builder dispatches RuntimeEvents to the four per-thread-keyed state
// machines and returns zero or one completed marker per event. One Builder
// covers every thread in a session; each state machine keys its
// pending/stack state by thread id internally.
type Builder struct {
	jit        jitMachine
	gc         gcMachine
	suspendEE  suspendEEMachine
	restartEE  restartEEMachine
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		jit:       newJITMachine(),
		gc:        newGCMachine(),
		suspendEE: newSuspendEEMachine(),
		restartEE: newRestartEEMachine(),
	}
}

// Dispatch routes ev to the matching state machine. It returns a
// non-nil *Completed when the event closes an interval (or is itself
// an instance marker); otherwise nil.
func (b *Builder) Dispatch(ev RuntimeEvent) *Completed {
	switch ev.Kind {
	case MethodJittingStarted:
		b.jit.start(ev)
		return nil
	case MethodLoadVerbose:
		return b.jit.finish(ev)
	case GCStart:
		b.gc.start(ev)
		return nil
	case GCEnd:
		return b.gc.finish(ev)
	case GCSuspendEEStart:
		b.suspendEE.start(ev)
		return nil
	case GCSuspendEEStop:
		return b.suspendEE.finish(ev)
	case GCRestartEEStart:
		b.restartEE.start(ev)
		return nil
	case GCRestartEEStop:
		return b.restartEE.finish(ev)
	case GCHeapStatsEvent:
		return heapStatsMarker(ev)
	case GCAllocationTickEvent:
		return allocationTickMarker(ev)
	}
	return nil
}

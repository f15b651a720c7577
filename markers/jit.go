package markers

// jitMachine implements the JIT state machine (spec §4.E): a
// MethodJittingStarted pushes a pending record keyed by method id; a
// matching MethodLoadVerbose pops it and emits an Interval marker
// plus a MethodInfo for registration. If Load arrives with no
// pending start, the marker is suppressed but the method is still
// registered.
type jitMachine struct {
	pending map[uint64]jitPending // method id -> pending start
}

type jitPending struct {
	startMs   float64
	namespace string
	name      string
	signature string
	ilSize    uint32
	moduleID  uint64
}

func newJITMachine() jitMachine {
	return jitMachine{pending: make(map[uint64]jitPending)}
}

func (m *jitMachine) start(ev RuntimeEvent) {
	m.pending[ev.MethodID] = jitPending{
		startMs:   ev.TimeMs,
		namespace: ev.Namespace,
		name:      ev.Name,
		signature: ev.Signature,
		ilSize:    ev.ILSize,
		moduleID:  ev.ModuleID,
	}
}

func (m *jitMachine) finish(ev RuntimeEvent) *Completed {
	info := &MethodInfo{
		MethodID:  ev.MethodID,
		ModuleID:  ev.ModuleID,
		Namespace: ev.Namespace,
		Name:      ev.Name,
		Signature: ev.Signature,
		Token:     ev.Token,
		StartAddr: ev.StartAddr,
		CodeSize:  ev.CodeSize,
	}

	start, ok := m.pending[ev.MethodID]
	if !ok {
		// No pending start: method is still registered, marker
		// suppressed (spec §4.E).
		return &Completed{Method: info}
	}
	delete(m.pending, ev.MethodID)

	fullName := info.FullName()
	if info.Namespace == "" {
		info.Namespace = start.namespace
	}
	if info.Name == "" {
		info.Name = start.name
		fullName = info.FullName()
	}

	return &Completed{
		Name:     "JitCompile",
		Start:    start.startMs,
		End:      ev.TimeMs,
		Category: CategoryJIT,
		Phase:    PhaseInterval,
		Payload: map[string]interface{}{
			"type":     "JitCompile",
			"method":   fullName,
			"ilSize":   start.ilSize,
			"moduleId": start.moduleID,
		},
		Method: info,
	}
}

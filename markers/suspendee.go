package markers

// suspendEEMachine implements the Suspend-EE interval state machine
// (spec §4.E): GCSuspendEEStart(reason, count) pushes, GCSuspendEEStop
// pops to an Interval marker.
type suspendEEMachine struct {
	stacks map[uint64][]suspendPending
}

type suspendPending struct {
	startMs float64
	reason  string
	count   int
}

func newSuspendEEMachine() suspendEEMachine {
	return suspendEEMachine{stacks: make(map[uint64][]suspendPending)}
}

func (m *suspendEEMachine) start(ev RuntimeEvent) {
	m.stacks[ev.ThreadID] = append(m.stacks[ev.ThreadID], suspendPending{
		startMs: ev.TimeMs,
		reason:  ev.SuspendReason,
		count:   ev.GCCount,
	})
}

func (m *suspendEEMachine) finish(ev RuntimeEvent) *Completed {
	stack := m.stacks[ev.ThreadID]
	if len(stack) == 0 {
		return nil
	}
	top := stack[len(stack)-1]
	m.stacks[ev.ThreadID] = stack[:len(stack)-1]

	return &Completed{
		Name:     "GCSuspendEE",
		Start:    top.startMs,
		End:      ev.TimeMs,
		Category: CategoryGC,
		Phase:    PhaseInterval,
		Payload: map[string]interface{}{
			"type":   "GCSuspendEE",
			"Reason": top.reason,
			"Count":  top.count,
		},
	}
}

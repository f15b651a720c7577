package markers

// restartEEMachine implements the Restart-EE interval state machine
// (spec §4.E): GCRestartEEStart pushes a timestamp; GCRestartEEStop
// pops to an Interval marker with no payload.
type restartEEMachine struct {
	stacks map[uint64][]float64
}

func newRestartEEMachine() restartEEMachine {
	return restartEEMachine{stacks: make(map[uint64][]float64)}
}

func (m *restartEEMachine) start(ev RuntimeEvent) {
	m.stacks[ev.ThreadID] = append(m.stacks[ev.ThreadID], ev.TimeMs)
}

func (m *restartEEMachine) finish(ev RuntimeEvent) *Completed {
	stack := m.stacks[ev.ThreadID]
	if len(stack) == 0 {
		return nil
	}
	start := stack[len(stack)-1]
	m.stacks[ev.ThreadID] = stack[:len(stack)-1]

	return &Completed{
		Name:     "GCRestartEE",
		Start:    start,
		End:      ev.TimeMs,
		Category: CategoryGC,
		Phase:    PhaseInterval,
		Payload:  map[string]interface{}{"type": "GCRestartEE"},
	}
}

package profile

// Thread is one per-peer-thread record: its own interning tables
// (spec §4.E: "cleared between threads — strings in one thread are
// numbered independently of another") plus its ordered samples and
// markers.
type Thread struct {
	PID  int
	TID  int
	Name string

	StartTimeMs float64
	EndTimeMs   float64
	CPUTimeNs   int64

	IsMainThread      bool
	InitiallyVisible  bool
	InitiallySelected bool

	Strings   *StringTable
	Frames    FrameTable
	Stacks    StackTable
	Funcs     FuncTable
	Resources ResourceTable
	Samples   SampleTable
	Markers   MarkerTable

	frameByAddr map[uint64]int
	stackByKey  map[stackKey]int
	funcByName  map[string]int
	resByLib    map[int]int // lib index -> resource index

	lastSampleTimeMs float64
}

type stackKey struct {
	parent int
	frame  int
}

// NewThread returns an empty Thread record.
func NewThread(pid, tid int) *Thread {
	return &Thread{
		PID:         pid,
		TID:         tid,
		Strings:     NewStringTable(),
		frameByAddr: make(map[uint64]int),
		stackByKey:  make(map[stackKey]int),
		funcByName:  make(map[string]int),
		resByLib:    make(map[int]int),
	}
}

// InternFunc returns the FuncTable index for a function named name
// belonging to libIndex (-1 if no module owns it), creating rows as
// needed.
func (th *Thread) InternFunc(name string, libIndex int) int {
	key := name
	if fi, ok := th.funcByName[key]; ok {
		return fi
	}
	resIdx := -1
	if libIndex >= 0 {
		if ri, ok := th.resByLib[libIndex]; ok {
			resIdx = ri
		} else {
			nameIdx := th.Strings.Intern(name)
			resIdx = th.Resources.append(nameIdx, libIndex)
			th.resByLib[libIndex] = resIdx
		}
	}
	nameIdx := th.Strings.Intern(name)
	fi := th.Funcs.append(nameIdx, resIdx)
	th.funcByName[key] = fi
	return fi
}

// InternFrame interns a Frame for the given absolute code address,
// looking it up by address (spec §3: "Frame ... Interned by absolute
// code address"). moduleOffset is -1 when no module owns the address,
// matching FrameTable.ModuleOffset.
func (th *Thread) InternFrame(addr uint64, moduleOffset int64, funcIndex int, cat Category, subcat, inlineDepth int) int {
	if fi, ok := th.frameByAddr[addr]; ok {
		return fi
	}
	idx := th.Frames.append(moduleOffset, funcIndex, cat, subcat, inlineDepth)
	th.frameByAddr[addr] = idx
	return idx
}

// InternStackPath interns a full call stack given as a slice of Frame
// indices in leaf-first order, walking parent-first (root before
// leaf) so every node's parent index precedes it, satisfying spec
// invariant #1. Returns the leaf's stack-node index, or -1 for an
// empty stack.
func (th *Thread) InternStackPath(frameIndicesLeafFirst []int, cat Category, subcat int) int {
	parent := -1
	for i := len(frameIndicesLeafFirst) - 1; i >= 0; i-- {
		fi := frameIndicesLeafFirst[i]
		key := stackKey{parent: parent, frame: fi}
		if si, ok := th.stackByKey[key]; ok {
			parent = si
			continue
		}
		si := th.Stacks.append(fi, parent, cat, subcat)
		th.stackByKey[key] = si
		parent = si
	}
	return parent
}

// AddSample appends a Sample, clamping the thread-relative time delta
// to be non-negative (spec §4.E: "the assembler never produces a
// negative delta (it clamps to zero)") and enforcing that sample
// times are monotonic (invariant #4) by clamping time to the last
// sample's.
func (th *Thread) AddSample(stackIndex int, timeMs float64, cpuDeltaNs int64) {
	if timeMs < th.lastSampleTimeMs {
		timeMs = th.lastSampleTimeMs
	}
	th.lastSampleTimeMs = timeMs
	th.Samples.Append(stackIndex, timeMs, cpuDeltaNs)
}

// AddMarker interns name and appends a Marker row, returning its
// index.
func (th *Thread) AddMarker(name string, start, end float64, cat Category, phase MarkerPhase, payload map[string]interface{}) int {
	if end < start {
		end = start
	}
	nameIdx := th.Strings.Intern(name)
	return th.Markers.append(start, end, cat, phase, nameIdx, payload)
}

// Package profile implements the Profile model (spec component F): a
// plain data object matching the Firefox Profiler consumer's JSON
// schema, built from parallel columnar tables.
//
// Grounded on perffile/format.go's approach, which represents the
// perf.data on-disk structures as many small typed structs; here each
// "column family" (samples, markers, stacks, frames, funcs,
// resources, libs, strings) gets its own append-only struct-of-slices
// type with a single length invariant enforced after every append,
// per spec §4.F.
package profile

import "fmt"

// StringTable is a per-thread append-only deduplicated string list.
// Every *_index field elsewhere in this package refers to a position
// in one of these tables.
type StringTable struct {
	strs  []string
	index map[string]int
}

// NewStringTable returns an empty table.
func NewStringTable() *StringTable {
	return &StringTable{index: make(map[string]int)}
}

// Intern returns the index of s, appending it if this is the first
// time it has been seen.
func (t *StringTable) Intern(s string) int {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := len(t.strs)
	t.strs = append(t.strs, s)
	t.index[s] = i
	return i
}

// Strings returns the table's contents in index order.
func (t *StringTable) Strings() []string { return t.strs }

// FrameTable holds one row per interned Frame, addressed by Frame
// Index. A Frame is interned by absolute code address (spec §3).
type FrameTable struct {
	Length int

	ModuleOffset []int64 // address relative to the owning module's base; -1 if no module
	FuncIndex    []int   // index into FuncTable
	Category     []Category
	Subcategory  []int
	InlineDepth  []int
}

func (t *FrameTable) append(moduleOffset int64, funcIndex int, cat Category, subcat, inlineDepth int) int {
	idx := t.Length
	t.ModuleOffset = append(t.ModuleOffset, moduleOffset)
	t.FuncIndex = append(t.FuncIndex, funcIndex)
	t.Category = append(t.Category, cat)
	t.Subcategory = append(t.Subcategory, subcat)
	t.InlineDepth = append(t.InlineDepth, inlineDepth)
	t.Length++
	t.checkInvariant()
	return idx
}

func (t *FrameTable) checkInvariant() {
	n := t.Length
	if len(t.ModuleOffset) != n || len(t.FuncIndex) != n || len(t.Category) != n ||
		len(t.Subcategory) != n || len(t.InlineDepth) != n {
		panic(fmt.Sprintf("profile: FrameTable column length mismatch at length %d", n))
	}
}

// StackTable holds one row per interned call-stack node. Nodes form a
// prefix-shared tree rooted at a synthetic null parent (ParentStack ==
// -1): spec invariant #1 requires every node's parent to be either
// absent or to precede it in index order, so a depth-first
// parent-before-child build order is always valid.
type StackTable struct {
	Length int

	FrameIndex  []int
	ParentStack []int // -1 means root
	Category    []Category
	Subcategory []int
}

func (t *StackTable) append(frameIndex, parentStack int, cat Category, subcat int) int {
	if parentStack >= t.Length {
		panic("profile: StackTable parent must precede child")
	}
	idx := t.Length
	t.FrameIndex = append(t.FrameIndex, frameIndex)
	t.ParentStack = append(t.ParentStack, parentStack)
	t.Category = append(t.Category, cat)
	t.Subcategory = append(t.Subcategory, subcat)
	t.Length++
	t.checkInvariant()
	return idx
}

func (t *StackTable) checkInvariant() {
	n := t.Length
	if len(t.FrameIndex) != n || len(t.ParentStack) != n || len(t.Category) != n || len(t.Subcategory) != n {
		panic(fmt.Sprintf("profile: StackTable column length mismatch at length %d", n))
	}
}

// SampleTable holds one row per CPU sample: produced one-per-tick-
// per-thread by the sampler.
type SampleTable struct {
	Length int

	StackIndex []int // -1 for an idle sample with no stack
	TimeMs     []float64
	CPUDeltaNs []int64
}

func (t *SampleTable) Append(stackIndex int, timeMs float64, cpuDeltaNs int64) {
	if cpuDeltaNs < 0 {
		cpuDeltaNs = 0
	}
	t.StackIndex = append(t.StackIndex, stackIndex)
	t.TimeMs = append(t.TimeMs, timeMs)
	t.CPUDeltaNs = append(t.CPUDeltaNs, cpuDeltaNs)
	t.Length++
	t.checkInvariant()
}

func (t *SampleTable) checkInvariant() {
	n := t.Length
	if len(t.StackIndex) != n || len(t.TimeMs) != n || len(t.CPUDeltaNs) != n {
		panic(fmt.Sprintf("profile: SampleTable column length mismatch at length %d", n))
	}
}

// FuncTable holds one row per distinct function/method. A func with
// no resolved method still gets a row: its Name is the hex address
// and its Resource is -1 (spec §4.E, "still becomes a Frame").
type FuncTable struct {
	Length int

	NameIndex    []int
	ResourceIdx  []int // -1 for none
	IsJS         []bool
	RelevantForJS []bool
}

func (t *FuncTable) append(nameIndex, resourceIdx int) int {
	idx := t.Length
	t.NameIndex = append(t.NameIndex, nameIndex)
	t.ResourceIdx = append(t.ResourceIdx, resourceIdx)
	t.IsJS = append(t.IsJS, false)
	t.RelevantForJS = append(t.RelevantForJS, false)
	t.Length++
	t.checkInvariant()
	return idx
}

func (t *FuncTable) checkInvariant() {
	n := t.Length
	if len(t.NameIndex) != n || len(t.ResourceIdx) != n || len(t.IsJS) != n || len(t.RelevantForJS) != n {
		panic(fmt.Sprintf("profile: FuncTable column length mismatch at length %d", n))
	}
}

// ResourceTable holds one row per module referenced by a function,
// pointing at the profile-wide Lib list by index.
type ResourceTable struct {
	Length int

	NameIndex []int
	LibIndex  []int // -1 for none
}

func (t *ResourceTable) append(nameIndex, libIndex int) int {
	idx := t.Length
	t.NameIndex = append(t.NameIndex, nameIndex)
	t.LibIndex = append(t.LibIndex, libIndex)
	t.Length++
	t.checkInvariant()
	return idx
}

func (t *ResourceTable) checkInvariant() {
	n := t.Length
	if len(t.NameIndex) != n || len(t.LibIndex) != n {
		panic(fmt.Sprintf("profile: ResourceTable column length mismatch at length %d", n))
	}
}

// MarkerTable holds one row per marker emitted on a thread (spec §3).
type MarkerTable struct {
	Length int

	StartTimeMs []float64
	EndTimeMs   []float64 // equal to StartTimeMs (and Phase==Instance) if instantaneous
	Category    []Category
	Phase       []MarkerPhase
	NameIndex   []int
	Payload     []map[string]interface{}
}

func (t *MarkerTable) append(start, end float64, cat Category, phase MarkerPhase, nameIdx int, payload map[string]interface{}) int {
	idx := t.Length
	t.StartTimeMs = append(t.StartTimeMs, start)
	t.EndTimeMs = append(t.EndTimeMs, end)
	t.Category = append(t.Category, cat)
	t.Phase = append(t.Phase, phase)
	t.NameIndex = append(t.NameIndex, nameIdx)
	t.Payload = append(t.Payload, payload)
	t.Length++
	t.checkInvariant()
	return idx
}

func (t *MarkerTable) checkInvariant() {
	n := t.Length
	if len(t.StartTimeMs) != n || len(t.EndTimeMs) != n || len(t.Category) != n ||
		len(t.Phase) != n || len(t.NameIndex) != n || len(t.Payload) != n {
		panic(fmt.Sprintf("profile: MarkerTable column length mismatch at length %d", n))
	}
}

// MarkerPhase is the wire-order marker phase enumeration (spec §3 and
// §4.F: "an integer 0..3 in wire order").
type MarkerPhase int

const (
	PhaseInstance MarkerPhase = iota
	PhaseInterval
	PhaseIntervalStart
	PhaseIntervalEnd
)

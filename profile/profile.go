package profile

import "github.com/google/uuid"

// Lib is one entry in the profile-wide library list: native modules
// and managed assemblies alike, referenced by Resource rows via
// index. Owned exclusively by the Profile (spec §3: "the Profile
// exclusively owns every table").
type Lib struct {
	Name       string
	Path       string
	DebugName  string
	BreakpadID string
	Arch       string
	UUID       uuid.UUID
}

// Counter is a process-wide track of scalar samples over time (spec
// §4.E "Memory counter"). Each Counter owns its own sample columns;
// there is no cross-reference back into a Thread's tables.
type Counter struct {
	Name     string
	Category string
	PID      int

	TimeMs []float64
	Count  []float64 // deltas, never absolute values (spec §4.E)
}

// AppendSample appends one (time, delta) pair to the counter.
func (c *Counter) AppendSample(timeMs, delta float64) {
	c.TimeMs = append(c.TimeMs, timeMs)
	c.Count = append(c.Count, delta)
}

// Meta is the top-level metadata block (spec §3).
type Meta struct {
	StartTimeMs      float64
	EndTimeMs        float64
	OS               string
	CPUCount         int
	SamplingInterval float64 // ms
	ProcessName      string
	PID              int
}

// Profile is the top-level container: it exclusively owns every
// table (spec §3). Frames reference Modules and Methods by index,
// never by pointer, so the whole structure is acyclic and trivially
// serializable.
type Profile struct {
	Meta     Meta
	Libs     []Lib
	Counters []*Counter
	Threads  []*Thread

	libByPath map[string]int
}

// New returns an empty Profile with the given metadata.
func New(meta Meta) *Profile {
	return &Profile{Meta: meta, libByPath: make(map[string]int)}
}

// InternLib returns the global Lib index for path, creating a row if
// this is the first time the path has been seen.
func (p *Profile) InternLib(lib Lib) int {
	if i, ok := p.libByPath[lib.Path]; ok {
		return i
	}
	i := len(p.Libs)
	p.Libs = append(p.Libs, lib)
	p.libByPath[lib.Path] = i
	return i
}

// AddThread appends a Thread record to the profile. Per spec §9 Open
// Question ("the converter silently deduplicates threads that appear
// twice in the input stream"), callers must not add the same thread
// id twice; the assembler package enforces this at the call site.
func (p *Profile) AddThread(th *Thread) {
	p.Threads = append(p.Threads, th)
}

// AddCounter appends a Counter track to the profile.
func (p *Profile) AddCounter(c *Counter) {
	p.Counters = append(p.Counters, c)
}

// SelectVisibleThreads implements spec §4.E "Visible-thread
// selection": any thread whose CPU time exceeds minCPUTimeNs is
// marked initially visible; the thread with the single highest CPU
// time is always visible and is additionally marked as initially
// selected, even if it falls below the threshold.
func (p *Profile) SelectVisibleThreads(minCPUTimeNs int64) {
	if len(p.Threads) == 0 {
		return
	}
	maxIdx := 0
	for i, th := range p.Threads {
		th.InitiallyVisible = th.CPUTimeNs > minCPUTimeNs
		if th.CPUTimeNs > p.Threads[maxIdx].CPUTimeNs {
			maxIdx = i
		}
	}
	p.Threads[maxIdx].InitiallyVisible = true
	p.Threads[maxIdx].InitiallySelected = true
}

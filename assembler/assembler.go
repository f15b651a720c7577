// Package assembler implements the event assembler / converter (spec
// component E): it replays the two merged event streams a session
// produced and fills a profile.Profile.
//
// Grounded on perfsession/session.go's per-entity map bookkeeping
// idiom (adapted here to per-thread profile.Thread records keyed by
// thread id) and perffile/records.go's type-switch-over-event-kind
// dispatch idiom (used in processNative below).
package assembler

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ultraprof/ultra/diagport"
	"github.com/ultraprof/ultra/framedelta"
	"github.com/ultraprof/ultra/markers"
	"github.com/ultraprof/ultra/modules"
	"github.com/ultraprof/ultra/profile"
)

// NativeEvent pairs a decoded sampler-channel record with the
// relative-ms timestamp diagport stamped on it.
type NativeEvent struct {
	TimeMs float64
	Event  interface{}
}

// ReadNativeEvents drains r to EOF, returning every record in file
// order.
func ReadNativeEvents(r *diagport.NativeReader) ([]NativeEvent, error) {
	var out []NativeEvent
	for {
		ev, t, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, NativeEvent{TimeMs: t, Event: ev})
	}
}

// ReadRuntimeEvents drains r to EOF, returning every record in file
// order.
func ReadRuntimeEvents(r *diagport.RuntimeReader) ([]markers.RuntimeEvent, error) {
	var out []markers.RuntimeEvent
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
}

// Options configures a conversion run.
type Options struct {
	Hints               modules.ClassificationHints
	MinVisibleCPUTimeNs int64
	Log                 zerolog.Logger
}

// Convert merges the two time-ordered input streams and replays them
// into a new Profile (spec §4.E). Either stream may be empty (the
// sampler channel is allowed to be absent per spec §7 ConnectError
// rules); the runtime channel is expected by callers to be non-empty
// in practice, but Convert itself places no such requirement.
func Convert(meta profile.Meta, native []NativeEvent, runtime []markers.RuntimeEvent, opt Options) *profile.Profile {
	c := newConverter(meta, opt)
	for _, ev := range mergeEvents(native, runtime) {
		if ev.native != nil {
			c.processNative(ev.timeMs, ev.native.Event)
		} else {
			c.processRuntime(*ev.runtime)
		}
	}
	c.finish()
	return c.profile
}

type mergedEvent struct {
	timeMs  float64
	native  *NativeEvent
	runtime *markers.RuntimeEvent
}

// mergeEvents interleaves two already delivery-ordered streams by
// timestamp without reordering either stream internally: spec §5
// states there is no cross-channel ordering guarantee but that each
// channel's own delivery order must be preserved, including when a
// single thread's events arrive out of timestamp order within that
// channel.
func mergeEvents(native []NativeEvent, runtime []markers.RuntimeEvent) []mergedEvent {
	out := make([]mergedEvent, 0, len(native)+len(runtime))
	i, j := 0, 0
	for i < len(native) && j < len(runtime) {
		if native[i].TimeMs <= runtime[j].TimeMs {
			out = append(out, mergedEvent{timeMs: native[i].TimeMs, native: &native[i]})
			i++
		} else {
			out = append(out, mergedEvent{timeMs: runtime[j].TimeMs, runtime: &runtime[j]})
			j++
		}
	}
	for ; i < len(native); i++ {
		out = append(out, mergedEvent{timeMs: native[i].TimeMs, native: &native[i]})
	}
	for ; j < len(runtime); j++ {
		out = append(out, mergedEvent{timeMs: runtime[j].TimeMs, runtime: &runtime[j]})
	}
	return out
}

type heapSample struct {
	timeMs float64
	total  uint64
}

// converter carries all process-wide and per-thread bookkeeping for
// one Convert call (spec §4.E: "the assembler sets up process-wide
// maps ... per-thread interning maps ... cleared between threads").
// The per-thread interning (strings, frames, funcs, stacks, resources)
// already lives on profile.Thread itself; converter only owns what is
// genuinely process-wide.
type converter struct {
	opt     Options
	profile *profile.Profile

	registry              *modules.Registry
	epoch                 time.Time
	libByModuleID         map[modules.ID]int
	managedLibByModuleID  map[uint64]int
	symtabs               map[modules.ID]*modules.SymbolTable
	methods               *methodTable
	builder               *markers.Builder

	threads       map[uint64]*profile.Thread
	threadOrder   []uint64
	threadStarted map[uint64]bool
	prevStack     map[uint64][]uint64
	lastSampleMs  map[uint64]float64

	heapTotals   []heapSample
	sawHeapStats bool
}

func newConverter(meta profile.Meta, opt Options) *converter {
	return &converter{
		opt:                  opt,
		profile:              profile.New(meta),
		registry:             modules.NewRegistry(),
		epoch:                time.Time{},
		libByModuleID:        make(map[modules.ID]int),
		managedLibByModuleID: make(map[uint64]int),
		symtabs:              make(map[modules.ID]*modules.SymbolTable),
		methods:              newMethodTable(),
		builder:              markers.NewBuilder(),
		threads:              make(map[uint64]*profile.Thread),
		threadStarted:        make(map[uint64]bool),
		prevStack:            make(map[uint64][]uint64),
		lastSampleMs:         make(map[uint64]float64),
	}
}

func (c *converter) processNative(timeMs float64, ev interface{}) {
	switch v := ev.(type) {
	case diagport.NativeProcessStart:
		// The session manifest; nothing further to replay into the
		// profile (Meta is populated by the orchestrator before
		// conversion starts).
	case diagport.NativeModule:
		c.processModule(timeMs, v)
	case diagport.NativeThreadStart:
		c.processThreadStart(timeMs, v)
	case diagport.NativeThreadStop:
		c.processThreadStop(timeMs, v)
	case diagport.NativeCallStack:
		c.processCallStack(timeMs, v)
	}
}

func (c *converter) processModule(timeMs float64, m diagport.NativeModule) {
	ts := c.epoch.Add(time.Duration(timeMs * float64(time.Millisecond)))
	if m.EventKind == diagport.ModuleUnloaded {
		c.registry.Remove(modules.Address(m.LoadAddress), ts)
		return
	}
	id := c.registry.Insert(m.Path, modules.Address(m.LoadAddress), modules.Size(m.Size), uuid.UUID(m.UUID), ts)
	if codeSize, err := modules.ComputeNativeCodeSize(m.Path); err == nil {
		c.registry.SetCodeSize(id, codeSize)
	}
	c.libByModuleID[id] = c.profile.InternLib(profile.Lib{
		Name: filepath.Base(m.Path),
		Path: m.Path,
		UUID: uuid.UUID(m.UUID),
	})
}

// isMainThread heuristically identifies a process's main thread by
// the Linux/POSIX convention that its kernel thread id equals the
// process id (spec.md does not define this rule; no wire field
// identifies the main thread directly).
func (c *converter) isMainThread(tid uint64) bool {
	return int(tid) == c.profile.Meta.PID
}

func (c *converter) ensureThread(tid uint64) *profile.Thread {
	if th, ok := c.threads[tid]; ok {
		return th
	}
	th := profile.NewThread(c.profile.Meta.PID, int(tid))
	th.IsMainThread = c.isMainThread(tid)
	c.threads[tid] = th
	c.threadOrder = append(c.threadOrder, tid)
	return th
}

func (c *converter) processThreadStart(timeMs float64, e diagport.NativeThreadStart) {
	if c.threadStarted[e.ThreadID] {
		// Open Question (spec §9): duplicate thread ids are silently
		// deduplicated; keep the first, drop the rest.
		c.opt.Log.Debug().Uint64("tid", e.ThreadID).Msg("duplicate thread start ignored")
		return
	}
	c.threadStarted[e.ThreadID] = true
	th := c.ensureThread(e.ThreadID)
	th.Name = e.Name
	th.StartTimeMs = timeMs
}

func (c *converter) processThreadStop(timeMs float64, e diagport.NativeThreadStop) {
	if th, ok := c.threads[e.ThreadID]; ok {
		th.EndTimeMs = timeMs
	}
}

func (c *converter) processCallStack(timeMs float64, e diagport.NativeCallStack) {
	th := c.ensureThread(e.ThreadID)

	prev := c.prevStack[e.ThreadID]
	full := framedelta.Decode(prev, framedelta.Delta{Same: int(e.PreviousFrameCount), New: e.Frames})
	c.prevStack[e.ThreadID] = full

	frameIdx := make([]int, len(full))
	for i, addr := range full {
		frameIdx[i] = c.resolveFrame(th, addr)
	}

	stackIdx := -1
	var leafCat profile.Category
	var leafSub int
	if len(frameIdx) > 0 {
		leafCat = th.Frames.Category[frameIdx[0]]
		leafSub = th.Frames.Subcategory[frameIdx[0]]
		stackIdx = th.InternStackPath(frameIdx, leafCat, leafSub)
	}

	cpuDeltaNs := c.cpuDelta(e.ThreadID, timeMs)
	th.AddSample(stackIdx, timeMs, cpuDeltaNs)
	th.CPUTimeNs += cpuDeltaNs
}

// cpuDelta implements spec §4.E's CPU-delta formula, "(current_ts -
// last_context_switch_in_ts) x 10^6, clamped to zero". This profiler's
// wire protocol has no distinct OS context-switch event, so the last
// context-switch-in for a thread is taken to be the last time that
// thread was observed running (its previous sample): between two
// consecutive samples a peer thread that keeps being found non-idle
// is, by construction, the thread that has been "in" since then.
func (c *converter) cpuDelta(tid uint64, timeMs float64) int64 {
	last, ok := c.lastSampleMs[tid]
	c.lastSampleMs[tid] = timeMs
	if !ok {
		return 0
	}
	deltaMs := timeMs - last
	if deltaMs < 0 {
		return 0
	}
	return int64(deltaMs * 1e6)
}

// resolveFrame interns addr as a Frame on th, assigning its category
// per spec §4.E's ordered rule list.
func (c *converter) resolveFrame(th *profile.Thread, addr uint64) int {
	a := modules.Address(addr)

	if mi, ok := c.methods.lookup(addr); ok {
		name := mi.FullName()
		libIdx := c.managedLib(mi.ModuleID)
		cat := profile.CategoryManaged
		if isGCName(name) {
			cat = profile.CategoryGC
		}
		funcIdx := th.InternFunc(name, libIdx)
		return th.InternFrame(addr, -1, funcIdx, cat, 0, 0)
	}

	if a.IsKernel() {
		name := fmt.Sprintf("0x%x", addr)
		funcIdx := th.InternFunc(name, -1)
		return th.InternFrame(addr, -1, funcIdx, profile.CategoryKernel, 0, 0)
	}

	mod := c.registry.Lookup(a)
	cat := profile.CategoryNative
	switch {
	case c.opt.Hints.IsJITModule(mod):
		cat = profile.CategoryJIT
	case c.opt.Hints.IsRuntimeModule(mod):
		cat = profile.CategoryCLR
	}

	name, offset, libIdx := c.symbolicate(mod, addr)
	if isGCName(name) {
		cat = profile.CategoryGC
	}
	funcIdx := th.InternFunc(name, libIdx)
	return th.InternFrame(addr, offset, funcIdx, cat, 0, 0)
}

// symbolicate resolves addr within mod to a function name using the
// module's ELF symbol table, lazily loaded and cached per module. If
// mod is nil, or has no usable symbol table, or addr falls outside
// every known symbol, the address itself still becomes a usable name
// (spec §4.E: "a frame resolved to an invalid method-index still
// becomes a Frame — its name is the hex address").
func (c *converter) symbolicate(mod *modules.Module, addr uint64) (name string, moduleOffset int64, libIdx int) {
	if mod == nil {
		return fmt.Sprintf("0x%x", addr), -1, -1
	}
	libIdx, ok := c.libByModuleID[mod.ID]
	if !ok {
		libIdx = -1
	}
	offset := int64(addr) - int64(mod.Base)

	st, tried := c.symtabs[mod.ID]
	if !tried {
		loaded, err := modules.LoadSymbolTable(mod.Path)
		if err != nil {
			c.opt.Log.Debug().Err(err).Str("path", mod.Path).Msg("no native symbol table available")
		}
		st = loaded
		c.symtabs[mod.ID] = st
	}
	if st != nil {
		if symName, ok := st.Lookup(addr); ok {
			return symName, offset, libIdx
		}
	}
	return fmt.Sprintf("%s+0x%x", filepath.Base(mod.Path), offset), offset, libIdx
}

// isGCName reports whether a resolved function name should override a
// frame's category to GC (spec §4.E: "begins with WKS::gc or SVR::gc
// (case-insensitive)").
func isGCName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "wks::gc") || strings.HasPrefix(lower, "svr::gc")
}

func (c *converter) managedLib(moduleID uint64) int {
	if idx, ok := c.managedLibByModuleID[moduleID]; ok {
		return idx
	}
	path := fmt.Sprintf("managed-module:0x%x", moduleID)
	idx := c.profile.InternLib(profile.Lib{Name: path, Path: path})
	c.managedLibByModuleID[moduleID] = idx
	return idx
}

func (c *converter) processRuntime(ev markers.RuntimeEvent) {
	completed := c.builder.Dispatch(ev)
	if completed == nil {
		return
	}
	if completed.Method != nil {
		c.methods.insert(completed.Method)
		c.managedLib(completed.Method.ModuleID)
	}
	if ev.Kind == markers.GCHeapStatsEvent {
		c.sawHeapStats = true
		c.heapTotals = append(c.heapTotals, heapSample{timeMs: ev.TimeMs, total: ev.HeapStats.TotalHeapSize})
	}
	if completed.Name == "" {
		// A JIT Load with no pending Start: the method is registered
		// (above) but no marker is emitted (spec §4.E).
		return
	}
	th := c.ensureThread(ev.ThreadID)
	th.AddMarker(completed.Name, completed.Start, completed.End,
		translateCategory(completed.Category), translatePhase(completed.Phase), completed.Payload)
}

func translateCategory(cat markers.Category) profile.Category {
	switch cat {
	case markers.CategoryJIT:
		return profile.CategoryJIT
	case markers.CategoryGC:
		return profile.CategoryGC
	default:
		return profile.CategoryOther
	}
}

func translatePhase(p markers.Phase) profile.MarkerPhase {
	// Both enumerations are defined in the same wire order by
	// construction (markers.Phase exists specifically to mirror
	// profile.MarkerPhase without an import cycle).
	return profile.MarkerPhase(p)
}

// finish appends all threads in first-seen order, builds the memory
// counter if any GCHeapStats event was observed, and runs
// visible-thread selection (spec §4.E).
func (c *converter) finish() {
	for _, tid := range c.threadOrder {
		c.profile.AddThread(c.threads[tid])
	}

	if c.sawHeapStats {
		counter := &profile.Counter{Name: "GCHeapStats", Category: "Memory", PID: c.profile.Meta.PID}
		counter.AppendSample(0, 0)
		var prevTotal float64
		for _, hs := range c.heapTotals {
			total := float64(hs.total)
			counter.AppendSample(hs.timeMs, total-prevTotal)
			prevTotal = total
		}
		c.profile.AddCounter(counter)
	}

	c.profile.SelectVisibleThreads(c.opt.MinVisibleCPUTimeNs)
}

// Package modules implements the module registry (spec component B):
// it tracks loaded and unloaded code regions for every process the
// profiler observes, and supports address -> module lookup over the
// currently active set.
//
// The lookup structure is grounded on perfsession/ranges.go's
// approach: a flat slice of (begin, end, id) triples,
// binary-searched by upper bound. Unlike ranges.go this registry must
// also support removal (unload) and replacement-on-overlap, since
// modules come and go over the life of a session.
package modules

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID identifies a Module within one Registry. Zero is never a valid
// ID; it is reserved to mean "no module".
type ID int32

// Module is a loaded region of code: a native shared library, the
// main executable, or a managed assembly's native image.
type Module struct {
	ID         ID
	Path       string
	Base       Address
	Size       Size
	UUID       uuid.UUID // zero value if unknown
	LoadTime   time.Time
	UnloadTime time.Time // zero value while still active

	// CodeSize is the authoritative size used for lookup: the span
	// covering the binary's executable segments, computed by
	// ComputeNativeCodeSize. It may differ from Size (the
	// OS-reported image size, e.g. from an mmap length), and when
	// it is known it takes precedence for disjointness checks.
	CodeSize Size
}

// End returns the exclusive end address of the module's active range,
// preferring CodeSize when it was computed.
func (m *Module) End() Address {
	sz := m.Size
	if m.CodeSize != 0 {
		sz = m.CodeSize
	}
	return m.Base + Address(sz)
}

func (m *Module) active() bool { return m.UnloadTime.IsZero() }

// Registry tracks every Module ever seen for one process, and a
// binary-searchable array of the currently active ones.
//
// Writes (Insert/Remove) come from the event-assembly pipeline as it
// replays module-load/unload events; reads (Lookup) happen from the
// converter after the session has ended. Per spec §5 this is the one
// structure genuinely shared between a writer and a reader, so writes
// take mu and reads after the session ends are lock-free -- callers
// are responsible for not calling Lookup concurrently with Insert or
// Remove (the orchestrator enforces this by waiting for session
// shutdown before converting).
type Registry struct {
	mu sync.Mutex

	all []*Module // every module ever seen, in insertion order

	active []activeEnt // sorted by Begin; active only
	nextID ID
}

type activeEnt struct {
	begin, end Address
	mod        *Module
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nextID: 1}
}

// Insert records a load of path at [base, base+size) at timestamp ts.
// If base exactly matches an already-active module's base, that
// module is treated as replaced: it is unloaded at ts and the new one
// takes over the ID sequence. Returns the new module's ID.
func (r *Registry) Insert(path string, base Address, size Size, id uuid.UUID, ts time.Time) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ent := range r.active {
		if ent.begin == base && ent.mod.active() {
			ent.mod.UnloadTime = ts
		}
	}

	m := &Module{
		ID:       r.nextID,
		Path:     path,
		Base:     base,
		Size:     size,
		UUID:     id,
		LoadTime: ts,
	}
	r.nextID++
	r.all = append(r.all, m)
	r.resort()
	return m.ID
}

// SetCodeSize records the authoritative code-segment size for a
// module, computed separately (see ComputeNativeCodeSize). It must be
// called before any Lookup that depends on its precision, and
// triggers a re-sort since it can change the module's active range.
func (r *Registry) SetCodeSize(id ID, codeSize Size) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.all {
		if m.ID == id {
			m.CodeSize = codeSize
			r.resort()
			return
		}
	}
}

// Remove marks the active module at base as unloaded at timestamp ts.
// The module's history remains in All() for the converter to see.
func (r *Registry) Remove(base Address, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ent := range r.active {
		if ent.begin == base && ent.mod.active() {
			ent.mod.UnloadTime = ts
		}
	}
	r.resort()
}

// resort rebuilds the active array from r.all. Must be called with mu
// held.
func (r *Registry) resort() {
	active := r.active[:0]
	for _, m := range r.all {
		if !m.active() {
			continue
		}
		active = append(active, activeEnt{m.Base, m.End(), m})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].begin < active[j].begin })
	r.active = active
}

// Lookup finds the module active at addr, or nil if none covers it.
// When a load/unload race leaves two overlapping active entries (which
// Insert should already have resolved, but a caller may query mid-
// update), the most recently loaded one wins.
func (r *Registry) Lookup(addr Address) *Module {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	i := sort.Search(len(active), func(i int) bool { return addr < active[i].end })
	if i >= len(active) || !(active[i].begin <= addr && addr < active[i].end) {
		return nil
	}
	best := active[i]
	// Scan backward/forward for overlapping entries sharing this
	// lookup point (load/unload race); prefer the latest LoadTime.
	for j := i - 1; j >= 0 && active[j].end > addr; j-- {
		if active[j].mod.LoadTime.After(best.mod.LoadTime) {
			best = active[j]
		}
	}
	for j := i + 1; j < len(active) && active[j].begin <= addr; j++ {
		if active[j].mod.LoadTime.After(best.mod.LoadTime) {
			best = active[j]
		}
	}
	return best.mod
}

// All returns every module ever seen, active or not, in load order.
func (r *Registry) All() []*Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Module, len(r.all))
	copy(out, r.all)
	return out
}

package assembler

import (
	"sort"

	"github.com/ultraprof/ultra/markers"
)

// methodTable is a sorted, binary-searchable table of JIT-compiled
// method address ranges (spec §4.E category assignment: "if the
// address's owning module is in the managed set -> Managed"). A
// method's owning module is, by construction, in the managed set once
// any of its methods has been JIT-compiled, so indexing methods
// directly serves as that set without a separate managed-module list.
//
// Grounded on modules.Registry's own binary-search-by-upper-bound
// idiom (perfsession/ranges.go), generalized here to hold method
// records instead of loaded modules.
type methodTable struct {
	ranges []methodRange
}

type methodRange struct {
	lowpc, highpc uint64
	info          *markers.MethodInfo
}

func newMethodTable() *methodTable { return &methodTable{} }

// insert records info's native code range. Methods with an unknown
// code size (CodeSize == 0) cannot be indexed by address and are
// skipped; they are still registered in the profile's lib table via
// the caller.
func (t *methodTable) insert(info *markers.MethodInfo) {
	if info.CodeSize == 0 {
		return
	}
	r := methodRange{lowpc: info.StartAddr, highpc: info.StartAddr + uint64(info.CodeSize), info: info}
	i := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].lowpc >= r.lowpc })
	t.ranges = append(t.ranges, methodRange{})
	copy(t.ranges[i+1:], t.ranges[i:])
	t.ranges[i] = r
}

// lookup finds the JIT-compiled method covering addr, if any.
func (t *methodTable) lookup(addr uint64) (*markers.MethodInfo, bool) {
	i := sort.Search(len(t.ranges), func(i int) bool { return addr < t.ranges[i].highpc })
	if i < len(t.ranges) && t.ranges[i].lowpc <= addr && addr < t.ranges[i].highpc {
		return t.ranges[i].info, true
	}
	return nil, false
}

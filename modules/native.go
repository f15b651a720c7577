package modules

import (
	"debug/elf"
	"fmt"
)

// ComputeNativeCodeSize returns the authoritative code-segment size
// for a native module at path: the span from the lowest executable
// PT_LOAD virtual address to the end of the highest one, per spec
// §4.B ("Native modules additionally carry code-segment size computed
// from the binary's executable-segment headers [...] the OS-reported
// image size is ignored").
//
// Grounded on perfsession/symbolize.go's use of debug/elf to open and
// walk a module's sections; this walks program headers instead of
// sections since what's wanted here is the mapped executable range,
// not debug sections.
func ComputeNativeCodeSize(path string) (Size, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("modules: opening %s: %w", path, err)
	}
	defer f.Close()

	var lowpc, highpc uint64
	haveLow := false
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Flags&elf.PF_X == 0 {
			continue
		}
		if !haveLow || prog.Vaddr < lowpc {
			lowpc = prog.Vaddr
			haveLow = true
		}
		if end := prog.Vaddr + prog.Memsz; end > highpc {
			highpc = end
		}
	}
	if !haveLow {
		return 0, fmt.Errorf("modules: %s has no executable PT_LOAD segments", path)
	}
	// The span covering every executable segment, not the raw byte
	// sum: gaps between segments (e.g. alignment padding) still
	// belong to the module's address range for lookup purposes.
	return Size(highpc - lowpc), nil
}

package modules

import "strings"

// ClassificationHints is a configurable set of module-name patterns
// used to recognize the JIT compiler and the managed-runtime core
// when assigning frame categories (spec §4.E).
//
// Open Question (spec §9): the original source hard-codes two
// different sampler library names across operating systems, and
// hard-codes Windows DLL names (clrjit.dll, coreclr.dll) even on
// macOS. This type keeps the match set data instead of code, so a
// deployment can recognize whatever the managed runtime actually
// ships under without a rebuild.
type ClassificationHints struct {
	JITModuleNames     []string
	RuntimeModuleNames []string
}

// DefaultClassificationHints covers the module names seen across the
// runtime's supported platforms.
func DefaultClassificationHints() ClassificationHints {
	return ClassificationHints{
		JITModuleNames: []string{
			"clrjit.dll", "libclrjit.so", "libclrjit.dylib",
		},
		RuntimeModuleNames: []string{
			"coreclr.dll", "libcoreclr.so", "libcoreclr.dylib",
		},
	}
}

func matchesAny(path string, names []string) bool {
	base := path
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		base = path[i+1:]
	}
	for _, n := range names {
		if strings.EqualFold(base, n) {
			return true
		}
	}
	return false
}

// IsJITModule reports whether m's filename matches a configured JIT
// compiler module name.
func (h ClassificationHints) IsJITModule(m *Module) bool {
	return m != nil && matchesAny(m.Path, h.JITModuleNames)
}

// IsRuntimeModule reports whether m's filename matches a configured
// managed-runtime core module name.
func (h ClassificationHints) IsRuntimeModule(m *Module) bool {
	return m != nil && matchesAny(m.Path, h.RuntimeModuleNames)
}

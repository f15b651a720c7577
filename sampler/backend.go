// Package sampler implements the native stack-walking sampler (spec
// component C): a suspend/walk/resume loop over every peer OS thread
// of a target process, with frame-delta compression of the resulting
// stacks.
//
// The spec explicitly puts the injected shared-library mechanism that
// would load this code into the victim's address space out of scope
// (spec §1); what is in scope is the suspend-walk-resume algorithm
// itself. This package therefore drives that algorithm from the
// profiler process via ptrace(2) against the target's threads, rather
// than running inside the victim — every invariant §4.C states
// (suspend/resume pairing, self-thread exclusion, frame-pointer
// walk, frame-delta emission, enable/disable races, cancellation)
// is exercised the same way either deployment would exercise it.
package sampler

// Registers is the subset of a thread's user-mode register context
// the stack walker needs (spec §4.C step 3): stack pointer, frame
// pointer, and link register / return address.
type Registers struct {
	SP uint64
	FP uint64
	LR uint64
}

// ThreadBackend is the OS-specific half of the sampler: enumerating a
// process's threads and suspending/reading/resuming one of them. Each
// operating system gets its own implementation (backend_linux.go,
// backend_darwin.go); tests use a fake implementation.
type ThreadBackend interface {
	// SelfThreadID returns the calling OS thread's id, so the sampler
	// can exclude itself from enumeration (spec §4.C: "the sampler
	// thread must never suspend itself").
	SelfThreadID() uint64

	// ListThreads enumerates the target process's OS thread ids.
	ListThreads(pid int) ([]uint64, error)

	// IsIdle reports whether the OS has flagged a thread idle, in
	// which case the sampler must skip it without suspending (spec
	// §4.C step 1).
	IsIdle(tid uint64) (bool, error)

	// Suspend stops tid. Every successful Suspend must be paired with
	// exactly one Resume on every exit path (spec invariant #8).
	Suspend(tid uint64) error

	// ReadRegisters reads tid's register context. Must only be called
	// between a successful Suspend and its matching Resume.
	ReadRegisters(tid uint64) (Registers, error)

	// ReadWord reads one 64-bit word from the target's address space
	// at addr, used to walk the frame-pointer chain.
	ReadWord(tid uint64, addr uint64) (uint64, error)

	// Resume restarts tid. Must be called exactly once per successful
	// Suspend, on every exit path including errors.
	Resume(tid uint64) error
}

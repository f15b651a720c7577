//go:build darwin

package sampler

import "fmt"

// darwinBackend is a stub: walking another process's threads on
// Darwin needs the Mach thread/task APIs (thread_suspend,
// thread_get_state, task_for_pid), not ptrace(2). Wiring those is a
// cgo-heavy undertaking outside this package's scope; this backend
// exists so the package still builds on Darwin and fails loudly if
// selected.
type darwinBackend struct{}

// NewDarwinBackend constructs the (unimplemented) Darwin ThreadBackend.
func NewDarwinBackend() ThreadBackend { return &darwinBackend{} }

var errDarwinUnsupported = fmt.Errorf("sampler: Darwin thread backend requires Mach task/thread APIs, not implemented")

func (b *darwinBackend) SelfThreadID() uint64 { return 0 }

func (b *darwinBackend) ListThreads(pid int) ([]uint64, error) {
	return nil, errDarwinUnsupported
}

func (b *darwinBackend) IsIdle(tid uint64) (bool, error) {
	return false, errDarwinUnsupported
}

func (b *darwinBackend) Suspend(tid uint64) error { return errDarwinUnsupported }

func (b *darwinBackend) ReadRegisters(tid uint64) (Registers, error) {
	return Registers{}, errDarwinUnsupported
}

func (b *darwinBackend) ReadWord(tid uint64, addr uint64) (uint64, error) {
	return 0, errDarwinUnsupported
}

func (b *darwinBackend) Resume(tid uint64) error { return errDarwinUnsupported }

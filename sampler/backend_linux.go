//go:build linux

package sampler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxBackend implements ThreadBackend on Linux via ptrace(2),
// attaching to and detaching from each peer thread per tick rather
// than holding a long-lived attach, matching the per-tick
// suspend/resume pairing required by the sampler loop.
type linuxBackend struct {
	self uint64
}

// NewLinuxBackend constructs the Linux ThreadBackend.
func NewLinuxBackend() ThreadBackend {
	return &linuxBackend{self: uint64(unix.Gettid())}
}

func (b *linuxBackend) SelfThreadID() uint64 { return b.self }

func (b *linuxBackend) ListThreads(pid int) ([]uint64, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	tids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}

// IsIdle reports whether tid has already exited or become a zombie,
// the only Linux thread states not worth attempting to suspend.
func (b *linuxBackend) IsIdle(tid uint64) (bool, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", tid))
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	close := strings.LastIndexByte(string(data), ')')
	if close < 0 {
		return false, fmt.Errorf("sampler: malformed /proc/%d/stat", tid)
	}
	fields := strings.Fields(string(data)[close+1:])
	if len(fields) == 0 {
		return false, fmt.Errorf("sampler: malformed /proc/%d/stat", tid)
	}
	state := fields[0]
	return state == "Z" || state == "X", nil
}

func (b *linuxBackend) Suspend(tid uint64) error {
	if err := unix.PtraceAttach(int(tid)); err != nil {
		return err
	}
	var ws unix.WaitStatus
	_, err := unix.Wait4(int(tid), &ws, 0, nil)
	return err
}

func (b *linuxBackend) ReadRegisters(tid uint64) (Registers, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(tid), &regs); err != nil {
		return Registers{}, err
	}
	return Registers{SP: regs.Rsp, FP: regs.Rbp, LR: regs.Rip}, nil
}

func (b *linuxBackend) ReadWord(tid uint64, addr uint64) (uint64, error) {
	var buf [8]byte
	n, err := unix.PtracePeekData(int(tid), uintptr(addr), buf[:])
	if err != nil {
		return 0, err
	}
	if n != 8 {
		return 0, fmt.Errorf("sampler: short peek at %#x (%d bytes)", addr, n)
	}
	return *(*uint64)(unsafe.Pointer(&buf[0])), nil
}

func (b *linuxBackend) Resume(tid uint64) error {
	return unix.PtraceDetach(int(tid))
}

// CPUTicks implements CPUTicksBackend by summing utime+stime from
// /proc/<tid>/stat (fields 14 and 15 after the parenthesized comm
// field).
func (b *linuxBackend) CPUTicks(tid uint64) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", tid))
	if err != nil {
		return 0, err
	}
	close := strings.LastIndexByte(string(data), ')')
	if close < 0 {
		return 0, fmt.Errorf("sampler: malformed /proc/%d/stat", tid)
	}
	fields := strings.Fields(string(data)[close+1:])
	// fields[0] is state; utime is field 14 overall, i.e. fields[11]
	// here; stime is field 15, fields[12].
	if len(fields) < 13 {
		return 0, fmt.Errorf("sampler: short /proc/%d/stat", tid)
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, err
	}
	return utime + stime, nil
}

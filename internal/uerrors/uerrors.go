// Package uerrors defines the error taxonomy shared by every stage of
// the profiler: orchestrator, diagnostic-port sessions, and the
// sampler.
package uerrors

import "fmt"

// Kind classifies an error so callers can decide whether it is fatal,
// silent, or a clean exit.
type Kind int

const (
	// KindConfig is an invalid option: bad pid, non-executable
	// path, negative duration. Fatal before any session opens.
	KindConfig Kind = iota
	// KindConnect is a discovery timeout or endpoint rejection.
	// Fatal for the managed-runtime channel, non-fatal (silent)
	// for the sampler channel.
	KindConnect
	// KindTargetExited means every victim process ended before
	// duration elapsed. Not an error; ends polling cleanly.
	KindTargetExited
	// KindIO is a failure reading or writing an intermediate file.
	// Fatal; all intermediate files are deleted on this path.
	KindIO
	// KindSuspend is a failure to suspend a peer thread.
	// Non-fatal; the sampler skips that thread for one tick.
	KindSuspend
	// KindUserCancel distinguishes a user-requested cancellation
	// from a true error.
	KindUserCancel
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConnect:
		return "connect"
	case KindTargetExited:
		return "target-exited"
	case KindIO:
		return "io"
	case KindSuspend:
		return "suspend"
	case KindUserCancel:
		return "user-cancel"
	default:
		return "unknown"
	}
}

// Error is a taxonomized profiler error. Wrap an underlying error with
// New so callers can later recover the Kind with As/Is-style
// inspection via AsKind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AsKind reports whether err (or any error it wraps) is a *Error of
// the given kind.
func AsKind(err error, kind Kind) bool {
	for err != nil {
		if ue, ok := err.(*Error); ok {
			if ue.Kind == kind {
				return true
			}
			err = ue.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsFatal reports whether an error of this kind should abort the run.
// TargetExited and UserCancel are not fatal: they end the run
// cleanly rather than with a non-zero exit.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if AsKind(err, KindTargetExited) || AsKind(err, KindUserCancel) {
		return false
	}
	return true
}

// Package config holds the Orchestrator's input options and their
// validation (spec §6 CLI surface, §7 ConfigError).
package config

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ultraprof/ultra/internal/uerrors"
	"github.com/ultraprof/ultra/modules"
)

// Defaults mirror the values spec.md calls out explicitly.
const (
	DefaultCheckDelta       = 500 * time.Millisecond
	DefaultFileStaleTimeout = 30 * time.Second
	DefaultDiscoveryTimeout = time.Second
	DefaultSamplingInterval = time.Millisecond
)

// Options is everything the CLI surface (spec §6) accepts, passed
// through unchanged to the Orchestrator.
type Options struct {
	// Exactly one of PID or ProgramPath must be set: PID attaches to
	// an already-running process, ProgramPath spawns a new one.
	PID         int
	ProgramPath string
	Args        []string
	WorkDir     string

	DurationSeconds float64
	DelaySeconds    float64

	// ShouldStart, if set, is polled (alongside a cancellable wait)
	// before the delay timer starts: it lets a caller hold the
	// Orchestrator at the gate until some external readiness signal
	// fires (spec §4.G "optionally wait for an external 'should
	// start' callback").
	ShouldStart func() bool

	OutputDir      string
	OutputBaseName string // overrides the computed "ultra_<proc>_<ts>" name
	TmpDir         string
	SymbolPath     string

	SamplingInterval time.Duration
	CheckDelta       time.Duration
	FileStaleTimeout time.Duration
	DiscoveryTimeout time.Duration

	// Rundown requests the optional post-stop managed-runtime
	// rundown session (spec §4.G).
	Rundown bool
	// KeepIntermediateFiles skips deleting the .nettrace files once
	// the gzip JSON profile has been written.
	KeepIntermediateFiles bool

	Hints               modules.ClassificationHints
	MinVisibleCPUTimeNs int64

	Log zerolog.Logger
}

// WithDefaults returns a copy of o with every zero-valued tunable
// filled in from spec.md's stated defaults.
func (o Options) WithDefaults() Options {
	if o.CheckDelta <= 0 {
		o.CheckDelta = DefaultCheckDelta
	}
	if o.FileStaleTimeout <= 0 {
		o.FileStaleTimeout = DefaultFileStaleTimeout
	}
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if o.SamplingInterval <= 0 {
		o.SamplingInterval = DefaultSamplingInterval
	}
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	if o.TmpDir == "" {
		o.TmpDir = os.TempDir()
	}
	if o.Hints.JITModuleNames == nil && o.Hints.RuntimeModuleNames == nil {
		o.Hints = modules.DefaultClassificationHints()
	}
	return o
}

// Validate reports a *uerrors.Error (KindConfig) for every way Options
// fails spec §7's ConfigError list: "invalid options (non-existent
// pid, non-executable path, negative duration)". It never touches the
// network or spawns anything; Validate is meant to run before any
// session opens.
func (o Options) Validate() error {
	havePID := o.PID != 0
	haveProgram := o.ProgramPath != ""
	if havePID == haveProgram {
		return uerrors.New(uerrors.KindConfig, "Options.Validate",
			fmt.Errorf("exactly one of PID or ProgramPath must be set"))
	}

	if havePID {
		if o.PID < 0 {
			return uerrors.New(uerrors.KindConfig, "Options.Validate", fmt.Errorf("invalid pid %d", o.PID))
		}
		if err := checkProcessExists(o.PID); err != nil {
			return uerrors.New(uerrors.KindConfig, "Options.Validate", err)
		}
	}

	if haveProgram {
		if _, err := exec.LookPath(o.ProgramPath); err != nil {
			if info, statErr := os.Stat(o.ProgramPath); statErr != nil || info.IsDir() || info.Mode()&0o111 == 0 {
				return uerrors.New(uerrors.KindConfig, "Options.Validate",
					fmt.Errorf("%s is not an executable file: %w", o.ProgramPath, err))
			}
		}
	}

	if o.DurationSeconds <= 0 {
		return uerrors.New(uerrors.KindConfig, "Options.Validate",
			fmt.Errorf("duration must be positive, got %v", o.DurationSeconds))
	}
	if o.DelaySeconds < 0 {
		return uerrors.New(uerrors.KindConfig, "Options.Validate",
			fmt.Errorf("delay must not be negative, got %v", o.DelaySeconds))
	}

	return nil
}

// checkProcessExists reports whether pid names a live process, using
// the portable signal-0 idiom (spec §7: "non-existent pid" is a
// ConfigError, not a runtime TargetExited).
func checkProcessExists(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}
	return nil
}

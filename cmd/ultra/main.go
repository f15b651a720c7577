// Command ultra captures a sampled, whole-process profile of a
// running or newly spawned process and writes it as a gzip-compressed
// Firefox Profiler JSON file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ultraprof/ultra/internal/config"
	"github.com/ultraprof/ultra/internal/logging"
	"github.com/ultraprof/ultra/internal/uerrors"
	"github.com/ultraprof/ultra/orchestrator"
)

// Exit codes per the CLI surface: 0 success, 1 user cancel, 2 invalid
// argument, 3 target not found.
const (
	exitSuccess = 0
	exitCancel  = 1
	exitConfig  = 2
	exitTarget  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		pid                   int
		programPath           string
		duration              float64
		delay                 float64
		outputDir             string
		outputBaseName        string
		tmpDir                string
		samplingIntervalMs    float64
		checkDeltaMs          float64
		fileStaleTimeoutSec   float64
		discoveryTimeoutSec   float64
		rundown               bool
		keepIntermediateFiles bool
		logLevel              string
		logPretty             bool
	)

	exitCode := exitSuccess

	rootCmd := &cobra.Command{
		Use:           "ultra [flags] -- [program args...]",
		Short:         "Whole-process sampling profiler",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			log := logging.New(logging.Config{Level: logLevel, Pretty: logPretty, Output: os.Stderr})

			opt := config.Options{
				PID:                   pid,
				ProgramPath:           programPath,
				Args:                  cmdArgs,
				DurationSeconds:       duration,
				DelaySeconds:          delay,
				OutputDir:             outputDir,
				OutputBaseName:        outputBaseName,
				TmpDir:                tmpDir,
				SamplingInterval:      durationFromMs(samplingIntervalMs),
				CheckDelta:            durationFromMs(checkDeltaMs),
				FileStaleTimeout:      durationFromSeconds(fileStaleTimeoutSec),
				DiscoveryTimeout:      durationFromSeconds(discoveryTimeoutSec),
				Rundown:               rundown,
				KeepIntermediateFiles: keepIntermediateFiles,
				Log:                   log,
			}

			o, err := orchestrator.New(opt)
			if err != nil {
				exitCode = exitConfig
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go watchForSecondSignal(o)

			result, err := o.Run(ctx)
			exitCode = exitCodeFor(err)
			if err != nil {
				if exitCode == exitCancel {
					return nil
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d samples, %d markers, %.1f ms)\n",
				result.OutputPath, result.SampleCount, result.MarkerCount, result.DurationMs)
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.IntVar(&pid, "pid", 0, "process id to attach to (mutually exclusive with --program)")
	flags.StringVar(&programPath, "program", "", "program path to spawn and profile")
	flags.Float64Var(&duration, "duration", 10, "how long to profile for, in seconds")
	flags.Float64Var(&delay, "delay", 0, "seconds to wait after start before enabling sessions")
	flags.StringVar(&outputDir, "output-dir", ".", "directory to write the profile into")
	flags.StringVar(&outputBaseName, "output-base-name", "", "override the computed output base name")
	flags.StringVar(&tmpDir, "tmp-dir", "", "directory for intermediate .nettrace files")
	flags.Float64Var(&samplingIntervalMs, "sampling-interval-ms", 1, "sampler tick interval, in milliseconds")
	flags.Float64Var(&checkDeltaMs, "check-delta-ms", 500, "poll interval for duration/liveness checks, in milliseconds")
	flags.Float64Var(&fileStaleTimeoutSec, "file-stale-timeout", 30, "max seconds to wait for intermediate files to stop growing")
	flags.Float64Var(&discoveryTimeoutSec, "discovery-timeout", 1, "max seconds to wait for the diagnostic-port socket to appear")
	flags.BoolVar(&rundown, "rundown", false, "run a managed-runtime rundown session after stopping")
	flags.BoolVar(&keepIntermediateFiles, "keep-intermediate-files", false, "keep the .nettrace files instead of deleting them on success")
	flags.StringVar(&logLevel, "log-level", "info", "one of: debug, info, warn, error")
	flags.BoolVar(&logPretty, "log-pretty", true, "use a human-readable console log format")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ultra: %v\n", err)
		if exitCode == exitSuccess {
			exitCode = exitConfig
		}
	}
	return exitCode
}

// watchForSecondSignal lets a second Ctrl-C force immediate
// termination instead of waiting for the graceful lifecycle to run
// its course (spec §4.G "two-level cancellation").
func watchForSecondSignal(o *orchestrator.Orchestrator) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(ch)
	for range ch {
		o.Cancel()
	}
}

func durationFromMs(ms float64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func durationFromSeconds(sec float64) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case uerrors.AsKind(err, uerrors.KindUserCancel):
		return exitCancel
	case uerrors.AsKind(err, uerrors.KindConfig):
		return exitConfig
	case uerrors.AsKind(err, uerrors.KindConnect), uerrors.AsKind(err, uerrors.KindTargetExited):
		return exitTarget
	default:
		return exitConfig
	}
}

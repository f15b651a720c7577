// Package orchestrator implements the profiling run's lifecycle (spec
// component G): validate, spawn or attach, delay, enable the two
// event sessions, poll until done, stop, merge, and write the
// resulting profile.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/ultraprof/ultra/assembler"
	"github.com/ultraprof/ultra/diagport"
	"github.com/ultraprof/ultra/internal/clock"
	"github.com/ultraprof/ultra/internal/config"
	"github.com/ultraprof/ultra/internal/uerrors"
	"github.com/ultraprof/ultra/markers"
	"github.com/ultraprof/ultra/profile"
	"github.com/ultraprof/ultra/sampler"
)

// Result is what a completed Run produced.
type Result struct {
	OutputPath  string
	SampleCount int
	MarkerCount int
	DurationMs  float64
}

const (
	cancelNone int32 = iota
	cancelGraceful
	cancelForce
)

// Orchestrator drives one profiling run end to end.
type Orchestrator struct {
	opt config.Options
	log zerolog.Logger

	cancelState atomic.Int32
	killNow     chan struct{}
	killOnce    sync.Once
}

// New validates opt and returns an Orchestrator ready to Run. Per spec
// §7, a ConfigError is fatal before any session opens, so validation
// happens here rather than lazily inside Run.
func New(opt config.Options) (*Orchestrator, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		opt:     opt.WithDefaults(),
		log:     opt.Log,
		killNow: make(chan struct{}),
	}, nil
}

// Cancel requests the run stop (spec §4.G "two-level cancellation").
// The first call asks for a graceful stop: the poll loop ends as if
// duration had elapsed or the target had exited, and every later
// lifecycle step (stop sessions, file-stale wait, rundown, convert,
// write) still runs normally. A second call forces immediate
// termination: every remaining blocking wait abandons instead of
// completing.
func (o *Orchestrator) Cancel() {
	if o.cancelState.CompareAndSwap(cancelNone, cancelGraceful) {
		return
	}
	o.cancelState.Store(cancelForce)
	o.killOnce.Do(func() { close(o.killNow) })
}

// Run executes the full lifecycle and returns the path to the
// gzip-JSON profile it wrote.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	var cmd *exec.Cmd
	pid := o.opt.PID
	processName := ""

	if o.opt.ProgramPath != "" {
		var err error
		cmd, pid, err = o.spawn(ctx)
		if err != nil {
			return nil, err
		}
		processName = filepath.Base(o.opt.ProgramPath)
	} else {
		processName = processNameOf(pid)
	}

	base := o.opt.OutputBaseName
	if base == "" {
		base = fmt.Sprintf("ultra_%s_%s_pid_%d", processName, clock.BaseNameTimestamp(start), pid)
	}

	if o.opt.ShouldStart != nil {
		if err := o.waitForCallback(ctx, o.opt.ShouldStart); err != nil {
			o.killSpawned(cmd)
			return nil, err
		}
	}

	if err := o.sleep(ctx, durationOf(o.opt.DelaySeconds)); err != nil {
		o.killSpawned(cmd)
		return nil, err
	}

	runtimePath := filepath.Join(o.opt.TmpDir, diagport.IntermediateFileName(base, pid, diagport.ChannelRuntime))
	samplerPath := filepath.Join(o.opt.TmpDir, diagport.IntermediateFileName(base, pid, diagport.ChannelSampler))
	intermediateFiles := []string{runtimePath, samplerPath}

	runtimeSession := diagport.NewSession(o.log, diagport.ChannelRuntime, runtimePath)
	if err := runtimeSession.Start(ctx, o.opt.TmpDir, pid, diagport.RuntimeProvider(), o.opt.DiscoveryTimeout); err != nil {
		o.killSpawned(cmd)
		o.removeFiles(intermediateFiles)
		return nil, err
	}

	smp, samplerWriter, samplerErrCh, err := o.startSampler(pid, samplerPath)
	if err != nil {
		runtimeSession.StopAndDispose(ctx)
		o.killSpawned(cmd)
		o.removeFiles(intermediateFiles)
		return nil, err
	}

	samplerErrConsumed := o.pollUntilDone(ctx, cmd, pid, samplerErrCh)
	if samplerErrConsumed {
		// The poll loop exited because Run itself returned a fatal
		// resume error (spec §7 SuspendError: "if the resume step
		// fails, the profiler aborts the victim's process"); the
		// sampler goroutine has already stopped on its own.
		o.killSpawned(cmd)
		if cmd == nil {
			killProcess(pid)
		}
	} else {
		// Run is still looping; ask it to stop and wait for it to
		// actually exit before closing the writer it holds, since
		// Stop only guarantees a bounded latency, not immediate return.
		smp.Stop()
		select {
		case <-samplerErrCh:
		case <-time.After(o.opt.CheckDelta + 2*time.Second):
			o.log.Warn().Msg("timed out waiting for the sampler loop to stop")
		}
	}
	if samplerWriter != nil {
		samplerWriter.Close()
	}
	runtimeSession.StopAndDispose(ctx)

	o.waitForFilesStale(ctx, intermediateFiles)

	if o.opt.Rundown {
		o.runRundown(ctx, pid, runtimePath)
	}

	meta := o.buildMeta(processName, pid, start)

	native, err := readNativeFile(samplerPath)
	if err != nil {
		o.log.Debug().Err(err).Msg("no sampler-channel data to merge")
	}
	runtimeEvents, err := readRuntimeFile(runtimePath)
	if err != nil {
		o.removeFiles(intermediateFiles)
		return nil, uerrors.New(uerrors.KindIO, "Orchestrator.Run", err)
	}

	p := assembler.Convert(meta, native, runtimeEvents, assembler.Options{
		Hints:               o.opt.Hints,
		MinVisibleCPUTimeNs: o.opt.MinVisibleCPUTimeNs,
		Log:                 o.log,
	})

	outputPath := filepath.Join(o.opt.OutputDir, base+".json.gz")
	if err := writeProfile(p, outputPath); err != nil {
		o.removeFiles(intermediateFiles)
		return nil, uerrors.New(uerrors.KindIO, "Orchestrator.Run", err)
	}

	if !o.opt.KeepIntermediateFiles {
		o.removeFiles(intermediateFiles)
	}

	sampleCount, markerCount := 0, 0
	for _, th := range p.Threads {
		sampleCount += th.Samples.Length
		markerCount += th.Markers.Length
	}

	return &Result{
		OutputPath:  outputPath,
		SampleCount: sampleCount,
		MarkerCount: markerCount,
		DurationMs:  clock.MillisSince(start, time.Now()),
	}, nil
}

func durationOf(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// spawn starts the target process per the ProgramPath/Args options.
func (o *Orchestrator) spawn(ctx context.Context) (*exec.Cmd, int, error) {
	cmd := exec.Command(o.opt.ProgramPath, o.opt.Args...)
	cmd.Dir = o.opt.WorkDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, 0, uerrors.New(uerrors.KindConfig, "Orchestrator.spawn", err)
	}
	return cmd, cmd.Process.Pid, nil
}

func (o *Orchestrator) killSpawned(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}

func killProcess(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		p.Kill()
	}
}

// waitForCallback polls fn until it returns true, ctx is done, or a
// force-cancel arrives (spec §4.G "optionally wait for an external
// 'should start' callback").
func (o *Orchestrator) waitForCallback(ctx context.Context, fn func() bool) error {
	const pollInterval = 10 * time.Millisecond
	for {
		if fn() {
			return nil
		}
		if o.cancelState.Load() != cancelNone {
			return uerrors.New(uerrors.KindUserCancel, "Orchestrator.waitForCallback", fmt.Errorf("cancelled"))
		}
		select {
		case <-ctx.Done():
			return uerrors.New(uerrors.KindUserCancel, "Orchestrator.waitForCallback", ctx.Err())
		case <-o.killNow:
			return uerrors.New(uerrors.KindUserCancel, "Orchestrator.waitForCallback", fmt.Errorf("cancelled"))
		case <-time.After(pollInterval):
		}
	}
}

// sleep waits d, honouring ctx, a graceful cancel request, and a
// force-cancel: it polls in small increments rather than arming one
// long timer so a graceful Cancel() during a long delay still ends
// the wait promptly.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	const pollInterval = 50 * time.Millisecond
	deadline := time.Now().Add(d)
	for d > 0 {
		step := pollInterval
		if remaining := time.Until(deadline); remaining < step {
			step = remaining
		}
		if step <= 0 {
			return nil
		}
		select {
		case <-time.After(step):
		case <-ctx.Done():
			return uerrors.New(uerrors.KindUserCancel, "Orchestrator.sleep", ctx.Err())
		case <-o.killNow:
			return uerrors.New(uerrors.KindUserCancel, "Orchestrator.sleep", fmt.Errorf("cancelled"))
		}
		if o.cancelState.Load() != cancelNone {
			return uerrors.New(uerrors.KindUserCancel, "Orchestrator.sleep", fmt.Errorf("cancelled"))
		}
		if time.Now().After(deadline) {
			return nil
		}
	}
	return nil
}

// startSampler wires the in-process ptrace sampler directly to a
// diagport.Writer for the sampler channel (DESIGN.md: this profiler's
// deployment model runs the sampler inside the profiler process, not
// injected into the victim, so there is no socket to discover or dial
// for this channel — diagport.Session is only used for the
// managed-runtime channel's real IPC connection).
func (o *Orchestrator) startSampler(pid int, path string) (*sampler.Sampler, *diagport.Writer, chan error, error) {
	w, err := diagport.CreateWriter(path)
	if err != nil {
		return nil, nil, nil, uerrors.New(uerrors.KindIO, "Orchestrator.startSampler", err)
	}

	backend := newPlatformBackend()
	smp := sampler.New(backend, pid, o.opt.SamplingInterval, w, o.log)

	arch, rid, osName := hostDescriptors()
	if err := smp.Enable(arch, rid, osName); err != nil {
		w.Close()
		return nil, nil, nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- smp.Run(context.Background())
	}()

	return smp, w, errCh, nil
}

// pollUntilDone runs the check_delta_ms poll loop (spec §4.G) until
// duration_seconds elapses, every target process exits, a cancel is
// requested, or the sampler reports a fatal error. Returns true only
// in the last case, meaning samplerErrCh has already been drained by
// this call and the sampler's Run loop has already exited on its own.
func (o *Orchestrator) pollUntilDone(ctx context.Context, cmd *exec.Cmd, pid int, samplerErrCh chan error) bool {
	deadline := time.Now().Add(durationOf(o.opt.DurationSeconds))
	ticker := time.NewTicker(o.opt.CheckDelta)
	defer ticker.Stop()

	for {
		select {
		case <-o.killNow:
			return false
		case <-ctx.Done():
			return false
		case err := <-samplerErrCh:
			if err != nil {
				o.log.Error().Err(err).Msg("sampler reported a fatal error")
			}
			return true
		case <-ticker.C:
		}

		if o.cancelState.Load() != cancelNone {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		if !targetAlive(cmd, pid) {
			return false
		}
	}
}

func targetAlive(cmd *exec.Cmd, pid int) bool {
	if cmd != nil {
		return cmd.ProcessState == nil
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	return err == nil && running
}

func processNameOf(pid int) string {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Sprintf("pid-%d", pid)
	}
	name, err := proc.Name()
	if err != nil || name == "" {
		return fmt.Sprintf("pid-%d", pid)
	}
	return name
}

// waitForFilesStale polls each intermediate file's size until it stops
// growing or FileStaleTimeout elapses (spec §4.G): a file counts as
// stale once two checks CheckDelta apart see the same size, and an
// absent file counts as stale. This profiler's Session.StopAndDispose
// already synchronously drains and closes its copy goroutine before
// returning, and the sampler Writer is flushed and closed by the time
// this runs, so in practice the wait ends after one CheckDelta.
func (o *Orchestrator) waitForFilesStale(ctx context.Context, paths []string) {
	deadline := time.Now().Add(o.opt.FileStaleTimeout)
	last := make(map[string]int64, len(paths))

	for {
		stale := true
		for _, p := range paths {
			size, err := fileSize(p)
			if err != nil {
				continue // absent file (e.g. sampler channel never connected) is trivially stale
			}
			if prev, ok := last[p]; !ok || prev != size {
				stale = false
			}
			last[p] = size
		}
		if stale {
			return
		}
		if time.Now().After(deadline) {
			o.log.Warn().Msg("file-stale wait timed out; converting anyway")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-o.killNow:
			return
		case <-time.After(o.opt.CheckDelta):
		}
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// runRundown opens a second, short-lived managed-runtime session and
// appends whatever it captures to the main runtime intermediate file
// (spec §4.G: "optionally run a managed-runtime 'rundown' session that
// forces loader and method enumeration"). A rundown session is the
// runtime re-announcing every currently loaded module and JIT-compiled
// method so the converter can resolve frames whose load event predates
// this profiling run; the append keeps both captures in one file
// rather than requiring the converter to read two.
func (o *Orchestrator) runRundown(ctx context.Context, pid int, runtimePath string) {
	rundownPath := runtimePath + ".rundown"
	sess := diagport.NewSession(o.log, diagport.ChannelRuntime, rundownPath)
	if err := sess.Start(ctx, o.opt.TmpDir, pid, diagport.RuntimeProvider(), o.opt.DiscoveryTimeout); err != nil {
		o.log.Warn().Err(err).Msg("rundown session failed to start; proceeding without rundown")
		return
	}

	const rundownSettle = 200 * time.Millisecond
	o.sleep(ctx, rundownSettle)
	sess.StopAndDispose(ctx)
	defer os.Remove(rundownPath)

	if err := appendFile(runtimePath, rundownPath); err != nil {
		o.log.Warn().Err(err).Msg("failed to append rundown data")
	}
}

func appendFile(dstPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	buf := make([]byte, 64<<10)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

func (o *Orchestrator) removeFiles(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

func readNativeFile(path string) ([]assembler.NativeEvent, error) {
	r, err := diagport.OpenNativeReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return assembler.ReadNativeEvents(r)
}

func readRuntimeFile(path string) ([]markers.RuntimeEvent, error) {
	r, err := diagport.OpenRuntimeReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return assembler.ReadRuntimeEvents(r)
}

func writeProfile(p *profile.Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.WriteGzipJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (o *Orchestrator) buildMeta(processName string, pid int, start time.Time) profile.Meta {
	osName := runtime.GOOS
	if info, err := host.Info(); err == nil {
		osName = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	}
	cpuCount := runtime.NumCPU()
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		cpuCount = n
	}
	return profile.Meta{
		StartTimeMs:      0,
		EndTimeMs:        clock.MillisSince(start, time.Now()),
		OS:               osName,
		CPUCount:         cpuCount,
		SamplingInterval: float64(o.opt.SamplingInterval) / float64(time.Millisecond),
		ProcessName:      processName,
		PID:              pid,
	}
}

// hostDescriptors reports the architecture code, runtime identifier,
// and OS name the sampler stamps onto its manifest event.
// Architecture follows this profiler's own small enum (0=unknown,
// 1=amd64, 2=arm, 3=arm64) rather than the original source's
// platform-specific constant, since only the converter's own code
// ever reads this field back.
func hostDescriptors() (arch int32, rid, osName string) {
	switch runtime.GOARCH {
	case "amd64":
		arch = 1
	case "arm":
		arch = 2
	case "arm64":
		arch = 3
	}
	rid = fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	osName = runtime.GOOS
	return arch, rid, osName
}

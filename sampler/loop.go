package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ultraprof/ultra/diagport"
	"github.com/ultraprof/ultra/framedelta"
	"github.com/ultraprof/ultra/internal/clock"
	"github.com/ultraprof/ultra/internal/uerrors"
)

// maxFrameWalk bounds the frame-pointer chain walk (spec §4.C step 5).
const maxFrameWalk = 4096

// clockTicksPerSecond is the conventional Linux USER_HZ; reading the
// real value requires cgo's sysconf(_SC_CLK_TCK), which this package
// avoids, so CPU-usage percentages are approximate on kernels built
// with a non-default HZ.
const clockTicksPerSecond = 100

// EventSink receives the sampler's wire-shaped events in emission
// order. The orchestrator wires this directly to a diagport.Writer for
// the sampler channel, or to a test double.
type EventSink interface {
	WriteNativeProcessStart(timeMs float64, e diagport.NativeProcessStart) error
	WriteNativeThreadStart(timeMs float64, e diagport.NativeThreadStart) error
	WriteNativeThreadStop(timeMs float64, e diagport.NativeThreadStop) error
	WriteNativeCallStack(timeMs float64, e diagport.NativeCallStack) error
}

// Sampler runs the suspend-walk-resume loop over one target process
// (spec §4.C).
type Sampler struct {
	backend      ThreadBackend
	pid          int
	tick         time.Duration
	sink         EventSink
	log          zerolog.Logger
	codec        *framedelta.Codec
	sessionStart time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	enabled bool

	cancelled atomic.Bool
	nextSamplingID atomic.Uint64

	known        map[uint64]bool
	lastCPUTicks map[uint64]uint64
}

// New constructs a Sampler targeting pid, ticking every interval.
func New(backend ThreadBackend, pid int, interval time.Duration, sink EventSink, log zerolog.Logger) *Sampler {
	s := &Sampler{
		backend:      backend,
		pid:          pid,
		tick:         interval,
		sink:         sink,
		log:          log,
		codec:        framedelta.New(),
		sessionStart: time.Now(),
		known:        make(map[uint64]bool),
		lastCPUTicks: make(map[uint64]uint64),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enable starts (or resumes) sample production. The consumer's
// self-describing manifest is sent before the first subsequent event
// (spec §4.C "enable/disable races").
func (s *Sampler) Enable(arch int32, rid, osName string) error {
	if err := s.sink.WriteNativeProcessStart(s.elapsedMs(), diagport.NativeProcessStart{
		Architecture: arch, RID: rid, OS: osName,
	}); err != nil {
		return uerrors.New(uerrors.KindIO, "Sampler.Enable", err)
	}
	s.mu.Lock()
	s.enabled = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Disable stops sample production: the thread-state map is cleared
// and all frame-delta pool slots are returned, then the loop blocks
// until Enable is called again (spec §4.C).
func (s *Sampler) Disable() {
	s.mu.Lock()
	s.enabled = false
	s.known = make(map[uint64]bool)
	s.codec.Reset()
	s.mu.Unlock()
}

// Stop sets the cancellation flag. The loop observes it between ticks
// and after every thread within a tick, bounding shutdown latency to
// one tick (spec §4.C Cancellation).
func (s *Sampler) Stop() {
	s.cancelled.Store(true)
	s.mu.Lock()
	s.enabled = true // unblock a waiting Run so it can observe cancellation
	s.cond.Broadcast()
	s.mu.Unlock()
}

// elapsedMs returns the milliseconds elapsed since this Sampler was
// constructed, used as the relative timestamp stamped on every emitted
// event.
func (s *Sampler) elapsedMs() float64 {
	return clock.MillisSince(s.sessionStart, time.Now())
}

// waitEnabled blocks until the sampler is enabled or cancelled.
func (s *Sampler) waitEnabled() (enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.enabled && !s.cancelled.Load() {
		s.cond.Wait()
	}
	return s.enabled
}

// Run drives the tick loop until Stop is called or ctx is cancelled.
// Suspend, register-read and thread-listing failures for individual
// threads are logged and skipped (spec §7 SuspendError is non-fatal).
// Run returns nil after Stop, ctx.Err() on context cancellation, and
// a KindSuspend error when resuming a suspended thread fails.
func (s *Sampler) Run(ctx context.Context) error {
	self := s.backend.SelfThreadID()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if s.cancelled.Load() {
			return nil
		}
		if !s.waitEnabled() {
			return nil
		}

		if err := s.tickOnce(self); err != nil {
			return err
		}
		s.codec.EndTick()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if s.cancelled.Load() {
			return nil
		}
	}
}

// tickOnce performs one full suspend-walk-resume pass over every peer
// thread (spec §4.C). It returns a non-nil, fatal error only when a
// resume failed (spec §7 SuspendError: "if the resume step fails, the
// profiler aborts the victim's process rather than deadlock it") —
// the caller is responsible for terminating the target process.
func (s *Sampler) tickOnce(self uint64) error {
	tids, err := s.backend.ListThreads(s.pid)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list threads this tick")
		return nil
	}

	seen := make(map[uint64]bool, len(tids))
	for _, tid := range tids {
		if tid == self {
			continue
		}
		seen[tid] = true

		if !s.known[tid] {
			s.known[tid] = true
			if err := s.sink.WriteNativeThreadStart(s.elapsedMs(), diagport.NativeThreadStart{
				SamplingID: s.nextSamplingID.Add(1), ThreadID: tid,
			}); err != nil {
				s.log.Warn().Err(err).Uint64("tid", tid).Msg("failed to emit thread start")
			}
		}

		if err := s.sampleThread(tid); err != nil {
			return err
		}

		if s.cancelled.Load() {
			return nil
		}
	}

	for tid := range s.known {
		if !seen[tid] {
			delete(s.known, tid)
			if err := s.sink.WriteNativeThreadStop(s.elapsedMs(), diagport.NativeThreadStop{
				SamplingID: s.nextSamplingID.Add(1), ThreadID: tid,
			}); err != nil {
				s.log.Warn().Err(err).Uint64("tid", tid).Msg("failed to emit thread stop")
			}
		}
	}
	return nil
}

// sampleThread implements spec §4.C steps 1-6 for one thread. The
// suspend/resume pairing invariant (spec invariant #8) holds on every
// return path: once Suspend succeeds, Resume is always attempted
// before sampleThread returns.
func (s *Sampler) sampleThread(tid uint64) error {
	idle, err := s.backend.IsIdle(tid)
	if err != nil {
		s.log.Warn().Err(err).Uint64("tid", tid).Msg("failed to check idle state")
		return nil
	}
	if idle {
		return nil
	}

	if err := s.backend.Suspend(tid); err != nil {
		s.log.Debug().Err(uerrors.New(uerrors.KindSuspend, "sampleThread", err)).Uint64("tid", tid).Msg("suspend failed, skipping this tick")
		return nil
	}

	var frames []uint64
	regs, err := s.backend.ReadRegisters(tid)
	if err == nil {
		frames = s.walkFrames(tid, regs)
	} else {
		s.log.Debug().Err(err).Uint64("tid", tid).Msg("failed to read registers")
	}

	if err := s.backend.Resume(tid); err != nil {
		// Resuming a peer we suspended must never be skipped; if it
		// fails the profiler cannot safely continue without risking
		// a deadlocked victim.
		return uerrors.New(uerrors.KindSuspend, "sampleThread.Resume", err)
	}

	if frames == nil {
		return nil
	}

	delta, ok := s.codec.Encode(tid, frames)
	if !ok {
		return nil
	}

	cpuUsage := s.cpuUsagePermil(tid)
	s.emitCallStack(tid, delta, cpuUsage)
	return nil
}

// walkFrames follows the frame-pointer chain leaf-first (spec §4.C
// step 5): emit lr, then lr = *(fp+8), fp = *fp, stopping at fp == 0
// or maxFrameWalk frames.
func (s *Sampler) walkFrames(tid uint64, regs Registers) []uint64 {
	frames := make([]uint64, 0, 64)
	fp, lr := regs.FP, regs.LR
	for i := 0; i < maxFrameWalk; i++ {
		if lr == 0 {
			break
		}
		frames = append(frames, lr)
		if fp == 0 {
			break
		}
		nextLR, err := s.backend.ReadWord(tid, fp+8)
		if err != nil {
			break
		}
		nextFP, err := s.backend.ReadWord(tid, fp)
		if err != nil {
			break
		}
		lr, fp = nextLR, nextFP
	}
	return frames
}

func (s *Sampler) cpuUsagePermil(tid uint64) int32 {
	ticksBackend, ok := s.backend.(CPUTicksBackend)
	if !ok {
		return 0
	}
	ticks, err := ticksBackend.CPUTicks(tid)
	if err != nil {
		return 0
	}
	prev, had := s.lastCPUTicks[tid]
	s.lastCPUTicks[tid] = ticks
	if !had || ticks < prev {
		return 0
	}
	deltaTicks := ticks - prev
	secondsPerTick := 1.0 / clockTicksPerSecond
	busy := float64(deltaTicks) * secondsPerTick
	usage := busy / s.tick.Seconds()
	permil := int32(usage * 1000)
	if permil < 0 {
		return 0
	}
	if permil > 1000 {
		return 1000
	}
	return permil
}

func (s *Sampler) emitCallStack(tid uint64, delta framedelta.Delta, cpuUsagePermil int32) {
	err := s.sink.WriteNativeCallStack(s.elapsedMs(), diagport.NativeCallStack{
		SamplingID:         s.nextSamplingID.Add(1),
		ThreadID:           tid,
		RunState:           1,
		CPUUsagePermil:     cpuUsagePermil,
		PreviousFrameCount: int32(delta.Same),
		Frames:             delta.New,
	})
	if err != nil {
		s.log.Warn().Err(err).Uint64("tid", tid).Msg("failed to emit call stack")
	}
}

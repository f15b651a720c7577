package assembler

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultraprof/ultra/diagport"
	"github.com/ultraprof/ultra/markers"
	"github.com/ultraprof/ultra/modules"
	"github.com/ultraprof/ultra/profile"
)

func testOptions() Options {
	return Options{Hints: modules.DefaultClassificationHints(), Log: zerolog.Nop()}
}

func nativeEv(timeMs float64, ev interface{}) NativeEvent {
	return NativeEvent{TimeMs: timeMs, Event: ev}
}

// TestConvertKernelAndNativeCategories covers scenario S4: an address
// with a 0xFF top byte is Kernel; an address outside every known
// module (no module is registered here) is Native.
func TestConvertKernelAndNativeCategories(t *testing.T) {
	meta := profile.Meta{PID: 100}
	native := []NativeEvent{
		nativeEv(0, diagport.NativeThreadStart{ThreadID: 100, Name: "main"}),
		nativeEv(1, diagport.NativeCallStack{
			ThreadID: 100, PreviousFrameCount: 0,
			Frames: []uint64{0xFF00000000001000, 0x5000},
		}),
	}

	p := Convert(meta, native, nil, testOptions())

	require.Len(t, p.Threads, 1)
	th := p.Threads[0]
	require.Equal(t, 2, th.Frames.Length)

	// Frames intern in leaf-first decode order: index 0 is the kernel
	// address, index 1 the plain native address.
	assert.Equal(t, profile.CategoryKernel, th.Frames.Category[0])
	assert.Equal(t, profile.CategoryNative, th.Frames.Category[1])
}

// TestConvertManagedGCOverride covers scenario S5: a JIT-compiled
// method whose resolved name begins with "wks::gc" (case-insensitive)
// is categorized GC, not Managed, despite the method-table hit taking
// priority over every other rule.
func TestConvertManagedGCOverride(t *testing.T) {
	meta := profile.Meta{PID: 1}
	runtime := []markers.RuntimeEvent{
		{Kind: markers.MethodJittingStarted, ThreadID: 1, TimeMs: 0, MethodID: 1, Name: "WKS::gc_heap::mark_phase"},
		{Kind: markers.MethodLoadVerbose, ThreadID: 1, TimeMs: 1, MethodID: 1, Name: "WKS::gc_heap::mark_phase",
			StartAddr: 0x9000, CodeSize: 0x100, ModuleID: 7},
	}
	native := []NativeEvent{
		nativeEv(2, diagport.NativeThreadStart{ThreadID: 1, Name: "gc"}),
		nativeEv(3, diagport.NativeCallStack{ThreadID: 1, PreviousFrameCount: 0, Frames: []uint64{0x9010}}),
	}

	p := Convert(meta, native, runtime, testOptions())

	require.Len(t, p.Threads, 1)
	th := p.Threads[0]
	require.Equal(t, 1, th.Frames.Length)
	assert.Equal(t, profile.CategoryGC, th.Frames.Category[0])
}

// TestConvertJITLoadWithNoPendingStartRegistersMethodOnly covers the
// JIT state machine's documented suppressed-marker case: a Load event
// with no prior Start still registers the method (so later stack
// frames resolve to it) but emits no marker row.
func TestConvertJITLoadWithNoPendingStartRegistersMethodOnly(t *testing.T) {
	meta := profile.Meta{PID: 1}
	runtime := []markers.RuntimeEvent{
		{Kind: markers.MethodLoadVerbose, ThreadID: 1, TimeMs: 0, MethodID: 9, Name: "Foo.Bar",
			StartAddr: 0x4000, CodeSize: 0x40, ModuleID: 3},
	}
	native := []NativeEvent{
		nativeEv(1, diagport.NativeThreadStart{ThreadID: 1, Name: "t"}),
		nativeEv(2, diagport.NativeCallStack{ThreadID: 1, PreviousFrameCount: 0, Frames: []uint64{0x4010}}),
	}

	p := Convert(meta, native, runtime, testOptions())

	th := p.Threads[0]
	assert.Equal(t, 0, th.Markers.Length)
	require.Equal(t, 1, th.Frames.Length)
	assert.Equal(t, profile.CategoryManaged, th.Frames.Category[0])
}

// TestConvertGCMarkerPairing covers scenario S3: a GCStart/GCEnd pair
// produces one Interval marker with Start/End from the two events.
func TestConvertGCMarkerPairing(t *testing.T) {
	meta := profile.Meta{PID: 1}
	runtime := []markers.RuntimeEvent{
		{Kind: markers.GCStart, ThreadID: 1, TimeMs: 10, GCReason: "induced", GCCount: 1},
		{Kind: markers.GCEnd, ThreadID: 1, TimeMs: 25},
	}

	p := Convert(meta, nil, runtime, testOptions())

	require.Len(t, p.Threads, 1)
	th := p.Threads[0]
	require.Equal(t, 1, th.Markers.Length)
	assert.Equal(t, float64(10), th.Markers.StartTimeMs[0])
	assert.Equal(t, float64(25), th.Markers.EndTimeMs[0])
	assert.Equal(t, profile.CategoryGC, th.Markers.Category[0])
	assert.Equal(t, profile.PhaseInterval, th.Markers.Phase[0])
}

// TestConvertMemoryCounterScenarioS6 mirrors
// profile_test.go::TestCounterScenarioS6's accumulation algorithm,
// exercised through the assembler instead of the Counter type
// directly.
func TestConvertMemoryCounterScenarioS6(t *testing.T) {
	meta := profile.Meta{PID: 1}
	totals := []uint64{100, 130, 125, 200}
	times := []float64{10, 20, 30, 40}
	runtime := make([]markers.RuntimeEvent, len(totals))
	for i := range totals {
		runtime[i] = markers.RuntimeEvent{
			Kind: markers.GCHeapStatsEvent, ThreadID: 1, TimeMs: times[i],
			HeapStats: markers.HeapStats{TotalHeapSize: totals[i]},
		}
	}

	p := Convert(meta, nil, runtime, testOptions())

	require.Len(t, p.Counters, 1)
	c := p.Counters[0]
	assert.Equal(t, []float64{0, 100, 30, -5, 75}, c.Count)
}

// TestConvertDuplicateThreadStartDeduplicated covers Open Question 2:
// a second NativeThreadStart for an already-known thread id is
// dropped, not merged or erroring.
func TestConvertDuplicateThreadStartDeduplicated(t *testing.T) {
	meta := profile.Meta{PID: 1}
	native := []NativeEvent{
		nativeEv(0, diagport.NativeThreadStart{ThreadID: 1, Name: "first"}),
		nativeEv(1, diagport.NativeThreadStart{ThreadID: 1, Name: "second"}),
	}

	p := Convert(meta, native, nil, testOptions())

	require.Len(t, p.Threads, 1)
	assert.Equal(t, "first", p.Threads[0].Name)
}

// TestConvertSampleTimesMonotonicAndCPUDeltaNonNegative covers
// invariant #4: out-of-order native call-stack timestamps on the same
// thread must not produce a decreasing sample time or a negative CPU
// delta.
func TestConvertSampleTimesMonotonicAndCPUDeltaNonNegative(t *testing.T) {
	meta := profile.Meta{PID: 1}
	native := []NativeEvent{
		nativeEv(0, diagport.NativeThreadStart{ThreadID: 1, Name: "t"}),
		nativeEv(20, diagport.NativeCallStack{ThreadID: 1, PreviousFrameCount: 0, Frames: []uint64{0x1000}}),
		nativeEv(5, diagport.NativeCallStack{ThreadID: 1, PreviousFrameCount: 0, Frames: []uint64{0x1000}}),
	}

	p := Convert(meta, native, nil, testOptions())

	th := p.Threads[0]
	for i := 1; i < th.Samples.Length; i++ {
		assert.GreaterOrEqual(t, th.Samples.TimeMs[i], th.Samples.TimeMs[i-1])
	}
	for _, d := range th.Samples.CPUDeltaNs {
		assert.GreaterOrEqual(t, d, int64(0))
	}
}

// TestConvertVisibleThreadSelection exercises spec §4.E visible-thread
// selection end to end: the thread with the most CPU time is always
// visible and selected even when below the configured threshold.
func TestConvertVisibleThreadSelection(t *testing.T) {
	meta := profile.Meta{PID: 1}
	native := []NativeEvent{
		nativeEv(0, diagport.NativeThreadStart{ThreadID: 1, Name: "only"}),
		nativeEv(1, diagport.NativeCallStack{ThreadID: 1, PreviousFrameCount: 0, Frames: []uint64{0x1000}}),
	}

	opt := testOptions()
	opt.MinVisibleCPUTimeNs = 1 << 62
	p := Convert(meta, native, nil, opt)

	require.Len(t, p.Threads, 1)
	assert.True(t, p.Threads[0].InitiallyVisible)
	assert.True(t, p.Threads[0].InitiallySelected)
}

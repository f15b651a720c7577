package diagport

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultraprof/ultra/markers"
)

func TestNativeChannelRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sampler.nettrace")

	w, err := CreateWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.WriteNativeProcessStart(0, NativeProcessStart{
		StartTimeUTC: 123, Architecture: 1, RID: "linux-x64", OS: "linux",
	}))
	require.NoError(t, w.WriteNativeModule(1, NativeModule{
		EventKind: ModuleLoaded, LoadAddress: 0x1000, Size: 0x2000, Path: "/bin/app",
	}))
	require.NoError(t, w.WriteNativeThreadStart(2, NativeThreadStart{SamplingID: 1, ThreadID: 7, Name: "main"}))
	require.NoError(t, w.WriteNativeCallStack(3, NativeCallStack{
		SamplingID: 1, ThreadID: 7, RunState: 1, CPUUsagePermil: 500,
		PreviousFrameCount: 0, Frames: []uint64{0x1010, 0x1020},
	}))
	require.NoError(t, w.WriteNativeThreadStop(4, NativeThreadStop{SamplingID: 2, ThreadID: 7}))
	require.NoError(t, w.Close())

	r, err := OpenNativeReader(path)
	require.NoError(t, err)
	defer r.Close()

	rec1, t1, err := r.Next()
	require.NoError(t, err)
	ps := rec1.(NativeProcessStart)
	assert.Equal(t, "linux-x64", ps.RID)
	assert.Equal(t, "linux", ps.OS)
	assert.Equal(t, float64(0), t1)

	rec2, t2, err := r.Next()
	require.NoError(t, err)
	mod := rec2.(NativeModule)
	assert.Equal(t, "/bin/app", mod.Path)
	assert.Equal(t, uint64(0x1000), mod.LoadAddress)
	assert.Equal(t, float64(1), t2)

	rec3, _, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "main", rec3.(NativeThreadStart).Name)

	rec4, _, err := r.Next()
	require.NoError(t, err)
	cs := rec4.(NativeCallStack)
	assert.Equal(t, []uint64{0x1010, 0x1020}, cs.Frames)

	rec5, _, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec5.(NativeThreadStop).ThreadID)

	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRuntimeChannelRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clr.nettrace")

	w, err := CreateWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.WriteRuntimeEvent(markers.RuntimeEvent{
		Kind: markers.MethodJittingStarted, ThreadID: 1, TimeMs: 5,
		MethodID: 42, Namespace: "Foo", Name: "Bar", ILSize: 16,
	}))
	require.NoError(t, w.WriteRuntimeEvent(markers.RuntimeEvent{
		Kind: markers.GCStart, ThreadID: 1, TimeMs: 100, GCReason: "AllocLarge", GCCount: 3,
	}))
	require.NoError(t, w.WriteRuntimeEvent(markers.RuntimeEvent{
		Kind: markers.GCHeapStatsEvent, ThreadID: 1, TimeMs: 10,
		HeapStats: markers.HeapStats{TotalHeapSize: 100},
	}))
	require.NoError(t, w.Close())

	r, err := OpenRuntimeReader(path)
	require.NoError(t, err)
	defer r.Close()

	ev1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, markers.MethodJittingStarted, ev1.Kind)
	assert.Equal(t, "Foo", ev1.Namespace)
	assert.Equal(t, uint32(16), ev1.ILSize)

	ev2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "AllocLarge", ev2.GCReason)
	assert.Equal(t, 3, ev2.GCCount)

	ev3, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), ev3.HeapStats.TotalHeapSize)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestIntermediateFileName(t *testing.T) {
	assert.Equal(t, "ultra_app_123_sampler.nettrace", IntermediateFileName("ultra_app", 123, ChannelSampler))
	assert.Equal(t, "ultra_app_123_clr.nettrace", IntermediateFileName("ultra_app", 123, ChannelRuntime))
}

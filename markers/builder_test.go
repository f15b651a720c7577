package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGCPairingScenarioS3 reproduces spec scenario S3 exactly.
func TestGCPairingScenarioS3(t *testing.T) {
	b := NewBuilder()

	c := b.Dispatch(RuntimeEvent{Kind: GCStart, ThreadID: 1, TimeMs: 100, GCReason: "AllocLarge", GCCount: 3})
	assert.Nil(t, c)

	c = b.Dispatch(RuntimeEvent{Kind: GCEnd, ThreadID: 1, TimeMs: 150})
	require.NotNil(t, c)
	assert.Equal(t, float64(100), c.Start)
	assert.Equal(t, float64(150), c.End)
	assert.Equal(t, CategoryGC, c.Category)
	assert.Equal(t, "AllocLarge", c.Payload["Reason"])
	assert.Equal(t, 3, c.Payload["Count"])
}

func TestGCEndWithEmptyStackIsIgnored(t *testing.T) {
	b := NewBuilder()
	c := b.Dispatch(RuntimeEvent{Kind: GCEnd, ThreadID: 1, TimeMs: 10})
	assert.Nil(t, c)
}

func TestGCStacksAreLIFO(t *testing.T) {
	b := NewBuilder()
	b.Dispatch(RuntimeEvent{Kind: GCStart, ThreadID: 1, TimeMs: 0, GCReason: "outer"})
	b.Dispatch(RuntimeEvent{Kind: GCStart, ThreadID: 1, TimeMs: 1, GCReason: "inner"})

	c := b.Dispatch(RuntimeEvent{Kind: GCEnd, ThreadID: 1, TimeMs: 2})
	require.NotNil(t, c)
	assert.Equal(t, "inner", c.Payload["Reason"])

	c = b.Dispatch(RuntimeEvent{Kind: GCEnd, ThreadID: 1, TimeMs: 3})
	require.NotNil(t, c)
	assert.Equal(t, "outer", c.Payload["Reason"])
}

func TestJITCompilePairing(t *testing.T) {
	b := NewBuilder()
	b.Dispatch(RuntimeEvent{
		Kind: MethodJittingStarted, ThreadID: 1, TimeMs: 5,
		MethodID: 42, Namespace: "Foo", Name: "Bar", ILSize: 16,
	})
	c := b.Dispatch(RuntimeEvent{
		Kind: MethodLoadVerbose, ThreadID: 1, TimeMs: 8,
		MethodID: 42, StartAddr: 0x1000, CodeSize: 64,
	})
	require.NotNil(t, c)
	assert.Equal(t, float64(5), c.Start)
	assert.Equal(t, float64(8), c.End)
	require.NotNil(t, c.Method)
	assert.Equal(t, uint64(42), c.Method.MethodID)
}

func TestJITLoadWithoutPendingStartStillRegistersMethod(t *testing.T) {
	b := NewBuilder()
	c := b.Dispatch(RuntimeEvent{Kind: MethodLoadVerbose, ThreadID: 1, TimeMs: 8, MethodID: 99})
	require.NotNil(t, c)
	assert.Empty(t, c.Name, "marker should be suppressed")
	require.NotNil(t, c.Method)
	assert.Equal(t, uint64(99), c.Method.MethodID)
}

func TestSuspendRestartEEPairing(t *testing.T) {
	b := NewBuilder()
	b.Dispatch(RuntimeEvent{Kind: GCSuspendEEStart, ThreadID: 2, TimeMs: 1, SuspendReason: "GC"})
	c := b.Dispatch(RuntimeEvent{Kind: GCSuspendEEStop, ThreadID: 2, TimeMs: 4})
	require.NotNil(t, c)
	assert.Equal(t, "GC", c.Payload["Reason"])

	b.Dispatch(RuntimeEvent{Kind: GCRestartEEStart, ThreadID: 2, TimeMs: 4})
	c = b.Dispatch(RuntimeEvent{Kind: GCRestartEEStop, ThreadID: 2, TimeMs: 6})
	require.NotNil(t, c)
	assert.Equal(t, PhaseInterval, c.Phase)
}

func TestHeapStatsAndAllocationTickAreInstanceMarkers(t *testing.T) {
	b := NewBuilder()
	c := b.Dispatch(RuntimeEvent{Kind: GCHeapStatsEvent, ThreadID: 1, TimeMs: 10, HeapStats: HeapStats{TotalHeapSize: 100}})
	require.NotNil(t, c)
	assert.Equal(t, PhaseInstance, c.Phase)
	assert.Equal(t, c.Start, c.End)

	c = b.Dispatch(RuntimeEvent{Kind: GCAllocationTickEvent, ThreadID: 1, TimeMs: 11, Alloc: AllocationTick{Amount: 10, Kind: AllocLarge}})
	require.NotNil(t, c)
	assert.Equal(t, "Large", c.Payload["kind"])
}

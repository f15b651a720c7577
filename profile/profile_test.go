package profile

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadInternFrameAndStack(t *testing.T) {
	th := NewThread(100, 100)
	f1 := th.InternFunc("foo", -1)
	fr1 := th.InternFrame(0x1000, 0x10, f1, CategoryNative, 0, 0)
	fr2 := th.InternFrame(0x2000, 0x20, f1, CategoryNative, 0, 0)

	// Same address interns to the same frame.
	fr1Again := th.InternFrame(0x1000, 0x10, f1, CategoryNative, 0, 0)
	assert.Equal(t, fr1, fr1Again)

	leaf := th.InternStackPath([]int{fr1, fr2}, CategoryNative, 0)
	require.GreaterOrEqual(t, leaf, 0)

	// Invariant #1: every parent index precedes its child.
	for i := 0; i < th.Stacks.Length; i++ {
		p := th.Stacks.ParentStack[i]
		assert.True(t, p == -1 || p < i)
	}
}

func TestSharedStackPrefix(t *testing.T) {
	th := NewThread(1, 1)
	f := th.InternFunc("f", -1)
	a := th.InternFrame(1, 0, f, CategoryNative, 0, 0)
	b := th.InternFrame(2, 0, f, CategoryNative, 0, 0)
	c := th.InternFrame(3, 0, f, CategoryNative, 0, 0)

	leaf1 := th.InternStackPath([]int{a, b, c}, CategoryNative, 0)
	before := th.Stacks.Length
	leaf2 := th.InternStackPath([]int{a, b, c}, CategoryNative, 0)
	assert.Equal(t, leaf1, leaf2)
	assert.Equal(t, before, th.Stacks.Length, "identical stack must not grow the table")
}

func TestSampleMonotonic(t *testing.T) {
	th := NewThread(1, 1)
	th.AddSample(-1, 10, 5)
	th.AddSample(-1, 5, 3) // out of order; must clamp, not go backward
	th.AddSample(-1, 20, -1) // negative cpu delta must clamp to zero

	for i := 1; i < th.Samples.Length; i++ {
		assert.GreaterOrEqual(t, th.Samples.TimeMs[i], th.Samples.TimeMs[i-1])
	}
	for _, d := range th.Samples.CPUDeltaNs {
		assert.GreaterOrEqual(t, d, int64(0))
	}
}

func TestMarkerStartBeforeEnd(t *testing.T) {
	th := NewThread(1, 1)
	th.AddMarker("GC", 150, 100, CategoryGC, PhaseInterval, nil)
	require.Equal(t, 1, th.Markers.Length)
	assert.LessOrEqual(t, th.Markers.StartTimeMs[0], th.Markers.EndTimeMs[0])
}

// TestCounterScenarioS6 reproduces spec scenario S6 exactly.
func TestCounterScenarioS6(t *testing.T) {
	c := &Counter{Name: "GCHeapStats", Category: "Memory"}
	totals := []float64{100, 130, 125, 200}
	times := []float64{10, 20, 30, 40}

	c.AppendSample(0, 0)
	var prev float64
	for i, total := range totals {
		c.AppendSample(times[i], total-prev)
		prev = total
	}

	require.Equal(t, []float64{0, 10, 20, 30, 40}, c.TimeMs)
	require.Equal(t, []float64{0, 100, 30, -5, 75}, c.Count)
}

func TestWireSerializationShape(t *testing.T) {
	p := New(Meta{StartTimeMs: 0, EndTimeMs: 1000, CPUCount: 4, OS: "linux", SamplingInterval: 1})
	th := NewThread(42, 42)
	th.Name = "main"
	th.IsMainThread = true
	f := th.InternFunc("foo", -1)
	fr := th.InternFrame(0x1000, 0, f, CategoryManaged, 0, 0)
	leaf := th.InternStackPath([]int{fr}, CategoryManaged, 0)
	th.AddSample(leaf, 5, 1000)
	p.AddThread(th)

	var buf bytes.Buffer
	require.NoError(t, p.WriteGzipJSON(&buf))

	gr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(gr).Decode(&decoded))

	meta := decoded["meta"].(map[string]interface{})
	assert.Equal(t, float64(SchemaVersion), meta["version"])

	threads := decoded["threads"].([]interface{})
	require.Len(t, threads, 1)
	thr := threads[0].(map[string]interface{})
	assert.Equal(t, "42", thr["pid"])
	assert.Equal(t, "42", thr["tid"])
	assert.IsType(t, "", thr["pid"])
}

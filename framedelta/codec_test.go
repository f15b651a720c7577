package framedelta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeScenarioS2 reproduces spec scenario S2 exactly.
func TestEncodeScenarioS2(t *testing.T) {
	c := New()
	const tid = 1

	A, B, Cc, D, X := uint64(0xA), uint64(0xB), uint64(0xC), uint64(0xD), uint64(0x99)

	d1, ok := c.Encode(tid, []uint64{A, B, Cc, D})
	require.True(t, ok)
	assert.Equal(t, 0, d1.Same)
	assert.Equal(t, []uint64{A, B, Cc, D}, d1.New)

	c.EndTick()
	d2, ok := c.Encode(tid, []uint64{X, B, Cc, D})
	require.True(t, ok)
	assert.Equal(t, 3, d2.Same)
	assert.Equal(t, []uint64{X}, d2.New)

	c.EndTick()
	d3, ok := c.Encode(tid, []uint64{X, B, Cc, D})
	require.True(t, ok)
	assert.Equal(t, 4, d3.Same)
	assert.Empty(t, d3.New)
}

func TestEncodeEmptyStackIsNoop(t *testing.T) {
	c := New()
	_, ok := c.Encode(1, nil)
	assert.False(t, ok)
}

func TestEncodeTruncatesToMaxFrames(t *testing.T) {
	c := New()
	frames := make([]uint64, MaxFrames+10)
	for i := range frames {
		frames[i] = uint64(i)
	}
	d, ok := c.Encode(1, frames)
	require.True(t, ok)
	assert.Equal(t, MaxFrames, len(d.New)+d.Same)
}

// TestAdmissionControlFallsBackToFullStack exhausts the pool and
// checks the next thread gets same=0 with nothing stored.
func TestAdmissionControlFallsBackToFullStack(t *testing.T) {
	c := New()
	for tid := uint64(1); tid <= PoolSlots; tid++ {
		_, ok := c.Encode(tid, []uint64{tid})
		require.True(t, ok)
	}
	d, ok := c.Encode(PoolSlots+1, []uint64{0xdead})
	require.True(t, ok)
	assert.Equal(t, 0, d.Same)
	assert.Equal(t, []uint64{0xdead}, d.New)

	_, hasSlot := c.slotOf[PoolSlots+1]
	assert.False(t, hasSlot)
}

// TestDecodeRoundTrip is a property test for the codec's round-trip
// correctness (spec invariant #6) across a sequence of stacks from a
// single thread.
func TestDecodeRoundTrip(t *testing.T) {
	c := New()
	const tid = 7
	stacks := [][]uint64{
		{1, 2, 3},
		{9, 2, 3},
		{9, 2, 3},
		{9, 8, 2, 3},
	}
	var prev []uint64
	for _, s := range stacks {
		d, ok := c.Encode(tid, s)
		require.True(t, ok)
		got := Decode(prev, d)
		assert.Equal(t, s, got)
		prev = s
		c.EndTick()
	}
}

func TestEndTickReleasesSlot(t *testing.T) {
	c := New()
	c.Encode(1, []uint64{1})
	c.EndTick()
	_, ok := c.slotOf[1]
	require.True(t, ok)

	// Thread 1 doesn't appear this tick.
	c.Encode(2, []uint64{2})
	c.EndTick()
	_, ok = c.slotOf[1]
	assert.False(t, ok, "slot for thread 1 should have been freed")
}

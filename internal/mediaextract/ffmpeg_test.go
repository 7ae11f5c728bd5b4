package mediaextract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameTimestampsRegularIntervals(t *testing.T) {
	ts := FrameTimestamps(30, 5, 20)
	assert.Equal(t, []float64{5, 10, 15, 20, 25}, ts)
}

func TestFrameTimestampsRespectsCap(t *testing.T) {
	ts := FrameTimestamps(600, 5, 20)
	require.Len(t, ts, 20)
	assert.Equal(t, 5.0, ts[0])
	assert.Equal(t, 100.0, ts[19])
}

func TestFrameTimestampsShortVideoMidpoint(t *testing.T) {
	ts := FrameTimestamps(3, 5, 20)
	require.Len(t, ts, 1)
	assert.Equal(t, 1.5, ts[0])
}

func TestFrameTimestampsDurationEqualsInterval(t *testing.T) {
	// extraction points are strictly below the duration, so an exact match
	// falls back to the single midpoint frame
	ts := FrameTimestamps(5, 5, 20)
	require.Len(t, ts, 1)
	assert.Equal(t, 2.5, ts[0])
}

func TestFrameTimestampsStrictlyIncreasing(t *testing.T) {
	ts := FrameTimestamps(122.7, 7.3, 50)
	require.NotEmpty(t, ts)
	for i := 1; i < len(ts); i++ {
		assert.Greater(t, ts[i], ts[i-1])
	}
	assert.Less(t, ts[len(ts)-1], 122.7)
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseFrameRate("25/1"))
	assert.Equal(t, 24.0, parseFrameRate("24"))
	assert.Zero(t, parseFrameRate("0/0"))
}

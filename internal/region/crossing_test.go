package region

import (
	"testing"
	"time"

	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// horizontal line from (0,100) to (200,100): below is side -1, above +1.
var testLine = geom.Line{P1: geom.Point{X: 0, Y: 100}, P2: geom.Point{X: 200, Y: 100}}

func TestCrossingEntry(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	lines := []geom.Line{testLine}

	// Below the line, then above: exactly one ENTRY.
	require.Equal(t, Event(""), d.Check(1, geom.Point{X: 50, Y: 50}, lines, now))
	got := d.Check(1, geom.Point{X: 50, Y: 150}, lines, now.Add(100*time.Millisecond))
	require.Equal(t, EventEntry, got)
}

func TestCrossingExit(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	lines := []geom.Line{testLine}

	d.Check(1, geom.Point{X: 50, Y: 150}, lines, now)
	got := d.Check(1, geom.Point{X: 50, Y: 50}, lines, now.Add(100*time.Millisecond))
	require.Equal(t, EventExit, got)
}

func TestFirstObservationNeverFires(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	// A track first seen above the line has no remembered side.
	got := d.Check(1, geom.Point{X: 50, Y: 150}, []geom.Line{testLine}, time.Unix(1000, 0))
	require.Equal(t, Event(""), got)
}

func TestDebounceSuppressesRapidRecross(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	lines := []geom.Line{testLine}

	d.Check(1, geom.Point{X: 50, Y: 50}, lines, now)
	require.Equal(t, EventEntry, d.Check(1, geom.Point{X: 50, Y: 150}, lines, now.Add(100*time.Millisecond)))

	// Bouncing straight back within 750ms is suppressed...
	require.Equal(t, Event(""), d.Check(1, geom.Point{X: 50, Y: 50}, lines, now.Add(200*time.Millisecond)))

	// ...and the suppressed candidate did not advance the timer, so the
	// next crossing after the window fires relative to the ENTRY.
	require.Equal(t, EventEntry, d.Check(1, geom.Point{X: 50, Y: 150}, lines, now.Add(900*time.Millisecond)))
}

func TestDebounceIsPerTrack(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	lines := []geom.Line{testLine}

	d.Check(1, geom.Point{X: 50, Y: 50}, lines, now)
	d.Check(2, geom.Point{X: 80, Y: 50}, lines, now)

	require.Equal(t, EventEntry, d.Check(1, geom.Point{X: 50, Y: 150}, lines, now.Add(50*time.Millisecond)))
	// Track 2 has its own timer and still fires.
	require.Equal(t, EventEntry, d.Check(2, geom.Point{X: 80, Y: 150}, lines, now.Add(60*time.Millisecond)))
}

func TestOnLineSamplePreservesSideMemory(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	lines := []geom.Line{testLine}

	d.Check(1, geom.Point{X: 50, Y: 50}, lines, now)
	// A sample exactly on the line must not erase the remembered -1.
	require.Equal(t, Event(""), d.Check(1, geom.Point{X: 50, Y: 100}, lines, now.Add(33*time.Millisecond)))
	require.Equal(t, EventEntry, d.Check(1, geom.Point{X: 50, Y: 150}, lines, now.Add(66*time.Millisecond)))
}

func TestDegenerateLineNeverFires(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	degenerate := []geom.Line{{P1: geom.Point{X: 5, Y: 5}, P2: geom.Point{X: 5, Y: 5}}}

	for i := 0; i < 10; i++ {
		p := geom.Point{X: float64(i * 10), Y: float64(100 - i*20)}
		assert.Equal(t, Event(""), d.Check(1, p, degenerate, now.Add(time.Duration(i)*time.Second)))
	}
}

func TestMultipleLinesOneEventPerFrame(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	// Two horizontal lines, both crossed in one step.
	lines := []geom.Line{
		{P1: geom.Point{X: 0, Y: 100}, P2: geom.Point{X: 200, Y: 100}},
		{P1: geom.Point{X: 0, Y: 120}, P2: geom.Point{X: 200, Y: 120}},
	}

	d.Check(1, geom.Point{X: 50, Y: 50}, lines, now)
	got := d.Check(1, geom.Point{X: 50, Y: 150}, lines, now.Add(100*time.Millisecond))
	require.Equal(t, EventEntry, got, "first line in supplied order wins")

	// Both lines' memory was still refreshed to +1: dropping back below
	// both after the debounce window yields a single EXIT.
	got = d.Check(1, geom.Point{X: 50, Y: 50}, lines, now.Add(2*time.Second))
	require.Equal(t, EventExit, got)
}

func TestDirectionFollowsPointOrder(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	// Same geometric line, opposite direction: crossing upward is EXIT.
	flipped := []geom.Line{{P1: geom.Point{X: 200, Y: 100}, P2: geom.Point{X: 0, Y: 100}}}

	d.Check(1, geom.Point{X: 50, Y: 50}, flipped, now)
	require.Equal(t, EventExit, d.Check(1, geom.Point{X: 50, Y: 150}, flipped, now.Add(time.Second)))
}

func TestPruneTracksDropsMemory(t *testing.T) {
	d := NewCrossingDetector(DefaultDebounce)
	now := time.Unix(1000, 0)
	lines := []geom.Line{testLine}

	d.Check(1, geom.Point{X: 50, Y: 50}, lines, now)
	d.PruneTracks([]int{1})

	// With memory gone, the next observation is a first observation.
	require.Equal(t, Event(""), d.Check(1, geom.Point{X: 50, Y: 150}, lines, now.Add(time.Second)))
}

package region

import (
	"time"

	"github.com/banshee-data/presence.report/internal/geom"
)

// DefaultDebounce is the minimum interval between two accepted crossing
// events for the same track, of any kind.
const DefaultDebounce = 750 * time.Millisecond

// CrossingDetector emits at most one directional event per track per
// frame when the track's reference point crosses a directed line.
//
// Per (track, line-index) it remembers the last observed nonzero side.
// A sample landing exactly on a line (side 0) preserves the remembered
// side, so a momentary on-line sample cannot erase crossing memory.
// Single-writer; the frame loop supplies one consistent "now" per frame.
type CrossingDetector struct {
	debounce time.Duration

	// sides[trackID][lineIndex] = last observed nonzero side.
	sides     map[int]map[int]int
	lastEvent map[int]time.Time
}

// NewCrossingDetector creates a detector with the given debounce
// interval; zero or negative selects DefaultDebounce.
func NewCrossingDetector(debounce time.Duration) *CrossingDetector {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &CrossingDetector{
		debounce:  debounce,
		sides:     make(map[int]map[int]int),
		lastEvent: make(map[int]time.Time),
	}
}

// SetDebounce updates the debounce interval between frames.
func (d *CrossingDetector) SetDebounce(debounce time.Duration) {
	if debounce > 0 {
		d.debounce = debounce
	}
}

// Check evaluates the track's reference point against every line, in
// supplied order, and returns at most one event for this frame. The
// first line whose candidate passes the debounce check wins; side
// memory for every line is refreshed regardless, and suppressed
// candidates do not advance the debounce timer.
func (d *CrossingDetector) Check(trackID int, p geom.Point, lines []geom.Line, now time.Time) Event {
	mem := d.sides[trackID]
	if mem == nil {
		mem = make(map[int]int, len(lines))
		d.sides[trackID] = mem
	}

	var event Event
	for i, line := range lines {
		cur := line.Side(p)

		last, seen := mem[i]
		if event == "" && seen && cur != 0 && last != 0 && cur != last {
			candidate := EventExit
			if last < cur {
				candidate = EventEntry
			}
			lastTime, fired := d.lastEvent[trackID]
			if !fired || now.Sub(lastTime) >= d.debounce {
				event = candidate
				d.lastEvent[trackID] = now
			}
		}

		// Preserve the remembered nonzero side across on-line samples.
		if cur != 0 {
			mem[i] = cur
		}
	}
	return event
}

// PruneTracks drops side and debounce memory for expired tracks.
func (d *CrossingDetector) PruneTracks(trackIDs []int) {
	for _, id := range trackIDs {
		delete(d.sides, id)
		delete(d.lastEvent, id)
	}
}

// Reset clears all side memory. The pipeline calls this when the line
// configuration changes, since side memory is keyed by line index.
func (d *CrossingDetector) Reset() {
	d.sides = make(map[int]map[int]int)
}

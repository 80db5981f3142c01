// Package region detects directed line crossings and polygonal zone
// entry/exit for tracked people. Both detectors keep per-track memory
// keyed by track ID and rely on the frame loop to prune it when the
// tracker expires a track.
package region

import (
	"fmt"

	"github.com/banshee-data/presence.report/internal/geom"
)

// Event is a directional crossing event.
type Event string

const (
	// EventEntry fires on a -1 → +1 side transition.
	EventEntry Event = "ENTRY"
	// EventExit fires on a +1 → -1 side transition.
	EventExit Event = "EXIT"
)

// ZonePointCount is the required number of polygon points per zone.
const ZonePointCount = 4

// Zone is a named 4-point polygon. Zones are supplied externally and
// may be added or removed between frames.
type Zone struct {
	Name   string       `json:"name"`
	Points []geom.Point `json:"points"`
}

// NewZone validates and builds a zone. A zone without exactly 4 points
// is a caller bug, not a runtime data condition.
func NewZone(name string, points []geom.Point) (Zone, error) {
	if name == "" {
		return Zone{}, fmt.Errorf("zone name must not be empty")
	}
	if len(points) != ZonePointCount {
		return Zone{}, fmt.Errorf("zone %q must have exactly %d points, got %d", name, ZonePointCount, len(points))
	}
	pts := make([]geom.Point, ZonePointCount)
	copy(pts, points)
	return Zone{Name: name, Points: pts}, nil
}

// Contains reports whether p lies inside the zone polygon.
func (z Zone) Contains(p geom.Point) bool {
	return geom.PointInPolygon(p, z.Points)
}

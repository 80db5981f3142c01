package region

import (
	"sort"

	"github.com/banshee-data/presence.report/internal/geom"
)

// ZonePresenceTracker diffs each track's current zone membership against
// the previous frame's, emitting zone entries and exits. Membership is
// keyed by track ID; a track that expires mid-zone simply stops
// producing diffs once its memory is pruned, and absence of memory is
// treated as an empty previous set.
type ZonePresenceTracker struct {
	membership map[int]map[string]bool
}

// NewZonePresenceTracker creates an empty presence tracker.
func NewZonePresenceTracker() *ZonePresenceTracker {
	return &ZonePresenceTracker{membership: make(map[int]map[string]bool)}
}

// Check computes the set of zones containing p, diffs it against the
// track's previous membership, and returns the zones newly entered (in
// supplied zone order) and newly exited (sorted by name — including
// zones removed from the configuration while the track was inside).
func (z *ZonePresenceTracker) Check(trackID int, p geom.Point, zones []Zone) (entered, exited []string) {
	current := make(map[string]bool, len(zones))
	previous := z.membership[trackID]

	for _, zone := range zones {
		if zone.Contains(p) {
			current[zone.Name] = true
			if !previous[zone.Name] {
				entered = append(entered, zone.Name)
			}
		}
	}
	for name := range previous {
		if !current[name] {
			exited = append(exited, name)
		}
	}
	sort.Strings(exited)

	z.membership[trackID] = current
	return entered, exited
}

// PruneTracks drops membership memory for expired tracks.
func (z *ZonePresenceTracker) PruneTracks(trackIDs []int) {
	for _, id := range trackIDs {
		delete(z.membership, id)
	}
}

// Package track implements the per-frame greedy IoU tracker. It is the
// first stage of the presence pipeline: detections in, tracks with
// stable per-run identifiers out. The tracker is single-writer — only
// the pipeline worker calls Update — so it carries no locking.
package track

import (
	"errors"
	"sort"

	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/vision"
)

// ErrCountMismatch reports a caller bug: the embeddings slice must be
// parallel to the detections slice.
var ErrCountMismatch = errors.New("track: detection and embedding counts differ")

// Track is the per-frame output for one tracked person. Tracks are
// rebuilt every frame and discarded after the frame is processed; only
// the TrackID persists, via the tracker's internal table.
type Track struct {
	TrackID    int       `json:"track_id"`
	Box        geom.Box  `json:"box"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"-"`

	// Filled downstream by the pipeline.
	GlobalID   int    `json:"global_person_id"`
	SessionID  string `json:"session_id,omitempty"`
	CrossEvent string `json:"cross_event,omitempty"`
}

// FrameShape is the pixel dimensions of the processed frames.
type FrameShape struct {
	W, H int
}

// clamp restricts b to the frame. A zero-valued shape (unknown frame
// size) leaves boxes untouched.
func (s FrameShape) clamp(b geom.Box) geom.Box {
	if s.W <= 0 || s.H <= 0 {
		return b
	}
	if b.X1 < 0 {
		b.X1 = 0
	}
	if b.Y1 < 0 {
		b.Y1 = 0
	}
	if b.X2 > float64(s.W) {
		b.X2 = float64(s.W)
	}
	if b.Y2 > float64(s.H) {
		b.Y2 = float64(s.H)
	}
	return b
}

// internalTrack is the cross-frame state for one live track.
type internalTrack struct {
	id         int
	box        geom.Box
	age        int
	sinceMatch int
}

// FrameTracker matches detections to live tracks greedily by IoU.
// Track IDs are sequential, start at 1 and are never reused within a run.
type FrameTracker struct {
	matchThreshold float64
	maxAge         int

	nextID  int
	tracks  map[int]*internalTrack
	removed []int
}

// NewFrameTracker creates a tracker with the given IoU match threshold
// and maximum coasting age in frames.
func NewFrameTracker(matchThreshold float64, maxAge int) *FrameTracker {
	return &FrameTracker{
		matchThreshold: matchThreshold,
		maxAge:         maxAge,
		nextID:         1,
		tracks:         make(map[int]*internalTrack),
	}
}

// SetParams updates the matching parameters. Takes effect on the next
// Update call; safe because the tracker is only touched by the worker.
func (t *FrameTracker) SetParams(matchThreshold float64, maxAge int) {
	t.matchThreshold = matchThreshold
	t.maxAge = maxAge
}

// LiveCount returns the number of currently live tracks.
func (t *FrameTracker) LiveCount() int { return len(t.tracks) }

// RemovedLastUpdate returns the IDs of tracks pruned by the most recent
// Update call. The pipeline uses this to drop per-track side and zone
// memory so those tables cannot grow without bound.
func (t *FrameTracker) RemovedLastUpdate() []int { return t.removed }

type iouPair struct {
	trackID int
	detIdx  int
	iou     float64
}

// Update advances the tracker by one frame.
//
// Every live track ages by one frame. All (track, detection) pairs are
// scored by IoU and accepted greedily in descending order, subject to
// the match threshold and one-to-one matching. Equal scores break to the
// lowest track ID, then the lowest detection index, so results do not
// depend on map iteration order. Unmatched detections spawn new tracks;
// tracks unmatched for more than maxAge frames are pruned. Each
// surviving track borrows the embedding and confidence of its best-IoU
// detection this frame, or the zero-length sentinel when nothing
// overlaps it.
func (t *FrameTracker) Update(dets []vision.Detection, embeds [][]float32, shape FrameShape) ([]Track, error) {
	if embeds != nil && len(embeds) != len(dets) {
		return nil, ErrCountMismatch
	}
	t.removed = t.removed[:0]

	// Age every live track.
	for _, tr := range t.tracks {
		tr.age++
		tr.sinceMatch++
	}

	// Score all pairs, best first. Ties break deterministically.
	pairs := make([]iouPair, 0, len(t.tracks)*len(dets))
	for id, tr := range t.tracks {
		for di, d := range dets {
			if iou := geom.IoU(tr.box, d.Box); iou > 0 {
				pairs = append(pairs, iouPair{trackID: id, detIdx: di, iou: iou})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].iou != pairs[j].iou {
			return pairs[i].iou > pairs[j].iou
		}
		if pairs[i].trackID != pairs[j].trackID {
			return pairs[i].trackID < pairs[j].trackID
		}
		return pairs[i].detIdx < pairs[j].detIdx
	})

	matched := make(map[int]bool, len(t.tracks))
	claimed := make([]bool, len(dets))
	for _, p := range pairs {
		if p.iou < t.matchThreshold {
			break
		}
		if matched[p.trackID] || claimed[p.detIdx] {
			continue
		}
		tr := t.tracks[p.trackID]
		tr.box = shape.clamp(dets[p.detIdx].Box)
		tr.sinceMatch = 0
		matched[p.trackID] = true
		claimed[p.detIdx] = true
	}

	// Unmatched detections spawn new tracks.
	for di, used := range claimed {
		if used {
			continue
		}
		id := t.nextID
		t.nextID++
		t.tracks[id] = &internalTrack{id: id, box: shape.clamp(dets[di].Box), age: 1}
	}

	// Prune tracks that have coasted past maxAge.
	for id, tr := range t.tracks {
		if tr.sinceMatch > t.maxAge {
			delete(t.tracks, id)
			t.removed = append(t.removed, id)
		}
	}
	sort.Ints(t.removed)

	// Build the frame's output in ascending track-ID order.
	ids := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]Track, 0, len(ids))
	for _, id := range ids {
		tr := t.tracks[id]
		out = append(out, t.buildOutput(tr, dets, embeds))
	}
	return out, nil
}

// buildOutput attaches the best-overlapping detection's embedding and
// confidence to a surviving track. Ties keep the first-encountered
// detection. With no overlap at all the track gets the zero-length
// embedding sentinel and confidence 1.0 — guaranteed never to match any
// gallery entry downstream.
func (t *FrameTracker) buildOutput(tr *internalTrack, dets []vision.Detection, embeds [][]float32) Track {
	bestIdx := -1
	bestIoU := 0.0
	for di, d := range dets {
		if iou := geom.IoU(tr.box, d.Box); iou > bestIoU {
			bestIoU = iou
			bestIdx = di
		}
	}

	out := Track{TrackID: tr.id, Box: tr.box, Confidence: 1.0}
	if bestIdx >= 0 {
		out.Confidence = dets[bestIdx].Confidence
		if embeds != nil {
			out.Embedding = embeds[bestIdx]
		}
	}
	if out.Embedding == nil {
		out.Embedding = []float32{}
	}
	return out
}

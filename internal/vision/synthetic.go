package vision

import (
	"image"
	"image/color"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/geom"
)

// ScriptedActor is one synthetic person moving through a scripted
// sequence of positions, one per frame. The actor is absent from frames
// past the end of its path, which is how tests script a person leaving
// the field of view.
type ScriptedActor struct {
	// Positions holds the actor's box centroid for each frame index.
	Positions []geom.Point
	// BoxW, BoxH are the actor's bounding box dimensions in pixels.
	BoxW, BoxH float64
	// Embedding is the actor's appearance vector. Use UnitEmbedding to
	// build distinct, reproducible identities.
	Embedding []float32
	// Confidence reported for the actor's detections. Zero means 0.9.
	Confidence float64
	// FirstFrame delays the actor's appearance; frame index i shows the
	// actor at Positions[i-FirstFrame].
	FirstFrame int
}

func (a *ScriptedActor) boxAt(frameIdx int) (geom.Box, bool) {
	i := frameIdx - a.FirstFrame
	if i < 0 || i >= len(a.Positions) {
		return geom.Box{}, false
	}
	c := a.Positions[i]
	return geom.Box{
		X1: c.X - a.BoxW/2,
		Y1: c.Y - a.BoxH/2,
		X2: c.X + a.BoxW/2,
		Y2: c.Y + a.BoxH/2,
	}, true
}

// Scenario is a synthetic frame source, detector and embedder in one:
// it plays scripted actors over a flat background for a fixed number of
// frames. It backs the demo mode and the pipeline tests, standing in for
// the camera and the inference sidecar.
type Scenario struct {
	W, H   int
	Frames int
	Actors []*ScriptedActor
	// FrameDelay, when non-zero, makes Read sleep between frames so demo
	// runs play back at a watchable rate.
	FrameDelay time.Duration

	mu  sync.Mutex
	idx int
}

// Read returns the next synthetic frame, or io.EOF once the scenario has
// played out.
func (s *Scenario) Read() (*Frame, error) {
	s.mu.Lock()
	if s.idx >= s.Frames {
		s.mu.Unlock()
		return nil, io.EOF
	}
	idx := s.idx
	s.idx++
	s.mu.Unlock()

	if s.FrameDelay > 0 && idx > 0 {
		time.Sleep(s.FrameDelay)
	}

	img := image.NewRGBA(image.Rect(0, 0, s.W, s.H))
	bg := color.RGBA{R: 24, G: 24, B: 24, A: 255}
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			img.SetRGBA(x, y, bg)
		}
	}

	return &Frame{Seq: uint64(idx), Time: time.Now(), Image: img}, nil
}

// Close implements FrameSource.
func (s *Scenario) Close() error { return nil }

// Detect returns the scripted actor boxes for the frame's index.
func (s *Scenario) Detect(frame *Frame, confThreshold float64) ([]Detection, error) {
	if frame == nil {
		return nil, nil
	}
	var dets []Detection
	for _, a := range s.Actors {
		box, ok := a.boxAt(int(frame.Seq))
		if !ok {
			continue
		}
		conf := a.Confidence
		if conf == 0 {
			conf = 0.9
		}
		if conf < confThreshold {
			continue
		}
		dets = append(dets, Detection{Box: box, Confidence: conf})
	}
	return dets, nil
}

// Embed returns the embedding of the actor whose scripted box best
// overlaps the requested crop, or the zero vector when no actor matches.
func (s *Scenario) Embed(frame *Frame, box geom.Box) []float32 {
	if frame == nil {
		return ZeroEmbedding()
	}
	var best *ScriptedActor
	bestIoU := 0.0
	for _, a := range s.Actors {
		abox, ok := a.boxAt(int(frame.Seq))
		if !ok {
			continue
		}
		if iou := geom.IoU(abox, box); iou > bestIoU {
			bestIoU = iou
			best = a
		}
	}
	if best == nil {
		return ZeroEmbedding()
	}
	out := make([]float32, len(best.Embedding))
	copy(out, best.Embedding)
	return out
}

// UnitEmbedding builds a reproducible L2-normalised embedding from a
// seed. Distinct seeds give vectors whose pairwise cosine similarity is
// far below any sensible matching threshold.
func UnitEmbedding(seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float32, EmbeddingDim)
	var norm float64
	for i := range v {
		v[i] = float32(rng.NormFloat64())
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// WalkPath builds a straight-line path of n per-frame positions from
// start to end, inclusive.
func WalkPath(start, end geom.Point, n int) []geom.Point {
	if n <= 1 {
		return []geom.Point{start}
	}
	pts := make([]geom.Point, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		pts[i] = geom.Point{
			X: start.X + (end.X-start.X)*t,
			Y: start.Y + (end.Y-start.Y)*t,
		}
	}
	return pts
}

var (
	_ FrameSource = (*Scenario)(nil)
	_ Detector    = (*Scenario)(nil)
	_ Embedder    = (*Scenario)(nil)
)

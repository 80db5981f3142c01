// Package vision defines the boundary to the non-core collaborators of
// the presence pipeline: the frame source, the person detector and the
// appearance embedder. The core never performs inference itself; it
// consumes these interfaces and stays testable with the synthetic
// implementations in this package.
package vision

import (
	"image"
	"time"

	"github.com/banshee-data/presence.report/internal/geom"
)

// EmbeddingDim is the fixed length of appearance embeddings produced by
// the re-identification model. The zero-length slice is reserved as the
// "no embedding" sentinel attached to coasting tracks; it never matches
// any gallery entry.
const EmbeddingDim = 256

// Frame is a single decoded video frame.
type Frame struct {
	Seq   uint64
	Time  time.Time
	Image image.Image
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Detection is one person detection in a frame. Immutable once produced;
// the tracker never mutates detections, only borrows from them.
type Detection struct {
	Box        geom.Box `json:"box"`
	Confidence float64  `json:"confidence"`
}

// FrameSource yields sequential video frames. Read blocks until the next
// frame is available and returns io.EOF when the source ends. Blocking in
// Read is the pipeline's natural backpressure mechanism.
type FrameSource interface {
	Read() (*Frame, error)
	Close() error
}

// Detector produces person detections for a frame, already filtered to
// the person class and to confidences >= the given threshold.
type Detector interface {
	Detect(frame *Frame, confThreshold float64) ([]Detection, error)
}

// Embedder produces a fixed-length appearance vector for the crop of
// frame bounded by box. Implementations must return the zero vector for
// an empty or invalid crop rather than failing; a zero vector simply
// never matches any identity downstream.
type Embedder interface {
	Embed(frame *Frame, box geom.Box) []float32
}

// ZeroEmbedding returns a fresh all-zero embedding of the standard
// dimension.
func ZeroEmbedding() []float32 {
	return make([]float32, EmbeddingDim)
}

// Package overlay draws tracking annotations onto frames and encodes
// them as JPEG for the MJPEG stream and frame snapshot endpoints.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/region"
	"github.com/banshee-data/presence.report/internal/track"
	"github.com/banshee-data/presence.report/internal/vision"
)

var (
	trackColor = color.RGBA{R: 64, G: 220, B: 64, A: 255}
	lineColor  = color.RGBA{R: 230, G: 64, B: 64, A: 255}
	zoneColor  = color.RGBA{R: 64, G: 128, B: 230, A: 255}
	textColor  = color.RGBA{R: 240, G: 240, B: 240, A: 255}
)

// Renderer annotates frames with track boxes, crossing lines and zone
// outlines. Safe for reuse; it keeps no per-frame state.
type Renderer struct {
	quality int
}

// NewRenderer creates a renderer encoding JPEG at the given quality
// (1-100); out-of-range values fall back to the jpeg package default.
func NewRenderer(quality int) *Renderer {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Renderer{quality: quality}
}

// Render draws the annotations over a copy of the frame and returns the
// JPEG bytes.
func (r *Renderer) Render(frame *vision.Frame, tracks []track.Track, lines []geom.Line, zones []region.Zone) ([]byte, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("overlay: nil frame")
	}

	bounds := frame.Image.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, frame.Image, bounds.Min, draw.Src)

	for _, l := range lines {
		drawLine(canvas, int(l.P1.X), int(l.P1.Y), int(l.P2.X), int(l.P2.Y), lineColor)
	}

	for _, z := range zones {
		pts := z.Points
		for i := range pts {
			a, b := pts[i], pts[(i+1)%len(pts)]
			drawLine(canvas, int(a.X), int(a.Y), int(b.X), int(b.Y), zoneColor)
		}
		if len(pts) > 0 {
			drawLabel(canvas, int(pts[0].X)+3, int(pts[0].Y)+14, z.Name)
		}
	}

	for _, tr := range tracks {
		drawRect(canvas, tr.Box, trackColor)
		label := fmt.Sprintf("T%d P%d", tr.TrackID, tr.GlobalID)
		if tr.SessionID != "" {
			label += " " + tr.SessionID
		}
		drawLabel(canvas, int(tr.Box.X1), int(tr.Box.Y1)-3, label)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("overlay: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRect(img *image.RGBA, b geom.Box, c color.RGBA) {
	x1, y1, x2, y2 := int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)
	drawLine(img, x1, y1, x2, y1, c)
	drawLine(img, x2, y1, x2, y2, c)
	drawLine(img, x2, y2, x1, y2, c)
	drawLine(img, x1, y2, x1, y1, c)
}

// drawLine is Bresenham's algorithm clipped to the image bounds.
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := -abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy

	bounds := img.Bounds()
	for {
		if image.Pt(x1, y1).In(bounds) {
			img.SetRGBA(x1, y1, c)
		}
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x1 += sx
		}
		if e2 <= dx {
			err += dx
			y1 += sy
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

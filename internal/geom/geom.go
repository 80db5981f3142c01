// Package geom provides the 2D primitives shared by the tracking,
// crossing and zone packages: pixel-space boxes, directed lines and
// 4-point polygons. All functions are total — degenerate inputs yield
// neutral results (IoU 0, side 0, not-inside) rather than errors, so
// the frame loop never has to guard geometry calls.
package geom

import "math"

// SideEpsilon is the cross-product magnitude below which a point is
// treated as lying exactly on a line. It only absorbs floating-point
// noise around an exact hit; any real offset from the line, however
// small in pixels, still reads as a side.
const SideEpsilon = 1e-9

// Point is a 2D point in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned bounding box with X2 > X1 and Y2 > Y1 for any
// non-degenerate detection. Degenerate boxes are tolerated and simply
// never overlap anything.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the box area, clamping inverted extents to zero.
func (b Box) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Centroid returns the box centre, the reference point used for line
// crossing and zone membership checks.
func (b Box) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// IoU returns the intersection-over-union of two boxes in [0, 1].
// Disjoint or degenerate boxes score 0; IoU(a, a) is 1 for any
// non-degenerate a.
func IoU(a, b Box) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Line is a directed two-point segment. The point order defines which
// side of the line counts as "entry" (+1) versus "exit" (-1).
type Line struct {
	P1 Point `json:"p1"`
	P2 Point `json:"p2"`
}

// Side reports which side of the directed line p lies on: +1, -1, or 0
// when p is on the line (within SideEpsilon). A zero-length line has no
// sides, so every point reports 0 and can never produce a crossing.
func (l Line) Side(p Point) int {
	cross := (l.P2.X-l.P1.X)*(p.Y-l.P1.Y) - (l.P2.Y-l.P1.Y)*(p.X-l.P1.X)
	if math.Abs(cross) < SideEpsilon {
		return 0
	}
	if cross > 0 {
		return 1
	}
	return -1
}

// PointInPolygon reports whether p is inside the polygon using the
// standard ray-casting edge-parity test. Points exactly on an edge may
// report either way; the zone tracker debounces via set diffing so a
// single boundary sample cannot produce an enter/exit pair.
func PointInPolygon(p Point, poly []Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			x := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Package detect fits quadrilaterals to labeled regions and identifies them
// as pictorial or matrix markers.
package detect

import (
	"math"

	"markertracker/labeling"
)

// Quad is a candidate marker outline: four corners in clockwise image order.
type Quad struct {
	Corners [4]labeling.Point
	Area    float64
}

// edge-deviation tolerance as a fraction of the contour perimeter
const quadEpsilonRatio = 0.02

// longest/shortest edge ratio beyond which a quad is implausibly skewed
const maxEdgeRatio = 10.0

// FitQuad attempts to resolve a region contour to exactly four corners. The
// two farthest-apart contour points seed the diagonal; each arc between them
// contributes its maximum-deviation point. Every edge must then hug the
// contour within tolerance.
func FitQuad(contour []labeling.Point, regionArea int) (Quad, bool) {
	n := len(contour)
	if n < 8 {
		return Quad{}, false
	}

	perimeter := 0.0
	for i := 0; i < n; i++ {
		perimeter += dist(contour[i], contour[(i+1)%n])
	}
	eps := math.Max(2.0, quadEpsilonRatio*perimeter)

	// diagonal seed
	i0 := farthestFrom(contour, 0)
	i1 := farthestFrom(contour, i0)

	// one corner per arc
	i2, d2 := maxDeviation(contour, i0, i1)
	i3, d3 := maxDeviation(contour, i1, i0)
	if d2 < eps || d3 < eps {
		// contour is a line or lens shape, not a quadrilateral
		return Quad{}, false
	}

	idx := [4]int{i0, i2, i1, i3}
	sortRing(&idx, n)

	// each edge must stay within tolerance of its chord
	for k := 0; k < 4; k++ {
		if _, d := maxDeviation(contour, idx[k], idx[(k+1)%4]); d > eps {
			return Quad{}, false
		}
	}

	var q Quad
	for k := 0; k < 4; k++ {
		q.Corners[k] = contour[idx[k]]
	}
	if !q.normalize() {
		return Quad{}, false
	}

	// plausibility: the quad should cover most of the labeled region and
	// not be degenerately thin
	if q.Area < float64(regionArea)*0.5 || q.Area < minRegionQuadArea {
		return Quad{}, false
	}
	shortest, longest := q.edgeExtremes()
	if shortest < 4 || longest/shortest > maxEdgeRatio {
		return Quad{}, false
	}
	return q, true
}

const minRegionQuadArea = 16.0

func dist(a, b labeling.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func farthestFrom(contour []labeling.Point, from int) int {
	best, bestD := from, -1.0
	for i := range contour {
		if d := dist(contour[from], contour[i]); d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

// maxDeviation walks the contour arc from a to b (wrapping) and returns the
// index and distance of the point farthest from the chord a-b.
func maxDeviation(contour []labeling.Point, a, b int) (int, float64) {
	n := len(contour)
	pa, pb := contour[a], contour[b]
	dx, dy := pb.X-pa.X, pb.Y-pa.Y
	norm := math.Hypot(dx, dy)
	if norm == 0 {
		return a, 0
	}
	best, bestD := a, 0.0
	for i := (a + 1) % n; i != b; i = (i + 1) % n {
		p := contour[i]
		d := math.Abs((p.X-pa.X)*dy-(p.Y-pa.Y)*dx) / norm
		if d > bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

// sortRing orders four contour indices by ring position.
func sortRing(idx *[4]int, n int) {
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 4; j++ {
			if idx[j] < idx[i] {
				idx[i], idx[j] = idx[j], idx[i]
			}
		}
	}
	_ = n
}

// normalize enforces clockwise winding (in image coordinates, +Y down),
// rotates the top-left-most corner to index 0, and computes the area.
// Returns false for non-convex quads.
func (q *Quad) normalize() bool {
	signed := 0.0
	for i := 0; i < 4; i++ {
		a, b := q.Corners[i], q.Corners[(i+1)%4]
		signed += a.X*b.Y - b.X*a.Y
	}
	if signed < 0 {
		q.Corners[1], q.Corners[3] = q.Corners[3], q.Corners[1]
		signed = -signed
	}
	q.Area = signed / 2

	// convexity: consecutive edge cross products keep one sign
	for i := 0; i < 4; i++ {
		a := q.Corners[i]
		b := q.Corners[(i+1)%4]
		c := q.Corners[(i+2)%4]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross <= 0 {
			return false
		}
	}

	start := 0
	bestScore := math.Inf(1)
	for i, c := range q.Corners {
		if s := c.X + c.Y; s < bestScore {
			bestScore = s
			start = i
		}
	}
	if start != 0 {
		var rot [4]labeling.Point
		for i := 0; i < 4; i++ {
			rot[i] = q.Corners[(start+i)%4]
		}
		q.Corners = rot
	}
	return true
}

func (q *Quad) edgeExtremes() (shortest, longest float64) {
	shortest = math.Inf(1)
	for i := 0; i < 4; i++ {
		d := dist(q.Corners[i], q.Corners[(i+1)%4])
		if d < shortest {
			shortest = d
		}
		if d > longest {
			longest = d
		}
	}
	return shortest, longest
}

// RotateCorners shifts corner order so that pattern rotation r (quarter turns
// counted clockwise in pattern space) maps back to the canonical orientation.
func (q Quad) RotateCorners(r int) Quad {
	if r == 0 {
		return q
	}
	var out Quad
	out.Area = q.Area
	for i := 0; i < 4; i++ {
		out.Corners[i] = q.Corners[(i+r)%4]
	}
	return out
}

// RefineCorners sharpens the four corners to subpixel precision by fitting a
// least-squares line to the contour run along each edge and intersecting
// adjacent lines. Falls back to the coarse corners when an edge is too short
// or the intersection is ill-conditioned.
func RefineCorners(q Quad, contour []labeling.Point) Quad {
	n := len(contour)
	// locate the contour indices closest to each coarse corner
	var cidx [4]int
	for k := 0; k < 4; k++ {
		best, bestD := 0, math.Inf(1)
		for i, p := range contour {
			if d := dist(p, q.Corners[k]); d < bestD {
				best, bestD = i, d
			}
		}
		cidx[k] = best
	}

	type line struct {
		// ax + by = c with a²+b² = 1
		a, b, c float64
		ok      bool
	}
	var lines [4]line
	for k := 0; k < 4; k++ {
		a, b := cidx[k], cidx[(k+1)%4]
		span := (b - a + n) % n
		if span < 8 {
			return q
		}
		// skip a margin near each corner where the contour bends
		margin := span / 6
		if margin < 1 {
			margin = 1
		}
		var sx, sy, sxx, syy, sxy float64
		m := 0
		for i := (a + margin) % n; i != (b-margin+n)%n; i = (i + 1) % n {
			p := contour[i]
			sx += p.X
			sy += p.Y
			sxx += p.X * p.X
			syy += p.Y * p.Y
			sxy += p.X * p.Y
			m++
		}
		if m < 4 {
			return q
		}
		fm := float64(m)
		mx, my := sx/fm, sy/fm
		cxx := sxx/fm - mx*mx
		cyy := syy/fm - my*my
		cxy := sxy/fm - mx*my
		// direction = dominant eigenvector of the 2x2 covariance
		theta := 0.5 * math.Atan2(2*cxy, cxx-cyy)
		dx, dy := math.Cos(theta), math.Sin(theta)
		// normal form
		lines[k] = line{a: -dy, b: dx, c: -dy*mx + dx*my, ok: true}
	}

	var out Quad
	out.Area = q.Area
	for k := 0; k < 4; k++ {
		l1 := lines[(k+3)%4] // edge ending at corner k
		l2 := lines[k]       // edge starting at corner k
		det := l1.a*l2.b - l2.a*l1.b
		if !l1.ok || !l2.ok || math.Abs(det) < 1e-9 {
			return q
		}
		x := (l1.c*l2.b - l2.c*l1.b) / det
		y := (l1.a*l2.c - l2.a*l1.c) / det
		// a wildly displaced intersection means the line fits were bad
		if dist(labeling.Point{X: x, Y: y}, q.Corners[k]) > 6 {
			return q
		}
		out.Corners[k] = labeling.Point{X: x, Y: y}
	}
	return out
}

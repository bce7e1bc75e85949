package detect

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"markertracker/labeling"
)

// Homography is a row-major 3x3 projective transform, h22 fixed to 1.
type Homography [9]float64

// ErrDegenerateHomography flags a near-singular correspondence, e.g. three
// collinear corners.
var ErrDegenerateHomography = errors.New("degenerate point correspondence")

// ComputeHomography solves the 8-DOF projective mapping taking each src point
// to its dst counterpart, via QR on the stacked linear system.
func ComputeHomography(src, dst [4]labeling.Point) (Homography, error) {
	var h Homography
	aData := make([]float64, 8*8)
	bData := make([]float64, 8)
	for i := 0; i < 4; i++ {
		sx, sy := src[i].X, src[i].Y
		dx, dy := dst[i].X, dst[i].Y
		row := aData[i*2*8:]
		row[0], row[1], row[2] = sx, sy, 1
		row[6], row[7] = -sx*dx, -sy*dx
		row = aData[(i*2+1)*8:]
		row[3], row[4], row[5] = sx, sy, 1
		row[6], row[7] = -sx*dy, -sy*dy
		bData[i*2] = dx
		bData[i*2+1] = dy
	}

	aMat := mat.NewDense(8, 8, aData)
	bMat := mat.NewDense(8, 1, bData)

	var qr mat.QR
	qr.Factorize(aMat)

	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, bMat); err != nil {
		return h, ErrDegenerateHomography
	}
	for i := 0; i < 8; i++ {
		v := sol.At(i, 0)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return h, ErrDegenerateHomography
		}
		h[i] = v
	}
	h[8] = 1

	// sanity: the solved transform must reproduce the correspondence
	for i := 0; i < 4; i++ {
		x, y, ok := h.Apply(src[i].X, src[i].Y)
		if !ok || math.Hypot(x-dst[i].X, y-dst[i].Y) > 0.5 {
			return h, ErrDegenerateHomography
		}
	}
	return h, nil
}

// Apply maps a source point through the homography. ok is false when the
// point lands on the plane at infinity.
func (h Homography) Apply(x, y float64) (float64, float64, bool) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < 1e-12 {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, true
}

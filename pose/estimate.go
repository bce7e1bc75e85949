package pose

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"markertracker/camera"
	"markertracker/detect"
	"markertracker/labeling"
)

// ErrDegenerate marks a correspondence too ill-conditioned to yield a usable
// pose. Callers report the marker as not visible instead of propagating a
// garbage transform.
var ErrDegenerate = errors.New("degenerate pose correspondence")

// ratio between the two rotation-column norms beyond which the homography is
// considered collapsed
const maxColumnRatio = 10.0

// MarkerCorners are the marker-space corner positions for a marker of the
// given physical width, clockwise from top-left, Z = 0, matching the image
// corner order the detector produces.
func MarkerCorners(width float64) [4]r3.Vector {
	s := width / 2
	return [4]r3.Vector{
		{X: -s, Y: -s, Z: 0},
		{X: s, Y: -s, Z: 0},
		{X: s, Y: s, Z: 0},
		{X: -s, Y: s, Z: 0},
	}
}

// EstimateFromQuad recovers the camera-space transform of a marker from its
// four undistorted image corners, known physical width, and the camera
// intrinsics. The homography between marker plane and image is decomposed
// against K, re-orthonormalized by SVD, and refined by minimizing
// reprojection error.
func EstimateFromQuad(corners [4]labeling.Point, width float64, cam *camera.Parameters) (Transform, error) {
	if width <= 0 {
		return Transform{}, fmt.Errorf("marker width %g must be positive", width)
	}
	obj := MarkerCorners(width)
	var src [4]labeling.Point
	for i, o := range obj {
		src[i] = labeling.Point{X: o.X, Y: o.Y}
	}
	h, err := detect.ComputeHomography(src, corners)
	if err != nil {
		return Transform{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}

	fx, fy := cam.K[0], cam.K[4]
	cx, cy := cam.K[2], cam.K[5]

	// K^-1 * H columns
	col := func(j int) r3.Vector {
		return r3.Vector{
			X: (h[j] - cx*h[6+j]) / fx,
			Y: (h[3+j] - cy*h[6+j]) / fy,
			Z: h[6+j],
		}
	}
	c1, c2, c3 := col(0), col(1), col(2)

	n1, n2 := c1.Norm(), c2.Norm()
	if n1 < 1e-12 || n2 < 1e-12 || n1/n2 > maxColumnRatio || n2/n1 > maxColumnRatio {
		return Transform{}, ErrDegenerate
	}
	lambda := 2 / (n1 + n2)

	r1 := c1.Mul(lambda)
	r2 := c2.Mul(lambda)
	t := c3.Mul(lambda)

	// the marker must sit in front of the camera
	if t.Z < 0 {
		r1 = r1.Mul(-1)
		r2 = r2.Mul(-1)
		t = t.Mul(-1)
	}

	r3c := r1.Cross(r2)
	if r3c.Norm() < 1e-6 {
		return Transform{}, ErrDegenerate
	}

	rough := [9]float64{
		r1.X, r2.X, r3c.X,
		r1.Y, r2.Y, r3c.Y,
		r1.Z, r2.Z, r3c.Z,
	}
	R, err := orthonormalize(rough)
	if err != nil {
		return Transform{}, err
	}

	tr := Transform{R: R, T: t}
	tr = refine(tr, obj, corners, cam)

	if err := checkRotation(tr.R); err != nil {
		return Transform{}, err
	}
	if tr.T.Z <= 0 {
		return Transform{}, ErrDegenerate
	}
	return tr, nil
}

// orthonormalize projects an approximate rotation onto SO(3): R = U Vᵀ from
// the SVD, with the last column sign-flipped when the determinant lands at -1.
func orthonormalize(rough [9]float64) ([9]float64, error) {
	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, rough[:]), mat.SVDFull) {
		return rough, ErrDegenerate
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// flip the weakest direction
		var d mat.Dense
		d.CloneFrom(&u)
		for i := 0; i < 3; i++ {
			d.Set(i, 2, -d.At(i, 2))
		}
		r.Mul(&d, v.T())
	}

	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = r.At(i, j)
		}
	}
	return out, nil
}

// checkRotation verifies the rotation block is orthonormal with determinant
// +1 within tolerance.
func checkRotation(r [9]float64) error {
	const tol = 1e-4
	for i := 0; i < 3; i++ {
		n := math.Hypot(math.Hypot(r[i], r[3+i]), r[6+i])
		if math.Abs(n-1) > tol {
			return ErrDegenerate
		}
		for j := i + 1; j < 3; j++ {
			dot := r[i]*r[j] + r[3+i]*r[3+j] + r[6+i]*r[6+j]
			if math.Abs(dot) > tol {
				return ErrDegenerate
			}
		}
	}
	det := r[0]*(r[4]*r[8]-r[5]*r[7]) -
		r[1]*(r[3]*r[8]-r[5]*r[6]) +
		r[2]*(r[3]*r[7]-r[4]*r[6])
	if math.Abs(det-1) > 10*tol {
		return ErrDegenerate
	}
	return nil
}

// ReprojectionError is the RMS pixel distance between the projected object
// corners and the observed image corners under the given transform.
func ReprojectionError(tr Transform, obj [4]r3.Vector, img [4]labeling.Point, cam *camera.Parameters) float64 {
	sum := 0.0
	for i, o := range obj {
		p := tr.Apply(o)
		if p.Z <= 1e-9 {
			return math.Inf(1)
		}
		u := cam.K[0]*p.X/p.Z + cam.K[2]
		v := cam.K[4]*p.Y/p.Z + cam.K[5]
		du, dv := u-img[i].X, v-img[i].Y
		sum += du*du + dv*dv
	}
	return math.Sqrt(sum / 4)
}

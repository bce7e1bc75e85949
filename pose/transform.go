// Package pose recovers the camera-space placement of detected markers from
// their corner correspondence and combines member poses of multi-marker
// configurations.
package pose

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// Transform is a rigid transform: row-major 3x3 rotation plus translation.
type Transform struct {
	R [9]float64
	T r3.Vector
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{R: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// Matrix34 flattens to the row-major 3x4 layout callers consume.
func (t Transform) Matrix34() [12]float64 {
	return [12]float64{
		t.R[0], t.R[1], t.R[2], t.T.X,
		t.R[3], t.R[4], t.R[5], t.T.Y,
		t.R[6], t.R[7], t.R[8], t.T.Z,
	}
}

// FromMatrix34 unpacks a row-major 3x4 matrix.
func FromMatrix34(m [12]float64) Transform {
	return Transform{
		R: [9]float64{m[0], m[1], m[2], m[4], m[5], m[6], m[8], m[9], m[10]},
		T: r3.Vector{X: m[3], Y: m[7], Z: m[11]},
	}
}

// Apply maps a point through the transform.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t.R[0]*p.X + t.R[1]*p.Y + t.R[2]*p.Z + t.T.X,
		Y: t.R[3]*p.X + t.R[4]*p.Y + t.R[5]*p.Z + t.T.Y,
		Z: t.R[6]*p.X + t.R[7]*p.Y + t.R[8]*p.Z + t.T.Z,
	}
}

// Compose returns a∘b: apply b first, then a.
func Compose(a, b Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s := 0.0
			for k := 0; k < 3; k++ {
				s += a.R[i*3+k] * b.R[k*3+j]
			}
			out.R[i*3+j] = s
		}
	}
	out.T = a.Apply(b.T)
	return out
}

// Invert returns the inverse rigid transform.
func Invert(t Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i*3+j] = t.R[j*3+i]
		}
	}
	p := r3.Vector{
		X: out.R[0]*t.T.X + out.R[1]*t.T.Y + out.R[2]*t.T.Z,
		Y: out.R[3]*t.T.X + out.R[4]*t.T.Y + out.R[5]*t.T.Z,
		Z: out.R[6]*t.T.X + out.R[7]*t.T.Y + out.R[8]*t.T.Z,
	}
	out.T = r3.Vector{X: -p.X, Y: -p.Y, Z: -p.Z}
	return out
}

// Quaternion converts the rotation block to a unit quaternion (Shepperd's
// method, numerically stable for all rotation classes).
func (t Transform) Quaternion() spatialmath.Quaternion {
	r := t.R
	trace := r[0] + r[4] + r[8]
	var w, x, y, z float64
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		w = s / 4
		x = (r[7] - r[5]) / s
		y = (r[2] - r[6]) / s
		z = (r[3] - r[1]) / s
	case r[0] > r[4] && r[0] > r[8]:
		s := math.Sqrt(1+r[0]-r[4]-r[8]) * 2
		w = (r[7] - r[5]) / s
		x = s / 4
		y = (r[1] + r[3]) / s
		z = (r[2] + r[6]) / s
	case r[4] > r[8]:
		s := math.Sqrt(1+r[4]-r[0]-r[8]) * 2
		w = (r[2] - r[6]) / s
		x = (r[1] + r[3]) / s
		y = s / 4
		z = (r[5] + r[7]) / s
	default:
		s := math.Sqrt(1+r[8]-r[0]-r[4]) * 2
		w = (r[3] - r[1]) / s
		x = (r[2] + r[6]) / s
		y = (r[5] + r[7]) / s
		z = s / 4
	}
	return spatialmath.Quaternion{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// FromQuaternion builds a transform from a unit quaternion and translation.
func FromQuaternion(q spatialmath.Quaternion, t r3.Vector) Transform {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	n := math.Sqrt(w*w + x*x + y*y + z*z)
	if n > 0 {
		w, x, y, z = w/n, x/n, y/n, z/n
	}
	return Transform{
		R: [9]float64{
			1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
			2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
			2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
		},
		T: t,
	}
}

// AsPose converts to an rdk spatialmath pose for reporting through the
// service layer.
func (t Transform) AsPose() spatialmath.Pose {
	q := t.Quaternion()
	return spatialmath.NewPose(t.T, &q)
}

package pose

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// MemberObservation is one visible member of a multi-marker configuration:
// its camera-space pose this frame, its fixed offset from the composite
// origin, and the detection confidence used as averaging weight.
type MemberObservation struct {
	Pose       Transform
	Offset     Transform
	Confidence float64
}

// DefaultMemberFloor is the confidence below which a member is excluded from
// the composite average.
const DefaultMemberFloor = 0.5

// ErrNoVisibleMembers means no member cleared the confidence floor.
var ErrNoVisibleMembers = errors.New("no members above confidence floor")

// CombineMembers folds visible member poses into a single composite pose.
// Each member contributes the candidate composite pose memberPose∘offset⁻¹;
// translations are confidence-weighted means and rotations are combined by
// confidence-weighted quaternion averaging, since element-wise averaging of
// rotation matrices does not stay on SO(3).
func CombineMembers(members []MemberObservation, floor float64) (Transform, error) {
	if floor <= 0 {
		floor = DefaultMemberFloor
	}

	var first *spatialmath.Quaternion
	var sumW float64
	var sumT r3.Vector
	var qw, qx, qy, qz float64

	for _, m := range members {
		if m.Confidence < floor {
			continue
		}
		cand := Compose(m.Pose, Invert(m.Offset))
		w := m.Confidence
		sumT = sumT.Add(cand.T.Mul(w))

		q := cand.Quaternion()
		if first == nil {
			first = &q
		} else if q.Real*first.Real+q.Imag*first.Imag+q.Jmag*first.Jmag+q.Kmag*first.Kmag < 0 {
			// antipodal representation of the same rotation
			q = spatialmath.Quaternion{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
		}
		qw += w * q.Real
		qx += w * q.Imag
		qy += w * q.Jmag
		qz += w * q.Kmag
		sumW += w
	}

	if sumW <= 0 {
		return Transform{}, ErrNoVisibleMembers
	}

	n := math.Sqrt(qw*qw + qx*qx + qy*qy + qz*qz)
	if n < 1e-9 {
		// members disagree so badly the mean collapses
		return Transform{}, ErrNoVisibleMembers
	}
	avg := FromQuaternion(
		spatialmath.Quaternion{Real: qw / n, Imag: qx / n, Jmag: qy / n, Kmag: qz / n},
		sumT.Mul(1/sumW))
	return avg, nil
}

package pose

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"

	"markertracker/camera"
	"markertracker/labeling"
)

func testCamera() *camera.Parameters {
	return &camera.Parameters{
		Width:  640,
		Height: 480,
		K: [9]float64{
			600, 0, 320,
			0, 600, 240,
			0, 0, 1,
		},
	}
}

// rotationXYZ builds a row-major rotation from intrinsic X, Y, Z Euler angles
// in radians.
func rotationXYZ(ax, ay, az float64) [9]float64 {
	sa, ca := math.Sin(ax), math.Cos(ax)
	sb, cb := math.Sin(ay), math.Cos(ay)
	sc, cc := math.Sin(az), math.Cos(az)
	rx := [9]float64{1, 0, 0, 0, ca, -sa, 0, sa, ca}
	ry := [9]float64{cb, 0, sb, 0, 1, 0, -sb, 0, cb}
	rz := [9]float64{cc, -sc, 0, sc, cc, 0, 0, 0, 1}
	return matMul(matMul(rz, ry), rx)
}

func matMul(a, b [9]float64) [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i*3+j] += a[i*3+k] * b[k*3+j]
			}
		}
	}
	return out
}

// projectCorners images the marker corners under a ground-truth transform.
func projectCorners(tr Transform, width float64, cam *camera.Parameters) [4]labeling.Point {
	var out [4]labeling.Point
	for i, o := range MarkerCorners(width) {
		p := tr.Apply(o)
		out[i] = labeling.Point{
			X: cam.K[0]*p.X/p.Z + cam.K[2],
			Y: cam.K[4]*p.Y/p.Z + cam.K[5],
		}
	}
	return out
}

func TestEstimateFromQuadRecoversPose(t *testing.T) {
	cam := testCamera()
	cases := []Transform{
		{R: rotationXYZ(0, 0, 0), T: r3.Vector{X: 0, Y: 0, Z: 500}},
		{R: rotationXYZ(0.3, -0.2, 0.1), T: r3.Vector{X: 40, Y: -25, Z: 700}},
		{R: rotationXYZ(-0.4, 0.35, -0.6), T: r3.Vector{X: -80, Y: 60, Z: 1200}},
	}
	for i, want := range cases {
		img := projectCorners(want, 80, cam)
		got, err := EstimateFromQuad(img, 80, cam)
		if err != nil {
			t.Fatalf("case %d: EstimateFromQuad failed: %v", i, err)
		}

		if got.T.Sub(want.T).Norm() > want.T.Z*0.01 {
			t.Errorf("case %d: translation %v, want %v", i, got.T, want.T)
		}
		for j := range want.R {
			if math.Abs(got.R[j]-want.R[j]) > 0.02 {
				t.Errorf("case %d: R[%d] = %.4f, want %.4f", i, j, got.R[j], want.R[j])
				break
			}
		}

		rms := ReprojectionError(got, MarkerCorners(80), img, cam)
		if rms > 0.5 {
			t.Errorf("case %d: reprojection error %.3fpx", i, rms)
		}
	}
}

func TestEstimateFromQuadRejectsDegenerate(t *testing.T) {
	cam := testCamera()

	colinear := [4]labeling.Point{
		{X: 100, Y: 100}, {X: 150, Y: 100}, {X: 200, Y: 100}, {X: 250, Y: 100},
	}
	if _, err := EstimateFromQuad(colinear, 80, cam); !errors.Is(err, ErrDegenerate) {
		t.Errorf("colinear corners: got %v, want ErrDegenerate", err)
	}

	good := projectCorners(Transform{R: rotationXYZ(0, 0, 0), T: r3.Vector{Z: 500}}, 80, cam)
	if _, err := EstimateFromQuad(good, 0, cam); err == nil {
		t.Errorf("expected error for zero marker width")
	}
	if _, err := EstimateFromQuad(good, -10, cam); err == nil {
		t.Errorf("expected error for negative marker width")
	}
}

func TestEstimateRotationIsOrthonormal(t *testing.T) {
	cam := testCamera()
	want := Transform{R: rotationXYZ(0.5, -0.3, 0.8), T: r3.Vector{X: 10, Y: 20, Z: 900}}
	got, err := EstimateFromQuad(projectCorners(want, 120, cam), 120, cam)
	if err != nil {
		t.Fatalf("EstimateFromQuad failed: %v", err)
	}

	r := got.R
	for i := 0; i < 3; i++ {
		n := math.Sqrt(r[i*3]*r[i*3] + r[i*3+1]*r[i*3+1] + r[i*3+2]*r[i*3+2])
		if math.Abs(n-1) > 1e-6 {
			t.Errorf("row %d norm: got %f", i, n)
		}
	}
	det := r[0]*(r[4]*r[8]-r[5]*r[7]) - r[1]*(r[3]*r[8]-r[5]*r[6]) + r[2]*(r[3]*r[7]-r[4]*r[6])
	if math.Abs(det-1) > 1e-6 {
		t.Errorf("determinant: got %f, want 1", det)
	}
}

func TestTransformRoundTrips(t *testing.T) {
	tr := Transform{R: rotationXYZ(0.2, 0.4, -0.3), T: r3.Vector{X: 5, Y: -7, Z: 300}}

	inv := Invert(tr)
	id := Compose(tr, inv)
	want := Identity()
	for i := range want.R {
		if math.Abs(id.R[i]-want.R[i]) > 1e-9 {
			t.Errorf("compose with inverse: R[%d] = %f", i, id.R[i])
		}
	}
	if id.T.Norm() > 1e-9 {
		t.Errorf("compose with inverse: T = %v", id.T)
	}

	q := tr.Quaternion()
	back := FromQuaternion(q, tr.T)
	for i := range tr.R {
		if math.Abs(back.R[i]-tr.R[i]) > 1e-9 {
			t.Errorf("quaternion round trip: R[%d] = %f, want %f", i, back.R[i], tr.R[i])
		}
	}

	m := tr.Matrix34()
	back = FromMatrix34(m)
	if back != tr {
		t.Errorf("matrix34 round trip: got %+v, want %+v", back, tr)
	}
}

func TestCombineMembers(t *testing.T) {
	base := Transform{R: rotationXYZ(0.1, -0.2, 0.3), T: r3.Vector{X: 30, Y: -10, Z: 800}}
	offA := Identity()
	offA.T = r3.Vector{X: -50}
	offB := Identity()
	offB.T = r3.Vector{X: 50}

	members := []MemberObservation{
		{Pose: Compose(base, offA), Offset: offA, Confidence: 0.9},
		{Pose: Compose(base, offB), Offset: offB, Confidence: 0.8},
	}
	got, err := CombineMembers(members, 0.5)
	if err != nil {
		t.Fatalf("CombineMembers failed: %v", err)
	}
	if got.T.Sub(base.T).Norm() > 1e-6 {
		t.Errorf("translation: got %v, want %v", got.T, base.T)
	}
	for i := range base.R {
		if math.Abs(got.R[i]-base.R[i]) > 1e-6 {
			t.Errorf("R[%d]: got %f, want %f", i, got.R[i], base.R[i])
		}
	}
}

func TestCombineMembersHonorsFloor(t *testing.T) {
	good := Transform{T: r3.Vector{Z: 500}, R: Identity().R}
	junk := Transform{T: r3.Vector{X: 9999, Z: 100}, R: Identity().R}

	members := []MemberObservation{
		{Pose: good, Offset: Identity(), Confidence: 0.9},
		{Pose: junk, Offset: Identity(), Confidence: 0.2},
	}
	got, err := CombineMembers(members, 0.5)
	if err != nil {
		t.Fatalf("CombineMembers failed: %v", err)
	}
	if got.T.Sub(good.T).Norm() > 1e-9 {
		t.Errorf("low-confidence member leaked into the composite: %v", got.T)
	}

	if _, err := CombineMembers(nil, 0.5); !errors.Is(err, ErrNoVisibleMembers) {
		t.Errorf("empty members: got %v, want ErrNoVisibleMembers", err)
	}
	if _, err := CombineMembers(members[1:], 0.5); !errors.Is(err, ErrNoVisibleMembers) {
		t.Errorf("all below floor: got %v, want ErrNoVisibleMembers", err)
	}
}

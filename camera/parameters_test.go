package camera

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func testParameters() *Parameters {
	return &Parameters{
		Width:  640,
		Height: 480,
		K: [9]float64{
			600, 0, 320,
			0, 600, 240,
			0, 0, 1,
		},
		Dist: [4]float64{0.08, -0.02, 0.001, -0.0005},
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	want := testParameters()
	data := EncodeCalibration(want)

	got, err := ParseCalibration(data)
	if err != nil {
		t.Fatalf("ParseCalibration failed: %v", err)
	}
	if got.Width != want.Width || got.Height != want.Height {
		t.Errorf("resolution: got %dx%d, want %dx%d", got.Width, got.Height, want.Width, want.Height)
	}
	if got.K != want.K {
		t.Errorf("intrinsics: got %v, want %v", got.K, want.K)
	}
	if got.Dist != want.Dist {
		t.Errorf("distortion: got %v, want %v", got.Dist, want.Dist)
	}
}

func TestParseCalibrationRejectsMalformed(t *testing.T) {
	good := EncodeCalibration(testParameters())

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "JUNK")

	truncated := good[:len(good)-8]

	badVersion := append([]byte(nil), good...)
	badVersion[7] = 99

	negativeFocal := testParameters()
	negativeFocal.K[0] = -600

	skewed := testParameters()
	skewed.K[1] = 0.5

	cases := map[string][]byte{
		"bad magic":      badMagic,
		"truncated":      truncated,
		"empty":          nil,
		"bad version":    badVersion,
		"negative focal": EncodeCalibration(negativeFocal),
		"skewed":         EncodeCalibration(skewed),
	}
	for name, data := range cases {
		if _, err := ParseCalibration(data); !errors.Is(err, ErrBadCalibration) {
			t.Errorf("%s: got %v, want ErrBadCalibration", name, err)
		}
	}
}

func TestScaled(t *testing.T) {
	p := testParameters()
	s := p.Scaled(1280, 960)

	if s.K[0] != 1200 || s.K[4] != 1200 {
		t.Errorf("scaled focal: got fx=%f fy=%f, want 1200", s.K[0], s.K[4])
	}
	if s.K[2] != 640 || s.K[5] != 480 {
		t.Errorf("scaled center: got cx=%f cy=%f, want 640, 480", s.K[2], s.K[5])
	}
	if s.Dist != p.Dist {
		t.Errorf("distortion should carry over unchanged")
	}
	if p.Scaled(640, 480) != p {
		t.Errorf("scaling to the reference resolution should return the same parameters")
	}
}

func TestProjectCenter(t *testing.T) {
	p := testParameters()
	// a point on the optical axis lands on the principal point regardless
	// of distortion
	u, v := p.Project(r3.Vector{X: 0, Y: 0, Z: 1000})
	if math.Abs(u-320) > 1e-9 || math.Abs(v-240) > 1e-9 {
		t.Errorf("got (%f, %f), want principal point (320, 240)", u, v)
	}
}

func TestDistortUndistortRoundTrip(t *testing.T) {
	p := testParameters()
	pts := [][2]float64{{320, 240}, {100, 80}, {600, 420}, {10, 470}}
	for _, pt := range pts {
		du, dv := p.Distort(pt[0], pt[1])
		u, v := p.Undistort(du, dv)
		if math.Abs(u-pt[0]) > 1e-3 || math.Abs(v-pt[1]) > 1e-3 {
			t.Errorf("round trip of (%f, %f): got (%f, %f)", pt[0], pt[1], u, v)
		}
	}
}

func TestProjectionMatrix(t *testing.T) {
	p := testParameters()
	m, err := p.ProjectionMatrix(10, 10000)
	if err != nil {
		t.Fatalf("ProjectionMatrix failed: %v", err)
	}
	if math.Abs(m[0]-2*600/640.0) > 1e-12 {
		t.Errorf("m[0]: got %f, want %f", m[0], 2*600/640.0)
	}
	if m[14] != 1 {
		t.Errorf("m[14]: got %f, want 1", m[14])
	}

	if _, err := p.ProjectionMatrix(0, 100); err == nil {
		t.Errorf("expected error for near plane at 0")
	}
	if _, err := p.ProjectionMatrix(100, 50); err == nil {
		t.Errorf("expected error for far plane before near plane")
	}
}

// Package camera holds the intrinsic camera model shared read-only by the
// labeling, detection and pose stages.
package camera

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Calibration file layout (big-endian): magic "CAMP", uint32 version,
// int32 width, int32 height, 9 float64 intrinsics row-major, 4 float64
// distortion coefficients (k1, k2, p1, p2).
var calibrationMagic = []byte("CAMP")

const calibrationVersion = 1

// calibration payload after the magic: version + dims + 9 + 4 doubles
const calibrationSize = 4 + 4 + 4 + 4 + 9*8 + 4*8

var ErrBadCalibration = errors.New("unrecognized camera calibration data")

// Parameters are the intrinsics of a calibrated camera. Immutable after
// parsing; Scaled returns an adjusted copy rather than mutating.
type Parameters struct {
	Width  int
	Height int

	// Intrinsic matrix, row-major:
	//   fx  0  cx
	//    0 fy  cy
	//    0  0   1
	K [9]float64

	// Radial (k1, k2) and tangential (p1, p2) distortion.
	Dist [4]float64
}

// ParseCalibration decodes the binary calibration format. Malformed data is
// fatal to the engine start sequence, so errors here are never soft.
func ParseCalibration(data []byte) (*Parameters, error) {
	if len(data) != calibrationSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrBadCalibration, len(data), calibrationSize)
	}
	if !bytes.Equal(data[:4], calibrationMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadCalibration)
	}
	r := bytes.NewReader(data[4:])

	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCalibration, err)
	}
	if version != calibrationVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadCalibration, version)
	}

	var w, h int32
	if err := binary.Read(r, binary.BigEndian, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCalibration, err)
	}
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCalibration, err)
	}
	p := &Parameters{Width: int(w), Height: int(h)}
	if err := binary.Read(r, binary.BigEndian, &p.K); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCalibration, err)
	}
	if err := binary.Read(r, binary.BigEndian, &p.Dist); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCalibration, err)
	}

	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: reference resolution %dx%d", ErrBadCalibration, p.Width, p.Height)
	}
	if p.K[0] <= 0 || p.K[4] <= 0 {
		return nil, fmt.Errorf("%w: non-positive focal length", ErrBadCalibration)
	}
	if p.K[1] != 0 || p.K[3] != 0 || p.K[6] != 0 || p.K[7] != 0 || p.K[8] != 1 {
		return nil, fmt.Errorf("%w: intrinsic matrix not upper-triangular", ErrBadCalibration)
	}
	for i, d := range p.Dist {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, fmt.Errorf("%w: distortion coefficient %d is not finite", ErrBadCalibration, i)
		}
	}
	return p, nil
}

// EncodeCalibration is the inverse of ParseCalibration, for calibration
// tooling and tests.
func EncodeCalibration(p *Parameters) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, calibrationSize))
	buf.Write(calibrationMagic)
	binary.Write(buf, binary.BigEndian, uint32(calibrationVersion))
	binary.Write(buf, binary.BigEndian, int32(p.Width))
	binary.Write(buf, binary.BigEndian, int32(p.Height))
	binary.Write(buf, binary.BigEndian, p.K)
	binary.Write(buf, binary.BigEndian, p.Dist)
	return buf.Bytes()
}

// Scaled adapts the intrinsics to a frame size other than the reference
// resolution the camera was calibrated at. Distortion coefficients operate on
// normalized coordinates and carry over unchanged.
func (p *Parameters) Scaled(width, height int) *Parameters {
	if width == p.Width && height == p.Height {
		return p
	}
	sx := float64(width) / float64(p.Width)
	sy := float64(height) / float64(p.Height)
	out := *p
	out.Width = width
	out.Height = height
	out.K[0] *= sx
	out.K[2] *= sx
	out.K[4] *= sy
	out.K[5] *= sy
	return &out
}

// Project maps a camera-space point onto the image plane, applying the
// distortion model. The point must be in front of the camera (Z > 0).
func (p *Parameters) Project(pt r3.Vector) (float64, float64) {
	x := pt.X / pt.Z
	y := pt.Y / pt.Z
	xd, yd := p.distortNormalized(x, y)
	return p.K[0]*xd + p.K[2], p.K[4]*yd + p.K[5]
}

// Distort maps an ideal pixel coordinate to its observed (distorted) position.
func (p *Parameters) Distort(u, v float64) (float64, float64) {
	x := (u - p.K[2]) / p.K[0]
	y := (v - p.K[5]) / p.K[4]
	xd, yd := p.distortNormalized(x, y)
	return p.K[0]*xd + p.K[2], p.K[4]*yd + p.K[5]
}

// Undistort maps an observed pixel coordinate back to the ideal pinhole
// position by fixed-point iteration on the distortion model.
func (p *Parameters) Undistort(u, v float64) (float64, float64) {
	xd := (u - p.K[2]) / p.K[0]
	yd := (v - p.K[5]) / p.K[4]
	x, y := xd, yd
	for i := 0; i < 8; i++ {
		dx, dy := p.distortionDelta(x, y)
		x = xd - dx
		y = yd - dy
	}
	return p.K[0]*x + p.K[2], p.K[4]*y + p.K[5]
}

func (p *Parameters) distortNormalized(x, y float64) (float64, float64) {
	dx, dy := p.distortionDelta(x, y)
	return x + dx, y + dy
}

// distortionDelta returns the displacement the lens adds to an ideal
// normalized coordinate.
func (p *Parameters) distortionDelta(x, y float64) (float64, float64) {
	k1, k2, p1, p2 := p.Dist[0], p.Dist[1], p.Dist[2], p.Dist[3]
	r2 := x*x + y*y
	radial := k1*r2 + k2*r2*r2
	dx := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	dy := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return dx, dy
}

// ProjectionMatrix builds a row-major 4x4 perspective matrix from the
// intrinsics, suitable for a right-handed camera frame with +Z forward and
// the given clip planes.
func (p *Parameters) ProjectionMatrix(near, far float64) ([16]float64, error) {
	var m [16]float64
	if near <= 0 || far <= near {
		return m, fmt.Errorf("invalid clip planes near=%g far=%g", near, far)
	}
	w := float64(p.Width)
	h := float64(p.Height)
	fx, fy := p.K[0], p.K[4]
	cx, cy := p.K[2], p.K[5]

	m[0] = 2 * fx / w
	m[2] = 2*cx/w - 1
	m[5] = 2 * fy / h
	m[6] = 2*cy/h - 1
	m[10] = (far + near) / (far - near)
	m[11] = -2 * far * near / (far - near)
	m[14] = 1
	return m, nil
}

// Package labeling binarizes a luminance plane and extracts connected
// components with their bounding contours, the raw material the square
// detector works from.
package labeling

import (
	"errors"
	"fmt"
	"image"
)

// Polarity selects which side of the threshold counts as marker foreground.
type Polarity int

const (
	// LabelBlack treats dark regions as foreground (black markers on a
	// light background, the common case).
	LabelBlack Polarity = iota
	// LabelWhite treats bright regions as foreground.
	LabelWhite
)

func (p Polarity) String() string {
	if p == LabelWhite {
		return "white"
	}
	return "black"
}

// ParsePolarity is the inverse of String.
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "black":
		return LabelBlack, nil
	case "white":
		return LabelWhite, nil
	}
	return 0, errors.New("unknown labeling polarity: " + s)
}

// ProcMode selects full- or half-resolution processing.
type ProcMode int

const (
	ProcFullRes ProcMode = iota
	// ProcHalfRes samples every second row and column, trading accuracy
	// for throughput. Reported geometry is scaled back to full resolution.
	ProcHalfRes
)

func (m ProcMode) String() string {
	if m == ProcHalfRes {
		return "half"
	}
	return "full"
}

// ParseProcMode is the inverse of String.
func ParseProcMode(s string) (ProcMode, error) {
	switch s {
	case "full":
		return ProcFullRes, nil
	case "half":
		return ProcHalfRes, nil
	}
	return 0, errors.New("unknown image processing mode: " + s)
}

// Point is a subpixel image coordinate.
type Point struct {
	X, Y float64
}

// Region is one labeled connected component.
type Region struct {
	Label   int32
	Area    int
	Bounds  image.Rectangle
	Contour []Point // outer boundary, clockwise
}

// Regions smaller than this (in working-resolution pixels) are noise.
const minRegionArea = 25

// Contours longer than this blow the per-stage work budget and get dropped.
const maxContourLen = 1 << 14

// Labeler owns the reusable binarization and label buffers. Not safe for
// concurrent use; the engine serializes cycles.
type Labeler struct {
	mode     ThresholdMode
	manual   int
	polarity Polarity
	procMode ProcMode

	bracketIdx int
	lastThresh int

	work     []uint8 // working luminance (half-res copy when active)
	bin      []uint8
	labels   []int32
	integral []uint64
	stack    []int
}

// New returns a labeler with the default configuration: manual threshold 100,
// black foreground, full resolution.
func New() *Labeler {
	return &Labeler{mode: ThresholdManual, manual: 100, lastThresh: 100}
}

func (l *Labeler) Mode() ThresholdMode { return l.mode }

func (l *Labeler) SetMode(m ThresholdMode) {
	l.mode = m
	l.bracketIdx = 0
}

// SetThreshold fixes the manual threshold value.
func (l *Labeler) SetThreshold(v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("threshold %d outside [0,255]", v)
	}
	l.manual = v
	return nil
}

// Threshold reports the scalar threshold used by the last Process call. It is
// undefined in adaptive mode, where the threshold varies per pixel.
func (l *Labeler) Threshold() (int, error) {
	if l.mode == ThresholdAdaptive {
		return 0, ErrSpatialThreshold
	}
	return l.lastThresh, nil
}

func (l *Labeler) Polarity() Polarity     { return l.polarity }
func (l *Labeler) SetPolarity(p Polarity) { l.polarity = p }

func (l *Labeler) ProcMode() ProcMode     { return l.procMode }
func (l *Labeler) SetProcMode(m ProcMode) { l.procMode = m }

// AdvanceBracket rotates to the next candidate threshold. The engine calls
// this when a bracketing-mode cycle labels fewer regions than expected.
func (l *Labeler) AdvanceBracket() {
	l.bracketIdx = (l.bracketIdx + 1) % len(bracketCandidates)
}

// Process binarizes the luminance plane and labels connected foreground
// components. The returned regions alias the labeler's internal buffers only
// by value; contours are freshly allocated.
func (l *Labeler) Process(luma []uint8, width, height int) ([]Region, error) {
	if len(luma) != width*height {
		return nil, fmt.Errorf("luminance buffer is %d bytes, want %d", len(luma), width*height)
	}

	w, h := width, height
	scale := 1.0
	work := luma
	if l.procMode == ProcHalfRes {
		w, h = width/2, height/2
		scale = 2.0
		if cap(l.work) < w*h {
			l.work = make([]uint8, w*h)
		}
		work = l.work[:w*h]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				work[y*w+x] = luma[(y*2)*width+x*2]
			}
		}
	}
	if w < 4 || h < 4 {
		return nil, fmt.Errorf("image %dx%d too small to label", width, height)
	}

	if cap(l.bin) < w*h {
		l.bin = make([]uint8, w*h)
	}
	l.bin = l.bin[:w*h]

	dark := l.polarity == LabelBlack
	switch l.mode {
	case ThresholdAdaptive:
		l.binarizeAdaptive(work, w, h, dark)
	default:
		t := l.scalarThreshold(work)
		l.lastThresh = t
		l.binarizeFixed(work, t, dark)
	}

	return l.label(w, h, scale)
}

func (l *Labeler) scalarThreshold(work []uint8) int {
	switch l.mode {
	case ThresholdMedian:
		return medianThreshold(work)
	case ThresholdOtsu:
		return otsuThreshold(work)
	case ThresholdBracketing:
		return bracketCandidates[l.bracketIdx]
	default:
		return l.manual
	}
}

func (l *Labeler) binarizeFixed(work []uint8, t int, dark bool) {
	for i, v := range work {
		fg := int(v) <= t
		if !dark {
			fg = int(v) > t
		}
		if fg {
			l.bin[i] = 1
		} else {
			l.bin[i] = 0
		}
	}
}

// label runs 8-connected flood fill over the binary buffer and traces the
// outer contour of every surviving region.
func (l *Labeler) label(w, h int, scale float64) ([]Region, error) {
	if cap(l.labels) < w*h {
		l.labels = make([]int32, w*h)
	}
	lab := l.labels[:w*h]
	for i := range lab {
		lab[i] = 0
	}

	var regions []Region
	next := int32(0)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if l.bin[idx] == 0 || lab[idx] != 0 {
				continue
			}
			next++
			reg := l.fill(lab, w, h, x, y, next)
			// Regions touching the frame border cannot be complete
			// markers; drop them along with noise specks.
			if reg.Area < minRegionArea ||
				reg.Bounds.Min.X == 0 || reg.Bounds.Min.Y == 0 ||
				reg.Bounds.Max.X == w || reg.Bounds.Max.Y == h {
				continue
			}
			contour := l.traceContour(lab, w, h, reg)
			if contour == nil {
				continue
			}
			if scale != 1.0 {
				for i := range contour {
					contour[i].X *= scale
					contour[i].Y *= scale
				}
				reg.Bounds.Min.X *= 2
				reg.Bounds.Min.Y *= 2
				reg.Bounds.Max.X *= 2
				reg.Bounds.Max.Y *= 2
				reg.Area *= 4
			}
			reg.Contour = contour
			regions = append(regions, reg)
		}
	}
	return regions, nil
}

var fillOffsets = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

func (l *Labeler) fill(lab []int32, w, h, sx, sy int, id int32) Region {
	reg := Region{
		Label:  id,
		Bounds: image.Rect(sx, sy, sx+1, sy+1),
	}
	l.stack = l.stack[:0]
	l.stack = append(l.stack, sy*w+sx)
	lab[sy*w+sx] = id
	for len(l.stack) > 0 {
		idx := l.stack[len(l.stack)-1]
		l.stack = l.stack[:len(l.stack)-1]
		reg.Area++
		x, y := idx%w, idx/w
		if x < reg.Bounds.Min.X {
			reg.Bounds.Min.X = x
		}
		if y < reg.Bounds.Min.Y {
			reg.Bounds.Min.Y = y
		}
		if x+1 > reg.Bounds.Max.X {
			reg.Bounds.Max.X = x + 1
		}
		if y+1 > reg.Bounds.Max.Y {
			reg.Bounds.Max.Y = y + 1
		}
		for _, off := range fillOffsets {
			nx, ny := x+off[0], y+off[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			nidx := ny*w + nx
			if l.bin[nidx] == 1 && lab[nidx] == 0 {
				lab[nidx] = id
				l.stack = append(l.stack, nidx)
			}
		}
	}
	return reg
}

// Clockwise Moore neighborhood: W, NW, N, NE, E, SE, S, SW.
var mooreOffsets = [8][2]int{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

// traceContour walks the outer boundary of a region clockwise using Moore
// neighbor tracing, starting at its topmost-leftmost pixel. Returns nil when
// the boundary exceeds the work budget.
func (l *Labeler) traceContour(lab []int32, w, h int, reg Region) []Point {
	// topmost-leftmost pixel of this region
	sx, sy := -1, -1
	for y := reg.Bounds.Min.Y; y < reg.Bounds.Max.Y && sx < 0; y++ {
		for x := reg.Bounds.Min.X; x < reg.Bounds.Max.X; x++ {
			if lab[y*w+x] == reg.Label {
				sx, sy = x, y
				break
			}
		}
	}
	if sx < 0 {
		return nil
	}

	contour := make([]Point, 0, 64)
	cx, cy := sx, sy
	// entered from the west
	dir := 0
	for {
		contour = append(contour, Point{X: float64(cx), Y: float64(cy)})
		if len(contour) > maxContourLen {
			return nil
		}
		found := false
		// search clockwise starting just past the backtrack direction
		for i := 0; i < 8; i++ {
			d := (dir + 6 + i) % 8
			nx := cx + mooreOffsets[d][0]
			ny := cy + mooreOffsets[d][1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			if lab[ny*w+nx] == reg.Label {
				cx, cy = nx, ny
				dir = d
				found = true
				break
			}
		}
		if !found {
			// isolated pixel
			break
		}
		if cx == sx && cy == sy && len(contour) > 2 {
			break
		}
	}
	if len(contour) < 4 {
		return nil
	}
	return contour
}

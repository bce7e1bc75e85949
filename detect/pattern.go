package detect

import (
	"fmt"
	"math"
)

// TemplateSize is the side length of the rectified grid pictorial templates
// are correlated at.
const TemplateSize = 16

// DefaultConfidenceFloor is the minimum normalized correlation for a
// pictorial match to count.
const DefaultConfidenceFloor = 0.5

// Template is a registered pictorial marker pattern, pre-normalized at four
// rotations so per-frame matching is four dot products.
type Template struct {
	Name string
	// zero-mean, unit-norm luminance per quarter-turn rotation
	rotations [4][]float64
}

// NewTemplate builds a template from a size×size luminance grid. The grid is
// resampled to TemplateSize when it differs.
func NewTemplate(name string, grid []uint8, size int) (*Template, error) {
	if size <= 0 || len(grid) != size*size {
		return nil, fmt.Errorf("template grid is %d values, want %d", len(grid), size*size)
	}
	base := grid
	if size != TemplateSize {
		base = resampleGrid(grid, size, TemplateSize)
	}
	t := &Template{Name: name}
	cur := base
	for r := 0; r < 4; r++ {
		norm, err := normalizeGrid(cur)
		if err != nil {
			return nil, fmt.Errorf("template %q rotation %d: %w", name, r, err)
		}
		t.rotations[r] = norm
		cur = rotateGrid(cur, TemplateSize)
	}
	return t, nil
}

// Match correlates a rectified TemplateSize×TemplateSize sample against the
// template at all four rotations and returns the best normalized correlation
// with the rotation that produced it.
func (t *Template) Match(sample []uint8) (confidence float64, rotation int) {
	norm, err := normalizeGrid(sample)
	if err != nil {
		return 0, 0
	}
	best := math.Inf(-1)
	for r := 0; r < 4; r++ {
		dot := 0.0
		for i, v := range t.rotations[r] {
			dot += v * norm[i]
		}
		if dot > best {
			best = dot
			rotation = r
		}
	}
	return best, rotation
}

// normalizeGrid converts to zero mean and unit norm; flat patches have no
// usable signal and are rejected.
func normalizeGrid(grid []uint8) ([]float64, error) {
	mean := 0.0
	for _, v := range grid {
		mean += float64(v)
	}
	mean /= float64(len(grid))

	out := make([]float64, len(grid))
	norm := 0.0
	for i, v := range grid {
		d := float64(v) - mean
		out[i] = d
		norm += d * d
	}
	if norm < 1e-9 {
		return nil, fmt.Errorf("pattern has no contrast")
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out, nil
}

// rotateGrid rotates a square grid a quarter turn clockwise.
func rotateGrid(grid []uint8, n int) []uint8 {
	out := make([]uint8, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			out[x*n+(n-1-y)] = grid[y*n+x]
		}
	}
	return out
}

// resampleGrid nearest-neighbor resamples a square grid to a new side length.
func resampleGrid(grid []uint8, from, to int) []uint8 {
	out := make([]uint8, to*to)
	for y := 0; y < to; y++ {
		sy := (y*from + from/2) / to
		if sy >= from {
			sy = from - 1
		}
		for x := 0; x < to; x++ {
			sx := (x*from + from/2) / to
			if sx >= from {
				sx = from - 1
			}
			out[y*to+x] = grid[sy*from+sx]
		}
	}
	return out
}

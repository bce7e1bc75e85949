package detect

import (
	"markertracker/labeling"
)

// unit square in marker space, clockwise from top-left, matching the corner
// order Quad.normalize produces
var markerSquare = [4]labeling.Point{
	{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1},
}

// RectifyInterior unwarps the marker interior into an n×n luminance grid.
// ratio is the pattern-space ratio: the fraction of the marker's width the
// decodable interior occupies, centered. Each output cell is the average of
// a 2×2 subsample, bilinearly interpolated from the source. Returns false if
// the quad projects outside the image.
func RectifyInterior(luma []uint8, width, height int, q Quad, ratio float64, n int) ([]uint8, bool) {
	h, err := ComputeHomography(markerSquare, q.Corners)
	if err != nil {
		return nil, false
	}

	lo := (1 - ratio) / 2
	out := make([]uint8, n*n)
	sub := [2]float64{0.25, 0.75}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			sum := 0.0
			for _, oy := range sub {
				for _, ox := range sub {
					mx := lo + ratio*(float64(col)+ox)/float64(n)
					my := lo + ratio*(float64(row)+oy)/float64(n)
					ix, iy, ok := h.Apply(mx, my)
					if !ok {
						return nil, false
					}
					v, ok := bilinear(luma, width, height, ix, iy)
					if !ok {
						return nil, false
					}
					sum += v
				}
			}
			out[row*n+col] = uint8(sum/4 + 0.5)
		}
	}
	return out, true
}

func bilinear(luma []uint8, w, h int, x, y float64) (float64, bool) {
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return 0, false
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= w {
		x1 = w - 1
	}
	if y1 >= h {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)
	v00 := float64(luma[y0*w+x0])
	v01 := float64(luma[y0*w+x1])
	v10 := float64(luma[y1*w+x0])
	v11 := float64(luma[y1*w+x1])
	top := v00 + (v01-v00)*fx
	bot := v10 + (v11-v10)*fx
	return top + (bot-top)*fy, true
}

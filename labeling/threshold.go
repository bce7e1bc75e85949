package labeling

import "errors"

// ThresholdMode selects how the binarization threshold is chosen.
type ThresholdMode int

const (
	// ThresholdManual uses a fixed operator-specified value.
	ThresholdManual ThresholdMode = iota
	// ThresholdMedian uses the median luminance of the current frame.
	ThresholdMedian
	// ThresholdOtsu minimizes intra-class variance over the frame histogram.
	ThresholdOtsu
	// ThresholdAdaptive thresholds against a local neighborhood mean. No
	// single threshold value exists in this mode.
	ThresholdAdaptive
	// ThresholdBracketing rotates through a fixed candidate set across
	// frames until labeling yields the expected number of regions.
	ThresholdBracketing
)

func (m ThresholdMode) String() string {
	switch m {
	case ThresholdManual:
		return "manual"
	case ThresholdMedian:
		return "median"
	case ThresholdOtsu:
		return "otsu"
	case ThresholdAdaptive:
		return "adaptive"
	case ThresholdBracketing:
		return "bracketing"
	}
	return "unknown"
}

// ParseThresholdMode is the inverse of String.
func ParseThresholdMode(s string) (ThresholdMode, error) {
	for _, m := range []ThresholdMode{
		ThresholdManual, ThresholdMedian, ThresholdOtsu, ThresholdAdaptive, ThresholdBracketing,
	} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, errors.New("unknown threshold mode: " + s)
}

// ErrSpatialThreshold is returned when querying the scalar threshold while the
// adaptive mode is active.
var ErrSpatialThreshold = errors.New("threshold is spatially varying in adaptive mode")

// Candidate thresholds the bracketing mode rotates through.
var bracketCandidates = []int{32, 64, 96, 128, 160, 192, 224}

// adaptive neighborhood half-width and mean bias
const (
	adaptiveRadius = 7
	adaptiveBias   = 7
)

func histogram(luma []uint8) [256]int {
	var hist [256]int
	for _, v := range luma {
		hist[v]++
	}
	return hist
}

func medianThreshold(luma []uint8) int {
	hist := histogram(luma)
	half := len(luma) / 2
	sum := 0
	for i, n := range hist {
		sum += n
		if sum >= half {
			return i
		}
	}
	return 127
}

// otsuThreshold maximizes between-class variance of the two-class split.
func otsuThreshold(luma []uint8) int {
	hist := histogram(luma)
	total := len(luma)

	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i) * float64(n)
	}

	best := 127
	bestVar := -1.0
	var wB int
	var sumB float64
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}
	return best
}

// binarizeAdaptive thresholds each pixel against the mean of its local
// neighborhood, computed over an integral image so uneven lighting cancels.
func (l *Labeler) binarizeAdaptive(luma []uint8, w, h int, dark bool) {
	if cap(l.integral) < (w+1)*(h+1) {
		l.integral = make([]uint64, (w+1)*(h+1))
	}
	integ := l.integral[:(w+1)*(h+1)]
	for y := 0; y < h; y++ {
		var row uint64
		for x := 0; x < w; x++ {
			row += uint64(luma[y*w+x])
			integ[(y+1)*(w+1)+x+1] = integ[y*(w+1)+x+1] + row
		}
	}
	for y := 0; y < h; y++ {
		y0 := max(0, y-adaptiveRadius)
		y1 := min(h-1, y+adaptiveRadius)
		for x := 0; x < w; x++ {
			x0 := max(0, x-adaptiveRadius)
			x1 := min(w-1, x+adaptiveRadius)
			n := uint64((y1 - y0 + 1) * (x1 - x0 + 1))
			sum := integ[(y1+1)*(w+1)+x1+1] - integ[y0*(w+1)+x1+1] -
				integ[(y1+1)*(w+1)+x0] + integ[y0*(w+1)+x0]
			mean := int(sum / n)
			v := int(luma[y*w+x])
			fg := v <= mean-adaptiveBias
			if !dark {
				fg = v >= mean+adaptiveBias
			}
			if fg {
				l.bin[y*w+x] = 1
			} else {
				l.bin[y*w+x] = 0
			}
		}
	}
}

package labeling

import (
	"errors"
	"testing"
)

// frame builds a width×height luminance plane filled with bg.
func frame(width, height int, bg uint8) []uint8 {
	luma := make([]uint8, width*height)
	for i := range luma {
		luma[i] = bg
	}
	return luma
}

// fillRect paints the half-open rectangle [x0,x1)×[y0,y1).
func fillRect(luma []uint8, width, x0, y0, x1, y1 int, v uint8) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			luma[y*width+x] = v
		}
	}
}

func TestManualThresholdFindsSquare(t *testing.T) {
	luma := frame(200, 200, 220)
	fillRect(luma, 200, 60, 60, 140, 140, 30)

	l := New()
	regions, err := l.Process(luma, 200, 200)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}

	reg := regions[0]
	if reg.Area != 80*80 {
		t.Errorf("area: got %d, want %d", reg.Area, 80*80)
	}
	if reg.Bounds.Min.X != 60 || reg.Bounds.Min.Y != 60 || reg.Bounds.Max.X != 140 || reg.Bounds.Max.Y != 140 {
		t.Errorf("bounds: got %v", reg.Bounds)
	}
	// boundary of an 80x80 square, minus the shared corners
	if len(reg.Contour) < 300 || len(reg.Contour) > 330 {
		t.Errorf("contour length: got %d, want about 316", len(reg.Contour))
	}
}

func TestBorderTouchingRegionDropped(t *testing.T) {
	luma := frame(200, 200, 220)
	fillRect(luma, 200, 0, 60, 80, 140, 30)

	l := New()
	regions, err := l.Process(luma, 200, 200)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(regions) != 0 {
		t.Errorf("got %d regions, want 0 for a border-touching region", len(regions))
	}
}

func TestNoiseSpecksDropped(t *testing.T) {
	luma := frame(200, 200, 220)
	fillRect(luma, 200, 50, 50, 53, 53, 30) // 9 px, below the area floor

	l := New()
	regions, err := l.Process(luma, 200, 200)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(regions) != 0 {
		t.Errorf("got %d regions, want 0 for a sub-minimum speck", len(regions))
	}
}

func TestWhitePolarity(t *testing.T) {
	luma := frame(200, 200, 30)
	fillRect(luma, 200, 60, 60, 140, 140, 220)

	l := New()
	regions, err := l.Process(luma, 200, 200)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(regions) != 0 {
		t.Fatalf("black polarity should not label a bright square, got %d regions", len(regions))
	}

	l.SetPolarity(LabelWhite)
	regions, err = l.Process(luma, 200, 200)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("white polarity: got %d regions, want 1", len(regions))
	}
	if regions[0].Area != 80*80 {
		t.Errorf("area: got %d, want %d", regions[0].Area, 80*80)
	}
}

func TestHalfResScalesGeometryBack(t *testing.T) {
	luma := frame(200, 200, 220)
	fillRect(luma, 200, 60, 60, 140, 140, 30)

	l := New()
	l.SetProcMode(ProcHalfRes)
	regions, err := l.Process(luma, 200, 200)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}

	reg := regions[0]
	if reg.Area != 40*40*4 {
		t.Errorf("area: got %d, want %d", reg.Area, 40*40*4)
	}
	if reg.Bounds.Min.X != 60 || reg.Bounds.Max.X != 140 {
		t.Errorf("bounds not restored to full resolution: %v", reg.Bounds)
	}
	for _, p := range reg.Contour {
		if p.X < 59 || p.X > 140 || p.Y < 59 || p.Y > 140 {
			t.Fatalf("contour point %v outside the square", p)
		}
	}
}

func TestAutomaticThresholdsSeparateClasses(t *testing.T) {
	luma := frame(200, 200, 220)
	fillRect(luma, 200, 60, 60, 140, 140, 30)

	for _, mode := range []ThresholdMode{ThresholdMedian, ThresholdOtsu} {
		l := New()
		l.SetMode(mode)
		regions, err := l.Process(luma, 200, 200)
		if err != nil {
			t.Fatalf("%v: Process failed: %v", mode, err)
		}
		if len(regions) != 1 {
			t.Errorf("%v: got %d regions, want 1", mode, len(regions))
		}
		thresh, err := l.Threshold()
		if err != nil {
			t.Fatalf("%v: Threshold failed: %v", mode, err)
		}
		if thresh <= 30 || thresh >= 220 {
			t.Errorf("%v: threshold %d does not separate the luminance classes", mode, thresh)
		}
	}
}

func TestAdaptiveMode(t *testing.T) {
	luma := frame(200, 200, 220)
	fillRect(luma, 200, 60, 60, 140, 140, 30)

	l := New()
	l.SetMode(ThresholdAdaptive)

	if _, err := l.Threshold(); !errors.Is(err, ErrSpatialThreshold) {
		t.Errorf("Threshold in adaptive mode: got %v, want ErrSpatialThreshold", err)
	}

	// the local mean flattens the square's interior, but its boundary band
	// must still label as a region around the right bounds
	regions, err := l.Process(luma, 200, 200)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(regions) == 0 {
		t.Fatalf("adaptive mode found no regions")
	}
	found := false
	for _, reg := range regions {
		if reg.Bounds.Min.X >= 58 && reg.Bounds.Min.X <= 62 && reg.Bounds.Max.X >= 138 && reg.Bounds.Max.X <= 142 {
			found = true
		}
	}
	if !found {
		t.Errorf("no region bounding the square, got %d regions", len(regions))
	}
}

func TestBracketingRotatesCandidates(t *testing.T) {
	luma := frame(100, 100, 220)
	fillRect(luma, 100, 30, 30, 70, 70, 10)

	l := New()
	l.SetMode(ThresholdBracketing)

	seen := make(map[int]bool)
	for i := 0; i < len(bracketCandidates)+1; i++ {
		if _, err := l.Process(luma, 100, 100); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		thresh, err := l.Threshold()
		if err != nil {
			t.Fatalf("Threshold failed: %v", err)
		}
		seen[thresh] = true
		l.AdvanceBracket()
	}
	if len(seen) != len(bracketCandidates) {
		t.Errorf("visited %d distinct thresholds, want %d", len(seen), len(bracketCandidates))
	}
}

func TestProcessRejectsBadInput(t *testing.T) {
	l := New()
	if _, err := l.Process(make([]uint8, 10), 100, 100); err == nil {
		t.Errorf("expected error for wrong buffer length")
	}
	if _, err := l.Process(make([]uint8, 9), 3, 3); err == nil {
		t.Errorf("expected error for an image too small to label")
	}
}

func TestSetThresholdValidatesRange(t *testing.T) {
	l := New()
	if err := l.SetThreshold(256); err == nil {
		t.Errorf("expected error for threshold above 255")
	}
	if err := l.SetThreshold(-1); err == nil {
		t.Errorf("expected error for negative threshold")
	}
	if err := l.SetThreshold(128); err != nil {
		t.Errorf("SetThreshold(128) failed: %v", err)
	}
}

package detect

import "errors"

// Mode selects which identification paths run per quadrilateral.
type Mode int

const (
	// ModeTemplate correlates against registered pictorial templates only.
	ModeTemplate Mode = iota
	// ModeMatrix decodes matrix codes only.
	ModeMatrix
	// ModeMatrixTemplate decodes the matrix code first, falling back to
	// template correlation for quads that fail to decode.
	ModeMatrixTemplate
	// ModeTemplateMatrix correlates templates first, falling back to
	// matrix decoding below the confidence floor.
	ModeTemplateMatrix
)

var modeNames = map[Mode]string{
	ModeTemplate:       "template",
	ModeMatrix:         "matrix",
	ModeMatrixTemplate: "matrix_template",
	ModeTemplateMatrix: "template_matrix",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseMode is the inverse of String.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, errors.New("unknown detection mode: " + s)
}

// Kind says how a detection was identified.
type Kind int

const (
	KindTemplate Kind = iota
	KindMatrix
)

// Detection is one identified marker in the current frame.
type Detection struct {
	Quad Quad // corners reordered to the canonical pattern orientation
	Kind Kind

	// template match
	TemplateIndex int
	Confidence    float64

	// matrix decode
	MatrixID  uint64
	Corrected int
}

// Detector holds the per-cycle identification configuration. Mode selection
// is re-derived from the registry unless locked by an operator override.
type Detector struct {
	mode            Mode
	modeLocked      bool
	patternRatio    float64
	codeType        MatrixCodeType
	confidenceFloor float64
}

// NewDetector returns a detector with the documented defaults: pattern ratio
// 0.5, raw 3x3 matrix codes, template mode.
func NewDetector() *Detector {
	return &Detector{
		patternRatio:    0.5,
		codeType:        Matrix3x3,
		confidenceFloor: DefaultConfidenceFloor,
	}
}

func (d *Detector) Mode() Mode { return d.mode }

// SetMode locks the detection mode to an explicit operator override.
func (d *Detector) SetMode(m Mode) {
	d.mode = m
	d.modeLocked = true
}

// DeriveMode recomputes the mode from what is registered, unless locked.
func (d *Detector) DeriveMode(haveTemplates, haveMatrix bool) {
	if d.modeLocked {
		return
	}
	switch {
	case haveTemplates && haveMatrix:
		d.mode = ModeMatrixTemplate
	case haveMatrix:
		d.mode = ModeMatrix
	default:
		d.mode = ModeTemplate
	}
}

func (d *Detector) PatternRatio() float64 { return d.patternRatio }

func (d *Detector) SetPatternRatio(r float64) error {
	if r <= 0 || r >= 1 {
		return errors.New("pattern ratio must be in (0,1)")
	}
	d.patternRatio = r
	return nil
}

func (d *Detector) CodeType() MatrixCodeType { return d.codeType }

func (d *Detector) SetCodeType(t MatrixCodeType) { d.codeType = t }

func (d *Detector) ConfidenceFloor() float64 { return d.confidenceFloor }

func (d *Detector) SetConfidenceFloor(f float64) error {
	if f <= 0 || f >= 1 {
		return errors.New("confidence floor must be in (0,1)")
	}
	d.confidenceFloor = f
	return nil
}

// Identify runs the active identification paths over one quadrilateral.
// templates is the registry's template list; TemplateIndex indexes into it.
func (d *Detector) Identify(luma []uint8, width, height int, q Quad, templates []*Template) (Detection, bool) {
	switch d.mode {
	case ModeMatrix:
		return d.identifyMatrix(luma, width, height, q)
	case ModeTemplate:
		return d.identifyTemplate(luma, width, height, q, templates)
	case ModeMatrixTemplate:
		if det, ok := d.identifyMatrix(luma, width, height, q); ok {
			return det, true
		}
		return d.identifyTemplate(luma, width, height, q, templates)
	case ModeTemplateMatrix:
		if det, ok := d.identifyTemplate(luma, width, height, q, templates); ok {
			return det, true
		}
		return d.identifyMatrix(luma, width, height, q)
	}
	return Detection{}, false
}

func (d *Detector) identifyMatrix(luma []uint8, width, height int, q Quad) (Detection, bool) {
	g := d.codeType.GridSize()
	sample, ok := RectifyInterior(luma, width, height, q, d.patternRatio, g)
	if !ok {
		return Detection{}, false
	}
	cells, ok := CellsFromSample(sample, g)
	if !ok {
		return Detection{}, false
	}
	id, rot, corrected, ok := DecodeMatrixCells(cells, d.codeType)
	if !ok {
		return Detection{}, false
	}
	return Detection{
		Quad:       q.RotateCorners(rot),
		Kind:       KindMatrix,
		MatrixID:   id,
		Corrected:  corrected,
		Confidence: 1 - float64(corrected)*0.25,
	}, true
}

func (d *Detector) identifyTemplate(luma []uint8, width, height int, q Quad, templates []*Template) (Detection, bool) {
	if len(templates) == 0 {
		return Detection{}, false
	}
	sample, ok := RectifyInterior(luma, width, height, q, d.patternRatio, TemplateSize)
	if !ok {
		return Detection{}, false
	}
	bestIdx, bestRot := -1, 0
	bestConf := d.confidenceFloor
	for i, tmpl := range templates {
		if tmpl == nil {
			continue
		}
		conf, rot := tmpl.Match(sample)
		// ties break toward the higher correlation, which this strict
		// comparison already gives us
		if conf > bestConf {
			bestIdx, bestRot, bestConf = i, rot, conf
		}
	}
	if bestIdx < 0 {
		return Detection{}, false
	}
	return Detection{
		Quad:          q.RotateCorners(bestRot),
		Kind:          KindTemplate,
		TemplateIndex: bestIdx,
		Confidence:    bestConf,
	}, true
}

package engine

import (
	"fmt"

	"markertracker/detect"
	"markertracker/labeling"
)

// Runtime-tunable parameter names.
const (
	OptThresholdMode   = "threshold_mode"
	OptThreshold       = "threshold"
	OptLabelingMode    = "labeling_mode"
	OptPatternRatio    = "pattern_ratio"
	OptMatrixCodeType  = "matrix_code_type"
	OptImageProcMode   = "image_proc_mode"
	OptDetectionMode   = "detection_mode"
	OptConfidenceFloor = "confidence_floor"
	OptDebugMode       = "debug_mode"
)

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("want string, got %T", v)
	}
	return s, nil
}

// asInt accepts float64 as well, since values arriving through a JSON-typed
// command surface decode numerics that way.
func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("want number, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("want number, got %T", v)
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("want bool, got %T", v)
	}
	return b, nil
}

// SetOption updates one runtime parameter. A rejected value leaves the
// previous setting active.
func (e *Engine) SetOption(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return err
	}

	var err error
	switch name {
	case OptThresholdMode:
		var s string
		if s, err = asString(value); err == nil {
			var m labeling.ThresholdMode
			if m, err = labeling.ParseThresholdMode(s); err == nil {
				e.labeler.SetMode(m)
			}
		}
	case OptThreshold:
		var n int
		if n, err = asInt(value); err == nil {
			err = e.labeler.SetThreshold(n)
		}
	case OptLabelingMode:
		var s string
		if s, err = asString(value); err == nil {
			var p labeling.Polarity
			if p, err = labeling.ParsePolarity(s); err == nil {
				e.labeler.SetPolarity(p)
			}
		}
	case OptPatternRatio:
		var f float64
		if f, err = asFloat(value); err == nil {
			err = e.detector.SetPatternRatio(f)
		}
	case OptMatrixCodeType:
		var s string
		if s, err = asString(value); err == nil {
			var t detect.MatrixCodeType
			if t, err = detect.ParseMatrixCodeType(s); err == nil {
				e.detector.SetCodeType(t)
			}
		}
	case OptImageProcMode:
		var s string
		if s, err = asString(value); err == nil {
			var m labeling.ProcMode
			if m, err = labeling.ParseProcMode(s); err == nil {
				e.labeler.SetProcMode(m)
			}
		}
	case OptDetectionMode:
		var s string
		if s, err = asString(value); err == nil {
			var m detect.Mode
			if m, err = detect.ParseMode(s); err == nil {
				e.detector.SetMode(m)
			}
		}
	case OptConfidenceFloor:
		var f float64
		if f, err = asFloat(value); err == nil {
			if err = e.detector.SetConfidenceFloor(f); err == nil {
				e.memberFloor = f
			}
		}
	case OptDebugMode:
		var b bool
		if b, err = asBool(value); err == nil {
			e.debug = b
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	if err != nil {
		return fmt.Errorf("option %q: %w", name, err)
	}
	return nil
}

// GetOption reads one runtime parameter. Querying the scalar threshold while
// the adaptive mode is active fails, since no single value exists then.
func (e *Engine) GetOption(name string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return nil, err
	}

	switch name {
	case OptThresholdMode:
		return e.labeler.Mode().String(), nil
	case OptThreshold:
		t, err := e.labeler.Threshold()
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", name, err)
		}
		return t, nil
	case OptLabelingMode:
		return e.labeler.Polarity().String(), nil
	case OptPatternRatio:
		return e.detector.PatternRatio(), nil
	case OptMatrixCodeType:
		return e.detector.CodeType().String(), nil
	case OptImageProcMode:
		return e.labeler.ProcMode().String(), nil
	case OptDetectionMode:
		return e.detector.Mode().String(), nil
	case OptConfidenceFloor:
		return e.detector.ConfidenceFloor(), nil
	case OptDebugMode:
		return e.debug, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOption, name)
}

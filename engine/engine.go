// Package engine ties the frame pipeline together: luminance conversion,
// labeling, quadrilateral fitting, marker identification, pose estimation,
// and the trackable registry. One Engine owns one camera's worth of state;
// all methods are safe for concurrent use.
package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.viam.com/rdk/logging"

	"markertracker/camera"
	"markertracker/detect"
	"markertracker/labeling"
	"markertracker/pose"
	"markertracker/registry"
)

// maxQuadsPerCycle caps identification work on pathological frames. Cycles
// that hit the cap complete with Degraded set rather than stalling.
const maxQuadsPerCycle = 64

// CycleResult summarizes one detection cycle.
type CycleResult struct {
	// FrameTime is the capture timestamp the processed frame was
	// submitted with.
	FrameTime time.Time
	Regions   int
	Quads     int
	Detected  int
	Visible   int
	// Degraded means the quad budget was exhausted and some candidate
	// regions went unexamined this frame.
	Degraded bool
}

// TrackableState is the per-frame answer for one trackable id. Matrix is nil
// whenever Visible is false, including for ids that were never registered.
type TrackableState struct {
	Visible    bool
	Matrix     *[12]float64
	Confidence float64
}

// TrackableInfo is the registry summary exposed to operators.
type TrackableInfo struct {
	ID      int
	Type    string
	Width   float64
	Visible bool
}

type Engine struct {
	mu     sync.Mutex
	logger logging.Logger

	initialized bool
	disposed    bool

	cam      *camera.Parameters // native calibration
	frameCam *camera.Parameters // calibration scaled to the frame size

	labeler  *labeling.Labeler
	detector *detect.Detector
	reg      *registry.Registry
	loadFile registry.FileLoader

	luma          []uint8
	width, height int
	frameTime     time.Time
	framePending  bool
	frameCount    uint64

	debug          bool
	memberFloor    float64
	lastDetections []detect.Detection
}

// New returns an engine with the documented defaults. Initialize and
// LoadCameraParameters must both succeed before frames are accepted.
func New(logger logging.Logger) *Engine {
	return &Engine{
		logger:      logger,
		labeler:     labeling.New(),
		detector:    detect.NewDetector(),
		reg:         registry.New(),
		loadFile:    os.ReadFile,
		memberFloor: pose.DefaultMemberFloor,
	}
}

// SetFileLoader overrides how multi-marker configurations resolve member
// pattern files, used when definitions arrive over the wire.
func (e *Engine) SetFileLoader(load registry.FileLoader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadFile = load
}

func (e *Engine) running() error {
	if !e.initialized || e.disposed {
		return ErrNotInitialized
	}
	return nil
}

// Initialize readies the engine. It is idempotent until Shutdown, after
// which the engine is permanently disposed.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrNotInitialized
	}
	e.initialized = true
	return nil
}

// Shutdown releases frame storage and rejects all further calls.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
	e.initialized = false
	e.luma = nil
	e.lastDetections = nil
	e.framePending = false
}

// LoadCameraParameters installs a binary calibration blob. A parse failure
// leaves any previously installed calibration untouched.
func (e *Engine) LoadCameraParameters(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return err
	}
	cam, err := camera.ParseCalibration(data)
	if err != nil {
		return fmt.Errorf("%w: camera calibration: %v", ErrInvalidDefinition, err)
	}
	e.cam = cam
	e.frameCam = nil
	e.logger.Infof("loaded camera calibration %dx%d fx=%.1f fy=%.1f", cam.Width, cam.Height, cam.K[0], cam.K[4])
	return nil
}

// SubmitFrame copies one RGBA frame into the engine and converts it to
// luminance. ts is the frame's capture timestamp, reported back with the
// cycle that consumes it. The buffer must be exactly width*height*4 bytes;
// the caller may reuse it after return.
func (e *Engine) SubmitFrame(rgba []byte, width, height int, ts time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return err
	}
	if e.cam == nil {
		return fmt.Errorf("%w: no camera calibration loaded", ErrNotInitialized)
	}
	if width <= 0 || height <= 0 || len(rgba) != width*height*4 {
		return fmt.Errorf("%w: got %d bytes for %dx%d", ErrInvalidFrame, len(rgba), width, height)
	}

	n := width * height
	if cap(e.luma) < n {
		e.luma = make([]uint8, n)
	}
	e.luma = e.luma[:n]
	for i := 0; i < n; i++ {
		r := int(rgba[i*4])
		g := int(rgba[i*4+1])
		b := int(rgba[i*4+2])
		e.luma[i] = uint8((77*r + 151*g + 28*b) >> 8)
	}

	if e.frameCam == nil || width != e.width || height != e.height {
		e.frameCam = e.cam.Scaled(width, height)
	}
	e.width, e.height = width, height
	e.frameTime = ts
	e.framePending = true
	e.frameCount++
	return nil
}

// RunDetectionCycle processes the pending frame and rewrites the visibility
// and pose of every registered trackable. Zero visible trackables is a
// normal completion, not an error.
func (e *Engine) RunDetectionCycle() (CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return CycleResult{}, err
	}
	if !e.framePending {
		return CycleResult{}, ErrNoFrame
	}

	res := CycleResult{FrameTime: e.frameTime}
	e.reg.ResetVisibility()
	e.lastDetections = e.lastDetections[:0]

	regions, err := e.labeler.Process(e.luma, e.width, e.height)
	if err != nil {
		return CycleResult{}, fmt.Errorf("labeling: %w", err)
	}
	res.Regions = len(regions)

	templates, owners := e.reg.Templates()

	for _, rg := range regions {
		if res.Quads >= maxQuadsPerCycle {
			res.Degraded = true
			break
		}
		q, ok := detect.FitQuad(rg.Contour, rg.Area)
		if !ok {
			continue
		}
		q = detect.RefineCorners(q, rg.Contour)
		res.Quads++
		det, ok := e.detector.Identify(e.luma, e.width, e.height, q, templates)
		if !ok {
			continue
		}
		e.lastDetections = append(e.lastDetections, det)
	}
	res.Detected = len(e.lastDetections)

	for _, t := range e.reg.All() {
		if t.Type == registry.TypeMulti {
			e.updateMulti(t, owners)
		} else {
			e.updateSingle(t, owners)
		}
		if t.Visible {
			res.Visible++
		}
	}

	if e.labeler.Mode() == labeling.ThresholdBracketing && res.Visible < e.reg.Len() {
		e.labeler.AdvanceBracket()
	}
	if e.debug {
		e.logger.Debugf("cycle %d: %d regions, %d quads, %d identified, %d visible",
			e.frameCount, res.Regions, res.Quads, res.Detected, res.Visible)
	}

	e.framePending = false
	return res, nil
}

// matches reports whether detection d identifies trackable t (member mi for
// composites, -1 for singles).
func matches(d detect.Detection, owners []registry.TemplateOwner, t *registry.Trackable, mi int) bool {
	switch d.Kind {
	case detect.KindMatrix:
		if mi < 0 {
			return t.Type == registry.TypeMatrix && d.MatrixID == t.BarcodeID
		}
		m := t.Members[mi]
		return m.IsBarcode && d.MatrixID == m.BarcodeID
	case detect.KindTemplate:
		if d.TemplateIndex < 0 || d.TemplateIndex >= len(owners) {
			return false
		}
		owner := owners[d.TemplateIndex]
		return owner.Trackable == t && owner.Member == mi
	}
	return false
}

// bestMatch picks the highest-confidence detection for one marker face.
func (e *Engine) bestMatch(owners []registry.TemplateOwner, t *registry.Trackable, mi int) (detect.Detection, bool) {
	best, found := detect.Detection{}, false
	for _, d := range e.lastDetections {
		if !matches(d, owners, t, mi) {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best, found = d, true
		}
	}
	return best, found
}

// estimate recovers the camera-space pose of one detected face, undistorting
// the corners before the planar decomposition.
func (e *Engine) estimate(d detect.Detection, width float64) (pose.Transform, bool) {
	corners := d.Quad.Corners
	for i := range corners {
		corners[i].X, corners[i].Y = e.frameCam.Undistort(corners[i].X, corners[i].Y)
	}
	tr, err := pose.EstimateFromQuad(corners, width, e.frameCam)
	if err != nil {
		if e.debug {
			e.logger.Debugf("pose estimation rejected: %v", err)
		}
		return pose.Transform{}, false
	}
	return tr, true
}

func (e *Engine) updateSingle(t *registry.Trackable, owners []registry.TemplateOwner) {
	d, ok := e.bestMatch(owners, t, -1)
	if !ok {
		return
	}
	tr, ok := e.estimate(d, t.Width)
	if !ok {
		return
	}
	t.Visible = true
	t.Pose = tr
	t.Confidence = d.Confidence
}

func (e *Engine) updateMulti(t *registry.Trackable, owners []registry.TemplateOwner) {
	var obs []pose.MemberObservation
	var confSum float64
	for i := range t.Members {
		d, ok := e.bestMatch(owners, t, i)
		if !ok {
			continue
		}
		tr, ok := e.estimate(d, t.Members[i].Width)
		if !ok {
			continue
		}
		obs = append(obs, pose.MemberObservation{
			Pose:       tr,
			Offset:     t.Members[i].Offset,
			Confidence: d.Confidence,
		})
		confSum += d.Confidence
	}
	combined, err := pose.CombineMembers(obs, e.memberFloor)
	if err != nil {
		return
	}
	t.Visible = true
	t.Pose = combined
	t.Confidence = confSum / float64(len(obs))
}

// QueryTrackable reports the state of id after the most recent cycle.
// Unknown ids are reported not visible, never as an error.
func (e *Engine) QueryTrackable(id int) TrackableState {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.reg.Get(id)
	if !ok || !t.Visible {
		return TrackableState{}
	}
	m := t.Pose.Matrix34()
	return TrackableState{Visible: true, Matrix: &m, Confidence: t.Confidence}
}

// RegisterTrackable adds a marker definition. typ is one of the registry
// type names; the definition payload depends on it: a pattern file for
// pictorial markers, a decimal barcode id for matrix markers, a multi-marker
// configuration otherwise. Registration takes effect from the next cycle.
func (e *Engine) RegisterTrackable(typ string, definition []byte, width float64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return 0, err
	}
	kind, err := registry.ParseType(typ)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	var t *registry.Trackable
	switch kind {
	case registry.TypeTemplate:
		tmpl, perr := registry.ParseTemplateFile(fmt.Sprintf("pattern-%d", e.reg.Len()), definition)
		if perr != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidDefinition, perr)
		}
		t, err = e.reg.RegisterTemplate(tmpl, width)
	case registry.TypeMatrix:
		id, perr := strconv.ParseUint(strings.TrimSpace(string(definition)), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("%w: barcode id: %v", ErrInvalidDefinition, perr)
		}
		t, err = e.reg.RegisterBarcode(id, width, e.detector.CodeType())
	case registry.TypeMulti:
		members, perr := registry.ParseMultiConfig(definition, e.loadFile)
		if perr != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidDefinition, perr)
		}
		t, err = e.reg.RegisterMulti(members, e.detector.CodeType())
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	haveTemplates, haveMatrix := e.reg.ContentKinds()
	e.detector.DeriveMode(haveTemplates, haveMatrix)
	e.logger.Infof("registered %s trackable %d (width %g, mode %s)", kind, t.ID, width, e.detector.Mode())
	return t.ID, nil
}

// RemoveTrackable deletes id from the registry. Its id is never reused.
func (e *Engine) RemoveTrackable(id int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return false, err
	}
	removed := e.reg.Remove(id)
	if removed {
		haveTemplates, haveMatrix := e.reg.ContentKinds()
		e.detector.DeriveMode(haveTemplates, haveMatrix)
	}
	return removed, nil
}

// Trackables summarizes the registry in registration order.
func (e *Engine) Trackables() []TrackableInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []TrackableInfo
	for _, t := range e.reg.All() {
		out = append(out, TrackableInfo{ID: t.ID, Type: t.Type.String(), Width: t.Width, Visible: t.Visible})
	}
	return out
}

// ProjectionMatrix builds the rendering projection for the loaded
// calibration and the given clip planes.
func (e *Engine) ProjectionMatrix(near, far float64) ([16]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return [16]float64{}, err
	}
	if e.cam == nil {
		return [16]float64{}, fmt.Errorf("%w: no camera calibration loaded", ErrNotInitialized)
	}
	return e.cam.ProjectionMatrix(near, far)
}

// Detections returns a copy of the identified markers from the most recent
// cycle, in image coordinates, for debug overlays, along with the capture
// timestamp of the frame they came from.
func (e *Engine) Detections() ([]detect.Detection, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]detect.Detection, len(e.lastDetections))
	copy(out, e.lastDetections)
	return out, e.frameTime
}

// FrameSize reports the dimensions of the most recently submitted frame.
func (e *Engine) FrameSize() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width, e.height
}

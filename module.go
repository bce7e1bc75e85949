// Package markertracker exposes the marker tracking engine as a machine
// service: it pulls frames from a configured camera, runs detection cycles,
// and answers pose queries over DoCommand.
package markertracker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	genericservice "go.viam.com/rdk/services/generic"
	rdk_utils "go.viam.com/utils"

	"markertracker/engine"
	"markertracker/pose"
)

var Tracker = resource.NewModel("viam", "marker-tracker", "tracker")

func init() {
	resource.RegisterService(genericservice.API, Tracker,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newTracker,
		},
	)
}

type Config struct {
	CameraName      string  `json:"camera_name"`
	CalibrationFile string  `json:"calibration_file"`
	UpdateRateHz    float64 `json:"update_rate_hz"`
	EnableOnStart   bool    `json:"enable_on_start"`
	PatternDir      string  `json:"pattern_dir"`    // base dir for pattern files named in multi configs
	ThresholdMode   string  `json:"threshold_mode"` // optional, engine default otherwise
	MatrixCodeType  string  `json:"matrix_code_type"`
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit required (first return) and optional (second return) dependencies based on the config.
// The path is the JSON path in your robot's config (not the `Config` struct) to the
// resource being validated; e.g. "components.0".
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.CameraName == "" {
		return nil, nil, errors.New("camera_name is required")
	}
	if cfg.CalibrationFile == "" {
		return nil, nil, errors.New("calibration_file is required")
	}
	if cfg.UpdateRateHz == 0 {
		cfg.UpdateRateHz = 10
	}
	if cfg.UpdateRateHz < 0 {
		return nil, nil, errors.New("update_rate_hz must be greater than 0")
	}
	return []string{cfg.CameraName}, nil, nil
}

type tracker struct {
	resource.AlwaysRebuild
	name resource.Name

	logger logging.Logger
	cfg    *Config

	cam camera.Camera
	eng *engine.Engine

	worker *rdk_utils.StoppableWorkers
}

func newTracker(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewTracker(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewTracker(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	cam, err := camera.FromDependencies(deps, conf.CameraName)
	if err != nil {
		return nil, fmt.Errorf("failed to get camera resource: %w", err)
	}

	eng := engine.New(logger)
	if err := eng.Initialize(); err != nil {
		return nil, err
	}
	calib, err := os.ReadFile(conf.CalibrationFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	if err := eng.LoadCameraParameters(calib); err != nil {
		return nil, err
	}
	if conf.PatternDir != "" {
		dir := conf.PatternDir
		eng.SetFileLoader(func(name string) ([]byte, error) {
			return os.ReadFile(filepath.Join(dir, name))
		})
	}
	if conf.ThresholdMode != "" {
		if err := eng.SetOption(engine.OptThresholdMode, conf.ThresholdMode); err != nil {
			return nil, err
		}
	}
	if conf.MatrixCodeType != "" {
		if err := eng.SetOption(engine.OptMatrixCodeType, conf.MatrixCodeType); err != nil {
			return nil, err
		}
	}

	s := &tracker{
		name:   name,
		logger: logger,
		cfg:    conf,
		cam:    cam,
		eng:    eng,
		worker: rdk_utils.NewBackgroundStoppableWorkers(),
	}

	if conf.EnableOnStart {
		s.worker.Add(s.detectionLoop)
		s.logger.Info("marker tracker started")
	}

	return s, nil
}

func (s *tracker) Name() resource.Name {
	return s.name
}

func (s *tracker) Close(ctx context.Context) error {
	s.worker.Stop()
	s.eng.Shutdown()
	return nil
}

// Engine exposes the underlying pipeline to sibling models in this module.
func (s *tracker) Engine() *engine.Engine {
	return s.eng
}

func (s *tracker) detectionLoop(ctx context.Context) {
	updateInterval := time.Duration(float64(time.Second) / s.cfg.UpdateRateHz)
	s.logger.Infof("detection loop at %.1f Hz (interval %v)", s.cfg.UpdateRateHz, updateInterval)
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.processFrame(ctx); err != nil {
				s.logger.Errorf("detection cycle failed: %v", err)
			}
		}
	}
}

// processFrame pulls one frame from the camera and runs a detection cycle.
func (s *tracker) processFrame(ctx context.Context) error {
	imgs, meta, err := s.cam.Images(ctx, []string{"color"}, nil)
	if err != nil {
		return fmt.Errorf("failed to get image: %w", err)
	}
	if len(imgs) == 0 {
		return errors.New("no images returned from camera")
	}
	img, err := imgs[0].Image(ctx)
	if err != nil {
		return err
	}
	ts := meta.CapturedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	pix, w, h := rgbaPixels(img)
	if err := s.eng.SubmitFrame(pix, w, h, ts); err != nil {
		return err
	}
	res, err := s.eng.RunDetectionCycle()
	if err != nil {
		return err
	}
	if res.Degraded {
		s.logger.Warnf("cycle degraded: quad budget exhausted at %d quads", res.Quads)
	}
	return nil
}

// rgbaPixels flattens any image to a tight RGBA byte buffer.
func rgbaPixels(img image.Image) ([]byte, int, int) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return rgba.Pix, b.Dx(), b.Dy()
}

func (s *tracker) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	s.logger.Debugf("DoCommand: %+v", cmd)
	switch cmd["command"] {
	case "process-frame":
		if err := s.processFrame(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"status": "success"}, nil

	case "register-trackable":
		typ, ok := cmd["type"].(string)
		if !ok {
			return nil, fmt.Errorf("type field is required")
		}
		width, ok := cmd["width"].(float64)
		if !ok && typ != "multi" {
			return nil, fmt.Errorf("width field is required")
		}
		definition, err := s.definitionBytes(cmd)
		if err != nil {
			return nil, err
		}
		id, err := s.eng.RegisterTrackable(typ, definition, width)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"trackable_id": id}, nil

	case "remove-trackable":
		id, ok := cmd["trackable_id"].(float64)
		if !ok {
			return nil, fmt.Errorf("trackable_id field is required")
		}
		removed, err := s.eng.RemoveTrackable(int(id))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"removed": removed}, nil

	case "query-trackable":
		id, ok := cmd["trackable_id"].(float64)
		if !ok {
			return nil, fmt.Errorf("trackable_id field is required")
		}
		state := s.eng.QueryTrackable(int(id))
		out := map[string]interface{}{
			"visible":    state.Visible,
			"confidence": state.Confidence,
		}
		if state.Matrix != nil {
			m := make([]interface{}, 12)
			for i, v := range state.Matrix {
				m[i] = v
			}
			out["matrix"] = m

			p := pose.FromMatrix34(*state.Matrix).AsPose()
			pt := p.Point()
			ov := p.Orientation().OrientationVectorDegrees()
			out["position"] = map[string]interface{}{"x": pt.X, "y": pt.Y, "z": pt.Z}
			out["orientation"] = map[string]interface{}{
				"o_x": ov.OX, "o_y": ov.OY, "o_z": ov.OZ, "theta": ov.Theta,
			}
		}
		return out, nil

	case "list-trackables":
		infos := s.eng.Trackables()
		list := make([]interface{}, 0, len(infos))
		for _, info := range infos {
			list = append(list, map[string]interface{}{
				"trackable_id": info.ID,
				"type":         info.Type,
				"width":        info.Width,
				"visible":      info.Visible,
			})
		}
		return map[string]interface{}{"trackables": list}, nil

	case "set-option":
		name, ok := cmd["name"].(string)
		if !ok {
			return nil, fmt.Errorf("name field is required")
		}
		if err := s.eng.SetOption(name, cmd["value"]); err != nil {
			return nil, err
		}
		return map[string]interface{}{"status": "success"}, nil

	case "get-option":
		name, ok := cmd["name"].(string)
		if !ok {
			return nil, fmt.Errorf("name field is required")
		}
		v, err := s.eng.GetOption(name)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"value": v}, nil

	case "get-projection-matrix":
		near, far := 10.0, 10000.0
		if v, ok := cmd["near"].(float64); ok {
			near = v
		}
		if v, ok := cmd["far"].(float64); ok {
			far = v
		}
		proj, err := s.eng.ProjectionMatrix(near, far)
		if err != nil {
			return nil, err
		}
		m := make([]interface{}, 16)
		for i, v := range proj {
			m[i] = v
		}
		return map[string]interface{}{"projection_matrix": m}, nil

	case "get-detections":
		dets, frameTime := s.eng.Detections()
		w, h := s.eng.FrameSize()
		list := make([]interface{}, 0, len(dets))
		for _, d := range dets {
			corners := make([]interface{}, 0, 8)
			for _, c := range d.Quad.Corners {
				corners = append(corners, c.X, c.Y)
			}
			list = append(list, map[string]interface{}{
				"corners":    corners,
				"confidence": d.Confidence,
			})
		}
		return map[string]interface{}{
			"detections":    list,
			"frame_width":   w,
			"frame_height":  h,
			"frame_time_ms": frameTime.UnixMilli(),
		}, nil

	default:
		return nil, fmt.Errorf("invalid command: %v", cmd["command"])
	}
}

// definitionBytes resolves the trackable definition from either an inline
// string or a file path relative to the pattern dir.
func (s *tracker) definitionBytes(cmd map[string]interface{}) ([]byte, error) {
	if def, ok := cmd["definition"].(string); ok {
		return []byte(def), nil
	}
	if file, ok := cmd["definition_file"].(string); ok {
		if s.cfg.PatternDir != "" && !filepath.IsAbs(file) {
			file = filepath.Join(s.cfg.PatternDir, file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read definition file: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("definition or definition_file field is required")
}

// Package models holds the auxiliary resource models of the marker tracker
// module. The debug camera wraps an underlying camera and overlays the
// outlines of the markers identified on the most recent detection cycle.
package models

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	genericservice "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"

	"markertracker/detect"
	"markertracker/engine"
)

var DebugCamera = resource.NewModel("viam", "marker-tracker", "debug-camera")

func init() {
	resource.RegisterComponent(camera.API, DebugCamera,
		resource.Registration[camera.Camera, *DebugCameraConfig]{
			Constructor: newDebugCamera,
		},
	)
}

// engineProvider is implemented by the tracker service model.
type engineProvider interface {
	Engine() *engine.Engine
}

type DebugCameraConfig struct {
	CameraName   string `json:"camera_name"`
	TrackerName  string `json:"tracker_name"`
	OutlineColor string `json:"outline_color"` // "red", "green", "blue", "white", "black", "yellow", "cyan", "magenta"
	OutlineThick int    `json:"outline_thick"`
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit dependencies based on the config.
// The path is the JSON path in your robot's config (not the `Config` struct) to the
// resource being validated; e.g. "components.0".
func (cfg *DebugCameraConfig) Validate(path string) ([]string, []string, error) {
	if cfg.CameraName == "" {
		return nil, nil, errors.New("camera_name is required")
	}
	if cfg.TrackerName == "" {
		return nil, nil, errors.New("tracker_name is required")
	}
	if cfg.OutlineColor == "" {
		cfg.OutlineColor = "green"
	}
	if cfg.OutlineThick == 0 {
		cfg.OutlineThick = 2
	}
	return []string{cfg.CameraName, cfg.TrackerName}, nil, nil
}

type debugCamera struct {
	name          resource.Name
	logger        logging.Logger
	cfg           *DebugCameraConfig
	underlyingCam camera.Camera
	eng           *engine.Engine
	outlineColor  color.Color
}

func newDebugCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*DebugCameraConfig](rawConf)
	if err != nil {
		return nil, err
	}

	cam, err := camera.FromDependencies(deps, conf.CameraName)
	if err != nil {
		return nil, err
	}

	trackerRes, err := deps.GetResource(resource.NewName(genericservice.API, conf.TrackerName))
	if err != nil {
		return nil, err
	}
	provider, ok := trackerRes.(engineProvider)
	if !ok {
		return nil, errors.New("tracker_name does not name a marker tracker in this module")
	}

	s := &debugCamera{
		name:          rawConf.ResourceName(),
		logger:        logger,
		cfg:           conf,
		underlyingCam: cam,
		eng:           provider.Engine(),
		outlineColor:  parseColor(conf.OutlineColor),
	}
	return s, nil
}

func (s *debugCamera) Reconfigure(ctx context.Context, deps resource.Dependencies, rawConf resource.Config) error {
	conf, err := resource.NativeConfig[*DebugCameraConfig](rawConf)
	if err != nil {
		return err
	}

	cam, err := camera.FromDependencies(deps, conf.CameraName)
	if err != nil {
		return err
	}

	s.cfg = conf
	s.underlyingCam = cam
	s.outlineColor = parseColor(conf.OutlineColor)
	return nil
}

func (s *debugCamera) Name() resource.Name {
	return s.name
}

func (s *debugCamera) Close(context.Context) error {
	return nil
}

func (s *debugCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}

// drawDetections copies the image and outlines every identified marker,
// marking the first corner so the decoded orientation is visible.
func (s *debugCamera) drawDetections(img image.Image, dets []detect.Detection) image.Image {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, d := range dets {
		for i := 0; i < 4; i++ {
			a := d.Quad.Corners[i]
			b := d.Quad.Corners[(i+1)%4]
			s.drawLine(rgba, a.X, a.Y, b.X, b.Y)
		}
		s.drawDot(rgba, d.Quad.Corners[0].X, d.Quad.Corners[0].Y)
	}
	return rgba
}

func (s *debugCamera) drawLine(rgba *image.RGBA, x0, y0, x1, y1 float64) {
	steps := int(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))) + 1
	thick := s.cfg.OutlineThick
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(x0 + t*(x1-x0))
		y := int(y0 + t*(y1-y0))
		for dy := -thick / 2; dy <= thick/2; dy++ {
			for dx := -thick / 2; dx <= thick/2; dx++ {
				p := image.Pt(x+dx, y+dy)
				if p.In(rgba.Bounds()) {
					rgba.Set(p.X, p.Y, s.outlineColor)
				}
			}
		}
	}
}

func (s *debugCamera) drawDot(rgba *image.RGBA, x, y float64) {
	radius := s.cfg.OutlineThick + 3
	cx, cy := int(x), int(y)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			p := image.Pt(cx+dx, cy+dy)
			if p.In(rgba.Bounds()) {
				rgba.Set(p.X, p.Y, s.outlineColor)
			}
		}
	}
}

// parseColor converts color string to color.Color
func parseColor(colorName string) color.Color {
	switch colorName {
	case "red":
		return color.RGBA{R: 255, G: 0, B: 0, A: 255}
	case "green":
		return color.RGBA{R: 0, G: 255, B: 0, A: 255}
	case "blue":
		return color.RGBA{R: 0, G: 0, B: 255, A: 255}
	case "white":
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	case "black":
		return color.RGBA{R: 0, G: 0, B: 0, A: 255}
	case "yellow":
		return color.RGBA{R: 255, G: 255, B: 0, A: 255}
	case "cyan":
		return color.RGBA{R: 0, G: 255, B: 255, A: 255}
	case "magenta":
		return color.RGBA{R: 255, G: 0, B: 255, A: 255}
	default:
		return color.RGBA{R: 0, G: 255, B: 0, A: 255}
	}
}

func (s *debugCamera) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

func (s *debugCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	return nil, camera.ImageMetadata{}, nil
}

func (s *debugCamera) Images(ctx context.Context, mimeTypes []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	imgs, meta, err := s.underlyingCam.Images(ctx, mimeTypes, extra)
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}

	dets, _ := s.eng.Detections()
	resultImgs := make([]camera.NamedImage, len(imgs))
	for i, namedImg := range imgs {
		img, err := namedImg.Image(ctx)
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}

		overlaid := s.drawDetections(img, dets)

		resultImg, err := camera.NamedImageFromImage(overlaid, namedImg.SourceName, namedImg.MimeType())
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		resultImgs[i] = resultImg
	}

	return resultImgs, meta, nil
}

func (s *debugCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	return nil, errors.New("next point cloud not implemented")
}

func (s *debugCamera) Properties(ctx context.Context) (camera.Properties, error) {
	return s.underlyingCam.Properties(ctx)
}

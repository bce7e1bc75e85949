// Command cli runs the marker tracking engine without a machine config,
// either over a single image file or against a live camera on a remote
// machine. Useful for tuning thresholds and validating pattern files.
package main

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/erh/vmodutils"
	"github.com/spf13/viper"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"

	"markertracker/engine"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("cli")

	viper.SetConfigName("tracker")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if len(os.Args) > 1 {
		viper.SetConfigFile(os.Args[1])
	}
	viper.SetDefault("frames", 30)
	viper.SetDefault("update_rate_hz", 10.0)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	eng := engine.New(logger)
	if err := eng.Initialize(); err != nil {
		return err
	}
	defer eng.Shutdown()

	calib, err := os.ReadFile(viper.GetString("calibration_file"))
	if err != nil {
		return fmt.Errorf("failed to read calibration file: %w", err)
	}
	if err := eng.LoadCameraParameters(calib); err != nil {
		return err
	}

	for name, value := range viper.GetStringMap("options") {
		if err := eng.SetOption(name, value); err != nil {
			return err
		}
	}

	if err := registerTrackables(eng); err != nil {
		return err
	}

	if img := viper.GetString("image"); img != "" {
		return runImage(eng, logger, img)
	}
	return runRemote(ctx, eng, logger)
}

func registerTrackables(eng *engine.Engine) error {
	raw, ok := viper.Get("trackables").([]interface{})
	if !ok {
		return nil
	}
	for i, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return fmt.Errorf("trackable %d is not a map", i)
		}
		typ, _ := m["type"].(string)
		width, _ := m["width"].(float64)

		var definition []byte
		if s, ok := m["definition"].(string); ok {
			definition = []byte(s)
		} else if file, ok := m["definition_file"].(string); ok {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("trackable %d: %w", i, err)
			}
			definition = data
		} else {
			return fmt.Errorf("trackable %d: definition or definition_file is required", i)
		}

		id, err := eng.RegisterTrackable(typ, definition, width)
		if err != nil {
			return fmt.Errorf("trackable %d: %w", i, err)
		}
		fmt.Printf("registered %s trackable as id %d\n", typ, id)
	}
	return nil
}

func runImage(eng *engine.Engine, logger logging.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	pix, w, h := rgbaPixels(img)
	if err := eng.SubmitFrame(pix, w, h, time.Now()); err != nil {
		return err
	}
	res, err := eng.RunDetectionCycle()
	if err != nil {
		return err
	}
	logger.Infof("%d regions, %d quads, %d identified", res.Regions, res.Quads, res.Detected)
	printVisible(eng)
	return nil
}

func runRemote(ctx context.Context, eng *engine.Engine, logger logging.Logger) error {
	machine, err := vmodutils.ConnectToMachineFromEnv(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to machine: %w", err)
	}
	defer machine.Close(ctx)

	res, err := machine.ResourceByName(camera.Named(viper.GetString("camera_name")))
	if err != nil {
		return fmt.Errorf("failed to get camera: %w", err)
	}
	cam, ok := res.(camera.Camera)
	if !ok {
		return fmt.Errorf("%s is not a camera", viper.GetString("camera_name"))
	}

	interval := time.Duration(float64(time.Second) / viper.GetFloat64("update_rate_hz"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := viper.GetInt("frames"); n > 0; n-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		imgs, meta, err := cam.Images(ctx, []string{"color"}, nil)
		if err != nil {
			logger.Errorf("failed to get image: %v", err)
			continue
		}
		if len(imgs) == 0 {
			continue
		}
		img, err := imgs[0].Image(ctx)
		if err != nil {
			logger.Errorf("failed to decode image: %v", err)
			continue
		}
		ts := meta.CapturedAt
		if ts.IsZero() {
			ts = time.Now()
		}

		pix, w, h := rgbaPixels(img)
		if err := eng.SubmitFrame(pix, w, h, ts); err != nil {
			return err
		}
		res, err := eng.RunDetectionCycle()
		if err != nil {
			return err
		}
		logger.Infof("%d quads, %d visible", res.Quads, res.Visible)
		printVisible(eng)
	}
	return nil
}

func printVisible(eng *engine.Engine) {
	for _, info := range eng.Trackables() {
		state := eng.QueryTrackable(info.ID)
		if !state.Visible {
			fmt.Printf("trackable %d (%s): not visible\n", info.ID, info.Type)
			continue
		}
		m := state.Matrix
		fmt.Printf("trackable %d (%s): confidence %.2f\n", info.ID, info.Type, state.Confidence)
		for r := 0; r < 3; r++ {
			fmt.Printf("  [% .4f % .4f % .4f % .3f]\n", m[r*4], m[r*4+1], m[r*4+2], m[r*4+3])
		}
	}
}

func rgbaPixels(img image.Image) ([]byte, int, int) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return rgba.Pix, b.Dx(), b.Dy()
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/sketchcam/internal/camera"
	"github.com/ironsheep/sketchcam/internal/config"
	"github.com/ironsheep/sketchcam/internal/dataset"
	"github.com/ironsheep/sketchcam/internal/detection"
	"github.com/ironsheep/sketchcam/internal/imaging"
	"github.com/ironsheep/sketchcam/internal/pipeline"
	"github.com/ironsheep/sketchcam/internal/sketch"
	"github.com/ironsheep/sketchcam/internal/workflow"
)

func newDetector(cfg config.DetectorConfig) (pipeline.Detector, error) {
	switch cfg.Backend {
	case config.DetectorShapes:
		d := detection.NewShapeDetector()
		d.MaxDetections = cfg.MaxDetections
		return d, nil
	case config.DetectorONNX:
		return detection.NewONNXDetector(detection.ONNXConfig{
			ModelPath:     cfg.Model,
			LabelsPath:    cfg.Labels,
			LibraryPath:   cfg.Library,
			MaxDetections: cfg.MaxDetections,
			Threads:       cfg.Threads,
		}), nil
	case config.DetectorWorker:
		return detection.NewWorkerDetector(cfg.CommandArgs(), cfg.Labels), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

// newCamera returns nil for the none backend.
func newCamera(cfg config.CameraConfig) (pipeline.Camera, error) {
	switch cfg.Backend {
	case config.CameraNone:
		return nil, nil
	case config.CameraFFmpeg:
		c := camera.NewFFmpegCamera(cfg.Device)
		if cfg.Binary != "" {
			c.Binary = cfg.Binary
		}
		if cfg.Format != "" {
			c.Format = cfg.Format
		}
		c.Width, c.Height = cfg.Width, cfg.Height
		c.Timeout = cfg.Timeout
		return c, nil
	case config.CameraGoCV:
		index, err := strconv.Atoi(cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("gocv camera device must be an index, got %q", cfg.Device)
		}
		c, err := camera.NewDeviceCamera(index)
		if err != nil {
			return nil, err
		}
		c.Width, c.Height = cfg.Width, cfg.Height
		return c, nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q", cfg.Backend)
	}
}

func newRenderOptions(cfg config.SketchConfig) (sketch.Options, error) {
	opts := sketch.DefaultOptions()
	opts.StrokeWidth = cfg.StrokeWidth
	if cfg.StrokeColor != "" {
		c, err := imaging.ParseColor(cfg.StrokeColor)
		if err != nil {
			return opts, fmt.Errorf("sketch.stroke_color: %w", err)
		}
		opts.StrokeColor = c
	}
	if cfg.Background != "" {
		c, err := imaging.ParseColor(cfg.Background)
		if err != nil {
			return opts, fmt.Errorf("sketch.background: %w", err)
		}
		opts.Background = c
	}
	return opts, nil
}

// newWorkflow wires the configured collaborators into an unconfigured
// Workflow. The caller runs Setup.
func newWorkflow(cfg *config.Config, log logrus.FieldLogger) (*workflow.Workflow, error) {
	det, err := newDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}
	cam, err := newCamera(cfg.Camera)
	if err != nil {
		return nil, err
	}
	renderOpts, err := newRenderOptions(cfg.Sketch)
	if err != nil {
		return nil, err
	}

	deps := workflow.Deps{Detector: det, Camera: cam}
	if cfg.Dataset.Dir != "" {
		ds := dataset.New(cfg.Dataset.Dir, cfg.Dataset.Mapping)
		deps.Dataset = ds
		deps.Renderer = sketch.NewRenderer(ds, renderOpts)
	} else {
		deps.Renderer = sketch.NewRenderer(nil, renderOpts)
	}

	return workflow.New(deps, workflow.Options{
		OutputDir:    cfg.Output.Dir,
		TargetMaxDim: cfg.Process.MaxDim,
		Logger:       log,
	})
}

// Package workflow sequences one frame through the sketch pipeline:
// acquire, scale, detect, select, render and persist.
//
// A Workflow is driven by one caller at a time. Its lifecycle is
//
//	Uninitialized -> Ready -> (Capturing -> Processing -> Persisting -> Ready)* -> Closed
//
// and every operation checks that it is valid in the current state.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/sketchcam/internal/detection"
	"github.com/ironsheep/sketchcam/internal/imaging"
	"github.com/ironsheep/sketchcam/internal/pipeline"
)

// DefaultThreshold is the score cutoff used when no top-K is requested.
const DefaultThreshold = 0.3

// debugTopN is how many detections a debug run logs.
const debugTopN = 10

// Deps are the collaborators a Workflow drives. Detector and Renderer are
// required; Dataset and Camera may be nil.
type Deps struct {
	Detector pipeline.Detector
	Renderer pipeline.Renderer
	Dataset  pipeline.Dataset
	Camera   pipeline.Camera
}

// Options configures a Workflow.
type Options struct {
	// OutputDir receives every result file. Created by Setup.
	OutputDir string

	// TargetMaxDim is the longest side of the detector input.
	TargetMaxDim int

	Logger logrus.FieldLogger
}

// ProcessOptions are the parameters of one Process call.
type ProcessOptions struct {
	// Threshold is the score cutoff when TopX is zero. It is also the cutoff
	// of the annotated raster.
	Threshold float64

	// TopX, when positive, derives the cutoff from the TopX best scores.
	TopX int

	// Debug logs the leading detections and stage timings.
	Debug bool
}

// Workflow owns the pipeline state between acquisition and persistence.
type Workflow struct {
	deps Deps
	opts Options
	log  logrus.FieldLogger

	state     State
	outputDir string
	counter   int

	// Current frame.
	frame       image.Image
	currentPath string

	// Results of the last successful Process call.
	set       *detection.Set
	threshold float64
	labels    []string
	annotated image.Image
	canvas    pipeline.Canvas
	timings   Timings

	lastErr error
}

// New returns an unconfigured Workflow. Call Setup before anything else.
func New(deps Deps, opts Options) (*Workflow, error) {
	if deps.Detector == nil {
		return nil, fmt.Errorf("workflow: detector is required")
	}
	if deps.Renderer == nil {
		return nil, fmt.Errorf("workflow: renderer is required")
	}
	if opts.TargetMaxDim <= 0 {
		opts.TargetMaxDim = imaging.DefaultTargetMaxDim
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "images"
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Workflow{
		deps:      deps,
		opts:      opts,
		log:       log,
		state:     StateUninitialized,
		threshold: DefaultThreshold,
		labels:    []string{},
	}, nil
}

// Setup loads the dataset, renderer and detector, creates the output
// directory and restores the frame counter from the files already in it.
func (w *Workflow) Setup(ctx context.Context) error {
	if w.state != StateUninitialized {
		return precondition("setup", "workflow is %s", w.state)
	}

	if w.deps.Dataset != nil {
		w.log.Info("loading drawing dataset...")
		if err := w.deps.Dataset.Setup(); err != nil {
			return fmt.Errorf("failed to load dataset: %w", err)
		}
	}

	w.log.Info("preparing renderer...")
	if err := w.deps.Renderer.Setup(); err != nil {
		return fmt.Errorf("failed to set up renderer: %w", err)
	}

	w.log.Info("loading detection model...")
	if err := w.deps.Detector.Setup(ctx); err != nil {
		return fmt.Errorf("failed to set up detector: %w", err)
	}

	dir, err := filepath.Abs(w.opts.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	counter, err := scanCounter(dir)
	if err != nil {
		return fmt.Errorf("failed to scan output directory: %w", err)
	}

	w.outputDir = dir
	w.counter = counter
	w.state = StateReady
	w.log.WithFields(logrus.Fields{"dir": dir, "frame": counter}).Info("setup finished")
	return nil
}

// Capture grabs one frame from the camera and makes it the current frame.
func (w *Workflow) Capture(ctx context.Context) (image.Image, error) {
	if w.state != StateReady {
		return nil, precondition("capture", "workflow is %s", w.state)
	}
	if w.deps.Camera == nil {
		return nil, precondition("capture", "no camera configured")
	}

	w.state = StateCapturing
	defer func() { w.state = StateReady }()

	w.log.WithField("frame", w.counter).Info("capturing image")
	img, err := w.deps.Camera.Capture(ctx)
	if err != nil {
		return nil, stageErr("capture", ErrAcquisition, err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, stageErr("capture", ErrAcquisition, errors.New("camera returned an empty frame"))
	}

	w.frame = img
	w.currentPath = ""
	return img, nil
}

// Read loads an image file and makes it the current frame.
func (w *Workflow) Read(path string) (image.Image, error) {
	if w.state != StateReady {
		return nil, precondition("read", "workflow is %s", w.state)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, stageErr("read", ErrAcquisition, err)
	}

	w.frame = img
	w.currentPath = path
	return img, nil
}

// Process runs detection on img and rebuilds the sketch.
//
// A nil img processes the current frame. Failures of the image or the
// detector are logged and recorded in LastError; the previous results stay
// in place and Process returns nil. Only precondition and context errors are
// returned.
func (w *Workflow) Process(ctx context.Context, img image.Image, opts ProcessOptions) error {
	if w.state != StateReady {
		return precondition("process", "workflow is %s", w.state)
	}
	if img == nil {
		if w.frame == nil {
			return precondition("process", "no current frame")
		}
		img = w.frame
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.state = StateProcessing
	defer func() { w.state = StateReady }()

	log := w.log.WithField("frame", w.counter)
	log.Info("processing image...")

	res, err := w.run(ctx, img, opts, log)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		log.WithError(err).Error("processing failed, keeping previous results")
		w.lastErr = err
		return nil
	}

	w.frame = img
	w.set = res.set
	w.threshold = res.threshold
	w.labels = res.labels
	w.annotated = res.annotated
	w.canvas = res.canvas
	w.timings = res.timings
	w.lastErr = nil

	log.WithFields(logrus.Fields{
		"detections": res.set.Len(),
		"accepted":   len(res.labels),
		"threshold":  res.threshold,
	}).Info("processing finished")
	return nil
}

// result is the uncommitted outcome of one Process call.
type result struct {
	set       *detection.Set
	threshold float64
	labels    []string
	annotated image.Image
	canvas    pipeline.Canvas
	timings   Timings
}

func (w *Workflow) run(ctx context.Context, img image.Image, opts ProcessOptions, log logrus.FieldLogger) (*result, error) {
	if img.Bounds().Empty() {
		return nil, stageErr("scale", ErrDetectionInput, errors.New("empty image"))
	}
	watch := newStopwatch()
	var timings Timings

	scaled, _, err := imaging.ScaleToMax(img, w.opts.TargetMaxDim)
	if err != nil {
		return nil, stageErr("scale", ErrDetectionInput, err)
	}
	timings.Scale = watch.Lap()

	set, err := w.deps.Detector.Detect(ctx, scaled)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, stageErr("detect", ErrDetectionInput, err)
	}
	if err := set.Validate(); err != nil {
		return nil, stageErr("detect", ErrDetectionInput, err)
	}
	timings.Detect = watch.Lap()

	annotated, err := w.deps.Detector.Annotate(img, set, opts.Threshold)
	if err != nil {
		return nil, stageErr("annotate", ErrDetectionInput, err)
	}
	timings.Annotate = watch.Lap()

	threshold := EffectiveThreshold(set.Scores, opts.Threshold, opts.TopX)

	bounds := img.Bounds()
	canvas := w.deps.Renderer.NewCanvas(bounds.Dx(), bounds.Dy())
	labels, err := canvas.Draw(set, w.deps.Detector.Labels(), threshold)
	if err != nil {
		return nil, stageErr("draw", ErrDetectionInput, err)
	}
	timings.Draw = watch.Lap()
	timings.Total = watch.Total()

	if opts.Debug {
		w.logTop(log, set)
		log.WithFields(timings.Fields()).Info("stage timings")
	}

	return &result{
		set:       set,
		threshold: threshold,
		labels:    labels,
		annotated: annotated,
		canvas:    canvas,
		timings:   timings,
	}, nil
}

// logTop logs the leading detections in detector order.
func (w *Workflow) logTop(log logrus.FieldLogger, set *detection.Set) {
	names := w.deps.Detector.Labels()
	for i := 0; i < min(debugTopN, set.Len()); i++ {
		log.WithFields(logrus.Fields{
			"rank":  i,
			"label": names.Name(set.Classes[i]),
			"score": set.Scores[i],
		}).Info("detection")
	}
}

// Run performs one full cycle: capture, process and save under the next
// counter based name.
func (w *Workflow) Run(ctx context.Context, opts ProcessOptions) (*Saved, error) {
	log := w.log.WithField("frame", w.counter)
	log.Info("capturing and processing image")

	if _, err := w.Capture(ctx); err != nil {
		log.WithError(err).Error("capture failed")
		return nil, err
	}
	if err := w.Process(ctx, nil, opts); err != nil {
		log.WithError(err).Error("process failed")
		return nil, err
	}
	if err := w.LastError(); err != nil {
		return nil, err
	}
	saved, err := w.SaveResults("", opts.Debug)
	if err != nil {
		log.WithError(err).Error("save failed")
		return nil, err
	}
	return saved, nil
}

// Close releases the detector. The Workflow cannot be used afterwards.
func (w *Workflow) Close() error {
	if w.state == StateClosed {
		return nil
	}
	w.state = StateClosed
	w.canvas = nil
	w.frame = nil
	if err := w.deps.Detector.Close(); err != nil {
		return fmt.Errorf("failed to close detector: %w", err)
	}
	return nil
}

// State returns the lifecycle state.
func (w *Workflow) State() State { return w.state }

// Counter returns the index the next counter based save will use.
func (w *Workflow) Counter() int { return w.counter }

// OutputDir returns the resolved output directory. Empty before Setup.
func (w *Workflow) OutputDir() string { return w.outputDir }

// CurrentPath returns the file the current frame was read from, or "" for
// camera frames.
func (w *Workflow) CurrentPath() string { return w.currentPath }

// Frame returns the current frame.
func (w *Workflow) Frame() image.Image { return w.frame }

// Threshold returns the effective threshold of the last successful Process.
func (w *Workflow) Threshold() float64 { return w.threshold }

// Labels returns the accepted labels of the last successful Process.
func (w *Workflow) Labels() []string {
	out := make([]string, len(w.labels))
	copy(out, w.labels)
	return out
}

// Scores returns every raw score of the last successful Process.
func (w *Workflow) Scores() []float64 {
	if w.set == nil {
		return []float64{}
	}
	out := make([]float64, len(w.set.Scores))
	copy(out, w.set.Scores)
	return out
}

// Detections returns a copy of the last successful detection set.
func (w *Workflow) Detections() *detection.Set {
	return w.set.Clone()
}

// Timings returns the stage timings of the last successful Process.
func (w *Workflow) Timings() Timings { return w.timings }

// LastError returns the failure Process recovered from on its last call, or
// nil when that call succeeded.
func (w *Workflow) LastError() error { return w.lastErr }

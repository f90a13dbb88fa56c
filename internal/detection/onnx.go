package detection

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Tensor names of a TensorFlow object detection export (SSD MobileNet and
// friends) converted with tf2onnx.
const (
	onnxInput      = "input_tensor"
	onnxBoxes      = "detection_boxes"
	onnxClasses    = "detection_classes"
	onnxScores     = "detection_scores"
	onnxNumDetects = "num_detections"
)

// ONNXConfig configures an ONNXDetector.
type ONNXConfig struct {
	// ModelPath is the .onnx model file.
	ModelPath string

	// LabelsPath is a label map in the pbtxt format. Optional.
	LabelsPath string

	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// library's own default lookup.
	LibraryPath string

	// MaxDetections is the fixed row count of the model outputs.
	MaxDetections int

	// Threads limits intra-op parallelism. Zero keeps the runtime default.
	Threads int
}

// ONNXDetector runs an SSD style detection model through onnxruntime.
type ONNXDetector struct {
	cfg    ONNXConfig
	labels LabelMap

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	boxes   *ort.Tensor[float32]
	classes *ort.Tensor[float32]
	scores  *ort.Tensor[float32]
	num     *ort.Tensor[float32]
	ownsEnv bool
}

// NewONNXDetector returns an unloaded detector. Call Setup before Detect.
func NewONNXDetector(cfg ONNXConfig) *ONNXDetector {
	if cfg.MaxDetections <= 0 {
		cfg.MaxDetections = 100
	}
	return &ONNXDetector{cfg: cfg}
}

// Setup initializes the runtime, loads the label map and creates the session.
func (d *ONNXDetector) Setup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		return nil
	}
	if d.cfg.ModelPath == "" {
		return fmt.Errorf("onnx detector: model path is required")
	}

	if d.cfg.LabelsPath != "" {
		labels, err := LoadLabelMap(d.cfg.LabelsPath)
		if err != nil {
			return fmt.Errorf("onnx detector: %w", err)
		}
		d.labels = labels
	}

	if !ort.IsInitialized() {
		if d.cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(d.cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
		d.ownsEnv = true
	}

	if err := d.allocOutputs(); err != nil {
		d.release()
		return err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		d.release()
		return fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if d.cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(d.cfg.Threads); err != nil {
			d.release()
			return fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		d.cfg.ModelPath,
		[]string{onnxInput},
		[]string{onnxBoxes, onnxClasses, onnxScores, onnxNumDetects},
		options,
	)
	if err != nil {
		d.release()
		return fmt.Errorf("failed to load model %s: %w", d.cfg.ModelPath, err)
	}
	d.session = session
	return nil
}

func (d *ONNXDetector) allocOutputs() error {
	n := int64(d.cfg.MaxDetections)
	var err error
	if d.boxes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n, 4)); err != nil {
		return fmt.Errorf("failed to allocate boxes tensor: %w", err)
	}
	if d.classes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n)); err != nil {
		return fmt.Errorf("failed to allocate classes tensor: %w", err)
	}
	if d.scores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n)); err != nil {
		return fmt.Errorf("failed to allocate scores tensor: %w", err)
	}
	if d.num, err = ort.NewEmptyTensor[float32](ort.NewShape(1)); err != nil {
		return fmt.Errorf("failed to allocate count tensor: %w", err)
	}
	return nil
}

// Labels returns the label map loaded at Setup.
func (d *ONNXDetector) Labels() LabelMap {
	return d.labels
}

// Detect runs the model on img. Every output row is returned, including
// padding rows with a zero score; Count carries the model's own count.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) (*Set, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("onnx detector: empty image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, fmt.Errorf("onnx detector: not set up")
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	input, err := ort.NewTensor(ort.NewShape(1, int64(h), int64(w), 3), rgbBytes(img))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{d.boxes, d.classes, d.scores, d.num}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}

	return decodeSSD(d.boxes.GetData(), d.classes.GetData(), d.scores.GetData(), d.num.GetData()[0]), nil
}

// decodeSSD copies the raw output tensors into a Set.
func decodeSSD(boxes, classes, scores []float32, num float32) *Set {
	n := len(scores)
	set := &Set{
		Boxes:   make([][4]float64, n),
		Classes: make([]int, n),
		Scores:  make([]float64, n),
		Count:   int(num),
	}
	for i := 0; i < n; i++ {
		for j := 0; j < 4; j++ {
			set.Boxes[i][j] = float64(boxes[i*4+j])
		}
		set.Classes[i] = int(math.Round(float64(classes[i])))
		set.Scores[i] = float64(scores[i])
	}
	return set
}

// rgbBytes flattens img into NHWC uint8 RGB.
func rgbBytes(img image.Image) []uint8 {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	w, h := b.Dx(), b.Dy()
	out := make([]uint8, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < w; x++ {
			out = append(out, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return out
}

// Annotate draws the accepted detections with this detector's labels.
func (d *ONNXDetector) Annotate(img image.Image, set *Set, threshold float64) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("cannot annotate an empty image")
	}
	return Annotate(img, set, d.labels, threshold), nil
}

// Close releases the session and, if Setup created it, the environment.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release()
}

func (d *ONNXDetector) release() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.session != nil {
		keep(d.session.Destroy())
		d.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{d.boxes, d.classes, d.scores, d.num} {
		if t != nil {
			keep(t.Destroy())
		}
	}
	d.boxes, d.classes, d.scores, d.num = nil, nil, nil, nil

	if d.ownsEnv {
		keep(ort.DestroyEnvironment())
		d.ownsEnv = false
	}
	return firstErr
}

package workflow

import (
	"context"
	"errors"
	"image"
	"image/color"

	"github.com/ironsheep/sketchcam/internal/detection"
	"github.com/ironsheep/sketchcam/internal/imaging"
	"github.com/ironsheep/sketchcam/internal/pipeline"
)

// fakeDetector returns a fixed detection set.
type fakeDetector struct {
	set      *detection.Set
	err      error
	setupErr error
	closeErr error

	setups      int
	closed      int
	inputs      []image.Rectangle
	annotatedAt []float64
}

func (d *fakeDetector) Setup(ctx context.Context) error {
	d.setups++
	return d.setupErr
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) (*detection.Set, error) {
	d.inputs = append(d.inputs, img.Bounds())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.set.Clone(), nil
}

func (d *fakeDetector) Annotate(img image.Image, set *detection.Set, threshold float64) (image.Image, error) {
	d.annotatedAt = append(d.annotatedAt, threshold)
	return detection.Annotate(img, set, d.Labels(), threshold), nil
}

func (d *fakeDetector) Labels() detection.LabelMap {
	return detection.LabelMap{
		1: {ID: 1, Name: "person"},
		2: {ID: 2, Name: "bicycle"},
		3: {ID: 3, Name: "cat"},
	}
}

func (d *fakeDetector) Close() error {
	d.closed++
	return d.closeErr
}

// fakeRenderer records every canvas it hands out.
type fakeRenderer struct {
	setupErr error
	drawErr  error
	saveErr  error
	canvases []*fakeCanvas
}

func (r *fakeRenderer) Setup() error { return r.setupErr }

func (r *fakeRenderer) NewCanvas(width, height int) pipeline.Canvas {
	c := &fakeCanvas{width: width, height: height, drawErr: r.drawErr, saveErr: r.saveErr}
	r.canvases = append(r.canvases, c)
	return c
}

func (r *fakeRenderer) last() *fakeCanvas {
	if len(r.canvases) == 0 {
		return nil
	}
	return r.canvases[len(r.canvases)-1]
}

type fakeCanvas struct {
	width, height int
	drawErr       error
	saveErr       error
	drawn         int
	thresholds    []float64
}

func (c *fakeCanvas) Draw(set *detection.Set, labels detection.LabelMap, threshold float64) ([]string, error) {
	c.thresholds = append(c.thresholds, threshold)
	if c.drawErr != nil {
		return nil, c.drawErr
	}
	out := []string{}
	for _, i := range set.Accepted(threshold) {
		out = append(out, detection.FormatLabel(labels.Name(set.Classes[i]), set.Scores[i]))
		c.drawn++
	}
	return out, nil
}

func (c *fakeCanvas) SavePNG(path string) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	return imaging.SavePNG(path, c.Raster())
}

func (c *fakeCanvas) Raster() image.Image {
	return image.NewRGBA(image.Rect(0, 0, c.width, c.height))
}

type fakeCamera struct {
	img   image.Image
	err   error
	calls int
}

func (c *fakeCamera) Capture(ctx context.Context) (image.Image, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.img, nil
}

type fakeDataset struct {
	err   error
	calls int
}

func (d *fakeDataset) Setup() error {
	d.calls++
	return d.err
}

var errBoom = errors.New("boom")

func sampleSet() *detection.Set {
	return &detection.Set{
		Boxes: [][4]float64{
			{0.1, 0.1, 0.5, 0.5},
			{0.2, 0.5, 0.6, 0.9},
			{0.5, 0.1, 0.9, 0.4},
			{0.0, 0.0, 0.2, 0.2},
			{0.7, 0.7, 0.8, 0.8},
		},
		Classes: []int{1, 2, 3, 1, 2},
		Scores:  []float64{0.9, 0.8, 0.8, 0.3, 0.1},
		Count:   5,
	}
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	return img
}

// Package sketch draws detections as hand drawn vector sketches.
//
// Every accepted detection is replaced by a reference drawing of its label,
// scaled into the detection box. Labels the drawing source does not know are
// drawn as a loose rectangle. Strokes are kept as polylines and rasterized
// with golang.org/x/image/vector only when a raster is requested.
package sketch

import (
	"fmt"
	"image/color"

	"github.com/ironsheep/sketchcam/internal/dataset"
	"github.com/ironsheep/sketchcam/internal/pipeline"
)

// Default canvas size used to pre-warm the renderer.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// DrawingSource provides reference drawings by label.
type DrawingSource interface {
	Drawing(label string) (dataset.Drawing, error)
}

// Options controls the look of a sketch.
type Options struct {
	StrokeWidth float64
	StrokeColor color.Color
	Background  color.Color

	// Padding is the fraction of the box left empty on each side of a
	// fitted drawing.
	Padding float64
}

// DefaultOptions returns black 2px strokes on white.
func DefaultOptions() Options {
	return Options{
		StrokeWidth: 2,
		StrokeColor: color.Black,
		Background:  color.White,
		Padding:     0.05,
	}
}

// Renderer creates canvases sharing one drawing source.
type Renderer struct {
	source DrawingSource
	opts   Options
}

// NewRenderer returns a renderer. source may be nil, in which case every
// detection is drawn as a rectangle. Zero option fields take defaults.
func NewRenderer(source DrawingSource, opts Options) *Renderer {
	def := DefaultOptions()
	if opts.StrokeWidth <= 0 {
		opts.StrokeWidth = def.StrokeWidth
	}
	if opts.StrokeColor == nil {
		opts.StrokeColor = def.StrokeColor
	}
	if opts.Background == nil {
		opts.Background = def.Background
	}
	if opts.Padding < 0 || opts.Padding >= 0.5 {
		opts.Padding = def.Padding
	}
	return &Renderer{source: source, opts: opts}
}

// Setup renders an empty default sized canvas once so the first frame does
// not pay for lazy initialization.
func (r *Renderer) Setup() error {
	c := r.newCanvas(DefaultWidth, DefaultHeight)
	if img := c.Raster(); img.Bounds().Dx() != DefaultWidth {
		return fmt.Errorf("renderer produced a %v raster", img.Bounds())
	}
	return nil
}

// NewCanvas returns an empty canvas of the given pixel size.
func (r *Renderer) NewCanvas(width, height int) pipeline.Canvas {
	return r.newCanvas(width, height)
}

func (r *Renderer) newCanvas(width, height int) *Canvas {
	return &Canvas{
		width:  max(width, 1),
		height: max(height, 1),
		opts:   r.opts,
		source: r.source,
	}
}

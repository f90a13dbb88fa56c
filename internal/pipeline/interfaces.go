// Package pipeline declares the collaborators a sketch workflow is built
// from. Concrete implementations live in the detection, sketch, dataset and
// camera packages; tests substitute fakes.
package pipeline

import (
	"context"
	"image"

	"github.com/ironsheep/sketchcam/internal/detection"
)

// Detector finds objects in an image.
type Detector interface {
	// Setup loads the model. It is called once before the first Detect.
	Setup(ctx context.Context) error

	// Detect returns every detection the model reports for img. Callers do
	// the filtering.
	Detect(ctx context.Context, img image.Image) (*detection.Set, error)

	// Annotate draws detections scoring at least threshold onto a copy of
	// img.
	Annotate(img image.Image, set *detection.Set, threshold float64) (image.Image, error)

	// Labels maps class ids to names.
	Labels() detection.LabelMap

	Close() error
}

// Renderer creates sketch canvases.
type Renderer interface {
	Setup() error
	NewCanvas(width, height int) Canvas
}

// Canvas is a vector drawing of one frame's detections.
type Canvas interface {
	// Draw adds one sketch per detection scoring at least threshold and
	// returns the labels it drew, in detection order.
	Draw(set *detection.Set, labels detection.LabelMap, threshold float64) ([]string, error)

	// SavePNG rasterizes the canvas to path.
	SavePNG(path string) error

	// Raster returns the current rasterization.
	Raster() image.Image
}

// Dataset is the drawing collection a renderer draws from.
type Dataset interface {
	Setup() error
}

// Camera produces frames.
type Camera interface {
	Capture(ctx context.Context) (image.Image, error)
}

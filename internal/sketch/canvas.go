package sketch

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"

	"golang.org/x/image/vector"

	"github.com/ironsheep/sketchcam/internal/dataset"
	"github.com/ironsheep/sketchcam/internal/detection"
	"github.com/ironsheep/sketchcam/internal/imaging"
)

// overshoot is how far fallback rectangle edges run past the corners,
// relative to the shorter box side.
const overshoot = 0.06

type pt struct {
	X, Y float64
}

// Canvas collects stroke polylines in pixel coordinates.
type Canvas struct {
	width, height int
	opts          Options
	source        DrawingSource
	paths         [][]pt
}

// strokes returns the number of polylines on the canvas.
func (c *Canvas) strokes() int {
	return len(c.paths)
}

// Draw adds a sketch for every detection scoring at least threshold and
// returns their captions in detection order.
func (c *Canvas) Draw(set *detection.Set, labels detection.LabelMap, threshold float64) ([]string, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	drawn := []string{}
	for _, i := range set.Accepted(threshold) {
		score := set.Scores[i]
		name := labels.Name(set.Classes[i])
		rect := detection.PixelRect(set.Boxes[i], c.width, c.height)

		if err := c.drawObject(name, rect); err != nil {
			return nil, fmt.Errorf("failed to draw %s: %w", name, err)
		}
		drawn = append(drawn, detection.FormatLabel(name, score))
	}
	return drawn, nil
}

func (c *Canvas) drawObject(name string, rect image.Rectangle) error {
	if c.source == nil {
		c.addRectangle(rect)
		return nil
	}
	drawing, err := c.source.Drawing(name)
	if errors.Is(err, dataset.ErrNoDrawing) {
		c.addRectangle(rect)
		return nil
	}
	if err != nil {
		return err
	}
	if !c.addDrawing(drawing, rect) {
		c.addRectangle(rect)
	}
	return nil
}

// addDrawing fits drawing into rect with uniform scale, centered.
func (c *Canvas) addDrawing(d dataset.Drawing, rect image.Rectangle) bool {
	minX, minY, maxX, maxY, ok := d.Bounds()
	if !ok || rect.Empty() {
		return false
	}

	padX := float64(rect.Dx()) * c.opts.Padding
	padY := float64(rect.Dy()) * c.opts.Padding
	boxW := float64(rect.Dx()) - 2*padX
	boxH := float64(rect.Dy()) - 2*padY

	dw := max(maxX-minX, 1)
	dh := max(maxY-minY, 1)
	scale := min(boxW/dw, boxH/dh)

	offX := float64(rect.Min.X) + padX + (boxW-(maxX-minX)*scale)/2
	offY := float64(rect.Min.Y) + padY + (boxH-(maxY-minY)*scale)/2

	for _, s := range d.Strokes {
		if len(s.X) == 0 {
			continue
		}
		path := make([]pt, len(s.X))
		for i := range s.X {
			path[i] = pt{
				X: offX + (s.X[i]-minX)*scale,
				Y: offY + (s.Y[i]-minY)*scale,
			}
		}
		c.paths = append(c.paths, path)
	}
	return true
}

// addRectangle outlines rect with four strokes that overshoot the corners.
func (c *Canvas) addRectangle(rect image.Rectangle) {
	x0, y0 := float64(rect.Min.X), float64(rect.Min.Y)
	x1, y1 := float64(rect.Max.X), float64(rect.Max.Y)
	o := min(x1-x0, y1-y0) * overshoot

	c.paths = append(c.paths,
		[]pt{{x0 - o, y0}, {x1 + o, y0}},
		[]pt{{x1, y0 - o}, {x1, y1 + o}},
		[]pt{{x1 + o, y1}, {x0 - o, y1}},
		[]pt{{x0, y1 + o}, {x0, y0 - o}},
	)
}

// Raster renders the strokes onto the background.
func (c *Canvas) Raster() image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c.opts.Background), image.Point{}, draw.Src)
	if len(c.paths) == 0 {
		return dst
	}

	z := vector.NewRasterizer(c.width, c.height)
	z.DrawOp = draw.Over
	half := c.opts.StrokeWidth / 2
	for _, path := range c.paths {
		for i, p := range path {
			addPolygon(z, square(p, half))
			if i > 0 {
				if quad, ok := segment(path[i-1], p, half); ok {
					addPolygon(z, quad)
				}
			}
		}
	}
	z.Draw(dst, dst.Bounds(), image.NewUniform(c.opts.StrokeColor), image.Point{})
	return dst
}

// SavePNG rasterizes the canvas and writes it to path.
func (c *Canvas) SavePNG(path string) error {
	return imaging.SavePNG(path, c.Raster())
}

// segment returns the quad covering the line from a to b with half width
// hw. It reports false for a zero length segment.
func segment(a, b pt, hw float64) ([]pt, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return nil, false
	}
	nx, ny := -dy/length*hw, dx/length*hw
	return []pt{
		{a.X + nx, a.Y + ny},
		{b.X + nx, b.Y + ny},
		{b.X - nx, b.Y - ny},
		{a.X - nx, a.Y - ny},
	}, true
}

// square is the join cap drawn at every stroke point.
func square(p pt, hw float64) []pt {
	return []pt{
		{p.X - hw, p.Y - hw},
		{p.X + hw, p.Y - hw},
		{p.X + hw, p.Y + hw},
		{p.X - hw, p.Y + hw},
	}
}

// addPolygon adds poly to z with a fixed winding. The rasterizer sums signed
// coverage, so overlapping shapes must wind the same way or they cancel.
func addPolygon(z *vector.Rasterizer, poly []pt) {
	if signedArea(poly) < 0 {
		for i, j := 0, len(poly)-1; i < j; i, j = i+1, j-1 {
			poly[i], poly[j] = poly[j], poly[i]
		}
	}
	z.MoveTo(float32(poly[0].X), float32(poly[0].Y))
	for _, p := range poly[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
}

func signedArea(poly []pt) float64 {
	var a float64
	for i := range poly {
		j := (i + 1) % len(poly)
		a += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return a / 2
}

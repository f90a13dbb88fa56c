package detection

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/sketchcam/internal/imaging"
)

const (
	boxThickness = 2
	captionPad   = 2
)

// Annotate draws every detection with score >= threshold onto a copy of img.
//
// Each accepted box is outlined in its class color and captioned with
// "<name>: <pct>%". The returned raster is always anchored at (0,0) and has
// the same size as img; img itself is not modified.
func Annotate(img image.Image, set *Set, labels LabelMap, threshold float64) *image.RGBA {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)

	for _, i := range set.Accepted(threshold) {
		rect := PixelRect(set.Boxes[i], width, height)
		c := imaging.ClassColor(set.Classes[i])
		drawBox(out, rect, c, boxThickness)
		drawCaption(out, rect.Min, FormatLabel(labels.Name(set.Classes[i]), set.Scores[i]), c)
	}

	return out
}

// drawBox outlines rect with the given line thickness, clipped to dst.
func drawBox(dst *image.RGBA, rect image.Rectangle, c color.RGBA, thickness int) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness),
		image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y),
		image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawCaption writes text on a filled background just above anchor, or just
// inside the box when there is no room above it.
func drawCaption(dst *image.RGBA, anchor image.Point, text string, bg color.RGBA) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil()
	textHeight := face.Metrics().Height.Ceil()

	top := anchor.Y - textHeight - 2*captionPad
	if top < dst.Bounds().Min.Y {
		top = anchor.Y
	}
	background := image.Rect(anchor.X, top, anchor.X+textWidth+2*captionPad, top+textHeight+2*captionPad)
	draw.Draw(dst, background.Intersect(dst.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(anchor.X+captionPad, top+captionPad+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}

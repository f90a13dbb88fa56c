package imaging

import (
	"fmt"
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// goldenAngle spreads consecutive class ids around the hue wheel.
const goldenAngle = 137.508

// ClassColor returns a stable, saturated color for a detector class id.
func ClassColor(class int) color.RGBA {
	hue := math.Mod(float64(class)*goldenAngle, 360)
	if hue < 0 {
		hue += 360
	}
	r, g, b := colorful.Hsv(hue, 0.8, 0.85).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// ParseColor parses a "#RRGGBB" hex string into an opaque color.
func ParseColor(hex string) (color.RGBA, error) {
	if hex == "" {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] != '#' {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

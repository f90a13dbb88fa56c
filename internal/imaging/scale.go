package imaging

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// DefaultTargetMaxDim bounds the longest side of the image handed to a
// detector.
const DefaultTargetMaxDim = 300

// ScaleFactor returns target / max(width, height) for img.
func ScaleFactor(img image.Image, target int) (float64, error) {
	if empty(img) {
		return 0, fmt.Errorf("cannot scale an empty image")
	}
	if target <= 0 {
		return 0, fmt.Errorf("invalid target dimension %d", target)
	}
	w, h := Dimensions(img)
	longest := w
	if h > longest {
		longest = h
	}
	return float64(target) / float64(longest), nil
}

// Scale resizes img by s on both axes using Lanczos resampling.
func Scale(img image.Image, s float64) (image.Image, error) {
	if empty(img) {
		return nil, fmt.Errorf("cannot scale an empty image")
	}
	if s <= 0 {
		return nil, fmt.Errorf("invalid scale factor %v", s)
	}
	w, h := Dimensions(img)
	nw, nh := scaledSize(w, h, s)
	return imaging.Resize(img, nw, nh, imaging.Lanczos), nil
}

// ScaleToMax resizes img so that its longest side equals target and returns
// the resized copy together with the factor that was applied.
func ScaleToMax(img image.Image, target int) (image.Image, float64, error) {
	s, err := ScaleFactor(img, target)
	if err != nil {
		return nil, 0, err
	}
	scaled, err := Scale(img, s)
	if err != nil {
		return nil, 0, err
	}
	return scaled, s, nil
}

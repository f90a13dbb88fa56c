package imaging

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/imgio"
)

// SavePNG encodes img as PNG and writes it to path.
func SavePNG(path string, img image.Image) error {
	if empty(img) {
		return fmt.Errorf("refusing to save an empty image to %s", path)
	}
	if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

package imaging

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"math"

	"github.com/disintegration/imaging"
)

// Open decodes the image stored at path.
//
// Supported formats are PNG, JPEG, and GIF. JPEG files carrying an EXIF
// orientation tag are rotated so the returned image is upright, which is
// what camera captures on disk usually need.
//
// # Errors
//
//   - Returns error if the file does not exist or cannot be read
//   - Returns error if the file is not a decodable image
//   - Returns error if the decoded image is empty
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	if empty(img) {
		return nil, fmt.Errorf("image %s has no pixels", path)
	}
	return img, nil
}

// Decode reads one image from r.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if empty(img) {
		return nil, fmt.Errorf("decoded image has no pixels")
	}
	return img, nil
}

// Dimensions returns the width and height of img.
func Dimensions(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func empty(img image.Image) bool {
	if img == nil {
		return true
	}
	b := img.Bounds()
	return b.Dx() <= 0 || b.Dy() <= 0
}

// scaledSize applies s to a width/height pair, never returning less than one
// pixel on either axis.
func scaledSize(width, height int, s float64) (int, int) {
	w := int(math.Round(float64(width) * s))
	h := int(math.Round(float64(height) * s))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

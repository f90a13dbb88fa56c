//go:build !gocv

package camera

import (
	"context"
	"fmt"
	"image"
)

// DeviceCamera is unavailable without the gocv build tag.
type DeviceCamera struct {
	Device int
	Width  int
	Height int
}

// NewDeviceCamera reports that OpenCV support was not compiled in.
func NewDeviceCamera(device int) (*DeviceCamera, error) {
	return nil, fmt.Errorf("camera %d: built without OpenCV support (rebuild with -tags gocv)", device)
}

// Capture always fails.
func (c *DeviceCamera) Capture(ctx context.Context) (image.Image, error) {
	return nil, fmt.Errorf("camera: built without OpenCV support")
}

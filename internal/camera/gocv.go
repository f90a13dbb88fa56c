//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// DeviceCamera captures frames through OpenCV. The device is opened and
// released on every call so a camera can be shared with other programs
// between frames.
type DeviceCamera struct {
	Device int
	Width  int
	Height int
}

// NewDeviceCamera returns a camera for the given device index.
func NewDeviceCamera(device int) (*DeviceCamera, error) {
	return &DeviceCamera{Device: device, Width: DefaultWidth, Height: DefaultHeight}, nil
}

// Capture reads one frame.
func (c *DeviceCamera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(c.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", c.Device, err)
	}
	defer capture.Close()

	if c.Width > 0 && c.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}

	frame := gocv.NewMat()
	defer frame.Close()

	if ok := capture.Read(&frame); !ok || frame.Empty() {
		return nil, ErrNoFrame
	}

	img, err := frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

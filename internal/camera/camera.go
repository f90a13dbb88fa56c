// Package camera grabs single frames from a video device.
//
// Two backends exist. FFmpegCamera shells out to ffmpeg and needs nothing
// but the binary. DeviceCamera talks to the device through OpenCV and is
// only available when built with the gocv tag.
package camera

import "errors"

// Default capture size.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrNoFrame is returned when the device produced no image.
var ErrNoFrame = errors.New("camera returned no frame")

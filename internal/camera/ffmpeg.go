package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

// maxFrameSize bounds one MJPEG frame read from ffmpeg.
const maxFrameSize = 32 << 20

// FFmpegCamera captures one frame per call by running ffmpeg.
type FFmpegCamera struct {
	// Binary is the ffmpeg executable. Defaults to "ffmpeg".
	Binary string

	// Format is the ffmpeg input format, e.g. v4l2, avfoundation or dshow.
	// Empty picks the platform default.
	Format string

	// Device is the ffmpeg input, e.g. /dev/video0.
	Device string

	Width  int
	Height int

	// Timeout bounds a single capture. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// NewFFmpegCamera returns a camera for device with the default frame size.
func NewFFmpegCamera(device string) *FFmpegCamera {
	return &FFmpegCamera{
		Binary: "ffmpeg",
		Format: defaultFormat(),
		Device: device,
		Width:  DefaultWidth,
		Height: DefaultHeight,
	}
}

func defaultFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

// Args returns the ffmpeg arguments for one capture.
func (c *FFmpegCamera) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if c.Format != "" {
		args = append(args, "-f", c.Format)
	}
	if c.Width > 0 && c.Height > 0 {
		args = append(args, "-video_size", strconv.Itoa(c.Width)+"x"+strconv.Itoa(c.Height))
	}
	return append(args,
		"-i", c.Device,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
}

// Capture runs ffmpeg and decodes the first frame it emits.
func (c *FFmpegCamera) Capture(ctx context.Context) (image.Image, error) {
	if c.Device == "" {
		return nil, fmt.Errorf("ffmpeg camera: no device configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	binary := c.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, binary, c.Args()...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	img, readErr := ReadFrame(stdout)
	// Drain so ffmpeg is not blocked on a full pipe before Wait.
	io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if readErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("capture from %s: %w", c.Device, ctxErr)
		}
		if waitErr != nil && stderr.Len() > 0 {
			return nil, fmt.Errorf("ffmpeg failed: %w\n%s", waitErr, stderr.String())
		}
		return nil, readErr
	}
	return img, nil
}

// ReadFrame decodes the first JPEG found in r.
func ReadFrame(r io.Reader) (image.Image, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameSize)
	scanner.Split(SplitJPEG)

	for scanner.Scan() {
		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}
		return img, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return nil, ErrNoFrame
}

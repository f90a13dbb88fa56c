package detection

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"sync"
)

// maxReplySize bounds a single worker reply.
const maxReplySize = 64 << 20

// lockedBuffer collects the worker's stderr. os/exec copies into it from its
// own goroutine while Detect may be reading it.
type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// WorkerReply is the JSON document a detection worker sends back.
type WorkerReply struct {
	Boxes   [][4]float64 `json:"boxes"`
	Classes []int        `json:"classes"`
	Scores  []float64    `json:"scores"`
	Count   int          `json:"count"`
	Error   string       `json:"error,omitempty"`
}

// WorkerDetector delegates detection to an external process, typically a
// Python script hosting a TensorFlow model.
//
// Protocol: each request is a big endian uint32 length followed by a PNG
// encoded frame, written to the worker's stdin. The worker answers on file
// descriptor 3 with a length prefixed JSON WorkerReply. Stdout stays free for
// the worker's own logging and stderr is captured for crash reports.
type WorkerDetector struct {
	Command    []string
	LabelsPath string

	labels LabelMap

	mu       sync.Mutex
	cmd      *exec.Cmd
	stderr   *lockedBuffer
	stdin    io.WriteCloser
	dataPipe io.ReadCloser
}

// NewWorkerDetector returns a detector that will start command at Setup.
func NewWorkerDetector(command []string, labelsPath string) *WorkerDetector {
	return &WorkerDetector{Command: command, LabelsPath: labelsPath}
}

// Setup starts the worker process.
func (d *WorkerDetector) Setup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil {
		return nil
	}
	if len(d.Command) == 0 {
		return fmt.Errorf("worker detector: command is required")
	}

	if d.LabelsPath != "" {
		labels, err := LoadLabelMap(d.LabelsPath)
		if err != nil {
			return fmt.Errorf("worker detector: %w", err)
		}
		d.labels = labels
	}

	cmd := exec.Command(d.Command[0], d.Command[1:]...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	// Side channel for replies. The child sees the write end as fd 3.
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return fmt.Errorf("worker failed to start: %w", err)
	}

	// Only the child holds the write end from here on.
	w.Close()

	d.cmd = cmd
	d.stderr = stderr
	d.stdin = stdin
	d.dataPipe = r
	return nil
}

// Labels returns the label map loaded at Setup.
func (d *WorkerDetector) Labels() LabelMap {
	return d.labels
}

// Detect sends img to the worker and waits for its reply.
func (d *WorkerDetector) Detect(ctx context.Context, img image.Image) (*Set, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("worker detector: empty image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stdin == nil || d.dataPipe == nil {
		return nil, fmt.Errorf("worker detector: not set up")
	}

	set, err := d.communicate(buf.Bytes())
	if err != nil && d.stderr != nil {
		if msg := d.stderr.String(); msg != "" {
			return nil, fmt.Errorf("%w\nworker stderr:\n%s", err, msg)
		}
	}
	return set, err
}

// communicate performs one request/reply round trip.
func (d *WorkerDetector) communicate(frame []byte) (*Set, error) {
	if err := binary.Write(d.stdin, binary.BigEndian, uint32(len(frame))); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := d.stdin.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(d.dataPipe, header); err != nil {
		return nil, fmt.Errorf("failed to read reply header: %w", err)
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxReplySize {
		return nil, fmt.Errorf("worker reply too large: %d bytes", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(d.dataPipe, body); err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}

	var reply WorkerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("invalid worker reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("worker error: %s", reply.Error)
	}

	set := &Set{
		Boxes:   reply.Boxes,
		Classes: reply.Classes,
		Scores:  reply.Scores,
		Count:   reply.Count,
	}
	if set.Boxes == nil {
		set.Boxes = [][4]float64{}
	}
	if set.Classes == nil {
		set.Classes = []int{}
	}
	if set.Scores == nil {
		set.Scores = []float64{}
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker reply: %w", err)
	}
	return set, nil
}

// Annotate draws the accepted detections with this detector's labels.
func (d *WorkerDetector) Annotate(img image.Image, set *Set, threshold float64) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("cannot annotate an empty image")
	}
	return Annotate(img, set, d.labels, threshold), nil
}

// Close stops the worker. Closing stdin is the worker's signal to exit.
func (d *WorkerDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stdin != nil {
		d.stdin.Close()
		d.stdin = nil
	}
	if d.dataPipe != nil {
		d.dataPipe.Close()
		d.dataPipe = nil
	}
	var err error
	if d.cmd != nil {
		err = d.cmd.Wait()
		d.cmd = nil
	}
	return err
}

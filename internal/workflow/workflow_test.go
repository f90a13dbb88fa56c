package workflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ironsheep/sketchcam/internal/detection"
	"github.com/ironsheep/sketchcam/internal/imaging"
)

type harness struct {
	w        *Workflow
	det      *fakeDetector
	renderer *fakeRenderer
	camera   *fakeCamera
	dataset  *fakeDataset
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		det:      &fakeDetector{set: sampleSet()},
		renderer: &fakeRenderer{},
		camera:   &fakeCamera{img: testImage(640, 480)},
		dataset:  &fakeDataset{},
		dir:      filepath.Join(t.TempDir(), "out"),
	}
	w, err := New(Deps{
		Detector: h.det,
		Renderer: h.renderer,
		Dataset:  h.dataset,
		Camera:   h.camera,
	}, Options{OutputDir: h.dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.w = w
	return h
}

func (h *harness) setup(t *testing.T) {
	t.Helper()
	if err := h.w.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{Renderer: &fakeRenderer{}}, Options{}); err == nil {
		t.Error("expected error without detector")
	}
	if _, err := New(Deps{Detector: &fakeDetector{}}, Options{}); err == nil {
		t.Error("expected error without renderer")
	}
}

func TestWorkflow_Setup(t *testing.T) {
	h := newHarness(t)
	if h.w.State() != StateUninitialized {
		t.Fatalf("initial state: %v", h.w.State())
	}
	h.setup(t)

	if h.w.State() != StateReady {
		t.Errorf("state after setup: %v", h.w.State())
	}
	if h.dataset.calls != 1 || h.det.setups != 1 {
		t.Errorf("collaborators not set up: dataset=%d detector=%d", h.dataset.calls, h.det.setups)
	}
	if info, err := os.Stat(h.dir); err != nil || !info.IsDir() {
		t.Errorf("output directory not created: %v", err)
	}
	if h.w.Counter() != 0 {
		t.Errorf("fresh counter: got %d, want 0", h.w.Counter())
	}
	if !filepath.IsAbs(h.w.OutputDir()) {
		t.Errorf("output dir not absolute: %s", h.w.OutputDir())
	}

	err := h.w.Setup(context.Background())
	if !errors.Is(err, ErrPrecondition) {
		t.Errorf("second Setup: got %v, want ErrPrecondition", err)
	}
}

func TestWorkflow_SetupFailures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(h *harness)
	}{
		{"dataset", func(h *harness) { h.dataset.err = errBoom }},
		{"renderer", func(h *harness) { h.renderer.setupErr = errBoom }},
		{"detector", func(h *harness) { h.det.setupErr = errBoom }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.prepare(h)
			err := h.w.Setup(context.Background())
			if !errors.Is(err, errBoom) {
				t.Fatalf("got %v, want wrapped errBoom", err)
			}
			if h.w.State() != StateUninitialized {
				t.Errorf("state after failed setup: %v", h.w.State())
			}
		})
	}
}

func TestWorkflow_CounterRestoredOnRestart(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	fresh := h.w.Counter()

	if err := h.w.Process(context.Background(), testImage(64, 48), ProcessOptions{Threshold: 0.3}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, err := h.w.SaveResults("", false); err != nil {
		t.Fatalf("SaveResults failed: %v", err)
	}

	// Unrelated files must not influence the counter.
	os.WriteFile(filepath.Join(h.dir, "frame99.jpg"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(h.dir, "frameX_sketch.png"), []byte("x"), 0644)

	restarted, err := New(Deps{Detector: &fakeDetector{set: sampleSet()}, Renderer: &fakeRenderer{}}, Options{OutputDir: h.dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := restarted.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if restarted.Counter() <= fresh {
		t.Errorf("restart counter %d not greater than fresh %d", restarted.Counter(), fresh)
	}
	if restarted.Counter() != 1 {
		t.Errorf("restart counter: got %d, want 1", restarted.Counter())
	}
}

func TestScanCounter(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame3_sketch.png", "frame12_sketch.png", "frame40_labels.txt", "photo_sketch.png"} {
		os.WriteFile(filepath.Join(dir, name), nil, 0644)
	}
	os.Mkdir(filepath.Join(dir, "frame90_sketch.png"), 0755)

	got, err := scanCounter(dir)
	if err != nil {
		t.Fatalf("scanCounter failed: %v", err)
	}
	if got != 13 {
		t.Errorf("got %d, want 13", got)
	}
}

func TestWorkflow_Preconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	checks := func(stage string) {
		t.Helper()
		if _, err := h.w.Capture(ctx); !errors.Is(err, ErrPrecondition) {
			t.Errorf("%s Capture: got %v", stage, err)
		}
		if _, err := h.w.Read("x.png"); !errors.Is(err, ErrPrecondition) {
			t.Errorf("%s Read: got %v", stage, err)
		}
		if err := h.w.Process(ctx, testImage(8, 8), ProcessOptions{}); !errors.Is(err, ErrPrecondition) {
			t.Errorf("%s Process: got %v", stage, err)
		}
		if _, err := h.w.SaveResults("a", false); !errors.Is(err, ErrPrecondition) {
			t.Errorf("%s SaveResults: got %v", stage, err)
		}
	}

	checks("before setup")

	h.setup(t)
	if _, err := h.w.SaveResults("a", false); !errors.Is(err, ErrPrecondition) {
		t.Errorf("save before process: got %v", err)
	}
	if err := h.w.Process(ctx, nil, ProcessOptions{}); !errors.Is(err, ErrPrecondition) {
		t.Errorf("process without frame: got %v", err)
	}

	if err := h.w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if h.w.State() != StateClosed || h.det.closed != 1 {
		t.Errorf("close: state=%v detector closed %d times", h.w.State(), h.det.closed)
	}
	checks("after close")

	if err := h.w.Close(); err != nil || h.det.closed != 1 {
		t.Errorf("second Close: err=%v closed=%d", err, h.det.closed)
	}
}

func TestWorkflow_Capture(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		h := newHarness(t)
		h.setup(t)
		img, err := h.w.Capture(ctx)
		if err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
		if img.Bounds().Dx() != 640 || h.w.Frame() == nil {
			t.Errorf("frame not stored")
		}
		if h.w.Counter() != 0 {
			t.Errorf("capture advanced the counter to %d", h.w.Counter())
		}
		if h.w.State() != StateReady {
			t.Errorf("state after capture: %v", h.w.State())
		}
	})

	t.Run("device error", func(t *testing.T) {
		h := newHarness(t)
		h.camera.err = errBoom
		h.setup(t)
		_, err := h.w.Capture(ctx)
		if !errors.Is(err, ErrAcquisition) || !errors.Is(err, errBoom) {
			t.Errorf("got %v, want ErrAcquisition wrapping errBoom", err)
		}
		var se *StageError
		if !errors.As(err, &se) || se.Stage != "capture" {
			t.Errorf("expected a capture StageError, got %v", err)
		}
	})

	t.Run("no frame", func(t *testing.T) {
		h := newHarness(t)
		h.camera.img = nil
		h.setup(t)
		if _, err := h.w.Capture(ctx); !errors.Is(err, ErrAcquisition) {
			t.Errorf("got %v, want ErrAcquisition", err)
		}
	})

	t.Run("no camera", func(t *testing.T) {
		w, _ := New(Deps{Detector: &fakeDetector{set: sampleSet()}, Renderer: &fakeRenderer{}}, Options{OutputDir: t.TempDir()})
		if err := w.Setup(ctx); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		if _, err := w.Capture(ctx); !errors.Is(err, ErrPrecondition) {
			t.Errorf("got %v, want ErrPrecondition", err)
		}
	})
}

func TestWorkflow_Read(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	path := filepath.Join(t.TempDir(), "in.png")
	if err := imaging.SavePNG(path, testImage(40, 30)); err != nil {
		t.Fatalf("write input: %v", err)
	}
	img, err := h.w.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if img.Bounds().Dx() != 40 || h.w.CurrentPath() != path {
		t.Errorf("unexpected frame %v path %q", img.Bounds(), h.w.CurrentPath())
	}

	bad := filepath.Join(t.TempDir(), "bad.png")
	os.WriteFile(bad, []byte("not an image"), 0644)
	for _, p := range []string{bad, filepath.Join(t.TempDir(), "missing.png")} {
		if _, err := h.w.Read(p); !errors.Is(err, ErrAcquisition) {
			t.Errorf("Read(%s): got %v, want ErrAcquisition", p, err)
		}
	}
	if h.w.CurrentPath() != path {
		t.Errorf("failed read replaced the current frame")
	}
}

func TestWorkflow_Process(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	img := testImage(600, 400)
	if err := h.w.Process(context.Background(), img, ProcessOptions{Threshold: 0.3, TopX: 2}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// Detector sees the scaled copy, the canvas the original size.
	if len(h.det.inputs) != 1 || h.det.inputs[0].Dx() != 300 || h.det.inputs[0].Dy() != 200 {
		t.Errorf("detector input: %v", h.det.inputs)
	}
	c := h.renderer.last()
	if c == nil || c.width != 600 || c.height != 400 {
		t.Fatalf("canvas: %+v", c)
	}

	if h.w.Threshold() != 0.8 {
		t.Errorf("effective threshold: got %v, want 0.8", h.w.Threshold())
	}
	want := []string{"bicycle: 80%", "cat: 80%", "person: 90%"}
	got := h.w.Labels()
	sort.Strings(got)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("labels: got %v, want %v", got, want)
	}
	if h.w.Labels()[0] != "person: 90%" {
		t.Errorf("labels not in detection order: %v", h.w.Labels())
	}

	// Annotation keeps the supplied threshold.
	if len(h.det.annotatedAt) != 1 || h.det.annotatedAt[0] != 0.3 {
		t.Errorf("annotate threshold: %v", h.det.annotatedAt)
	}
	if len(h.w.Scores()) != 5 {
		t.Errorf("raw scores: %v", h.w.Scores())
	}
	if h.w.LastError() != nil {
		t.Errorf("unexpected LastError: %v", h.w.LastError())
	}
	if h.w.Timings().Total <= 0 {
		t.Errorf("timings not recorded: %+v", h.w.Timings())
	}
}

func TestWorkflow_ProcessIdempotent(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	img := testImage(120, 90)
	opts := ProcessOptions{Threshold: 0.3, TopX: 3, Debug: true}

	h.w.Process(context.Background(), img, opts)
	firstLabels, firstThreshold := h.w.Labels(), h.w.Threshold()
	h.w.Process(context.Background(), img, opts)

	if h.w.Threshold() != firstThreshold {
		t.Errorf("threshold changed: %v then %v", firstThreshold, h.w.Threshold())
	}
	if strings.Join(h.w.Labels(), "|") != strings.Join(firstLabels, "|") {
		t.Errorf("labels changed: %v then %v", firstLabels, h.w.Labels())
	}
	if len(h.renderer.canvases) != 2 || h.renderer.canvases[0] == h.renderer.canvases[1] {
		t.Errorf("each Process must build a fresh canvas")
	}
}

func TestWorkflow_ProcessEmptyDetections(t *testing.T) {
	h := newHarness(t)
	h.det.set = detection.Empty()
	h.setup(t)

	if err := h.w.Process(context.Background(), testImage(50, 50), ProcessOptions{Threshold: 0.3, TopX: 4}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(h.w.Labels()) != 0 {
		t.Errorf("expected no labels, got %v", h.w.Labels())
	}
	if c := h.renderer.last(); c == nil || c.drawn != 0 {
		t.Errorf("expected an empty canvas, got %+v", c)
	}
	saved, err := h.w.SaveResults("empty", true)
	if err != nil {
		t.Fatalf("SaveResults failed: %v", err)
	}
	data, _ := os.ReadFile(saved.Labels)
	if len(data) != 0 {
		t.Errorf("labels file should be empty, got %q", data)
	}
}

func TestWorkflow_ProcessRecoversFromFailures(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(h *harness)
		stage   string
	}{
		{"detector error", func(h *harness) { h.det.err = errBoom }, "detect"},
		{"invalid set", func(h *harness) {
			h.det.set = &detection.Set{Boxes: make([][4]float64, 2), Classes: []int{1}, Scores: []float64{0.5}}
		}, "detect"},
		{"score out of range", func(h *harness) {
			h.det.set = &detection.Set{Boxes: make([][4]float64, 2), Classes: []int{1, 2}, Scores: []float64{1.7, -0.4}}
		}, "detect"},
		{"draw error", func(h *harness) { h.renderer.drawErr = errBoom }, "draw"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.setup(t)
			ctx := context.Background()

			if err := h.w.Process(ctx, testImage(100, 100), ProcessOptions{Threshold: 0.5}); err != nil {
				t.Fatalf("first Process failed: %v", err)
			}
			before := h.w.Labels()
			beforeDetections := h.w.Detections()

			tc.prepare(h)
			if err := h.w.Process(ctx, testImage(200, 200), ProcessOptions{Threshold: 0.1}); err != nil {
				t.Fatalf("recoverable failure surfaced: %v", err)
			}

			lastErr := h.w.LastError()
			if !errors.Is(lastErr, ErrDetectionInput) {
				t.Errorf("LastError: got %v, want ErrDetectionInput", lastErr)
			}
			var se *StageError
			if !errors.As(lastErr, &se) || se.Stage != tc.stage {
				t.Errorf("stage: got %v, want %s", lastErr, tc.stage)
			}
			if strings.Join(h.w.Labels(), "|") != strings.Join(before, "|") {
				t.Errorf("labels changed after failure: %v -> %v", before, h.w.Labels())
			}
			if h.w.Threshold() != 0.5 || h.w.Detections().Len() != beforeDetections.Len() {
				t.Errorf("state changed after failure")
			}
			if h.w.State() != StateReady {
				t.Errorf("state: %v", h.w.State())
			}

			// The previous canvas can still be saved.
			h.renderer.drawErr = nil
			if _, err := h.w.SaveResults("kept", false); err != nil {
				t.Errorf("save after recovered failure: %v", err)
			}
		})
	}
}

func TestWorkflow_ProcessEmptyImage(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	if err := h.w.Process(context.Background(), testImage(0, 0), ProcessOptions{}); err != nil {
		t.Fatalf("Process surfaced: %v", err)
	}
	if !errors.Is(h.w.LastError(), ErrDetectionInput) {
		t.Errorf("LastError: got %v", h.w.LastError())
	}
	if len(h.det.inputs) != 0 {
		t.Errorf("detector should not run on an empty image")
	}
}

func TestWorkflow_ProcessCanceled(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.w.Process(ctx, testImage(10, 10), ProcessOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if h.w.State() != StateReady {
		t.Errorf("state: %v", h.w.State())
	}
}

func TestWorkflow_SaveResults(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		files int
	}{
		{"plain", false, 1},
		{"debug", true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.setup(t)
			if err := h.w.Process(context.Background(), testImage(80, 60), ProcessOptions{Threshold: 0.3}); err != nil {
				t.Fatalf("Process failed: %v", err)
			}

			saved, err := h.w.SaveResults("", tt.debug)
			if err != nil {
				t.Fatalf("SaveResults failed: %v", err)
			}

			files := saved.Files()
			if len(files) != tt.files {
				t.Fatalf("Saved lists %d files, want %d", len(files), tt.files)
			}
			parent := filepath.Dir(saved.Sketch)
			for _, f := range files {
				if filepath.Dir(f) != parent {
					t.Errorf("%s is not a sibling of %s", f, saved.Sketch)
				}
				if !strings.HasPrefix(filepath.Base(f), "frame0_") {
					t.Errorf("unexpected name %s", f)
				}
			}
			if got := listDir(t, h.dir); len(got) != tt.files {
				t.Errorf("directory holds %v, want %d files", got, tt.files)
			}
			if h.w.Counter() != 1 {
				t.Errorf("counter after save: got %d, want 1", h.w.Counter())
			}
		})
	}
}

func TestWorkflow_SaveDebugContents(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.w.Process(context.Background(), testImage(80, 60), ProcessOptions{Threshold: 0.3})

	saved, err := h.w.SaveResults("shot", true)
	if err != nil {
		t.Fatalf("SaveResults failed: %v", err)
	}
	if filepath.Base(saved.Sketch) != "shot_sketch.png" {
		t.Errorf("sketch name: %s", saved.Sketch)
	}
	if h.w.Counter() != 0 {
		t.Errorf("named save advanced the counter")
	}

	labels, _ := os.ReadFile(saved.Labels)
	if string(labels) != "person: 90%\nbicycle: 80%\ncat: 80%\nperson: 30%\n" {
		t.Errorf("labels file: %q", labels)
	}
	scores, _ := os.ReadFile(saved.Scores)
	if string(scores) != "0.9,0.8,0.8,0.3,0.1\n" {
		t.Errorf("scores file: %q", scores)
	}
	annotated, err := imaging.Open(saved.Annotated)
	if err != nil {
		t.Fatalf("annotated image unreadable: %v", err)
	}
	if annotated.Bounds().Dx() != 80 || annotated.Bounds().Dy() != 60 {
		t.Errorf("annotated size: %v", annotated.Bounds())
	}
}

func TestWorkflow_SaveFailures(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.w.Process(context.Background(), testImage(20, 20), ProcessOptions{})

	for _, name := range []string{"../escape", "a/b", ".."} {
		if _, err := h.w.SaveResults(name, false); !errors.Is(err, ErrPersistence) {
			t.Errorf("SaveResults(%q): got %v, want ErrPersistence", name, err)
		}
	}

	h.renderer.last().saveErr = errBoom
	if _, err := h.w.SaveResults("", true); !errors.Is(err, ErrPersistence) || !errors.Is(err, errBoom) {
		t.Errorf("got %v, want ErrPersistence wrapping errBoom", err)
	}
	if got := listDir(t, h.dir); len(got) != 0 {
		t.Errorf("failed save left files behind: %v", got)
	}
	if h.w.Counter() != 0 {
		t.Errorf("failed save advanced the counter")
	}
	if h.w.State() != StateReady {
		t.Errorf("state: %v", h.w.State())
	}
}

func TestWorkflow_SaveFailureKeepsEarlierFiles(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()

	if err := h.w.Process(ctx, testImage(20, 20), ProcessOptions{}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	first, err := h.w.SaveResults("same", false)
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	original, err := os.ReadFile(first.Sketch)
	if err != nil {
		t.Fatalf("read sketch: %v", err)
	}

	// A directory in place of the scores file makes the commit fail after
	// the sketch and labels were already renamed.
	blocker := filepath.Join(h.dir, "same"+ScoresSuffix)
	if err := os.MkdirAll(filepath.Join(blocker, "inner"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := h.w.Process(ctx, testImage(40, 40), ProcessOptions{}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, err := h.w.SaveResults("same", true); !errors.Is(err, ErrPersistence) {
		t.Fatalf("got %v, want ErrPersistence", err)
	}

	got, err := os.ReadFile(first.Sketch)
	if err != nil {
		t.Fatalf("earlier sketch was removed: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Error("earlier sketch was replaced by the failed save")
	}

	want := []string{"same" + ScoresSuffix, "same" + SketchSuffix}
	if names := listDir(t, h.dir); strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("directory: got %v, want %v", names, want)
	}
}

func TestWorkflow_Run(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	for i := 0; i < 2; i++ {
		saved, err := h.w.Run(context.Background(), ProcessOptions{Threshold: 0.3, TopX: 3})
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if want := FrameStem(i) + SketchSuffix; filepath.Base(saved.Sketch) != want {
			t.Errorf("run %d wrote %s, want %s", i, saved.Sketch, want)
		}
	}
	if h.camera.calls != 2 || h.w.Counter() != 2 {
		t.Errorf("camera calls %d, counter %d", h.camera.calls, h.w.Counter())
	}

	h.det.err = errBoom
	if _, err := h.w.Run(context.Background(), ProcessOptions{}); !errors.Is(err, ErrDetectionInput) {
		t.Errorf("Run with failing detector: got %v", err)
	}
	if h.w.Counter() != 2 {
		t.Errorf("failed run advanced the counter")
	}
}

func TestStageError(t *testing.T) {
	err := stageErr("save", ErrPersistence, errBoom)
	if err.Error() != "save: persistence failed: boom" {
		t.Errorf("message: %q", err.Error())
	}
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, errBoom) || errors.Is(err, ErrAcquisition) {
		t.Errorf("unexpected unwrap behavior")
	}
}

func TestStateString(t *testing.T) {
	if StatePersisting.String() != "persisting" || State(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
}

package workflow

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/sketchcam/internal/imaging"
)

// Output file suffixes. Every file of one frame shares the stem.
const (
	SketchSuffix    = "_sketch.png"
	LabelsSuffix    = "_labels.txt"
	ScoresSuffix    = "_scores.csv"
	AnnotatedSuffix = "_annotated.png"
)

var frameFile = regexp.MustCompile(`^frame(\d+)` + regexp.QuoteMeta(SketchSuffix) + `$`)

// Saved lists the files written by SaveResults. Debug only paths are empty
// when debug was off.
type Saved struct {
	Sketch    string `json:"sketch"`
	Labels    string `json:"labels,omitempty"`
	Scores    string `json:"scores,omitempty"`
	Annotated string `json:"annotated,omitempty"`
}

// Files returns the written paths in write order.
func (s *Saved) Files() []string {
	files := []string{s.Sketch}
	for _, p := range []string{s.Labels, s.Scores, s.Annotated} {
		if p != "" {
			files = append(files, p)
		}
	}
	return files
}

// FrameStem returns the counter based file stem for frame n.
func FrameStem(n int) string {
	return "frame" + strconv.Itoa(n)
}

// scanCounter returns one past the highest frame index in dir, or 0.
func scanCounter(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := frameFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return next, nil
}

// SaveResults writes the current sketch as <stem>_sketch.png in the output
// directory. With debug it also writes the accepted labels, all raw scores
// and the annotated raster next to it.
//
// An empty name uses the frame counter as stem and advances it once the
// files are written. Files are staged and renamed into place together, so a
// failed save leaves no partial output and keeps any earlier files of the
// same stem.
func (w *Workflow) SaveResults(name string, debug bool) (*Saved, error) {
	if w.state != StateReady {
		return nil, precondition("save", "workflow is %s", w.state)
	}
	if w.canvas == nil {
		return nil, precondition("save", "nothing processed yet")
	}

	stem := name
	if stem == "" {
		stem = FrameStem(w.counter)
	}
	if err := validStem(stem); err != nil {
		return nil, stageErr("save", ErrPersistence, err)
	}

	w.state = StatePersisting
	defer func() { w.state = StateReady }()

	log := w.log.WithFields(logrus.Fields{"frame": w.counter, "stem": stem})
	log.Info("saving results...")

	saved := &Saved{Sketch: filepath.Join(w.outputDir, stem+SketchSuffix)}
	var st staging
	defer st.discard()

	if err := st.stage(saved.Sketch, w.canvas.SavePNG); err != nil {
		return nil, stageErr("save", ErrPersistence, err)
	}

	if debug {
		saved.Labels = filepath.Join(w.outputDir, stem+LabelsSuffix)
		saved.Scores = filepath.Join(w.outputDir, stem+ScoresSuffix)
		saved.Annotated = filepath.Join(w.outputDir, stem+AnnotatedSuffix)

		if err := st.stage(saved.Labels, writeBytes(labelsText(w.labels))); err != nil {
			return nil, stageErr("save", ErrPersistence, err)
		}
		scores, err := scoresCSV(w.set.Scores)
		if err != nil {
			return nil, stageErr("save", ErrPersistence, err)
		}
		if err := st.stage(saved.Scores, writeBytes(scores)); err != nil {
			return nil, stageErr("save", ErrPersistence, err)
		}
		annotated := w.annotated
		if err := st.stage(saved.Annotated, func(path string) error {
			return imaging.SavePNG(path, annotated)
		}); err != nil {
			return nil, stageErr("save", ErrPersistence, err)
		}
	}

	if err := st.commit(); err != nil {
		return nil, stageErr("save", ErrPersistence, err)
	}

	if name == "" {
		w.counter++
	}
	log.WithField("files", len(saved.Files())).Info("results saved")
	return saved, nil
}

func validStem(stem string) error {
	if stem == "." || stem == ".." || strings.ContainsAny(stem, `/\`) || filepath.Base(stem) != stem {
		return fmt.Errorf("invalid output name %q", stem)
	}
	return nil
}

func labelsText(labels []string) []byte {
	var buf bytes.Buffer
	for _, l := range labels {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// scoresCSV renders all scores as a single CSV row.
func scoresCSV(scores []float64) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	row := make([]string, len(scores))
	for i, s := range scores {
		row[i] = strconv.FormatFloat(s, 'g', -1, 64)
	}
	if err := cw.Write(row); err != nil {
		return nil, err
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

func writeBytes(data []byte) func(string) error {
	return func(path string) error {
		return os.WriteFile(path, data, 0644)
	}
}

// staging writes files under temporary names and renames them into place on
// commit. Files being replaced are moved aside first and restored if the
// commit fails, so an earlier save under the same stem survives.
type staging struct {
	pending []staged
	done    []staged
}

type staged struct {
	tmp, final string

	// backup holds the previous final file while a commit is in progress.
	backup string
}

// stage writes one file through write into a temporary sibling of final.
func (s *staging) stage(final string, write func(path string) error) error {
	f, err := os.CreateTemp(filepath.Dir(final), "."+filepath.Base(final)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	f.Close()
	s.pending = append(s.pending, staged{tmp: tmp, final: final})

	if err := write(tmp); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(final), err)
	}
	return nil
}

// commit renames every staged file into place. On failure every final file
// is returned to its state before the commit.
func (s *staging) commit() error {
	for len(s.pending) > 0 {
		p := s.pending[0]
		if err := p.moveAside(); err != nil {
			s.rollback()
			return fmt.Errorf("failed to replace %s: %w", filepath.Base(p.final), err)
		}
		if err := os.Rename(p.tmp, p.final); err != nil {
			p.restore()
			s.rollback()
			return fmt.Errorf("failed to move %s into place: %w", filepath.Base(p.final), err)
		}
		s.pending = s.pending[1:]
		s.done = append(s.done, p)
	}

	for _, p := range s.done {
		if p.backup != "" {
			os.Remove(p.backup)
		}
	}
	s.done = nil
	return nil
}

// moveAside renames an existing final file to a backup sibling.
func (p *staged) moveAside() error {
	if _, err := os.Lstat(p.final); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	f, err := os.CreateTemp(filepath.Dir(p.final), "."+filepath.Base(p.final)+".bak-*")
	if err != nil {
		return err
	}
	backup := f.Name()
	f.Close()
	if err := os.Rename(p.final, backup); err != nil {
		os.Remove(backup)
		return err
	}
	p.backup = backup
	return nil
}

// restore puts the backup, if any, back in place of final.
func (p *staged) restore() {
	if p.backup == "" {
		return
	}
	os.Rename(p.backup, p.final)
	p.backup = ""
}

// rollback undoes the renames done so far, newest first.
func (s *staging) rollback() {
	for i := len(s.done) - 1; i >= 0; i-- {
		p := s.done[i]
		os.Remove(p.final)
		p.restore()
	}
	s.done = nil
}

// discard removes temporary files that were not committed.
func (s *staging) discard() {
	for _, p := range s.pending {
		os.Remove(p.tmp)
	}
	s.pending = nil
}

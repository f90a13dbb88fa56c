// Package dataset serves reference drawings from the Quick, Draw! dataset.
//
// Drawings are read from simplified ndjson files, one file per category:
//
//	<dir>/<category>.ndjson
//
// where every line looks like
//
//	{"word":"cat","recognized":true,"drawing":[[[x0,x1,...],[y0,y1,...]],...]}
//
// An optional mapping file translates detector labels into dataset
// categories, one JSON object per line:
//
//	{"label":"person","category":"yoga"}
//
// Labels without a mapping are looked up as categories directly.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoDrawing is returned when no recognized drawing exists for a label.
var ErrNoDrawing = errors.New("no drawing for label")

// maxLineSize bounds one ndjson record.
const maxLineSize = 4 << 20

// Stroke is one pen stroke. X and Y have equal length.
type Stroke struct {
	X []float64
	Y []float64
}

// Drawing is a sequence of strokes in the dataset's coordinate space
// (simplified drawings fit in 0..255).
type Drawing struct {
	Category string
	Strokes  []Stroke
}

// Bounds returns the bounding box of all stroke points. ok is false for a
// drawing without points.
func (d Drawing) Bounds() (minX, minY, maxX, maxY float64, ok bool) {
	for _, s := range d.Strokes {
		for i := range s.X {
			x, y := s.X[i], s.Y[i]
			if !ok {
				minX, maxX, minY, maxY = x, x, y, y
				ok = true
				continue
			}
			minX = min(minX, x)
			maxX = max(maxX, x)
			minY = min(minY, y)
			maxY = max(maxY, y)
		}
	}
	return minX, minY, maxX, maxY, ok
}

// record is one ndjson line.
type record struct {
	Word       string        `json:"word"`
	Recognized bool          `json:"recognized"`
	Drawing    [][][]float64 `json:"drawing"`
}

type mapping struct {
	Label    string `json:"label"`
	Category string `json:"category"`
}

// Dataset looks up drawings by detector label.
type Dataset struct {
	dir         string
	mappingPath string

	mu       sync.Mutex
	mapping  map[string]string
	drawings map[string]*Drawing
}

// New returns a dataset rooted at dir. An empty dir yields a dataset with
// no drawings. mappingPath may be empty.
func New(dir, mappingPath string) *Dataset {
	return &Dataset{
		dir:         dir,
		mappingPath: mappingPath,
		mapping:     map[string]string{},
		drawings:    map[string]*Drawing{},
	}
}

// Setup verifies the drawing directory and loads the label mapping.
func (d *Dataset) Setup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dir != "" {
		info, err := os.Stat(d.dir)
		if err != nil {
			return fmt.Errorf("failed to open dataset directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("dataset path %s is not a directory", d.dir)
		}
	}

	if d.mappingPath == "" {
		return nil
	}
	f, err := os.Open(d.mappingPath)
	if err != nil {
		return fmt.Errorf("failed to open label mapping: %w", err)
	}
	defer f.Close()

	m, err := ParseMapping(f)
	if err != nil {
		return fmt.Errorf("%s: %w", d.mappingPath, err)
	}
	d.mapping = m
	return nil
}

// category returns the dataset category a label maps to. The caller holds mu.
func (d *Dataset) category(label string) string {
	if c, ok := d.mapping[label]; ok {
		return c
	}
	return label
}

// Drawing returns the first recognized drawing of the category label maps
// to. Results, including misses, are cached.
func (d *Dataset) Drawing(label string) (Drawing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cat := d.category(label)
	if cached, ok := d.drawings[cat]; ok {
		if cached == nil {
			return Drawing{}, fmt.Errorf("%w %q", ErrNoDrawing, label)
		}
		return *cached, nil
	}

	drawing, err := d.load(cat)
	if err != nil {
		if errors.Is(err, ErrNoDrawing) {
			d.drawings[cat] = nil
			return Drawing{}, fmt.Errorf("%w %q", ErrNoDrawing, label)
		}
		return Drawing{}, err
	}
	d.drawings[cat] = &drawing
	return drawing, nil
}

func (d *Dataset) load(category string) (Drawing, error) {
	if d.dir == "" || category == "" || strings.ContainsAny(category, `/\`) {
		return Drawing{}, ErrNoDrawing
	}

	f, err := os.Open(filepath.Join(d.dir, category+".ndjson"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Drawing{}, ErrNoDrawing
		}
		return Drawing{}, fmt.Errorf("failed to open category %s: %w", category, err)
	}
	defer f.Close()

	return FirstRecognized(f, category)
}

// FirstRecognized scans ndjson records and returns the first recognized
// drawing with at least one point.
func FirstRecognized(r io.Reader, category string) (Drawing, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return Drawing{}, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !rec.Recognized {
			continue
		}

		drawing, err := toDrawing(rec, category)
		if err != nil {
			return Drawing{}, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, _, _, _, ok := drawing.Bounds(); ok {
			return drawing, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Drawing{}, fmt.Errorf("failed to read drawings: %w", err)
	}
	return Drawing{}, ErrNoDrawing
}

func toDrawing(rec record, category string) (Drawing, error) {
	out := Drawing{Category: category}
	for i, s := range rec.Drawing {
		if len(s) < 2 {
			return Drawing{}, fmt.Errorf("stroke %d: expected x and y arrays", i)
		}
		if len(s[0]) != len(s[1]) {
			return Drawing{}, fmt.Errorf("stroke %d: %d x values, %d y values", i, len(s[0]), len(s[1]))
		}
		out.Strokes = append(out.Strokes, Stroke{X: s[0], Y: s[1]})
	}
	return out, nil
}

// ParseMapping reads a label mapping in JSON lines form.
func ParseMapping(r io.Reader) (map[string]string, error) {
	m := map[string]string{}
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry mapping
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if entry.Label == "" || entry.Category == "" {
			return nil, fmt.Errorf("line %d: label and category are required", lineNo)
		}
		m[entry.Label] = entry.Category
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label mapping: %w", err)
	}
	return m, nil
}

package detection

import (
	"fmt"
	"image"
	"math"
)

// Set is the result of one detector call.
type Set struct {
	// Boxes holds normalized [ymin, xmin, ymax, xmax] boxes.
	Boxes [][4]float64 `json:"boxes"`

	// Classes holds detector-defined class ids.
	Classes []int `json:"classes"`

	// Scores holds confidences in [0, 1].
	Scores []float64 `json:"scores"`

	// Count is the number of detections the backend reported. It is
	// informational only; consumers use Len.
	Count int `json:"count"`
}

// Len returns the number of detections in the set. A nil set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Scores)
}

// Validate checks that the three slices are parallel and that every score
// lies in [0, 1].
func (s *Set) Validate() error {
	if s == nil {
		return fmt.Errorf("nil detection set")
	}
	n := len(s.Scores)
	if len(s.Boxes) != n || len(s.Classes) != n {
		return fmt.Errorf("detection set length mismatch: %d boxes, %d classes, %d scores",
			len(s.Boxes), len(s.Classes), n)
	}
	for i, score := range s.Scores {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return fmt.Errorf("detection %d has non-finite score %v", i, score)
		}
		if score < 0 || score > 1 {
			return fmt.Errorf("detection %d has score %v outside [0, 1]", i, score)
		}
	}
	return nil
}

// Accepted returns the indices of detections scoring at least threshold, in
// detection order. Acceptance is inclusive: ties at the threshold pass.
func (s *Set) Accepted(threshold float64) []int {
	idx := []int{}
	for i := 0; i < s.Len(); i++ {
		if s.Scores[i] >= threshold {
			idx = append(idx, i)
		}
	}
	return idx
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	out := &Set{
		Boxes:   make([][4]float64, len(s.Boxes)),
		Classes: make([]int, len(s.Classes)),
		Scores:  make([]float64, len(s.Scores)),
		Count:   s.Count,
	}
	copy(out.Boxes, s.Boxes)
	copy(out.Classes, s.Classes)
	copy(out.Scores, s.Scores)
	return out
}

// Empty returns a set with no detections.
func Empty() *Set {
	return &Set{
		Boxes:   [][4]float64{},
		Classes: []int{},
		Scores:  []float64{},
	}
}

// PixelRect converts a normalized box into pixel coordinates for an image
// of the given size. Values are clamped to the image.
func PixelRect(box [4]float64, width, height int) image.Rectangle {
	ymin, xmin, ymax, xmax := clamp01(box[0]), clamp01(box[1]), clamp01(box[2]), clamp01(box[3])
	return image.Rect(
		int(math.Round(xmin*float64(width))),
		int(math.Round(ymin*float64(height))),
		int(math.Round(xmax*float64(width))),
		int(math.Round(ymax*float64(height))),
	)
}

// FormatLabel renders the human readable caption of one detection.
func FormatLabel(name string, score float64) string {
	return fmt.Sprintf("%s: %d%%", name, int(math.Round(score*100)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

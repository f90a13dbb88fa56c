package detection

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
)

// Class ids produced by ShapeDetector.
const (
	ClassRectangle = 1
	ClassEllipse   = 2
	ClassBlob      = 3
)

// ShapeLabels is the label map of ShapeDetector.
func ShapeLabels() LabelMap {
	return LabelMap{
		ClassRectangle: {ID: ClassRectangle, Name: "rectangle", DisplayName: "rectangle"},
		ClassEllipse:   {ID: ClassEllipse, Name: "ellipse", DisplayName: "ellipse"},
		ClassBlob:      {ID: ClassBlob, Name: "blob", DisplayName: "blob"},
	}
}

// point is a pixel coordinate inside the analysed image.
type point struct {
	X, Y int
}

// ShapeDetector finds shapes by contour analysis.
//
// # Algorithm
//
//  1. Edge Detection: grayscale gradient against the right and lower
//     neighbours, thresholded at EdgeThreshold
//  2. Contour Finding: 8-connected flood fill over edge pixels
//  3. Bounding Box: the bounding rectangle of each contour
//  4. Shape Fit: the contour length is compared with the perimeter of a
//     rectangle and of an ellipse with the same bounding box. The better fit
//     decides the class, its closeness decides the score:
//     fit = 1 - |contour_length - expected_perimeter| / expected_perimeter
//  5. Filtering: contours below MinArea are dropped; fits below 0.5 are
//     reported as blobs
//
// Results are sorted by score, highest first, the way SSD style detectors
// report them.
type ShapeDetector struct {
	// MinArea is the smallest bounding box area, in pixels, that is reported.
	MinArea int

	// EdgeThreshold is the minimum grayscale step (0-255) counted as an edge.
	EdgeThreshold float64

	// MaxDetections caps the size of the returned set.
	MaxDetections int

	labels LabelMap
}

// NewShapeDetector returns a detector with defaults suited to the scaled
// 300 pixel detector input.
func NewShapeDetector() *ShapeDetector {
	return &ShapeDetector{
		MinArea:       64,
		EdgeThreshold: 30,
		MaxDetections: 100,
	}
}

// Setup prepares the label map. It never fails.
func (d *ShapeDetector) Setup(ctx context.Context) error {
	d.labels = ShapeLabels()
	return nil
}

// Labels returns the shape label map.
func (d *ShapeDetector) Labels() LabelMap {
	if d.labels == nil {
		return ShapeLabels()
	}
	return d.labels
}

// Detect runs contour analysis on img.
func (d *ShapeDetector) Detect(ctx context.Context, img image.Image) (*Set, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("empty image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	edges := detectEdges(img, width, height, d.EdgeThreshold)
	contours := findContours(edges, width, height)

	type candidate struct {
		box   [4]float64
		class int
		score float64
	}
	candidates := make([]candidate, 0, len(contours))

	for _, contour := range contours {
		minX, minY := width, height
		maxX, maxY := 0, 0
		for _, p := range contour {
			minX = min(minX, p.X)
			maxX = max(maxX, p.X)
			minY = min(minY, p.Y)
			maxY = max(maxY, p.Y)
		}

		boxW := maxX - minX + 1
		boxH := maxY - minY + 1
		if boxW < 2 || boxH < 2 || boxW*boxH < d.MinArea {
			continue
		}

		class, score := classifyContour(len(contour), boxW, boxH)
		candidates = append(candidates, candidate{
			box: [4]float64{
				float64(minY) / float64(height),
				float64(minX) / float64(width),
				float64(maxY+1) / float64(height),
				float64(maxX+1) / float64(width),
			},
			class: class,
			score: score,
		})
	}

	// Stable sort keeps raster order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if d.MaxDetections > 0 && len(candidates) > d.MaxDetections {
		candidates = candidates[:d.MaxDetections]
	}

	set := Empty()
	for _, c := range candidates {
		set.Boxes = append(set.Boxes, c.box)
		set.Classes = append(set.Classes, c.class)
		set.Scores = append(set.Scores, c.score)
	}
	set.Count = set.Len()
	return set, nil
}

// Annotate draws accepted detections onto a copy of img.
func (d *ShapeDetector) Annotate(img image.Image, set *Set, threshold float64) (image.Image, error) {
	return Annotate(img, set, d.Labels(), threshold), nil
}

// Close releases nothing; the detector holds no external resources.
func (d *ShapeDetector) Close() error {
	return nil
}

// classifyContour compares a contour length with the perimeter expected of a
// rectangle and of an ellipse filling a w x h bounding box.
func classifyContour(length, w, h int) (int, float64) {
	rectPerimeter := float64(2 * (w + h))
	rectFit := 1.0 - math.Abs(float64(length)-rectPerimeter)/rectPerimeter

	a, b := float64(w)/2, float64(h)/2
	// Ramanujan's approximation of the ellipse perimeter.
	ellipsePerimeter := math.Pi * (3*(a+b) - math.Sqrt((3*a+b)*(a+3*b)))
	ellipseFit := 1.0 - math.Abs(float64(length)-ellipsePerimeter)/ellipsePerimeter

	class, fit := ClassRectangle, rectFit
	if ellipseFit > rectFit {
		class, fit = ClassEllipse, ellipseFit
	}
	if fit < 0.5 {
		class = ClassBlob
	}
	return class, math.Max(0, math.Min(1, fit))
}

// detectEdges marks pixels whose grayscale value differs from the right or
// lower neighbour by more than threshold. Border pixels are never edges.
func detectEdges(img image.Image, width, height int, threshold float64) [][]bool {
	bounds := img.Bounds()
	gray := make([][]float64, height)
	for y := 0; y < height; y++ {
		gray[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			gray[y][x] = grayValue(img, x+bounds.Min.X, y+bounds.Min.Y)
		}
	}

	edges := make([][]bool, height)
	for y := 0; y < height; y++ {
		edges[y] = make([]bool, width)
		if y == 0 || y == height-1 {
			continue
		}
		for x := 1; x < width-1; x++ {
			dx := math.Abs(gray[y][x] - gray[y][x+1])
			dy := math.Abs(gray[y][x] - gray[y+1][x])
			if dx > threshold || dy > threshold {
				edges[y][x] = true
			}
		}
	}
	return edges
}

// findContours groups edge pixels into 8-connected components. Components
// smaller than 10 pixels are discarded as noise.
func findContours(edges [][]bool, width, height int) [][]point {
	visited := make([][]bool, height)
	for y := 0; y < height; y++ {
		visited[y] = make([]bool, width)
	}

	contours := make([][]point, 0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if edges[y][x] && !visited[y][x] {
				contour := floodFill(edges, visited, x, y, width, height)
				if len(contour) >= 10 {
					contours = append(contours, contour)
				}
			}
		}
	}
	return contours
}

// floodFill collects the component containing (startX, startY) using an
// explicit stack.
func floodFill(edges, visited [][]bool, startX, startY, width, height int) []point {
	var contour []point
	stack := []point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if visited[p.Y][p.X] || !edges[p.Y][p.X] {
			continue
		}
		visited[p.Y][p.X] = true
		contour = append(contour, p)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 {
					stack = append(stack, point{X: p.X + dx, Y: p.Y + dy})
				}
			}
		}
	}
	return contour
}

// grayValue converts a pixel to luminance using ITU-R BT.601 weights.
func grayValue(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return float64(r>>8)*0.299 + float64(g>>8)*0.587 + float64(b>>8)*0.114
}

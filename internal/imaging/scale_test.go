package imaging

import (
	"image"
	"math"
	"testing"
)

func TestScaleFactor(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		target int
		want   float64
	}{
		{"landscape", 600, 400, 300, 0.5},
		{"portrait", 400, 1200, 300, 0.25},
		{"square", 300, 300, 300, 1.0},
		{"upscale", 150, 100, 300, 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := image.NewRGBA(image.Rect(0, 0, tt.w, tt.h))
			got, err := ScaleFactor(img, tt.target)
			if err != nil {
				t.Fatalf("ScaleFactor failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScaleFactor_Invalid(t *testing.T) {
	if _, err := ScaleFactor(image.NewRGBA(image.Rectangle{}), 300); err == nil {
		t.Error("expected error for empty image")
	}
	if _, err := ScaleFactor(image.NewRGBA(image.Rect(0, 0, 4, 4)), 0); err == nil {
		t.Error("expected error for zero target")
	}
}

func TestScaleToMax_PreservesAspect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))

	scaled, s, err := ScaleToMax(img, DefaultTargetMaxDim)
	if err != nil {
		t.Fatalf("ScaleToMax failed: %v", err)
	}
	w, h := Dimensions(scaled)
	if w != 300 || h != 225 {
		t.Errorf("got %dx%d, want 300x225", w, h)
	}
	if math.Abs(s-300.0/640.0) > 1e-9 {
		t.Errorf("scale: got %v, want %v", s, 300.0/640.0)
	}

	// Original must be left untouched.
	if ow, oh := Dimensions(img); ow != 640 || oh != 480 {
		t.Errorf("original modified: %dx%d", ow, oh)
	}
}

func TestScale_TinyImageKeepsOnePixel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1000, 1))
	scaled, err := Scale(img, 0.1)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	if w, h := Dimensions(scaled); w != 100 || h != 1 {
		t.Errorf("got %dx%d, want 100x1", w, h)
	}
}

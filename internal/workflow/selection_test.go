package workflow

import (
	"math/rand"
	"testing"

	"github.com/ironsheep/sketchcam/internal/detection"
)

func TestEffectiveThreshold(t *testing.T) {
	tests := []struct {
		name      string
		scores    []float64
		threshold float64
		topX      int
		want      float64
		accepted  int
	}{
		{
			name:      "tie at cutoff admits both",
			scores:    []float64{0.9, 0.8, 0.8, 0.3, 0.1},
			threshold: 0.3,
			topX:      2,
			want:      0.8,
			accepted:  3,
		},
		{
			name:      "top_x beyond N takes the minimum",
			scores:    []float64{0.5, 0.2, 0.7},
			threshold: 0.9,
			topX:      10,
			want:      0.2,
			accepted:  3,
		},
		{
			name:      "no detections",
			scores:    []float64{},
			threshold: 0.3,
			topX:      5,
			want:      0.3,
			accepted:  0,
		},
		{
			name:      "top_x disabled uses threshold",
			scores:    []float64{0.9, 0.3, 0.29},
			threshold: 0.3,
			topX:      0,
			want:      0.3,
			accepted:  2,
		},
		{
			name:      "unsorted input",
			scores:    []float64{0.1, 0.95, 0.4, 0.6},
			threshold: 0,
			topX:      2,
			want:      0.6,
			accepted:  2,
		},
		{
			name:      "top_x overrides a low threshold",
			scores:    []float64{0.9, 0.5, 0.4},
			threshold: 0.01,
			topX:      1,
			want:      0.9,
			accepted:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveThreshold(tt.scores, tt.threshold, tt.topX)
			if got != tt.want {
				t.Errorf("threshold: got %v, want %v", got, tt.want)
			}
			if n := countAccepted(tt.scores, got); n != tt.accepted {
				t.Errorf("accepted: got %d, want %d", n, tt.accepted)
			}
		})
	}
}

func TestEffectiveThreshold_DoesNotReorder(t *testing.T) {
	scores := []float64{0.3, 0.9, 0.1}
	EffectiveThreshold(scores, 0, 2)
	if scores[0] != 0.3 || scores[1] != 0.9 || scores[2] != 0.1 {
		t.Errorf("input modified: %v", scores)
	}
}

func TestEffectiveThreshold_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(30)
		// Distinct scores so there are no ties at the cutoff.
		perm := rng.Perm(1000)[:n]
		scores := make([]float64, n)
		for i, p := range perm {
			scores[i] = float64(p) / 1000
		}

		k := 1 + rng.Intn(n)
		if got := countAccepted(scores, EffectiveThreshold(scores, 0.5, k)); got != k {
			t.Fatalf("top_x=%d over %v: accepted %d", k, scores, got)
		}

		big := n + rng.Intn(10)
		if got := countAccepted(scores, EffectiveThreshold(scores, 0.5, big)); got != n {
			t.Fatalf("top_x=%d >= N=%d: accepted %d", big, n, got)
		}

		threshold := rng.Float64()
		want := 0
		for _, s := range scores {
			if s >= threshold {
				want++
			}
		}
		if got := countAccepted(scores, EffectiveThreshold(scores, threshold, 0)); got != want {
			t.Fatalf("literal threshold %v: accepted %d, want %d", threshold, got, want)
		}
	}
}

// countAccepted applies the detection set's acceptance rule to bare scores.
func countAccepted(scores []float64, threshold float64) int {
	return len((&detection.Set{Scores: scores}).Accepted(threshold))
}

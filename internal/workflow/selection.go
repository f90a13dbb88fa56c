package workflow

import "sort"

// EffectiveThreshold resolves the score cutoff for one frame.
//
// With topX <= 0 the supplied threshold is returned unchanged. Otherwise
// topX overrides it: the result is the smallest of the topX highest scores,
// or the minimum score when topX >= len(scores). Acceptance is inclusive, so
// ties at the cutoff all pass and more than topX detections can be
// accepted. An empty score set leaves threshold unchanged.
func EffectiveThreshold(scores []float64, threshold float64, topX int) float64 {
	if topX <= 0 || len(scores) == 0 {
		return threshold
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	return sorted[len(sorted)-min(topX, len(sorted))]
}

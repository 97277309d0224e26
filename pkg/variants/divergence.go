package variants

import "math"

// ComputeScoreDelta returns the Euclidean distance between two score vectors.
func ComputeScoreDelta(a, b ScoreVector) float64 {
	da, db := a.Dimensions(), b.Dimensions()
	var sum float64
	for i := range da {
		d := da[i] - db[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DetectDivergence reports whether a shadow result meaningfully disagrees
// with the active result. A pass/fail mismatch is always divergent, even at
// zero score distance. Otherwise the distance must strictly exceed threshold.
func DetectDivergence(active, shadow VariantEvaluationResult, threshold float64) bool {
	if active.Passed != shadow.Passed {
		return true
	}
	return ComputeScoreDelta(active.Scores, shadow.Scores) > threshold
}

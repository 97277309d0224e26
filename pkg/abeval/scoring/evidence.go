package scoring

import (
	"context"
	"fmt"

	"mercator-hq/objectives/pkg/abeval"
	"mercator-hq/objectives/pkg/variants"
)

// EvidenceScorer scores variants from EvidenceBundle.VariantScores.
type EvidenceScorer struct {
	// MissingAsFailure scores a variant absent from the bundle as failed
	// with zero scores instead of returning an error.
	MissingAsFailure bool
}

// Score implements abeval.Scorer.
func (s EvidenceScorer) Score(_ context.Context, v variants.ObjectiveVariant, ev *abeval.EvidenceBundle) (*variants.VariantEvaluationResult, error) {
	score, ok := ev.VariantScores[v.VariantID]
	if !ok {
		if !s.MissingAsFailure {
			return nil, fmt.Errorf("evidence has no scores for variant %q", v.VariantID)
		}
		return &variants.VariantEvaluationResult{VariantID: v.VariantID}, nil
	}
	if err := checkRange(score.Scores); err != nil {
		return nil, fmt.Errorf("variant %q: %w", v.VariantID, err)
	}
	return &variants.VariantEvaluationResult{
		VariantID: v.VariantID,
		Passed:    score.Passed,
		Scores:    score.Scores,
	}, nil
}

var dimensionNames = [6]string{"correctness", "safety", "cost", "latency", "maintainability", "human_time"}

func checkRange(sv variants.ScoreVector) error {
	for i, d := range sv.Dimensions() {
		if d < 0 || d > 1 || d != d {
			return fmt.Errorf("score %s=%v outside [0,1]", dimensionNames[i], d)
		}
	}
	return nil
}

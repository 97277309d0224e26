package abeval

import "mercator-hq/objectives/pkg/variants"

// CompareOutcomes reports whether shadow beat active on one run.
//
// A shadow wins when it passed and the active variant failed, or when both
// have the same pass state and the shadow's mean score is strictly higher.
// Ties go to the active variant.
func CompareOutcomes(active, shadow variants.VariantEvaluationResult) bool {
	if shadow.Passed != active.Passed {
		return shadow.Passed
	}
	return shadow.Scores.Mean() > active.Scores.Mean()
}

// ShadowWinners returns the IDs of shadows that beat the active variant in
// out, in registry order. It returns nil when out has no active result.
func ShadowWinners(out *Output) []string {
	active, ok := out.ActiveResult()
	if !ok {
		return nil
	}
	var winners []string
	for _, res := range out.VariantResults {
		if res.Role == variants.RoleShadow && CompareOutcomes(active, res) {
			winners = append(winners, res.VariantID)
		}
	}
	return winners
}

// ShadowIDs returns the IDs of shadow results in out.
func ShadowIDs(out *Output) []string {
	var ids []string
	for _, res := range out.VariantResults {
		if res.Role == variants.RoleShadow {
			ids = append(ids, res.VariantID)
		}
	}
	return ids
}

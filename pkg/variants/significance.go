package variants

// CheckUpgradeReady reports whether a shadow variant has won often enough to
// be considered for promotion.
//
// It returns false until runCount reaches the registry's
// MinRunsForSignificance. After that the shadow is ready when
// shadowWins/runCount >= 1 - SignificanceThreshold. This is a simplified
// one-sided proportion check, not a binomial test.
func CheckUpgradeReady(runCount, shadowWins int, registry *VariantRegistry) bool {
	if runCount < registry.MinRunsForSignificance {
		return false
	}
	denom := runCount
	if denom < 1 {
		denom = 1
	}
	winRate := float64(shadowWins) / float64(denom)
	return winRate >= 1-registry.SignificanceThreshold
}

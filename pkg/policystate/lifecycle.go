package policystate

// ComputeNextLifecycleState returns the next lifecycle state for a policy.
//
// At most one forward step is taken per call, even when the inputs would
// also satisfy the following transition, so a single noisy event cannot
// carry a candidate straight to PROMOTED:
//
//	CANDIDATE  -> VALIDATED   runCount >= MinRunsForValidation and
//	                          positiveRatio >= MinPositiveRatioForValidation
//	VALIDATED  -> PROMOTED    runCount >= MinRunsForPromotion and
//	                          reliability >= MinReliabilityForPromotion
//	PROMOTED   -> DEPRECATED  reliability < DeprecationFloor
//
// DEPRECATED is terminal. Unknown states are returned unchanged.
func ComputeNextLifecycleState(current LifecycleState, reliability float64, runCount int, positiveRatio float64, th Thresholds) LifecycleState {
	if current.Terminal() {
		return current
	}
	switch current {
	case StateCandidate:
		if runCount >= th.MinRunsForValidation && positiveRatio >= th.MinPositiveRatioForValidation {
			return StateValidated
		}
	case StateValidated:
		if runCount >= th.MinRunsForPromotion && reliability >= th.MinReliabilityForPromotion {
			return StatePromoted
		}
	case StatePromoted:
		if reliability < th.DeprecationFloor {
			return StateDeprecated
		}
	}
	return current
}

// ApplyRewardDelta folds one reward into a policy's running counters. The run
// count always increments, the failure count increments for negative
// rewards, and reliability is clamped to [0,1].
func ApplyRewardDelta(reliability, delta float64, runCount, failureCount int) (float64, int, int) {
	newFailures := failureCount
	if delta < 0 {
		newFailures++
	}
	return clamp01(reliability + delta), runCount + 1, newFailures
}

// PositiveSignalRatio is the share of runs that did not fail.
func PositiveSignalRatio(runCount, failureCount int) float64 {
	denom := runCount
	if denom < 1 {
		denom = 1
	}
	return float64(runCount-failureCount) / float64(denom)
}

// ShouldBlacklist reports whether a policy must be quarantined.
//
// Blacklisting is one-way: once alreadyBlacklisted is true the result stays
// true even if reliability has recovered. Clearing it is an explicit
// operator action (see Reducer.ClearBlacklist).
func ShouldBlacklist(reliability float64, th Thresholds, alreadyBlacklisted bool) bool {
	return alreadyBlacklisted || reliability < th.BlacklistFloor
}

func clamp01(v float64) float64 {
	// NaN compares false everywhere; treat it as fully unreliable.
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

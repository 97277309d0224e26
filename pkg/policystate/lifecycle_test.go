package policystate

import (
	"math"
	"math/rand"
	"testing"
)

// TestComputeNextLifecycleState tests the transition table.
func TestComputeNextLifecycleState(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name        string
		current     LifecycleState
		reliability float64
		runCount    int
		ratio       float64
		want        LifecycleState
	}{
		{"candidate below run floor", StateCandidate, 1.0, 9, 1.0, StateCandidate},
		{"candidate below ratio", StateCandidate, 1.0, 10, 0.59, StateCandidate},
		{"candidate validates", StateCandidate, 0.5, 10, 0.6, StateValidated},
		{"candidate never jumps to promoted", StateCandidate, 1.0, 1000, 1.0, StateValidated},
		{"validated below run floor", StateValidated, 0.95, 49, 1.0, StateValidated},
		{"validated below reliability", StateValidated, 0.79, 60, 1.0, StateValidated},
		{"validated promotes", StateValidated, 0.8, 50, 0.0, StatePromoted},
		{"promoted stays above floor", StatePromoted, 0.3, 100, 0.5, StatePromoted},
		{"promoted deprecates", StatePromoted, 0.29, 100, 0.5, StateDeprecated},
		{"deprecated is terminal", StateDeprecated, 1.0, 1000, 1.0, StateDeprecated},
		{"unknown state unchanged", LifecycleState("ARCHIVED"), 1.0, 1000, 1.0, LifecycleState("ARCHIVED")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeNextLifecycleState(tt.current, tt.reliability, tt.runCount, tt.ratio, th)
			if got != tt.want {
				t.Errorf("ComputeNextLifecycleState() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestApplyRewardDelta tests counter updates and clamping.
func TestApplyRewardDelta(t *testing.T) {
	tests := []struct {
		name         string
		reliability  float64
		delta        float64
		wantRel      float64
		wantFailures int
	}{
		{"positive clamps at one", 1.0, 0.1, 1.0, 0},
		{"negative counts failure", 0.5, -0.2, 0.3, 1},
		{"negative clamps at zero", 0.1, -0.5, 0.0, 1},
		{"zero delta is not a failure", 0.4, 0, 0.4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, runs, failures := ApplyRewardDelta(tt.reliability, tt.delta, 4, 0)
			if math.Abs(rel-tt.wantRel) > 1e-12 {
				t.Errorf("reliability = %v, want %v", rel, tt.wantRel)
			}
			if runs != 5 {
				t.Errorf("run count = %d, want 5", runs)
			}
			if failures != tt.wantFailures {
				t.Errorf("failure count = %d, want %d", failures, tt.wantFailures)
			}
		})
	}
}

// TestApplyRewardDelta_AlwaysClamped tests that any delta sequence stays inside [0,1].
func TestApplyRewardDelta_AlwaysClamped(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rel, runs, failures := 1.0, 0, 0
	for i := 0; i < 10000; i++ {
		delta := (rng.Float64() - 0.5) * 4
		rel, runs, failures = ApplyRewardDelta(rel, delta, runs, failures)
		if rel < 0 || rel > 1 {
			t.Fatalf("step %d: reliability %v escaped [0,1]", i, rel)
		}
	}
	if runs != 10000 {
		t.Errorf("run count = %d, want 10000", runs)
	}

	if rel, _, _ := ApplyRewardDelta(0.5, math.Inf(1), 0, 0); rel != 1 {
		t.Errorf("+Inf delta: reliability = %v, want 1", rel)
	}
	if rel, _, _ := ApplyRewardDelta(0.5, math.Inf(-1), 0, 0); rel != 0 {
		t.Errorf("-Inf delta: reliability = %v, want 0", rel)
	}
}

// TestPositiveSignalRatio tests the ratio including the zero-run guard.
func TestPositiveSignalRatio(t *testing.T) {
	if got := PositiveSignalRatio(0, 0); got != 0 {
		t.Errorf("PositiveSignalRatio(0,0) = %v, want 0", got)
	}
	if got := PositiveSignalRatio(10, 3); math.Abs(got-0.7) > 1e-12 {
		t.Errorf("PositiveSignalRatio(10,3) = %v, want 0.7", got)
	}
}

// TestShouldBlacklist tests the floor and the absence of automatic recovery.
func TestShouldBlacklist(t *testing.T) {
	th := DefaultThresholds()

	if ShouldBlacklist(0.2, th, false) {
		t.Error("reliability at floor must not blacklist")
	}
	if !ShouldBlacklist(0.19, th, false) {
		t.Error("reliability below floor must blacklist")
	}
	if !ShouldBlacklist(0.99, th, true) {
		t.Error("blacklist must persist after recovery")
	}
}

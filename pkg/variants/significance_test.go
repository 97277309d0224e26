package variants

import "testing"

// TestCheckUpgradeReady tests the minimum-run floor and the win-rate threshold.
func TestCheckUpgradeReady(t *testing.T) {
	reg := &VariantRegistry{SignificanceThreshold: 0.05, MinRunsForSignificance: 20}

	tests := []struct {
		name       string
		runCount   int
		shadowWins int
		want       bool
	}{
		{"enough runs, 96% wins", 25, 24, true},
		{"below floor with perfect record", 10, 10, false},
		{"at floor, exactly 95%", 20, 19, true},
		{"enough runs, 90% wins", 30, 27, false},
		{"zero runs", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckUpgradeReady(tt.runCount, tt.shadowWins, reg); got != tt.want {
				t.Errorf("CheckUpgradeReady(%d, %d) = %v, want %v", tt.runCount, tt.shadowWins, got, tt.want)
			}
		})
	}
}

// TestCheckUpgradeReady_ZeroFloor tests that a zero floor does not divide by zero.
func TestCheckUpgradeReady_ZeroFloor(t *testing.T) {
	reg := &VariantRegistry{SignificanceThreshold: 1, MinRunsForSignificance: 0}
	if !CheckUpgradeReady(0, 0, reg) {
		t.Error("expected ready with zero floor and threshold 1")
	}
}

package variants

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// two64 is 2^64 as a float64.
var two64 = math.Ldexp(1, 64)

// HashFraction maps a run ID onto [0,1) using the first 8 bytes of its
// SHA-256 digest read as a big-endian unsigned integer.
//
// float64 rounding can push digests very close to 2^64 up to exactly 1.0;
// RouteToVariant handles that through its active-variant fallback.
func HashFraction(runID string) float64 {
	sum := sha256.Sum256([]byte(runID))
	return float64(binary.BigEndian.Uint64(sum[:8])) / two64
}

// RouteToVariant deterministically assigns a run to a variant.
//
// The active variants are walked in registry order while their traffic
// weights are accumulated; the first variant whose cumulative weight exceeds
// the run's hash fraction is returned. When no variant qualifies (weights
// summing slightly under 1.0, or float rounding) the active-role variant is
// returned instead.
//
// The registry must contain at least one variant and exactly one with the
// active role. With no active-role variant the fallback is the zero value.
func RouteToVariant(runID string, registry *VariantRegistry) ObjectiveVariant {
	return routeFraction(HashFraction(runID), registry)
}

func routeFraction(h float64, registry *VariantRegistry) ObjectiveVariant {
	cumulative := 0.0
	for _, v := range registry.Variants {
		if !v.IsActive {
			continue
		}
		cumulative += v.TrafficWeight
		if h < cumulative {
			return v
		}
	}

	active, _ := registry.Active()
	return active
}

// Package variants holds the configuration and pure decision functions for
// A/B evaluation of competing objective variants.
//
// A VariantRegistry lists every variant competing for one objective. Exactly
// one variant carries the active role and drives live policy state; the rest
// are shadows that are evaluated alongside it but never influence decisions.
//
// # Routing
//
// RouteToVariant splits traffic deterministically. The run ID is hashed with
// SHA-256, the first 8 bytes are read as a big-endian uint64 and divided by
// 2^64, and the resulting fraction is matched against the cumulative traffic
// weights of the active variants:
//
//	v := variants.RouteToVariant("run-42", registry)
//
// The same run ID always selects the same variant for a given registry.
//
// # Divergence and significance
//
// DetectDivergence compares an active result to a shadow result. A pass/fail
// disagreement is always divergent; otherwise the Euclidean distance between
// the two score vectors must strictly exceed the registry threshold.
//
// CheckUpgradeReady applies a one-sided proportion check over caller-owned
// run and win counters. It never promotes anything on its own.
//
// # Registry files
//
// Registries are loaded from YAML with LoadRegistries and can be hot-reloaded
// with a Watcher. Each reload publishes a new immutable snapshot through a
// RegistrySet, so an evaluation pass always sees a consistent registry.
//
// All functions in this package are safe for concurrent use.
package variants

// Package abeval runs A/B evaluation passes over objective variants.
//
// One pass evaluates every variant in a registry against the same evidence
// bundle, routes the run to a single variant, flags shadows whose outcome
// diverges from the active variant, and reports shadows that have beaten
// the active variant often enough to be considered for an upgrade.
//
// # Purity
//
// Evaluator.Run has no side effects beyond calling the Scorer. Per-variant
// run and win counters are caller-owned inputs; Run never mutates them.
// Tracker is the convenience layer that reads counters from a CounterStore,
// runs an evaluation, and records the outcome.
//
// # Concurrency
//
// Variants are scored in parallel, bounded by EvaluatorConfig.MaxParallel.
// Each scorer call sees only the shared read-only evidence bundle and its
// own variant; no scorer call can observe another variant's result.
//
// # Shadow isolation
//
// Only the active variant's result has DrivesPolicyState set. The evaluator
// enforces this regardless of what the scorer returns.
package abeval

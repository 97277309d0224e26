package abeval

import (
	"context"
	"fmt"
)

// Counters are the per-variant run and win counts for one objective.
type Counters struct {
	RunCountByVariant       map[string]int
	ShadowWinCountByVariant map[string]int
}

// CounterStore persists per-variant counters.
type CounterStore interface {
	// GetCounters returns the counters for objectiveID. Unknown objectives
	// return empty maps.
	GetCounters(ctx context.Context, objectiveID string) (Counters, error)

	// RecordRun increments the run count of every variant in shadowIDs and
	// the win count of every variant in winnerIDs.
	RecordRun(ctx context.Context, objectiveID string, shadowIDs, winnerIDs []string) error
}

// Tracker evaluates runs using stored counters and records each outcome.
type Tracker struct {
	evaluator *Evaluator
	store     CounterStore
}

// NewTracker creates a tracker.
func NewTracker(evaluator *Evaluator, store CounterStore) *Tracker {
	return &Tracker{evaluator: evaluator, store: store}
}

// Evaluate runs one evaluation using the counters stored before this run,
// then records which shadows won it. Upgrade readiness therefore reflects
// the history up to, but not including, the current run.
func (t *Tracker) Evaluate(ctx context.Context, in *Input) (*Output, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	objectiveID := in.Registry.ObjectiveID

	counters, err := t.store.GetCounters(ctx, objectiveID)
	if err != nil {
		return nil, fmt.Errorf("load counters for %s: %w", objectiveID, err)
	}
	withCounters := *in
	withCounters.RunCountByVariant = counters.RunCountByVariant
	withCounters.ShadowWinCountByVariant = counters.ShadowWinCountByVariant

	out, err := t.evaluator.Run(ctx, &withCounters)
	if err != nil {
		return nil, err
	}
	if _, ok := out.ActiveResult(); !ok {
		return out, nil
	}
	if err := t.store.RecordRun(ctx, objectiveID, ShadowIDs(out), ShadowWinners(out)); err != nil {
		return nil, fmt.Errorf("record counters for %s: %w", objectiveID, err)
	}
	return out, nil
}

package policystate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/objectives/pkg/telemetry/tracing"
)

const tracerName = "mercator-hq/objectives/pkg/policystate"

// errConcurrentDelivery rolls back a transaction whose idempotency key was
// marked by another delivery between the duplicate check and the commit.
var errConcurrentDelivery = errors.New("idempotency key marked concurrently")

// ReducerConfig configures a Reducer.
type ReducerConfig struct {
	// Thresholds drive lifecycle transitions and blacklisting.
	Thresholds Thresholds

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Observer receives telemetry. Optional.
	Observer Observer

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider

	// Now defaults to time.Now.
	Now func() time.Time
}

// Reducer consumes reward events and advances policy lifecycle state.
//
// Reduce is safe for concurrent use across different policies. Events for
// the same (policy ID, policy type) must be delivered one at a time and in
// order; the consumer package partitions by policy to guarantee this.
type Reducer struct {
	repo       Repository
	publisher  Publisher
	thresholds Thresholds
	logger     *slog.Logger
	observer   Observer
	tracer     trace.Tracer
	now        func() time.Time
}

// NewReducer creates a reducer. The configuration is copied; later changes
// to cfg have no effect.
func NewReducer(repo Repository, publisher Publisher, cfg ReducerConfig) *Reducer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reducer{
		repo:       repo,
		publisher:  publisher,
		thresholds: cfg.Thresholds,
		logger:     logger.With("component", "policystate.reducer"),
		observer:   cfg.Observer,
		tracer:     tp.Tracer(tracerName),
		now:        now,
	}
}

// Thresholds returns the thresholds the reducer was built with.
func (r *Reducer) Thresholds() Thresholds {
	return r.thresholds
}

// Reduce applies one reward event.
//
// Processing order:
//  1. Duplicate idempotency keys short-circuit with WasDuplicate=true. The
//     stored state is not read, so the lifecycle fields of the output are
//     placeholders.
//  2. The stored document and counters are read. A missing or unreadable
//     document falls back to defaults (CANDIDATE, reliability 1.0).
//  3. The reward is applied and the next lifecycle state computed.
//  4. TOOL_RELIABILITY policies are checked for auto-blacklisting; a new
//     blacklisting publishes a tool_degraded alert.
//  5. State, audit entry and processed marker are written in that order.
//     When the repository implements Transactor the three writes commit as
//     one unit; otherwise they are applied one by one.
//  6. A lifecycle change publishes a PolicyStateUpdatedEvent.
//
// Repository errors abort the call before the key is marked processed and
// are returned as *ReduceError. Publish errors are logged and ignored.
//
// The tool_degraded alert is sent before the writes of step 5, so it is
// delivered at least once: a reduction that fails after publishing is
// redelivered and publishes the alert again. Consumers of the alert must
// tolerate duplicates keyed by tool ID.
func (r *Reducer) Reduce(ctx context.Context, event *RewardAssignedEvent) (*Output, error) {
	if err := ValidateEvent(event); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "policystate.Reduce",
		trace.WithAttributes(tracing.PolicyAttributes(event.PolicyID, string(event.PolicyType), event.EventID)...))
	defer span.End()

	start := r.now()
	logger := r.logger.With(
		"event_id", event.EventID,
		"policy_id", event.PolicyID,
		"policy_type", event.PolicyType,
	)

	out, step, err := r.reduce(ctx, logger, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		if r.observer != nil {
			r.observer.ObserveFailure(event.PolicyType, step)
		}
		logger.ErrorContext(ctx, "reduction failed", "step", step, "error", err)
		return nil, newReduceError(step, event, err)
	}

	tracing.SetReductionAttributes(span, out.WasDuplicate, out.TransitionOccurred, out.Blacklisted, string(out.NewLifecycleState))
	if r.observer != nil {
		r.observer.ObserveReduction(out, r.now().Sub(start))
	}
	return out, nil
}

func (r *Reducer) reduce(ctx context.Context, logger *slog.Logger, event *RewardAssignedEvent) (*Output, string, error) {
	duplicate, err := r.repo.IsDuplicateEvent(ctx, event.IdempotencyKey)
	if err != nil {
		return nil, StepIdempotencyCheck, err
	}
	if duplicate {
		logger.DebugContext(ctx, "duplicate event skipped", "idempotency_key", event.IdempotencyKey)
		return duplicateOutput(event), "", nil
	}

	doc, err := r.loadDocument(ctx, logger, event.PolicyID, event.PolicyType)
	if err != nil {
		return nil, StepReadState, err
	}
	runCount, failureCount, err := r.repo.GetRunCounts(ctx, event.PolicyID, event.PolicyType)
	if err != nil {
		return nil, StepReadCounts, err
	}
	before := doc.Snapshot(runCount, failureCount)

	newReliability, newRuns, newFailures := ApplyRewardDelta(doc.Reliability, event.RewardDelta, runCount, failureCount)
	ratio := PositiveSignalRatio(newRuns, newFailures)
	oldState := doc.LifecycleState
	newState := ComputeNextLifecycleState(oldState, newReliability, newRuns, ratio, r.thresholds)

	now := r.now().UTC()
	blacklisted := doc.Blacklisted
	alertEmitted := false
	if event.PolicyType == PolicyTypeToolReliability {
		blacklisted = ShouldBlacklist(newReliability, r.thresholds, doc.Blacklisted)
		if blacklisted && !doc.Blacklisted {
			doc.BlacklistedAt = &now
			tracing.AddEvent(trace.SpanFromContext(ctx), "tool.blacklisted",
				tracing.AttrReliability.Float64(newReliability))
			logger.WarnContext(ctx, "tool auto-blacklisted",
				"reliability", newReliability,
				"blacklist_floor", r.thresholds.BlacklistFloor,
			)
			alertEmitted = r.publishToolDegraded(ctx, logger, ToolDegradedAlert{
				ToolID:      event.PolicyID,
				Reliability: newReliability,
				OccurredAt:  now,
			})
		}
	}

	doc.LifecycleState = newState
	doc.Reliability = newReliability
	doc.Blacklisted = blacklisted
	doc.LastEventID = event.EventID
	doc.UpdatedAt = now

	stateJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, StepEncodeState, err
	}

	state := &PolicyState{
		PolicyID:       event.PolicyID,
		PolicyType:     event.PolicyType,
		LifecycleState: newState,
		Reliability:    newReliability,
		RunCount:       newRuns,
		FailureCount:   newFailures,
		Blacklisted:    blacklisted,
		UpdatedAt:      now,
	}

	transitioned := newState != oldState
	entry := &AuditEntry{
		ID:                 uuid.New().String(),
		EventID:            event.EventID,
		IdempotencyKey:     event.IdempotencyKey,
		PolicyID:           event.PolicyID,
		PolicyType:         event.PolicyType,
		RunID:              event.RunID,
		ObjectiveID:        event.ObjectiveID,
		Before:             before,
		After:              doc.Snapshot(newRuns, newFailures),
		RewardDelta:        event.RewardDelta,
		TransitionOccurred: transitioned,
		AlertEmitted:       alertEmitted,
		OccurredAt:         event.OccurredAt.UTC(),
		RecordedAt:         now,
	}

	_, transactional := r.repo.(Transactor)
	step := StepUpsertState
	err = r.atomically(ctx, func(repo Repository) error {
		step = StepUpsertState
		if err := repo.UpsertState(ctx, state, string(stateJSON)); err != nil {
			return err
		}
		step = StepWriteAudit
		if err := repo.WriteAuditEntry(ctx, entry); err != nil {
			return err
		}
		step = StepMarkProcessed
		already, err := repo.MarkEventProcessed(ctx, event.IdempotencyKey, event.EventID, now)
		if err != nil {
			return err
		}
		if already {
			// Only possible when two deliveries of one key race past step 1,
			// which per-policy ordering in the transport rules out.
			logger.WarnContext(ctx, "idempotency key was marked by a concurrent delivery",
				"idempotency_key", event.IdempotencyKey,
				"rolled_back", transactional,
			)
			if transactional {
				return errConcurrentDelivery
			}
		}
		step = StepCommit
		return nil
	})
	if errors.Is(err, errConcurrentDelivery) {
		return duplicateOutput(event), "", nil
	}
	if err != nil {
		return nil, step, err
	}

	if transitioned {
		logger.InfoContext(ctx, "lifecycle transition",
			"from", oldState,
			"to", newState,
			"reliability", newReliability,
			"run_count", newRuns,
		)
		r.publishStateUpdated(ctx, logger, PolicyStateUpdatedEvent{
			PolicyID:          event.PolicyID,
			PolicyType:        event.PolicyType,
			OldLifecycleState: oldState,
			NewLifecycleState: newState,
			OccurredAt:        now,
		})
	}

	return &Output{
		EventID:            event.EventID,
		PolicyID:           event.PolicyID,
		PolicyType:         event.PolicyType,
		OldLifecycleState:  oldState,
		NewLifecycleState:  newState,
		TransitionOccurred: transitioned,
		Blacklisted:        blacklisted,
		AlertEmitted:       alertEmitted,
		Reliability:        newReliability,
		RunCount:           newRuns,
		FailureCount:       newFailures,
	}, "", nil
}

// atomically runs fn inside one repository transaction when the repository
// supports it, and directly against the repository otherwise.
func (r *Reducer) atomically(ctx context.Context, fn func(Repository) error) error {
	if tx, ok := r.repo.(Transactor); ok {
		return tx.WithinTx(ctx, fn)
	}
	return fn(r.repo)
}

func duplicateOutput(event *RewardAssignedEvent) *Output {
	return &Output{
		EventID:           event.EventID,
		PolicyID:          event.PolicyID,
		PolicyType:        event.PolicyType,
		OldLifecycleState: StateCandidate,
		NewLifecycleState: StateCandidate,
		WasDuplicate:      true,
	}
}

// loadDocument reads the stored document, substituting defaults for a
// missing or malformed one. Only repository errors are returned.
func (r *Reducer) loadDocument(ctx context.Context, logger *slog.Logger, policyID string, policyType PolicyType) (StateDocument, error) {
	raw, found, err := r.repo.GetCurrentStateJSON(ctx, policyID, policyType)
	if err != nil {
		return StateDocument{}, err
	}
	if !found {
		logger.DebugContext(ctx, "no stored state, starting from defaults")
		return DefaultStateDocument(), nil
	}

	doc, err := ParseStateDocument(raw)
	if err != nil {
		logger.WarnContext(ctx, "stored state unreadable, falling back to defaults", "error", err)
		if r.observer != nil {
			r.observer.ObserveStateFallback(policyType)
		}
		return DefaultStateDocument(), nil
	}
	return doc, nil
}

func (r *Reducer) publishToolDegraded(ctx context.Context, logger *slog.Logger, alert ToolDegradedAlert) bool {
	if r.publisher == nil {
		return false
	}
	if err := r.publisher.PublishToolDegraded(ctx, alert); err != nil {
		logger.ErrorContext(ctx, "failed to publish tool_degraded alert", "error", err)
		if r.observer != nil {
			r.observer.ObservePublishFailure(TopicToolDegraded)
		}
		return false
	}
	return true
}

func (r *Reducer) publishStateUpdated(ctx context.Context, logger *slog.Logger, event PolicyStateUpdatedEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishPolicyStateUpdated(ctx, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish policy state update", "error", err)
		if r.observer != nil {
			r.observer.ObservePublishFailure(TopicPolicyStateUpdated)
		}
	}
}

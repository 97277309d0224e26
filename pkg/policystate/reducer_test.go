package policystate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestReducer(repo Repository, pub Publisher, th Thresholds, obs Observer) *Reducer {
	return NewReducer(repo, pub, ReducerConfig{
		Thresholds: th,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer:   obs,
		Now:        func() time.Time { return fixedNow },
	})
}

func rewardEvent(n int, policyID string, typ PolicyType, delta float64) *RewardAssignedEvent {
	return &RewardAssignedEvent{
		EventID:        fmt.Sprintf("evt-%d", n),
		PolicyID:       policyID,
		PolicyType:     typ,
		RewardDelta:    delta,
		RunID:          fmt.Sprintf("run-%d", n),
		ObjectiveID:    "obj-latency",
		OccurredAt:     fixedNow.Add(-time.Minute),
		IdempotencyKey: fmt.Sprintf("key-%d", n),
	}
}

// TestReduce_NewPolicy tests the first reward for an unseen policy.
func TestReduce_NewPolicy(t *testing.T) {
	repo := newFakeRepo()
	pub := &recordingPublisher{}
	r := newTestReducer(repo, pub, DefaultThresholds(), nil)

	out, err := r.Reduce(context.Background(), rewardEvent(1, "tool-a", PolicyTypeToolReliability, 0.1))
	if err != nil {
		t.Fatalf("Reduce() failed: %v", err)
	}

	if out.Reliability != 1.0 {
		t.Errorf("Reliability = %v, want 1.0", out.Reliability)
	}
	if out.OldLifecycleState != StateCandidate || out.NewLifecycleState != StateCandidate {
		t.Errorf("lifecycle %s -> %s, want CANDIDATE -> CANDIDATE", out.OldLifecycleState, out.NewLifecycleState)
	}
	if out.TransitionOccurred || out.Blacklisted || out.AlertEmitted || out.WasDuplicate {
		t.Errorf("unexpected flags: %+v", out)
	}
	if out.RunCount != 1 || out.FailureCount != 0 {
		t.Errorf("counters = %d/%d, want 1/0", out.RunCount, out.FailureCount)
	}
	if repo.auditCount() != 1 {
		t.Errorf("audit entries = %d, want 1", repo.auditCount())
	}
	if !repo.isProcessed("key-1") {
		t.Error("idempotency key not marked processed")
	}

	row, ok := repo.row("tool-a", PolicyTypeToolReliability)
	if !ok {
		t.Fatal("state row not written")
	}
	doc, err := ParseStateDocument(row.json)
	if err != nil {
		t.Fatalf("stored document unreadable: %v", err)
	}
	if doc.LastEventID != "evt-1" || !doc.UpdatedAt.Equal(fixedNow) {
		t.Errorf("document metadata = %q/%v", doc.LastEventID, doc.UpdatedAt)
	}
}

// TestReduce_Idempotent tests that a redelivered key changes nothing.
func TestReduce_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	pub := &recordingPublisher{}
	r := newTestReducer(repo, pub, DefaultThresholds(), nil)
	ctx := context.Background()

	repo.setRaw("tool-a", PolicyTypeToolReliability, `{"lifecycle_state":"CANDIDATE","reliability_0_1":0.3}`, 4, 2)

	event := rewardEvent(1, "tool-a", PolicyTypeToolReliability, -0.2)
	first, err := r.Reduce(ctx, event)
	if err != nil {
		t.Fatalf("first Reduce() failed: %v", err)
	}
	if !first.Blacklisted || !first.AlertEmitted {
		t.Fatalf("first delivery should blacklist and alert: %+v", first)
	}
	before, _ := repo.row("tool-a", PolicyTypeToolReliability)

	second, err := r.Reduce(ctx, event)
	if err != nil {
		t.Fatalf("second Reduce() failed: %v", err)
	}
	if !second.WasDuplicate {
		t.Error("second delivery not reported as duplicate")
	}
	if second.AlertEmitted || second.TransitionOccurred {
		t.Errorf("duplicate reported side effects: %+v", second)
	}
	if second.NewLifecycleState != StateCandidate || second.RunCount != 0 {
		t.Errorf("duplicate output should carry placeholders: %+v", second)
	}

	after, _ := repo.row("tool-a", PolicyTypeToolReliability)
	if before.json != after.json || *before.state != *after.state {
		t.Error("duplicate delivery modified stored state")
	}
	if repo.auditCount() != 1 {
		t.Errorf("audit entries = %d, want 1", repo.auditCount())
	}
	if len(pub.alerts) != 1 {
		t.Errorf("tool_degraded alerts = %d, want 1", len(pub.alerts))
	}
}

// TestReduce_SingleStepTransitions tests that each event advances at most one state.
func TestReduce_SingleStepTransitions(t *testing.T) {
	repo := newFakeRepo()
	pub := &recordingPublisher{}
	th := Thresholds{
		MinRunsForValidation:          1,
		MinPositiveRatioForValidation: 0,
		MinRunsForPromotion:           1,
		MinReliabilityForPromotion:    0,
		DeprecationFloor:              0.3,
		BlacklistFloor:                0.2,
	}
	r := newTestReducer(repo, pub, th, nil)
	ctx := context.Background()

	steps := []struct {
		delta      float64
		wantOld    LifecycleState
		wantNew    LifecycleState
		transition bool
	}{
		{0.1, StateCandidate, StateValidated, true},
		{0.1, StateValidated, StatePromoted, true},
		{-1.0, StatePromoted, StateDeprecated, true},
		{1.0, StateDeprecated, StateDeprecated, false},
	}

	for i, step := range steps {
		out, err := r.Reduce(ctx, rewardEvent(i, "route-1", PolicyTypeRoutingWeight, step.delta))
		if err != nil {
			t.Fatalf("step %d: Reduce() failed: %v", i, err)
		}
		if out.OldLifecycleState != step.wantOld || out.NewLifecycleState != step.wantNew {
			t.Errorf("step %d: %s -> %s, want %s -> %s", i, out.OldLifecycleState, out.NewLifecycleState, step.wantOld, step.wantNew)
		}
		if out.TransitionOccurred != step.transition {
			t.Errorf("step %d: TransitionOccurred = %v, want %v", i, out.TransitionOccurred, step.transition)
		}
		if out.Blacklisted {
			t.Errorf("step %d: non-tool policy blacklisted", i)
		}
	}

	if len(pub.updates) != 3 {
		t.Fatalf("state updates published = %d, want 3", len(pub.updates))
	}
	if pub.updates[0].NewLifecycleState != StateValidated {
		t.Errorf("first update = %s, want VALIDATED", pub.updates[0].NewLifecycleState)
	}
	if len(pub.alerts) != 0 {
		t.Errorf("non-tool policy emitted %d alerts", len(pub.alerts))
	}
}

// TestReduce_BlacklistOnce tests auto-blacklisting and that it alerts only once.
func TestReduce_BlacklistOnce(t *testing.T) {
	repo := newFakeRepo()
	pub := &recordingPublisher{}
	r := newTestReducer(repo, pub, DefaultThresholds(), nil)
	ctx := context.Background()

	// 1.0 -> 0.7 -> 0.4 -> 0.1 crosses the 0.2 floor on the third event.
	var outs []*Output
	for i := 0; i < 5; i++ {
		out, err := r.Reduce(ctx, rewardEvent(i, "tool-b", PolicyTypeToolReliability, -0.3))
		if err != nil {
			t.Fatalf("event %d: Reduce() failed: %v", i, err)
		}
		outs = append(outs, out)
	}

	for i, out := range outs {
		wantBlacklisted := i >= 2
		if out.Blacklisted != wantBlacklisted {
			t.Errorf("event %d: Blacklisted = %v, want %v", i, out.Blacklisted, wantBlacklisted)
		}
		if out.AlertEmitted != (i == 2) {
			t.Errorf("event %d: AlertEmitted = %v", i, out.AlertEmitted)
		}
	}

	if len(pub.alerts) != 1 {
		t.Fatalf("tool_degraded alerts = %d, want 1", len(pub.alerts))
	}
	alert := pub.alerts[0]
	if alert.ToolID != "tool-b" || alert.Reliability >= 0.2 {
		t.Errorf("unexpected alert: %+v", alert)
	}

	row, _ := repo.row("tool-b", PolicyTypeToolReliability)
	doc, err := ParseStateDocument(row.json)
	if err != nil {
		t.Fatal(err)
	}
	if doc.BlacklistedAt == nil || !doc.BlacklistedAt.Equal(fixedNow) {
		t.Errorf("BlacklistedAt = %v, want %v", doc.BlacklistedAt, fixedNow)
	}
}

// TestReduce_BlacklistPersists tests that recovery does not clear the blacklist.
func TestReduce_BlacklistPersists(t *testing.T) {
	repo := newFakeRepo()
	pub := &recordingPublisher{}
	r := newTestReducer(repo, pub, DefaultThresholds(), nil)
	ctx := context.Background()

	repo.setRaw("tool-c", PolicyTypeToolReliability, `{"lifecycle_state":"VALIDATED","reliability_0_1":0.1,"blacklisted":true}`, 20, 15)

	for i := 0; i < 3; i++ {
		out, err := r.Reduce(ctx, rewardEvent(i, "tool-c", PolicyTypeToolReliability, 0.5))
		if err != nil {
			t.Fatalf("Reduce() failed: %v", err)
		}
		if !out.Blacklisted {
			t.Fatalf("event %d: blacklist cleared by reduction", i)
		}
		if out.AlertEmitted {
			t.Errorf("event %d: alert re-emitted for already blacklisted tool", i)
		}
	}
	if len(pub.alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(pub.alerts))
	}
}

// TestReduce_RepositoryFailure tests that a failed step leaves no trace, so
// redelivery applies the reward exactly once.
func TestReduce_RepositoryFailure(t *testing.T) {
	steps := []string{
		StepIdempotencyCheck,
		StepReadState,
		StepReadCounts,
		StepUpsertState,
		StepWriteAudit,
		StepMarkProcessed,
		StepCommit,
	}

	for _, step := range steps {
		t.Run(step, func(t *testing.T) {
			repo := newFakeRepo()
			obs := newCountingObserver()
			r := newTestReducer(repo, &recordingPublisher{}, DefaultThresholds(), obs)
			event := rewardEvent(1, "tool-d", PolicyTypeToolReliability, 0.1)

			repo.failStep = step
			out, err := r.Reduce(context.Background(), event)
			if err == nil {
				t.Fatalf("expected error, got %+v", out)
			}

			var reduceErr *ReduceError
			if !errors.As(err, &reduceErr) {
				t.Fatalf("error type = %T, want *ReduceError", err)
			}
			if reduceErr.Step != step {
				t.Errorf("Step = %s, want %s", reduceErr.Step, step)
			}
			if !errors.Is(err, errInjected) {
				t.Error("cause not unwrapped")
			}
			if repo.isProcessed(event.IdempotencyKey) {
				t.Error("key marked processed after failure")
			}
			if _, ok := repo.row("tool-d", PolicyTypeToolReliability); ok {
				t.Error("state written by failed reduction")
			}
			if repo.auditCount() != 0 {
				t.Errorf("audit entries after failure = %d, want 0", repo.auditCount())
			}
			if obs.failures[step] != 1 {
				t.Errorf("observer failures[%s] = %d, want 1", step, obs.failures[step])
			}

			// Redelivery after recovery processes the event normally.
			repo.failStep = ""
			out, err = r.Reduce(context.Background(), event)
			if err != nil {
				t.Fatalf("redelivery failed: %v", err)
			}
			if out.WasDuplicate {
				t.Error("redelivery after failure treated as duplicate")
			}
			if !repo.isProcessed(event.IdempotencyKey) {
				t.Error("key not marked after successful redelivery")
			}
			row, ok := repo.row("tool-d", PolicyTypeToolReliability)
			if !ok || row.state.RunCount != 1 {
				t.Errorf("stored run count = %+v, want 1", row.state)
			}
			if repo.auditCount() != 1 {
				t.Errorf("audit entries = %d, want 1", repo.auditCount())
			}

			// A further redelivery is a duplicate.
			out, err = r.Reduce(context.Background(), event)
			if err != nil || !out.WasDuplicate {
				t.Errorf("second redelivery = %+v, %v; want duplicate", out, err)
			}
		})
	}
}

// TestReduce_RedeliveryAfterRepeatedFailures tests that a reward survives
// several failed attempts at different steps and is applied once.
func TestReduce_RedeliveryAfterRepeatedFailures(t *testing.T) {
	tests := []struct {
		name     string
		failures []string
	}{
		{name: "audit then mark", failures: []string{StepWriteAudit, StepMarkProcessed}},
		{name: "mark then commit", failures: []string{StepMarkProcessed, StepCommit}},
		{name: "upsert then audit then mark", failures: []string{StepUpsertState, StepWriteAudit, StepMarkProcessed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			r := newTestReducer(repo, &recordingPublisher{}, DefaultThresholds(), nil)
			event := rewardEvent(1, "tool-r", PolicyTypeToolReliability, -0.3)

			for _, step := range tt.failures {
				repo.failStep = step
				if _, err := r.Reduce(context.Background(), event); err == nil {
					t.Fatalf("failing %s: expected error", step)
				}
			}

			repo.failStep = ""
			out, err := r.Reduce(context.Background(), event)
			if err != nil {
				t.Fatalf("redelivery failed: %v", err)
			}
			if out.RunCount != 1 || out.FailureCount != 1 {
				t.Errorf("output counts = %d/%d, want 1/1", out.RunCount, out.FailureCount)
			}

			row, ok := repo.row("tool-r", PolicyTypeToolReliability)
			if !ok {
				t.Fatal("no stored state")
			}
			if row.state.RunCount != 1 || row.state.FailureCount != 1 {
				t.Errorf("stored counts = %d/%d, want 1/1", row.state.RunCount, row.state.FailureCount)
			}
			if diff := row.state.Reliability - 0.7; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("stored reliability = %v, want 0.7", row.state.Reliability)
			}
			if repo.auditCount() != 1 {
				t.Errorf("audit entries = %d, want 1", repo.auditCount())
			}
		})
	}
}

// TestReduce_AlertRepublishedOnRedelivery tests that the tool_degraded alert
// is sent again when a reduction fails after publishing it.
func TestReduce_AlertRepublishedOnRedelivery(t *testing.T) {
	repo := newFakeRepo()
	pub := &recordingPublisher{}
	r := newTestReducer(repo, pub, DefaultThresholds(), nil)
	repo.setRaw("tool-q", PolicyTypeToolReliability, `{"lifecycle_state":"CANDIDATE","reliability_0_1":0.25}`, 3, 1)
	event := rewardEvent(1, "tool-q", PolicyTypeToolReliability, -0.1)

	repo.failStep = StepWriteAudit
	if _, err := r.Reduce(context.Background(), event); err == nil {
		t.Fatal("expected error")
	}
	if len(pub.alerts) != 1 {
		t.Fatalf("alerts after failed attempt = %d, want 1", len(pub.alerts))
	}
	row, _ := repo.row("tool-q", PolicyTypeToolReliability)
	if doc, _ := ParseStateDocument(row.json); doc.Blacklisted {
		t.Error("blacklist persisted by failed reduction")
	}

	repo.failStep = ""
	out, err := r.Reduce(context.Background(), event)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if !out.Blacklisted || !out.AlertEmitted {
		t.Errorf("unexpected output: %+v", out)
	}
	if len(pub.alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(pub.alerts))
	}
	if repo.auditCount() != 1 || !repo.audit[0].AlertEmitted {
		t.Errorf("audit entries = %d, want one with AlertEmitted", repo.auditCount())
	}
}

// TestReduce_ConcurrentDeliveryRollsBack tests that a key marked between the
// duplicate check and the commit discards the reduction's writes.
func TestReduce_ConcurrentDeliveryRollsBack(t *testing.T) {
	repo := newFakeRepo()
	pub := &recordingPublisher{}
	r := newTestReducer(repo, pub, DefaultThresholds(), nil)

	repo.setRaw("tool-c", PolicyTypeToolReliability, `{"lifecycle_state":"CANDIDATE","reliability_0_1":0.9}`, 9, 0)
	repo.processed["key-1"] = "evt-1"
	repo.staleDuplicateCheck = true

	out, err := r.Reduce(context.Background(), rewardEvent(1, "tool-c", PolicyTypeToolReliability, 0.05))
	if err != nil {
		t.Fatalf("Reduce() failed: %v", err)
	}
	if !out.WasDuplicate {
		t.Errorf("WasDuplicate = false, want true")
	}
	row, _ := repo.row("tool-c", PolicyTypeToolReliability)
	if row.state.RunCount != 9 {
		t.Errorf("run count = %d, want 9 (unchanged)", row.state.RunCount)
	}
	if repo.auditCount() != 0 {
		t.Errorf("audit entries = %d, want 0", repo.auditCount())
	}
	if len(pub.updates) != 0 {
		t.Errorf("state updates published = %d, want 0", len(pub.updates))
	}
}

// TestReduce_NonTransactionalRepository tests the unbatched write path.
func TestReduce_NonTransactionalRepository(t *testing.T) {
	repo := newFakeRepo()
	r := newTestReducer(directRepo{repo}, nil, DefaultThresholds(), nil)

	out, err := r.Reduce(context.Background(), rewardEvent(1, "tool-n", PolicyTypeToolReliability, 0.1))
	if err != nil {
		t.Fatalf("Reduce() failed: %v", err)
	}
	if out.WasDuplicate || out.RunCount != 1 {
		t.Errorf("unexpected output: %+v", out)
	}
	if !repo.isProcessed("key-1") || repo.auditCount() != 1 {
		t.Error("writes not applied")
	}

	repo.failStep = StepMarkProcessed
	_, err = r.Reduce(context.Background(), rewardEvent(2, "tool-n", PolicyTypeToolReliability, 0.1))
	var reduceErr *ReduceError
	if !errors.As(err, &reduceErr) || reduceErr.Step != StepMarkProcessed {
		t.Fatalf("error = %v, want ReduceError at %s", err, StepMarkProcessed)
	}
	if repo.isProcessed("key-2") {
		t.Error("key marked processed after failure")
	}
}

// TestReduce_PublishFailureNonFatal tests that publish errors do not fail the reduction.
func TestReduce_PublishFailureNonFatal(t *testing.T) {
	repo := newFakeRepo()
	pub := &recordingPublisher{failWith: errors.New("broker unavailable")}
	obs := newCountingObserver()
	r := newTestReducer(repo, pub, DefaultThresholds(), obs)

	repo.setRaw("tool-e", PolicyTypeToolReliability, `{"lifecycle_state":"CANDIDATE","reliability_0_1":0.25}`, 3, 1)

	out, err := r.Reduce(context.Background(), rewardEvent(1, "tool-e", PolicyTypeToolReliability, -0.1))
	if err != nil {
		t.Fatalf("Reduce() failed: %v", err)
	}
	if !out.Blacklisted {
		t.Error("Blacklisted = false, want true")
	}
	if out.AlertEmitted {
		t.Error("AlertEmitted = true although publish failed")
	}
	if !repo.isProcessed("key-1") {
		t.Error("key not marked processed")
	}
	if obs.publishFailures[TopicToolDegraded] != 1 {
		t.Errorf("publish failures = %v", obs.publishFailures)
	}
	if repo.audit[0].AlertEmitted {
		t.Error("audit entry records an alert that was not delivered")
	}
}

// TestReduce_NilPublisher tests that a reducer without a publisher still reduces.
func TestReduce_NilPublisher(t *testing.T) {
	repo := newFakeRepo()
	r := newTestReducer(repo, nil, DefaultThresholds(), nil)
	repo.setRaw("tool-f", PolicyTypeToolReliability, `{"reliability_0_1":0.2}`, 0, 0)

	out, err := r.Reduce(context.Background(), rewardEvent(1, "tool-f", PolicyTypeToolReliability, -0.1))
	if err != nil {
		t.Fatalf("Reduce() failed: %v", err)
	}
	if !out.Blacklisted || out.AlertEmitted {
		t.Errorf("unexpected output: %+v", out)
	}
}

// TestReduce_MalformedState tests the fallback to defaults.
func TestReduce_MalformedState(t *testing.T) {
	repo := newFakeRepo()
	obs := newCountingObserver()
	r := newTestReducer(repo, &recordingPublisher{}, DefaultThresholds(), obs)

	repo.setRaw("pat-1", PolicyTypePatternConfidence, `{not json`, 7, 1)

	out, err := r.Reduce(context.Background(), rewardEvent(1, "pat-1", PolicyTypePatternConfidence, -0.25))
	if err != nil {
		t.Fatalf("Reduce() failed: %v", err)
	}
	if out.OldLifecycleState != StateCandidate {
		t.Errorf("OldLifecycleState = %s, want CANDIDATE", out.OldLifecycleState)
	}
	if out.Reliability != 0.75 {
		t.Errorf("Reliability = %v, want 0.75", out.Reliability)
	}
	if out.RunCount != 8 || out.FailureCount != 2 {
		t.Errorf("counters = %d/%d, want 8/2", out.RunCount, out.FailureCount)
	}
	if obs.fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", obs.fallbacks)
	}
	if obs.reductions != 1 {
		t.Errorf("reductions = %d, want 1", obs.reductions)
	}
}

// TestReduce_PreservesUnknownKeys tests that passthrough keys survive a reduction.
func TestReduce_PreservesUnknownKeys(t *testing.T) {
	repo := newFakeRepo()
	r := newTestReducer(repo, nil, DefaultThresholds(), nil)
	repo.setRaw("var-1", PolicyTypeObjectiveVariant, `{"lifecycle_state":"CANDIDATE","reliability_0_1":0.5,"owner":"ranking"}`, 1, 0)

	if _, err := r.Reduce(context.Background(), rewardEvent(1, "var-1", PolicyTypeObjectiveVariant, 0.2)); err != nil {
		t.Fatalf("Reduce() failed: %v", err)
	}

	row, _ := repo.row("var-1", PolicyTypeObjectiveVariant)
	var generic map[string]any
	if err := json.Unmarshal([]byte(row.json), &generic); err != nil {
		t.Fatal(err)
	}
	if generic["owner"] != "ranking" {
		t.Errorf("owner = %v, want ranking", generic["owner"])
	}
}

// TestReduce_InvalidEvent tests event validation.
func TestReduce_InvalidEvent(t *testing.T) {
	r := newTestReducer(newFakeRepo(), nil, DefaultThresholds(), nil)

	tests := []struct {
		name  string
		event *RewardAssignedEvent
	}{
		{"nil", nil},
		{"missing key", &RewardAssignedEvent{PolicyID: "p", PolicyType: PolicyTypeRoutingWeight}},
		{"missing policy", &RewardAssignedEvent{IdempotencyKey: "k", PolicyType: PolicyTypeRoutingWeight}},
		{"bad type", &RewardAssignedEvent{IdempotencyKey: "k", PolicyID: "p", PolicyType: "MODEL_CHOICE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Reduce(context.Background(), tt.event)
			if !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

// TestReduce_AuditEntry tests the contents of the audit trail.
func TestReduce_AuditEntry(t *testing.T) {
	repo := newFakeRepo()
	r := newTestReducer(repo, nil, DefaultThresholds(), nil)
	repo.setRaw("tool-g", PolicyTypeToolReliability, `{"lifecycle_state":"CANDIDATE","reliability_0_1":0.9}`, 9, 0)

	if _, err := r.Reduce(context.Background(), rewardEvent(1, "tool-g", PolicyTypeToolReliability, 0.05)); err != nil {
		t.Fatal(err)
	}

	entry := repo.audit[0]
	if entry.ID == "" || entry.EventID != "evt-1" || entry.RunID != "run-1" {
		t.Errorf("audit identity fields wrong: %+v", entry)
	}
	if entry.Before.RunCount != 9 || entry.After.RunCount != 10 {
		t.Errorf("run counts %d -> %d, want 9 -> 10", entry.Before.RunCount, entry.After.RunCount)
	}
	if entry.Before.LifecycleState != StateCandidate || entry.After.LifecycleState != StateValidated {
		t.Errorf("lifecycle %s -> %s", entry.Before.LifecycleState, entry.After.LifecycleState)
	}
	if !entry.TransitionOccurred {
		t.Error("TransitionOccurred = false, want true")
	}
}

// TestReduce_Tracing tests that reductions are traced.
func TestReduce_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	repo := newFakeRepo()
	r := NewReducer(repo, nil, ReducerConfig{
		Thresholds:     DefaultThresholds(),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		TracerProvider: tp,
	})

	if _, err := r.Reduce(context.Background(), rewardEvent(1, "tool-h", PolicyTypeToolReliability, 0.1)); err != nil {
		t.Fatal(err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "policystate.Reduce" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if string(kv.Key) == "policy.id" && kv.Value.AsString() == "tool-h" {
			found = true
		}
	}
	if !found {
		t.Error("policy.id attribute missing")
	}
}

func TestReduce_TracingBlacklistEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	r := NewReducer(newFakeRepo(), nil, ReducerConfig{
		Thresholds:     DefaultThresholds(),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		TracerProvider: tp,
	})
	if _, err := r.Reduce(context.Background(), rewardEvent(1, "tool-j", PolicyTypeToolReliability, -0.9)); err != nil {
		t.Fatal(err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 || events[0].Name != "tool.blacklisted" {
		t.Errorf("span events = %+v, want one tool.blacklisted event", events)
	}
}

// TestClearBlacklist tests the operator recovery path.
func TestClearBlacklist(t *testing.T) {
	repo := newFakeRepo()
	r := newTestReducer(repo, nil, DefaultThresholds(), nil)
	ctx := context.Background()

	if _, err := r.ClearBlacklist(ctx, "missing", PolicyTypeToolReliability, "x"); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("error = %v, want ErrPolicyNotFound", err)
	}

	repo.setRaw("tool-i", PolicyTypeToolReliability, `{"lifecycle_state":"VALIDATED","reliability_0_1":0.6,"blacklisted":true,"blacklisted_at_utc":"2025-01-01T00:00:00Z","note":"kept"}`, 30, 10)

	state, err := r.ClearBlacklist(ctx, "tool-i", PolicyTypeToolReliability, "vendor fixed outage")
	if err != nil {
		t.Fatalf("ClearBlacklist() failed: %v", err)
	}
	if state.Blacklisted {
		t.Error("state still blacklisted")
	}
	if state.RunCount != 30 || state.LifecycleState != StateValidated {
		t.Errorf("unexpected state: %+v", state)
	}

	row, _ := repo.row("tool-i", PolicyTypeToolReliability)
	doc, err := ParseStateDocument(row.json)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Blacklisted || doc.BlacklistedAt != nil {
		t.Errorf("document still blacklisted: %+v", doc)
	}
	if _, ok := doc.Extra["note"]; !ok {
		t.Error("passthrough key dropped")
	}

	if repo.auditCount() != 1 {
		t.Fatalf("audit entries = %d, want 1", repo.auditCount())
	}
	if repo.audit[0].Reason != "vendor fixed outage" || !repo.audit[0].Before.Blacklisted {
		t.Errorf("unexpected audit entry: %+v", repo.audit[0])
	}

	// Clearing again is a no-op.
	if _, err := r.ClearBlacklist(ctx, "tool-i", PolicyTypeToolReliability, "again"); err != nil {
		t.Fatal(err)
	}
	if repo.auditCount() != 1 {
		t.Errorf("no-op clear wrote audit entry")
	}
}

// TestClearBlacklist_WriteFailure tests that a failed audit write keeps the
// policy blacklisted.
func TestClearBlacklist_WriteFailure(t *testing.T) {
	for _, step := range []string{StepUpsertState, StepWriteAudit, StepCommit} {
		t.Run(step, func(t *testing.T) {
			repo := newFakeRepo()
			r := newTestReducer(repo, nil, DefaultThresholds(), nil)
			repo.setRaw("tool-j", PolicyTypeToolReliability, `{"lifecycle_state":"CANDIDATE","reliability_0_1":0.1,"blacklisted":true}`, 5, 4)

			repo.failStep = step
			if _, err := r.ClearBlacklist(context.Background(), "tool-j", PolicyTypeToolReliability, "retry"); !errors.Is(err, errInjected) {
				t.Fatalf("error = %v, want injected failure", err)
			}

			row, _ := repo.row("tool-j", PolicyTypeToolReliability)
			doc, err := ParseStateDocument(row.json)
			if err != nil {
				t.Fatal(err)
			}
			if !doc.Blacklisted {
				t.Error("blacklist cleared despite failed write")
			}
			if repo.auditCount() != 0 {
				t.Errorf("audit entries = %d, want 0", repo.auditCount())
			}
		})
	}
}

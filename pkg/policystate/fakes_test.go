package policystate

import (
	"context"
	"errors"
	"sync"
	"time"
)

type policyKey struct {
	id  string
	typ PolicyType
}

type storedRow struct {
	state *PolicyState
	json  string
}

// fakeRepo is an in-memory Repository and Transactor with per-step failure
// injection. Setting failStep to StepCommit fails WithinTx after fn returns.
type fakeRepo struct {
	mu        sync.Mutex
	rows      map[policyKey]storedRow
	processed map[string]string
	audit     []*AuditEntry

	failStep string
	// staleDuplicateCheck makes IsDuplicateEvent miss marked keys, as when
	// another delivery marks the key after the check.
	staleDuplicateCheck bool
}

var errInjected = errors.New("injected failure")

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:      make(map[policyKey]storedRow),
		processed: make(map[string]string),
	}
}

func (f *fakeRepo) IsDuplicateEvent(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStep == StepIdempotencyCheck {
		return false, errInjected
	}
	if f.staleDuplicateCheck {
		return false, nil
	}
	_, ok := f.processed[key]
	return ok, nil
}

func (f *fakeRepo) GetCurrentStateJSON(_ context.Context, id string, typ PolicyType) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStep == StepReadState {
		return "", false, errInjected
	}
	row, ok := f.rows[policyKey{id, typ}]
	return row.json, ok, nil
}

func (f *fakeRepo) GetRunCounts(_ context.Context, id string, typ PolicyType) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStep == StepReadCounts {
		return 0, 0, errInjected
	}
	row, ok := f.rows[policyKey{id, typ}]
	if !ok || row.state == nil {
		return 0, 0, nil
	}
	return row.state.RunCount, row.state.FailureCount, nil
}

func (f *fakeRepo) UpsertState(_ context.Context, state *PolicyState, stateJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStep == StepUpsertState {
		return errInjected
	}
	cp := *state
	f.rows[policyKey{state.PolicyID, state.PolicyType}] = storedRow{state: &cp, json: stateJSON}
	return nil
}

func (f *fakeRepo) WriteAuditEntry(_ context.Context, entry *AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStep == StepWriteAudit {
		return errInjected
	}
	cp := *entry
	f.audit = append(f.audit, &cp)
	return nil
}

func (f *fakeRepo) MarkEventProcessed(_ context.Context, key, eventID string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStep == StepMarkProcessed {
		return false, errInjected
	}
	if _, ok := f.processed[key]; ok {
		return true, nil
	}
	f.processed[key] = eventID
	return false, nil
}

func (f *fakeRepo) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	tx := &fakeTx{
		f:         f,
		rows:      make(map[policyKey]storedRow),
		processed: make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStep == StepCommit {
		return errInjected
	}
	for k, row := range tx.rows {
		f.rows[k] = row
	}
	f.audit = append(f.audit, tx.audit...)
	for k, id := range tx.processed {
		f.processed[k] = id
	}
	return nil
}

func (f *fakeRepo) failing(step string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failStep == step
}

// fakeTx stages writes until fakeRepo.WithinTx commits them.
type fakeTx struct {
	f         *fakeRepo
	rows      map[policyKey]storedRow
	processed map[string]string
	audit     []*AuditEntry
}

func (t *fakeTx) IsDuplicateEvent(ctx context.Context, key string) (bool, error) {
	if _, ok := t.processed[key]; ok {
		return true, nil
	}
	return t.f.IsDuplicateEvent(ctx, key)
}

func (t *fakeTx) GetCurrentStateJSON(ctx context.Context, id string, typ PolicyType) (string, bool, error) {
	if row, ok := t.rows[policyKey{id, typ}]; ok {
		return row.json, true, nil
	}
	return t.f.GetCurrentStateJSON(ctx, id, typ)
}

func (t *fakeTx) GetRunCounts(ctx context.Context, id string, typ PolicyType) (int, int, error) {
	if row, ok := t.rows[policyKey{id, typ}]; ok {
		return row.state.RunCount, row.state.FailureCount, nil
	}
	return t.f.GetRunCounts(ctx, id, typ)
}

func (t *fakeTx) UpsertState(_ context.Context, state *PolicyState, stateJSON string) error {
	if t.f.failing(StepUpsertState) {
		return errInjected
	}
	cp := *state
	t.rows[policyKey{state.PolicyID, state.PolicyType}] = storedRow{state: &cp, json: stateJSON}
	return nil
}

func (t *fakeTx) WriteAuditEntry(_ context.Context, entry *AuditEntry) error {
	if t.f.failing(StepWriteAudit) {
		return errInjected
	}
	cp := *entry
	t.audit = append(t.audit, &cp)
	return nil
}

func (t *fakeTx) MarkEventProcessed(_ context.Context, key, eventID string, _ time.Time) (bool, error) {
	if t.f.failing(StepMarkProcessed) {
		return false, errInjected
	}
	if _, ok := t.processed[key]; ok {
		return true, nil
	}
	if t.f.isProcessed(key) {
		return true, nil
	}
	t.processed[key] = eventID
	return false, nil
}

// directRepo hides WithinTx so the reducer falls back to unbatched writes.
type directRepo struct {
	Repository
}

func (f *fakeRepo) setRaw(id string, typ PolicyType, raw string, runs, failures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[policyKey{id, typ}] = storedRow{
		state: &PolicyState{PolicyID: id, PolicyType: typ, RunCount: runs, FailureCount: failures},
		json:  raw,
	}
}

func (f *fakeRepo) row(id string, typ PolicyType) (storedRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[policyKey{id, typ}]
	return r, ok
}

func (f *fakeRepo) auditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audit)
}

func (f *fakeRepo) isProcessed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.processed[key]
	return ok
}

// recordingPublisher records published events and can be made to fail.
type recordingPublisher struct {
	mu       sync.Mutex
	alerts   []ToolDegradedAlert
	updates  []PolicyStateUpdatedEvent
	failWith error
}

func (p *recordingPublisher) PublishToolDegraded(_ context.Context, alert ToolDegradedAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *recordingPublisher) PublishPolicyStateUpdated(_ context.Context, event PolicyStateUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.updates = append(p.updates, event)
	return nil
}

// countingObserver counts observer callbacks.
type countingObserver struct {
	mu              sync.Mutex
	reductions      int
	failures        map[string]int
	publishFailures map[string]int
	fallbacks       int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		failures:        make(map[string]int),
		publishFailures: make(map[string]int),
	}
}

func (o *countingObserver) ObserveReduction(*Output, time.Duration) {
	o.mu.Lock()
	o.reductions++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveFailure(_ PolicyType, step string) {
	o.mu.Lock()
	o.failures[step]++
	o.mu.Unlock()
}

func (o *countingObserver) ObservePublishFailure(topic string) {
	o.mu.Lock()
	o.publishFailures[topic]++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveStateFallback(PolicyType) {
	o.mu.Lock()
	o.fallbacks++
	o.mu.Unlock()
}

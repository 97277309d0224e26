package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/objectives/pkg/abeval"
	"mercator-hq/objectives/pkg/policystate"
)

type stateKey struct {
	policyType policystate.PolicyType
	policyID   string
}

type memoryRow struct {
	state     policystate.PolicyState
	stateJSON string
}

type processedKey struct {
	eventID     string
	processedAt time.Time
}

type variantCounter struct {
	runs int
	wins int
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory.
// This implementation is intended for testing only and should not be used in production.
type MemoryStore struct {
	mu        sync.RWMutex
	states    map[stateKey]memoryRow
	processed map[string]processedKey
	audit     []policystate.AuditEntry
	counters  map[string]map[string]*variantCounter
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[stateKey]memoryRow),
		processed: make(map[string]processedKey),
		counters:  make(map[string]map[string]*variantCounter),
	}
}

// IsDuplicateEvent implements policystate.Repository.
func (s *MemoryStore) IsDuplicateEvent(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[key]
	return ok, nil
}

// GetCurrentStateJSON implements policystate.Repository.
func (s *MemoryStore) GetCurrentStateJSON(_ context.Context, policyID string, policyType policystate.PolicyType) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.states[stateKey{policyType, policyID}]
	return row.stateJSON, ok, nil
}

// GetRunCounts implements policystate.Repository.
func (s *MemoryStore) GetRunCounts(_ context.Context, policyID string, policyType policystate.PolicyType) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.states[stateKey{policyType, policyID}]
	return row.state.RunCount, row.state.FailureCount, nil
}

// UpsertState implements policystate.Repository.
func (s *MemoryStore) UpsertState(_ context.Context, state *policystate.PolicyState, stateJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := memoryRow{state: *state, stateJSON: stateJSON}
	row.state.UpdatedAt = state.UpdatedAt.UTC()
	s.states[stateKey{state.PolicyType, state.PolicyID}] = row
	return nil
}

// WriteAuditEntry implements policystate.Repository.
func (s *MemoryStore) WriteAuditEntry(_ context.Context, entry *policystate.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.audit {
		if existing.ID == entry.ID {
			return NewStorageError("memory", "write_audit_entry", fmt.Errorf("duplicate audit entry id %q", entry.ID))
		}
	}
	s.audit = append(s.audit, *entry)
	return nil
}

// MarkEventProcessed implements policystate.Repository.
func (s *MemoryStore) MarkEventProcessed(_ context.Context, key, eventID string, processedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[key]; ok {
		return true, nil
	}
	s.processed[key] = processedKey{eventID: eventID, processedAt: processedAt.UTC()}
	return false, nil
}

// WithinTx implements policystate.Transactor. Writes are staged and applied
// under one lock when fn succeeds.
func (s *MemoryStore) WithinTx(_ context.Context, fn func(tx policystate.Repository) error) error {
	tx := &memoryTx{
		store:     s,
		states:    make(map[stateKey]memoryRow),
		processed: make(map[string]processedKey),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// memoryTx stages writes for MemoryStore.WithinTx. Reads see staged writes
// first, then committed ones.
type memoryTx struct {
	store     *MemoryStore
	states    map[stateKey]memoryRow
	processed map[string]processedKey
	audit     []policystate.AuditEntry
}

func (t *memoryTx) IsDuplicateEvent(ctx context.Context, key string) (bool, error) {
	if _, ok := t.processed[key]; ok {
		return true, nil
	}
	return t.store.IsDuplicateEvent(ctx, key)
}

func (t *memoryTx) GetCurrentStateJSON(ctx context.Context, policyID string, policyType policystate.PolicyType) (string, bool, error) {
	if row, ok := t.states[stateKey{policyType, policyID}]; ok {
		return row.stateJSON, true, nil
	}
	return t.store.GetCurrentStateJSON(ctx, policyID, policyType)
}

func (t *memoryTx) GetRunCounts(ctx context.Context, policyID string, policyType policystate.PolicyType) (int, int, error) {
	if row, ok := t.states[stateKey{policyType, policyID}]; ok {
		return row.state.RunCount, row.state.FailureCount, nil
	}
	return t.store.GetRunCounts(ctx, policyID, policyType)
}

func (t *memoryTx) UpsertState(_ context.Context, state *policystate.PolicyState, stateJSON string) error {
	row := memoryRow{state: *state, stateJSON: stateJSON}
	row.state.UpdatedAt = state.UpdatedAt.UTC()
	t.states[stateKey{state.PolicyType, state.PolicyID}] = row
	return nil
}

func (t *memoryTx) WriteAuditEntry(_ context.Context, entry *policystate.AuditEntry) error {
	for _, staged := range t.audit {
		if staged.ID == entry.ID {
			return NewStorageError("memory", "write_audit_entry", fmt.Errorf("duplicate audit entry id %q", entry.ID))
		}
	}
	t.audit = append(t.audit, *entry)
	return nil
}

func (t *memoryTx) MarkEventProcessed(ctx context.Context, key, eventID string, processedAt time.Time) (bool, error) {
	already, err := t.IsDuplicateEvent(ctx, key)
	if err != nil || already {
		return already, err
	}
	t.processed[key] = processedKey{eventID: eventID, processedAt: processedAt.UTC()}
	return false, nil
}

func (t *memoryTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range t.audit {
		for _, existing := range s.audit {
			if existing.ID == entry.ID {
				return NewStorageError("memory", "commit", fmt.Errorf("duplicate audit entry id %q", entry.ID))
			}
		}
	}
	for key := range t.processed {
		if _, ok := s.processed[key]; ok {
			return NewStorageError("memory", "commit", fmt.Errorf("idempotency key %q already processed", key))
		}
	}

	for k, row := range t.states {
		s.states[k] = row
	}
	s.audit = append(s.audit, t.audit...)
	for key, p := range t.processed {
		s.processed[key] = p
	}
	return nil
}

// GetState implements Store.
func (s *MemoryStore) GetState(_ context.Context, policyID string, policyType policystate.PolicyType) (*policystate.PolicyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.states[stateKey{policyType, policyID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", policystate.ErrPolicyNotFound, policyType, policyID)
	}
	state := row.state
	return &state, nil
}

// ListStates implements Store.
func (s *MemoryStore) ListStates(_ context.Context, query StateQuery) ([]*policystate.PolicyState, error) {
	s.mu.RLock()
	var matched []*policystate.PolicyState
	for _, row := range s.states {
		st := row.state
		if query.PolicyType != "" && st.PolicyType != query.PolicyType {
			continue
		}
		if query.LifecycleState != "" && st.LifecycleState != query.LifecycleState {
			continue
		}
		if query.Blacklisted != nil && st.Blacklisted != *query.Blacklisted {
			continue
		}
		matched = append(matched, &st)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PolicyType != matched[j].PolicyType {
			return matched[i].PolicyType < matched[j].PolicyType
		}
		return matched[i].PolicyID < matched[j].PolicyID
	})
	return paginate(matched, query.Offset, query.Limit), nil
}

// StateCounts implements Store.
func (s *MemoryStore) StateCounts(_ context.Context) ([]StateCount, error) {
	s.mu.RLock()
	type countKey struct {
		policyType  policystate.PolicyType
		lifecycle   policystate.LifecycleState
		blacklisted bool
	}
	grouped := make(map[countKey]int)
	for _, row := range s.states {
		grouped[countKey{row.state.PolicyType, row.state.LifecycleState, row.state.Blacklisted}]++
	}
	s.mu.RUnlock()

	counts := make([]StateCount, 0, len(grouped))
	for k, n := range grouped {
		counts = append(counts, StateCount{PolicyType: k.policyType, LifecycleState: k.lifecycle, Blacklisted: k.blacklisted, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		a, b := counts[i], counts[j]
		if a.PolicyType != b.PolicyType {
			return a.PolicyType < b.PolicyType
		}
		if a.LifecycleState != b.LifecycleState {
			return a.LifecycleState < b.LifecycleState
		}
		return !a.Blacklisted && b.Blacklisted
	})
	return counts, nil
}

// QueryAudit implements Store.
func (s *MemoryStore) QueryAudit(_ context.Context, query AuditQuery) ([]*policystate.AuditEntry, error) {
	s.mu.RLock()
	var matched []*policystate.AuditEntry
	// Walk backwards so equal timestamps come out newest-inserted first.
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if query.PolicyID != "" && e.PolicyID != query.PolicyID {
			continue
		}
		if query.PolicyType != "" && e.PolicyType != query.PolicyType {
			continue
		}
		if query.EventID != "" && e.EventID != query.EventID {
			continue
		}
		if query.TransitionsOnly && !e.TransitionOccurred {
			continue
		}
		if query.Since != nil && e.RecordedAt.Before(*query.Since) {
			continue
		}
		if query.Until != nil && e.RecordedAt.After(*query.Until) {
			continue
		}
		matched = append(matched, &e)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].RecordedAt.After(matched[j].RecordedAt)
	})
	return paginate(matched, query.Offset, query.Limit), nil
}

// PruneProcessedKeys implements Store.
func (s *MemoryStore) PruneProcessedKeys(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, p := range s.processed {
		if p.processedAt.Before(before) {
			delete(s.processed, key)
			n++
		}
	}
	return n, nil
}

// PruneAudit implements Store.
func (s *MemoryStore) PruneAudit(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.audit[:0]
	var n int64
	for _, e := range s.audit {
		if e.RecordedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return n, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Policies:      int64(len(s.states)),
		ProcessedKeys: int64(len(s.processed)),
		AuditEntries:  int64(len(s.audit)),
	}, nil
}

// GetCounters implements abeval.CounterStore.
func (s *MemoryStore) GetCounters(_ context.Context, objectiveID string) (abeval.Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counters := abeval.Counters{
		RunCountByVariant:       map[string]int{},
		ShadowWinCountByVariant: map[string]int{},
	}
	for id, c := range s.counters[objectiveID] {
		counters.RunCountByVariant[id] = c.runs
		counters.ShadowWinCountByVariant[id] = c.wins
	}
	return counters, nil
}

// RecordRun implements abeval.CounterStore.
func (s *MemoryStore) RecordRun(_ context.Context, objectiveID string, shadowIDs, winnerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVariant := s.counters[objectiveID]
	if byVariant == nil {
		byVariant = make(map[string]*variantCounter)
		s.counters[objectiveID] = byVariant
	}
	for _, inc := range counterIncrements(shadowIDs, winnerIDs) {
		c := byVariant[inc.variantID]
		if c == nil {
			c = &variantCounter{}
			byVariant[inc.variantID] = c
		}
		c.runs += inc.runs
		c.wins += inc.wins
	}
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if l := effectiveLimit(limit); l < len(items) {
		items = items[:l]
	}
	return items
}

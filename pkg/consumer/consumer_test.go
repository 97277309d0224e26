package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/objectives/pkg/policystate"
	"mercator-hq/objectives/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(key, policyID string, delta float64) *policystate.RewardAssignedEvent {
	return &policystate.RewardAssignedEvent{
		EventID:        "evt-" + key,
		IdempotencyKey: key,
		PolicyID:       policyID,
		PolicyType:     policystate.PolicyTypeToolReliability,
		RewardDelta:    delta,
	}
}

// recordingHandler records the order events were reduced in per policy and
// fails according to failFor.
type recordingHandler struct {
	mu       sync.Mutex
	order    map[string][]string
	inFlight map[string]int
	overlap  bool
	calls    map[string]int

	// failFor returns the error for the n-th call (1-based) with key.
	failFor func(key string, call int) error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		order:    make(map[string][]string),
		inFlight: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (h *recordingHandler) Reduce(_ context.Context, e *policystate.RewardAssignedEvent) (*policystate.Output, error) {
	h.mu.Lock()
	h.calls[e.IdempotencyKey]++
	call := h.calls[e.IdempotencyKey]
	h.inFlight[e.PolicyID]++
	if h.inFlight[e.PolicyID] > 1 {
		h.overlap = true
	}
	h.mu.Unlock()

	time.Sleep(50 * time.Microsecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.inFlight[e.PolicyID]--

	if h.failFor != nil {
		if err := h.failFor(e.IdempotencyKey, call); err != nil {
			return nil, err
		}
	}
	h.order[e.PolicyID] = append(h.order[e.PolicyID], e.IdempotencyKey)
	return &policystate.Output{EventID: e.EventID, PolicyID: e.PolicyID, PolicyType: e.PolicyType}, nil
}

type resultSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *resultSink) add(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *resultSink) byKey(key string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if r.Event.IdempotencyKey == key {
			return r, true
		}
	}
	return Result{}, false
}

func TestDecoder_Decode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		validate bool
		wantErr  bool
	}{
		{
			name:     "valid event",
			raw:      `{"event_id":"e1","idempotency_key":"k1","policy_id":"tool:search","policy_type":"TOOL_RELIABILITY","reward_delta":-0.1,"occurred_at_utc":"2025-03-01T12:00:00Z"}`,
			validate: true,
		},
		{
			name:     "missing idempotency key",
			raw:      `{"policy_id":"p","policy_type":"TOOL_RELIABILITY","reward_delta":0.1}`,
			validate: true,
			wantErr:  true,
		},
		{
			name:     "unknown policy type",
			raw:      `{"idempotency_key":"k","policy_id":"p","policy_type":"SOMETHING","reward_delta":0.1}`,
			validate: true,
			wantErr:  true,
		},
		{
			name:     "reward delta as string",
			raw:      `{"idempotency_key":"k","policy_id":"p","policy_type":"ROUTING_WEIGHT","reward_delta":"0.1"}`,
			validate: true,
			wantErr:  true,
		},
		{
			name:     "not json",
			raw:      `reward`,
			validate: true,
			wantErr:  true,
		},
		{
			name:     "schema off still checks required fields",
			raw:      `{"policy_id":"p","policy_type":"ROUTING_WEIGHT","reward_delta":0.1}`,
			validate: false,
			wantErr:  true,
		},
		{
			name:     "schema off accepts valid event",
			raw:      `{"idempotency_key":"k","policy_id":"p","policy_type":"ROUTING_WEIGHT","reward_delta":0.1}`,
			validate: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDecoder(tt.validate)
			if err != nil {
				t.Fatalf("NewDecoder() failed: %v", err)
			}
			ev, err := d.Decode([]byte(tt.raw))
			if tt.wantErr {
				var decodeErr *DecodeError
				if !errors.As(err, &decodeErr) {
					t.Fatalf("Decode() error = %v, want *DecodeError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if ev.EventID == "" {
				t.Error("EventID should default to the idempotency key")
			}
		})
	}
}

func TestDecoder_OccurredAt(t *testing.T) {
	receivedAt := time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)
	withTimestamp := func(ts string) string {
		return `{"idempotency_key":"k","policy_id":"p","policy_type":"TOOL_RELIABILITY","reward_delta":0.1,"occurred_at_utc":` + ts + `}`
	}

	tests := []struct {
		name    string
		raw     string
		want    time.Time
		wantErr bool
	}{
		{
			name: "utc designator",
			raw:  withTimestamp(`"2025-03-01T12:00:00Z"`),
			want: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "zone offset converted to utc",
			raw:  withTimestamp(`"2025-03-01T14:00:00+02:00"`),
			want: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "no offset read as utc",
			raw:  withTimestamp(`"2025-03-01T12:00:00"`),
			want: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "fractional seconds without offset",
			raw:  withTimestamp(`"2025-03-01T12:00:00.123456"`),
			want: time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC),
		},
		{
			name: "fractional seconds with offset",
			raw:  withTimestamp(`"2025-03-01T12:00:00.123456+00:00"`),
			want: time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC),
		},
		{
			name: "space separator",
			raw:  withTimestamp(`"2025-03-01 12:00:00"`),
			want: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "missing falls back to receive time",
			raw:  `{"idempotency_key":"k","policy_id":"p","policy_type":"TOOL_RELIABILITY","reward_delta":0.1}`,
			want: receivedAt,
		},
		{
			name:    "not a timestamp",
			raw:     withTimestamp(`"yesterday"`),
			wantErr: true,
		},
		{
			name:    "date only",
			raw:     withTimestamp(`"2025-03-01"`),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		for _, validate := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s/schema=%v", tt.name, validate), func(t *testing.T) {
				d, err := NewDecoder(validate,
					WithDecoderLogger(discardLogger()),
					WithDecoderClock(func() time.Time { return receivedAt }))
				if err != nil {
					t.Fatalf("NewDecoder() failed: %v", err)
				}
				ev, err := d.Decode([]byte(tt.raw))
				if tt.wantErr {
					var decodeErr *DecodeError
					if !errors.As(err, &decodeErr) {
						t.Fatalf("Decode() error = %v, want *DecodeError", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("Decode() failed: %v", err)
				}
				if !ev.OccurredAt.Equal(tt.want) || ev.OccurredAt.Location() != time.UTC {
					t.Errorf("OccurredAt = %v, want %v", ev.OccurredAt, tt.want)
				}
			})
		}
	}
}

func TestPartitionFor(t *testing.T) {
	for _, n := range []int{0, 1, 3, 16} {
		seen := make(map[int]bool)
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("policy-%d", i)
			p := PartitionFor(policystate.PolicyTypeRoutingWeight, id, n)
			if p != PartitionFor(policystate.PolicyTypeRoutingWeight, id, n) {
				t.Fatalf("PartitionFor not deterministic for %s", id)
			}
			max := n
			if max < 1 {
				max = 1
			}
			if p < 0 || p >= max {
				t.Fatalf("PartitionFor(%s, %d) = %d out of range", id, n, p)
			}
			seen[p] = true
		}
		if n == 16 && len(seen) < 8 {
			t.Errorf("poor spread over %d partitions: %d used", n, len(seen))
		}
	}
}

func TestDispatcher_PerPolicyOrder(t *testing.T) {
	h := newRecordingHandler()
	sink := &resultSink{}
	d := NewDispatcher(h, DispatcherConfig{
		Partitions: 4,
		BufferSize: 8,
		Logger:     discardLogger(),
		OnResult:   sink.add,
	})
	d.Start(context.Background())

	policies := []string{"tool:a", "tool:b", "tool:c", "tool:d", "tool:e"}
	want := make(map[string][]string)
	for i := 0; i < 40; i++ {
		for _, p := range policies {
			key := fmt.Sprintf("%s-%02d", p, i)
			want[p] = append(want[p], key)
			if err := d.Submit(context.Background(), event(key, p, 0.01)); err != nil {
				t.Fatalf("Submit() failed: %v", err)
			}
		}
	}
	d.Close()

	if h.overlap {
		t.Error("events for one policy were reduced concurrently")
	}
	for _, p := range policies {
		got := h.order[p]
		if len(got) != len(want[p]) {
			t.Fatalf("%s: reduced %d events, want %d", p, len(got), len(want[p]))
		}
		for i := range got {
			if got[i] != want[p][i] {
				t.Fatalf("%s: position %d = %s, want %s", p, i, got[i], want[p][i])
			}
		}
	}
	if len(sink.results) != 200 {
		t.Errorf("results = %d, want 200", len(sink.results))
	}
}

func TestDispatcher_Retry(t *testing.T) {
	transient := errors.New("database is locked")

	tests := []struct {
		name         string
		failFor      func(key string, call int) error
		wantAttempts int
		wantErr      error
	}{
		{
			name:         "succeeds first time",
			wantAttempts: 1,
		},
		{
			name: "recovers after two failures",
			failFor: func(_ string, call int) error {
				if call <= 2 {
					return transient
				}
				return nil
			},
			wantAttempts: 3,
		},
		{
			name:         "gives up after max attempts",
			failFor:      func(string, int) error { return transient },
			wantAttempts: 4,
			wantErr:      transient,
		},
		{
			name: "invalid events are not retried",
			failFor: func(string, int) error {
				return fmt.Errorf("%w: policy_id is required", policystate.ErrInvalidEvent)
			},
			wantAttempts: 1,
			wantErr:      policystate.ErrInvalidEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRecordingHandler()
			h.failFor = tt.failFor
			sink := &resultSink{}
			obs := &countingObserver{}
			d := NewDispatcher(h, DispatcherConfig{
				Partitions:     2,
				MaxAttempts:    4,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     5 * time.Millisecond,
				Logger:         discardLogger(),
				Observer:       obs,
				OnResult:       sink.add,
			})
			d.Start(context.Background())
			if err := d.Submit(context.Background(), event("k1", "tool:a", -0.1)); err != nil {
				t.Fatal(err)
			}
			d.Close()

			res, ok := sink.byKey("k1")
			if !ok {
				t.Fatal("no result reported")
			}
			if res.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", res.Attempts, tt.wantAttempts)
			}
			if tt.wantErr == nil && res.Err != nil {
				t.Errorf("Err = %v, want nil", res.Err)
			}
			if tt.wantErr != nil && !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", res.Err, tt.wantErr)
			}
			if tt.wantErr == nil && res.Output == nil {
				t.Error("Output is nil on success")
			}
			if obs.retries != tt.wantAttempts-1 {
				t.Errorf("retries observed = %d, want %d", obs.retries, tt.wantAttempts-1)
			}
			if obs.results != 1 {
				t.Errorf("results observed = %d, want 1", obs.results)
			}
		})
	}
}

type countingObserver struct {
	mu      sync.Mutex
	results int
	retries int
	depths  int
}

func (o *countingObserver) ObserveResult(Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results++
}

func (o *countingObserver) ObserveRetry(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *countingObserver) ObserveQueueDepth(int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depths++
}

func TestDispatcher_SubmitValidation(t *testing.T) {
	d := NewDispatcher(newRecordingHandler(), DispatcherConfig{Logger: discardLogger()})
	d.Start(context.Background())

	bad := event("k", "", 0.1)
	if err := d.Submit(context.Background(), bad); !errors.Is(err, policystate.ErrInvalidEvent) {
		t.Errorf("Submit(invalid) = %v, want ErrInvalidEvent", err)
	}

	d.Close()
	d.Close()
	if err := d.Submit(context.Background(), event("k", "tool:a", 0.1)); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Submit after Close = %v, want ErrDispatcherClosed", err)
	}
}

func TestDispatcher_SubmitBlocksUntilContextDone(t *testing.T) {
	// Not started: nothing drains the single slot.
	d := NewDispatcher(newRecordingHandler(), DispatcherConfig{Partitions: 1, BufferSize: 1, Logger: discardLogger()})
	if err := d.Submit(context.Background(), event("k1", "tool:a", 0.1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Submit(ctx, event("k2", "tool:a", 0.1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() = %v, want DeadlineExceeded", err)
	}
	d.Close()
}

func TestLineSource_Run(t *testing.T) {
	input := strings.Join([]string{
		`{"idempotency_key":"k1","policy_id":"tool:a","policy_type":"TOOL_RELIABILITY","reward_delta":0.1}`,
		``,
		`{"idempotency_key":"k2","policy_id":"tool:a","policy_type":"BOGUS","reward_delta":0.1}`,
		`not json`,
		`{"idempotency_key":"k3","policy_id":"tool:b","policy_type":"ROUTING_WEIGHT","reward_delta":-0.2}`,
	}, "\n")

	decoder, err := NewDecoder(true)
	if err != nil {
		t.Fatal(err)
	}
	h := newRecordingHandler()
	d := NewDispatcher(h, DispatcherConfig{Partitions: 2, Logger: discardLogger()})
	d.Start(context.Background())

	var rejectedLines []int
	src := NewLineSource(strings.NewReader(input), decoder)
	src.OnReject = func(e *DecodeError) { rejectedLines = append(rejectedLines, e.Line) }

	stats, err := src.Run(context.Background(), d)
	d.Close()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := SourceStats{Lines: 5, Submitted: 2, Rejected: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if len(rejectedLines) != 2 || rejectedLines[0] != 3 || rejectedLines[1] != 4 {
		t.Errorf("rejected lines = %v, want [3 4]", rejectedLines)
	}
	if len(h.order["tool:a"]) != 1 || len(h.order["tool:b"]) != 1 {
		t.Errorf("reduced = %v", h.order)
	}
}

func TestDispatcher_WithReducer(t *testing.T) {
	store := storage.NewMemoryStore()
	reducer := policystate.NewReducer(store, nil, policystate.ReducerConfig{
		Thresholds: policystate.DefaultThresholds(),
		Logger:     discardLogger(),
	})

	sink := &resultSink{}
	d := NewDispatcher(reducer, DispatcherConfig{Partitions: 3, Logger: discardLogger(), OnResult: sink.add})
	d.Start(context.Background())

	// k1 is delivered twice; the second delivery must be a duplicate.
	for _, e := range []*policystate.RewardAssignedEvent{
		event("k1", "tool:a", -0.5),
		event("k1", "tool:a", -0.5),
		event("k2", "tool:a", -0.4),
	} {
		if err := d.Submit(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	d.Close()

	duplicates := 0
	for _, r := range sink.results {
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if r.Output.WasDuplicate {
			duplicates++
		}
	}
	if duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", duplicates)
	}

	state, err := store.GetState(context.Background(), "tool:a", policystate.PolicyTypeToolReliability)
	if err != nil {
		t.Fatal(err)
	}
	if state.RunCount != 2 || !state.Blacklisted {
		t.Errorf("state = %+v, want 2 runs and blacklisted", state)
	}
}

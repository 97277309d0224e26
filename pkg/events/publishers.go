package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/objectives/pkg/policystate"
)

// LogPublisher writes events to a logger. Tool degradation is logged at
// warn level, state updates at info.
type LogPublisher struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewLogPublisher creates a publisher that logs to logger, or to
// slog.Default() when logger is nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{
		logger: logger.With("component", "events.log"),
		now:    time.Now,
	}
}

// PublishToolDegraded implements policystate.Publisher.
func (p *LogPublisher) PublishToolDegraded(ctx context.Context, alert policystate.ToolDegradedAlert) error {
	env, err := NewEnvelope(policystate.TopicToolDegraded, alert, p.now())
	if err != nil {
		return err
	}
	p.logger.WarnContext(ctx, "event published",
		"event_id", env.ID,
		"topic", env.Topic,
		"tool_id", alert.ToolID,
		"reliability", alert.Reliability,
	)
	return nil
}

// PublishPolicyStateUpdated implements policystate.Publisher.
func (p *LogPublisher) PublishPolicyStateUpdated(ctx context.Context, event policystate.PolicyStateUpdatedEvent) error {
	env, err := NewEnvelope(policystate.TopicPolicyStateUpdated, event, p.now())
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "event published",
		"event_id", env.ID,
		"topic", env.Topic,
		"policy_id", event.PolicyID,
		"policy_type", event.PolicyType,
		"from", event.OldLifecycleState,
		"to", event.NewLifecycleState,
	)
	return nil
}

// JSONLPublisher writes one JSON envelope per line. It is safe for
// concurrent use.
type JSONLPublisher struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewJSONLPublisher creates a publisher writing to w.
func NewJSONLPublisher(w io.Writer) *JSONLPublisher {
	return &JSONLPublisher{w: w, now: time.Now}
}

// PublishToolDegraded implements policystate.Publisher.
func (p *JSONLPublisher) PublishToolDegraded(ctx context.Context, alert policystate.ToolDegradedAlert) error {
	return p.write(ctx, policystate.TopicToolDegraded, alert)
}

// PublishPolicyStateUpdated implements policystate.Publisher.
func (p *JSONLPublisher) PublishPolicyStateUpdated(ctx context.Context, event policystate.PolicyStateUpdatedEvent) error {
	return p.write(ctx, policystate.TopicPolicyStateUpdated, event)
}

func (p *JSONLPublisher) write(ctx context.Context, topic string, payload any) error {
	env, err := NewEnvelope(topic, payload, p.now())
	if err != nil {
		return err
	}
	env.InjectTraceContext(ctx)
	line, err := json.Marshal(env)
	if err != nil {
		return &PublishError{Topic: topic, Cause: err}
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(line); err != nil {
		return &PublishError{Topic: topic, Cause: err}
	}
	return nil
}

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu        sync.Mutex
	envelopes []*Envelope
	now       func() time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// PublishToolDegraded implements policystate.Publisher.
func (r *Recorder) PublishToolDegraded(ctx context.Context, alert policystate.ToolDegradedAlert) error {
	return r.record(ctx, policystate.TopicToolDegraded, alert)
}

// PublishPolicyStateUpdated implements policystate.Publisher.
func (r *Recorder) PublishPolicyStateUpdated(ctx context.Context, event policystate.PolicyStateUpdatedEvent) error {
	return r.record(ctx, policystate.TopicPolicyStateUpdated, event)
}

func (r *Recorder) record(ctx context.Context, topic string, payload any) error {
	env, err := NewEnvelope(topic, payload, r.now())
	if err != nil {
		return err
	}
	env.InjectTraceContext(ctx)
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env)
	r.mu.Unlock()
	return nil
}

// Envelopes returns the recorded envelopes for topic, or all envelopes when
// topic is empty, in publish order.
func (r *Recorder) Envelopes(topic string) []*Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Envelope, 0, len(r.envelopes))
	for _, env := range r.envelopes {
		if topic == "" || env.Topic == topic {
			out = append(out, env)
		}
	}
	return out
}

// Reset discards all recorded envelopes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.envelopes = nil
	r.mu.Unlock()
}

// Multi publishes to every wrapped publisher. All publishers are attempted;
// the returned error joins every failure.
type Multi []policystate.Publisher

// PublishToolDegraded implements policystate.Publisher.
func (m Multi) PublishToolDegraded(ctx context.Context, alert policystate.ToolDegradedAlert) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishToolDegraded(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishPolicyStateUpdated implements policystate.Publisher.
func (m Multi) PublishPolicyStateUpdated(ctx context.Context, event policystate.PolicyStateUpdatedEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishPolicyStateUpdated(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/objectives/pkg/policystate"
	"mercator-hq/objectives/pkg/telemetry/tracing"
)

// Envelope wraps a published payload.
type Envelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`

	// TraceContext carries the publishing span in W3C form (traceparent,
	// tracestate). Empty when the publisher was not traced.
	TraceContext map[string]string `json:"trace_context,omitempty"`
}

// NewEnvelope encodes payload into a new envelope for topic.
func NewEnvelope(topic string, payload any, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &PublishError{Topic: topic, Cause: fmt.Errorf("encode payload: %w", err)}
	}
	return &Envelope{
		ID:          uuid.New().String(),
		Topic:       topic,
		PublishedAt: now.UTC(),
		Payload:     data,
	}, nil
}

// InjectTraceContext records the span context of ctx on the envelope.
func (e *Envelope) InjectTraceContext(ctx context.Context) {
	carrier := make(map[string]string)
	tracing.InjectToMap(ctx, carrier)
	if len(carrier) > 0 {
		e.TraceContext = carrier
	}
}

// Context returns ctx extended with the envelope's trace context, so a
// downstream consumer can continue the publishing trace.
func (e *Envelope) Context(ctx context.Context) context.Context {
	if len(e.TraceContext) == 0 {
		return ctx
	}
	return tracing.ExtractFromMap(ctx, e.TraceContext)
}

// DecodeToolDegraded decodes the payload of a tool_degraded envelope.
func (e *Envelope) DecodeToolDegraded() (policystate.ToolDegradedAlert, error) {
	var alert policystate.ToolDegradedAlert
	if e.Topic != policystate.TopicToolDegraded {
		return alert, fmt.Errorf("envelope topic is %q, not %q", e.Topic, policystate.TopicToolDegraded)
	}
	err := json.Unmarshal(e.Payload, &alert)
	return alert, err
}

// DecodeStateUpdated decodes the payload of a policy.state.updated envelope.
func (e *Envelope) DecodeStateUpdated() (policystate.PolicyStateUpdatedEvent, error) {
	var event policystate.PolicyStateUpdatedEvent
	if e.Topic != policystate.TopicPolicyStateUpdated {
		return event, fmt.Errorf("envelope topic is %q, not %q", e.Topic, policystate.TopicPolicyStateUpdated)
	}
	err := json.Unmarshal(e.Payload, &event)
	return event, err
}

// PublishError reports a failed publish.
type PublishError struct {
	Topic string
	Cause error
}

// Error implements the error interface.
func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed [topic=%s]: %v", e.Topic, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *PublishError) Unwrap() error {
	return e.Cause
}

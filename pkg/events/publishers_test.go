package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/objectives/pkg/policystate"
)

var testAlert = policystate.ToolDegradedAlert{
	ToolID:      "web-search",
	Reliability: 0.15,
	OccurredAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
}

var testUpdate = policystate.PolicyStateUpdatedEvent{
	PolicyID:          "route-1",
	PolicyType:        policystate.PolicyTypeRoutingWeight,
	OldLifecycleState: policystate.StateCandidate,
	NewLifecycleState: policystate.StateValidated,
	OccurredAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
}

func TestJSONLPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewJSONLPublisher(&buf)
	ctx := context.Background()

	if err := p.PublishToolDegraded(ctx, testAlert); err != nil {
		t.Fatalf("PublishToolDegraded() failed: %v", err)
	}
	if err := p.PublishPolicyStateUpdated(ctx, testUpdate); err != nil {
		t.Fatalf("PublishPolicyStateUpdated() failed: %v", err)
	}

	var envs []Envelope
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var env Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			t.Fatalf("line is not an envelope: %v", err)
		}
		envs = append(envs, env)
	}
	if len(envs) != 2 {
		t.Fatalf("lines = %d, want 2", len(envs))
	}
	if envs[0].ID == "" || envs[0].ID == envs[1].ID {
		t.Errorf("envelope IDs not unique: %q, %q", envs[0].ID, envs[1].ID)
	}

	alert, err := envs[0].DecodeToolDegraded()
	if err != nil {
		t.Fatalf("DecodeToolDegraded() failed: %v", err)
	}
	if alert.ToolID != "web-search" || alert.Reliability != 0.15 {
		t.Errorf("decoded alert = %+v", alert)
	}

	update, err := envs[1].DecodeStateUpdated()
	if err != nil {
		t.Fatalf("DecodeStateUpdated() failed: %v", err)
	}
	if update.NewLifecycleState != policystate.StateValidated {
		t.Errorf("decoded update = %+v", update)
	}

	if _, err := envs[1].DecodeToolDegraded(); err == nil {
		t.Error("decoding with the wrong topic should fail")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestJSONLPublisher_WriteError(t *testing.T) {
	p := NewJSONLPublisher(failingWriter{})
	err := p.PublishToolDegraded(context.Background(), testAlert)

	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("error type = %T, want *PublishError", err)
	}
	if pubErr.Topic != policystate.TopicToolDegraded {
		t.Errorf("Topic = %q", pubErr.Topic)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Error("cause not unwrapped")
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	p := NewLogPublisher(logger)

	if err := p.PublishToolDegraded(context.Background(), testAlert); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"topic":"system.alert.tool_degraded"`, `"tool_id":"web-search"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	_ = r.PublishToolDegraded(ctx, testAlert)
	_ = r.PublishPolicyStateUpdated(ctx, testUpdate)
	_ = r.PublishPolicyStateUpdated(ctx, testUpdate)

	if got := len(r.Envelopes("")); got != 3 {
		t.Errorf("all envelopes = %d, want 3", got)
	}
	if got := len(r.Envelopes(policystate.TopicPolicyStateUpdated)); got != 2 {
		t.Errorf("state updates = %d, want 2", got)
	}

	r.Reset()
	if got := len(r.Envelopes("")); got != 0 {
		t.Errorf("after Reset() = %d, want 0", got)
	}
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	failing := NewJSONLPublisher(failingWriter{})
	m := Multi{a, failing, b}

	err := m.PublishToolDegraded(context.Background(), testAlert)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Error("joined error does not wrap the cause")
	}
	if len(a.Envelopes("")) != 1 || len(b.Envelopes("")) != 1 {
		t.Error("a failing publisher stopped the fan-out")
	}

	if err := (Multi{a, b}).PublishPolicyStateUpdated(context.Background(), testUpdate); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEnvelope_TraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	rec := NewRecorder()

	// Untraced publishes carry no context.
	if err := rec.PublishToolDegraded(context.Background(), testAlert); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if env := rec.Envelopes("")[0]; env.TraceContext != nil {
		t.Errorf("Expected no trace context, got %v", env.TraceContext)
	}

	ctx, span := tp.Tracer("test").Start(context.Background(), "reduce")
	defer span.End()
	if err := rec.PublishPolicyStateUpdated(ctx, testUpdate); err != nil {
		t.Fatalf("publish: %v", err)
	}

	env := rec.Envelopes(policystate.TopicPolicyStateUpdated)[0]
	traceID := span.SpanContext().TraceID().String()
	if !strings.Contains(env.TraceContext["traceparent"], traceID) {
		t.Fatalf("traceparent %q does not carry trace ID %s", env.TraceContext["traceparent"], traceID)
	}

	downstream := trace.SpanContextFromContext(env.Context(context.Background()))
	if downstream.TraceID().String() != traceID {
		t.Errorf("downstream trace ID = %s, want %s", downstream.TraceID(), traceID)
	}
	if !downstream.IsRemote() {
		t.Error("Expected extracted span context to be remote")
	}
}

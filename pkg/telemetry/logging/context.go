package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// RunIDKey is the context key for evaluation run IDs.
	RunIDKey contextKey = "run_id"

	// ObjectiveIDKey is the context key for objective IDs.
	ObjectiveIDKey contextKey = "objective_id"

	// PolicyIDKey is the context key for policy IDs.
	PolicyIDKey contextKey = "policy_id"

	// EventIDKey is the context key for reward event IDs.
	EventIDKey contextKey = "event_id"
)

// contextKeys is the order fields are emitted in.
var contextKeys = []contextKey{RunIDKey, ObjectiveIDKey, PolicyIDKey, EventIDKey}

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// WithObjectiveID adds an objective ID to the context.
func WithObjectiveID(ctx context.Context, objectiveID string) context.Context {
	return context.WithValue(ctx, ObjectiveIDKey, objectiveID)
}

// GetObjectiveID retrieves the objective ID from the context.
func GetObjectiveID(ctx context.Context) string {
	return getString(ctx, ObjectiveIDKey)
}

// WithPolicyID adds a policy ID to the context.
func WithPolicyID(ctx context.Context, policyID string) context.Context {
	return context.WithValue(ctx, PolicyIDKey, policyID)
}

// GetPolicyID retrieves the policy ID from the context.
func GetPolicyID(ctx context.Context) string {
	return getString(ctx, PolicyIDKey)
}

// WithEventID adds an event ID to the context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

// GetEventID retrieves the event ID from the context.
func GetEventID(ctx context.Context) string {
	return getString(ctx, EventIDKey)
}

func getString(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields returns the log fields carried by ctx, including
// the trace and span IDs of an active OpenTelemetry span.
func extractContextFields(ctx context.Context) []slog.Attr {
	var fields []slog.Attr
	for _, key := range contextKeys {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, slog.String(string(key), v))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}

// contextHandler adds context fields to every record logged with a
// *Context method. A field already attached to the logger (With) or the
// record is not repeated.
type contextHandler struct {
	inner slog.Handler
	bound map[string]bool
}

func newContextHandler(inner slog.Handler) *contextHandler {
	return &contextHandler{inner: inner}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.inner.Handle(ctx, r)
	}
	fields := extractContextFields(ctx)
	if len(fields) == 0 {
		return h.inner.Handle(ctx, r)
	}

	present := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		present[a.Key] = true
		return true
	})

	for _, f := range fields {
		if !h.bound[f.Key] && !present[f.Key] {
			r.AddAttrs(f)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]bool, len(h.bound)+len(attrs))
	for k := range h.bound {
		bound[k] = true
	}
	for _, a := range attrs {
		bound[a.Key] = true
	}
	return &contextHandler{inner: h.inner.WithAttrs(attrs), bound: bound}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name), bound: h.bound}
}

package consumer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"mercator-hq/objectives/pkg/policystate"
)

//go:embed reward_event.schema.json
var rewardEventSchema []byte

const rewardEventSchemaURL = "reward_event.schema.json"

// DecodeError describes an inbound message that could not be turned into a
// RewardAssignedEvent. Line is 1-based when the message came from a
// LineSource and 0 otherwise.
type DecodeError struct {
	Line  int
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decode reward event (line %d): %v", e.Line, e.Cause)
	}
	return fmt.Sprintf("decode reward event: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Decoder turns raw JSON into reward events.
type Decoder struct {
	schema *jsonschema.Schema
	logger *slog.Logger
	now    func() time.Time
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderLogger sets the logger used for recoverable input problems.
// Default: slog.Default().
func WithDecoderLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDecoderClock sets the clock used when an event carries no timestamp.
// Default: time.Now.
func WithDecoderClock(now func() time.Time) DecoderOption {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDecoder creates a decoder. When validateSchema is true every message
// is checked against the embedded reward event schema before decoding.
func NewDecoder(validateSchema bool, opts ...DecoderOption) (*Decoder, error) {
	d := &Decoder{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "consumer.decoder")
	if !validateSchema {
		return d, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(rewardEventSchemaURL, bytes.NewReader(rewardEventSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(rewardEventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	d.schema = schema
	return d, nil
}

// wireEvent shadows the event's timestamp so it can be parsed leniently.
type wireEvent struct {
	policystate.RewardAssignedEvent
	OccurredAt string `json:"occurred_at_utc"`
}

// timestampLayouts are tried in order. Layouts without a zone offset are
// read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone offset
// and fractional seconds. The result is in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("occurred_at_utc %q is not an ISO-8601 timestamp", value)
}

// Decode validates and decodes one message. Every failure is a
// *DecodeError; events that pass the schema are also checked with
// policystate.ValidateEvent. A missing occurred_at_utc is replaced with the
// current time and logged.
func (d *Decoder) Decode(raw []byte) (*policystate.RewardAssignedEvent, error) {
	if d.schema != nil {
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, &DecodeError{Cause: err}
		}
		if err := d.schema.Validate(payload); err != nil {
			return nil, &DecodeError{Cause: err}
		}
	}

	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &DecodeError{Cause: err}
	}
	event := wire.RewardAssignedEvent
	if wire.OccurredAt == "" {
		event.OccurredAt = d.now().UTC()
		d.logger.Warn("reward event has no occurred_at_utc, using receive time",
			"idempotency_key", event.IdempotencyKey,
			"policy_id", event.PolicyID,
		)
	} else {
		occurredAt, err := ParseTimestamp(wire.OccurredAt)
		if err != nil {
			return nil, &DecodeError{Cause: err}
		}
		event.OccurredAt = occurredAt
	}

	if err := policystate.ValidateEvent(&event); err != nil {
		return nil, &DecodeError{Cause: err}
	}
	if event.EventID == "" {
		event.EventID = event.IdempotencyKey
	}
	return &event, nil
}

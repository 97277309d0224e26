package policystate

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateDocument is the JSON document stored for each policy.
//
// Known fields are typed. Any other keys written by other services are kept
// in Extra and written back unchanged, so a reduction never drops data it
// does not understand.
type StateDocument struct {
	LifecycleState LifecycleState
	Reliability    float64
	Blacklisted    bool
	BlacklistedAt  *time.Time
	LastEventID    string
	UpdatedAt      time.Time

	Extra map[string]json.RawMessage
}

// knownDocument mirrors the typed part of StateDocument on the wire.
type knownDocument struct {
	LifecycleState LifecycleState `json:"lifecycle_state"`
	Reliability    float64        `json:"reliability_0_1"`
	Blacklisted    bool           `json:"blacklisted"`
	BlacklistedAt  *time.Time     `json:"blacklisted_at_utc,omitempty"`
	LastEventID    string         `json:"last_event_id,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at_utc"`
}

var knownKeys = []string{
	"lifecycle_state", "reliability_0_1", "blacklisted",
	"blacklisted_at_utc", "last_event_id", "updated_at_utc",
}

// DefaultStateDocument is the state of a policy that has never been reduced.
func DefaultStateDocument() StateDocument {
	return StateDocument{
		LifecycleState: StateCandidate,
		Reliability:    1.0,
	}
}

// ParseStateDocument decodes a stored document. Missing known fields keep
// their defaults. An unknown lifecycle state is an error.
func ParseStateDocument(raw string) (StateDocument, error) {
	doc := DefaultStateDocument()

	known := knownDocument{
		LifecycleState: doc.LifecycleState,
		Reliability:    doc.Reliability,
	}
	if err := json.Unmarshal([]byte(raw), &known); err != nil {
		return DefaultStateDocument(), fmt.Errorf("decode state document: %w", err)
	}
	if !known.LifecycleState.Valid() {
		return DefaultStateDocument(), fmt.Errorf("decode state document: unknown lifecycle state %q", known.LifecycleState)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return DefaultStateDocument(), fmt.Errorf("decode state document: %w", err)
	}
	for _, k := range knownKeys {
		delete(all, k)
	}

	doc.LifecycleState = known.LifecycleState
	doc.Reliability = clamp01(known.Reliability)
	doc.Blacklisted = known.Blacklisted
	doc.BlacklistedAt = known.BlacklistedAt
	doc.LastEventID = known.LastEventID
	doc.UpdatedAt = known.UpdatedAt
	if len(all) > 0 {
		doc.Extra = all
	}
	return doc, nil
}

// MarshalJSON writes the known fields over the passthrough keys.
func (d StateDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+len(knownKeys))
	for k, v := range d.Extra {
		out[k] = v
	}

	known, err := json.Marshal(knownDocument{
		LifecycleState: d.LifecycleState,
		Reliability:    d.Reliability,
		Blacklisted:    d.Blacklisted,
		BlacklistedAt:  d.BlacklistedAt,
		LastEventID:    d.LastEventID,
		UpdatedAt:      d.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler via ParseStateDocument.
func (d *StateDocument) UnmarshalJSON(data []byte) error {
	doc, err := ParseStateDocument(string(data))
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// Snapshot returns the lifecycle-relevant view of the document.
func (d StateDocument) Snapshot(runCount, failureCount int) StateSnapshot {
	return StateSnapshot{
		LifecycleState: d.LifecycleState,
		Reliability:    d.Reliability,
		RunCount:       runCount,
		FailureCount:   failureCount,
		Blacklisted:    d.Blacklisted,
	}
}

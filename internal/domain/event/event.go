// Package event defines the immutable domain event envelope and the closed
// set of event types that make up the intelligence log. Events are the only
// durable representation of state: aggregates are always rebuilt by folding
// their stream in version order.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/values"
)

// Event is an immutable fact appended to an aggregate's stream. ID is
// assigned once at creation and never reused. Timestamp is assigned by the
// event store at append time and is monotonic per aggregate; it is not used
// for cross-aggregate causality.
type Event struct {
	ID          uuid.UUID       `json:"event_id"`
	Type        Type            `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Version     values.Version  `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`

	// Correlation traces one request across multiple events; causation links
	// an event to the command or event that produced it. Both optional.
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
}

// New constructs a validated event with a fresh ID and a marshaled payload.
// The store-assigned fields (Timestamp) are left zero until append.
func New(eventType Type, aggregateID string, version values.Version, payload any) (*Event, error) {
	if !eventType.IsValid() {
		return nil, errors.NewValidationError("INVALID_EVENT_TYPE",
			"event type must be one of the closed set").
			WithDetails(map[string]any{"event_type": string(eventType)})
	}
	if aggregateID == "" {
		return nil, errors.NewValidationError("MISSING_AGGREGATE_ID",
			"aggregate ID is required")
	}
	if version.IsZero() {
		return nil, errors.NewValidationError("ZERO_VERSION",
			"event version must be 1-based")
	}
	if payload == nil {
		return nil, errors.NewValidationError("MISSING_PAYLOAD",
			"event payload is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal event payload").WithCause(err)
	}

	return &Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Version:     version,
		Payload:     raw,
	}, nil
}

// WithCorrelation sets trace IDs and returns the event for chaining.
func (e *Event) WithCorrelation(correlationID, causationID string) *Event {
	e.CorrelationID = correlationID
	e.CausationID = causationID
	return e
}

// Clone returns a deep copy. The store hands out clones so callers can never
// mutate the log through a shared pointer.
func (e *Event) Clone() *Event {
	clone := *e
	if e.Payload != nil {
		clone.Payload = make(json.RawMessage, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	return &clone
}

// DecodePayload unmarshals the payload into dest, which must match the
// schema for the event's type.
func (e *Event) DecodePayload(dest any) error {
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return errors.NewInternalError("failed to decode event payload").
			WithCause(err).
			WithDetails(map[string]any{"event_type": string(e.Type)})
	}
	return nil
}

// SignalCollected decodes the payload of a signal-collected event.
func (e *Event) SignalCollected() (SignalCollected, error) {
	var p SignalCollected
	if e.Type != TypeSignalCollected {
		return p, errors.NewValidationError("WRONG_EVENT_TYPE",
			"payload is not signal-collected")
	}
	err := e.DecodePayload(&p)
	return p, err
}

// ThreatDetected decodes the payload of a threat-detected event.
func (e *Event) ThreatDetected() (ThreatDetected, error) {
	var p ThreatDetected
	if e.Type != TypeThreatDetected {
		return p, errors.NewValidationError("WRONG_EVENT_TYPE",
			"payload is not threat-detected")
	}
	err := e.DecodePayload(&p)
	return p, err
}

// AnalysisCompleted decodes the payload of an analysis-completed event.
func (e *Event) AnalysisCompleted() (AnalysisCompleted, error) {
	var p AnalysisCompleted
	if e.Type != TypeAnalysisCompleted {
		return p, errors.NewValidationError("WRONG_EVENT_TYPE",
			"payload is not analysis-completed")
	}
	err := e.DecodePayload(&p)
	return p, err
}

// AlertTriggered decodes the payload of an alert-triggered event.
func (e *Event) AlertTriggered() (AlertTriggered, error) {
	var p AlertTriggered
	if e.Type != TypeAlertTriggered {
		return p, errors.NewValidationError("WRONG_EVENT_TYPE",
			"payload is not alert-triggered")
	}
	err := e.DecodePayload(&p)
	return p, err
}

// StatusChanged decodes the payload of a status-changed event.
func (e *Event) StatusChanged() (StatusChanged, error) {
	var p StatusChanged
	if e.Type != TypeStatusChanged {
		return p, errors.NewValidationError("WRONG_EVENT_TYPE",
			"payload is not status-changed")
	}
	err := e.DecodePayload(&p)
	return p, err
}

package event

import "time"

// Payload schemas for the closed event type set. Payloads are stored as
// opaque JSON in the log; these structs are the producer/consumer contract
// for each type. Validate tags are enforced by the command processor before
// an event is constructed.

// SignalCollected is the payload of a signal-collected event: one raw
// intelligence signal as received from an external collector.
type SignalCollected struct {
	Title      string    `json:"title" validate:"required"`
	Details    string    `json:"details"`
	Location   string    `json:"location"`
	OccurredAt time.Time `json:"occurred_at"`
	SourceID   string    `json:"source_id" validate:"required"`
}

// ThreatDetected is the payload of a threat-detected event. Category is one
// of the configured threat categories; Confidence is operator-supplied and
// carried through to the indicator unchanged.
type ThreatDetected struct {
	Category   string `json:"category" validate:"required"`
	Actor      string `json:"actor,omitempty"`
	Confidence int    `json:"confidence" validate:"min=0,max=100"`
}

// AnalysisCompleted is the payload of an analysis-completed event: a
// finished analytic product predicting an operation with a probability.
type AnalysisCompleted struct {
	Operation   string  `json:"operation" validate:"required"`
	Probability float64 `json:"probability" validate:"min=0,max=1"`
	Timeframe   string  `json:"timeframe,omitempty"`
}

// AlertTriggered is the payload of an alert-triggered event.
type AlertTriggered struct {
	Priority string `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
	Headline string `json:"headline" validate:"required"`
	Region   string `json:"region,omitempty"`
}

// StatusChanged is the payload of a status-changed event. De-escalation to
// GREEN always carries a justification; stale alerts are cleared explicitly,
// never by time-based decay.
type StatusChanged struct {
	From          string `json:"from" validate:"required,oneof=GREEN YELLOW RED"`
	To            string `json:"to" validate:"required,oneof=GREEN YELLOW RED"`
	Justification string `json:"justification,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

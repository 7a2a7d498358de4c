package intelligence

import "github.com/kestrelwatch/sentinel/internal/domain/event"

// CommandType labels a command for logging and metrics.
type CommandType string

const (
	CommandCollectSignal       CommandType = "collect-signal"
	CommandDetectThreat        CommandType = "detect-threat"
	CommandCompleteAnalysis    CommandType = "complete-analysis"
	CommandTriggerAlert        CommandType = "trigger-alert"
	CommandDeescalateIndicator CommandType = "deescalate-indicator"
)

// CollectSignalCommand records one raw intelligence signal against an
// indicator stream. It is the only command allowed to start a new stream.
type CollectSignalCommand struct {
	AggregateID string `validate:"required"`
	Signal      event.SignalCollected
}

// DetectThreatCommand records a confirmed threat against an existing stream.
type DetectThreatCommand struct {
	AggregateID string `validate:"required"`
	Threat      event.ThreatDetected
}

// CompleteAnalysisCommand records a finished analytic product.
type CompleteAnalysisCommand struct {
	AggregateID string `validate:"required"`
	Analysis    event.AnalysisCompleted
}

// TriggerAlertCommand raises an alert on an existing stream. HIGH and
// CRITICAL priorities require at least one triggered sub-indicator.
type TriggerAlertCommand struct {
	AggregateID string `validate:"required"`
	Alert       event.AlertTriggered
}

// DeescalateIndicatorCommand explicitly returns an indicator to GREEN. A
// justification is always required; there is no automatic decay.
type DeescalateIndicatorCommand struct {
	AggregateID   string `validate:"required"`
	Justification string `validate:"required"`
	Actor         string
}

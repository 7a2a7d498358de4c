package event

// Type is the closed enumeration of domain event kinds. The pipeline only
// ever stores these five; anything else is rejected at construction.
type Type string

const (
	// TypeSignalCollected records a raw intelligence signal entering the log.
	TypeSignalCollected Type = "signal-collected"
	// TypeThreatDetected records a classified threat against an aggregate.
	TypeThreatDetected Type = "threat-detected"
	// TypeAnalysisCompleted records a finished analytic product, typically a
	// predicted operation with a probability.
	TypeAnalysisCompleted Type = "analysis-completed"
	// TypeAlertTriggered records an alert raised for operator attention.
	TypeAlertTriggered Type = "alert-triggered"
	// TypeStatusChanged records an explicit indicator status transition,
	// including de-escalation with justification.
	TypeStatusChanged Type = "status-changed"
)

// AllTypes returns every valid event type, in a fixed order.
func AllTypes() []Type {
	return []Type{
		TypeSignalCollected,
		TypeThreatDetected,
		TypeAnalysisCompleted,
		TypeAlertTriggered,
		TypeStatusChanged,
	}
}

// IsValid reports whether t is one of the closed event type set.
func (t Type) IsValid() bool {
	switch t {
	case TypeSignalCollected, TypeThreatDetected, TypeAnalysisCompleted,
		TypeAlertTriggered, TypeStatusChanged:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

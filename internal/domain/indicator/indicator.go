// Package indicator implements the Indicators & Warnings state machine. One
// Indicator tracks one monitored condition; its state is always derivable by
// folding its event stream in version order, so the struct here is a pure
// projection with no storage of its own.
package indicator

import (
	"strings"
	"time"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/domain/values"
)

// Status is the three-level alert status of an indicator.
type Status string

const (
	StatusGreen  Status = "GREEN"
	StatusYellow Status = "YELLOW"
	StatusRed    Status = "RED"
)

// Trend compares the current triggered count against the previous
// evaluation.
type Trend string

const (
	TrendStable     Trend = "STABLE"
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
)

// Definition is the configured, immutable description of one indicator:
// what it watches, which terms trigger it, and how many triggered
// sub-indicators confirm an escalation to RED.
type Definition struct {
	ID               string
	Description      string
	TriggerThreshold string
	TriggerTerms     []string
	WarningThreshold int
}

// Indicator is the folded state of one indicator aggregate. It is mutated
// only by Apply in response to stored events, never directly by queries.
type Indicator struct {
	ID               string         `json:"id"`
	Description      string         `json:"description"`
	Status           Status         `json:"status"`
	Trend            Trend          `json:"trend"`
	Confidence       int            `json:"confidence"`
	TriggerThreshold string         `json:"trigger_threshold"`
	WarningThreshold int            `json:"warning_threshold"`
	TriggeredCount   int            `json:"triggered_count"`
	LastUpdated      time.Time      `json:"last_updated"`
	Version          values.Version `json:"version"`

	triggerTerms []string
}

// New returns the baseline (GREEN) state for a definition. WarningThreshold
// below 1 is clamped to 1 so RED stays reachable.
func New(def Definition) *Indicator {
	threshold := def.WarningThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &Indicator{
		ID:               def.ID,
		Description:      def.Description,
		Status:           StatusGreen,
		Trend:            TrendStable,
		TriggerThreshold: def.TriggerThreshold,
		WarningThreshold: threshold,
		triggerTerms:     def.TriggerTerms,
	}
}

// Apply folds one event into the state. Events must arrive in version order
// with no gaps; anything else is a replay bug, not a recoverable condition.
//
// Transitions:
//   - GREEN -> YELLOW when a signal or detection matches the trigger terms.
//   - YELLOW -> RED when the triggered count reaches the warning threshold.
//   - RED/YELLOW -> GREEN only via an explicit status-changed de-escalation;
//     there is no time-based decay.
func (ind *Indicator) Apply(evt *event.Event) error {
	if evt.AggregateID != ind.ID {
		return errors.NewInternalError("event applied to wrong indicator").
			WithDetails(map[string]any{"indicator": ind.ID, "aggregate": evt.AggregateID})
	}
	if !evt.Version.Follows(ind.Version) {
		return errors.NewInternalError("event version out of order").
			WithDetails(map[string]any{
				"indicator": ind.ID,
				"have":      ind.Version.String(),
				"got":       evt.Version.String(),
			})
	}

	before := ind.TriggeredCount

	switch evt.Type {
	case event.TypeSignalCollected:
		sig, err := evt.SignalCollected()
		if err != nil {
			return err
		}
		if ind.matches(sig.Title + " " + sig.Details) {
			ind.TriggeredCount++
		}

	case event.TypeThreatDetected:
		threat, err := evt.ThreatDetected()
		if err != nil {
			return err
		}
		ind.Confidence = threat.Confidence
		if ind.matches(threat.Category + " " + threat.Actor) {
			ind.TriggeredCount++
		}

	case event.TypeStatusChanged:
		change, err := evt.StatusChanged()
		if err != nil {
			return err
		}
		if Status(change.To) == StatusGreen {
			ind.TriggeredCount = 0
		}
		ind.Status = Status(change.To)

	case event.TypeAnalysisCompleted, event.TypeAlertTriggered:
		// Recorded against the stream but neither triggers nor clears.
	}

	// Status follows the triggered count unless an explicit change just set
	// it; an explicit GREEN also reset the count, so the recompute below is
	// a no-op for it.
	if evt.Type != event.TypeStatusChanged {
		switch {
		case ind.TriggeredCount >= ind.WarningThreshold:
			ind.Status = StatusRed
		case ind.TriggeredCount > 0:
			ind.Status = StatusYellow
		default:
			ind.Status = StatusGreen
		}
	}

	switch {
	case ind.TriggeredCount > before:
		ind.Trend = TrendIncreasing
	case ind.TriggeredCount < before:
		ind.Trend = TrendDecreasing
	default:
		ind.Trend = TrendStable
	}

	ind.LastUpdated = evt.Timestamp
	ind.Version = evt.Version
	return nil
}

// Fold rebuilds an indicator from its complete event stream.
func Fold(def Definition, events []*event.Event) (*Indicator, error) {
	ind := New(def)
	for _, evt := range events {
		if err := ind.Apply(evt); err != nil {
			return nil, err
		}
	}
	return ind, nil
}

// Triggered reports whether at least one sub-indicator has triggered since
// the last GREEN.
func (ind *Indicator) Triggered() bool {
	return ind.TriggeredCount > 0
}

// Snapshot returns a copy safe to hand to readers.
func (ind *Indicator) Snapshot() Indicator {
	return *ind
}

func (ind *Indicator) matches(text string) bool {
	if len(ind.triggerTerms) == 0 {
		return false
	}
	text = strings.ToLower(text)
	for _, term := range ind.triggerTerms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Package risk implements the deterministic risk-scoring engine. Score is a
// pure function of a signal and its threat category over a set of lookup
// tables: no I/O, no clock, no randomness. Calling it twice on identical
// input yields a byte-identical assessment, including adjustment ordering.
package risk

import (
	"fmt"
	"strings"

	"github.com/kestrelwatch/sentinel/internal/domain/event"
)

// Level is the categorical risk level derived from the numeric score.
type Level string

const (
	LevelMinimal  Level = "MINIMAL"
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// LevelForScore maps a score to its level via the fixed thresholds.
func LevelForScore(score float64) Level {
	switch {
	case score >= 20:
		return LevelCritical
	case score >= 15:
		return LevelHigh
	case score >= 10:
		return LevelMedium
	case score >= 5:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// Assessment is the derived result of scoring one signal. It is never stored
// as an event; it is recomputed on demand from the signal and the tables.
type Assessment struct {
	Category           string   `json:"category"`
	Likelihood         int      `json:"likelihood"`
	Impact             int      `json:"impact"`
	LocationMultiplier float64  `json:"location_multiplier"`
	Adjustments        []string `json:"adjustments"`
	Score              float64  `json:"score"`
	Level              Level    `json:"level"`
	PrimaryImpact      string   `json:"primary_impact"`
	Rationale          string   `json:"rationale"`
}

// Score assesses one signal against a threat category.
//
// Rules run in a fixed order so the adjustments list is deterministic:
// baseline lookup, location multiplier, known-actor likelihood bump,
// seasonal impact bump, then the cap and final multiplication. Out-of-range
// intermediate values are clamped, never rejected.
func Score(sig event.SignalCollected, category string, tables Tables) Assessment {
	baseline, ok := tables.Matrix[category]
	if !ok {
		baseline = tables.Matrix[tables.FallbackCategory]
		category = tables.FallbackCategory
	}

	likelihood := clamp(baseline.Likelihood)
	impact := clamp(baseline.Impact)
	adjustments := []string{}

	// Location multiplier: first configured location (sorted order) found in
	// the signal's location string wins.
	multiplier := 1.0
	location := strings.ToLower(sig.Location)
	for _, name := range tables.locationKeys() {
		if !strings.Contains(location, strings.ToLower(name)) {
			continue
		}
		tier := tables.Locations[name]
		if m := tier.Multiplier(); m > multiplier {
			multiplier = m
			adjustments = append(adjustments,
				fmt.Sprintf("%s: impact x%.1f", tierReason(tier, name), m))
		}
		break
	}

	// Known high-capability actor referenced in the signal text raises
	// likelihood by one, capped at 5.
	text := strings.ToLower(sig.Title + " " + sig.Details)
	for _, actor := range tables.Actors {
		if strings.Contains(text, strings.ToLower(actor)) {
			if likelihood < 5 {
				likelihood++
			}
			adjustments = append(adjustments,
				fmt.Sprintf("Known high-capability threat actor referenced: %s", actor))
			break
		}
	}

	// Seasonal window for the category raises impact by one when enabled.
	if tables.SeasonalEnabled && !sig.OccurredAt.IsZero() {
		for _, window := range tables.Seasonal {
			if window.Category == category && window.Contains(sig.OccurredAt.Month()) {
				if impact < 5 {
					impact++
				}
				adjustments = append(adjustments, window.Reason)
				break
			}
		}
	}

	// Impact is capped at 5 after the multiplier is applied.
	finalImpact := float64(impact) * multiplier
	if finalImpact > 5 {
		finalImpact = 5
	}
	score := float64(likelihood) * finalImpact

	return Assessment{
		Category:           category,
		Likelihood:         likelihood,
		Impact:             int(finalImpact),
		LocationMultiplier: multiplier,
		Adjustments:        adjustments,
		Score:              score,
		Level:              LevelForScore(score),
		PrimaryImpact:      baseline.PrimaryImpact,
		Rationale: fmt.Sprintf("Risk Score %s = Likelihood %d/5 x Impact %d/5 x Location Factor %.1f",
			formatScore(score), likelihood, int(finalImpact), multiplier),
	}
}

// MaxLevel returns the more severe of two levels.
func MaxLevel(a, b Level) Level {
	if levelRank(a) >= levelRank(b) {
		return a
	}
	return b
}

// AtLeast reports whether l is at or above threshold.
func (l Level) AtLeast(threshold Level) bool {
	return levelRank(l) >= levelRank(threshold)
}

func levelRank(l Level) int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

func tierReason(t Tier, name string) string {
	if t == TierCritical {
		return "Critical business location: " + name
	}
	return "High-value business location: " + name
}

func clamp(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

func formatScore(score float64) string {
	if score == float64(int(score)) {
		return fmt.Sprintf("%d", int(score))
	}
	return fmt.Sprintf("%.1f", score)
}

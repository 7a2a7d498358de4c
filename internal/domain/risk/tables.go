package risk

import (
	"sort"
	"time"
)

// Lookup tables consumed by the scoring engine. These are versioned
// configuration data, not logic: callers load them from config and pass them
// into Score, so deployments can swap categories, locations, and actor lists
// without touching the engine.

// Baseline is the likelihood/impact starting point for one threat category.
type Baseline struct {
	Likelihood    int
	Impact        int
	PrimaryImpact string
}

// Tier grades how business-critical a location is. CRITICAL locations
// multiply impact by 1.3, HIGH by 1.2; anything else is neutral.
type Tier string

const (
	TierCritical Tier = "CRITICAL"
	TierHigh     Tier = "HIGH"
	TierStandard Tier = "STANDARD"
)

// Multiplier returns the impact multiplier for the tier.
func (t Tier) Multiplier() float64 {
	switch t {
	case TierCritical:
		return 1.3
	case TierHigh:
		return 1.2
	default:
		return 1.0
	}
}

// SeasonalWindow raises impact for one category during the named months.
type SeasonalWindow struct {
	Category string
	Months   []time.Month
	Reason   string
}

// Contains reports whether m falls inside the window.
func (w SeasonalWindow) Contains(m time.Month) bool {
	for _, month := range w.Months {
		if month == m {
			return true
		}
	}
	return false
}

// Tables bundles every lookup the engine consults. Matrix keys are category
// names; Locations keys are matched as case-insensitive substrings of the
// signal's location, in sorted key order so assessments are deterministic.
type Tables struct {
	Matrix           map[string]Baseline
	FallbackCategory string
	Locations        map[string]Tier
	Actors           []string
	Seasonal         []SeasonalWindow
	SeasonalEnabled  bool
}

// locationKeys returns the location table keys sorted, so substring matching
// walks them in a fixed order regardless of map iteration.
func (t Tables) locationKeys() []string {
	keys := make([]string, 0, len(t.Locations))
	for k := range t.Locations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultTables returns the stock lookup tables. Deployments normally
// override these via configuration.
func DefaultTables() Tables {
	return Tables{
		Matrix: map[string]Baseline{
			"Activism / Physical Security": {Likelihood: 4, Impact: 3, PrimaryImpact: "Store Operations & Reputation"},
			"Geopolitical / Market Risk":   {Likelihood: 3, Impact: 5, PrimaryImpact: "Revenue & Market Access"},
			"Legal / Financial":            {Likelihood: 5, Impact: 4, PrimaryImpact: "Financial Performance"},
			"Organized Retail Crime":       {Likelihood: 4, Impact: 3, PrimaryImpact: "Inventory Loss & Staff Safety"},
			"Cyber / Dark Web":             {Likelihood: 3, Impact: 4, PrimaryImpact: "Customer Data & Brand Trust"},
			"Travel Security":              {Likelihood: 3, Impact: 4, PrimaryImpact: "Executive Safety & Business Continuity"},
			"Supply Chain Disruption":      {Likelihood: 4, Impact: 3, PrimaryImpact: "Manufacturing & Operations"},
			"General Intelligence":         {Likelihood: 2, Impact: 2, PrimaryImpact: "General Awareness"},
		},
		FallbackCategory: "General Intelligence",
		Locations: map[string]Tier{
			"China":    TierCritical,
			"Shanghai": TierCritical,
			"Toronto":  TierCritical,
			"Beijing":  TierHigh,
			"London":   TierHigh,
			"Paris":    TierHigh,
			"New York": TierHigh,
		},
		Actors: []string{"PETA", "LAV", "Animal Justice", "Humane Society"},
		Seasonal: []SeasonalWindow{
			{
				Category: "Activism / Physical Security",
				Months: []time.Month{
					time.October, time.November, time.December,
					time.January, time.February,
				},
				Reason: "Peak protest season increases operational impact",
			},
		},
		SeasonalEnabled: true,
	}
}

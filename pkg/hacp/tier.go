package hacp

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Level is the ordinal of a behavioral tier. T1 < T2 < T3 < T4.
type Level int

const (
	T1 Level = iota + 1
	T2
	T3
	T4
)

var levelNames = [...]string{"", "T1", "T2", "T3", "T4"}

func (l Level) String() string {
	if l >= T1 && l <= T4 {
		return levelNames[l]
	}
	return "UNKNOWN"
}

func (l Level) Valid() bool {
	return l >= T1 && l <= T4
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel accepts "T1".."T4" (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "T1":
		return T1, nil
	case "T2":
		return T2, nil
	case "T3":
		return T3, nil
	case "T4":
		return T4, nil
	}
	return 0, fmt.Errorf("hacp: unknown tier level %q", s)
}

type Calibration string

const (
	CalibrationLow        Calibration = "low"
	CalibrationMedium     Calibration = "medium"
	CalibrationHigh       Calibration = "high"
	CalibrationEnterprise Calibration = "enterprise"
)

// Tier describes how high-touch an interaction should be.
type Tier struct {
	Level       Level       `json:"level"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Calibration Calibration `json:"emotionalCalibration"`
	Features    []string    `json:"features"`
}

// tiers is indexed by Level. Never hand out elements directly, use tierFor.
var tiers = [...]Tier{
	T1: {
		Level:       T1,
		Name:        "Discovery & Initial Contact",
		Description: "First touchpoint, relationship building, discovery mode",
		Calibration: CalibrationLow,
		Features:    []string{"basic_contact", "lead_capture", "initial_screening"},
	},
	T2: {
		Level:       T2,
		Name:        "Qualification & Engagement",
		Description: "Qualified interest, deeper engagement, needs analysis",
		Calibration: CalibrationMedium,
		Features:    []string{"needs_analysis", "demo_scheduling", "proposal_generation"},
	},
	T3: {
		Level:       T3,
		Name:        "Negotiation & Decision",
		Description: "Active negotiation, decision-making process, objection handling",
		Calibration: CalibrationHigh,
		Features:    []string{"negotiation_support", "contract_review", "escalation_routing"},
	},
	T4: {
		Level:       T4,
		Name:        "Closing & Implementation",
		Description: "Final closing, implementation planning, success management",
		Calibration: CalibrationEnterprise,
		Features:    []string{"executive_escalation", "custom_solutions", "white_glove_service"},
	},
}

// planTiers maps commercial plan identifiers to behavioral tiers.
var planTiers = map[string]Level{
	"free":        T1,
	"unlimited":   T1,
	"core":        T2,
	"pro":         T3,
	"fullPro":     T3,
	"custom":      T4,
	"white_label": T4,
}

// selfServePlans are the plans trusted to run negotiations without a human.
var selfServePlans = map[string]bool{
	"custom":      true,
	"white_label": true,
}

func tierFor(l Level) Tier {
	if !l.Valid() {
		l = T1
	}
	t := tiers[l]
	t.Features = slices.Clone(t.Features)
	return t
}

// ResolveTier maps a subscription plan to its behavioral tier. Unknown plans,
// including the empty string, resolve to T1.
func ResolveTier(subscriptionTier string) Tier {
	level, ok := planTiers[subscriptionTier]
	if !ok {
		level = T1
	}
	return tierFor(level)
}

// LookupTier returns the tier for a level, or T1 for an invalid level.
func LookupTier(l Level) Tier {
	return tierFor(l)
}

// Tiers lists all behavioral tiers in ascending order.
func Tiers() []Tier {
	out := make([]Tier, 0, 4)
	for l := T1; l <= T4; l++ {
		out = append(out, tierFor(l))
	}
	return out
}

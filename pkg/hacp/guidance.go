package hacp

import "slices"

var tones = map[Calibration]string{
	CalibrationLow:        "Friendly and informative approach.",
	CalibrationMedium:     "Professional and solution-focused.",
	CalibrationHigh:       "Consultative and strategic guidance.",
	CalibrationEnterprise: "Executive-level partnership approach.",
}

// Calibrate prefixes context with the tone descriptor of the tier's
// emotional calibration. intent is accepted for future tone selection.
func Calibrate(tier Tier, intent, context string) string {
	tone, ok := tones[tier.Calibration]
	if !ok {
		return context
	}
	return tone + " " + context
}

var nextSteps = map[Level][]string{
	T1: {"Capture lead information", "Initial qualification call", "Send welcome sequence"},
	T2: {"Schedule needs analysis", "Prepare custom demo", "Research company background"},
	T3: {"Prepare proposal", "Schedule stakeholder meeting", "Address specific objections"},
	T4: {"Executive alignment call", "Custom solution design", "Implementation planning"},
}

// NextSteps returns the three suggested actions for a tier level. Unknown
// levels get the T1 list. The returned slice is owned by the caller.
func NextSteps(l Level) []string {
	steps, ok := nextSteps[l]
	if !ok {
		steps = nextSteps[T1]
	}
	return slices.Clone(steps)
}

package hacp

import "strings"

const (
	// HighValueLeadThreshold is the lead value above which a human takes over.
	HighValueLeadThreshold = 50000.0
	// weightEscalationThreshold is exceeded only by high tiers with high-impact language.
	weightEscalationThreshold = 4.0
	highImpactMultiplier      = 1.5
)

var highImpactTerms = []string{"negotiate", "close", "objection", "escalate"}

// EmotionalWeight is the tier ordinal, scaled by 1.5 when the intent carries
// high-impact language.
func EmotionalWeight(tier Tier, intent string) float64 {
	base := float64(tier.Level)
	if !tier.Level.Valid() {
		base = float64(T1)
	}
	if containsAny(strings.ToLower(intent), highImpactTerms) {
		return base * highImpactMultiplier
	}
	return base
}

// Reason names an escalation rule that fired.
type Reason string

const (
	ReasonTopTier         Reason = "top_tier"
	ReasonHighValueLead   Reason = "high_value_lead"
	ReasonEmotionalWeight Reason = "emotional_weight"
	ReasonNegotiation     Reason = "negotiation_without_self_serve"
	ReasonRouted          Reason = "routed_to_escalation"
)

type escalationInput struct {
	action           Action
	subscriptionTier string
	leadValue        *float64
}

type escalationRule struct {
	reason Reason
	fires  func(in escalationInput) bool
}

var escalationRules = []escalationRule{
	{ReasonTopTier, func(in escalationInput) bool {
		return in.action.Tier == T4
	}},
	{ReasonHighValueLead, func(in escalationInput) bool {
		return in.leadValue != nil && *in.leadValue > HighValueLeadThreshold
	}},
	{ReasonEmotionalWeight, func(in escalationInput) bool {
		return in.action.EmotionalWeight > weightEscalationThreshold
	}},
	{ReasonNegotiation, func(in escalationInput) bool {
		return strings.Contains(strings.ToLower(in.action.Intent), "negotiate") &&
			!selfServePlans[in.subscriptionTier]
	}},
	{ReasonRouted, func(in escalationInput) bool {
		return in.action.Type == RouteEscalation
	}},
}

// EscalationReasons evaluates every escalation rule and returns the ones that
// fired, in rule order. No rule is skipped once another has fired.
func EscalationReasons(action Action, subscriptionTier string, leadValue *float64) []Reason {
	in := escalationInput{action: action, subscriptionTier: subscriptionTier, leadValue: leadValue}
	var fired []Reason
	for _, rule := range escalationRules {
		if rule.fires(in) {
			fired = append(fired, rule.reason)
		}
	}
	return fired
}

// ShouldEscalate reports whether any escalation rule fires for the action.
func ShouldEscalate(action Action, subscriptionTier string, leadValue *float64) bool {
	return len(EscalationReasons(action, subscriptionTier, leadValue)) > 0
}

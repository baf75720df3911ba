// Package hacp implements the HACP behavioral tiering and intent routing
// engine: it maps a subscription plan and a free-text intent to a behavioral
// tier, a routing destination, an emotional framing and next steps.
//
// Every function in this package is pure and total. The Engine is safe for
// concurrent use.
package hacp

import "github.com/google/uuid"

// Request is one analysis input.
type Request struct {
	AccountID        string   `json:"account_id,omitempty"`
	Intent           string   `json:"intent"`
	SubscriptionTier string   `json:"subscription_tier"`
	Context          string   `json:"context"`
	LeadValue        *float64 `json:"lead_value,omitempty"`
}

// Action is the routing hint produced for one request.
type Action struct {
	ID                 string  `json:"id"`
	Type               Route   `json:"type"`
	Tier               Level   `json:"tier"`
	Intent             string  `json:"intent"`
	EmotionalWeight    float64 `json:"emotional_weight"`
	RequiresEscalation bool    `json:"requires_escalation"`
}

// AnalysisResult is the engine's output envelope.
type AnalysisResult struct {
	Action             Action   `json:"action"`
	Tier               Tier     `json:"tier"`
	NextSteps          []string `json:"next_steps"`
	EmotionalContext   string   `json:"emotional_context"`
	EscalationRequired bool     `json:"escalation_required"`
	EscalationReasons  []Reason `json:"escalation_reasons,omitempty"`
}

type Engine struct {
	newID func() string
}

type Option func(*Engine)

// WithIDGenerator replaces the action id source.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{newID: newActionID}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newActionID() string {
	return "hacp_" + uuid.NewString()
}

// Analyze runs the full pipeline for one request. It cannot fail.
func (e *Engine) Analyze(req Request) AnalysisResult {
	tier := ResolveTier(req.SubscriptionTier)
	route := ClassifyIntent(req.Intent, req.SubscriptionTier)

	action := Action{
		ID:              e.newID(),
		Type:            route,
		Tier:            tier.Level,
		Intent:          req.Intent,
		EmotionalWeight: EmotionalWeight(tier, req.Intent),
	}
	reasons := EscalationReasons(action, req.SubscriptionTier, req.LeadValue)
	action.RequiresEscalation = len(reasons) > 0

	return AnalysisResult{
		Action:             action,
		Tier:               tier,
		NextSteps:          NextSteps(tier.Level),
		EmotionalContext:   Calibrate(tier, req.Intent, req.Context),
		EscalationRequired: action.RequiresEscalation,
		EscalationReasons:  reasons,
	}
}

var defaultEngine = NewEngine()

// Analyze runs the pipeline with the default engine. leadValue may be nil.
func Analyze(intent, subscriptionTier, context string, leadValue *float64) AnalysisResult {
	return defaultEngine.Analyze(Request{
		Intent:           intent,
		SubscriptionTier: subscriptionTier,
		Context:          context,
		LeadValue:        leadValue,
	})
}

package hacp

import (
	"context"
	"fmt"
)

// Executor performs the CRM side of a gated action.
type Executor func(ctx context.Context, analysis AnalysisResult) (any, error)

// Outcome is what Gate reports back to the caller.
type Outcome struct {
	Success            bool            `json:"success"`
	EscalationRequired bool            `json:"escalation_required,omitempty"`
	Message            string          `json:"message,omitempty"`
	NextSteps          []string        `json:"next_steps,omitempty"`
	Tier               *Tier           `json:"tier,omitempty"`
	Result             any             `json:"result,omitempty"`
	Analysis           *AnalysisResult `json:"hacp_analysis,omitempty"`
	EmotionalContext   string          `json:"emotional_context,omitempty"`
}

// Gate analyzes req and only lets next run when the action routes to the CRM
// and needs no escalation. Escalated actions are held: next is not called and
// the outcome carries the framing a human should pick up with.
func (e *Engine) Gate(ctx context.Context, req Request, next Executor) (Outcome, error) {
	analysis := e.Analyze(req)

	if analysis.EscalationRequired {
		tier := analysis.Tier
		return Outcome{
			Success:            false,
			EscalationRequired: true,
			Message:            analysis.EmotionalContext,
			NextSteps:          analysis.NextSteps,
			Tier:               &tier,
			Analysis:           &analysis,
		}, nil
	}

	if analysis.Action.Type == RouteCRM && next != nil {
		result, err := next(ctx, analysis)
		if err != nil {
			return Outcome{Analysis: &analysis}, fmt.Errorf("crm action %s: %w", analysis.Action.ID, err)
		}
		return Outcome{
			Success:          true,
			Result:           result,
			Analysis:         &analysis,
			EmotionalContext: analysis.EmotionalContext,
		}, nil
	}

	return Outcome{
		Success:          true,
		Analysis:         &analysis,
		EmotionalContext: analysis.EmotionalContext,
		NextSteps:        analysis.NextSteps,
	}, nil
}

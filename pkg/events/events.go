// Package events publishes analysis outcomes to the message bus. Escalations
// go to a dedicated subject that the human notification channel consumes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hacp-router/pkg/hacp"
)

const (
	TypeAction     = "action"
	TypeEscalation = "escalation"
)

type Event struct {
	EventType          string        `json:"event_type"`
	AccountID          string        `json:"account_id,omitempty"`
	ActionID           string        `json:"action_id"`
	Tier               hacp.Level    `json:"tier"`
	Route              hacp.Route    `json:"route"`
	Intent             string        `json:"intent"`
	EmotionalWeight    float64       `json:"emotional_weight"`
	EscalationRequired bool          `json:"escalation_required"`
	Reasons            []hacp.Reason `json:"reasons,omitempty"`
	EmotionalContext   string        `json:"emotional_context,omitempty"`
	NextSteps          []string      `json:"next_steps,omitempty"`
	Timestamp          time.Time     `json:"timestamp"`
}

// FromResult builds an event of the given type from an analysis.
func FromResult(eventType, accountID string, r hacp.AnalysisResult) Event {
	return Event{
		EventType:          eventType,
		AccountID:          accountID,
		ActionID:           r.Action.ID,
		Tier:               r.Action.Tier,
		Route:              r.Action.Type,
		Intent:             r.Action.Intent,
		EmotionalWeight:    r.Action.EmotionalWeight,
		EscalationRequired: r.EscalationRequired,
		Reasons:            r.EscalationReasons,
		EmotionalContext:   r.EmotionalContext,
		NextSteps:          r.NextSteps,
		Timestamp:          time.Now().UTC(),
	}
}

// Subject narrows a base topic by tier, e.g. hacp.escalations.T4.
func (e Event) Subject(base string) string {
	return base + "." + e.Tier.String()
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	Close() error
}

// Nop drops every event. It is used when no transport is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }
func (Nop) Close() error                                 { return nil }

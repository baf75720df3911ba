package hacp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Route is where an action should be sent.
type Route string

const (
	RouteCRM        Route = "crm"
	RouteAI         Route = "ai"
	RouteEscalation Route = "escalation"
)

func (r Route) Valid() bool {
	switch r {
	case RouteCRM, RouteAI, RouteEscalation:
		return true
	}
	return false
}

func (r *Route) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !Route(s).Valid() {
		return fmt.Errorf("hacp: unknown route %q", s)
	}
	*r = Route(s)
	return nil
}

type routeRule struct {
	route      Route
	vocabulary []string
}

// routeRules is evaluated in order; the first rule with a matching term wins.
// Escalation comes first so human-judgment language beats CRM verbs.
var routeRules = []routeRule{
	{
		route:      RouteEscalation,
		vocabulary: []string{"negotiate_contract", "handle_objection", "executive_request", "custom_pricing", "negotiate"},
	},
	{
		route:      RouteCRM,
		vocabulary: []string{"create_contact", "update_contact", "schedule_call", "send_email", "update_pipeline", "create_opportunity"},
	},
}

// ClassifyIntent routes an intent to crm, ai or escalation using a
// case-insensitive substring match. Anything unmatched goes to ai.
//
// subscriptionTier does not influence routing; tier-sensitive handling lives
// in ShouldEscalate.
func ClassifyIntent(intent, subscriptionTier string) Route {
	text := strings.ToLower(intent)
	for _, rule := range routeRules {
		if containsAny(text, rule.vocabulary) {
			return rule.route
		}
	}
	return RouteAI
}

// containsAny expects text and terms to be lower case already.
func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

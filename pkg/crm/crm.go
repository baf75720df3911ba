// Package crm translates CRM webhook deliveries into analysis requests.
// Deliveries arrive already authenticated by the ingress proxy.
package crm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hacp-router/pkg/hacp"
)

var ErrUnknownEvent = errors.New("crm: unknown webhook event")

const (
	ContactCreated     = "contact.created"
	ContactUpdated     = "contact.updated"
	OpportunityCreated = "opportunity.created"
	OpportunityUpdated = "opportunity.updated"
)

type Payload struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	LocationID string          `json:"locationId"`
	Timestamp  string          `json:"timestamp"`
}

type Contact struct {
	ID          string   `json:"id"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Company     string   `json:"company,omitempty"`
	Status      string   `json:"status"`
	Value       *float64 `json:"value,omitempty"`
	LastContact string   `json:"lastContact"`
	LocationID  string   `json:"locationId"`
}

type Opportunity struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Stage      string  `json:"stage"`
	Value      float64 `json:"value"`
	ContactID  string  `json:"contactId"`
	Status     string  `json:"status"`
	PipelineID string  `json:"pipelineId"`
	LocationID string  `json:"locationId"`
}

var eventIntents = map[string]string{
	ContactCreated:     "create_contact",
	ContactUpdated:     "update_contact",
	OpportunityCreated: "create_opportunity",
	OpportunityUpdated: "update_pipeline",
}

func Parse(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("crm: decode payload: %w", err)
	}
	return p, nil
}

// ToRequest maps a delivery to the analysis request the engine should run.
// The CRM location is used as the account id.
func ToRequest(p Payload, subscriptionTier string) (hacp.Request, error) {
	intent, ok := eventIntents[p.Type]
	if !ok {
		return hacp.Request{}, fmt.Errorf("%w: %q", ErrUnknownEvent, p.Type)
	}

	req := hacp.Request{
		AccountID:        p.LocationID,
		Intent:           intent,
		SubscriptionTier: subscriptionTier,
	}

	switch p.Type {
	case ContactCreated, ContactUpdated:
		var c Contact
		if err := json.Unmarshal(p.Data, &c); err != nil {
			return hacp.Request{}, fmt.Errorf("crm: decode contact: %w", err)
		}
		req.Context = contactContext(p.Type, c)
		req.LeadValue = c.Value
	case OpportunityCreated, OpportunityUpdated:
		var o Opportunity
		if err := json.Unmarshal(p.Data, &o); err != nil {
			return hacp.Request{}, fmt.Errorf("crm: decode opportunity: %w", err)
		}
		req.Context = fmt.Sprintf("Opportunity %q in stage %s worth %.2f.", o.Name, o.Stage, o.Value)
		value := o.Value
		req.LeadValue = &value
	}
	return req, nil
}

func contactContext(eventType string, c Contact) string {
	name := c.FirstName
	if c.LastName != "" {
		name += " " + c.LastName
	}
	verb := "New contact"
	if eventType == ContactUpdated {
		verb = "Updated contact"
	}
	if c.Company != "" {
		return fmt.Sprintf("%s %s from %s (%s).", verb, name, c.Company, c.Status)
	}
	return fmt.Sprintf("%s %s (%s).", verb, name, c.Status)
}

package crm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hacp-router/pkg/hacp"
)

func TestToRequest(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantIntent string
		wantValue  *float64
		wantCtx    string
	}{
		{
			name:       "contact created",
			body:       `{"type":"contact.created","locationId":"loc-1","data":{"id":"c1","firstName":"Ada","lastName":"Lovelace","company":"Engines","status":"hot"}}`,
			wantIntent: "create_contact",
			wantCtx:    "New contact Ada Lovelace from Engines (hot).",
		},
		{
			name:       "contact updated with value",
			body:       `{"type":"contact.updated","locationId":"loc-1","data":{"id":"c1","firstName":"Ada","status":"warm","value":1200}}`,
			wantIntent: "update_contact",
			wantValue:  ptr(1200),
			wantCtx:    "Updated contact Ada (warm).",
		},
		{
			name:       "opportunity created",
			body:       `{"type":"opportunity.created","locationId":"loc-1","data":{"id":"o1","name":"Rollout","stage":"proposal","value":75000}}`,
			wantIntent: "create_opportunity",
			wantValue:  ptr(75000),
			wantCtx:    `Opportunity "Rollout" in stage proposal worth 75000.00.`,
		},
		{
			name:       "opportunity updated",
			body:       `{"type":"opportunity.updated","locationId":"loc-1","data":{"id":"o1","name":"Rollout","stage":"won","value":10}}`,
			wantIntent: "update_pipeline",
			wantValue:  ptr(10),
			wantCtx:    `Opportunity "Rollout" in stage won worth 10.00.`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.body))
			require.NoError(t, err)
			req, err := ToRequest(p, "core")
			require.NoError(t, err)
			assert.Equal(t, tt.wantIntent, req.Intent)
			assert.Equal(t, "core", req.SubscriptionTier)
			assert.Equal(t, "loc-1", req.AccountID)
			assert.Equal(t, tt.wantCtx, req.Context)
			assert.Equal(t, tt.wantValue, req.LeadValue)
		})
	}
}

func TestHighValueOpportunityEscalates(t *testing.T) {
	p, err := Parse([]byte(`{"type":"opportunity.created","data":{"name":"Big","stage":"new","value":90000}}`))
	require.NoError(t, err)
	req, err := ToRequest(p, "core")
	require.NoError(t, err)

	result := hacp.NewEngine().Analyze(req)
	assert.Equal(t, hacp.RouteCRM, result.Action.Type)
	assert.True(t, result.EscalationRequired)
	assert.Contains(t, result.EscalationReasons, hacp.ReasonHighValueLead)
}

func TestToRequestUnknownEvent(t *testing.T) {
	_, err := ToRequest(Payload{Type: "invoice.paid"}, "free")
	assert.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"type":`))
	assert.Error(t, err)

	p, err := Parse([]byte(`{"type":"contact.created","data":"nope"}`))
	require.NoError(t, err)
	_, err = ToRequest(p, "free")
	assert.Error(t, err)
}

func ptr(v float64) *float64 { return &v }

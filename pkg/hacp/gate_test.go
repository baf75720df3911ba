package hacp

import (
	"context"
	"errors"
	"testing"
)

func TestGateHoldsEscalatedActions(t *testing.T) {
	called := false
	next := func(ctx context.Context, _ AnalysisResult) (any, error) {
		called = true
		return nil, nil
	}

	out, err := NewEngine().Gate(context.Background(), Request{
		Intent: "create_contact", SubscriptionTier: "white_label", Context: "VIP",
	}, next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("executor ran for an escalated action")
	}
	if out.Success || !out.EscalationRequired {
		t.Errorf("expected held outcome, got %+v", out)
	}
	if out.Tier == nil || out.Tier.Level != T4 {
		t.Errorf("expected T4 tier on outcome, got %+v", out.Tier)
	}
	if out.Message != "Executive-level partnership approach. VIP" {
		t.Errorf("unexpected message %q", out.Message)
	}
	if len(out.NextSteps) != 3 {
		t.Errorf("expected next steps, got %v", out.NextSteps)
	}
}

func TestGateRunsCRMActions(t *testing.T) {
	next := func(ctx context.Context, _ AnalysisResult) (any, error) {
		return map[string]string{"contact_id": "c-1"}, nil
	}

	out, err := NewEngine().Gate(context.Background(), Request{Intent: "create_contact", SubscriptionTier: "core"}, next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	result, ok := out.Result.(map[string]string)
	if !ok || result["contact_id"] != "c-1" {
		t.Errorf("expected executor result, got %#v", out.Result)
	}
	if out.Analysis == nil || out.Analysis.Action.Type != RouteCRM {
		t.Errorf("expected crm analysis, got %+v", out.Analysis)
	}
}

func TestGatePropagatesExecutorError(t *testing.T) {
	boom := errors.New("crm down")
	next := func(ctx context.Context, _ AnalysisResult) (any, error) { return nil, boom }

	_, err := NewEngine().Gate(context.Background(), Request{Intent: "send_email", SubscriptionTier: "free"}, next)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped executor error, got %v", err)
	}
}

func TestGateSkipsExecutorForAIActions(t *testing.T) {
	called := false
	next := func(ctx context.Context, _ AnalysisResult) (any, error) {
		called = true
		return nil, nil
	}

	out, err := NewEngine().Gate(context.Background(), Request{Intent: "research_company", SubscriptionTier: "core"}, next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("executor ran for an ai action")
	}
	if !out.Success || len(out.NextSteps) != 3 {
		t.Errorf("expected success with next steps, got %+v", out)
	}
}

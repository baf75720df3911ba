package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hacp-router/pkg/audit"
	"github.com/hacp-router/pkg/cache"
	"github.com/hacp-router/pkg/circuitbreaker"
	"github.com/hacp-router/pkg/dispatch"
	"github.com/hacp-router/pkg/events"
	"github.com/hacp-router/pkg/hacp"
	"github.com/hacp-router/pkg/ratelimit"
	"github.com/hacp-router/pkg/retry"
)

type recordingPublisher struct {
	mu      sync.Mutex
	byTopic map[string][]events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byTopic == nil {
		p.byTopic = make(map[string][]events.Event)
	}
	p.byTopic[topic] = append(p.byTopic[topic], e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) topic(name string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.byTopic[name]...)
}

type fixture struct {
	srv      *Server
	ts       *httptest.Server
	audit    *audit.SQLStore
	pub      *recordingPublisher
	crmCalls *atomic.Int32
}

func newFixture(t *testing.T, limits map[string]int) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := audit.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	crmCalls := &atomic.Int32{}
	crmHook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		crmCalls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(crmHook.Close)

	pub := &recordingPublisher{}
	metrics := NewMetrics()
	d := dispatch.New(log,
		dispatch.WithRetry(retry.Config{MaxAttempts: 1}),
		dispatch.WithObserver(metrics.ObserveDispatch),
	)
	d.Register(hacp.RouteCRM, dispatch.NewHTTPSink(crmHook.URL, time.Second), circuitbreaker.New("crm", 5, 1, time.Minute))
	d.Register(hacp.RouteEscalation, dispatch.NewEventSink(pub, "hacp.escalations"), circuitbreaker.New("escalation", 5, 1, time.Minute))

	var policy *ratelimit.Policy
	if limits != nil {
		policy = ratelimit.NewPolicy(ratelimit.NewLocal(), limits, time.Hour)
	}

	srv := New(Deps{
		Engine:       hacp.NewEngine(),
		Metrics:      metrics,
		Log:          log,
		Audit:        store,
		Publisher:    pub,
		ActionsTopic: "hacp.actions",
		Dispatcher:   d,
		Dedup:        cache.New(rdb, "hacp", time.Hour),
		Limits:       policy,
		DefaultPlan:  "core",
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, ts: ts, audit: store, pub: pub, crmCalls: crmCalls}
}

func (f *fixture) post(t *testing.T, path string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return f.do(t, req)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.ts.URL+path, nil)
	require.NoError(t, err)
	return f.do(t, req)
}

func (f *fixture) do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.post(t, "/v1/analyze", hacp.Request{
		Intent: "create_contact", SubscriptionTier: "free", Context: "New lead from website",
	}, "X-Account-ID", "acct-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	action := body["action"].(map[string]any)
	assert.Equal(t, "crm", action["type"])
	assert.Equal(t, "T1", action["tier"])
	assert.Equal(t, false, body["escalation_required"])
	assert.Equal(t, "Friendly and informative approach. New lead from website", body["emotional_context"])
	assert.Len(t, body["next_steps"], 3)

	f.srv.Wait()
	assert.Equal(t, int32(1), f.crmCalls.Load())

	recs, err := f.audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "acct-1", recs[0].AccountID)
	assert.Equal(t, action["id"], recs[0].ActionID)

	actions := f.pub.topic("hacp.actions")
	require.Len(t, actions, 1)
	assert.Equal(t, events.TypeAction, actions[0].EventType)
}

func TestAnalyzeEscalationDispatchesToHumans(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.post(t, "/v1/analyze", map[string]any{
		"intent": "analyze_lead", "subscription_tier": "custom", "context": "Assess lead quality", "lead_value": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["escalation_required"])
	assert.Equal(t, "ai", body["action"].(map[string]any)["type"])

	f.srv.Wait()
	escalations := f.pub.topic("hacp.escalations")
	require.Len(t, escalations, 1)
	assert.Equal(t, hacp.T4, escalations[0].Tier)
	assert.Equal(t, int32(0), f.crmCalls.Load())
}

func TestAnalyzeRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.post(t, "/v1/analyze", `{"intent":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_JSON", body["code"])
}

func TestAnalyzeRateLimited(t *testing.T) {
	f := newFixture(t, map[string]int{"T1": 2})

	req := hacp.Request{AccountID: "acct-rl", Intent: "send_email", SubscriptionTier: "free"}
	for i := 0; i < 2; i++ {
		resp, _ := f.post(t, "/v1/analyze", req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := f.post(t, "/v1/analyze", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", body["code"])

	// a T2 account has its own budget
	resp, _ = f.post(t, "/v1/analyze", hacp.Request{AccountID: "acct-rl", Intent: "send_email", SubscriptionTier: "core"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	f.srv.Wait()
}

func TestGateRunsCRMInline(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.post(t, "/v1/gate", hacp.Request{Intent: "update_pipeline", SubscriptionTier: "core"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"dispatched": true, "status": "sent"}, body["result"])
	assert.Equal(t, int32(1), f.crmCalls.Load())

	f.srv.Wait()
	assert.Equal(t, int32(1), f.crmCalls.Load(), "crm delivery must not be repeated in the background")
}

func TestGateReportsMissingCRMSink(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := &recordingPublisher{}
	d := dispatch.New(log)
	d.Register(hacp.RouteEscalation, dispatch.NewEventSink(pub, "hacp.escalations"), circuitbreaker.New("escalation", 5, 1, time.Minute))
	srv := New(Deps{Engine: hacp.NewEngine(), Metrics: NewMetrics(), Log: log, Dispatcher: d})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/gate", strings.NewReader(`{"intent":"create_contact","subscription_tier":"free"}`))
	srv.Routes().ServeHTTP(rec, req)
	srv.Wait()

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"dispatched": false, "status": "skipped"}, body["result"])
	assert.Empty(t, pub.topic("hacp.escalations"))
}

func TestGateHoldsEscalations(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.post(t, "/v1/gate", hacp.Request{Intent: "create_contact", SubscriptionTier: "pro", LeadValue: ptr(80000)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["escalation_required"])
	assert.Equal(t, "Consultative and strategic guidance. ", body["message"])

	f.srv.Wait()
	assert.Equal(t, int32(0), f.crmCalls.Load())
	assert.Len(t, f.pub.topic("hacp.escalations"), 1)
}

func TestTiers(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.get(t, "/v1/tiers")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["tiers"], 4)

	resp, body = f.get(t, "/v1/tiers/t3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Negotiation & Decision", body["name"])
	assert.Equal(t, "high", body["emotionalCalibration"])

	resp, _ = f.get(t, "/v1/tiers/T9")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCRMWebhook(t *testing.T) {
	f := newFixture(t, nil)
	delivery := `{"type":"opportunity.created","locationId":"loc-5","data":{"id":"o1","name":"Rollout","stage":"proposal","value":75000}}`

	resp, body := f.post(t, "/v1/webhooks/crm?plan=core", delivery)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", body["status"])
	analysis := body["analysis"].(map[string]any)
	assert.Equal(t, true, analysis["escalation_required"])
	assert.Equal(t, "create_opportunity", analysis["action"].(map[string]any)["intent"])

	resp, body = f.post(t, "/v1/webhooks/crm?plan=core", delivery)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])

	resp, body = f.post(t, "/v1/webhooks/crm", `{"type":"invoice.paid","data":{}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ignored", body["status"])

	resp, _ = f.post(t, "/v1/webhooks/crm", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.srv.Wait()
	recs, err := f.audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "loc-5", recs[0].AccountID)
}

func TestCRMWebhookRejectsRedeliveredInvalidPayload(t *testing.T) {
	f := newFixture(t, nil)
	delivery := `{"type":"contact.created","locationId":"loc-1","data":"not-an-object"}`

	for i := 0; i < 2; i++ {
		resp, body := f.post(t, "/v1/webhooks/crm", delivery)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "delivery %d", i+1)
		assert.Equal(t, "INVALID_PAYLOAD", body["code"], "delivery %d", i+1)
	}
}

func TestRateLimitUsesTrustedPlanHeader(t *testing.T) {
	f := newFixture(t, map[string]int{"T2": 1})
	f.srv.PlanHeader = "X-Verified-Plan"

	// the body claims an unlimited plan, but without the header the
	// account is limited as the default plan (core, T2)
	req := hacp.Request{AccountID: "acct-claims", Intent: "send_email", SubscriptionTier: "custom"}
	resp, _ := f.post(t, "/v1/analyze", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := f.post(t, "/v1/analyze", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", body["code"])

	verified := hacp.Request{AccountID: "acct-verified", Intent: "send_email", SubscriptionTier: "free"}
	for i := 0; i < 3; i++ {
		resp, _ := f.post(t, "/v1/analyze", verified, "X-Verified-Plan", "white_label")
		assert.Equal(t, http.StatusOK, resp.StatusCode, "call %d", i+1)
	}
	f.srv.Wait()
}

func TestRecentActions(t *testing.T) {
	f := newFixture(t, nil)
	for _, intent := range []string{"create_contact", "research_company", "negotiate"} {
		resp, _ := f.post(t, "/v1/analyze", hacp.Request{Intent: intent, SubscriptionTier: "core"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	f.srv.Wait()

	resp, body := f.get(t, "/v1/actions?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
}

func TestRecentActionsWithoutAudit(t *testing.T) {
	srv := New(Deps{Engine: hacp.NewEngine(), Metrics: NewMetrics(), Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/actions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsExposed(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, "/v1/analyze", hacp.Request{Intent: "negotiate_contract", SubscriptionTier: "pro"})
	f.srv.Wait()

	resp, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `hacp_analyses_total{route="escalation",tier="T3"} 1`)
	assert.Contains(t, text, `hacp_escalations_total{tier="T3"} 1`)
	assert.Contains(t, text, `hacp_dispatch_total{route="escalation",status="sent"} 1`)
}

func ptr(v float64) *float64 { return &v }

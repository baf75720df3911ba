package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hacp-router/pkg/audit"
	"github.com/hacp-router/pkg/crm"
	"github.com/hacp-router/pkg/dispatch"
	"github.com/hacp-router/pkg/hacp"
	"github.com/hacp-router/pkg/ratelimit"
)

var tracer = otel.Tracer("hacp/server")

// admit applies the per-account rate limit for the caller's tier. The tier
// comes from the request plan unless a trusted PlanHeader is configured. It
// writes the error response itself and reports whether to continue.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, account, plan string) bool {
	if s.Limits == nil {
		return true
	}
	if s.PlanHeader != "" {
		plan = r.Header.Get(s.PlanHeader)
		if plan == "" {
			plan = s.DefaultPlan
		}
	}
	tier := hacp.ResolveTier(plan).Level.String()
	err := s.Limits.Check(r.Context(), account, tier)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ratelimit.ErrLimited):
		s.Metrics.rateLimited.WithLabelValues(tier).Inc()
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded for "+tier)
		return false
	default:
		// limiter errors fail open
		s.Log.Error("rate limit check failed", "account", account, "err", err)
		return true
	}
}

func (s *Server) analyze(ctx context.Context, req hacp.Request) hacp.AnalysisResult {
	_, span := tracer.Start(ctx, "analyze")
	defer span.End()

	start := time.Now()
	result := s.Engine.Analyze(req)
	s.Metrics.observeAnalysis(result, time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("hacp.action_id", result.Action.ID),
		attribute.String("hacp.tier", result.Action.Tier.String()),
		attribute.String("hacp.route", string(result.Action.Type)),
		attribute.Bool("hacp.escalation_required", result.EscalationRequired),
	)
	return result
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req hacp.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body: "+err.Error())
		return
	}
	account := accountID(r, req.AccountID)
	if !s.admit(w, r, account, req.SubscriptionTier) {
		return
	}

	result := s.analyze(r.Context(), req)
	s.record(r.Context(), account, result, true)
	writeJSON(w, http.StatusOK, result)
}

// gateDelivery reports what happened to the CRM side of a gated action.
type gateDelivery struct {
	Dispatched bool   `json:"dispatched"`
	Status     string `json:"status"`
}

type gateResponse struct {
	hacp.Outcome
	Error string `json:"error,omitempty"`
}

// handleGate runs the CRM delivery inline for actions the gate lets
// through; everything else is dispatched in the background.
func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	var req hacp.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body: "+err.Error())
		return
	}
	account := accountID(r, req.AccountID)
	if !s.admit(w, r, account, req.SubscriptionTier) {
		return
	}

	ctx, span := tracer.Start(r.Context(), "gate")
	defer span.End()

	ranInline := false
	var next hacp.Executor
	if s.Dispatcher != nil {
		next = func(ctx context.Context, analysis hacp.AnalysisResult) (any, error) {
			ranInline = true
			if !s.Dispatcher.Handles(dispatch.Destination(analysis)) {
				return gateDelivery{Dispatched: false, Status: dispatch.StatusSkipped}, nil
			}
			if err := s.Dispatcher.Dispatch(ctx, account, analysis); err != nil {
				return nil, err
			}
			return gateDelivery{Dispatched: true, Status: dispatch.StatusSent}, nil
		}
	}

	start := time.Now()
	out, err := s.Engine.Gate(ctx, req, next)
	s.Metrics.observeAnalysis(*out.Analysis, time.Since(start).Seconds())
	s.record(ctx, account, *out.Analysis, !ranInline)

	if err != nil {
		s.Log.Warn("gated crm action failed", "action_id", out.Analysis.Action.ID, "err", err)
		writeJSON(w, http.StatusBadGateway, gateResponse{Outcome: out, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, gateResponse{Outcome: out})
}

func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tiers": hacp.Tiers()})
}

func (s *Server) handleGetTier(w http.ResponseWriter, r *http.Request) {
	level, err := hacp.ParseLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hacp.LookupTier(level))
}

// handleCRMWebhook analyzes CRM deliveries. The subscription plan comes from
// ?plan= or X-Subscription-Tier, else the configured default. Redeliveries
// of an identical body are acknowledged without a second analysis.
func (s *Server) handleCRMWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	r.Body.Close()
	if err != nil {
		s.Metrics.webhooksTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	payload, err := crm.Parse(body)
	if err != nil {
		s.Metrics.webhooksTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	plan := r.URL.Query().Get("plan")
	if plan == "" {
		plan = r.Header.Get("X-Subscription-Tier")
	}
	if plan == "" {
		plan = s.DefaultPlan
	}

	req, err := crm.ToRequest(payload, plan)
	switch {
	case errors.Is(err, crm.ErrUnknownEvent):
		s.Log.Info("ignoring crm webhook", "type", payload.Type)
		s.Metrics.webhooksTotal.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	case err != nil:
		s.Metrics.webhooksTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	// Remember only deliveries that get analyzed; rejected ones stay retryable.
	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(r.Context(), s.Dedup.Key("crm-webhook", body))
		if err != nil {
			s.Log.Error("webhook dedup failed", "err", err)
		} else if !first {
			s.Metrics.webhooksTotal.WithLabelValues("duplicate").Inc()
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	result := s.analyze(r.Context(), req)
	s.record(r.Context(), req.AccountID, result, true)
	s.Metrics.webhooksTotal.WithLabelValues("processed").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "processed", "analysis": result})
}

func (s *Server) handleRecentActions(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "AUDIT_DISABLED", "audit log is not configured")
		return
	}
	recs, err := s.Audit.Recent(r.Context(), parseLimit(r, 50))
	if err != nil {
		s.Log.Error("audit query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": recs, "total": len(recs)})
}

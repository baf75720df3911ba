// Package server exposes the HACP engine over HTTP and wires each analysis
// into the audit log, the event bus, the live feed and dispatch.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hacp-router/pkg/audit"
	"github.com/hacp-router/pkg/dispatch"
	"github.com/hacp-router/pkg/events"
	"github.com/hacp-router/pkg/hacp"
	"github.com/hacp-router/pkg/ratelimit"
	"github.com/hacp-router/pkg/stream"
)

// Deduper remembers webhook deliveries. *cache.Cache satisfies it.
type Deduper interface {
	Key(scope string, body []byte) string
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// Deps are the collaborators of a Server. Everything except Engine, Metrics
// and Log is optional.
type Deps struct {
	Engine       *hacp.Engine
	Metrics      *Metrics
	Log          *slog.Logger
	Audit        audit.Store
	Publisher    events.Publisher
	ActionsTopic string
	Dispatcher   *dispatch.Dispatcher
	Dedup        Deduper
	Limits       *ratelimit.Policy
	Hub          *stream.Hub
	DefaultPlan  string
	// PlanHeader, when set, is the only source of the plan used for rate
	// limiting. A request without it is limited as DefaultPlan.
	PlanHeader string
	// DispatchTimeout bounds background deliveries.
	DispatchTimeout time.Duration
}

type Server struct {
	Deps
	inflight sync.WaitGroup
}

func New(d Deps) *Server {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.DefaultPlan == "" {
		d.DefaultPlan = "free"
	}
	if d.DispatchTimeout <= 0 {
		d.DispatchTimeout = 30 * time.Second
	}
	return &Server{Deps: d}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "hacpd"})
	})
	r.Handle("/metrics", s.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/gate", s.handleGate)
		r.Get("/tiers", s.handleListTiers)
		r.Get("/tiers/{level}", s.handleGetTier)
		r.Post("/webhooks/crm", s.handleCRMWebhook)
		r.Get("/actions", s.handleRecentActions)
		if s.Hub != nil {
			r.Handle("/stream", s.Hub)
		}
	})
	return r
}

// Wait blocks until background dispatches have finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// record fans a finished analysis out to every configured collaborator.
// Failures are logged; they never change the analysis the caller sees.
func (s *Server) record(ctx context.Context, account string, r hacp.AnalysisResult, dispatchAsync bool) {
	if s.Audit != nil {
		if err := s.Audit.Record(ctx, audit.NewRecord(account, r, time.Now())); err != nil {
			s.Log.Error("audit record failed", "action_id", r.Action.ID, "err", err)
		}
	}
	if err := s.Publisher.Publish(ctx, s.ActionsTopic, events.FromResult(events.TypeAction, account, r)); err != nil {
		s.Log.Error("publish action event failed", "action_id", r.Action.ID, "err", err)
	}
	if s.Hub != nil {
		s.Hub.Publish(account, r)
	}
	if dispatchAsync && s.Dispatcher != nil {
		s.dispatchAsync(ctx, account, r)
	}
}

func (s *Server) dispatchAsync(ctx context.Context, account string, r hacp.AnalysisResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.DispatchTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		if err := s.Dispatcher.Dispatch(ctx, account, r); err != nil {
			s.Log.Warn("dispatch failed", "action_id", r.Action.ID, "err", err)
		}
	}()
}

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hacp-router/pkg/hacp"
)

type Metrics struct {
	registry        *prometheus.Registry
	analysesTotal   *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	analyzeDuration prometheus.Histogram
	dispatchTotal   *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	rateLimited     *prometheus.CounterVec
	webhooksTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hacp_analyses_total",
				Help: "Total number of analyzed actions",
			},
			[]string{"tier", "route"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hacp_escalations_total",
				Help: "Analyzed actions that required human escalation",
			},
			[]string{"tier"},
		),
		analyzeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hacp_analyze_duration_seconds",
				Help:    "Time spent in the analysis pipeline",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hacp_dispatch_total",
				Help: "Dispatch attempts by destination and outcome",
			},
			[]string{"route", "status"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hacp_dispatch_breaker_state",
				Help: "Circuit breaker state per destination (0 closed, 1 open, 2 half-open)",
			},
			[]string{"destination"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hacp_rate_limited_total",
				Help: "Requests rejected by the per-account rate limit",
			},
			[]string{"tier"},
		),
		webhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hacp_crm_webhooks_total",
				Help: "CRM webhook deliveries by outcome",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(
		m.analysesTotal, m.escalations, m.analyzeDuration, m.dispatchTotal,
		m.breakerState, m.rateLimited, m.webhooksTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeAnalysis(r hacp.AnalysisResult, seconds float64) {
	tier := r.Action.Tier.String()
	m.analysesTotal.WithLabelValues(tier, string(r.Action.Type)).Inc()
	if r.EscalationRequired {
		m.escalations.WithLabelValues(tier).Inc()
	}
	m.analyzeDuration.Observe(seconds)
}

// ObserveDispatch matches dispatch.WithObserver.
func (m *Metrics) ObserveDispatch(dest hacp.Route, status string) {
	m.dispatchTotal.WithLabelValues(string(dest), status).Inc()
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

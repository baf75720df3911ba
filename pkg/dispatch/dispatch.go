// Package dispatch delivers routed actions to their destination: the CRM
// hook, the conversational AI relay, or the human escalation channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hacp-router/pkg/circuitbreaker"
	"github.com/hacp-router/pkg/hacp"
	"github.com/hacp-router/pkg/retry"
)

// Hint is what a destination receives about an action.
type Hint struct {
	ActionID         string     `json:"action_id"`
	AccountID        string     `json:"account_id,omitempty"`
	Type             hacp.Route `json:"type"`
	Tier             hacp.Level `json:"tier"`
	Intent           string     `json:"intent"`
	EmotionalContext string     `json:"emotional_context,omitempty"`
	NextSteps        []string   `json:"next_steps,omitempty"`

	result hacp.AnalysisResult
}

// Result returns the analysis the hint was built from.
func (h Hint) Result() hacp.AnalysisResult { return h.result }

func NewHint(accountID string, r hacp.AnalysisResult) Hint {
	return Hint{
		ActionID:         r.Action.ID,
		AccountID:        accountID,
		Type:             r.Action.Type,
		Tier:             r.Action.Tier,
		Intent:           r.Action.Intent,
		EmotionalContext: r.EmotionalContext,
		NextSteps:        r.NextSteps,
		result:           r,
	}
}

type Sink interface {
	Send(ctx context.Context, hint Hint) error
}

// Destination is where an analyzed action is delivered. Anything that
// requires escalation goes to a human, whatever its route.
func Destination(r hacp.AnalysisResult) hacp.Route {
	if r.EscalationRequired {
		return hacp.RouteEscalation
	}
	return r.Action.Type
}

const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusOpen    = "circuit_open"
)

type guarded struct {
	sink    Sink
	breaker *circuitbreaker.CircuitBreaker
}

type Dispatcher struct {
	sinks   map[hacp.Route]guarded
	retry   retry.Config
	log     *slog.Logger
	observe func(dest hacp.Route, status string)
}

type Option func(*Dispatcher)

func WithRetry(cfg retry.Config) Option {
	return func(d *Dispatcher) { d.retry = cfg }
}

// WithObserver is called once per Dispatch with the final status.
func WithObserver(fn func(dest hacp.Route, status string)) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

func New(log *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:   make(map[hacp.Route]guarded),
		retry:   retry.DefaultConfig(),
		log:     log,
		observe: func(hacp.Route, string) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register attaches a sink for a destination behind its own breaker.
func (d *Dispatcher) Register(dest hacp.Route, sink Sink, breaker *circuitbreaker.CircuitBreaker) {
	d.sinks[dest] = guarded{sink: sink, breaker: breaker}
}

// Handles reports whether a sink is registered for dest.
func (d *Dispatcher) Handles(dest hacp.Route) bool {
	_, ok := d.sinks[dest]
	return ok
}

// Dispatch delivers one analyzed action. A destination without a sink is
// skipped without error.
func (d *Dispatcher) Dispatch(ctx context.Context, accountID string, r hacp.AnalysisResult) error {
	dest := Destination(r)

	ctx, span := otel.Tracer("hacp/dispatch").Start(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("hacp.action_id", r.Action.ID),
		attribute.String("hacp.destination", string(dest)),
		attribute.String("hacp.tier", r.Action.Tier.String()),
	)

	g, ok := d.sinks[dest]
	if !ok {
		d.log.Debug("no sink configured", "destination", dest, "action_id", r.Action.ID)
		d.observe(dest, StatusSkipped)
		return nil
	}

	hint := NewHint(accountID, r)
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, d.retry, func(ctx context.Context) error {
			return g.sink.Send(ctx, hint)
		})
	})

	switch {
	case err == nil:
		d.observe(dest, StatusSent)
		return nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		d.observe(dest, StatusOpen)
	default:
		d.observe(dest, StatusFailed)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("dispatch %s to %s: %w", r.Action.ID, dest, err)
}

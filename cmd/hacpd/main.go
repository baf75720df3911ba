package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hacp-router/pkg/audit"
	"github.com/hacp-router/pkg/cache"
	"github.com/hacp-router/pkg/circuitbreaker"
	"github.com/hacp-router/pkg/config"
	"github.com/hacp-router/pkg/dispatch"
	"github.com/hacp-router/pkg/events"
	"github.com/hacp-router/pkg/hacp"
	"github.com/hacp-router/pkg/observability"
	"github.com/hacp-router/pkg/ratelimit"
	"github.com/hacp-router/pkg/retry"
	"github.com/hacp-router/pkg/server"
	"github.com/hacp-router/pkg/stream"
)

func main() {
	if err := run(); err != nil {
		slog.Error("hacpd exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown", "err", err)
		}
	}()

	metrics := server.NewMetrics()
	deps := server.Deps{
		Engine:          hacp.NewEngine(),
		Metrics:         metrics,
		Log:             log,
		ActionsTopic:    cfg.Events.ActionsTopic,
		Hub:             stream.NewHub(log),
		DefaultPlan:     cfg.Server.DefaultPlan,
		PlanHeader:      cfg.Server.PlanHeader,
		DispatchTimeout: cfg.Dispatch.Timeout * time.Duration(cfg.Dispatch.MaxAttempts+1),
	}

	if cfg.Audit.DSN != "" {
		store, err := audit.Open(ctx, cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Audit = store
		log.Info("audit log enabled", "driver", cfg.Audit.Driver)
	}

	var limiter ratelimit.Limiter = ratelimit.NewLocal()
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed", "err", err)
		}
		deps.Dedup = cache.New(rdb, "hacp", cfg.Redis.DedupTTL)
		limiter = ratelimit.NewRedis(rdb)
	}
	deps.Limits = ratelimit.NewPolicy(limiter, cfg.RateLimit.Limits, cfg.RateLimit.Window)

	publisher, err := newPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()
	deps.Publisher = publisher
	log.Info("event transport ready", "transport", cfg.Events.Transport)

	deps.Dispatcher = newDispatcher(cfg, log, metrics, publisher)

	srv := server.New(deps)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("hacpd listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		srv.Wait()
		return err
	})
	return g.Wait()
}

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Transport {
	case "nats":
		return events.NewNATS(cfg.NATSURL)
	case "kafka":
		return events.NewKafka(cfg.KafkaBrokers), nil
	default:
		return events.Nop{}, nil
	}
}

// newDispatcher registers one breaker-guarded sink per configured route.
// Escalations always go to the event bus.
func newDispatcher(cfg *config.Config, log *slog.Logger, metrics *server.Metrics, publisher events.Publisher) *dispatch.Dispatcher {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Dispatch.MaxAttempts

	d := dispatch.New(log,
		dispatch.WithRetry(rc),
		dispatch.WithObserver(metrics.ObserveDispatch),
	)
	breaker := func(name string) *circuitbreaker.CircuitBreaker {
		return circuitbreaker.New(name, cfg.Dispatch.FailureThreshold, 1, cfg.Dispatch.OpenTimeout,
			circuitbreaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("dispatch breaker state change", "destination", name, "from", from, "to", to)
				metrics.SetBreakerState(name, int(to))
			}),
		)
	}

	if cfg.Dispatch.CRMHookURL != "" {
		d.Register(hacp.RouteCRM, dispatch.NewHTTPSink(cfg.Dispatch.CRMHookURL, cfg.Dispatch.Timeout), breaker("crm"))
	}
	if cfg.Dispatch.AIRelayURL != "" {
		d.Register(hacp.RouteAI, dispatch.NewHTTPSink(cfg.Dispatch.AIRelayURL, cfg.Dispatch.Timeout), breaker("ai"))
	}
	d.Register(hacp.RouteEscalation, dispatch.NewEventSink(publisher, cfg.Events.EscalationsTopic), breaker("escalation"))
	return d
}

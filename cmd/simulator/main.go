package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hacp-router/pkg/client"
	"github.com/hacp-router/pkg/hacp"
)

var (
	intents = []string{
		"create_contact", "update_contact", "schedule_call", "send_email",
		"update_pipeline", "create_opportunity", "research_company",
		"analyze_lead", "draft_followup", "negotiate_contract",
		"handle_objection", "custom_pricing", "executive_request",
	}
	plans = []string{"free", "unlimited", "core", "pro", "fullPro", "custom", "white_label", "enterprise"}
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "hacpd base URL")
	concurrency := flag.Int("concurrency", 10, "concurrent workers")
	duration := flag.Duration("duration", 60*time.Second, "test duration")
	rps := flag.Float64("rps", 50, "total requests per second")
	accounts := flag.Int("accounts", 100, "distinct simulated accounts")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	c := client.New(*addr)
	if err := c.Health(ctx); err != nil {
		log.Error("hacpd not reachable", "addr", *addr, "err", err)
		os.Exit(1)
	}

	limiter := rate.NewLimiter(rate.Limit(*rps), max(1, int(*rps)))
	var (
		success, failed, escalated atomic.Int64
		mu                         sync.Mutex
		byRoute                    = make(map[hacp.Route]int64)
	)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(worker), uint64(start.UnixNano())))
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				req := hacp.Request{
					AccountID:        fmt.Sprintf("acct-%d", rng.IntN(*accounts)),
					Intent:           intents[rng.IntN(len(intents))],
					SubscriptionTier: plans[rng.IntN(len(plans))],
					Context:          "simulated traffic",
				}
				if rng.IntN(4) == 0 {
					v := float64(rng.IntN(100_000))
					req.LeadValue = &v
				}

				res, err := c.Analyze(ctx, req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					failed.Add(1)
					continue
				}
				success.Add(1)
				if res.EscalationRequired {
					escalated.Add(1)
				}
				mu.Lock()
				byRoute[res.Action.Type]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	log.Info("load test complete",
		"duration", elapsed.Round(time.Millisecond),
		"success", success.Load(),
		"errors", failed.Load(),
		"escalated", escalated.Load(),
		"crm", byRoute[hacp.RouteCRM],
		"ai", byRoute[hacp.RouteAI],
		"escalation", byRoute[hacp.RouteEscalation],
		"rps", fmt.Sprintf("%.2f", float64(success.Load())/elapsed.Seconds()),
	)
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hacp-router/pkg/telemetry"
)

var statsFlags struct {
	prometheusURL string
	window        time.Duration
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize per-tier analysis and escalation rates from Prometheus",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	url := os.Getenv("PROMETHEUS_URL")
	if url == "" {
		url = "http://localhost:9090"
	}
	f := statsCmd.Flags()
	f.StringVar(&statsFlags.prometheusURL, "prometheus", url, "Prometheus base URL (env PROMETHEUS_URL)")
	f.DurationVar(&statsFlags.window, "window", 5*time.Minute, "Rate window")
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx, cancel := withTimeout(cmd, 15*time.Second)
	defer cancel()

	stats, err := telemetry.NewCollector(statsFlags.prometheusURL).Collect(ctx, statsFlags.window)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "TIER  ANALYSES/s  ESCALATIONS/s  ESCALATED\n")
	for _, s := range stats {
		fmt.Fprintf(out, "%-4s  %10.3f  %13.3f  %8.1f%%\n", s.Tier, s.AnalysisRate, s.EscalationRate, s.EscalationShare*100)
	}
	return nil
}

func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}

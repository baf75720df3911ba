package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hacp-router/pkg/client"
)

var remoteFlags struct {
	addr    string
	timeout time.Duration
	limit   int
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running hacpd",
}

var remoteAnalyzeCmd = &cobra.Command{
	Use:   "analyze <intent>",
	Short: "Analyze an intent on hacpd",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoteAnalyze,
}

var remoteActionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Show the most recent audited actions",
	Args:  cobra.NoArgs,
	RunE:  runRemoteActions,
}

func init() {
	addr := os.Getenv("HACPD_URL")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	pf := remoteCmd.PersistentFlags()
	pf.StringVar(&remoteFlags.addr, "addr", addr, "hacpd base URL (env HACPD_URL)")
	pf.DurationVar(&remoteFlags.timeout, "timeout", 10*time.Second, "Request timeout")

	addRequestFlags(remoteAnalyzeCmd)
	remoteActionsCmd.Flags().IntVar(&remoteFlags.limit, "limit", 20, "Number of actions to show")

	remoteCmd.AddCommand(remoteAnalyzeCmd)
	remoteCmd.AddCommand(remoteActionsCmd)
}

func runRemoteAnalyze(cmd *cobra.Command, args []string) error {
	req, err := requestFromFlags(cmd, args[0])
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd, remoteFlags.timeout)
	defer cancel()

	res, err := client.New(remoteFlags.addr).Analyze(ctx, req)
	if err != nil {
		return fmt.Errorf("remote analyze: %w", err)
	}
	return printJSON(cmd, res)
}

func runRemoteActions(cmd *cobra.Command, _ []string) error {
	ctx, cancel := withTimeout(cmd, remoteFlags.timeout)
	defer cancel()

	recs, err := client.New(remoteFlags.addr).RecentActions(ctx, remoteFlags.limit)
	if err != nil {
		return fmt.Errorf("recent actions: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, r := range recs {
		escalated := ""
		if r.EscalationRequired {
			escalated = "ESCALATED"
		}
		fmt.Fprintf(out, "%s  %s  %-10s %-24s %5.1f %s\n",
			r.CreatedAt.Format(time.RFC3339), r.Tier, r.Route, r.Intent, r.EmotionalWeight, escalated)
	}
	return nil
}

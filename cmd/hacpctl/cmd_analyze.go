package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/hacp-router/pkg/hacp"
)

var analyzeFlags struct {
	plan      string
	context   string
	leadValue float64
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <intent>",
	Short: "Analyze an intent with the local engine and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	addRequestFlags(analyzeCmd)
}

// addRequestFlags registers the flags shared by local and remote analyze.
func addRequestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&analyzeFlags.plan, "plan", "free", "Subscription plan (free, core, pro, custom, ...)")
	f.StringVar(&analyzeFlags.context, "context", "", "Free-text context to calibrate")
	f.Float64Var(&analyzeFlags.leadValue, "lead-value", 0, "Estimated lead value (omitted when not set)")
}

func requestFromFlags(cmd *cobra.Command, intent string) (hacp.Request, error) {
	if intent == "" {
		return hacp.Request{}, errors.New("intent must not be empty")
	}
	req := hacp.Request{
		Intent:           intent,
		SubscriptionTier: analyzeFlags.plan,
		Context:          analyzeFlags.context,
	}
	if cmd.Flags().Changed("lead-value") {
		v := analyzeFlags.leadValue
		req.LeadValue = &v
	}
	return req, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	req, err := requestFromFlags(cmd, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, hacp.NewEngine().Analyze(req))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hacp-router/pkg/hacp"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers [level]",
	Short: "List behavioral tiers, or show one tier with its next steps",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTiers,
}

func runTiers(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, t := range hacp.Tiers() {
			fmt.Fprintf(out, "%s  %-28s %-10s %s\n", t.Level, t.Name, t.Calibration, strings.Join(t.Features, ","))
		}
		return nil
	}

	level, err := hacp.ParseLevel(args[0])
	if err != nil {
		return err
	}
	t := hacp.LookupTier(level)
	fmt.Fprintf(out, "Tier:        %s %s\n", t.Level, t.Name)
	fmt.Fprintf(out, "About:       %s\n", t.Description)
	fmt.Fprintf(out, "Calibration: %s\n", t.Calibration)
	fmt.Fprintf(out, "Features:    %s\n", strings.Join(t.Features, ", "))
	fmt.Fprintf(out, "Next steps:\n")
	for i, step := range hacp.NextSteps(level) {
		fmt.Fprintf(out, "  %d. %s\n", i+1, step)
	}
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "hacpctl",
	Short: "Inspect HACP tiering and routing decisions",
	Long:  "hacpctl runs the HACP engine locally, queries a running hacpd\nand summarizes per-tier escalation behavior from Prometheus.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(tiersCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

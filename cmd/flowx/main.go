package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "flowx",
	Short: "Local workflow analytics: find high-friction work worth replacing",
	Long: `flowx watches how you work (via screenpipe and ActivityWatch), clusters
activity into workflow sessions, scores friction, detects recurring
patterns, and measures whether adopted replacements actually save time.

Everything runs locally. Nothing leaves your machine.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(briefCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(trendsCmd)
	rootCmd.AddCommand(roiCmd)
	rootCmd.AddCommand(adoptCmd)
	rootCmd.AddCommand(measureCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

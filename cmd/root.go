package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reverie",
	Short: "Reverie - a conversational agent with long-term memory",
	Long: `Reverie runs a long-lived conversational agent: an iterative
tool-calling loop against an LLM backend, a bounded context window over an
unbounded history, and a semantic long-term memory recalled into every turn.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
}

func Execute() error {
	return rootCmd.Execute()
}

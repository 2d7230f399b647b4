package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "call-relay-service",
	Short: "Call relay: two-user chat and call signalling over WebSocket",
	Long:  `HTTP + WebSocket API. Commands: api, command.`,
	RunE:  runAPI, // default: run API (same as "call-relay-service api")
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}

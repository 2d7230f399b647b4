package cmd

import (
	"fmt"

	"github.com/psds-microservice/call-relay-service/internal/config"
	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command [name]",
	Short: "Run one-time command (check-config, identities)",
	RunE:  runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "available: check-config, identities")
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch args[0] {
	case "check-config":
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: listen %s, ring timeout %s, cool-down %s, attachment limit %d bytes\n",
			cfg.Addr(), cfg.CallRingTimeout, cfg.CallCooldown, cfg.AttachmentMaxBytes)
		return nil
	case "identities":
		for _, id := range cfg.Identities {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

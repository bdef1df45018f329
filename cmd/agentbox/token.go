package main

import (
	"fmt"

	"agentbox/internal/security"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a random admin token or webhook secret",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	token, err := security.GenerateToken()
	if err != nil {
		return err
	}
	// Generated tokens must pass the same check the config applies.
	if err := security.ValidateToken(token); err != nil {
		return fmt.Errorf("generated token rejected: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

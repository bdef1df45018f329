package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "agentbox",
	Short: "Blue/green deployment control plane",
	Long: `Agentbox tracks blue/green deployments of containerized services.

It keeps the durable deployment state, allocates host port pairs, monitors
container health and guards the admin API with an allow-list and rate limits.`,
	Version:      version,
	SilenceUsage: true,
}

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", getEnvOrDefault("AGENTBOX_CONFIG_FILE", ""),
		"Path to agentbox.yaml (default: search ./, ./config/, /etc/agentbox/)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

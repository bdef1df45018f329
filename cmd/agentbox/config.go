package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"agentbox/internal/config"
	"agentbox/internal/security"
	"agentbox/pkg/fileutil"

	"github.com/spf13/cobra"
)

// loadConfig resolves the config file (flag, AGENTBOX_CONFIG_FILE, then the
// default search paths), loads it and applies any serve flags the user set.
// No file at all means built-in defaults plus environment.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configFile
	if path == "" {
		path = fileutil.FindConfigOptional(config.DefaultFileName)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}

	flags := cmd.Flags()
	if flags.Changed("state-dir") {
		cfg.StateDir = stateDir
	}
	if flags.Changed("db") {
		cfg.HistoryDB = dbPath
	}
	if flags.Changed("log") {
		cfg.LogFile = logFile
	}
	if flags.Changed("host") {
		cfg.Listen.Host = host
	}
	if flags.Changed("port") {
		cfg.Listen.Port = port
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, path, fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	// Secrets in a world-readable file are worth a warning, not a refusal.
	if path != "" && (cfg.Admin.Token != "" || cfg.Webhook.Secret != "") {
		if err := security.ValidateSecurePermissions(path); err != nil {
			slog.Warn("Config file permissions", "error", err)
		}
	}
	return cfg, path, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"agentbox/internal/config"
	"agentbox/internal/guard"
	"agentbox/internal/health"
	"agentbox/internal/history"
	"agentbox/internal/metrics"
	"agentbox/internal/security"
	"agentbox/internal/server"
	"agentbox/internal/source"
	"agentbox/internal/store"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var (
	stateDir string
	logFile  string
	dbPath   string
	host     string
	port     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane",
	Long: `Load deployment records from the state directory, resume health monitoring
for serving deployments and start the admin API.`,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", config.DefaultStateDir, "Directory holding deployment records")

	serveCmd.Flags().StringVar(&logFile, "log", config.DefaultLogFile, "Path to log file")
	serveCmd.Flags().StringVar(&dbPath, "db", config.DefaultHistoryDB, "Path to SQLite operation history")
	serveCmd.Flags().StringVar(&host, "host", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logFileHandle, err := setupLogging(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	if path == "" {
		logger.Info("No configuration file found, using defaults and environment")
	} else {
		logger.Info("Loaded configuration", "config", path)
	}

	logger.Info("Initializing history database", "db", cfg.HistoryDB)
	hist, err := history.NewHistory(cfg.HistoryDB)
	if err != nil {
		logger.Error("Failed to initialize history database", "error", err)
		return fmt.Errorf("failed to initialize history database: %w", err)
	}
	defer hist.Close()

	storeOpts := []store.Option{store.WithLogger(logger), store.WithOperationRecorder(hist)}
	if cfg.Transitions.Enforce {
		storeOpts = append(storeOpts, store.WithTransitions(store.DefaultTransitions))
	}
	st, err := store.Open(cfg.StateDir, storeOpts...)
	if err != nil {
		logger.Error("Failed to open state directory", "dir", cfg.StateDir, "error", err)
		return fmt.Errorf("failed to open state directory: %w", err)
	}

	m := metrics.New(nil)
	m.SetDeploymentStates(st.CountByState())

	mon := health.NewMonitor(st,
		health.WithSink(st),
		health.WithIntervals(cfg.Health.Interval, cfg.Health.Backoff),
		health.WithProbeTimeout(cfg.Health.DefaultTimeout),
		health.WithMetrics(m),
		health.WithLogger(logger))
	defer mon.Shutdown()

	resumed := 0
	for _, rec := range st.List() {
		if !rec.State.IsActive() {
			continue
		}
		if err := mon.StartMonitoring(rec.ID()); err != nil {
			logger.Error("Failed to resume monitoring", "deployment_id", rec.ID(), "error", err)
			continue
		}
		resumed++
	}
	logger.Info("Resumed health monitoring", "count", resumed)

	limiter, err := newLimiter(cfg, logger)
	if err != nil {
		return err
	}
	if limiter != nil {
		defer limiter.Close()
	} else {
		logger.Warn("Rate limiting is disabled")
	}

	allow := guard.NewAllowList(cfg.AllowList, logger)
	if allow.Empty() {
		logger.Warn("Allow-list is empty, the admin API accepts every address")
	}

	resolver, err := source.NewResolver(cfg.GitHub.Token, cfg.GitHub.BaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create commit resolver: %w", err)
	}

	srv := server.NewServer(st, mon, logger)
	srv.History = hist
	srv.Resolver = resolver
	srv.Metrics = m
	srv.Guard = guard.New(limiter, allow, m, logger)
	if len(cfg.TrustedProxies) > 0 {
		srv.Guard.TrustProxies(guard.NewAllowList(cfg.TrustedProxies, logger))
	} else if !allow.Empty() {
		logger.Warn("No trusted proxies configured, forwarding headers are trusted from every address")
	}
	srv.Builds = guard.NewBuildSlots(cfg.Builds.MaxConcurrent, m)
	srv.Ports = cfg.Ports
	srv.WebhookSecret = cfg.Webhook.Secret
	srv.AdminToken = cfg.Admin.Token

	if cfg.Admin.Token == "" {
		logger.Info("No admin token configured, mutating routes are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Addr()) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	return nil
}

// newLimiter builds the configured rate-limit backend. A zero request limit
// disables rate limiting and yields a nil Limiter.
func newLimiter(cfg *config.Config, logger *slog.Logger) (guard.Limiter, error) {
	if cfg.RateLimit.MaxRequests == 0 {
		return nil, nil
	}
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		rl, err := guard.NewRedisRateLimiter(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword,
			cfg.RateLimit.RedisDB, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, logger)
		if err != nil {
			logger.Error("Failed to connect to rate-limit backend", "addr", cfg.RateLimit.RedisAddr, "error", err)
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		return rl, nil
	default:
		return guard.NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window), nil
	}
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := security.OpenAppendFile(logPath, security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), file, nil
}

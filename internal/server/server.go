package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"agentbox/internal/config"
	"agentbox/internal/guard"
	"agentbox/internal/health"
	"agentbox/internal/history"
	"agentbox/internal/metrics"
	"agentbox/internal/source"
	"agentbox/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 30 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware. Batch health summaries probe many
	// deployments, so this is longer than a single probe timeout.
	RequestTimeout = 25 * time.Second
)

// Server serves the admin API over the store and the health monitor.
// Store and Monitor are required; the remaining collaborators are optional
// and their routes answer 503 when absent.
type Server struct {
	Store    *store.Store
	Monitor  *health.Monitor
	History  *history.History
	Resolver *source.Resolver
	Guard    *guard.Guard
	Builds   *guard.BuildSlots
	Metrics  *metrics.Metrics
	Ports    config.PortsConfig

	// WebhookSecret enables POST /deployments/{id}/webhook.
	WebhookSecret string
	// AdminToken enables the mutating routes.
	AdminToken string

	Logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a server with the default port range. Optional
// collaborators are set on the returned value before Router or Start.
func NewServer(st *store.Store, mon *health.Monitor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Store:   st,
		Monitor: mon,
		Ports: config.PortsConfig{
			RangeStart: config.DefaultPortRangeStart,
			RangeEnd:   config.DefaultPortRangeEnd,
		},
		Logger: logger.With("component", "server"),
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware. The guard runs before RealIP so it sees the
	// connection's own address.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.Guard != nil {
		r.Use(s.Guard.Middleware)
	}
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(s.logRequests)

	r.Get("/health", s.HandleHealth)
	r.Get("/stats", s.HandleStats)
	r.Get("/ports", s.HandlePorts)
	r.Get("/health/batch", s.HandleBatchHealth)
	r.Get("/metrics", s.HandleMetrics)

	r.Route("/deployments", func(r chi.Router) {
		r.Get("/", s.HandleList)
		if s.AdminToken != "" {
			r.With(s.requireAdmin).Post("/", s.HandleCreate)
		}

		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.validateID)
			r.Get("/", s.HandleGet)
			r.Get("/health", s.HandleDeploymentHealth)
			r.Get("/history", s.HandleHistory)
			r.Get("/commit", s.HandleCommit)

			if s.WebhookSecret != "" {
				r.Post("/webhook", s.HandleWebhook)
			}

			if s.AdminToken != "" {
				r.Group(func(r chi.Router) {
					r.Use(s.requireAdmin)
					r.Patch("/", s.HandleUpdate)
					r.Delete("/", s.HandleDelete)
					r.Post("/ports", s.HandleAllocatePorts)
					r.Post("/operations", s.HandleBeginOperation)
					r.Delete("/operations", s.HandleEndOperation)
					r.Post("/monitor", s.HandleStartMonitoring)
					r.Delete("/monitor", s.HandleStopMonitoring)
				})
			}
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start serves on addr until Shutdown is called. It returns nil after a
// clean shutdown.
func (s *Server) Start(addr string) error {
	s.Logger.Info("Starting server", "addr", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

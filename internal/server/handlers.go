package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"agentbox/internal/model"
	"agentbox/internal/security"
	"agentbox/internal/source"

	"github.com/go-chi/chi/v5"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 500
)

// validateID rejects malformed deployment ids before any handler runs.
func (s *Server) validateID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := security.ValidateDeploymentID(id); err != nil {
			s.Logger.Warn("Invalid deployment id in request", "deployment_id", id, "error", err)
			s.respondError(w, http.StatusBadRequest, "Invalid deployment id: "+err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// lookup fetches the record named in the URL or answers 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.Record, bool) {
	id := chi.URLParam(r, "id")
	rec, ok := s.Store.Get(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "Unknown deployment")
		return nil, false
	}
	return rec, true
}

// HandleHealth reports liveness of the control plane itself.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"monitoring": len(s.Monitor.Monitored()),
	})
}

// HandleStats returns record counts, build slot usage and monitored ids.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"deployments": s.Store.Stats(),
		"by_state":    s.Store.CountByState(),
		"monitoring":  s.Monitor.Monitored(),
	}
	if s.Builds != nil {
		resp["builds"] = map[string]interface{}{
			"active":  s.Builds.Active(),
			"max":     s.Builds.Max(),
			"holders": s.Builds.Holders(),
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// HandlePorts returns the allocated-port table.
func (s *Server) HandlePorts(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"range_start": s.Ports.RangeStart,
		"range_end":   s.Ports.RangeEnd,
		"allocated":   s.Store.AllocatedPorts(),
	})
}

// HandleList returns every record, optionally filtered by ?state=.
func (s *Server) HandleList(w http.ResponseWriter, r *http.Request) {
	records := s.Store.List()

	if q := r.URL.Query().Get("state"); q != "" {
		state := model.State(q)
		if !state.Valid() {
			s.respondError(w, http.StatusBadRequest, "Unknown state: "+q)
			return
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.State == state {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(records),
		"deployments": records,
	})
}

// HandleGet returns one record.
func (s *Server) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// HandleDeploymentHealth probes every container of one deployment.
func (s *Server) HandleDeploymentHealth(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, s.Monitor.Summary(r.Context(), rec))
}

// HandleBatchHealth probes every serving deployment concurrently.
func (s *Server) HandleBatchHealth(w http.ResponseWriter, r *http.Request) {
	results := s.Monitor.BatchSummary(r.Context(), s.Store.List())
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

// HandleHistory returns completed operations, newest first.
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.respondError(w, http.StatusServiceUnavailable, "History is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	limit := DefaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > MaxHistoryLimit {
			s.respondError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(MaxHistoryLimit))
			return
		}
		limit = n
	}

	ops, err := s.History.GetOperationHistory(r.Context(), id, limit)
	if err != nil {
		s.Logger.Error("Failed to read operation history", "deployment_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": id,
		"operations":    ops,
	})
}

// HandleCommit resolves the head commit of the deployment's branch.
func (s *Server) HandleCommit(w http.ResponseWriter, r *http.Request) {
	if s.Resolver == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Commit lookup is not enabled")
		return
	}
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}

	commit, err := s.Resolver.ResolveCommit(r.Context(), rec.Config.RepoURL, rec.Config.Branch)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, commit)
	case errors.Is(err, source.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Repository or branch not found")
	case errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusGatewayTimeout, "Commit lookup timed out")
	default:
		s.Logger.Error("Commit lookup failed", "deployment_id", rec.ID(), "error", err)
		s.respondError(w, http.StatusBadGateway, "Commit lookup failed")
	}
}

// HandleMetrics refreshes the per-state gauge and serves the registry.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.Metrics.SetDeploymentStates(s.Store.CountByState())
	s.Metrics.Handler().ServeHTTP(w, r)
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentbox/internal/guard"
	"agentbox/internal/model"
	"agentbox/internal/security"
	"agentbox/internal/store"
	"agentbox/pkg/cmdutil"

	"github.com/go-chi/chi/v5"
)

// MaxBodyBytes bounds admin request bodies.
const MaxBodyBytes = 64 << 10

// BuildOperation is the operation name that consumes a build slot.
const BuildOperation = "build"

// requireAdmin checks the bearer token against the configured admin token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !security.TokenEqual(s.AdminToken, token) {
			s.Logger.Warn("Rejected admin request", "path", r.URL.Path, "ip", guard.ClientIP(r))
			s.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decodeBody reads a JSON body into v, answering 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// storeError maps store sentinel errors to HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Unknown deployment")
	case errors.Is(err, store.ErrExists),
		errors.Is(err, store.ErrPortConflict),
		errors.Is(err, store.ErrOperationActive),
		errors.Is(err, store.ErrIllegalTransition):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.respondError(w, http.StatusBadRequest, err.Error())
	}
}

// lockDeployment takes the per-deployment mutex for the rest of the request.
// On failure the response has already been written.
func (s *Server) lockDeployment(w http.ResponseWriter, id string) bool {
	if s.Store.TryLockDeployment(id) {
		return true
	}
	if _, ok := s.Store.Get(id); !ok {
		s.respondError(w, http.StatusNotFound, "Unknown deployment")
		return false
	}
	s.respondError(w, http.StatusConflict, "Deployment is busy")
	return false
}

type createRequest struct {
	DeploymentID    string            `json:"deployment_id"`
	RepoURL         string            `json:"repo_url"`
	Branch          string            `json:"branch"`
	Subdir          string            `json:"subdir"`
	HealthPath      string            `json:"health_path"`
	ExpectedStatus  int               `json:"expected_status"`
	InternalPort    int               `json:"internal_port"`
	Env             interface{}       `json:"env"`
	BuildArgs       interface{}       `json:"build_args"`
	ProbeTimeoutSec int               `json:"probe_timeout_sec"`
	GraceSec        int               `json:"grace_sec"`
	StartupDelaySec int               `json:"startup_delay_sec"`
	Labels          map[string]string `json:"labels"`
}

// HandleCreate registers a new deployment in the idle state. Env and build
// args may be a list or one shell-quoted string; denied keys are dropped.
func (s *Server) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if !guard.ValidateRepoURL(req.RepoURL) {
		s.respondError(w, http.StatusBadRequest, "Invalid repository URL")
		return
	}

	env, err := cmdutil.ParseAssignmentList(req.Env)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("env: %v", err))
		return
	}
	buildArgs, err := cmdutil.ParseAssignmentList(req.BuildArgs)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("build_args: %v", err))
		return
	}

	cfg, err := model.NewDeploymentConfig(model.DeploymentConfig{
		DeploymentID:    req.DeploymentID,
		RepoURL:         req.RepoURL,
		Branch:          req.Branch,
		Subdir:          req.Subdir,
		HealthPath:      req.HealthPath,
		ExpectedStatus:  req.ExpectedStatus,
		InternalPort:    req.InternalPort,
		Env:             guard.SanitizeEnv(env),
		BuildArgs:       guard.SanitizeBuildArgs(buildArgs),
		ProbeTimeoutSec: req.ProbeTimeoutSec,
		GraceSec:        req.GraceSec,
		StartupDelaySec: req.StartupDelaySec,
		Labels:          req.Labels,
	})
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := model.NewRecord(cfg, time.Now().UTC())
	if err := s.Store.CreateErr(rec); err != nil {
		s.storeError(w, err)
		return
	}

	s.Logger.Info("Deployment registered",
		"deployment_id", cfg.DeploymentID,
		"repo_url", cfg.RepoURL,
		"branch", cfg.Branch,
		"env", cmdutil.FormatAssignments(cmdutil.RedactAssignments(cfg.Env)))

	created, _ := s.Store.Get(cfg.DeploymentID)
	s.respondJSON(w, http.StatusCreated, created)
}

type eventRequest struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type updateRequest struct {
	State          *model.State         `json:"state"`
	ActiveColor    *model.Color         `json:"active_color"`
	BlueContainer  *model.ContainerInfo `json:"blue_container"`
	GreenContainer *model.ContainerInfo `json:"green_container"`
	ClearBlue      bool                 `json:"clear_blue"`
	ClearGreen     bool                 `json:"clear_green"`
	ClearPorts     bool                 `json:"clear_ports"`
	HealthStatus   *model.HealthStatus  `json:"health_status"`
	Event          *eventRequest        `json:"event"`
}

// HandleUpdate applies a partial update written by the orchestrator.
func (s *Server) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	patch := model.Patch{
		State:          req.State,
		ActiveColor:    req.ActiveColor,
		BlueContainer:  req.BlueContainer,
		GreenContainer: req.GreenContainer,
		ClearBlue:      req.ClearBlue,
		ClearGreen:     req.ClearGreen,
		ClearPorts:     req.ClearPorts,
		HealthStatus:   req.HealthStatus,
	}
	if req.Event != nil {
		if req.Event.Type == "" {
			s.respondError(w, http.StatusBadRequest, "event.type is required")
			return
		}
		patch.Event = &model.EventInput{Type: req.Event.Type, Message: req.Event.Message, Data: req.Event.Data}
	}

	id := chi.URLParam(r, "id")
	if err := s.Store.UpdateErr(id, patch); err != nil {
		s.storeError(w, err)
		return
	}

	rec, _ := s.Store.Get(id)
	s.respondJSON(w, http.StatusOK, rec)
}

// HandleDelete stops monitoring and removes the deployment, freeing its
// ports.
func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.Monitor.StopMonitoring(id)

	if err := s.Store.DeleteErr(id); err != nil {
		s.storeError(w, err)
		return
	}
	if s.Builds != nil {
		s.Builds.Release(id)
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Deployment deleted", "deployment_id": id})
}

// HandleAllocatePorts reserves a blue/green port pair and binds it to a
// deployment that has none. The check and the bind run under the
// deployment's mutex so two concurrent calls cannot both allocate.
func (s *Server) HandleAllocatePorts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.lockDeployment(w, id) {
		return
	}
	defer s.Store.UnlockDeployment(id)

	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if rec.Ports != nil {
		s.respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "Deployment already has ports",
			"ports": rec.Ports,
		})
		return
	}

	alloc, ok := s.Store.AllocatePorts(s.Ports.RangeStart, s.Ports.RangeEnd)
	if !ok {
		s.respondError(w, http.StatusServiceUnavailable, "No free port pair in range")
		return
	}
	if err := s.Store.UpdateErr(rec.ID(), model.Patch{Ports: &alloc}); err != nil {
		s.Store.FreePorts(alloc)
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, alloc)
}

type operationRequest struct {
	Operation string `json:"operation"`
}

// HandleBeginOperation marks the deployment busy. A build additionally
// needs one of the global build slots.
func (s *Server) HandleBeginOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Operation == "" {
		s.respondError(w, http.StatusBadRequest, "operation is required")
		return
	}

	id := chi.URLParam(r, "id")
	if !s.lockDeployment(w, id) {
		return
	}
	defer s.Store.UnlockDeployment(id)

	build := req.Operation == BuildOperation && s.Builds != nil
	if build && !s.Builds.Acquire(id) {
		s.Metrics.RecordRejection("build_slots")
		s.respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":  "No build slot available",
			"active": s.Builds.Active(),
			"max":    s.Builds.Max(),
		})
		return
	}

	if err := s.Store.LockForOperationErr(id, req.Operation); err != nil {
		if build {
			s.Builds.Release(id)
		}
		s.storeError(w, err)
		return
	}

	rec, _ := s.Store.Get(id)
	s.respondJSON(w, http.StatusOK, rec)
}

// HandleEndOperation clears the operation flag. ?success=false records a
// failure; the default is success.
func (s *Server) HandleEndOperation(w http.ResponseWriter, r *http.Request) {
	success := true
	if q := r.URL.Query().Get("success"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "success must be a boolean")
			return
		}
		success = v
	}

	id := chi.URLParam(r, "id")
	if !s.lockDeployment(w, id) {
		return
	}
	defer s.Store.UnlockDeployment(id)

	operation, err := s.Store.UnlockAfterOperationErr(id, success)
	if err != nil {
		if errors.Is(err, store.ErrNoOperation) {
			s.respondError(w, http.StatusConflict, "No operation in progress")
			return
		}
		s.storeError(w, err)
		return
	}
	if s.Builds != nil && operation == BuildOperation {
		s.Builds.Release(id)
	}

	updated, _ := s.Store.Get(id)
	s.respondJSON(w, http.StatusOK, updated)
}

// HandleStartMonitoring starts the background health loop.
func (s *Server) HandleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Monitor.StartMonitoring(rec.ID()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"message": "Monitoring started", "deployment_id": rec.ID()})
}

// HandleStopMonitoring stops the background health loop. Stopping an
// unmonitored deployment is not an error.
func (s *Server) HandleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.Monitor.StopMonitoring(id)
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Monitoring stopped", "deployment_id": id})
}

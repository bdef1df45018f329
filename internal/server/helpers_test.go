package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"agentbox/internal/health"
	"agentbox/internal/model"
	"agentbox/internal/store"
)

const (
	testAdminToken    = "Zq7vN2kP9xWm4tLr8sYb3cHf6jDg1aQe"
	testWebhookSecret = "k3Jf9sLq2Xv8Rb7Nw4Tz6Hc1Ym5Pd0Ga"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestServer returns a server over an in-memory store with the admin
// routes and the webhook enabled.
func setupTestServer(t *testing.T, storeOpts ...store.Option) *Server {
	t.Helper()

	st := store.New(append([]store.Option{store.WithLogger(discardLogger())}, storeOpts...)...)
	mon := health.NewMonitor(st,
		health.WithSink(st),
		health.WithHost("127.0.0.1"),
		health.WithLogger(discardLogger()))
	t.Cleanup(mon.Shutdown)

	s := NewServer(st, mon, discardLogger())
	s.AdminToken = testAdminToken
	s.WebhookSecret = testWebhookSecret
	return s
}

func addRecord(t *testing.T, s *Server, id string, mutate func(*model.Record)) {
	t.Helper()
	cfg, err := model.NewDeploymentConfig(model.DeploymentConfig{
		DeploymentID: id,
		RepoURL:      "https://github.com/acme/" + id,
		InternalPort: 8080,
	})
	if err != nil {
		t.Fatalf("NewDeploymentConfig failed: %v", err)
	}
	rec := model.NewRecord(cfg, time.Now().UTC())
	if mutate != nil {
		mutate(rec)
	}
	if err := s.Store.CreateErr(rec); err != nil {
		t.Fatalf("CreateErr(%q) failed: %v", id, err)
	}
}

// do sends a request through the router. A non-nil body is JSON encoded.
func do(t *testing.T, s *Server, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
	}

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

package health

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentbox/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("Failed to parse server address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// closedPort returns a port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func statusServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testRecord(t *testing.T, id string, bluePort, greenPort int) *model.Record {
	t.Helper()
	cfg, err := model.NewDeploymentConfig(model.DeploymentConfig{
		DeploymentID:    id,
		RepoURL:         "https://github.com/acme/" + id,
		InternalPort:    8080,
		ProbeTimeoutSec: 2,
	})
	if err != nil {
		t.Fatalf("NewDeploymentConfig failed: %v", err)
	}
	rec := model.NewRecord(cfg, time.Now())
	rec.State = model.StatePromoted
	rec.Ports = &model.PortAllocation{BluePort: bluePort, GreenPort: greenPort}
	rec.BlueContainer = &model.ContainerInfo{ContainerID: id + "-blue", Port: bluePort}
	rec.GreenContainer = &model.ContainerInfo{ContainerID: id + "-green", Port: greenPort}
	return rec
}

func newTestMonitor(source RecordSource, opts ...Option) *Monitor {
	base := []Option{WithHost("127.0.0.1"), WithLogger(discardLogger())}
	return NewMonitor(source, append(base, opts...)...)
}

func TestCheck_Classification(t *testing.T) {
	ok, _ := statusServer(t, http.StatusOK)
	broken, _ := statusServer(t, http.StatusServiceUnavailable)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	tests := []struct {
		name        string
		port        int
		timeout     time.Duration
		wantHealthy bool
		wantMsg     []string
	}{
		{"expected status", serverPort(t, ok), 0, true, []string{"200"}},
		{"other status", serverPort(t, broken), 0, false, []string{"503", "200"}},
		{"nothing listening", closedPort(t), 0, false, []string{"refused", "container may not be running"}},
		{"timeout", serverPort(t, slow), 50 * time.Millisecond, false, []string{"timeout after 0.05s"}},
	}

	m := newTestMonitor(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord(t, "demo", tt.port, closedPort(t))

			healthy, msg := m.Check(context.Background(), rec, "", tt.timeout)
			if healthy != tt.wantHealthy {
				t.Errorf("Check() healthy = %v, want %v (message %q)", healthy, tt.wantHealthy, msg)
			}
			for _, want := range tt.wantMsg {
				if !strings.Contains(msg, want) {
					t.Errorf("Check() message %q should contain %q", msg, want)
				}
			}
		})
	}
}

func TestCheck_MissingContainerOrPorts(t *testing.T) {
	m := newTestMonitor(nil)

	rec := testRecord(t, "demo", 40000, 40001)
	rec.GreenContainer = nil
	if healthy, msg := m.Check(context.Background(), rec, model.ColorGreen, 0); healthy || !strings.Contains(msg, "no green container") {
		t.Errorf("Expected missing container failure, got %v %q", healthy, msg)
	}

	rec = testRecord(t, "demo", 40000, 40001)
	rec.Ports = nil
	if healthy, msg := m.Check(context.Background(), rec, "", 0); healthy || !strings.Contains(msg, "no port allocation") {
		t.Errorf("Expected missing ports failure, got %v %q", healthy, msg)
	}

	if healthy, _ := m.Check(context.Background(), nil, "", 0); healthy {
		t.Error("Nil record should never be healthy")
	}
}

func TestCheck_ResolvesActiveColor(t *testing.T) {
	good, _ := statusServer(t, http.StatusOK)
	m := newTestMonitor(nil)

	rec := testRecord(t, "demo", closedPort(t), serverPort(t, good))
	rec.ActiveColor = model.ColorGreen

	if healthy, msg := m.Check(context.Background(), rec, "", 0); !healthy {
		t.Errorf("Expected green (active) slot healthy, got %q", msg)
	}
	if healthy, _ := m.Check(context.Background(), rec, model.ColorBlue, 0); healthy {
		t.Error("Expected explicit blue slot unhealthy")
	}
}

func TestCheck_CustomExpectedStatus(t *testing.T) {
	srv, _ := statusServer(t, http.StatusNoContent)
	m := newTestMonitor(nil)

	rec := testRecord(t, "demo", serverPort(t, srv), closedPort(t))
	rec.Config.ExpectedStatus = http.StatusNoContent

	if healthy, msg := m.Check(context.Background(), rec, "", 0); !healthy {
		t.Errorf("Expected 204 to be healthy, got %q", msg)
	}
}

func TestWaitUntilHealthy(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestMonitor(nil, WithPollInterval(10*time.Millisecond))
	rec := testRecord(t, "demo", serverPort(t, srv), closedPort(t))

	healthy, msg := m.WaitUntilHealthy(context.Background(), rec, model.ColorBlue, 2*time.Second)
	if !healthy {
		t.Fatalf("Expected healthy after retries, got %q", msg)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("Expected 3 probes, got %d", got)
	}
}

func TestWaitUntilHealthy_Timeout(t *testing.T) {
	srv, _ := statusServer(t, http.StatusInternalServerError)
	m := newTestMonitor(nil, WithPollInterval(10*time.Millisecond))
	rec := testRecord(t, "demo", serverPort(t, srv), closedPort(t))

	start := time.Now()
	healthy, msg := m.WaitUntilHealthy(context.Background(), rec, model.ColorBlue, 150*time.Millisecond)
	if healthy {
		t.Fatal("Expected WaitUntilHealthy to give up")
	}
	if !strings.Contains(msg, "500") {
		t.Errorf("Expected last probe message, got %q", msg)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("WaitUntilHealthy overran its budget: %v", elapsed)
	}
}

func TestValidate(t *testing.T) {
	srv, hits := statusServer(t, http.StatusOK)
	m := newTestMonitor(nil)

	rec := testRecord(t, "demo", serverPort(t, srv), closedPort(t))
	if !m.Validate(context.Background(), rec) {
		t.Error("Promoted deployment with a healthy container should validate")
	}

	rec.State = model.StateStaging
	before := atomic.LoadInt32(hits)
	if m.Validate(context.Background(), rec) {
		t.Error("Staging deployment should not validate")
	}
	if atomic.LoadInt32(hits) != before {
		t.Error("Validate should not probe inactive deployments")
	}
}

func TestSummary(t *testing.T) {
	srv, _ := statusServer(t, http.StatusOK)
	m := newTestMonitor(nil)

	rec := testRecord(t, "demo", serverPort(t, srv), closedPort(t))
	report := m.Summary(context.Background(), rec)
	if len(report.Containers) != 2 {
		t.Fatalf("Expected 2 container reports, got %d", len(report.Containers))
	}
	if report.Containers[0].Status != model.HealthHealthy || report.Containers[1].Status != model.HealthUnhealthy {
		t.Errorf("Unexpected statuses: %+v", report.Containers)
	}
	if report.Containers[0].ContainerID != "demo-blue" || report.Containers[0].LastCheck.IsZero() {
		t.Errorf("Unexpected blue report: %+v", report.Containers[0])
	}

	rec.GreenContainer = nil
	if report := m.Summary(context.Background(), rec); len(report.Containers) != 1 {
		t.Errorf("Colors without a container should be omitted, got %d reports", len(report.Containers))
	}
}

func TestBatchSummary(t *testing.T) {
	srv, _ := statusServer(t, http.StatusOK)
	m := newTestMonitor(nil)
	port := serverPort(t, srv)

	a := testRecord(t, "a", port, closedPort(t))
	b := testRecord(t, "b", port, closedPort(t))
	b.State = model.StateHealthy
	idle := testRecord(t, "idle", port, closedPort(t))
	idle.State = model.StateIdle

	results := m.BatchSummary(context.Background(), []*model.Record{a, b, idle, nil})
	if len(results) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(results))
	}
	for _, id := range []string{"a", "b"} {
		entry, ok := results[id]
		if !ok || entry.Report == nil || entry.Error != "" {
			t.Errorf("Expected a report for %s, got %+v", id, entry)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results = m.BatchSummary(ctx, []*model.Record{a})
	if entry := results["a"]; entry.Status != "error" || entry.Error == "" {
		t.Errorf("Expected error entry for cancelled batch, got %+v", entry)
	}
}

type mapSource struct {
	mu      sync.Mutex
	records map[string]*model.Record
}

func (s *mapSource) Get(id string) (*model.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *mapSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

type probeResult struct {
	id      string
	color   model.Color
	healthy bool
}

type chanSink chan probeResult

func (c chanSink) RecordProbe(id string, color model.Color, healthy bool, _ string, _ time.Time) {
	select {
	case c <- probeResult{id, color, healthy}:
	default:
	}
}

func TestMonitoring_Loop(t *testing.T) {
	srv, _ := statusServer(t, http.StatusOK)
	source := &mapSource{records: map[string]*model.Record{
		"demo": testRecord(t, "demo", serverPort(t, srv), closedPort(t)),
	}}
	sink := make(chanSink, 16)
	m := newTestMonitor(source, WithSink(sink), WithIntervals(10*time.Millisecond, 20*time.Millisecond))
	defer m.Shutdown()

	if err := m.StartMonitoring("demo"); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	// Restarting replaces the loop
	if err := m.StartMonitoring("demo"); err != nil {
		t.Fatalf("StartMonitoring restart failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case res := <-sink:
			if res.id != "demo" || res.color != model.ColorBlue || !res.healthy {
				t.Errorf("Unexpected probe result: %+v", res)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for probe results")
		}
	}

	m.StopMonitoring("demo")
	m.StopMonitoring("demo") // idempotent
	if m.IsMonitoring("demo") {
		t.Error("Loop should be gone after StopMonitoring")
	}
}

func TestMonitoring_StopsWhenDeploymentGone(t *testing.T) {
	source := &mapSource{records: map[string]*model.Record{
		"demo": testRecord(t, "demo", closedPort(t), closedPort(t)),
	}}
	m := newTestMonitor(source, WithIntervals(10*time.Millisecond, 10*time.Millisecond))
	defer m.Shutdown()

	m.StartMonitoring("demo")
	source.remove("demo")

	deadline := time.Now().Add(2 * time.Second)
	for m.IsMonitoring("demo") {
		if time.Now().After(deadline) {
			t.Fatal("Loop should stop after its deployment is removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitoring_Shutdown(t *testing.T) {
	source := &mapSource{records: map[string]*model.Record{}}
	for _, id := range []string{"a", "b", "c"} {
		source.records[id] = testRecord(t, id, closedPort(t), closedPort(t))
	}
	m := newTestMonitor(source, WithIntervals(10*time.Millisecond, 10*time.Millisecond))

	for id := range source.records {
		if err := m.StartMonitoring(id); err != nil {
			t.Fatalf("StartMonitoring(%s) failed: %v", id, err)
		}
	}
	if n := len(m.Monitored()); n != 3 {
		t.Errorf("Expected 3 loops, got %d", n)
	}

	m.Shutdown()

	if n := len(m.Monitored()); n != 0 {
		t.Errorf("Expected no loops after Shutdown, got %d", n)
	}
	if err := m.StartMonitoring("a"); err != ErrClosed {
		t.Errorf("Expected ErrClosed after Shutdown, got %v", err)
	}
}

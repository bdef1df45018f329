package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"agentbox/internal/model"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New(nil)

	m.ObserveProbe(model.ColorBlue, true, 20*time.Millisecond)
	m.ObserveProbe(model.ColorBlue, false, time.Second)
	m.ObserveProbe(model.ColorGreen, true, 5*time.Millisecond)
	m.RecordRejection("rate_limited")
	m.RecordRejection("rate_limited")
	m.SetBuildSlots(2)
	m.SetDeploymentStates(map[model.State]int{model.StatePromoted: 3})

	body := scrape(t, m)

	want := []string{
		`agentbox_health_probes_total{color="blue",result="healthy"} 1`,
		`agentbox_health_probes_total{color="blue",result="unhealthy"} 1`,
		`agentbox_health_probes_total{color="green",result="healthy"} 1`,
		`agentbox_health_probe_duration_seconds_count{color="blue"} 2`,
		`agentbox_guard_rejections_total{reason="rate_limited"} 2`,
		`agentbox_guard_build_slots_in_use 2`,
		`agentbox_store_deployments{state="promoted"} 3`,
		`agentbox_store_deployments{state="failed"} 0`,
	}
	for _, line := range want {
		if !strings.Contains(body, line) {
			t.Errorf("Expected metrics output to contain %q", line)
		}
	}
}

func TestMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	second := New(reg)

	first.RecordRejection("forbidden")
	second.RecordRejection("forbidden")

	if body := scrape(t, first); !strings.Contains(body, `agentbox_guard_rejections_total{reason="forbidden"} 2`) {
		t.Error("Collectors registered twice should be shared")
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	// Must not panic
	m.ObserveProbe(model.ColorBlue, true, time.Millisecond)
	m.RecordRejection("rate_limited")
	m.SetBuildSlots(1)
	m.SetDeploymentStates(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("Expected 404 from nil metrics handler, got %d", rec.Code)
	}
}

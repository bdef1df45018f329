// Package health probes deployment containers over HTTP, one-off or in
// continuous per-deployment loops.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"agentbox/internal/model"
)

// Check issues a single GET against the container serving color (the active
// color when empty) and classifies the outcome. A zero timeout falls back to
// the deployment's probe timeout, then to the monitor default. Every failure is reported through the
// message; Check never returns an error.
func (m *Monitor) Check(ctx context.Context, rec *model.Record, color model.Color, timeout time.Duration) (bool, string) {
	if rec == nil {
		return false, "no deployment"
	}
	if color == "" {
		color = rec.ActiveColor
	}
	if !color.Valid() {
		return false, fmt.Sprintf("unknown color %q", color)
	}
	if rec.Container(color) == nil {
		return false, fmt.Sprintf("no %s container", color)
	}
	if rec.Ports == nil {
		return false, "no port allocation"
	}
	if timeout <= 0 {
		timeout = time.Duration(rec.Config.ProbeTimeoutSec) * time.Second
	}
	if timeout <= 0 {
		timeout = m.probeTimeout
	}

	port := rec.Ports.Port(color)
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(m.host, fmt.Sprint(port)), rec.Config.HealthPath)

	start := time.Now()
	healthy, message := m.probe(ctx, url, rec.Config.ExpectedStatus, timeout)
	m.metrics.ObserveProbe(color, healthy, time.Since(start))

	m.logger.Debug("Health probe finished",
		"deployment_id", rec.ID(),
		"color", color,
		"port", port,
		"healthy", healthy,
		"message", message,
	)
	return healthy, message
}

func (m *Monitor) probe(ctx context.Context, url string, expected int, timeout time.Duration) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Sprintf("invalid probe request: %v", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false, classifyError(ctx, err, timeout)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != expected {
		return false, fmt.Sprintf("unexpected status %d (expected %d)", resp.StatusCode, expected)
	}
	return true, fmt.Sprintf("status %d", resp.StatusCode)
}

func classifyError(parent context.Context, err error, timeout time.Duration) string {
	if errors.Is(parent.Err(), context.Canceled) {
		return "probe cancelled"
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("timeout after %gs", timeout.Seconds())
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused: container may not be running"
	}
	return fmt.Sprintf("request failed: %v", err)
}

package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errDeploymentGone = errors.New("deployment no longer exists")

// StartMonitoring replaces any running loop for id with a new one that
// probes the active color every interval.
func (m *Monitor) StartMonitoring(id string) error {
	m.StopMonitoring(id)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, running := m.loops[id]; running {
		// Another caller started a loop between our stop and this lock.
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	m.loops[id] = l
	m.mu.Unlock()

	go m.run(ctx, id, l)
	m.logger.Info("Health monitoring started", "deployment_id", id, "interval", m.interval)
	return nil
}

// StopMonitoring cancels the loop for id and waits for it to exit. It is a
// no-op when no loop is running.
func (m *Monitor) StopMonitoring(id string) {
	m.mu.Lock()
	l, ok := m.loops[id]
	if ok {
		delete(m.loops, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	l.cancel()
	<-l.done
	m.logger.Info("Health monitoring stopped", "deployment_id", id)
}

// IsMonitoring reports whether a loop is registered for id.
func (m *Monitor) IsMonitoring(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[id]
	return ok
}

// Monitored returns the ids with a running loop.
func (m *Monitor) Monitored() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.loops))
	for id := range m.loops {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every loop, waits for all of them and refuses new ones.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	m.closed = true
	loops := m.loops
	m.loops = make(map[string]*loop)
	m.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
	m.logger.Info("Health monitor shut down", "loops", len(loops))
}

func (m *Monitor) run(ctx context.Context, id string, l *loop) {
	defer close(l.done)

	failures := 0
	for {
		wait := m.interval
		healthy, err := m.iterate(ctx, id)
		switch {
		case errors.Is(err, errDeploymentGone):
			m.logger.Info("Deployment gone, stopping health monitoring", "deployment_id", id)
			m.deregister(id, l)
			return
		case err != nil:
			m.logger.Error("Health monitoring iteration failed", "deployment_id", id, "error", err)
			wait = m.backoff
		case healthy:
			failures = 0
		default:
			failures++
			if failures >= failureThreshold {
				wait = m.backoff
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// iterate probes the active container once. A deployment without an active
// container or ports is skipped and counts as healthy for pacing.
func (m *Monitor) iterate(ctx context.Context, id string) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if m.source == nil {
		return false, fmt.Errorf("no record source configured")
	}
	rec, ok := m.source.Get(id)
	if !ok {
		return false, errDeploymentGone
	}
	color := rec.ActiveColor
	if rec.Container(color) == nil || rec.Ports == nil {
		return true, nil
	}

	healthy, message := m.Check(ctx, rec, color, 0)
	if ctx.Err() != nil {
		return healthy, nil
	}
	if m.sink != nil {
		m.sink.RecordProbe(id, color, healthy, message, m.now())
	}
	if !healthy {
		m.logger.Warn("Deployment unhealthy", "deployment_id", id, "color", color, "message", message)
	}
	return healthy, nil
}

// deregister removes l from the registry unless it was already replaced.
func (m *Monitor) deregister(id string, l *loop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loops[id] == l {
		delete(m.loops, id)
	}
}

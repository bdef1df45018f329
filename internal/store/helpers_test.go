package store

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"agentbox/internal/history"
	"agentbox/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock advances one second on every call.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type memRecorder struct {
	mu      sync.Mutex
	records []history.OperationRecord
}

func (m *memRecorder) RecordOperation(_ context.Context, rec *history.OperationRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return int64(len(m.records)), nil
}

func (m *memRecorder) all() []history.OperationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.OperationRecord(nil), m.records...)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{WithLogger(discardLogger()), WithClock(newFakeClock().Now)}
	return New(append(base, opts...)...)
}

func testRecord(t *testing.T, id string) *model.Record {
	t.Helper()
	cfg, err := model.NewDeploymentConfig(model.DeploymentConfig{
		DeploymentID: id,
		RepoURL:      "https://github.com/acme/" + id,
		InternalPort: 8080,
	})
	if err != nil {
		t.Fatalf("NewDeploymentConfig(%q) failed: %v", id, err)
	}
	return model.NewRecord(cfg, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

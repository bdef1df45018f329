package health

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"agentbox/internal/model"
)

// batchConcurrency bounds how many deployments BatchSummary probes at once.
const batchConcurrency = 16

// BatchEntry is either a Report or an error for one deployment.
type BatchEntry struct {
	*Report
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchSummary runs Summary concurrently for every healthy or promoted
// deployment in recs. A failure for one deployment becomes an error entry
// and never fails the batch.
func (m *Monitor) BatchSummary(ctx context.Context, recs []*model.Record) map[string]BatchEntry {
	results := make(map[string]BatchEntry)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(batchConcurrency)

	for _, rec := range recs {
		if rec == nil || !rec.State.IsActive() {
			continue
		}
		g.Go(func() error {
			entry := m.safeSummary(ctx, rec)
			mu.Lock()
			results[rec.ID()] = entry
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

func (m *Monitor) safeSummary(ctx context.Context, rec *model.Record) (entry BatchEntry) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Health summary panicked", "deployment_id", rec.ID(), "panic", r)
			entry = BatchEntry{Status: "error", Error: fmt.Sprint(r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return BatchEntry{Status: "error", Error: err.Error()}
	}
	report := m.Summary(ctx, rec)
	return BatchEntry{Report: &report}
}

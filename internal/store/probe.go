package store

import (
	"fmt"
	"time"

	"agentbox/internal/model"
)

// RecordProbe stores a health probe outcome on the record for id: the
// probed container's health fields, and the deployment-level health when
// color is the active slot. A health_changed event is appended only when
// the deployment-level status flips. Unknown ids are ignored.
func (s *Store) RecordProbe(id string, color model.Color, healthy bool, message string, at time.Time) {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	if c := r.Container(color); c != nil {
		c.RecordProbe(healthy, at)
	}

	if color == r.ActiveColor {
		status := model.HealthUnhealthy
		if healthy {
			status = model.HealthHealthy
		}
		if status != r.HealthStatus {
			r.AddEvent(at, model.EventHealthChanged,
				fmt.Sprintf("%s slot is %s: %s", color, status, message),
				map[string]any{"color": string(color), "from": string(r.HealthStatus), "to": string(status)})
		}
		r.HealthStatus = status
		checked := at
		r.LastHealthCheck = &checked
	}
	r.UpdatedAt = at

	snapshot, version := s.snapshotLocked(id)
	s.mu.Unlock()

	s.persist(snapshot, version)
}

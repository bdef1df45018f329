package model

import "time"

// ContainerInfo describes the container running in one color slot.
// The container runtime fills in ID, image and status; the health monitor
// maintains the health fields.
type ContainerInfo struct {
	ContainerID      string       `json:"container_id"`
	ImageTag         string       `json:"image_tag"`
	Port             int          `json:"port"`
	Status           string       `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	HealthStatus     HealthStatus `json:"health_status"`
	LastHealthCheck  *time.Time   `json:"last_health_check"`
	HealthCheckCount int          `json:"health_check_count"`
	LogsTail         string       `json:"logs_tail,omitempty"`
}

// Clone returns a deep copy of c. A nil receiver yields nil.
func (c *ContainerInfo) Clone() *ContainerInfo {
	if c == nil {
		return nil
	}
	out := *c
	if c.LastHealthCheck != nil {
		t := *c.LastHealthCheck
		out.LastHealthCheck = &t
	}
	return &out
}

// RecordProbe stores a probe outcome on the container.
func (c *ContainerInfo) RecordProbe(healthy bool, at time.Time) {
	if healthy {
		c.HealthStatus = HealthHealthy
	} else {
		c.HealthStatus = HealthUnhealthy
	}
	c.LastHealthCheck = &at
	c.HealthCheckCount++
}

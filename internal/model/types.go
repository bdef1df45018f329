// Package model defines the deployment records tracked by the control plane.
//
// A Record owns exactly one DeploymentConfig for its whole life. Everything
// else on the record (state, containers, health, operation bookkeeping and the
// bounded event log) is mutated through the store.
package model

// State is the lifecycle state of a deployment.
type State string

const (
	StateIdle       State = "idle"
	StateBuilding   State = "building"
	StateStaging    State = "staging"
	StateHealthy    State = "healthy"
	StatePromoted   State = "promoted"
	StateFailed     State = "failed"
	StateRolledBack State = "rolled_back"
	StateRetiredOld State = "retired_old"
	StateDeleted    State = "deleted"
)

// AllStates lists every lifecycle state in pipeline order.
var AllStates = []State{
	StateIdle,
	StateBuilding,
	StateStaging,
	StateHealthy,
	StatePromoted,
	StateFailed,
	StateRolledBack,
	StateRetiredOld,
	StateDeleted,
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsActive reports whether the deployment is serving traffic.
func (s State) IsActive() bool {
	return s == StateHealthy || s == StatePromoted
}

// Color identifies one of the two container slots.
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
)

// Valid reports whether c is blue or green.
func (c Color) Valid() bool {
	return c == ColorBlue || c == ColorGreen
}

// Other returns the opposite slot.
func (c Color) Other() Color {
	if c == ColorBlue {
		return ColorGreen
	}
	return ColorBlue
}

// HealthStatus is the last known probe outcome for a container or deployment.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthChecking  HealthStatus = "checking"
)

// Valid reports whether h is a known health status.
func (h HealthStatus) Valid() bool {
	switch h {
	case HealthUnknown, HealthHealthy, HealthUnhealthy, HealthChecking:
		return true
	}
	return false
}

// Ptr returns a pointer to v. Handy for building a Patch.
func Ptr[T any](v T) *T {
	return &v
}

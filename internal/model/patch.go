package model

import (
	"fmt"
	"time"
)

// Patch is a typed partial update of a Record. Nil fields are left alone.
// Operation bookkeeping is deliberately absent: it only changes through the
// store's lock and unlock calls.
type Patch struct {
	State          *State
	ActiveColor    *Color
	Ports          *PortAllocation
	ClearPorts     bool
	BlueContainer  *ContainerInfo
	GreenContainer *ContainerInfo
	ClearBlue      bool
	ClearGreen     bool

	HealthStatus    *HealthStatus
	LastHealthCheck *time.Time

	// Event, when set, is appended to the log after the fields are applied.
	Event *EventInput
}

// EventInput is the caller-provided part of an Event.
type EventInput struct {
	Type    string
	Message string
	Data    map[string]any
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.State == nil && p.ActiveColor == nil && p.Ports == nil && !p.ClearPorts &&
		p.BlueContainer == nil && p.GreenContainer == nil && !p.ClearBlue && !p.ClearGreen &&
		p.HealthStatus == nil && p.LastHealthCheck == nil && p.Event == nil
}

// Validate rejects values outside their enumerations.
func (p Patch) Validate() error {
	if p.State != nil && !p.State.Valid() {
		return fmt.Errorf("unknown state %q", *p.State)
	}
	if p.ActiveColor != nil && !p.ActiveColor.Valid() {
		return fmt.Errorf("unknown color %q", *p.ActiveColor)
	}
	if p.HealthStatus != nil && !p.HealthStatus.Valid() {
		return fmt.Errorf("unknown health status %q", *p.HealthStatus)
	}
	if p.Ports != nil {
		if err := p.Ports.Validate(); err != nil {
			return err
		}
		if p.ClearPorts {
			return fmt.Errorf("patch both sets and clears ports")
		}
	}
	return nil
}

// Apply writes the patch onto r and refreshes UpdatedAt.
// A state change also appends a state_changed event.
func (p Patch) Apply(r *Record, at time.Time) {
	if p.State != nil && *p.State != r.State {
		from := r.State
		r.State = *p.State
		r.AddEvent(at, EventStateChanged, fmt.Sprintf("state %s -> %s", from, r.State),
			map[string]any{"from": string(from), "to": string(r.State)})
	}
	if p.ActiveColor != nil {
		r.ActiveColor = *p.ActiveColor
	}
	if p.ClearPorts {
		r.Ports = nil
	}
	if p.Ports != nil {
		ports := *p.Ports
		r.Ports = &ports
	}
	if p.ClearBlue {
		r.BlueContainer = nil
	}
	if p.ClearGreen {
		r.GreenContainer = nil
	}
	if p.BlueContainer != nil {
		r.BlueContainer = p.BlueContainer.Clone()
	}
	if p.GreenContainer != nil {
		r.GreenContainer = p.GreenContainer.Clone()
	}
	if p.HealthStatus != nil {
		r.HealthStatus = *p.HealthStatus
	}
	if p.LastHealthCheck != nil {
		t := *p.LastHealthCheck
		r.LastHealthCheck = &t
	}
	if p.Event != nil {
		r.AddEvent(at, p.Event.Type, p.Event.Message, p.Event.Data)
	}
	r.UpdatedAt = at
}

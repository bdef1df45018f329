package store

import (
	"sort"

	"agentbox/internal/model"
)

// PortOwner is one entry of the allocated-port table.
type PortOwner struct {
	Port         int    `json:"port"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

// AllocatePorts reserves the first pair of consecutive free ports in
// [rangeStart, rangeEnd]. The scan and the reservation happen under the
// store lock, so concurrent callers never receive overlapping pairs.
// The pair stays reserved until it is bound to a deployment via Update or
// Create, or released with FreePorts.
func (s *Store) AllocatePorts(rangeStart, rangeEnd int) (model.PortAllocation, bool) {
	if rangeStart < model.MinPort || rangeEnd > model.MaxPort || rangeStart >= rangeEnd {
		s.logger.Warn("Invalid port range", "range_start", rangeStart, "range_end", rangeEnd)
		return model.PortAllocation{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for port := rangeStart; port < rangeEnd; port++ {
		_, blueTaken := s.allocated[port]
		_, greenTaken := s.allocated[port+1]
		if blueTaken || greenTaken {
			continue
		}
		s.allocated[port] = ""
		s.allocated[port+1] = ""
		s.logger.Info("Ports allocated", "blue_port", port, "green_port", port+1)
		return model.PortAllocation{BluePort: port, GreenPort: port + 1}, true
	}

	s.logger.Warn("No free port pair in range", "range_start", rangeStart, "range_end", rangeEnd)
	return model.PortAllocation{}, false
}

// FreePorts returns both ports to the pool. Freeing free ports is a no-op.
func (s *Store) FreePorts(alloc model.PortAllocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releasePorts(alloc)
}

// IsPortAllocated reports whether port is reserved or bound.
func (s *Store) IsPortAllocated(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.allocated[port]
	return ok
}

// AllocatedPorts lists every reserved or bound port in ascending order.
func (s *Store) AllocatedPorts() []PortOwner {
	s.mu.Lock()
	out := make([]PortOwner, 0, len(s.allocated))
	for port, owner := range s.allocated {
		out = append(out, PortOwner{Port: port, DeploymentID: owner})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// portOwnerConflict reports whether either port is bound to a deployment
// other than id. Callers hold s.mu.
func (s *Store) portOwnerConflict(alloc model.PortAllocation, id string) (string, bool) {
	for _, port := range alloc.Ports() {
		if owner, ok := s.allocated[port]; ok && owner != "" && owner != id {
			return owner, true
		}
	}
	return "", false
}

// bindPorts marks both ports as owned by id. Callers hold s.mu.
func (s *Store) bindPorts(alloc model.PortAllocation, id string) {
	for _, port := range alloc.Ports() {
		s.allocated[port] = id
	}
}

// releasePorts removes both ports from the pool. Callers hold s.mu.
func (s *Store) releasePorts(alloc model.PortAllocation) {
	for _, port := range alloc.Ports() {
		delete(s.allocated, port)
	}
}

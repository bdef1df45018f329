package model

import "fmt"

const (
	MinPort = 1024
	MaxPort = 65535
)

// PortAllocation is the pair of host ports reserved for a deployment's blue
// and green slots.
type PortAllocation struct {
	BluePort  int `json:"blue_port"`
	GreenPort int `json:"green_port"`
}

// NewPortAllocation validates both ports and returns the allocation.
func NewPortAllocation(bluePort, greenPort int) (PortAllocation, error) {
	p := PortAllocation{BluePort: bluePort, GreenPort: greenPort}
	if err := p.Validate(); err != nil {
		return PortAllocation{}, err
	}
	return p, nil
}

// Validate checks that both ports are in the unprivileged range and distinct.
func (p PortAllocation) Validate() error {
	if p.BluePort < MinPort || p.BluePort > MaxPort {
		return fmt.Errorf("blue port %d outside [%d, %d]", p.BluePort, MinPort, MaxPort)
	}
	if p.GreenPort < MinPort || p.GreenPort > MaxPort {
		return fmt.Errorf("green port %d outside [%d, %d]", p.GreenPort, MinPort, MaxPort)
	}
	if p.BluePort == p.GreenPort {
		return fmt.Errorf("blue and green ports must differ, both are %d", p.BluePort)
	}
	return nil
}

// Port returns the port bound to the given color.
func (p PortAllocation) Port(c Color) int {
	if c == ColorGreen {
		return p.GreenPort
	}
	return p.BluePort
}

// Ports returns both ports, blue first.
func (p PortAllocation) Ports() [2]int {
	return [2]int{p.BluePort, p.GreenPort}
}

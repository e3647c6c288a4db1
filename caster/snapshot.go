package caster

import (
	"time"

	"github.com/iqr/casterbase/canopen"
)

// Snapshot is a point-in-time copy of the driver state. It is the payload of
// the telemetry stream and the recorder.
type Snapshot struct {
	Time time.Time `json:"time"`
	Tick uint64    `json:"tick"`

	Joints [2]Joint `json:"joints"`
	// LinearVelocity is each wheel's tread speed in m/s.
	LinearVelocity [2]float64    `json:"linear_velocity"`
	Motors         [2]MotorState `json:"motors"`

	StatusFlags canopen.StatusFlags `json:"status_flags"`
	FaultFlags  canopen.FaultFlags  `json:"fault_flags"`
	Faults      []string            `json:"faults,omitempty"`

	Connected       bool `json:"connected"`
	Initialized     bool `json:"initialized"`
	ControllerAlive bool `json:"controller_alive"`

	Client      canopen.Stats `json:"client"`
	ReadErrors  uint64        `json:"read_errors"`
	WriteErrors uint64        `json:"write_errors"`
}

// Snapshot copies the current state. Tick is left for the caller.
func (h *Hardware) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Snapshot{
		Time:        h.clock.Now(),
		Joints:      h.joints,
		Motors:      h.motors,
		StatusFlags: h.status,
		FaultFlags:  h.faults,
		Faults:      h.faults.Names(),
		Connected:   h.connected,
		Initialized: h.initialized,
		ReadErrors:  h.readErrors,
		WriteErrors: h.writeErrors,
	}
	for i, j := range h.joints {
		s.LinearVelocity[i] = h.conv.AngularToLinear(j.Velocity)
	}
	if h.monitor != nil {
		s.ControllerAlive = h.monitor.Alive()
	}
	if h.client != nil {
		s.Client = h.client.Stats()
	}
	return s
}

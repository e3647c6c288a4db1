package caster

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/iqr/casterbase/canopen"
)

// Config holds the driver parameters.
type Config struct {
	Node       canopen.NodeID
	JointNames [2]string

	TicksPerRevolution float64
	// WheelDiameter in meters.
	WheelDiameter float64
	// MaxAccel in m/s² and MaxSpeed in m/s at the wheel tread. Zero disables
	// the bound.
	MaxAccel float64
	MaxSpeed float64

	QueryTimeout  time.Duration
	ControlPeriod time.Duration
	// PollFlags adds the status and fault registers to every read cycle.
	PollFlags bool

	HeartbeatTimeout time.Duration
	// RequireHeartbeat makes Connect wait for the controller's first heartbeat.
	RequireHeartbeat bool
}

// DefaultConfig returns the parameters of a stock Caster base.
func DefaultConfig() Config {
	return Config{
		Node:               1,
		JointNames:         [2]string{"drive_wheel_left_joint", "drive_wheel_right_joint"},
		TicksPerRevolution: DefaultTicksPerRevolution,
		WheelDiameter:      0.1524,
		MaxAccel:           5.0,
		MaxSpeed:           1.0,
		QueryTimeout:       canopen.DefaultQueryTimeout,
		ControlPeriod:      50 * time.Millisecond,
		PollFlags:          true,
		HeartbeatTimeout:   time.Second,
	}
}

// Validate checks the configuration for values the driver cannot use.
func (c Config) Validate() error {
	var errs error
	if err := c.Node.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.TicksPerRevolution <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("ticks per revolution must be positive, got %v", c.TicksPerRevolution))
	}
	if c.WheelDiameter <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("wheel diameter must be positive, got %v", c.WheelDiameter))
	}
	if c.MaxAccel < 0 || c.MaxSpeed < 0 {
		errs = multierr.Append(errs, errors.New("max accel and max speed must not be negative"))
	}
	if c.QueryTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("query timeout must be positive"))
	}
	if c.ControlPeriod <= 0 {
		errs = multierr.Append(errs, errors.New("control period must be positive"))
	}
	if c.HeartbeatTimeout < 0 {
		errs = multierr.Append(errs, errors.New("heartbeat timeout must not be negative"))
	}
	if errs != nil {
		return fmt.Errorf("caster: invalid config: %w", errs)
	}
	return nil
}

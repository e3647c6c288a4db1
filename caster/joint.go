package caster

import (
	"fmt"
	"strings"
	"time"

	"github.com/iqr/casterbase/canopen"
)

// Motor is a controller channel. Its value is the sub-index used on the wire.
type Motor uint8

const (
	Left  Motor = 0x01
	Right Motor = 0x02
)

// Motors lists both channels in index order.
var Motors = [2]Motor{Left, Right}

func (m Motor) index() int { return int(m) - 1 }

// Valid reports whether m is Left or Right.
func (m Motor) Valid() bool { return m == Left || m == Right }

func (m Motor) String() string {
	switch m {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Motor(%d)", uint8(m))
	}
}

// ParseMotor accepts "left", "right", "1" or "2".
func ParseMotor(s string) (Motor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l", "1":
		return Left, nil
	case "right", "r", "2":
		return Right, nil
	default:
		return 0, fmt.Errorf("caster: unknown motor %q", s)
	}
}

// Joint is the state of one wheel as a control layer sees it.
type Joint struct {
	Name string `json:"name"`
	// Position in radians since Initialize.
	Position       float64 `json:"position"`
	PositionOffset float64 `json:"position_offset"`
	// Velocity in rad/s.
	Velocity float64 `json:"velocity"`
	// Effort is not measured and stays 0.
	Effort float64 `json:"effort"`
	// VelocityCommand in rad/s, set by the host before each write cycle.
	VelocityCommand float64 `json:"velocity_command"`
}

// MotorState is the telemetry cache of one channel. Values are the last
// ones read successfully.
type MotorState struct {
	Counter int32                    `json:"counter"`
	RPM     int32                    `json:"rpm"`
	Flags   canopen.MotorStatusFlags `json:"flags"`
	// Fresh is true when the last read cycle updated both counter and RPM.
	Fresh     bool      `json:"fresh"`
	Updated   time.Time `json:"updated"`
	LastError string    `json:"last_error,omitempty"`
	// Commanded is the limited wheel velocity last sent, in rad/s.
	Commanded  float64 `json:"commanded"`
	CommandRPM int32   `json:"command_rpm"`
}

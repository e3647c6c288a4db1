package canopen

import (
	"fmt"
	"strings"
)

// FaultFlags is the controller-wide fault register (ReadFaultFlags).
type FaultFlags uint8

const (
	FaultOverheat FaultFlags = 1 << iota
	FaultOvervoltage
	FaultUndervoltage
	FaultShortCircuit
	FaultEmergencyStop
	FaultSetup
	FaultMOSFETFailure
	FaultDefaultConfig
)

var faultNames = [8]string{
	"overheat", "overvoltage", "undervoltage", "short_circuit",
	"emergency_stop", "setup_fault", "mosfet_failure", "default_config_loaded",
}

// StatusFlags is the controller-wide status register (ReadStatusFlags).
type StatusFlags uint8

const (
	StatusSerialMode StatusFlags = 1 << iota
	StatusPulseMode
	StatusAnalogMode
	StatusPowerStageOff
	StatusStallDetected
	StatusAtLimit
	StatusUnused
	StatusScriptRunning
)

var statusNames = [8]string{
	"serial_mode", "pulse_mode", "analog_mode", "power_stage_off",
	"stall_detected", "at_limit", "unused", "script_running",
}

// MotorStatusFlags is the per-channel status register (ReadMotorStatusFlags).
type MotorStatusFlags uint8

const (
	MotorAmpsLimit MotorStatusFlags = 1 << iota
	MotorStalled
	MotorLoopError
	MotorSafetyStop
	MotorForwardLimit
	MotorReverseLimit
	MotorAmpsTrigger
)

var motorStatusNames = [8]string{
	"amps_limit", "stalled", "loop_error", "safety_stop",
	"forward_limit", "reverse_limit", "amps_trigger", "bit7",
}

func flagNames(v uint8, names *[8]string) []string {
	var out []string
	for i := 0; i < 8; i++ {
		if v&(1<<i) != 0 {
			out = append(out, names[i])
		}
	}
	return out
}

func flagString(v uint8, names *[8]string) string {
	if v == 0 {
		return "none"
	}
	return strings.Join(flagNames(v, names), ",")
}

func binary8(v uint8) string { return fmt.Sprintf("%08b", v) }

func (f FaultFlags) Has(b FaultFlags) bool { return f&b == b }
func (f FaultFlags) Names() []string       { return flagNames(uint8(f), &faultNames) }
func (f FaultFlags) String() string        { return flagString(uint8(f), &faultNames) }

// Binary renders the register MSB first, e.g. "00000101".
func (f FaultFlags) Binary() string { return binary8(uint8(f)) }

func (f StatusFlags) Has(b StatusFlags) bool { return f&b == b }
func (f StatusFlags) Names() []string        { return flagNames(uint8(f), &statusNames) }
func (f StatusFlags) String() string         { return flagString(uint8(f), &statusNames) }
func (f StatusFlags) Binary() string         { return binary8(uint8(f)) }

func (f MotorStatusFlags) Has(b MotorStatusFlags) bool { return f&b == b }
func (f MotorStatusFlags) Names() []string             { return flagNames(uint8(f), &motorStatusNames) }
func (f MotorStatusFlags) String() string              { return flagString(uint8(f), &motorStatusNames) }
func (f MotorStatusFlags) Binary() string              { return binary8(uint8(f)) }

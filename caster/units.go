package caster

import "math"

// ReductionRatio is the gearbox ratio between motor and wheel.
const ReductionRatio = 15.0

// DefaultTicksPerRevolution is the hall-sensor count per motor revolution.
const DefaultTicksPerRevolution = 30

// Converter maps between wire units (encoder ticks, motor RPM) and wheel
// units (radians, rad/s, m/s).
type Converter struct {
	TicksPerRevolution float64
	ReductionRatio     float64
	// WheelDiameter in meters; only linear conversions use it.
	WheelDiameter float64
}

// NewConverter returns a Converter using the fixed ReductionRatio.
func NewConverter(ticksPerRevolution, wheelDiameter float64) Converter {
	return Converter{
		TicksPerRevolution: ticksPerRevolution,
		ReductionRatio:     ReductionRatio,
		WheelDiameter:      wheelDiameter,
	}
}

// TicksToRadians converts motor encoder ticks to wheel radians.
func (c Converter) TicksToRadians(ticks float64) float64 {
	return ticks / (c.TicksPerRevolution * c.ReductionRatio) * 2 * math.Pi
}

// RadiansToTicks converts wheel radians to motor encoder ticks.
func (c Converter) RadiansToTicks(rad float64) float64 {
	return rad / (2 * math.Pi) * c.TicksPerRevolution * c.ReductionRatio
}

// RPMToRadPerSec converts motor RPM to wheel angular velocity.
func (c Converter) RPMToRadPerSec(rpm float64) float64 {
	return rpm * 2 * math.Pi / 60 / c.ReductionRatio
}

// RadPerSecToRPM converts wheel angular velocity to motor RPM.
func (c Converter) RadPerSecToRPM(w float64) float64 {
	return w * c.ReductionRatio * 60 / (2 * math.Pi)
}

// AngularToLinear converts wheel rad/s (or rad/s²) to m/s (or m/s²) at the
// tread.
func (c Converter) AngularToLinear(w float64) float64 {
	return w * c.WheelDiameter / 2
}

// LinearToAngular is the inverse of AngularToLinear. It returns 0 when the
// wheel diameter is unset.
func (c Converter) LinearToAngular(v float64) float64 {
	if c.WheelDiameter == 0 {
		return 0
	}
	return v / (c.WheelDiameter / 2)
}

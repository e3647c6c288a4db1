package caster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const tolerance = 1e-6

func TestConverterValues(t *testing.T) {
	c := NewConverter(30, 0.2)
	// One wheel revolution is 30 * 15 ticks.
	assert.InDelta(t, 2*math.Pi, c.TicksToRadians(450), tolerance)
	assert.InDelta(t, 450, c.RadiansToTicks(2*math.Pi), tolerance)
	// 900 motor rpm is 60 wheel rpm, one wheel revolution per second.
	assert.InDelta(t, 2*math.Pi, c.RPMToRadPerSec(900), tolerance)
	assert.InDelta(t, 900, c.RadPerSecToRPM(2*math.Pi), tolerance)
	assert.InDelta(t, 0.1, c.AngularToLinear(1), tolerance)
	assert.InDelta(t, 10, c.LinearToAngular(1), tolerance)
	assert.Zero(t, NewConverter(30, 0).LinearToAngular(1))
}

func TestConverterInverseLaws(t *testing.T) {
	c := NewConverter(DefaultTicksPerRevolution, 0.1524)
	for rpm := -6000.0; rpm <= 6000; rpm += 37.5 {
		assert.InDelta(t, rpm, c.RadPerSecToRPM(c.RPMToRadPerSec(rpm)), tolerance)
	}
	for ticks := -100000.0; ticks <= 100000; ticks += 1234 {
		assert.InDelta(t, ticks, c.RadiansToTicks(c.TicksToRadians(ticks)), tolerance)
	}
	for v := -2.0; v <= 2; v += 0.125 {
		assert.InDelta(t, v, c.AngularToLinear(c.LinearToAngular(v)), tolerance)
	}
}

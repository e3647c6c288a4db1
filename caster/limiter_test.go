package caster

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBounded(t *testing.T) {
	l := Limiter{MaxAccel: 4, MaxSpeed: 10}
	for _, dt := range []time.Duration{time.Millisecond, 20 * time.Millisecond, 100 * time.Millisecond, time.Second} {
		step := l.MaxAccel * dt.Seconds()
		for prev := -10.0; prev <= 10; prev += 0.5 {
			for target := -15.0; target <= 15; target += 0.75 {
				next := l.Next(prev, target, dt)
				assert.LessOrEqual(t, math.Abs(next), l.MaxSpeed+1e-12)
				assert.LessOrEqual(t, math.Abs(next-prev), step+1e-12, "prev=%v target=%v dt=%v", prev, target, dt)
			}
		}
	}
}

func TestLimiterRamp(t *testing.T) {
	l := Limiter{MaxAccel: 2, MaxSpeed: 3}
	dt := 100 * time.Millisecond
	v := 0.0
	for i := 0; i < 10; i++ {
		v = l.Next(v, 5, dt)
	}
	assert.InDelta(t, 2.0, v, 1e-9)
	for i := 0; i < 20; i++ {
		v = l.Next(v, 5, dt)
	}
	assert.InDelta(t, 3.0, v, 1e-9, "top speed caps the ramp")
	assert.InDelta(t, 2.8, l.Next(v, -5, dt), 1e-9)
	assert.InDelta(t, 1.0, l.Next(1.0, 1.0, dt), 1e-9, "target reached stays put")
}

func TestLimiterDisabledBounds(t *testing.T) {
	assert.Equal(t, 7.5, Limiter{}.Next(0, 7.5, time.Millisecond))
	assert.Equal(t, 2.0, Limiter{MaxSpeed: 2}.Next(0, 7.5, time.Millisecond))
	assert.InDelta(t, 0.01, Limiter{MaxAccel: 10}.Next(0, 7.5, time.Millisecond), 1e-12)
}

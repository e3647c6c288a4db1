package caster

import "time"

// Limiter bounds how fast a commanded wheel velocity may change and how
// large it may get. Units are wheel rad/s² and rad/s; a zero field disables
// that bound.
type Limiter struct {
	MaxAccel float64
	MaxSpeed float64
}

// Next moves prev toward target by at most MaxAccel*dt and clamps the
// result to ±MaxSpeed.
func (l Limiter) Next(prev, target float64, dt time.Duration) float64 {
	delta := target - prev
	if l.MaxAccel > 0 {
		step := l.MaxAccel * dt.Seconds()
		delta = clamp(delta, -step, step)
	}
	next := prev + delta
	if l.MaxSpeed > 0 {
		next = clamp(next, -l.MaxSpeed, l.MaxSpeed)
	}
	return next
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

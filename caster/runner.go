package caster

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// CommandSource supplies wheel velocity commands in rad/s once per tick.
type CommandSource interface {
	VelocityCommands() (left, right float64)
}

// CommandSourceFunc adapts a function to CommandSource.
type CommandSourceFunc func() (left, right float64)

func (f CommandSourceFunc) VelocityCommands() (float64, float64) { return f() }

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver receives the snapshot taken at the end of every tick.
func WithObserver(fn func(Snapshot)) RunnerOption {
	return func(r *Runner) { r.observers = append(r.observers, fn) }
}

// WithRunnerClock sets the ticker clock.
func WithRunnerClock(c clock.Clock) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runner calls the read and write cycles at a fixed period.
type Runner struct {
	hw        *Hardware
	period    time.Duration
	source    CommandSource
	observers []func(Snapshot)
	clock     clock.Clock
	logger    *zap.Logger
	tick      uint64
}

// NewRunner creates a runner. A nil source leaves the joints' velocity
// commands to whoever calls SetVelocityCommand.
func NewRunner(hw *Hardware, period time.Duration, source CommandSource, opts ...RunnerOption) *Runner {
	if period <= 0 {
		period = hw.cfg.ControlPeriod
	}
	r := &Runner{
		hw:     hw,
		period: period,
		source: source,
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run ticks until ctx ends. Cycle errors are logged and counted; they never
// stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.period)
	defer ticker.Stop()
	r.logger.Info("control loop started", zap.Duration("period", r.period))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("control loop stopped", zap.Uint64("ticks", r.tick))
			return ctx.Err()
		case <-ticker.C:
			r.Step(ctx)
		}
	}
}

// Step runs one tick: read cycle, command pull, write cycle, publish.
func (r *Runner) Step(ctx context.Context) Snapshot {
	r.tick++
	if err := r.hw.UpdateHardwareStatus(ctx); err != nil {
		r.logger.Warn("read cycle", zap.Uint64("tick", r.tick), zap.Error(err))
	}
	if r.source != nil {
		left, right := r.source.VelocityCommands()
		for m, w := range map[Motor]float64{Left: left, Right: right} {
			if err := r.hw.SetVelocityCommand(m, w); err != nil {
				// A rejected command stops the wheel rather than holding the last one.
				r.logger.Warn("velocity command rejected", zap.Uint64("tick", r.tick), zap.Error(err))
				_ = r.hw.SetVelocityCommand(m, 0)
			}
		}
	}
	if err := r.hw.WriteCommandsToHardware(ctx); err != nil {
		r.logger.Warn("write cycle", zap.Uint64("tick", r.tick), zap.Error(err))
	}
	snap := r.hw.Snapshot()
	snap.Tick = r.tick
	for _, fn := range r.observers {
		fn(snap)
	}
	return snap
}

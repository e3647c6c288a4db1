package caster

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRunnerStep(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAccel, cfg.MaxSpeed = 0, 0
	f := newFixture(t, cfg, nil, nil)
	f.start(t)

	w := f.hw.Converter().RPMToRadPerSec(120)
	source := CommandSourceFunc(func() (float64, float64) { return w, -w })
	var seen []Snapshot
	r := NewRunner(f.hw, 0, source,
		WithObserver(func(s Snapshot) { seen = append(seen, s) }),
		WithRunnerLogger(zaptest.NewLogger(t)),
	)

	snap := r.Step(context.Background())
	assert.Equal(t, uint64(1), snap.Tick)
	assert.InDelta(t, w, snap.Joints[0].VelocityCommand, tolerance)
	assert.InDelta(t, -w, snap.Joints[1].VelocityCommand, tolerance)
	assert.Equal(t, int32(120), snap.Motors[0].CommandRPM)
	assert.Equal(t, int32(-120), snap.Motors[1].CommandRPM)
	assert.True(t, snap.Initialized)

	snap = r.Step(context.Background())
	assert.Equal(t, uint64(2), snap.Tick)
	assert.Equal(t, int32(120), snap.Motors[0].RPM, "second tick reads back the setpoint")
	require.Len(t, seen, 2)
	assert.Equal(t, uint64(1), seen[0].Tick)
}

func TestRunnerStopsOnRejectedCommand(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAccel, cfg.MaxSpeed = 0, 0
	f := newFixture(t, cfg, nil, nil)
	f.start(t)

	w := f.hw.Converter().RPMToRadPerSec(60)
	left := w
	source := CommandSourceFunc(func() (float64, float64) { return left, w })
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRunner(f.hw, 0, source, WithRunnerLogger(zap.New(core)))

	snap := r.Step(context.Background())
	assert.Equal(t, int32(60), snap.Motors[0].CommandRPM)

	left = math.NaN()
	snap = r.Step(context.Background())
	assert.Equal(t, int32(0), snap.Motors[0].CommandRPM)
	assert.Equal(t, int32(60), snap.Motors[1].CommandRPM)
	rejected := logs.FilterMessage("velocity command rejected").All()
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].ContextMap()["error"], "not finite")
}

func TestRunnerRunUntilCancelled(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	f.start(t)

	var mu sync.Mutex
	ticks := 0
	r := NewRunner(f.hw, 20*time.Millisecond, nil, WithObserver(func(Snapshot) {
		mu.Lock()
		ticks++
		mu.Unlock()
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, ticks, 1)
}

func TestRunnerKeepsTickingWithoutController(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	// Not connected: both cycles fail, the loop carries on.
	r := NewRunner(f.hw, time.Millisecond, nil)
	snap := r.Step(context.Background())
	snap = r.Step(context.Background())
	assert.Equal(t, uint64(2), snap.Tick)
	assert.False(t, snap.Connected)
}

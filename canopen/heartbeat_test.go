package canopen

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqr/casterbase/canbus"
)

func TestHeartbeatFrame(t *testing.T) {
	f, err := Heartbeat{Node: 10, State: StateOperational}.MarshalCANFrame()
	require.NoError(t, err)
	assert.Equal(t, "70A [1] 05", f.String())

	var hb Heartbeat
	require.NoError(t, hb.UnmarshalCANFrame(f))
	assert.Equal(t, Heartbeat{Node: 10, State: StateOperational}, hb)
	assert.Equal(t, "operational", hb.State.String())

	assert.ErrorIs(t, hb.UnmarshalCANFrame(canbus.MustFrame(0x581, []byte{5})), ErrDecode)
	assert.ErrorIs(t, hb.UnmarshalCANFrame(canbus.MustFrame(0x70A, nil)), ErrDecode)
	_, err = Heartbeat{Node: 0}.MarshalCANFrame()
	assert.Error(t, err)
}

func TestHeartbeatMonitorAlive(t *testing.T) {
	mock := clock.NewMock()
	m := NewHeartbeatMonitor(1, time.Second, MonitorClock(mock))
	assert.False(t, m.Alive())

	m.Observe(Heartbeat{Node: 2, State: StateOperational})
	assert.False(t, m.Alive(), "other nodes do not count")

	m.Observe(Heartbeat{Node: 1, State: StatePreOperational})
	assert.True(t, m.Alive())
	state, at, ok := m.Last()
	assert.True(t, ok)
	assert.Equal(t, StatePreOperational, state)
	assert.Equal(t, mock.Now(), at)

	mock.Add(time.Second)
	assert.True(t, m.Alive())
	mock.Add(time.Millisecond)
	assert.False(t, m.Alive())

	m.Observe(Heartbeat{Node: 1, State: StateOperational})
	assert.True(t, m.Alive())
	require.NoError(t, m.WaitAlive(context.Background()))
}

func TestHeartbeatMonitorWaitAndRun(t *testing.T) {
	lb := canbus.NewLoopbackBus()
	defer lb.Close()
	mux := canbus.NewMux(lb.Open())
	defer mux.Close()
	ctl := lb.Open()

	m := NewHeartbeatMonitor(1, 0)
	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitAlive(short), context.DeadlineExceeded)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, mux) }()

	wait, cancelWait := context.WithTimeout(context.Background(), time.Second)
	defer cancelWait()
	go func() {
		// Keep beating until the monitor has subscribed and seen one.
		for wait.Err() == nil && !m.Alive() {
			f, _ := Heartbeat{Node: 1, State: StateOperational}.MarshalCANFrame()
			_ = ctl.Send(wait, f)
			time.Sleep(5 * time.Millisecond)
		}
	}()
	require.NoError(t, m.WaitAlive(wait))
	assert.True(t, m.Alive())

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSubscribeHeartbeatsAnyNode(t *testing.T) {
	lb := canbus.NewLoopbackBus()
	defer lb.Close()
	mux := canbus.NewMux(lb.Open())
	defer mux.Close()
	ctl := lb.Open()

	hbs, cancel := SubscribeHeartbeats(mux, 0, 4)
	defer cancel()

	ctx := context.Background()
	_ = ctl.Send(ctx, canbus.MustFrame(0x581, []byte{0x05, 0x21, 0x01, 0}))
	f, _ := Heartbeat{Node: 7, State: StateStopped}.MarshalCANFrame()
	_ = ctl.Send(ctx, f)

	select {
	case hb := <-hbs:
		assert.Equal(t, Heartbeat{Node: 7, State: StateStopped}, hb)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat delivered")
	}
}

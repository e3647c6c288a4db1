package canopen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/iqr/casterbase/canbus"
)

// NMTState encodes the node state as carried in a heartbeat.
type NMTState uint8

const (
	StateBootup         NMTState = 0x00
	StateStopped        NMTState = 0x04
	StateOperational    NMTState = 0x05
	StatePreOperational NMTState = 0x7F
)

func (s NMTState) String() string {
	switch s {
	case StateBootup:
		return "bootup"
	case StateStopped:
		return "stopped"
	case StateOperational:
		return "operational"
	case StatePreOperational:
		return "pre-operational"
	default:
		return fmt.Sprintf("NMTState(0x%02X)", uint8(s))
	}
}

// Heartbeat represents an NMT error control heartbeat from a node and
// implements CAN frame marshal/unmarshal.
type Heartbeat struct {
	Node  NodeID
	State NMTState
}

// MarshalCANFrame encodes the heartbeat to a CAN frame.
func (h Heartbeat) MarshalCANFrame() (canbus.Frame, error) {
	if err := h.Node.Validate(); err != nil {
		return canbus.Frame{}, err
	}
	var f canbus.Frame
	f.ID = COBID(FCHeartbeat, h.Node)
	f.Len = 1
	f.Data[0] = byte(h.State)
	return f, nil
}

// UnmarshalCANFrame decodes the heartbeat from a CAN frame.
func (h *Heartbeat) UnmarshalCANFrame(f canbus.Frame) error {
	if f.Extended || f.RTR || f.Len < 1 {
		return fmt.Errorf("%w: heartbeat frame %v", ErrDecode, f)
	}
	fc, node, err := ParseCOBID(f.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if fc != FCHeartbeat {
		return fmt.Errorf("%w: not a heartbeat frame (id=0x%X)", ErrDecode, f.ID)
	}
	h.Node = node
	h.State = NMTState(f.Data[0])
	return nil
}

// SubscribeHeartbeats subscribes to heartbeat frames via mux and delivers
// parsed events. If node is zero, heartbeats from every node are delivered.
// The channel is closed on cancel or when the mux closes.
func SubscribeHeartbeats(mux *canbus.Mux, node NodeID, buffer int) (<-chan Heartbeat, func()) {
	filter := AnyHeartbeatFilter()
	if node != 0 {
		filter = HeartbeatFilter(node)
	}
	frames, cancel := mux.Subscribe(filter, buffer)

	out := make(chan Heartbeat, buffer)
	go func() {
		defer close(out)
		for f := range frames {
			var hb Heartbeat
			if err := hb.UnmarshalCANFrame(f); err != nil {
				continue
			}
			out <- hb
		}
	}()
	return out, cancel
}

// HeartbeatMonitor tracks the liveness of one node from its heartbeats.
type HeartbeatMonitor struct {
	node    NodeID
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	state    NMTState
	lastSeen time.Time
	seen     bool
	first    chan struct{}
}

// MonitorOption configures a HeartbeatMonitor.
type MonitorOption func(*HeartbeatMonitor)

// MonitorClock sets the clock used to stamp heartbeats.
func MonitorClock(c clock.Clock) MonitorOption {
	return func(m *HeartbeatMonitor) { m.clock = c }
}

// MonitorLogger sets the logger for state changes.
func MonitorLogger(l *zap.Logger) MonitorOption {
	return func(m *HeartbeatMonitor) { m.logger = l }
}

// NewHeartbeatMonitor creates a monitor that considers the node alive for
// timeout after each heartbeat.
func NewHeartbeatMonitor(node NodeID, timeout time.Duration, opts ...MonitorOption) *HeartbeatMonitor {
	m := &HeartbeatMonitor{
		node:    node,
		timeout: timeout,
		clock:   clock.New(),
		logger:  zap.NewNop(),
		first:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers the monitor for the node's heartbeats on mux and
// returns the loop that observes them. Heartbeats are captured from the
// moment Subscribe returns. The loop runs until ctx ends or the mux closes.
func (m *HeartbeatMonitor) Subscribe(mux *canbus.Mux) func(context.Context) error {
	hbs, cancel := SubscribeHeartbeats(mux, m.node, 4)
	return func(ctx context.Context) error {
		defer cancel()
		for {
			select {
			case hb, ok := <-hbs:
				if !ok {
					return canbus.ErrClosed
				}
				m.Observe(hb)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Run consumes heartbeats from the mux until ctx ends or the mux closes.
func (m *HeartbeatMonitor) Run(ctx context.Context, mux *canbus.Mux) error {
	return m.Subscribe(mux)(ctx)
}

// Observe records a heartbeat. Heartbeats from other nodes are ignored.
func (m *HeartbeatMonitor) Observe(hb Heartbeat) {
	if hb.Node != m.node {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seen || hb.State != m.state {
		m.logger.Info("controller state",
			zap.Uint8("node", uint8(hb.Node)),
			zap.Stringer("state", hb.State),
		)
	}
	m.state = hb.State
	m.lastSeen = m.clock.Now()
	if !m.seen {
		m.seen = true
		close(m.first)
	}
}

// Alive reports whether a heartbeat arrived within the timeout. A zero
// timeout means any heartbeat ever seen counts.
func (m *HeartbeatMonitor) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seen {
		return false
	}
	if m.timeout <= 0 {
		return true
	}
	return m.clock.Since(m.lastSeen) <= m.timeout
}

// Last returns the last reported state and when it arrived.
func (m *HeartbeatMonitor) Last() (NMTState, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastSeen, m.seen
}

// WaitAlive blocks until the first heartbeat arrives or ctx ends.
func (m *HeartbeatMonitor) WaitAlive(ctx context.Context) error {
	select {
	case <-m.first:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("canopen: waiting for heartbeat from node %d: %w", m.node, ctx.Err())
	}
}

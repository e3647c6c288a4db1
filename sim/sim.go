// Package sim simulates a dual-channel motor controller on a canbus.Bus.
//
// The simulator answers the same command/query protocol as the hardware:
// SetVelocity sets a channel's RPM, SetBLCounter loads its encoder counter,
// and queries are answered with the register value. Encoder counters
// integrate RPM over clock time, so a mock clock gives deterministic
// telemetry.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iqr/casterbase/canbus"
	"github.com/iqr/casterbase/canopen"
)

// DefaultTicksPerRevolution matches the stock motor's hall sensor count.
const DefaultTicksPerRevolution = 30

// Stats counts simulator traffic.
type Stats struct {
	Requests uint64 `json:"requests"`
	Commands uint64 `json:"commands"`
	Queries  uint64 `json:"queries"`
	Replies  uint64 `json:"replies"`
	Dropped  uint64 `json:"dropped"`
	Ignored  uint64 `json:"ignored"`
}

type channel struct {
	counter float64
	rpm     int32
	flags   canopen.MotorStatusFlags
	// residual is added to every SetBLCounter load.
	residual int32
}

// Controller is a simulated controller bound to one node id.
type Controller struct {
	bus         canbus.Bus
	node        canopen.NodeID
	logger      *zap.Logger
	clock       clock.Clock
	ticksPerRev float64
	replyDelay  time.Duration
	heartbeat   time.Duration
	dropRate    float64
	rng         *rand.Rand

	mu       sync.Mutex
	channels [2]channel
	last     time.Time
	status   canopen.StatusFlags
	faults   canopen.FaultFlags
	muted    bool
	stats    Stats
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the simulator logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used for counter integration, reply delays and
// heartbeats.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithTicksPerRevolution sets the encoder resolution.
func WithTicksPerRevolution(n float64) Option {
	return func(c *Controller) {
		if n > 0 {
			c.ticksPerRev = n
		}
	}
}

// WithReplyDelay delays every reply by d.
func WithReplyDelay(d time.Duration) Option {
	return func(c *Controller) { c.replyDelay = d }
}

// WithHeartbeat sends an operational heartbeat every period. Zero disables it.
func WithHeartbeat(period time.Duration) Option {
	return func(c *Controller) { c.heartbeat = period }
}

// WithDropRate drops replies with probability p using rng. A nil rng uses a
// time-seeded source.
func WithDropRate(p float64, rng *rand.Rand) Option {
	return func(c *Controller) {
		c.dropRate = p
		c.rng = rng
	}
}

// New creates a simulator that answers requests for node on bus.
func New(bus canbus.Bus, node canopen.NodeID, opts ...Option) (*Controller, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		bus:         bus,
		node:        node,
		logger:      zap.NewNop(),
		clock:       clock.New(),
		ticksPerRev: DefaultTicksPerRevolution,
		status:      canopen.StatusSerialMode,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dropRate > 0 && c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c.last = c.clock.Now()
	c.logger = c.logger.With(zap.Uint8("node", uint8(node)))
	return c, nil
}

// Run serves requests, and heartbeats if enabled, until ctx ends or the bus
// fails. It returns nil on cancellation.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.serve(ctx) })
	if c.heartbeat > 0 {
		g.Go(func() error { return c.beat(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, canbus.ErrClosed) {
		return nil
	}
	return err
}

func (c *Controller) serve(ctx context.Context) error {
	accept := canopen.RequestFilter(c.node)
	for {
		f, err := c.bus.Receive(ctx)
		if err != nil {
			return err
		}
		if !accept(f) {
			continue
		}
		msg, err := canopen.Decode(f)
		if err != nil {
			c.logger.Debug("malformed request", zap.Stringer("frame", f), zap.Error(err))
			continue
		}
		reply, ok := c.Handle(msg)
		if !ok {
			continue
		}
		if c.replyDelay > 0 {
			select {
			case <-c.clock.After(c.replyDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.bus.Send(ctx, reply); err != nil {
			return fmt.Errorf("sim: send reply: %w", err)
		}
	}
}

func (c *Controller) beat(ctx context.Context) error {
	hb, err := canopen.Heartbeat{Node: c.node, State: canopen.StateOperational}.MarshalCANFrame()
	if err != nil {
		return err
	}
	ticker := c.clock.Ticker(c.heartbeat)
	defer ticker.Stop()
	for {
		if err := c.bus.Send(ctx, hb); err != nil {
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle applies one request and returns the reply frame for queries that
// get an answer.
func (c *Controller) Handle(msg canopen.Message) (canbus.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Requests++
	if msg.Node != c.node {
		c.stats.Ignored++
		return canbus.Frame{}, false
	}
	c.integrate()

	ct, _ := msg.CommandType()
	switch ct {
	case canopen.Command:
		c.stats.Commands++
		c.command(msg)
		return canbus.Frame{}, false
	case canopen.Query:
		c.stats.Queries++
		return c.query(msg)
	default:
		c.stats.Ignored++
		return canbus.Frame{}, false
	}
}

func (c *Controller) channel(sub uint8) (*channel, bool) {
	if sub < 1 || sub > 2 {
		return nil, false
	}
	return &c.channels[sub-1], true
}

func (c *Controller) command(msg canopen.Message) {
	ch, ok := c.channel(msg.SubIndex)
	if !ok {
		c.stats.Ignored++
		return
	}
	switch msg.Object {
	case canopen.SetVelocity:
		ch.rpm = msg.Int32()
	case canopen.SetBLCounter:
		ch.counter = float64(msg.Int32() + ch.residual)
	default:
		c.stats.Ignored++
		return
	}
	c.logger.Debug("command", zap.Stringer("object", msg.Object), zap.Uint8("sub", msg.SubIndex), zap.Int32("value", msg.Int32()))
}

func (c *Controller) query(msg canopen.Message) (canbus.Frame, bool) {
	info, ok := msg.Object.Info()
	if !ok || info.Access != canopen.AccessRead {
		c.stats.Ignored++
		return canbus.Frame{}, false
	}
	var value uint32
	if info.PerChannel {
		ch, ok := c.channel(msg.SubIndex)
		if !ok {
			c.stats.Ignored++
			return canbus.Frame{}, false
		}
		switch msg.Object {
		case canopen.ReadAbsBLCounter:
			value = uint32(int32(math.Round(ch.counter)))
		case canopen.ReadBLMotorRPM:
			value = uint32(uint16(int16(ch.rpm)))
		case canopen.ReadMotorStatusFlags:
			value = uint32(ch.flags)
		}
	} else {
		switch msg.Object {
		case canopen.ReadStatusFlags:
			value = uint32(c.status)
		case canopen.ReadFaultFlags:
			value = uint32(c.faults)
		}
	}

	if c.muted || (c.dropRate > 0 && c.rng.Float64() < c.dropRate) {
		c.stats.Dropped++
		return canbus.Frame{}, false
	}
	f, err := canopen.EncodeReply(c.node, msg.Object, msg.SubIndex, value, info.Width)
	if err != nil {
		c.stats.Ignored++
		return canbus.Frame{}, false
	}
	c.stats.Replies++
	return f, true
}

// integrate advances the encoder counters to the current clock time.
// Callers hold c.mu.
func (c *Controller) integrate() {
	now := c.clock.Now()
	dt := now.Sub(c.last).Seconds()
	c.last = now
	if dt <= 0 {
		return
	}
	for i := range c.channels {
		ch := &c.channels[i]
		ch.counter += float64(ch.rpm) / 60 * c.ticksPerRev * dt
	}
}

// SetFaultFlags sets the controller fault register.
func (c *Controller) SetFaultFlags(f canopen.FaultFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = f
}

// SetStatusFlags sets the controller status register.
func (c *Controller) SetStatusFlags(f canopen.StatusFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = f
}

// SetMotorStatusFlags sets one channel's status register.
func (c *Controller) SetMotorStatusFlags(sub uint8, f canopen.MotorStatusFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channel(sub); ok {
		ch.flags = f
	}
}

// SetMuted swallows every reply while on.
func (c *Controller) SetMuted(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = on
}

// SetCounter loads a channel's encoder counter directly.
func (c *Controller) SetCounter(sub uint8, ticks int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integrate()
	if ch, ok := c.channel(sub); ok {
		ch.counter = float64(ticks)
	}
}

// SetResidual makes later SetBLCounter commands on a channel land ticks
// away from the requested value, as when the wheel creeps during a reset.
func (c *Controller) SetResidual(sub uint8, ticks int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channel(sub); ok {
		ch.residual = ticks
	}
}

// Counter returns a channel's encoder counter at the current clock time.
func (c *Controller) Counter(sub uint8) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integrate()
	if ch, ok := c.channel(sub); ok {
		return int32(math.Round(ch.counter))
	}
	return 0
}

// RPM returns a channel's commanded RPM.
func (c *Controller) RPM(sub uint8) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channel(sub); ok {
		return ch.rpm
	}
	return 0
}

// Stats returns the traffic counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

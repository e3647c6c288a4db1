package canopen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/iqr/casterbase/canbus"
)

const (
	// DefaultQueryTimeout bounds how long Query waits for a reply.
	DefaultQueryTimeout = 20 * time.Millisecond

	// ReplyBuffer is the depth of a client's reply subscription. The mux
	// drops replies that arrive while it is full.
	ReplyBuffer = 8
)

// Client issues commands and queries to one controller node.
//
// Commands are fire-and-forget. Queries block until the controller answers
// with the same node, object and sub-index or the timeout elapses. At most
// one query is in flight per Client; concurrent callers wait their turn.
// Replies reach the client through HandleFrame, usually fed by Listen.
type Client struct {
	bus     canbus.Bus
	node    NodeID
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	// sem holds a token while a query owns the pending slot.
	sem  chan struct{}
	slot pendingSlot

	commands       atomic.Uint64
	queries        atomic.Uint64
	replies        atomic.Uint64
	timeouts       atomic.Uint64
	transmitErrors atomic.Uint64
	decodeErrors   atomic.Uint64
	unmatched      atomic.Uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the query timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used for query timeouts.
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewClient creates a client for node that sends on bus.
func NewClient(bus canbus.Bus, node NodeID, opts ...ClientOption) (*Client, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		bus:     bus,
		node:    node,
		timeout: DefaultQueryTimeout,
		clock:   clock.New(),
		logger:  zap.NewNop(),
		sem:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.Uint8("node", uint8(node)))
	return c, nil
}

// Node returns the controller node id.
func (c *Client) Node() NodeID { return c.node }

// Timeout returns the query timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Filter matches the frames HandleFrame is interested in.
func (c *Client) Filter() canbus.FrameFilter { return ReplyFilter(c.node) }

// Command writes data to obj[sub]. It returns once the frame is handed to
// the transport; a send failure wraps ErrTransmit and is not retried.
func (c *Client) Command(ctx context.Context, obj Object, sub uint8, data uint32, length uint8) error {
	frame, err := Encode(c.node, Command, obj, sub, data, length)
	if err != nil {
		return err
	}
	c.commands.Add(1)
	if err := c.bus.Send(ctx, frame); err != nil {
		c.transmitErrors.Add(1)
		return fmt.Errorf("canopen: command %s[%d]: %w: %w", obj, sub, ErrTransmit, err)
	}
	return nil
}

// Query reads obj[sub] and returns the raw unsigned value of the reply.
//
// Failures are *QueryError values wrapping ErrQueryTimeout, ErrTransmit or
// the context error.
func (c *Client) Query(ctx context.Context, obj Object, sub uint8, length uint8) (uint32, error) {
	frame, err := Encode(c.node, Query, obj, sub, 0, length)
	if err != nil {
		return 0, err
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, c.queryErr(obj, sub, ctx.Err())
	}
	defer func() { <-c.sem }()

	c.queries.Add(1)
	gen, result := c.slot.arm(c.node, obj, sub)
	if err := c.bus.Send(ctx, frame); err != nil {
		c.slot.clear(gen)
		c.transmitErrors.Add(1)
		return 0, c.queryErr(obj, sub, fmt.Errorf("%w: %w", ErrTransmit, err))
	}

	timer := c.clock.Timer(c.timeout)
	defer timer.Stop()

	select {
	case v := <-result:
		return v, nil
	case <-timer.C:
		if c.slot.clear(gen) {
			c.timeouts.Add(1)
			c.logger.Debug("query timeout",
				zap.Stringer("object", obj),
				zap.Uint8("sub", sub),
				zap.Duration("timeout", c.timeout),
			)
			return 0, c.queryErr(obj, sub, ErrQueryTimeout)
		}
	case <-ctx.Done():
		if c.slot.clear(gen) {
			return 0, c.queryErr(obj, sub, ctx.Err())
		}
	}
	// The reply won the race with the timer; its value is already buffered.
	return <-result, nil
}

// QueryInt32 reads obj[sub] with the object's table width and sign.
func (c *Client) QueryInt32(ctx context.Context, obj Object, sub uint8) (int32, error) {
	info, ok := obj.Info()
	if !ok {
		return 0, fmt.Errorf("canopen: unknown object 0x%04X", uint16(obj))
	}
	v, err := c.Query(ctx, obj, sub, info.Width)
	if err != nil {
		return 0, err
	}
	return obj.SignExtend(v, info.Width), nil
}

func (c *Client) queryErr(obj Object, sub uint8, err error) error {
	return &QueryError{Node: c.node, Object: obj, SubIndex: sub, Err: err}
}

// HandleFrame feeds an inbound frame to the client. It is safe to call from
// any goroutine. Only a reply whose node, object and sub-index equal the
// armed query resolves it; anything else is counted and dropped.
func (c *Client) HandleFrame(f canbus.Frame) {
	msg, err := Decode(f)
	if err != nil {
		c.decodeErrors.Add(1)
		c.logger.Debug("dropping frame", zap.Stringer("frame", f), zap.Error(err))
		return
	}
	if !msg.IsReply() || !c.slot.resolve(msg) {
		c.unmatched.Add(1)
		return
	}
	c.replies.Add(1)
}

// Subscribe registers the client for this node's replies on mux and
// returns the pump that feeds them to HandleFrame. Replies are captured from
// the moment Subscribe returns, so queries may be sent before the pump is
// scheduled. The pump runs until ctx ends or the mux closes and releases the
// subscription on return.
func (c *Client) Subscribe(mux *canbus.Mux) func(context.Context) error {
	frames, cancel := mux.Subscribe(c.Filter(), ReplyBuffer)
	return func(ctx context.Context) error {
		defer cancel()
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					return canbus.ErrClosed
				}
				c.HandleFrame(f)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Listen subscribes to this node's replies on mux and pumps them into
// HandleFrame until ctx ends or the mux closes. Callers that send before
// the listener goroutine runs should use Subscribe instead.
func (c *Client) Listen(ctx context.Context, mux *canbus.Mux) error {
	return c.Subscribe(mux)(ctx)
}

// Stats counts client activity since creation.
type Stats struct {
	Commands       uint64 `json:"commands"`
	Queries        uint64 `json:"queries"`
	Replies        uint64 `json:"replies"`
	Timeouts       uint64 `json:"timeouts"`
	TransmitErrors uint64 `json:"transmit_errors"`
	DecodeErrors   uint64 `json:"decode_errors"`
	Unmatched      uint64 `json:"unmatched"`
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Commands:       c.commands.Load(),
		Queries:        c.queries.Load(),
		Replies:        c.replies.Load(),
		Timeouts:       c.timeouts.Load(),
		TransmitErrors: c.transmitErrors.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
		Unmatched:      c.unmatched.Load(),
	}
}

// pendingSlot is the single outstanding query. Each arm bumps gen so a
// waiter that gave up can only clear its own query.
type pendingSlot struct {
	mu     sync.Mutex
	armed  bool
	gen    uint64
	node   NodeID
	obj    Object
	sub    uint8
	result chan uint32
}

func (s *pendingSlot) arm(node NodeID, obj Object, sub uint8) (uint64, <-chan uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.armed = true
	s.node, s.obj, s.sub = node, obj, sub
	s.result = make(chan uint32, 1)
	return s.gen, s.result
}

// resolve delivers the value if msg matches the armed query.
func (s *pendingSlot) resolve(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || msg.Node != s.node || msg.Object != s.obj || msg.SubIndex != s.sub {
		return false
	}
	s.armed = false
	s.result <- msg.Value
	return true
}

// clear disarms the slot if it still belongs to gen.
func (s *pendingSlot) clear(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || s.gen != gen {
		return false
	}
	s.armed = false
	return true
}

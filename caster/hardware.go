package caster

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iqr/casterbase/canbus"
	"github.com/iqr/casterbase/canopen"
)

// dialRetryInterval is the pause between failed transport dials in Connect.
const dialRetryInterval = 500 * time.Millisecond

// maxGapPeriods is how many control periods may pass between writes before
// the gap is treated as a restart and dt falls back to one period.
const maxGapPeriods = 5

// Dialer opens the CAN transport.
type Dialer func(ctx context.Context) (canbus.Bus, error)

// FaultHandler is called when the fault register changes to a nonzero value.
type FaultHandler func(canopen.FaultFlags)

// Option configures a Hardware.
type Option func(*Hardware)

// WithLogger sets the driver logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hardware) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock sets the clock used for write-cycle timing, query timeouts and
// heartbeat ageing.
func WithClock(c clock.Clock) Option {
	return func(h *Hardware) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithFaultHandler registers fn to receive fault reports.
func WithFaultHandler(fn FaultHandler) Option {
	return func(h *Hardware) { h.onFault = fn }
}

// Hardware is the driver for one controller and its two wheels.
//
// UpdateHardwareStatus and WriteCommandsToHardware must be called from one
// goroutine at a time (the control tick). The accessors are safe to call
// concurrently with them.
type Hardware struct {
	cfg     Config
	conv    Converter
	limiter Limiter
	dial    Dialer
	logger  *zap.Logger
	clock   clock.Clock
	onFault FaultHandler

	// connMu serializes Connect and Close.
	connMu sync.Mutex
	wg     sync.WaitGroup

	mu          sync.RWMutex
	link        link
	client      *canopen.Client
	monitor     *canopen.HeartbeatMonitor
	connected   bool
	initialized bool
	joints      [2]Joint
	motors      [2]MotorState
	status      canopen.StatusFlags
	faults      canopen.FaultFlags
	readErrors  uint64
	writeErrors uint64

	// write cycle state, owned by the tick goroutine
	lastCommand [2]float64
	lastWrite   time.Time
}

// New creates a driver. Nothing is opened until Connect.
func New(cfg Config, dial Dialer, opts ...Option) (*Hardware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		return nil, fmt.Errorf("caster: nil dialer")
	}
	conv := NewConverter(cfg.TicksPerRevolution, cfg.WheelDiameter)
	h := &Hardware{
		cfg:  cfg,
		conv: conv,
		limiter: Limiter{
			MaxAccel: conv.LinearToAngular(cfg.MaxAccel),
			MaxSpeed: conv.LinearToAngular(cfg.MaxSpeed),
		},
		dial:   dial,
		logger: zap.NewNop(),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	for i, m := range Motors {
		h.joints[i].Name = cfg.JointNames[m.index()]
	}
	return h, nil
}

// Converter returns the unit converter built from the config.
func (h *Hardware) Converter() Converter { return h.conv }

// Limiter returns the velocity limiter in wheel units.
func (h *Hardware) Limiter() Limiter { return h.limiter }

// Client returns the protocol client, or nil before Connect.
func (h *Hardware) Client() *canopen.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.client
}

// Connect dials the transport, retrying until ctx ends, and starts the
// reply listener and heartbeat monitor. With RequireHeartbeat it also waits
// for the controller's first heartbeat. Calling Connect again is a no-op.
func (h *Hardware) Connect(ctx context.Context) error {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.mu.RLock()
	connected := h.connected
	h.mu.RUnlock()
	if connected {
		return nil
	}

	bus, err := h.dialWithRetry(ctx)
	if err != nil {
		return err
	}
	client, err := canopen.NewClient(bus, h.cfg.Node,
		canopen.WithTimeout(h.cfg.QueryTimeout),
		canopen.WithLogger(h.logger),
		canopen.WithClock(h.clock),
	)
	if err != nil {
		return multierr.Append(err, bus.Close())
	}
	mux := canbus.NewMux(bus)
	monitor := canopen.NewHeartbeatMonitor(h.cfg.Node, h.cfg.HeartbeatTimeout,
		canopen.MonitorClock(h.clock),
		canopen.MonitorLogger(h.logger),
	)

	// Subscribe before the pumps run so early replies are buffered.
	pumpReplies := client.Subscribe(mux)
	pumpBeats := monitor.Subscribe(mux)

	lctx, stop := context.WithCancel(context.Background())
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		if err := pumpReplies(lctx); err != nil && lctx.Err() == nil {
			h.logger.Warn("reply listener stopped", zap.Error(err), zap.NamedError("bus", mux.Err()))
		}
	}()
	go func() {
		defer h.wg.Done()
		_ = pumpBeats(lctx)
	}()
	l := link{bus: bus, mux: mux, stop: stop}

	if h.cfg.RequireHeartbeat {
		if err := monitor.WaitAlive(ctx); err != nil {
			return multierr.Append(fmt.Errorf("caster: connect: %w", err), h.shutdown(l))
		}
	}

	h.mu.Lock()
	h.link, h.client, h.monitor = l, client, monitor
	h.connected = true
	h.mu.Unlock()
	h.logger.Info("connected", zap.Uint8("node", uint8(h.cfg.Node)))
	return nil
}

func (h *Hardware) dialWithRetry(ctx context.Context) (canbus.Bus, error) {
	for attempt := 1; ; attempt++ {
		bus, err := h.dial(ctx)
		if err == nil {
			return bus, nil
		}
		h.logger.Warn("transport dial failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("caster: connect: %w (last error: %v)", ctx.Err(), err)
		case <-h.clock.After(dialRetryInterval):
		}
	}
}

// link is what Connect opened and Close releases.
type link struct {
	bus  canbus.Bus
	mux  *canbus.Mux
	stop context.CancelFunc
}

func (h *Hardware) shutdown(l link) error {
	if l.stop == nil {
		return nil
	}
	l.stop()
	err := l.mux.Close()
	h.wg.Wait()
	return multierr.Append(err, l.bus.Close())
}

// Close stops the listeners and closes the transport. The tick goroutine
// must have stopped calling the cycles.
func (h *Hardware) Close() error {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.mu.Lock()
	l := h.link
	h.link, h.client, h.monitor = link{}, nil, nil
	h.connected, h.initialized = false, false
	h.mu.Unlock()
	return h.shutdown(l)
}

// Initialize runs the startup sequence: zero both hardware counters, then
// read them back as the position offsets so both joints start at 0. It must
// follow Connect and may only run once.
func (h *Hardware) Initialize(ctx context.Context) error {
	h.mu.RLock()
	client, initialized := h.client, h.initialized
	h.mu.RUnlock()
	switch {
	case client == nil:
		return ErrNotConnected
	case initialized:
		return ErrAlreadyInitialized
	}

	if err := h.clearBLCounter(ctx, client); err != nil {
		return fmt.Errorf("caster: initialize: %w", err)
	}
	if err := h.resetTravelOffset(ctx, client); err != nil {
		return fmt.Errorf("caster: initialize: %w", err)
	}

	h.mu.Lock()
	h.initialized = true
	offsets := [2]float64{h.joints[0].PositionOffset, h.joints[1].PositionOffset}
	h.mu.Unlock()
	h.lastWrite = time.Time{}
	h.lastCommand = [2]float64{}
	h.logger.Info("initialized",
		zap.Float64("left_offset", offsets[0]),
		zap.Float64("right_offset", offsets[1]),
	)
	return nil
}

func (h *Hardware) clearBLCounter(ctx context.Context, client *canopen.Client) error {
	var errs error
	for _, m := range Motors {
		if err := client.Command(ctx, canopen.SetBLCounter, uint8(m), 0, 4); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("clear %s counter: %w", m, err))
		}
	}
	return errs
}

func (h *Hardware) resetTravelOffset(ctx context.Context, client *canopen.Client) error {
	var errs error
	for _, m := range Motors {
		count, err := client.QueryInt32(ctx, canopen.ReadAbsBLCounter, uint8(m))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read %s counter: %w", m, err))
			continue
		}
		offset := h.conv.TicksToRadians(float64(count))
		h.mu.Lock()
		j := &h.joints[m.index()]
		j.PositionOffset = offset
		j.Position = 0
		h.motors[m.index()].Counter = count
		h.mu.Unlock()
	}
	return errs
}

// ready returns the client once the driver is connected and initialized.
func (h *Hardware) ready() (*canopen.Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case !h.connected:
		return nil, ErrNotConnected
	case !h.initialized:
		return nil, ErrNotInitialized
	}
	return h.client, nil
}

// UpdateHardwareStatus runs the read cycle: encoder counts, then RPM, then
// (with PollFlags) the status registers. A failed query leaves that value
// at its last good reading; all failures are returned together. A new
// nonzero fault register is logged and reported to the fault handler but is
// not an error.
func (h *Hardware) UpdateHardwareStatus(ctx context.Context) error {
	client, err := h.ready()
	if err != nil {
		return err
	}
	var errs error
	var fresh [2]bool

	for _, m := range Motors {
		count, err := client.QueryInt32(ctx, canopen.ReadAbsBLCounter, uint8(m))
		h.mu.Lock()
		ms := &h.motors[m.index()]
		if err != nil {
			ms.LastError = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("%s encoder: %w", m, err))
		} else {
			j := &h.joints[m.index()]
			ms.Counter = count
			j.Position = h.conv.TicksToRadians(float64(count)) - j.PositionOffset
			fresh[m.index()] = true
		}
		h.mu.Unlock()
	}

	for _, m := range Motors {
		rpm, err := client.QueryInt32(ctx, canopen.ReadBLMotorRPM, uint8(m))
		h.mu.Lock()
		ms := &h.motors[m.index()]
		if err != nil {
			ms.LastError = err.Error()
			fresh[m.index()] = false
			errs = multierr.Append(errs, fmt.Errorf("%s rpm: %w", m, err))
		} else {
			ms.RPM = rpm
			h.joints[m.index()].Velocity = h.conv.RPMToRadPerSec(float64(rpm))
		}
		h.mu.Unlock()
	}

	if h.cfg.PollFlags {
		errs = multierr.Append(errs, h.pollFlags(ctx, client))
	}

	now := h.clock.Now()
	h.mu.Lock()
	for i := range h.motors {
		h.motors[i].Fresh = fresh[i]
		if fresh[i] {
			h.motors[i].Updated = now
			h.motors[i].LastError = ""
		}
	}
	if errs != nil {
		h.readErrors++
	}
	h.mu.Unlock()
	return errs
}

func (h *Hardware) pollFlags(ctx context.Context, client *canopen.Client) error {
	var errs error

	if v, err := client.Query(ctx, canopen.ReadStatusFlags, 0, 1); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("status flags: %w", err))
	} else {
		h.mu.Lock()
		h.status = canopen.StatusFlags(v)
		h.mu.Unlock()
	}

	if v, err := client.Query(ctx, canopen.ReadFaultFlags, 0, 1); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("fault flags: %w", err))
	} else {
		h.setFaults(canopen.FaultFlags(v))
	}

	for _, m := range Motors {
		v, err := client.Query(ctx, canopen.ReadMotorStatusFlags, uint8(m), 1)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s motor flags: %w", m, err))
			continue
		}
		h.mu.Lock()
		h.motors[m.index()].Flags = canopen.MotorStatusFlags(v)
		h.mu.Unlock()
	}
	return errs
}

func (h *Hardware) setFaults(f canopen.FaultFlags) {
	h.mu.Lock()
	prev := h.faults
	h.faults = f
	h.mu.Unlock()
	if f == prev {
		return
	}
	if f == 0 {
		h.logger.Info("controller faults cleared", zap.String("previous", prev.String()))
		return
	}
	h.logger.Warn("controller fault",
		zap.Stringer("faults", f),
		zap.String("bits", f.Binary()),
	)
	if h.onFault != nil {
		h.onFault(f)
	}
}

// WriteCommandsToHardware runs the write cycle: each joint's velocity
// command is ramped by the limiter and sent as an RPM setpoint. The two
// motors are independent; a failed send keeps that motor's ramp where it
// was and is returned after the other motor has been commanded.
func (h *Hardware) WriteCommandsToHardware(ctx context.Context) error {
	client, err := h.ready()
	if err != nil {
		return err
	}
	dt := h.writeInterval()

	h.mu.RLock()
	targets := [2]float64{h.joints[0].VelocityCommand, h.joints[1].VelocityCommand}
	h.mu.RUnlock()

	var errs error
	for _, m := range Motors {
		i := m.index()
		next := h.limiter.Next(h.lastCommand[i], targets[i], dt)
		rpm, next := h.setpoint(next)
		if err := client.Command(ctx, canopen.SetVelocity, uint8(m), uint32(rpm), 4); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s velocity: %w", m, err))
			continue
		}
		h.lastCommand[i] = next
		h.mu.Lock()
		h.motors[i].Commanded = next
		h.motors[i].CommandRPM = rpm
		h.mu.Unlock()
	}
	if errs != nil {
		h.mu.Lock()
		h.writeErrors++
		h.mu.Unlock()
	}
	return errs
}

// writeInterval returns the time since the previous write. The first write,
// and any write after a stall longer than maxGapPeriods, uses one period.
func (h *Hardware) writeInterval() time.Duration {
	now := h.clock.Now()
	period := h.cfg.ControlPeriod
	dt := period
	if !h.lastWrite.IsZero() {
		if gap := now.Sub(h.lastWrite); gap > 0 && gap <= maxGapPeriods*period {
			dt = gap
		}
	}
	h.lastWrite = now
	return dt
}

// Stop commands zero RPM on both motors immediately, bypassing the limiter.
func (h *Hardware) Stop(ctx context.Context) error {
	client, err := h.ready()
	if err != nil {
		return err
	}
	var errs error
	for _, m := range Motors {
		if err := client.Command(ctx, canopen.SetVelocity, uint8(m), 0, 4); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", m, err))
			continue
		}
		h.lastCommand[m.index()] = 0
	}
	h.mu.Lock()
	for i := range h.joints {
		h.joints[i].VelocityCommand = 0
		if h.lastCommand[i] == 0 {
			h.motors[i].Commanded = 0
			h.motors[i].CommandRPM = 0
		}
	}
	h.mu.Unlock()
	return errs
}

// setpoint converts a wheel velocity to the SetVelocity RPM, saturating at
// the int32 range. The returned velocity is the one the RPM stands for.
func (h *Hardware) setpoint(w float64) (int32, float64) {
	rpm := math.Round(h.conv.RadPerSecToRPM(w))
	switch {
	case math.IsNaN(rpm):
		return 0, 0
	case rpm > math.MaxInt32:
		rpm = math.MaxInt32
	case rpm < math.MinInt32:
		rpm = math.MinInt32
	default:
		return int32(rpm), w
	}
	return int32(rpm), h.conv.RPMToRadPerSec(rpm)
}

// SetVelocityCommand sets the target wheel velocity in rad/s for the next
// write cycle. NaN and infinite velocities are rejected.
func (h *Hardware) SetVelocityCommand(m Motor, w float64) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMotor, m)
	}
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("%w: %s %v", ErrInvalidVelocity, m, w)
	}
	h.mu.Lock()
	h.joints[m.index()].VelocityCommand = w
	h.mu.Unlock()
	return nil
}

// Joint returns a copy of one joint.
func (h *Hardware) Joint(m Motor) (Joint, error) {
	if !m.Valid() {
		return Joint{}, fmt.Errorf("%w: %d", ErrInvalidMotor, m)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.joints[m.index()], nil
}

// Joints returns copies of both joints, left first.
func (h *Hardware) Joints() [2]Joint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.joints
}

// Status summarises the driver and controller state.
type Status struct {
	Connected       bool                `json:"connected"`
	Initialized     bool                `json:"initialized"`
	ControllerAlive bool                `json:"controller_alive"`
	StatusFlags     canopen.StatusFlags `json:"status_flags"`
	FaultFlags      canopen.FaultFlags  `json:"fault_flags"`
}

// Status returns the current driver status.
func (h *Hardware) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Status{
		Connected:       h.connected,
		Initialized:     h.initialized,
		ControllerAlive: h.monitor != nil && h.monitor.Alive(),
		StatusFlags:     h.status,
		FaultFlags:      h.faults,
	}
}

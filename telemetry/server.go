package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iqr/casterbase/caster"
)

const (
	// subscriberBuffer is how many snapshots a slow websocket client may lag
	// before it starts missing them.
	subscriberBuffer = 4
	writeTimeout     = time.Second
	shutdownTimeout  = 2 * time.Second
)

// WheelCommand is the websocket message that sets wheel velocities in rad/s.
type WheelCommand struct {
	Left  *float64 `json:"left"`
	Right *float64 `json:"right"`
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for uptime.
func WithClock(c clock.Clock) ServerOption {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// Server serves the latest snapshot over HTTP and websocket.
type Server struct {
	addr     string
	commands *CommandBuffer
	logger   *zap.Logger
	clock    clock.Clock
	start    time.Time
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	last     caster.Snapshot
	have     bool
	subs     map[chan caster.Snapshot]struct{}
	listener net.Addr

	closing   chan struct{}
	closeOnce sync.Once
	published atomic.Uint64
	commandsN atomic.Uint64
}

// NewServer creates a server for addr. Wheel commands received on /ws go
// to commands; with a nil buffer they are refused.
func NewServer(addr string, commands *CommandBuffer, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		commands: commands,
		logger:   zap.NewNop(),
		clock:    clock.New(),
		subs:     make(map[chan caster.Snapshot]struct{}),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = s.clock.Now()
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Publish makes s the current snapshot and pushes it to websocket clients.
func (s *Server) Publish(snap caster.Snapshot) {
	s.published.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last, s.have = snap, true
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Latest returns the current snapshot and whether one was published.
func (s *Server) Latest() (caster.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.have
}

// Addr returns the listening address once Run has bound it.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.String()
}

// Run serves until ctx ends, then shuts down gracefully and disconnects
// websocket clients. It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("telemetry: listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("telemetry server listening", zap.Stringer("addr", ln.Addr()))

	select {
	case err := <-errc:
		return fmt.Errorf("telemetry: serve: %w", err)
	case <-ctx.Done():
	}
	s.closeOnce.Do(func() { close(s.closing) })
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("telemetry: serve: %w", err)
	}
	return nil
}

func (s *Server) subscribe() chan caster.Snapshot {
	ch := make(chan caster.Snapshot, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.have {
		ch <- s.last
	}
	s.subs[ch] = struct{}{}
	return ch
}

func (s *Server) unsubscribe(ch chan caster.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, ch)
}

func (s *Server) clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ready reports whether the driver is initialized and the controller is
// answering, either by heartbeat or by a fresh read cycle.
func ready(snap caster.Snapshot) bool {
	if !snap.Initialized {
		return false
	}
	return snap.ControllerAlive || (snap.Motors[0].Fresh && snap.Motors[1].Fresh)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Latest()
	if !ok || !ready(snap) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.Latest()
	if r.Header.Get("Accept") == "application/json" || r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	m := promWriter{w: w}

	m.gauge("casterd_uptime_seconds", "Seconds since the server started", s.clock.Since(s.start).Seconds())
	m.gauge("casterd_connected", "Transport connected", boolValue(snap.Connected))
	m.gauge("casterd_initialized", "Startup sequence completed", boolValue(snap.Initialized))
	m.gauge("casterd_controller_alive", "Controller heartbeat seen within the timeout", boolValue(snap.ControllerAlive))
	m.gauge("casterd_status_flags", "Controller status register", float64(snap.StatusFlags))
	m.gauge("casterd_fault_flags", "Controller fault register", float64(snap.FaultFlags))
	m.counter("casterd_ticks_total", "Control ticks", float64(snap.Tick))
	m.counter("casterd_read_errors_total", "Read cycles with at least one failure", float64(snap.ReadErrors))
	m.counter("casterd_write_errors_total", "Write cycles with at least one failure", float64(snap.WriteErrors))
	m.counter("casterd_queries_total", "Queries sent", float64(snap.Client.Queries))
	m.counter("casterd_commands_total", "Commands sent", float64(snap.Client.Commands))
	m.counter("casterd_query_timeouts_total", "Queries without a reply in time", float64(snap.Client.Timeouts))
	m.counter("casterd_transmit_errors_total", "Frames the transport refused", float64(snap.Client.TransmitErrors))
	m.counter("casterd_unmatched_replies_total", "Replies that matched no pending query", float64(snap.Client.Unmatched))
	m.gauge("casterd_websocket_clients", "Connected websocket clients", float64(s.clients()))
	m.counter("casterd_remote_commands_total", "Wheel commands received over websocket", float64(s.commandsN.Load()))

	joints := func(name, help string, value func(i int) float64) {
		m.header(name, help, "gauge")
		for i, j := range snap.Joints {
			fmt.Fprintf(w, "%s{joint=%q} %g\n", name, j.Name, value(i))
		}
		fmt.Fprintln(w)
	}
	joints("casterd_joint_position_radians", "Wheel position since startup", func(i int) float64 { return snap.Joints[i].Position })
	joints("casterd_joint_velocity_radians_per_second", "Measured wheel velocity", func(i int) float64 { return snap.Joints[i].Velocity })
	joints("casterd_joint_command_radians_per_second", "Requested wheel velocity", func(i int) float64 { return snap.Joints[i].VelocityCommand })
	joints("casterd_motor_commanded_radians_per_second", "Rate-limited velocity last sent", func(i int) float64 { return snap.Motors[i].Commanded })
	joints("casterd_motor_rpm", "Motor speed reported by the controller", func(i int) float64 { return float64(snap.Motors[i].RPM) })
	joints("casterd_encoder_ticks", "Raw encoder counter", func(i int) float64 { return float64(snap.Motors[i].Counter) })
	joints("casterd_motor_status_flags", "Per-motor status register", func(i int) float64 { return float64(snap.Motors[i].Flags) })
}

type promWriter struct{ w http.ResponseWriter }

func (p promWriter) header(name, help, kind string) {
	fmt.Fprintf(p.w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func (p promWriter) gauge(name, help string, v float64) {
	p.header(name, help, "gauge")
	fmt.Fprintf(p.w, "%s %g\n\n", name, v)
}

func (p promWriter) counter(name, help string, v float64) {
	p.header(name, help, "counter")
	fmt.Fprintf(p.w, "%s %g\n\n", name, v)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	logger := s.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Info("websocket client connected")
	defer logger.Info("websocket client disconnected")

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readCommands(conn, logger)
	}()

	for {
		select {
		case snap := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				conn.Close()
				<-done
				return
			}
		case <-done:
			conn.Close()
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			conn.Close()
			<-done
			return
		}
	}
}

// readCommands applies wheel commands until the connection fails.
func (s *Server) readCommands(conn *websocket.Conn, logger *zap.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		var cmd WheelCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Left == nil || cmd.Right == nil {
			logger.Warn("ignoring malformed wheel command", zap.ByteString("message", data))
			continue
		}
		if s.commands == nil {
			logger.Warn("wheel commands are disabled")
			continue
		}
		s.commands.Set(*cmd.Left, *cmd.Right)
		s.commandsN.Add(1)
	}
}

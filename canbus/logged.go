package canbus

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogRead LogOption = 1 << iota
	LogWrite

	LogNone LogOption = 0
	LogAll            = LogRead | LogWrite
)

// NewLoggedBus wraps the given Bus and logs selected operations at the given
// level. If filter is non-nil only frames that satisfy it are logged; errors
// are always logged for the enabled directions.
func NewLoggedBus(inner Bus, logger *zap.Logger, level zapcore.Level, opts LogOption, filter FrameFilter) Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &loggedBus{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
		filter: filter,
	}
}

type loggedBus struct {
	inner  Bus
	logger *zap.Logger
	level  zapcore.Level
	opts   LogOption
	filter FrameFilter
}

func frameFields(f Frame) []zap.Field {
	return []zap.Field{
		zap.Uint32("id", f.ID),
		zap.Bool("extended", f.Extended),
		zap.Bool("rtr", f.RTR),
		zap.Uint8("len", f.Len),
		zap.Binary("data", f.Payload()),
		zap.Stringer("frame", f),
	}
}

// Send logs the frame and the result when write logging is enabled.
func (l *loggedBus) Send(ctx context.Context, frame Frame) error {
	logWrites := l.opts&LogWrite != 0
	if logWrites && (l.filter == nil || l.filter(frame)) {
		if ce := l.logger.Check(l.level, "canbus send"); ce != nil {
			ce.Write(frameFields(frame)...)
		}
	}
	err := l.inner.Send(ctx, frame)
	if logWrites && err != nil {
		l.logger.Error("canbus send error", zap.Uint32("id", frame.ID), zap.Error(err))
	}
	return err
}

// Receive logs the received frame or error when read logging is enabled.
func (l *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead == 0 {
		return f, err
	}
	switch {
	case err != nil:
		// Cancellation is how callers stop receiving; not worth an error line.
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			l.logger.Error("canbus receive error", zap.Error(err))
		}
	case l.filter == nil || l.filter(f):
		if ce := l.logger.Check(l.level, "canbus receive"); ce != nil {
			ce.Write(frameFields(f)...)
		}
	}
	return f, err
}

// Close forwards to the inner Bus without logging.
func (l *loggedBus) Close() error {
	return l.inner.Close()
}

//go:build linux

package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollSlice bounds a single poll(2) wait when the context has no deadline,
// so cancellation and Close are noticed promptly.
const pollSlice = 50 * time.Millisecond

// socketCAN implements Bus over a Linux SocketCAN raw socket.
type socketCAN struct {
	fd        int
	iface     string
	closeOnce sync.Once
	closed    chan struct{}
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name (e.g., "can0").
func DialSocketCAN(iface string) (Bus, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("canbus: interface %q: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: bind %q: %w", iface, err)
	}
	return &socketCAN{fd: fd, iface: iface, closed: make(chan struct{})}, nil
}

func (s *socketCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = unix.Close(s.fd)
	})
	return err
}

func (s *socketCAN) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Send writes one frame using the Linux can_frame binary layout.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	var buf [frameSize]byte
	if err := frame.marshalTo(buf[:]); err != nil {
		return err
	}
	for {
		if s.isClosed() {
			return ErrClosed
		}
		n, err := unix.Write(s.fd, buf[:])
		switch {
		case err == nil:
			if n != frameSize {
				return errors.New("canbus: short write")
			}
			return nil
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS):
			// ENOBUFS: the tx queue is full; wait for it to drain.
			if err := s.wait(ctx, unix.POLLOUT); err != nil {
				return err
			}
		case errors.Is(err, unix.EINTR):
		default:
			if s.isClosed() {
				return ErrClosed
			}
			return fmt.Errorf("canbus: write %s: %w", s.iface, err)
		}
	}
}

// Receive reads one frame (blocking, respecting context).
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	var buf [frameSize]byte
	for {
		if s.isClosed() {
			return Frame{}, ErrClosed
		}
		n, err := unix.Read(s.fd, buf[:])
		switch {
		case err == nil:
			if n != frameSize {
				return Frame{}, errors.New("canbus: short read")
			}
			var f Frame
			if err := f.UnmarshalBinary(buf[:]); err != nil {
				return Frame{}, err
			}
			return f, nil
		case errors.Is(err, unix.EAGAIN):
			if err := s.wait(ctx, unix.POLLIN); err != nil {
				return Frame{}, err
			}
		case errors.Is(err, unix.EINTR):
		default:
			if s.isClosed() {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("canbus: read %s: %w", s.iface, err)
		}
	}
}

// wait blocks until the socket is ready for events, the context ends or the
// socket is closed.
func (s *socketCAN) wait(ctx context.Context, events int16) error {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.isClosed() {
			return ErrClosed
		}
		slice := pollSlice
		if deadline, ok := ctx.Deadline(); ok {
			if d := time.Until(deadline); d < slice {
				slice = d
			}
		}
		ms := int(slice / time.Millisecond)
		if ms < 1 {
			ms = 1
		}
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("canbus: poll %s: %w", s.iface, err)
		}
		if n > 0 {
			return nil
		}
	}
}

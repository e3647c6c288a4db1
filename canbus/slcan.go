package canbus

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.bug.st/serial"
)

// SLCAN (Lawicel) is the ASCII protocol spoken by most USB-serial CAN
// adapters (CANable, CANUSB, ...). Each record ends with '\r'; the adapter
// answers commands with '\r' (ok) or '\a' (error).

// slcanBitrates maps bus bitrates to the adapter's Sn setup code.
var slcanBitrates = map[uint32]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// ErrSLCANRecord is returned for malformed SLCAN records.
var ErrSLCANRecord = errors.New("canbus: malformed slcan record")

// SLCANOptions configures an SLCAN adapter.
type SLCANOptions struct {
	// Baud is the serial line rate. Most CDC-ACM adapters ignore it.
	Baud int
	// Bitrate is the CAN bus bitrate; it must be one of the standard SLCAN rates.
	Bitrate uint32
}

// DialSLCAN opens a serial port and starts the SLCAN protocol on it.
func DialSLCAN(portName string, opts SLCANOptions) (Bus, error) {
	if opts.Baud == 0 {
		opts.Baud = 115200
	}
	if _, ok := slcanBitrates[opts.Bitrate]; !ok {
		return nil, fmt.Errorf("canbus: unsupported slcan bitrate %d", opts.Bitrate)
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("canbus: open serial port %s: %w", portName, err)
	}
	bus, err := NewSLCAN(port, opts.Bitrate)
	if err != nil {
		port.Close()
		return nil, err
	}
	return bus, nil
}

// NewSLCAN runs the SLCAN protocol over an already open byte stream. The
// stream is owned by the returned Bus and closed with it.
func NewSLCAN(rw io.ReadWriteCloser, bitrate uint32) (Bus, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("canbus: unsupported slcan bitrate %d", bitrate)
	}
	s := &slcan{
		rw:     rw,
		frames: make(chan Frame, loopbackBuffer),
		closed: make(chan struct{}),
		dead:   make(chan struct{}),
	}
	// Close first in case the adapter was left open by a previous run.
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(rw, cmd); err != nil {
			return nil, fmt.Errorf("canbus: slcan setup %q: %w", cmd[:len(cmd)-1], err)
		}
	}
	go s.readLoop()
	return s, nil
}

type slcan struct {
	rw io.ReadWriteCloser

	wmu       sync.Mutex
	frames    chan Frame
	closeOnce sync.Once
	closed    chan struct{}

	dead    chan struct{}
	readErr error
}

func (s *slcan) Send(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := EncodeSLCAN(frame)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return ErrClosed
	case <-s.dead:
		return s.readErr
	default:
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := io.WriteString(s.rw, rec); err != nil {
		return fmt.Errorf("canbus: slcan write: %w", err)
	}
	return nil
}

func (s *slcan) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return Frame{}, ErrClosed
	case <-s.dead:
		return Frame{}, s.readErr
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *slcan) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wmu.Lock()
		_, _ = io.WriteString(s.rw, "C\r")
		s.wmu.Unlock()
		err = s.rw.Close()
	})
	return err
}

func (s *slcan) readLoop() {
	r := bufio.NewReader(s.rw)
	var line []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			select {
			case <-s.closed:
				s.readErr = ErrClosed
			default:
				s.readErr = fmt.Errorf("canbus: slcan read: %w", err)
			}
			close(s.dead)
			return
		}
		switch c {
		case '\r', '\a':
			// Bare acks, bells and transmit acks (z/Z) carry no frame.
			if f, err := ParseSLCAN(line); err == nil {
				select {
				case s.frames <- f:
				default:
					// Drop when nobody is draining; the adapter cannot be paused.
				}
			}
			line = line[:0]
		default:
			line = append(line, c)
		}
	}
}

// EncodeSLCAN renders a frame as an SLCAN transmit record, including the
// trailing carriage return.
func EncodeSLCAN(f Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var kind byte
	var id string
	switch {
	case f.Extended && f.RTR:
		kind, id = 'R', fmt.Sprintf("%08X", f.ID)
	case f.Extended:
		kind, id = 'T', fmt.Sprintf("%08X", f.ID)
	case f.RTR:
		kind, id = 'r', fmt.Sprintf("%03X", f.ID)
	default:
		kind, id = 't', fmt.Sprintf("%03X", f.ID)
	}
	rec := string(kind) + id + strconv.Itoa(int(f.Len))
	if !f.RTR {
		rec += fmt.Sprintf("%X", f.Payload())
	}
	return rec + "\r", nil
}

// ParseSLCAN decodes one received SLCAN record without its terminator.
func ParseSLCAN(rec []byte) (Frame, error) {
	if len(rec) == 0 {
		return Frame{}, ErrSLCANRecord
	}
	var f Frame
	idLen := 3
	switch rec[0] {
	case 't':
	case 'r':
		f.RTR = true
	case 'T':
		f.Extended, idLen = true, 8
	case 'R':
		f.Extended, f.RTR, idLen = true, true, 8
	default:
		return Frame{}, ErrSLCANRecord
	}
	if len(rec) < 1+idLen+1 {
		return Frame{}, ErrSLCANRecord
	}
	id, err := strconv.ParseUint(string(rec[1:1+idLen]), 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: id: %v", ErrSLCANRecord, err)
	}
	f.ID = uint32(id)
	dlc := rec[1+idLen]
	if dlc < '0' || dlc > '8' {
		return Frame{}, fmt.Errorf("%w: dlc %q", ErrSLCANRecord, dlc)
	}
	f.Len = dlc - '0'
	data := rec[2+idLen:]
	if f.RTR {
		return f, f.Validate()
	}
	// Some adapters append a 4-digit timestamp after the data.
	if len(data) != int(f.Len)*2 && len(data) != int(f.Len)*2+4 {
		return Frame{}, fmt.Errorf("%w: %d data digits for dlc %d", ErrSLCANRecord, len(data), f.Len)
	}
	if _, err := hex.Decode(f.Data[:f.Len], data[:f.Len*2]); err != nil {
		return Frame{}, fmt.Errorf("%w: data: %v", ErrSLCANRecord, err)
	}
	return f, f.Validate()
}

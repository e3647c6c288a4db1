package canopen

import (
	"encoding/binary"
	"fmt"

	"github.com/iqr/casterbase/canbus"
)

// headerLen is the object index (2 bytes) plus sub-index (1 byte).
const headerLen = 3

// maxDataLen is the widest register value a frame carries.
const maxDataLen = 4

// Message is a decoded request or reply.
type Message struct {
	Function FunctionCode
	Node     NodeID
	Object   Object
	SubIndex uint8
	// Value is the unsigned little-endian value of the trailing bytes.
	Value uint32
	// Len is the number of trailing data bytes (0..4).
	Len uint8
}

// Int32 sign-extends Value from Len bytes.
func (m Message) Int32() int32 { return signExtend(m.Value, m.Len) }

// CommandType reports the request type of a command or query message.
func (m Message) CommandType() (CommandType, bool) {
	switch m.Function {
	case FCCommand:
		return Command, true
	case FCQuery:
		return Query, true
	default:
		return 0, false
	}
}

// IsReply reports whether the message came from the controller.
func (m Message) IsReply() bool { return m.Function == FCReply }

func (m Message) String() string {
	return fmt.Sprintf("%s node=%d %s[%d] value=%d len=%d", m.Function, m.Node, m.Object, m.SubIndex, m.Value, m.Len)
}

// MarshalCANFrame encodes the message back to its frame.
func (m Message) MarshalCANFrame() (canbus.Frame, error) {
	if m.Len > maxDataLen {
		return canbus.Frame{}, ErrDataLength
	}
	return build(m.Function, m.Node, m.Object, m.SubIndex, m.Value, m.Len)
}

// UnmarshalCANFrame decodes the message from a frame.
func (m *Message) UnmarshalCANFrame(f canbus.Frame) error {
	msg, err := Decode(f)
	if err != nil {
		return err
	}
	*m = msg
	return nil
}

// Encode builds a host to controller request frame. The payload is the
// little-endian object index, the sub-index and data truncated to length
// bytes. A query carries length zero bytes as placeholder data.
func Encode(node NodeID, t CommandType, obj Object, sub uint8, data uint32, length uint8) (canbus.Frame, error) {
	if !validLength(length) {
		return canbus.Frame{}, ErrDataLength
	}
	if t != Command && t != Query {
		return canbus.Frame{}, fmt.Errorf("canopen: unknown command type 0x%02X", uint8(t))
	}
	return build(t.FunctionCode(), node, obj, sub, data, length)
}

// EncodeReply builds the controller to host reply frame for a query.
func EncodeReply(node NodeID, obj Object, sub uint8, data uint32, length uint8) (canbus.Frame, error) {
	if !validLength(length) {
		return canbus.Frame{}, ErrDataLength
	}
	return build(FCReply, node, obj, sub, data, length)
}

func validLength(n uint8) bool { return n == 1 || n == 2 || n == 4 }

func build(fc FunctionCode, node NodeID, obj Object, sub uint8, data uint32, length uint8) (canbus.Frame, error) {
	if err := node.Validate(); err != nil {
		return canbus.Frame{}, err
	}
	var f canbus.Frame
	f.ID = COBID(fc, node)
	f.Len = headerLen + length
	binary.LittleEndian.PutUint16(f.Data[0:2], uint16(obj))
	f.Data[2] = sub
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], data)
	copy(f.Data[headerLen:], raw[:length])
	return f, nil
}

// Decode parses a protocol frame. It fails with ErrDecode for extended or
// remote frames, identifiers outside the protocol ranges, heartbeats, and
// payloads shorter than three or longer than seven bytes.
func Decode(f canbus.Frame) (Message, error) {
	if f.Extended || f.RTR {
		return Message{}, fmt.Errorf("%w: not a base data frame", ErrDecode)
	}
	fc, node, err := ParseCOBID(f.ID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if fc == FCHeartbeat {
		return Message{}, fmt.Errorf("%w: heartbeat frame", ErrDecode)
	}
	if f.Len < headerLen {
		return Message{}, fmt.Errorf("%w: payload %d bytes, need %d", ErrDecode, f.Len, headerLen)
	}
	n := f.Len - headerLen
	if n > maxDataLen {
		return Message{}, fmt.Errorf("%w: %d data bytes", ErrDecode, n)
	}
	var raw [4]byte
	copy(raw[:], f.Data[headerLen:headerLen+n])
	return Message{
		Function: fc,
		Node:     node,
		Object:   Object(binary.LittleEndian.Uint16(f.Data[0:2])),
		SubIndex: f.Data[2],
		Value:    binary.LittleEndian.Uint32(raw[:]),
		Len:      n,
	}, nil
}

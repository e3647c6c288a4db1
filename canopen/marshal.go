package canopen

import "github.com/iqr/casterbase/canbus"

// FrameMarshaler encodes a typed protocol entity into a CAN frame.
type FrameMarshaler interface {
	MarshalCANFrame() (canbus.Frame, error)
}

// FrameUnmarshaler decodes a typed protocol entity from a CAN frame.
type FrameUnmarshaler interface {
	UnmarshalCANFrame(canbus.Frame) error
}

var (
	_ FrameMarshaler   = Message{}
	_ FrameUnmarshaler = (*Message)(nil)
	_ FrameMarshaler   = Heartbeat{}
	_ FrameUnmarshaler = (*Heartbeat)(nil)
)

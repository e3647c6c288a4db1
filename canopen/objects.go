package canopen

import (
	"fmt"
	"sort"
	"strings"
)

// CommandType selects between a fire-and-forget write and a read that the
// controller answers.
type CommandType uint8

const (
	Command CommandType = 0x02
	Query   CommandType = 0x04
)

// FunctionCode returns the identifier range used for requests of this type.
func (t CommandType) FunctionCode() FunctionCode {
	return FunctionCode(uint16(t) << 7)
}

func (t CommandType) String() string {
	switch t {
	case Command:
		return "command"
	case Query:
		return "query"
	default:
		return fmt.Sprintf("CommandType(0x%02X)", uint8(t))
	}
}

// Object is a controller register index.
type Object uint16

const (
	// runtime commands
	SetVelocity  Object = 0x2002
	SetBLCounter Object = 0x2004

	// runtime queries
	ReadAbsBLCounter     Object = 0x2105
	ReadBLMotorRPM       Object = 0x210A
	ReadStatusFlags      Object = 0x2111
	ReadFaultFlags       Object = 0x2112
	ReadMotorStatusFlags Object = 0x2122
)

// Access tells whether an object is written with commands or read with queries.
type Access uint8

const (
	AccessWrite Access = iota + 1
	AccessRead
)

func (a Access) String() string {
	switch a {
	case AccessWrite:
		return "write"
	case AccessRead:
		return "read"
	default:
		return "unknown"
	}
}

// ObjectInfo describes one entry of the object table.
type ObjectInfo struct {
	Name   string
	Access Access
	// Width is the data length in bytes: 1, 2 or 4.
	Width  uint8
	Signed bool
	// PerChannel is set when the sub-index selects a motor channel.
	PerChannel bool
}

var objectTable = map[Object]ObjectInfo{
	SetVelocity:          {Name: "set_velocity", Access: AccessWrite, Width: 4, Signed: true, PerChannel: true},
	SetBLCounter:         {Name: "set_bl_counter", Access: AccessWrite, Width: 4, Signed: true, PerChannel: true},
	ReadAbsBLCounter:     {Name: "abs_bl_counter", Access: AccessRead, Width: 4, Signed: true, PerChannel: true},
	ReadBLMotorRPM:       {Name: "bl_motor_rpm", Access: AccessRead, Width: 2, Signed: true, PerChannel: true},
	ReadStatusFlags:      {Name: "status_flags", Access: AccessRead, Width: 1},
	ReadFaultFlags:       {Name: "fault_flags", Access: AccessRead, Width: 1},
	ReadMotorStatusFlags: {Name: "motor_status_flags", Access: AccessRead, Width: 1, PerChannel: true},
}

// Info returns the table entry for the object.
func (o Object) Info() (ObjectInfo, bool) {
	info, ok := objectTable[o]
	return info, ok
}

func (o Object) String() string {
	if info, ok := objectTable[o]; ok {
		return info.Name
	}
	return fmt.Sprintf("Object(0x%04X)", uint16(o))
}

// Objects lists the known objects in index order.
func Objects() []Object {
	out := make([]Object, 0, len(objectTable))
	for o := range objectTable {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseObject resolves an object by table name (e.g. "bl_motor_rpm").
func ParseObject(name string) (Object, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for o, info := range objectTable {
		if info.Name == name {
			return o, nil
		}
	}
	return 0, fmt.Errorf("canopen: unknown object %q", name)
}

// SignExtend interprets the low width bytes of raw as a two's complement
// value when the object is signed.
func (o Object) SignExtend(raw uint32, width uint8) int32 {
	info, ok := objectTable[o]
	if !ok || !info.Signed {
		return int32(raw)
	}
	return signExtend(raw, width)
}

func signExtend(raw uint32, width uint8) int32 {
	switch width {
	case 1:
		return int32(int8(raw))
	case 2:
		return int32(int16(raw))
	case 3:
		return int32(raw<<8) >> 8
	default:
		return int32(raw)
	}
}

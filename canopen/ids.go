package canopen

import "fmt"

// NodeID represents a CANopen node identifier (1..127).
type NodeID uint8

// Validate checks that the node identifier is in the range 1..127.
func (n NodeID) Validate() error {
	if n < 1 || n > 127 {
		return fmt.Errorf("canopen: invalid node id %d (valid 1..127)", n)
	}
	return nil
}

// FunctionCode is the base of a 128-identifier range; the node id fills the
// low seven bits.
type FunctionCode uint16

const (
	// FCCommand carries host to controller writes (CommandType 0x02 << 7).
	FCCommand FunctionCode = 0x100
	// FCQuery carries host to controller reads (CommandType 0x04 << 7).
	FCQuery FunctionCode = 0x200
	// FCReply carries controller to host query answers.
	FCReply FunctionCode = 0x580
	// FCHeartbeat carries the controller's NMT error control heartbeat.
	FCHeartbeat FunctionCode = 0x700
)

// functionMask selects the function code bits of a base identifier.
const functionMask = 0x780

func (fc FunctionCode) String() string {
	switch fc {
	case FCCommand:
		return "command"
	case FCQuery:
		return "query"
	case FCReply:
		return "reply"
	case FCHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("FunctionCode(0x%03X)", uint16(fc))
	}
}

// COBID composes the 11-bit CAN identifier for a function code and node id.
func COBID(fc FunctionCode, node NodeID) uint32 {
	return uint32(fc) | uint32(node&0x7F)
}

// ParseCOBID infers the function code and node id from an 11-bit id. Only
// the ranges this protocol uses are recognised.
func ParseCOBID(id uint32) (FunctionCode, NodeID, error) {
	if id > 0x7FF {
		return 0, 0, fmt.Errorf("canopen: invalid 11-bit id 0x%X", id)
	}
	fc := FunctionCode(id & functionMask)
	switch fc {
	case FCCommand, FCQuery, FCHeartbeat:
	case FCReply & functionMask:
		// 0x580 shares its function bits with 0x500; only the upper half is replies.
		if id < uint32(FCReply) {
			return 0, 0, fmt.Errorf("canopen: id 0x%03X not in protocol ranges", id)
		}
		fc = FCReply
	default:
		return 0, 0, fmt.Errorf("canopen: id 0x%03X not in protocol ranges", id)
	}
	node := NodeID(id - uint32(fc))
	if node == 0 {
		return 0, 0, fmt.Errorf("canopen: id 0x%03X has no node id", id)
	}
	return fc, node, nil
}

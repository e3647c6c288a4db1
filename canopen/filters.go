package canopen

import "github.com/iqr/casterbase/canbus"

// Typed filters for the protocol's identifier ranges.

// ReplyFilter matches query replies from a specific node.
func ReplyFilter(node NodeID) canbus.FrameFilter {
	return canbus.And(canbus.StandardOnly(), canbus.DataOnly(), canbus.ByID(COBID(FCReply, node)))
}

// AnyReplyFilter matches query replies from every node (0x581-0x5FF).
func AnyReplyFilter() canbus.FrameFilter {
	return canbus.And(canbus.StandardOnly(), canbus.DataOnly(), canbus.ByRange(uint32(FCReply)+1, uint32(FCReply)|0x7F))
}

// RequestFilter matches command and query frames addressed to a node.
func RequestFilter(node NodeID) canbus.FrameFilter {
	return canbus.And(canbus.StandardOnly(), canbus.DataOnly(),
		canbus.ByIDs(COBID(FCCommand, node), COBID(FCQuery, node)))
}

// HeartbeatFilter matches heartbeats from a specific node.
func HeartbeatFilter(node NodeID) canbus.FrameFilter {
	return canbus.And(canbus.StandardOnly(), canbus.LenAtLeast(1), canbus.ByID(COBID(FCHeartbeat, node)))
}

// AnyHeartbeatFilter matches all heartbeat frames (0x700-0x77F).
func AnyHeartbeatFilter() canbus.FrameFilter {
	return canbus.And(canbus.StandardOnly(), canbus.LenAtLeast(1), canbus.ByMask(uint32(FCHeartbeat), functionMask))
}

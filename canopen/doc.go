// Package canopen implements the command/query protocol spoken by
// Roboteq-style dual-channel motor controllers on top of canbus.
//
// The protocol borrows CANopen's COB-ID layout (function code in the upper
// four bits, node id in the lower seven) but replaces SDO with a simpler
// scheme: a request carries a 16-bit object index, a sub-index and up to four
// data bytes, and the controller answers a query with the same triple and the
// register value. The package covers:
//   - COB-ID helpers for the command, query, reply and heartbeat ranges
//   - the closed controller object table and flag registers
//   - Encode/Decode for request and reply frames
//   - Client, which sends commands and runs blocking queries with a single
//     pending slot, timeouts and stale-reply rejection
//   - heartbeat decoding and a liveness monitor
package canopen

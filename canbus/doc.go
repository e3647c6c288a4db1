// Package canbus provides the CAN transport layer used by the motor
// controller driver.
//
// It includes:
//   - A core Frame type with validation and binary marshaling helpers
//   - A context-aware Bus interface and an in-memory loopback bus
//   - A receive multiplexer with composable frame filters
//   - A Linux SocketCAN transport and netlink based link control
//   - An SLCAN transport for USB-serial CAN adapters
package canbus

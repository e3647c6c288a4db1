package canbus

import "fmt"

// ifNameSize is IFNAMSIZ including the terminating NUL.
const ifNameSize = 16

// LinkInfo describes a network link carrying CAN traffic.
type LinkInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // "can", "vcan", ...
	Up         bool   `json:"up"`
	OperState  string `json:"oper_state"`
	TxQueueLen int    `json:"tx_queue_len"`
	Index      int    `json:"index"`
}

// LinkOptions controls common CAN link parameters. Nil fields are left unchanged.
type LinkOptions struct {
	// Bitrate sets the arbitration bit-rate in bits per second (e.g., 125000, 500000, 1000000).
	Bitrate *uint32

	// RestartMs sets automatic bus-off recovery delay in milliseconds. 0 disables auto-restart.
	RestartMs *uint32

	// TxQueueLen sets the transmit queue length (number of frames).
	TxQueueLen *int
}

func validateLinkName(name string) error {
	if len(name) == 0 || len(name) >= ifNameSize {
		return fmt.Errorf("canbus: invalid interface name %q", name)
	}
	return nil
}

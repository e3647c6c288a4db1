package canopen

import (
	"errors"
	"fmt"
)

var (
	// ErrTransmit wraps a transport send failure. Sends are never retried.
	ErrTransmit = errors.New("canopen: transmit failed")
	// ErrQueryTimeout means no matching reply arrived within the query timeout.
	ErrQueryTimeout = errors.New("canopen: query timeout")
	// ErrDecode marks an inbound frame that is not a valid protocol message.
	ErrDecode = errors.New("canopen: decode failed")
	// ErrDataLength is returned for data lengths other than 1, 2 or 4.
	ErrDataLength = errors.New("canopen: data length must be 1, 2 or 4")
)

// QueryError reports which register a failed query was reading.
type QueryError struct {
	Node     NodeID
	Object   Object
	SubIndex uint8
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("canopen: query node %d %s[%d]: %v", e.Node, e.Object, e.SubIndex, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

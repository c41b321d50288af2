// Package canbus implements the two CAN transports the gateway can
// drive — SocketCAN and the serial "Byte Command Protocol" gateway —
// behind one interface, plus the bus-load estimator (spec §4.5).
package canbus

import (
	"errors"
	"time"
)

// ErrClosed is returned by Recv/Send after Shutdown.
var ErrClosed = errors.New("canbus: backend closed")

// Msg is a single CAN frame, normalized to the pure 29-bit ID space
// (spec §3) regardless of transport.
type Msg struct {
	ID        uint32
	Extended  bool
	Remote    bool
	Data      []byte
}

// Filter is a kernel-level acceptance filter pushed down to the
// backend, mirroring Linux SocketCAN's can_filter (spec §4.6).
type Filter struct {
	ID   uint32
	Mask uint32
}

// Backend is the common interface both CAN transports implement
// (spec §4.5).
type Backend interface {
	Send(msg Msg) error
	// Recv blocks for up to timeout waiting for a frame. It returns
	// (Msg{}, false, nil) on a plain timeout with no error.
	Recv(timeout time.Duration) (Msg, bool, error)
	SetFilters(filters []Filter) error
	Shutdown() error
}

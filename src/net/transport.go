package net

import (
	"errors"
	"time"
)

// ErrTransportShutdown is returned when operations on a transport are
// invoked after it's been terminated.
var ErrTransportShutdown = errors.New("transport shutdown")

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {

	// Listen runs the accept loop. It returns when the transport is closed.
	Listen()

	// Consumer returns the channel on which accepted connections are
	// delivered, already framed.
	Consumer() <-chan *Conn

	// Dial opens a framed connection to the target address. A zero timeout
	// falls back to the transport's default.
	Dial(target string, timeout time.Duration) (*Conn, error)

	// LocalAddr is used to return our local address.
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other
	// peers can reach us.
	AdvertiseAddr() string

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}

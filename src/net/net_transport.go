package net

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NetworkTransport provides a network based transport that can be used to
// talk to natter nodes on remote machines. It requires an underlying stream
// layer to provide a stream abstraction, which can be simple TCP or QUIC.
//
// Unlike an RPC transport, connections are symmetric and long-lived: the
// transport only accepts and dials; the hello exchange and the replication
// session on top belong to the node.
type NetworkTransport struct {
	logger *logrus.Entry

	consumeCh chan *Conn

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout time.Duration
}

// NewNetworkTransport creates a network transport on top of a stream layer.
// The timeout bounds dial attempts with no explicit timeout.
func NewNetworkTransport(
	stream StreamLayer,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &NetworkTransport{
		consumeCh:  make(chan *Conn),
		logger:     logger,
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
	}
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()

		n.shutdown = true
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan *Conn {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Dial implements the Transport interface.
func (n *NetworkTransport) Dial(target string, timeout time.Duration) (*Conn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	if timeout <= 0 {
		timeout = n.timeout
	}

	conn, err := n.stream.Dial(target, timeout)
	if err != nil {
		return nil, err
	}

	return NewConn(conn), nil
}

// Listen accepts incoming connections and delivers them to the consumer
// channel until the transport is closed.
func (n *NetworkTransport) Listen() {
	for {
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}

		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("Accepted connection")

		select {
		case n.consumeCh <- NewConn(conn):
		case <-n.shutdownCh:
			conn.Close()
			return
		}
	}
}

package net

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory addr with a randomly generated UUID
// as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport implements the Transport interface, to allow natter to be
// tested in-memory without going over a network. Dialing a connected peer
// creates a synchronous pipe; the remote end lands on the peer's consumer
// channel like an accepted connection.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan *Conn
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport is used to initialize a new transport and generates a
// random local address if none is specified.
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan *Conn, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    50 * time.Millisecond,
	}
	return addr, trans
}

// Listen implements the Transport interface. There is no accept loop to run:
// dials deliver straight to the consumer channel.
func (i *InmemTransport) Listen() {}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan *Conn {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Dial implements the Transport interface.
func (i *InmemTransport) Dial(target string, timeout time.Duration) (*Conn, error) {
	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	if timeout <= 0 {
		timeout = i.timeout
	}

	local, remote := net.Pipe()

	select {
	case peer.consumerCh <- NewConn(remote):
	case <-time.After(timeout):
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("dial to %v timed out", target)
	}

	return NewConn(local), nil
}

// Connect is used to connect this transport to another transport for a given
// peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport.
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}

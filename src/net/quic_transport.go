package net

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// alpnProtocol names the replication protocol during the QUIC handshake.
const alpnProtocol = "natter/1"

// QUICStreamLayer implements the StreamLayer interface over QUIC, with one
// bidirectional stream per connection. Certificates are self-signed and not
// verified: peer authenticity comes from head signatures and the hash chain,
// the TLS layer only provides transport encryption.
type QUICStreamLayer struct {
	advertise string
	listener  *quic.Listener
}

// newQUICTLSConfig builds the listener's throwaway self-signed certificate.
func newQUICTLSConfig() (*tls.Config, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: priv}},
		NextProtos:   []string{alpnProtocol},
	}, nil
}

// Dial implements the StreamLayer interface.
func (q *QUICStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
	}

	conn, err := quic.DialAddr(ctx, address, tlsConf, nil)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, err
	}

	return &quicConn{conn: conn, stream: stream}, nil
}

// Accept implements the net.Listener interface.
func (q *QUICStreamLayer) Accept() (net.Conn, error) {
	conn, err := q.listener.Accept(context.Background())
	if err != nil {
		return nil, err
	}

	stream, err := conn.AcceptStream(context.Background())
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, err
	}

	return &quicConn{conn: conn, stream: stream}, nil
}

// Close implements the net.Listener interface.
func (q *QUICStreamLayer) Close() error {
	return q.listener.Close()
}

// Addr implements the net.Listener interface.
func (q *QUICStreamLayer) Addr() net.Addr {
	return q.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface.
func (q *QUICStreamLayer) AdvertiseAddr() string {
	if q.advertise != "" {
		return q.advertise
	}
	return q.listener.Addr().String()
}

// quicConn adapts a QUIC connection and its replication stream to net.Conn.
type quicConn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c *quicConn) Read(b []byte) (int, error) {
	return c.stream.Read(b)
}

func (c *quicConn) Write(b []byte) (int, error) {
	return c.stream.Write(b)
}

func (c *quicConn) Close() error {
	c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}

func (c *quicConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}

func (c *quicConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *quicConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// NewQUICTransport returns a NetworkTransport built on top of a QUIC stream
// layer, with log output going to the supplied Logger.
func NewQUICTransport(
	bindAddr string,
	advertiseAddr string,
	timeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {

	tlsConf, err := newQUICTLSConfig()
	if err != nil {
		return nil, err
	}

	listener, err := quic.ListenAddr(bindAddr, tlsConf, nil)
	if err != nil {
		return nil, err
	}

	// Try to resolve the advertise address
	var resolvedAdvertise net.Addr
	if advertiseAddr != "" {
		resolvedAdvertise, err = net.ResolveUDPAddr("udp", advertiseAddr)
		if err != nil {
			listener.Close()
			return nil, err
		}
	}

	if resolvedAdvertise == nil {
		resolvedAdvertise = listener.Addr()
	}

	// Verify that we have a usable advertise address
	addr, ok := resolvedAdvertise.(*net.UDPAddr)
	if !ok {
		listener.Close()
		return nil, errNotUDP
	}
	if addr.IP.IsUnspecified() {
		listener.Close()
		return nil, errNotAdvertisable
	}

	stream := &QUICStreamLayer{
		advertise: advertiseAddr,
		listener:  listener,
	}

	return NewNetworkTransport(stream, timeout, logger), nil
}

package net

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/natternet/natter/src/replication"
)

const (
	// MaxFrameSize bounds one framed message. A Data message is already
	// capped by the sender's sync limit, so anything bigger than this is a
	// corrupt or hostile stream.
	MaxFrameSize = 4 * 1024 * 1024

	bufSize = math.MaxUint16
)

// Conn is a framed, duplex protocol connection. Each frame is a varint
// length, a type byte, and the message payload; the length covers the type
// byte. Reads are owned by a single loop per connection. Writes are
// serialized internally so that session replies and streamed pushes can
// interleave from different goroutines.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	wlock sync.Mutex
	w     *bufio.Writer
}

// NewConn frames an established stream.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, bufSize),
		w:    bufio.NewWriterSize(conn, bufSize),
	}
}

// ReadMessage blocks for the next frame and decodes it.
func (c *Conn) ReadMessage() (replication.Message, error) {
	size, err := binary.ReadUvarint(c.r)
	if err != nil {
		return nil, err
	}
	if size == 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d out of bounds", size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}

	return replication.DecodeMessage(replication.MsgType(buf[0]), buf[1:])
}

// WriteMessage frames, writes, and flushes one message.
func (c *Conn) WriteMessage(msg replication.Message) error {
	payload, err := replication.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if len(payload)+1 > MaxFrameSize {
		return fmt.Errorf("%s message of %d bytes exceeds frame limit", msg.Type(), len(payload))
	}

	var header [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(header[:], uint64(len(payload))+1)

	c.wlock.Lock()
	defer c.wlock.Unlock()

	if _, err := c.w.Write(header[:n]); err != nil {
		return err
	}
	if err := c.w.WriteByte(byte(msg.Type())); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	return c.w.Flush()
}

// SetReadDeadline bounds the next ReadMessage.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline bounds the next WriteMessage.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// LocalAddr returns the local address of the connection.
func (c *Conn) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying connection. A blocked ReadMessage returns with
// an error.
func (c *Conn) Close() error {
	return c.conn.Close()
}

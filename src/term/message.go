package term

import (
	"bytes"
	"time"

	"github.com/ugorji/go/codec"
)

// Message is the chat payload carried in log entries. The log layer treats
// payloads as opaque bytes; this is the shape the terminal reads and writes.
// From is the sender's moniker at send time. It travels in the payload
// because monikers are only exchanged with live peers, while entries outlive
// the sessions that carried them.
type Message struct {
	From   string
	Text   string
	SentAt int64
}

// NewMessage stamps a message with the current time.
func NewMessage(from, text string) Message {
	return Message{
		From:   from,
		Text:   text,
		SentAt: time.Now().Unix(),
	}
}

// Marshal returns the canonical encoding of the message.
func (m *Message) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses a message from data, as produced by Marshal.
func (m *Message) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(m)
}

package replication

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/natternet/natter/src/chainlog"
)

// MsgType is the wire tag that precedes every framed protocol message.
type MsgType uint8

const (
	// HelloMsg opens a connection. It is exchanged exactly once per side,
	// before any other message.
	HelloMsg MsgType = iota

	// AnnounceMsg advertises the state of one log.
	AnnounceMsg

	// WantMsg requests a range of entries from a log.
	WantMsg

	// DataMsg carries entries answering a Want.
	DataMsg

	// PushMsg forwards a single freshly appended entry.
	PushMsg

	// CloseMsg announces that the sender is tearing the session down.
	CloseMsg
)

// String returns the string representation of a MsgType.
func (t MsgType) String() string {
	switch t {
	case HelloMsg:
		return "Hello"
	case AnnounceMsg:
		return "Announce"
	case WantMsg:
		return "Want"
	case DataMsg:
		return "Data"
	case PushMsg:
		return "Push"
	case CloseMsg:
		return "Close"
	default:
		return "Unknown"
	}
}

// Message is implemented by all protocol messages.
type Message interface {
	Type() MsgType
}

// Hello identifies the dialer to the listener and vice versa. Channel is the
// hex form of the channel ID; connections for a different channel are
// rejected. From is the sender's identity key in hex, and Moniker its
// user-friendly name.
type Hello struct {
	Channel string
	From    string
	Moniker string
}

// Type implements the Message interface.
func (h *Hello) Type() MsgType { return HelloMsg }

// Announce advertises one log: its owner, committed length, and head hash.
// Sig, when present, is the owner's signature over the announced head; it is
// required the first time a receiver hears about a log, and carried
// opportunistically after that. A node that only replicates a log includes
// the owner's last signature as long as it still covers the current head.
type Announce struct {
	Owner  string
	Length uint64
	Head   []byte
	Sig    []byte
}

// Type implements the Message interface.
func (a *Announce) Type() MsgType { return AnnounceMsg }

// Want asks the peer for entries [Start,End) of a log. Start is always the
// requester's current length for that log.
type Want struct {
	Owner string
	Start uint64
	End   uint64
}

// Type implements the Message interface.
func (w *Want) Type() MsgType { return WantMsg }

// Data answers a Want with a contiguous run of entries. The run may be
// shorter than requested when the responder caps it at its sync limit; the
// requester reissues a Want from its new length until it catches up.
type Data struct {
	Owner   string
	Entries []*chainlog.Entry
}

// Type implements the Message interface.
func (d *Data) Type() MsgType { return DataMsg }

// Push forwards one newly appended entry to a peer whose copy of the log is
// already in the streaming phase.
type Push struct {
	Owner string
	Entry *chainlog.Entry
}

// Type implements the Message interface.
func (p *Push) Type() MsgType { return PushMsg }

// Close tells the peer the session is over. Reason is informational only.
type Close struct {
	Reason string
}

// Type implements the Message interface.
func (c *Close) Type() MsgType { return CloseMsg }

// EncodeMessage returns the canonical payload encoding of msg, without the
// frame header.
func EncodeMessage(msg Message) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(msg); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeMessage parses a payload of the given type, as produced by
// EncodeMessage.
func DecodeMessage(t MsgType, data []byte) (Message, error) {
	var msg Message

	switch t {
	case HelloMsg:
		msg = new(Hello)
	case AnnounceMsg:
		msg = new(Announce)
	case WantMsg:
		msg = new(Want)
	case DataMsg:
		msg = new(Data)
	case PushMsg:
		msg = new(Push)
	case CloseMsg:
		msg = new(Close)
	default:
		return nil, fmt.Errorf("unknown message type %d", t)
	}

	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(msg); err != nil {
		return nil, err
	}

	return msg, nil
}

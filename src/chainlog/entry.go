package chainlog

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// Entry is one record of a log. Entries are immutable once sealed: Hash
// covers Seq, Payload and PrevHash, so changing any of them, or reordering
// entries, breaks the chain.
type Entry struct {
	Seq      uint64
	Payload  []byte
	PrevHash []byte
	Hash     []byte
}

// NewEntry builds and seals the entry at seq, linking back to prev.
func NewEntry(seq uint64, payload []byte, prev []byte) *Entry {
	return &Entry{
		Seq:      seq,
		Payload:  payload,
		PrevHash: prev,
		Hash:     HashEntry(seq, payload, prev),
	}
}

// Marshal returns the canonical encoding of the entry, used both on the wire
// and in the store.
func (e *Entry) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses an entry from data, as produced by Marshal.
func (e *Entry) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(e)
}

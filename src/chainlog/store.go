package chainlog

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// Head is the persistent summary of one log: its length, the digest of its
// latest entry (or the genesis constant when empty), and the freshest owner
// signature seen for a digest of this chain. SignedHash may trail Hash on
// replicas that extended the log past the last signed announce they saw.
type Head struct {
	Length     uint64
	Hash       []byte
	SignedHash []byte
	Sig        []byte
}

// Marshal returns the canonical encoding of the head record.
func (h *Head) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(h); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses a head record from data, as produced by Marshal.
func (h *Head) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(h)
}

// Store persists entries and head records per owner identity. Implementations
// must be safe for concurrent use. Commit atomicity is the Log's concern: a
// Log never acknowledges a write before the store does, and SetEntries must
// land the batch and the head record together.
type Store interface {
	// Owners lists every identity with a head record, in no particular
	// order.
	Owners() []string

	// Entry returns the entry at seq in owner's log, or a KeyNotFound
	// store error.
	Entry(owner string, seq uint64) (*Entry, error)

	// EntryRange returns entries [start, end) of owner's log, in order.
	EntryRange(owner string, start, end uint64) ([]*Entry, error)

	// SetEntries persists a batch of consecutive entries together with the
	// new head record, atomically.
	SetEntries(owner string, entries []*Entry, head *Head) error

	// Head returns owner's head record, or a KeyNotFound store error.
	Head(owner string) (*Head, error)

	// SetHead persists owner's head record alone. Used to register a new
	// log and to refresh its signed head.
	SetHead(owner string, head *Head) error

	// Close releases the underlying resources.
	Close() error
}

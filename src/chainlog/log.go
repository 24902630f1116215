package chainlog

import (
	"bytes"
	"strconv"
	"sync"
	"sync/atomic"

	cm "github.com/natternet/natter/src/common"
	"github.com/natternet/natter/src/crypto/keys"
)

// commit is the atomically visible state of a log. Length and head move
// together; readers load the commit pointer and always see a matching pair.
type commit struct {
	length uint64
	head   []byte
}

// Log is a single-writer append-only log backed by a Store. The log owned by
// this node accepts Append; replicated logs grow only through ApplyVerified.
//
// All methods are safe for concurrent use. Reads are lock-free against the
// latest commit; writers serialize on a per-log mutex that is held for the
// store write and the commit swap, while range verification runs outside it.
type Log struct {
	owner string
	owned bool
	store Store

	commitLock sync.Mutex
	current    atomic.Pointer[commit]

	// latest owner signature gossiped for this chain, guarded by commitLock
	signedHash []byte
	signedSig  []byte
}

// NewLog opens owner's log on top of store, creating an empty head record if
// the store has none. owner is the canonical hex form of the identity key.
func NewLog(owner string, owned bool, store Store) (*Log, error) {
	l := &Log{
		owner: owner,
		owned: owned,
		store: store,
	}

	head, err := store.Head(owner)
	if err != nil {
		if !cm.IsStore(err, cm.KeyNotFound) {
			return nil, StorageError{Op: "head", Err: err}
		}

		head = &Head{Length: 0, Hash: GenesisPrev()}
		if err := store.SetHead(owner, head); err != nil {
			return nil, StorageError{Op: "set head", Err: err}
		}
	}

	l.current.Store(&commit{length: head.Length, head: head.Hash})
	l.signedHash = head.SignedHash
	l.signedSig = head.Sig

	return l, nil
}

// Owner returns the canonical hex form of the owner identity.
func (l *Log) Owner() string {
	return l.owner
}

// Owned reports whether this node holds the owner's private key, i.e.
// whether Append is allowed.
func (l *Log) Owned() bool {
	return l.owned
}

// Length returns the number of committed entries.
func (l *Log) Length() uint64 {
	return l.current.Load().length
}

// HeadHash returns the digest of the latest committed entry, or the genesis
// constant when the log is empty.
func (l *Log) HeadHash() []byte {
	return l.current.Load().head
}

// Snapshot returns the length and head hash as one consistent pair.
func (l *Log) Snapshot() (uint64, []byte) {
	c := l.current.Load()
	return c.length, c.head
}

// Get returns the committed entry at seq.
func (l *Log) Get(seq uint64) (*Entry, error) {
	if seq >= l.Length() {
		return nil, cm.NewStoreErr("log "+l.owner, cm.KeyNotFound, strconv.FormatUint(seq, 10))
	}
	return l.store.Entry(l.owner, seq)
}

// GetRange returns committed entries [start, end). Bounds that do not fit the
// log come back as a RangeError, never a panic.
func (l *Log) GetRange(start, end uint64) ([]*Entry, error) {
	length := l.Length()

	if start > end || end > length {
		return nil, RangeError{Owner: l.owner, Start: start, End: end, Length: length}
	}

	if start == end {
		return []*Entry{}, nil
	}

	return l.store.EntryRange(l.owner, start, end)
}

// Append seals payload into the next entry of an owned log and commits it.
func (l *Log) Append(payload []byte) (*Entry, error) {
	if !l.owned {
		return nil, ErrNotOwner
	}

	l.commitLock.Lock()
	defer l.commitLock.Unlock()

	cur := l.current.Load()

	entry := NewEntry(cur.length, payload, cur.head)

	head := &Head{
		Length:     cur.length + 1,
		Hash:       entry.Hash,
		SignedHash: l.signedHash,
		Sig:        l.signedSig,
	}

	if err := l.store.SetEntries(l.owner, []*Entry{entry}, head); err != nil {
		return nil, StorageError{Op: "append", Err: err}
	}

	l.current.Store(&commit{length: head.Length, head: head.Hash})

	return entry, nil
}

// ApplyVerified verifies entries against the chain rooted at startPrev and
// commits them if they extend the log exactly at its current length.
//
// Verification runs without the commit lock, against the caller's snapshot;
// the boundary is re-checked under the lock, so losing a race against another
// session applying the same range surfaces as ErrStale, not as corruption.
// Deliveries that start above the current length are RangeErrors; a valid
// chain that disagrees with the committed head at the same length is a fork
// and therefore an IntegrityError.
func (l *Log) ApplyVerified(entries []*Entry, startPrev []byte) error {
	if len(entries) == 0 {
		return nil
	}

	first, last := entries[0], entries[len(entries)-1]

	if err := l.checkBoundary(first); err != nil {
		return err
	}

	if !VerifyRange(entries, startPrev) {
		return NewIntegrityError(l.owner, first.Seq, "hash chain broken")
	}

	l.commitLock.Lock()
	defer l.commitLock.Unlock()

	if err := l.checkBoundary(first); err != nil {
		return err
	}

	if !bytes.Equal(first.PrevHash, l.current.Load().head) {
		return NewIntegrityError(l.owner, first.Seq, "prev hash does not match committed head")
	}

	head := &Head{
		Length:     last.Seq + 1,
		Hash:       last.Hash,
		SignedHash: l.signedHash,
		Sig:        l.signedSig,
	}

	if err := l.store.SetEntries(l.owner, entries, head); err != nil {
		return StorageError{Op: "apply", Err: err}
	}

	l.current.Store(&commit{length: head.Length, head: head.Hash})

	return nil
}

// checkBoundary rejects deliveries that do not start exactly at the current
// length: below is a duplicate, above is a gap.
func (l *Log) checkBoundary(first *Entry) error {
	length := l.current.Load().length

	if first.Seq < length {
		return ErrStale
	}

	if first.Seq > length {
		return RangeError{Owner: l.owner, Start: first.Seq, End: first.Seq + 1, Length: length}
	}

	return nil
}

// SignedHead returns the latest verified owner signature for this chain, as a
// (digest, signature) pair. Both are nil until one is seen; for owned logs
// the node signs fresh heads instead of consulting this.
func (l *Log) SignedHead() ([]byte, []byte) {
	l.commitLock.Lock()
	defer l.commitLock.Unlock()
	return l.signedHash, l.signedSig
}

// UpdateSignedHead verifies sig over (owner ‖ hash) and retains the pair for
// re-gossip. Invalid signatures are IntegrityErrors; valid ones overwrite the
// stored pair and are persisted with the head record.
func (l *Log) UpdateSignedHead(hash, sig []byte) error {
	pub, err := keys.ParsePublicKey(l.owner)
	if err != nil {
		return NewIntegrityError(l.owner, 0, "owner is not a valid public key")
	}

	if !keys.Verify(pub, HeadMessage(pub, hash), sig) {
		return NewIntegrityError(l.owner, 0, "head signature does not verify")
	}

	l.commitLock.Lock()
	defer l.commitLock.Unlock()

	if bytes.Equal(l.signedHash, hash) {
		return nil
	}

	l.signedHash = hash
	l.signedSig = sig

	cur := l.current.Load()
	head := &Head{
		Length:     cur.length,
		Hash:       cur.head,
		SignedHash: hash,
		Sig:        sig,
	}

	if err := l.store.SetHead(l.owner, head); err != nil {
		return StorageError{Op: "set head", Err: err}
	}

	return nil
}

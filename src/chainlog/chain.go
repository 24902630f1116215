package chainlog

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"

	"github.com/natternet/natter/src/crypto"
)

// HashSize is the size in bytes of entry digests.
const HashSize = crypto.DigestSize

// GenesisPrev returns the constant prev-hash that anchors every chain: a
// zero-filled digest. It is also the head hash of an empty log.
func GenesisPrev() []byte {
	return make([]byte, HashSize)
}

// HashEntry computes the digest sealing one entry:
//
//	blake2b256(be64(seq) ‖ payload ‖ prev)
func HashEntry(seq uint64, payload, prev []byte) []byte {
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return crypto.Hash(seqBytes[:], payload, prev)
}

// HeadMessage builds the byte string that owners sign to authenticate a log
// head: the raw public key followed by the head digest.
func HeadMessage(owner ed25519.PublicKey, head []byte) []byte {
	msg := make([]byte, 0, len(owner)+len(head))
	msg = append(msg, owner...)
	msg = append(msg, head...)
	return msg
}

// VerifyEntry checks that e links back to prev and that its hash seals its
// contents.
func VerifyEntry(e *Entry, prev []byte) bool {
	if e == nil || !bytes.Equal(e.PrevHash, prev) {
		return false
	}
	return bytes.Equal(e.Hash, HashEntry(e.Seq, e.Payload, e.PrevHash))
}

// VerifyRange checks a consecutive run of entries against the chain rooted at
// startPrev, failing fast on the first broken link. Sequence numbers must be
// consecutive; an empty range is vacuously valid.
func VerifyRange(entries []*Entry, startPrev []byte) bool {
	prev := startPrev
	for i, e := range entries {
		if e == nil {
			return false
		}
		if i > 0 && e.Seq != entries[i-1].Seq+1 {
			return false
		}
		if !VerifyEntry(e, prev) {
			return false
		}
		prev = e.Hash
	}
	return true
}

package chainlog

import (
	"bytes"
	"fmt"
	"testing"
)

func testChain(n int) []*Entry {
	entries := make([]*Entry, n)
	prev := GenesisPrev()
	for i := 0; i < n; i++ {
		e := NewEntry(uint64(i), []byte(fmt.Sprintf("payload %d", i)), prev)
		entries[i] = e
		prev = e.Hash
	}
	return entries
}

func TestHashEntryDeterminism(t *testing.T) {
	prev := GenesisPrev()

	h1 := HashEntry(0, []byte("hello"), prev)
	h2 := HashEntry(0, []byte("hello"), prev)

	if !bytes.Equal(h1, h2) {
		t.Fatalf("same inputs should hash identically")
	}

	if len(h1) != HashSize {
		t.Fatalf("digest should be %d bytes, not %d", HashSize, len(h1))
	}

	if bytes.Equal(h1, HashEntry(1, []byte("hello"), prev)) {
		t.Fatalf("seq should be part of the digest")
	}

	if bytes.Equal(h1, HashEntry(0, []byte("hellO"), prev)) {
		t.Fatalf("payload should be part of the digest")
	}

	otherPrev := make([]byte, HashSize)
	otherPrev[0] = 1
	if bytes.Equal(h1, HashEntry(0, []byte("hello"), otherPrev)) {
		t.Fatalf("prev hash should be part of the digest")
	}
}

func TestVerifyEntry(t *testing.T) {
	prev := GenesisPrev()
	e := NewEntry(0, []byte("hello"), prev)

	if !VerifyEntry(e, prev) {
		t.Fatalf("fresh entry should verify")
	}

	tampered := *e
	tampered.Payload = []byte("hacked")
	if VerifyEntry(&tampered, prev) {
		t.Fatalf("tampered payload should not verify")
	}

	relinked := *e
	relinked.PrevHash = HashEntry(9, []byte("x"), prev)
	if VerifyEntry(&relinked, relinked.PrevHash) {
		t.Fatalf("relinked entry should not verify, its hash covers the old prev")
	}

	if VerifyEntry(e, HashEntry(9, []byte("x"), prev)) {
		t.Fatalf("entry should only verify against its own prev")
	}

	if VerifyEntry(nil, prev) {
		t.Fatalf("nil entry should not verify")
	}
}

func TestVerifyRange(t *testing.T) {
	entries := testChain(5)

	if !VerifyRange(entries, GenesisPrev()) {
		t.Fatalf("full chain should verify")
	}

	if !VerifyRange([]*Entry{}, GenesisPrev()) {
		t.Fatalf("empty range should be vacuously valid")
	}

	if !VerifyRange(entries[2:], entries[1].Hash) {
		t.Fatalf("sub range should verify against its start prev")
	}

	if VerifyRange(entries[2:], entries[0].Hash) {
		t.Fatalf("sub range should not verify against the wrong start prev")
	}
}

func TestVerifyRangeTamper(t *testing.T) {
	entries := testChain(5)

	// tamper with a middle payload
	cp := make([]*Entry, len(entries))
	copy(cp, entries)
	bad := *entries[2]
	bad.Payload = []byte("hacked")
	cp[2] = &bad

	if VerifyRange(cp, GenesisPrev()) {
		t.Fatalf("tampered chain should not verify")
	}

	// skip a sequence number
	gap := []*Entry{entries[0], entries[2]}
	if VerifyRange(gap, GenesisPrev()) {
		t.Fatalf("chain with a sequence gap should not verify")
	}
}

func TestEntryMarshal(t *testing.T) {
	e := testChain(3)[2]

	raw, err := e.Marshal()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	decoded := new(Entry)
	if err := decoded.Unmarshal(raw); err != nil {
		t.Fatalf("err: %v", err)
	}

	if decoded.Seq != e.Seq ||
		!bytes.Equal(decoded.Payload, e.Payload) ||
		!bytes.Equal(decoded.PrevHash, e.PrevHash) ||
		!bytes.Equal(decoded.Hash, e.Hash) {
		t.Fatalf("decoded entry does not match original")
	}

	if !VerifyEntry(decoded, decoded.PrevHash) {
		t.Fatalf("decoded entry should still verify")
	}
}

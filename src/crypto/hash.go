package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// DigestSize is the size in bytes of every digest produced by this package.
const DigestSize = 32

// Hash returns the blake2b-256 digest of the concatenation of the given byte
// slices.
func Hash(data ...[]byte) []byte {
	hasher, _ := blake2b.New256(nil)
	for _, d := range data {
		hasher.Write(d)
	}
	return hasher.Sum(nil)
}

// KeyedHash returns the blake2b-256 digest of data, keyed with key. Discovery
// names are derived this way, so channels with different creator keys map to
// different mDNS service names. key must be at most 64 bytes.
func KeyedHash(key []byte, data []byte) []byte {
	hasher, err := blake2b.New256(key)
	if err != nil {
		panic(err)
	}
	hasher.Write(data)
	return hasher.Sum(nil)
}

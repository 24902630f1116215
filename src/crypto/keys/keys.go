package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/natternet/natter/src/common"
)

// PublicKeySize is the size in bytes of an identity public key.
const PublicKeySize = ed25519.PublicKeySize

// SeedSize is the size in bytes of the private key seed kept in keyfiles.
const SeedSize = ed25519.SeedSize

// SignatureSize is the size in bytes of a head signature.
const SignatureSize = ed25519.SignatureSize

// GenerateKey creates a new random identity key.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}

// PublicKey returns the public half of priv.
func PublicKey(priv ed25519.PrivateKey) ed25519.PublicKey {
	return priv.Public().(ed25519.PublicKey)
}

// PublicKeyHex returns the canonical string form of a public key: lowercase
// hex, no prefix. This is the form used in chat:// links, peer tables, and
// store keys.
func PublicKeyHex(pub ed25519.PublicKey) string {
	return common.EncodeToString(pub)
}

// ParsePublicKey decodes the canonical hex form of a public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := common.DecodeFromString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, not %d", PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// PublicKeyID gives a compact uint32 handle for a public key. It is used for
// peer IDs and display colors, not for anything security relevant.
func PublicKeyID(pub []byte) uint32 {
	return common.Hash32(pub)
}

// Sign signs data with priv.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid signature of data under pub. Keys and
// signatures come off the wire, so malformed lengths are treated as a failed
// verification rather than a panic.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

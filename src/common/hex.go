package common

import "encoding/hex"

// EncodeToString returns the lowercase hex representation of b, without any
// prefix. Identity keys take this form everywhere: chat:// links, wire
// messages, store keys, and log output.
func EncodeToString(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeFromString converts a hex string, as produced by EncodeToString, back
// to a byte slice.
func DecodeFromString(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

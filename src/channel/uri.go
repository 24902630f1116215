package channel

import (
	"crypto/ed25519"
	"fmt"
	"net/url"

	"github.com/natternet/natter/src/common"
	"github.com/natternet/natter/src/crypto/keys"
)

// Scheme is the URI scheme channels are shared under.
const Scheme = "chat"

// ID identifies a channel: it is the raw public key of the identity that
// created it. Whoever holds the chat:// link can join and replicate.
type ID []byte

// NewID builds a channel ID from the creator's public key.
func NewID(pub ed25519.PublicKey) ID {
	return ID(append([]byte{}, pub...))
}

// String returns the canonical hex form of the ID.
func (id ID) String() string {
	return common.EncodeToString(id)
}

// URI returns the shareable chat:// link.
func (id ID) URI() string {
	return fmt.Sprintf("%s://%s", Scheme, id.String())
}

// ParseURI parses a chat:// link. The host part must be the hex form of an
// ed25519 public key; anything else is a parse error, never a protocol
// error.
func ParseURI(raw string) (ID, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("channel URI: %v", err)
	}

	if u.Scheme != Scheme {
		return nil, fmt.Errorf("channel URI scheme must be %s://, not %q", Scheme, u.Scheme)
	}

	pub, err := keys.ParsePublicKey(u.Host)
	if err != nil {
		return nil, fmt.Errorf("channel URI host: %v", err)
	}

	return ID(pub), nil
}

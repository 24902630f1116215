package channel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/natternet/natter/src/crypto/keys"
)

func TestURIRoundTrip(t *testing.T) {
	priv, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	id := NewID(keys.PublicKey(priv))

	uri := id.URI()
	if !strings.HasPrefix(uri, "chat://") {
		t.Fatalf("URI should start with chat://, got %s", uri)
	}

	parsed, err := ParseURI(uri)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(parsed, id) {
		t.Fatalf("parsed ID does not match original")
	}
}

func TestParseURIRejects(t *testing.T) {
	priv, _ := keys.GenerateKey()
	hexKey := keys.PublicKeyHex(keys.PublicKey(priv))

	cases := []string{
		"http://" + hexKey,
		"chat://",
		"chat://zzzz",
		"chat://beef",
		hexKey,
	}

	for _, raw := range cases {
		if _, err := ParseURI(raw); err == nil {
			t.Fatalf("ParseURI(%q) should fail", raw)
		}
	}
}

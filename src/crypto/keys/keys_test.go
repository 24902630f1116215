package keys

import (
	"bytes"
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/natternet/natter/src/common"
)

func TestSignRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	pub := PublicKey(priv)

	msg := []byte("J'aime mieux forger mon ame que la meubler")

	sig := Sign(priv, msg)

	if !Verify(pub, msg, sig) {
		t.Fatalf("signature should verify")
	}

	msg[0] ^= 0x01
	if Verify(pub, msg, sig) {
		t.Fatalf("signature of tampered message should not verify")
	}

	if Verify(pub[:16], msg, sig) {
		t.Fatalf("truncated public key should not verify")
	}

	if Verify(pub, msg, sig[:10]) {
		t.Fatalf("truncated signature should not verify")
	}
}

func TestPublicKeyHex(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	pub := PublicKey(priv)
	hexKey := PublicKeyHex(pub)

	if len(hexKey) != 2*PublicKeySize {
		t.Fatalf("hex key should be %d chars, not %d", 2*PublicKeySize, len(hexKey))
	}

	parsed, err := ParsePublicKey(hexKey)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(parsed, pub) {
		t.Fatalf("parsed key does not match original")
	}

	if _, err := ParsePublicKey("zz"); err == nil {
		t.Fatalf("ParsePublicKey should reject non-hex input")
	}

	if _, err := ParsePublicKey("beef"); err == nil {
		t.Fatalf("ParsePublicKey should reject short input")
	}
}

func TestSimpleKeyfile(t *testing.T) {

	// Create a test dir
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "natter")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	// Initialize a key and try a write
	key, _ = GenerateKey()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get key
	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(nKey, key) {
		t.Fatalf("Keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {

	// Create a test dir
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "natter")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	// Initialize a key and try a write
	key, _ := GenerateKey()
	rawKey := common.EncodeToString(key.Seed())

	badKeyPath := path.Join(dir, "priv_key_bad")

	// random selection of permissions that should not be accepted. There might
	// be a more clever way to build this list.
	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		ioutil.WriteFile(badKeyPath, []byte(rawKey), fm)

		badKeyFile := NewSimpleKeyfile(badKeyPath)

		if _, err := badKeyFile.ReadKey(); err == nil {
			t.Fatalf("%o || badKeyFile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "priv_key_good")

	// random selection of permissions that should pass
	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		ioutil.WriteFile(goodKeyPath, []byte(rawKey), fm)

		goodKeyFile := NewSimpleKeyfile(goodKeyPath)

		if _, err := goodKeyFile.ReadKey(); err != nil {
			t.Fatalf("%o || goodKeyFile should not return error. Got %v", fm, err)
		}
	}
}

package keys

import (
	"crypto/ed25519"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/natternet/natter/src/common"
)

// SimpleKeyfile reads and writes identity keys from/to unencrypted and
// unformatted files holding the hex dump of the ed25519 seed.
type SimpleKeyfile struct {
	l       sync.Mutex
	keyfile string
}

// NewSimpleKeyfile instantiates a new SimpleKeyfile with an underlying file
func NewSimpleKeyfile(keyfile string) *SimpleKeyfile {
	simpleKeyfile := &SimpleKeyfile{
		keyfile: keyfile,
	}

	return simpleKeyfile
}

// CheckFileInfo verifies that the file exists and has user permissions only.
func (k *SimpleKeyfile) CheckFileInfo() error {
	info, err := os.Stat(k.keyfile)
	if err != nil {
		return err
	}

	// get file permissions
	perm := info.Mode().Perm()

	// build 000111111 mask
	var nonUserMask os.FileMode = (1 << 6) - 1

	// get permissions for 'groups' and 'others'
	nonUserPerm := perm & nonUserMask

	if nonUserPerm != 0 {
		return fmt.Errorf("priv_key file permissions should exclude 'groups' and 'others'. Got %o", perm)
	}

	return nil
}

// ReadKey reads from the underlying file, which is expected to contain a raw
// hex dump of the key's seed, as produced by WriteKey.
func (k *SimpleKeyfile) ReadKey() (ed25519.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	if err := k.CheckFileInfo(); err != nil {
		return nil, err
	}

	buf, err := ioutil.ReadFile(k.keyfile)
	if err != nil {
		return nil, err
	}

	seed, err := common.DecodeFromString(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, err
	}

	if len(seed) != SeedSize {
		return nil, fmt.Errorf("keyfile seed must be %d bytes, not %d", SeedSize, len(seed))
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

// WriteKey writes a raw hex dump of the key's seed to the underlying file.
func (k *SimpleKeyfile) WriteKey(key ed25519.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	rawKey := common.EncodeToString(key.Seed())

	if err := os.MkdirAll(path.Dir(k.keyfile), 0700); err != nil {
		return err
	}

	return ioutil.WriteFile(k.keyfile, []byte(rawKey), 0600)
}

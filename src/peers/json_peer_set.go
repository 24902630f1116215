package peers

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const jsonPeerSetPath = "peers.json"

// JSONPeerSet provides peer persistence on disk in the form of a JSON file.
// It seeds the dialer with bootstrap addresses and accumulates peers met
// through discovery, so a node can rejoin a channel without multicast.
type JSONPeerSet struct {
	l    sync.Mutex
	path string
}

// NewJSONPeerSet creates a new JSONPeerSet with reference to a base directory
// where the JSON file resides.
func NewJSONPeerSet(base string) *JSONPeerSet {
	return &JSONPeerSet{
		path: filepath.Join(base, jsonPeerSetPath),
	}
}

// PeerSet parses the underlying JSON file and returns the corresponding
// PeerSet. A missing file is an empty set, not an error.
func (j *JSONPeerSet) PeerSet() (*PeerSet, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPeerSet([]*Peer{}), nil
		}
		return nil, err
	}

	if len(buf) == 0 {
		return NewPeerSet([]*Peer{}), nil
	}

	var peers []*Peer
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}

	cleansePeerSet(peers)

	return NewPeerSet(peers), nil
}

// cleansePeerSet standardises public key strings to the canonical lowercase
// hex form derived from a private key.
func cleansePeerSet(peers []*Peer) {
	for _, peer := range peers {
		peer.PubKeyHex = strings.ToLower(strings.TrimPrefix(peer.PubKeyHex, "0x"))
		peer.computeID()
	}
}

// Write persists a peer list to the JSON file.
func (j *JSONPeerSet) Write(peers []*Peer) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peers); err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, buf.Bytes(), 0644)
}

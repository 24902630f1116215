package peers

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/natternet/natter/src/crypto/keys"
)

func TestJSONPeerSet(t *testing.T) {
	// Create a test dir
	dir, err := ioutil.TempDir("", "natter")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	// Create the store
	store := NewJSONPeerSet(dir)

	// Try a read with no file; bootstrap peers are optional, so this should
	// return an empty set rather than an error.
	peerSet, err := store.PeerSet()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if peerSet.Len() != 0 {
		t.Fatalf("peerSet should be empty, got %v", peerSet.Peers)
	}

	pubKeys := map[string][]byte{}
	peers := []*Peer{}
	for i := 0; i < 3; i++ {
		key, _ := keys.GenerateKey()
		pub := keys.PublicKey(key)
		peer := NewPeer(
			keys.PublicKeyHex(pub),
			fmt.Sprintf("addr%d", i),
			fmt.Sprintf("peer%d", i),
		)
		peers = append(peers, peer)
		pubKeys[peer.NetAddr] = pub
	}

	newPeerSet := NewPeerSet(peers)
	newPeerSlice := newPeerSet.Peers

	if err := store.Write(newPeerSlice); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should find 3 peers
	peerSet, err = store.PeerSet()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if peerSet.Len() != 3 {
		t.Fatalf("peers: %v", peers)
	}

	peerSlice := peerSet.Peers

	for i := 0; i < 3; i++ {
		if peerSlice[i].NetAddr != newPeerSlice[i].NetAddr {
			t.Fatalf("peers[%d] NetAddr should be %s, not %s", i,
				newPeerSlice[i].NetAddr, peerSlice[i].NetAddr)
		}
		if peerSlice[i].Moniker != newPeerSlice[i].Moniker {
			t.Fatalf("peers[%d] Moniker should be %s, not %s", i,
				newPeerSlice[i].Moniker, peerSlice[i].Moniker)
		}
		if peerSlice[i].PubKeyHex != newPeerSlice[i].PubKeyHex {
			t.Fatalf("peers[%d] PubKeyHex should be %s, not %s", i,
				newPeerSlice[i].PubKeyHex, peerSlice[i].PubKeyHex)
		}
		pubKeyBytes, err := peerSlice[i].PubKeyBytes()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(pubKeyBytes, pubKeys[peerSlice[i].NetAddr]) {
			t.Fatalf("peers[%d] PublicKey not parsed correctly", i)
		}
	}
}

func TestJSONPeerSetCleanse(t *testing.T) {
	dir, err := ioutil.TempDir("", "natter")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	store := NewJSONPeerSet(dir)

	key, _ := keys.GenerateKey()
	pub := keys.PublicKey(key)
	hex := keys.PublicKeyHex(pub)

	// Hand-edited peers files sometimes carry 0x-prefixed or uppercase keys.
	dirty := NewPeer("0X"+strings.ToUpper(hex), "addr0", "dirty")

	if err := store.Write([]*Peer{dirty}); err != nil {
		t.Fatalf("err: %v", err)
	}

	peerSet, err := store.PeerSet()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if peerSet.Len() != 1 {
		t.Fatalf("peerSet should contain 1 peer, got %d", peerSet.Len())
	}
	if got := peerSet.Peers[0].PubKeyHex; got != hex {
		t.Fatalf("PubKeyHex should be cleansed to %s, not %s", hex, got)
	}
	if peerSet.Peers[0].ID == 0 {
		t.Fatalf("cleansed peer should have a computed ID")
	}
}

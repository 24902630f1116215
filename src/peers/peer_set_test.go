package peers

import (
	"fmt"
	"testing"

	"github.com/natternet/natter/src/crypto/keys"
)

func testPeers(t *testing.T, n int) []*Peer {
	peers := []*Peer{}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateKey()
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		peers = append(peers, NewPeer(
			keys.PublicKeyHex(keys.PublicKey(key)),
			fmt.Sprintf("127.0.0.1:%d", 3000+i),
			fmt.Sprintf("peer%d", i),
		))
	}
	return peers
}

func TestNewPeerSet(t *testing.T) {
	peers := testPeers(t, 3)

	peerSet := NewPeerSet(peers)

	if peerSet.Len() != 3 {
		t.Fatalf("peerSet.Len() should be 3, not %d", peerSet.Len())
	}

	for _, p := range peers {
		if p.ID == 0 {
			t.Fatalf("peer %s should have a computed ID", p.Moniker)
		}
		if q, ok := peerSet.ByPubKey[p.PubKeyHex]; !ok || q != p {
			t.Fatalf("peer %s not indexed by public key", p.Moniker)
		}
		if q, ok := peerSet.ByID[p.ID]; !ok || q != p {
			t.Fatalf("peer %s not indexed by ID", p.Moniker)
		}
	}
}

func TestWithNewPeer(t *testing.T) {
	peers := testPeers(t, 3)

	peerSet := NewPeerSet(peers[:2])

	newPeerSet := peerSet.WithNewPeer(peers[2])
	if newPeerSet.Len() != 3 {
		t.Fatalf("newPeerSet.Len() should be 3, not %d", newPeerSet.Len())
	}

	// adding the same peer again should not create a duplicate
	samePeerSet := newPeerSet.WithNewPeer(peers[2])
	if samePeerSet.Len() != 3 {
		t.Fatalf("samePeerSet.Len() should be 3, not %d", samePeerSet.Len())
	}
}

func TestWithRemovedPeer(t *testing.T) {
	peers := testPeers(t, 3)

	peerSet := NewPeerSet(peers)

	newPeerSet := peerSet.WithRemovedPeer(peers[1])
	if newPeerSet.Len() != 2 {
		t.Fatalf("newPeerSet.Len() should be 2, not %d", newPeerSet.Len())
	}
	if _, ok := newPeerSet.ByPubKey[peers[1].PubKeyHex]; ok {
		t.Fatalf("peer %s should have been removed", peers[1].Moniker)
	}

	// removing an absent peer is a no-op
	sameSet := newPeerSet.WithRemovedPeer(peers[1])
	if sameSet.Len() != 2 {
		t.Fatalf("sameSet.Len() should be 2, not %d", sameSet.Len())
	}
}

package peers

import (
	"github.com/natternet/natter/src/common"
)

// Peer is another node of the same channel: its identity key, the address it
// can be dialed on, and the moniker it introduced itself with.
type Peer struct {
	ID        uint32 `json:"-"`
	NetAddr   string
	PubKeyHex string
	Moniker   string
}

// NewPeer ...
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	peer := &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}

	peer.computeID()

	return peer
}

// PubKeyBytes returns the raw identity key.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(p.PubKeyHex)
}

func (p *Peer) computeID() error {
	pubKey, err := p.PubKeyBytes()
	if err != nil {
		return err
	}

	p.ID = common.Hash32(pubKey)

	return nil
}

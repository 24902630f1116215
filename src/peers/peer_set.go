package peers

// PeerSet is a set of Peers, indexed by public key and by ID.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
	ByID     map[uint32]*Peer `json:"-"`
}

/* Constructors */

// NewPeerSet creates a new PeerSet from a list of Peers.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByPubKey: make(map[string]*Peer),
		ByID:     make(map[uint32]*Peer),
	}

	for _, peer := range peers {
		if peer.ID == 0 {
			peer.computeID()
		}
		peerSet.ByPubKey[peer.PubKeyHex] = peer
		peerSet.ByID[peer.ID] = peer
	}

	peerSet.Peers = peers

	return peerSet
}

// WithNewPeer returns a new PeerSet with a list of peers including the new
// one.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := peerSet.Peers

	//don't add it if it already exists
	if _, ok := peerSet.ByPubKey[peer.PubKeyHex]; !ok {
		peers = append(peers, peer)
	}

	return NewPeerSet(peers)
}

// WithRemovedPeer returns a new PeerSet with a list of peers excluding the
// provided one.
func (peerSet *PeerSet) WithRemovedPeer(peer *Peer) *PeerSet {
	peers := []*Peer{}
	for _, p := range peerSet.Peers {
		if p.PubKeyHex != peer.PubKeyHex {
			peers = append(peers, p)
		}
	}
	return NewPeerSet(peers)
}

/* ToSlice Methods */

// NetAddrs returns the PeerSet's slice of network addresses.
func (peerSet *PeerSet) NetAddrs() []string {
	res := []string{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.NetAddr)
	}

	return res
}

/* Utilities */

// Len returns the number of Peers in the PeerSet.
func (peerSet *PeerSet) Len() int {
	return len(peerSet.ByPubKey)
}

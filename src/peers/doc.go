// Package peers defines bootstrap peers and implements functions to load and
// store collections of them.
//
// A Peer is identified by an ed25519 public key, and optionally a moniker
// which is a non-unique user-friendly name. It also carries the network
// address where it can be reached by other nodes.
//
// Upon starting up, a node looks for a peers.json file in its data directory.
// The file represents a static list of peers that the node should attempt to
// connect to, in addition to whatever it finds through mDNS discovery.
// Discovered peers are dialed directly and never written back to the file;
// only the bootstrap set lives in peers.json. A missing file is not an error,
// it simply means the node relies entirely on discovery.
package peers

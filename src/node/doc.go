// Package node implements the reactive component of a natter node.
//
// This is the part that accepts and dials peer connections, and drives the
// replication sessions that keep every member's copy of the channel in sync.
// Node implements a small state machine, Running / Leaving / Shutdown, and
// bounds all the goroutines it launches through a shared waitgroup.
//
// Connections
//
// Members find each other through mDNS discovery, a bootstrap peers.json, or
// explicit join addresses; the node dials each candidate with per-address
// exponential backoff. Every connection, dialed or accepted, starts with a
// symmetric hello exchange carrying the channel ID, the sender's identity and
// its moniker. Hellos for the wrong channel, from ourselves (discovery echoes
// our own advertisement), or with a malformed identity end the connection on
// the spot. When both ends of a pair dial each other simultaneously, the
// connection dialed by the smaller identity survives; both ends compute the
// same answer, so exactly one session remains.
//
// Replication
//
// After the hello, each end announces every log it holds and the session
// protocol (package replication) takes over: behind logs are requested in
// ranges, served in batches, and finally streamed. The node's job is
// plumbing: it reads messages off the wire, hands them to the session,
// writes the replies back, and enforces a per-connection inbound rate limit.
// Entries committed locally, or received from one peer, are offered to every
// other streaming session, so new messages propagate through the mesh
// without waiting for the next announce round.
//
// A jittered timer re-announces all known logs about once per interval. This
// repairs anything a lost message left behind and carries news of logs that
// appeared after a session opened.
package node

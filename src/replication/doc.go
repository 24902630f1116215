// Package replication implements the per-peer protocol that keeps channel
// logs in sync.
//
// A Session is created for every live connection. It announces the logs this
// node holds, diffs lengths against the peer's announcements, requests and
// serves missing ranges, and finally streams freshly appended entries as they
// are committed. Each log moves through the phases independently:
//
//	Idle -> Announcing -> Diffing -> Transferring -> Streaming
//
// with Closed reachable from anywhere. Sessions are pure with respect to the
// wire: HandleMessage maps one incoming message to zero or more outgoing
// messages, and a non-nil error means the session must be torn down. The node
// package owns the actual read and write loops.
//
// All verification happens here and in chainlog: entries are checked against
// the hash chain before they are committed, and a log observed for the first
// time is only accepted if its announcement carries a valid signature by the
// owner over the announced head. A peer that fails either check is
// disconnected and ignored for the remainder of the session.
package replication

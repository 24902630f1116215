package replication

// Phase captures how far the replication of one log has progressed within a
// session: Idle, Announcing, Diffing, Transferring, Streaming, or Closed.
// Phases advance independently per log; the session itself dies when any of
// its logs hits a fatal verification failure.
type Phase uint32

const (
	// Idle is the zero state: the session exists but nothing has been said
	// about this log yet.
	Idle Phase = iota

	// Announcing means we have advertised our copy of the log and are waiting
	// to hear the peer's.
	Announcing

	// Diffing means lengths have been compared and a Want for the missing
	// range is in flight.
	Diffing

	// Transferring means entries are being backfilled in batches.
	Transferring

	// Streaming is the steady state: both sides hold the same entries and new
	// ones are pushed as they are appended.
	Streaming

	// Closed means the session was torn down; no further messages are
	// exchanged.
	Closed
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case Announcing:
		return "Announcing"
	case Diffing:
		return "Diffing"
	case Transferring:
		return "Transferring"
	case Streaming:
		return "Streaming"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

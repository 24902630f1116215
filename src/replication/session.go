package replication

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/natternet/natter/src/chainlog"
	"github.com/natternet/natter/src/channel"
	"github.com/natternet/natter/src/crypto/keys"
	"github.com/natternet/natter/src/peers"
)

// ErrPeerClosed is returned by HandleMessage when the peer announces a
// graceful close. The session must be destroyed, but no Close reply is owed.
var ErrPeerClosed = errors.New("peer closed the session")

// logState is the sync state a session keeps per log: the phase, and the
// peer's last advertised length and head.
type logState struct {
	phase      Phase
	remoteLen  uint64
	remoteHead []byte
}

// Session drives the replication of every channel log with a single peer.
// It is a message-in, messages-out state machine: the node feeds it decoded
// messages from the connection and writes back whatever it returns. A non-nil
// error from any method is fatal for the session; the logs themselves are
// never affected by a teardown.
//
// Sessions never hold copies of log data. They look entries up in the
// channel at the moment they are served, and commit received entries through
// the channel's single write path.
type Session struct {
	channel   *channel.Channel
	peer      *peers.Peer
	syncLimit uint64

	mu     sync.Mutex
	states map[string]*logState

	logger *logrus.Entry
}

// NewSession creates a session for one connection. syncLimit caps the number
// of entries served in a single Data message; zero means no cap.
func NewSession(
	ch *channel.Channel,
	peer *peers.Peer,
	syncLimit uint64,
	logger *logrus.Entry,
) *Session {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Session{
		channel:   ch,
		peer:      peer,
		syncLimit: syncLimit,
		states:    make(map[string]*logState),
		logger:    logger.WithField("peer", peer.Moniker),
	}
}

// Peer returns the peer this session talks to.
func (s *Session) Peer() *peers.Peer {
	return s.peer
}

// state returns the sync state for owner, creating it in the Idle phase if
// the log was never mentioned before.
func (s *Session) state(owner string) *logState {
	st, ok := s.states[owner]
	if !ok {
		st = &logState{phase: Idle}
		s.states[owner] = st
	}
	return st
}

// AnnounceAll advertises every log the channel knows about. It is called
// once after the hello exchange, and again periodically so that logs learned
// after the handshake still reach the peer.
func (s *Session) AnnounceAll() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Message{}
	for _, owner := range s.channel.Owners() {
		log, ok := s.channel.Log(owner)
		if !ok {
			continue
		}

		st := s.state(owner)
		if st.phase == Idle {
			st.phase = Announcing
		}

		out = append(out, s.announceLog(log))
	}
	return out
}

// announceLog builds the announcement for one log. Our own log is signed
// fresh; a replica carries the owner's last recorded signature, but only
// while it still covers the current head.
func (s *Session) announceLog(log *chainlog.Log) *Announce {
	length, head := log.Snapshot()

	ann := &Announce{
		Owner:  log.Owner(),
		Length: length,
		Head:   head,
	}

	if log.Owned() {
		ann.Sig = s.channel.SignHead(head)
	} else if hash, sig := log.SignedHead(); sig != nil && bytes.Equal(hash, head) {
		ann.Sig = sig
	}

	return ann
}

// HandleMessage runs one protocol step: it applies the incoming message to
// the session state and returns the messages to send back. A non-nil error
// tears the session down; ErrPeerClosed is the graceful variant.
func (s *Session) HandleMessage(msg Message) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *Announce:
		return s.handleAnnounce(m)
	case *Want:
		return s.handleWant(m)
	case *Data:
		return s.handleData(m)
	case *Push:
		return s.handlePush(m)
	case *Close:
		s.logger.WithField("reason", m.Reason).Debug("Peer closed session")
		return nil, ErrPeerClosed
	default:
		return nil, fmt.Errorf("unexpected %s message", msg.Type())
	}
}

// handleAnnounce records the peer's view of one log and decides whether to
// request missing entries. A log heard of for the first time is only
// admitted when the announcement carries a valid owner signature over the
// head; unsigned first contacts are ignored until a signed announcement
// arrives, typically from the owner itself or a replica still holding the
// covering signature.
func (s *Session) handleAnnounce(m *Announce) ([]Message, error) {
	log, known := s.channel.Log(m.Owner)

	if !known {
		if len(m.Sig) == 0 {
			s.logger.WithFields(logrus.Fields{
				"owner":  m.Owner,
				"length": m.Length,
			}).Debug("Ignoring unsigned announce for unknown log")
			return nil, nil
		}

		pub, err := keys.ParsePublicKey(m.Owner)
		if err != nil {
			return nil, chainlog.NewIntegrityError(m.Owner, 0, "malformed owner key in announce")
		}
		if !keys.Verify(pub, chainlog.HeadMessage(pub, m.Head), m.Sig) {
			return nil, chainlog.NewIntegrityError(m.Owner, m.Length, "bad head signature on first contact")
		}

		log, err = s.channel.CreateLog(m.Owner)
		if err != nil {
			return nil, err
		}
	}

	// Record the covering signature so we can vouch for this head when we
	// re-announce the log to others.
	if len(m.Sig) > 0 {
		if err := log.UpdateSignedHead(m.Head, m.Sig); err != nil {
			return nil, err
		}
	}

	st := s.state(m.Owner)
	st.remoteLen = m.Length
	st.remoteHead = m.Head

	localLen, localHead := log.Snapshot()

	switch {
	case m.Length > localLen:
		st.phase = Diffing
		return []Message{&Want{Owner: m.Owner, Start: localLen, End: m.Length}}, nil

	case m.Length == localLen && m.Length > 0 && !bytes.Equal(m.Head, localHead):
		// Same length, different head: the chains diverged and no exchange
		// of entries can reconcile them.
		return nil, chainlog.NewIntegrityError(m.Owner, m.Length-1, "head fork at equal length")

	default:
		// Peer is behind or level with us. Our own announcement, sent at
		// connect time and on the periodic timer, is what prompts its Want.
		st.phase = Streaming
		return nil, nil
	}
}

// handleWant serves entries [Start,End) of a log we hold. Ranges outside the
// log's committed bounds are protocol violations and kill the session. The
// reply is capped at syncLimit entries; the requester comes back for the
// rest.
func (s *Session) handleWant(m *Want) ([]Message, error) {
	log, ok := s.channel.Log(m.Owner)
	if !ok {
		return nil, chainlog.RangeError{Owner: m.Owner, Start: m.Start, End: m.End}
	}

	length, _ := log.Snapshot()
	if m.Start >= m.End || m.End > length {
		return nil, chainlog.RangeError{Owner: m.Owner, Start: m.Start, End: m.End, Length: length}
	}

	end := m.End
	if s.syncLimit > 0 && end-m.Start > s.syncLimit {
		end = m.Start + s.syncLimit
	}

	entries, err := log.GetRange(m.Start, end)
	if err != nil {
		return nil, err
	}

	st := s.state(m.Owner)
	out := []Message{&Data{Owner: m.Owner, Entries: entries}}

	if end < m.End {
		st.phase = Transferring
		return out, nil
	}

	st.phase = Streaming

	// If the log grew past the requested range since we announced it, the
	// peer does not know about the new entries yet. Announce again so it can
	// ask for them.
	if newLen, _ := log.Snapshot(); newLen > m.End {
		out = append(out, s.announceLog(log))
	}

	return out, nil
}

// handleData verifies and commits a batch of entries we asked for. Stale
// batches, already applied through another session, are skipped. A batch
// that leaves us short of the peer's advertised length triggers the next
// Want immediately.
func (s *Session) handleData(m *Data) ([]Message, error) {
	log, ok := s.channel.Log(m.Owner)
	if !ok {
		return nil, chainlog.RangeError{Owner: m.Owner}
	}

	st, tracked := s.states[m.Owner]
	if !tracked || len(m.Entries) == 0 {
		return nil, chainlog.RangeError{Owner: m.Owner}
	}

	_, localHead := log.Snapshot()

	err := s.channel.Apply(m.Owner, m.Entries, localHead)
	switch {
	case err == nil:
		s.logger.WithFields(logrus.Fields{
			"owner": m.Owner,
			"start": m.Entries[0].Seq,
			"count": len(m.Entries),
		}).Debug("Applied entries")

	case errors.Is(err, chainlog.ErrStale):
		// Another session already supplied this range.
		s.logger.WithFields(logrus.Fields{
			"owner": m.Owner,
			"start": m.Entries[0].Seq,
		}).Debug("Skipping stale entries")

	default:
		return nil, err
	}

	localLen, _ := log.Snapshot()

	if st.remoteLen > localLen {
		st.phase = Transferring
		return []Message{&Want{Owner: m.Owner, Start: localLen, End: st.remoteLen}}, nil
	}

	st.phase = Streaming
	return nil, nil
}

// handlePush applies a single streamed entry. An entry that lands exactly on
// our head extends the log; one we already hold is skipped; one ahead of us
// reveals entries we are missing and turns into a Want for the gap.
func (s *Session) handlePush(m *Push) ([]Message, error) {
	if m.Entry == nil {
		return nil, fmt.Errorf("push without entry for log %s", m.Owner)
	}

	log, ok := s.channel.Log(m.Owner)
	if !ok {
		return nil, chainlog.RangeError{Owner: m.Owner, Start: m.Entry.Seq, End: m.Entry.Seq + 1}
	}

	st, tracked := s.states[m.Owner]
	if !tracked {
		return nil, chainlog.RangeError{Owner: m.Owner, Start: m.Entry.Seq, End: m.Entry.Seq + 1}
	}

	if m.Entry.Seq+1 > st.remoteLen {
		st.remoteLen = m.Entry.Seq + 1
		st.remoteHead = m.Entry.Hash
	}

	localLen, localHead := log.Snapshot()

	switch {
	case m.Entry.Seq < localLen:
		// Already have it.
		return nil, nil

	case m.Entry.Seq == localLen:
		err := s.channel.Apply(m.Owner, []*chainlog.Entry{m.Entry}, localHead)
		if err != nil && !errors.Is(err, chainlog.ErrStale) {
			return nil, err
		}
		return nil, nil

	default:
		// The push outran us; backfill the gap from our current length.
		st.phase = Transferring
		return []Message{&Want{Owner: m.Owner, Start: localLen, End: m.Entry.Seq + 1}}, nil
	}
}

// PushEntry wraps a freshly committed entry in a Push for this peer, if the
// peer's copy of that log is in the streaming phase. The second return is
// false when the entry should not be sent on this session.
func (s *Session) PushEntry(owner string, entry *chainlog.Entry) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[owner]
	if !ok || st.phase != Streaming {
		return nil, false
	}

	return &Push{Owner: owner, Entry: entry}, true
}

// Close marks every tracked log Closed. The node calls this once when the
// connection dies, whatever the reason.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.states {
		st.phase = Closed
	}
}

// Phases reports the replication phase of every log this session has touched,
// keyed by owner. Used by the stats endpoint.
func (s *Session) Phases() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.states))
	for owner, st := range s.states {
		out[owner] = st.phase.String()
	}
	return out
}

package node

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/natternet/natter/src/chainlog"
	"github.com/natternet/natter/src/channel"
	"github.com/natternet/natter/src/crypto/keys"
	"github.com/natternet/natter/src/net"
	"github.com/natternet/natter/src/peers"
	"github.com/natternet/natter/src/replication"
)

// Per-connection inbound rate limit: 100 messages per second with a burst of
// 200. Data messages batch up to SyncLimit entries each, so even a full
// backfill stays far below this.
const (
	msgRateLimit = rate.Limit(100)
	msgRateBurst = 200
)

// Dial backoff bounds. A failing address is retried with doubling delays.
const (
	dialBackoffBase = 1 * time.Second
	dialBackoffMax  = 1 * time.Minute
)

// peerConn ties a framed connection to the replication session running over
// it. addr is the dial target, empty for inbound connections; the direction
// breaks ties when two members connect to each other simultaneously.
type peerConn struct {
	conn    *net.Conn
	peer    *peers.Peer
	session *replication.Session
	addr    string

	closeOnce sync.Once
}

func (pc *peerConn) outbound() bool {
	return pc.addr != ""
}

func (pc *peerConn) close() {
	pc.closeOnce.Do(func() {
		pc.session.Close()
		pc.conn.Close()
	})
}

// Node drives the replication of one channel. It accepts and dials peer
// connections, runs a replication session over each, fans out committed
// entries to streaming peers, and periodically re-announces all known logs.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	channel *channel.Channel

	trans  net.Transport
	connCh <-chan *net.Conn

	// eventCh receives every committed entry, local or replicated, for
	// fan-out to streaming sessions.
	eventCh <-chan channel.Event

	// candidateCh delivers discovered member addresses. A nil channel simply
	// never fires, which is how discovery is disabled.
	candidateCh <-chan string

	// bootstrap addresses are re-dialed on every announce tick until a
	// session covers them.
	bootstrap []string

	sessionLock sync.RWMutex
	sessions    map[string]*peerConn

	// pending tracks connections still in their handshake. They are not in
	// sessions yet, so Shutdown has to close them through this table or their
	// goroutines would outlive the node.
	pendingLock sync.Mutex
	pending     map[*net.Conn]struct{}

	dialLock    sync.Mutex
	dialing     map[string]bool
	dialFails   map[string]int
	nextAttempt map[string]time.Time

	controlTimer *ControlTimer

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	start time.Time
}

// NewNode is a factory method that returns a Node instance. candidates may be
// nil when discovery is disabled; bootstrap holds addresses to dial directly.
func NewNode(conf *Config,
	ch *channel.Channel,
	trans net.Transport,
	candidates <-chan string,
	bootstrap []string,
) *Node {

	node := Node{
		conf:         conf,
		logger:       conf.Logger.WithField("this_id", keys.PublicKeyID(ch.LocalPublicKey())),
		channel:      ch,
		trans:        trans,
		connCh:       trans.Consumer(),
		eventCh:      ch.Subscribe(),
		candidateCh:  candidates,
		bootstrap:    bootstrap,
		sessions:     make(map[string]*peerConn),
		pending:      make(map[*net.Conn]struct{}),
		dialing:      make(map[string]bool),
		dialFails:    make(map[string]int),
		nextAttempt:  make(map[string]time.Time),
		controlTimer: NewRandomControlTimer(),
		shutdownCh:   make(chan struct{}),
		start:        time.Now(),
	}

	return &node
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")

	go n.Run()
}

//Run invokes the main loop of the node
func (n *Node) Run() {
	//Start accepting connections.
	go n.trans.Listen()

	//The ControlTimer paces the periodic re-announce rounds.
	go n.controlTimer.Run(n.conf.AnnounceInterval)

	//First dial round without waiting for the timer.
	for _, addr := range n.bootstrap {
		n.maybeDial(addr)
	}

	n.doBackgroundWork()
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case conn := <-n.connCh:
			c := conn
			if !n.goFunc(func() { n.handleConn(c, "") }) {
				n.logger.Warn("Connection limit reached, rejecting peer")
				c.Close()
			}
		case ev, ok := <-n.eventCh:
			if !ok {
				n.eventCh = nil
				continue
			}
			n.broadcast(ev)
		case addr := <-n.candidateCh:
			n.maybeDial(addr)
		case <-n.controlTimer.tickCh:
			n.reannounce()
			for _, addr := range n.bootstrap {
				n.maybeDial(addr)
			}
			n.logStats()
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) resetTimer() {
	if !n.controlTimer.set {
		n.controlTimer.resetCh <- n.conf.AnnounceInterval
	}
}

// handleConn performs the hello exchange and, when it checks out, runs the
// replication session until the connection dies. dialedAddr is empty for
// inbound connections.
func (n *Node) handleConn(conn *net.Conn, dialedAddr string) {
	if !n.trackConn(conn) {
		conn.Close()
		return
	}

	pc := n.handshake(conn, dialedAddr)

	n.untrackConn(conn)

	if pc == nil {
		return
	}

	n.logger.WithFields(logrus.Fields{
		"peer":     pc.peer.Moniker,
		"addr":     conn.RemoteAddr(),
		"outbound": pc.outbound(),
	}).Debug("Session established")

	for _, m := range pc.session.AnnounceAll() {
		if err := pc.conn.WriteMessage(m); err != nil {
			n.removeConn(pc, "", false)
			return
		}
	}

	n.readLoop(pc)
}

// handshake exchanges hellos and registers a session. The dialer speaks
// first; the acceptor replies only after reading and vetting the dialer's
// hello. Writing from both ends at once would deadlock transports with no
// buffering, such as the in-memory pipe. The whole exchange runs under one
// deadline so a peer that never reads or never writes cannot park the
// goroutine. A nil return means the connection was rejected and closed.
func (n *Node) handshake(conn *net.Conn, dialedAddr string) *peerConn {
	hello := &replication.Hello{
		Channel: n.channel.ID().String(),
		From:    n.channel.LocalOwner(),
		Moniker: n.conf.Moniker,
	}

	outbound := dialedAddr != ""

	deadline := time.Now().Add(n.conf.ConnTimeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	if outbound {
		if err := conn.WriteMessage(hello); err != nil {
			n.logger.WithField("error", err).Debug("Handshake write failed")
			conn.Close()
			return nil
		}
	}

	msg, err := conn.ReadMessage()
	if err != nil {
		n.logger.WithField("error", err).Debug("Handshake read failed")
		conn.Close()
		return nil
	}

	theirs, ok := msg.(*replication.Hello)
	if !ok {
		n.logger.WithField("msg", msg.Type().String()).Debug("Expected hello")
		conn.Close()
		return nil
	}

	if theirs.Channel != n.channel.ID().String() {
		n.logger.WithField("channel", theirs.Channel).Debug("Wrong channel")
		conn.WriteMessage(&replication.Close{Reason: "wrong channel"})
		conn.Close()
		return nil
	}

	if theirs.From == n.channel.LocalOwner() {
		// Discovery heard our own advertisement.
		n.logger.Debug("Connected to self")
		conn.Close()
		return nil
	}

	if _, err := keys.ParsePublicKey(theirs.From); err != nil {
		n.logger.WithField("error", err).Debug("Malformed identity in hello")
		conn.WriteMessage(&replication.Close{Reason: "malformed identity"})
		conn.Close()
		return nil
	}

	if !outbound {
		if err := conn.WriteMessage(hello); err != nil {
			n.logger.WithField("error", err).Debug("Handshake write failed")
			conn.Close()
			return nil
		}
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	peer := peers.NewPeer(theirs.From, conn.RemoteAddr(), theirs.Moniker)

	pc := n.register(peer, conn, dialedAddr)
	if pc == nil {
		conn.Close()
		return nil
	}

	return pc
}

// trackConn records a connection whose handshake is in flight. Returns false
// when the node is no longer running.
func (n *Node) trackConn(conn *net.Conn) bool {
	n.pendingLock.Lock()
	defer n.pendingLock.Unlock()

	if n.getState() != Running {
		return false
	}
	n.pending[conn] = struct{}{}
	return true
}

func (n *Node) untrackConn(conn *net.Conn) {
	n.pendingLock.Lock()
	defer n.pendingLock.Unlock()

	delete(n.pending, conn)
}

// register installs a session for the peer, resolving simultaneous
// connections between the same pair deterministically.
func (n *Node) register(peer *peers.Peer, conn *net.Conn, dialedAddr string) *peerConn {
	n.sessionLock.Lock()
	defer n.sessionLock.Unlock()

	if n.getState() != Running {
		return nil
	}

	outbound := dialedAddr != ""

	if existing, ok := n.sessions[peer.PubKeyHex]; ok {
		if existing.outbound() == outbound || !n.dialerWins(peer.PubKeyHex, outbound) {
			n.logger.WithField("peer", peer.Moniker).Debug("Duplicate session, dropping new connection")
			return nil
		}
		n.logger.WithField("peer", peer.Moniker).Debug("Duplicate session, replacing")
		existing.close()
	}

	pc := &peerConn{
		conn:    conn,
		peer:    peer,
		session: replication.NewSession(n.channel, peer, uint64(n.conf.SyncLimit), n.logger),
		addr:    dialedAddr,
	}
	n.sessions[peer.PubKeyHex] = pc

	return pc
}

// dialerWins reports whether a new connection beats an existing one of the
// opposite direction. The surviving connection is the one dialed by the
// smaller identity, a rule both ends compute identically.
func (n *Node) dialerWins(remote string, outbound bool) bool {
	local := n.channel.LocalOwner()
	if outbound {
		return local < remote
	}
	return remote < local
}

// removeConn closes the connection and drops its session. When notify is set,
// a close notice with the reason is sent first, best effort.
func (n *Node) removeConn(pc *peerConn, reason string, notify bool) {
	if notify {
		pc.conn.WriteMessage(&replication.Close{Reason: reason})
	}
	pc.close()

	n.sessionLock.Lock()
	if cur, ok := n.sessions[pc.peer.PubKeyHex]; ok && cur == pc {
		delete(n.sessions, pc.peer.PubKeyHex)
	}
	n.sessionLock.Unlock()
}

// readLoop dispatches inbound messages to the session and writes its replies
// until the connection dies or the session tears down.
func (n *Node) readLoop(pc *peerConn) {
	limiter := rate.NewLimiter(msgRateLimit, msgRateBurst)

	for {
		msg, err := pc.conn.ReadMessage()
		if err != nil {
			if n.getState() == Running {
				n.logger.WithFields(logrus.Fields{
					"peer":  pc.peer.Moniker,
					"error": err,
				}).Debug("Connection closed")
			}
			n.removeConn(pc, "", false)
			return
		}

		// Backpressure against peers flooding the session.
		if r := limiter.Reserve(); r.Delay() > 0 {
			time.Sleep(r.Delay())
		}

		replies, err := pc.session.HandleMessage(msg)
		if err == replication.ErrPeerClosed {
			n.logger.WithField("peer", pc.peer.Moniker).Debug("Peer left")
			n.removeConn(pc, "", false)
			return
		}
		if err != nil {
			if chainlog.IsStorage(err) {
				// Local disk fault, not peer misbehavior. The log refuses
				// further commits either way; drop the session without
				// leaking the local error to the peer.
				n.logger.WithFields(logrus.Fields{
					"peer":  pc.peer.Moniker,
					"error": err,
				}).Error("Storage failure")
				n.removeConn(pc, "internal error", true)
				return
			}
			n.logger.WithFields(logrus.Fields{
				"peer":  pc.peer.Moniker,
				"error": err,
			}).Warn("Session torn down")
			n.removeConn(pc, err.Error(), true)
			return
		}

		for _, reply := range replies {
			if err := pc.conn.WriteMessage(reply); err != nil {
				n.removeConn(pc, "", false)
				return
			}
		}
	}
}

// broadcast offers a committed entry to every session. Sessions whose copy of
// that log is not streaming decline; peers that already hold the entry treat
// the push as stale. Write failures close only the failing session.
func (n *Node) broadcast(ev channel.Event) {
	for _, pc := range n.liveSessions() {
		msg, ok := pc.session.PushEntry(ev.Owner, ev.Entry)
		if !ok {
			continue
		}
		if err := pc.conn.WriteMessage(msg); err != nil {
			n.removeConn(pc, "", false)
		}
	}
}

// reannounce sends a fresh announce of every known log on every session. This
// repairs anything a lost race left behind, and is how replicas learn about
// logs that appeared after their session opened.
func (n *Node) reannounce() {
	for _, pc := range n.liveSessions() {
		for _, msg := range pc.session.AnnounceAll() {
			if err := pc.conn.WriteMessage(msg); err != nil {
				n.logger.WithFields(logrus.Fields{
					"peer":  pc.peer.Moniker,
					"error": err,
				}).Debug("Re-announce write failed")
				n.removeConn(pc, "", false)
				break
			}
		}
	}
}

// maybeDial dials addr unless it is us, already covered by a session, being
// dialed right now, or still in backoff.
func (n *Node) maybeDial(addr string) {
	if addr == "" || addr == n.trans.AdvertiseAddr() || addr == n.trans.LocalAddr() {
		return
	}
	if n.getState() != Running {
		return
	}
	if n.connectedTo(addr) {
		return
	}

	n.dialLock.Lock()
	if n.dialing[addr] || time.Now().Before(n.nextAttempt[addr]) {
		n.dialLock.Unlock()
		return
	}
	n.dialing[addr] = true
	n.dialLock.Unlock()

	if !n.goFunc(func() { n.dial(addr) }) {
		n.dialLock.Lock()
		delete(n.dialing, addr)
		n.dialLock.Unlock()
	}
}

func (n *Node) dial(addr string) {
	n.logger.WithField("addr", addr).Debug("Dialing")

	conn, err := n.trans.Dial(addr, n.conf.ConnTimeout)

	n.dialLock.Lock()
	delete(n.dialing, addr)
	if err != nil {
		n.dialFails[addr]++
		backoff := dialBackoffBase
		for i := 1; i < n.dialFails[addr] && backoff < dialBackoffMax; i++ {
			backoff *= 2
		}
		if backoff > dialBackoffMax {
			backoff = dialBackoffMax
		}
		n.nextAttempt[addr] = time.Now().Add(backoff)
		n.dialLock.Unlock()

		n.logger.WithFields(logrus.Fields{
			"addr":  addr,
			"error": err,
		}).Debug("Dial failed")
		return
	}
	delete(n.dialFails, addr)
	delete(n.nextAttempt, addr)
	n.dialLock.Unlock()

	n.handleConn(conn, addr)
}

func (n *Node) connectedTo(addr string) bool {
	n.sessionLock.RLock()
	defer n.sessionLock.RUnlock()

	for _, pc := range n.sessions {
		if pc.addr == addr {
			return true
		}
	}
	return false
}

func (n *Node) liveSessions() []*peerConn {
	n.sessionLock.RLock()
	defer n.sessionLock.RUnlock()

	out := make([]*peerConn, 0, len(n.sessions))
	for _, pc := range n.sessions {
		out = append(out, pc)
	}
	return out
}

//Leave notifies connected peers before shutting down.
func (n *Node) Leave() {
	if n.getState() != Running {
		return
	}

	n.logger.Debug("LEAVING")

	n.setState(Leaving)

	for _, pc := range n.liveSessions() {
		pc.conn.WriteMessage(&replication.Close{Reason: "leaving"})
	}

	n.Shutdown()
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		//Reject new connections and dials immediately
		n.setState(Shutdown)

		//Stop the background loop
		close(n.shutdownCh)

		//Connections still in their handshake are not in the sessions table
		//yet; close them here or waitRoutines would block on their goroutines
		n.pendingLock.Lock()
		for c := range n.pending {
			c.Close()
		}
		n.pendingLock.Unlock()

		//Closing the connections unblocks the read loops
		for _, pc := range n.liveSessions() {
			pc.close()
		}

		n.waitRoutines()

		//For some reason this needs to be called after closing the shutdownCh
		//Not entirely sure why...
		n.controlTimer.Shutdown()

		//transport should only be closed once all concurrent operations are
		//finished otherwise they will panic trying to use closed objects
		n.trans.Close()
	})
}

//Stats returns operational metrics, served by the HTTP API.
func (n *Node) Stats() map[string]string {
	timeElapsed := time.Since(n.start)

	localLen, _ := n.channel.LocalLog().Snapshot()

	s := map[string]string{
		"id":            fmt.Sprint(keys.PublicKeyID(n.channel.LocalPublicKey())),
		"moniker":       n.conf.Moniker,
		"channel":       n.channel.URI(),
		"state":         n.getState().String(),
		"num_peers":     strconv.Itoa(len(n.liveSessions())),
		"num_logs":      strconv.Itoa(len(n.channel.Owners())),
		"local_entries": strconv.FormatUint(localLen, 10),
		"total_entries": strconv.FormatUint(n.channel.TotalEntries(), 10),
		"uptime":        timeElapsed.String(),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.Stats()

	n.logger.WithFields(logrus.Fields{
		"num_peers":     stats["num_peers"],
		"num_logs":      stats["num_logs"],
		"local_entries": stats["local_entries"],
		"total_entries": stats["total_entries"],
		"state":         stats["state"],
	}).Debug("Stats")
}

//GetPeers returns the members currently connected.
func (n *Node) GetPeers() []*peers.Peer {
	n.sessionLock.RLock()
	defer n.sessionLock.RUnlock()

	out := make([]*peers.Peer, 0, len(n.sessions))
	for _, pc := range n.sessions {
		out = append(out, pc.peer)
	}
	return out
}

//DialedPeers returns the peers behind outbound sessions, each with the
//address that was dialed to reach it. Inbound sessions are skipped because a
//connection's source address says nothing about the peer's listen address.
func (n *Node) DialedPeers() []*peers.Peer {
	n.sessionLock.RLock()
	defer n.sessionLock.RUnlock()

	out := []*peers.Peer{}
	for _, pc := range n.sessions {
		if !pc.outbound() {
			continue
		}
		out = append(out, peers.NewPeer(pc.peer.PubKeyHex, pc.addr, pc.peer.Moniker))
	}
	return out
}

//SessionPhases reports, for every connected peer, the replication phase of
//each log exchanged with it.
func (n *Node) SessionPhases() map[string]map[string]string {
	n.sessionLock.RLock()
	defer n.sessionLock.RUnlock()

	out := make(map[string]map[string]string, len(n.sessions))
	for owner, pc := range n.sessions {
		out[owner] = pc.session.Phases()
	}
	return out
}

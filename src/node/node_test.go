package node

import (
	stdnet "net"
	"testing"
	"time"

	"github.com/natternet/natter/src/chainlog"
	"github.com/natternet/natter/src/channel"
	"github.com/natternet/natter/src/common"
	"github.com/natternet/natter/src/crypto/keys"
	"github.com/natternet/natter/src/net"
	"github.com/natternet/natter/src/peers"
)

// newTestChannels builds two channels on the same channel ID, as if A had
// created the channel and B had joined it.
func newTestChannels(t *testing.T) (*channel.Channel, *channel.Channel) {
	keyA, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	keyB, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	id := channel.NewID(keys.PublicKey(keyA))

	chA, err := channel.NewChannel(id, keyA, chainlog.NewInmemStore(), common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	chB, err := channel.NewChannel(id, keyB, chainlog.NewInmemStore(), common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	return chA, chB
}

func connectedTransports(t *testing.T) (string, *net.InmemTransport, string, *net.InmemTransport) {
	addrA, transA := net.NewInmemTransport("")
	addrB, transB := net.NewInmemTransport("")

	transA.Connect(addrB, transB)
	transB.Connect(addrA, transA)

	return addrA, transA, addrB, transB
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func logLength(ch *channel.Channel, owner string) uint64 {
	log, ok := ch.Log(owner)
	if !ok {
		return 0
	}
	return log.Length()
}

func TestNodesConverge(t *testing.T) {
	chA, chB := newTestChannels(t)
	addrA, transA, addrB, transB := connectedTransports(t)
	_ = addrA

	if _, err := chA.Append([]byte("hello")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := chA.Append([]byte("world")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := chB.Append([]byte("hi")); err != nil {
		t.Fatalf("err: %v", err)
	}

	confA := TestConfig(t)
	confA.Moniker = "alice"
	confB := TestConfig(t)
	confB.Moniker = "bob"

	nodeA := NewNode(confA, chA, transA, nil, []string{addrB})
	nodeB := NewNode(confB, chB, transB, nil, nil)
	defer nodeA.Shutdown()
	defer nodeB.Shutdown()

	nodeA.RunAsync()
	nodeB.RunAsync()

	waitFor(t, 3*time.Second, "logs to converge", func() bool {
		return logLength(chB, chA.LocalOwner()) == 2 &&
			logLength(chA, chB.LocalOwner()) == 1
	})

	replicated, ok := chB.Log(chA.LocalOwner())
	if !ok {
		t.Fatal("B should hold A's log")
	}
	entries, err := replicated.GetRange(0, 2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if string(entries[0].Payload) != "hello" || string(entries[1].Payload) != "world" {
		t.Fatalf("B got wrong payloads: %q, %q", entries[0].Payload, entries[1].Payload)
	}

	if len(nodeA.GetPeers()) != 1 || len(nodeB.GetPeers()) != 1 {
		t.Fatalf("each node should have one peer, got %d and %d",
			len(nodeA.GetPeers()), len(nodeB.GetPeers()))
	}
}

func TestLiveAppendStreams(t *testing.T) {
	chA, chB := newTestChannels(t)
	_, transA, addrB, transB := connectedTransports(t)

	confA := TestConfig(t)
	confA.Moniker = "alice"
	confB := TestConfig(t)
	confB.Moniker = "bob"

	nodeA := NewNode(confA, chA, transA, nil, []string{addrB})
	nodeB := NewNode(confB, chB, transB, nil, nil)
	defer nodeA.Shutdown()
	defer nodeB.Shutdown()

	nodeA.RunAsync()
	nodeB.RunAsync()

	waitFor(t, 3*time.Second, "session to establish", func() bool {
		return len(nodeA.GetPeers()) == 1 && len(nodeB.GetPeers()) == 1
	})

	// Entries appended while the session is live arrive through the push
	// path, not just the announce rounds.
	if _, err := chA.Append([]byte("live one")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := chB.Append([]byte("live two")); err != nil {
		t.Fatalf("err: %v", err)
	}

	waitFor(t, 3*time.Second, "live entries to propagate", func() bool {
		return logLength(chB, chA.LocalOwner()) == 1 &&
			logLength(chA, chB.LocalOwner()) == 1
	})
}

func TestSimultaneousDialsResolve(t *testing.T) {
	chA, chB := newTestChannels(t)
	addrA, transA, addrB, transB := connectedTransports(t)

	if _, err := chA.Append([]byte("from A")); err != nil {
		t.Fatalf("err: %v", err)
	}

	confA := TestConfig(t)
	confA.Moniker = "alice"
	confB := TestConfig(t)
	confB.Moniker = "bob"

	// Both nodes bootstrap to each other, so both dial at startup.
	nodeA := NewNode(confA, chA, transA, nil, []string{addrB})
	nodeB := NewNode(confB, chB, transB, nil, []string{addrA})
	defer nodeA.Shutdown()
	defer nodeB.Shutdown()

	nodeA.RunAsync()
	nodeB.RunAsync()

	waitFor(t, 3*time.Second, "logs to converge", func() bool {
		return logLength(chB, chA.LocalOwner()) == 1
	})

	// The duplicate-session rule must leave exactly one session per pair.
	waitFor(t, 3*time.Second, "duplicate sessions to resolve", func() bool {
		return len(nodeA.GetPeers()) == 1 && len(nodeB.GetPeers()) == 1
	})
}

func TestHandshakeOverSynchronousPipe(t *testing.T) {
	chA, chB := newTestChannels(t)
	_, transA, _, transB := connectedTransports(t)

	confA := TestConfig(t)
	confA.Moniker = "alice"
	confB := TestConfig(t)
	confB.Moniker = "bob"

	nodeA := NewNode(confA, chA, transA, nil, nil)
	nodeB := NewNode(confB, chB, transB, nil, nil)
	defer nodeA.Shutdown()
	defer nodeB.Shutdown()

	// A synchronous pipe has no buffering at all: a write blocks until the
	// other end reads. Both handlers start at once, as they do when a dial
	// lands, and the hello exchange must still complete.
	left, right := stdnet.Pipe()

	go nodeA.handleConn(net.NewConn(left), "remote")
	go nodeB.handleConn(net.NewConn(right), "")

	waitFor(t, 3*time.Second, "both sessions to establish", func() bool {
		return len(nodeA.GetPeers()) == 1 && len(nodeB.GetPeers()) == 1
	})
}

func TestShutdownReleasesPendingHandshakes(t *testing.T) {
	chA, _ := newTestChannels(t)
	_, transA, addrB, _ := connectedTransports(t)

	confA := TestConfig(t)
	confA.Moniker = "alice"
	// Far beyond the test's shutdown budget: the handshake deadline must not
	// be what unblocks Shutdown.
	confA.ConnTimeout = 10 * time.Second

	nodeA := NewNode(confA, chA, transA, nil, []string{addrB})
	nodeA.RunAsync()

	// B never runs a node, so its end of the pipe is never read: A's hello
	// write parks in the handshake, before any session is registered.
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		nodeA.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked on a pending handshake")
	}
}

func TestLeaveClosesSessions(t *testing.T) {
	chA, chB := newTestChannels(t)
	_, transA, addrB, transB := connectedTransports(t)

	if _, err := chA.Append([]byte("before leave")); err != nil {
		t.Fatalf("err: %v", err)
	}

	confA := TestConfig(t)
	confA.Moniker = "alice"
	confB := TestConfig(t)
	confB.Moniker = "bob"

	nodeA := NewNode(confA, chA, transA, nil, []string{addrB})
	nodeB := NewNode(confB, chB, transB, nil, nil)
	defer nodeB.Shutdown()

	nodeA.RunAsync()
	nodeB.RunAsync()

	waitFor(t, 3*time.Second, "logs to converge", func() bool {
		return logLength(chB, chA.LocalOwner()) == 1
	})

	nodeA.Leave()

	waitFor(t, 3*time.Second, "B to drop the session", func() bool {
		return len(nodeB.GetPeers()) == 0
	})

	// B keeps everything it learned and keeps working.
	if got := logLength(chB, chA.LocalOwner()); got != 1 {
		t.Fatalf("B's copy of A's log should survive, got length %d", got)
	}
	if _, err := chB.Append([]byte("after leave")); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestWrongChannelRejected(t *testing.T) {
	chA, _ := newTestChannels(t)

	// C runs a different channel entirely.
	keyC, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	chC, err := channel.NewChannel(channel.NewID(keys.PublicKey(keyC)), keyC,
		chainlog.NewInmemStore(), common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	addrA, transA := net.NewInmemTransport("")
	addrC, transC := net.NewInmemTransport("")
	transA.Connect(addrC, transC)
	transC.Connect(addrA, transA)

	confA := TestConfig(t)
	confA.Moniker = "alice"
	confC := TestConfig(t)
	confC.Moniker = "carol"

	nodeA := NewNode(confA, chA, transA, nil, nil)
	nodeC := NewNode(confC, chC, transC, nil, []string{addrA})
	defer nodeA.Shutdown()
	defer nodeC.Shutdown()

	nodeA.RunAsync()
	nodeC.RunAsync()

	// Give C a few dial rounds; the hellos disagree on the channel, so no
	// session may form on either side.
	time.Sleep(300 * time.Millisecond)

	if len(nodeA.GetPeers()) != 0 || len(nodeC.GetPeers()) != 0 {
		t.Fatalf("cross-channel session formed: A=%d C=%d",
			len(nodeA.GetPeers()), len(nodeC.GetPeers()))
	}
}

func TestRegisterResolvesDuplicates(t *testing.T) {
	chA, chB := newTestChannels(t)
	addrA, transA, addrB, transB := connectedTransports(t)

	conf := TestConfig(t)
	conf.Moniker = "alice"

	n := NewNode(conf, chA, transA, nil, nil)
	defer n.Shutdown()

	peerB := peers.NewPeer(chB.LocalOwner(), "inmem", "bob")

	out1, err := transA.Dial(addrB, time.Second)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if pc := n.register(peerB, out1, addrB); pc == nil {
		t.Fatal("first connection should register")
	}

	// A second connection in the same direction never replaces the first.
	out2, err := transA.Dial(addrB, time.Second)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if pc := n.register(peerB, out2, addrB); pc != nil {
		t.Fatal("same-direction duplicate should be rejected")
	}

	// An inbound connection from the same identity wins only when B is the
	// smaller identity, the same rule B applies from its side.
	if _, err := transB.Dial(addrA, time.Second); err != nil {
		t.Fatalf("err: %v", err)
	}
	var inbound *net.Conn
	select {
	case inbound = <-transA.Consumer():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound connection")
	}

	expectWin := chB.LocalOwner() < chA.LocalOwner()
	pc := n.register(peerB, inbound, "")
	if (pc != nil) != expectWin {
		t.Fatalf("inbound duplicate resolution: got %v, want %v", pc != nil, expectWin)
	}

	if got := len(n.GetPeers()); got != 1 {
		t.Fatalf("exactly one session should survive, got %d", got)
	}
}

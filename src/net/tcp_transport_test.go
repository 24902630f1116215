package net

import (
	"testing"
	"time"

	"github.com/natternet/natter/src/common"
	"github.com/natternet/natter/src/replication"
)

func TestTCPTransport_BadAddr(t *testing.T) {
	_, err := NewTCPTransport("0.0.0.0:0", "", 0, common.NewTestEntry(t))
	if err != errNotAdvertisable {
		t.Fatalf("err: %v", err)
	}
}

func TestTCPTransport_WithAdvertise(t *testing.T) {
	trans, err := NewTCPTransport("0.0.0.0:0", "127.0.0.1:12345", 0, common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans.Close()

	if trans.AdvertiseAddr() != "127.0.0.1:12345" {
		t.Fatalf("bad: %v", trans.AdvertiseAddr())
	}
}

func TestTCPTransportRoundTrip(t *testing.T) {
	transA, err := NewTCPTransport("127.0.0.1:0", "", time.Second, common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer transA.Close()
	go transA.Listen()

	transB, err := NewTCPTransport("127.0.0.1:0", "", time.Second, common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer transB.Close()

	dialed, err := transB.Dial(transA.LocalAddr(), time.Second)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer dialed.Close()

	var accepted *Conn
	select {
	case accepted = <-transA.Consumer():
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the accepted connection")
	}
	defer accepted.Close()

	hello := &replication.Hello{Channel: "chan", From: "key", Moniker: "bob"}
	if err := dialed.WriteMessage(hello); err != nil {
		t.Fatalf("err: %v", err)
	}

	msg, err := accepted.ReadMessage()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	got, ok := msg.(*replication.Hello)
	if !ok || got.Moniker != "bob" {
		t.Fatalf("hello did not survive the socket: %v", msg)
	}

	// and the other direction
	if err := accepted.WriteMessage(&replication.Close{Reason: "done"}); err != nil {
		t.Fatalf("err: %v", err)
	}
	reply, err := dialed.ReadMessage()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if reply.Type() != replication.CloseMsg {
		t.Fatalf("expected Close, got %s", reply.Type())
	}
}

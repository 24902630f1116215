package net

import (
	"testing"
	"time"

	"github.com/natternet/natter/src/replication"
)

func TestInmemTransportDial(t *testing.T) {
	addrA, transA := NewInmemTransport("")
	addrB, transB := NewInmemTransport("")
	defer transA.Close()
	defer transB.Close()

	transA.Connect(addrB, transB)
	transB.Connect(addrA, transA)

	dialed, err := transA.Dial(addrB, 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer dialed.Close()

	var accepted *Conn
	select {
	case accepted = <-transB.Consumer():
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the piped connection")
	}
	defer accepted.Close()

	go dialed.WriteMessage(&replication.Hello{Channel: "chan", From: "key", Moniker: "alice"})

	msg, err := accepted.ReadMessage()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	hello, ok := msg.(*replication.Hello)
	if !ok || hello.Moniker != "alice" {
		t.Fatalf("hello did not survive the pipe: %v", msg)
	}
}

func TestInmemTransportDisconnect(t *testing.T) {
	_, transA := NewInmemTransport("")
	addrB, transB := NewInmemTransport("")
	defer transA.Close()
	defer transB.Close()

	transA.Connect(addrB, transB)

	if _, err := transA.Dial(addrB, 0); err != nil {
		t.Fatalf("err: %v", err)
	}

	transA.Disconnect(addrB)

	if _, err := transA.Dial(addrB, 0); err == nil {
		t.Fatalf("dialing a disconnected peer should fail")
	}
}

func TestInmemTransportUnknownPeer(t *testing.T) {
	_, trans := NewInmemTransport("")
	defer trans.Close()

	if _, err := trans.Dial("nowhere", 0); err == nil {
		t.Fatalf("dialing an unknown peer should fail")
	}
}

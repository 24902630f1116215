package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a natter node: Running, Leaving, or Shutdown
type State uint32

const (
	//Running is the initial state: accepting connections, dialing members,
	//replicating the channel.
	Running State = iota
	//Leaving is set while close notices are sent to connected peers.
	Leaving
	//Shutdown is terminal.
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Leaving:
		return "Leaving"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc. Connection handlers and dials share this budget, so it also
// bounds the number of concurrent peers.
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Start a goroutine and add it to the waitgroup. Returns false, without
// starting anything, when WGLIMIT routines are already running; the caller
// decides what to do with the rejected work.
func (b *state) goFunc(f func()) bool {
	tempWgCount := atomic.LoadInt32(&b.wgCount)
	if tempWgCount >= WGLIMIT {
		return false
	}
	b.wg.Add(1)
	atomic.AddInt32(&b.wgCount, 1)
	go func() {
		defer b.wg.Done()
		atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
	return true
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}

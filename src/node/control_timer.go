package node

import (
	"math/rand"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer paces the periodic re-announce of known logs. The node resets
// it after consuming each tick, so announce rounds never queue up behind a
// slow peer.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to the listening process
	resetCh      chan time.Duration //receives instruction to re-arm the timer
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
	set          bool
}

func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer adds up to 100% jitter to each interval, so members
// that started together do not announce in lockstep.
func NewRandomControlTimer() *ControlTimer {

	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min == 0 {
			return nil
		}
		extra := (time.Duration(rand.Int63()) % min)
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

func (c *ControlTimer) Run(init time.Duration) {

	setTimer := func(t time.Duration) <-chan time.Time {
		c.set = true
		return c.timerFactory(t)
	}

	timer := setTimer(init)
	for {
		select {
		case <-timer:
			select {
			case c.tickCh <- struct{}{}:
				c.set = false
			case <-c.shutdownCh:
				c.set = false
				return
			}
		case t := <-c.resetCh:
			timer = setTimer(t)
		case <-c.shutdownCh:
			c.set = false
			return
		}
	}
}

func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}

package soundloop

import (
	"sync"
	"time"
)

// Cond is a condition variable whose waits can time out. The state the
// predicate reads must only change while L is held; Broadcast may be called
// with or without L held.
type Cond struct {
	L sync.Locker

	mu      sync.Mutex
	waiters chan struct{}
}

func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l}
}

// Broadcast wakes every goroutine blocked in WaitFor.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	if c.waiters != nil {
		close(c.waiters)
		c.waiters = nil
	}
	c.mu.Unlock()
}

// Wait blocks until pred returns true. c.L must be held by the caller.
func (c *Cond) Wait(pred func() bool) {
	for !pred() {
		ch := c.channel()
		c.L.Unlock()
		<-ch
		c.L.Lock()
	}
}

// WaitFor blocks until pred returns true or the timeout elapses. c.L must be
// held by the caller and is held again when WaitFor returns. The result is the
// last value of pred.
func (c *Cond) WaitFor(pred func() bool, timeout time.Duration) bool {
	if pred() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for !pred() {
		ch := c.channel()
		c.L.Unlock()
		select {
		case <-ch:
			c.L.Lock()
		case <-timer.C:
			c.L.Lock()
			return pred()
		}
	}
	return true
}

func (c *Cond) channel() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters == nil {
		c.waiters = make(chan struct{})
	}
	return c.waiters
}

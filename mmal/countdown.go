package mmal

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/mmalkit/errors"
)

// Countdown blocks a waiter until a fixed number of terminal signals have
// arrived, or until it is failed.
type Countdown struct {
	mu        sync.Mutex
	armed     bool
	remaining int
	done      chan struct{}
	err       error
}

// NewCountdown returns a disarmed countdown.
func NewCountdown() *Countdown {
	return &Countdown{}
}

// Arm expects k signals. It fails while a previous arm is outstanding.
func (c *Countdown) Arm(k int) error {
	if k < 1 {
		return errors.InvalidInput("expected", fmt.Sprintf("countdown needs at least 1 signal, got %d", k))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstandingLocked() {
		return errors.Conflict(fmt.Sprintf("countdown already armed with %d signals outstanding", c.remaining))
	}
	c.armed = true
	c.remaining = k
	c.err = nil
	c.done = make(chan struct{})
	return nil
}

func (c *Countdown) outstandingLocked() bool {
	return c.armed && c.remaining > 0 && c.err == nil
}

// Signal records one terminal event and reports whether it was the last
// one. Signals on a countdown that is not outstanding are ignored.
func (c *Countdown) Signal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.outstandingLocked() {
		return false
	}
	c.remaining--
	if c.remaining == 0 {
		close(c.done)
		return true
	}
	return false
}

// Fail unblocks the waiter with err.
func (c *Countdown) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.outstandingLocked() {
		return
	}
	c.err = err
	close(c.done)
}

// Disarm abandons an outstanding arm so the countdown can be armed again.
func (c *Countdown) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstandingLocked() {
		c.err = errors.Conflict("countdown disarmed")
		close(c.done)
	}
	c.armed = false
}

// Wait blocks until every expected signal arrived, the countdown failed or
// ctx is done. Expiry of ctx is reported as a TIMEOUT error.
func (c *Countdown) Wait(ctx context.Context) error {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return errors.Conflict("countdown not armed")
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.err
	case <-ctx.Done():
		return errors.Timeout("capture").WithCause(ctx.Err())
	}
}

// Remaining returns the number of signals still expected.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Reached reports whether an armed countdown received all its signals.
func (c *Countdown) Reached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed && c.remaining == 0 && c.err == nil
}

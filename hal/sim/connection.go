package sim

import (
	"sync"

	"github.com/kbukum/mmalkit/hal"
)

// Connection is a native tunnel. Enabling it enables whichever end is not
// already enabled and starts forwarding frames.
type Connection struct {
	out, in *Port

	mu         sync.Mutex
	enabled    bool
	destroyed  bool
	enabledOut bool
	enabledIn  bool
}

var _ hal.ConnectionHandle = (*Connection)(nil)

func (c *Connection) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return hal.ErrDestroyed
	}
	if c.enabled {
		return nil
	}
	if !c.in.Enabled() {
		if err := c.in.Enable(nil); err != nil {
			return err
		}
		c.enabledIn = true
	}
	if !c.out.Enabled() {
		if err := c.out.Enable(nil); err != nil {
			if c.enabledIn {
				_ = c.in.Disable()
				c.enabledIn = false
			}
			return err
		}
		c.enabledOut = true
	}
	c.out.setPeer(c.in)
	c.enabled = true
	return nil
}

func (c *Connection) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disableLocked()
}

func (c *Connection) disableLocked() error {
	if !c.enabled {
		return nil
	}
	c.out.setPeer(nil)
	if c.enabledOut {
		_ = c.out.Disable()
		c.enabledOut = false
	}
	if c.enabledIn {
		_ = c.in.Disable()
		c.enabledIn = false
	}
	c.enabled = false
	return nil
}

// Destroy disables the tunnel and detaches both ports. Destroying twice is
// a no-op.
func (c *Connection) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	_ = c.disableLocked()
	c.out.detach(c)
	c.in.detach(c)
	c.destroyed = true
	return nil
}

// Enabled reports whether frames are being forwarded.
func (c *Connection) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

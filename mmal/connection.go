package mmal

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

// Mode selects how a connection moves buffers.
type Mode int

const (
	// Tunnelled hands buffers from engine to engine without managed code.
	Tunnelled Mode = iota
	// Intercepted routes every buffer through the connection, which owns
	// the pool and may inspect or rewrite the payload.
	Intercepted
)

func (m Mode) String() string {
	if m == Intercepted {
		return "intercepted"
	}
	return "tunnelled"
}

// ParseMode resolves "tunnelled" or "intercepted".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "tunnel", "tunnelled":
		return Tunnelled, nil
	case "intercept", "intercepted":
		return Intercepted, nil
	}
	return Tunnelled, errors.InvalidInput("mode", fmt.Sprintf("unknown connection mode %q", s))
}

// Interceptor sees each buffer of an intercepted connection before it is
// passed downstream. It may rewrite the payload in place.
type Interceptor func(b *Buffer) error

// ConnState is the lifecycle state of a Connection.
type ConnState int

const (
	ConnCreated ConnState = iota
	ConnEnabled
	ConnDisabled
	ConnDestroyed
)

func (s ConnState) String() string {
	return [...]string{"created", "enabled", "disabled", "destroyed"}[s]
}

// ConnectOption configures Connect.
type ConnectOption func(*Connection)

// Intercept makes the connection intercepted with fn as the interceptor.
// fn may be nil to route buffers without touching them.
func Intercept(fn Interceptor) ConnectOption {
	return func(c *Connection) {
		c.mode = Intercepted
		c.interceptor = fn
	}
}

type side int

const (
	sideOutput side = iota
	sideInput
)

type connEvent struct {
	side side
	hdr  *hal.BufferHeader
}

// Connection links one output port to one input port.
type Connection struct {
	name        string
	out, in     *Port
	mode        Mode
	interceptor Interceptor
	log         *logger.Logger

	mu     sync.Mutex
	state  ConnState
	native hal.ConnectionHandle
	pool   *Pool

	evMu    sync.Mutex
	events  chan connEvent
	running atomic.Bool
	stopped chan struct{}

	forwarded atomic.Uint64
}

// Connect links out to in and returns the downstream port. When out is
// already connected the existing downstream port is returned and nothing
// new is created.
func Connect(out, in *Port, opts ...ConnectOption) (*Port, error) {
	if out.Type() != hal.PortOutput || in.Type() != hal.PortInput {
		return nil, errors.InvalidInput("port", fmt.Sprintf("cannot connect %s to %s", out.Name(), in.Name()))
	}
	if existing := out.Connection(); existing != nil {
		return existing.in, nil
	}
	if in.Connection() != nil {
		return nil, errors.Conflict(fmt.Sprintf("%s is already connected", in.Name()))
	}

	c := &Connection{
		name: out.Name() + "->" + in.Name(),
		out:  out,
		in:   in,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = out.comp.log.WithFields(logger.Fields(logger.FieldConnection, c.name, "mode", c.mode.String()))

	if out.drivesBuffers() || in.drivesBuffers() {
		return nil, errors.Conflict(fmt.Sprintf("%s: ports with a consumer or producer cannot be connected", c.name))
	}
	switch c.mode {
	case Intercepted:
		if in.HasHandler() {
			return nil, errors.Conflict(fmt.Sprintf("%s: intercepted ports must not have handlers", c.name))
		}
	case Tunnelled:
		h, err := out.comp.host.Connect(out.native, in.native)
		if err != nil {
			return nil, errors.ComponentState(c.name, "connect", err)
		}
		c.native = h
	}

	out.mu.Lock()
	out.conn = c
	if c.mode == Intercepted {
		out.managed = c
	}
	out.mu.Unlock()
	in.mu.Lock()
	in.conn = c
	if c.mode == Intercepted {
		in.managed = c
	}
	in.mu.Unlock()

	c.log.Debug("connection created")
	return in, nil
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) Mode() Mode { return c.mode }

// Output returns the upstream port.
func (c *Connection) Output() *Port { return c.out }

// Input returns the downstream port.
func (c *Connection) Input() *Port { return c.in }

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Forwarded returns the number of buffers passed downstream by an
// intercepted connection.
func (c *Connection) Forwarded() uint64 { return c.forwarded.Load() }

// Pool returns the pool of an intercepted connection.
func (c *Connection) Pool() *Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// Enable starts moving buffers. Both components must be enabled.
func (c *Connection) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case ConnEnabled:
		return nil
	case ConnDestroyed:
		return errors.ComponentState(c.name, "enable", hal.ErrDestroyed)
	}
	if !c.out.comp.Enabled() || !c.in.comp.Enabled() {
		return errors.ComponentState(c.name, "enable", fmt.Errorf("both components must be enabled"))
	}

	if c.mode == Tunnelled {
		if err := c.native.Enable(); err != nil {
			return errors.ComponentState(c.name, "enable", err)
		}
	} else if err := c.start(); err != nil {
		return err
	}
	c.state = ConnEnabled
	c.log.Debug("connection enabled")
	return nil
}

// start allocates the connection pool, enables both ports natively and
// primes the output port.
func (c *Connection) start() error {
	num := max(c.out.native.BufferNum(), c.in.native.BufferNum())
	size := max(c.out.native.BufferSize(), c.in.native.BufferSize())
	pool, err := NewPool(c.out, num, size)
	if err != nil {
		return errors.ComponentState(c.name, "allocate pool", err)
	}
	c.pool = pool

	c.evMu.Lock()
	c.events = make(chan connEvent, 2*num+2)
	c.running.Store(true)
	c.evMu.Unlock()
	c.stopped = make(chan struct{})
	go c.dispatch(c.events, c.stopped)

	for _, p := range []*Port{c.out, c.in} {
		p.mu.Lock()
		p.enabled = true
		p.pool = pool
		p.err = nil
		p.mu.Unlock()
	}

	if err := c.in.native.Enable(c.onInput); err != nil {
		_ = c.stop(false, false)
		return errors.ComponentState(c.in.name, "enable", err)
	}
	if err := c.out.native.Enable(c.onOutput); err != nil {
		_ = c.stop(false, true)
		return errors.ComponentState(c.out.name, "enable", err)
	}

	for b := pool.queue.Get(); b != nil; b = pool.queue.Get() {
		if err := c.out.send(b); err != nil {
			_ = c.stop(true, true)
			return err
		}
	}
	return nil
}

func (c *Connection) onOutput(_ hal.PortHandle, hdr *hal.BufferHeader) {
	c.enqueue(connEvent{side: sideOutput, hdr: hdr})
}

func (c *Connection) onInput(_ hal.PortHandle, hdr *hal.BufferHeader) {
	c.enqueue(connEvent{side: sideInput, hdr: hdr})
}

func (c *Connection) enqueue(ev connEvent) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if !c.running.Load() || c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.out.stats.dropped.Add(1)
		c.out.comp.emit(Event{Kind: EventDropped, Port: c.name, Err: fmt.Errorf("%s: completion queue full", c.name)})
	}
}

func (c *Connection) dispatch(events <-chan connEvent, done chan struct{}) {
	defer close(done)
	for ev := range events {
		b, err := bufferOf(ev.hdr)
		if err == nil {
			err = b.transition(BufferSent, BufferFilled)
		}
		if err != nil {
			c.out.fail(err)
			continue
		}
		if ev.side == sideOutput {
			c.forward(b)
		} else {
			c.recycle(b)
		}
	}
}

// forward passes a completed output buffer through the interceptor to the
// input port.
func (c *Connection) forward(b *Buffer) {
	c.out.stats.completed.Add(1)
	if b.Len() == 0 && b.Flags() == 0 {
		c.out.release(b)
		c.resend()
		return
	}
	if c.interceptor != nil {
		if err := c.intercept(b); err != nil {
			c.out.release(b)
			c.out.fail(err)
			c.resend()
			return
		}
	}
	if err := c.in.send(b); err != nil {
		c.in.fail(err)
		c.resend()
		return
	}
	c.forwarded.Add(1)
}

func (c *Connection) intercept(b *Buffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: interceptor panic: %v", c.name, r)
		}
	}()
	if err := c.interceptor(b); err != nil {
		return fmt.Errorf("%s: interceptor: %w", c.name, err)
	}
	return nil
}

// recycle releases a buffer returned by the input port and, until the input
// port's countdown is reached, sends a replacement to the output port.
func (c *Connection) recycle(b *Buffer) {
	c.in.stats.completed.Add(1)
	terminal := b.Flags().Terminal()

	lock := classLock(hal.PortInput)
	lock.Lock()
	c.in.release(b)
	lock.Unlock()

	c.in.mu.Lock()
	cd := c.in.countdown
	c.in.mu.Unlock()
	if cd != nil && terminal {
		cd.Signal()
	}
	c.resend()
}

// reached reports whether the countdown armed on the input port is done.
func (c *Connection) reached() bool {
	c.in.mu.Lock()
	cd := c.in.countdown
	c.in.mu.Unlock()
	return cd != nil && cd.Reached()
}

func (c *Connection) resend() {
	if !c.running.Load() || c.reached() {
		return
	}
	lock := classLock(hal.PortOutput)
	lock.Lock()
	b := c.pool.queue.Get()
	lock.Unlock()
	if b == nil {
		c.out.starve(c.pool)
		return
	}
	if err := c.out.send(b); err != nil {
		c.out.fail(err)
	}
}

// refill puts every free connection buffer back on the output port.
func (c *Connection) refill() error {
	if !c.running.Load() {
		return nil
	}
	lock := classLock(hal.PortOutput)
	lock.Lock()
	var free []*Buffer
	for b := c.pool.queue.Get(); b != nil; b = c.pool.queue.Get() {
		free = append(free, b)
	}
	lock.Unlock()

	for i, b := range free {
		if err := c.out.send(b); err != nil {
			for _, rest := range free[i+1:] {
				_ = rest.Release()
			}
			return err
		}
	}
	return nil
}

// stop halts the dispatcher, disables the native ports that were enabled
// and reclaims the pool.
func (c *Connection) stop(outEnabled, inEnabled bool) error {
	c.evMu.Lock()
	c.running.Store(false)
	if c.events != nil {
		close(c.events)
		c.events = nil
	}
	c.evMu.Unlock()
	if c.stopped != nil {
		<-c.stopped
	}

	var errs []error
	if outEnabled {
		errs = append(errs, c.out.native.Disable())
	}
	if inEnabled {
		errs = append(errs, c.in.native.Disable())
	}
	for _, p := range []*Port{c.out, c.in} {
		p.mu.Lock()
		p.enabled = false
		p.mu.Unlock()
	}
	if c.pool != nil {
		c.pool.Reclaim()
		errs = append(errs, c.pool.Destroy())
	}
	if err := stderrors.Join(errs...); err != nil {
		return errors.ComponentState(c.name, "disable", err)
	}
	return nil
}

// Disable stops moving buffers. Disabling a connection that is not
// enabled is a no-op.
func (c *Connection) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disableLocked()
}

func (c *Connection) disableLocked() error {
	if c.state != ConnEnabled {
		return nil
	}
	var err error
	if c.mode == Tunnelled {
		if nerr := c.native.Disable(); nerr != nil {
			err = errors.ComponentState(c.name, "disable", nerr)
		}
	} else {
		err = c.stop(true, true)
	}
	c.state = ConnDisabled
	c.log.Debug("connection disabled")
	return err
}

// Destroy disables the connection and clears both ports' references to
// it. Destroying twice is a no-op.
func (c *Connection) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnDestroyed {
		return nil
	}
	errs := []error{c.disableLocked()}
	if c.native != nil {
		if err := c.native.Destroy(); err != nil {
			errs = append(errs, errors.ComponentState(c.name, "destroy", err))
		}
	}
	for _, p := range []*Port{c.out, c.in} {
		p.mu.Lock()
		if p.conn == c {
			p.conn = nil
		}
		if p.managed == c {
			p.managed = nil
		}
		p.mu.Unlock()
	}
	c.state = ConnDestroyed
	c.log.Debug("connection destroyed")
	return stderrors.Join(errs...)
}

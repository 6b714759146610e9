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

// Consumer receives payloads completed on an output port. The buffer is
// released after Consume returns unless it called Buffer.Retain.
type Consumer interface {
	Consume(b *Buffer) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(b *Buffer) error

func (f ConsumerFunc) Consume(b *Buffer) error { return f(b) }

// Producer fills input buffers. It returns eof once the source is
// exhausted; a buffer returned with eof may still carry a final payload.
// That payload goes out in one buffer flagged end-of-stream rather than
// being followed by an empty end-of-stream buffer, and the port then
// sends nothing until it is armed again. A producer that returns neither
// data nor eof stalls the port.
type Producer interface {
	Produce(b *Buffer) (eof bool, err error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(b *Buffer) (bool, error)

func (f ProducerFunc) Produce(b *Buffer) (bool, error) { return f(b) }

type portCounters struct {
	sent      atomic.Uint64
	completed atomic.Uint64
	released  atomic.Uint64
	starved   atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// Port is a typed endpoint of a Component.
type Port struct {
	comp   *Component
	native hal.PortHandle
	info   hal.PortInfo
	name   string
	log    *logger.Logger

	mu        sync.Mutex
	enabled   bool
	pool      *Pool
	consumer  Consumer
	producer  Producer
	slots     bool
	countdown *Countdown
	conn      *Connection
	managed   *Connection
	retired   bool
	err       error
	stopped   chan struct{}

	evMu    sync.Mutex
	events  chan *hal.BufferHeader
	running atomic.Bool

	stats portCounters
}

func newPort(c *Component, native hal.PortHandle) *Port {
	info := native.Info()
	name := fmt.Sprintf("%s:%s:%d", c.name, info.Type, info.Index)
	return &Port{
		comp:   c,
		native: native,
		info:   info,
		name:   name,
		log:    c.log.WithFields(logger.Fields(logger.FieldPort, name)),
	}
}

// Name identifies the port as component:type:index.
func (p *Port) Name() string { return p.name }

func (p *Port) Type() hal.PortType { return p.info.Type }

func (p *Port) Index() int { return p.info.Index }

func (p *Port) Info() hal.PortInfo { return p.info }

// Component returns the owning component.
func (p *Port) Component() *Component { return p.comp }

// Native returns the engine handle.
func (p *Port) Native() hal.PortHandle { return p.native }

func (p *Port) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Pool returns the current pool, or the last one after disable.
func (p *Port) Pool() *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool
}

// Connection returns the connection this port is an endpoint of.
func (p *Port) Connection() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Err returns the first error raised while handling completions since the
// port was last enabled.
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// SetConsumer registers the handler for an output port.
func (p *Port) SetConsumer(c Consumer) error {
	return p.setHandler(hal.PortOutput, true, func() { p.consumer = c })
}

// SetProducer registers the source for an input port.
func (p *Port) SetProducer(pr Producer) error {
	return p.setHandler(hal.PortInput, true, func() { p.producer = pr })
}

// SetSlots puts an input port in slot mode: empty buffers are lent to the
// engine, which returns them holding what reached the port. c, if not nil,
// sees each returned payload. An end-of-stream buffer retires the port.
func (p *Port) SetSlots(c Consumer) error {
	return p.setHandler(hal.PortInput, false, func() {
		p.slots = true
		p.consumer = c
	})
}

// setHandler applies a handler change. Exclusive handlers move buffers
// themselves and cannot coexist with any connection.
func (p *Port) setHandler(want hal.PortType, exclusive bool, apply func()) error {
	if p.info.Type != want {
		return errors.InvalidInput("port", fmt.Sprintf("%s is a %s port, handler needs %s", p.name, p.info.Type, want))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return errors.Conflict(fmt.Sprintf("%s: handler can only change while disabled", p.name))
	}
	if p.managed != nil {
		return errors.Conflict(fmt.Sprintf("%s: buffers are managed by its connection", p.name))
	}
	if exclusive && p.conn != nil {
		return errors.Conflict(fmt.Sprintf("%s: connected ports take no consumer or producer", p.name))
	}
	apply()
	return nil
}

// HasHandler reports whether the port performs managed buffer I/O.
func (p *Port) HasHandler() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasHandlerLocked()
}

func (p *Port) hasHandlerLocked() bool {
	return p.consumer != nil || p.producer != nil || p.slots
}

// drivesBuffers reports whether a consumer or producer moves the port's
// buffers. Slot mode leaves that to the engine.
func (p *Port) drivesBuffers() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.producer != nil || (p.consumer != nil && !p.slots)
}

// Enable starts the port. Ports with a handler get a pool sized to the
// committed buffer count and size and are primed before Enable returns.
// Enabling an enabled port is a no-op.
func (p *Port) Enable() error {
	if st := p.comp.State(); st < StateConfigured || st == StateDestroyed {
		return errors.ComponentState(p.name, "enable", fmt.Errorf("component %s is %s", p.comp.name, st))
	}
	p.mu.Lock()
	if p.enabled {
		p.mu.Unlock()
		return nil
	}
	if p.managed != nil {
		p.mu.Unlock()
		return errors.Conflict(fmt.Sprintf("%s: enabled through its connection", p.name))
	}

	if p.info.Type == hal.PortControl || p.info.Type == hal.PortClock {
		if err := p.native.Enable(p.onControl); err != nil {
			p.mu.Unlock()
			return errors.ComponentState(p.name, "enable", err)
		}
		p.enabled = true
		p.mu.Unlock()
		p.log.Debug("port enabled")
		return nil
	}

	if !p.hasHandlerLocked() {
		p.mu.Unlock()
		return errors.Conflict(fmt.Sprintf("%s: no consumer, producer or slots registered", p.name))
	}

	pool, err := NewPool(p, p.native.BufferNum(), p.native.BufferSize())
	if err != nil {
		p.mu.Unlock()
		return errors.ComponentState(p.name, "allocate pool", err)
	}
	p.pool = pool
	p.enabled = true
	p.retired = false
	p.err = nil
	p.stopped = make(chan struct{})
	events := make(chan *hal.BufferHeader, pool.Size()+1)
	p.mu.Unlock()

	p.evMu.Lock()
	p.events = events
	p.running.Store(true)
	p.evMu.Unlock()
	go p.dispatch(events, p.stopped)

	if err := p.native.Enable(p.onNative); err != nil {
		_ = p.teardown(false)
		return errors.ComponentState(p.name, "enable", err)
	}
	if err := p.prime(); err != nil {
		_ = p.teardown(true)
		return errors.ComponentState(p.name, "prime", err)
	}
	p.log.Debug("port enabled", logger.PortFields(p.name, pool.Size(), pool.FreeCount()))
	return nil
}

// Disable stops the port, reclaims every buffer and destroys the pool.
// Ports managed by an intercepted connection disable that connection.
// Disabling a disabled port is a no-op.
func (p *Port) Disable() error {
	p.mu.Lock()
	if conn := p.managed; conn != nil {
		p.mu.Unlock()
		return conn.Disable()
	}
	enabled, pooled := p.enabled, p.pool != nil && !p.pool.Destroyed()
	p.mu.Unlock()
	if !enabled {
		return nil
	}
	if !pooled {
		err := p.native.Disable()
		p.mu.Lock()
		p.enabled = false
		p.mu.Unlock()
		if err != nil {
			return errors.ComponentState(p.name, "disable", err)
		}
		p.log.Debug("port disabled")
		return nil
	}
	return p.teardown(true)
}

// teardown stops the dispatcher, disables the native port when it was
// enabled, then reclaims and destroys the pool.
func (p *Port) teardown(nativeEnabled bool) error {
	p.evMu.Lock()
	p.running.Store(false)
	if p.events != nil {
		close(p.events)
		p.events = nil
	}
	p.evMu.Unlock()

	p.mu.Lock()
	stopped, pool := p.stopped, p.pool
	p.mu.Unlock()
	if stopped != nil {
		<-stopped
	}

	var nerr error
	if nativeEnabled {
		nerr = p.native.Disable()
	}

	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()

	var reclaimed int
	if pool != nil {
		reclaimed = pool.Reclaim()
		if err := pool.Destroy(); err != nil {
			nerr = stderrors.Join(nerr, err)
		}
	}
	p.log.Debug("port disabled", logger.Fields(logger.FieldOperation, "disable", "reclaimed", reclaimed))
	if nerr != nil {
		return errors.ComponentState(p.name, "disable", nerr)
	}
	return nil
}

// Flush asks the engine to return every buffer it holds.
func (p *Port) Flush() error {
	if err := p.native.Flush(); err != nil {
		return nativeError(p.name, "flush", err)
	}
	return nil
}

// Format returns the staged format of the native port.
func (p *Port) Format() hal.Format { return p.native.Format() }

// BufferNum returns the configured buffer count.
func (p *Port) BufferNum() int { return p.native.BufferNum() }

// BufferSize returns the configured buffer size.
func (p *Port) BufferSize() int { return p.native.BufferSize() }

// SetParameter sets an engine parameter on the port.
func (p *Port) SetParameter(id hal.ParameterID, value any) error {
	if err := p.native.SetParameter(id, value); err != nil {
		return nativeError(p.name, "set "+id.String(), err)
	}
	return nil
}

// Parameter reads an engine parameter.
func (p *Port) Parameter(id hal.ParameterID) (any, error) {
	v, err := p.native.Parameter(id)
	if err != nil {
		return nil, nativeError(p.name, "get "+id.String(), err)
	}
	return v, nil
}

func nativeError(target, op string, err error) error {
	switch {
	case stderrors.Is(err, hal.ErrInvalidParam):
		return errors.InvalidInput(target, err.Error()).WithCause(err)
	case stderrors.Is(err, hal.ErrBusy):
		return errors.Conflict(fmt.Sprintf("%s: %s: %v", target, op, err)).WithCause(err)
	}
	return errors.ComponentState(target, op, err)
}

// onControl handles completions on ports without managed buffers.
func (p *Port) onControl(_ hal.PortHandle, hdr *hal.BufferHeader) {
	p.log.Trace("control event", logger.Fields(logger.FieldFlags, hdr.Flags.String()))
}

// PortStats is a snapshot of a port for status reporting.
type PortStats struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
	Format    string `json:"format"`
	Connected bool   `json:"connected"`
	PoolSize  int    `json:"pool_size"`
	Free      int    `json:"free"`
	InFlight  int    `json:"in_flight"`
	Held      int    `json:"held"`
	Sent      uint64 `json:"sent"`
	Completed uint64 `json:"completed"`
	Released  uint64 `json:"released"`
	Starved   uint64 `json:"starved"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
	Error     string `json:"error,omitempty"`
}

// Stats returns a snapshot of the port.
func (p *Port) Stats() PortStats {
	p.mu.Lock()
	s := PortStats{
		Name:      p.name,
		Type:      p.info.Type.String(),
		Enabled:   p.enabled,
		Connected: p.conn != nil,
	}
	pool := p.pool
	if p.err != nil {
		s.Error = p.err.Error()
	}
	p.mu.Unlock()

	s.Format = p.native.Format().String()
	if pool != nil && !pool.Destroyed() {
		s.PoolSize, s.Free, s.InFlight, s.Held = pool.Size(), pool.FreeCount(), pool.InFlight(), pool.Held()
	}
	s.Sent = p.stats.sent.Load()
	s.Completed = p.stats.completed.Load()
	s.Released = p.stats.released.Load()
	s.Starved = p.stats.starved.Load()
	s.Dropped = p.stats.dropped.Load()
	s.Errors = p.stats.errors.Load()
	return s
}

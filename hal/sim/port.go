package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

// Port is a simulated engine port.
//
// Output ports keep the headers sent to them in a FIFO until a behaviour
// or Deliver fills them. Input ports process data-bearing headers on a
// worker goroutine and hold empty headers as slots that incoming tunnel
// frames or Deliver complete.
type Port struct {
	comp *Component
	info hal.PortInfo

	mu        sync.Mutex
	changed   chan struct{}
	format    hal.Format
	committed hal.Format
	bufNum    int
	bufSize   int
	enabled   bool
	cb        hal.Callback
	pending   []*hal.BufferHeader
	queue     []*hal.BufferHeader
	worker    chan struct{}
	params    map[hal.ParameterID]any
	tunnel    *Connection
	peer      *Port

	failCommit int
	reject     func(hal.Format) error
	failEnable error
	sent       int
	dropped    int
	last       Frame
}

var _ hal.PortHandle = (*Port)(nil)

func newPort(c *Component, info hal.PortInfo) *Port {
	if info.Name == "" {
		info.Name = info.Type.String()
	}
	info.Name = fmt.Sprintf("%s:%s:%d", c.name, info.Name, info.Index)
	return &Port{
		comp:    c,
		info:    info,
		changed: make(chan struct{}),
		bufNum:  info.BufferNumRecommended,
		bufSize: info.BufferSizeRecommended,
		params:  make(map[hal.ParameterID]any),
	}
}

// broadcastLocked wakes every goroutine waiting on the port.
func (p *Port) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Port) Info() hal.PortInfo { return p.info }

// Component returns the owning component.
func (p *Port) Component() *Component { return p.comp }

func (p *Port) Format() hal.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.Clone()
}

func (p *Port) SetFormat(f hal.Format) {
	p.mu.Lock()
	p.format = f.Clone()
	p.mu.Unlock()
}

// Committed returns the last successfully committed format.
func (p *Port) Committed() hal.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed.Clone()
}

func (p *Port) BufferNum() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufNum
}

func (p *Port) BufferSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufSize
}

func (p *Port) SetBuffers(num, size int) {
	p.mu.Lock()
	p.bufNum, p.bufSize = num, size
	p.mu.Unlock()
}

// Commit validates the staged format and buffer sizing.
func (p *Port) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return fmt.Errorf("%w: %s is enabled", hal.ErrBusy, p.info.Name)
	}
	if p.failCommit > 0 {
		p.failCommit--
		return fmt.Errorf("%w: %s: injected failure", hal.ErrInvalidFormat, p.info.Name)
	}
	if p.info.Type == hal.PortInput || p.info.Type == hal.PortOutput {
		if p.bufNum < p.info.BufferNumMin || p.bufSize < p.info.BufferSizeMin {
			return fmt.Errorf("%w: %s: %d buffers of %d bytes below minimum", hal.ErrInvalidParam, p.info.Name, p.bufNum, p.bufSize)
		}
	}
	if p.reject != nil {
		if err := p.reject(p.format); err != nil {
			return fmt.Errorf("%w: %s: %v", hal.ErrInvalidFormat, p.info.Name, err)
		}
	}
	if err := p.comp.behaviour.Validate(p, p.format); err != nil {
		return fmt.Errorf("%w: %s: %v", hal.ErrInvalidFormat, p.info.Name, err)
	}
	p.committed = p.format.Clone()
	return nil
}

// Enable starts the port. Input ports enabled with a callback start a
// worker goroutine.
func (p *Port) Enable(cb hal.Callback) error {
	if p.comp.isDestroyed() {
		return hal.ErrDestroyed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return fmt.Errorf("%w: %s", hal.ErrAlreadyEnabled, p.info.Name)
	}
	if err := p.failEnable; err != nil {
		p.failEnable = nil
		return fmt.Errorf("%w: %s: %v", hal.ErrEnableFailed, p.info.Name, err)
	}
	p.enabled = true
	p.cb = cb
	p.pending = nil
	p.queue = nil
	if p.info.Type == hal.PortInput && cb != nil {
		p.worker = make(chan struct{})
		go p.work(p.worker)
	}
	return nil
}

// Disable stops the port and drops every header it holds.
func (p *Port) Disable() error {
	if !p.disable() {
		return nil
	}
	p.comp.behaviour.PortDisabled(p)
	return nil
}

func (p *Port) forceDisable() {
	if p.disable() {
		p.comp.behaviour.PortDisabled(p)
	}
}

func (p *Port) disable() bool {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return false
	}
	p.enabled = false
	p.cb = nil
	p.pending = nil
	p.queue = nil
	if _, ok := p.params[hal.ParamCapture]; ok {
		p.params[hal.ParamCapture] = false
	}
	worker := p.worker
	p.worker = nil
	p.broadcastLocked()
	p.mu.Unlock()

	if worker != nil {
		<-worker
	}
	return true
}

func (p *Port) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Send hands a header to the engine.
func (p *Port) Send(hdr *hal.BufferHeader) error {
	if hdr == nil {
		return fmt.Errorf("%w: nil header", hal.ErrInvalidParam)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled || p.cb == nil {
		return fmt.Errorf("%w: %s", hal.ErrNotEnabled, p.info.Name)
	}
	p.sent++
	if p.info.Type == hal.PortInput && (hdr.Length > 0 || hdr.Flags != 0) {
		p.queue = append(p.queue, hdr)
	} else {
		p.pending = append(p.pending, hdr)
	}
	p.broadcastLocked()
	return nil
}

// Flush returns every held header, emptied, through the callback.
func (p *Port) Flush() error {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", hal.ErrNotEnabled, p.info.Name)
	}
	held := append(p.pending, p.queue...)
	p.pending, p.queue = nil, nil
	for _, hdr := range held {
		hdr.Reset()
	}
	cb := p.cb
	p.mu.Unlock()

	for _, hdr := range held {
		if cb != nil {
			cb(p, hdr)
		}
	}
	return nil
}

// work processes data-bearing input headers in arrival order.
func (p *Port) work(done chan struct{}) {
	defer close(done)
	for {
		p.mu.Lock()
		for p.enabled && len(p.queue) == 0 {
			ch := p.changed
			p.mu.Unlock()
			<-ch
			p.mu.Lock()
		}
		if !p.enabled {
			p.mu.Unlock()
			return
		}
		hdr := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		fr := Frame{Data: append([]byte(nil), hdr.Payload()...), Flags: hdr.Flags, PTS: hdr.PTS}
		p.mu.Lock()
		p.last = fr
		p.mu.Unlock()
		p.comp.behaviour.Input(p, fr)

		p.mu.Lock()
		cb := p.cb
		p.mu.Unlock()
		if cb != nil {
			cb(p, hdr)
		}
	}
}

// takePending pops the oldest pending header, waiting up to wait for one,
// and fills it while the port is still known to be enabled. Once Disable
// returns no header taken here is written again.
func (p *Port) takePending(wait time.Duration, fill func(*hal.BufferHeader)) (*hal.BufferHeader, hal.Callback, error) {
	deadline := time.Now().Add(wait)
	p.mu.Lock()
	for {
		if !p.enabled || p.cb == nil {
			p.mu.Unlock()
			return nil, nil, fmt.Errorf("%w: %s", hal.ErrNotEnabled, p.info.Name)
		}
		if len(p.pending) > 0 {
			hdr := p.pending[0]
			p.pending = p.pending[1:]
			fill(hdr)
			cb := p.cb
			p.mu.Unlock()
			return hdr, cb, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.dropped++
			p.mu.Unlock()
			return nil, nil, fmt.Errorf("%w: %s", hal.ErrNoBuffer, p.info.Name)
		}
		ch := p.changed
		p.mu.Unlock()
		t := time.NewTimer(remaining)
		select {
		case <-ch:
		case <-t.C:
		}
		t.Stop()
		p.mu.Lock()
	}
}

// Emit produces a frame on an output port. A tunnelled port forwards it to
// the peer input; otherwise it is split across pending headers, each
// returned through the callback. Frames are dropped when no header becomes
// available within the host buffer wait.
func (p *Port) Emit(fr Frame) error {
	p.mu.Lock()
	if !p.enabled {
		p.dropped++
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", hal.ErrNotEnabled, p.info.Name)
	}
	peer := p.peer
	p.mu.Unlock()
	if peer != nil {
		return peer.accept(fr)
	}

	off := 0
	for first := true; first || off < len(fr.Data); first = false {
		hdr, cb, err := p.takePending(p.comp.host.bufferWait, func(hdr *hal.BufferHeader) {
			n := copy(hdr.Data, fr.Data[off:])
			off += n
			hdr.Offset = 0
			hdr.Length = n
			hdr.PTS = fr.PTS
			hdr.Flags = chunkFlags(fr.Flags, first, off >= len(fr.Data))
		})
		if err != nil {
			p.comp.host.log.Debug("frame dropped", logger.MergeWithError(logger.Fields(logger.FieldPort, p.info.Name), err))
			return err
		}
		cb(p, hdr)
	}
	return nil
}

func chunkFlags(f hal.Flags, first, last bool) hal.Flags {
	if !first {
		f &^= hal.FlagFrameStart | hal.FlagConfig
	}
	if !last {
		f &^= hal.FlagFrameEnd | hal.FlagEOS
	}
	return f
}

// accept receives a tunnelled frame on an input port.
func (p *Port) accept(fr Frame) error {
	p.mu.Lock()
	if !p.enabled {
		p.dropped++
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", hal.ErrNotEnabled, p.info.Name)
	}
	p.last = fr
	var slot *hal.BufferHeader
	cb := p.cb
	if cb != nil && len(p.pending) > 0 {
		slot = p.pending[0]
		p.pending = p.pending[1:]
		slot.Offset = 0
		slot.Length = copy(slot.Data, fr.Data)
		slot.Flags = fr.Flags
		slot.PTS = fr.PTS
	}
	p.mu.Unlock()

	if slot != nil {
		cb(p, slot)
	}
	p.comp.behaviour.Input(p, fr)
	return nil
}

// Deliver completes the oldest pending header with data and flags and
// invokes the callback on the calling goroutine. It returns hal.ErrNoBuffer
// when nothing is pending.
func (p *Port) Deliver(data []byte, flags hal.Flags) error {
	hdr, cb, err := p.takePending(0, func(hdr *hal.BufferHeader) {
		hdr.Offset = 0
		hdr.Length = copy(hdr.Data, data)
		hdr.Flags = flags
	})
	if err != nil {
		return err
	}
	cb(p, hdr)
	return nil
}

// Pending returns the number of headers waiting on the port.
func (p *Port) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) + len(p.queue)
}

// Sent returns the number of headers ever sent to the port.
func (p *Port) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Last returns the most recent frame that reached an input port.
func (p *Port) Last() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Dropped returns the number of frames dropped for lack of a header.
func (p *Port) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// FailCommit makes the next n commits fail.
func (p *Port) FailCommit(n int) {
	p.mu.Lock()
	p.failCommit = n
	p.mu.Unlock()
}

// Reject installs a predicate consulted on every commit.
func (p *Port) Reject(fn func(hal.Format) error) {
	p.mu.Lock()
	p.reject = fn
	p.mu.Unlock()
}

// FailEnable makes the next Enable fail with err.
func (p *Port) FailEnable(err error) {
	p.mu.Lock()
	p.failEnable = err
	p.mu.Unlock()
}

func (p *Port) SetParameter(id hal.ParameterID, value any) error {
	if err := checkParameter(id, value); err != nil {
		return fmt.Errorf("%w: %s %s: %v", hal.ErrInvalidParam, p.info.Name, id, err)
	}
	p.mu.Lock()
	prev, had := p.params[id]
	p.params[id] = value
	p.mu.Unlock()

	if err := p.comp.behaviour.SetParameter(p, id, value); err != nil {
		p.mu.Lock()
		if had {
			p.params[id] = prev
		} else {
			delete(p.params, id)
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Port) Parameter(id hal.ParameterID) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.params[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s not set", hal.ErrInvalidParam, p.info.Name, id)
	}
	return v, nil
}

func (p *Port) storeParameter(id hal.ParameterID, value any) {
	p.mu.Lock()
	p.params[id] = value
	p.mu.Unlock()
}

func (p *Port) attach(c *Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tunnel != nil {
		return fmt.Errorf("%w: %s already tunnelled", hal.ErrBusy, p.info.Name)
	}
	p.tunnel = c
	return nil
}

func (p *Port) detach(c *Connection) {
	p.mu.Lock()
	if p.tunnel == c {
		p.tunnel = nil
		p.peer = nil
	}
	p.mu.Unlock()
}

func (p *Port) setPeer(peer *Port) {
	p.mu.Lock()
	p.peer = peer
	p.mu.Unlock()
}

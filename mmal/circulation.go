package mmal

import (
	"fmt"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

// onNative runs on the engine goroutine. It only hands the header to the
// dispatcher.
func (p *Port) onNative(_ hal.PortHandle, hdr *hal.BufferHeader) {
	p.evMu.Lock()
	defer p.evMu.Unlock()
	if !p.running.Load() || p.events == nil {
		return
	}
	select {
	case p.events <- hdr:
	default:
		p.stats.dropped.Add(1)
		p.comp.emit(Event{Kind: EventDropped, Port: p.name, Err: fmt.Errorf("%s: completion queue full", p.name)})
	}
}

// dispatch handles completions in the order the engine returned them.
func (p *Port) dispatch(events <-chan *hal.BufferHeader, done chan struct{}) {
	defer close(done)
	for hdr := range events {
		p.complete(hdr)
	}
}

func (p *Port) complete(hdr *hal.BufferHeader) {
	b, err := bufferOf(hdr)
	if err != nil {
		p.fail(err)
		return
	}
	if err := b.transition(BufferSent, BufferFilled); err != nil {
		p.fail(err)
		return
	}
	p.stats.completed.Add(1)
	p.comp.metrics().Completion(bg, p.name)

	if p.info.Type == hal.PortOutput {
		p.completeOutput(b)
	} else {
		p.completeInput(b)
	}
}

// completeOutput delivers the payload, releases the buffer, signals the
// countdown on terminal buffers and keeps the port fed.
func (p *Port) completeOutput(b *Buffer) {
	p.mu.Lock()
	consumer, cd := p.consumer, p.countdown
	p.mu.Unlock()

	flags := b.Flags()
	var herr error
	if consumer != nil && (b.Len() > 0 || flags != 0) {
		herr = p.consume(consumer, b)
	}

	lock := classLock(p.info.Type)
	lock.Lock()
	if !b.Retained() {
		p.release(b)
	}
	if herr == nil && cd != nil && flags.Terminal() {
		cd.Signal()
	}
	lock.Unlock()

	if herr != nil {
		p.fail(herr)
		return
	}
	if cd != nil && cd.Reached() {
		return
	}
	p.replenish()
}

// completeInput recycles an input buffer the engine is done with.
func (p *Port) completeInput(b *Buffer) {
	p.mu.Lock()
	consumer, cd, slots := p.consumer, p.countdown, p.slots
	p.mu.Unlock()

	eos := b.EOS()
	var herr error
	if slots && consumer != nil && (b.Len() > 0 || b.Flags() != 0) {
		herr = p.consume(consumer, b)
	}

	lock := classLock(p.info.Type)
	lock.Lock()
	p.release(b)
	lock.Unlock()

	if herr != nil {
		p.fail(herr)
		return
	}
	if slots && eos {
		p.finish(cd)
		return
	}
	p.replenish()
}

func (p *Port) release(b *Buffer) {
	if err := b.Release(); err != nil {
		p.fail(err)
		return
	}
	p.stats.released.Add(1)
	p.comp.metrics().BufferReleased(bg, p.name)
}

// finish signals the countdown for an ended input stream and retires the
// port: no buffer is sent again until the next Arm.
func (p *Port) finish(cd *Countdown) {
	p.mu.Lock()
	p.retired = true
	p.mu.Unlock()
	if cd != nil {
		cd.Signal()
	}
	p.log.Debug("input stream ended")
}

func (p *Port) consume(c Consumer, b *Buffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: consumer panic: %v", p.name, r)
		}
	}()
	if err := c.Consume(b); err != nil {
		return fmt.Errorf("%s: consumer: %w", p.name, err)
	}
	return nil
}

func (p *Port) produce(pr Producer, b *Buffer) (eof bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: producer panic: %v", p.name, r)
		}
	}()
	eof, err = pr.Produce(b)
	if err != nil {
		return eof, fmt.Errorf("%s: producer: %w", p.name, err)
	}
	return eof, nil
}

// live reports whether the port may still put buffers in flight.
func (p *Port) live() (*Pool, Producer, bool) {
	if !p.running.Load() {
		return nil, nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.managed != nil || p.pool == nil || p.pool.Destroyed() || p.retired {
		return nil, nil, false
	}
	return p.pool, p.producer, true
}

// replenish sends one free buffer to keep the engine fed.
func (p *Port) replenish() {
	pool, producer, ok := p.live()
	if !ok {
		return
	}
	lock := classLock(p.info.Type)
	lock.Lock()
	b := pool.queue.Get()
	lock.Unlock()
	if b == nil {
		p.starve(pool)
		return
	}
	if producer != nil {
		if err := p.feed(producer, b); err != nil {
			p.fail(err)
		}
		return
	}
	if err := p.send(b); err != nil {
		p.fail(err)
	}
}

// prime puts every free buffer in flight.
func (p *Port) prime() error {
	pool, producer, ok := p.live()
	if !ok {
		return nil
	}
	lock := classLock(p.info.Type)
	lock.Lock()
	var free []*Buffer
	for b := pool.queue.Get(); b != nil; b = pool.queue.Get() {
		free = append(free, b)
	}
	lock.Unlock()

	for i, b := range free {
		var err error
		if producer != nil {
			err = p.feed(producer, b)
		} else {
			err = p.send(b)
		}
		if err == nil && !p.isRetired() {
			continue
		}
		for _, rest := range free[i+1:] {
			_ = rest.Release()
		}
		return err
	}
	return nil
}

func (p *Port) isRetired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retired
}

// feed fills b from the producer and sends it when it carries data or ends
// the stream. An empty buffer goes back to the pool.
func (p *Port) feed(pr Producer, b *Buffer) error {
	eof, err := p.produce(pr, b)
	if err != nil {
		_ = b.Release()
		return err
	}
	if eof {
		b.SetFlags(b.Flags() | hal.FlagEOS)
	}
	if b.Len() == 0 {
		_ = b.Release()
	} else if err := p.send(b); err != nil {
		return err
	}
	if eof {
		p.mu.Lock()
		cd := p.countdown
		p.mu.Unlock()
		p.finish(cd)
	}
	return nil
}

// send hands a Filled buffer to the engine. On failure the buffer is back
// in the pool.
func (p *Port) send(b *Buffer) error {
	if err := b.transition(BufferFilled, BufferSent); err != nil {
		return err
	}
	if err := p.native.Send(b.hdr); err != nil {
		if b.transition(BufferSent, BufferFilled) == nil {
			_ = b.Release()
		}
		return errors.ComponentState(p.name, "send buffer", err)
	}
	p.stats.sent.Add(1)
	p.comp.metrics().BufferSent(bg, p.name, 1)
	return nil
}

func (p *Port) starve(pool *Pool) {
	p.stats.starved.Add(1)
	p.comp.metrics().Starvation(bg, p.name)
	p.log.Warn("buffer pool exhausted", logger.PortFields(p.name, pool.Size(), pool.FreeCount()))
	p.comp.emit(Event{Kind: EventStarvation, Port: p.name, Err: errors.Starvation(p.name)})
}

// fail records err as the port error and fails the armed countdown. The
// buffer bookkeeping is already settled when fail runs.
func (p *Port) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	cd := p.countdown
	p.mu.Unlock()

	p.stats.errors.Add(1)
	p.comp.metrics().CallbackError(bg, p.name)
	kind := EventCallbackError
	if errors.HasCode(err, errors.ErrCodeBufferProtocol) {
		kind = EventProtocolViolation
	}
	p.log.Error("completion failed", logger.ErrorFields("complete", err))
	p.comp.emit(Event{Kind: kind, Port: p.name, Err: err})
	if cd != nil {
		cd.Fail(err)
	}
}

// Arm attaches cd to the port, arms it for k terminal buffers and puts any
// free buffers back in flight. The input port of an intercepted connection
// hands circulation to its connection; the output port of one cannot be
// armed since its buffers complete into the connection.
func (p *Port) Arm(cd *Countdown, k int) error {
	p.mu.Lock()
	conn := p.managed
	p.mu.Unlock()
	if conn != nil && conn.out == p {
		return errors.Conflict(fmt.Sprintf("%s: arm %s instead", p.name, conn.in.name))
	}
	if err := cd.Arm(k); err != nil {
		return err
	}
	p.mu.Lock()
	p.countdown = cd
	p.retired = false
	p.err = nil
	p.mu.Unlock()
	if conn != nil {
		return conn.refill()
	}
	return p.prime()
}

// Disarm detaches the port's countdown. Terminal buffers completing later
// signal nothing. The countdown itself is left as it is.
func (p *Port) Disarm() {
	p.mu.Lock()
	p.countdown = nil
	p.mu.Unlock()
}

// ReleaseBuffer returns a retained buffer to circulation. It is a no-op
// once the port's pool has been destroyed.
func (p *Port) ReleaseBuffer(b *Buffer) error {
	if b.pool.Destroyed() {
		return nil
	}
	lock := classLock(p.info.Type)
	lock.Lock()
	err := b.Release()
	lock.Unlock()
	if err != nil {
		if b.pool.Destroyed() {
			return nil
		}
		return err
	}
	p.stats.released.Add(1)
	p.comp.metrics().BufferReleased(bg, p.name)

	p.mu.Lock()
	cd := p.countdown
	p.mu.Unlock()
	if cd != nil && cd.Reached() {
		return nil
	}
	return p.prime()
}

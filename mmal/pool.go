package mmal

import (
	"fmt"
	"sync"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
)

// classLocks serialize completion bookkeeping per port direction class.
var classLocks [4]sync.Mutex

func classLock(t hal.PortType) *sync.Mutex {
	if int(t) < 0 || int(t) >= len(classLocks) {
		return &classLocks[hal.PortControl]
	}
	return &classLocks[t]
}

// Queue is the FIFO of free buffers of a pool.
type Queue struct {
	mu    sync.Mutex
	items []*Buffer
	shut  bool
}

// Get takes the oldest free buffer and hands it to the caller, or returns
// nil when the queue is empty.
func (q *Queue) Get() *Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 && !q.shut {
		b := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		if b.transition(BufferFree, BufferFilled) == nil {
			return b
		}
	}
	return nil
}

func (q *Queue) put(b *Buffer) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pool is a fixed set of buffers sized for a port.
type Pool struct {
	owner   *Port
	buffers []*Buffer
	size    int
	queue   *Queue

	mu        sync.Mutex
	destroyed bool
}

// NewPool allocates count buffers of size bytes, all free and queued.
// owner may be nil for pools not tied to a port.
func NewPool(owner *Port, count, size int) (*Pool, error) {
	if count < 1 {
		return nil, errors.InvalidInput("buffer_num", fmt.Sprintf("pool needs at least one buffer, got %d", count))
	}
	if size < 1 {
		return nil, errors.InvalidInput("buffer_size", fmt.Sprintf("buffer size must be positive, got %d", size))
	}
	p := &Pool{owner: owner, size: size, queue: &Queue{}}
	for i := 0; i < count; i++ {
		b := newBuffer(p, i, size)
		p.buffers = append(p.buffers, b)
		p.queue.put(b)
	}
	return p, nil
}

// Queue returns the free-buffer queue.
func (p *Pool) Queue() *Queue { return p.queue }

// Size returns the number of buffers.
func (p *Pool) Size() int { return len(p.buffers) }

// BufferSize returns the capacity of each buffer.
func (p *Pool) BufferSize() int { return p.size }

func (p *Pool) count(s BufferState) int {
	n := 0
	for _, b := range p.buffers {
		if b.State() == s {
			n++
		}
	}
	return n
}

// FreeCount returns the number of Free buffers.
func (p *Pool) FreeCount() int { return p.count(BufferFree) }

// InFlight returns the number of buffers held by the engine.
func (p *Pool) InFlight() int { return p.count(BufferSent) }

// Held returns the number of buffers held by managed code.
func (p *Pool) Held() int { return p.count(BufferFilled) }

// Reclaim forces every Sent or Filled buffer back to Free and returns how
// many were recovered. The engine must no longer hold any of them.
func (p *Pool) Reclaim() int {
	n := 0
	for _, b := range p.buffers {
		for _, from := range []BufferState{BufferSent, BufferFilled} {
			if b.state.CompareAndSwap(int32(from), int32(BufferFree)) {
				b.retained.Store(false)
				b.hdr.Reset()
				p.queue.put(b)
				n++
				break
			}
		}
	}
	return n
}

// Destroy reclaims every buffer and retires the pool. The owning port must
// be disabled. Destroying twice is a no-op.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil
	}
	if p.owner != nil && p.owner.Enabled() {
		return errors.Conflict(fmt.Sprintf("%s: pool destroyed while port enabled", p.owner.Name()))
	}
	p.Reclaim()
	p.queue.mu.Lock()
	p.queue.shut = true
	p.queue.mu.Unlock()
	p.destroyed = true
	return nil
}

// Destroyed reports whether Destroy has run.
func (p *Pool) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

package mmal

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
)

// BufferState is the ownership state of a Buffer.
type BufferState int32

const (
	BufferFree BufferState = iota
	BufferSent
	BufferFilled
)

func (s BufferState) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferSent:
		return "sent"
	case BufferFilled:
		return "filled"
	default:
		return "invalid"
	}
}

// Buffer wraps a native buffer header owned by a Pool.
type Buffer struct {
	hdr      *hal.BufferHeader
	pool     *Pool
	id       int
	state    atomic.Int32
	retained atomic.Bool
}

func newBuffer(pool *Pool, id, size int) *Buffer {
	b := &Buffer{hdr: hal.NewBufferHeader(size), pool: pool, id: id}
	b.hdr.UserData = b
	return b
}

// bufferOf recovers the Buffer behind a header returned by the engine.
func bufferOf(hdr *hal.BufferHeader) (*Buffer, error) {
	if hdr == nil {
		return nil, errors.BufferProtocol("nil buffer header returned by engine")
	}
	b, ok := hdr.UserData.(*Buffer)
	if !ok {
		return nil, errors.BufferProtocol("buffer header not owned by any pool")
	}
	return b, nil
}

func (b *Buffer) ID() int { return b.id }

// Pool returns the owning pool.
func (b *Buffer) Pool() *Pool { return b.pool }

func (b *Buffer) State() BufferState { return BufferState(b.state.Load()) }

func (b *Buffer) transition(from, to BufferState) error {
	if b.state.CompareAndSwap(int32(from), int32(to)) {
		return nil
	}
	return errors.BufferProtocol(fmt.Sprintf("buffer %d: %s -> %s while %s", b.id, from, to, b.State())).
		WithDetail("buffer", b.id)
}

// Bytes returns the valid payload. The slice aliases the buffer and must
// not be kept after the buffer is released.
func (b *Buffer) Bytes() []byte { return b.hdr.Payload() }

func (b *Buffer) Len() int { return b.hdr.Length }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.hdr.Data) }

func (b *Buffer) Flags() hal.Flags { return b.hdr.Flags }

// SetFlags replaces the flags.
func (b *Buffer) SetFlags(f hal.Flags) { b.hdr.Flags = f }

func (b *Buffer) EOS() bool { return b.hdr.Flags.Has(hal.FlagEOS) }

func (b *Buffer) PTS() time.Duration { return b.hdr.PTS }

func (b *Buffer) SetPTS(d time.Duration) { b.hdr.PTS = d }

// Fill replaces the payload with data, truncated to capacity, and marks
// end of stream when eos is set. It returns the number of bytes stored.
func (b *Buffer) Fill(data []byte, eos bool) int {
	b.hdr.Offset = 0
	b.hdr.Length = copy(b.hdr.Data, data)
	if eos {
		b.hdr.Flags |= hal.FlagEOS
	}
	return b.hdr.Length
}

// Write appends p to the payload. Bytes beyond capacity are not written
// and io.ErrShortWrite is returned.
func (b *Buffer) Write(p []byte) (int, error) {
	end := b.hdr.Offset + b.hdr.Length
	n := copy(b.hdr.Data[end:], p)
	b.hdr.Length += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Retain keeps a delivered buffer out of circulation until
// Port.ReleaseBuffer is called. Only valid inside a Consumer.
func (b *Buffer) Retain() { b.retained.Store(true) }

// Retained reports whether the buffer is held by a consumer.
func (b *Buffer) Retained() bool { return b.retained.Load() }

// Release returns a Filled buffer to its pool.
func (b *Buffer) Release() error {
	if err := b.transition(BufferFilled, BufferFree); err != nil {
		return err
	}
	b.retained.Store(false)
	b.hdr.Reset()
	b.pool.queue.put(b)
	return nil
}

package handlers

import (
	"fmt"
	"sync"
)

// InMemory accumulates a capture in memory.
type InMemory struct {
	mu         sync.Mutex
	data       []byte
	manipulate Manipulator
	captures   int
}

// Option configures an InMemory handler.
type Option func(*InMemory)

// WithManipulator runs fn over the accumulated data in PostProcess.
func WithManipulator(fn Manipulator) Option {
	return func(h *InMemory) { h.manipulate = fn }
}

// NewInMemory returns an empty in-memory handler.
func NewInMemory(opts ...Option) *InMemory {
	h := &InMemory{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *InMemory) Process(data []byte) error {
	h.mu.Lock()
	h.data = append(h.data, data...)
	h.mu.Unlock()
	return nil
}

// PostProcess applies the manipulator, if any, to the working data.
func (h *InMemory) PostProcess() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captures++
	if h.manipulate == nil {
		return nil
	}
	out, err := h.manipulate(append([]byte(nil), h.data...))
	if err != nil {
		return fmt.Errorf("manipulate capture: %w", err)
	}
	h.data = out
	return nil
}

// Bytes returns a copy of the working data.
func (h *InMemory) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.data...)
}

func (h *InMemory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data)
}

// Captures returns how many captures completed into this handler.
func (h *InMemory) Captures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.captures
}

// Reset drops the working data.
func (h *InMemory) Reset() {
	h.mu.Lock()
	h.data = nil
	h.mu.Unlock()
}

func (h *InMemory) Close() error {
	h.Reset()
	return nil
}

package mmal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/hal/sim"
	"github.com/kbukum/mmalkit/logger"
)

const waitFor = 2 * time.Second

func openHost(t *testing.T, opts ...sim.Option) *sim.Host {
	t.Helper()
	h := sim.NewHost(append([]sim.Option{sim.WithLogger(logger.Nop())}, opts...)...)
	require.NoError(t, h.Init())
	return h
}

func newComponent(t *testing.T, h hal.Host, name string, opts ...Option) *Component {
	t.Helper()
	c, err := NewComponent(h, name, append([]Option{WithLogger(logger.Nop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

func simPort(p *Port) *sim.Port {
	return p.Native().(*sim.Port)
}

// eventLog records pipeline events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// sink collects payloads handed to a consumer.
type sink struct {
	mu       sync.Mutex
	payloads [][]byte
	flags    []hal.Flags
}

func (s *sink) Consume(b *Buffer) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, append([]byte(nil), b.Bytes()...))
	s.flags = append(s.flags, b.Flags())
	s.mu.Unlock()
	return nil
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *sink) payload(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[i]
}

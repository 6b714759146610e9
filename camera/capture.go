package camera

import (
	"sync"

	"github.com/kbukum/mmalkit/handlers"
	"github.com/kbukum/mmalkit/mmal"
)

// sink feeds encoder output to the handler of the capture in progress.
// Payloads arriving between captures, or after the expected number of
// frames, are dropped.
type sink struct {
	mu    sync.Mutex
	h     handlers.Handler
	want  int
	got   int
	bytes int
}

func (s *sink) start(h handlers.Handler, want int) {
	s.mu.Lock()
	s.h, s.want, s.got, s.bytes = h, want, 0, 0
	s.mu.Unlock()
}

// stop detaches the handler and returns the frames and bytes delivered.
func (s *sink) stop() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = nil
	return s.got, s.bytes
}

// Consume hands the payload to the handler. Configuration buffers are
// passed on but do not count as frames.
func (s *sink) Consume(b *mmal.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil || s.got >= s.want {
		return nil
	}
	if b.Len() > 0 {
		if err := s.h.Process(b.Bytes()); err != nil {
			return err
		}
		s.bytes += b.Len()
	}
	if b.Flags().Terminal() {
		s.got++
	}
	return nil
}

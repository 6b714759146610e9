package handlers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Stream writes a capture to an io.Writer through a buffer that is flushed
// in PostProcess and Close.
type Stream struct {
	mu      sync.Mutex
	w       *bufio.Writer
	closer  io.Closer
	path    string
	written int64
	closed  bool
}

// NewStream writes to w. Close does not close w.
func NewStream(w io.Writer) *Stream {
	return &Stream{w: bufio.NewWriter(w)}
}

// NewFile creates path, and any missing parent directories, and writes to
// it. Close closes the file.
func NewFile(path string) (*Stream, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("handlers: create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("handlers: create file: %w", err)
	}
	return &Stream{w: bufio.NewWriter(f), closer: f, path: path}, nil
}

func (s *Stream) Process(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("handlers: write to closed stream")
	}
	n, err := s.w.Write(data)
	s.written += int64(n)
	if err != nil {
		return fmt.Errorf("handlers: write: %w", err)
	}
	return nil
}

// PostProcess flushes buffered data to the underlying writer.
func (s *Stream) PostProcess() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("handlers: flush: %w", err)
	}
	return nil
}

// Written returns the number of bytes accepted so far.
func (s *Stream) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Path returns the file path, empty for plain writers.
func (s *Stream) Path() string { return s.path }

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("handlers: close: %w", err)
	}
	return nil
}

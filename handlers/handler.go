package handlers

import "io"

// Handler receives the encoded output of a capture.
type Handler interface {
	// Process is called for every payload in order.
	Process(data []byte) error
	// PostProcess runs after the capture completed.
	PostProcess() error
	io.Closer
}

// Manipulator transforms a completed capture, for example to re-encode or
// annotate an image. It returns the data to keep.
type Manipulator func(data []byte) ([]byte, error)

// Discard is a handler that drops everything it receives.
var Discard Handler = discard{}

type discard struct{}

func (discard) Process([]byte) error { return nil }
func (discard) PostProcess() error   { return nil }
func (discard) Close() error         { return nil }

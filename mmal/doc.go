// Package mmal is the managed pipeline engine layered over a hal.Host.
//
// A Component owns its ports. An enabled Port with buffer I/O owns a Pool
// of fixed-size Buffers and a dispatcher goroutine: the engine callback only
// enqueues the returned header, and the dispatcher releases the buffer,
// hands its payload to the registered Consumer or refills it from the
// Producer, then resends a replacement. A Countdown armed on a port is
// signalled by terminal buffers and unblocks the caller waiting for a
// capture to finish.
//
// Buffer ownership is explicit. Every Buffer is Free (queued in its pool),
// Sent (held by the engine) or Filled (held by managed code) and only the
// transitions
//
//	Free -> Filled    Queue.Get
//	Filled -> Sent    send to the engine
//	Sent -> Filled    engine completion
//	Filled -> Free    Release
//
// are legal. Anything else is reported as a BUFFER_PROTOCOL error.
//
// Connections link an output port to an input port, either as a native
// tunnel or intercepted, where the connection owns the pool and routes each
// buffer through managed code.
package mmal

// Package sim is an in-memory media engine implementing the hal interfaces.
//
// It models the VideoCore components used by mmalkit: a camera with
// preview, video and still outputs, an image encoder, a video encoder and a
// null sink, plus small generic components for tests. Ports hold the buffer
// headers sent to them; behaviours fill them on an engine goroutine and
// return them through the port callback. Tunnelled links forward frames from
// an output straight into the peer input without touching managed buffers.
//
// Tests drive the engine through the hooks on Port: Deliver completes the
// oldest pending header, FailCommit and Reject force format commits to fail,
// FailEnable makes the next enable fail.
package sim

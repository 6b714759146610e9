package hal

import (
	"strings"
	"time"
)

// Flags annotate the payload of a buffer header.
type Flags uint32

const (
	FlagEOS Flags = 1 << iota
	FlagFrameStart
	FlagFrameEnd
	FlagKeyframe
	FlagConfig
	FlagCorrupted

	// FlagFrame marks a complete frame in a single buffer.
	FlagFrame = FlagFrameStart | FlagFrameEnd
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagEOS, "eos"},
	{FlagFrameStart, "frame_start"},
	{FlagFrameEnd, "frame_end"},
	{FlagKeyframe, "keyframe"},
	{FlagConfig, "config"},
	{FlagCorrupted, "corrupted"},
}

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Terminal reports whether the header ends a frame or the stream.
func (f Flags) Terminal() bool { return f&(FlagEOS|FlagFrameEnd) != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// BufferHeader is the native view of a buffer. Data is allocated once with
// a fixed capacity; Length bytes starting at Offset are valid.
type BufferHeader struct {
	Data   []byte
	Length int
	Offset int
	Flags  Flags
	PTS    time.Duration

	// UserData is owned by the managed side and never touched by the engine.
	UserData any
}

// NewBufferHeader allocates a header with size bytes of capacity.
func NewBufferHeader(size int) *BufferHeader {
	return &BufferHeader{Data: make([]byte, size)}
}

// Payload returns the valid bytes.
func (h *BufferHeader) Payload() []byte {
	return h.Data[h.Offset : h.Offset+h.Length]
}

// Reset clears the metadata.
func (h *BufferHeader) Reset() {
	h.Length = 0
	h.Offset = 0
	h.Flags = 0
	h.PTS = 0
}

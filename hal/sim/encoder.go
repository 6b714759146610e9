package sim

import (
	"fmt"
	"sync"

	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

const (
	defaultJPEGQuality = 85
	mjpegQuality       = 75
	intraPeriod        = 30
)

// accumulator gathers input chunks until a frame or stream ends.
type accumulator struct {
	mu  sync.Mutex
	buf []byte
}

// add appends data and returns the complete frame once fr ends one.
func (a *accumulator) add(fr Frame) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, fr.Data...)
	if !fr.Flags.Terminal() {
		return nil, false
	}
	raw := a.buf
	a.buf = nil
	return raw, true
}

func validateRawInput(f hal.Format) error {
	if !f.Encoding.Raw() {
		return fmt.Errorf("expects raw input, got %s", f.Encoding)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("missing dimensions")
	}
	return nil
}

type imageEncoder struct {
	Passive
	c   *Component
	acc accumulator
}

func newImageEncoder(c *Component) Behaviour {
	c.outputs[0].params[hal.ParamJPEGQuality] = defaultJPEGQuality
	return &imageEncoder{c: c}
}

func (e *imageEncoder) Validate(p *Port, f hal.Format) error {
	switch p.info.Type {
	case hal.PortInput:
		return validateRawInput(f)
	case hal.PortOutput:
		switch f.Encoding {
		case hal.EncodingJPEG, hal.EncodingPNG, hal.EncodingGIF, hal.EncodingBMP:
			return nil
		}
		return fmt.Errorf("unsupported still encoding %s", f.Encoding)
	}
	return nil
}

func (e *imageEncoder) Input(p *Port, fr Frame) {
	raw, done := e.acc.add(fr)
	if !done {
		return
	}
	out := e.c.outputs[0]
	eos := fr.Flags & hal.FlagEOS
	if len(raw) == 0 {
		if eos != 0 {
			_ = out.Emit(Frame{Flags: hal.FlagEOS, PTS: fr.PTS})
		}
		return
	}

	quality := defaultJPEGQuality
	if v, err := out.Parameter(hal.ParamJPEGQuality); err == nil {
		quality = v.(int)
	}
	data, err := encodeImage(out.Committed().Encoding, quality, decode(p.Committed(), raw))
	if err != nil {
		e.c.host.log.Error("image encode failed", logger.ErrorFields("encode", err))
		return
	}
	_ = out.Emit(Frame{Data: data, Flags: hal.FlagFrame | eos, PTS: fr.PTS})
}

type videoEncoder struct {
	Passive
	c   *Component
	acc accumulator

	mu     sync.Mutex
	frames int
}

func newVideoEncoder(c *Component) Behaviour {
	return &videoEncoder{c: c}
}

func (e *videoEncoder) Validate(p *Port, f hal.Format) error {
	switch p.info.Type {
	case hal.PortInput:
		return validateRawInput(f)
	case hal.PortOutput:
		if f.Encoding != hal.EncodingH264 && f.Encoding != hal.EncodingMJPEG {
			return fmt.Errorf("unsupported video encoding %s", f.Encoding)
		}
		if f.Bitrate < 0 || f.Bitrate > MaxBitrate {
			return fmt.Errorf("bitrate %d out of range", f.Bitrate)
		}
	}
	return nil
}

func (e *videoEncoder) PortDisabled(p *Port) {
	if p.info.Type == hal.PortOutput {
		e.mu.Lock()
		e.frames = 0
		e.mu.Unlock()
	}
}

func (e *videoEncoder) Input(p *Port, fr Frame) {
	raw, done := e.acc.add(fr)
	if !done {
		return
	}
	out := e.c.outputs[0]
	eos := fr.Flags & hal.FlagEOS
	if len(raw) == 0 {
		if eos != 0 {
			_ = out.Emit(Frame{Flags: hal.FlagEOS, PTS: fr.PTS})
		}
		return
	}

	e.mu.Lock()
	e.frames++
	n := e.frames
	e.mu.Unlock()

	of := out.Committed()
	if of.Encoding == hal.EncodingMJPEG {
		data, err := encodeImage(hal.EncodingMJPEG, mjpegQuality, decode(p.Committed(), raw))
		if err != nil {
			e.c.host.log.Error("video encode failed", logger.ErrorFields("encode", err))
			return
		}
		_ = out.Emit(Frame{Data: data, Flags: hal.FlagFrame | hal.FlagKeyframe | eos, PTS: fr.PTS})
		return
	}

	if n == 1 {
		_ = out.Emit(Frame{Data: parameterSets(of), Flags: hal.FlagConfig, PTS: fr.PTS})
	}
	key := (n-1)%intraPeriod == 0
	flags := hal.FlagFrame | eos
	if key {
		flags |= hal.FlagKeyframe
	}
	_ = out.Emit(Frame{Data: accessUnit(of, raw, key), Flags: flags, PTS: fr.PTS})
}

// parameterSets returns a stand-in for the stream configuration record.
func parameterSets(f hal.Format) []byte {
	w, h := visible(f)
	return []byte{
		0, 0, 0, 1, 0x67, byte(w >> 8), byte(w), byte(h >> 8), byte(h),
		0, 0, 0, 1, 0x68, 0xce,
	}
}

// accessUnit returns a synthetic coded frame sized from the bitrate.
func accessUnit(f hal.Format, raw []byte, key bool) []byte {
	fps := f.FrameRate.Float()
	if fps <= 0 {
		fps = 30
	}
	bitrate := f.Bitrate
	if bitrate == 0 {
		bitrate = MaxBitrate / 2
	}
	size := int(float64(bitrate) / 8 / fps)
	if key {
		size *= 2
	}
	size = max(64, min(size, len(raw)+5))

	nal := byte(0x41)
	if key {
		nal = 0x65
	}
	out := make([]byte, size)
	copy(out, []byte{0, 0, 0, 1, nal})
	for i := 5; i < size; i++ {
		out[i] = raw[(i*7919)%len(raw)]
	}
	return out
}

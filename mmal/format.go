package mmal

import (
	stderrors "errors"
	"fmt"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

const (
	widthAlign  = 32
	heightAlign = 16
)

// FormatRequest describes a port format change. Zero fields keep the
// current value.
type FormatRequest struct {
	Encoding        hal.Encoding
	EncodingVariant hal.Encoding
	// From copies every format field except extra data from another port
	// before the overrides below are applied.
	From *Port
	// Width and Height are aligned up to the engine block size; the crop
	// rectangle keeps the requested size.
	Width     int
	Height    int
	FrameRate hal.Rational
	Bitrate   int
	// BufferNum and BufferSize override the engine recommendation. They
	// may not go below the engine minimum.
	BufferNum  int
	BufferSize int
	// Quality sets the JPEG quality on JPEG ports.
	Quality int
}

func alignUp(v, to int) int {
	return (v + to - 1) / to * to
}

// resolveBuffers returns the count and size to commit. The engine minimum
// is a hard floor checked before anything reaches the engine.
func (p *Port) resolveBuffers(num, size int) (int, int, error) {
	info := p.info
	if num == 0 {
		num = max(info.BufferNumRecommended, info.BufferNumMin)
	}
	if size == 0 {
		size = max(info.BufferSizeRecommended, info.BufferSizeMin)
	}
	if num < info.BufferNumMin {
		return 0, 0, errors.InvalidInput("buffer_num", fmt.Sprintf("%d below minimum %d", num, info.BufferNumMin))
	}
	if size < info.BufferSizeMin {
		return 0, 0, errors.InvalidInput("buffer_size", fmt.Sprintf("%d below minimum %d", size, info.BufferSizeMin))
	}
	return num, size, nil
}

// ConfigureFormat applies req and commits it. When the engine rejects the
// new format, the previous format and buffer sizing are committed again;
// if that also fails a FORMAT_COMMIT error is returned.
func (p *Port) ConfigureFormat(req FormatRequest) error {
	if p.Enabled() {
		return errors.Conflict(fmt.Sprintf("%s: format can only change while disabled", p.name))
	}
	num, size, err := p.resolveBuffers(req.BufferNum, req.BufferSize)
	if err != nil {
		return errors.FormatCommit(p.name, err)
	}

	f := p.native.Format()
	if req.From != nil {
		f.CopyFrom(req.From.Format())
	}
	if req.Encoding != hal.EncodingUnknown {
		f.Encoding = req.Encoding
	}
	if req.EncodingVariant != hal.EncodingUnknown {
		f.EncodingVariant = req.EncodingVariant
	}
	if req.Width > 0 && req.Height > 0 {
		f.Width = alignUp(req.Width, widthAlign)
		f.Height = alignUp(req.Height, heightAlign)
		f.Crop = hal.Rect{Width: req.Width, Height: req.Height}
	}
	if req.FrameRate.Den != 0 {
		f.FrameRate = req.FrameRate
	}
	if req.Bitrate > 0 {
		f.Bitrate = req.Bitrate
	}

	if err := p.commit(f, num, size); err != nil {
		return err
	}
	if req.Quality > 0 && p.native.Format().Encoding == hal.EncodingJPEG {
		if err := p.SetParameter(hal.ParamJPEGQuality, req.Quality); err != nil {
			return err
		}
	}
	return nil
}

// FullCopyFrom copies the complete format of src, extra data included, and
// commits it with the same rollback as ConfigureFormat.
func (p *Port) FullCopyFrom(src *Port) error {
	if p.Enabled() {
		return errors.Conflict(fmt.Sprintf("%s: format can only change while disabled", p.name))
	}
	var f hal.Format
	f.FullCopyFrom(src.Format())
	return p.commit(f, p.native.BufferNum(), p.native.BufferSize())
}

func (p *Port) commit(f hal.Format, num, size int) error {
	snapshot := p.native.Format()
	snapNum, snapSize := p.native.BufferNum(), p.native.BufferSize()

	p.native.SetFormat(f)
	p.native.SetBuffers(num, size)
	cause := p.native.Commit()
	if cause == nil {
		p.log.Debug("format committed", logger.Fields(
			logger.FieldEncoding, f.Encoding.String(), "format", f.String(),
			"buffer_num", num, "buffer_size", size,
		))
		return nil
	}

	p.native.SetFormat(snapshot)
	p.native.SetBuffers(snapNum, snapSize)
	if err := p.native.Commit(); err != nil {
		return errors.FormatCommit(p.name, stderrors.Join(cause, err)).
			WithDetail("requested", f.String())
	}
	p.log.Warn("format rejected, previous format restored", logger.MergeWithError(
		logger.Fields("requested", f.String(), "restored", snapshot.String()), cause))
	p.comp.emit(Event{Kind: EventFormatRollback, Port: p.name, Err: cause})
	return nil
}

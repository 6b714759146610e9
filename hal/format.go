package hal

import (
	"bytes"
	"fmt"
	"strings"
)

// Encoding is a FourCC stream encoding identifier.
type Encoding uint32

// FourCC packs a four character code, little endian.
func FourCC(code string) Encoding {
	var b [4]byte
	copy(b[:], code+"    ")
	return Encoding(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}

var (
	EncodingUnknown Encoding

	EncodingJPEG  = FourCC("JPEG")
	EncodingPNG   = FourCC("PNG ")
	EncodingBMP   = FourCC("BMP ")
	EncodingGIF   = FourCC("GIF ")
	EncodingH264  = FourCC("H264")
	EncodingMJPEG = FourCC("MJPG")

	EncodingI420   = FourCC("I420")
	EncodingRGB24  = FourCC("RGB3")
	EncodingBGR24  = FourCC("BGR3")
	EncodingOpaque = FourCC("OPQV")
)

var encodingNames = map[string]Encoding{
	"jpeg":   EncodingJPEG,
	"png":    EncodingPNG,
	"bmp":    EncodingBMP,
	"gif":    EncodingGIF,
	"h264":   EncodingH264,
	"mjpeg":  EncodingMJPEG,
	"i420":   EncodingI420,
	"rgb24":  EncodingRGB24,
	"bgr24":  EncodingBGR24,
	"opaque": EncodingOpaque,
}

// ParseEncoding resolves a configuration name such as "jpeg" or "h264".
func ParseEncoding(name string) (Encoding, error) {
	if e, ok := encodingNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return e, nil
	}
	return EncodingUnknown, fmt.Errorf("unknown encoding %q", name)
}

// EncodingNames lists the names accepted by ParseEncoding.
func EncodingNames() []string {
	names := make([]string, 0, len(encodingNames))
	for n := range encodingNames {
		names = append(names, n)
	}
	return names
}

func (e Encoding) String() string {
	if e == EncodingUnknown {
		return "unknown"
	}
	b := []byte{byte(e), byte(e >> 8), byte(e >> 16), byte(e >> 24)}
	return strings.TrimRight(string(b), " ")
}

// Raw reports whether e is an uncompressed pixel format.
func (e Encoding) Raw() bool {
	switch e {
	case EncodingI420, EncodingRGB24, EncodingBGR24, EncodingOpaque:
		return true
	}
	return false
}

// Rect is a crop rectangle.
type Rect struct {
	X, Y, Width, Height int
}

// Rational is a fraction such as a frame rate.
type Rational struct {
	Num, Den int
}

func (r Rational) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

// Float returns the value of r, 0 when Den is 0.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Format is the elementary stream format of a port.
type Format struct {
	Encoding        Encoding
	EncodingVariant Encoding
	Width           int
	Height          int
	Crop            Rect
	FrameRate       Rational
	Bitrate         int
	ExtraData       []byte
}

// Clone returns a deep copy of f.
func (f Format) Clone() Format {
	c := f
	if f.ExtraData != nil {
		c.ExtraData = append([]byte(nil), f.ExtraData...)
	}
	return c
}

// CopyFrom copies every field of src except ExtraData, which keeps its
// current value.
func (f *Format) CopyFrom(src Format) {
	extra := f.ExtraData
	*f = src
	f.ExtraData = extra
}

// FullCopyFrom copies every field of src including ExtraData.
func (f *Format) FullCopyFrom(src Format) {
	*f = src.Clone()
}

// Equal reports whether f and o describe the same format.
func (f Format) Equal(o Format) bool {
	return f.Encoding == o.Encoding &&
		f.EncodingVariant == o.EncodingVariant &&
		f.Width == o.Width &&
		f.Height == o.Height &&
		f.Crop == o.Crop &&
		f.FrameRate == o.FrameRate &&
		f.Bitrate == o.Bitrate &&
		bytes.Equal(f.ExtraData, o.ExtraData)
}

func (f Format) String() string {
	s := fmt.Sprintf("%s %dx%d", f.Encoding, f.Width, f.Height)
	if f.EncodingVariant != EncodingUnknown {
		s += "/" + f.EncodingVariant.String()
	}
	if f.FrameRate.Den != 0 {
		s += " @" + f.FrameRate.String()
	}
	return s
}

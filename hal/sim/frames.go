package sim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"

	"github.com/kbukum/mmalkit/hal"
)

// visible returns the crop size of f, or its full size when no crop is set.
func visible(f hal.Format) (int, int) {
	if f.Crop.Width > 0 && f.Crop.Height > 0 {
		return f.Crop.Width, f.Crop.Height
	}
	return f.Width, f.Height
}

// synthesize renders test pattern frame n in the raw layout of f.
func synthesize(f hal.Format, n int) []byte {
	w, h := f.Width, f.Height
	if f.Encoding == hal.EncodingI420 {
		ySize, cSize := w*h, (w/2)*(h/2)
		buf := make([]byte, ySize+2*cSize)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				buf[y*w+x] = byte(x + y + n)
			}
		}
		for i := 0; i < cSize; i++ {
			buf[ySize+i] = 128
			buf[ySize+cSize+i] = byte(64 + n)
		}
		return buf
	}

	buf := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			r, g, b := byte(x+n), byte(y+n), byte((x+y)/2)
			if f.Encoding == hal.EncodingBGR24 {
				r, b = b, r
			}
			buf[i], buf[i+1], buf[i+2] = r, g, b
		}
	}
	return buf
}

// decode interprets raw as a frame laid out per f and returns the visible
// area. Short input leaves the missing pixels black.
func decode(f hal.Format, raw []byte) image.Image {
	vw, vh := visible(f)
	stride := f.Width
	if f.Encoding == hal.EncodingI420 {
		img := image.NewYCbCr(image.Rect(0, 0, vw, vh), image.YCbCrSubsampleRatio420)
		for y := 0; y < vh; y++ {
			copyRow(img.Y[y*img.YStride:], raw, y*stride, vw)
		}
		ySize, cStride := stride*f.Height, stride/2
		cSize := cStride * (f.Height / 2)
		for y := 0; y < (vh+1)/2; y++ {
			copyRow(img.Cb[y*img.CStride:], raw, ySize+y*cStride, (vw+1)/2)
			copyRow(img.Cr[y*img.CStride:], raw, ySize+cSize+y*cStride, (vw+1)/2)
		}
		return img
	}

	img := image.NewRGBA(image.Rect(0, 0, vw, vh))
	for y := 0; y < vh; y++ {
		for x := 0; x < vw; x++ {
			i := (y*stride + x) * 3
			if i+2 >= len(raw) {
				return img
			}
			r, g, b := raw[i], raw[i+1], raw[i+2]
			if f.Encoding == hal.EncodingBGR24 {
				r, b = b, r
			}
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return img
}

func copyRow(dst, src []byte, off, n int) {
	if off >= len(src) {
		return
	}
	end := min(off+n, len(src))
	copy(dst[:min(n, len(dst))], src[off:end])
}

// encodeImage compresses img with the given still encoding.
func encodeImage(enc hal.Encoding, quality int, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch enc {
	case hal.EncodingJPEG, hal.EncodingMJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case hal.EncodingPNG:
		err = png.Encode(&buf, img)
	case hal.EncodingGIF:
		err = gif.Encode(&buf, img, &gif.Options{NumColors: 256})
	case hal.EncodingBMP:
		err = bmp.Encode(&buf, img)
	default:
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

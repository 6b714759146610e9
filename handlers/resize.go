package handlers

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Resize returns a Manipulator that scales a still image to fit within
// width x height, keeping its aspect ratio, and re-encodes it in its
// original format. Images already inside the bounds are left untouched.
func Resize(width, height, quality int) Manipulator {
	return func(data []byte) ([]byte, error) {
		src, format, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		b := src.Bounds()
		if b.Dx() <= width && b.Dy() <= height {
			return data, nil
		}

		w, h := fit(b.Dx(), b.Dy(), width, height)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

		var out bytes.Buffer
		switch format {
		case "jpeg":
			err = jpeg.Encode(&out, dst, &jpeg.Options{Quality: quality})
		case "png":
			err = png.Encode(&out, dst)
		case "gif":
			err = gif.Encode(&out, dst, nil)
		case "bmp":
			err = bmp.Encode(&out, dst)
		default:
			return nil, fmt.Errorf("resize: unsupported format %q", format)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", format, err)
		}
		return out.Bytes(), nil
	}
}

func fit(w, h, maxW, maxH int) (int, int) {
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package imaging decodes button images and converts them to the native
// key format of a device.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

var (
	// ErrDecode wraps any failure to interpret image bytes.
	ErrDecode = errors.New("decode image")
	// ErrInvalidFormat is returned for a Format without a usable size.
	ErrInvalidFormat = errors.New("invalid key image format")
)

// Encoding is the wire encoding a device expects for key images.
type Encoding int

const (
	JPEG Encoding = iota
	BMP
)

func (e Encoding) String() string {
	switch e {
	case JPEG:
		return "jpeg"
	case BMP:
		return "bmp"
	default:
		return "unknown"
	}
}

// Format describes a device's key image geometry and encoding.
type Format struct {
	Width    int
	Height   int
	FlipH    bool
	FlipV    bool
	Encoding Encoding
	Quality  int // JPEG only; 0 means 95
}

// Decode decodes any registered image format (png, jpeg, gif, bmp, webp).
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// DecodeFile resolves symlinks and decodes the target file.
func DecodeFile(path string) (image.Image, error) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(target) // #nosec G304 -- file inside the user's config root
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	return img, nil
}

// Prepare scales img to fit the key (aspect preserved, centred on black),
// applies the device orientation and encodes it.
func Prepare(img image.Image, f Format) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidFormat, f.Width, f.Height)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	if img != nil {
		b := img.Bounds()
		dst := fit(b.Dx(), b.Dy(), f.Width, f.Height)
		draw.CatmullRom.Scale(canvas, dst, img, b, draw.Over, nil)
	}
	return encode(flip(canvas, f.FlipH, f.FlipV), f)
}

// fit returns the centred destination rectangle for a w x h source.
func fit(w, h, maxW, maxH int) image.Rectangle {
	if w <= 0 || h <= 0 {
		return image.Rect(0, 0, maxW, maxH)
	}
	dw, dh := maxW, h*maxW/w
	if dh > maxH {
		dw, dh = w*maxH/h, maxH
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	x0, y0 := (maxW-dw)/2, (maxH-dh)/2
	return image.Rect(x0, y0, x0+dw, y0+dh)
}

func flip(src *image.RGBA, h, v bool) *image.RGBA {
	if !h && !v {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		sy := y
		if v {
			sy = b.Max.Y - 1 - (y - b.Min.Y)
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			sx := x
			if h {
				sx = b.Max.X - 1 - (x - b.Min.X)
			}
			dst.SetRGBA(x, y, src.RGBAAt(sx, sy))
		}
	}
	return dst
}

func encode(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	switch f.Encoding {
	case BMP:
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode bmp: %w", err)
		}
	default:
		q := f.Quality
		if q <= 0 || q > 100 {
			q = 95
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	}
	return buf.Bytes(), nil
}

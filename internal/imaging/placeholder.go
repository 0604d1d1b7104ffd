// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

var (
	errorBackground = color.RGBA{R: 0x8b, A: 0xff}
	errorMark       = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// BlankImage is a black square of the given size.
func BlankImage(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return img
}

// ErrorImage is a dark red square crossed by a white X.
func ErrorImage(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(errorBackground), image.Point{}, draw.Src)

	margin := size / 4
	stroke := size / 16
	if stroke < 1 {
		stroke = 1
	}
	for i := margin; i < size-margin; i++ {
		for d := -stroke / 2; d <= stroke/2; d++ {
			setIn(img, i+d, i, errorMark)
			setIn(img, size-1-i+d, i, errorMark)
		}
	}
	return img
}

func setIn(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// Blank returns a black key image already in device format.
func Blank(f Format) ([]byte, error) {
	return Prepare(BlankImage(f.Width), f)
}

// ErrorPlaceholder returns the error image already in device format.
func ErrorPlaceholder(f Format) ([]byte, error) {
	return Prepare(ErrorImage(f.Width), f)
}

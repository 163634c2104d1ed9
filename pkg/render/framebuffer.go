package render

import (
	"image"
	"image/color"
	"math"

	"ctvolume/pkg/transfer"
)

// Pixel is an accumulated ray result. R, G and B are premultiplied by A.
type Pixel struct {
	R, G, B, A float64
}

// Framebuffer is the float RGBA output of one composite.
type Framebuffer struct {
	Width, Height int
	Pix           []Pixel
}

// NewFramebuffer allocates a fully transparent buffer.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		Width:  width,
		Height: height,
		Pix:    make([]Pixel, width*height),
	}
}

// At returns the pixel at (x, y).
func (f *Framebuffer) At(x, y int) Pixel {
	return f.Pix[y*f.Width+x]
}

func (f *Framebuffer) set(x, y int, p Pixel) {
	f.Pix[y*f.Width+x] = p
}

// Image flattens the buffer over an opaque background color.
func (f *Framebuffer) Image(background transfer.RGB) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			p := f.At(x, y)
			rest := 1 - p.A
			img.SetRGBA(x, y, color.RGBA{
				R: to8(p.R + rest*background.R),
				G: to8(p.G + rest*background.G),
				B: to8(p.B + rest*background.B),
				A: 255,
			})
		}
	}
	return img
}

// NRGBA converts the buffer to a straight-alpha image, keeping transparency.
func (f *Framebuffer) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			p := f.At(x, y)
			if p.A <= 0 {
				continue
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: to8(p.R / p.A),
				G: to8(p.G / p.A),
				B: to8(p.B / p.A),
				A: to8(p.A),
			})
		}
	}
	return img
}

func to8(v float64) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}

package reslice

import (
	"image"
	"image/color"
	"math"

	"ctvolume/pkg/volume"
)

// Image is a 2D density image produced by Resample. Row 0 lies on the -V
// edge of the plane.
type Image struct {
	Width, Height int
	Pix           []float64
}

// At returns the density at column x, row y.
func (m *Image) At(x, y int) float64 {
	return m.Pix[y*m.Width+x]
}

// Gray16 maps densities in [lo, hi] linearly onto 16-bit gray, clamping
// outside the window. Rows are flipped so +V points up on screen.
func (m *Image) Gray16(lo, hi float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	span := hi - lo
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := 0.0
			if span > 0 {
				v = (m.At(x, y) - lo) / span
			}
			value := uint16(math.Round(math.Max(0, math.Min(1, v)) * 65535))
			img.SetGray16(x, m.Height-1-y, color.Gray16{Y: value})
		}
	}
	return img
}

// Resample samples grid at every pixel of plane. The basis is validated
// before any sampling; pixels off the grid get plane.Outside.
func Resample(grid volume.Sampleable, plane *Plane) (*Image, error) {
	if err := plane.Validate(); err != nil {
		return nil, err
	}

	out := &Image{
		Width:  plane.Width,
		Height: plane.Height,
		Pix:    make([]float64, plane.Width*plane.Height),
	}
	for j := 0; j < plane.Height; j++ {
		for i := 0; i < plane.Width; i++ {
			d, inside := grid.Sample(plane.Point(i, j), plane.Interpolation)
			if !inside {
				d = plane.Outside
			}
			out.Pix[j*plane.Width+i] = d
		}
	}
	return out, nil
}

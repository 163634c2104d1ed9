// Package volume holds the immutable CT density grid shared by every
// classification layer and reslice view.
package volume

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Ingestion errors
var (
	ErrShapeMismatch        = errors.New("volume: sample buffer length does not match dimensions")
	ErrDegenerateDimensions = errors.New("volume: dimensions must be positive")
	ErrInvalidSpacing       = errors.New("volume: spacing must be positive and finite")
	ErrInvalidClipRange     = errors.New("volume: clip range must satisfy 0 <= min <= max <= 65535")
)

// Interpolation selects how densities are reconstructed between voxel centers.
type Interpolation int

const (
	Nearest Interpolation = iota
	Linear
)

// String returns the configuration name of the mode.
func (m Interpolation) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Linear:
		return "linear"
	}
	return fmt.Sprintf("Interpolation(%d)", int(m))
}

// ParseInterpolation maps a configuration string to a mode.
func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "nearest":
		return Nearest, nil
	case "linear", "":
		return Linear, nil
	}
	return Linear, fmt.Errorf("volume: unknown interpolation mode %q", s)
}

// Bounds is an axis-aligned box in physical space.
type Bounds struct {
	Min, Max r3.Vec
}

// Center returns the midpoint of the box.
func (b Bounds) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Diagonal returns the length of the box diagonal.
func (b Bounds) Diagonal() float64 {
	return r3.Norm(r3.Sub(b.Max, b.Min))
}

// Sampleable is anything that can report a density at a physical point.
// The compositor and the reslicer consume grids only through it.
type Sampleable interface {
	// Sample returns the density at p and whether p lies inside the grid.
	Sample(p r3.Vec, mode Interpolation) (density float64, inside bool)

	// Gradient returns the density gradient at p in physical units.
	Gradient(p r3.Vec, mode Interpolation) r3.Vec

	// Bounds returns the physical extent covered by voxel centers.
	Bounds() Bounds

	// Spacing returns the physical voxel size.
	Spacing() r3.Vec
}

// Grid is an immutable 3D density grid stored as uint16 voxels.
// It is safe for concurrent readers.
type Grid struct {
	dims    [3]int
	spacing r3.Vec
	origin  r3.Vec
	clipMin uint16
	clipMax uint16
	data    []uint16
}

// Ingest clamps every raw sample into [clipMin, clipMax] and narrows it to
// the grid's uint16 storage. Out-of-range samples are never rejected.
func Ingest(raw []float64, dims [3]int, spacing, origin r3.Vec, clipMin, clipMax float64) (*Grid, error) {
	for i, n := range dims {
		if n <= 0 {
			return nil, fmt.Errorf("%w: axis %d has %d voxels", ErrDegenerateDimensions, i, n)
		}
	}
	n := dims[0] * dims[1] * dims[2]
	if len(raw) != n {
		return nil, fmt.Errorf("%w: got %d samples for %dx%dx%d", ErrShapeMismatch, len(raw), dims[0], dims[1], dims[2])
	}
	for _, s := range []float64{spacing.X, spacing.Y, spacing.Z} {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpacing, spacing)
		}
	}
	if !(clipMin >= 0) || !(clipMax <= math.MaxUint16) || clipMin > clipMax {
		return nil, fmt.Errorf("%w: [%g, %g]", ErrInvalidClipRange, clipMin, clipMax)
	}

	lo := math.Ceil(clipMin)
	hi := math.Floor(clipMax)
	if lo > hi {
		return nil, fmt.Errorf("%w: [%g, %g] holds no integer density", ErrInvalidClipRange, clipMin, clipMax)
	}
	data := make([]uint16, n)
	for i, v := range raw {
		// NaN falls through both comparisons; treat it as the lower bound.
		if !(v >= lo) {
			v = lo
		} else if v > hi {
			v = hi
		}
		data[i] = uint16(math.Round(v))
	}

	return &Grid{
		dims:    dims,
		spacing: spacing,
		origin:  origin,
		clipMin: uint16(lo),
		clipMax: uint16(hi),
		data:    data,
	}, nil
}

// Dims returns the voxel counts along x, y and z.
func (g *Grid) Dims() [3]int { return g.dims }

// Spacing returns the physical voxel size.
func (g *Grid) Spacing() r3.Vec { return g.spacing }

// Origin returns the physical position of voxel (0,0,0).
func (g *Grid) Origin() r3.Vec { return g.origin }

// ClipRange returns the density bounds every voxel lies within.
func (g *Grid) ClipRange() (lo, hi uint16) { return g.clipMin, g.clipMax }

// Len returns the number of voxels.
func (g *Grid) Len() int { return len(g.data) }

// At returns the stored voxel at integer index (x, y, z). It panics when the
// index is outside the grid, like a slice access would.
func (g *Grid) At(x, y, z int) uint16 {
	return g.data[g.index(x, y, z)]
}

// Voxels returns a copy of the voxel buffer in (z, y, x) order.
func (g *Grid) Voxels() []uint16 {
	out := make([]uint16, len(g.data))
	copy(out, g.data)
	return out
}

func (g *Grid) index(x, y, z int) int {
	return (z*g.dims[1]+y)*g.dims[0] + x
}

// Bounds returns the physical box spanned by the voxel centers.
func (g *Grid) Bounds() Bounds {
	return Bounds{
		Min: g.origin,
		Max: g.IndexToPhysical(r3.Vec{
			X: float64(g.dims[0] - 1),
			Y: float64(g.dims[1] - 1),
			Z: float64(g.dims[2] - 1),
		}),
	}
}

// IndexToPhysical maps continuous index coordinates to physical space.
func (g *Grid) IndexToPhysical(i r3.Vec) r3.Vec {
	return r3.Vec{
		X: g.origin.X + i.X*g.spacing.X,
		Y: g.origin.Y + i.Y*g.spacing.Y,
		Z: g.origin.Z + i.Z*g.spacing.Z,
	}
}

// PhysicalToIndex maps a physical point to continuous index coordinates.
func (g *Grid) PhysicalToIndex(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: (p.X - g.origin.X) / g.spacing.X,
		Y: (p.Y - g.origin.Y) / g.spacing.Y,
		Z: (p.Z - g.origin.Z) / g.spacing.Z,
	}
}

// indexSlack absorbs rounding when a physical point sits exactly on a face.
const indexSlack = 1e-9

// Sample implements Sampleable.
func (g *Grid) Sample(p r3.Vec, mode Interpolation) (float64, bool) {
	i := g.PhysicalToIndex(p)
	if !g.containsIndex(i) {
		return 0, false
	}
	return g.sampleIndex(i, mode), true
}

func (g *Grid) containsIndex(i r3.Vec) bool {
	return i.X >= -indexSlack && i.X <= float64(g.dims[0]-1)+indexSlack &&
		i.Y >= -indexSlack && i.Y <= float64(g.dims[1]-1)+indexSlack &&
		i.Z >= -indexSlack && i.Z <= float64(g.dims[2]-1)+indexSlack
}

// sampleIndex reconstructs the density at continuous index i, clamping i to
// the grid first so it is total.
func (g *Grid) sampleIndex(i r3.Vec, mode Interpolation) float64 {
	if mode == Nearest {
		x := clampInt(int(math.Round(i.X)), g.dims[0]-1)
		y := clampInt(int(math.Round(i.Y)), g.dims[1]-1)
		z := clampInt(int(math.Round(i.Z)), g.dims[2]-1)
		return float64(g.data[g.index(x, y, z)])
	}

	x0, x1, fx := cell(i.X, g.dims[0])
	y0, y1, fy := cell(i.Y, g.dims[1])
	z0, z1, fz := cell(i.Z, g.dims[2])

	c000 := float64(g.data[g.index(x0, y0, z0)])
	c100 := float64(g.data[g.index(x1, y0, z0)])
	c010 := float64(g.data[g.index(x0, y1, z0)])
	c110 := float64(g.data[g.index(x1, y1, z0)])
	c001 := float64(g.data[g.index(x0, y0, z1)])
	c101 := float64(g.data[g.index(x1, y0, z1)])
	c011 := float64(g.data[g.index(x0, y1, z1)])
	c111 := float64(g.data[g.index(x1, y1, z1)])

	c00 := lerp(c000, c100, fx)
	c10 := lerp(c010, c110, fx)
	c01 := lerp(c001, c101, fx)
	c11 := lerp(c011, c111, fx)

	return lerp(lerp(c00, c10, fy), lerp(c01, c11, fy), fz)
}

// Gradient implements Sampleable using central differences one voxel apart
// on each axis. Neighbors past the edge are clamped to the border voxel.
func (g *Grid) Gradient(p r3.Vec, mode Interpolation) r3.Vec {
	i := g.PhysicalToIndex(p)
	dx := r3.Vec{X: 1}
	dy := r3.Vec{Y: 1}
	dz := r3.Vec{Z: 1}
	return r3.Vec{
		X: (g.sampleIndex(r3.Add(i, dx), mode) - g.sampleIndex(r3.Sub(i, dx), mode)) / (2 * g.spacing.X),
		Y: (g.sampleIndex(r3.Add(i, dy), mode) - g.sampleIndex(r3.Sub(i, dy), mode)) / (2 * g.spacing.Y),
		Z: (g.sampleIndex(r3.Add(i, dz), mode) - g.sampleIndex(r3.Sub(i, dz), mode)) / (2 * g.spacing.Z),
	}
}

// cell returns the two bracketing indices along an axis of n voxels and the
// fractional position between them.
func cell(v float64, n int) (int, int, float64) {
	if n == 1 || v <= 0 {
		return 0, 0, 0
	}
	last := float64(n - 1)
	if v >= last {
		return n - 1, n - 1, 0
	}
	i0 := int(math.Floor(v))
	return i0, i0 + 1, v - float64(i0)
}

func clampInt(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

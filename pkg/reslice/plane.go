// Package reslice resamples a density grid on arbitrary oblique planes,
// which is how the axial, coronal and sagittal views are produced.
package reslice

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"ctvolume/pkg/volume"
)

// Reslice errors
var (
	ErrDegenerateBasis = errors.New("reslice: plane axes are not orthonormal")
	ErrInvalidOutput   = errors.New("reslice: output size and pixel spacing must be positive")
)

// basisTolerance bounds the deviation of RᵀR from identity and |det R| from 1.
const basisTolerance = 1e-6

// Orientation names the three canonical views.
type Orientation int

const (
	Axial Orientation = iota
	Coronal
	Sagittal
)

// Orientations lists the canonical views in display order.
var Orientations = []Orientation{Axial, Coronal, Sagittal}

func (o Orientation) String() string {
	switch o {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	}
	return fmt.Sprintf("Orientation(%d)", int(o))
}

// ParseOrientation maps a view name to an Orientation.
func ParseOrientation(s string) (Orientation, error) {
	for _, o := range Orientations {
		if o.String() == s {
			return o, nil
		}
	}
	return Axial, fmt.Errorf("reslice: unknown orientation %q", s)
}

// Plane is a 2D sampling lattice placed in physical space by a 4x4 affine
// matrix. Columns 0, 1 and 2 of Axes are the in-plane U axis, the V axis and
// the normal; column 3 is the plane origin, which maps to the center of the
// output image. The bottom row must be (0, 0, 0, 1).
type Plane struct {
	Axes          *mat.Dense
	Width, Height int
	PixelSpacing  [2]float64
	Interpolation volume.Interpolation

	// Outside is the density reported for pixels that fall off the grid.
	Outside float64
}

// NewPlane builds a plane from its axes, origin and output lattice. The
// basis is checked when the plane is resampled.
func NewPlane(u, v, n, origin r3.Vec, width, height int, pixelSpacing [2]float64) *Plane {
	return &Plane{
		Axes: mat.NewDense(4, 4, []float64{
			u.X, v.X, n.X, origin.X,
			u.Y, v.Y, n.Y, origin.Y,
			u.Z, v.Z, n.Z, origin.Z,
			0, 0, 0, 1,
		}),
		Width:         width,
		Height:        height,
		PixelSpacing:  pixelSpacing,
		Interpolation: volume.Linear,
	}
}

// Canonical returns the view of orientation o through the center of g,
// sized so one output pixel covers one voxel.
//
//	axial:    U = X, V = Y, normal =  Z
//	coronal:  U = X, V = Z, normal = -Y
//	sagittal: U = Y, V = Z, normal =  X
func Canonical(o Orientation, g *volume.Grid) *Plane {
	d := g.Dims()
	s := g.Spacing()
	c := g.Bounds().Center()
	x, y, z := r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{Z: 1}

	switch o {
	case Coronal:
		return NewPlane(x, z, r3.Scale(-1, y), c, d[0], d[2], [2]float64{s.X, s.Z})
	case Sagittal:
		return NewPlane(y, z, x, c, d[1], d[2], [2]float64{s.Y, s.Z})
	default:
		return NewPlane(x, y, z, c, d[0], d[1], [2]float64{s.X, s.Y})
	}
}

func (p *Plane) column(j int) r3.Vec {
	return r3.Vec{X: p.Axes.At(0, j), Y: p.Axes.At(1, j), Z: p.Axes.At(2, j)}
}

// AxisU returns the in-plane horizontal axis.
func (p *Plane) AxisU() r3.Vec { return p.column(0) }

// AxisV returns the in-plane vertical axis.
func (p *Plane) AxisV() r3.Vec { return p.column(1) }

// Normal returns the plane normal.
func (p *Plane) Normal() r3.Vec { return p.column(2) }

// Origin returns the physical point at the center of the output image.
func (p *Plane) Origin() r3.Vec { return p.column(3) }

// Validate reports ErrDegenerateBasis unless the rotation block is
// orthonormal, and ErrInvalidOutput for an empty lattice.
func (p *Plane) Validate() error {
	if p.Axes == nil {
		return fmt.Errorf("%w: no axes", ErrDegenerateBasis)
	}
	if r, c := p.Axes.Dims(); r != 4 || c != 4 {
		return fmt.Errorf("%w: axes are %dx%d, want 4x4", ErrDegenerateBasis, r, c)
	}
	bottom := mat.NewVecDense(4, []float64{0, 0, 0, 1})
	if !mat.EqualApprox(p.Axes.RowView(3), bottom, basisTolerance) {
		return fmt.Errorf("%w: bottom row is not (0,0,0,1)", ErrDegenerateBasis)
	}

	rot := p.Axes.Slice(0, 3, 0, 3)
	if det := mat.Det(rot); math.IsNaN(det) || math.Abs(math.Abs(det)-1) > basisTolerance {
		return fmt.Errorf("%w: determinant %g", ErrDegenerateBasis, det)
	}
	var rtr mat.Dense
	rtr.Mul(rot.T(), rot)
	if !mat.EqualApprox(&rtr, mat.NewDiagDense(3, []float64{1, 1, 1}), basisTolerance) {
		return fmt.Errorf("%w: axes are not unit length and mutually perpendicular", ErrDegenerateBasis)
	}

	if p.Width <= 0 || p.Height <= 0 || !(p.PixelSpacing[0] > 0) || !(p.PixelSpacing[1] > 0) {
		return fmt.Errorf("%w: %dx%d at %v", ErrInvalidOutput, p.Width, p.Height, p.PixelSpacing)
	}
	return nil
}

// Point returns the physical position of output pixel (i, j). Column i
// runs along U and row j along V, both centered on the origin.
func (p *Plane) Point(i, j int) r3.Vec {
	u := (float64(i) - float64(p.Width-1)/2) * p.PixelSpacing[0]
	v := (float64(j) - float64(p.Height-1)/2) * p.PixelSpacing[1]
	return r3.Add(p.Origin(), r3.Add(r3.Scale(u, p.AxisU()), r3.Scale(v, p.AxisV())))
}

// Clone returns a deep copy.
func (p *Plane) Clone() *Plane {
	c := *p
	if p.Axes != nil {
		c.Axes = mat.DenseCopyOf(p.Axes)
	}
	return &c
}

// Translate returns a copy moved by d physical units along the normal.
func (p *Plane) Translate(d float64) (*Plane, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := p.Clone()
	o := r3.Add(p.Origin(), r3.Scale(d, p.Normal()))
	c.Axes.Set(0, 3, o.X)
	c.Axes.Set(1, 3, o.Y)
	c.Axes.Set(2, 3, o.Z)
	return c, nil
}

// Rotate returns a copy whose axes are rotated by angle radians about axis,
// keeping the origin fixed.
func (p *Plane) Rotate(axis r3.Vec, angle float64) (*Plane, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if r3.Norm(axis) == 0 {
		return nil, fmt.Errorf("%w: zero rotation axis", ErrDegenerateBasis)
	}
	k := r3.Unit(axis)
	sin, cos := math.Sincos(angle)
	t := 1 - cos

	rot := mat.NewDense(3, 3, []float64{
		cos + k.X*k.X*t, k.X*k.Y*t - k.Z*sin, k.X*k.Z*t + k.Y*sin,
		k.Y*k.X*t + k.Z*sin, cos + k.Y*k.Y*t, k.Y*k.Z*t - k.X*sin,
		k.Z*k.X*t - k.Y*sin, k.Z*k.Y*t + k.X*sin, cos + k.Z*k.Z*t,
	})

	c := p.Clone()
	var basis mat.Dense
	basis.Mul(rot, p.Axes.Slice(0, 3, 0, 3))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c.Axes.Set(i, j, basis.At(i, j))
		}
	}
	return c, nil
}

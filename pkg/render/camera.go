package render

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"ctvolume/pkg/volume"
)

// Projection selects how rays leave the camera.
type Projection int

const (
	Perspective Projection = iota
	Parallel
)

// Camera is a virtual viewer in the grid's physical space.
type Camera struct {
	Position   r3.Vec
	FocalPoint r3.Vec
	Up         r3.Vec

	// ViewAngle is the vertical field of view in degrees (perspective only).
	ViewAngle float64

	Projection Projection

	// ParallelScale is half the viewport height in physical units
	// (parallel only).
	ParallelScale float64
}

// FitCamera places a perspective camera looking at the center of b from
// direction dir, far enough back that the whole box fits the view.
func FitCamera(b volume.Bounds, dir r3.Vec, viewAngle float64) Camera {
	if viewAngle <= 0 || viewAngle >= 180 {
		viewAngle = 30
	}
	if r3.Norm(dir) == 0 {
		dir = r3.Vec{Z: 1}
	}
	center := b.Center()
	radius := b.Diagonal() / 2
	if radius == 0 {
		radius = 1
	}
	dist := radius / math.Sin(viewAngle*math.Pi/360)
	up := r3.Vec{Y: 1}
	if math.Abs(r3.Dot(r3.Unit(dir), up)) > 0.99 {
		up = r3.Vec{Z: 1}
	}
	return Camera{
		Position:      r3.Add(center, r3.Scale(dist, r3.Unit(dir))),
		FocalPoint:    center,
		Up:            up,
		ViewAngle:     viewAngle,
		ParallelScale: radius,
	}
}

// rayGen turns pixel coordinates into rays.
type rayGen struct {
	eye      r3.Vec
	view     r3.Vec
	u, v     r3.Vec
	halfW    float64
	halfH    float64
	width    float64
	height   float64
	parallel bool
}

// newRayGen builds the view basis: u points right and v up on screen.
func newRayGen(c Camera, width, height int) rayGen {
	view := r3.Sub(c.FocalPoint, c.Position)
	if r3.Norm(view) == 0 {
		view = r3.Vec{Z: -1}
	}
	view = r3.Unit(view)

	up := c.Up
	if r3.Norm(r3.Cross(view, up)) < 1e-12 {
		// Up parallel to the view direction; pick any perpendicular.
		up = r3.Vec{Y: 1}
		if math.Abs(view.Y) > 0.9 {
			up = r3.Vec{Z: 1}
		}
	}
	u := r3.Unit(r3.Cross(view, up))
	v := r3.Unit(r3.Cross(u, view))

	aspect := float64(width) / float64(height)
	var halfH float64
	if c.Projection == Parallel {
		halfH = c.ParallelScale
		if halfH <= 0 {
			halfH = 1
		}
	} else {
		angle := c.ViewAngle
		if angle <= 0 || angle >= 180 {
			angle = 30
		}
		halfH = math.Tan(angle * math.Pi / 360)
	}

	return rayGen{
		eye:      c.Position,
		view:     view,
		u:        u,
		v:        v,
		halfW:    halfH * aspect,
		halfH:    halfH,
		width:    float64(width),
		height:   float64(height),
		parallel: c.Projection == Parallel,
	}
}

// ray returns the origin and unit direction through the center of pixel
// (x, y); row 0 is the top of the image.
func (g rayGen) ray(x, y int) (r3.Vec, r3.Vec) {
	sx := (2*(float64(x)+0.5)/g.width - 1) * g.halfW
	sy := (1 - 2*(float64(y)+0.5)/g.height) * g.halfH
	offset := r3.Add(r3.Scale(sx, g.u), r3.Scale(sy, g.v))

	if g.parallel {
		return r3.Add(g.eye, offset), g.view
	}
	return g.eye, r3.Unit(r3.Add(g.view, offset))
}

// clip intersects the ray with box b using the slab test and returns the
// parametric entry and exit distances, entry never behind the origin.
func clip(origin, dir r3.Vec, b volume.Bounds) (t0, t1 float64, hit bool) {
	t0, t1 = 0, math.Inf(1)
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}

	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, 0, false
			}
			continue
		}
		near := (lo[i] - o[i]) / d[i]
		far := (hi[i] - o[i]) / d[i]
		if near > far {
			near, far = far, near
		}
		t0 = math.Max(t0, near)
		t1 = math.Min(t1, far)
		if t0 > t1 {
			return 0, 0, false
		}
	}
	return t0, t1, true
}

package render

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"ctvolume/pkg/transfer"
	"ctvolume/pkg/volume"
)

// DefaultTerminationEpsilon is how close to opaque a ray gets before it stops.
const DefaultTerminationEpsilon = 0.005

// Options configures a Compositor.
type Options struct {
	// Width and Height are the output size in pixels.
	Width, Height int

	// StepSize is the physical distance between ray samples. Zero means half
	// the smallest voxel spacing.
	StepSize float64

	// TerminationEpsilon stops a ray once its opacity reaches 1-epsilon.
	// Zero means DefaultTerminationEpsilon.
	TerminationEpsilon float64

	// DisableEarlyTermination marches every ray to the grid boundary.
	DisableEarlyTermination bool

	// Workers bounds the number of rows marched concurrently. Zero means
	// one per CPU.
	Workers int
}

// Compositor ray-marches layers over their shared grid. It never modifies
// the grid or the layers, so one Compositor may serve many calls.
type Compositor struct {
	opts Options
}

// NewCompositor returns a Compositor with the given options.
func NewCompositor(opts Options) *Compositor {
	if opts.TerminationEpsilon <= 0 {
		opts.TerminationEpsilon = DefaultTerminationEpsilon
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Compositor{opts: opts}
}

// Options returns the effective options.
func (c *Compositor) Options() Options {
	return c.opts
}

// Composite renders layers as seen from cam. Layers are stacked in slice
// order at every sample, the first one at the bottom, and samples are
// accumulated front to back along each ray.
//
// Layers whose density bands overlap blend their colors where the bands
// overlap; telling them apart needs real segmentation.
//
// If ctx is canceled the partial image is discarded and ctx's error returned.
func (c *Compositor) Composite(ctx context.Context, layers []*Layer, cam Camera) (*Framebuffer, error) {
	grid, err := sharedGrid(layers)
	if err != nil {
		return nil, err
	}
	if c.opts.Width <= 0 || c.opts.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidViewport, c.opts.Width, c.opts.Height)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := c.newMarcher(layers, grid)
	gen := newRayGen(cam, c.opts.Width, c.opts.Height)
	fb := NewFramebuffer(c.opts.Width, c.opts.Height)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for y := 0; y < fb.Height; y++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for x := 0; x < fb.Width; x++ {
				origin, dir := gen.ray(x, y)
				fb.set(x, y, m.march(origin, dir))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fb, nil
}

// marcher holds the per-composite constants. Rays share it read-only; all
// accumulation state lives on the stack of march.
type marcher struct {
	layers  []*Layer
	grid    volume.Sampleable
	bounds  volume.Bounds
	step    float64
	stopAt  float64
	early   bool
	shading bool
}

func (c *Compositor) newMarcher(layers []*Layer, grid volume.Sampleable) *marcher {
	step := c.opts.StepSize
	if step <= 0 {
		s := grid.Spacing()
		step = 0.5 * math.Min(s.X, math.Min(s.Y, s.Z))
	}
	shading := false
	for _, l := range layers {
		shading = shading || l.Shading
	}
	return &marcher{
		layers:  layers,
		grid:    grid,
		bounds:  grid.Bounds(),
		step:    step,
		stopAt:  1 - c.opts.TerminationEpsilon,
		early:   !c.opts.DisableEarlyTermination,
		shading: shading,
	}
}

// probe caches the density and gradient at one sample point per
// interpolation mode, since several layers usually share a mode.
type probe struct {
	density  [2]float64
	inside   [2]bool
	sampled  [2]bool
	gradient [2]r3.Vec
	graded   [2]bool
}

func (m *marcher) march(origin, dir r3.Vec) Pixel {
	var px Pixel
	t0, t1, hit := clip(origin, dir, m.bounds)
	if !hit {
		return px
	}

	n := int(math.Floor((t1-t0)/m.step + 1e-9))
	for i := 0; i <= n; i++ {
		p := r3.Add(origin, r3.Scale(t0+float64(i)*m.step, dir))
		sr, sg, sb, sa := m.classify(p, dir)
		if sa <= 0 {
			continue
		}

		rest := 1 - px.A
		px.R += rest * sr
		px.G += rest * sg
		px.B += rest * sb
		px.A += rest * sa

		if m.early && px.A >= m.stopAt {
			px.A = 1
			break
		}
	}
	return px
}

// classify stacks every layer's (color, opacity) at p with the over
// operator and returns the premultiplied result.
func (m *marcher) classify(p, dir r3.Vec) (r, g, b, a float64) {
	var pr probe
	for _, l := range m.layers {
		mode := l.Interpolation
		if mode != volume.Nearest {
			mode = volume.Linear
		}
		if !pr.sampled[mode] {
			pr.density[mode], pr.inside[mode] = m.grid.Sample(p, mode)
			pr.sampled[mode] = true
		}
		if !pr.inside[mode] {
			continue
		}

		d := pr.density[mode]
		op := l.Transfer.EvaluateOpacity(d)
		if op <= 0 {
			continue
		}
		col := l.Transfer.EvaluateColor(d)
		if l.Shading {
			if !pr.graded[mode] {
				pr.gradient[mode] = m.grid.Gradient(p, mode)
				pr.graded[mode] = true
			}
			col = shade(col, pr.gradient[mode], dir, l.Lighting)
		}

		keep := 1 - op
		r = col.R*op + r*keep
		g = col.G*op + g*keep
		b = col.B*op + b*keep
		a = op + a*keep
	}
	return r, g, b, a
}

// shade applies two-sided Blinn-Phong with a headlight at the eye. Flat
// regions have no normal and pass through unshaded.
func shade(c transfer.RGB, grad, dir r3.Vec, lt Lighting) transfer.RGB {
	mag := r3.Norm(grad)
	if mag < 1e-9 {
		return c
	}
	// With the light at the eye the half vector equals the view vector.
	ndl := math.Abs(r3.Dot(r3.Scale(1/mag, grad), dir))
	highlight := lt.Specular * math.Pow(ndl, lt.SpecularPower)
	k := lt.Ambient + lt.Diffuse*ndl
	return transfer.RGB{
		R: unit(c.R*k + highlight),
		G: unit(c.G*k + highlight),
		B: unit(c.B*k + highlight),
	}
}

func unit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

package render

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"ctvolume/pkg/transfer"
	"ctvolume/pkg/volume"
)

// uniformGrid builds an n^3 grid of a single density with unit spacing
func uniformGrid(t *testing.T, n int, density float64) *volume.Grid {
	t.Helper()
	raw := make([]float64, n*n*n)
	for i := range raw {
		raw[i] = density
	}
	g, err := volume.Ingest(raw, [3]int{n, n, n}, r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{}, 0, 2000)
	require.NoError(t, err)
	return g
}

// sphereGrid builds a grid with a dense ball (1500) inside softer tissue (150)
func sphereGrid(t *testing.T, n int) *volume.Grid {
	t.Helper()
	raw := make([]float64, n*n*n)
	c := float64(n-1) / 2
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				d := math.Sqrt((float64(x)-c)*(float64(x)-c) + (float64(y)-c)*(float64(y)-c) + (float64(z)-c)*(float64(z)-c))
				v := 0.0
				switch {
				case d < float64(n)/5:
					v = 1500
				case d < float64(n)/2.5:
					v = 150
				}
				raw[(z*n+y)*n+x] = v
			}
		}
	}
	g, err := volume.Ingest(raw, [3]int{n, n, n}, r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{}, 0, 2000)
	require.NoError(t, err)
	return g
}

func bandLayer(t *testing.T, name string, grid volume.Sampleable, lo, hi, scale float64, c transfer.RGB) *Layer {
	t.Helper()
	tf, err := transfer.NewBand(lo, hi, scale, c)
	require.NoError(t, err)
	l, err := NewLayer(name, grid, tf)
	require.NoError(t, err)
	return l
}

// TestOpaqueUniformLayer renders a fully opaque single layer over a uniform
// grid from several cameras; every pixel must equal the layer color
func TestOpaqueUniformLayer(t *testing.T) {
	grid := uniformGrid(t, 9, 700)
	tf := transfer.New()
	require.NoError(t, tf.AddOpacityPoint(0, 1))
	require.NoError(t, tf.AddColorPoint(0, transfer.RGB{R: 0.2, G: 0.4, B: 0.6}))
	require.NoError(t, tf.AddColorPoint(2000, transfer.RGB{R: 1, G: 1, B: 1}))
	want := tf.EvaluateColor(700)

	layer, err := NewLayer("solid", grid, tf)
	require.NoError(t, err)
	layer.Shading = true

	cameras := map[string]Camera{
		"inside looking +x": {Position: r3.Vec{X: 4, Y: 4, Z: 4}, FocalPoint: r3.Vec{X: 8, Y: 4, Z: 4}, Up: r3.Vec{Z: 1}, ViewAngle: 40},
		"inside looking -z": {Position: r3.Vec{X: 2, Y: 6, Z: 7}, FocalPoint: r3.Vec{X: 2, Y: 6, Z: 0}, Up: r3.Vec{Y: 1}, ViewAngle: 60},
		"parallel outside": {Position: r3.Vec{X: 4, Y: 4, Z: 50}, FocalPoint: r3.Vec{X: 4, Y: 4, Z: 4}, Up: r3.Vec{Y: 1},
			Projection: Parallel, ParallelScale: 2},
	}

	c := NewCompositor(Options{Width: 12, Height: 8, Workers: 3})
	for name, cam := range cameras {
		t.Run(name, func(t *testing.T) {
			fb, err := c.Composite(context.Background(), []*Layer{layer}, cam)
			require.NoError(t, err)
			for i, p := range fb.Pix {
				assert.Equal(t, Pixel{R: want.R, G: want.G, B: want.B, A: 1}, p, "pixel %d", i)
			}
		})
	}
}

// TestEmptyLayerSet verifies compositing nothing is an error
func TestEmptyLayerSet(t *testing.T) {
	c := NewCompositor(Options{Width: 4, Height: 4})
	fb, err := c.Composite(context.Background(), nil, Camera{})
	assert.Nil(t, fb)
	assert.True(t, errors.Is(err, ErrEmptyLayerSet))
}

// TestLayerErrors covers absent and mismatched grids and bad viewports
func TestLayerErrors(t *testing.T) {
	_, err := NewLayer("bone", nil, nil)
	assert.True(t, errors.Is(err, ErrNoGrid))

	a := bandLayer(t, "a", uniformGrid(t, 3, 500), 300, 2000, 1, transfer.RGB{R: 1})
	b := bandLayer(t, "b", uniformGrid(t, 3, 500), 300, 2000, 1, transfer.RGB{G: 1})
	cam := FitCamera(a.Grid.Bounds(), r3.Vec{Z: 1}, 30)

	_, err = NewCompositor(Options{Width: 4, Height: 4}).Composite(context.Background(), []*Layer{a, b}, cam)
	assert.True(t, errors.Is(err, ErrGridMismatch))

	_, err = NewCompositor(Options{Width: 0, Height: 4}).Composite(context.Background(), []*Layer{a}, cam)
	assert.True(t, errors.Is(err, ErrInvalidViewport))
}

// TestTransparentMiss verifies rays that miss the grid stay transparent
func TestTransparentMiss(t *testing.T) {
	grid := uniformGrid(t, 5, 1000)
	layer := bandLayer(t, "bone", grid, 300, 2000, 1, transfer.RGB{R: 1, G: 1, B: 1})
	cam := Camera{Position: r3.Vec{X: 100, Y: 100, Z: 100}, FocalPoint: r3.Vec{X: 200, Y: 100, Z: 100}, Up: r3.Vec{Z: 1}, ViewAngle: 20}

	fb, err := NewCompositor(Options{Width: 6, Height: 6}).Composite(context.Background(), []*Layer{layer}, cam)
	require.NoError(t, err)
	for _, p := range fb.Pix {
		assert.Equal(t, Pixel{}, p)
	}
}

// TestOpacityScaleMonotonic verifies raising a layer's opacity scale never
// lowers any pixel's accumulated opacity
func TestOpacityScaleMonotonic(t *testing.T) {
	grid := sphereGrid(t, 17)
	cam := FitCamera(grid.Bounds(), r3.Vec{X: 1, Y: 0.5, Z: 2}, 30)

	render := func(boneScale float64, early bool) *Framebuffer {
		tissue := bandLayer(t, "tissue", grid, 0, 200, 0.1, transfer.RGB{R: 0.5, G: 0.5, B: 0.5})
		bone := bandLayer(t, "bone", grid, 300, 2000, boneScale, transfer.RGB{R: 1, G: 0.2, B: 0.2})
		bone.Shading = true
		c := NewCompositor(Options{Width: 16, Height: 16, DisableEarlyTermination: !early})
		fb, err := c.Composite(context.Background(), []*Layer{tissue, bone}, cam)
		require.NoError(t, err)
		return fb
	}

	for _, early := range []bool{true, false} {
		prev := render(0, early)
		for _, scale := range []float64{0.1, 0.3, 0.7, 1} {
			next := render(scale, early)
			for i := range next.Pix {
				assert.GreaterOrEqual(t, next.Pix[i].A, prev.Pix[i].A-1e-12, "pixel %d scale %g early %v", i, scale, early)
			}
			prev = next
		}
	}
}

// TestEarlyTerminationEquivalence verifies stopping rays early changes the
// result by no more than the termination epsilon
func TestEarlyTerminationEquivalence(t *testing.T) {
	grid := sphereGrid(t, 21)
	cam := FitCamera(grid.Bounds(), r3.Vec{X: -1, Y: 2, Z: 1}, 35)
	tissue := bandLayer(t, "tissue", grid, 0, 200, 0.4, transfer.RGB{R: 0.5, G: 0.5, B: 0.5})
	bone := bandLayer(t, "bone", grid, 300, 2000, 1, transfer.RGB{R: 1, G: 1, B: 0.2})
	bone.Shading = true
	layers := []*Layer{tissue, bone}

	full, err := NewCompositor(Options{Width: 20, Height: 20, DisableEarlyTermination: true}).Composite(context.Background(), layers, cam)
	require.NoError(t, err)
	early, err := NewCompositor(Options{Width: 20, Height: 20}).Composite(context.Background(), layers, cam)
	require.NoError(t, err)

	tol := 2 * DefaultTerminationEpsilon
	terminated := 0
	for i := range full.Pix {
		f, e := full.Pix[i], early.Pix[i]
		assert.InDelta(t, f.R, e.R, tol, "pixel %d R", i)
		assert.InDelta(t, f.G, e.G, tol, "pixel %d G", i)
		assert.InDelta(t, f.B, e.B, tol, "pixel %d B", i)
		assert.InDelta(t, f.A, e.A, tol, "pixel %d A", i)
		if e.A == 1 {
			terminated++
		}
	}
	assert.Positive(t, terminated, "no ray reached the termination threshold")
}

// TestLayerOrder verifies the last layer is composited on top at a sample
func TestLayerOrder(t *testing.T) {
	grid := uniformGrid(t, 5, 1000)
	red := bandLayer(t, "red", grid, 300, 2000, 1, transfer.RGB{R: 1})
	blue := bandLayer(t, "blue", grid, 300, 2000, 1, transfer.RGB{B: 1})

	m := NewCompositor(Options{Width: 1, Height: 1}).newMarcher([]*Layer{red, blue}, grid)
	r, g, b, a := m.classify(r3.Vec{X: 2, Y: 2, Z: 2}, r3.Vec{Z: -1})

	op := red.Transfer.EvaluateOpacity(1000)
	assert.InDelta(t, op*(1-op), r, 1e-12)
	assert.Zero(t, g)
	assert.InDelta(t, op, b, 1e-12)
	assert.InDelta(t, op+op*(1-op), a, 1e-12)
}

// TestCompositeCanceled verifies a canceled context discards the image
func TestCompositeCanceled(t *testing.T) {
	grid := uniformGrid(t, 5, 1000)
	layer := bandLayer(t, "bone", grid, 300, 2000, 1, transfer.RGB{R: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fb, err := NewCompositor(Options{Width: 8, Height: 8}).Composite(ctx, []*Layer{layer}, FitCamera(grid.Bounds(), r3.Vec{Z: 1}, 30))
	assert.Nil(t, fb)
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestFramebufferImage checks flattening over a background
func TestFramebufferImage(t *testing.T) {
	fb := NewFramebuffer(2, 1)
	fb.set(0, 0, Pixel{R: 0.5, A: 0.5})

	img := fb.Image(transfer.RGB{B: 1})
	c := img.RGBAAt(0, 0)
	assert.Equal(t, uint8(128), c.R)
	assert.Equal(t, uint8(128), c.B)
	assert.Equal(t, uint8(255), img.RGBAAt(1, 0).B)

	n := fb.NRGBA()
	assert.Equal(t, uint8(255), n.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(128), n.NRGBAAt(0, 0).A)
	assert.Zero(t, n.NRGBAAt(1, 0).A)
}

// TestClip checks the slab intersection
func TestClip(t *testing.T) {
	b := volume.Bounds{Max: r3.Vec{X: 4, Y: 4, Z: 4}}

	t0, t1, hit := clip(r3.Vec{X: -2, Y: 2, Z: 2}, r3.Vec{X: 1}, b)
	require.True(t, hit)
	assert.Equal(t, 2.0, t0)
	assert.Equal(t, 6.0, t1)

	t0, t1, hit = clip(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{Z: -1}, b)
	require.True(t, hit)
	assert.Equal(t, 0.0, t0)
	assert.Equal(t, 1.0, t1)

	_, _, hit = clip(r3.Vec{X: -2, Y: 5, Z: 2}, r3.Vec{X: 1}, b)
	assert.False(t, hit)
}

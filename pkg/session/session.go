// Package session owns one loaded volume together with its layers,
// compositor and interaction controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"ctvolume/internal/models"
	"ctvolume/pkg/config"
	"ctvolume/pkg/interaction"
	"ctvolume/pkg/render"
	"ctvolume/pkg/reslice"
	"ctvolume/pkg/series"
	"ctvolume/pkg/transfer"
	"ctvolume/pkg/volume"
)

// ErrClosed is returned by every call on a closed Session.
var ErrClosed = errors.New("session: closed")

// Params holds what a session is built from.
type Params struct {
	// Config describes the layers, renderer and reslice settings.
	Config *config.Config

	// Volume is the raw series to ingest. A nil volume means no series was
	// found.
	Volume *models.RawVolume

	Logger logrus.FieldLogger
}

// Session wires a grid, its layers and a controller together. All methods
// are safe for concurrent use.
type Session struct {
	cfg *config.Config
	log logrus.FieldLogger

	mu         sync.Mutex
	grid       *volume.Grid
	controller *interaction.Controller
	closed     bool
}

// New ingests the volume and builds every configured layer over it.
func New(p Params) (*Session, error) {
	log := p.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p.Volume == nil {
		return nil, fmt.Errorf("%w: no volume to render", series.ErrSeriesNotFound)
	}

	v := p.Volume
	grid, err := volume.Ingest(v.Samples, v.Dims,
		r3.Vec{X: v.Spacing[0], Y: v.Spacing[1], Z: v.Spacing[2]},
		r3.Vec{X: v.Origin[0], Y: v.Origin[1], Z: v.Origin[2]},
		cfg.Volume.ClipMin, cfg.Volume.ClipMax)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest volume: %w", err)
	}

	bindings, err := buildBindings(cfg.Layers, grid)
	if err != nil {
		return nil, err
	}

	comp := render.NewCompositor(render.Options{
		Width:              cfg.Render.Width,
		Height:             cfg.Render.Height,
		StepSize:           cfg.Render.StepSize,
		TerminationEpsilon: cfg.Render.TerminationEpsilon,
		Workers:            cfg.Render.Workers,
	})
	controller, err := interaction.NewController(comp, CameraFromConfig(cfg.Render.Camera, grid.Bounds()), bindings, interaction.Options{
		DensityRange: &[2]float64{cfg.Volume.ClipMin, cfg.Volume.ClipMax},
	})
	if err != nil {
		return nil, err
	}

	sum := volume.Summarize(grid)
	log.WithFields(logrus.Fields{
		"dims":   grid.Dims(),
		"layers": len(bindings),
		"min":    sum.Min,
		"max":    sum.Max,
		"mean":   fmt.Sprintf("%.1f", sum.Mean),
	}).Info("Session ready")

	return &Session{
		cfg:        cfg,
		log:        log,
		grid:       grid,
		controller: controller,
	}, nil
}

func buildBindings(layers []config.Layer, grid *volume.Grid) ([]interaction.Binding, error) {
	bindings := make([]interaction.Binding, 0, len(layers))
	for _, l := range layers {
		params, err := LayerParams(l)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		mode, err := volume.ParseInterpolation(l.Interpolation)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		layer, err := render.NewLayer(l.Name, grid, nil)
		if err != nil {
			return nil, err
		}
		layer.Interpolation = mode
		bindings = append(bindings, interaction.Binding{Layer: layer, Params: params})
	}
	return bindings, nil
}

// LayerParams converts a configured layer into controller parameters.
func LayerParams(l config.Layer) (interaction.LayerParams, error) {
	kind, err := interaction.ParseKind(l.Kind)
	if err != nil {
		return interaction.LayerParams{}, err
	}
	return interaction.LayerParams{
		Kind:         kind,
		MinHU:        l.MinHU,
		MaxHU:        l.MaxHU,
		OpacityScale: l.OpacityScale,
		Color:        rgb(l.Color),
		BoneScale:    l.BoneScale,
		TissueScale:  l.TissueScale,
		Shading:      l.Shading,
		Opacity: lo.Map(l.Opacity, func(p [2]float64, _ int) transfer.OpacityPoint {
			return transfer.OpacityPoint{Key: p[0], Value: p[1]}
		}),
		Colors: lo.Map(l.Colors, func(p [4]float64, _ int) transfer.ColorPoint {
			return transfer.ColorPoint{Key: p[0], Color: transfer.RGB{R: p[1], G: p[2], B: p[3]}}
		}),
	}, nil
}

// CameraFromConfig uses an explicit position and focal point when both are
// set and otherwise fits the camera to b.
func CameraFromConfig(c config.Camera, b volume.Bounds) render.Camera {
	dir := vec(c.Direction)
	if r3.Norm(dir) == 0 {
		dir = r3.Vec{Y: -1}
	}
	cam := render.FitCamera(b, dir, c.ViewAngle)
	if c.Position != nil && c.FocalPoint != nil {
		cam.Position = vec(*c.Position)
		cam.FocalPoint = vec(*c.FocalPoint)
	}
	if c.Up != nil {
		cam.Up = vec(*c.Up)
	}
	if c.Parallel {
		cam.Projection = render.Parallel
	}
	return cam
}

func vec(v config.Vec3) r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

func rgb(c config.Color) transfer.RGB { return transfer.RGB{R: c.R, G: c.G, B: c.B} }

func (s *Session) live() (*interaction.Controller, *volume.Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	return s.controller, s.grid, nil
}

// Grid returns the ingested grid.
func (s *Session) Grid() (*volume.Grid, error) {
	_, g, err := s.live()
	return g, err
}

// Controller returns the interaction controller driving the layers.
func (s *Session) Controller() (*interaction.Controller, error) {
	c, _, err := s.live()
	return c, err
}

// Render composites the scene if anything changed and returns the latest
// framebuffer.
func (s *Session) Render(ctx context.Context) (*render.Framebuffer, error) {
	c, _, err := s.live()
	if err != nil {
		return nil, err
	}
	fb, err := c.Tick(ctx)
	if err != nil {
		return nil, err
	}
	if fb == nil {
		fb = c.Last()
	}
	return fb, nil
}

// Image renders and flattens the result over the configured background.
func (s *Session) Image(ctx context.Context) (*image.RGBA, error) {
	fb, err := s.Render(ctx)
	if err != nil {
		return nil, err
	}
	return fb.Image(rgb(s.cfg.Render.Background)), nil
}

// Apply queues events for the next render. A full queue is drained before
// retrying, so every event is applied in order. Rejected events are
// reported together.
func (s *Session) Apply(events ...interaction.Event) error {
	c, _, err := s.live()
	if err != nil {
		return err
	}
	var errs []error
	for _, ev := range events {
		if err := c.Post(ev); errors.Is(err, interaction.ErrQueueFull) {
			errs = append(errs, c.Drain())
			err = c.Post(ev)
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.Drain())
	return errors.Join(errs...)
}

// Views is the four-pane layout: the composite plus the three canonical
// reslices through the grid center.
type Views struct {
	Composite *render.Framebuffer
	Slices    map[reslice.Orientation]*reslice.Image
}

// Views renders the composite and the axial, coronal and sagittal slices
// concurrently.
func (s *Session) Views(ctx context.Context) (*Views, error) {
	_, grid, err := s.live()
	if err != nil {
		return nil, err
	}
	mode, err := volume.ParseInterpolation(s.cfg.Reslice.Interpolation)
	if err != nil {
		return nil, err
	}

	out := &Views{Slices: make(map[reslice.Orientation]*reslice.Image, len(reslice.Orientations))}
	images := make([]*reslice.Image, len(reslice.Orientations))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fb, err := s.Render(gctx)
		out.Composite = fb
		return err
	})
	for i, o := range reslice.Orientations {
		g.Go(func() error {
			plane := reslice.Canonical(o, grid)
			plane.Interpolation = mode
			plane.Outside = s.cfg.Reslice.Outside
			img, err := reslice.Resample(grid, plane)
			images[i] = img
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, o := range reslice.Orientations {
		out.Slices[o] = images[i]
	}
	return out, nil
}

// SaveSlices writes every slice along the canonical orientation o to dir
// using the configured window and format.
func (s *Session) SaveSlices(o reslice.Orientation, dir string) ([]string, error) {
	_, grid, err := s.live()
	if err != nil {
		return nil, err
	}
	mode, err := volume.ParseInterpolation(s.cfg.Reslice.Interpolation)
	if err != nil {
		return nil, err
	}
	win := reslice.Window{Low: s.cfg.Reslice.WindowLow, High: s.cfg.Reslice.WindowHigh}
	paths, err := reslice.SaveSliceSequence(grid, o, mode, win, dir, s.cfg.Output.SliceFormat)
	if err != nil {
		return paths, err
	}
	s.log.WithFields(logrus.Fields{"orientation": o, "count": len(paths), "dir": dir}).Info("Saved slices")
	return paths, nil
}

// Close releases the grid and layers. Further calls return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.grid = nil
	s.controller = nil
	s.log.Debug("Session closed")
	return nil
}

// Package interaction applies live parameter edits to render layers and
// decides when the scene needs compositing again.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/samber/lo"

	"ctvolume/pkg/render"
	"ctvolume/pkg/transfer"
)

// Controller errors
var (
	ErrUnknownLayer     = errors.New("interaction: unknown layer")
	ErrUnknownParameter = errors.New("interaction: unknown parameter")
	ErrQueueFull        = errors.New("interaction: event queue is full")
	ErrStaleComposite   = errors.New("interaction: composite superseded by a newer edit")
)

// State is the recomposition state of a Controller.
type State int

const (
	// Idle means the last composite reflects every edit.
	Idle State = iota
	// Dirty means an edit arrived since the last successful composite.
	Dirty
)

func (s State) String() string {
	if s == Idle {
		return "idle"
	}
	return "dirty"
}

// Renderer composites a layer set. *render.Compositor implements it.
type Renderer interface {
	Composite(ctx context.Context, layers []*render.Layer, cam render.Camera) (*render.Framebuffer, error)
}

// Event is one parameter change as delivered by a host.
type Event struct {
	Layer string  `yaml:"layer"`
	Param Param   `yaml:"param"`
	Value float64 `yaml:"value"`
}

// Binding pairs a layer with the parameters its transfer function is built
// from.
type Binding struct {
	Layer  *render.Layer
	Params LayerParams
}

// Options configures a Controller.
type Options struct {
	// QueueSize bounds the number of posted, undrained events. Zero means 64.
	QueueSize int

	// DensityRange bounds the min_hu and max_hu parameters. Nil means
	// [0, 65535].
	DensityRange *[2]float64
}

type binding struct {
	layer  *render.Layer
	params LayerParams
}

// Controller serializes parameter edits against compositing. Edits are
// applied under its lock; a composite works on a snapshot taken under the
// same lock, so it never observes a half-applied edit.
type Controller struct {
	renderer Renderer
	events   chan Event
	floor    float64
	ceil     float64

	mu         sync.Mutex
	layers     []*binding
	byName     map[string]*binding
	cam        render.Camera
	state      State
	generation uint64
	last       *render.Framebuffer
}

// NewController takes ownership of the bound layers. Each layer's transfer
// function is rebuilt from its parameters. The controller starts Dirty
// since nothing has been composited yet.
func NewController(r Renderer, cam render.Camera, bindings []Binding, opts Options) (*Controller, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	bounds := [2]float64{0, math.MaxUint16}
	if opts.DensityRange != nil {
		bounds = *opts.DensityRange
	}
	if len(bindings) == 0 {
		return nil, render.ErrEmptyLayerSet
	}

	layers := make([]*binding, 0, len(bindings))
	for _, b := range bindings {
		if b.Layer == nil {
			return nil, fmt.Errorf("%w: nil layer", render.ErrNoGrid)
		}
		tf, err := BuildTransfer(b.Params)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", b.Layer.Name, err)
		}
		b.Layer.Transfer = tf
		b.Layer.Shading = b.Params.Shading
		layers = append(layers, &binding{layer: b.Layer, params: b.Params.clone()})
	}
	byName := lo.KeyBy(layers, func(b *binding) string { return b.layer.Name })
	if len(byName) != len(layers) {
		return nil, fmt.Errorf("interaction: duplicate layer names")
	}

	return &Controller{
		renderer: r,
		events:   make(chan Event, opts.QueueSize),
		floor:    bounds[0],
		ceil:     bounds[1],
		layers:   layers,
		byName:   byName,
		cam:      cam,
		state:    Dirty,
	}, nil
}

// OnParameterChanged clamps value into param's declared range, rebuilds the
// layer's transfer function and marks the controller Dirty. An unknown layer
// or parameter leaves everything untouched.
func (c *Controller) OnParameterChanged(layer string, param Param, value float64) error {
	if math.IsNaN(value) {
		return fmt.Errorf("%w: %s.%s is NaN", transfer.ErrInvalidValue, layer, param)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.byName[layer]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLayer, layer)
	}
	if !b.params.Kind.supports(param) {
		return fmt.Errorf("%w: %q on %s layer %q", ErrUnknownParameter, param, b.params.Kind, layer)
	}

	next := b.params.clone()
	next.apply(param, value, c.floor, c.ceil)
	tf, err := BuildTransfer(next)
	if err != nil {
		return fmt.Errorf("layer %q: %w", layer, err)
	}

	b.layer.Transfer.CopyFrom(tf)
	b.layer.Shading = next.Shading
	b.params = next
	c.touch()
	return nil
}

// SetCamera replaces the camera and marks the controller Dirty.
func (c *Controller) SetCamera(cam render.Camera) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cam = cam
	c.touch()
}

// touch records an edit. Callers hold mu.
func (c *Controller) touch() {
	c.generation++
	c.state = Dirty
}

// RenderIfDirty composites the current layers when Dirty and returns the
// new framebuffer, moving to Idle. When Idle it returns nil and does
// nothing. If an edit lands while compositing, the result is discarded
// with ErrStaleComposite and the controller stays Dirty.
func (c *Controller) RenderIfDirty(ctx context.Context) (*render.Framebuffer, error) {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return nil, nil
	}
	gen := c.generation
	snapshot := lo.Map(c.layers, func(b *binding, _ int) *render.Layer { return b.layer.Clone() })
	cam := c.cam
	c.mu.Unlock()

	fb, err := c.renderer.Composite(ctx, snapshot, cam)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return nil, ErrStaleComposite
	}
	c.state = Idle
	c.last = fb
	return fb, nil
}

// Post queues an event without blocking. It fails with ErrQueueFull when
// the queue holds QueueSize undrained events.
func (c *Controller) Post(ev Event) error {
	select {
	case c.events <- ev:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s.%s", ErrQueueFull, ev.Layer, ev.Param)
	}
}

// Drain applies every queued event in arrival order. Rejected events are
// reported together; the rest still apply.
func (c *Controller) Drain() error {
	var errs []error
	for {
		select {
		case ev := <-c.events:
			if err := c.OnParameterChanged(ev.Layer, ev.Param, ev.Value); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

// Tick handles one host frame: drain the queue, then render if Dirty. A
// frame with rejected events still renders the accepted ones.
func (c *Controller) Tick(ctx context.Context) (*render.Framebuffer, error) {
	drainErr := c.Drain()
	fb, err := c.RenderIfDirty(ctx)
	return fb, errors.Join(drainErr, err)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Last returns the most recent successful composite, or nil.
func (c *Controller) Last() *render.Framebuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Camera returns the current camera.
func (c *Controller) Camera() render.Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cam
}

// Layers returns a consistent snapshot of the layers.
func (c *Controller) Layers() []*render.Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Map(c.layers, func(b *binding, _ int) *render.Layer { return b.layer.Clone() })
}

// Params returns the current parameters of a layer.
func (c *Controller) Params(layer string) (LayerParams, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byName[layer]
	if !ok {
		return LayerParams{}, fmt.Errorf("%w: %q", ErrUnknownLayer, layer)
	}
	return b.params.clone(), nil
}

// DensityRange returns the bounds applied to min_hu and max_hu edits.
func (c *Controller) DensityRange() (floor, ceil float64) {
	return c.floor, c.ceil
}

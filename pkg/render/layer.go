// Package render classifies a shared density grid through one or more
// transfer-function layers and composites the result along view rays.
package render

import (
	"errors"
	"fmt"

	"ctvolume/pkg/transfer"
	"ctvolume/pkg/volume"
)

// Compositing errors
var (
	ErrEmptyLayerSet   = errors.New("render: no layers to composite")
	ErrNoGrid          = errors.New("render: layer has no volume grid")
	ErrGridMismatch    = errors.New("render: layers do not share one grid")
	ErrInvalidViewport = errors.New("render: output size must be positive")
)

// Lighting holds the shading coefficients of a layer.
type Lighting struct {
	Ambient       float64
	Diffuse       float64
	Specular      float64
	SpecularPower float64
}

// DefaultLighting returns the coefficients used when shading is enabled
// without explicit values.
func DefaultLighting() Lighting {
	return Lighting{Ambient: 0.2, Diffuse: 0.7, Specular: 0.2, SpecularPower: 10}
}

// Layer is one density classification of a shared grid. The grid is
// borrowed; the transfer function belongs to this layer alone.
type Layer struct {
	Name          string
	Grid          volume.Sampleable
	Transfer      *transfer.Function
	Shading       bool
	Interpolation volume.Interpolation
	Lighting      Lighting
}

// NewLayer pairs a grid with its own transfer function. A nil grid is
// refused, which is how an absent series stops layer construction.
func NewLayer(name string, grid volume.Sampleable, tf *transfer.Function) (*Layer, error) {
	if grid == nil {
		return nil, fmt.Errorf("%w: layer %q", ErrNoGrid, name)
	}
	if tf == nil {
		tf = transfer.New()
	}
	return &Layer{
		Name:          name,
		Grid:          grid,
		Transfer:      tf,
		Interpolation: volume.Linear,
		Lighting:      DefaultLighting(),
	}, nil
}

// Clone returns a copy of the layer with its own transfer function. The grid
// stays shared.
func (l *Layer) Clone() *Layer {
	c := *l
	c.Transfer = l.Transfer.Clone()
	return &c
}

// sharedGrid returns the grid every layer points at.
func sharedGrid(layers []*Layer) (volume.Sampleable, error) {
	if len(layers) == 0 {
		return nil, ErrEmptyLayerSet
	}
	var grid volume.Sampleable
	for i, l := range layers {
		if l == nil || l.Grid == nil {
			return nil, fmt.Errorf("%w: layer %d", ErrNoGrid, i)
		}
		if grid == nil {
			grid = l.Grid
			continue
		}
		if l.Grid != grid {
			return nil, fmt.Errorf("%w: layer %q", ErrGridMismatch, l.Name)
		}
	}
	return grid, nil
}

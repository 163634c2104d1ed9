// Package transfer maps scalar density to optical properties.
//
// A Function holds two independent, key-sorted control point sequences:
// one for opacity and one for RGB color. Both are evaluated by clamped
// piecewise-linear interpolation, so a Function is a pure function of its
// points. Non-monotonic ramps are allowed; they are how a single density
// band is isolated.
package transfer

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidValue is returned when a control point value or key is out of range.
var ErrInvalidValue = errors.New("transfer: control point value out of range")

// Kind selects one of the two control point sequences.
type Kind int

const (
	Opacity Kind = iota
	Color
)

// RGB is a color with channels in [0,1].
type RGB struct {
	R, G, B float64
}

// Scale multiplies every channel by s.
func (c RGB) Scale(s float64) RGB {
	return RGB{c.R * s, c.G * s, c.B * s}
}

// OpacityPoint maps a density key to an opacity.
type OpacityPoint struct {
	Key   float64
	Value float64
}

// ColorPoint maps a density key to a color.
type ColorPoint struct {
	Key   float64
	Color RGB
}

// Function is a density to (opacity, color) mapping. The zero value is an
// empty function that evaluates to zero opacity and black.
//
// Evaluation methods only read; callers that mutate a Function while other
// goroutines evaluate it must serialize access themselves.
type Function struct {
	opacity []OpacityPoint
	color   []ColorPoint
}

// New returns an empty Function.
func New() *Function {
	return &Function{}
}

// AddControlPoint inserts a point into the sequence of the given kind.
// Opacity takes one value, Color takes three. A point with an existing key
// replaces the old one. On error the Function is left unchanged.
func (f *Function) AddControlPoint(kind Kind, key float64, values ...float64) error {
	switch kind {
	case Opacity:
		if len(values) != 1 {
			return fmt.Errorf("%w: opacity takes 1 value, got %d", ErrInvalidValue, len(values))
		}
		return f.AddOpacityPoint(key, values[0])
	case Color:
		if len(values) != 3 {
			return fmt.Errorf("%w: color takes 3 values, got %d", ErrInvalidValue, len(values))
		}
		return f.AddColorPoint(key, RGB{values[0], values[1], values[2]})
	}
	return fmt.Errorf("transfer: unknown sequence kind %d", kind)
}

// AddOpacityPoint inserts or replaces an opacity control point.
func (f *Function) AddOpacityPoint(key, value float64) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkUnit("opacity", value); err != nil {
		return err
	}

	i := sort.Search(len(f.opacity), func(i int) bool { return f.opacity[i].Key >= key })
	p := OpacityPoint{Key: key, Value: value}
	if i < len(f.opacity) && f.opacity[i].Key == key {
		f.opacity[i] = p
		return nil
	}
	f.opacity = append(f.opacity, OpacityPoint{})
	copy(f.opacity[i+1:], f.opacity[i:])
	f.opacity[i] = p
	return nil
}

// AddColorPoint inserts or replaces a color control point.
func (f *Function) AddColorPoint(key float64, c RGB) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkColor(c); err != nil {
		return err
	}

	i := sort.Search(len(f.color), func(i int) bool { return f.color[i].Key >= key })
	p := ColorPoint{Key: key, Color: c}
	if i < len(f.color) && f.color[i].Key == key {
		f.color[i] = p
		return nil
	}
	f.color = append(f.color, ColorPoint{})
	copy(f.color[i+1:], f.color[i:])
	f.color[i] = p
	return nil
}

// RemovePoint deletes the point at key from the given sequence and reports
// whether one was there.
func (f *Function) RemovePoint(kind Kind, key float64) bool {
	switch kind {
	case Opacity:
		i := sort.Search(len(f.opacity), func(i int) bool { return f.opacity[i].Key >= key })
		if i < len(f.opacity) && f.opacity[i].Key == key {
			f.opacity = append(f.opacity[:i], f.opacity[i+1:]...)
			return true
		}
	case Color:
		i := sort.Search(len(f.color), func(i int) bool { return f.color[i].Key >= key })
		if i < len(f.color) && f.color[i].Key == key {
			f.color = append(f.color[:i], f.color[i+1:]...)
			return true
		}
	}
	return false
}

// Reset replaces both sequences at once. Points may be given in any order
// but keys must be unique within a sequence. Nothing changes on error.
func (f *Function) Reset(opacity []OpacityPoint, color []ColorPoint) error {
	op := make([]OpacityPoint, len(opacity))
	copy(op, opacity)
	sort.Slice(op, func(i, j int) bool { return op[i].Key < op[j].Key })
	for i, p := range op {
		if err := checkKey(p.Key); err != nil {
			return err
		}
		if err := checkUnit("opacity", p.Value); err != nil {
			return err
		}
		if i > 0 && op[i-1].Key == p.Key {
			return fmt.Errorf("%w: duplicate opacity key %g", ErrInvalidValue, p.Key)
		}
	}

	cp := make([]ColorPoint, len(color))
	copy(cp, color)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Key < cp[j].Key })
	for i, p := range cp {
		if err := checkKey(p.Key); err != nil {
			return err
		}
		if err := checkColor(p.Color); err != nil {
			return err
		}
		if i > 0 && cp[i-1].Key == p.Key {
			return fmt.Errorf("%w: duplicate color key %g", ErrInvalidValue, p.Key)
		}
	}

	f.opacity = op
	f.color = cp
	return nil
}

// CopyFrom replaces f's points with a copy of src's.
func (f *Function) CopyFrom(src *Function) {
	f.opacity = append([]OpacityPoint(nil), src.opacity...)
	f.color = append([]ColorPoint(nil), src.color...)
}

// Clone returns an independent copy.
func (f *Function) Clone() *Function {
	c := New()
	c.CopyFrom(f)
	return c
}

// OpacityPoints returns a copy of the opacity sequence in key order.
func (f *Function) OpacityPoints() []OpacityPoint {
	return append([]OpacityPoint(nil), f.opacity...)
}

// ColorPoints returns a copy of the color sequence in key order.
func (f *Function) ColorPoints() []ColorPoint {
	return append([]ColorPoint(nil), f.color...)
}

// EvaluateOpacity interpolates the opacity at s. Outside the key range the
// nearest endpoint value is used. An empty sequence evaluates to 0.
func (f *Function) EvaluateOpacity(s float64) float64 {
	pts := f.opacity
	n := len(pts)
	if n == 0 {
		return 0
	}
	i := sort.Search(n, func(i int) bool { return pts[i].Key >= s })
	switch {
	case i == 0:
		return pts[0].Value
	case i == n:
		return pts[n-1].Value
	case pts[i].Key == s:
		return pts[i].Value
	}
	a, b := pts[i-1], pts[i]
	return a.Value + (b.Value-a.Value)*(s-a.Key)/(b.Key-a.Key)
}

// EvaluateColor interpolates each channel independently at s. Outside the
// key range the nearest endpoint color is used. An empty sequence is black.
func (f *Function) EvaluateColor(s float64) RGB {
	pts := f.color
	n := len(pts)
	if n == 0 {
		return RGB{}
	}
	i := sort.Search(n, func(i int) bool { return pts[i].Key >= s })
	switch {
	case i == 0:
		return pts[0].Color
	case i == n:
		return pts[n-1].Color
	case pts[i].Key == s:
		return pts[i].Color
	}
	a, b := pts[i-1], pts[i]
	t := (s - a.Key) / (b.Key - a.Key)
	return RGB{
		R: a.Color.R + (b.Color.R-a.Color.R)*t,
		G: a.Color.G + (b.Color.G-a.Color.G)*t,
		B: a.Color.B + (b.Color.B-a.Color.B)*t,
	}
}

// Range returns the smallest and largest key over both sequences.
// ok is false when the Function has no points.
func (f *Function) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	if len(f.opacity) > 0 {
		lo = math.Min(lo, f.opacity[0].Key)
		hi = math.Max(hi, f.opacity[len(f.opacity)-1].Key)
	}
	if len(f.color) > 0 {
		lo = math.Min(lo, f.color[0].Key)
		hi = math.Max(hi, f.color[len(f.color)-1].Key)
	}
	return lo, hi, lo <= hi
}

func checkKey(key float64) error {
	if math.IsNaN(key) || math.IsInf(key, 0) {
		return fmt.Errorf("%w: key %g is not finite", ErrInvalidValue, key)
	}
	return nil
}

func checkUnit(name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("%w: %s %g outside [0,1]", ErrInvalidValue, name, v)
	}
	return nil
}

func checkColor(c RGB) error {
	for _, v := range []float64{c.R, c.G, c.B} {
		if err := checkUnit("color channel", v); err != nil {
			return err
		}
	}
	return nil
}

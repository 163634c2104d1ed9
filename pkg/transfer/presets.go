package transfer

import (
	"fmt"

	"github.com/samber/lo"
)

// Ramp builds the band opacity used by density layers: zero just below
// minHU (the dead band), 0.1*scale at minHU, 0.5*scale halfway and scale at
// maxHU. scale is clamped to [0,1].
func Ramp(minHU, maxHU, scale float64) ([]OpacityPoint, error) {
	if !(minHU < maxHU) {
		return nil, fmt.Errorf("%w: ramp bounds [%g, %g]", ErrInvalidValue, minHU, maxHU)
	}
	s := lo.Clamp(scale, 0, 1)
	mid := (minHU + maxHU) / 2
	pts := []OpacityPoint{
		{Key: minHU - 1, Value: 0},
		{Key: minHU, Value: 0.1 * s},
	}
	// A band narrower than two units has no room for a distinct midpoint.
	if mid > minHU && mid < maxHU {
		pts = append(pts, OpacityPoint{Key: mid, Value: 0.5 * s})
	}
	return append(pts, OpacityPoint{Key: maxHU, Value: s}), nil
}

// BandColor lights only [minHU, maxHU]: black up to minHU-1, then c across
// the band. Above maxHU the last point clamps, so c stays lit.
func BandColor(minHU, maxHU float64, c RGB) ([]ColorPoint, error) {
	if !(minHU < maxHU) {
		return nil, fmt.Errorf("%w: band bounds [%g, %g]", ErrInvalidValue, minHU, maxHU)
	}
	if err := checkColor(c); err != nil {
		return nil, err
	}
	var pts []ColorPoint
	if minHU-1 > 0 {
		pts = append(pts, ColorPoint{Key: 0})
	}
	return append(pts,
		ColorPoint{Key: minHU - 1},
		ColorPoint{Key: minHU, Color: c},
		ColorPoint{Key: maxHU, Color: c},
	), nil
}

// TissueOpacity is the classic single-volume CT ramp: soft tissue builds up
// slowly scaled by tissueScale, bone saturates at 1300 scaled by boneScale.
func TissueOpacity(boneScale, tissueScale float64) []OpacityPoint {
	b := lo.Clamp(boneScale, 0, 1)
	t := lo.Clamp(tissueScale, 0, 1)
	return []OpacityPoint{
		{Key: 0, Value: 0},
		{Key: 150, Value: t * 0.02},
		{Key: 300, Value: t * 0.1},
		{Key: 500, Value: t * 0.25},
		{Key: 800, Value: t * 0.5},
		{Key: 1000, Value: t * 0.85},
		{Key: 1300, Value: b},
	}
}

// TissueColor is the warm flesh-to-white map paired with TissueOpacity.
func TissueColor() []ColorPoint {
	return []ColorPoint{
		{Key: 0, Color: RGB{0, 0, 0}},
		{Key: 150, Color: RGB{0.4, 0.3, 0.2}},
		{Key: 300, Color: RGB{0.5, 0.35, 0.3}},
		{Key: 800, Color: RGB{0.9, 0.8, 0.7}},
		{Key: 1300, Color: RGB{1, 1, 1}},
	}
}

// NewBand returns a Function with a Ramp opacity and a BandColor color.
func NewBand(minHU, maxHU, scale float64, c RGB) (*Function, error) {
	op, err := Ramp(minHU, maxHU, scale)
	if err != nil {
		return nil, err
	}
	cp, err := BandColor(minHU, maxHU, c)
	if err != nil {
		return nil, err
	}
	f := New()
	if err := f.Reset(op, cp); err != nil {
		return nil, err
	}
	return f, nil
}

// NewTissue returns a Function with the classic tissue ramp and color map.
func NewTissue(boneScale, tissueScale float64) *Function {
	f := New()
	// The preset points are sorted, unique and in range.
	_ = f.Reset(TissueOpacity(boneScale, tissueScale), TissueColor())
	return f
}

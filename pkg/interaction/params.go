package interaction

import (
	"fmt"

	"github.com/samber/lo"

	"ctvolume/pkg/transfer"
)

// Kind selects how a layer's transfer function is built from its parameters.
type Kind string

const (
	// KindSoftTissue and KindBone are density bands: a Ramp opacity over
	// [MinHU, MaxHU] lit with a single color.
	KindSoftTissue Kind = "soft_tissue"
	KindBone       Kind = "bone"

	// KindTissueRamp is the single-volume tissue/bone ramp driven by
	// BoneScale and TissueScale.
	KindTissueRamp Kind = "tissue_ramp"

	// KindCustom uses explicit control points, with OpacityScale applied to
	// every opacity value.
	KindCustom Kind = "custom"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSoftTissue, KindBone, KindTissueRamp, KindCustom:
		return k, nil
	}
	return "", fmt.Errorf("interaction: unknown layer kind %q", s)
}

func (k Kind) band() bool {
	return k == KindSoftTissue || k == KindBone
}

// Param names an editable layer parameter.
type Param string

const (
	ParamOpacityScale Param = "opacity_scale"
	ParamMinHU        Param = "min_hu"
	ParamMaxHU        Param = "max_hu"
	ParamColorR       Param = "color_r"
	ParamColorG       Param = "color_g"
	ParamColorB       Param = "color_b"
	ParamBoneScale    Param = "bone_scale"
	ParamTissueScale  Param = "tissue_scale"
	ParamShading      Param = "shading"
)

// LayerParams is the editable description of one layer. The layer's
// transfer function is always rebuilt from it as a whole.
type LayerParams struct {
	Kind         Kind
	MinHU, MaxHU float64
	OpacityScale float64
	Color        transfer.RGB
	BoneScale    float64
	TissueScale  float64
	Shading      bool

	// Opacity and Colors are the base control points of a custom layer.
	Opacity []transfer.OpacityPoint
	Colors  []transfer.ColorPoint
}

// BuildTransfer returns a new transfer function for p.
func BuildTransfer(p LayerParams) (*transfer.Function, error) {
	switch {
	case p.Kind.band():
		return transfer.NewBand(p.MinHU, p.MaxHU, p.OpacityScale, p.Color)
	case p.Kind == KindTissueRamp:
		return transfer.NewTissue(p.BoneScale, p.TissueScale), nil
	case p.Kind == KindCustom:
		f := transfer.New()
		if err := f.Reset(scaled(p.Opacity, p.OpacityScale), p.Colors); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("interaction: unknown layer kind %q", p.Kind)
}

func scaled(pts []transfer.OpacityPoint, scale float64) []transfer.OpacityPoint {
	s := lo.Clamp(scale, 0, 1)
	return lo.Map(pts, func(p transfer.OpacityPoint, _ int) transfer.OpacityPoint {
		return transfer.OpacityPoint{Key: p.Key, Value: p.Value * s}
	})
}

// supports reports whether param applies to layers of kind k.
func (k Kind) supports(param Param) bool {
	switch param {
	case ParamShading:
		return true
	case ParamOpacityScale:
		return k != KindTissueRamp
	case ParamMinHU, ParamMaxHU, ParamColorR, ParamColorG, ParamColorB:
		return k.band()
	case ParamBoneScale, ParamTissueScale:
		return k == KindTissueRamp
	}
	return false
}

// apply clamps value into the declared range of param and stores it in p.
// Density bounds stay inside [floor, ceil] and at least one unit apart.
func (p *LayerParams) apply(param Param, value, floor, ceil float64) {
	unit := func(v float64) float64 { return lo.Clamp(v, 0, 1) }
	switch param {
	case ParamOpacityScale:
		p.OpacityScale = unit(value)
	case ParamMinHU:
		p.MinHU = lo.Clamp(value, floor, p.MaxHU-1)
	case ParamMaxHU:
		p.MaxHU = lo.Clamp(value, p.MinHU+1, ceil)
	case ParamColorR:
		p.Color.R = unit(value)
	case ParamColorG:
		p.Color.G = unit(value)
	case ParamColorB:
		p.Color.B = unit(value)
	case ParamBoneScale:
		p.BoneScale = unit(value)
	case ParamTissueScale:
		p.TissueScale = unit(value)
	case ParamShading:
		p.Shading = value >= 0.5
	}
}

func (p LayerParams) clone() LayerParams {
	p.Opacity = append([]transfer.OpacityPoint(nil), p.Opacity...)
	p.Colors = append([]transfer.ColorPoint(nil), p.Colors...)
	return p
}

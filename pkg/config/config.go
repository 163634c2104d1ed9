// Package config provides configuration loading and management for ctvolume.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Color is an RGB triple with channels in [0,1].
type Color struct {
	R float64 `yaml:"r"`
	G float64 `yaml:"g"`
	B float64 `yaml:"b"`
}

// Vec3 is a point or direction in physical space.
type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Layer describes one classification of the volume.
type Layer struct {
	Name string `yaml:"name"`

	// Kind is one of soft_tissue, bone, tissue_ramp or custom.
	Kind string `yaml:"kind"`

	// MinHU and MaxHU bound the density band of soft_tissue and bone layers.
	MinHU float64 `yaml:"minHU,omitempty"`
	MaxHU float64 `yaml:"maxHU,omitempty"`

	OpacityScale float64 `yaml:"opacityScale"`
	Color        Color   `yaml:"color"`

	// BoneScale and TissueScale drive a tissue_ramp layer.
	BoneScale   float64 `yaml:"boneScale,omitempty"`
	TissueScale float64 `yaml:"tissueScale,omitempty"`

	// Opacity and Colors are the control points of a custom layer, each
	// entry [key, value] or [key, r, g, b].
	Opacity [][2]float64 `yaml:"opacity,omitempty"`
	Colors  [][4]float64 `yaml:"colors,omitempty"`

	Shading       bool   `yaml:"shading"`
	Interpolation string `yaml:"interpolation"`
}

// Camera places the viewer. A zero camera is fitted to the volume.
type Camera struct {
	Position   *Vec3   `yaml:"position,omitempty"`
	FocalPoint *Vec3   `yaml:"focalPoint,omitempty"`
	Up         *Vec3   `yaml:"up,omitempty"`
	Direction  Vec3    `yaml:"direction"`
	ViewAngle  float64 `yaml:"viewAngle"`
	Parallel   bool    `yaml:"parallel"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Volume ingestion parameters
	Volume struct {
		// ClipMin and ClipMax bound every stored density
		ClipMin float64 `yaml:"clipMin"`
		ClipMax float64 `yaml:"clipMax"`

		// Spacing is used when a series carries no metadata, in mm
		Spacing Vec3 `yaml:"spacing"`

		// RescaleSlope and RescaleIntercept map stored pixel values to density
		RescaleSlope     float64 `yaml:"rescaleSlope"`
		RescaleIntercept float64 `yaml:"rescaleIntercept"`
	} `yaml:"volume"`

	// Bands given to soft_tissue and bone layers that set no bounds
	Thresholds struct {
		SoftTissueMax float64 `yaml:"softTissueMax"`
		BoneMin       float64 `yaml:"boneMin"`
		BoneMax       float64 `yaml:"boneMax"`
	} `yaml:"thresholds"`

	// Layers in compositing order, bottom first
	Layers []Layer `yaml:"layers"`

	// Render parameters
	Render struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`

		// StepSize is the ray sample distance in mm; zero derives it from spacing
		StepSize float64 `yaml:"stepSize"`

		// Workers specifies how many CPU cores to use for ray marching
		Workers int `yaml:"workers"`

		// TerminationEpsilon stops a ray at opacity 1-epsilon
		TerminationEpsilon float64 `yaml:"terminationEpsilon"`

		Background Color  `yaml:"background"`
		Camera     Camera `yaml:"camera"`
	} `yaml:"render"`

	// Reslice parameters
	Reslice struct {
		Interpolation string  `yaml:"interpolation"`
		Outside       float64 `yaml:"outside"`
		WindowLow     float64 `yaml:"windowLow"`
		WindowHigh    float64 `yaml:"windowHigh"`
	} `yaml:"reslice"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SliceFormat is png, tiff or jpg
		SliceFormat string `yaml:"sliceFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Volume.ClipMin = 0
	cfg.Volume.ClipMax = 2000
	cfg.Volume.Spacing = Vec3{X: 1, Y: 1, Z: 1}
	cfg.Volume.RescaleSlope = 1

	cfg.Thresholds.SoftTissueMax = 200
	cfg.Thresholds.BoneMin = 300
	cfg.Thresholds.BoneMax = 2000

	// Soft tissue under three bone layers
	cfg.Layers = []Layer{
		{Name: "Soft Tissue", Kind: "soft_tissue", MinHU: 0, MaxHU: 200, OpacityScale: 0.1, Color: Color{R: 0.5, G: 0.5, B: 0.5}, Interpolation: "linear"},
		{Name: "Femur", Kind: "bone", MinHU: 300, MaxHU: 2000, OpacityScale: 0.7, Color: Color{R: 1, G: 0.2, B: 0.2}, Shading: true, Interpolation: "linear"},
		{Name: "Tibia", Kind: "bone", MinHU: 300, MaxHU: 2000, OpacityScale: 0.7, Color: Color{R: 0.2, G: 0.2, B: 1}, Shading: true, Interpolation: "linear"},
		{Name: "Fibula", Kind: "bone", MinHU: 300, MaxHU: 2000, OpacityScale: 0.7, Color: Color{R: 1, G: 1, B: 0.2}, Shading: true, Interpolation: "linear"},
	}

	cfg.Render.Width = 512
	cfg.Render.Height = 512
	cfg.Render.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Render.TerminationEpsilon = 0.005
	cfg.Render.Background = Color{R: 0.03, G: 0.03, B: 0.08}
	cfg.Render.Camera.Direction = Vec3{Y: -1}
	cfg.Render.Camera.ViewAngle = 30

	cfg.Reslice.Interpolation = "linear"
	cfg.Reslice.WindowLow = 0
	cfg.Reslice.WindowHigh = 2000

	cfg.Output.Verbose = true
	cfg.Output.SliceFormat = "png"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// A file that lists layers replaces the default scene
	cfg.Layers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if len(cfg.Layers) == 0 {
		cfg.Layers = DefaultConfig().Layers
	}
	cfg.applyThresholds()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// applyThresholds gives band layers without explicit bounds the band named
// by their kind.
func (c *Config) applyThresholds() {
	for i := range c.Layers {
		l := &c.Layers[i]
		if l.MinHU != 0 || l.MaxHU != 0 {
			continue
		}
		switch l.Kind {
		case "soft_tissue":
			l.MinHU, l.MaxHU = c.Volume.ClipMin, c.Thresholds.SoftTissueMax
		case "bone":
			l.MinHU, l.MaxHU = c.Thresholds.BoneMin, c.Thresholds.BoneMax
		}
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	v := c.Volume
	if !(v.ClipMin >= 0) || !(v.ClipMax <= math.MaxUint16) || v.ClipMin > v.ClipMax {
		return invalid("volume clip range [%g, %g] must lie in [0, 65535]", v.ClipMin, v.ClipMax)
	}
	if math.Ceil(v.ClipMin) > math.Floor(v.ClipMax) {
		return invalid("volume clip range [%g, %g] holds no integer density", v.ClipMin, v.ClipMax)
	}
	if !(v.Spacing.X > 0 && v.Spacing.Y > 0 && v.Spacing.Z > 0) {
		return invalid("volume spacing %+v must be positive", v.Spacing)
	}
	if v.RescaleSlope == 0 {
		return invalid("volume rescale slope must be non-zero")
	}

	if len(c.Layers) == 0 {
		return invalid("at least one layer is required")
	}
	seen := make(map[string]bool, len(c.Layers))
	for i, l := range c.Layers {
		if l.Name == "" {
			return invalid("layer %d has no name", i)
		}
		if seen[l.Name] {
			return invalid("duplicate layer name %q", l.Name)
		}
		seen[l.Name] = true
		if err := l.validate(); err != nil {
			return invalid("layer %q: %v", l.Name, err)
		}
	}

	r := c.Render
	if r.Width <= 0 || r.Height <= 0 {
		return invalid("render size %dx%d must be positive", r.Width, r.Height)
	}
	if r.StepSize < 0 || r.Workers < 0 || r.TerminationEpsilon < 0 || r.TerminationEpsilon >= 1 {
		return invalid("render step, workers and epsilon must be non-negative, epsilon below 1")
	}
	if !unitColor(r.Background) {
		return invalid("background %+v outside [0,1]", r.Background)
	}
	if a := r.Camera.ViewAngle; a < 0 || a >= 180 {
		return invalid("camera view angle %g must be in [0, 180)", a)
	}

	switch c.Output.SliceFormat {
	case "png", "tiff", "tif", "jpg", "jpeg":
	default:
		return invalid("unsupported slice format %q", c.Output.SliceFormat)
	}
	if c.Reslice.WindowHigh <= c.Reslice.WindowLow {
		return invalid("reslice window [%g, %g] is empty", c.Reslice.WindowLow, c.Reslice.WindowHigh)
	}
	if !validInterpolation(c.Reslice.Interpolation) {
		return invalid("reslice interpolation %q", c.Reslice.Interpolation)
	}
	return nil
}

func (l Layer) validate() error {
	switch l.Kind {
	case "soft_tissue", "bone":
		if !(l.MinHU < l.MaxHU) {
			return fmt.Errorf("band [%g, %g] is empty", l.MinHU, l.MaxHU)
		}
	case "tissue_ramp":
	case "custom":
		if len(l.Opacity) == 0 {
			return fmt.Errorf("custom layer needs opacity points")
		}
	default:
		return fmt.Errorf("unknown kind %q", l.Kind)
	}
	if !validInterpolation(l.Interpolation) {
		return fmt.Errorf("interpolation %q", l.Interpolation)
	}
	if !unitColor(l.Color) {
		return fmt.Errorf("color %+v outside [0,1]", l.Color)
	}
	return nil
}

func validInterpolation(s string) bool {
	return s == "" || s == "linear" || s == "nearest"
}

func unitColor(c Color) bool {
	for _, v := range []float64{c.R, c.G, c.B} {
		if !(v >= 0 && v <= 1) {
			return false
		}
	}
	return true
}

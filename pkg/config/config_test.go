package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig verifies the default scene is valid and ordered
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	names := make([]string, len(cfg.Layers))
	for i, l := range cfg.Layers {
		names[i] = l.Name
	}
	assert.Equal(t, []string{"Soft Tissue", "Femur", "Tibia", "Fibula"}, names)
	assert.Equal(t, 0.0, cfg.Volume.ClipMin)
	assert.Equal(t, 2000.0, cfg.Volume.ClipMax)
	assert.Equal(t, Color{R: 0.03, G: 0.03, B: 0.08}, cfg.Render.Background)
}

// TestLoadConfigMissingFile verifies a missing file yields the defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("LoadConfig mismatch (-want +got):\n%s", diff)
	}
}

// TestSaveAndLoad verifies a saved configuration loads back unchanged
func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ctvolume.yaml")

	cfg := DefaultConfig()
	cfg.Render.Width = 64
	cfg.Layers[1].OpacityScale = 0.3
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// TestLoadConfigOverlay verifies a partial file overlays the defaults and a
// layers list replaces the default scene
func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	data := []byte(`
render:
  width: 128
layers:
  - name: Body
    kind: tissue_ramp
    boneScale: 1
    tissueScale: 0.5
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Render.Width)
	assert.Equal(t, 512, cfg.Render.Height)
	require.Len(t, cfg.Layers, 1)
	assert.Equal(t, "tissue_ramp", cfg.Layers[0].Kind)
	assert.Equal(t, 0.5, cfg.Layers[0].TissueScale)
}

// TestLoadConfigThresholds verifies band layers without bounds take the
// configured thresholds
func TestLoadConfigThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bands.yaml")
	data := []byte(`
thresholds:
  softTissueMax: 150
  boneMin: 400
  boneMax: 1800
layers:
  - {name: Skin, kind: soft_tissue, opacityScale: 0.1}
  - {name: Skull, kind: bone, opacityScale: 0.9}
  - {name: Marrow, kind: bone, minHU: 250, maxHU: 500, opacityScale: 0.5}
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Layers, 3)
	assert.Equal(t, [2]float64{0, 150}, [2]float64{cfg.Layers[0].MinHU, cfg.Layers[0].MaxHU})
	assert.Equal(t, [2]float64{400, 1800}, [2]float64{cfg.Layers[1].MinHU, cfg.Layers[1].MaxHU})
	assert.Equal(t, [2]float64{250, 500}, [2]float64{cfg.Layers[2].MinHU, cfg.Layers[2].MaxHU})
}

// TestValidate verifies each rule rejects a broken configuration
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted clip range", func(c *Config) { c.Volume.ClipMin, c.Volume.ClipMax = 500, 100 }},
		{"clip above uint16", func(c *Config) { c.Volume.ClipMax = 70000 }},
		{"no integer in clip", func(c *Config) { c.Volume.ClipMin, c.Volume.ClipMax = 0.2, 0.8 }},
		{"zero spacing", func(c *Config) { c.Volume.Spacing.Z = 0 }},
		{"zero slope", func(c *Config) { c.Volume.RescaleSlope = 0 }},
		{"no layers", func(c *Config) { c.Layers = nil }},
		{"duplicate layer", func(c *Config) { c.Layers[2].Name = "Femur" }},
		{"unnamed layer", func(c *Config) { c.Layers[0].Name = "" }},
		{"unknown kind", func(c *Config) { c.Layers[0].Kind = "lung" }},
		{"empty band", func(c *Config) { c.Layers[1].MinHU = 2000 }},
		{"custom without points", func(c *Config) { c.Layers[0].Kind = "custom" }},
		{"bad interpolation", func(c *Config) { c.Layers[0].Interpolation = "cubic" }},
		{"bad color", func(c *Config) { c.Layers[0].Color.G = 2 }},
		{"zero width", func(c *Config) { c.Render.Width = 0 }},
		{"epsilon one", func(c *Config) { c.Render.TerminationEpsilon = 1 }},
		{"bad background", func(c *Config) { c.Render.Background.B = -0.1 }},
		{"view angle", func(c *Config) { c.Render.Camera.ViewAngle = 180 }},
		{"slice format", func(c *Config) { c.Output.SliceFormat = "bmp" }},
		{"empty window", func(c *Config) { c.Reslice.WindowHigh = c.Reslice.WindowLow }},
		{"reslice interpolation", func(c *Config) { c.Reslice.Interpolation = "spline" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

// TestLoadConfigInvalid verifies LoadConfig validates what it parsed
func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render:\n  width: -4\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, os.WriteFile(path, []byte("render: [unclosed\n"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctvolume.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Layers, 4)
}

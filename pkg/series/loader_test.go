package series

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func writeGray16(t *testing.T, path string, w, h int, value func(x, y int) uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: value(x, y)})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	if filepath.Ext(path) == ".tif" {
		require.NoError(t, tiff.Encode(f, img, nil))
		return
	}
	require.NoError(t, png.Encode(f, img))
}

// TestLoadOrdersByNumber verifies unpadded numbering stacks in numeric order
// and 16-bit values keep their full range
func TestLoadOrdersByNumber(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	dir := t.TempDir()
	for _, n := range []int{10, 2, 1} {
		name := filepath.Join(dir, "slice_"+strconv.Itoa(n)+".png")
		writeGray16(t, name, 3, 2, func(x, y int) uint16 { return uint16(1000*n + 10*y + x) })
	}
	writeGray16(t, filepath.Join(dir, "slice_5.tif"), 3, 2, func(x, y int) uint16 { return 5000 })
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	logger, hook := test.NewNullLogger()
	vol, err := Load(dir, Options{Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, [3]int{3, 2, 4}, vol.Dims)
	assert.Equal(t, vol.Len(), len(vol.Samples))
	assert.Equal(t, [3]float64{1, 1, 1}, vol.Spacing)

	// z order is 1, 2, 5, 10
	assert.Equal(t, 1000.0, vol.Samples[0])
	assert.Equal(t, 2012.0, vol.Samples[6+5])
	assert.Equal(t, 5000.0, vol.Samples[12])
	assert.Equal(t, 10011.0, vol.Samples[18+4])

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, 4, hook.LastEntry().Data["slices"])
}

// TestLoadMetadata verifies the sidecar overrides options and rescales values
func TestLoadMetadata(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	dir := t.TempDir()
	writeGray16(t, filepath.Join(dir, "000.png"), 2, 2, func(x, y int) uint16 { return 100 })
	sidecar := []byte("spacing: [0.5, 0.5, 2.5]\norigin: [-10, -10, 0]\nrescaleSlope: 2\nrescaleIntercept: -1024\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), sidecar, 0644))

	logger, _ := test.NewNullLogger()
	vol, err := Load(dir, Options{Spacing: [3]float64{3, 3, 3}, Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, [3]float64{0.5, 0.5, 2.5}, vol.Spacing)
	assert.Equal(t, [3]float64{-10, -10, 0}, vol.Origin)
	for _, v := range vol.Samples {
		assert.Equal(t, 100*2-1024.0, v)
	}
}

// TestLoadOptionsRescale verifies option defaults apply without a sidecar
func TestLoadOptionsRescale(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	dir := t.TempDir()
	writeGray16(t, filepath.Join(dir, "a1.png"), 1, 1, func(x, y int) uint16 { return 40 })

	logger, _ := test.NewNullLogger()
	vol, err := Load(dir, Options{Spacing: [3]float64{0.7, 0.7, 3}, RescaleIntercept: 10, Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.7, 0.7, 3}, vol.Spacing)
	assert.Equal(t, []float64{50}, vol.Samples)
}

// TestLoadNotFound verifies missing, empty and inconsistent series fail
func TestLoadNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	logger, _ := test.NewNullLogger()
	opts := Options{Logger: logger}

	_, err := Load(filepath.Join(t.TempDir(), "missing"), opts)
	assert.ErrorIs(t, err, ErrSeriesNotFound)

	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "readme.md"), nil, 0644))
	_, err = Load(empty, opts)
	assert.ErrorIs(t, err, ErrSeriesNotFound)

	mixed := t.TempDir()
	writeGray16(t, filepath.Join(mixed, "1.png"), 2, 2, func(x, y int) uint16 { return 0 })
	writeGray16(t, filepath.Join(mixed, "2.png"), 3, 2, func(x, y int) uint16 { return 0 })
	_, err = Load(mixed, opts)
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

// TestLoad8Bit verifies non-16-bit images read as 8-bit luminance
func TestLoad8Bit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.SetGray(0, 0, color.Gray{Y: 200})
	f, err := os.Create(filepath.Join(dir, "1.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	logger, _ := test.NewNullLogger()
	vol, err := Load(dir, Options{Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, []float64{200}, vol.Samples)
}

// TestExtractNumber verifies the extraction of numeric parts from filenames
func TestExtractNumber(t *testing.T) {
	testCases := []struct {
		filename string
		expected int
	}{
		{"slice_1.png", 1},
		{"slice_023.tif", 23},
		{"img456.jpg", 456},
		{"not_a_number.png", 0},
		{"mixed123text456.png", 123456},
	}

	for _, tc := range testCases {
		result := extractNumber(tc.filename)
		if result != tc.expected {
			t.Errorf("extractNumber(%s): expected %d, got %d", tc.filename, tc.expected, result)
		}
	}
}

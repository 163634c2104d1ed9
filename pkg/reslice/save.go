package reslice

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/spatial/r3"

	"ctvolume/pkg/volume"
)

// Window is the density range mapped onto the full gray scale.
type Window struct {
	Low, High float64
}

// SaveSlice encodes img to filename. The encoder follows the extension:
// .png, .tif/.tiff, or .jpg/.jpeg.
func SaveSlice(img image.Image, filename string) error {
	var encode func(*os.File) error
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".tif", ".tiff":
		encode = func(f *os.File) error {
			return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
		}
	case ".jpg", ".jpeg":
		encode = func(f *os.File) error { return jpeg.Encode(f, img, &jpeg.Options{Quality: 90}) }
	default:
		return fmt.Errorf("reslice: unsupported image format %q", ext)
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := encode(file); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}

// SaveSliceSequence writes one image per voxel layer of the canonical plane
// o, named slice_<orientation>_NNN.<format> where NNN is the grid index along
// the swept axis (z, y or x). It returns the written paths.
func SaveSliceSequence(g *volume.Grid, o Orientation, mode volume.Interpolation, win Window, outputDir, format string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	if format == "" {
		format = "png"
	}

	base := Canonical(o, g)
	base.Interpolation = mode
	base.Outside = win.Low

	var count int
	var step float64
	var axis r3.Vec
	d, s := g.Dims(), g.Spacing()
	switch o {
	case Coronal:
		count, step, axis = d[1], s.Y, r3.Vec{Y: 1}
	case Sagittal:
		count, step, axis = d[0], s.X, r3.Vec{X: 1}
	default:
		count, step, axis = d[2], s.Z, r3.Vec{Z: 1}
	}
	// File NNN holds grid index NNN along axis, whatever way the normal points.
	dir := r3.Dot(base.Normal(), axis)
	offset := -float64(count-1) / 2 * step

	paths := make([]string, 0, count)
	for pos := 0; pos < count; pos++ {
		plane, err := base.Translate(dir * (offset + float64(pos)*step))
		if err != nil {
			return paths, err
		}
		img, err := Resample(g, plane)
		if err != nil {
			return paths, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", o, pos, format))
		if err := SaveSlice(img.Gray16(win.Low, win.High), filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}

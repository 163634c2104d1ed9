// Package series reads a directory of CT slice images into a raw volume
// ready for ingestion.
package series

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"ctvolume/internal/models"
)

// ErrSeriesNotFound means the directory holds no usable, consistent series.
var ErrSeriesNotFound = errors.New("series: no slice series found")

// MetadataFile is the optional sidecar read from the series directory.
const MetadataFile = "series.yaml"

// Metadata describes how stored pixel values map to physical space and
// density. Values from the sidecar override Options.
type Metadata struct {
	Spacing          *[3]float64 `yaml:"spacing,omitempty"`
	Origin           *[3]float64 `yaml:"origin,omitempty"`
	RescaleSlope     *float64    `yaml:"rescaleSlope,omitempty"`
	RescaleIntercept *float64    `yaml:"rescaleIntercept,omitempty"`
}

// Options configures Load.
type Options struct {
	// Spacing is used when the series has no sidecar spacing. Zero means 1mm.
	Spacing [3]float64

	// RescaleSlope and RescaleIntercept map a stored value v to density
	// v*slope + intercept. A zero slope means 1.
	RescaleSlope     float64
	RescaleIntercept float64

	Logger logrus.FieldLogger
}

var extensions = map[string]bool{
	".png": true, ".tif": true, ".tiff": true, ".jpg": true, ".jpeg": true,
}

// Load decodes every slice image in dir, ordered by the number in its
// filename, and stacks them along z. 16-bit grayscale images keep their
// full range; anything else is read as 8-bit luminance.
func Load(dir string, opts Options) (*models.RawVolume, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeriesNotFound, err)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && extensions[strings.ToLower(filepath.Ext(e.Name()))]
	})
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no slice images in %s", ErrSeriesNotFound, dir)
	}

	// Sort files by the number in their name so anatomical order survives
	// unpadded numbering
	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	meta, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}
	spacing, origin, slope, intercept := resolve(meta, opts)

	slices := make([]models.Slice, 0, len(names))
	for i, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		slices = append(slices, models.Slice{Image: img, Index: i, Filename: name})
	}

	width, height := slices[0].Image.Bounds().Dx(), slices[0].Image.Bounds().Dy()
	for _, s := range slices[1:] {
		if b := s.Image.Bounds(); b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d", ErrSeriesNotFound, s.Filename, b.Dx(), b.Dy(), width, height)
		}
	}

	vol := &models.RawVolume{
		Samples: make([]float64, width*height*len(slices)),
		Dims:    [3]int{width, height, len(slices)},
		Spacing: spacing,
		Origin:  origin,
	}
	for _, s := range slices {
		base := s.Index * width * height
		b := s.Image.Bounds()
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := pixelValue(s.Image, b.Min.X+x, b.Min.Y+y)
				vol.Samples[base+y*width+x] = v*slope + intercept
			}
		}
	}

	log.WithFields(logrus.Fields{
		"dir":     dir,
		"slices":  len(slices),
		"width":   width,
		"height":  height,
		"spacing": spacing,
	}).Info("Loaded slice series")
	return vol, nil
}

func resolve(meta Metadata, opts Options) (spacing, origin [3]float64, slope, intercept float64) {
	spacing = opts.Spacing
	if spacing == ([3]float64{}) {
		spacing = [3]float64{1, 1, 1}
	}
	slope, intercept = opts.RescaleSlope, opts.RescaleIntercept
	if slope == 0 {
		slope = 1
	}
	if meta.Spacing != nil {
		spacing = *meta.Spacing
	}
	if meta.Origin != nil {
		origin = *meta.Origin
	}
	if meta.RescaleSlope != nil {
		slope = *meta.RescaleSlope
	}
	if meta.RescaleIntercept != nil {
		intercept = *meta.RescaleIntercept
	}
	return spacing, origin, slope, intercept
}

func readMetadata(dir string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if os.IsNotExist(err) {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("error parsing %s: %w", MetadataFile, err)
	}
	return meta, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

func pixelValue(img image.Image, x, y int) float64 {
	if g, ok := img.(*image.Gray16); ok {
		return float64(g.Gray16At(x, y).Y)
	}
	return float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

package models

import (
	"image"
)

// Slice represents a single image of a CT series with its metadata
type Slice struct {
	// Image is the decoded slice image data
	Image image.Image

	// Index is the position of this slice in the sorted sequence
	Index int

	// Filename is the original filename of the slice
	Filename string
}

// RawVolume is what a series loader hands to ingestion: a dense sample
// buffer in the scanner's native (possibly signed, wider) range plus the
// geometry needed to place it in physical space.
type RawVolume struct {
	// Samples holds nx*ny*nz densities in row-major (z, y, x) order
	Samples []float64

	// Dims are the voxel counts along x, y and z
	Dims [3]int

	// Spacing is the physical size of each voxel in mm
	Spacing [3]float64

	// Origin is the physical position of voxel (0,0,0)
	Origin [3]float64
}

// Len returns the number of voxels the dimensions describe.
func (r *RawVolume) Len() int {
	return r.Dims[0] * r.Dims[1] * r.Dims[2]
}

package models

// Volume represents a 3D density map held in memory
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	// (x varies fastest, then y, then z)
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int

	// VoxelSize is the physical size of each voxel in Angstrom
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zeroed volume with unit voxel size
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	return v
}

// Index returns the offset of voxel (x, y, z) in Data
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the density at voxel (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores the density at voxel (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// DensityMap is the handle metrics are evaluated against.
// Path identifies the map on disk; Volume is set when the voxels have
// been loaded by the caller. Metrics that only need the file (an external
// tool) use Path, metrics that count voxels use Volume.
type DensityMap struct {
	Path   string
	Volume *Volume
}

// Name returns a label for logs and errors
func (d DensityMap) Name() string {
	if d.Path != "" {
		return d.Path
	}
	return "<in-memory>"
}

// TrainingExample pairs a density map with its expert-assigned threshold
type TrainingExample struct {
	Map       DensityMap
	Threshold float64
}

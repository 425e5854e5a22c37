package metric

import (
	"context"
	"fmt"
	"math"

	"autothreshold/internal/models"
)

// RemainingToNonZero is the fraction of positive voxels that stay above the
// threshold: count(v > t) / count(v > 0). It decreases with the threshold.
type RemainingToNonZero struct{}

func (RemainingToNonZero) Name() string { return "r_nz" }

func (RemainingToNonZero) Value(_ context.Context, d models.DensityMap, threshold float64) (float64, error) {
	if d.Volume == nil {
		return 0, fmt.Errorf("r_nz on %s: %w", d.Name(), ErrNoVolume)
	}

	var remaining, nonZero int
	for _, v := range d.Volume.Data {
		if v > threshold {
			remaining++
		}
		if v > 0 {
			nonZero++
		}
	}

	if nonZero == 0 {
		return math.Inf(1), nil
	}
	return float64(remaining) / float64(nonZero), nil
}

// SurfaceToVolume is the surface area to volume ratio of the region above
// the threshold. The surface is the set of voxel faces separating an inside
// voxel from an outside voxel or from the map boundary, scaled by the voxel
// size. The ratio grows as the region shrinks and is +Inf once it is empty.
type SurfaceToVolume struct{}

func (SurfaceToVolume) Name() string { return "sa_v" }

func (SurfaceToVolume) Value(_ context.Context, d models.DensityMap, threshold float64) (float64, error) {
	vol := d.Volume
	if vol == nil {
		return 0, fmt.Errorf("sa_v on %s: %w", d.Name(), ErrNoVolume)
	}

	inside := func(x, y, z int) bool {
		if x < 0 || y < 0 || z < 0 || x >= vol.Width || y >= vol.Height || z >= vol.Depth {
			return false
		}
		return vol.At(x, y, z) > threshold
	}

	// face areas perpendicular to each axis
	ax := vol.VoxelSize.Y * vol.VoxelSize.Z
	ay := vol.VoxelSize.X * vol.VoxelSize.Z
	az := vol.VoxelSize.X * vol.VoxelSize.Y

	var count int
	var area float64
	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				if !inside(x, y, z) {
					continue
				}
				count++
				if !inside(x-1, y, z) {
					area += ax
				}
				if !inside(x+1, y, z) {
					area += ax
				}
				if !inside(x, y-1, z) {
					area += ay
				}
				if !inside(x, y+1, z) {
					area += ay
				}
				if !inside(x, y, z-1) {
					area += az
				}
				if !inside(x, y, z+1) {
					area += az
				}
			}
		}
	}

	if count == 0 {
		return math.Inf(1), nil
	}
	volume := float64(count) * vol.VoxelSize.X * vol.VoxelSize.Y * vol.VoxelSize.Z
	return area / volume, nil
}

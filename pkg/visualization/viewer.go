// Package visualization renders slices of density maps, and the region a
// threshold selects in them, as JPEG images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"autothreshold/internal/models"
)

// Viewer extracts planar slices from a volume
type Viewer struct {
	volume *models.Volume

	// density range used to scale slices to gray levels
	min float64
	max float64
}

// NewViewer creates a viewer over vol
func NewViewer(vol *models.Volume) (*Viewer, error) {
	if vol == nil || vol.Len() == 0 {
		return nil, fmt.Errorf("volume is empty")
	}
	return &Viewer{
		volume: vol,
		min:    floats.Min(vol.Data),
		max:    floats.Max(vol.Data),
	}, nil
}

// plane returns the size of the slice at position along axis and a lookup
// from slice pixel to voxel index
func (v *Viewer) plane(axis string, position int) (int, int, func(u, w int) int, error) {
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}

	vol := v.volume
	switch axis {
	case "x", "X":
		// YZ plane, z across
		if position >= vol.Width {
			return 0, 0, nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		return vol.Depth, vol.Height, func(z, y int) int { return vol.Index(position, y, z) }, nil

	case "y", "Y":
		// XZ plane
		if position >= vol.Height {
			return 0, 0, nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		return vol.Width, vol.Depth, func(x, z int) int { return vol.Index(x, position, z) }, nil

	case "z", "Z":
		// XY plane
		if position >= vol.Depth {
			return 0, 0, nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		return vol.Width, vol.Height, func(x, y int) int { return vol.Index(x, y, position) }, nil
	}

	return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice along the specified axis, with densities
// scaled so the volume minimum is black and the maximum is white
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	w, h, index, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	span := v.max - v.min
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			level := 0.0
			if span > 0 {
				level = (v.volume.Data[index(col, row)] - v.min) / span
			}
			value := uint16(math.Max(0, math.Min(65535, level*65535)))
			img.SetGray16(col, row, color.Gray16{Y: value})
		}
	}

	return img, nil
}

// ExtractMask extracts a 2D slice along the specified axis in which voxels
// above threshold are white and all others black
func (v *Viewer) ExtractMask(axis string, position int, threshold float64) (*image.Gray, error) {
	w, h, index, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			if v.volume.Data[index(col, row)] > threshold {
				img.SetGray(col, row, color.Gray{Y: 255})
			}
		}
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}

// SavePreview writes the central slice along each axis and its mask at
// threshold to outputDir, named <prefix>_<axis>.jpg and <prefix>_<axis>_mask.jpg.
// It returns the written paths.
func (v *Viewer) SavePreview(outputDir, prefix string, threshold float64) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	vol := v.volume
	centers := []struct {
		axis string
		pos  int
	}{
		{"x", vol.Width / 2},
		{"y", vol.Height / 2},
		{"z", vol.Depth / 2},
	}

	var written []string
	for _, c := range centers {
		img, err := v.ExtractSlice(c.axis, c.pos)
		if err != nil {
			return written, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", prefix, c.axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)

		mask, err := v.ExtractMask(c.axis, c.pos, threshold)
		if err != nil {
			return written, err
		}
		filename = filepath.Join(outputDir, fmt.Sprintf("%s_%s_mask.jpg", prefix, c.axis))
		if err := v.SaveSlice(mask, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}

	return written, nil
}

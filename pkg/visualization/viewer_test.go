package visualization

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"autothreshold/internal/models"
)

// layeredVolume returns a volume in which every Z layer holds its index
func layeredVolume(width, height, depth int) *models.Volume {
	vol := models.NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(x, y, z, float64(z))
			}
		}
	}
	return vol
}

func TestNewViewer(t *testing.T) {
	viewer, err := NewViewer(layeredVolume(10, 10, 5))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if viewer.min != 0 || viewer.max != 4 {
		t.Errorf("Expected density range [0, 4], got [%f, %f]", viewer.min, viewer.max)
	}

	if _, err := NewViewer(nil); err == nil {
		t.Error("Expected error for nil volume, got nil")
	}
	if _, err := NewViewer(models.NewVolume(0, 0, 0)); err == nil {
		t.Error("Expected error for empty volume, got nil")
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer, err := NewViewer(layeredVolume(width, height, depth))
	if err != nil {
		t.Fatal(err)
	}

	// Z slices are uniform and scaled by layer
	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		expected := uint16(float64(z) / float64(depth-1) * 65535)
		got := img.Gray16At(width/2, height/2).Y
		if diff := int(got) - int(expected); diff > 1 || diff < -1 {
			t.Errorf("Expected Z slice value ~%d at center, got %d", expected, got)
		}
	}

	// X slices run along Z horizontally
	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}
	if imgX.Gray16At(0, 0).Y != 0 || imgX.Gray16At(depth-1, 0).Y != 65535 {
		t.Error("Expected X slice to span black to white along Z")
	}

	imgY, err := viewer.ExtractSlice("Y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

func TestExtractSliceConstantVolume(t *testing.T) {
	vol := models.NewVolume(3, 3, 3)
	for i := range vol.Data {
		vol.Data[i] = 7
	}
	viewer, err := NewViewer(vol)
	if err != nil {
		t.Fatal(err)
	}

	img, err := viewer.ExtractSlice("z", 1)
	if err != nil {
		t.Fatal(err)
	}
	if img.Gray16At(1, 1).Y != 0 {
		t.Errorf("Expected black slice for constant volume, got %d", img.Gray16At(1, 1).Y)
	}
}

func TestExtractMask(t *testing.T) {
	viewer, err := NewViewer(layeredVolume(6, 6, 6))
	if err != nil {
		t.Fatal(err)
	}

	// along X, columns are Z layers: only layers 3..5 exceed 2.5
	mask, err := viewer.ExtractMask("x", 2, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	for z := 0; z < 6; z++ {
		want := uint8(0)
		if z > 2 {
			want = 255
		}
		if got := mask.GrayAt(z, 3).Y; got != want {
			t.Errorf("mask at z=%d: expected %d, got %d", z, want, got)
		}
	}

	// strictly greater: a layer equal to the threshold is excluded
	mask, err = viewer.ExtractMask("z", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if mask.GrayAt(0, 0).Y != 0 {
		t.Error("Expected voxel equal to threshold to be masked out")
	}

	if _, err := viewer.ExtractMask("w", 0, 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestSavePreview verifies that central slices and masks are written
func TestSavePreview(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	viewer, err := NewViewer(layeredVolume(8, 8, 8))
	if err != nil {
		t.Fatal(err)
	}

	outputDir := filepath.Join(t.TempDir(), "preview")
	written, err := viewer.SavePreview(outputDir, "emd_1234", 3.5)
	if err != nil {
		t.Fatalf("Failed to save preview: %v", err)
	}
	if len(written) != 6 {
		t.Fatalf("Expected 6 files, got %d", len(written))
	}

	for _, name := range []string{"emd_1234_x.jpg", "emd_1234_x_mask.jpg", "emd_1234_z_mask.jpg"} {
		f, err := os.Open(filepath.Join(outputDir, name))
		if err != nil {
			t.Errorf("Expected preview file %s: %v", name, err)
			continue
		}
		cfg, format, err := image.DecodeConfig(f)
		f.Close()
		if err != nil {
			t.Errorf("Cannot decode %s: %v", name, err)
			continue
		}
		if format != "jpeg" || cfg.Width != 8 || cfg.Height != 8 {
			t.Errorf("%s: got %s %dx%d", name, format, cfg.Width, cfg.Height)
		}
	}
}

// TestSaveSliceReportsWriteErrors verifies that a failed write is returned
func TestSaveSliceReportsWriteErrors(t *testing.T) {
	viewer, err := NewViewer(layeredVolume(8, 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	img, err := viewer.ExtractSlice("z", 4)
	if err != nil {
		t.Fatal(err)
	}

	if err := viewer.SaveSlice(img, filepath.Join(t.TempDir(), "missing", "slice.jpg")); err == nil {
		t.Error("Expected error for missing directory, got nil")
	}

	// every write to /dev/full fails with ENOSPC
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	if err := viewer.SaveSlice(img, "/dev/full"); err == nil {
		t.Error("Expected error writing to a full device, got nil")
	}
}

package metric

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autothreshold/internal/models"
)

// createBlockMap builds a map whose voxels inside the [lo, hi) box hold
// value and are zero elsewhere
func createBlockMap(size int, lo, hi [3]int, value float64) models.DensityMap {
	vol := models.NewVolume(size, size, size)
	for z := lo[2]; z < hi[2]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			for x := lo[0]; x < hi[0]; x++ {
				vol.Set(x, y, z, value)
			}
		}
	}
	return models.DensityMap{Volume: vol}
}

func TestRemainingToNonZero(t *testing.T) {
	vol := models.NewVolume(4, 1, 1)
	vol.Data = []float64{-1, 0.5, 1.5, 2.5}
	d := models.DensityMap{Path: "ramp.mrc", Volume: vol}
	m := RemainingToNonZero{}
	ctx := context.Background()

	tests := []struct {
		threshold float64
		expected  float64
	}{
		{0, 1},
		{1, 2.0 / 3.0},
		{2, 1.0 / 3.0},
		{3, 0},
	}
	for _, tt := range tests {
		got, err := m.Value(ctx, d, tt.threshold)
		require.NoError(t, err)
		assert.InDelta(t, tt.expected, got, 1e-12, "threshold %g", tt.threshold)
	}
}

func TestRemainingToNonZeroNoPositiveVoxels(t *testing.T) {
	vol := models.NewVolume(2, 2, 2)
	got, err := RemainingToNonZero{}.Value(context.Background(), models.DensityMap{Volume: vol}, 0.5)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, 1))
}

func TestSurfaceToVolume(t *testing.T) {
	ctx := context.Background()
	m := SurfaceToVolume{}

	t.Run("single voxel", func(t *testing.T) {
		d := createBlockMap(3, [3]int{1, 1, 1}, [3]int{2, 2, 2}, 1)
		got, err := m.Value(ctx, d, 0.5)
		require.NoError(t, err)
		assert.InDelta(t, 6.0, got, 1e-12)
	})

	t.Run("two voxels", func(t *testing.T) {
		d := createBlockMap(4, [3]int{1, 1, 1}, [3]int{3, 2, 2}, 1)
		got, err := m.Value(ctx, d, 0.5)
		require.NoError(t, err)
		assert.InDelta(t, 5.0, got, 1e-12)
	})

	t.Run("block touching boundary", func(t *testing.T) {
		d := createBlockMap(2, [3]int{0, 0, 0}, [3]int{2, 2, 2}, 1)
		got, err := m.Value(ctx, d, 0.5)
		require.NoError(t, err)
		// 24 unit faces over 8 unit voxels
		assert.InDelta(t, 3.0, got, 1e-12)
	})

	t.Run("anisotropic voxels", func(t *testing.T) {
		d := createBlockMap(3, [3]int{1, 1, 1}, [3]int{2, 2, 2}, 1)
		d.Volume.VoxelSize.X, d.Volume.VoxelSize.Y, d.Volume.VoxelSize.Z = 2, 2, 2
		got, err := m.Value(ctx, d, 0.5)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, got, 1e-12)
	})

	t.Run("empty region", func(t *testing.T) {
		d := createBlockMap(3, [3]int{1, 1, 1}, [3]int{2, 2, 2}, 1)
		got, err := m.Value(ctx, d, 1)
		require.NoError(t, err)
		assert.True(t, math.IsInf(got, 1))
	})
}

func TestSurfaceToVolumeGrowsWithThreshold(t *testing.T) {
	// radial density: higher thresholds keep smaller spheres
	size := 16
	vol := models.NewVolume(size, size, size)
	c := float64(size-1) / 2
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy, dz := float64(x)-c, float64(y)-c, float64(z)-c
				vol.Set(x, y, z, 10-math.Sqrt(dx*dx+dy*dy+dz*dz))
			}
		}
	}
	d := models.DensityMap{Volume: vol}

	prev := 0.0
	for _, threshold := range []float64{2, 4, 6, 8} {
		got, err := SurfaceToVolume{}.Value(context.Background(), d, threshold)
		require.NoError(t, err)
		assert.Greater(t, got, prev, "threshold %g", threshold)
		prev = got
	}
}

func TestVoxelMetricsRequireVolume(t *testing.T) {
	d := models.DensityMap{Path: "unloaded.mrc"}
	_, err := RemainingToNonZero{}.Value(context.Background(), d, 1)
	assert.ErrorIs(t, err, ErrNoVolume)
	_, err = SurfaceToVolume{}.Value(context.Background(), d, 1)
	assert.ErrorIs(t, err, ErrNoVolume)
}

func TestFunc(t *testing.T) {
	m := NewFunc("linear", func(_ models.DensityMap, threshold float64) float64 {
		return 2 - threshold
	})
	assert.Equal(t, "linear", m.Name())

	got, err := m.Value(context.Background(), models.DensityMap{}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry("")
	assert.Equal(t, []string{"r_nz", "sa_v", "sa_v_chimera"}, r.Names())

	metrics, err := r.Lookup("sa_v", "r_nz")
	require.NoError(t, err)
	assert.Equal(t, []string{"sa_v", "r_nz"}, Names(metrics))

	_, err = r.Lookup("sa_v", "entropy")
	assert.ErrorIs(t, err, ErrUnknownMetric)

	r.Register(NewFunc("r_nz", func(models.DensityMap, float64) float64 { return 0 }))
	metrics, err = r.Lookup("r_nz")
	require.NoError(t, err)
	assert.IsType(t, &Func{}, metrics[0])
}

func TestParseMeasurements(t *testing.T) {
	output := []byte("Opened emd_1234.map\n" +
		"Enclosed volume for surface (#0.0) = 125000\n" +
		"Surface area for surface (#0.0) = 25000.5\n" +
		"Enclosed volume for surface (#0.1) = 3\n")

	area, volume, err := parseMeasurements(output)
	require.NoError(t, err)
	assert.Equal(t, 25000.5, area)
	assert.Equal(t, 125000.0, volume)

	_, _, err = parseMeasurements([]byte("nothing measured\n"))
	assert.Error(t, err)

	_, _, err = parseMeasurements([]byte("Surface area = abc\nvolume = 1\n"))
	assert.Error(t, err)
}

// writeFakeChimera installs a shell script that prints fixed measurements
func writeFakeChimera(t *testing.T, volume string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chimera")
	script := "#!/bin/sh\n" +
		"test \"$1\" = \"--nogui\" || exit 2\n" +
		"test -f \"$2\" || exit 3\n" +
		"echo \"Enclosed volume for surface (#0.0) = " + volume + "\"\n" +
		"echo \"Surface area for surface (#0.0) = 50\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestChimeraSurfaceToVolume(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}

	m := &ChimeraSurfaceToVolume{Executable: writeFakeChimera(t, "20")}
	got, err := m.Value(context.Background(), models.DensityMap{Path: "emd_1234.map"}, 1.25)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got, 1e-12)

	m = &ChimeraSurfaceToVolume{Executable: writeFakeChimera(t, "0")}
	got, err = m.Value(context.Background(), models.DensityMap{Path: "emd_1234.map"}, 9)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, 1))
}

func TestChimeraSurfaceToVolumeErrors(t *testing.T) {
	m := &ChimeraSurfaceToVolume{Executable: filepath.Join(t.TempDir(), "missing")}

	_, err := m.Value(context.Background(), models.DensityMap{}, 1)
	assert.Error(t, err)

	_, err = m.Value(context.Background(), models.DensityMap{Path: "emd_1234.map"}, 1)
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.0, cfg.Solver.Low)
	assert.Equal(t, 10.0, cfg.Solver.High)
	assert.Equal(t, runtime.NumCPU(), cfg.Processing.NumCores)
	assert.Equal(t, []string{"sa_v", "r_nz"}, cfg.Metrics)
	assert.Equal(t, "model.json", cfg.Model.Path)
	assert.Empty(t, cfg.Model.Registry)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Metrics, cfg.Metrics)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autothreshold.yaml")
	content := `
solver:
  bracketHigh: 25
  maxIterations: 50
processing:
  numCores: 2
  solveTimeout: 30s
metrics: [r_nz]
model:
  path: models/emdb.yaml
  registry: registry.db
output:
  verbose: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0.0, cfg.Solver.Low)
	assert.Equal(t, 25.0, cfg.Solver.High)
	assert.Equal(t, 50, cfg.Solver.MaxIterations)
	// untouched fields keep their defaults
	assert.Equal(t, 2e-12, cfg.Solver.XTolerance)
	assert.Equal(t, 2, cfg.Processing.NumCores)
	assert.Equal(t, 30*time.Second, cfg.Processing.SolveTimeout)
	assert.Equal(t, []string{"r_nz"}, cfg.Metrics)
	assert.Equal(t, "models/emdb.yaml", cfg.Model.Path)
	assert.Equal(t, "registry.db", cfg.Model.Registry)
	assert.True(t, cfg.Output.Verbose)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"syntax":          "solver: [",
		"inverted":        "solver:\n  bracketLow: 10\n  bracketHigh: 0\n",
		"no metrics":      "metrics: []\n",
		"duplicate":       "metrics: [r_nz, r_nz]\n",
		"negative cores":  "processing:\n  numCores: -1\n",
		"no model target": "model:\n  path: \"\"\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLookupMetrics(t *testing.T) {
	cfg := DefaultConfig()
	metrics, err := cfg.LookupMetrics()
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "sa_v", metrics[0].Name())
	assert.Equal(t, "r_nz", metrics[1].Name())

	cfg.Metrics = []string{"r_nz", "curvature"}
	_, err = cfg.LookupMetrics()
	assert.Error(t, err)
}

func TestPredictorParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.NumCores = 3
	cfg.Processing.SolveTimeout = time.Minute
	cfg.Solver.High = 20

	params := cfg.PredictorParams(nil)
	assert.Equal(t, 3, params.NumCores)
	assert.Equal(t, time.Minute, params.SolveTimeout)
	assert.Equal(t, 20.0, params.Solver.High)
	assert.Nil(t, params.Logger)
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"autothreshold/internal/models"
	"autothreshold/pkg/mrc"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// mapExtensions are the file extensions treated as density maps
var mapExtensions = map[string]bool{".mrc": true, ".map": true}

// readThresholds reads a JSON object mapping map identifiers to expert thresholds
func readThresholds(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading thresholds: %w", err)
	}

	var labels map[string]float64
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("error parsing thresholds %s: %w", path, err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("thresholds %s: no entries", path)
	}
	return labels, nil
}

// listMaps returns the density map files directly inside dir, sorted by name
func listMaps(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading map directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if mapExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

// matchThreshold returns the threshold of the first key, in sorted order,
// contained in the file name of path
func matchThreshold(path string, keys []string, labels map[string]float64) (string, float64, bool) {
	name := filepath.Base(path)
	for _, key := range keys {
		if strings.Contains(name, key) {
			return key, labels[key], true
		}
	}
	return "", 0, false
}

// gatherExamples loads every map in dir and pairs it with its expert threshold
func gatherExamples(dir, thresholdsPath string, logger *zap.Logger) ([]models.TrainingExample, error) {
	labels, err := readThresholds(thresholdsPath)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	paths, err := listMaps(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .mrc or .map files in %s", dir)
	}

	examples := make([]models.TrainingExample, 0, len(paths))
	for _, path := range paths {
		key, threshold, ok := matchThreshold(path, keys, labels)
		if !ok {
			return nil, fmt.Errorf("no threshold for %s in %s", path, thresholdsPath)
		}

		vol, _, err := mrc.ReadFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded training map",
			zap.String("path", path),
			zap.String("key", key),
			zap.Float64("threshold", threshold),
			zap.Int("voxels", vol.Len()))

		examples = append(examples, models.TrainingExample{
			Map:       models.DensityMap{Path: path, Volume: vol},
			Threshold: threshold,
		})
	}
	return examples, nil
}

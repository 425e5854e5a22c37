package metric

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"autothreshold/internal/models"
)

// DefaultChimera is where the external visualization tool is usually installed
const DefaultChimera = "/usr/local/bin/chimera"

// ChimeraSurfaceToVolume measures the surface area to volume ratio of the
// isosurface at the threshold with an external UCSF Chimera process. Each
// evaluation writes its command script to its own temporary file, so
// concurrent evaluations do not interfere.
type ChimeraSurfaceToVolume struct {
	Executable string
}

func (c *ChimeraSurfaceToVolume) Name() string { return "sa_v_chimera" }

func (c *ChimeraSurfaceToVolume) Value(ctx context.Context, d models.DensityMap, threshold float64) (float64, error) {
	if d.Path == "" {
		return 0, errors.New("sa_v_chimera requires a density map file path")
	}

	script, err := os.CreateTemp("", "measure-*.cmd")
	if err != nil {
		return 0, fmt.Errorf("failed to create command script: %w", err)
	}
	defer os.Remove(script.Name())

	_, err = fmt.Fprintf(script, "open %s\nvolume #0 level %s\nmeasure volume #0\nmeasure area #0\n",
		d.Path, strconv.FormatFloat(threshold, 'g', -1, 64))
	if cerr := script.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write command script: %w", err)
	}

	exe := c.Executable
	if exe == "" {
		exe = DefaultChimera
	}
	output, err := exec.CommandContext(ctx, exe, "--nogui", script.Name()).Output()
	if err != nil {
		return 0, fmt.Errorf("chimera on %s at %g: %w", d.Path, threshold, err)
	}

	area, volume, err := parseMeasurements(output)
	if err != nil {
		return 0, fmt.Errorf("chimera on %s at %g: %w", d.Path, threshold, err)
	}
	if volume == 0 {
		return math.Inf(1), nil
	}
	return area / volume, nil
}

// parseMeasurements extracts the first reported area and volume from lines
// of the form "... area ... = <value>" and "... volume ... = <value>"
func parseMeasurements(output []byte) (area, volume float64, err error) {
	var haveArea, haveVolume bool

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.LastIndex(line, " = ")
		if idx < 0 {
			continue
		}
		value := strings.TrimSpace(line[idx+3:])

		switch {
		case strings.Contains(line, "area") && !haveArea:
			if area, err = strconv.ParseFloat(value, 64); err != nil {
				return 0, 0, fmt.Errorf("bad area %q: %w", value, err)
			}
			haveArea = true
		case strings.Contains(line, "volume") && !haveVolume:
			if volume, err = strconv.ParseFloat(value, 64); err != nil {
				return 0, 0, fmt.Errorf("bad volume %q: %w", value, err)
			}
			haveVolume = true
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}

	if !haveArea || !haveVolume {
		return 0, 0, errors.New("output has no area or volume measurement")
	}
	return area, volume, nil
}

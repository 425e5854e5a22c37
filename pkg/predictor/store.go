package predictor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"autothreshold/pkg/metric"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format selects the text encoding of a model record
type Format int

const (
	// FormatJSON encodes {"M_t": [...], "W": [...]}
	FormatJSON Format = iota
	// FormatYAML encodes the same two fields as YAML
	FormatYAML
)

// FormatFromPath picks YAML for .yaml and .yml files and JSON otherwise
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// record distinguishes absent fields from empty ones
type record struct {
	Targets *[]float64 `json:"M_t" yaml:"M_t"`
	Weights *[]float64 `json:"W" yaml:"W"`
}

// MarshalModel encodes model in the given format
func MarshalModel(model *Model, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(model)
	}
	return json.Marshal(model)
}

// UnmarshalModel decodes a model record and checks it against a metric list
// of length numMetrics. Any problem with the record is a *FormatError.
func UnmarshalModel(data []byte, format Format, numMetrics int) (*Model, error) {
	var rec record
	var err error
	if format == FormatYAML {
		err = yaml.Unmarshal(data, &rec)
	} else {
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		return nil, &FormatError{Reason: "cannot decode record", Err: err}
	}

	model := &Model{}
	if rec.Targets != nil {
		model.Targets = *rec.Targets
	}
	if rec.Weights != nil {
		model.Weights = *rec.Weights
	}
	// an explicit empty list decodes to a nil slice through some codecs
	if rec.Targets != nil && model.Targets == nil {
		model.Targets = []float64{}
	}
	if rec.Weights != nil && model.Weights == nil {
		model.Weights = []float64{}
	}

	if err := model.Validate(numMetrics); err != nil {
		return nil, err
	}
	return model, nil
}

// SaveModel writes model to path, replacing any existing record. The format
// follows the file extension.
func SaveModel(model *Model, path string) error {
	data, err := MarshalModel(model, FormatFromPath(path))
	if err != nil {
		return fmt.Errorf("error marshaling model: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating model directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing model file: %w", err)
	}
	return nil
}

// LoadModel reads the model saved at path for use with metrics. The record
// does not name its metrics, so the caller must supply the list used in
// training, in the same order.
func LoadModel(path string, metrics []metric.Metric) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading model file: %w", err)
	}

	model, err := UnmarshalModel(data, FormatFromPath(path), len(metrics))
	if err != nil {
		if fe, ok := err.(*FormatError); ok {
			fe.Path = path
		}
		return nil, err
	}
	return model, nil
}

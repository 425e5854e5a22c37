package predictor

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrZeroWeightSum is returned by Predict when the model weights sum to
	// zero and the weighted average is undefined
	ErrZeroWeightSum = errors.New("model weights sum to zero")

	// ErrNoExamples is returned by Train when the training set is empty
	ErrNoExamples = errors.New("no training examples")

	// ErrNoMetrics is returned when a predictor is created without metrics
	ErrNoMetrics = errors.New("no metrics")

	// ErrDegenerateFit is returned when every per-metric threshold estimate
	// is zero and no weights can be fitted
	ErrDegenerateFit = errors.New("threshold estimates have rank zero")
)

// FormatError reports a model record that is malformed or does not match
// the metric list it is used with
type FormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := "malformed model record"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// Model is a trained threshold predictor: one target value and one weight
// per metric, in metric order. The metric list itself is not part of the
// model and must be supplied identically when the model is used.
type Model struct {
	// Targets holds the mean metric value observed at the labeled
	// thresholds of the training maps
	Targets []float64 `json:"M_t" yaml:"M_t"`

	// Weights combine the per-metric threshold estimates
	Weights []float64 `json:"W" yaml:"W"`
}

// Validate checks the model against a metric list of length numMetrics
func (m *Model) Validate(numMetrics int) error {
	switch {
	case m == nil:
		return &FormatError{Reason: "no model"}
	case m.Targets == nil:
		return &FormatError{Reason: "missing field M_t"}
	case m.Weights == nil:
		return &FormatError{Reason: "missing field W"}
	case len(m.Targets) != len(m.Weights):
		return &FormatError{Reason: fmt.Sprintf("M_t has %d values but W has %d", len(m.Targets), len(m.Weights))}
	case len(m.Targets) != numMetrics:
		return &FormatError{Reason: fmt.Sprintf("model has %d values but %d metrics were supplied", len(m.Targets), numMetrics)}
	}
	for i := range m.Targets {
		if math.IsNaN(m.Targets[i]) || math.IsInf(m.Targets[i], 0) {
			return &FormatError{Reason: fmt.Sprintf("M_t[%d] is not finite", i)}
		}
		if math.IsNaN(m.Weights[i]) || math.IsInf(m.Weights[i], 0) {
			return &FormatError{Reason: fmt.Sprintf("W[%d] is not finite", i)}
		}
	}
	return nil
}

// Result is the outcome of a prediction
type Result struct {
	// Threshold is the weighted average of the per-metric thresholds
	Threshold float64 `json:"threshold"`

	// Thresholds holds the threshold found for each metric
	Thresholds []float64 `json:"thresholds"`

	// Converged reports, per metric, whether the root finder reached its
	// tolerance within its iteration budget
	Converged []bool `json:"converged"`
}

// AllConverged reports whether every metric converged
func (r *Result) AllConverged() bool {
	for _, c := range r.Converged {
		if !c {
			return false
		}
	}
	return true
}

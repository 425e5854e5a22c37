// Package metric defines the scalar functions of (density map, threshold)
// that the predictor inverts, together with the built-in implementations.
//
// A metric must be continuous and monotone in the threshold over the solver
// bracket for any fixed map. This is a precondition of the predictor and is
// not checked here. Degenerate inputs, such as a ratio whose denominator is
// zero, yield +Inf instead of an error.
package metric

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"autothreshold/internal/models"
)

// Metric is a named function of a density map and a threshold
type Metric interface {
	// Name identifies the metric in configuration and in the registry
	Name() string

	// Value evaluates the metric for the map at the given threshold
	Value(ctx context.Context, d models.DensityMap, threshold float64) (float64, error)
}

var (
	// ErrUnknownMetric is returned when a name is not registered
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrNoVolume is returned by voxel metrics when the map has not been loaded
	ErrNoVolume = errors.New("density map has no voxel data")
)

// Func adapts a plain function to the Metric interface
type Func struct {
	name string
	fn   func(d models.DensityMap, threshold float64) float64
}

// NewFunc wraps fn as a metric called name
func NewFunc(name string, fn func(d models.DensityMap, threshold float64) float64) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Value(_ context.Context, d models.DensityMap, threshold float64) (float64, error) {
	return f.fn(d, threshold), nil
}

// Registry maps metric names to implementations
type Registry struct {
	metrics map[string]Metric
}

// NewRegistry creates a registry holding the given metrics
func NewRegistry(metrics ...Metric) *Registry {
	r := &Registry{metrics: make(map[string]Metric, len(metrics))}
	for _, m := range metrics {
		r.Register(m)
	}
	return r
}

// DefaultRegistry holds the built-in metrics. chimera is the path of the
// external tool used by the sa_v_chimera metric.
func DefaultRegistry(chimera string) *Registry {
	return NewRegistry(
		RemainingToNonZero{},
		SurfaceToVolume{},
		&ChimeraSurfaceToVolume{Executable: chimera},
	)
}

// Register adds m, replacing any metric with the same name
func (r *Registry) Register(m Metric) {
	r.metrics[m.Name()] = m
}

// Lookup returns the metrics for names, in the same order
func (r *Registry) Lookup(names ...string) ([]Metric, error) {
	out := make([]Metric, 0, len(names))
	for _, name := range names {
		m, ok := r.metrics[name]
		if !ok {
			return nil, fmt.Errorf("%q: %w (known: %v)", name, ErrUnknownMetric, r.Names())
		}
		out = append(out, m)
	}
	return out, nil
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Names lists the names of metrics in order
func Names(metrics []Metric) []string {
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = m.Name()
	}
	return names
}

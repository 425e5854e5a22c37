// Package predictor calibrates and applies an automatic threshold predictor
// for density maps.
//
// Training evaluates every metric at the labeled threshold of every training
// map and keeps the mean as that metric's target value. Each metric is then
// inverted on each training map, i.e. the threshold at which the metric
// reaches its target is found with a bracketed root finder, and the weights
// that best combine these per-metric thresholds into the labeled ones are
// fitted by least squares. Prediction inverts every metric on the new map
// and returns the weighted average of the resulting thresholds.
package predictor

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"autothreshold/internal/models"
	"autothreshold/pkg/metric"
	"autothreshold/pkg/solver"
)

// Params holds the predictor configuration
type Params struct {
	// Solver configures the bracket and stopping criteria used to invert
	// metrics
	Solver solver.Params

	// NumCores bounds the number of metric evaluations and root searches
	// running at once. Zero or less means runtime.NumCPU().
	NumCores int

	// SolveTimeout bounds a single root search, zero means no limit
	SolveTimeout time.Duration

	// Logger receives training and prediction logs, nil disables logging
	Logger *zap.Logger
}

// DefaultParams returns parameters with the default solver and all cores
func DefaultParams() *Params {
	return &Params{
		Solver:   solver.DefaultParams(),
		NumCores: runtime.NumCPU(),
	}
}

// Predictor trains models and predicts thresholds for an ordered metric list.
// It holds no mutable state and may be used concurrently.
type Predictor struct {
	metrics      []metric.Metric
	solver       *solver.Brent
	numCores     int
	solveTimeout time.Duration
	logger       *zap.Logger
}

// NewPredictor creates a predictor for metrics. A nil params uses
// DefaultParams.
func NewPredictor(metrics []metric.Metric, params *Params) (*Predictor, error) {
	if len(metrics) == 0 {
		return nil, ErrNoMetrics
	}
	if params == nil {
		params = DefaultParams()
	}
	if err := params.Solver.Validate(); err != nil {
		return nil, fmt.Errorf("invalid solver parameters: %w", err)
	}

	numCores := params.NumCores
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Predictor{
		metrics:      append([]metric.Metric(nil), metrics...),
		solver:       solver.NewBrent(params.Solver),
		numCores:     numCores,
		solveTimeout: params.SolveTimeout,
		logger:       logger,
	}, nil
}

// Metrics returns the ordered metric list
func (p *Predictor) Metrics() []metric.Metric {
	return append([]metric.Metric(nil), p.metrics...)
}

// Train calibrates a model from labeled examples
func (p *Predictor) Train(ctx context.Context, examples []models.TrainingExample) (*Model, error) {
	n, k := len(examples), len(p.metrics)
	if n == 0 {
		return nil, ErrNoExamples
	}
	start := time.Now()

	// observed[j][i] is metric j on map i at its labeled threshold
	observed := make([][]float64, k)
	for j := range observed {
		observed[j] = make([]float64, n)
	}

	g, gctx := p.group(ctx)
	for i, ex := range examples {
		for j, m := range p.metrics {
			g.Go(func() error {
				v, err := m.Value(gctx, ex.Map, ex.Threshold)
				if err != nil {
					return fmt.Errorf("metric %s on %s: %w", m.Name(), ex.Map.Name(), err)
				}
				observed[j][i] = v
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	targets := make([]float64, k)
	for j, m := range p.metrics {
		targets[j] = stat.Mean(observed[j], nil)
		if math.IsNaN(targets[j]) || math.IsInf(targets[j], 0) {
			return nil, fmt.Errorf("metric %s: target value %g is not finite", m.Name(), targets[j])
		}
	}
	p.logger.Debug("computed metric targets",
		zap.Strings("metrics", metric.Names(p.metrics)),
		zap.Float64s("targets", targets))

	// row i of a holds the per-metric threshold estimates for map i
	a := make([]float64, n*k)
	g, gctx = p.group(ctx)
	for i, ex := range examples {
		for j, m := range p.metrics {
			g.Go(func() error {
				res, err := p.invert(gctx, m, ex.Map, targets[j])
				if err != nil {
					return err
				}
				a[i*k+j] = res.Root
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	labels := make([]float64, n)
	for i, ex := range examples {
		labels[i] = ex.Threshold
	}
	weights, err := fitWeights(mat.NewDense(n, k, a), labels)
	if err != nil {
		return nil, fmt.Errorf("failed to fit weights: %w", err)
	}

	p.logger.Info("trained threshold predictor",
		zap.Int("examples", n),
		zap.Strings("metrics", metric.Names(p.metrics)),
		zap.Float64s("targets", targets),
		zap.Float64s("weights", weights),
		zap.Duration("elapsed", time.Since(start)))

	return &Model{Targets: targets, Weights: weights}, nil
}

// Predict estimates the threshold of d with model
func (p *Predictor) Predict(ctx context.Context, model *Model, d models.DensityMap) (*Result, error) {
	if err := model.Validate(len(p.metrics)); err != nil {
		return nil, err
	}
	weightSum := floats.Sum(model.Weights)
	if weightSum == 0 {
		return nil, ErrZeroWeightSum
	}

	k := len(p.metrics)
	res := &Result{
		Thresholds: make([]float64, k),
		Converged:  make([]bool, k),
	}

	g, gctx := p.group(ctx)
	for j, m := range p.metrics {
		g.Go(func() error {
			r, err := p.invert(gctx, m, d, model.Targets[j])
			if err != nil {
				return err
			}
			res.Thresholds[j] = r.Root
			res.Converged[j] = r.Converged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Threshold = floats.Dot(res.Thresholds, model.Weights) / weightSum

	p.logger.Info("predicted threshold",
		zap.String("map", d.Name()),
		zap.Float64("threshold", res.Threshold),
		zap.Float64s("thresholds", res.Thresholds),
		zap.Bools("converged", res.Converged))

	return res, nil
}

// invert finds the threshold at which m reaches target on d
func (p *Predictor) invert(ctx context.Context, m metric.Metric, d models.DensityMap, target float64) (solver.Result, error) {
	if p.solveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.solveTimeout)
		defer cancel()
	}

	res, err := p.solver.Solve(ctx, func(t float64) (float64, error) {
		v, err := m.Value(ctx, d, t)
		return target - v, err
	})
	if err != nil {
		return res, fmt.Errorf("metric %s on %s: %w", m.Name(), d.Name(), err)
	}

	p.logger.Debug("inverted metric",
		zap.String("metric", m.Name()),
		zap.String("map", d.Name()),
		zap.Float64("target", target),
		zap.Float64("root", res.Root),
		zap.Bool("converged", res.Converged),
		zap.Int("iterations", res.Iterations))

	return res, nil
}

// group returns an errgroup bounded by the configured core count. The first
// failure cancels the remaining work; results are written by index so their
// order does not depend on completion order.
func (p *Predictor) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.numCores)
	return g, gctx
}

// Package solver provides a bracketed root finder for continuous scalar
// functions of one variable. It is used to invert a metric: find the
// threshold at which the metric reaches a target value.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Params holds the bracket and the stopping criteria of the root finder
type Params struct {
	// Low and High bound the interval searched for a root
	Low  float64 `yaml:"bracketLow"`
	High float64 `yaml:"bracketHigh"`

	// XTolerance is the absolute tolerance on the root
	XTolerance float64 `yaml:"xTolerance"`

	// RTolerance is the tolerance relative to the magnitude of the root
	RTolerance float64 `yaml:"rTolerance"`

	// MaxIterations is the iteration budget; running out of it is reported
	// through Result.Converged rather than as an error
	MaxIterations int `yaml:"maxIterations"`
}

// DefaultParams returns the bracket [0, 10] with tolerances close to
// machine precision
func DefaultParams() Params {
	return Params{
		Low:           0,
		High:          10,
		XTolerance:    2e-12,
		RTolerance:    4 * epsilon,
		MaxIterations: 100,
	}
}

// Validate checks that the parameters describe a usable search
func (p Params) Validate() error {
	if math.IsNaN(p.Low) || math.IsNaN(p.High) || p.Low >= p.High {
		return fmt.Errorf("invalid bracket [%g, %g]", p.Low, p.High)
	}
	if p.XTolerance <= 0 {
		return fmt.Errorf("xTolerance must be positive, got %g", p.XTolerance)
	}
	if p.RTolerance < epsilon {
		return fmt.Errorf("rTolerance must be at least %g, got %g", epsilon, p.RTolerance)
	}
	if p.MaxIterations <= 0 {
		return fmt.Errorf("maxIterations must be positive, got %d", p.MaxIterations)
	}
	return nil
}

const epsilon = 2.220446049250313e-16

// Func is a function whose root is searched. Evaluation may fail, for
// example when it calls out to an external program.
type Func func(x float64) (float64, error)

// Result describes the outcome of a root search
type Result struct {
	Root        float64
	Converged   bool
	Iterations  int
	Evaluations int
}

// BracketingError is returned when f has the same sign at both ends of the
// bracket, so the interval is not known to contain a root
type BracketingError struct {
	Lo, Hi   float64
	FLo, FHi float64
}

func (e *BracketingError) Error() string {
	return fmt.Sprintf("f(%g) = %g and f(%g) = %g do not bracket a root", e.Lo, e.FLo, e.Hi, e.FHi)
}

// ErrNaN is returned when the function evaluates to NaN
var ErrNaN = errors.New("function value is NaN")

// Brent finds roots with Brent's method: inverse quadratic interpolation and
// secant steps, falling back to bisection whenever they do not shrink the
// bracket fast enough.
type Brent struct {
	params Params
}

// NewBrent creates a root finder with the given parameters
func NewBrent(params Params) *Brent {
	return &Brent{params: params}
}

// Params returns the parameters the solver was created with
func (b *Brent) Params() Params {
	return b.params
}

// Solve searches for a root of f inside the configured bracket
func (b *Brent) Solve(ctx context.Context, f Func) (Result, error) {
	return b.SolveIn(ctx, f, b.params.Low, b.params.High)
}

// SolveIn searches for a root of f inside [lo, hi]. f(lo) and f(hi) must have
// opposite signs, otherwise a *BracketingError is returned.
func (b *Brent) SolveIn(ctx context.Context, f Func, lo, hi float64) (Result, error) {
	var res Result

	eval := func(x float64) (float64, error) {
		res.Evaluations++
		fx, err := f(x)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(fx) {
			return 0, fmt.Errorf("f(%g): %w", x, ErrNaN)
		}
		return fx, nil
	}

	xpre, xcur := lo, hi
	fpre, err := eval(xpre)
	if err != nil {
		return res, err
	}
	fcur, err := eval(xcur)
	if err != nil {
		return res, err
	}

	if fpre == 0 {
		res.Root, res.Converged = xpre, true
		return res, nil
	}
	if fcur == 0 {
		res.Root, res.Converged = xcur, true
		return res, nil
	}
	if math.Signbit(fpre) == math.Signbit(fcur) {
		return res, &BracketingError{Lo: lo, Hi: hi, FLo: fpre, FHi: fcur}
	}

	// xblk is the contrapoint: f(xblk) and f(xcur) always have opposite signs
	var xblk, fblk, spre, scur float64

	for res.Iterations = 1; res.Iterations <= b.params.MaxIterations; res.Iterations++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if fpre != 0 && fcur != 0 && math.Signbit(fpre) != math.Signbit(fcur) {
			xblk, fblk = xpre, fpre
			spre = xcur - xpre
			scur = spre
		}
		// keep xcur as the best estimate
		if math.Abs(fblk) < math.Abs(fcur) {
			xpre, xcur, xblk = xcur, xblk, xcur
			fpre, fcur, fblk = fcur, fblk, fcur
		}

		delta := (b.params.XTolerance + b.params.RTolerance*math.Abs(xcur)) / 2
		sbis := (xblk - xcur) / 2
		if fcur == 0 || math.Abs(sbis) < delta {
			res.Root, res.Converged = xcur, true
			return res, nil
		}

		if math.Abs(spre) > delta && math.Abs(fcur) < math.Abs(fpre) {
			var stry float64
			if xpre == xblk {
				// secant
				stry = -fcur * (xcur - xpre) / (fcur - fpre)
			} else {
				// inverse quadratic interpolation
				dpre := (fpre - fcur) / (xpre - xcur)
				dblk := (fblk - fcur) / (xblk - xcur)
				stry = -fcur * (fblk*dblk - fpre*dpre) / (dblk * dpre * (fblk - fpre))
			}
			// NaN or infinite steps (infinite function values) fail the
			// comparison and fall through to bisection
			if 2*math.Abs(stry) < math.Min(math.Abs(spre), 3*math.Abs(sbis)-delta) {
				spre, scur = scur, stry
			} else {
				spre, scur = sbis, sbis
			}
		} else {
			spre, scur = sbis, sbis
		}

		xpre, fpre = xcur, fcur
		if math.Abs(scur) > delta {
			xcur += scur
		} else if sbis > 0 {
			xcur += delta
		} else {
			xcur -= delta
		}

		fcur, err = eval(xcur)
		if err != nil {
			return res, err
		}
	}

	res.Iterations = b.params.MaxIterations
	res.Root = xcur
	return res, nil
}

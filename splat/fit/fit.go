// Package fit provides the distribution fitting primitives behind parameter
// estimation: gamma fits by Cramér-von Mises distance and by moments,
// closed-form log-normal maximum likelihood, logistic least squares, and
// negative binomial dispersion estimation.
//
// Every fit either returns usable parameter values or a *ConvergenceError;
// there are no partial results.
package fit

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ConvergenceError reports a fit that failed to converge or produced
// unusable parameter values.
type ConvergenceError struct {
	Fit    string
	Reason string
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s fit did not converge: %s", e.Fit, e.Reason)
}

func convergenceErrf(fit, format string, args ...any) *ConvergenceError {
	return &ConvergenceError{Fit: fit, Reason: fmt.Sprintf(format, args...)}
}

// GammaFit holds gamma shape and rate estimates.
type GammaFit struct {
	Shape float64
	Rate  float64
}

// LogNormalFit holds log-normal location and scale estimates (log space).
type LogNormalFit struct {
	Loc   float64
	Scale float64
}

// LogisticFit holds the midpoint and slope of a fitted logistic curve.
type LogisticFit struct {
	Mid   float64
	Shape float64
}

// nelderMead runs a bounded Nelder-Mead minimization of f from x0 and
// returns the final point. Termination is by function-value convergence,
// with an iteration cap so a flat or pathological objective cannot spin.
func nelderMead(f func([]float64) float64, x0 []float64) ([]float64, float64, error) {
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 100,
		},
		MajorIterations: 500,
	}
	res, err := optimize.Minimize(optimize.Problem{Func: f}, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, 0, err
	}
	if err := res.Status.Err(); err != nil {
		return nil, 0, err
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return nil, 0, fmt.Errorf("objective value %g at optimum", res.F)
	}
	return res.X, res.F, nil
}

// GammaMoments fits a gamma distribution by matching the first two sample
// moments. The variance uses the population denominator, matching the usual
// moment estimator.
func GammaMoments(xs []float64) (GammaFit, error) {
	n := len(xs)
	if n < 2 {
		return GammaFit{}, convergenceErrf("gamma-moments", "need at least 2 observations, got %d", n)
	}
	m := stat.Mean(xs, nil)
	v := stat.Variance(xs, nil) * float64(n-1) / float64(n)
	if !(m > 0) || !(v > 0) || math.IsInf(m, 0) || math.IsInf(v, 0) {
		return GammaFit{}, convergenceErrf("gamma-moments", "degenerate sample: mean=%g variance=%g", m, v)
	}
	return GammaFit{Shape: m * m / v, Rate: m / v}, nil
}

// GammaCvM fits a gamma distribution by minimizing the Cramér-von Mises
// distance between the empirical and the gamma CDF. The search runs
// Nelder-Mead over log-parameters starting from the moment estimates, so
// every candidate shape and rate stays positive.
func GammaCvM(xs []float64) (GammaFit, error) {
	start, err := GammaMoments(xs)
	if err != nil {
		return GammaFit{}, err
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := float64(len(sorted))

	objective := func(v []float64) float64 {
		d := distuv.Gamma{Alpha: math.Exp(v[0]), Beta: math.Exp(v[1])}
		w := 1.0 / (12.0 * n)
		for i, x := range sorted {
			diff := d.CDF(x) - (2.0*float64(i)+1.0)/(2.0*n)
			w += diff * diff
		}
		return w
	}

	x, _, err := nelderMead(objective, []float64{math.Log(start.Shape), math.Log(start.Rate)})
	if err != nil {
		return GammaFit{}, convergenceErrf("gamma-cvm", "%v", err)
	}
	shape, rate := math.Exp(x[0]), math.Exp(x[1])
	if !(shape > 0) || !(rate > 0) || math.IsInf(shape, 0) || math.IsInf(rate, 0) {
		return GammaFit{}, convergenceErrf("gamma-cvm", "optimizer returned shape=%g rate=%g", shape, rate)
	}
	return GammaFit{Shape: shape, Rate: rate}, nil
}

// LogNormalML is the closed-form maximum likelihood fit of a log-normal
// distribution: location and scale are the mean and standard deviation of
// the log observations (population denominator, as the MLE has).
func LogNormalML(xs []float64) (LogNormalFit, error) {
	if len(xs) < 2 {
		return LogNormalFit{}, convergenceErrf("log-normal", "need at least 2 observations, got %d", len(xs))
	}
	logs := make([]float64, len(xs))
	for i, x := range xs {
		if !(x > 0) {
			return LogNormalFit{}, convergenceErrf("log-normal", "observation %d is %g, want positive", i, x)
		}
		logs[i] = math.Log(x)
	}
	loc := stat.Mean(logs, nil)
	ss := 0.0
	for _, l := range logs {
		d := l - loc
		ss += d * d
	}
	scale := math.Sqrt(ss / float64(len(logs)))
	if math.IsNaN(loc) || math.IsInf(loc, 0) || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return LogNormalFit{}, convergenceErrf("log-normal", "degenerate sample: loc=%g scale=%g", loc, scale)
	}
	return LogNormalFit{Loc: loc, Scale: scale}, nil
}

// Logistic fits y ≈ 1/(1+exp(-shape*(x-mid))) by least squares with
// Nelder-Mead from the given starting point. A perfect fit (zero residual)
// is a valid result, not a failure.
func Logistic(xs, ys []float64, mid0, shape0 float64) (LogisticFit, error) {
	if len(xs) != len(ys) {
		return LogisticFit{}, convergenceErrf("logistic", "x/y length mismatch: %d vs %d", len(xs), len(ys))
	}
	if len(xs) < 3 {
		return LogisticFit{}, convergenceErrf("logistic", "need at least 3 observations, got %d", len(xs))
	}
	objective := func(v []float64) float64 {
		mid, shape := v[0], v[1]
		ss := 0.0
		for i, x := range xs {
			r := ys[i] - LogisticValue(x, mid, shape)
			ss += r * r
		}
		return ss
	}
	x, _, err := nelderMead(objective, []float64{mid0, shape0})
	if err != nil {
		return LogisticFit{}, convergenceErrf("logistic", "%v", err)
	}
	if math.IsNaN(x[0]) || math.IsNaN(x[1]) || math.IsInf(x[0], 0) || math.IsInf(x[1], 0) {
		return LogisticFit{}, convergenceErrf("logistic", "optimizer returned mid=%g shape=%g", x[0], x[1])
	}
	return LogisticFit{Mid: x[0], Shape: x[1]}, nil
}

// LogisticValue evaluates 1/(1+exp(-shape*(x-mid))). Works at x = -Inf
// (saturates to 0 or 1 by slope sign), so log-zero inputs flow through
// cleanly.
func LogisticValue(x, mid, shape float64) float64 {
	return 1.0 / (1.0 + math.Exp(-shape*(x-mid)))
}

package fit

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
)

// Dispersion search ranges, log-spaced. An estimate pinned to a boundary
// means the data carries no dispersion signal in that direction.
const (
	commonDispMin = 1e-4
	commonDispMax = 10.0
	geneDispMin   = 1e-6
	geneDispMax   = 20.0
)

// Dispersion holds the common negative binomial dispersion of a count matrix
// and the prior degrees of freedom describing how tightly per-gene
// dispersions cluster around it (+Inf when they do not vary beyond
// estimation noise).
type Dispersion struct {
	Common  float64
	PriorDF float64
}

// EstimateDispersion fits a common NB dispersion to a gene-by-cell count
// matrix by maximizing the Cox-Reid adjusted profile likelihood under an
// intercept-only model, with fitted means mu[g][c] = p[g] * libSize[c] from
// gene proportions and library sizes. Prior degrees of freedom come from the
// spread of per-gene estimates around the common value.
//
// This is the slowest estimation step: the profile likelihood is evaluated
// over the whole matrix once per search point.
func EstimateDispersion(counts *mat.Dense) (Dispersion, error) {
	nGenes, nCells := counts.Dims()
	if nCells < 2 {
		return Dispersion{}, convergenceErrf("dispersion", "need at least 2 cells, got %d", nCells)
	}

	libSizes := make([]float64, nCells)
	total := 0.0
	for c := 0; c < nCells; c++ {
		for g := 0; g < nGenes; g++ {
			libSizes[c] += counts.At(g, c)
		}
		total += libSizes[c]
	}
	if total <= 0 {
		return Dispersion{}, convergenceErrf("dispersion", "matrix has no counts")
	}

	// Keep genes with counts; empty rows carry no likelihood information.
	var rows, mus [][]float64
	for g := 0; g < nGenes; g++ {
		row := make([]float64, nCells)
		sum := 0.0
		for c := 0; c < nCells; c++ {
			y := counts.At(g, c)
			if y < 0 {
				return Dispersion{}, convergenceErrf("dispersion", "negative count %g at gene %d, cell %d", y, g, c)
			}
			row[c] = y
			sum += y
		}
		if sum == 0 {
			continue
		}
		p := sum / total
		mu := make([]float64, nCells)
		for c := 0; c < nCells; c++ {
			mu[c] = p * libSizes[c]
		}
		rows = append(rows, row)
		mus = append(mus, mu)
	}
	if len(rows) == 0 {
		return Dispersion{}, convergenceErrf("dispersion", "no genes with counts")
	}

	common, best := maximizeDispersion(func(phi float64) float64 {
		ll := 0.0
		for g := range rows {
			ll += geneAPL(rows[g], mus[g], phi)
		}
		return ll
	}, commonDispMin, commonDispMax, 25)
	if math.IsInf(best, -1) || math.IsNaN(best) {
		return Dispersion{}, convergenceErrf("dispersion", "adjusted profile likelihood is degenerate")
	}

	// Per-gene estimates feed the prior df. Boundary hits say "no signal",
	// not "the dispersion is the boundary", and would distort the spread.
	var logDisps []float64
	for g := range rows {
		phiG, bestG := maximizeDispersion(func(phi float64) float64 {
			return geneAPL(rows[g], mus[g], phi)
		}, geneDispMin, geneDispMax, 19)
		if math.IsInf(bestG, -1) || math.IsNaN(bestG) {
			continue
		}
		if phiG <= geneDispMin*1.05 || phiG >= geneDispMax*0.95 {
			continue
		}
		logDisps = append(logDisps, math.Log(phiG))
	}

	return Dispersion{
		Common:  common,
		PriorDF: priorDFFromSpread(logDisps, float64(nCells-1)),
	}, nil
}

// geneAPL is one gene's Cox-Reid adjusted profile log-likelihood at
// dispersion phi. The adjustment subtracts half the log Fisher information
// of the intercept, which for a one-group design is sum(mu/(1+phi*mu)).
func geneAPL(y, mu []float64, phi float64) float64 {
	r := 1.0 / phi
	lgr, _ := math.Lgamma(r)
	ll := 0.0
	info := 0.0
	for c := range y {
		m := mu[c]
		if m <= 0 {
			// Zero library size forces a zero observation; it contributes
			// nothing.
			continue
		}
		lgyr, _ := math.Lgamma(y[c] + r)
		lgy1, _ := math.Lgamma(y[c] + 1)
		ll += lgyr - lgr - lgy1 - r*math.Log1p(m/r)
		if y[c] > 0 {
			ll += y[c] * (math.Log(m) - math.Log(r+m))
		}
		info += m / (1.0 + phi*m)
	}
	if info <= 0 {
		return math.Inf(-1)
	}
	return ll - 0.5*math.Log(info)
}

// maximizeDispersion maximizes f over [lo, hi] in log space: a coarse grid
// locates the global peak, then golden-section search refines between the
// grid neighbors of the best point. Returns the argmax and maximum value.
func maximizeDispersion(f func(float64) float64, lo, hi float64, points int) (float64, float64) {
	llo, lhi := math.Log(lo), math.Log(hi)
	step := (lhi - llo) / float64(points-1)
	bestI, bestF := 0, math.Inf(-1)
	for i := 0; i < points; i++ {
		if v := f(math.Exp(llo + float64(i)*step)); v > bestF {
			bestI, bestF = i, v
		}
	}
	a := math.Max(llo, llo+float64(bestI-1)*step)
	b := math.Min(lhi, llo+float64(bestI+1)*step)
	lx := goldenMax(func(l float64) float64 { return f(math.Exp(l)) }, a, b, 80)
	if x := math.Exp(lx); f(x) > bestF {
		return x, f(x)
	}
	return math.Exp(llo + float64(bestI)*step), bestF
}

// goldenMax is golden-section search for the maximum of f on [a, b].
// Assumes unimodality on the bracket; iteration-capped.
func goldenMax(f func(float64) float64, a, b float64, iters int) float64 {
	const invPhi = 0.6180339887498949
	x1 := b - invPhi*(b-a)
	x2 := a + invPhi*(b-a)
	f1, f2 := f(x1), f(x2)
	for i := 0; i < iters && x2-x1 > 1e-10; i++ {
		if f1 > f2 {
			b, x2, f2 = x2, x1, f1
			x1 = b - invPhi*(b-a)
			f1 = f(x1)
		} else {
			a, x1, f1 = x1, x2, f2
			x2 = a + invPhi*(b-a)
			f2 = f(x2)
		}
	}
	return (a + b) / 2
}

// priorDFFromSpread translates the spread of per-gene log dispersion
// estimates into prior degrees of freedom. The spread is compared with the
// trigamma variance expected from estimation noise alone at the residual df;
// only excess spread indicates real gene-to-gene variability.
func priorDFFromSpread(logDisps []float64, residDF float64) float64 {
	if len(logDisps) < 2 || residDF <= 0 {
		return math.Inf(1)
	}
	excess := stat.Variance(logDisps, nil) - trigamma(residDF/2)
	if !(excess > 0) {
		return math.Inf(1)
	}
	return 2 * trigammaInv(excess)
}

// trigamma is the derivative of the digamma function, evaluated by central
// finite difference.
func trigamma(x float64) float64 {
	return fd.Derivative(mathext.Digamma, x, &fd.Settings{Formula: fd.Central})
}

// trigammaInv inverts trigamma on the positive axis. Trigamma decreases
// monotonically from +Inf at 0 toward 0, so geometric bisection on
// [1e-4, 1e7] converges for any reachable y; values outside the bracket
// clamp to the nearer end.
func trigammaInv(y float64) float64 {
	lo, hi := 1e-4, 1e7
	if y >= trigamma(lo) {
		return lo
	}
	if y <= trigamma(hi) {
		return hi
	}
	for i := 0; i < 200 && hi/lo > 1+1e-12; i++ {
		mid := math.Sqrt(lo * hi)
		if trigamma(mid) > y {
			lo = mid
		} else {
			hi = mid
		}
	}
	return math.Sqrt(lo * hi)
}

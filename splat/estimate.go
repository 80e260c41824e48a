package splat

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/scsim/scsim/splat/fit"
)

// Estimation tuning constants.
const (
	// winsorQuantile clamps extreme normalized means before the gamma fit.
	winsorQuantile = 0.10

	// outlierMADs sets the outlier bound at median + 2 MADs on the log
	// scale; madScale makes the MAD a consistent sigma estimator.
	outlierMADs = 2.0
	madScale    = 1.4826

	// bcvBase and bcvSlope map the common NB dispersion onto the BCV scale.
	bcvBase  = 0.1
	bcvSlope = 0.25

	// dropoutTestDispersion and dropoutPresenceFrac implement the rule of
	// thumb for deciding whether zero inflation is present: compare observed
	// zeros per gene against an NB at dispersion 0.1 and call dropout
	// present when some gene shows more than 0.1*nCells excess zeros. An
	// empirical heuristic, not a statistical test.
	dropoutTestDispersion = 0.1
	dropoutPresenceFrac   = 0.1
)

// Estimate infers the full parameter set from a count matrix. The input may
// be anything resolveCounts accepts: a CountSource (checked first), a
// *mat.Dense, or any other mat.Matrix.
//
// Stages run in a fixed order (mean, library size, outliers, BCV, dropout,
// dimensions) on top of the caller's params; each stage writes only the
// fields it estimates, so seeded fields survive unless a stage overwrites
// them. Estimation draws no random numbers: the same input always yields the
// same parameters.
func Estimate(counts any, params Params) (Params, error) {
	m, err := resolveCounts(counts)
	if err != nil {
		return Params{}, err
	}
	if err := validateCounts(m); err != nil {
		return Params{}, err
	}
	norm, err := normalizeCounts(m)
	if err != nil {
		return Params{}, err
	}

	p := params
	if p, err = estimateMean(norm, p); err != nil {
		return Params{}, err
	}
	if p, err = estimateLibSize(m, p); err != nil {
		return Params{}, err
	}
	if p, err = estimateOutliers(norm, p); err != nil {
		return Params{}, err
	}
	if p, err = estimateBCV(m, p); err != nil {
		return Params{}, err
	}
	if p, err = estimateDropout(norm, p); err != nil {
		return Params{}, err
	}

	nGenes, nCells := m.Dims()
	p, err = p.With(Update{NGenes: &nGenes, NCells: &nCells})
	if err != nil {
		return Params{}, err
	}
	return p, nil
}

// estimateMean fits the gamma distribution of winsorized normalized gene
// means. Cramér-von Mises is the primary fit; on non-convergence it falls
// back to moment matching before giving up.
func estimateMean(norm *mat.Dense, p Params) (Params, error) {
	means := rowMeansOf(norm)
	positive := make([]float64, 0, len(means))
	for _, m := range means {
		if m > 0 {
			positive = append(positive, m)
		}
	}
	winsorized := winsorize(positive, winsorQuantile)

	gf, err := fit.GammaCvM(winsorized)
	if err != nil {
		logrus.Warnf("mean stage: %v; falling back to moment estimates", err)
		gf, err = fit.GammaMoments(winsorized)
		if err != nil {
			return Params{}, &EstimationFailedError{Stage: "mean", Err: err}
		}
	}
	logrus.Debugf("mean stage: shape=%.4g rate=%.4g over %d genes", gf.Shape, gf.Rate, len(winsorized))

	updated, err := p.With(Update{MeanShape: &gf.Shape, MeanRate: &gf.Rate})
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "mean", Err: err}
	}
	return updated, nil
}

// estimateLibSize fits a log-normal to the raw per-cell library sizes.
func estimateLibSize(m *mat.Dense, p Params) (Params, error) {
	lf, err := fit.LogNormalML(colSumsOf(m))
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "library-size", Err: err}
	}
	logrus.Debugf("library-size stage: loc=%.4g scale=%.4g", lf.Loc, lf.Scale)

	updated, err := p.With(Update{LibLoc: &lf.Loc, LibScale: &lf.Scale})
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "library-size", Err: err}
	}
	return updated, nil
}

// estimateOutliers flags genes whose log mean exceeds median + 2 MADs and
// turns them into an outlier probability plus, when at least two exist, a
// log-normal fit of their factors relative to the median mean. With fewer
// than two outliers the factor fields are left exactly as the caller had
// them.
func estimateOutliers(norm *mat.Dense, p Params) (Params, error) {
	means := rowMeansOf(norm)
	kept := make([]float64, 0, len(means))
	lmeans := make([]float64, 0, len(means))
	for _, m := range means {
		if m > 0 {
			kept = append(kept, m)
			lmeans = append(lmeans, math.Log(m))
		}
	}

	med, err := stats.Median(lmeans)
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "outlier", Err: err}
	}
	// montanaflynn's MAD is unscaled; apply the consistency constant here.
	mad, err := stats.MedianAbsoluteDeviation(lmeans)
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "outlier", Err: err}
	}
	bound := med + outlierMADs*madScale*mad

	var outliers []float64
	for i, lm := range lmeans {
		if lm > bound {
			outliers = append(outliers, kept[i])
		}
	}
	prob := float64(len(outliers)) / float64(len(means))
	u := Update{OutProb: &prob}

	if len(outliers) >= 2 {
		medMean, err := stats.Median(kept)
		if err != nil {
			return Params{}, &EstimationFailedError{Stage: "outlier", Err: err}
		}
		facs := make([]float64, len(outliers))
		for i, o := range outliers {
			facs[i] = o / medMean
		}
		lf, err := fit.LogNormalML(facs)
		if err != nil {
			return Params{}, &EstimationFailedError{Stage: "outlier", Err: err}
		}
		u.OutFacLoc, u.OutFacScale = &lf.Loc, &lf.Scale
	}
	logrus.Debugf("outlier stage: %d of %d genes flagged", len(outliers), len(means))

	updated, err := p.With(u)
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "outlier", Err: err}
	}
	return updated, nil
}

// estimateBCV maps the common NB dispersion of the raw counts onto the
// biological coefficient of variation scale and carries the prior df along.
func estimateBCV(m *mat.Dense, p Params) (Params, error) {
	d, err := fit.EstimateDispersion(m)
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "bcv", Err: err}
	}
	common := bcvBase + bcvSlope*d.Common
	logrus.Debugf("bcv stage: dispersion=%.4g common=%.4g prior df=%.4g", d.Common, common, d.PriorDF)

	updated, err := p.With(Update{BCVCommon: &common, BCVDF: &d.PriorDF})
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "bcv", Err: err}
	}
	return updated, nil
}

// estimateDropout fits the logistic relation between log mean expression and
// per-gene zero fraction, then decides whether dropout is present at all by
// comparing observed zeros with what NB noise alone would produce.
func estimateDropout(norm *mat.Dense, p Params) (Params, error) {
	nGenes, nCells := norm.Dims()
	means := rowMeansOf(norm)
	xs := make([]float64, nGenes)
	ys := make([]float64, nGenes)
	maxExcess := math.Inf(-1)
	for g := 0; g < nGenes; g++ {
		zeros := float64(rowZeroCount(norm, g))
		xs[g] = math.Log(means[g])
		ys[g] = zeros / float64(nCells)
		expected := nbZeroProb(means[g], dropoutTestDispersion) * float64(nCells)
		if excess := zeros - expected; excess > maxExcess {
			maxExcess = excess
		}
	}

	lf, err := fit.Logistic(xs, ys, 0, -1)
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "dropout", Err: err}
	}
	present := maxExcess > dropoutPresenceFrac*float64(nCells)
	logrus.Debugf("dropout stage: mid=%.4g shape=%.4g present=%t", lf.Mid, lf.Shape, present)

	updated, err := p.With(Update{
		DropoutMid:     &lf.Mid,
		DropoutShape:   &lf.Shape,
		DropoutPresent: &present,
	})
	if err != nil {
		return Params{}, &EstimationFailedError{Stage: "dropout", Err: err}
	}
	return updated, nil
}

// nbZeroProb is the probability of observing zero under a negative binomial
// with the given mean and dispersion.
func nbZeroProb(mean, disp float64) float64 {
	size := 1.0 / disp
	return math.Pow(size/(size+mean), size)
}

// --- Helper functions ---

func sortedCopy(vals []float64) []float64 {
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	return s
}

func percentileFromSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// winsorize clamps values below the q-th and above the (1-q)-th percentile.
func winsorize(xs []float64, q float64) []float64 {
	sorted := sortedCopy(xs)
	lo := percentileFromSorted(sorted, 100*q)
	hi := percentileFromSorted(sorted, 100*(1-q))
	out := make([]float64, len(xs))
	for i, x := range xs {
		switch {
		case x < lo:
			out[i] = lo
		case x > hi:
			out[i] = hi
		default:
			out[i] = x
		}
	}
	return out
}

package splat

import (
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/scsim/scsim/splat/fit"
)

// Sim is one simulated dataset: the final counts plus every intermediate
// layer, all aligned by gene row and cell column.
type Sim struct {
	// Counts is the final count matrix, after dropout when present.
	Counts *mat.Dense
	// TrueCounts is the gamma-Poisson draw before dropout.
	TrueCounts *mat.Dense
	// CellMeans are the per-entry means the counts were drawn from;
	// BaseCellMeans are the library-scaled means before BCV noise.
	CellMeans     *mat.Dense
	BaseCellMeans *mat.Dense
	// BCV holds the per-entry biological coefficient of variation.
	BCV *mat.Dense
	// DropProb holds per-entry dropout probabilities; nil when dropout is
	// not present.
	DropProb *mat.Dense

	// GeneMeans are the per-gene means after outlier factors;
	// BaseGeneMeans are the raw gamma draws. OutlierFactors is 1 for
	// non-outlier genes.
	GeneMeans      []float64
	BaseGeneMeans  []float64
	OutlierFactors []float64
	Outlier        []bool

	// ExpLibSizes are the expected (not realized) per-cell library sizes.
	ExpLibSizes []float64

	// Groups labels cells when group_cells is set, nil otherwise. Batches
	// is always populated; with a single batch every label is 0.
	Groups  []int
	Batches []int

	// Params echoes the parameter set the dataset was generated from.
	Params Params
}

// CountMatrix returns the final counts, implementing CountSource so a Sim
// can feed straight back into Estimate.
func (s *Sim) CountMatrix() *mat.Dense { return s.Counts }

// Simulate generates a dataset from the parameter set. The same params (seed
// included) always produce bit-identical output: every sampling concern
// draws from its own named RNG stream, so enabling one component never
// shifts the draws of another.
func Simulate(params Params) (*Sim, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	rng := newStreamRNG(params.Seed)
	logrus.Debugf("simulating %d genes x %d cells (seed %d)", params.NGenes, params.NCells, params.Seed)

	sim := &Sim{Params: params}
	sim.Batches = batchAssignments(params.BatchCells, params.NCells)
	simGeneMeans(sim, params, rng.get(streamGeneMeans))
	simOutliers(sim, params, rng.get(streamOutliers))
	batchFacs := simBatchFactors(params, rng.get(streamBatches))
	simLibSizes(sim, params, rng.get(streamLibSizes))
	simCellMeans(sim, params, batchFacs)
	simBCVMeans(sim, params, rng.get(streamBCV))
	simTrueCounts(sim, params, rng.get(streamCounts))
	simDropout(sim, params, rng.get(streamDropout))
	simGroups(sim, params, rng.get(streamGroups))
	return sim, nil
}

// batchAssignments maps each cell to its batch, in contiguous blocks.
func batchAssignments(batchCells []int, nCells int) []int {
	batches := make([]int, nCells)
	if len(batchCells) < 2 {
		return batches
	}
	c := 0
	for b, n := range batchCells {
		for i := 0; i < n && c < nCells; i++ {
			batches[c] = b
			c++
		}
	}
	return batches
}

// simGeneMeans draws the per-gene base expression means.
func simGeneMeans(sim *Sim, p Params, rng *rand.Rand) {
	d := distuv.Gamma{Alpha: p.Mean.Shape, Beta: p.Mean.Rate, Src: rng}
	base := make([]float64, p.NGenes)
	for i := range base {
		base[i] = d.Rand()
	}
	sim.BaseGeneMeans = base
	sim.GeneMeans = append([]float64(nil), base...)
}

// simOutliers selects outlier genes and multiplies their means by log-normal
// factors. All selection uniforms are drawn before any factor draw, so for a
// fixed seed the flagged set grows monotonically with outlier.prob. Without
// factor parameters nothing is flagged and no draw is made.
func simOutliers(sim *Sim, p Params, rng *rand.Rand) {
	sim.Outlier = make([]bool, p.NGenes)
	sim.OutlierFactors = make([]float64, p.NGenes)
	for i := range sim.OutlierFactors {
		sim.OutlierFactors[i] = 1
	}
	if p.Out.FacLoc == nil || p.Out.FacScale == nil {
		return
	}
	selected := make([]bool, p.NGenes)
	for i := range selected {
		selected[i] = rng.Float64() < p.Out.Prob
	}
	d := distuv.LogNormal{Mu: *p.Out.FacLoc, Sigma: *p.Out.FacScale, Src: rng}
	for i, sel := range selected {
		if !sel {
			continue
		}
		sim.Outlier[i] = true
		sim.OutlierFactors[i] = d.Rand()
		sim.GeneMeans[i] = sim.BaseGeneMeans[i] * sim.OutlierFactors[i]
	}
}

// simBatchFactors draws per-batch, per-gene expression factors. Draws below
// one are inverted so every factor pushes away from the baseline, then each
// points up or down with equal probability. Returns nil with fewer than two
// batches.
func simBatchFactors(p Params, rng *rand.Rand) [][]float64 {
	nBatches := len(p.BatchCells)
	if nBatches < 2 {
		return nil
	}
	d := distuv.LogNormal{Mu: p.Batch.FacLoc, Sigma: p.Batch.FacScale, Src: rng}
	facs := make([][]float64, nBatches)
	for b := range facs {
		row := make([]float64, p.NGenes)
		for g := range row {
			f := d.Rand()
			if f < 1 {
				f = 1 / f
			}
			if rng.Float64() < 0.5 {
				f = 1 / f
			}
			row[g] = f
		}
		facs[b] = row
	}
	return facs
}

// simLibSizes draws each cell's expected library size.
func simLibSizes(sim *Sim, p Params, rng *rand.Rand) {
	d := distuv.LogNormal{Mu: p.Lib.Loc, Sigma: p.Lib.Scale, Src: rng}
	libs := make([]float64, p.NCells)
	for i := range libs {
		libs[i] = d.Rand()
	}
	sim.ExpLibSizes = libs
}

// simCellMeans scales gene means by relative library size (and batch factor)
// into the expected count for every entry. Scaling by lib/mean(lib) keeps
// each gene's mean over cells at its drawn value instead of tying row totals
// to absolute library size.
func simCellMeans(sim *Sim, p Params, batchFacs [][]float64) {
	meanLib := stat.Mean(sim.ExpLibSizes, nil)
	base := mat.NewDense(p.NGenes, p.NCells, nil)
	for c := 0; c < p.NCells; c++ {
		rel := sim.ExpLibSizes[c] / meanLib
		for g := 0; g < p.NGenes; g++ {
			m := sim.GeneMeans[g] * rel
			if batchFacs != nil {
				m *= batchFacs[sim.Batches[c]][g]
			}
			base.Set(g, c, m)
		}
	}
	sim.BaseCellMeans = base
}

// simBCVMeans layers biological variation over the base means: each entry's
// BCV combines the common level with a mean-dependent term, inflated by a
// per-gene chi-squared factor when bcv.df is finite, and the entry mean is
// redrawn from a gamma with that coefficient of variation.
func simBCVMeans(sim *Sim, p Params, rng *rand.Rand) {
	chi := make([]float64, p.NGenes)
	for g := range chi {
		chi[g] = 1
	}
	if !math.IsInf(p.BCV.DF, 1) {
		cs := distuv.ChiSquared{K: p.BCV.DF, Src: rng}
		for g := range chi {
			chi[g] = math.Sqrt(p.BCV.DF / cs.Rand())
		}
	}

	bcv := mat.NewDense(p.NGenes, p.NCells, nil)
	means := mat.NewDense(p.NGenes, p.NCells, nil)
	for g := 0; g < p.NGenes; g++ {
		for c := 0; c < p.NCells; c++ {
			base := sim.BaseCellMeans.At(g, c)
			b := (p.BCV.Common + 1/math.Sqrt(base)) * chi[g]
			bcv.Set(g, c, b)
			shape := 1 / (b * b)
			if shape == 0 || math.IsInf(b, 0) {
				// Means this small vanish below count resolution; the
				// gamma draw would degenerate.
				means.Set(g, c, 0)
				continue
			}
			d := distuv.Gamma{Alpha: shape, Beta: 1 / (base * b * b), Src: rng}
			means.Set(g, c, d.Rand())
		}
	}
	sim.BCV = bcv
	sim.CellMeans = means
}

// simTrueCounts draws the pre-dropout counts.
func simTrueCounts(sim *Sim, p Params, rng *rand.Rand) {
	counts := mat.NewDense(p.NGenes, p.NCells, nil)
	for g := 0; g < p.NGenes; g++ {
		for c := 0; c < p.NCells; c++ {
			d := distuv.Poisson{Lambda: sim.CellMeans.At(g, c), Src: rng}
			counts.Set(g, c, d.Rand())
		}
	}
	sim.TrueCounts = counts
	sim.Counts = mat.DenseCopyOf(counts)
}

// simDropout zeroes counts with the logistic probability of each entry's
// underlying mean. Skipped entirely when dropout is not present, leaving
// Counts equal to TrueCounts and DropProb nil.
func simDropout(sim *Sim, p Params, rng *rand.Rand) {
	if !p.Dropout.Present {
		return
	}
	probs := mat.NewDense(p.NGenes, p.NCells, nil)
	for g := 0; g < p.NGenes; g++ {
		for c := 0; c < p.NCells; c++ {
			prob := fit.LogisticValue(math.Log(sim.CellMeans.At(g, c)), p.Dropout.Mid, p.Dropout.Shape)
			probs.Set(g, c, prob)
			if rng.Float64() < prob {
				sim.Counts.Set(g, c, 0)
			}
		}
	}
	sim.DropProb = probs
}

// simGroups assigns shuffled group labels when a group partition is set.
// Labels only tag cells; expression is identical across groups.
func simGroups(sim *Sim, p Params, rng *rand.Rand) {
	if len(p.GroupCells) == 0 {
		return
	}
	labels := make([]int, 0, p.NCells)
	for g, n := range p.GroupCells {
		for i := 0; i < n; i++ {
			labels = append(labels, g)
		}
	}
	rng.Shuffle(len(labels), func(i, j int) {
		labels[i], labels[j] = labels[j], labels[i]
	})
	sim.Groups = labels
}

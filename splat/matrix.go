package splat

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
)

// CountSource is implemented by containers that can hand the pipeline a
// gene-by-cell count matrix. Sim implements it, so simulated output feeds
// straight back into Estimate.
type CountSource interface {
	CountMatrix() *mat.Dense
}

// resolveCounts maps the accepted input kinds onto a concrete matrix. The
// counts accessor is checked first, then bare gonum matrices: a *mat.Dense
// is used as-is, any other mat.Matrix is copied. Everything else is
// rejected.
func resolveCounts(counts any) (*mat.Dense, error) {
	switch v := counts.(type) {
	case CountSource:
		m := v.CountMatrix()
		if m == nil {
			return nil, invalidInputf("counts accessor returned no matrix")
		}
		return m, nil
	case *mat.Dense:
		if v == nil {
			return nil, invalidInputf("counts matrix is nil")
		}
		return v, nil
	case mat.Matrix:
		return mat.DenseCopyOf(v), nil
	default:
		return nil, invalidInputf("unsupported counts type %T", counts)
	}
}

// validateCounts rejects matrices the pipeline cannot estimate from:
// no genes, fewer than two cells, or entries that are not non-negative
// numbers.
func validateCounts(m *mat.Dense) error {
	nGenes, nCells := m.Dims()
	if nGenes == 0 {
		return invalidInputf("counts matrix has no genes")
	}
	if nCells < 2 {
		return invalidInputf("need at least 2 cells, got %d", nCells)
	}
	for g := 0; g < nGenes; g++ {
		for c := 0; c < nCells; c++ {
			x := m.At(g, c)
			if math.IsNaN(x) {
				return invalidInputf("count at gene %d, cell %d is NaN", g, c)
			}
			if x < 0 {
				return invalidInputf("negative count %g at gene %d, cell %d", x, g, c)
			}
		}
	}
	return nil
}

// normalizeCounts equalizes library sizes: every column is scaled by
// median(columnSums)/columnSum, then genes observed in at most one cell are
// dropped. Columns summing to zero are left as they are (all zero), which
// keeps the scaling well defined; the library size stage reports them.
func normalizeCounts(m *mat.Dense) (*mat.Dense, error) {
	nGenes, nCells := m.Dims()
	colSums := colSumsOf(m)
	libMedian, err := stats.Median(colSums)
	if err != nil {
		return nil, invalidInputf("no cells to normalize")
	}

	keep := make([]int, 0, nGenes)
	for g := 0; g < nGenes; g++ {
		if rowNonzeroCount(m, g) >= 2 {
			keep = append(keep, g)
		}
	}
	if len(keep) < 2 {
		return nil, invalidInputf("fewer than 2 genes expressed in at least 2 cells")
	}

	norm := mat.NewDense(len(keep), nCells, nil)
	for i, g := range keep {
		for c := 0; c < nCells; c++ {
			scale := 0.0
			if colSums[c] > 0 {
				scale = libMedian / colSums[c]
			}
			norm.Set(i, c, m.At(g, c)*scale)
		}
	}
	return norm, nil
}

// --- Matrix helpers ---

func colSumsOf(m *mat.Dense) []float64 {
	nGenes, nCells := m.Dims()
	sums := make([]float64, nCells)
	for c := 0; c < nCells; c++ {
		for g := 0; g < nGenes; g++ {
			sums[c] += m.At(g, c)
		}
	}
	return sums
}

func rowMeansOf(m *mat.Dense) []float64 {
	nGenes, nCells := m.Dims()
	means := make([]float64, nGenes)
	for g := 0; g < nGenes; g++ {
		sum := 0.0
		for c := 0; c < nCells; c++ {
			sum += m.At(g, c)
		}
		means[g] = sum / float64(nCells)
	}
	return means
}

func rowNonzeroCount(m *mat.Dense, g int) int {
	_, nCells := m.Dims()
	n := 0
	for c := 0; c < nCells; c++ {
		if m.At(g, c) != 0 {
			n++
		}
	}
	return n
}

func rowZeroCount(m *mat.Dense, g int) int {
	_, nCells := m.Dims()
	return nCells - rowNonzeroCount(m, g)
}

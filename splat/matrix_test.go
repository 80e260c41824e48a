package splat

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type matrixBox struct {
	m *mat.Dense
}

func (b matrixBox) CountMatrix() *mat.Dense { return b.m }

func TestResolveCounts_CountSource(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	got, err := resolveCounts(matrixBox{m: m})
	require.NoError(t, err)
	assert.Same(t, m, got)
}

func TestResolveCounts_SimIsCountSource(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	got, err := resolveCounts(&Sim{Counts: m})
	require.NoError(t, err)
	assert.Same(t, m, got)
}

func TestResolveCounts_NilAccessorResult(t *testing.T) {
	_, err := resolveCounts(matrixBox{})
	var ie *InvalidInputError
	require.True(t, errors.As(err, &ie))
}

func TestResolveCounts_DensePassthrough(t *testing.T) {
	m := mat.NewDense(2, 3, nil)
	got, err := resolveCounts(m)
	require.NoError(t, err)
	assert.Same(t, m, got)
}

func TestResolveCounts_NilDense(t *testing.T) {
	_, err := resolveCounts((*mat.Dense)(nil))
	var ie *InvalidInputError
	require.True(t, errors.As(err, &ie))
}

func TestResolveCounts_GenericMatrixCopied(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})

	// A transpose view is a mat.Matrix but not a *mat.Dense
	got, err := resolveCounts(m.T())
	require.NoError(t, err)
	r, c := got.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 2.0, got.At(1, 0))

	// The copy is independent of the original
	got.Set(0, 0, 99)
	assert.Equal(t, 1.0, m.At(0, 0))
}

func TestResolveCounts_UnsupportedType(t *testing.T) {
	_, err := resolveCounts(42)
	var ie *InvalidInputError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, err.Error(), "int")
}

func TestValidateCounts_Rejections(t *testing.T) {
	tests := []struct {
		name string
		m    *mat.Dense
	}{
		{"no genes", &mat.Dense{}},
		{"single cell", mat.NewDense(3, 1, []float64{1, 2, 3})},
		{"NaN entry", mat.NewDense(2, 2, []float64{1, math.NaN(), 3, 4})},
		{"negative entry", mat.NewDense(2, 2, []float64{1, -2, 3, 4})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCounts(tt.m)
			var ie *InvalidInputError
			require.True(t, errors.As(err, &ie), "got %v", err)
		})
	}
}

func TestValidateCounts_AcceptsZeros(t *testing.T) {
	assert.NoError(t, validateCounts(mat.NewDense(2, 3, []float64{0, 1, 2, 3, 0, 4})))
}

func TestNormalizeCounts_EqualizesLibrarySizes(t *testing.T) {
	m := mat.NewDense(4, 3, []float64{
		10, 20, 5,
		30, 60, 15,
		20, 40, 10,
		40, 80, 20,
	})

	norm, err := normalizeCounts(m)
	require.NoError(t, err)

	// Original column sums are 100, 200, 50: every column scales to the
	// median, 100
	sums := colSumsOf(norm)
	for _, s := range sums {
		assert.InDelta(t, 100.0, s, 1e-9)
	}
}

func TestNormalizeCounts_Idempotent(t *testing.T) {
	m := mat.NewDense(4, 3, []float64{
		1, 7, 2,
		3, 0, 5,
		8, 2, 0,
		2, 9, 4,
	})

	norm1, err := normalizeCounts(m)
	require.NoError(t, err)
	norm2, err := normalizeCounts(norm1)
	require.NoError(t, err)

	r1, c1 := norm1.Dims()
	r2, c2 := norm2.Dims()
	require.Equal(t, r1, r2)
	require.Equal(t, c1, c2)
	for g := 0; g < r1; g++ {
		for c := 0; c < c1; c++ {
			assert.InDelta(t, norm1.At(g, c), norm2.At(g, c), 1e-9)
		}
	}
}

func TestNormalizeCounts_DropsRareGenes(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		5, 6, 7,
		0, 9, 0, // expressed in one cell only
		1, 2, 3,
	})

	norm, err := normalizeCounts(m)
	require.NoError(t, err)
	r, c := norm.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	// Remaining rows keep their order; column sums were {6, 17, 10} with
	// median 10
	assert.InDelta(t, 5*10.0/6, norm.At(0, 0), 1e-9)
}

func TestNormalizeCounts_TooFewInformativeGenes(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{
		1, 0, 0,
		0, 2, 0,
	})
	_, err := normalizeCounts(m)
	var ie *InvalidInputError
	require.True(t, errors.As(err, &ie))
}

func TestNormalizeCounts_LeavesEmptyCellsAlone(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		4, 5, 0,
		1, 2, 0,
		6, 3, 0,
	})

	norm, err := normalizeCounts(m)
	require.NoError(t, err)
	for g := 0; g < 3; g++ {
		assert.Equal(t, 0.0, norm.At(g, 2))
	}
}

func TestRowHelpers(t *testing.T) {
	m := mat.NewDense(2, 4, []float64{
		0, 3, 0, 5,
		1, 1, 1, 1,
	})
	assert.Equal(t, 2, rowNonzeroCount(m, 0))
	assert.Equal(t, 2, rowZeroCount(m, 0))
	assert.Equal(t, 4, rowNonzeroCount(m, 1))
	assert.Equal(t, []float64{2.0, 1.0}, rowMeansOf(m))
	assert.Equal(t, []float64{1, 4, 1, 6}, colSumsOf(m))
}

func TestWinsorize_ClampsTails(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100}
	got := winsorize(xs, 0.10)

	// Order is preserved and the extreme value is pulled to the upper
	// percentile
	assert.Len(t, got, len(xs))
	assert.Less(t, got[9], 100.0)
	assert.Equal(t, 5.0, got[4])
	sorted := sortedCopy(xs)
	assert.Equal(t, percentileFromSorted(sorted, 90), got[9])
}

func TestPercentileFromSorted_LinearInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	assert.Equal(t, 10.0, percentileFromSorted(sorted, 0))
	assert.Equal(t, 40.0, percentileFromSorted(sorted, 100))
	assert.InDelta(t, 25.0, percentileFromSorted(sorted, 50), 1e-12)
	assert.InDelta(t, 13.0, percentileFromSorted(sorted, 10), 1e-12)
}

package splat

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }
func i64p(v int64) *int64   { return &v }
func bp(v bool) *bool       { return &v }

func TestNewParams_Defaults(t *testing.T) {
	p := NewParams()
	assert.Equal(t, 10000, p.NGenes)
	assert.Equal(t, 100, p.NCells)
	assert.Equal(t, int64(42), p.Seed)
	assert.Nil(t, p.GroupCells)
	assert.Nil(t, p.BatchCells)
	assert.Equal(t, 0.6, p.Mean.Shape)
	assert.Equal(t, 0.3, p.Mean.Rate)
	assert.Equal(t, 11.0, p.Lib.Loc)
	assert.Equal(t, 0.2, p.Lib.Scale)
	assert.Equal(t, 0.05, p.Out.Prob)
	assert.Nil(t, p.Out.FacLoc)
	assert.Nil(t, p.Out.FacScale)
	assert.Equal(t, 0.1, p.BCV.Common)
	assert.Equal(t, 60.0, p.BCV.DF)
	assert.False(t, p.Dropout.Present)
	assert.Equal(t, 0.0, p.Dropout.Mid)
	assert.Equal(t, -1.0, p.Dropout.Shape)
	assert.Equal(t, 0.1, p.Batch.FacLoc)
	assert.Equal(t, 0.1, p.Batch.FacScale)
}

func TestNewParams_DefaultsValidate(t *testing.T) {
	p := NewParams()
	assert.NoError(t, p.Validate())
}

func TestWith_UpdatesOnlyGivenFields(t *testing.T) {
	p := NewParams()
	got, err := p.With(Update{
		MeanShape: fp(1.4),
		LibLoc:    fp(9.5),
		Seed:      i64p(7),
	})
	require.NoError(t, err)
	assert.Equal(t, 1.4, got.Mean.Shape)
	assert.Equal(t, 9.5, got.Lib.Loc)
	assert.Equal(t, int64(7), got.Seed)
	// Untouched fields keep their values
	assert.Equal(t, 0.3, got.Mean.Rate)
	assert.Equal(t, 0.2, got.Lib.Scale)
	assert.Equal(t, 10000, got.NGenes)
}

func TestWith_DoesNotMutateReceiver(t *testing.T) {
	p := NewParams()
	_, err := p.With(Update{MeanShape: fp(2.0)})
	require.NoError(t, err)
	assert.Equal(t, 0.6, p.Mean.Shape)
}

func TestWith_RejectsOutOfDomain(t *testing.T) {
	tests := []struct {
		name  string
		u     Update
		field string
	}{
		{"zero genes", Update{NGenes: ip(0)}, "n_genes"},
		{"zero cells", Update{NCells: ip(0)}, "n_cells"},
		{"zero mean shape", Update{MeanShape: fp(0)}, "mean.shape"},
		{"NaN mean shape", Update{MeanShape: fp(math.NaN())}, "mean.shape"},
		{"negative mean rate", Update{MeanRate: fp(-1)}, "mean.rate"},
		{"infinite lib loc", Update{LibLoc: fp(math.Inf(1))}, "lib.loc"},
		{"negative lib scale", Update{LibScale: fp(-0.1)}, "lib.scale"},
		{"probability above one", Update{OutProb: fp(1.5)}, "outlier.prob"},
		{"negative probability", Update{OutProb: fp(-0.1)}, "outlier.prob"},
		{"NaN factor loc", Update{OutFacLoc: fp(math.NaN())}, "outlier.fac_loc"},
		{"negative factor scale", Update{OutFacScale: fp(-1)}, "outlier.fac_scale"},
		{"zero bcv", Update{BCVCommon: fp(0)}, "bcv.common"},
		{"zero df", Update{BCVDF: fp(0)}, "bcv.df"},
		{"negative infinite df", Update{BCVDF: fp(math.Inf(-1))}, "bcv.df"},
		{"NaN dropout mid", Update{DropoutMid: fp(math.NaN())}, "dropout.mid"},
		{"infinite dropout shape", Update{DropoutShape: fp(math.Inf(1))}, "dropout.shape"},
		{"negative batch scale", Update{BatchFacScale: fp(-0.5)}, "batch.fac_scale"},
		{"zero group size", Update{GroupCells: []int{0, 5}}, "group_cells[0]"},
		{"zero batch size", Update{BatchCells: []int{5, 0}}, "batch_cells[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParams()
			_, err := p.With(tt.u)
			var de *ParameterDomainError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, tt.field, de.Field)
			// The receiver is untouched after a rejected update
			assert.Equal(t, NewParams(), p)
		})
	}
}

func TestWith_InfiniteDFAllowed(t *testing.T) {
	p, err := NewParams().With(Update{BCVDF: fp(math.Inf(1))})
	require.NoError(t, err)
	assert.True(t, math.IsInf(p.BCV.DF, 1))
}

func TestWith_GroupCellsDerivesNCells(t *testing.T) {
	p, err := NewParams().With(Update{GroupCells: []int{30, 20}})
	require.NoError(t, err)
	assert.Equal(t, 50, p.NCells)
	assert.Equal(t, []int{30, 20}, p.GroupCells)
}

func TestWith_BatchCellsDerivesNCells(t *testing.T) {
	p, err := NewParams().With(Update{BatchCells: []int{10, 10, 5}})
	require.NoError(t, err)
	assert.Equal(t, 25, p.NCells)
	assert.Equal(t, []int{10, 10, 5}, p.BatchCells)
}

func TestWith_PartitionsMustAgree(t *testing.T) {
	_, err := NewParams().With(Update{
		GroupCells: []int{30, 20},
		BatchCells: []int{10, 10},
	})
	var de *ParameterDomainError
	require.True(t, errors.As(err, &de))

	// Equal sums are fine
	p, err := NewParams().With(Update{
		GroupCells: []int{30, 20},
		BatchCells: []int{25, 25},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, p.NCells)
}

func TestWith_NCellsConflictingWithNewPartition_Rejected(t *testing.T) {
	_, err := NewParams().With(Update{NCells: ip(40), GroupCells: []int{30, 20}})
	var de *ParameterDomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "n_cells", de.Field)
}

func TestWith_NCellsMatchingPartition_Kept(t *testing.T) {
	p, err := NewParams().With(Update{GroupCells: []int{30, 20}})
	require.NoError(t, err)

	p, err = p.With(Update{NCells: ip(50)})
	require.NoError(t, err)
	assert.Equal(t, []int{30, 20}, p.GroupCells)
	assert.Equal(t, 50, p.NCells)
}

func TestWith_NCellsMismatchingPartition_Dropped(t *testing.T) {
	p, err := NewParams().With(Update{GroupCells: []int{30, 20}, BatchCells: []int{25, 25}})
	require.NoError(t, err)

	p, err = p.With(Update{NCells: ip(80)})
	require.NoError(t, err)
	assert.Equal(t, 80, p.NCells)
	assert.Nil(t, p.GroupCells)
	assert.Nil(t, p.BatchCells)
}

func TestWith_NewPartitionDropsStaleOther(t *testing.T) {
	p, err := NewParams().With(Update{BatchCells: []int{25, 25}})
	require.NoError(t, err)

	// A group partition with a different total wins; the stale batch
	// partition goes away rather than conflicting silently.
	p, err = p.With(Update{GroupCells: []int{40, 40}})
	require.NoError(t, err)
	assert.Equal(t, 80, p.NCells)
	assert.Equal(t, []int{40, 40}, p.GroupCells)
	assert.Nil(t, p.BatchCells)
}

func TestWith_EmptySliceClearsPartition(t *testing.T) {
	p, err := NewParams().With(Update{GroupCells: []int{30, 20}})
	require.NoError(t, err)

	p, err = p.With(Update{GroupCells: []int{}})
	require.NoError(t, err)
	assert.Nil(t, p.GroupCells)
	assert.Equal(t, 50, p.NCells)
}

func TestValidate_FactorFieldsMustComeTogether(t *testing.T) {
	p := NewParams()
	p.Out.FacLoc = fp(0.5)
	err := p.Validate()
	var ie *InvalidInputError
	require.True(t, errors.As(err, &ie))
}

func TestValidate_PartitionSumMismatch(t *testing.T) {
	p := NewParams()
	p.GroupCells = []int{3, 3}
	err := p.Validate()
	var ie *InvalidInputError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, err.Error(), "group_cells")
}

func TestValidate_ReportsDomainViolationsAsInvalidInput(t *testing.T) {
	p := NewParams()
	p.Mean.Shape = -2
	err := p.Validate()
	var ie *InvalidInputError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, err.Error(), "mean.shape")
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	p, err := NewParams().With(Update{
		GroupCells:  []int{60, 40},
		Seed:        i64p(1234),
		OutFacLoc:   fp(0.5),
		OutFacScale: fp(0.4),
		BCVDF:       fp(math.Inf(1)),
		DropoutMid:  fp(1.5),
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, p.Save(path))

	got, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.True(t, math.IsInf(got.BCV.DF, 1))
}

func TestLoadParams_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seed: 9\nmean:\n  shape: 1.5\n"), 0o644))

	p, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, int64(9), p.Seed)
	assert.Equal(t, 1.5, p.Mean.Shape)
	// Everything absent from the file keeps its default
	assert.Equal(t, 0.3, p.Mean.Rate)
	assert.Equal(t, 10000, p.NGenes)
	assert.Equal(t, 11.0, p.Lib.Loc)
}

func TestLoadParams_UnknownKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("n_genes: 50\nbogus: 1\n"), 0o644))

	_, err := LoadParams(path)
	assert.Error(t, err)
}

func TestLoadParams_OutOfDomainRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mean:\n  shape: -2\n"), 0o644))

	_, err := LoadParams(path)
	var ie *InvalidInputError
	require.True(t, errors.As(err, &ie))
}

func TestLoadParams_MissingFile(t *testing.T) {
	_, err := LoadParams(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSummary_CoversComponents(t *testing.T) {
	p, err := NewParams().With(Update{
		BatchCells:  []int{50, 50},
		OutFacLoc:   fp(4.0),
		OutFacScale: fp(0.5),
	})
	require.NoError(t, err)

	s := p.Summary()
	assert.Contains(t, s, "genes: 10000")
	assert.Contains(t, s, "batches:")
	assert.Contains(t, s, "mean:")
	assert.Contains(t, s, "library:")
	assert.Contains(t, s, "outlier:")
	assert.Contains(t, s, "bcv:")
	assert.Contains(t, s, "dropout:")
}

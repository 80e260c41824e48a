package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/scsim/scsim/splat"
)

func writeTempTSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counts.tsv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCountsTSV_ParsesMatrix(t *testing.T) {
	path := writeTempTSV(t, ""+
		"\tCellA\tCellB\tCellC\n"+
		"GeneX\t0\t5\t2\n"+
		"GeneY\t7\t0\t1\n")

	m, genes, cells, err := ReadCountsTSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"GeneX", "GeneY"}, genes)
	assert.Equal(t, []string{"CellA", "CellB", "CellC"}, cells)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 5.0, m.At(0, 1))
	assert.Equal(t, 7.0, m.At(1, 0))
}

func TestReadCountsTSV_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{"non-integer count", "\tC1\tC2\nG1\t1.5\t2\n", "not an integer"},
		{"text count", "\tC1\tC2\nG1\tx\t2\n", "not an integer"},
		{"negative count", "\tC1\tC2\nG1\t-3\t2\n", "negative count"},
		{"ragged row", "\tC1\tC2\nG1\t1\t2\nG2\t1\n", "row 2"},
		{"no cells", "corner\nG1\n", "corner"},
		{"no gene rows", "\tC1\tC2\n", "no gene rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempTSV(t, tt.content)
			_, _, _, err := ReadCountsTSV(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestReadCountsTSV_MissingFile(t *testing.T) {
	_, _, _, err := ReadCountsTSV(filepath.Join(t.TempDir(), "nope.tsv"))
	assert.Error(t, err)
}

func TestWriteMatrixTSV_RoundTrip(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{0, 5, 2, 7, 0, 1})
	genes := []string{"G1", "G2"}
	cells := []string{"C1", "C2", "C3"}
	path := filepath.Join(t.TempDir(), "out.tsv")

	require.NoError(t, WriteMatrixTSV(path, m, genes, cells))

	got, gotGenes, gotCells, err := ReadCountsTSV(path)
	require.NoError(t, err)
	assert.Equal(t, genes, gotGenes)
	assert.Equal(t, cells, gotCells)
	assert.True(t, mat.Equal(m, got))
}

func TestWriteMatrixTSV_NameCountMismatch(t *testing.T) {
	m := mat.NewDense(2, 2, nil)
	err := WriteMatrixTSV(filepath.Join(t.TempDir(), "out.tsv"), m, []string{"G1"}, []string{"C1", "C2"})
	assert.Error(t, err)
}

func simulateSmall(t *testing.T, dropout bool) *splat.Sim {
	t.Helper()
	nGenes, nCells := 30, 10
	u := splat.Update{NGenes: &nGenes, NCells: &nCells}
	if dropout {
		u.DropoutPresent = &dropout
	}
	p, err := splat.NewParams().With(u)
	require.NoError(t, err)
	sim, err := splat.Simulate(p)
	require.NoError(t, err)
	return sim
}

func TestWriteSim_CountsRoundTrip(t *testing.T) {
	sim := simulateSmall(t, false)
	dir := filepath.Join(t.TempDir(), "out")

	require.NoError(t, WriteSim(dir, sim, false))

	m, genes, cells, err := ReadCountsTSV(filepath.Join(dir, "counts.tsv"))
	require.NoError(t, err)
	assert.True(t, mat.Equal(sim.Counts, m))
	assert.Equal(t, "Gene1", genes[0])
	assert.Equal(t, "Gene30", genes[29])
	assert.Equal(t, "Cell10", cells[9])

	for _, name := range []string{"genes.tsv", "cells.tsv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	// No layers requested
	_, err = os.Stat(filepath.Join(dir, "true_counts.tsv"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteSim_Layers(t *testing.T) {
	sim := simulateSmall(t, true)
	dir := filepath.Join(t.TempDir(), "out")

	require.NoError(t, WriteSim(dir, sim, true))

	for _, name := range []string{"counts.tsv", "true_counts.tsv", "base_cell_means.tsv", "cell_means.tsv", "bcv.tsv", "drop_prob.tsv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestWriteSim_NoDropProbWithoutDropout(t *testing.T) {
	sim := simulateSmall(t, false)
	dir := filepath.Join(t.TempDir(), "out")

	require.NoError(t, WriteSim(dir, sim, true))

	_, err := os.Stat(filepath.Join(dir, "drop_prob.tsv"))
	assert.True(t, os.IsNotExist(err))
}

func TestSeqNames(t *testing.T) {
	assert.Equal(t, []string{"Cell1", "Cell2", "Cell3"}, seqNames("Cell", 3))
	assert.Empty(t, seqNames("Gene", 0))
}

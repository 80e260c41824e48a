package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scsim/scsim/splat"
	"github.com/scsim/scsim/store"
)

func TestRecordRun_WritesCatalogEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	params := splat.NewParams()

	require.NoError(t, recordRun(path, "simulate", "params.yaml", params))

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "simulate", runs[0].Kind)
	assert.Equal(t, "params.yaml", runs[0].Source)
	assert.Equal(t, params.NGenes, runs[0].Genes)
	assert.Equal(t, params.NCells, runs[0].Cells)
	assert.Equal(t, params.Seed, runs[0].Seed)
	assert.Contains(t, runs[0].ParamsYAML, "n_genes: 10000")
}

func TestRecordRun_AppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	params := splat.NewParams()

	require.NoError(t, recordRun(path, "estimate", "counts.tsv", params))
	require.NoError(t, recordRun(path, "simulate", "params.yaml", params))

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "simulate", runs[0].Kind)
	assert.Equal(t, "estimate", runs[1].Kind)
}

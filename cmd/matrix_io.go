package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/scsim/scsim/splat"
)

// ReadCountsTSV loads a gene-by-cell count matrix from a tab-separated
// file. The first row holds cell names after a corner field, the first
// column holds gene names, and every remaining field must be a
// non-negative integer. Counts from upstream pipelines are integers;
// anything else in the grid is treated as a malformed file rather than
// silently rounded.
func ReadCountsTSV(path string) (*mat.Dense, []string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening counts: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'

	header, err := r.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) < 2 {
		return nil, nil, nil, fmt.Errorf("header has %d fields, need a corner field and at least one cell name", len(header))
	}
	cells := append([]string(nil), header[1:]...)

	var genes []string
	var values []float64
	row := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The csv reader enforces a constant field count after the header.
			return nil, nil, nil, fmt.Errorf("row %d: %w", row, err)
		}
		genes = append(genes, rec[0])
		for i, field := range rec[1:] {
			v, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("row %d, cell %s: count %q is not an integer", row, cells[i], field)
			}
			if v < 0 {
				return nil, nil, nil, fmt.Errorf("row %d, cell %s: negative count %d", row, cells[i], v)
			}
			values = append(values, float64(v))
		}
		row++
	}
	if len(genes) == 0 {
		return nil, nil, nil, fmt.Errorf("no gene rows in %s", path)
	}
	return mat.NewDense(len(genes), len(cells), values), genes, cells, nil
}

// WriteMatrixTSV writes m in the same layout ReadCountsTSV reads: cell
// names across the header, one named gene row per matrix row.
func WriteMatrixTSV(path string, m *mat.Dense, genes, cells []string) error {
	nGenes, nCells := m.Dims()
	if len(genes) != nGenes || len(cells) != nCells {
		return fmt.Errorf("matrix is %dx%d but got %d gene names and %d cell names", nGenes, nCells, len(genes), len(cells))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'

	header := append([]string{""}, cells...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	rec := make([]string, nCells+1)
	for g := 0; g < nGenes; g++ {
		rec[0] = genes[g]
		for c := 0; c < nCells; c++ {
			rec[c+1] = strconv.FormatFloat(m.At(g, c), 'g', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// WriteSim writes a simulated dataset under dir: counts.tsv plus
// per-gene and per-cell metadata tables, and the intermediate layers
// (true counts, cell means, BCV, dropout probabilities) when layers is
// true.
func WriteSim(dir string, sim *splat.Sim, layers bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	genes := seqNames("Gene", sim.Params.NGenes)
	cells := seqNames("Cell", sim.Params.NCells)

	if err := WriteMatrixTSV(filepath.Join(dir, "counts.tsv"), sim.Counts, genes, cells); err != nil {
		return err
	}
	if err := writeGeneTable(filepath.Join(dir, "genes.tsv"), sim, genes); err != nil {
		return err
	}
	if err := writeCellTable(filepath.Join(dir, "cells.tsv"), sim, cells); err != nil {
		return err
	}

	if !layers {
		return nil
	}
	layerFiles := []struct {
		name string
		m    *mat.Dense
	}{
		{"true_counts.tsv", sim.TrueCounts},
		{"base_cell_means.tsv", sim.BaseCellMeans},
		{"cell_means.tsv", sim.CellMeans},
		{"bcv.tsv", sim.BCV},
		{"drop_prob.tsv", sim.DropProb}, // nil when dropout is off
	}
	for _, lf := range layerFiles {
		if lf.m == nil {
			continue
		}
		if err := WriteMatrixTSV(filepath.Join(dir, lf.name), lf.m, genes, cells); err != nil {
			return err
		}
	}
	return nil
}

// writeGeneTable writes one row per gene: base mean, outlier status and
// factor, and the final mean after outlier adjustment.
func writeGeneTable(path string, sim *splat.Sim, genes []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write([]string{"gene", "base_mean", "outlier", "outlier_factor", "mean"}); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	for g, name := range genes {
		rec := []string{
			name,
			strconv.FormatFloat(sim.BaseGeneMeans[g], 'g', -1, 64),
			strconv.FormatBool(sim.Outlier[g]),
			strconv.FormatFloat(sim.OutlierFactors[g], 'g', -1, 64),
			strconv.FormatFloat(sim.GeneMeans[g], 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// writeCellTable writes one row per cell: expected library size and the
// group and batch labels.
func writeCellTable(path string, sim *splat.Sim, cells []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write([]string{"cell", "exp_lib_size", "batch", "group"}); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	for c, name := range cells {
		group := ""
		if sim.Groups != nil {
			group = strconv.Itoa(sim.Groups[c])
		}
		rec := []string{
			name,
			strconv.FormatFloat(sim.ExpLibSizes[c], 'g', -1, 64),
			strconv.Itoa(sim.Batches[c]),
			group,
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// seqNames generates prefix1..prefixN labels for simulated output.
func seqNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = prefix + strconv.Itoa(i+1)
	}
	return names
}

package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scsim/scsim/splat"
)

var (
	simParamsPath string // Params YAML to simulate from (defaults when empty)
	simOutDir     string // Output directory for the simulated dataset
	simSeed       int64  // Seed override
	simGenes      int    // Gene count override
	simCells      int    // Cell count override
	simLayers     bool   // Also write intermediate layers
	simStorePath  string // Optional run catalog path
)

// simulateCmd generates a synthetic dataset from model parameters
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate a synthetic counts matrix from model parameters",
	Run: func(cmd *cobra.Command, args []string) {
		params := splat.NewParams()
		var err error
		if simParamsPath != "" {
			if params, err = splat.LoadParams(simParamsPath); err != nil {
				logrus.Fatalf("Loading params: %v", err)
			}
		}

		// Flag overrides are applied through the same validation path as
		// every other parameter change.
		u := splat.Update{}
		if cmd.Flags().Changed("seed") {
			u.Seed = &simSeed
		}
		if cmd.Flags().Changed("genes") {
			u.NGenes = &simGenes
		}
		if cmd.Flags().Changed("cells") {
			u.NCells = &simCells
		}
		if params, err = params.With(u); err != nil {
			logrus.Fatalf("Applying overrides: %v", err)
		}

		logrus.Infof("Simulating %d genes x %d cells with seed %d", params.NGenes, params.NCells, params.Seed)
		startTime := time.Now()

		sim, err := splat.Simulate(params)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if err := WriteSim(simOutDir, sim, simLayers); err != nil {
			logrus.Fatalf("Writing dataset: %v", err)
		}
		logrus.Infof("Wrote simulated dataset to %s in %s", simOutDir, time.Since(startTime).Round(time.Millisecond))

		if simStorePath != "" {
			if err := recordRun(simStorePath, "simulate", simParamsPath, params); err != nil {
				logrus.Fatalf("Recording run: %v", err)
			}
		}
	},
}

// init sets up CLI flags for the simulate subcommand
func init() {
	simulateCmd.Flags().StringVar(&simParamsPath, "params", "", "Params YAML (model defaults when omitted)")
	simulateCmd.Flags().StringVar(&simOutDir, "out", "simulated", "Output directory")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 42, "Seed for random generation, overrides the params file")
	simulateCmd.Flags().IntVar(&simGenes, "genes", 10000, "Number of genes, overrides the params file")
	simulateCmd.Flags().IntVar(&simCells, "cells", 100, "Number of cells, overrides the params file")
	simulateCmd.Flags().BoolVar(&simLayers, "layers", false, "Also write intermediate layers (true counts, means, BCV, dropout)")
	simulateCmd.Flags().StringVar(&simStorePath, "store", "", "Run catalog (SQLite) to record this run in")

	rootCmd.AddCommand(simulateCmd)
}

package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scsim/scsim/splat"
)

var (
	estCountsPath string // Input counts matrix (TSV, genes x cells)
	estParamsPath string // Optional params YAML used as the starting point
	estOutPath    string // Output params YAML
	estStorePath  string // Optional run catalog path
)

// estimateCmd fits model parameters to a real counts matrix
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate model parameters from a counts matrix",
	Run: func(cmd *cobra.Command, args []string) {
		if estCountsPath == "" {
			logrus.Fatalf("Counts matrix not provided. Use --counts.")
		}

		counts, _, _, err := ReadCountsTSV(estCountsPath)
		if err != nil {
			logrus.Fatalf("Reading counts: %v", err)
		}
		params := splat.NewParams()
		if estParamsPath != "" {
			if params, err = splat.LoadParams(estParamsPath); err != nil {
				logrus.Fatalf("Loading params: %v", err)
			}
		}

		nGenes, nCells := counts.Dims()
		logrus.Infof("Estimating parameters from %d genes x %d cells", nGenes, nCells)
		startTime := time.Now()

		fitted, err := splat.Estimate(counts, params)
		if err != nil {
			logrus.Fatalf("Estimation failed: %v", err)
		}
		if err := fitted.Save(estOutPath); err != nil {
			logrus.Fatalf("Writing params: %v", err)
		}
		logrus.Infof("Wrote estimated parameters to %s in %s", estOutPath, time.Since(startTime).Round(time.Millisecond))

		if estStorePath != "" {
			if err := recordRun(estStorePath, "estimate", estCountsPath, fitted); err != nil {
				logrus.Fatalf("Recording run: %v", err)
			}
		}
	},
}

// init sets up CLI flags for the estimate subcommand
func init() {
	estimateCmd.Flags().StringVar(&estCountsPath, "counts", "", "Counts matrix TSV (genes x cells)")
	estimateCmd.Flags().StringVar(&estParamsPath, "params", "", "Params YAML used to seed non-estimated fields")
	estimateCmd.Flags().StringVar(&estOutPath, "out", "params.yaml", "Output params YAML path")
	estimateCmd.Flags().StringVar(&estStorePath, "store", "", "Run catalog (SQLite) to record this run in")

	rootCmd.AddCommand(estimateCmd)
}

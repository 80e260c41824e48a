package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scsim/scsim/splat"
)

var (
	paramsInitOut  string // Destination for the generated params file
	paramsShowPath string // Params YAML to summarize
)

// paramsCmd groups parameter file helpers
var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Create and inspect parameter files",
}

// paramsInitCmd writes a params file holding the model defaults
var paramsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a parameter file with model defaults",
	Run: func(cmd *cobra.Command, args []string) {
		params := splat.NewParams()
		if paramsInitOut == "" {
			data, err := yaml.Marshal(params)
			if err != nil {
				logrus.Fatalf("Encoding params: %v", err)
			}
			fmt.Print(string(data))
			return
		}
		if err := params.Save(paramsInitOut); err != nil {
			logrus.Fatalf("Writing params: %v", err)
		}
		logrus.Infof("Wrote default parameters to %s", paramsInitOut)
	},
}

// paramsShowCmd prints a readable summary of a params file
var paramsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a human-readable summary of a parameter file",
	Run: func(cmd *cobra.Command, args []string) {
		if paramsShowPath == "" {
			logrus.Fatalf("Params file not provided. Use --params.")
		}
		params, err := splat.LoadParams(paramsShowPath)
		if err != nil {
			logrus.Fatalf("Loading params: %v", err)
		}
		fmt.Print(params.Summary())
	},
}

// init sets up flags and wiring for the params subcommands
func init() {
	paramsInitCmd.Flags().StringVar(&paramsInitOut, "out", "", "Output path (stdout when omitted)")
	paramsShowCmd.Flags().StringVar(&paramsShowPath, "params", "", "Params YAML to summarize")

	paramsCmd.AddCommand(paramsInitCmd)
	paramsCmd.AddCommand(paramsShowCmd)
	rootCmd.AddCommand(paramsCmd)
}

// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	configPath string

	inferModel     string
	inferAlgorithm string
	inferSchedule  string
	inferRoot      string
	inferTargets   []string
	inferMaxIter   int
	inferTolerance float64
	inferParallel  bool
	inferJSON      bool

	rootCmd = &cobra.Command{
		Use:   "fathom",
		Short: "A factor-graph message-passing inference engine",
		Long: `Fathom runs sum-product, max-product and max-sum belief
propagation over factor graphs, as a CLI or as an HTTP service.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the inference HTTP service",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	inferCmd = &cobra.Command{
		Use:   "infer",
		Short: "Run inference over a YAML model and print the beliefs",
		RunE:  runInfer, // Defined in cmd_infer.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the fathom version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fathom %s\n", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	inferCmd.Flags().StringVar(&inferModel, "model", "", "path to the YAML model definition (required)")
	inferCmd.Flags().StringVar(&inferAlgorithm, "algorithm", "sum-product", "sum-product, max-product or max-sum")
	inferCmd.Flags().StringVar(&inferSchedule, "schedule", "tree", "tree or flooding")
	inferCmd.Flags().StringVar(&inferRoot, "root", "", "root variable for the spanning structure")
	inferCmd.Flags().StringSliceVar(&inferTargets, "target", nil, "variables to report beliefs for (default: all)")
	inferCmd.Flags().IntVar(&inferMaxIter, "max-iterations", 0, "flooding iteration budget")
	inferCmd.Flags().Float64Var(&inferTolerance, "tolerance", 0, "flooding convergence tolerance")
	inferCmd.Flags().BoolVar(&inferParallel, "parallel", false, "parallel flooding fan-out")
	inferCmd.Flags().BoolVar(&inferJSON, "json", false, "print the result as JSON")
	_ = inferCmd.MarkFlagRequired("model")

	rootCmd.AddCommand(serveCmd, inferCmd, versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/services/inference/engine"
	"github.com/fathomlabs/fathom/services/inference/graph"
	"github.com/fathomlabs/fathom/services/inference/model"
	"github.com/fathomlabs/fathom/services/inference/potential"
)

// inferResult is the JSON shape printed with --json.
type inferResult struct {
	Model      string               `json:"model"`
	Algorithm  string               `json:"algorithm"`
	Schedule   string               `json:"schedule"`
	Converged  bool                 `json:"converged"`
	Iterations int                  `json:"iterations"`
	Beliefs    map[string][]float64 `json:"beliefs"`
	Means      map[string][]float64 `json:"means,omitempty"`
	Assignment map[string]int       `json:"assignment,omitempty"`
}

// runInfer loads a model, runs the engine once, and prints per-variable
// beliefs. Non-convergence prints the approximate result and exits
// nonzero.
func runInfer(cmd *cobra.Command, args []string) error {
	def, err := model.Load(inferModel)
	if err != nil {
		return err
	}
	g, err := def.Build()
	if err != nil {
		return err
	}

	opts := engine.DefaultOptions()
	if opts.Algorithm, err = engine.ParseAlgorithm(inferAlgorithm); err != nil {
		return err
	}
	if opts.Schedule, err = engine.ParseSchedule(inferSchedule); err != nil {
		return err
	}
	if inferRoot != "" {
		if opts.Root, err = g.Lookup(inferRoot); err != nil {
			return err
		}
	}
	for _, name := range inferTargets {
		id, err := g.Lookup(name)
		if err != nil {
			return err
		}
		opts.Targets = append(opts.Targets, id)
	}
	if inferMaxIter > 0 {
		opts.MaxIterations = inferMaxIter
	}
	if inferTolerance > 0 {
		opts.Tolerance = inferTolerance
	}
	opts.Parallel = inferParallel

	res, err := engine.Run(cmd.Context(), g, opts)
	notConverged := errors.Is(err, engine.ErrNotConverged)
	if err != nil && !notConverged {
		return err
	}

	if err := printResult(def.Name, g, opts, res); err != nil {
		return err
	}
	if notConverged {
		fmt.Fprintf(os.Stderr, "warning: did not converge after %d iterations (max diff %.3g)\n",
			res.Iterations, res.MaxDiff)
		return engine.ErrNotConverged
	}
	return nil
}

func printResult(name string, g *graph.Graph, opts engine.Options, res *engine.Result) error {
	out := inferResult{
		Model:      name,
		Algorithm:  opts.Algorithm.String(),
		Schedule:   opts.Schedule.String(),
		Converged:  res.Converged,
		Iterations: res.Iterations,
		Beliefs:    make(map[string][]float64),
	}

	names := make([]string, 0, len(res.Beliefs))
	byName := make(map[string]potential.Potential, len(res.Beliefs))
	for id, b := range res.Beliefs {
		n := g.Name(id)
		names = append(names, n)
		byName[n] = b
	}
	sort.Strings(names)

	for _, n := range names {
		switch p := byName[n].(type) {
		case *potential.Discrete:
			out.Beliefs[n] = p.Values()
		case *potential.Gaussian:
			mean, err := p.Mean()
			if err != nil {
				return fmt.Errorf("belief for %q: %w", n, err)
			}
			if out.Means == nil {
				out.Means = make(map[string][]float64)
			}
			out.Means[n] = mean
		}
	}
	if res.Assignment != nil {
		out.Assignment = make(map[string]int, len(res.Assignment))
		for id, v := range res.Assignment {
			out.Assignment[g.Name(id)] = v
		}
	}

	if inferJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("model %s  algorithm %s  schedule %s  converged %t  iterations %d\n",
		out.Model, out.Algorithm, out.Schedule, out.Converged, out.Iterations)
	for _, n := range names {
		if vals, ok := out.Beliefs[n]; ok {
			fmt.Printf("  %s: %v\n", n, vals)
		} else if mean, ok := out.Means[n]; ok {
			fmt.Printf("  %s: mean %v\n", n, mean)
		}
	}
	if out.Assignment != nil {
		fmt.Printf("  assignment: %v\n", out.Assignment)
	}
	return nil
}

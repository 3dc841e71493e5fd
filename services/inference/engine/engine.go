// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements message-passing inference on factor graphs.
//
// The three algorithms (sum-product, max-product, max-sum) share one update
// rule and differ only in the operator triple they thread through the
// potential algebra:
//
//	| Algorithm   | domain | combine  | marginalize |
//	|-------------|--------|----------|-------------|
//	| sum-product | prob   | multiply | sum         |
//	| max-product | prob   | multiply | max         |
//	| max-sum     | log    | add      | max         |
//
// Two schedules are supported: the two-pass tree schedule, which is exact
// on acyclic graphs, and the synchronous flooding schedule for graphs with
// cycles, which iterates to a tolerance under an iteration budget and
// reports non-convergence as a status rather than a failure.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fathomlabs/fathom/services/inference/graph"
	"github.com/fathomlabs/fathom/services/inference/potential"
)

// Default engine configuration values.
const (
	// DefaultMaxIterations is the flooding schedule's iteration budget.
	DefaultMaxIterations = 50

	// DefaultTolerance is the convergence threshold on the message
	// distance metric.
	DefaultTolerance = 1e-6
)

// Algorithm selects the operator triple threaded through the update rule.
type Algorithm int

const (
	// SumProduct computes marginal beliefs (belief propagation).
	SumProduct Algorithm = iota

	// MaxProduct computes max-marginals in the probability domain.
	MaxProduct

	// MaxSum computes max-marginals in the log domain.
	MaxSum
)

// String returns the string representation of the Algorithm.
func (a Algorithm) String() string {
	switch a {
	case SumProduct:
		return "sum-product"
	case MaxProduct:
		return "max-product"
	case MaxSum:
		return "max-sum"
	default:
		return "unknown"
	}
}

// ParseAlgorithm resolves an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "sum-product":
		return SumProduct, nil
	case "max-product":
		return MaxProduct, nil
	case "max-sum":
		return MaxSum, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownAlgorithm)
	}
}

// Domain returns the value domain the algorithm operates in.
func (a Algorithm) Domain() potential.Domain {
	if a == MaxSum {
		return potential.DomainLog
	}
	return potential.DomainProb
}

// CombineOp returns the pointwise combination operator.
func (a Algorithm) CombineOp() potential.CombineOp {
	if a == MaxSum {
		return potential.OpSum
	}
	return potential.OpProduct
}

// ReduceOp returns the variable-elimination operator.
func (a Algorithm) ReduceOp() potential.ReduceOp {
	if a == SumProduct {
		return potential.ReduceSum
	}
	return potential.ReduceMax
}

// Schedule selects the message-passing discipline.
type Schedule int

const (
	// ScheduleTree is the exact two-pass schedule for acyclic graphs.
	ScheduleTree Schedule = iota

	// ScheduleFlooding is the synchronous iterative schedule for graphs
	// with cycles.
	ScheduleFlooding
)

// String returns the string representation of the Schedule.
func (s Schedule) String() string {
	switch s {
	case ScheduleTree:
		return "tree"
	case ScheduleFlooding:
		return "flooding"
	default:
		return "unknown"
	}
}

// ParseSchedule resolves a schedule name.
func ParseSchedule(s string) (Schedule, error) {
	switch s {
	case "tree":
		return ScheduleTree, nil
	case "flooding":
		return ScheduleFlooding, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownSchedule)
	}
}

// Options configures an inference run.
type Options struct {
	// Algorithm selects sum-product, max-product or max-sum.
	Algorithm Algorithm

	// Schedule selects the tree or flooding discipline.
	Schedule Schedule

	// Root is the node the spanning structure is rooted at. Negative
	// selects the first variable node.
	Root graph.NodeID

	// Targets are the variable nodes to compute beliefs for. Empty selects
	// all variable nodes.
	Targets []graph.NodeID

	// MaxIterations bounds the flooding schedule. Must be > 0.
	// Default: 50.
	MaxIterations int

	// Tolerance is the convergence threshold on the message distance.
	// Must be > 0. Default: 1e-6.
	Tolerance float64

	// Parallel computes the flooding schedule's per-iteration messages on
	// a bounded worker pool. Within one iteration all messages read only
	// the previous iteration's store, so fan-out is safe.
	Parallel bool
}

// DefaultOptions returns sensible defaults for a sum-product tree run.
func DefaultOptions() Options {
	return Options{
		Root:          -1,
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
	}
}

// Validate checks options and applies defaults for invalid values.
func (o *Options) Validate() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
}

// Result contains the output of an inference run.
//
// Beliefs maps each targeted variable node to its normalized belief:
// the marginal for sum-product, the max-marginal for max-product and
// max-sum. For the maximizing algorithms over discrete graphs, Assignment
// holds one jointly maximizing configuration: globally optimal when the
// graph is a tree, locally consistent otherwise.
type Result struct {
	Beliefs    map[graph.NodeID]potential.Potential
	Assignment map[graph.NodeID]int

	// Converged indicates whether the schedule met tolerance. Always true
	// for the tree schedule.
	Converged bool

	// Iterations is the number of iterations performed.
	Iterations int

	// MaxDiff is the final maximum message distance (useful for debugging
	// near-converged runs).
	MaxDiff float64
}

// run threads the algorithm's operator triple through message computation.
type run struct {
	g   *graph.Graph
	dom potential.Domain
	cop potential.CombineOp
	rop potential.ReduceOp
}

// Run executes message-passing inference on the graph.
//
// Description:
//
//	Validates the graph (every factor must have a potential), runs the
//	selected schedule, and extracts beliefs at the target variables. For
//	max-product and max-sum on discrete graphs a maximizing assignment is
//	extracted by back-tracking along the spanning structure.
//
// Inputs:
//   - ctx: Context for cancellation between iterations. Must not be nil.
//   - g: Assembled factor graph. Treated as read-only.
//   - opts: Run options; zero values fall back to defaults via Validate.
//
// Outputs:
//   - *Result: Beliefs, assignment and convergence status. Non-nil even
//     when ErrNotConverged is returned.
//   - error: ErrNotConverged alongside a usable result when the flooding
//     budget is exhausted; any other error aborts the run.
//
// Thread Safety: Safe for concurrent use on distinct graphs. A single
// graph may serve concurrent runs because Run never mutates it.
func Run(ctx context.Context, g *graph.Graph, opts Options) (*Result, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	opts.Validate()

	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.Run",
		trace.WithAttributes(
			attribute.String("algorithm", opts.Algorithm.String()),
			attribute.String("schedule", opts.Schedule.String()),
			attribute.Int("nodes", g.NodeCount()),
			attribute.Int("edges", g.EdgeCount()),
		),
	)
	defer span.End()

	if err := g.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	root := opts.Root
	if root < 0 {
		vars := g.Variables()
		if len(vars) == 0 {
			return nil, ErrNoVariables
		}
		root = vars[0]
	}

	r := &run{
		g:   g,
		dom: opts.Algorithm.Domain(),
		cop: opts.Algorithm.CombineOp(),
		rop: opts.Algorithm.ReduceOp(),
	}

	res := &Result{Converged: true, Iterations: 1}
	var store *graph.MessageStore
	var order []graph.TreeEdge
	var err error

	switch opts.Schedule {
	case ScheduleFlooding:
		store, res.Iterations, res.MaxDiff, res.Converged, err = r.flood(ctx, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		// A spanning structure still guides assignment extraction when the
		// graph happens to be acyclic; loopy graphs fall back to per-node
		// argmax.
		order, _ = g.SpanningTree(root)
	default:
		store, order, err = r.passTree(ctx, root)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	targets := opts.Targets
	if len(targets) == 0 {
		targets = g.Variables()
	}
	res.Beliefs = make(map[graph.NodeID]potential.Potential, len(targets))
	for _, t := range targets {
		b, err := r.belief(t, store)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		res.Beliefs[t] = b
	}

	if opts.Algorithm != SumProduct {
		res.Assignment, err = r.extractAssignment(root, order, store, res.Beliefs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Bool("converged", res.Converged),
		attribute.Int("iterations", res.Iterations),
	)
	recordRun(ctx, opts, start, res.Iterations, res.Converged)

	if !res.Converged {
		return res, fmt.Errorf("after %d iterations (max diff %.3g, tolerance %.3g): %w",
			res.Iterations, res.MaxDiff, opts.Tolerance, ErrNotConverged)
	}
	return res, nil
}

// message computes the potential sent from one node to an adjacent node:
// the combination of all other incoming messages (and the node's own
// potential for factors), marginalized down to the shared variable for
// factor-to-variable messages. Leaves send their own potential or the
// variable identity.
func (r *run) message(from, to graph.NodeID, store *graph.MessageStore) (potential.Potential, error) {
	var acc potential.Potential
	fromFactor := r.g.Kind(from) == graph.KindFactor

	if fromFactor {
		p, err := r.g.FactorPotential(from)
		if err != nil {
			return nil, err
		}
		if r.dom == potential.DomainLog {
			p = p.Log()
		}
		acc = p
	}

	incoming := graph.FactorToVar
	if fromFactor {
		incoming = graph.VarToFactor
	}
	for _, eid := range r.g.IncidentEdges(from) {
		if r.g.Other(eid, from) == to {
			continue
		}
		msg, _, err := store.Get(eid, incoming)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = msg
			continue
		}
		if acc, err = acc.Combine(msg, r.cop); err != nil {
			return nil, err
		}
	}

	if !fromFactor {
		if acc == nil {
			return r.g.Identity(from, r.dom)
		}
		return acc, nil
	}
	return acc.Marginalize([]string{r.g.Name(to)}, r.rop)
}

// belief combines all incoming messages at a variable node and normalizes.
func (r *run) belief(v graph.NodeID, store *graph.MessageStore) (potential.Potential, error) {
	if r.g.Kind(v) != graph.KindVariable {
		return nil, fmt.Errorf("belief target %q is a factor: %w", r.g.Name(v), graph.ErrTypeMismatch)
	}

	var acc potential.Potential
	for _, eid := range r.g.IncidentEdges(v) {
		msg, _, err := store.Get(eid, graph.FactorToVar)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = msg
			continue
		}
		if acc, err = acc.Combine(msg, r.cop); err != nil {
			return nil, err
		}
	}
	if acc == nil {
		id, err := r.g.Identity(v, r.dom)
		if err != nil {
			return nil, err
		}
		acc = id
	}
	return acc.Normalize(r.dom)
}

// dirFrom returns the direction of a message leaving the given endpoint.
func dirFrom(g *graph.Graph, e graph.EdgeID, from graph.NodeID) graph.Direction {
	if g.EdgeAt(e).Var == from {
		return graph.VarToFactor
	}
	return graph.FactorToVar
}

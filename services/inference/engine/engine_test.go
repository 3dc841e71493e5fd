// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathom/services/inference/graph"
	"github.com/fathomlabs/fathom/services/inference/potential"
)

// pairTable is the binary pairwise table used throughout:
//
//	        b=0  b=1
//	a=0     0.3  0.4
//	a=1     0.3  0.0
var pairTable = []float64{0.3, 0.4, 0.3, 0.0}

func table(t *testing.T, vars []string, data []float64) *potential.Discrete {
	t.Helper()
	p, err := potential.NewDiscrete(vars, []int{2, 2}, data)
	require.NoError(t, err)
	return p
}

func addFactor(t *testing.T, g *graph.Graph, ids map[string]graph.NodeID, name string, p *potential.Discrete) {
	t.Helper()
	id, err := g.AddFactor(name)
	require.NoError(t, err)
	ids[name] = id
	for _, v := range p.Variables() {
		_, err := g.Connect(ids[v], id)
		require.NoError(t, err)
	}
	require.NoError(t, g.SetFactorPotential(id, p))
}

// buildChain assembles x1 - fa - x2 - fb - x3 with both factors using
// pairTable.
func buildChain(t *testing.T) (*graph.Graph, map[string]graph.NodeID) {
	t.Helper()
	g := graph.New()
	ids := make(map[string]graph.NodeID)
	for _, name := range []string{"x1", "x2", "x3"} {
		id, err := g.AddVariable(name, 2)
		require.NoError(t, err)
		ids[name] = id
	}
	addFactor(t, g, ids, "fa", table(t, []string{"x1", "x2"}, pairTable))
	addFactor(t, g, ids, "fb", table(t, []string{"x2", "x3"}, pairTable))
	return g, ids
}

// buildStar assembles a star centered at x2: fa(x1,x2), fb(x2,x3), fc(x2,x4),
// all using pairTable.
func buildStar(t *testing.T) (*graph.Graph, map[string]graph.NodeID) {
	t.Helper()
	g := graph.New()
	ids := make(map[string]graph.NodeID)
	for _, name := range []string{"x1", "x2", "x3", "x4"} {
		id, err := g.AddVariable(name, 2)
		require.NoError(t, err)
		ids[name] = id
	}
	addFactor(t, g, ids, "fa", table(t, []string{"x1", "x2"}, pairTable))
	addFactor(t, g, ids, "fb", table(t, []string{"x2", "x3"}, pairTable))
	addFactor(t, g, ids, "fc", table(t, []string{"x2", "x4"}, pairTable))
	return g, ids
}

func beliefValues(t *testing.T, res *Result, id graph.NodeID) []float64 {
	t.Helper()
	b, ok := res.Beliefs[id]
	require.True(t, ok, "belief missing for node %d", id)
	d, ok := b.(*potential.Discrete)
	require.True(t, ok)
	return d.Values()
}

func TestRun_SumProductChain(t *testing.T) {
	g, ids := buildChain(t)

	res, err := Run(context.Background(), g, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Nil(t, res.Assignment)

	// Hand-computed marginals of fa(x1,x2)*fb(x2,x3):
	//   x1: [0.33, 0.21] / 0.54, x2: [0.42, 0.12] / 0.54, x3: [0.30, 0.24] / 0.54.
	assert.InDeltaSlice(t, []float64{11.0 / 18, 7.0 / 18}, beliefValues(t, res, ids["x1"]), 1e-12)
	assert.InDeltaSlice(t, []float64{7.0 / 9, 2.0 / 9}, beliefValues(t, res, ids["x2"]), 1e-12)
	assert.InDeltaSlice(t, []float64{5.0 / 9, 4.0 / 9}, beliefValues(t, res, ids["x3"]), 1e-12)
}

func TestRun_SumProductStar(t *testing.T) {
	g, ids := buildStar(t)

	res, err := Run(context.Background(), g, DefaultOptions())
	require.NoError(t, err)

	// Unnormalized marginals: x1 [0.183, 0.147], x2 [0.294, 0.036],
	// x3 = x4 = [0.162, 0.168]; total mass 0.33.
	assert.InDeltaSlice(t, []float64{0.183 / 0.33, 0.147 / 0.33}, beliefValues(t, res, ids["x1"]), 1e-12)
	assert.InDeltaSlice(t, []float64{0.294 / 0.33, 0.036 / 0.33}, beliefValues(t, res, ids["x2"]), 1e-12)
	assert.InDeltaSlice(t, []float64{0.162 / 0.33, 0.168 / 0.33}, beliefValues(t, res, ids["x3"]), 1e-12)
	assert.InDeltaSlice(t, []float64{0.162 / 0.33, 0.168 / 0.33}, beliefValues(t, res, ids["x4"]), 1e-12)
}

// TestRun_TreeMatchesEnumeration cross-checks the two-pass schedule against
// direct elimination on the joint table.
func TestRun_TreeMatchesEnumeration(t *testing.T) {
	g, ids := buildStar(t)

	joint, err := table(t, []string{"x1", "x2"}, pairTable).
		Combine(table(t, []string{"x2", "x3"}, pairTable), potential.OpProduct)
	require.NoError(t, err)
	joint, err = joint.Combine(table(t, []string{"x2", "x4"}, pairTable), potential.OpProduct)
	require.NoError(t, err)

	res, err := Run(context.Background(), g, DefaultOptions())
	require.NoError(t, err)

	for _, name := range []string{"x1", "x2", "x3", "x4"} {
		m, err := joint.Marginalize([]string{name}, potential.ReduceSum)
		require.NoError(t, err)
		want, err := m.Normalize(potential.DomainProb)
		require.NoError(t, err)
		assert.InDelta(t, 0, want.Distance(res.Beliefs[ids[name]]), 1e-12, "marginal of %s", name)
	}
}

func TestRun_MaxProductAssignment(t *testing.T) {
	g, ids := buildChain(t)

	opts := DefaultOptions()
	opts.Algorithm = MaxProduct
	res, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Assignment)

	// The joint maximum 0.12 is attained at several configurations; the
	// root-first tie break selects (0, 0, 1).
	assert.Equal(t, 0, res.Assignment[ids["x1"]])
	assert.Equal(t, 0, res.Assignment[ids["x2"]])
	assert.Equal(t, 1, res.Assignment[ids["x3"]])

	// The assignment attains the maximum of the joint.
	value := 1.0
	for _, name := range []string{"fa", "fb"} {
		p, err := g.FactorPotential(ids[name])
		require.NoError(t, err)
		v, err := p.(*potential.Discrete).At(map[string]int{
			"x1": res.Assignment[ids["x1"]],
			"x2": res.Assignment[ids["x2"]],
			"x3": res.Assignment[ids["x3"]],
		})
		require.NoError(t, err)
		value *= v
	}
	assert.InDelta(t, 0.12, value, 1e-12)

	// All max-marginals are flat here: the maximum is attainable from
	// either state of every variable.
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, beliefValues(t, res, ids["x3"]), 1e-12)
}

func TestRun_MaxSumAssignment(t *testing.T) {
	g, ids := buildChain(t)

	opts := DefaultOptions()
	opts.Algorithm = MaxSum
	res, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Assignment)

	assert.Equal(t, 0, res.Assignment[ids["x1"]])
	assert.Equal(t, 0, res.Assignment[ids["x2"]])
	assert.Equal(t, 1, res.Assignment[ids["x3"]])

	// Beliefs come back in the log domain, normalized to zero log-mass.
	var mass float64
	for _, v := range beliefValues(t, res, ids["x2"]) {
		mass += math.Exp(v)
	}
	assert.InDelta(t, 1.0, mass, 1e-12)
}

func TestRun_MaxProductStar(t *testing.T) {
	g, ids := buildStar(t)

	opts := DefaultOptions()
	opts.Algorithm = MaxProduct
	res, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Assignment)

	// max fa*fb*fc = 0.3 * 0.4 * 0.4 = 0.048 at x2=0, x3=x4=1.
	value := 1.0
	full := map[string]int{
		"x1": res.Assignment[ids["x1"]],
		"x2": res.Assignment[ids["x2"]],
		"x3": res.Assignment[ids["x3"]],
		"x4": res.Assignment[ids["x4"]],
	}
	for _, name := range []string{"fa", "fb", "fc"} {
		p, err := g.FactorPotential(ids[name])
		require.NoError(t, err)
		v, err := p.(*potential.Discrete).At(full)
		require.NoError(t, err)
		value *= v
	}
	assert.InDelta(t, 0.048, value, 1e-12)
}

func TestRun_FloodingMatchesTreeOnAcyclicGraph(t *testing.T) {
	g, ids := buildStar(t)

	exact, err := Run(context.Background(), g, DefaultOptions())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Schedule = ScheduleFlooding
	approx, err := Run(context.Background(), g, opts)
	require.NoError(t, err)

	assert.True(t, approx.Converged)
	assert.LessOrEqual(t, approx.Iterations, 6, "messages stabilize within the graph diameter")
	for _, name := range []string{"x1", "x2", "x3", "x4"} {
		assert.InDelta(t, 0, exact.Beliefs[ids[name]].Distance(approx.Beliefs[ids[name]]), 1e-9)
	}
}

func TestRun_FloodingParallelMatchesSerial(t *testing.T) {
	g, ids := buildStar(t)

	opts := DefaultOptions()
	opts.Schedule = ScheduleFlooding
	serial, err := Run(context.Background(), g, opts)
	require.NoError(t, err)

	opts.Parallel = true
	parallel, err := Run(context.Background(), g, opts)
	require.NoError(t, err)

	assert.Equal(t, serial.Iterations, parallel.Iterations)
	for _, name := range []string{"x1", "x2", "x3", "x4"} {
		assert.InDelta(t, 0, serial.Beliefs[ids[name]].Distance(parallel.Beliefs[ids[name]]), 1e-12)
	}
}

// TestRun_FloodingStableAfterConvergence checks that once tolerance is first
// met on an acyclic graph the messages are already exact: pushing the
// schedule past that point with a near-zero tolerance changes neither the
// beliefs nor the reported distance, which never grows back above tolerance.
func TestRun_FloodingStableAfterConvergence(t *testing.T) {
	g, ids := buildStar(t)

	opts := DefaultOptions()
	opts.Schedule = ScheduleFlooding
	base, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.True(t, base.Converged)

	prevDiff := base.MaxDiff
	for extra := 1; extra <= 3; extra++ {
		tight := DefaultOptions()
		tight.Schedule = ScheduleFlooding
		tight.Tolerance = math.SmallestNonzeroFloat64
		tight.MaxIterations = base.Iterations + extra

		res, err := Run(context.Background(), g, tight)
		require.NoError(t, err, "budget %d", tight.MaxIterations)
		assert.True(t, res.Converged)
		assert.LessOrEqual(t, res.MaxDiff, prevDiff, "budget %d", tight.MaxIterations)
		prevDiff = res.MaxDiff
		for _, name := range []string{"x1", "x2", "x3", "x4"} {
			assert.InDelta(t, 0, base.Beliefs[ids[name]].Distance(res.Beliefs[ids[name]]), 1e-12)
		}
	}
}

// buildLoop assembles the two-factor cycle x - f1 - y - f2 - x.
func buildLoop(t *testing.T) (*graph.Graph, map[string]graph.NodeID) {
	t.Helper()
	g := graph.New()
	ids := make(map[string]graph.NodeID)
	for _, name := range []string{"x", "y"} {
		id, err := g.AddVariable(name, 2)
		require.NoError(t, err)
		ids[name] = id
	}
	addFactor(t, g, ids, "f1", table(t, []string{"x", "y"}, []float64{0.9, 0.3, 0.2, 0.8}))
	addFactor(t, g, ids, "f2", table(t, []string{"x", "y"}, []float64{0.7, 0.4, 0.5, 0.6}))
	return g, ids
}

func TestRun_FloodingNotConverged(t *testing.T) {
	g, ids := buildLoop(t)

	opts := DefaultOptions()
	opts.Schedule = ScheduleFlooding
	opts.MaxIterations = 2

	res, err := Run(context.Background(), g, opts)
	require.ErrorIs(t, err, ErrNotConverged)
	require.NotNil(t, res, "non-convergence still yields a usable result")
	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)
	assert.Greater(t, res.MaxDiff, opts.Tolerance)
	assert.Len(t, res.Beliefs, 2)
	_, ok := res.Beliefs[ids["x"]]
	assert.True(t, ok)
}

func TestRun_LoopyAssignmentFallsBackToLocalArgmax(t *testing.T) {
	g, ids := buildLoop(t)

	opts := DefaultOptions()
	opts.Schedule = ScheduleFlooding
	opts.Algorithm = MaxProduct
	opts.MaxIterations = 3

	res, err := Run(context.Background(), g, opts)
	require.ErrorIs(t, err, ErrNotConverged)
	require.NotNil(t, res)

	// No spanning structure exists, so each variable takes its own
	// max-marginal argmax.
	require.NotNil(t, res.Assignment)
	assert.Len(t, res.Assignment, 2)
	for _, name := range []string{"x", "y"} {
		v := res.Assignment[ids[name]]
		assert.True(t, v == 0 || v == 1)
	}
}

func TestRun_GaussianTree(t *testing.T) {
	g := graph.New()
	x, err := g.AddGaussianVariable("x", 1)
	require.NoError(t, err)
	y, err := g.AddGaussianVariable("y", 1)
	require.NoError(t, err)

	f, err := g.AddFactor("f")
	require.NoError(t, err)
	_, err = g.Connect(x, f)
	require.NoError(t, err)
	_, err = g.Connect(y, f)
	require.NoError(t, err)

	joint, err := potential.NewGaussian(
		[]string{"x", "y"}, []int{1, 1},
		[]float64{1, 2},
		[]float64{2, 0.5, 0.5, 1},
	)
	require.NoError(t, err)
	require.NoError(t, g.SetFactorPotential(f, joint))

	res, err := Run(context.Background(), g, DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, res.Assignment)

	bx, ok := res.Beliefs[x].(*potential.Gaussian)
	require.True(t, ok)
	mean, err := bx.Mean()
	require.NoError(t, err)
	cov, err := bx.Covariance()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mean[0], 1e-12)
	assert.InDelta(t, 2.0, cov[0], 1e-12)

	by, ok := res.Beliefs[y].(*potential.Gaussian)
	require.True(t, ok)
	mean, err = by.Mean()
	require.NoError(t, err)
	cov, err = by.Covariance()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, mean[0], 1e-12)
	assert.InDelta(t, 1.0, cov[0], 1e-12)
}

func TestRun_GaussianMaxSumSkipsIntegerAssignment(t *testing.T) {
	g := graph.New()
	x, err := g.AddGaussianVariable("x", 1)
	require.NoError(t, err)
	f, err := g.AddFactor("f")
	require.NoError(t, err)
	_, err = g.Connect(x, f)
	require.NoError(t, err)

	prior, err := potential.NewGaussian([]string{"x"}, []int{1}, []float64{3}, []float64{4})
	require.NoError(t, err)
	require.NoError(t, g.SetFactorPotential(f, prior))

	opts := DefaultOptions()
	opts.Algorithm = MaxSum
	res, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	assert.Nil(t, res.Assignment)

	// The mode is still available through the belief itself.
	mode := res.Beliefs[x].ArgMax()
	require.Contains(t, mode.Values, "x")
	assert.InDelta(t, 3.0, mode.Values["x"][0], 1e-12)
}

func TestRun_Targets(t *testing.T) {
	g, ids := buildChain(t)

	opts := DefaultOptions()
	opts.Targets = []graph.NodeID{ids["x3"]}
	res, err := Run(context.Background(), g, opts)
	require.NoError(t, err)

	require.Len(t, res.Beliefs, 1)
	assert.InDeltaSlice(t, []float64{5.0 / 9, 4.0 / 9}, beliefValues(t, res, ids["x3"]), 1e-12)
}

func TestRun_RootSelection(t *testing.T) {
	g, ids := buildChain(t)

	// Exactness does not depend on the root choice.
	for _, root := range []string{"x1", "x2", "x3"} {
		opts := DefaultOptions()
		opts.Root = ids[root]
		res, err := Run(context.Background(), g, opts)
		require.NoError(t, err, "root %s", root)
		assert.InDeltaSlice(t, []float64{7.0 / 9, 2.0 / 9}, beliefValues(t, res, ids["x2"]), 1e-12, "root %s", root)
	}
}

func TestRun_FactorRootAssignment(t *testing.T) {
	g, ids := buildChain(t)

	// Rooting the spanning structure at a factor is legal (Lookup resolves
	// factor names too); back-tracking re-roots at a variable internally.
	opts := DefaultOptions()
	opts.Algorithm = MaxProduct
	opts.Root = ids["fa"]

	res, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Assignment)
	assert.Equal(t, 0, res.Assignment[ids["x1"]])
	assert.Equal(t, 0, res.Assignment[ids["x2"]])
	assert.Equal(t, 1, res.Assignment[ids["x3"]])
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, beliefValues(t, res, ids["x3"]), 1e-12)
}

func TestRun_InputErrors(t *testing.T) {
	_, err := Run(context.Background(), nil, DefaultOptions())
	require.ErrorIs(t, err, ErrNilGraph)

	_, err = Run(context.Background(), graph.New(), DefaultOptions())
	require.ErrorIs(t, err, ErrNoVariables)

	g := graph.New()
	x, err := g.AddVariable("x", 2)
	require.NoError(t, err)
	f, err := g.AddFactor("f")
	require.NoError(t, err)
	_, err = g.Connect(x, f)
	require.NoError(t, err)
	_, err = Run(context.Background(), g, DefaultOptions())
	require.ErrorIs(t, err, graph.ErrNoPotential)
}

func TestRun_ContextCancellation(t *testing.T) {
	g, _ := buildChain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, g, DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
}

func TestOptions_Validate(t *testing.T) {
	var o Options
	o.Validate()
	assert.Equal(t, DefaultMaxIterations, o.MaxIterations)
	assert.Equal(t, DefaultTolerance, o.Tolerance)

	o = Options{MaxIterations: 7, Tolerance: 0.5}
	o.Validate()
	assert.Equal(t, 7, o.MaxIterations)
	assert.Equal(t, 0.5, o.Tolerance)
}

func TestParseAlgorithmAndSchedule(t *testing.T) {
	for s, want := range map[string]Algorithm{
		"sum-product": SumProduct,
		"max-product": MaxProduct,
		"max-sum":     MaxSum,
	} {
		got, err := ParseAlgorithm(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, s, got.String())
	}
	_, err := ParseAlgorithm("gibbs")
	require.ErrorIs(t, err, ErrUnknownAlgorithm)

	for s, want := range map[string]Schedule{
		"tree":     ScheduleTree,
		"flooding": ScheduleFlooding,
	} {
		got, err := ParseSchedule(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, s, got.String())
	}
	_, err = ParseSchedule("random")
	require.ErrorIs(t, err, ErrUnknownSchedule)
}

// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/fathomlabs/fathom/services/inference/graph"
)

// floodWorkers bounds the parallel flooding fan-out. Message computation is
// CPU-bound table algebra; more workers than cores only adds scheduling
// overhead.
const floodWorkers = 8

// flood runs the synchronous flooding schedule: every edge direction is
// recomputed each iteration from the previous iteration's messages only
// (double buffering), starting from identity messages. Iteration stops when
// the maximum message distance drops to the tolerance or the budget runs
// out. Returns the last store, the iteration count, the final maximum
// distance, and whether tolerance was met.
func (r *run) flood(ctx context.Context, opts Options) (*graph.MessageStore, int, float64, bool, error) {
	prev, err := graph.NewInitializedStore(r.g, r.dom)
	if err != nil {
		return nil, 0, 0, false, err
	}

	var maxDiff float64
	for iter := 1; iter <= opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, false, err
		}

		next := graph.NewMessageStore(r.g)
		if opts.Parallel {
			maxDiff, err = r.floodStepParallel(ctx, prev, next, iter)
		} else {
			maxDiff, err = r.floodStep(prev, next, iter)
		}
		if err != nil {
			return nil, 0, 0, false, err
		}

		prev = next
		if maxDiff <= opts.Tolerance {
			return prev, iter, maxDiff, true, nil
		}
	}

	return prev, opts.MaxIterations, maxDiff, false, nil
}

// floodStep computes one synchronous update from prev into next and returns
// the maximum distance between the old and new message on any slot.
func (r *run) floodStep(prev, next *graph.MessageStore, iter int) (float64, error) {
	var maxDiff float64
	for i := 0; i < r.g.EdgeCount(); i++ {
		eid := graph.EdgeID(i)
		for _, dir := range []graph.Direction{graph.VarToFactor, graph.FactorToVar} {
			diff, err := r.floodSlot(prev, next, eid, dir, iter)
			if err != nil {
				return 0, err
			}
			if diff > maxDiff {
				maxDiff = diff
			}
		}
	}
	return maxDiff, nil
}

// floodStepParallel is floodStep with the per-slot updates fanned out on a
// bounded worker pool. Every worker reads only prev and writes a distinct
// slot of next, so no synchronization beyond the group join is needed.
func (r *run) floodStepParallel(ctx context.Context, prev, next *graph.MessageStore, iter int) (float64, error) {
	diffs := make([]float64, 2*r.g.EdgeCount())

	grp, _ := errgroup.WithContext(ctx)
	grp.SetLimit(floodWorkers)
	for i := 0; i < r.g.EdgeCount(); i++ {
		eid := graph.EdgeID(i)
		for _, dir := range []graph.Direction{graph.VarToFactor, graph.FactorToVar} {
			slot := 2*i + int(dir)
			grp.Go(func() error {
				diff, err := r.floodSlot(prev, next, eid, dir, iter)
				diffs[slot] = diff
				return err
			})
		}
	}
	if err := grp.Wait(); err != nil {
		return 0, err
	}

	var maxDiff float64
	for _, d := range diffs {
		if d > maxDiff {
			maxDiff = d
		}
	}
	return maxDiff, nil
}

// floodSlot recomputes one edge direction from prev, stores it in next, and
// returns its distance from the previous message.
func (r *run) floodSlot(prev, next *graph.MessageStore, eid graph.EdgeID, dir graph.Direction, iter int) (float64, error) {
	e := r.g.EdgeAt(eid)
	from, to := e.Var, e.Factor
	if dir == graph.FactorToVar {
		from, to = e.Factor, e.Var
	}

	msg, err := r.message(from, to, prev)
	if err != nil {
		return 0, err
	}
	next.Set(eid, dir, msg, iter)

	old, _, err := prev.Get(eid, dir)
	if err != nil {
		return 0, err
	}
	return old.Distance(msg), nil
}

// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"

	"github.com/fathomlabs/fathom/services/inference/graph"
	"github.com/fathomlabs/fathom/services/inference/potential"
)

// extractAssignment recovers one maximizing configuration after a
// max-product or max-sum run over a discrete graph.
//
// When the spanning structure covers the whole graph the assignment is
// recovered by back-tracking: fix the root at its belief's argmax, then walk
// outward and, at each factor, maximize the factor conditioned on its
// already-fixed parent variable together with the messages flowing up from
// below. Ties broken at the root propagate consistently, so the result
// attains the global maximum on trees.
//
// On loopy graphs (no spanning structure) each variable independently takes
// its own max-marginal argmax; the configuration is locally consistent but
// carries no global guarantee. Graphs with Gaussian variables get no integer
// assignment (the mode is the mean, already available from the beliefs).
func (r *run) extractAssignment(
	root graph.NodeID,
	order []graph.TreeEdge,
	store *graph.MessageStore,
	beliefs map[graph.NodeID]potential.Potential,
) (map[graph.NodeID]int, error) {
	for _, v := range r.g.Variables() {
		if r.g.VariableKind(v) == graph.VarGaussian {
			return nil, nil
		}
	}

	if len(order) != r.g.EdgeCount() {
		return r.localAssignment(store, beliefs)
	}

	// A factor-rooted spanning structure is fine for message passing, but
	// back-tracking must fix a variable first. Re-root at a neighbor; both
	// message directions are final on every edge, so any root works.
	if r.g.Kind(root) == graph.KindFactor {
		root = r.g.Neighbors(root)[0]
		var err error
		if order, err = r.g.SpanningTree(root); err != nil {
			return nil, err
		}
	}

	assignment := make(map[graph.NodeID]int, len(r.g.Variables()))

	rb, err := r.beliefFor(root, store, beliefs)
	if err != nil {
		return nil, err
	}
	assignment[root] = rb.ArgMax().Indices[r.g.Name(root)]

	for _, te := range order {
		if r.g.Kind(te.Child) != graph.KindFactor {
			continue
		}
		q, err := r.conditional(te, store)
		if err != nil {
			return nil, err
		}
		fixed, err := q.Restrict(r.g.Name(te.Parent), assignment[te.Parent])
		if err != nil {
			return nil, err
		}
		if len(fixed.Variables()) == 0 {
			continue
		}
		indices := fixed.ArgMax().Indices
		for _, v := range r.g.Neighbors(te.Child) {
			if v == te.Parent {
				continue
			}
			assignment[v] = indices[r.g.Name(v)]
		}
	}

	return assignment, nil
}

// conditional builds the factor's back-tracking potential: the factor itself
// combined with the upward messages from all neighbors except the parent.
func (r *run) conditional(te graph.TreeEdge, store *graph.MessageStore) (*potential.Discrete, error) {
	p, err := r.g.FactorPotential(te.Child)
	if err != nil {
		return nil, err
	}
	if r.dom == potential.DomainLog {
		p = p.Log()
	}

	for _, eid := range r.g.IncidentEdges(te.Child) {
		if eid == te.Edge {
			continue
		}
		msg, _, err := store.Get(eid, graph.VarToFactor)
		if err != nil {
			return nil, err
		}
		if p, err = p.Combine(msg, r.cop); err != nil {
			return nil, err
		}
	}

	q, ok := p.(*potential.Discrete)
	if !ok {
		return nil, fmt.Errorf("back-tracking over %T: %w", p, potential.ErrMixedRepresentation)
	}
	return q, nil
}

// localAssignment is the loopy fallback: every variable takes the argmax of
// its own max-marginal.
func (r *run) localAssignment(store *graph.MessageStore, beliefs map[graph.NodeID]potential.Potential) (map[graph.NodeID]int, error) {
	assignment := make(map[graph.NodeID]int, len(r.g.Variables()))
	for _, v := range r.g.Variables() {
		b, err := r.beliefFor(v, store, beliefs)
		if err != nil {
			return nil, err
		}
		assignment[v] = b.ArgMax().Indices[r.g.Name(v)]
	}
	return assignment, nil
}

// beliefFor reuses an already-computed belief or derives one on demand for
// variables outside the run's target set.
func (r *run) beliefFor(v graph.NodeID, store *graph.MessageStore, beliefs map[graph.NodeID]potential.Potential) (potential.Potential, error) {
	if b, ok := beliefs[v]; ok {
		return b, nil
	}
	return r.belief(v, store)
}

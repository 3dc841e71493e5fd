// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"

	"github.com/fathomlabs/fathom/services/inference/graph"
)

// passTree runs the exact two-pass schedule over the spanning structure
// rooted at root: an inward pass from the leaves to the root followed by an
// outward pass from the root to the leaves. Every message is computed
// exactly once from fully available inputs, and after both passes every
// edge carries both directions' final messages.
func (r *run) passTree(ctx context.Context, root graph.NodeID) (*graph.MessageStore, []graph.TreeEdge, error) {
	order, err := r.g.SpanningTree(root)
	if err != nil {
		return nil, nil, err
	}

	store := graph.NewMessageStore(r.g)

	// Inward: reverse preorder guarantees each child's subtree messages
	// exist before the child sends toward its parent.
	for i := len(order) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		te := order[i]
		msg, err := r.message(te.Child, te.Parent, store)
		if err != nil {
			return nil, nil, err
		}
		store.Set(te.Edge, dirFrom(r.g, te.Edge, te.Child), msg, 0)
	}

	// Outward: preorder guarantees each parent's remaining inputs exist.
	for _, te := range order {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		msg, err := r.message(te.Parent, te.Child, store)
		if err != nil {
			return nil, nil, err
		}
		store.Set(te.Edge, dirFrom(r.g, te.Edge, te.Parent), msg, 1)
	}

	return store, order, nil
}

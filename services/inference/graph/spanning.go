// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "fmt"

// TreeEdge is one parent/child link of a spanning structure rooted at the
// node passed to SpanningTree. Edge is the underlying graph edge.
type TreeEdge struct {
	Parent NodeID
	Child  NodeID
	Edge   EdgeID
}

// SpanningTree returns the rooted spanning structure of the graph as a
// preorder list of parent/child links: parents always precede their
// children. The inference engine walks the list backwards for the inward
// (leaves to root) pass and forwards for the outward pass.
//
// Returns ErrNotATree if the graph contains a cycle or is disconnected,
// since the two-pass tree schedule is only exact on trees.
func (g *Graph) SpanningTree(root NodeID) ([]TreeEdge, error) {
	if _, err := g.node(root); err != nil {
		return nil, err
	}

	order := make([]TreeEdge, 0, len(g.edges))
	visited := make([]bool, len(g.nodes))
	visited[root] = true

	type frame struct {
		id     NodeID
		parent NodeID
	}
	stack := []frame{{id: root, parent: -1}}

	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, eid := range g.nodes[fr.id].edges {
			next := g.Other(eid, fr.id)
			if next == fr.parent {
				continue
			}
			if visited[next] {
				return nil, fmt.Errorf("cycle through %q: %w", g.nodes[next].name, ErrNotATree)
			}
			visited[next] = true
			order = append(order, TreeEdge{Parent: fr.id, Child: next, Edge: eid})
			stack = append(stack, frame{id: next, parent: fr.id})
		}
	}

	for i, ok := range visited {
		if !ok {
			return nil, fmt.Errorf("node %q unreachable from root: %w", g.nodes[i].name, ErrNotATree)
		}
	}
	return order, nil
}

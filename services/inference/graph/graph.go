// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"fmt"

	"github.com/fathomlabs/fathom/services/inference/potential"
)

// NodeKind distinguishes the two sides of the bipartite graph.
type NodeKind int

const (
	// KindVariable marks a variable node.
	KindVariable NodeKind = iota

	// KindFactor marks a factor node.
	KindFactor
)

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindFactor:
		return "factor"
	default:
		return "unknown"
	}
}

// VarKind distinguishes discrete from continuous (Gaussian) variables.
type VarKind int

const (
	// VarDiscrete is a finite-domain variable with a cardinality.
	VarDiscrete VarKind = iota

	// VarGaussian is a real-valued variable with a dimensionality.
	VarGaussian
)

// NodeID addresses a node in the graph's arena. IDs are stable for the
// lifetime of the graph and shared across both node kinds.
type NodeID int

// EdgeID addresses an edge in the graph's arena.
type EdgeID int

// Edge connects exactly one variable node and one factor node.
type Edge struct {
	// Var is the variable-node endpoint.
	Var NodeID

	// Factor is the factor-node endpoint.
	Factor NodeID
}

// node is the arena entry for both node kinds.
type node struct {
	name    string
	kind    NodeKind
	varKind VarKind
	card    int // discrete cardinality (VarDiscrete)
	dim     int // Gaussian dimensionality (VarGaussian)
	pot     potential.Potential
	edges   []EdgeID
}

// Graph is the bipartite factor-graph arena.
type Graph struct {
	nodes    []node
	edges    []Edge
	varNames map[string]NodeID
	facNames map[string]NodeID
}

// New creates an empty factor graph.
func New() *Graph {
	return &Graph{
		varNames: make(map[string]NodeID),
		facNames: make(map[string]NodeID),
	}
}

// AddVariable adds a discrete variable node with the given domain size.
// Names must be unique among variable nodes.
func (g *Graph) AddVariable(name string, cardinality int) (NodeID, error) {
	if cardinality < 1 {
		return 0, fmt.Errorf("variable %q has cardinality %d: %w", name, cardinality, ErrTypeMismatch)
	}
	return g.addVar(name, node{name: name, kind: KindVariable, varKind: VarDiscrete, card: cardinality})
}

// AddGaussianVariable adds a continuous variable node with the given
// dimensionality.
func (g *Graph) AddGaussianVariable(name string, dim int) (NodeID, error) {
	if dim < 1 {
		return 0, fmt.Errorf("variable %q has dimension %d: %w", name, dim, ErrTypeMismatch)
	}
	return g.addVar(name, node{name: name, kind: KindVariable, varKind: VarGaussian, dim: dim})
}

func (g *Graph) addVar(name string, n node) (NodeID, error) {
	if _, exists := g.varNames[name]; exists {
		return 0, fmt.Errorf("variable %q: %w", name, ErrDuplicateNode)
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.varNames[name] = id
	return id, nil
}

// AddFactor adds a factor node. Its potential is attached separately with
// SetFactorPotential once the node is connected to its variables.
func (g *Graph) AddFactor(name string) (NodeID, error) {
	if _, exists := g.facNames[name]; exists {
		return 0, fmt.Errorf("factor %q: %w", name, ErrDuplicateNode)
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, node{name: name, kind: KindFactor})
	g.facNames[name] = id
	return id, nil
}

// Connect creates the edge between a variable node and a factor node,
// preserving bipartiteness. Returns ErrTypeMismatch if either argument is
// not of the expected kind and ErrAlreadyConnected if the pair is linked.
func (g *Graph) Connect(variable, factor NodeID) (EdgeID, error) {
	v, err := g.node(variable)
	if err != nil {
		return 0, err
	}
	f, err := g.node(factor)
	if err != nil {
		return 0, err
	}
	if v.kind != KindVariable {
		return 0, fmt.Errorf("node %q is a %s, expected variable: %w", v.name, v.kind, ErrTypeMismatch)
	}
	if f.kind != KindFactor {
		return 0, fmt.Errorf("node %q is a %s, expected factor: %w", f.name, f.kind, ErrTypeMismatch)
	}
	for _, eid := range v.edges {
		if g.edges[eid].Factor == factor {
			return 0, fmt.Errorf("%q - %q: %w", v.name, f.name, ErrAlreadyConnected)
		}
	}

	id := EdgeID(len(g.edges))
	g.edges = append(g.edges, Edge{Var: variable, Factor: factor})
	g.nodes[variable].edges = append(g.nodes[variable].edges, id)
	g.nodes[factor].edges = append(g.nodes[factor].edges, id)
	return id, nil
}

// SetFactorPotential attaches a potential to a factor node. The potential's
// variable scope must equal the factor's neighbor set (order is free; the
// algebra realigns axes). Returns ErrVariableSetMismatch otherwise.
func (g *Graph) SetFactorPotential(factor NodeID, p potential.Potential) error {
	f, err := g.node(factor)
	if err != nil {
		return err
	}
	if f.kind != KindFactor {
		return fmt.Errorf("node %q is a %s, expected factor: %w", f.name, f.kind, ErrTypeMismatch)
	}

	scope := p.Variables()
	neighbors := make(map[string]struct{}, len(f.edges))
	for _, eid := range f.edges {
		neighbors[g.nodes[g.edges[eid].Var].name] = struct{}{}
	}
	if len(scope) != len(neighbors) {
		return fmt.Errorf("factor %q has %d neighbors, potential covers %d variables: %w",
			f.name, len(neighbors), len(scope), ErrVariableSetMismatch)
	}
	for _, v := range scope {
		if _, ok := neighbors[v]; !ok {
			return fmt.Errorf("factor %q has no neighbor %q: %w", f.name, v, ErrVariableSetMismatch)
		}
	}

	g.nodes[factor].pot = p
	return nil
}

func (g *Graph) node(id NodeID) (*node, error) {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	return &g.nodes[id], nil
}

// Lookup resolves a variable or factor name to its NodeID. Variable names
// are searched first; the two namespaces are independent.
func (g *Graph) Lookup(name string) (NodeID, error) {
	if id, ok := g.varNames[name]; ok {
		return id, nil
	}
	if id, ok := g.facNames[name]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("node %q: %w", name, ErrNodeNotFound)
}

// Name returns the node's name.
func (g *Graph) Name(id NodeID) string {
	if id < 0 || int(id) >= len(g.nodes) {
		return ""
	}
	return g.nodes[id].name
}

// Kind returns the node's kind.
func (g *Graph) Kind(id NodeID) NodeKind {
	return g.nodes[id].kind
}

// VariableKind returns whether a variable node is discrete or Gaussian.
func (g *Graph) VariableKind(id NodeID) VarKind {
	return g.nodes[id].varKind
}

// Cardinality returns a discrete variable's domain size (0 for Gaussian
// variables and factors).
func (g *Graph) Cardinality(id NodeID) int {
	return g.nodes[id].card
}

// Dimension returns a Gaussian variable's dimensionality (0 otherwise).
func (g *Graph) Dimension(id NodeID) int {
	return g.nodes[id].dim
}

// FactorPotential returns the potential attached to a factor node.
func (g *Graph) FactorPotential(id NodeID) (potential.Potential, error) {
	f, err := g.node(id)
	if err != nil {
		return nil, err
	}
	if f.kind != KindFactor {
		return nil, fmt.Errorf("node %q is a %s, expected factor: %w", f.name, f.kind, ErrTypeMismatch)
	}
	if f.pot == nil {
		return nil, fmt.Errorf("factor %q: %w", f.name, ErrNoPotential)
	}
	return f.pot, nil
}

// Identity returns the combine identity for a variable node in the given
// domain: a uniform table for discrete variables, a zero-information
// canonical Gaussian for continuous ones. This is the message a leaf
// variable sends and the initial value of every flooding-schedule message.
func (g *Graph) Identity(id NodeID, dom potential.Domain) (potential.Potential, error) {
	v, err := g.node(id)
	if err != nil {
		return nil, err
	}
	if v.kind != KindVariable {
		return nil, fmt.Errorf("node %q is a %s, expected variable: %w", v.name, v.kind, ErrTypeMismatch)
	}
	if v.varKind == VarGaussian {
		return potential.GaussianIdentity(v.name, v.dim), nil
	}
	return potential.Uniform(v.name, v.card, dom), nil
}

// Variables returns all variable-node IDs in insertion order.
func (g *Graph) Variables() []NodeID {
	var ids []NodeID
	for i := range g.nodes {
		if g.nodes[i].kind == KindVariable {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// Factors returns all factor-node IDs in insertion order.
func (g *Graph) Factors() []NodeID {
	var ids []NodeID
	for i := range g.nodes {
		if g.nodes[i].kind == KindFactor {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// NodeCount returns the total node count across both kinds.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// EdgeAt returns the endpoints of an edge.
func (g *Graph) EdgeAt(id EdgeID) Edge {
	return g.edges[id]
}

// IncidentEdges returns the IDs of all edges incident to a node. The
// returned slice is owned by the graph and must not be modified.
func (g *Graph) IncidentEdges(id NodeID) []EdgeID {
	return g.nodes[id].edges
}

// Neighbors returns the IDs of all nodes adjacent to the given node.
func (g *Graph) Neighbors(id NodeID) []NodeID {
	n := g.nodes[id]
	out := make([]NodeID, 0, len(n.edges))
	for _, eid := range n.edges {
		e := g.edges[eid]
		if e.Var == id {
			out = append(out, e.Factor)
		} else {
			out = append(out, e.Var)
		}
	}
	return out
}

// Other returns the endpoint of the edge opposite to the given node.
func (g *Graph) Other(eid EdgeID, id NodeID) NodeID {
	e := g.edges[eid]
	if e.Var == id {
		return e.Factor
	}
	return e.Var
}

// Validate checks that every factor has a potential attached and that every
// variable participates in at least one factor. Called by the engine before
// inference begins.
func (g *Graph) Validate() error {
	for i := range g.nodes {
		n := &g.nodes[i]
		if n.kind == KindFactor && n.pot == nil {
			return fmt.Errorf("factor %q: %w", n.name, ErrNoPotential)
		}
	}
	return nil
}

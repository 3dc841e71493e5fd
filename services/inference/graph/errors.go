// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph provides the bipartite factor-graph topology and the
// per-edge message store used by the inference engine.
//
// A factor graph is a bipartite graph of variable nodes and factor nodes.
// Nodes and edges live in arenas addressed by stable integer IDs; edges
// store endpoint IDs rather than pointers, which keeps the structure free
// of ownership cycles and cheap to traverse.
//
// # Ownership Model
//
// The Graph exclusively owns its nodes and edges. Factor potentials are
// owned by their factor node once attached. Message potentials are owned by
// the MessageStore entry holding them and must not be mutated after Set.
//
// # Thread Safety
//
// Graph assembly (AddVariable, AddFactor, Connect, SetFactorPotential) is
// single-writer. Once inference begins the topology is read-only and safe
// for concurrent reads; only MessageStore entries are mutated, and distinct
// edge/direction slots may be written concurrently.
package graph

import "errors"

// Sentinel errors for graph assembly and traversal.
var (
	// ErrDuplicateNode is returned when adding a node whose name already
	// exists within its node kind.
	ErrDuplicateNode = errors.New("duplicate node name")

	// ErrNodeNotFound is returned when an ID or name does not resolve to a
	// node in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrTypeMismatch is returned when an operation receives a node of the
	// wrong kind, e.g. Connect called with two variable nodes.
	ErrTypeMismatch = errors.New("node has wrong kind for operation")

	// ErrAlreadyConnected is returned when Connect is called for a
	// variable/factor pair that is already linked.
	ErrAlreadyConnected = errors.New("variable and factor are already connected")

	// ErrVariableSetMismatch is returned when a factor potential's variable
	// scope differs from the factor node's neighbor set.
	ErrVariableSetMismatch = errors.New("potential variables do not match factor neighbors")

	// ErrNoPotential is returned when inference reads a factor node that
	// never had a potential attached.
	ErrNoPotential = errors.New("factor node has no potential")

	// ErrNotATree is returned when a tree schedule is requested on a graph
	// that contains a cycle or is disconnected.
	ErrNotATree = errors.New("graph is not a tree")

	// ErrMessageAbsent is returned when a scheduler reads a message slot
	// that was never written. Outside of initialization this indicates a
	// scheduling bug, not a recoverable condition.
	ErrMessageAbsent = errors.New("no message stored for edge direction")
)

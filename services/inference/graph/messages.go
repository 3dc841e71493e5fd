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

// Direction identifies one of the two message slots on an edge.
type Direction int

const (
	// VarToFactor is the message from the variable endpoint to the factor.
	VarToFactor Direction = iota

	// FactorToVar is the message from the factor endpoint to the variable.
	FactorToVar
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case VarToFactor:
		return "var_to_factor"
	case FactorToVar:
		return "factor_to_var"
	default:
		return "unknown"
	}
}

// slot holds one direction's last-computed message.
type slot struct {
	pot       potential.Potential
	iteration int
	set       bool
}

// MessageStore caches the most recently computed message per edge and
// direction, together with the iteration that produced it. Absence is the
// defined starting condition; reading an absent slot outside initialization
// is a scheduler error and reported as such.
//
// The flooding schedule never mutates a store in place: it reads the
// previous iteration's store and writes a fresh one, committing at the
// iteration boundary (double buffering). Distinct edge/direction slots may
// be written concurrently.
type MessageStore struct {
	slots [][2]slot
}

// NewMessageStore creates an empty store sized for the graph's edges.
func NewMessageStore(g *Graph) *MessageStore {
	return &MessageStore{slots: make([][2]slot, g.EdgeCount())}
}

// NewInitializedStore creates a store with every slot holding the identity
// message for the edge's variable endpoint, at iteration zero. This is the
// flooding schedule's starting state.
func NewInitializedStore(g *Graph, dom potential.Domain) (*MessageStore, error) {
	s := NewMessageStore(g)
	for i := 0; i < g.EdgeCount(); i++ {
		id, err := g.Identity(g.EdgeAt(EdgeID(i)).Var, dom)
		if err != nil {
			return nil, err
		}
		s.slots[i][VarToFactor] = slot{pot: id, set: true}
		s.slots[i][FactorToVar] = slot{pot: id, set: true}
	}
	return s, nil
}

// Get returns the stored message and its iteration number. Returns
// ErrMessageAbsent if the slot was never written.
func (s *MessageStore) Get(e EdgeID, d Direction) (potential.Potential, int, error) {
	if int(e) >= len(s.slots) {
		return nil, 0, fmt.Errorf("edge %d: %w", e, ErrNodeNotFound)
	}
	sl := s.slots[e][d]
	if !sl.set {
		return nil, 0, fmt.Errorf("edge %d %s: %w", e, d, ErrMessageAbsent)
	}
	return sl.pot, sl.iteration, nil
}

// Set stores a message for an edge direction. The potential is owned by the
// store entry from this point on and must not be mutated by the caller.
func (s *MessageStore) Set(e EdgeID, d Direction, p potential.Potential, iteration int) {
	s.slots[e][d] = slot{pot: p, iteration: iteration, set: true}
}

// Clone returns a shallow copy of the store. Potentials are immutable, so
// sharing them between the previous and current buffer is safe.
func (s *MessageStore) Clone() *MessageStore {
	out := &MessageStore{slots: make([][2]slot, len(s.slots))}
	copy(out.slots, s.slots)
	return out
}

// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package potential

import (
	"fmt"
	"math"
)

// Discrete is a dense probability (or log-probability) table over an ordered
// list of finite-domain variables. Data is stored row-major: the last
// variable's index varies fastest.
type Discrete struct {
	vars  []string
	cards []int
	data  []float64
}

// NewDiscrete creates a discrete potential over the given ordered variables.
//
// cards declares each variable's domain size in the same order and data must
// have length equal to the product of all cardinalities, laid out row-major
// over the variable order. Returns ErrInvalidShape on duplicate variables or
// mismatched lengths.
func NewDiscrete(vars []string, cards []int, data []float64) (*Discrete, error) {
	if len(vars) != len(cards) {
		return nil, fmt.Errorf("%d variables but %d cardinalities: %w", len(vars), len(cards), ErrInvalidShape)
	}
	seen := make(map[string]struct{}, len(vars))
	size := 1
	for i, v := range vars {
		if _, dup := seen[v]; dup {
			return nil, fmt.Errorf("duplicate variable %q: %w", v, ErrInvalidShape)
		}
		seen[v] = struct{}{}
		if cards[i] < 1 {
			return nil, fmt.Errorf("variable %q has cardinality %d: %w", v, cards[i], ErrInvalidShape)
		}
		size *= cards[i]
	}
	if len(data) != size {
		return nil, fmt.Errorf("table has %d entries, scope requires %d: %w", len(data), size, ErrInvalidShape)
	}
	return &Discrete{
		vars:  append([]string(nil), vars...),
		cards: append([]int(nil), cards...),
		data:  append([]float64(nil), data...),
	}, nil
}

// Uniform returns the multiplicative-identity potential over a single
// variable: all ones in the probability domain, all zeros in the log domain.
func Uniform(name string, card int, dom Domain) *Discrete {
	data := make([]float64, card)
	if dom == DomainProb {
		for i := range data {
			data[i] = 1
		}
	}
	return &Discrete{vars: []string{name}, cards: []int{card}, data: data}
}

// Variables returns the ordered variable scope.
func (d *Discrete) Variables() []string {
	return append([]string(nil), d.vars...)
}

// Cardinalities returns the per-variable domain sizes in scope order.
func (d *Discrete) Cardinalities() []int {
	return append([]int(nil), d.cards...)
}

// Values returns a copy of the row-major table.
func (d *Discrete) Values() []float64 {
	return append([]float64(nil), d.data...)
}

// Clone returns a deep copy.
func (d *Discrete) Clone() Potential {
	return &Discrete{
		vars:  append([]string(nil), d.vars...),
		cards: append([]int(nil), d.cards...),
		data:  append([]float64(nil), d.data...),
	}
}

// axis returns the axis index of a variable, or -1 if absent.
func (d *Discrete) axis(name string) int {
	for i, v := range d.vars {
		if v == name {
			return i
		}
	}
	return -1
}

// strides returns the row-major stride of each axis.
func strides(cards []int) []int {
	s := make([]int, len(cards))
	acc := 1
	for i := len(cards) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= cards[i]
	}
	return s
}

// Combine merges two tables over the union of their scopes.
//
// The union order is the receiver's variables followed by the other
// operand's variables not already present, matching the realignment rule of
// the algebra: axis order is part of a table's identity and operands are
// broadcast into the union coordinate space before the pointwise operation.
func (d *Discrete) Combine(other Potential, op CombineOp) (Potential, error) {
	o, ok := other.(*Discrete)
	if !ok {
		return nil, fmt.Errorf("combine discrete with %T: %w", other, ErrMixedRepresentation)
	}

	// Union scope: receiver order first, then unseen operand variables.
	vars := append([]string(nil), d.vars...)
	cards := append([]int(nil), d.cards...)
	for j, v := range o.vars {
		if i := d.axis(v); i >= 0 {
			if d.cards[i] != o.cards[j] {
				return nil, fmt.Errorf("variable %q has sizes %d and %d: %w",
					v, d.cards[i], o.cards[j], ErrDimensionMismatch)
			}
			continue
		}
		vars = append(vars, v)
		cards = append(cards, o.cards[j])
	}

	size := 1
	for _, c := range cards {
		size *= c
	}

	// Per-union-axis strides into each operand (0 broadcasts the axis).
	dStrides := strides(d.cards)
	oStrides := strides(o.cards)
	dMap := make([]int, len(vars))
	oMap := make([]int, len(vars))
	for k, v := range vars {
		if i := d.axis(v); i >= 0 {
			dMap[k] = dStrides[i]
		}
		if j := o.axis(v); j >= 0 {
			oMap[k] = oStrides[j]
		}
	}

	out := make([]float64, size)
	idx := make([]int, len(vars))
	for flat := 0; flat < size; flat++ {
		di, oi := 0, 0
		for k, v := range idx {
			di += v * dMap[k]
			oi += v * oMap[k]
		}
		if op == OpSum {
			out[flat] = d.data[di] + o.data[oi]
		} else {
			out[flat] = d.data[di] * o.data[oi]
		}
		// Advance the row-major odometer.
		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < cards[k] {
				break
			}
			idx[k] = 0
		}
	}

	return &Discrete{vars: vars, cards: cards, data: out}, nil
}

// Marginalize eliminates every variable not listed in keep, reducing the
// dropped axes by summation or maximization. The retained variables keep
// their relative order in the receiver's scope.
func (d *Discrete) Marginalize(keep []string, op ReduceOp) (Potential, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, v := range keep {
		if d.axis(v) < 0 {
			return nil, fmt.Errorf("variable %q: %w", v, ErrUnknownVariable)
		}
		keepSet[v] = struct{}{}
	}

	var outVars []string
	var outCards []int
	for i, v := range d.vars {
		if _, ok := keepSet[v]; ok {
			outVars = append(outVars, v)
			outCards = append(outCards, d.cards[i])
		}
	}

	outSize := 1
	for _, c := range outCards {
		outSize *= c
	}
	out := make([]float64, outSize)
	if op == ReduceMax {
		for i := range out {
			out[i] = math.Inf(-1)
		}
	}

	// Map each receiver axis to its stride in the output (0 if eliminated).
	outStrides := strides(outCards)
	axisToOut := make([]int, len(d.vars))
	k := 0
	for i, v := range d.vars {
		if _, ok := keepSet[v]; ok {
			axisToOut[i] = outStrides[k]
			k++
		}
	}

	idx := make([]int, len(d.vars))
	for _, val := range d.data {
		oi := 0
		for i, v := range idx {
			oi += v * axisToOut[i]
		}
		if op == ReduceSum {
			out[oi] += val
		} else if val > out[oi] {
			out[oi] = val
		}
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < d.cards[i] {
				break
			}
			idx[i] = 0
		}
	}

	return &Discrete{vars: outVars, cards: outCards, data: out}, nil
}

// Normalize rescales the table to unit mass: sum-to-one in the probability
// domain, log-sum-exp shift to zero in the log domain. Returns
// ErrDegeneratePotential when the table carries no mass.
func (d *Discrete) Normalize(dom Domain) (Potential, error) {
	out := append([]float64(nil), d.data...)
	if dom == DomainLog {
		lse := logSumExp(d.data)
		if math.IsInf(lse, -1) {
			return nil, fmt.Errorf("all entries are -inf: %w", ErrDegeneratePotential)
		}
		for i := range out {
			out[i] -= lse
		}
	} else {
		var sum float64
		for _, v := range d.data {
			sum += v
		}
		if sum == 0 {
			return nil, fmt.Errorf("table sums to zero: %w", ErrDegeneratePotential)
		}
		for i := range out {
			out[i] /= sum
		}
	}
	return &Discrete{
		vars:  append([]string(nil), d.vars...),
		cards: append([]int(nil), d.cards...),
		data:  out,
	}, nil
}

// logSumExp computes log(sum(exp(x))) without overflow.
func logSumExp(x []float64) float64 {
	m := math.Inf(-1)
	for _, v := range x {
		if v > m {
			m = v
		}
	}
	if math.IsInf(m, -1) {
		return m
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(v - m)
	}
	return m + math.Log(sum)
}

// ArgMax returns the assignment attaining the maximum table entry. Ties are
// broken by the first-encountered row-major index; the choice is
// deterministic but not probabilistically meaningful.
func (d *Discrete) ArgMax() Assignment {
	best := 0
	for i, v := range d.data {
		if v > d.data[best] {
			best = i
		}
	}
	s := strides(d.cards)
	indices := make(map[string]int, len(d.vars))
	for i, v := range d.vars {
		indices[v] = (best / s[i]) % d.cards[i]
	}
	return Assignment{Indices: indices}
}

// Log maps the table into the log domain. Zero entries map to -inf rather
// than failing, so structurally impossible assignments survive the mapping.
func (d *Discrete) Log() Potential {
	out := make([]float64, len(d.data))
	for i, v := range d.data {
		out[i] = math.Log(v)
	}
	return &Discrete{
		vars:  append([]string(nil), d.vars...),
		cards: append([]int(nil), d.cards...),
		data:  out,
	}
}

// Exp maps the table out of the log domain.
func (d *Discrete) Exp() Potential {
	out := make([]float64, len(d.data))
	for i, v := range d.data {
		out[i] = math.Exp(v)
	}
	return &Discrete{
		vars:  append([]string(nil), d.vars...),
		cards: append([]int(nil), d.cards...),
		data:  out,
	}
}

// Restrict conditions the table on variable name taking the given state,
// returning a potential over the remaining variables. Used by the max-sum
// back-tracking pass.
func (d *Discrete) Restrict(name string, state int) (*Discrete, error) {
	ax := d.axis(name)
	if ax < 0 {
		return nil, fmt.Errorf("variable %q: %w", name, ErrUnknownVariable)
	}
	if state < 0 || state >= d.cards[ax] {
		return nil, fmt.Errorf("state %d out of range for %q (size %d): %w",
			state, name, d.cards[ax], ErrInvalidShape)
	}

	var outVars []string
	var outCards []int
	for i, v := range d.vars {
		if i == ax {
			continue
		}
		outVars = append(outVars, v)
		outCards = append(outCards, d.cards[i])
	}
	outSize := 1
	for _, c := range outCards {
		outSize *= c
	}
	out := make([]float64, outSize)

	s := strides(d.cards)
	idx := make([]int, len(outCards))
	for flat := 0; flat < outSize; flat++ {
		di := state * s[ax]
		k := 0
		for i := range d.vars {
			if i == ax {
				continue
			}
			di += idx[k] * s[i]
			k++
		}
		out[flat] = d.data[di]
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outCards[i] {
				break
			}
			idx[i] = 0
		}
	}

	return &Discrete{vars: outVars, cards: outCards, data: out}, nil
}

// At evaluates the table at a full assignment of its scope.
func (d *Discrete) At(assignment map[string]int) (float64, error) {
	s := strides(d.cards)
	flat := 0
	for i, v := range d.vars {
		state, ok := assignment[v]
		if !ok {
			return 0, fmt.Errorf("variable %q: %w", v, ErrUnknownVariable)
		}
		if state < 0 || state >= d.cards[i] {
			return 0, fmt.Errorf("state %d out of range for %q (size %d): %w",
				state, v, d.cards[i], ErrInvalidShape)
		}
		flat += state * s[i]
	}
	return d.data[flat], nil
}

// Max returns the maximum table entry.
func (d *Discrete) Max() float64 {
	m := math.Inf(-1)
	for _, v := range d.data {
		if v > m {
			m = v
		}
	}
	return m
}

// Distance returns the maximum absolute elementwise difference. Tables with
// different scopes (including different axis orders) are infinitely apart.
func (d *Discrete) Distance(other Potential) float64 {
	o, ok := other.(*Discrete)
	if !ok || len(o.vars) != len(d.vars) {
		return math.Inf(1)
	}
	for i := range d.vars {
		if d.vars[i] != o.vars[i] || d.cards[i] != o.cards[i] {
			return math.Inf(1)
		}
	}
	var max float64
	for i := range d.data {
		if d.data[i] == o.data[i] {
			continue // covers matching -inf entries
		}
		if diff := math.Abs(d.data[i] - o.data[i]); diff > max {
			max = diff
		}
	}
	return max
}

// String returns a compact representation for logs and error messages.
func (d *Discrete) String() string {
	return fmt.Sprintf("Discrete%v%v", d.vars, d.data)
}

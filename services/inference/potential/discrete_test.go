// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package potential

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscrete_ShapeValidation(t *testing.T) {
	tests := []struct {
		name  string
		vars  []string
		cards []int
		data  []float64
		ok    bool
	}{
		{
			name:  "valid matrix",
			vars:  []string{"x1", "x2"},
			cards: []int{2, 3},
			data:  make([]float64, 6),
			ok:    true,
		},
		{
			name:  "wrong table length",
			vars:  []string{"x1", "x2"},
			cards: []int{2, 3},
			data:  make([]float64, 5),
			ok:    false,
		},
		{
			name:  "duplicate variable",
			vars:  []string{"x1", "x1"},
			cards: []int{2, 2},
			data:  make([]float64, 4),
			ok:    false,
		},
		{
			name:  "zero cardinality",
			vars:  []string{"x1"},
			cards: []int{0},
			data:  nil,
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDiscrete(tt.vars, tt.cards, tt.data)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidShape)
			}
		})
	}
}

func TestDiscrete_CombineDisjointScopes(t *testing.T) {
	a, err := NewDiscrete([]string{"x"}, []int{2}, []float64{0.2, 0.8})
	require.NoError(t, err)
	b, err := NewDiscrete([]string{"y"}, []int{3}, []float64{0.1, 0.3, 0.6})
	require.NoError(t, err)

	prod, err := a.Combine(b, OpProduct)
	require.NoError(t, err)

	d := prod.(*Discrete)
	assert.Equal(t, []string{"x", "y"}, d.Variables())
	for xi := 0; xi < 2; xi++ {
		for yi := 0; yi < 3; yi++ {
			got, err := d.At(map[string]int{"x": xi, "y": yi})
			require.NoError(t, err)
			av, _ := a.At(map[string]int{"x": xi})
			bv, _ := b.At(map[string]int{"y": yi})
			assert.InDelta(t, av*bv, got, 1e-12)
		}
	}

	// Log domain: combine(a,b)(x,y) = a(x) + b(y).
	sum, err := a.Log().Combine(b.Log(), OpSum)
	require.NoError(t, err)
	s := sum.(*Discrete)
	got, err := s.At(map[string]int{"x": 1, "y": 2})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.8)+math.Log(0.6), got, 1e-12)
}

func TestDiscrete_CombineRealignsAxisOrder(t *testing.T) {
	// Same joint function declared with swapped axis orders. Combining must
	// realign before the pointwise product, not multiply mismatched cells.
	ab, err := NewDiscrete([]string{"a", "b"}, []int{2, 2}, []float64{
		1, 2,
		3, 4,
	})
	require.NoError(t, err)
	ba, err := NewDiscrete([]string{"b", "a"}, []int{2, 2}, []float64{
		1, 3,
		2, 4,
	})
	require.NoError(t, err)

	prod, err := ab.Combine(ba, OpProduct)
	require.NoError(t, err)
	d := prod.(*Discrete)
	assert.Equal(t, []string{"a", "b"}, d.Variables())
	for ai := 0; ai < 2; ai++ {
		for bi := 0; bi < 2; bi++ {
			v, err := d.At(map[string]int{"a": ai, "b": bi})
			require.NoError(t, err)
			orig, _ := ab.At(map[string]int{"a": ai, "b": bi})
			assert.InDelta(t, orig*orig, v, 1e-12)
		}
	}
}

func TestDiscrete_CombineDimensionMismatch(t *testing.T) {
	a, err := NewDiscrete([]string{"x"}, []int{2}, []float64{0.5, 0.5})
	require.NoError(t, err)
	b, err := NewDiscrete([]string{"x"}, []int{3}, []float64{0.2, 0.3, 0.5})
	require.NoError(t, err)

	_, err = a.Combine(b, OpProduct)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDiscrete_MarginalizeMassPreserved(t *testing.T) {
	p, err := NewDiscrete([]string{"x", "y"}, []int{2, 2}, []float64{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)

	// Summing out everything yields the total mass.
	total, err := p.Marginalize(nil, ReduceSum)
	require.NoError(t, err)
	d := total.(*Discrete)
	require.Len(t, d.Values(), 1)
	assert.InDelta(t, 1.0, d.Values()[0], 1e-12)

	// Partial marginal over y.
	my, err := p.Marginalize([]string{"y"}, ReduceSum)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, my.(*Discrete).Values(), 1e-12)

	// Max-marginal over y.
	mx, err := p.Marginalize([]string{"y"}, ReduceMax)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, 0.4}, mx.(*Discrete).Values(), 1e-12)
}

func TestDiscrete_MarginalizeUnknownVariable(t *testing.T) {
	p, err := NewDiscrete([]string{"x"}, []int{2}, []float64{0.5, 0.5})
	require.NoError(t, err)

	_, err = p.Marginalize([]string{"z"}, ReduceSum)
	require.ErrorIs(t, err, ErrUnknownVariable)
}

func TestDiscrete_NormalizeDegenerate(t *testing.T) {
	zero, err := NewDiscrete([]string{"x"}, []int{3}, []float64{0, 0, 0})
	require.NoError(t, err)

	_, err = zero.Normalize(DomainProb)
	require.ErrorIs(t, err, ErrDegeneratePotential)

	_, err = zero.Log().Normalize(DomainLog)
	require.ErrorIs(t, err, ErrDegeneratePotential)
}

func TestDiscrete_NormalizeLogDomain(t *testing.T) {
	p, err := NewDiscrete([]string{"x"}, []int{2}, []float64{0.3, 0.1})
	require.NoError(t, err)

	n, err := p.Log().Normalize(DomainLog)
	require.NoError(t, err)

	back := n.Exp().(*Discrete)
	assert.InDeltaSlice(t, []float64{0.75, 0.25}, back.Values(), 1e-12)
}

func TestDiscrete_ArgMaxTieBreaksFirst(t *testing.T) {
	p, err := NewDiscrete([]string{"x", "y"}, []int{2, 2}, []float64{0.1, 0.4, 0.4, 0.2})
	require.NoError(t, err)

	got := p.ArgMax()
	assert.Equal(t, map[string]int{"x": 0, "y": 1}, got.Indices)
}

func TestDiscrete_LogOfZeroIsNegInf(t *testing.T) {
	p, err := NewDiscrete([]string{"x"}, []int{2}, []float64{0.0, 1.0})
	require.NoError(t, err)

	logged := p.Log().(*Discrete)
	assert.True(t, math.IsInf(logged.Values()[0], -1))
	assert.InDelta(t, 0.0, logged.Values()[1], 1e-12)
}

func TestDiscrete_Restrict(t *testing.T) {
	p, err := NewDiscrete([]string{"x", "y"}, []int{2, 3}, []float64{
		1, 2, 3,
		4, 5, 6,
	})
	require.NoError(t, err)

	row, err := p.Restrict("x", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, row.Variables())
	assert.InDeltaSlice(t, []float64{4, 5, 6}, row.Values(), 1e-12)

	col, err := p.Restrict("y", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, col.Variables())
	assert.InDeltaSlice(t, []float64{3, 6}, col.Values(), 1e-12)

	_, err = p.Restrict("z", 0)
	require.ErrorIs(t, err, ErrUnknownVariable)
}

func TestDiscrete_Distance(t *testing.T) {
	a, err := NewDiscrete([]string{"x"}, []int{2}, []float64{0.2, 0.8})
	require.NoError(t, err)
	b, err := NewDiscrete([]string{"x"}, []int{2}, []float64{0.25, 0.7})
	require.NoError(t, err)

	assert.InDelta(t, 0.1, a.Distance(b), 1e-12)
	assert.InDelta(t, 0.0, a.Distance(a.Clone()), 1e-12)

	// Matching -inf entries contribute zero, not NaN.
	la := a.Log().(*Discrete)
	assert.InDelta(t, 0.0, la.Distance(la.Clone()), 1e-12)

	other, err := NewDiscrete([]string{"y"}, []int{2}, []float64{0.2, 0.8})
	require.NoError(t, err)
	assert.True(t, math.IsInf(a.Distance(other), 1))
}

func TestDiscrete_CombineWithGaussianFails(t *testing.T) {
	d, err := NewDiscrete([]string{"x"}, []int{2}, []float64{0.5, 0.5})
	require.NoError(t, err)
	g, err := NewGaussian([]string{"y"}, []int{1}, []float64{0}, []float64{1})
	require.NoError(t, err)

	_, err = d.Combine(g, OpProduct)
	require.ErrorIs(t, err, ErrMixedRepresentation)
}

func TestUniform_Identity(t *testing.T) {
	u := Uniform("x", 3, DomainProb)
	p, err := NewDiscrete([]string{"x"}, []int{3}, []float64{0.2, 0.3, 0.5})
	require.NoError(t, err)

	got, err := p.Combine(u, OpProduct)
	require.NoError(t, err)
	assert.InDeltaSlice(t, p.Values(), got.(*Discrete).Values(), 1e-12)

	lu := Uniform("x", 3, DomainLog)
	lgot, err := p.Log().Combine(lu, OpSum)
	require.NoError(t, err)
	assert.InDeltaSlice(t, p.Log().(*Discrete).Values(), lgot.(*Discrete).Values(), 1e-12)
}

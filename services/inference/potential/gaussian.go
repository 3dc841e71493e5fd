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

	"gonum.org/v1/gonum/mat"
)

// log2Pi is log(2*pi), used in Gaussian log-partition bookkeeping.
const log2Pi = 1.8378770664093453

// Gaussian is a canonical-form Gaussian potential over an ordered list of
// real-valued variables, each with its own dimensionality:
//
//	phi(x) = exp(-1/2 x'Wx + h'x + g)
//
// W is the information (precision) matrix, h the information vector and g a
// scalar constant. The canonical form is log-domain internally, so Combine
// is block-aligned addition and Log/Exp are identities. The g term carries
// the value bookkeeping that max-sum needs when Gaussian dimensions are
// eliminated.
type Gaussian struct {
	vars []string
	dims []int
	w    *mat.Dense
	h    *mat.VecDense
	g    float64
}

// NewGaussian creates a Gaussian potential from moment form (mean and
// covariance). mean has length equal to the total dimensionality of vars and
// cov is the matching row-major covariance matrix. The result is the
// normalized density, so g holds the full log-partition constant.
func NewGaussian(vars []string, dims []int, mean, cov []float64) (*Gaussian, error) {
	n, err := checkScope(vars, dims)
	if err != nil {
		return nil, err
	}
	if len(mean) != n {
		return nil, fmt.Errorf("mean has %d entries, scope requires %d: %w", len(mean), n, ErrInvalidShape)
	}
	if len(cov) != n*n {
		return nil, fmt.Errorf("covariance has %d entries, scope requires %d: %w", len(cov), n*n, ErrInvalidShape)
	}

	covM := mat.NewDense(n, n, append([]float64(nil), cov...))
	w := mat.NewDense(n, n, nil)
	if err := w.Inverse(covM); err != nil {
		return nil, fmt.Errorf("covariance is singular: %w", ErrDegeneratePotential)
	}
	logDetCov, sign := mat.LogDet(covM)
	if sign <= 0 {
		return nil, fmt.Errorf("covariance is not positive definite: %w", ErrDegeneratePotential)
	}

	mu := mat.NewVecDense(n, append([]float64(nil), mean...))
	h := mat.NewVecDense(n, nil)
	h.MulVec(w, mu)

	// g = -1/2 mu'h - 1/2 (n log 2pi + log|cov|) so phi integrates to 1.
	g := -0.5*mat.Dot(mu, h) - 0.5*(float64(n)*log2Pi+logDetCov)

	return &Gaussian{
		vars: append([]string(nil), vars...),
		dims: append([]int(nil), dims...),
		w:    w,
		h:    h,
		g:    g,
	}, nil
}

// NewGaussianCanonical creates a Gaussian potential directly from canonical
// parameters: row-major information matrix w, information vector h and
// log-constant g.
func NewGaussianCanonical(vars []string, dims []int, w, h []float64, g float64) (*Gaussian, error) {
	n, err := checkScope(vars, dims)
	if err != nil {
		return nil, err
	}
	if len(w) != n*n {
		return nil, fmt.Errorf("information matrix has %d entries, scope requires %d: %w", len(w), n*n, ErrInvalidShape)
	}
	if len(h) != n {
		return nil, fmt.Errorf("information vector has %d entries, scope requires %d: %w", len(h), n, ErrInvalidShape)
	}
	return &Gaussian{
		vars: append([]string(nil), vars...),
		dims: append([]int(nil), dims...),
		w:    mat.NewDense(n, n, append([]float64(nil), w...)),
		h:    mat.NewVecDense(n, append([]float64(nil), h...)),
		g:    g,
	}, nil
}

// GaussianIdentity returns the combine identity for a variable: zero
// information and zero constant, i.e. a flat improper prior.
func GaussianIdentity(name string, dim int) *Gaussian {
	return &Gaussian{
		vars: []string{name},
		dims: []int{dim},
		w:    mat.NewDense(dim, dim, nil),
		h:    mat.NewVecDense(dim, nil),
	}
}

func checkScope(vars []string, dims []int) (int, error) {
	if len(vars) != len(dims) {
		return 0, fmt.Errorf("%d variables but %d dimensions: %w", len(vars), len(dims), ErrInvalidShape)
	}
	seen := make(map[string]struct{}, len(vars))
	n := 0
	for i, v := range vars {
		if _, dup := seen[v]; dup {
			return 0, fmt.Errorf("duplicate variable %q: %w", v, ErrInvalidShape)
		}
		seen[v] = struct{}{}
		if dims[i] < 1 {
			return 0, fmt.Errorf("variable %q has dimension %d: %w", v, dims[i], ErrInvalidShape)
		}
		n += dims[i]
	}
	return n, nil
}

// Variables returns the ordered variable scope.
func (p *Gaussian) Variables() []string {
	return append([]string(nil), p.vars...)
}

// Dimensions returns the per-variable dimensionalities in scope order.
func (p *Gaussian) Dimensions() []int {
	return append([]int(nil), p.dims...)
}

// Clone returns a deep copy.
func (p *Gaussian) Clone() Potential {
	w := mat.NewDense(p.n(), p.n(), nil)
	w.Copy(p.w)
	h := mat.NewVecDense(p.n(), nil)
	h.CopyVec(p.h)
	return &Gaussian{
		vars: append([]string(nil), p.vars...),
		dims: append([]int(nil), p.dims...),
		w:    w,
		h:    h,
		g:    p.g,
	}
}

// n returns the total dimensionality.
func (p *Gaussian) n() int {
	n := 0
	for _, d := range p.dims {
		n += d
	}
	return n
}

// offset returns the coordinate offset of a variable, or -1 if absent.
func (p *Gaussian) offset(name string) int {
	off := 0
	for i, v := range p.vars {
		if v == name {
			return off
		}
		off += p.dims[i]
	}
	return -1
}

// dim returns the dimensionality of a variable, or 0 if absent.
func (p *Gaussian) dim(name string) int {
	for i, v := range p.vars {
		if v == name {
			return p.dims[i]
		}
	}
	return 0
}

// Combine adds the canonical parameters of both operands after embedding
// each into the union coordinate space (padding absent blocks with zeros).
// OpProduct and OpSum coincide because canonical form is already
// log-domain.
func (p *Gaussian) Combine(other Potential, op CombineOp) (Potential, error) {
	o, ok := other.(*Gaussian)
	if !ok {
		return nil, fmt.Errorf("combine Gaussian with %T: %w", other, ErrMixedRepresentation)
	}
	_ = op

	vars := append([]string(nil), p.vars...)
	dims := append([]int(nil), p.dims...)
	for j, v := range o.vars {
		if d := p.dim(v); d > 0 {
			if d != o.dims[j] {
				return nil, fmt.Errorf("variable %q has dimensions %d and %d: %w",
					v, d, o.dims[j], ErrDimensionMismatch)
			}
			continue
		}
		vars = append(vars, v)
		dims = append(dims, o.dims[j])
	}

	out := &Gaussian{vars: vars, dims: dims, g: p.g + o.g}
	n := out.n()
	out.w = mat.NewDense(n, n, nil)
	out.h = mat.NewVecDense(n, nil)
	out.accumulate(p)
	out.accumulate(o)
	return out, nil
}

// accumulate adds an operand's canonical parameters into the receiver,
// mapping operand coordinates into the receiver's coordinate space.
func (p *Gaussian) accumulate(src *Gaussian) {
	idx := make([]int, 0, src.n())
	for i, v := range src.vars {
		off := p.offset(v)
		for k := 0; k < src.dims[i]; k++ {
			idx = append(idx, off+k)
		}
	}
	for i, gi := range idx {
		p.h.SetVec(gi, p.h.AtVec(gi)+src.h.AtVec(i))
		for j, gj := range idx {
			p.w.Set(gi, gj, p.w.At(gi, gj)+src.w.At(i, j))
		}
	}
}

// Marginalize projects onto the retained coordinates via the Schur
// complement:
//
//	W' = Waa - Wab Wbb^-1 Wba
//	h' = ha - Wab Wbb^-1 hb
//
// Summation and maximization yield the same W' and h'; they differ only in
// the constant folded into g (the integral adds the eliminated block's
// log-partition term, the maximum does not). Returns ErrDegeneratePotential
// if the eliminated block is singular.
func (p *Gaussian) Marginalize(keep []string, op ReduceOp) (Potential, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, v := range keep {
		if p.offset(v) < 0 {
			return nil, fmt.Errorf("variable %q: %w", v, ErrUnknownVariable)
		}
		keepSet[v] = struct{}{}
	}

	var aIdx, bIdx []int
	var outVars []string
	var outDims []int
	off := 0
	for i, v := range p.vars {
		if _, ok := keepSet[v]; ok {
			outVars = append(outVars, v)
			outDims = append(outDims, p.dims[i])
			for k := 0; k < p.dims[i]; k++ {
				aIdx = append(aIdx, off+k)
			}
		} else {
			for k := 0; k < p.dims[i]; k++ {
				bIdx = append(bIdx, off+k)
			}
		}
		off += p.dims[i]
	}
	if len(bIdx) == 0 {
		return p.Clone(), nil
	}

	na, nb := len(aIdx), len(bIdx)
	waa := submatrix(p.w, aIdx, aIdx)
	wab := submatrix(p.w, aIdx, bIdx)
	wba := submatrix(p.w, bIdx, aIdx)
	wbb := submatrix(p.w, bIdx, bIdx)
	ha := subvector(p.h, aIdx)
	hb := subvector(p.h, bIdx)

	wbbInv := mat.NewDense(nb, nb, nil)
	if err := wbbInv.Inverse(wbb); err != nil {
		return nil, fmt.Errorf("eliminated block is singular: %w", ErrDegeneratePotential)
	}

	m := mat.NewDense(na, nb, nil)
	m.Mul(wab, wbbInv)

	wOut := mat.NewDense(na, na, nil)
	wOut.Mul(m, wba)
	wOut.Sub(waa, wOut)

	hOut := mat.NewVecDense(na, nil)
	hOut.MulVec(m, hb)
	hOut.SubVec(ha, hOut)

	// Value at the conditional optimum of the eliminated block.
	tmp := mat.NewVecDense(nb, nil)
	tmp.MulVec(wbbInv, hb)
	gOut := p.g + 0.5*mat.Dot(hb, tmp)
	if op == ReduceSum {
		logDetWbb, sign := mat.LogDet(wbb)
		if sign <= 0 {
			return nil, fmt.Errorf("eliminated block is not positive definite: %w", ErrDegeneratePotential)
		}
		gOut += 0.5 * (float64(nb)*log2Pi - logDetWbb)
	}

	return &Gaussian{vars: outVars, dims: outDims, w: wOut, h: hOut, g: gOut}, nil
}

func submatrix(m *mat.Dense, rows, cols []int) *mat.Dense {
	out := mat.NewDense(len(rows), len(cols), nil)
	for i, r := range rows {
		for j, c := range cols {
			out.Set(i, j, m.At(r, c))
		}
	}
	return out
}

func subvector(v *mat.VecDense, idx []int) *mat.VecDense {
	out := mat.NewVecDense(len(idx), nil)
	for i, k := range idx {
		out.SetVec(i, v.AtVec(k))
	}
	return out
}

// Normalize adjusts g so the potential integrates to one; W and h are
// unchanged (Gaussian shape is normalized by construction). Returns
// ErrDegeneratePotential on a singular information matrix, which includes
// the flat identity potential.
func (p *Gaussian) Normalize(dom Domain) (Potential, error) {
	_ = dom // canonical form is log-domain internally
	n := p.n()
	wInv := mat.NewDense(n, n, nil)
	if err := wInv.Inverse(p.w); err != nil {
		return nil, fmt.Errorf("information matrix is singular: %w", ErrDegeneratePotential)
	}
	logDetW, sign := mat.LogDet(p.w)
	if sign <= 0 {
		return nil, fmt.Errorf("information matrix is not positive definite: %w", ErrDegeneratePotential)
	}
	tmp := mat.NewVecDense(n, nil)
	tmp.MulVec(wInv, p.h)

	out := p.Clone().(*Gaussian)
	out.g = -0.5*mat.Dot(p.h, tmp) - 0.5*(float64(n)*log2Pi-logDetW)
	return out, nil
}

// Mean returns the mean vector (W^-1 h) over the full scope.
func (p *Gaussian) Mean() ([]float64, error) {
	n := p.n()
	mu := mat.NewVecDense(n, nil)
	if err := mu.SolveVec(p.w, p.h); err != nil {
		return nil, fmt.Errorf("information matrix is singular: %w", ErrDegeneratePotential)
	}
	return append([]float64(nil), mu.RawVector().Data...), nil
}

// Covariance returns the covariance matrix (W^-1), row-major.
func (p *Gaussian) Covariance() ([]float64, error) {
	n := p.n()
	cov := mat.NewDense(n, n, nil)
	if err := cov.Inverse(p.w); err != nil {
		return nil, fmt.Errorf("information matrix is singular: %w", ErrDegeneratePotential)
	}
	return append([]float64(nil), cov.RawMatrix().Data...), nil
}

// ArgMax returns the mode, which for a Gaussian is its mean, split per
// variable. A singular information matrix yields an empty assignment.
func (p *Gaussian) ArgMax() Assignment {
	mu, err := p.Mean()
	if err != nil {
		return Assignment{Values: map[string][]float64{}}
	}
	values := make(map[string][]float64, len(p.vars))
	off := 0
	for i, v := range p.vars {
		values[v] = append([]float64(nil), mu[off:off+p.dims[i]]...)
		off += p.dims[i]
	}
	return Assignment{Values: values}
}

// Log is the identity: canonical form is already log-domain.
func (p *Gaussian) Log() Potential {
	return p.Clone()
}

// Exp is the identity: canonical form is already log-domain.
func (p *Gaussian) Exp() Potential {
	return p.Clone()
}

// Distance returns the maximum absolute difference over canonical
// parameters (W and h entries). Potentials over different scopes are
// infinitely apart.
func (p *Gaussian) Distance(other Potential) float64 {
	o, ok := other.(*Gaussian)
	if !ok || len(o.vars) != len(p.vars) {
		return math.Inf(1)
	}
	for i := range p.vars {
		if p.vars[i] != o.vars[i] || p.dims[i] != o.dims[i] {
			return math.Inf(1)
		}
	}
	var max float64
	n := p.n()
	for i := 0; i < n; i++ {
		if diff := math.Abs(p.h.AtVec(i) - o.h.AtVec(i)); diff > max {
			max = diff
		}
		for j := 0; j < n; j++ {
			if diff := math.Abs(p.w.At(i, j) - o.w.At(i, j)); diff > max {
				max = diff
			}
		}
	}
	return max
}

// String returns a compact representation for logs and error messages.
func (p *Gaussian) String() string {
	return fmt.Sprintf("Gaussian%v(n=%d)", p.vars, p.n())
}

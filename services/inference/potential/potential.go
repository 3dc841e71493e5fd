// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package potential implements the algebra carried on factor-graph messages.
//
// A Potential is a (possibly unnormalized) function from an assignment of an
// ordered set of variables to a real number, in either the probability or the
// log domain. Two closed variants exist:
//
//   - Discrete: a dense n-dimensional table over the Cartesian product of
//     the variables' finite domains, stored row-major over the declared
//     variable order.
//   - Gaussian: a canonical-form Gaussian (information matrix, information
//     vector and a scalar log-constant) over real-valued variables.
//
// The variable order is part of a potential's identity: two tables over the
// same variables in different axis orders are distinct representations of
// the same value and are realigned automatically by Combine.
//
// # Ownership Model
//
// Potentials are immutable once published. Combine, Marginalize, Normalize,
// Log and Exp all allocate new potentials and never mutate their receivers
// or operands. This is what allows the inference engine to hold previous
// and current iteration messages side by side without copying.
//
// # Thread Safety
//
// All operations are pure functions over immutable state and are safe for
// concurrent use.
package potential

// CombineOp selects how two potentials are combined pointwise.
type CombineOp int

const (
	// OpProduct multiplies values pointwise (probability domain).
	OpProduct CombineOp = iota

	// OpSum adds values pointwise (log domain).
	OpSum
)

// String returns the string representation of the CombineOp.
func (op CombineOp) String() string {
	switch op {
	case OpProduct:
		return "product"
	case OpSum:
		return "sum"
	default:
		return "unknown"
	}
}

// ReduceOp selects how eliminated variables are reduced during
// marginalization.
type ReduceOp int

const (
	// ReduceSum eliminates variables by summation (sum-product).
	ReduceSum ReduceOp = iota

	// ReduceMax eliminates variables by maximization (max-product, max-sum).
	ReduceMax
)

// String returns the string representation of the ReduceOp.
func (op ReduceOp) String() string {
	switch op {
	case ReduceSum:
		return "sum"
	case ReduceMax:
		return "max"
	default:
		return "unknown"
	}
}

// Domain identifies whether table values live in probability or log space.
//
// Gaussian canonical form is log-domain internally, so the distinction only
// changes behavior for discrete tables (normalization and identities).
type Domain int

const (
	// DomainProb stores probabilities directly.
	DomainProb Domain = iota

	// DomainLog stores natural logarithms of probabilities.
	DomainLog
)

// String returns the string representation of the Domain.
func (d Domain) String() string {
	switch d {
	case DomainProb:
		return "prob"
	case DomainLog:
		return "log"
	default:
		return "unknown"
	}
}

// Assignment is the result of an argmax query over a potential.
//
// Discrete variables report the index attaining the maximum (ties broken by
// first-encountered index in row-major order). Continuous variables report
// the coordinates of the mode.
type Assignment struct {
	// Indices maps discrete variable names to the maximizing state index.
	Indices map[string]int

	// Values maps continuous variable names to the maximizing coordinates.
	Values map[string][]float64
}

// Potential is the closed algebra over message and factor values.
//
// Exactly two implementations exist: *Discrete and *Gaussian. The operation
// set is fixed; new variants are rare and should implement the complete
// contract rather than a subset.
type Potential interface {
	// Variables returns the ordered variable scope. The returned slice is a
	// copy and may be retained by the caller.
	Variables() []string

	// Clone returns a deep copy.
	Clone() Potential

	// Combine merges two potentials over the union of their scopes,
	// broadcasting variables present in only one operand. Returns
	// ErrDimensionMismatch if a shared variable has inconsistent domain
	// sizes and ErrMixedRepresentation if the variants differ.
	Combine(other Potential, op CombineOp) (Potential, error)

	// Marginalize eliminates every variable not listed in keep. Returns
	// ErrUnknownVariable if a keep variable is outside the scope.
	Marginalize(keep []string, op ReduceOp) (Potential, error)

	// Normalize rescales the potential to unit mass. For Gaussians the
	// shape is unchanged and only the log-constant is adjusted. Returns
	// ErrDegeneratePotential when there is no mass to normalize.
	Normalize(dom Domain) (Potential, error)

	// ArgMax returns an assignment attaining the maximum value.
	ArgMax() Assignment

	// Log maps the potential into the log domain. Identity for Gaussians.
	Log() Potential

	// Exp maps the potential out of the log domain. Identity for Gaussians.
	Exp() Potential

	// Distance returns the maximum absolute elementwise difference between
	// two potentials of identical scope, used for convergence checks.
	// Potentials with different scopes or variants are infinitely apart.
	Distance(other Potential) float64
}

// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package potential

import "errors"

// Sentinel errors for potential algebra operations.
var (
	// ErrDimensionMismatch is returned when two potentials share a variable
	// whose declared domain size differs between the operands.
	ErrDimensionMismatch = errors.New("shared variable has inconsistent domain size")

	// ErrUnknownVariable is returned when a marginalization requests a
	// variable that is not part of the potential's scope.
	ErrUnknownVariable = errors.New("variable not in potential scope")

	// ErrDegeneratePotential is returned when normalizing a potential with
	// no probability mass (an all-zero table) or when a Gaussian block
	// required for marginalization is singular.
	ErrDegeneratePotential = errors.New("degenerate potential")

	// ErrMixedRepresentation is returned when a discrete potential is
	// combined with a Gaussian one (or vice versa). The two representations
	// are closed under their own algebra only.
	ErrMixedRepresentation = errors.New("cannot mix discrete and Gaussian potentials")

	// ErrInvalidShape is returned by constructors when the supplied data
	// does not match the declared variable scope (wrong table length,
	// non-square covariance, duplicate variables).
	ErrInvalidShape = errors.New("data shape does not match variable scope")
)

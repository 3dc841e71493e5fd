// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import "errors"

// Sentinel errors for model parsing and assembly.
var (
	// ErrInvalidModel is returned when a definition fails schema or
	// semantic validation.
	ErrInvalidModel = errors.New("invalid model definition")

	// ErrUndeclaredVariable is returned when a factor scope references a
	// variable the model never declares.
	ErrUndeclaredVariable = errors.New("undeclared variable in factor scope")
)

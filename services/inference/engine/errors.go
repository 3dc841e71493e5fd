// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "errors"

// Sentinel errors for inference runs.
var (
	// ErrNilGraph is returned when Run is called without a graph.
	ErrNilGraph = errors.New("graph is nil")

	// ErrNoVariables is returned when the graph has no variable nodes to
	// compute beliefs for.
	ErrNoVariables = errors.New("graph has no variable nodes")

	// ErrNotConverged is returned together with a still-usable Result when
	// the flooding schedule exhausts its iteration budget before meeting
	// tolerance. It is a reportable status, not a failure: callers may use
	// the approximate beliefs or retry with a larger budget.
	ErrNotConverged = errors.New("flooding schedule did not converge")

	// ErrUnknownAlgorithm is returned when parsing an algorithm name fails.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrUnknownSchedule is returned when parsing a schedule name fails.
	ErrUnknownSchedule = errors.New("unknown schedule")
)

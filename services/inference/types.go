// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import "time"

// RunRequest configures an inference run over a registered graph.
// Unset fields fall back to the service defaults.
type RunRequest struct {
	// Algorithm is "sum-product" (default), "max-product" or "max-sum".
	Algorithm string `json:"algorithm" binding:"omitempty,oneof=sum-product max-product max-sum"`

	// Schedule is "tree" (default) or "flooding".
	Schedule string `json:"schedule" binding:"omitempty,oneof=tree flooding"`

	// Root names the variable the spanning structure is rooted at.
	// Empty selects the first variable.
	Root string `json:"root,omitempty"`

	// Targets names the variables to compute beliefs for. Empty selects
	// all variables.
	Targets []string `json:"targets,omitempty"`

	// MaxIterations bounds the flooding schedule.
	MaxIterations int `json:"max_iterations,omitempty" binding:"omitempty,min=1"`

	// Tolerance is the flooding convergence threshold.
	Tolerance float64 `json:"tolerance,omitempty" binding:"omitempty,gt=0"`

	// Parallel enables the flooding schedule's worker-pool fan-out.
	Parallel bool `json:"parallel,omitempty"`
}

// Belief is one variable's belief in wire form. Discrete beliefs carry
// Values (probabilities, or log-probabilities for max-sum); Gaussian
// beliefs carry Mean and row-major Covariance.
type Belief struct {
	Variable   string    `json:"variable"`
	Values     []float64 `json:"values,omitempty"`
	Mean       []float64 `json:"mean,omitempty"`
	Covariance []float64 `json:"covariance,omitempty"`
}

// RunResponse reports the outcome of an inference run.
type RunResponse struct {
	GraphID    string   `json:"graph_id"`
	Algorithm  string   `json:"algorithm"`
	Schedule   string   `json:"schedule"`
	Converged  bool     `json:"converged"`
	Iterations int      `json:"iterations"`
	MaxDiff    float64  `json:"max_diff"`
	Beliefs    []Belief `json:"beliefs"`

	// Assignment is one maximizing configuration, keyed by variable
	// name. Present for max-product and max-sum over discrete graphs.
	Assignment map[string]int `json:"assignment,omitempty"`
}

// GraphInfo describes a registered graph.
type GraphInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Variables int       `json:"variables"`
	Factors   int       `json:"factors"`
	Edges     int       `json:"edges"`
	CreatedAt time.Time `json:"created_at"`
}

// ListGraphsResponse wraps the registry listing.
type ListGraphsResponse struct {
	Graphs []GraphInfo `json:"graphs"`
	Count  int         `json:"count"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Graphs int    `json:"graphs"`
}

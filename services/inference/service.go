// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inference is the HTTP-facing layer of the inference engine: an
// in-memory graph registry plus run orchestration over it.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathomlabs/fathom/pkg/logging"
	"github.com/fathomlabs/fathom/services/inference/config"
	"github.com/fathomlabs/fathom/services/inference/engine"
	"github.com/fathomlabs/fathom/services/inference/graph"
	"github.com/fathomlabs/fathom/services/inference/model"
	"github.com/fathomlabs/fathom/services/inference/potential"
)

// ServiceConfig configures the Service.
type ServiceConfig struct {
	// Defaults are applied to run requests that leave options unset.
	Defaults config.Inference

	// Logger receives structured service logs. Nil falls back to the
	// default stderr logger.
	Logger *logging.Logger
}

// DefaultServiceConfig returns the configuration used by tests and the
// CLI when no config file is loaded.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Defaults: config.Default().Inference}
}

// entry is one registered graph.
type entry struct {
	info GraphInfo
	g    *graph.Graph
}

// Service owns the in-memory graph registry and runs inference over it.
//
// Thread Safety: safe for concurrent use. The registry is guarded by a
// read-write mutex; graphs are immutable once registered, so runs can
// proceed concurrently on the same graph.
type Service struct {
	mu     sync.RWMutex
	graphs map[string]*entry

	defaults config.Inference
	logger   *logging.Logger
}

// NewService creates a Service with an empty registry.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	defaults := cfg.Defaults
	if defaults.MaxIterations <= 0 {
		defaults.MaxIterations = engine.DefaultMaxIterations
	}
	if defaults.Tolerance <= 0 {
		defaults.Tolerance = engine.DefaultTolerance
	}
	return &Service{
		graphs:   make(map[string]*entry),
		defaults: defaults,
		logger:   logger,
	}
}

// CreateGraph assembles a model definition and registers the resulting
// graph under a fresh UUID.
func (s *Service) CreateGraph(def *model.Definition) (GraphInfo, error) {
	g, err := def.Build()
	if err != nil {
		return GraphInfo{}, err
	}

	info := GraphInfo{
		ID:        uuid.NewString(),
		Name:      def.Name,
		Variables: len(g.Variables()),
		Factors:   len(g.Factors()),
		Edges:     g.EdgeCount(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.graphs[info.ID] = &entry{info: info, g: g}
	registered := len(s.graphs)
	s.mu.Unlock()

	graphsRegistered.Set(float64(registered))
	s.logger.Info("graph registered",
		"graph_id", info.ID,
		"model", info.Name,
		"variables", info.Variables,
		"factors", info.Factors,
	)
	return info, nil
}

// GetGraph returns the registry entry for an ID.
func (s *Service) GetGraph(id string) (GraphInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.graphs[id]
	if !ok {
		return GraphInfo{}, fmt.Errorf("%q: %w", id, ErrGraphNotFound)
	}
	return e.info, nil
}

// ListGraphs returns all registered graphs, newest first.
func (s *Service) ListGraphs() []GraphInfo {
	s.mu.RLock()
	infos := make([]GraphInfo, 0, len(s.graphs))
	for _, e := range s.graphs {
		infos = append(infos, e.info)
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos
}

// DeleteGraph removes a graph from the registry.
func (s *Service) DeleteGraph(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[id]; !ok {
		return fmt.Errorf("%q: %w", id, ErrGraphNotFound)
	}
	delete(s.graphs, id)
	graphsRegistered.Set(float64(len(s.graphs)))
	return nil
}

// GraphCount returns the number of registered graphs.
func (s *Service) GraphCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.graphs)
}

// Run executes an inference run over a registered graph.
//
// Non-convergence of the flooding schedule is reported through
// RunResponse.Converged rather than as an error: the approximate beliefs
// remain usable and the caller decides how to treat them.
func (s *Service) Run(ctx context.Context, id string, req RunRequest) (*RunResponse, error) {
	s.mu.RLock()
	e, ok := s.graphs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrGraphNotFound)
	}

	opts, err := s.buildOptions(e.g, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := engine.Run(ctx, e.g, opts)
	if err != nil && !errors.Is(err, engine.ErrNotConverged) {
		return nil, err
	}
	if !res.Converged {
		s.logger.Warn("run did not converge",
			"graph_id", id,
			"iterations", res.Iterations,
			"max_diff", res.MaxDiff,
		)
	}
	runsTotal.WithLabelValues(
		opts.Algorithm.String(),
		opts.Schedule.String(),
		fmt.Sprintf("%t", res.Converged),
	).Inc()

	resp, err := s.buildResponse(e, opts, res)
	if err != nil {
		return nil, err
	}

	s.logger.Info("run complete",
		"graph_id", id,
		"algorithm", opts.Algorithm.String(),
		"schedule", opts.Schedule.String(),
		"converged", res.Converged,
		"iterations", res.Iterations,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// buildOptions resolves request strings against the graph and fills in
// service defaults.
func (s *Service) buildOptions(g *graph.Graph, req RunRequest) (engine.Options, error) {
	opts := engine.DefaultOptions()
	opts.MaxIterations = s.defaults.MaxIterations
	opts.Tolerance = s.defaults.Tolerance
	opts.Parallel = req.Parallel

	var err error
	if req.Algorithm != "" {
		if opts.Algorithm, err = engine.ParseAlgorithm(req.Algorithm); err != nil {
			return opts, err
		}
	}
	if req.Schedule != "" {
		if opts.Schedule, err = engine.ParseSchedule(req.Schedule); err != nil {
			return opts, err
		}
	}
	if req.Root != "" {
		if opts.Root, err = g.Lookup(req.Root); err != nil {
			return opts, err
		}
	}
	for _, name := range req.Targets {
		id, err := g.Lookup(name)
		if err != nil {
			return opts, err
		}
		opts.Targets = append(opts.Targets, id)
	}
	if req.MaxIterations > 0 {
		opts.MaxIterations = req.MaxIterations
	}
	if req.Tolerance > 0 {
		opts.Tolerance = req.Tolerance
	}
	return opts, nil
}

// buildResponse converts an engine result into wire form, ordered by
// variable name for stable output.
func (s *Service) buildResponse(e *entry, opts engine.Options, res *engine.Result) (*RunResponse, error) {
	resp := &RunResponse{
		GraphID:    e.info.ID,
		Algorithm:  opts.Algorithm.String(),
		Schedule:   opts.Schedule.String(),
		Converged:  res.Converged,
		Iterations: res.Iterations,
		MaxDiff:    res.MaxDiff,
	}

	for id, b := range res.Beliefs {
		belief := Belief{Variable: e.g.Name(id)}
		switch p := b.(type) {
		case *potential.Discrete:
			belief.Values = p.Values()
		case *potential.Gaussian:
			mean, err := p.Mean()
			if err != nil {
				return nil, fmt.Errorf("belief for %q: %w", belief.Variable, err)
			}
			cov, err := p.Covariance()
			if err != nil {
				return nil, fmt.Errorf("belief for %q: %w", belief.Variable, err)
			}
			belief.Mean = mean
			belief.Covariance = cov
		}
		resp.Beliefs = append(resp.Beliefs, belief)
	}
	sort.Slice(resp.Beliefs, func(i, j int) bool {
		return resp.Beliefs[i].Variable < resp.Beliefs[j].Variable
	})

	if res.Assignment != nil {
		resp.Assignment = make(map[string]int, len(res.Assignment))
		for id, v := range res.Assignment {
			resp.Assignment[e.g.Name(id)] = v
		}
	}
	return resp, nil
}

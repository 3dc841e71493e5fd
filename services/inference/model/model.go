// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package model defines the declarative YAML format for factor-graph
// models and assembles parsed definitions into graphs.
//
// A model names its variables and factors; edges are implied by the
// factor scopes. Discrete factors carry a row-major table over their
// scope, Gaussian factors carry moment parameters (mean and covariance):
//
//	name: sprinkler
//	variables:
//	  - {name: rain, cardinality: 2}
//	  - {name: wet, cardinality: 2}
//	factors:
//	  - name: f_rain_wet
//	    variables: [rain, wet]
//	    table: [0.9, 0.1, 0.2, 0.8]
package model

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fathomlabs/fathom/services/inference/graph"
	"github.com/fathomlabs/fathom/services/inference/potential"
)

// Variable type names accepted in a model definition.
const (
	TypeDiscrete = "discrete"
	TypeGaussian = "gaussian"
)

var validate = validator.New()

// Variable declares one node of the model.
type Variable struct {
	// Name must be unique among variables.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Type is "discrete" (default) or "gaussian".
	Type string `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=discrete gaussian"`

	// Cardinality is the domain size of a discrete variable.
	Cardinality int `yaml:"cardinality,omitempty" json:"cardinality,omitempty" validate:"omitempty,min=1"`

	// Dimension is the dimensionality of a Gaussian variable. Defaults
	// to 1.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty" validate:"omitempty,min=1"`
}

// Factor declares one factor together with its potential parameters.
// Exactly one parametrization must be present: Table for discrete
// scopes, Mean+Covariance for Gaussian ones.
type Factor struct {
	// Name must be unique among factors.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Variables is the ordered scope; every entry must name a declared
	// variable.
	Variables []string `yaml:"variables" json:"variables" validate:"required,min=1"`

	// Table is the row-major potential table over the scope, last
	// variable fastest.
	Table []float64 `yaml:"table,omitempty" json:"table,omitempty"`

	// Mean and Covariance are the moment parameters of a Gaussian
	// factor. Covariance is row-major over the concatenated scope.
	Mean       []float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	Covariance []float64 `yaml:"covariance,omitempty" json:"covariance,omitempty"`
}

// Definition is a complete declarative model.
type Definition struct {
	Name      string     `yaml:"name" json:"name" validate:"required"`
	Variables []Variable `yaml:"variables" json:"variables" validate:"required,min=1,dive"`
	Factors   []Factor   `yaml:"factors" json:"factors" validate:"required,min=1,dive"`
}

// Validate checks the definition against its schema constraints.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("validating model %q: %w: %w", d.Name, ErrInvalidModel, err)
	}
	return nil
}

// Parse decodes and validates a YAML model definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decoding model: %w: %w", ErrInvalidModel, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Load reads and parses a model definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	return Parse(data)
}

// Build assembles the definition into a factor graph: variables and
// factors become nodes, factor scopes imply the edges, and each factor's
// parameters become its potential.
func (d *Definition) Build() (*graph.Graph, error) {
	g := graph.New()

	vars := make(map[string]Variable, len(d.Variables))
	ids := make(map[string]graph.NodeID, len(d.Variables))
	for _, v := range d.Variables {
		switch v.Type {
		case TypeGaussian:
			dim := v.Dimension
			if dim == 0 {
				dim = 1
			}
			id, err := g.AddGaussianVariable(v.Name, dim)
			if err != nil {
				return nil, fmt.Errorf("model %q: %w", d.Name, err)
			}
			ids[v.Name] = id
		case TypeDiscrete, "":
			if v.Cardinality < 1 {
				return nil, fmt.Errorf("model %q: variable %q needs a cardinality: %w",
					d.Name, v.Name, ErrInvalidModel)
			}
			id, err := g.AddVariable(v.Name, v.Cardinality)
			if err != nil {
				return nil, fmt.Errorf("model %q: %w", d.Name, err)
			}
			ids[v.Name] = id
		}
		vars[v.Name] = v
	}

	for _, f := range d.Factors {
		fid, err := g.AddFactor(f.Name)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", d.Name, err)
		}
		for _, name := range f.Variables {
			vid, ok := ids[name]
			if !ok {
				return nil, fmt.Errorf("model %q: factor %q references undeclared variable %q: %w",
					d.Name, f.Name, name, ErrUndeclaredVariable)
			}
			if _, err := g.Connect(vid, fid); err != nil {
				return nil, fmt.Errorf("model %q: factor %q: %w", d.Name, f.Name, err)
			}
		}

		p, err := buildPotential(f, vars)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", d.Name, err)
		}
		if err := g.SetFactorPotential(fid, p); err != nil {
			return nil, fmt.Errorf("model %q: factor %q: %w", d.Name, f.Name, err)
		}
	}

	return g, nil
}

// buildPotential resolves a factor's parametrization against its scope's
// variable declarations.
func buildPotential(f Factor, vars map[string]Variable) (potential.Potential, error) {
	hasTable := len(f.Table) > 0
	hasMoments := len(f.Mean) > 0 || len(f.Covariance) > 0
	if hasTable == hasMoments {
		return nil, fmt.Errorf("factor %q needs either a table or mean+covariance: %w",
			f.Name, ErrInvalidModel)
	}

	if hasTable {
		cards := make([]int, len(f.Variables))
		for i, name := range f.Variables {
			v := vars[name]
			if v.Type == TypeGaussian {
				return nil, fmt.Errorf("factor %q has a table over Gaussian variable %q: %w",
					f.Name, name, ErrInvalidModel)
			}
			cards[i] = v.Cardinality
		}
		return potential.NewDiscrete(f.Variables, cards, f.Table)
	}

	dims := make([]int, len(f.Variables))
	for i, name := range f.Variables {
		v := vars[name]
		if v.Type != TypeGaussian {
			return nil, fmt.Errorf("factor %q has moments over discrete variable %q: %w",
				f.Name, name, ErrInvalidModel)
		}
		dims[i] = v.Dimension
		if dims[i] == 0 {
			dims[i] = 1
		}
	}
	return potential.NewGaussian(f.Variables, dims, f.Mean, f.Covariance)
}

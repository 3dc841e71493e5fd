// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fathomlabs/fathom/services/inference/engine"
	"github.com/fathomlabs/fathom/services/inference/graph"
	"github.com/fathomlabs/fathom/services/inference/model"
	"github.com/fathomlabs/fathom/services/inference/potential"
)

// Handlers binds the Service to gin.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handler set for a service.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// HandleCreateGraph registers a new graph from a model definition.
//
// Accepts a JSON body, or raw YAML when the Content-Type mentions yaml.
// Responds 201 with the graph's registry entry.
//
// POST /v1/inference/graphs
func (h *Handlers) HandleCreateGraph(c *gin.Context) {
	def, err := bindDefinition(c)
	if err != nil {
		respondError(c, "create_graph", http.StatusBadRequest, err)
		return
	}

	info, err := h.service.CreateGraph(def)
	if err != nil {
		respondError(c, "create_graph", statusFor(err), err)
		return
	}
	requestsTotal.WithLabelValues("create_graph", "201").Inc()
	c.JSON(http.StatusCreated, info)
}

// HandleGetGraph returns a registry entry.
//
// GET /v1/inference/graphs/:id
func (h *Handlers) HandleGetGraph(c *gin.Context) {
	info, err := h.service.GetGraph(c.Param("id"))
	if err != nil {
		respondError(c, "get_graph", statusFor(err), err)
		return
	}
	requestsTotal.WithLabelValues("get_graph", "200").Inc()
	c.JSON(http.StatusOK, info)
}

// HandleListGraphs lists all registered graphs.
//
// GET /v1/inference/graphs
func (h *Handlers) HandleListGraphs(c *gin.Context) {
	infos := h.service.ListGraphs()
	requestsTotal.WithLabelValues("list_graphs", "200").Inc()
	c.JSON(http.StatusOK, ListGraphsResponse{Graphs: infos, Count: len(infos)})
}

// HandleDeleteGraph removes a graph from the registry.
//
// DELETE /v1/inference/graphs/:id
func (h *Handlers) HandleDeleteGraph(c *gin.Context) {
	if err := h.service.DeleteGraph(c.Param("id")); err != nil {
		respondError(c, "delete_graph", statusFor(err), err)
		return
	}
	requestsTotal.WithLabelValues("delete_graph", "204").Inc()
	c.Status(http.StatusNoContent)
}

// HandleRun executes inference over a registered graph.
//
// POST /v1/inference/graphs/:id/run
func (h *Handlers) HandleRun(c *gin.Context) {
	var req RunRequest
	// An empty body means defaults throughout.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, "run", http.StatusBadRequest, err)
		return
	}

	resp, err := h.service.Run(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "run", statusFor(err), err)
		return
	}
	requestsTotal.WithLabelValues("run", "200").Inc()
	c.JSON(http.StatusOK, resp)
}

// HandleHealth reports liveness.
//
// GET /v1/inference/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Graphs: h.service.GraphCount(),
	})
}

// bindDefinition decodes the request body into a model definition,
// honoring YAML content types.
func bindDefinition(c *gin.Context) (*model.Definition, error) {
	if strings.Contains(c.ContentType(), "yaml") {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return model.Parse(data)
	}

	var def model.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidModel, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// statusFor maps service and engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrGraphNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidModel),
		errors.Is(err, model.ErrUndeclaredVariable),
		errors.Is(err, engine.ErrUnknownAlgorithm),
		errors.Is(err, engine.ErrUnknownSchedule),
		errors.Is(err, graph.ErrNodeNotFound),
		errors.Is(err, graph.ErrDuplicateNode),
		errors.Is(err, graph.ErrVariableSetMismatch),
		errors.Is(err, potential.ErrInvalidShape),
		errors.Is(err, potential.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, potential.ErrDegeneratePotential):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, endpoint string, status int, err error) {
	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

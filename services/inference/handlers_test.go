// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const chainModelJSON = `{
	"name": "chain",
	"variables": [
		{"name": "x1", "cardinality": 2},
		{"name": "x2", "cardinality": 2},
		{"name": "x3", "cardinality": 2}
	],
	"factors": [
		{"name": "fa", "variables": ["x1", "x2"], "table": [0.3, 0.4, 0.3, 0.0]},
		{"name": "fb", "variables": ["x2", "x3"], "table": [0.3, 0.4, 0.3, 0.0]}
	]
}`

func newTestRouter(t *testing.T, limiter *rate.Limiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	handlers := NewHandlers(NewService(DefaultServiceConfig()))
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers, limiter)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createChain(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/inference/graphs", chainModelJSON)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var info GraphInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.NotEmpty(t, info.ID)
	return info.ID
}

func TestHandleCreateGraph(t *testing.T) {
	router := newTestRouter(t, nil)
	w := doJSON(t, router, http.MethodPost, "/v1/inference/graphs", chainModelJSON)
	require.Equal(t, http.StatusCreated, w.Code)

	var info GraphInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "chain", info.Name)
	assert.Equal(t, 3, info.Variables)
	assert.Equal(t, 2, info.Factors)
	assert.Equal(t, 4, info.Edges)
}

func TestHandleCreateGraph_YAML(t *testing.T) {
	router := newTestRouter(t, nil)

	body := strings.Join([]string{
		"name: tiny",
		"variables:",
		"  - {name: x, cardinality: 2}",
		"factors:",
		"  - {name: f, variables: [x], table: [0.25, 0.75]}",
	}, "\n")
	req := httptest.NewRequest(http.MethodPost, "/v1/inference/graphs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/yaml")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHandleCreateGraph_Invalid(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/inference/graphs", `{"name": "empty"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Table size disagrees with the scope.
	bad := `{
		"name": "bad",
		"variables": [{"name": "x", "cardinality": 2}],
		"factors": [{"name": "f", "variables": ["x"], "table": [0.5, 0.25, 0.25]}]
	}`
	w = doJSON(t, router, http.MethodPost, "/v1/inference/graphs", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetAndListAndDelete(t *testing.T) {
	router := newTestRouter(t, nil)
	id := createChain(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/inference/graphs/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/inference/graphs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list ListGraphsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = doJSON(t, router, http.MethodDelete, "/v1/inference/graphs/"+id, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/inference/graphs/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/v1/inference/graphs/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRun_SumProduct(t *testing.T) {
	router := newTestRouter(t, nil)
	id := createChain(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/inference/graphs/"+id+"/run", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sum-product", resp.Algorithm)
	assert.Equal(t, "tree", resp.Schedule)
	assert.True(t, resp.Converged)
	assert.Nil(t, resp.Assignment)

	require.Len(t, resp.Beliefs, 3)
	assert.Equal(t, "x1", resp.Beliefs[0].Variable)
	assert.Equal(t, "x3", resp.Beliefs[2].Variable)
	assert.InDeltaSlice(t, []float64{5.0 / 9, 4.0 / 9}, resp.Beliefs[2].Values, 1e-9)
}

func TestHandleRun_MaxSumWithOptions(t *testing.T) {
	router := newTestRouter(t, nil)
	id := createChain(t, router)

	body := `{"algorithm": "max-sum", "schedule": "tree", "root": "x1", "targets": ["x3"]}`
	w := doJSON(t, router, http.MethodPost, "/v1/inference/graphs/"+id+"/run", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "max-sum", resp.Algorithm)
	require.Len(t, resp.Beliefs, 1)
	assert.Equal(t, "x3", resp.Beliefs[0].Variable)
	assert.Equal(t, map[string]int{"x1": 0, "x2": 0, "x3": 1}, resp.Assignment)
}

func TestHandleRun_Errors(t *testing.T) {
	router := newTestRouter(t, nil)
	id := createChain(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/inference/graphs/missing/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/inference/graphs/"+id+"/run",
		`{"algorithm": "gibbs"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/inference/graphs/"+id+"/run",
		`{"root": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRun_RateLimited(t *testing.T) {
	router := newTestRouter(t, rate.NewLimiter(rate.Limit(0.001), 1))
	id := createChain(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/inference/graphs/"+id+"/run", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/inference/graphs/"+id+"/run", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t, nil)
	createChain(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/inference/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Graphs)
}

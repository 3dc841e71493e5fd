// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/fathomlabs/fathom/services/inference/config"
)

// RegisterRoutes registers the inference endpoints with the router group.
//
// Endpoints:
//
//	POST   /v1/inference/graphs          - register a model as a graph
//	GET    /v1/inference/graphs          - list registered graphs
//	GET    /v1/inference/graphs/:id      - get a graph's registry entry
//	DELETE /v1/inference/graphs/:id      - remove a graph
//	POST   /v1/inference/graphs/:id/run  - run inference (rate limited)
//	GET    /v1/inference/health          - health check
//
// The limiter guards the run endpoint only; registry operations are
// cheap and stay unthrottled.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limiter *rate.Limiter) {
	inf := rg.Group("/inference")
	{
		graphs := inf.Group("/graphs")
		{
			graphs.POST("", handlers.HandleCreateGraph)
			graphs.GET("", handlers.HandleListGraphs)
			graphs.GET("/:id", handlers.HandleGetGraph)
			graphs.DELETE("/:id", handlers.HandleDeleteGraph)
			graphs.POST("/:id/run", rateLimitMiddleware(limiter), handlers.HandleRun)
		}

		inf.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter assembles the full gin engine: recovery, otel middleware,
// /metrics, and the versioned API group.
func NewRouter(cfg config.Config, handlers *Handlers) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("fathom-inference"))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers, limiter)

	return router
}

// rateLimitMiddleware rejects requests beyond the token bucket with 429.
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			rateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

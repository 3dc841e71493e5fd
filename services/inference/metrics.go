// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the HTTP service. The engine reports its own
// metrics through OpenTelemetry; these cover the serving layer.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fathom_http_requests_total",
		Help: "HTTP requests by endpoint and status code",
	}, []string{"endpoint", "status"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fathom_service_runs_total",
		Help: "Inference runs by algorithm, schedule and convergence",
	}, []string{"algorithm", "schedule", "converged"})

	graphsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fathom_graphs_registered",
		Help: "Graphs currently held in the registry",
	})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fathom_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)

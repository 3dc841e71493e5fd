// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for inference runs.
var (
	tracer = otel.Tracer("fathom.inference.engine")
	meter  = otel.Meter("fathom.inference.engine")
)

// Metrics for inference runs.
var (
	runLatency     metric.Float64Histogram
	runsTotal      metric.Int64Counter
	iterationsHist metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"inference_run_duration_seconds",
			metric.WithDescription("Duration of inference runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runsTotal, err = meter.Int64Counter(
			"inference_runs_total",
			metric.WithDescription("Total number of inference runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationsHist, err = meter.Int64Histogram(
			"inference_iterations",
			metric.WithDescription("Message-passing iterations per run"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRun records per-run metrics. No-op if metric initialization failed;
// inference must not depend on a working telemetry pipeline.
func recordRun(ctx context.Context, opts Options, start time.Time, iterations int, converged bool) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("algorithm", opts.Algorithm.String()),
		attribute.String("schedule", opts.Schedule.String()),
		attribute.Bool("converged", converged),
	)
	runLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	runsTotal.Add(ctx, 1, attrs)
	iterationsHist.Record(ctx, int64(iterations), attrs)
}

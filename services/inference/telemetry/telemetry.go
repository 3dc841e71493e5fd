// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry initializes the OpenTelemetry metrics pipeline for
// the inference service.
//
// After Init returns successfully, otel.Meter() instruments anywhere in
// the process report through the configured exporter. The prometheus
// exporter registers with the default prometheus registry; the service
// exposes it on /metrics via promhttp.
package telemetry

import (
	"context"
	"fmt"
	"time"

	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config controls the metrics pipeline.
type Config struct {
	// ServiceName identifies this service in exported metrics.
	ServiceName string

	// ServiceVersion is the version string attached to the resource.
	ServiceVersion string

	// MetricExporter selects the exporter: "prometheus", "stdout" or
	// "none".
	MetricExporter string
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "fathom",
		ServiceVersion: "dev",
		MetricExporter: "prometheus",
	}
}

// Init sets up the OpenTelemetry MeterProvider.
//
// Returns a shutdown function that flushes and stops the pipeline; it
// must be called on process exit. With MetricExporter "none" the
// shutdown function is a no-op.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	noop := func(context.Context) error { return nil }
	if cfg.MetricExporter == "none" {
		return noop, nil
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	var reader sdkmetric.Reader
	switch cfg.MetricExporter {
	case "prometheus":
		exp, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		reader = exp
	case "stdout":
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.MetricExporter)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

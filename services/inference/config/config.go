// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the inference service configuration.
//
// Configuration is layered: defaults, then an optional YAML file, then
// FATHOM_* environment variables. Environment variables win:
//
//	FATHOM_ADDR             server listen address
//	FATHOM_GIN_MODE         gin mode (debug, release, test)
//	FATHOM_LOG_LEVEL        log level (debug, info, warn, error)
//	FATHOM_LOG_DIR          log directory (enables file logging)
//	FATHOM_MAX_ITERATIONS   default flooding iteration budget
//	FATHOM_TOLERANCE        default convergence tolerance
//	FATHOM_RATE_RPS         run-endpoint rate limit (requests/second)
//	FATHOM_RATE_BURST       run-endpoint burst allowance
//	FATHOM_METRIC_EXPORTER  metric exporter (prometheus, stdout, none)
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Server configures the HTTP listener.
type Server struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr"`

	// Mode is the gin mode: debug, release or test.
	Mode string `yaml:"mode"`
}

// Log configures structured logging.
type Log struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `yaml:"level"`

	// Dir enables file logging to the given directory when set.
	Dir string `yaml:"dir"`
}

// Inference holds the default engine options applied when a request
// leaves them unset.
type Inference struct {
	// MaxIterations is the default flooding iteration budget.
	MaxIterations int `yaml:"max_iterations"`

	// Tolerance is the default convergence tolerance.
	Tolerance float64 `yaml:"tolerance"`
}

// RateLimit configures the token bucket guarding run endpoints.
type RateLimit struct {
	// RPS is the sustained requests-per-second allowance.
	RPS float64 `yaml:"rps"`

	// Burst is the bucket size.
	Burst int `yaml:"burst"`
}

// Telemetry selects the metric exporter.
type Telemetry struct {
	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string `yaml:"metric_exporter"`
}

// Config is the full service configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Inference Inference `yaml:"inference"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Server:    Server{Addr: ":8093", Mode: "release"},
		Log:       Log{Level: "info"},
		Inference: Inference{MaxIterations: 50, Tolerance: 1e-6},
		RateLimit: RateLimit{RPS: 10, Burst: 20},
		Telemetry: Telemetry{MetricExporter: "prometheus"},
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty or the file does not exist), and FATHOM_*
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Absent config file is fine; defaults apply.
		case err != nil:
			return cfg, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("decoding config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FATHOM_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FATHOM_GIN_MODE"); v != "" {
		c.Server.Mode = v
	}
	if v := os.Getenv("FATHOM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FATHOM_LOG_DIR"); v != "" {
		c.Log.Dir = v
	}
	if v := os.Getenv("FATHOM_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Inference.MaxIterations = n
		}
	}
	if v := os.Getenv("FATHOM_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Inference.Tolerance = f
		}
	}
	if v := os.Getenv("FATHOM_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("FATHOM_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("FATHOM_METRIC_EXPORTER"); v != "" {
		c.Telemetry.MetricExporter = v
	}
}

// Validate checks field constraints and applies defaults for values a
// file or environment override zeroed out.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8093"
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	case "":
		c.Server.Mode = "release"
	default:
		return fmt.Errorf("%w: gin mode %q", ErrInvalidConfig, c.Server.Mode)
	}
	if c.Inference.MaxIterations <= 0 {
		c.Inference.MaxIterations = 50
	}
	if c.Inference.Tolerance <= 0 {
		c.Inference.Tolerance = 1e-6
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 10
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "stdout", "none":
	case "":
		c.Telemetry.MetricExporter = "prometheus"
	default:
		return fmt.Errorf("%w: metric exporter %q", ErrInvalidConfig, c.Telemetry.MetricExporter)
	}
	return nil
}

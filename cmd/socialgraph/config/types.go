// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// Store backends.
const (
	BackendBadger = "badger"
	BackendNeo4j  = "neo4j"
)

// ErrInvalidConfig is returned when a loaded config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the socialgraph.yaml file.
type Config struct {
	Meta      MetaConfig      `yaml:"meta"`
	Store     StoreConfig     `yaml:"store"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

// StoreConfig selects and configures the graph store.
type StoreConfig struct {
	// Backend is "badger" (embedded, default) or "neo4j".
	Backend string `yaml:"backend" validate:"oneof=badger neo4j"`

	// Path is the Badger data directory. Supports ~.
	Path string `yaml:"path" validate:"required_if=Backend badger InMemory false"`

	// InMemory keeps Badger data in memory only.
	InMemory bool `yaml:"in_memory"`

	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// Neo4jConfig mirrors the NEO4J_* environment variables.
type Neo4jConfig struct {
	URI string `yaml:"uri"`

	// Auth is "user/password" or "none".
	Auth     string `yaml:"auth"`
	Database string `yaml:"database"`

	MaxConnectionPoolSize int           `yaml:"max_connection_pool_size" validate:"gte=0"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

// ServerConfig configures `socialgraph serve`.
type ServerConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// RateLimit is requests per second across all clients; 0 disables.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`

	// VerifyInterval is how often the background audit runs; 0 disables it.
	VerifyInterval  time.Duration `yaml:"verify_interval" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none otlp jaeger stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`

	// SampleRatio is the fraction of root traces kept. 0 keeps all.
	SampleRatio float64 `yaml:"sample_ratio,omitempty" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Store: StoreConfig{
			Backend:    BackendBadger,
			Path:       "~/.socialgraph/data",
			GCInterval: 10 * time.Minute,
		},
		Neo4j: Neo4jConfig{
			URI:                   "neo4j://localhost:7687",
			Auth:                  "neo4j/password",
			MaxConnectionPoolSize: 50,
			ConnectTimeout:        10 * time.Second,
		},
		Server: ServerConfig{
			Port:            12230,
			RateLimit:       100,
			RateBurst:       200,
			VerifyInterval:  5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			errs := make([]error, len(verrs))
			for i, fe := range verrs {
				errs[i] = fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Store.Backend == BackendNeo4j && c.Neo4j.URI == "" {
		return fmt.Errorf("%w: neo4j.uri is required with the neo4j backend", ErrInvalidConfig)
	}
	return nil
}

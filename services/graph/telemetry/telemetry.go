// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names a trace or metric backend.
type Exporter string

const (
	ExporterNone       Exporter = "none"
	ExporterOTLP       Exporter = "otlp"
	ExporterStdout     Exporter = "stdout"
	ExporterPrometheus Exporter = "prometheus"

	// exporterJaeger is accepted for traces; Jaeger ingests OTLP.
	exporterJaeger Exporter = "jaeger"
)

// AttrStoreBackend tags every span and metric with the graph store in use.
const AttrStoreBackend = attribute.Key("socialgraph.store.backend")

// Config selects where socialgraph telemetry goes.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Environment is reported as deployment.environment.
	Environment string

	// StoreBackend is "badger" or "neo4j". Empty omits the attribute.
	StoreBackend string

	// Traces is ExporterOTLP, ExporterStdout or ExporterNone.
	Traces Exporter

	// Metrics is ExporterPrometheus, ExporterStdout or ExporterNone.
	Metrics Exporter

	// OTLPEndpoint is the collector address for ExporterOTLP.
	OTLPEndpoint string
	OTLPInsecure bool

	// SampleRatio is the fraction of root traces kept. 0 or >= 1 keeps all.
	SampleRatio float64

	// Output receives stdout exporter data. Default: os.Stdout.
	Output io.Writer
}

// DefaultConfig returns the settings for a local run: Prometheus metrics,
// no traces. SOCIALGRAPH_ENV sets the environment name.
func DefaultConfig() Config {
	env := os.Getenv("SOCIALGRAPH_ENV")
	if env == "" {
		env = "development"
	}
	return Config{
		ServiceName:    "socialgraph",
		ServiceVersion: "0.1.0",
		Environment:    env,
		Traces:         ExporterNone,
		Metrics:        ExporterPrometheus,
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
}

// Init installs the global tracer and meter providers.
//
// Description:
//
//	Builds one resource describing this socialgraph process, then a
//	TracerProvider and MeterProvider for the configured exporters. With
//	ExporterPrometheus, MetricsHandler serves a registry private to this
//	call. Providers set to ExporterNone are left as the otel no-ops.
//
// Inputs:
//
//	ctx - Used for resource detection and exporter connections.
//	cfg - Telemetry configuration. Start from DefaultConfig().
//
// Outputs:
//
//	shutdown - Flushes and stops the providers. Must be called.
//	error - ErrNilContext, ErrUnknownExporter or an exporter error.
//
// Thread Safety: Call once at application startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	var stops shutdowns
	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	if tp != nil {
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}

	mp, err := newMeterProvider(cfg, res)
	if err != nil {
		_ = stops.shutdown(ctx)
		return nil, fmt.Errorf("init meter: %w", err)
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}

	return stops.shutdown, nil
}

// shutdowns stops providers, collecting every error.
type shutdowns []func(context.Context) error

func (s shutdowns) shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range s {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// =============================================================================
// Resource
// =============================================================================

// resourceAttributes are the socialgraph-specific resource attributes.
func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	}
	if cfg.StoreBackend != "" {
		attrs = append(attrs, AttrStoreBackend.String(cfg.StoreBackend))
	}
	return attrs
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(resourceAttributes(cfg)...),
	)
	if errors.Is(err, resource.ErrPartialResource) {
		return res, nil
	}
	return res, err
}

// =============================================================================
// Traces
// =============================================================================

// newTracerProvider returns nil when traces are off.
func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*trace.TracerProvider, error) {
	exporter, err := spanExporter(ctx, cfg)
	if err != nil || exporter == nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler(cfg.SampleRatio)),
	), nil
}

func spanExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch Exporter(strings.ToLower(string(cfg.Traces))) {
	case ExporterNone, "":
		return nil, nil

	case ExporterOTLP, exporterJaeger:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter for %s: %w", cfg.OTLPEndpoint, err)
		}
		return exporter, nil

	case ExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(output(cfg)), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exporter, nil
	}
	return nil, fmt.Errorf("%w for traces: %s", ErrUnknownExporter, cfg.Traces)
}

// sampler keeps the caller's decision for propagated traces and samples
// root traces at ratio.
func sampler(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.ParentBased(trace.AlwaysSample())
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}

// =============================================================================
// Metrics
// =============================================================================

var (
	prometheusHandler   http.Handler
	prometheusHandlerMu sync.RWMutex
)

// MetricsHandler returns the /metrics handler of the last Init that used
// ExporterPrometheus, or nil.
//
// Thread Safety: Safe for concurrent use.
func MetricsHandler() http.Handler {
	prometheusHandlerMu.RLock()
	defer prometheusHandlerMu.RUnlock()
	return prometheusHandler
}

func setMetricsHandler(h http.Handler) {
	prometheusHandlerMu.Lock()
	prometheusHandler = h
	prometheusHandlerMu.Unlock()
}

// newMeterProvider returns nil when metrics are off.
func newMeterProvider(cfg Config, res *resource.Resource) (*metric.MeterProvider, error) {
	reader, handler, err := metricReader(cfg)
	if err != nil || reader == nil {
		return nil, err
	}
	if handler != nil {
		setMetricsHandler(handler)
	}
	return metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader)), nil
}

// metricReader returns the reader for cfg.Metrics and, for Prometheus,
// the handler serving its registry.
func metricReader(cfg Config) (metric.Reader, http.Handler, error) {
	switch Exporter(strings.ToLower(string(cfg.Metrics))) {
	case ExporterNone, "":
		return nil, nil, nil

	case ExporterPrometheus:
		reg := prometheus.NewRegistry()
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return nil, nil, fmt.Errorf("register go collector: %w", err)
		}
		if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, nil, fmt.Errorf("register process collector: %w", err)
		}
		exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return exporter, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), nil

	case ExporterStdout:
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(output(cfg)), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return metric.NewPeriodicReader(exporter), nil, nil
	}
	return nil, nil, fmt.Errorf("%w for metrics: %s", ErrUnknownExporter, cfg.Metrics)
}

func output(cfg Config) io.Writer {
	if cfg.Output != nil {
		return cfg.Output
	}
	return os.Stdout
}

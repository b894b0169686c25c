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
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("SOCIALGRAPH_ENV", "staging")

	cfg := DefaultConfig()
	assert.Equal(t, "socialgraph", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.Traces)
	assert.Equal(t, ExporterPrometheus, cfg.Metrics)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestResourceAttributes(t *testing.T) {
	cfg := DefaultConfig()
	attrs := attribute.NewSet(resourceAttributes(cfg)...)
	_, ok := attrs.Value(AttrStoreBackend)
	assert.False(t, ok, "backend omitted when unset")

	cfg.StoreBackend = "neo4j"
	res, err := newResource(context.Background(), cfg)
	require.NoError(t, err)
	v, ok := res.Set().Value(AttrStoreBackend)
	require.True(t, ok)
	assert.Equal(t, "neo4j", v.AsString())
	v, ok = res.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "socialgraph", v.AsString())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_Noop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Traces = ExporterNone
	cfg.Metrics = ExporterNone

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_StdoutTracer(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Traces = ExporterStdout
	cfg.Metrics = ExporterNone
	cfg.StoreBackend = "badger"
	cfg.Output = &buf

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "graph-put-node")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "graph-put-node")
	assert.Contains(t, buf.String(), string(AttrStoreBackend))
}

func TestInit_JaegerIsOTLP(t *testing.T) {
	exporter, err := spanExporter(context.Background(), Config{Traces: "jaeger", OTLPEndpoint: "localhost:4317", OTLPInsecure: true})
	require.NoError(t, err)
	require.NotNil(t, exporter)
	_ = exporter.Shutdown(context.Background())
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Traces = "carrier_pigeon"

	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg.Traces = ExporterNone
	cfg.Metrics = "smoke_signals"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Traces = ExporterNone
	cfg.Metrics = ExporterPrometheus

	// Init twice: each call gets its own registry.
	for range 2 {
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = shutdown(context.Background()) })
	}

	counter, err := otel.Meter("test").Int64Counter("graph_test_events_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	handler := MetricsHandler()
	require.NotNil(t, handler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), "graph_test_events_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetricsMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewHTTPMetrics(provider.Meter("test"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(MetricsMiddleware(m))
	router.GET("/v1/graph/nodes/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/v1/graph/nodes/a", "/v1/graph/nodes/b", "/nope"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	routes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "graph_http_requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value("route")
				routes[route.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"/v1/graph/nodes/:id": 2, "unmatched": 1}, routes)
}

func TestTracingMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(TracingMiddleware("socialgraph-test"))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	t.Run("no span", func(t *testing.T) {
		buf.Reset()
		LoggerWithTrace(context.Background(), logger).Info("msg")
		assert.NotContains(t, buf.String(), "trace_id")
	})

	t.Run("nil logger", func(t *testing.T) {
		assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
	})

	t.Run("with span", func(t *testing.T) {
		buf.Reset()
		traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
		spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
		ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}))

		LoggerWithTrace(ctx, logger).Info("msg")
		assert.Contains(t, buf.String(), traceID.String())
		assert.Contains(t, buf.String(), spanID.String())
	})
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("socialgraph.graph")
	meter  = otel.Meter("socialgraph.graph")
)

var (
	writeLatency    metric.Float64Histogram
	writeTotal      metric.Int64Counter
	verifyLatency   metric.Float64Histogram
	verifyFindings  metric.Int64Gauge
	verifyScanned   metric.Int64Gauge
	metricsInitOnce sync.Once
	metricsInitErr  error
)

// auditReasons are reported on every verify run so gauges drop to zero
// once a problem is fixed.
var auditReasons = []schema.Reason{
	schema.ReasonUnknownLabel,
	schema.ReasonUnknownProperty,
	schema.ReasonNotNullable,
	schema.ReasonWrongType,
	schema.ReasonNotInEnum,
	schema.ReasonWrongEndpoint,
	ReasonDanglingEdge,
}

func initMetrics() error {
	metricsInitOnce.Do(func() {
		var err error

		writeLatency, err = meter.Float64Histogram(
			"graph_write_duration_seconds",
			metric.WithDescription("Duration of validated graph writes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		writeTotal, err = meter.Int64Counter(
			"graph_writes_total",
			metric.WithDescription("Graph writes by entity, label and outcome"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		verifyLatency, err = meter.Float64Histogram(
			"graph_verify_duration_seconds",
			metric.WithDescription("Duration of a full graph audit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		verifyFindings, err = meter.Int64Gauge(
			"graph_verify_violations",
			metric.WithDescription("Violations found by the last audit, by reason"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		verifyScanned, err = meter.Int64Gauge(
			"graph_verify_scanned",
			metric.WithDescription("Entities scanned by the last audit"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
	})
	return metricsInitErr
}

// outcome classifies a write error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isInvalid(err):
		return "invalid"
	default:
		return "error"
	}
}

// unknownLabel is the metric label for writes whose label the applied
// schema does not declare. Request input never becomes a label value.
const unknownLabel = "unknown"

// metricLabel returns label when sch declares it for kind, and
// unknownLabel otherwise (including when no schema could be loaded).
func metricLabel(sch *schema.Schema, kind EntityKind, label schema.Label) string {
	if sch == nil {
		return unknownLabel
	}
	var ok bool
	if kind == EntityEdge {
		_, ok = sch.Edge(label)
	} else {
		_, ok = sch.Node(label)
	}
	if !ok {
		return unknownLabel
	}
	return string(label)
}

func recordWrite(ctx context.Context, kind EntityKind, label string, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entity", string(kind)),
		attribute.String("label", label),
		attribute.String("outcome", outcome(err)),
	)
	writeLatency.Record(ctx, duration.Seconds(), attrs)
	writeTotal.Add(ctx, 1, attrs)
}

func recordVerify(ctx context.Context, r *Report) {
	if initMetrics() != nil {
		return
	}
	verifyLatency.Record(ctx, r.Duration.Seconds())

	counts := r.CountByReason()
	for _, reason := range auditReasons {
		verifyFindings.Record(ctx, int64(counts[reason]),
			metric.WithAttributes(attribute.String("reason", string(reason))))
	}
	verifyScanned.Record(ctx, int64(r.NodesScanned), metric.WithAttributes(attribute.String("entity", string(EntityNode))))
	verifyScanned.Record(ctx, int64(r.EdgesScanned), metric.WithAttributes(attribute.String("entity", string(EntityEdge))))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

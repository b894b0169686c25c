// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migrations

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("socialgraph.migrations")
	meter  = otel.Meter("socialgraph.migrations")
)

var (
	applyLatency metric.Float64Histogram
	applyTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		applyLatency, err = meter.Float64Histogram(
			"graph_migration_duration_seconds",
			metric.WithDescription("Duration of applying a single migration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		applyTotal, err = meter.Int64Counter(
			"graph_migrations_applied_total",
			metric.WithDescription("Migrations applied, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordApply(ctx context.Context, version int, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Int("version", version),
		attribute.Bool("success", success),
	)
	applyLatency.Record(ctx, duration.Seconds(), attrs)
	applyTotal.Add(ctx, 1, attrs)
}

func startApplySpan(ctx context.Context, m Migration) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Runner.apply",
		trace.WithAttributes(
			attribute.Int("migration.version", m.Version),
			attribute.String("migration.name", m.Name()),
		),
	)
}

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
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics holds the request metrics recorded by MetricsMiddleware.
//
// Thread Safety: Safe for concurrent use after creation.
type HTTPMetrics struct {
	// RequestsTotal counts requests by method, route and status.
	RequestsTotal metric.Int64Counter

	// RequestDuration records request duration in seconds.
	RequestDuration metric.Float64Histogram

	// ActiveRequests tracks requests in flight.
	ActiveRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the HTTP metrics with meter.
//
// Example:
//
//	m, err := telemetry.NewHTTPMetrics(otel.Meter("socialgraph.http"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	router.Use(telemetry.MetricsMiddleware(m))
func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	var err error

	m.RequestsTotal, err = meter.Int64Counter(
		"graph_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.RequestDuration, err = meter.Float64Histogram(
		"graph_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration_seconds: %w", err)
	}

	m.ActiveRequests, err = meter.Int64UpDownCounter(
		"graph_http_active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	return m, nil
}

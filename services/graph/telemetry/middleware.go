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
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TracingMiddleware returns otelgin middleware that wraps each request in a
// server span and extracts incoming trace context.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// MetricsMiddleware records request count, duration and in-flight requests.
//
// Description:
//
//	The route attribute is the matched route template (e.g.
//	"/v1/graph/nodes/:id"), not the raw path, so IDs do not explode label
//	cardinality. Unmatched requests are recorded as "unmatched".
//
// Thread Safety: Safe for concurrent use.
func MetricsMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		m.ActiveRequests.Add(ctx, 1)
		defer m.ActiveRequests.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("route", route),
			attribute.Int("status", c.Writer.Status()),
		)
		m.RequestsTotal.Add(ctx, 1, attrs)
		m.RequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

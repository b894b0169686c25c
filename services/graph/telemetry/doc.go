// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry configures OpenTelemetry tracing and metrics for the
// social graph service.
//
// # Philosophy
//
// OpenTelemetry is the abstraction layer. Packages call otel.Tracer() and
// otel.Meter() directly; Init decides where the data goes.
//
// # Metrics Backend (default: Prometheus)
//
// Metrics are exposed for scraping through MetricsHandler, mounted at
// /metrics by `socialgraph serve`. The registry is private to each Init
// call, so tests can initialize telemetry more than once.
//
// # Trace Backend (default: none)
//
// Traces go to an OTLP collector or stdout when enabled. The CLI has no
// collector to talk to by default, so tracing is off unless configured.
//
// # Resource
//
// Every span and metric carries service.name, service.version,
// deployment.environment, host.name and socialgraph.store.backend, so a
// Badger and a Neo4j deployment can be told apart in one backend.
// SOCIALGRAPH_ENV sets the environment name (default: development).
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry

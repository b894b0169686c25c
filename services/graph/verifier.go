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
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultVerifyInterval is how often the background verifier audits the
// graph when no interval is configured.
const DefaultVerifyInterval = 5 * time.Minute

// Verifier audits the graph on a fixed interval and keeps the last report.
//
// Thread Safety: Run must be called once. Last is safe for concurrent use.
type Verifier struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger

	last atomic.Pointer[Report]
	runs atomic.Int64
}

// NewVerifier creates a verifier. A non-positive interval uses
// DefaultVerifyInterval.
func NewVerifier(svc *Service, interval time.Duration, logger *slog.Logger) *Verifier {
	if interval <= 0 {
		interval = DefaultVerifyInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Verifier{
		svc:      svc,
		interval: interval,
		logger:   logger.With(slog.String("component", "verifier")),
	}
}

// Run audits once immediately and then on every tick until ctx is done.
// Audit failures are logged and do not stop the loop. Returns nil when
// ctx is cancelled.
func (v *Verifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	v.logger.Info("background verifier started", slog.Duration("interval", v.interval))
	v.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			v.logger.Info("background verifier stopped")
			return nil
		case <-ticker.C:
			v.tick(ctx)
		}
	}
}

func (v *Verifier) tick(ctx context.Context) {
	report, err := v.svc.Verify(ctx)
	v.runs.Add(1)
	if err != nil {
		if ctx.Err() == nil {
			v.logger.Error("graph audit failed", slog.String("error", err.Error()))
		}
		return
	}
	v.last.Store(report)
	if !report.OK() {
		v.logger.Warn("graph audit found violations", slog.Int("findings", len(report.Findings)))
	}
}

// Last returns the most recent successful report, or nil before the first.
func (v *Verifier) Last() *Report {
	return v.last.Load()
}

// Runs returns how many audits have been attempted.
func (v *Verifier) Runs() int64 {
	return v.runs.Load()
}

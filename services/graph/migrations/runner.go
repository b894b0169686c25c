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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"go.opentelemetry.io/otel/codes"
)

// State is the status of one migration against a store's ledger.
type State string

const (
	StateApplied          State = "applied"
	StatePending          State = "pending"
	StateChecksumMismatch State = "checksum_mismatch"

	// StateUnknown marks ledger entries with no registered migration.
	StateUnknown State = "unknown"
)

// MigrationStatus describes one migration for `migrate status`.
type MigrationStatus struct {
	Version         int           `json:"version" yaml:"version"`
	Name            string        `json:"name" yaml:"name"`
	Description     string        `json:"description" yaml:"description"`
	State           State         `json:"state" yaml:"state"`
	Checksum        string        `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	AppliedChecksum string        `json:"applied_checksum,omitempty" yaml:"applied_checksum,omitempty"`
	AppliedAt       *time.Time    `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
	Duration        time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// PlanStep is what a dry run reports for one pending migration.
type PlanStep struct {
	Version  int    `json:"version" yaml:"version"`
	Name     string `json:"name" yaml:"name"`
	Checksum string `json:"checksum" yaml:"checksum"`

	// Changes describes the schema changes in words.
	Changes []string `json:"changes" yaml:"changes"`

	// Statements lists what the store would execute, when it can say.
	Statements []string `json:"statements,omitempty" yaml:"statements,omitempty"`
}

// Runner applies registered migrations to a store.
//
// Thread Safety: Safe for concurrent use. Migrate calls are serialized.
type Runner struct {
	store    storage.Store
	registry *Registry
	logger   *slog.Logger

	mu sync.Mutex
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(store storage.Store, registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		store:    store,
		registry: registry,
		logger:   logger.With(slog.String("component", "migrations")),
	}
}

// Registry returns the runner's registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Status reports every registered migration plus any ledger entries the
// registry does not know.
func (r *Runner) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := r.appliedByVersion(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(r.registry.migrations))
	for _, m := range r.registry.migrations {
		st := MigrationStatus{
			Version:     m.Version,
			Name:        m.Name(),
			Description: m.Description,
			Checksum:    m.Checksum(),
			State:       StatePending,
		}
		if rec, ok := applied[m.Version]; ok {
			at := rec.AppliedAt
			st.AppliedAt = &at
			st.Duration = rec.Duration
			st.AppliedChecksum = rec.Checksum
			st.State = StateApplied
			if rec.Checksum != st.Checksum {
				st.State = StateChecksumMismatch
			}
			delete(applied, m.Version)
		}
		out = append(out, st)
	}

	for _, rec := range sortedRecords(applied) {
		at := rec.AppliedAt
		out = append(out, MigrationStatus{
			Version:         rec.Version,
			Name:            fmt.Sprintf("V%04d", rec.Version),
			Description:     rec.Description,
			State:           StateUnknown,
			AppliedChecksum: rec.Checksum,
			AppliedAt:       &at,
			Duration:        rec.Duration,
		})
	}
	return out, nil
}

// Pending returns registered migrations not yet in the ledger, in order.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := r.appliedByVersion(ctx)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, m := range r.registry.migrations {
		if _, ok := applied[m.Version]; !ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Validate checks the ledger against the registry.
//
// Outputs:
//
//	error - nil if consistent, otherwise an errors.Join of ErrChecksumMismatch,
//	ErrUnknownVersion and ErrLedgerGap errors, one per problem.
func (r *Runner) Validate(ctx context.Context) error {
	recs, err := r.store.AppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	var errs []error
	for i, rec := range recs {
		if rec.Version != i+1 {
			errs = append(errs, fmt.Errorf("expected version %d, found %d: %w", i+1, rec.Version, ErrLedgerGap))
		}
		m, ok := r.registry.Get(rec.Version)
		if !ok {
			errs = append(errs, fmt.Errorf("ledger version %d: %w", rec.Version, ErrUnknownVersion))
			continue
		}
		if sum := m.Checksum(); sum != rec.Checksum {
			errs = append(errs, fmt.Errorf("%s: applied %s, registered %s: %w",
				m.Name(), short(rec.Checksum), short(sum), ErrChecksumMismatch))
		}
	}
	return errors.Join(errs...)
}

// CurrentVersion returns the highest applied version, 0 when the ledger
// is empty.
func (r *Runner) CurrentVersion(ctx context.Context) (int, error) {
	recs, err := r.store.AppliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}
	version := 0
	for _, rec := range recs {
		if rec.Version > version {
			version = rec.Version
		}
	}
	return version, nil
}

// CurrentSchema returns the schema at the applied version.
func (r *Runner) CurrentSchema(ctx context.Context) (*schema.Schema, error) {
	version, err := r.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	return r.registry.SchemaAt(version)
}

// Plan describes what Migrate(ctx, target) would do without doing it.
func (r *Runner) Plan(ctx context.Context, target int) ([]PlanStep, error) {
	steps, err := r.steps(ctx, target)
	if err != nil {
		return nil, err
	}

	planner, _ := r.store.(storage.Planner)
	out := make([]PlanStep, 0, len(steps))
	for _, m := range steps {
		step := PlanStep{Version: m.Version, Name: m.Name(), Checksum: m.Checksum()}
		for _, c := range m.Changes {
			step.Changes = append(step.Changes, c.String())
		}
		if planner != nil {
			step.Statements = planner.PlanMigration(m.record(), m.Indexes())
		}
		out = append(out, step)
	}
	return out, nil
}

// Migrate applies pending migrations in order up to target.
//
// Description:
//
//	Target 0 means the latest registered version. The ledger is validated
//	first; a checksum mismatch or unknown version stops the run before
//	anything is applied. Each migration is applied at most once. Running
//	Migrate when nothing is pending is a no-op.
//
// Inputs:
//
//	ctx - Cancels between and during migrations.
//	target - Highest version to apply, or 0.
//
// Outputs:
//
//	[]storage.MigrationRecord - Records of migrations applied by this call,
//	including those applied before a later one failed.
//	error - ErrInvalidTarget (also ErrUnknownVersion when target is past the
//	latest version), a Validate error, or the store error of the failing
//	migration.
func (r *Runner) Migrate(ctx context.Context, target int) ([]storage.MigrationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps, err := r.steps(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		r.logger.Info("schema is up to date")
		return nil, nil
	}

	var applied []storage.MigrationRecord
	for _, m := range steps {
		if err := ctx.Err(); err != nil {
			return applied, fmt.Errorf("context cancelled: %w", err)
		}
		rec, err := r.apply(ctx, m)
		if err != nil {
			return applied, err
		}
		applied = append(applied, rec)
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) (storage.MigrationRecord, error) {
	ctx, span := startApplySpan(ctx, m)
	defer span.End()

	rec := m.record()
	rec.AppliedAt = time.Now().UTC()

	r.logger.Info("applying migration",
		slog.String("name", m.Name()),
		slog.String("checksum", short(rec.Checksum)),
	)

	stored, err := r.store.ApplyMigration(ctx, rec, m.Indexes())
	recordApply(ctx, m.Version, time.Since(rec.AppliedAt), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("migration failed", slog.String("name", m.Name()), slog.String("error", err.Error()))
		return storage.MigrationRecord{}, fmt.Errorf("apply %s: %w", m.Name(), err)
	}

	r.logger.Info("migration applied",
		slog.String("name", m.Name()),
		slog.Duration("duration", stored.Duration),
	)
	return stored, nil
}

// steps validates the ledger and returns the migrations needed to reach
// target.
func (r *Runner) steps(ctx context.Context, target int) ([]Migration, error) {
	if err := r.Validate(ctx); err != nil {
		return nil, err
	}
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	latest := r.registry.Latest()
	switch {
	case target == 0:
		target = latest
	case target < 0 || target > latest:
		return nil, fmt.Errorf("target %d (latest is %d): %w: %w", target, latest, ErrInvalidTarget, ErrUnknownVersion)
	case target < current:
		return nil, fmt.Errorf("target %d is below applied version %d: %w", target, current, ErrInvalidTarget)
	}

	var out []Migration
	for v := current + 1; v <= target; v++ {
		m, _ := r.registry.Get(v)
		out = append(out, m)
	}
	return out, nil
}

func (r *Runner) appliedByVersion(ctx context.Context) (map[int]storage.MigrationRecord, error) {
	recs, err := r.store.AppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	out := make(map[int]storage.MigrationRecord, len(recs))
	for _, rec := range recs {
		out[rec.Version] = rec
	}
	return out, nil
}

func sortedRecords(m map[int]storage.MigrationRecord) []storage.MigrationRecord {
	out := make([]storage.MigrationRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// short abbreviates a checksum for logs and messages.
func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

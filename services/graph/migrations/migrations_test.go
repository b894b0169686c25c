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
	"testing"
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"github.com/AleutianAI/socialgraph/services/graph/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T) (*Runner, *badger.Store) {
	t.Helper()
	store, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewRunner(store, Default(), nil), store
}

// =============================================================================
// Registry
// =============================================================================

func TestBuiltin_Names(t *testing.T) {
	migs := Default().Migrations()
	require.Len(t, migs, 2)
	assert.Equal(t, "V0001__people_schema", migs[0].Name())
	assert.Equal(t, "V0002__encounters_and_places", migs[1].Name())
	assert.Equal(t, 2, Default().Latest())
}

func TestBuiltin_SchemaVersions(t *testing.T) {
	reg := Default()

	empty, err := reg.SchemaAt(0)
	require.NoError(t, err)
	assert.Empty(t, empty.NodeLabels())

	v1, err := reg.SchemaAt(1)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, []schema.Label{schema.LabelPeopleGroup, schema.LabelPerson, schema.LabelSkill}, v1.NodeLabels())
	assert.Equal(t, []schema.Label{schema.EdgeCanDo, schema.EdgeKnows, schema.EdgeMemberOf}, v1.EdgeLabels())

	scope, ok := v1.Nodes[schema.LabelPeopleGroup].Property(schema.PropScope)
	require.True(t, ok)
	assert.Equal(t, []string{"ethnic", "local", "national", "provincial"}, scope.Values)

	v2, err := reg.SchemaAt(2)
	require.NoError(t, err)
	assert.Contains(t, v2.NodeLabels(), schema.LabelPlace)
	assert.Contains(t, v2.EdgeLabels(), schema.EdgeWith)
	assert.Contains(t, v2.EdgeLabels(), schema.EdgeAt)
	scope, _ = v2.Nodes[schema.LabelPeopleGroup].Property(schema.PropScope)
	assert.Contains(t, scope.Values, "global")

	// Version 1 stays untouched by version 2's enum extension.
	scope, _ = v1.Nodes[schema.LabelPeopleGroup].Property(schema.PropScope)
	assert.NotContains(t, scope.Values, "global")

	_, err = reg.SchemaAt(3)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestBuiltin_KnowsTypeEnum(t *testing.T) {
	v1, err := Default().SchemaAt(1)
	require.NoError(t, err)

	for _, ok := range []any{"associate_of", "child_of", "parent_of", nil} {
		_, err := v1.ValidateEdge(schema.EdgeKnows, schema.LabelPerson, schema.LabelPerson, map[string]any{schema.PropType: ok})
		assert.NoError(t, err, "%v", ok)
	}
	_, err = v1.ValidateEdge(schema.EdgeKnows, schema.LabelPerson, schema.LabelPerson, map[string]any{schema.PropType: "friend_of"})
	assert.ErrorIs(t, err, schema.ErrInvalidProperties)
}

func TestMigration_Checksum(t *testing.T) {
	m := Builtin()[0]
	sum := m.Checksum()
	assert.Len(t, sum, 64)
	assert.Equal(t, sum, Builtin()[0].Checksum(), "stable across constructions")

	edited := Builtin()[0]
	edited.Changes = append(edited.Changes, CreateIndex(schema.LabelPeopleGroup, schema.PropScope))
	assert.NotEqual(t, sum, edited.Checksum())

	described := Builtin()[0]
	described.Description = "reworded"
	assert.Equal(t, sum, described.Checksum(), "description is not part of the checksum")
}

func TestMigration_Indexes(t *testing.T) {
	idx := Builtin()[0].Indexes()
	assert.Equal(t, []storage.IndexSpec{
		{Label: schema.LabelPerson, Property: schema.PropUserID},
		{Label: schema.LabelPerson, Property: schema.PropName},
		{Label: schema.LabelPeopleGroup, Property: schema.PropName},
	}, idx)
	assert.Empty(t, Builtin()[1].Indexes())
}

func TestChange_String(t *testing.T) {
	m := Builtin()[0]
	assert.Equal(t, "add node Person(name: string?, user_id: integer?)", m.Changes[0].String())
	assert.Equal(t, "create index on Person.user_id", m.Changes[6].String())
	assert.Equal(t, "extend enum PeopleGroup.scope with global", Builtin()[1].Changes[3].String())
}

func TestNewRegistry_Errors(t *testing.T) {
	one := Builtin()[0]
	two := Builtin()[1]

	tests := []struct {
		name string
		migs []Migration
	}{
		{"gap", []Migration{two}},
		{"duplicate", []Migration{one, one}},
		{"bad slug", []Migration{{Version: 1, Slug: "Bad Slug", Changes: one.Changes}}},
		{"no changes", []Migration{{Version: 1, Slug: "empty"}}},
		{"zero version", []Migration{{Version: 0, Slug: "zero", Changes: one.Changes}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.migs...)
			assert.ErrorIs(t, err, ErrInvalidRegistry)
		})
	}

	t.Run("change does not apply", func(t *testing.T) {
		_, err := NewRegistry(Migration{
			Version: 1, Slug: "bad_index",
			Changes: []Change{CreateIndex(schema.LabelPerson, schema.PropName)},
		})
		assert.ErrorIs(t, err, schema.ErrUnknownLabel)
	})

	t.Run("order independent", func(t *testing.T) {
		r, err := NewRegistry(two, one)
		require.NoError(t, err)
		assert.Equal(t, 2, r.Latest())
	})
}

// =============================================================================
// Runner
// =============================================================================

func TestRunner_MigrateAll(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRunner(t)

	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	recs, err := r.Migrate(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Version)
	assert.Equal(t, 2, recs[1].Version)
	assert.Equal(t, Builtin()[0].Checksum(), recs[0].Checksum)
	assert.False(t, recs[0].AppliedAt.IsZero())

	// Re-running is a no-op.
	recs, err = r.Migrate(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)

	pending, err = r.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	current, err := r.CurrentSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)

	require.NoError(t, r.Validate(ctx))
}

func TestRunner_MigrateStepwise(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRunner(t)

	current, err := r.CurrentSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, current.Version)

	recs, err := r.Migrate(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	current, err = r.CurrentSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
	_, ok := current.Node(schema.LabelPlace)
	assert.False(t, ok, "Place arrives with version 2")

	statuses, err := r.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, StateApplied, statuses[0].State)
	assert.NotNil(t, statuses[0].AppliedAt)
	assert.Equal(t, StatePending, statuses[1].State)
	assert.Nil(t, statuses[1].AppliedAt)

	recs, err = r.Migrate(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Version)
}

func TestRunner_InvalidTargets(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRunner(t)

	_, err := r.Migrate(ctx, 3)
	assert.ErrorIs(t, err, ErrUnknownVersion)
	_, err = r.Migrate(ctx, -1)
	assert.ErrorIs(t, err, ErrUnknownVersion)

	_, err = r.Migrate(ctx, 2)
	require.NoError(t, err)
	_, err = r.Migrate(ctx, 1)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestRunner_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRunner(t)

	_, err := store.ApplyMigration(ctx, storage.MigrationRecord{
		Version: 1, Description: "edited", Checksum: "deadbeef", AppliedAt: time.Now(),
	}, nil)
	require.NoError(t, err)

	err = r.Validate(ctx)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	statuses, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateChecksumMismatch, statuses[0].State)
	assert.Equal(t, "deadbeef", statuses[0].AppliedChecksum)

	_, err = r.Migrate(ctx, 0)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "nothing applied after a failed validation")
}

func TestRunner_UnknownLedgerVersion(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRunner(t)

	_, err := r.Migrate(ctx, 0)
	require.NoError(t, err)
	_, err = store.ApplyMigration(ctx, storage.MigrationRecord{Version: 3, Checksum: "future", AppliedAt: time.Now()}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Validate(ctx), ErrUnknownVersion)

	statuses, err := r.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, StateUnknown, statuses[2].State)
	assert.Equal(t, "V0003", statuses[2].Name)

	_, err = r.CurrentSchema(ctx)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestRunner_LedgerGap(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRunner(t)

	_, err := store.ApplyMigration(ctx, storage.MigrationRecord{
		Version: 2, Checksum: Builtin()[1].Checksum(), AppliedAt: time.Now(),
	}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Validate(ctx), ErrLedgerGap)
}

func TestRunner_Plan(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRunner(t)

	plan, err := r.Plan(ctx, 0)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "V0001__people_schema", plan[0].Name)
	assert.Len(t, plan[0].Changes, 9)
	assert.Contains(t, plan[0].Statements, "SET x/Person/user_id = sg_person_user_id")

	// Planning does not apply anything.
	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRunner_ConcurrentMigrate(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRunner(t)

	var wg sync.WaitGroup
	results := make([][]storage.MigrationRecord, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Migrate(ctx, 0)
		}(i)
	}
	wg.Wait()

	total := 0
	for i := range results {
		require.NoError(t, errs[i])
		total += len(results[i])
	}
	assert.Equal(t, 2, total, "each migration applied exactly once")

	recs, err := store.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

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
	"fmt"
	"slices"
	"sort"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
)

// Registry is an ordered, gap-free set of migrations together with the
// schema each version produces.
type Registry struct {
	migrations []Migration
	schemas    []*schema.Schema // index = version; schemas[0] is empty
}

// NewRegistry validates the migrations and precomputes the schema at every
// version.
//
// Outputs:
//
//	*Registry - The registry.
//	error - ErrInvalidRegistry for duplicate, missing or malformed versions,
//	or the schema error of the first change that does not apply.
func NewRegistry(migs ...Migration) (*Registry, error) {
	sorted := slices.Clone(migs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	r := &Registry{
		migrations: sorted,
		schemas:    []*schema.Schema{schema.Empty()},
	}

	for i, m := range sorted {
		if err := m.check(); err != nil {
			return nil, err
		}
		if m.Version != i+1 {
			return nil, fmt.Errorf("expected version %d, found %s: %w", i+1, m.Name(), ErrInvalidRegistry)
		}

		next := r.schemas[i].Clone()
		if err := m.Apply(next); err != nil {
			return nil, err
		}
		next.Version = m.Version
		r.schemas = append(r.schemas, next)
	}
	return r, nil
}

// MustNewRegistry is NewRegistry that panics on error. For builtin
// migrations, where an error is a programming mistake.
func MustNewRegistry(migs ...Migration) *Registry {
	r, err := NewRegistry(migs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Migrations returns the migrations in version order.
func (r *Registry) Migrations() []Migration {
	return slices.Clone(r.migrations)
}

// Latest returns the highest registered version, 0 if empty.
func (r *Registry) Latest() int {
	return len(r.migrations)
}

// Get returns the migration with the given version.
func (r *Registry) Get(version int) (Migration, bool) {
	if version < 1 || version > len(r.migrations) {
		return Migration{}, false
	}
	return r.migrations[version-1], true
}

// SchemaAt returns the schema after applying migrations 1..version.
// Version 0 is the empty schema. The result is shared and must not be
// mutated; Clone it first.
func (r *Registry) SchemaAt(version int) (*schema.Schema, error) {
	if version < 0 || version >= len(r.schemas) {
		return nil, fmt.Errorf("version %d: %w", version, ErrUnknownVersion)
	}
	return r.schemas[version], nil
}

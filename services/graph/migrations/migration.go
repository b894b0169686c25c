// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package migrations evolves the social graph schema through ordered,
// versioned, checksummed steps.
//
// A Migration is a list of structured Changes rather than raw Cypher so the
// same migration can be applied to every storage backend and folded into an
// in-memory schema.Schema. Migrations are additive: a version never removes
// or narrows what an earlier version declared.
//
// # Ledger
//
// Each applied migration is recorded in the store with its checksum, the
// SHA-256 of the YAML rendering of its changes. Editing a migration after it
// was applied changes the checksum, and Runner.Validate reports
// ErrChecksumMismatch.
//
// # Thread Safety
//
// Registry is immutable after construction. Runner serializes Migrate calls
// within a process.
package migrations

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"gopkg.in/yaml.v3"
)

// ChangeKind identifies what a Change does.
type ChangeKind string

const (
	KindAddNode     ChangeKind = "add_node"
	KindAddEdge     ChangeKind = "add_edge"
	KindExtendEnum  ChangeKind = "extend_enum"
	KindCreateIndex ChangeKind = "create_index"
)

// Change is one step of a migration. Only the fields relevant to Kind are
// set; use the constructor functions.
type Change struct {
	Kind     ChangeKind       `json:"kind" yaml:"kind"`
	Node     *schema.NodeType `json:"node,omitempty" yaml:"node,omitempty"`
	Edge     *schema.EdgeType `json:"edge,omitempty" yaml:"edge,omitempty"`
	Label    schema.Label     `json:"label,omitempty" yaml:"label,omitempty"`
	Property string           `json:"property,omitempty" yaml:"property,omitempty"`
	Values   []string         `json:"values,omitempty" yaml:"values,omitempty"`
}

// AddNode declares a node label.
func AddNode(nt schema.NodeType) Change {
	return Change{Kind: KindAddNode, Node: &nt}
}

// AddEdge declares an edge label.
func AddEdge(et schema.EdgeType) Change {
	return Change{Kind: KindAddEdge, Edge: &et}
}

// ExtendEnum adds values to an existing enum property.
func ExtendEnum(label schema.Label, property string, values ...string) Change {
	return Change{Kind: KindExtendEnum, Label: label, Property: property, Values: values}
}

// CreateIndex asks the store to index a node property.
func CreateIndex(label schema.Label, property string) Change {
	return Change{Kind: KindCreateIndex, Label: label, Property: property}
}

// Apply folds the change into s.
func (c Change) Apply(s *schema.Schema) error {
	switch c.Kind {
	case KindAddNode:
		if c.Node == nil {
			return fmt.Errorf("%s without node: %w", c.Kind, ErrInvalidRegistry)
		}
		return s.AddNode(*c.Node)
	case KindAddEdge:
		if c.Edge == nil {
			return fmt.Errorf("%s without edge: %w", c.Kind, ErrInvalidRegistry)
		}
		return s.AddEdge(*c.Edge)
	case KindExtendEnum:
		return s.ExtendEnum(c.Label, c.Property, c.Values...)
	case KindCreateIndex:
		nt, ok := s.Node(c.Label)
		if !ok {
			return fmt.Errorf("index %s.%s: %w", c.Label, c.Property, schema.ErrUnknownLabel)
		}
		if _, ok := nt.Property(c.Property); !ok {
			return fmt.Errorf("index %s.%s: %w", c.Label, c.Property, schema.ErrUnknownProperty)
		}
		return nil
	}
	return fmt.Errorf("unknown change kind %q: %w", c.Kind, ErrInvalidRegistry)
}

// String describes the change in one line, e.g.
// "add node Person(name: string?, user_id: integer?)".
func (c Change) String() string {
	switch c.Kind {
	case KindAddNode:
		if c.Node != nil {
			return fmt.Sprintf("add node %s(%s)", c.Node.Label, describeProps(c.Node.Properties))
		}
	case KindAddEdge:
		if c.Edge != nil {
			return fmt.Sprintf("add edge (%s)-[%s]->(%s) {%s}",
				c.Edge.From, c.Edge.Label, c.Edge.To, describeProps(c.Edge.Properties))
		}
	case KindExtendEnum:
		return fmt.Sprintf("extend enum %s.%s with %s", c.Label, c.Property, strings.Join(c.Values, ", "))
	case KindCreateIndex:
		return fmt.Sprintf("create index on %s.%s", c.Label, c.Property)
	}
	return string(c.Kind)
}

func describeProps(props []schema.PropertyDef) string {
	parts := make([]string, len(props))
	for i, p := range props {
		kind := string(p.Kind)
		if p.Kind == schema.KindEnum {
			kind = strings.Join(p.Values, "|")
		}
		if p.Nullable {
			kind += "?"
		}
		parts[i] = p.Name + ": " + kind
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// Migration
// =============================================================================

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

// Migration is one versioned schema step.
type Migration struct {
	// Version orders migrations. Versions start at 1 and have no gaps.
	Version int

	// Slug is the snake_case part of the migration name.
	Slug string

	// Description is a human-readable summary recorded in the ledger.
	Description string

	// Changes are applied in order.
	Changes []Change
}

// Name returns the conventional migration name, e.g. "V0001__people_schema".
func (m Migration) Name() string {
	return fmt.Sprintf("V%04d__%s", m.Version, m.Slug)
}

// Checksum returns the hex SHA-256 of the YAML rendering of the changes.
func (m Migration) Checksum() string {
	data, err := yaml.Marshal(m.Changes)
	if err != nil {
		// Changes hold only strings, bools and slices; marshaling cannot fail.
		panic(fmt.Sprintf("marshal %s: %v", m.Name(), err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Apply folds every change into s.
func (m Migration) Apply(s *schema.Schema) error {
	for i, c := range m.Changes {
		if err := c.Apply(s); err != nil {
			return fmt.Errorf("%s change %d: %w", m.Name(), i+1, err)
		}
	}
	return nil
}

// Indexes returns the index specs the store must create.
func (m Migration) Indexes() []storage.IndexSpec {
	var out []storage.IndexSpec
	for _, c := range m.Changes {
		if c.Kind == KindCreateIndex {
			out = append(out, storage.IndexSpec{Label: c.Label, Property: c.Property})
		}
	}
	return out
}

// record builds the ledger record for this migration.
func (m Migration) record() storage.MigrationRecord {
	return storage.MigrationRecord{
		Version:     m.Version,
		Description: m.Description,
		Checksum:    m.Checksum(),
	}
}

func (m Migration) check() error {
	if m.Version < 1 {
		return fmt.Errorf("version %d: %w", m.Version, ErrInvalidRegistry)
	}
	if !slugPattern.MatchString(m.Slug) {
		return fmt.Errorf("version %d slug %q: %w", m.Version, m.Slug, ErrInvalidRegistry)
	}
	if len(m.Changes) == 0 {
		return fmt.Errorf("%s has no changes: %w", m.Name(), ErrInvalidRegistry)
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema declares the social graph model: node labels, edge labels
// and the properties each label permits.
//
// A Schema is data, not code. Migrations build it up from Empty() one
// change at a time, so the schema that applies to a store is always the
// fold of the migrations recorded in that store's ledger.
//
// # Value Rules
//
//   - A nil value is null. Null passes when the property is Nullable.
//   - String properties accept any string (or a type whose underlying kind
//     is string).
//   - Integer properties accept Go integers, integral floats and
//     json.Number. Values are normalized to int64.
//   - Enum properties accept only the declared values, case-sensitive.
//   - Properties not declared for the label are rejected.
//
// # Thread Safety
//
// A Schema is not safe for concurrent mutation. Published schemas (those
// returned by the migrations registry) are never mutated again and may be
// shared freely.
package schema

import (
	"fmt"
	"slices"
	"sort"
)

// Label names a node or edge category, e.g. "Person" or "KNOWS".
type Label string

// PropertyKind is the value type of a property.
type PropertyKind string

const (
	// KindString is a free-form string.
	KindString PropertyKind = "string"

	// KindInteger is a 64-bit signed integer.
	KindInteger PropertyKind = "integer"

	// KindEnum is a string drawn from PropertyDef.Values.
	KindEnum PropertyKind = "enum"
)

// PropertyDef declares one permitted property of a label.
type PropertyDef struct {
	Name     string       `json:"name" yaml:"name" validate:"required,ident"`
	Kind     PropertyKind `json:"kind" yaml:"kind" validate:"oneof=string integer enum"`
	Nullable bool         `json:"nullable" yaml:"nullable"`
	Values   []string     `json:"values,omitempty" yaml:"values,omitempty" validate:"required_if=Kind enum,dive,token"`
}

// NodeType declares a node label and its properties.
type NodeType struct {
	Label      Label         `json:"label" yaml:"label" validate:"required,ident"`
	Properties []PropertyDef `json:"properties" yaml:"properties" validate:"dive"`
}

// EdgeType declares a directed edge label, its endpoints and its properties.
type EdgeType struct {
	Label      Label         `json:"label" yaml:"label" validate:"required,ident"`
	From       Label         `json:"from" yaml:"from" validate:"required,ident"`
	To         Label         `json:"to" yaml:"to" validate:"required,ident"`
	Properties []PropertyDef `json:"properties" yaml:"properties" validate:"dive"`
}

// Schema is the full set of node and edge declarations at one version.
type Schema struct {
	// Version is the migration version this schema corresponds to.
	// 0 means no migration has been applied.
	Version int `json:"version" yaml:"version"`

	Nodes map[Label]*NodeType `json:"nodes" yaml:"nodes"`
	Edges map[Label]*EdgeType `json:"edges" yaml:"edges"`
}

// Empty returns a schema at version 0 with no declarations.
func Empty() *Schema {
	return &Schema{
		Nodes: make(map[Label]*NodeType),
		Edges: make(map[Label]*EdgeType),
	}
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		Version: s.Version,
		Nodes:   make(map[Label]*NodeType, len(s.Nodes)),
		Edges:   make(map[Label]*EdgeType, len(s.Edges)),
	}
	for label, nt := range s.Nodes {
		out.Nodes[label] = &NodeType{
			Label:      nt.Label,
			Properties: cloneProps(nt.Properties),
		}
	}
	for label, et := range s.Edges {
		out.Edges[label] = &EdgeType{
			Label:      et.Label,
			From:       et.From,
			To:         et.To,
			Properties: cloneProps(et.Properties),
		}
	}
	return out
}

func cloneProps(props []PropertyDef) []PropertyDef {
	out := make([]PropertyDef, len(props))
	for i, p := range props {
		out[i] = p
		out[i].Values = slices.Clone(p.Values)
	}
	return out
}

// AddNode declares a new node label.
//
// Outputs:
//
//	error - ErrDuplicateLabel if the label exists, ErrInvalidDefinition if
//	the declaration is malformed.
func (s *Schema) AddNode(nt NodeType) error {
	if err := checkDefinition(nt, nt.Properties); err != nil {
		return fmt.Errorf("node %s: %w", nt.Label, err)
	}
	if _, ok := s.Nodes[nt.Label]; ok {
		return fmt.Errorf("node %s: %w", nt.Label, ErrDuplicateLabel)
	}
	s.Nodes[nt.Label] = &NodeType{Label: nt.Label, Properties: cloneProps(nt.Properties)}
	return nil
}

// AddEdge declares a new edge label. Both endpoints must already be
// declared node labels.
func (s *Schema) AddEdge(et EdgeType) error {
	if err := checkDefinition(et, et.Properties); err != nil {
		return fmt.Errorf("edge %s: %w", et.Label, err)
	}
	if _, ok := s.Edges[et.Label]; ok {
		return fmt.Errorf("edge %s: %w", et.Label, ErrDuplicateLabel)
	}
	for _, end := range []Label{et.From, et.To} {
		if _, ok := s.Nodes[end]; !ok {
			return fmt.Errorf("edge %s endpoint %s: %w", et.Label, end, ErrUnknownLabel)
		}
	}
	s.Edges[et.Label] = &EdgeType{
		Label:      et.Label,
		From:       et.From,
		To:         et.To,
		Properties: cloneProps(et.Properties),
	}
	return nil
}

// ExtendEnum appends values to an enum property of a node or edge label.
// Values already present are skipped, so the call is idempotent.
func (s *Schema) ExtendEnum(label Label, property string, values ...string) error {
	props, ok := s.propsOf(label)
	if !ok {
		return fmt.Errorf("extend %s.%s: %w", label, property, ErrUnknownLabel)
	}
	for i := range props {
		if props[i].Name != property {
			continue
		}
		if props[i].Kind != KindEnum {
			return fmt.Errorf("extend %s.%s: %w", label, property, ErrNotEnum)
		}
		for _, v := range values {
			if err := validate.Var(v, "token"); err != nil {
				return fmt.Errorf("extend %s.%s: bad value %q: %w", label, property, v, ErrInvalidDefinition)
			}
			if !slices.Contains(props[i].Values, v) {
				props[i].Values = append(props[i].Values, v)
			}
		}
		return nil
	}
	return fmt.Errorf("extend %s.%s: %w", label, property, ErrUnknownProperty)
}

// propsOf returns the mutable property slice of a node or edge label.
func (s *Schema) propsOf(label Label) ([]PropertyDef, bool) {
	if nt, ok := s.Nodes[label]; ok {
		return nt.Properties, true
	}
	if et, ok := s.Edges[label]; ok {
		return et.Properties, true
	}
	return nil, false
}

// Node returns the declaration of a node label.
func (s *Schema) Node(label Label) (*NodeType, bool) {
	nt, ok := s.Nodes[label]
	return nt, ok
}

// Edge returns the declaration of an edge label.
func (s *Schema) Edge(label Label) (*EdgeType, bool) {
	et, ok := s.Edges[label]
	return et, ok
}

// NodeLabels returns the declared node labels in sorted order.
func (s *Schema) NodeLabels() []Label {
	return sortedLabels(s.Nodes)
}

// EdgeLabels returns the declared edge labels in sorted order.
func (s *Schema) EdgeLabels() []Label {
	return sortedLabels(s.Edges)
}

func sortedLabels[V any](m map[Label]V) []Label {
	out := make([]Label, 0, len(m))
	for l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Property returns the definition of a node property.
func (t *NodeType) Property(name string) (PropertyDef, bool) {
	return findProp(t.Properties, name)
}

// Property returns the definition of an edge property.
func (t *EdgeType) Property(name string) (PropertyDef, bool) {
	return findProp(t.Properties, name)
}

func findProp(props []PropertyDef, name string) (PropertyDef, bool) {
	for _, p := range props {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDef{}, false
}

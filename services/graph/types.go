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
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/migrations"
	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
)

// =============================================================================
// Typed Values
// =============================================================================

// NodeValue is a typed node that knows its label and property map.
type NodeValue interface {
	Label() schema.Label
	Props() map[string]any
}

// EdgeValue is a typed edge that knows its label and property map.
type EdgeValue interface {
	Label() schema.Label
	Props() map[string]any
}

// Ptr returns a pointer to v. Typed values use nil pointers for null.
func Ptr[T any](v T) *T {
	return &v
}

// Person is a Person node.
type Person struct {
	Name   *string
	UserID *int64
}

func (Person) Label() schema.Label { return schema.LabelPerson }

func (p Person) Props() map[string]any {
	props := map[string]any{}
	setString(props, schema.PropName, p.Name)
	if p.UserID != nil {
		props[schema.PropUserID] = *p.UserID
	}
	return props
}

// Skill is a Skill node. It has no properties.
type Skill struct{}

func (Skill) Label() schema.Label { return schema.LabelSkill }
func (Skill) Props() map[string]any { return map[string]any{} }

// Place is a Place node. It has no properties.
type Place struct{}

func (Place) Label() schema.Label { return schema.LabelPlace }
func (Place) Props() map[string]any { return map[string]any{} }

// PeopleGroup is a PeopleGroup node.
type PeopleGroup struct {
	Name      *string
	Hierarchy *schema.Hierarchy
	Scope     *schema.GroupScope
}

func (PeopleGroup) Label() schema.Label { return schema.LabelPeopleGroup }

func (g PeopleGroup) Props() map[string]any {
	props := map[string]any{}
	setString(props, schema.PropName, g.Name)
	setString(props, schema.PropHierarchy, g.Hierarchy)
	setString(props, schema.PropScope, g.Scope)
	return props
}

// Knows is a KNOWS edge.
type Knows struct {
	Type       *schema.KnowsType
	Reputation *schema.Reputation
}

func (Knows) Label() schema.Label { return schema.EdgeKnows }

func (k Knows) Props() map[string]any {
	props := map[string]any{}
	setString(props, schema.PropType, k.Type)
	setString(props, schema.PropReputation, k.Reputation)
	return props
}

// With is a WITH edge. Verb says what the two people did together.
type With struct {
	Verb *string
}

func (With) Label() schema.Label { return schema.EdgeWith }

func (w With) Props() map[string]any {
	props := map[string]any{}
	setString(props, schema.PropVerb, w.Verb)
	return props
}

// CanDo, MemberOf and At carry no properties.
type (
	CanDo    struct{}
	MemberOf struct{}
	At       struct{}
)

func (CanDo) Label() schema.Label { return schema.EdgeCanDo }
func (CanDo) Props() map[string]any { return map[string]any{} }
func (MemberOf) Label() schema.Label { return schema.EdgeMemberOf }
func (MemberOf) Props() map[string]any { return map[string]any{} }
func (At) Label() schema.Label { return schema.EdgeAt }
func (At) Props() map[string]any { return map[string]any{} }

func setString[T ~string](props map[string]any, name string, v *T) {
	if v != nil {
		props[name] = string(*v)
	}
}

// =============================================================================
// HTTP Types
// =============================================================================

// PutNodeRequest is the body of POST /v1/graph/nodes.
type PutNodeRequest struct {
	// Label is the node label, e.g. "Person".
	Label string `json:"label" binding:"required"`

	// ID is optional. A new UUID is assigned when empty.
	ID string `json:"id,omitempty"`

	Properties map[string]any `json:"properties"`
}

// PutEdgeRequest is the body of POST /v1/graph/edges.
type PutEdgeRequest struct {
	Label      string         `json:"label" binding:"required"`
	From       string         `json:"from" binding:"required"`
	To         string         `json:"to" binding:"required"`
	Properties map[string]any `json:"properties"`
}

// NodesResponse lists nodes.
type NodesResponse struct {
	Nodes []storage.Node `json:"nodes"`
	Count int            `json:"count"`
}

// EdgesResponse lists edges.
type EdgesResponse struct {
	Edges []storage.Edge `json:"edges"`
	Count int            `json:"count"`
}

// MigrationsResponse is returned by GET /v1/graph/migrations.
type MigrationsResponse struct {
	CurrentVersion int                          `json:"current_version"`
	LatestVersion  int                          `json:"latest_version"`
	Migrations     []migrations.MigrationStatus `json:"migrations"`
}

// ApplyMigrationsRequest is the body of POST /v1/graph/migrations/apply.
type ApplyMigrationsRequest struct {
	// Target is the highest version to apply; 0 means latest.
	Target int `json:"target" binding:"gte=0"`

	// DryRun returns the plan without applying it.
	DryRun bool `json:"dry_run"`
}

// ApplyMigrationsResponse reports what was applied, or would be.
type ApplyMigrationsResponse struct {
	Applied        []storage.MigrationRecord `json:"applied,omitempty"`
	Plan           []migrations.PlanStep     `json:"plan,omitempty"`
	CurrentVersion int                       `json:"current_version"`
	DryRun         bool                      `json:"dry_run"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Ready         bool   `json:"ready"`
	SchemaVersion int    `json:"schema_version"`
	LatestVersion int    `json:"latest_version"`
	Error         string `json:"error,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// Violations is set for INVALID_PROPERTIES.
	Violations []schema.Violation `json:"violations,omitempty"`
}

// =============================================================================
// Audit Types
// =============================================================================

// ReasonDanglingEdge marks an edge whose endpoint node does not exist.
const ReasonDanglingEdge schema.Reason = "dangling_edge"

// EntityKind says whether a Finding concerns a node or an edge.
type EntityKind string

const (
	EntityNode EntityKind = "node"
	EntityEdge EntityKind = "edge"
)

// Finding is one violation found in stored data.
type Finding struct {
	Kind      EntityKind       `json:"kind" yaml:"kind"`
	ID        string           `json:"id" yaml:"id"`
	Violation schema.Violation `json:"violation" yaml:"violation"`
}

// Report is the result of auditing the whole graph.
type Report struct {
	SchemaVersion int           `json:"schema_version" yaml:"schema_version"`
	NodesScanned  int           `json:"nodes_scanned" yaml:"nodes_scanned"`
	EdgesScanned  int           `json:"edges_scanned" yaml:"edges_scanned"`
	Findings      []Finding     `json:"findings" yaml:"findings"`
	StartedAt     time.Time     `json:"started_at" yaml:"started_at"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
}

// OK reports whether the audit found nothing.
func (r *Report) OK() bool {
	return len(r.Findings) == 0
}

// CountByReason tallies findings per violation reason.
func (r *Report) CountByReason() map[schema.Reason]int {
	out := make(map[schema.Reason]int)
	for _, f := range r.Findings {
		out[f.Violation.Reason]++
	}
	return out
}

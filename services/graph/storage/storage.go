// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the contract between the graph service and the
// databases that hold the social graph.
//
// Two implementations exist:
//
//   - storage/badger: embedded BadgerDB store, the default and the one
//     tests run against
//   - storage/neo4j: Neo4j store for deployments that already run a
//     graph database
//
// Stores do not know the schema. They persist whatever the graph service
// hands them after validation, keep the migration ledger, and maintain
// the property indexes that migrations create.
//
// # Identity
//
// Node IDs are assigned by the caller (the service uses UUIDs). Edge IDs
// are derived from (label, from, to) with EdgeID, so writing the same
// triple twice replaces the first edge's properties instead of creating a
// parallel edge.
//
// # Thread Safety
//
// All Store implementations must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/google/uuid"
)

// Sentinel errors returned by every Store implementation.
var (
	// ErrNotFound is returned when a node or edge does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEndpointMissing is returned by PutEdge when either endpoint node
	// does not exist.
	ErrEndpointMissing = errors.New("edge endpoint does not exist")

	// ErrLabelConflict is returned by PutNode when a node already exists
	// under a different label.
	ErrLabelConflict = errors.New("node exists with a different label")

	// ErrMigrationApplied is returned by ApplyMigration when the ledger
	// already holds the version.
	ErrMigrationApplied = errors.New("migration already applied")

	// ErrInvalidID is returned for empty IDs or IDs containing '/'.
	ErrInvalidID = errors.New("invalid id")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// CheckID returns ErrInvalidID unless id is usable as a node or edge ID.
func CheckID(id string) error {
	if id == "" || strings.ContainsRune(id, '/') {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Node is a stored vertex.
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Label      schema.Label   `json:"label" yaml:"label"`
	Properties map[string]any `json:"properties" yaml:"properties"`
}

// Edge is a stored directed relationship.
type Edge struct {
	ID         string         `json:"id" yaml:"id"`
	Label      schema.Label   `json:"label" yaml:"label"`
	From       string         `json:"from" yaml:"from"`
	To         string         `json:"to" yaml:"to"`
	Properties map[string]any `json:"properties" yaml:"properties"`
}

// edgeNamespace seeds the name-based UUIDs of edges.
var edgeNamespace = uuid.MustParse("5b0c8f5e-1f0e-4c39-9d43-6d2f3c8a7e21")

// EdgeID returns the deterministic ID of the edge (label, from, to).
func EdgeID(label schema.Label, from, to string) string {
	return uuid.NewSHA1(edgeNamespace, []byte(string(label)+"\x00"+from+"\x00"+to)).String()
}

// IndexSpec names a node property that a store should index for
// FindNodes lookups.
type IndexSpec struct {
	Label    schema.Label `json:"label" yaml:"label"`
	Property string       `json:"property" yaml:"property"`
}

// Name returns the index name used in the database, e.g.
// "sg_person_user_id".
func (i IndexSpec) Name() string {
	return fmt.Sprintf("sg_%s_%s", strings.ToLower(string(i.Label)), i.Property)
}

// MigrationRecord is one row of the migration ledger.
type MigrationRecord struct {
	Version     int           `json:"version" yaml:"version"`
	Description string        `json:"description" yaml:"description"`
	Checksum    string        `json:"checksum" yaml:"checksum"`
	AppliedAt   time.Time     `json:"applied_at" yaml:"applied_at"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// Store persists nodes, edges and the migration ledger.
type Store interface {
	// PutNode creates or replaces a node. Properties are replaced wholesale.
	// Returns ErrLabelConflict if the ID exists under another label.
	PutNode(ctx context.Context, node Node) error

	// GetNode returns the node with the given ID or ErrNotFound.
	GetNode(ctx context.Context, id string) (Node, error)

	// DeleteNode removes a node and every edge touching it.
	DeleteNode(ctx context.Context, id string) error

	// PutEdge creates or replaces the edge (label, from, to) and returns it
	// with its ID set. Returns ErrEndpointMissing if an endpoint is absent.
	PutEdge(ctx context.Context, edge Edge) (Edge, error)

	// GetEdge returns the edge with the given ID or ErrNotFound.
	GetEdge(ctx context.Context, id string) (Edge, error)

	// DeleteEdge removes an edge or returns ErrNotFound.
	DeleteEdge(ctx context.Context, id string) error

	// EdgesOf returns every edge whose From or To is nodeID.
	EdgesOf(ctx context.Context, nodeID string) ([]Edge, error)

	// FindNodes returns nodes with the label whose property equals value.
	// An empty property returns every node with the label.
	FindNodes(ctx context.Context, label schema.Label, property string, value any) ([]Node, error)

	// ScanNodes calls fn for every node. Returning an error stops the scan.
	ScanNodes(ctx context.Context, fn func(Node) error) error

	// ScanEdges calls fn for every edge. Returning an error stops the scan.
	ScanEdges(ctx context.Context, fn func(Edge) error) error

	// AppliedMigrations returns the ledger ordered by version.
	AppliedMigrations(ctx context.Context) ([]MigrationRecord, error)

	// ApplyMigration creates the indexes and records the migration in one
	// transaction. The store sets Duration just before the ledger write and
	// returns the record as persisted.
	ApplyMigration(ctx context.Context, rec MigrationRecord, indexes []IndexSpec) (MigrationRecord, error)

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Planner is implemented by stores that can describe what ApplyMigration
// would execute. Used for dry runs.
type Planner interface {
	PlanMigration(rec MigrationRecord, indexes []IndexSpec) []string
}

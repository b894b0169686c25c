// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides schema-validated access to the social graph.
//
// Service sits between callers (HTTP handlers, the CLI) and a storage.Store.
// Every write is validated against the schema of the currently applied
// migration version, so property values are always drawn from their
// declared sets or null. Reads are passed through unchanged.
//
// # Thread Safety
//
// Service is safe for concurrent use when its Store is.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/migrations"
	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Service validates and performs graph operations.
type Service struct {
	store  storage.Store
	runner *migrations.Runner
	logger *slog.Logger
}

// NewService creates a service over store, validating writes with the
// schema that runner reports as applied. A nil logger discards output.
func NewService(store storage.Store, runner *migrations.Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:  store,
		runner: runner,
		logger: logger.With(slog.String("component", "graph")),
	}
}

// Store returns the underlying store.
func (s *Service) Store() storage.Store {
	return s.store
}

// Runner returns the migration runner.
func (s *Service) Runner() *migrations.Runner {
	return s.runner
}

// Schema returns the schema at the applied migration version.
func (s *Service) Schema(ctx context.Context) (*schema.Schema, error) {
	return s.runner.CurrentSchema(ctx)
}

// writeSchema is Schema for writes: it fails before the first migration.
func (s *Service) writeSchema(ctx context.Context) (*schema.Schema, error) {
	sch, err := s.runner.CurrentSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if sch.Version == 0 {
		return nil, ErrSchemaNotInitialized
	}
	return sch, nil
}

// =============================================================================
// Nodes
// =============================================================================

// PutNode validates and stores a node.
//
// Description:
//
//	Properties are checked against the label's declaration at the applied
//	schema version and normalized (integers as int64, nulls dropped). The
//	stored properties replace any previous ones.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	label - Node label. Must be declared by the applied schema.
//	id - Node ID. Empty assigns a new UUID.
//	props - Property values. May be nil.
//
// Outputs:
//
//	storage.Node - The node as stored.
//	error - ErrSchemaNotInitialized, *schema.ValidationError,
//	storage.ErrInvalidID, storage.ErrLabelConflict or a store error.
func (s *Service) PutNode(ctx context.Context, label schema.Label, id string, props map[string]any) (storage.Node, error) {
	ctx, span := startSpan(ctx, "Service.PutNode", attribute.String("graph.label", string(label)))
	defer span.End()
	start := time.Now()

	sch, err := s.writeSchema(ctx)
	var node storage.Node
	if err == nil {
		node, err = s.putNode(ctx, sch, label, id, props)
	}
	recordWrite(ctx, EntityNode, metricLabel(sch, EntityNode, label), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logWriteError("put node", label, err)
		return storage.Node{}, err
	}
	return node, nil
}

func (s *Service) putNode(ctx context.Context, sch *schema.Schema, label schema.Label, id string, props map[string]any) (storage.Node, error) {
	normalized, err := sch.ValidateNode(label, props)
	if err != nil {
		return storage.Node{}, err
	}

	if id == "" {
		id = uuid.NewString()
	} else if err := storage.CheckID(id); err != nil {
		return storage.Node{}, err
	}

	node := storage.Node{ID: id, Label: label, Properties: normalized}
	if err := s.store.PutNode(ctx, node); err != nil {
		return storage.Node{}, fmt.Errorf("put node %s: %w", id, err)
	}
	return node, nil
}

// SaveNode stores a typed node. See PutNode.
func (s *Service) SaveNode(ctx context.Context, id string, v NodeValue) (storage.Node, error) {
	return s.PutNode(ctx, v.Label(), id, v.Props())
}

// GetNode returns a node or storage.ErrNotFound.
func (s *Service) GetNode(ctx context.Context, id string) (storage.Node, error) {
	if err := storage.CheckID(id); err != nil {
		return storage.Node{}, err
	}
	return s.store.GetNode(ctx, id)
}

// DeleteNode removes a node and its edges.
func (s *Service) DeleteNode(ctx context.Context, id string) error {
	if err := storage.CheckID(id); err != nil {
		return err
	}
	if err := s.store.DeleteNode(ctx, id); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	s.logger.Debug("node deleted", slog.String("id", id))
	return nil
}

// FindNodes returns nodes with the label whose property equals value.
//
// Description:
//
//	An empty property lists every node with the label. The value is
//	normalized like a written value, and a string given for an integer
//	property is parsed, so query parameters can be passed through as is.
//
// Outputs:
//
//	[]storage.Node - Matching nodes, possibly empty.
//	error - ErrInvalidQuery for undeclared labels or properties and null
//	values, *schema.ValidationError for values outside the declared set.
func (s *Service) FindNodes(ctx context.Context, label schema.Label, property string, value any) ([]storage.Node, error) {
	sch, err := s.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	nt, ok := sch.Node(label)
	if !ok {
		return nil, fmt.Errorf("%w: label %q is not declared", ErrInvalidQuery, label)
	}

	if property != "" {
		def, ok := nt.Property(property)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no property %q", ErrInvalidQuery, label, property)
		}
		if raw, isString := value.(string); isString && def.Kind == schema.KindInteger {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s wants an integer, got %q", ErrInvalidQuery, label, property, raw)
			}
			value = n
		}
		normalized, v := schema.Normalize(def, value)
		if v != nil {
			v.Label = label
			return nil, &schema.ValidationError{Violations: []schema.Violation{*v}}
		}
		if normalized == nil {
			return nil, fmt.Errorf("%w: cannot match null %s.%s", ErrInvalidQuery, label, property)
		}
		value = normalized
	}

	nodes, err := s.store.FindNodes(ctx, label, property, value)
	if err != nil {
		return nil, fmt.Errorf("find %s nodes: %w", label, err)
	}
	return nodes, nil
}

// =============================================================================
// Edges
// =============================================================================

// PutEdge validates and stores the edge (label, from, to).
//
// Description:
//
//	Both endpoint nodes must exist and carry the labels the schema declares
//	for the edge. Writing the same (label, from, to) again replaces the
//	edge's properties.
//
// Outputs:
//
//	storage.Edge - The edge as stored, with its ID.
//	error - ErrSchemaNotInitialized, storage.ErrEndpointMissing,
//	*schema.ValidationError or a store error.
func (s *Service) PutEdge(ctx context.Context, label schema.Label, from, to string, props map[string]any) (storage.Edge, error) {
	ctx, span := startSpan(ctx, "Service.PutEdge", attribute.String("graph.label", string(label)))
	defer span.End()
	start := time.Now()

	sch, err := s.writeSchema(ctx)
	var edge storage.Edge
	if err == nil {
		edge, err = s.putEdge(ctx, sch, label, from, to, props)
	}
	recordWrite(ctx, EntityEdge, metricLabel(sch, EntityEdge, label), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logWriteError("put edge", label, err)
		return storage.Edge{}, err
	}
	return edge, nil
}

func (s *Service) putEdge(ctx context.Context, sch *schema.Schema, label schema.Label, from, to string, props map[string]any) (storage.Edge, error) {
	fromNode, err := s.endpoint(ctx, from)
	if err != nil {
		return storage.Edge{}, err
	}
	toNode, err := s.endpoint(ctx, to)
	if err != nil {
		return storage.Edge{}, err
	}

	normalized, err := sch.ValidateEdge(label, fromNode.Label, toNode.Label, props)
	if err != nil {
		return storage.Edge{}, err
	}

	edge, err := s.store.PutEdge(ctx, storage.Edge{Label: label, From: from, To: to, Properties: normalized})
	if err != nil {
		return storage.Edge{}, fmt.Errorf("put %s edge %s->%s: %w", label, from, to, err)
	}
	return edge, nil
}

func (s *Service) endpoint(ctx context.Context, id string) (storage.Node, error) {
	if err := storage.CheckID(id); err != nil {
		return storage.Node{}, err
	}
	n, err := s.store.GetNode(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Node{}, fmt.Errorf("%w: node %s", storage.ErrEndpointMissing, id)
	}
	if err != nil {
		return storage.Node{}, fmt.Errorf("get endpoint %s: %w", id, err)
	}
	return n, nil
}

// Link stores a typed edge. See PutEdge.
func (s *Service) Link(ctx context.Context, from, to string, v EdgeValue) (storage.Edge, error) {
	return s.PutEdge(ctx, v.Label(), from, to, v.Props())
}

// GetEdge returns an edge or storage.ErrNotFound.
func (s *Service) GetEdge(ctx context.Context, id string) (storage.Edge, error) {
	if err := storage.CheckID(id); err != nil {
		return storage.Edge{}, err
	}
	return s.store.GetEdge(ctx, id)
}

// DeleteEdge removes an edge.
func (s *Service) DeleteEdge(ctx context.Context, id string) error {
	if err := storage.CheckID(id); err != nil {
		return err
	}
	if err := s.store.DeleteEdge(ctx, id); err != nil {
		return fmt.Errorf("delete edge %s: %w", id, err)
	}
	return nil
}

// EdgesOf returns every edge starting or ending at the node.
func (s *Service) EdgesOf(ctx context.Context, nodeID string) ([]storage.Edge, error) {
	if err := storage.CheckID(nodeID); err != nil {
		return nil, err
	}
	return s.store.EdgesOf(ctx, nodeID)
}

// =============================================================================
// Migrations
// =============================================================================

// Migrate applies pending migrations up to target (0 = latest).
func (s *Service) Migrate(ctx context.Context, target int) ([]storage.MigrationRecord, error) {
	return s.runner.Migrate(ctx, target)
}

// Plan describes what Migrate would do.
func (s *Service) Plan(ctx context.Context, target int) ([]migrations.PlanStep, error) {
	return s.runner.Plan(ctx, target)
}

// MigrationStatus reports the state of every migration.
func (s *Service) MigrationStatus(ctx context.Context) ([]migrations.MigrationStatus, error) {
	return s.runner.Status(ctx)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// isInvalid reports whether err was caused by the caller's input rather
// than the store.
func isInvalid(err error) bool {
	return errors.Is(err, schema.ErrInvalidProperties) ||
		errors.Is(err, ErrSchemaNotInitialized) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, storage.ErrInvalidID) ||
		errors.Is(err, storage.ErrEndpointMissing) ||
		errors.Is(err, storage.ErrLabelConflict)
}

func (s *Service) logWriteError(op string, label schema.Label, err error) {
	if isInvalid(err) {
		s.logger.Debug(op+" rejected", slog.String("label", string(label)), slog.String("error", err.Error()))
		return
	}
	s.logger.Error(op+" failed", slog.String("label", string(label)), slog.String("error", err.Error()))
}

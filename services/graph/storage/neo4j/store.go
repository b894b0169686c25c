// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package neo4j implements storage.Store on a Neo4j database.
//
// Every node carries the SocialGraphNode label in addition to its schema
// label; a uniqueness constraint on SocialGraphNode.id is created on Open.
// Edges are relationships whose type is the schema edge label and whose id
// property is storage.EdgeID.
//
// Migrations create their indexes with CREATE INDEX ... IF NOT EXISTS and
// record themselves as (:__SocialGraphMigration) nodes. Neo4j does not allow
// schema and data writes in one transaction, so index statements run first
// as auto-commit queries and the ledger node is written afterwards. The
// IF NOT EXISTS clause makes rerunning an interrupted migration safe.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
)

// Store is a storage.Store backed by Neo4j.
//
// Thread Safety: Safe for concurrent use. Each call opens its own session.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
	closed   atomic.Bool
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Planner = (*Store)(nil)
)

// Open connects to Neo4j, verifies connectivity and ensures the node id
// constraint exists.
//
// Inputs:
//
//	ctx - Bounds connection verification.
//	cfg - Connection settings; start from DefaultConfig.
//
// Outputs:
//
//	*Store - The connected store. Caller must call Close() when done.
//	error - Non-nil if the server is unreachable or rejects the constraint.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *config.Config) {
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		if cfg.ConnectTimeout > 0 {
			c.SocketConnectTimeout = cfg.ConnectTimeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", cfg.URI, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{driver: driver, database: cfg.Database, logger: logger}
	if err := s.autoCommit(ctx, constraintCypher(), nil); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("ensure node id constraint: %w", err)
	}

	logger.Info("connected to neo4j", slog.String("uri", cfg.URI), slog.String("database", cfg.Database))
	return s, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) (neo4j.SessionWithContext, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database}), nil
}

// autoCommit runs a single statement outside an explicit transaction.
// Schema statements must run this way.
func (s *Store) autoCommit(ctx context.Context, cypher string, params map[string]any) error {
	session, err := s.session(ctx, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// =============================================================================
// Nodes
// =============================================================================

// PutNode creates or replaces a node.
func (s *Store) PutNode(ctx context.Context, node storage.Node) error {
	if err := storage.CheckID(node.ID); err != nil {
		return err
	}
	session, err := s.session(ctx, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (n:"+baseLabel+" {"+idProperty+": $id}) RETURN n",
			map[string]any{"id": node.ID})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			existing := recordNode(res.Record(), "n")
			if existing.Label != node.Label {
				return nil, fmt.Errorf("node %s is %s: %w", node.ID, existing.Label, storage.ErrLabelConflict)
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx, putNodeCypher(node.Label), map[string]any{
			"id":    node.ID,
			"props": toParams(node.Properties, node.ID),
		})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// GetNode returns a node by ID.
func (s *Store) GetNode(ctx context.Context, id string) (storage.Node, error) {
	session, err := s.session(ctx, neo4j.AccessModeRead)
	if err != nil {
		return storage.Node{}, err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (n:"+baseLabel+" {"+idProperty+": $id}) RETURN n",
		map[string]any{"id": id})
	if err != nil {
		return storage.Node{}, fmt.Errorf("get node %s: %w", id, err)
	}
	if result.Next(ctx) {
		return recordNode(result.Record(), "n"), nil
	}
	if err := result.Err(); err != nil {
		return storage.Node{}, fmt.Errorf("get node %s: %w", id, err)
	}
	return storage.Node{}, fmt.Errorf("node %s: %w", id, storage.ErrNotFound)
}

// DeleteNode removes a node and its relationships.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	session, err := s.session(ctx, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (n:"+baseLabel+" {"+idProperty+": $id}) DETACH DELETE n",
		map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	if summary.Counters().NodesDeleted() == 0 {
		return fmt.Errorf("node %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// FindNodes matches nodes by label and property value.
func (s *Store) FindNodes(ctx context.Context, label schema.Label, property string, value any) ([]storage.Node, error) {
	session, err := s.session(ctx, neo4j.AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx, findNodesCypher(label, property), map[string]any{"value": toParam(value)})
	if err != nil {
		return nil, fmt.Errorf("find %s nodes: %w", label, err)
	}
	var out []storage.Node
	for result.Next(ctx) {
		out = append(out, recordNode(result.Record(), "n"))
	}
	return out, result.Err()
}

// ScanNodes streams every node ordered by id.
func (s *Store) ScanNodes(ctx context.Context, fn func(storage.Node) error) error {
	session, err := s.session(ctx, neo4j.AccessModeRead)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx, "MATCH (n:"+baseLabel+") RETURN n ORDER BY n."+idProperty, nil)
	if err != nil {
		return fmt.Errorf("scan nodes: %w", err)
	}
	for result.Next(ctx) {
		if err := fn(recordNode(result.Record(), "n")); err != nil {
			return err
		}
	}
	return result.Err()
}

// =============================================================================
// Edges
// =============================================================================

const edgeReturn = " RETURN r, a." + idProperty + " AS from, b." + idProperty + " AS to"

// PutEdge merges the (label, from, to) relationship.
func (s *Store) PutEdge(ctx context.Context, edge storage.Edge) (storage.Edge, error) {
	edge.ID = storage.EdgeID(edge.Label, edge.From, edge.To)

	session, err := s.session(ctx, neo4j.AccessModeWrite)
	if err != nil {
		return storage.Edge{}, err
	}
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, putEdgeCypher(edge.Label), map[string]any{
			"from":  edge.From,
			"to":    edge.To,
			"props": toParams(edge.Properties, edge.ID),
		})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("edge %s -> %s: %w", edge.From, edge.To, storage.ErrEndpointMissing)
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return storage.Edge{}, err
	}
	if edge.Properties == nil {
		edge.Properties = map[string]any{}
	}
	return edge, nil
}

// GetEdge returns an edge by ID.
func (s *Store) GetEdge(ctx context.Context, id string) (storage.Edge, error) {
	session, err := s.session(ctx, neo4j.AccessModeRead)
	if err != nil {
		return storage.Edge{}, err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (a:"+baseLabel+")-[r {"+idProperty+": $id}]->(b:"+baseLabel+")"+edgeReturn,
		map[string]any{"id": id})
	if err != nil {
		return storage.Edge{}, fmt.Errorf("get edge %s: %w", id, err)
	}
	if result.Next(ctx) {
		return recordEdge(result.Record()), nil
	}
	if err := result.Err(); err != nil {
		return storage.Edge{}, fmt.Errorf("get edge %s: %w", id, err)
	}
	return storage.Edge{}, fmt.Errorf("edge %s: %w", id, storage.ErrNotFound)
}

// DeleteEdge removes an edge by ID.
func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	session, err := s.session(ctx, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx, "MATCH ()-[r {"+idProperty+": $id}]->() DELETE r", map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete edge %s: %w", id, err)
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return fmt.Errorf("delete edge %s: %w", id, err)
	}
	if summary.Counters().RelationshipsDeleted() == 0 {
		return fmt.Errorf("edge %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// EdgesOf returns every relationship touching the node.
func (s *Store) EdgesOf(ctx context.Context, nodeID string) ([]storage.Edge, error) {
	session, err := s.session(ctx, neo4j.AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (n:"+baseLabel+" {"+idProperty+": $id}) "+
			"OPTIONAL MATCH (a:"+baseLabel+")-[r]->(b:"+baseLabel+") WHERE a = n OR b = n"+
			edgeReturn,
		map[string]any{"id": nodeID})
	if err != nil {
		return nil, fmt.Errorf("edges of %s: %w", nodeID, err)
	}

	found := false
	seen := make(map[string]struct{})
	var out []storage.Edge
	for result.Next(ctx) {
		found = true
		rec := result.Record()
		if v, _ := rec.Get("r"); v == nil {
			continue
		}
		e := recordEdge(rec)
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("edges of %s: %w", nodeID, err)
	}
	if !found {
		return nil, fmt.Errorf("node %s: %w", nodeID, storage.ErrNotFound)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ScanEdges streams every relationship between store nodes.
func (s *Store) ScanEdges(ctx context.Context, fn func(storage.Edge) error) error {
	session, err := s.session(ctx, neo4j.AccessModeRead)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (a:"+baseLabel+")-[r]->(b:"+baseLabel+")"+edgeReturn+" ORDER BY r."+idProperty, nil)
	if err != nil {
		return fmt.Errorf("scan edges: %w", err)
	}
	for result.Next(ctx) {
		if err := fn(recordEdge(result.Record())); err != nil {
			return err
		}
	}
	return result.Err()
}

// =============================================================================
// Migrations
// =============================================================================

// AppliedMigrations reads the ledger nodes ordered by version.
func (s *Store) AppliedMigrations(ctx context.Context) ([]storage.MigrationRecord, error) {
	session, err := s.session(ctx, neo4j.AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx, "MATCH (m:"+ledgerLabel+") RETURN m ORDER BY m.version", nil)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	var out []storage.MigrationRecord
	for result.Next(ctx) {
		v, _ := result.Record().Get("m")
		n, ok := v.(neo4j.Node)
		if !ok {
			continue
		}
		out = append(out, ledgerRecord(n.Props))
	}
	return out, result.Err()
}

func ledgerRecord(props map[string]any) storage.MigrationRecord {
	rec := storage.MigrationRecord{}
	if v, ok := props["version"].(int64); ok {
		rec.Version = int(v)
	}
	rec.Description, _ = props["description"].(string)
	rec.Checksum, _ = props["checksum"].(string)
	if v, ok := props["applied_at"].(string); ok {
		rec.AppliedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := props["duration_ns"].(int64); ok {
		rec.Duration = time.Duration(v)
	}
	return rec
}

// ApplyMigration creates the indexes and writes the ledger node.
func (s *Store) ApplyMigration(ctx context.Context, rec storage.MigrationRecord, indexes []storage.IndexSpec) (storage.MigrationRecord, error) {
	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		return storage.MigrationRecord{}, err
	}
	for _, a := range applied {
		if a.Version == rec.Version {
			return storage.MigrationRecord{}, fmt.Errorf("version %d: %w", rec.Version, storage.ErrMigrationApplied)
		}
	}

	for _, idx := range indexes {
		if err := s.autoCommit(ctx, CreateIndexCypher(idx), nil); err != nil {
			return storage.MigrationRecord{}, fmt.Errorf("create index %s: %w", idx.Name(), err)
		}
	}

	session, err := s.session(ctx, neo4j.AccessModeWrite)
	if err != nil {
		return storage.MigrationRecord{}, err
	}
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (m:"+ledgerLabel+" {version: $version}) RETURN m", map[string]any{"version": int64(rec.Version)})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			return nil, fmt.Errorf("version %d: %w", rec.Version, storage.ErrMigrationApplied)
		}

		rec.Duration = time.Since(rec.AppliedAt)
		res, err = tx.Run(ctx, ledgerCypher, ledgerParams(rec))
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return storage.MigrationRecord{}, err
	}

	s.logger.Info("migration recorded", slog.Int("version", rec.Version), slog.Int("indexes", len(indexes)))
	return rec, nil
}

func ledgerParams(rec storage.MigrationRecord) map[string]any {
	return map[string]any{
		"version":     int64(rec.Version),
		"description": rec.Description,
		"checksum":    rec.Checksum,
		"applied_at":  rec.AppliedAt.UTC().Format(time.RFC3339Nano),
		"duration_ns": int64(rec.Duration),
	}
}

// PlanMigration renders the Cypher ApplyMigration would run.
func (s *Store) PlanMigration(rec storage.MigrationRecord, indexes []storage.IndexSpec) []string {
	return planCypher(rec, indexes)
}

func planCypher(rec storage.MigrationRecord, indexes []storage.IndexSpec) []string {
	out := make([]string, 0, len(indexes)+1)
	for _, idx := range indexes {
		out = append(out, CreateIndexCypher(idx))
	}
	return append(out, fmt.Sprintf(
		"CREATE (m:%s {version: %d, description: %q, checksum: %q})",
		ledgerLabel, rec.Version, rec.Description, rec.Checksum))
}

// =============================================================================
// Lifecycle
// =============================================================================

// Ping verifies connectivity to the server.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the driver. Safe to call multiple times.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.driver.Close(context.Background())
}

// =============================================================================
// Record Helpers
// =============================================================================

func recordNode(rec *neo4j.Record, key string) storage.Node {
	v, _ := rec.Get(key)
	n, _ := v.(neo4j.Node)
	return nodeFromDB(n)
}

func recordEdge(rec *neo4j.Record) storage.Edge {
	v, _ := rec.Get("r")
	r, _ := v.(neo4j.Relationship)
	from, _ := rec.Get("from")
	to, _ := rec.Get("to")
	fromID, _ := from.(string)
	toID, _ := to.(string)
	return edgeFromDB(r, fromID, toID)
}

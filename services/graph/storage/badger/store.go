// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds retries of a write transaction that lost a
// conflict to a concurrent writer.
const maxConflictRetries = 8

// conflictBackoff is the base delay between conflict retries.
const conflictBackoff = 2 * time.Millisecond

const (
	prefixNode      = "n/"
	prefixEdge      = "e/"
	prefixAdjacency = "a/"
	prefixIndexDecl = "x/"
	prefixIndex     = "i/"
	prefixMigration = "m/"

	// Node writers read g/<label> and write w/<label>; ApplyMigration does
	// the reverse. Either side committing inside the other's transaction
	// window makes the later commit fail with ErrConflict and retry, so a
	// node is never written against a stale set of index declarations.
	prefixIndexGen   = "g/"
	prefixLabelWrite = "w/"
)

type indexKey struct {
	label    schema.Label
	property string
}

// Store is a storage.Store backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
	closed atomic.Bool

	mu      sync.RWMutex
	indexes map[indexKey]struct{}
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Planner = (*Store)(nil)
)

// Open opens a store with the given configuration.
//
// Description:
//
//	Opens the database, loads the index declarations written by earlier
//	migrations, and starts value log GC when configured.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		db:      db,
		logger:  logger,
		indexes: make(map[indexKey]struct{}),
	}

	if err := s.loadIndexes(); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}

	return s, nil
}

// OpenInMemory opens an empty in-memory store. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// DB exposes the underlying database. Tests use it to plant raw records.
func (s *Store) DB() *badger.DB {
	return s.db
}

func (s *Store) loadIndexes() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixIndexDecl)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), prefixIndexDecl)
			label, prop, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			s.indexes[indexKey{schema.Label(label), prop}] = struct{}{}
		}
		return nil
	})
}

// =============================================================================
// Transactions
// =============================================================================

func (s *Store) begin(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("badger transaction conflict, retrying", slog.Int("attempt", attempt+1))
		time.Sleep(time.Duration(attempt+1) * conflictBackoff)
	}
	return err
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	return s.db.View(fn)
}

// =============================================================================
// Keys and Encoding
// =============================================================================

func nodeKey(id string) []byte { return []byte(prefixNode + id) }

func edgeKey(id string) []byte { return []byte(prefixEdge + id) }

func adjKey(nodeID, edgeID string) []byte {
	return []byte(prefixAdjacency + nodeID + "/" + edgeID)
}

func adjPrefix(nodeID string) []byte {
	return []byte(prefixAdjacency + nodeID + "/")
}

func indexDeclKey(label schema.Label, prop string) []byte {
	return []byte(prefixIndexDecl + string(label) + "/" + prop)
}

func indexPrefix(label schema.Label, prop, canonical string) []byte {
	return []byte(prefixIndex + string(label) + "/" + prop + "/" + hex.EncodeToString([]byte(canonical)) + "/")
}

func indexGenKey(label schema.Label) []byte {
	return []byte(prefixIndexGen + string(label))
}

func labelWriteKey(label schema.Label) []byte {
	return []byte(prefixLabelWrite + string(label))
}

func migrationKey(version int) []byte {
	return []byte(fmt.Sprintf("%s%08d", prefixMigration, version))
}

// decode unmarshals JSON keeping integers exact.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// fixNumbers turns json.Number values into int64 (or float64 when not
// integral) so callers see the same types the Neo4j store returns.
func fixNumbers(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	for k, v := range props {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			props[k] = i
		} else if f, err := n.Float64(); err == nil {
			props[k] = f
		}
	}
	return props
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return decode(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getNode(txn *badger.Txn, id string) (storage.Node, error) {
	var n storage.Node
	if err := getJSON(txn, nodeKey(id), &n); err != nil {
		return storage.Node{}, err
	}
	n.Properties = fixNumbers(n.Properties)
	return n, nil
}

func getEdge(txn *badger.Txn, id string) (storage.Edge, error) {
	var e storage.Edge
	if err := getJSON(txn, edgeKey(id), &e); err != nil {
		return storage.Edge{}, err
	}
	e.Properties = fixNumbers(e.Properties)
	return e, nil
}

// keysWithPrefix collects keys under prefix. Keys are copied because
// iterator-owned slices are reused.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// =============================================================================
// Index Maintenance
// =============================================================================

// txnIndexedProps reads the index declarations for label inside txn and
// marks the label as written. The declarations come from the transaction's
// snapshot, not the in-memory cache, so they are consistent with the
// nodes the transaction sees.
func txnIndexedProps(txn *badger.Txn, label schema.Label) ([]string, error) {
	if _, err := txn.Get(indexGenKey(label)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}
	if err := txn.Set(labelWriteKey(label), nil); err != nil {
		return nil, err
	}

	prefix := []byte(prefixIndexDecl + string(label) + "/")
	var props []string
	for _, key := range keysWithPrefix(txn, prefix) {
		props = append(props, string(key[len(prefix):]))
	}
	return props, nil
}

func (s *Store) isIndexed(label schema.Label, prop string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[indexKey{label, prop}]
	return ok
}

func writeIndexEntries(txn *badger.Txn, n storage.Node, props []string) error {
	for _, prop := range props {
		canonical, ok := storage.CanonicalValue(n.Properties[prop])
		if !ok {
			continue
		}
		key := append(indexPrefix(n.Label, prop, canonical), n.ID...)
		if err := txn.Set(key, nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteIndexEntries(txn *badger.Txn, n storage.Node, props []string) error {
	for _, prop := range props {
		canonical, ok := storage.CanonicalValue(n.Properties[prop])
		if !ok {
			continue
		}
		key := append(indexPrefix(n.Label, prop, canonical), n.ID...)
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Nodes
// =============================================================================

// PutNode creates or replaces a node.
func (s *Store) PutNode(ctx context.Context, node storage.Node) error {
	if err := storage.CheckID(node.ID); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		props, err := txnIndexedProps(txn, node.Label)
		if err != nil {
			return err
		}

		old, err := getNode(txn, node.ID)
		switch {
		case err == nil:
			if old.Label != node.Label {
				return fmt.Errorf("node %s is %s: %w", node.ID, old.Label, storage.ErrLabelConflict)
			}
			if err := deleteIndexEntries(txn, old, props); err != nil {
				return err
			}
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		if node.Properties == nil {
			node.Properties = map[string]any{}
		}
		if err := setJSON(txn, nodeKey(node.ID), node); err != nil {
			return err
		}
		return writeIndexEntries(txn, node, props)
	})
}

// GetNode returns a node by ID.
func (s *Store) GetNode(ctx context.Context, id string) (storage.Node, error) {
	var n storage.Node
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		n, err = getNode(txn, id)
		return err
	})
	if err != nil {
		return storage.Node{}, fmt.Errorf("node %s: %w", id, err)
	}
	return n, nil
}

// DeleteNode removes a node and detaches its edges.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		n, err := getNode(txn, id)
		if err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}

		for _, key := range keysWithPrefix(txn, adjPrefix(id)) {
			edgeID := strings.TrimPrefix(string(key), string(adjPrefix(id)))
			if err := deleteEdgeTxn(txn, edgeID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}

		props, err := txnIndexedProps(txn, n.Label)
		if err != nil {
			return err
		}
		if err := deleteIndexEntries(txn, n, props); err != nil {
			return err
		}
		return txn.Delete(nodeKey(id))
	})
}

// FindNodes looks up nodes by label and property value, using an index
// when a migration declared one.
func (s *Store) FindNodes(ctx context.Context, label schema.Label, property string, value any) ([]storage.Node, error) {
	var out []storage.Node

	if property != "" && s.isIndexed(label, property) {
		canonical, ok := storage.CanonicalValue(value)
		if !ok {
			return out, nil
		}
		prefix := indexPrefix(label, property, canonical)
		err := s.view(ctx, func(txn *badger.Txn) error {
			for _, key := range keysWithPrefix(txn, prefix) {
				id := string(key[len(prefix):])
				n, err := getNode(txn, id)
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				out = append(out, n)
			}
			return nil
		})
		return out, err
	}

	err := s.ScanNodes(ctx, func(n storage.Node) error {
		if n.Label != label {
			return nil
		}
		if property == "" || storage.ValuesEqual(n.Properties[property], value) {
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

// ScanNodes iterates over every node in key order.
func (s *Store) ScanNodes(ctx context.Context, fn func(storage.Node) error) error {
	return s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: []byte(prefixNode)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var n storage.Node
			if err := it.Item().Value(func(val []byte) error { return decode(val, &n) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			n.Properties = fixNumbers(n.Properties)
			if err := fn(n); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// Edges
// =============================================================================

// PutEdge creates or replaces the edge (label, from, to).
func (s *Store) PutEdge(ctx context.Context, edge storage.Edge) (storage.Edge, error) {
	edge.ID = storage.EdgeID(edge.Label, edge.From, edge.To)
	if edge.Properties == nil {
		edge.Properties = map[string]any{}
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		for _, end := range []string{edge.From, edge.To} {
			if _, err := txn.Get(nodeKey(end)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("node %s: %w", end, storage.ErrEndpointMissing)
				}
				return err
			}
		}
		if err := setJSON(txn, edgeKey(edge.ID), edge); err != nil {
			return err
		}
		if err := txn.Set(adjKey(edge.From, edge.ID), nil); err != nil {
			return err
		}
		return txn.Set(adjKey(edge.To, edge.ID), nil)
	})
	if err != nil {
		return storage.Edge{}, err
	}
	return edge, nil
}

// GetEdge returns an edge by ID.
func (s *Store) GetEdge(ctx context.Context, id string) (storage.Edge, error) {
	var e storage.Edge
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		e, err = getEdge(txn, id)
		return err
	})
	if err != nil {
		return storage.Edge{}, fmt.Errorf("edge %s: %w", id, err)
	}
	return e, nil
}

// DeleteEdge removes an edge by ID.
func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return deleteEdgeTxn(txn, id)
	})
	if err != nil {
		return fmt.Errorf("edge %s: %w", id, err)
	}
	return nil
}

func deleteEdgeTxn(txn *badger.Txn, id string) error {
	e, err := getEdge(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(adjKey(e.From, id)); err != nil {
		return err
	}
	if err := txn.Delete(adjKey(e.To, id)); err != nil {
		return err
	}
	return txn.Delete(edgeKey(id))
}

// EdgesOf returns every edge touching the node, sorted by ID.
func (s *Store) EdgesOf(ctx context.Context, nodeID string) ([]storage.Edge, error) {
	var out []storage.Edge
	err := s.view(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(nodeID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("node %s: %w", nodeID, storage.ErrNotFound)
			}
			return err
		}
		prefix := adjPrefix(nodeID)
		for _, key := range keysWithPrefix(txn, prefix) {
			e, err := getEdge(txn, string(key[len(prefix):]))
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// ScanEdges iterates over every edge in key order.
func (s *Store) ScanEdges(ctx context.Context, fn func(storage.Edge) error) error {
	return s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: []byte(prefixEdge)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e storage.Edge
			if err := it.Item().Value(func(val []byte) error { return decode(val, &e) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			e.Properties = fixNumbers(e.Properties)
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// Migrations
// =============================================================================

// AppliedMigrations returns the ledger ordered by version.
func (s *Store) AppliedMigrations(ctx context.Context) ([]storage.MigrationRecord, error) {
	var out []storage.MigrationRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: []byte(prefixMigration)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec storage.MigrationRecord
			if err := it.Item().Value(func(val []byte) error { return decode(val, &rec) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigration declares the indexes, backfills them from existing nodes
// and writes the ledger record in a single transaction.
func (s *Store) ApplyMigration(ctx context.Context, rec storage.MigrationRecord, indexes []storage.IndexSpec) (storage.MigrationRecord, error) {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(migrationKey(rec.Version)); err == nil {
			return fmt.Errorf("version %d: %w", rec.Version, storage.ErrMigrationApplied)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		gen := []byte(fmt.Sprintf("%d", rec.Version))
		for _, idx := range indexes {
			if _, err := txn.Get(labelWriteKey(idx.Label)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(indexGenKey(idx.Label), gen); err != nil {
				return err
			}
			if err := txn.Set(indexDeclKey(idx.Label, idx.Property), []byte(idx.Name())); err != nil {
				return err
			}
		}
		if err := backfillIndexes(txn, indexes); err != nil {
			return err
		}

		rec.Duration = time.Since(rec.AppliedAt)
		return setJSON(txn, migrationKey(rec.Version), rec)
	})
	if err != nil {
		return storage.MigrationRecord{}, err
	}

	s.mu.Lock()
	for _, idx := range indexes {
		s.indexes[indexKey{idx.Label, idx.Property}] = struct{}{}
	}
	s.mu.Unlock()

	s.logger.Info("migration recorded",
		slog.Int("version", rec.Version),
		slog.Int("indexes", len(indexes)),
	)
	return rec, nil
}

func backfillIndexes(txn *badger.Txn, indexes []storage.IndexSpec) error {
	if len(indexes) == 0 {
		return nil
	}
	byLabel := make(map[schema.Label][]string)
	for _, idx := range indexes {
		byLabel[idx.Label] = append(byLabel[idx.Label], idx.Property)
	}

	// Collect first; the iterator must be closed before writing.
	var nodes []storage.Node
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: []byte(prefixNode)})
	for it.Rewind(); it.Valid(); it.Next() {
		var n storage.Node
		if err := it.Item().Value(func(val []byte) error { return decode(val, &n) }); err != nil {
			it.Close()
			return err
		}
		if _, ok := byLabel[n.Label]; ok {
			nodes = append(nodes, n)
		}
	}
	it.Close()

	for _, n := range nodes {
		if err := writeIndexEntries(txn, n, byLabel[n.Label]); err != nil {
			return err
		}
	}
	return nil
}

// PlanMigration lists the key writes ApplyMigration would perform.
func (s *Store) PlanMigration(rec storage.MigrationRecord, indexes []storage.IndexSpec) []string {
	var out []string
	for _, idx := range indexes {
		out = append(out, fmt.Sprintf("SET %s = %s", indexDeclKey(idx.Label, idx.Property), idx.Name()))
		out = append(out, fmt.Sprintf("BACKFILL %s%s/%s/*", prefixIndex, idx.Label, idx.Property))
	}
	out = append(out, fmt.Sprintf("SET %s (checksum %s)", migrationKey(rec.Version), rec.Checksum))
	return out
}

// =============================================================================
// Lifecycle
// =============================================================================

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return storage.ErrClosed
	}
	return nil
}

// Close stops GC and closes the database. Safe to call multiple times.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

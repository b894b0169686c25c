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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Verify audits every stored node and edge against the applied schema.
//
// Description:
//
//	Nodes and edges are scanned concurrently. Each node is checked with
//	schema.CheckNode. Each edge is checked with schema.CheckEdge using the
//	labels of its endpoints; an edge whose endpoint does not exist is
//	reported as ReasonDanglingEdge instead. Data written through Service
//	never produces findings; the audit exists for data written by other
//	tools or before a schema change.
//
// Outputs:
//
//	*Report - Every finding, ordered by kind and ID.
//	error - Non-nil only if a scan fails.
//
// Thread Safety: Safe for concurrent use. Reads a consistent view per scan,
// not across both scans.
func (s *Service) Verify(ctx context.Context) (*Report, error) {
	ctx, span := startSpan(ctx, "Service.Verify")
	defer span.End()

	sch, err := s.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	report := &Report{SchemaVersion: sch.Version, StartedAt: time.Now().UTC()}

	var (
		labels       = make(map[string]schema.Label)
		nodeFindings []Finding
		edges        []storage.Edge
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.ScanNodes(gctx, func(n storage.Node) error {
			labels[n.ID] = n.Label
			_, violations := sch.CheckNode(n.Label, n.Properties)
			for _, v := range violations {
				nodeFindings = append(nodeFindings, Finding{Kind: EntityNode, ID: n.ID, Violation: v})
			}
			return nil
		})
	})
	g.Go(func() error {
		return s.store.ScanEdges(gctx, func(e storage.Edge) error {
			edges = append(edges, e)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan graph: %w", err)
	}

	report.NodesScanned = len(labels)
	report.EdgesScanned = len(edges)
	report.Findings = append(report.Findings, nodeFindings...)
	for _, e := range edges {
		report.Findings = append(report.Findings, checkEdge(sch, labels, e)...)
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Kind != b.Kind {
			return a.Kind > b.Kind // nodes first
		}
		return a.ID < b.ID
	})
	report.Duration = time.Since(report.StartedAt)

	span.SetAttributes(
		attribute.Int("graph.nodes_scanned", report.NodesScanned),
		attribute.Int("graph.edges_scanned", report.EdgesScanned),
		attribute.Int("graph.findings", len(report.Findings)),
	)
	recordVerify(ctx, report)

	s.logger.Info("graph verified",
		slog.Int("schema_version", report.SchemaVersion),
		slog.Int("nodes", report.NodesScanned),
		slog.Int("edges", report.EdgesScanned),
		slog.Int("findings", len(report.Findings)),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func checkEdge(sch *schema.Schema, labels map[string]schema.Label, e storage.Edge) []Finding {
	var out []Finding
	fromLabel, fromOK := labels[e.From]
	toLabel, toOK := labels[e.To]
	if !fromOK {
		out = append(out, dangling(e, "from", e.From))
	}
	if !toOK {
		out = append(out, dangling(e, "to", e.To))
	}
	if len(out) > 0 {
		return out
	}

	_, violations := sch.CheckEdge(e.Label, fromLabel, toLabel, e.Properties)
	for _, v := range violations {
		out = append(out, Finding{Kind: EntityEdge, ID: e.ID, Violation: v})
	}
	return out
}

func dangling(e storage.Edge, end, nodeID string) Finding {
	return Finding{
		Kind: EntityEdge,
		ID:   e.ID,
		Violation: schema.Violation{
			Label:    e.Label,
			Property: end,
			Value:    nodeID,
			Reason:   ReasonDanglingEdge,
			Detail:   "node does not exist",
		},
	}
}

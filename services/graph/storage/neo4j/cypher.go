// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package neo4j

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	// baseLabel is carried by every node this store writes, next to its
	// schema label. Lookups by id go through its uniqueness constraint.
	baseLabel = "SocialGraphNode"

	// ledgerLabel marks migration ledger nodes.
	ledgerLabel = "__SocialGraphMigration"

	idProperty = "id"
)

// quoteIdent backtick-quotes a label, relationship type or property name.
func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// constraintCypher guarantees unique node ids.
func constraintCypher() string {
	return fmt.Sprintf("CREATE CONSTRAINT sg_node_id IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
		baseLabel, idProperty)
}

// CreateIndexCypher renders the statement that creates a migration index.
func CreateIndexCypher(idx storage.IndexSpec) string {
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)",
		quoteIdent(idx.Name()), quoteIdent(string(idx.Label)), quoteIdent(idx.Property))
}

const ledgerCypher = `CREATE (m:` + ledgerLabel + ` {version: $version, description: $description, checksum: $checksum, applied_at: $applied_at, duration_ns: $duration_ns})`

// putNodeCypher replaces a node's properties and sets its schema label.
func putNodeCypher(label schema.Label) string {
	return fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n = $props SET n:%s",
		baseLabel, idProperty, quoteIdent(string(label)))
}

// putEdgeCypher merges the (label, from, to) relationship and replaces its
// properties.
func putEdgeCypher(label schema.Label) string {
	return fmt.Sprintf(
		"MATCH (a:%[1]s {%[2]s: $from}), (b:%[1]s {%[2]s: $to}) MERGE (a)-[r:%[3]s]->(b) SET r = $props RETURN r",
		baseLabel, idProperty, quoteIdent(string(label)))
}

// findNodesCypher matches nodes by label and, when property is set, by
// property value.
func findNodesCypher(label schema.Label, property string) string {
	q := fmt.Sprintf("MATCH (n:%s:%s)", baseLabel, quoteIdent(string(label)))
	if property != "" {
		q += fmt.Sprintf(" WHERE n.%s = $value", quoteIdent(property))
	}
	return q + " RETURN n ORDER BY n." + idProperty
}

// toParam converts a property value to a type the driver can send.
// json.Number would otherwise go over the wire as a string.
func toParam(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	}
	return v
}

func toParams(props map[string]any, id string) map[string]any {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = toParam(v)
	}
	out[idProperty] = id
	return out
}

// nodeFromDB converts a driver node to a storage node.
func nodeFromDB(n neo4j.Node) storage.Node {
	out := storage.Node{Properties: make(map[string]any, len(n.Props))}
	for _, l := range n.Labels {
		if l != baseLabel {
			out.Label = schema.Label(l)
			break
		}
	}
	for k, v := range n.Props {
		if k == idProperty {
			out.ID, _ = v.(string)
			continue
		}
		out.Properties[k] = v
	}
	return out
}

// edgeFromDB converts a driver relationship plus its endpoint ids.
func edgeFromDB(r neo4j.Relationship, from, to string) storage.Edge {
	out := storage.Edge{
		Label:      schema.Label(r.Type),
		From:       from,
		To:         to,
		Properties: make(map[string]any, len(r.Props)),
	}
	for k, v := range r.Props {
		if k == idProperty {
			out.ID, _ = v.(string)
			continue
		}
		out.Properties[k] = v
	}
	if out.ID == "" {
		out.ID = storage.EdgeID(out.Label, from, to)
	}
	return out
}

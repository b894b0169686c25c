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
	"sync"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
)

// Builtin returns the shipped migrations in version order.
//
// Never edit a migration that has been released; add a new version instead.
func Builtin() []Migration {
	return []Migration{
		peopleSchema(),
		encountersAndPlaces(),
	}
}

func peopleSchema() Migration {
	return Migration{
		Version:     1,
		Slug:        "people_schema",
		Description: "people, skills and people groups",
		Changes: []Change{
			AddNode(schema.NodeType{
				Label: schema.LabelPerson,
				Properties: []schema.PropertyDef{
					{Name: schema.PropName, Kind: schema.KindString, Nullable: true},
					{Name: schema.PropUserID, Kind: schema.KindInteger, Nullable: true},
				},
			}),
			AddNode(schema.NodeType{Label: schema.LabelSkill}),
			AddNode(schema.NodeType{
				Label: schema.LabelPeopleGroup,
				Properties: []schema.PropertyDef{
					{Name: schema.PropName, Kind: schema.KindString, Nullable: true},
					{
						Name: schema.PropHierarchy, Kind: schema.KindEnum, Nullable: true,
						Values: schema.Values(schema.HierarchyCentralized, schema.HierarchyDecentralized),
					},
					{
						Name: schema.PropScope, Kind: schema.KindEnum, Nullable: true,
						Values: schema.Values(schema.ScopeEthnic, schema.ScopeLocal, schema.ScopeNational, schema.ScopeProvincial),
					},
				},
			}),
			AddEdge(schema.EdgeType{
				Label: schema.EdgeKnows,
				From:  schema.LabelPerson,
				To:    schema.LabelPerson,
				Properties: []schema.PropertyDef{
					{
						Name: schema.PropType, Kind: schema.KindEnum, Nullable: true,
						Values: schema.Values(schema.KnowsAssociateOf, schema.KnowsChildOf, schema.KnowsParentOf),
					},
					{
						Name: schema.PropReputation, Kind: schema.KindEnum, Nullable: true,
						Values: schema.Values(schema.ReputationPositive, schema.ReputationNegative, schema.ReputationNeutral),
					},
				},
			}),
			AddEdge(schema.EdgeType{Label: schema.EdgeCanDo, From: schema.LabelPerson, To: schema.LabelSkill}),
			AddEdge(schema.EdgeType{Label: schema.EdgeMemberOf, From: schema.LabelPerson, To: schema.LabelPeopleGroup}),
			CreateIndex(schema.LabelPerson, schema.PropUserID),
			CreateIndex(schema.LabelPerson, schema.PropName),
			CreateIndex(schema.LabelPeopleGroup, schema.PropName),
		},
	}
}

func encountersAndPlaces() Migration {
	return Migration{
		Version:     2,
		Slug:        "encounters_and_places",
		Description: "places, shared activities and global people groups",
		Changes: []Change{
			AddNode(schema.NodeType{Label: schema.LabelPlace}),
			AddEdge(schema.EdgeType{
				Label: schema.EdgeWith,
				From:  schema.LabelPerson,
				To:    schema.LabelPerson,
				Properties: []schema.PropertyDef{
					{Name: schema.PropVerb, Kind: schema.KindString, Nullable: true},
				},
			}),
			AddEdge(schema.EdgeType{Label: schema.EdgeAt, From: schema.LabelPerson, To: schema.LabelPlace}),
			ExtendEnum(schema.LabelPeopleGroup, schema.PropScope, string(schema.ScopeGlobal)),
		},
	}
}

// Default returns the registry of builtin migrations.
var Default = sync.OnceValue(func() *Registry {
	return MustNewRegistry(Builtin()...)
})

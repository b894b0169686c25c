// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

// Node labels of the social graph.
const (
	// LabelPerson is a human being, optionally linked to an application user.
	LabelPerson Label = "Person"

	// LabelSkill is something a person can do.
	LabelSkill Label = "Skill"

	// LabelPeopleGroup is a group of people (family, tribe, nation...).
	LabelPeopleGroup Label = "PeopleGroup"

	// LabelPlace is a location a person can be at.
	LabelPlace Label = "Place"
)

// Edge labels of the social graph.
const (
	// EdgeKnows links two people who know each other.
	EdgeKnows Label = "KNOWS"

	// EdgeCanDo links a person to a skill.
	EdgeCanDo Label = "CAN_DO"

	// EdgeMemberOf links a person to a people group.
	EdgeMemberOf Label = "MEMBER_OF"

	// EdgeWith links two people who did something together; the verb says what.
	EdgeWith Label = "WITH"

	// EdgeAt links a person to a place.
	EdgeAt Label = "AT"
)

// Property names.
const (
	PropName       = "name"
	PropUserID     = "user_id"
	PropHierarchy  = "hierarchy"
	PropScope      = "scope"
	PropType       = "type"
	PropReputation = "reputation"
	PropVerb       = "verb"
)

// Hierarchy describes how a people group is organized.
type Hierarchy string

const (
	HierarchyCentralized   Hierarchy = "centralized"
	HierarchyDecentralized Hierarchy = "decentralized"
)

// GroupScope describes the reach of a people group.
type GroupScope string

const (
	ScopeEthnic     GroupScope = "ethnic"
	ScopeLocal      GroupScope = "local"
	ScopeNational   GroupScope = "national"
	ScopeProvincial GroupScope = "provincial"

	// ScopeGlobal is only valid once the encounters migration is applied.
	ScopeGlobal GroupScope = "global"
)

// KnowsType qualifies a KNOWS relationship.
type KnowsType string

const (
	KnowsAssociateOf KnowsType = "associate_of"
	KnowsChildOf     KnowsType = "child_of"
	KnowsParentOf    KnowsType = "parent_of"
)

// Reputation is how the source of a KNOWS edge regards the target.
type Reputation string

const (
	ReputationPositive Reputation = "positive"
	ReputationNegative Reputation = "negative"
	ReputationNeutral  Reputation = "neutral"
)

// Values returns the string forms of typed enum constants.
func Values[T ~string](vals ...T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

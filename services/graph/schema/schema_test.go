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

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSchema builds a small people graph by hand.
func testSchema(t *testing.T) *Schema {
	t.Helper()
	s := Empty()
	require.NoError(t, s.AddNode(NodeType{
		Label: LabelPerson,
		Properties: []PropertyDef{
			{Name: PropName, Kind: KindString, Nullable: true},
			{Name: PropUserID, Kind: KindInteger, Nullable: true},
		},
	}))
	require.NoError(t, s.AddNode(NodeType{
		Label: LabelPeopleGroup,
		Properties: []PropertyDef{
			{Name: PropScope, Kind: KindEnum, Nullable: true, Values: Values(ScopeLocal, ScopeNational)},
		},
	}))
	require.NoError(t, s.AddEdge(EdgeType{
		Label: EdgeKnows,
		From:  LabelPerson,
		To:    LabelPerson,
		Properties: []PropertyDef{
			{Name: PropType, Kind: KindEnum, Nullable: true, Values: Values(KnowsChildOf, KnowsParentOf)},
		},
	}))
	return s
}

func TestSchema_AddNode(t *testing.T) {
	t.Run("duplicate label", func(t *testing.T) {
		s := testSchema(t)
		err := s.AddNode(NodeType{Label: LabelPerson})
		assert.ErrorIs(t, err, ErrDuplicateLabel)
	})

	t.Run("bad label", func(t *testing.T) {
		err := Empty().AddNode(NodeType{Label: "Not A Label"})
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})

	t.Run("enum without values", func(t *testing.T) {
		err := Empty().AddNode(NodeType{
			Label:      "Thing",
			Properties: []PropertyDef{{Name: "kind", Kind: KindEnum}},
		})
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})

	t.Run("values on non-enum", func(t *testing.T) {
		err := Empty().AddNode(NodeType{
			Label:      "Thing",
			Properties: []PropertyDef{{Name: "kind", Kind: KindString, Values: []string{"a"}}},
		})
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})

	t.Run("unknown kind", func(t *testing.T) {
		err := Empty().AddNode(NodeType{
			Label:      "Thing",
			Properties: []PropertyDef{{Name: "weight", Kind: "float"}},
		})
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})

	t.Run("reserved id", func(t *testing.T) {
		err := Empty().AddNode(NodeType{
			Label:      "Thing",
			Properties: []PropertyDef{{Name: "id", Kind: KindString}},
		})
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})

	t.Run("duplicate property", func(t *testing.T) {
		err := Empty().AddNode(NodeType{
			Label: "Thing",
			Properties: []PropertyDef{
				{Name: "a", Kind: KindString},
				{Name: "a", Kind: KindInteger},
			},
		})
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})
}

func TestSchema_AddEdge_UnknownEndpoint(t *testing.T) {
	s := testSchema(t)
	err := s.AddEdge(EdgeType{Label: EdgeAt, From: LabelPerson, To: LabelPlace})
	assert.ErrorIs(t, err, ErrUnknownLabel)
	_, ok := s.Edge(EdgeAt)
	assert.False(t, ok)
}

func TestSchema_ExtendEnum(t *testing.T) {
	s := testSchema(t)

	require.NoError(t, s.ExtendEnum(LabelPeopleGroup, PropScope, string(ScopeGlobal)))
	require.NoError(t, s.ExtendEnum(LabelPeopleGroup, PropScope, string(ScopeGlobal)))

	nt, ok := s.Node(LabelPeopleGroup)
	require.True(t, ok)
	def, ok := nt.Property(PropScope)
	require.True(t, ok)
	assert.Equal(t, []string{"local", "national", "global"}, def.Values)

	assert.ErrorIs(t, s.ExtendEnum(LabelPerson, PropName, "x"), ErrNotEnum)
	assert.ErrorIs(t, s.ExtendEnum(LabelPerson, "nickname", "x"), ErrUnknownProperty)
	assert.ErrorIs(t, s.ExtendEnum(LabelPlace, PropScope, "x"), ErrUnknownLabel)
	assert.ErrorIs(t, s.ExtendEnum(EdgeKnows, PropType, "two words"), ErrInvalidDefinition)
}

func TestSchema_CloneIsDeep(t *testing.T) {
	s := testSchema(t)
	c := s.Clone()

	require.NoError(t, c.ExtendEnum(LabelPeopleGroup, PropScope, "global"))

	orig, _ := s.Nodes[LabelPeopleGroup].Property(PropScope)
	assert.NotContains(t, orig.Values, "global")
}

func TestSchema_Labels(t *testing.T) {
	s := testSchema(t)
	assert.Equal(t, []Label{LabelPeopleGroup, LabelPerson}, s.NodeLabels())
	assert.Equal(t, []Label{EdgeKnows}, s.EdgeLabels())
}

func TestValidateNode(t *testing.T) {
	s := testSchema(t)
	var nilName *string
	name := "Ada"

	tests := []struct {
		name    string
		label   Label
		props   map[string]any
		want    map[string]any
		reasons []Reason
	}{
		{
			name:  "empty props",
			label: LabelPerson,
			props: nil,
			want:  map[string]any{},
		},
		{
			name:  "all set",
			label: LabelPerson,
			props: map[string]any{PropName: "Ada", PropUserID: 7},
			want:  map[string]any{PropName: "Ada", PropUserID: int64(7)},
		},
		{
			name:  "json numbers",
			label: LabelPerson,
			props: map[string]any{PropUserID: json.Number("42")},
			want:  map[string]any{PropUserID: int64(42)},
		},
		{
			name:  "json number beyond float precision",
			label: LabelPerson,
			props: map[string]any{PropUserID: json.Number("9007199254740993")},
			want:  map[string]any{PropUserID: int64(9007199254740993)},
		},
		{
			name:    "json number for string property",
			label:   LabelPerson,
			props:   map[string]any{PropName: json.Number("42")},
			reasons: []Reason{ReasonWrongType},
		},
		{
			name:  "integral float",
			label: LabelPerson,
			props: map[string]any{PropUserID: float64(3)},
			want:  map[string]any{PropUserID: int64(3)},
		},
		{
			name:  "pointers",
			label: LabelPerson,
			props: map[string]any{PropName: &name, PropUserID: nilName},
			want:  map[string]any{PropName: "Ada"},
		},
		{
			name:  "explicit null dropped",
			label: LabelPeopleGroup,
			props: map[string]any{PropScope: nil},
			want:  map[string]any{},
		},
		{
			name:    "fractional float",
			label:   LabelPerson,
			props:   map[string]any{PropUserID: 1.5},
			reasons: []Reason{ReasonWrongType},
		},
		{
			name:    "string for integer",
			label:   LabelPerson,
			props:   map[string]any{PropUserID: "7"},
			reasons: []Reason{ReasonWrongType},
		},
		{
			name:    "enum is case sensitive",
			label:   LabelPeopleGroup,
			props:   map[string]any{PropScope: "Local"},
			reasons: []Reason{ReasonNotInEnum},
		},
		{
			name:    "enum value from later version",
			label:   LabelPeopleGroup,
			props:   map[string]any{PropScope: "global"},
			reasons: []Reason{ReasonNotInEnum},
		},
		{
			name:    "unknown property",
			label:   LabelPerson,
			props:   map[string]any{"age": 3},
			reasons: []Reason{ReasonUnknownProperty},
		},
		{
			name:    "unknown label",
			label:   LabelSkill,
			reasons: []Reason{ReasonUnknownLabel},
		},
		{
			name:    "every violation reported",
			label:   LabelPerson,
			props:   map[string]any{"age": 3, PropName: 5, PropUserID: "x"},
			reasons: []Reason{ReasonUnknownProperty, ReasonWrongType, ReasonWrongType},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ValidateNode(tt.label, tt.props)
			if len(tt.reasons) == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidProperties))
			ve, ok := AsValidationError(err)
			require.True(t, ok)
			var reasons []Reason
			for _, v := range ve.Violations {
				reasons = append(reasons, v.Reason)
				assert.Equal(t, tt.label, v.Label)
			}
			assert.Equal(t, tt.reasons, reasons)
		})
	}
}

func TestValidateNode_NotNullable(t *testing.T) {
	s := Empty()
	require.NoError(t, s.AddNode(NodeType{
		Label:      "Account",
		Properties: []PropertyDef{{Name: "email", Kind: KindString}},
	}))

	_, err := s.ValidateNode("Account", map[string]any{})
	ve, ok := AsValidationError(err)
	require.True(t, ok)
	require.Len(t, ve.Violations, 1)
	assert.Equal(t, ReasonNotNullable, ve.Violations[0].Reason)

	_, err = s.ValidateNode("Account", map[string]any{"email": nil})
	ve, ok = AsValidationError(err)
	require.True(t, ok)
	require.Len(t, ve.Violations, 1)
	assert.Equal(t, ReasonNotNullable, ve.Violations[0].Reason)
}

func TestValidateEdge(t *testing.T) {
	s := testSchema(t)

	got, err := s.ValidateEdge(EdgeKnows, LabelPerson, LabelPerson, map[string]any{PropType: "child_of"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{PropType: "child_of"}, got)

	_, err = s.ValidateEdge(EdgeKnows, LabelPerson, LabelPeopleGroup, map[string]any{PropType: "sibling_of"})
	ve, ok := AsValidationError(err)
	require.True(t, ok)
	require.Len(t, ve.Violations, 2)
	assert.Equal(t, ReasonWrongEndpoint, ve.Violations[0].Reason)
	assert.Equal(t, "to", ve.Violations[0].Property)
	assert.Equal(t, ReasonNotInEnum, ve.Violations[1].Reason)
	assert.Contains(t, err.Error(), "KNOWS.type: not_in_enum")

	_, err = s.ValidateEdge(EdgeWith, LabelPerson, LabelPerson, nil)
	assert.ErrorIs(t, err, ErrInvalidProperties)
}

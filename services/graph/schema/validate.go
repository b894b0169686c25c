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
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// validate is shared by definition and value checks. validator.Validate
// caches parsed tags and is safe for concurrent use.
var validate *validator.Validate

// identPattern restricts labels and property names to identifiers that can
// be embedded in Cypher and Badger keys without quoting.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register ident validation: %v", err))
	}

	// Enum values end up in oneof rules, which split on whitespace.
	if err := validate.RegisterValidation("token", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && strings.IndexFunc(s, unicode.IsSpace) < 0
	}); err != nil {
		panic(fmt.Sprintf("register token validation: %v", err))
	}
}

// =============================================================================
// Violations
// =============================================================================

// Reason classifies a single schema violation.
type Reason string

const (
	ReasonUnknownLabel    Reason = "unknown_label"
	ReasonUnknownProperty Reason = "unknown_property"
	ReasonNotNullable     Reason = "not_nullable"
	ReasonWrongType       Reason = "wrong_type"
	ReasonNotInEnum       Reason = "not_in_enum"
	ReasonWrongEndpoint   Reason = "wrong_endpoint"
)

// Violation describes one property (or label) that does not satisfy the
// schema.
type Violation struct {
	Label    Label  `json:"label" yaml:"label"`
	Property string `json:"property,omitempty" yaml:"property,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
	Reason   Reason `json:"reason" yaml:"reason"`
	Detail   string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// String renders the violation as "Label.property: reason (detail)".
func (v Violation) String() string {
	var b strings.Builder
	b.WriteString(string(v.Label))
	if v.Property != "" {
		b.WriteByte('.')
		b.WriteString(v.Property)
	}
	b.WriteString(": ")
	b.WriteString(string(v.Reason))
	if v.Detail != "" {
		b.WriteString(" (")
		b.WriteString(v.Detail)
		b.WriteByte(')')
	}
	return b.String()
}

// ValidationError aggregates every violation found in one write.
//
// errors.Is(err, ErrInvalidProperties) holds for any *ValidationError.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidProperties.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidProperties
}

// AsValidationError extracts a *ValidationError from an error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// =============================================================================
// Value Validation
// =============================================================================

// ValidateNode checks a node's properties against its label's declaration.
//
// Description:
//
//	Every supplied property must be declared for the label and hold a value
//	of the declared kind. Declared properties that are missing count as null.
//	Null values are dropped from the result.
//
// Inputs:
//
//	label - Node label.
//	props - Property values as decoded from JSON or built in Go. May be nil.
//
// Outputs:
//
//	map[string]any - Normalized properties (integers as int64).
//	error - *ValidationError listing every violation, or nil.
func (s *Schema) ValidateNode(label Label, props map[string]any) (map[string]any, error) {
	out, violations := s.CheckNode(label, props)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return out, nil
}

// ValidateEdge checks an edge's endpoints and properties against its label's
// declaration. fromLabel and toLabel are the labels of the endpoint nodes.
func (s *Schema) ValidateEdge(label, fromLabel, toLabel Label, props map[string]any) (map[string]any, error) {
	out, violations := s.CheckEdge(label, fromLabel, toLabel, props)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return out, nil
}

// CheckNode is ValidateNode without the error wrapping. Audits use it to
// collect violations of stored data.
func (s *Schema) CheckNode(label Label, props map[string]any) (map[string]any, []Violation) {
	nt, ok := s.Nodes[label]
	if !ok {
		return nil, []Violation{{Label: label, Reason: ReasonUnknownLabel}}
	}
	return checkProps(label, nt.Properties, props)
}

// CheckEdge is ValidateEdge without the error wrapping.
func (s *Schema) CheckEdge(label, fromLabel, toLabel Label, props map[string]any) (map[string]any, []Violation) {
	et, ok := s.Edges[label]
	if !ok {
		return nil, []Violation{{Label: label, Reason: ReasonUnknownLabel}}
	}

	var violations []Violation
	if fromLabel != et.From {
		violations = append(violations, Violation{
			Label: label, Property: "from", Value: string(fromLabel),
			Reason: ReasonWrongEndpoint, Detail: "want " + string(et.From),
		})
	}
	if toLabel != et.To {
		violations = append(violations, Violation{
			Label: label, Property: "to", Value: string(toLabel),
			Reason: ReasonWrongEndpoint, Detail: "want " + string(et.To),
		})
	}

	out, propViolations := checkProps(label, et.Properties, props)
	violations = append(violations, propViolations...)
	if len(violations) > 0 {
		return nil, violations
	}
	return out, nil
}

func checkProps(label Label, defs []PropertyDef, props map[string]any) (map[string]any, []Violation) {
	var violations []Violation
	out := make(map[string]any, len(props))

	// Sorted so violation order is stable across runs.
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def, ok := findProp(defs, name)
		if !ok {
			violations = append(violations, Violation{
				Label: label, Property: name, Value: props[name], Reason: ReasonUnknownProperty,
			})
			continue
		}
		val, v := Normalize(def, props[name])
		if v != nil {
			v.Label = label
			violations = append(violations, *v)
			continue
		}
		if val != nil {
			out[name] = val
		}
	}

	for _, def := range defs {
		if def.Nullable {
			continue
		}
		// Explicit nulls were already reported by Normalize.
		if _, present := props[def.Name]; !present {
			violations = append(violations, Violation{
				Label: label, Property: def.Name, Reason: ReasonNotNullable, Detail: "missing",
			})
		}
	}

	if len(violations) > 0 {
		return nil, violations
	}
	return out, nil
}

// Normalize converts a single value to the canonical Go type of def.
//
// Outputs:
//
//	any - string, int64 or nil (null).
//	*Violation - Non-nil if the value is not acceptable. Label is unset.
func Normalize(def PropertyDef, value any) (any, *Violation) {
	if isNull(value) {
		if def.Nullable {
			return nil, nil
		}
		return nil, &Violation{Property: def.Name, Reason: ReasonNotNullable}
	}

	switch def.Kind {
	case KindString:
		s, ok := asString(value)
		if !ok {
			return nil, wrongType(def, value, "string")
		}
		return s, nil

	case KindInteger:
		n, ok := asInt64(value)
		if !ok {
			return nil, wrongType(def, value, "integer")
		}
		return n, nil

	case KindEnum:
		s, ok := asString(value)
		if !ok {
			return nil, wrongType(def, value, "enum string")
		}
		if err := validate.Var(s, "oneof="+strings.Join(def.Values, " ")); err != nil {
			return nil, &Violation{
				Property: def.Name,
				Value:    s,
				Reason:   ReasonNotInEnum,
				Detail:   "allowed: " + strings.Join(def.Values, ", "),
			}
		}
		return s, nil
	}

	return nil, wrongType(def, value, string(def.Kind))
}

func wrongType(def PropertyDef, value any, want string) *Violation {
	return &Violation{
		Property: def.Name,
		Value:    value,
		Reason:   ReasonWrongType,
		Detail:   fmt.Sprintf("want %s, got %T", want, value),
	}
}

// isNull reports whether v is nil or a nil pointer/interface.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// asString accepts strings and named string types, dereferencing pointers.
// json.Number is a string type but carries a number, so it is refused.
func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number, *json.Number:
		return "", false
	}
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// asInt64 accepts Go integers, integral floats and json.Number.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	}

	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		return floatToInt64(rv.Float())
	}
	return 0, false
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// =============================================================================
// Definition Validation
// =============================================================================

// checkDefinition validates a NodeType or EdgeType declaration.
func checkDefinition(def any, props []PropertyDef) error {
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	seen := make(map[string]struct{}, len(props))
	for _, p := range props {
		if p.Name == "id" {
			return fmt.Errorf("%w: property name %q is reserved", ErrInvalidDefinition, p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate property %q", ErrInvalidDefinition, p.Name)
		}
		seen[p.Name] = struct{}{}

		if p.Kind != KindEnum {
			if len(p.Values) > 0 {
				return fmt.Errorf("%w: %s property %q cannot declare values", ErrInvalidDefinition, p.Kind, p.Name)
			}
			continue
		}
		if len(p.Values) == 0 {
			return fmt.Errorf("%w: enum %q has no values", ErrInvalidDefinition, p.Name)
		}
		values := make(map[string]struct{}, len(p.Values))
		for _, v := range p.Values {
			if _, dup := values[v]; dup {
				return fmt.Errorf("%w: enum %q repeats %q", ErrInvalidDefinition, p.Name, v)
			}
			values[v] = struct{}{}
		}
	}
	return nil
}

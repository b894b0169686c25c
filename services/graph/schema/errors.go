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

import "errors"

// Sentinel errors for schema definition and validation.
var (
	// ErrUnknownLabel is returned when a node or edge label is not declared
	// by the schema.
	ErrUnknownLabel = errors.New("unknown label")

	// ErrUnknownProperty is returned when a property is not declared for
	// the label it is attached to.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrDuplicateLabel is returned when a migration declares a label that
	// already exists.
	ErrDuplicateLabel = errors.New("duplicate label")

	// ErrNotEnum is returned when extending the value set of a property
	// that is not an enum.
	ErrNotEnum = errors.New("property is not an enum")

	// ErrInvalidDefinition is returned when a node, edge or property
	// definition is malformed.
	ErrInvalidDefinition = errors.New("invalid schema definition")

	// ErrInvalidProperties is the error all *ValidationError values match
	// with errors.Is.
	ErrInvalidProperties = errors.New("invalid properties")
)

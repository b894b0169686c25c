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

import "errors"

// Sentinel errors for migration registration and execution.
var (
	// ErrInvalidRegistry is returned when migration versions are not the
	// contiguous sequence 1..n or a migration is malformed.
	ErrInvalidRegistry = errors.New("invalid migration registry")

	// ErrUnknownVersion is returned for versions the registry does not hold,
	// including ledger entries written by a newer build.
	ErrUnknownVersion = errors.New("unknown migration version")

	// ErrChecksumMismatch is returned when an applied migration's checksum
	// differs from the registered migration. The migration was edited after
	// it was applied.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")

	// ErrLedgerGap is returned when the ledger skips a version.
	ErrLedgerGap = errors.New("migration ledger has a gap")

	// ErrInvalidTarget is returned when Migrate is asked to go below the
	// current version or past the latest registered one. Down migrations
	// are not supported.
	ErrInvalidTarget = errors.New("invalid migration target")
)

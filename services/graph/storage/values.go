// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"encoding/json"
	"math"
	"strconv"
)

// CanonicalValue renders a property value so that equal values produce
// equal strings regardless of how they were decoded.
//
// Strings become "s:<value>" and integers "n:<decimal>". Integral floats
// and json.Number collapse to the integer form. Other values return false.
func CanonicalValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return "s:" + x, true
	case int:
		return "n:" + strconv.FormatInt(int64(x), 10), true
	case int32:
		return "n:" + strconv.FormatInt(int64(x), 10), true
	case int64:
		return "n:" + strconv.FormatInt(x, 10), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return "n:" + strconv.FormatInt(i, 10), true
		}
		f, err := x.Float64()
		if err != nil {
			return "", false
		}
		return CanonicalValue(f)
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || x < math.MinInt64 || x >= math.MaxInt64 {
			return "", false
		}
		return "n:" + strconv.FormatInt(int64(x), 10), true
	}
	return "", false
}

// ValuesEqual reports whether two property values are equal under
// CanonicalValue.
func ValuesEqual(a, b any) bool {
	ca, ok := CanonicalValue(a)
	if !ok {
		return false
	}
	cb, ok := CanonicalValue(b)
	return ok && ca == cb
}

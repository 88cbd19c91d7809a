// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package matcher implements the semantic SQL-to-code matcher: WHERE-clause
// matching, pagination matching, and confidence scoring. It normalizes SQL
// and source conditions to a canonical form and scores match confidence
// under strict rules.
package matcher

import (
	"strings"

	"github.com/sqltracer/sqltracer/internal/model"
)

// Match performs Pass C: greedy first-match over the code-side
// multiset. For each SQL condition in order, the first code-side
// condition that Matches it is removed from the pool and recorded as
// matched; unmatched SQL conditions become Missing, and unconsumed
// code-side conditions become Extra.
func Match(sqlConditions, codeConditions []model.Condition) model.MatchResult {
	pool := make([]model.Condition, len(codeConditions))
	copy(pool, codeConditions)
	consumed := make([]bool, len(pool))

	var matched, missing []model.Condition
	for _, sc := range sqlConditions {
		found := -1
		for i, cc := range pool {
			if consumed[i] {
				continue
			}
			if Matches(sc, cc) {
				found = i
				break
			}
		}
		if found >= 0 {
			consumed[found] = true
			matched = append(matched, sc)
		} else {
			missing = append(missing, sc)
		}
	}

	var extra []model.Condition
	for i, cc := range pool {
		if !consumed[i] {
			extra = append(extra, cc)
		}
	}

	pct := 1.0
	if len(sqlConditions) > 0 {
		pct = float64(len(matched)) / float64(len(sqlConditions))
	}

	return model.MatchResult{
		Matched:         matched,
		Missing:         missing,
		Extra:           extra,
		MatchPercentage: pct,
	}
}

// Matches reports whether two Conditions denote the same predicate:
// same column (case-insensitive), same operator, and either both are
// null-checks, or either side lacks a concrete value (parameterized
// matches anything of the same column/operator), or both concrete
// values are equal case-insensitively.
func Matches(a, b model.Condition) bool {
	if !strings.EqualFold(a.Column, b.Column) {
		return false
	}
	if a.Operator != b.Operator {
		return false
	}
	if a.Operator == model.OpIsNull || a.Operator == model.OpIsNotNull {
		return true
	}
	if a.Value == nil || b.Value == nil {
		return true
	}
	return strings.EqualFold(*a.Value, *b.Value)
}

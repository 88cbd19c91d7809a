// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package matcher

import (
	"context"
	"strings"

	"github.com/sqltracer/sqltracer/internal/model"
	"github.com/sqltracer/sqltracer/internal/resolver"
)

// Evaluate runs the full semantic match of one SQL statement against one
// candidate source snippet: extract the snippet's conditions (following
// scope/finder/association resolution), match them against the SQL's
// WHERE clause, classify pagination compatibility, compare ORDER BY, and
// score the result. constants resolves named page-size constants for
// the pagination matcher (§4.5.1); callers with no model-level constants
// available (e.g. no resolved model hint) may pass nil. It returns the
// final confidence and its explanation trail.
func Evaluate(ctx context.Context, r *resolver.Resolver, modelHint string, stmt model.Statement, snippet string, constants map[string]int, patternMatched bool) (float64, []string) {
	snippetConditions := ExtractSnippetConditions(ctx, r, modelHint, snippet)
	whereMatch := Match(stmt.Where, snippetConditions)

	srcPagination := ExtractSourcePagination(snippet, constants)
	pagination := MatchPagination(stmt, srcPagination)

	orderByMatches := MatchOrderBy(stmt.OrderBy, ExtractSnippetOrderBy(snippet))

	return Score(ScoreInput{
		Statement:      stmt,
		WhereMatch:     whereMatch,
		OrderByMatches: orderByMatches,
		Pagination:     pagination,
		Clauses:        clausePresenceFromSnippet(snippet),
		PatternMatched: patternMatched,
	})
}

// clausePresenceFromSnippet derives §4.5's ClausePresence code-side
// signal by literal substring check, independent of whether the
// pagination matcher could classify the clause's value.
func clausePresenceFromSnippet(snippet string) ClausePresence {
	return ClausePresence{
		CodeHasLimit:  strings.Contains(snippet, ".limit(") || strings.Contains(snippet, ".first") || strings.Contains(snippet, ".last") || strings.Contains(snippet, ".take"),
		CodeHasOffset: strings.Contains(snippet, ".offset("),
	}
}

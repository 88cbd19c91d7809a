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
	"fmt"

	"github.com/sqltracer/sqltracer/internal/model"
)

// Component weights for the confidence score. They sum to 1.0.
const (
	weightWhere   = 0.60
	weightOrderBy = 0.15
	weightLimit   = 0.10
	weightOffset  = 0.10
	weightPattern = 0.05
)

// Strict caps applied, in order, after the weighted base score is
// computed. Each cap only ever lowers the score.
const (
	capMissingConditions      = 0.40
	capOrderByRequiredByPage  = 0.60
	capPaginationIncompatible = 0.50
	capMissingCritical        = 0.25
)

// ClausePresence is the literal-substring signal (`.limit(`, `.offset(`,
// `.take`/`.first`/`.last`) of whether a candidate snippet carries a
// clause at all, independent of whether the pagination matcher (C8) was
// able to classify it. The LIMIT and OFFSET component scores are driven
// by this presence check, not by PaginationResult.Class, which feeds
// only the strict pagination-incompatible cap below. The ORDER component
// does not use presence: it is driven by ScoreInput.OrderByMatches, an
// exact column-and-direction comparison, so a snippet whose .order(...)
// has different keys than the SQL's ORDER BY earns no ORDER credit.
type ClausePresence struct {
	CodeHasLimit  bool
	CodeHasOffset bool
}

// ScoreInput bundles everything the confidence scorer needs about one
// SQL-statement/candidate-snippet pairing.
type ScoreInput struct {
	Statement      model.Statement
	WhereMatch     model.MatchResult
	OrderByMatches bool
	Pagination     PaginationResult
	Clauses        ClausePresence
	PatternMatched bool
}

// Score computes the final confidence value and an ordered explanation
// trail: the weighted per-component contributions followed by any caps
// that fired.
func Score(in ScoreInput) (float64, []string) {
	var why []string

	whereComponent, whereNote := whereComponentScore(in.WhereMatch)
	whereScore := weightWhere * whereComponent
	why = append(why, fmt.Sprintf("where: %s -> %.3f/%.2f", whereNote, whereScore, weightWhere))

	orderScore := weightOrderBy
	if len(in.Statement.OrderBy) > 0 {
		if in.OrderByMatches {
			orderScore = weightOrderBy
			why = append(why, fmt.Sprintf("order_by: matched -> %.2f/%.2f", orderScore, weightOrderBy))
		} else {
			orderScore = 0
			why = append(why, fmt.Sprintf("order_by: mismatched -> 0.00/%.2f", weightOrderBy))
		}
	} else {
		why = append(why, fmt.Sprintf("order_by: SQL has no ORDER BY -> full %.2f/%.2f", orderScore, weightOrderBy))
	}

	limitScore, limitWhy := clauseComponentScore(in.Statement.HasLimit, in.Clauses.CodeHasLimit, weightLimit, "limit")
	why = append(why, limitWhy)
	offsetScore, offsetWhy := clauseComponentScore(in.Statement.HasOffset, in.Clauses.CodeHasOffset, weightOffset, "offset")
	why = append(why, offsetWhy)

	patternScore := 0.0
	if in.PatternMatched {
		patternScore = weightPattern
	}
	why = append(why, fmt.Sprintf("pattern: matched=%v -> %.2f/%.2f", in.PatternMatched, patternScore, weightPattern))

	score := whereScore + orderScore + limitScore + offsetScore + patternScore

	orderRequired := len(in.Statement.OrderBy) > 0
	orderMissing := orderRequired && !in.OrderByMatches
	limitMissing := in.Statement.HasLimit && limitScore == 0

	if !in.WhereMatch.IsComplete() && score > capMissingConditions {
		why = append(why, fmt.Sprintf("cap: %d missing WHERE condition(s) -> capped at %.2f", len(in.WhereMatch.Missing), capMissingConditions))
		score = capMissingConditions
	}
	if (in.Statement.HasLimit || in.Statement.HasOffset) && orderMissing && score > capOrderByRequiredByPage {
		why = append(why, fmt.Sprintf("cap: paginated query with ORDER BY unmatched in source -> capped at %.2f", capOrderByRequiredByPage))
		score = capOrderByRequiredByPage
	}
	if in.Pagination.Class == PaginationIncompatible && score > capPaginationIncompatible {
		why = append(why, fmt.Sprintf("cap: pagination incompatible (%s) -> capped at %.2f", in.Pagination.Reason, capPaginationIncompatible))
		score = capPaginationIncompatible
	}
	missingCritical := len(in.WhereMatch.Missing)
	if orderMissing {
		missingCritical++
	}
	if limitMissing {
		missingCritical++
	}
	if missingCritical >= 3 && score > capMissingCritical {
		why = append(why, fmt.Sprintf("cap: %d critical clauses missing (WHERE+ORDER+LIMIT) -> capped at %.2f", missingCritical, capMissingCritical))
		score = capMissingCritical
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return score, why
}

// whereComponentScore implements §4.5's WHERE component: a complete
// match (including the vacuous case of no SQL conditions, which Match
// always reports as complete) is full credit; otherwise a piecewise
// function of match_percentage that never reaches full credit, since
// "mostly matched" must stay visibly below "fully matched".
func whereComponentScore(wm model.MatchResult) (float64, string) {
	if wm.IsComplete() {
		if len(wm.Extra) > 0 {
			return 1.0, fmt.Sprintf("all conditions matched (%d extra code-side condition(s) not required by SQL)", len(wm.Extra))
		}
		return 1.0, "all conditions matched"
	}
	m := wm.MatchPercentage
	var component float64
	switch {
	case m >= 0.75:
		component = 0.5 + (m-0.75)*0.8
	case m >= 0.50:
		component = 0.3 + (m-0.50)*0.8
	default:
		component = m * 0.6
	}
	return component, fmt.Sprintf("%.0f%% of conditions matched -> component %.3f", m*100, component)
}

// clauseComponentScore implements §4.5's LIMIT/OFFSET component
// rule: full credit if SQL does not require the clause, or if the
// candidate snippet has it too; zero otherwise. This is a binary
// presence check and intentionally does not consult PaginationResult —
// a LIMIT clause present on both sides still scores full credit here
// even when its value disagrees with SQL's, since that disagreement is
// what the pagination-incompatible cap exists to penalize.
func clauseComponentScore(sqlHasClause, codeHasClause bool, weight float64, label string) (float64, string) {
	switch {
	case !sqlHasClause:
		return weight, fmt.Sprintf("%s: SQL has no %s -> full %.2f/%.2f", label, label, weight, weight)
	case codeHasClause:
		return weight, fmt.Sprintf("%s: present on both sides -> full %.2f/%.2f", label, weight, weight)
	default:
		return 0, fmt.Sprintf("%s: SQL has %s but the snippet does not -> 0.00/%.2f", label, label, weight)
	}
}

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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/model"
)

func TestScorePerfectMatchIsOne(t *testing.T) {
	stmt := model.Statement{
		OrderBy:  []model.OrderKey{{Column: "created_at", Desc: true}},
		HasLimit: true, LimitLiteral: intPtr(25),
		HasOffset: true, OffsetLiteral: intPtr(50),
	}
	in := ScoreInput{
		Statement:      stmt,
		WhereMatch:     model.MatchResult{MatchPercentage: 1.0},
		OrderByMatches: true,
		Pagination:     PaginationResult{Class: PaginationPerfect},
		Clauses:        ClausePresence{CodeHasLimit: true, CodeHasOffset: true},
		PatternMatched: true,
	}
	score, why := Score(in)
	assert.InDelta(t, 1.0, score, 0.001)
	assert.NotEmpty(t, why)
}

func TestScoreNoClausesInSQLGivesFullCreditForThem(t *testing.T) {
	in := ScoreInput{
		Statement:      model.Statement{},
		WhereMatch:     model.MatchResult{MatchPercentage: 1.0},
		OrderByMatches: false,
		Pagination:     PaginationResult{Class: PaginationPerfect},
		PatternMatched: true,
	}
	score, _ := Score(in)
	assert.InDelta(t, 1.0, score, 0.001)
}

func TestScoreMissingConditionsAreCapped(t *testing.T) {
	in := ScoreInput{
		Statement: model.Statement{},
		WhereMatch: model.MatchResult{
			MatchPercentage: 0.8,
			Missing:         []model.Condition{{Column: "disabler_id", Operator: model.OpIsNull}},
		},
		Pagination:     PaginationResult{Class: PaginationPerfect},
		PatternMatched: true,
	}
	score, why := Score(in)
	assert.LessOrEqual(t, score, capMissingConditions+0.0001)
	assert.Contains(t, why[len(why)-1], "missing WHERE")
}

// At match_percentage 0.8 (>=0.75 band) the piecewise WHERE component is
// 0.5+(0.8-0.75)*0.8 = 0.54, not a linear 0.8. The fixture's missing
// condition caps the total at 0.40, so this checks the raw WHERE
// component and its weighted contribution as reported in the explanation.
func TestScoreWhereComponentUsesPiecewiseCurveWithoutTrippingACap(t *testing.T) {
	stmt := model.Statement{HasLimit: true, LimitLiteral: intPtr(10)}
	in := ScoreInput{
		Statement: stmt,
		WhereMatch: model.MatchResult{
			MatchPercentage: 0.8,
			Missing:         []model.Condition{{Column: "owner_id", Operator: model.OpIsNull}},
		},
		Pagination:     PaginationResult{Class: PaginationPerfect},
		Clauses:        ClausePresence{CodeHasLimit: true},
		PatternMatched: true,
	}
	component, _ := whereComponentScore(in.WhereMatch)
	assert.InDelta(t, 0.5+(0.8-0.75)*0.8, component, 0.0001)
	_, why := Score(in)
	wantWhere := weightWhere * (0.5 + (0.8-0.75)*0.8)
	assert.Contains(t, why[0], fmt.Sprintf("-> %.3f/%.2f", wantWhere, weightWhere))
}

func TestScorePaginationIncompatibleIsCapped(t *testing.T) {
	stmt := model.Statement{HasLimit: true, LimitLiteral: intPtr(10)}
	in := ScoreInput{
		Statement:      stmt,
		WhereMatch:     model.MatchResult{MatchPercentage: 1.0},
		Pagination:     PaginationResult{Class: PaginationIncompatible, Reason: "mismatch"},
		PatternMatched: true,
	}
	score, why := Score(in)
	require.LessOrEqual(t, score, capPaginationIncompatible+0.0001)
	found := false
	for _, w := range why {
		if w == "cap: pagination incompatible (mismatch) -> capped at 0.50" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScoreOrderByMismatchIsCappedWhenPaginated(t *testing.T) {
	stmt := model.Statement{
		OrderBy:  []model.OrderKey{{Column: "created_at"}},
		HasLimit: true, LimitLiteral: intPtr(10),
	}
	in := ScoreInput{
		Statement:      stmt,
		WhereMatch:     model.MatchResult{MatchPercentage: 1.0},
		OrderByMatches: false,
		Pagination:     PaginationResult{Class: PaginationPerfect},
		PatternMatched: true,
	}
	score, _ := Score(in)
	assert.LessOrEqual(t, score, capOrderByRequiredByPage+0.0001)
}

func TestScoreOrderByMismatchWithoutPaginationIsNotCapped(t *testing.T) {
	stmt := model.Statement{OrderBy: []model.OrderKey{{Column: "created_at"}}}
	in := ScoreInput{
		Statement:      stmt,
		WhereMatch:     model.MatchResult{MatchPercentage: 1.0},
		OrderByMatches: false,
		Pagination:     PaginationResult{Class: PaginationPerfect},
		PatternMatched: true,
	}
	score, _ := Score(in)
	// No LIMIT/OFFSET in the statement: the pagination-specific ORDER BY
	// cap does not apply, so only the component weight is lost.
	assert.InDelta(t, 1.0-weightOrderBy, score, 0.001)
}

func TestScoreThreeCriticalClausesMissingIsCappedLow(t *testing.T) {
	stmt := model.Statement{
		OrderBy:  []model.OrderKey{{Column: "created_at"}},
		HasLimit: true, LimitLiteral: intPtr(10),
	}
	in := ScoreInput{
		Statement: stmt,
		WhereMatch: model.MatchResult{
			MatchPercentage: 0.6,
			Missing: []model.Condition{
				{Column: "owner_id", Operator: model.OpIsNull},
				{Column: "disabler_id", Operator: model.OpIsNull},
			},
		},
		OrderByMatches: false,
		Pagination:     PaginationResult{Class: PaginationPerfect},
		PatternMatched: false,
	}
	score, why := Score(in)
	assert.LessOrEqual(t, score, capMissingCritical+0.0001)
	assert.Contains(t, why[len(why)-1], "critical clauses missing")
}

func TestScoreLowerBoundNeverNegative(t *testing.T) {
	in := ScoreInput{
		Statement:      model.Statement{},
		WhereMatch:     model.MatchResult{MatchPercentage: 0},
		Pagination:     PaginationResult{Class: PaginationIncompatible},
		PatternMatched: false,
	}
	score, _ := Score(in)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestClauseComponentScoreIsBinaryNotPaginationClassDriven(t *testing.T) {
	// A COMPATIBLE pagination result used to halve the component score;
	// now the component only cares whether the snippet has the clause
	// at all.
	score, _ := clauseComponentScore(true, true, weightLimit, "limit")
	assert.InDelta(t, weightLimit, score, 0.0001)

	score, _ = clauseComponentScore(true, false, weightLimit, "limit")
	assert.InDelta(t, 0, score, 0.0001)

	score, _ = clauseComponentScore(false, false, weightLimit, "limit")
	assert.InDelta(t, weightLimit, score, 0.0001)
}

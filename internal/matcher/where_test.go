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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/model"
)

func lit(v string) *string { return &v }

func TestMatchAllConditionsPresent(t *testing.T) {
	sql := []model.Condition{
		{Column: "login_handle", Operator: model.OpIsNotNull},
		{Column: "owner_id", Operator: model.OpIsNull},
		{Column: "disabler_id", Operator: model.OpIsNull},
		{Column: "first_login_at", Operator: model.OpIsNotNull},
	}
	code := []model.Condition{
		{Column: "owner_id", Operator: model.OpIsNull},
		{Column: "login_handle", Operator: model.OpIsNotNull},
		{Column: "disabler_id", Operator: model.OpIsNull},
		{Column: "first_login_at", Operator: model.OpIsNotNull},
	}

	res := Match(sql, code)
	require.True(t, res.IsComplete())
	assert.Len(t, res.Matched, 4)
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.Extra)
	assert.Equal(t, 1.0, res.MatchPercentage)
}

// TestMatchMissingWhereTrap reproduces the S2 "missing WHERE trap"
// scenario: the SQL carries a disabler_id IS NULL condition the
// candidate snippet omits.
func TestMatchMissingWhereTrap(t *testing.T) {
	sql := []model.Condition{
		{Column: "login_handle", Operator: model.OpIsNotNull},
		{Column: "owner_id", Operator: model.OpIsNull},
		{Column: "disabler_id", Operator: model.OpIsNull},
		{Column: "first_login_at", Operator: model.OpIsNotNull},
		{Column: "company_id", Operator: model.OpEQ, Value: lit("42")},
	}
	code := []model.Condition{
		{Column: "login_handle", Operator: model.OpIsNotNull},
		{Column: "owner_id", Operator: model.OpIsNull},
		{Column: "first_login_at", Operator: model.OpIsNotNull},
		{Column: "company_id", Operator: model.OpEQ},
	}

	res := Match(sql, code)
	require.False(t, res.IsComplete())
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "disabler_id", res.Missing[0].Column)
	assert.Equal(t, model.OpIsNull, res.Missing[0].Operator)
	assert.Equal(t, float64(4)/float64(5), res.MatchPercentage)
}

func TestMatchDoesNotDoubleCount(t *testing.T) {
	sql := []model.Condition{
		{Column: "status", Operator: model.OpEQ, Value: lit("active")},
		{Column: "status", Operator: model.OpEQ, Value: lit("active")},
	}
	code := []model.Condition{
		{Column: "status", Operator: model.OpEQ, Value: lit("active")},
	}

	res := Match(sql, code)
	assert.Len(t, res.Matched, 1)
	assert.Len(t, res.Missing, 1)
	assert.Equal(t, len(res.Matched)+len(res.Missing), len(sql))
}

func TestMatchExtraConditionsSurviveUnconsumed(t *testing.T) {
	sql := []model.Condition{
		{Column: "owner_id", Operator: model.OpIsNull},
	}
	code := []model.Condition{
		{Column: "owner_id", Operator: model.OpIsNull},
		{Column: "archived_at", Operator: model.OpIsNull},
	}

	res := Match(sql, code)
	require.True(t, res.IsComplete())
	require.Len(t, res.Extra, 1)
	assert.Equal(t, "archived_at", res.Extra[0].Column)
}

func TestMatchesParameterizedValueMatchesAnyLiteral(t *testing.T) {
	a := model.Condition{Column: "company_id", Operator: model.OpEQ, Value: lit("7")}
	b := model.Condition{Column: "company_id", Operator: model.OpEQ}
	assert.True(t, Matches(a, b))
	assert.True(t, Matches(b, a))
}

func TestMatchesColumnCaseInsensitive(t *testing.T) {
	a := model.Condition{Column: "Owner_ID", Operator: model.OpIsNull}
	b := model.Condition{Column: "owner_id", Operator: model.OpIsNull}
	assert.True(t, Matches(a, b))
}

func TestMatchesOperatorMismatch(t *testing.T) {
	a := model.Condition{Column: "owner_id", Operator: model.OpIsNull}
	b := model.Condition{Column: "owner_id", Operator: model.OpIsNotNull}
	assert.False(t, Matches(a, b))
}

func TestMatchesLiteralValueMismatch(t *testing.T) {
	a := model.Condition{Column: "status", Operator: model.OpEQ, Value: lit("active")}
	b := model.Condition{Column: "status", Operator: model.OpEQ, Value: lit("pending")}
	assert.False(t, Matches(a, b))
}

func TestMatchEmptyWhereIsFullMatch(t *testing.T) {
	res := Match(nil, []model.Condition{{Column: "foo", Operator: model.OpEQ}})
	assert.Equal(t, 1.0, res.MatchPercentage)
	assert.True(t, res.IsComplete())
	assert.Len(t, res.Extra, 1)
}

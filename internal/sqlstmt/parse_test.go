// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlstmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/model"
)

func TestParseSelectWithFullClauses(t *testing.T) {
	raw := "SELECT * FROM members WHERE company_id = 32546 AND login_handle IS NOT NULL AND owner_id IS NULL AND disabler_id IS NULL AND first_login_at IS NOT NULL ORDER BY id ASC LIMIT 500 OFFSET 1000"
	stmt := Parse(raw)

	require.Equal(t, model.KindSelect, stmt.Kind)
	assert.Equal(t, "members", stmt.PrimaryTable)
	assert.Equal(t, []string{"*"}, stmt.Columns)
	require.Len(t, stmt.Where, 5)
	assert.Equal(t, "company_id", stmt.Where[0].Column)
	assert.Equal(t, model.OpEQ, stmt.Where[0].Operator)
	require.NotNil(t, stmt.Where[0].Value)
	assert.Equal(t, "32546", *stmt.Where[0].Value)
	assert.Equal(t, model.OpIsNotNull, stmt.Where[1].Operator)
	assert.Nil(t, stmt.Where[1].Value)

	require.Len(t, stmt.OrderBy, 1)
	assert.Equal(t, "id", stmt.OrderBy[0].Column)
	assert.False(t, stmt.OrderBy[0].Desc)

	require.True(t, stmt.HasLimit)
	require.NotNil(t, stmt.LimitLiteral)
	assert.Equal(t, 500, *stmt.LimitLiteral)
	require.True(t, stmt.HasOffset)
	require.NotNil(t, stmt.OffsetLiteral)
	assert.Equal(t, 1000, *stmt.OffsetLiteral)
}

func TestParseNoWhereDefaultsToFullMatch(t *testing.T) {
	stmt := Parse("SELECT * FROM accounts")
	assert.Empty(t, stmt.Where)
	assert.False(t, stmt.HasLimit)
}

func TestParseTableQualifiedColumn(t *testing.T) {
	stmt := Parse("SELECT * FROM accounts WHERE `accounts`.`custom_domain` = 'example.com' LIMIT 1")
	require.Len(t, stmt.Where, 1)
	assert.Equal(t, "custom_domain", stmt.Where[0].Column)
	assert.Equal(t, "example.com", *stmt.Where[0].Value)
}

func TestParseIdempotent(t *testing.T) {
	raws := []string{
		"SELECT * FROM members WHERE owner_id IS NULL ORDER BY id DESC LIMIT 10 OFFSET 20",
		"SELECT * FROM accounts WHERE custom_domain = 'example.com' LIMIT 1",
		"DELETE FROM sessions WHERE expires_at < 100",
	}
	for _, raw := range raws {
		first := Parse(raw)
		second := Parse(Print(first))
		assert.Equal(t, first, second, raw)
	}
}

func TestParsePaginationLiterals(t *testing.T) {
	stmt := Parse("SELECT * FROM widgets WHERE active = 1 LIMIT 1000 OFFSET 500")
	assert.True(t, stmt.HasLimit)
	assert.Equal(t, 1000, *stmt.LimitLiteral)
	assert.True(t, stmt.HasOffset)
	assert.Equal(t, 500, *stmt.OffsetLiteral)
}

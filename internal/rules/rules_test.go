// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/model"
)

func ip(n int) *int { return &n }

func TestGenerateRanksByDistinctivenessDescending(t *testing.T) {
	stmt := model.Statement{
		PrimaryTable: "members",
		Where: []model.Condition{
			{Column: "company_id", Operator: model.OpEQ},
			{Column: "disabler_id", Operator: model.OpIsNull},
		},
		OrderBy:      []model.OrderKey{{Column: "created_at", Desc: true}},
		HasLimit:     true,
		LimitLiteral: ip(25),
		HasOffset:    true,
		OffsetLiteral: ip(50),
	}

	patterns, locations := Generate(DefaultRules(), stmt)
	require.NotEmpty(t, patterns)
	for i := 1; i < len(patterns); i++ {
		assert.GreaterOrEqual(t, patterns[i-1].Distinctiveness, patterns[i].Distinctiveness)
	}
	require.NotEmpty(t, locations)
	for i := 1; i < len(locations); i++ {
		assert.LessOrEqual(t, locations[i-1].Priority, locations[i].Priority)
	}
}

func TestGenerateDeduplicatesPatterns(t *testing.T) {
	stmt := model.Statement{PrimaryTable: "members"}
	patterns, _ := Generate([]Rule{GenericQueryRule{}, GenericQueryRule{}}, stmt)
	assert.Len(t, patterns, 1)
}

func TestLimitOffsetRuleEmitsLiteralPatterns(t *testing.T) {
	stmt := model.Statement{HasLimit: true, LimitLiteral: ip(25), HasOffset: true, OffsetLiteral: ip(50)}
	patterns := LimitOffsetRule{}.Patterns(stmt)
	require.NotEmpty(t, patterns)
	found := false
	for _, p := range patterns {
		if p.ClauseType == "limit" {
			found = true
			assert.Contains(t, p.RegexOrSubstring, "25")
		}
	}
	assert.True(t, found)
}

func TestAssociationRuleTargetsForeignKeyColumns(t *testing.T) {
	stmt := model.Statement{Where: []model.Condition{{Column: "company_id", Operator: model.OpEQ}}}
	patterns := AssociationRule{}.Patterns(stmt)
	require.NotEmpty(t, patterns)
	for _, p := range patterns {
		assert.Contains(t, p.RegexOrSubstring, "company")
	}
}

func TestGenericQueryRuleIsLowestDistinctiveness(t *testing.T) {
	stmt := model.Statement{PrimaryTable: "members"}
	patterns := GenericQueryRule{}.Patterns(stmt)
	require.Len(t, patterns, 1)
	assert.Equal(t, "Member", patterns[0].RegexOrSubstring)
	assert.Less(t, patterns[0].Distinctiveness, 0.2)
}

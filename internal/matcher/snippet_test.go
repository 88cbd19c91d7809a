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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/model"
	"github.com/sqltracer/sqltracer/internal/resolver"
)

const snippetMemberSrc = `class Member < ApplicationRecord
  scope :all_canonical, -> { where.not(login_handle: nil).where(owner_id: nil) }
  scope :not_disabled, -> { all_canonical.where(disabler_id: nil) }
  scope :active, -> { not_disabled.where.not(first_login_at: nil) }

  def find_all_active
    members.active
  end
end
`

func newTestResolverFor(t *testing.T, src string) *resolver.Resolver {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "member.rb"), []byte(src), 0o644))
	return resolver.New(dir)
}

func findCond(t *testing.T, conds []model.Condition, col string, op model.Operator) model.Condition {
	t.Helper()
	for _, c := range conds {
		if c.Column == col && c.Operator == op {
			return c
		}
	}
	t.Fatalf("condition %s %s not found in %+v", col, op, conds)
	return model.Condition{}
}

func TestExtractSnippetConditionsLiteralHash(t *testing.T) {
	r := resolver.New(t.TempDir())
	conds := ExtractSnippetConditions(context.Background(), r, "Member", `Member.where(company_id: 42, disabled: nil)`)
	require.Len(t, conds, 2)
	eq := findCond(t, conds, "company_id", model.OpEQ)
	require.NotNil(t, eq.Value)
	assert.Equal(t, "42", *eq.Value)
	findCond(t, conds, "disabled", model.OpIsNull)
}

func TestExtractSnippetConditionsWhereNotHash(t *testing.T) {
	r := resolver.New(t.TempDir())
	conds := ExtractSnippetConditions(context.Background(), r, "Member", `Member.where.not(disabler_id: nil)`)
	require.Len(t, conds, 1)
	assert.Equal(t, "disabler_id", conds[0].Column)
	assert.Equal(t, model.OpIsNotNull, conds[0].Operator)
}

func TestExtractSnippetConditionsStringFragment(t *testing.T) {
	r := resolver.New(t.TempDir())
	conds := ExtractSnippetConditions(context.Background(), r, "Member", `Member.where("disabler_id IS NULL AND first_login_at IS NOT NULL")`)
	require.Len(t, conds, 2)
	findCond(t, conds, "disabler_id", model.OpIsNull)
	findCond(t, conds, "first_login_at", model.OpIsNotNull)
}

func TestExtractSnippetConditionsAssociationImplication(t *testing.T) {
	r := resolver.New(t.TempDir())
	conds := ExtractSnippetConditions(context.Background(), r, "Company", `company.members`)
	require.Len(t, conds, 1)
	assert.Equal(t, "company_id", conds[0].Column)
	assert.Equal(t, model.OpEQ, conds[0].Operator)
	assert.Nil(t, conds[0].Value)
}

func TestExtractSnippetConditionsScopeResolution(t *testing.T) {
	r := newTestResolverFor(t, snippetMemberSrc)
	conds := ExtractSnippetConditions(context.Background(), r, "Member", `Member.active`)
	require.Len(t, conds, 4)
	findCond(t, conds, "login_handle", model.OpIsNotNull)
	findCond(t, conds, "owner_id", model.OpIsNull)
	findCond(t, conds, "disabler_id", model.OpIsNull)
	findCond(t, conds, "first_login_at", model.OpIsNotNull)
}

func TestExtractSnippetConditionsHeuristicFallback(t *testing.T) {
	r := resolver.New(t.TempDir())
	conds := ExtractSnippetConditions(context.Background(), r, "Member", `Member.for_company`)
	require.Len(t, conds, 1)
	assert.Equal(t, "company", conds[0].Column)
	assert.Equal(t, model.OpEQ, conds[0].Operator)
}

func TestExtractSnippetConditionsCustomFinderExpansion(t *testing.T) {
	r := newTestResolverFor(t, snippetMemberSrc)
	conds := ExtractSnippetConditions(context.Background(), r, "Member", `Member.find_all_active`)
	require.Len(t, conds, 4)
	findCond(t, conds, "login_handle", model.OpIsNotNull)
	findCond(t, conds, "owner_id", model.OpIsNull)
	findCond(t, conds, "disabler_id", model.OpIsNull)
	findCond(t, conds, "first_login_at", model.OpIsNotNull)
}

func TestExtractSnippetConditionsFrameworkMethodsIgnored(t *testing.T) {
	r := resolver.New(t.TempDir())
	conds := ExtractSnippetConditions(context.Background(), r, "Member", `Member.order(:created_at).limit(10)`)
	assert.Empty(t, conds)
}

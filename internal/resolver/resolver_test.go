// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/model"
)

const memberSrc = `class Member < ApplicationRecord
  scope :all_canonical, -> { where.not(login_handle: nil).where(owner_id: nil) }
  scope :not_disabled, -> { all_canonical.where(disabler_id: nil) }
  scope :active, -> { not_disabled.where.not(first_login_at: nil) }

  def find_all_active
    members.active
  end
end
`

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "member.rb"), []byte(memberSrc), 0o644))
	return New(dir)
}

func TestResolveScopeTransitiveUnion(t *testing.T) {
	r := newTestResolver(t)
	scope, ok := r.ResolveScope(context.Background(), "Member", "active")
	require.True(t, ok)

	assert.Len(t, scope.WhereClauses, 4)
	assert.Contains(t, scope.ComposedFrom, "not_disabled")

	one := model.Condition{Column: "login_handle", Operator: model.OpIsNotNull}.Clause()
	two := model.Condition{Column: "owner_id", Operator: model.OpIsNull}.Clause()
	three := model.Condition{Column: "disabler_id", Operator: model.OpIsNull}.Clause()
	four := model.Condition{Column: "first_login_at", Operator: model.OpIsNotNull}.Clause()
	for _, c := range []model.NormalizedClause{one, two, three, four} {
		_, ok := scope.WhereClauses[c]
		assert.True(t, ok, "missing clause %+v", c)
	}
}

func TestResolveScopeUnknownReturnsFalse(t *testing.T) {
	r := newTestResolver(t)
	_, ok := r.ResolveScope(context.Background(), "Member", "for_custom_domain")
	assert.False(t, ok)
}

func TestResolveMethodCustomFinder(t *testing.T) {
	r := newTestResolver(t)
	info, ok := r.ResolveMethod(context.Background(), "Member", "find_all_active")
	require.True(t, ok)
	assert.True(t, info.ReturnsRelation)
	last, found := LastExpression(info.Body)
	require.True(t, found)
	assert.Equal(t, "members.active", last)
}

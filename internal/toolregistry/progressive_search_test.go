// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolregistry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/model"
)

func writeFixtureFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestProgressiveSearchScoresCandidatesAgainstParsedSQL(t *testing.T) {
	root := t.TempDir()
	writeFixtureFile(t, root, "app/models/member.rb", `class Member < ApplicationRecord
  scope :active, -> { where(disabled_at: nil) }
end
`)
	writeFixtureFile(t, root, "app/controllers/members_controller.rb", `class MembersController < ApplicationController
  def index
    @members = Member.active
  end
end
`)

	r := New(root)
	tool, ok := r.Resolve("progressive_search")
	require.True(t, ok)

	out, err := tool.Handler(context.Background(), map[string]any{
		"sql": "SELECT * FROM members WHERE disabled_at IS NULL",
	})
	require.NoError(t, err)

	results, ok := out.([]model.SearchResult)
	require.True(t, ok)
	require.NotEmpty(t, results)

	best := results[0]
	assert.Greater(t, best.Confidence, 0.5)
	assert.NotEmpty(t, best.Why)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Confidence, results[i].Confidence)
	}
}

func TestProgressiveSearchFallsBackToTableOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app", "models"), 0o755))

	r := New(root)
	tool, ok := r.Resolve("progressive_search")
	require.True(t, ok)

	_, err := tool.Handler(context.Background(), map[string]any{"table": "members"})
	assert.NoError(t, err)
}

func TestProgressiveSearchRequiresSQLOrTable(t *testing.T) {
	root := t.TempDir()
	r := New(root)
	tool, ok := r.Resolve("progressive_search")
	require.True(t, ok)

	_, err := tool.Handler(context.Background(), map[string]any{})
	assert.Error(t, err)
}

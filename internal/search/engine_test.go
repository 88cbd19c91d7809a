// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/fsio"
	"github.com/sqltracer/sqltracer/internal/model"
	"github.com/sqltracer/sqltracer/internal/textsearch"
)

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func intp(n int) *int { return &n }

func TestEngineRunFindsModelFileForAssociationAndScopeConditions(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "app/models/member.rb", `class Member < ApplicationRecord
  belongs_to :company

  scope :active, -> { where(disabler_id: nil) }
end
`)
	writeProjectFile(t, root, "app/controllers/members_controller.rb", `class MembersController < ApplicationController
end
`)

	backend := textsearch.NewBackend(root)
	reader, err := fsio.NewReader(root)
	require.NoError(t, err)
	eng := New(backend, reader)

	stmt := model.Statement{
		PrimaryTable: "members",
		Where: []model.Condition{
			{Column: "company_id", Operator: model.OpEQ},
			{Column: "disabler_id", Operator: model.OpIsNull},
		},
	}

	results, err := eng.Run(context.Background(), stmt)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	foundModel := false
	for _, r := range results {
		if filepath.Base(r.File) == "member.rb" {
			foundModel = true
		}
	}
	require.True(t, foundModel)
}

func TestEngineRunWithLimitOffsetNarrowsToLiteralMatch(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "app/controllers/members_controller.rb", `class MembersController < ApplicationController
  def index
    @members = Member.active.limit(25).offset(50)
  end
end
`)
	writeProjectFile(t, root, "app/models/other.rb", "class Other < ApplicationRecord\nend\n")

	backend := textsearch.NewBackend(root)
	reader, err := fsio.NewReader(root)
	require.NoError(t, err)
	eng := New(backend, reader)

	stmt := model.Statement{
		PrimaryTable:  "members",
		HasLimit:      true,
		LimitLiteral:  intp(25),
		HasOffset:     true,
		OffsetLiteral: intp(50),
	}

	results, err := eng.Run(context.Background(), stmt)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	found := false
	for _, r := range results {
		if filepath.Base(r.File) == "members_controller.rb" {
			found = true
		}
	}
	require.True(t, found)
}

func TestEngineRunReturnsNilForEmptyStatement(t *testing.T) {
	root := t.TempDir()
	backend := textsearch.NewBackend(root)
	reader, err := fsio.NewReader(root)
	require.NoError(t, err)
	eng := New(backend, reader)

	results, err := eng.Run(context.Background(), model.Statement{})
	require.NoError(t, err)
	require.Empty(t, results)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memberModelSrc = `class Member < ApplicationRecord
  belongs_to :company
  has_many :sessions

  validates :login_handle, presence: true
  validates :email, uniqueness: true, on: :create

  before_save :normalize_email

  scope :all_canonical, -> { where.not(login_handle: nil).where(owner_id: nil) }
  scope :not_disabled, -> { all_canonical.where(disabler_id: nil) }
  scope :active, -> { not_disabled.where.not(first_login_at: nil) }

  def find_all_active
    members.active
  end

  def self.find_by_custom_domain(domain)
    where(custom_domain: domain).first
  end

  private

  def normalize_email
    self.email = email.downcase
  end
end
`

func writeTempModel(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "member.rb")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestAnalyzeModelAssociationsValidationsCallbacks(t *testing.T) {
	path := writeTempModel(t, memberModelSrc)
	facts := AnalyzeModel(context.Background(), path)

	require.Empty(t, facts.Error)
	assert.Contains(t, facts.ClassDefinition, "class Member")

	require.Len(t, facts.Associations, 2)
	assert.Equal(t, "belongs_to", facts.Associations[0].Macro)
	assert.Equal(t, "company", facts.Associations[0].Name)

	require.Len(t, facts.Validations, 2)
	assert.Equal(t, "create", facts.Validations[1].On)

	require.Len(t, facts.Callbacks, 1)
	assert.Equal(t, "before_save", facts.Callbacks[0].Event)
	assert.Equal(t, "normalize_email", facts.Callbacks[0].Method)

	require.Len(t, facts.Scopes, 3)
	assert.Equal(t, "all_canonical", facts.Scopes[0].Name)
	assert.Contains(t, facts.Scopes[2].Body, "not_disabled.where.not(first_login_at: nil)")
}

func TestAnalyzeModelMissingFileReturnsError(t *testing.T) {
	facts := AnalyzeModel(context.Background(), "/nonexistent/path/model.rb")
	assert.NotEmpty(t, facts.Error)
}

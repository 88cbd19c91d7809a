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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqltracer/sqltracer/internal/sqlstmt"
)

// End-to-end coverage through Evaluate, replicating the scenarios used to
// ground the pagination and WHERE-scoring fixes: a perfectly-scoped,
// self-consistently-paginated snippet scores high; the same shape with an
// offset that can't be produced by the code's page-size constant scores
// low, with a specific incompatibility reason.

func TestEvaluatePerfectScopeAndSelfConsistentPaginationScoresHigh(t *testing.T) {
	r := newTestResolverFor(t, snippetMemberSrc)
	stmt := sqlstmt.Parse(`SELECT * FROM members WHERE company_id = 32546 AND login_handle IS NOT NULL AND owner_id IS NULL AND disabler_id IS NULL AND first_login_at IS NOT NULL ORDER BY id ASC LIMIT 500 OFFSET 1000`)

	snippet := `Member.where(company_id: 32546).active.offset((page-1)*page_size).limit(page_size).order(id: :asc)`

	score, why := Evaluate(context.Background(), r, "Member", stmt, snippet, nil, true)
	assert.GreaterOrEqual(t, score, 0.85, "why: %v", why)
}

func TestEvaluateMissingWhereConditionIsCapped(t *testing.T) {
	r := newTestResolverFor(t, snippetMemberSrc)
	stmt := sqlstmt.Parse(`SELECT * FROM members WHERE company_id = 32546 AND login_handle IS NOT NULL AND owner_id IS NULL AND disabler_id IS NULL AND first_login_at IS NOT NULL ORDER BY id ASC LIMIT 500 OFFSET 1000`)

	// not_disabled omits the first_login_at condition that only the
	// active scope layers on top, so the snippet is missing one of the
	// five SQL conditions.
	snippet := `Member.where(company_id: 32546).not_disabled.offset((page-1)*page_size).limit(page_size).order(id: :asc)`

	score, why := Evaluate(context.Background(), r, "Member", stmt, snippet, nil, true)
	assert.LessOrEqual(t, score, capMissingConditions+0.0001, "why: %v", why)
}

func TestEvaluateNamedConstantOffsetNotMultipleOfPageSizeScoresLow(t *testing.T) {
	r := newTestResolverFor(t, snippetMemberSrc)
	stmt := sqlstmt.Parse(`SELECT * FROM members WHERE company_id = 32546 AND login_handle IS NOT NULL AND owner_id IS NULL AND disabler_id IS NULL AND first_login_at IS NOT NULL LIMIT 1000 OFFSET 500`)

	snippet := `Member.where(company_id: 32546).active.offset((page-1) * VC_PAGE_SIZE).limit(VC_PAGE_SIZE)`
	constants := map[string]int{"VC_PAGE_SIZE": 1000}

	score, why := Evaluate(context.Background(), r, "Member", stmt, snippet, constants, true)
	assert.LessOrEqual(t, score, 0.50, "why: %v", why)

	found := false
	for _, w := range why {
		if w == "cap: pagination incompatible (OFFSET incompatible: 500 is not a multiple of page_size=1000) -> capped at 0.50" {
			found = true
		}
	}
	assert.True(t, found, "expected pagination-incompatible cap reason in why trail, got: %v", why)
}

func TestEvaluateCustomFinderExpansionWithPaginationScoresHigh(t *testing.T) {
	r := newTestResolverFor(t, snippetMemberSrc)
	// find_all_active expands to members.active, which (being a bare
	// association traversal on its receiver) contributes only the scope
	// chain's 4 conditions, not company_id.
	stmt := sqlstmt.Parse(`SELECT * FROM members WHERE login_handle IS NOT NULL AND owner_id IS NULL AND disabler_id IS NULL AND first_login_at IS NOT NULL ORDER BY id ASC LIMIT 500 OFFSET 1000`)

	snippet := `Member.find_all_active.offset((page-1)*page_size).limit(page_size).order(id: :asc)`

	score, why := Evaluate(context.Background(), r, "Member", stmt, snippet, nil, true)
	assert.GreaterOrEqual(t, score, 0.85, "why: %v", why)
}

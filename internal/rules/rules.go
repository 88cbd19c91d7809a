// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules implements the rule set: each rule inspects a parsed SQL
// statement and proposes ranked SearchPattern and SearchLocation
// candidates for the progressive search engine to try.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqltracer/sqltracer/internal/inflect"
	"github.com/sqltracer/sqltracer/internal/model"
)

// Rule proposes search patterns and file-location hints for a statement.
// Implementations must be side-effect free; Generate runs every rule
// against the same statement and merges the results.
type Rule interface {
	Name() string
	Patterns(stmt model.Statement) []model.SearchPattern
	Locations(stmt model.Statement) []model.SearchLocation
}

// DefaultRules is the rule set applied by the progressive search engine,
// ordered from most to least specific.
func DefaultRules() []Rule {
	return []Rule{
		LimitOffsetRule{},
		ScopeDefinitionRule{},
		AssociationRule{},
		OrderByRule{},
		GenericQueryRule{},
	}
}

// Generate runs every rule against stmt and returns the merged,
// deduplicated pattern list (sorted by descending Distinctiveness) and
// the merged location list (sorted by ascending Priority).
func Generate(rulesList []Rule, stmt model.Statement) ([]model.SearchPattern, []model.SearchLocation) {
	seenPatterns := make(map[string]int) // (pattern, clause type) -> index in patterns
	seenLocations := make(map[string]struct{})
	var patterns []model.SearchPattern
	var locations []model.SearchLocation

	for _, r := range rulesList {
		for _, p := range r.Patterns(stmt) {
			key := p.RegexOrSubstring + "\x00" + p.ClauseType
			if idx, ok := seenPatterns[key]; ok {
				if p.Distinctiveness > patterns[idx].Distinctiveness {
					patterns[idx] = p
				}
				continue
			}
			seenPatterns[key] = len(patterns)
			patterns = append(patterns, p)
		}
		for _, l := range r.Locations(stmt) {
			if _, ok := seenLocations[l.Glob]; ok {
				continue
			}
			seenLocations[l.Glob] = struct{}{}
			locations = append(locations, l)
		}
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Distinctiveness > patterns[j].Distinctiveness
	})
	sort.SliceStable(locations, func(i, j int) bool {
		return locations[i].Priority < locations[j].Priority
	})
	return patterns, locations
}

func modelGuess(table string) string {
	if table == "" {
		return ""
	}
	return inflect.TableToModel(table)
}

// LimitOffsetRule targets literal LIMIT/OFFSET values, which are highly
// distinctive substrings when present.
type LimitOffsetRule struct{}

func (LimitOffsetRule) Name() string { return "limit_offset" }

func (LimitOffsetRule) Patterns(stmt model.Statement) []model.SearchPattern {
	var out []model.SearchPattern
	if stmt.LimitLiteral != nil {
		out = append(out, model.SearchPattern{
			RegexOrSubstring: fmt.Sprintf(`\.limit\(\s*%d\s*\)`, *stmt.LimitLiteral),
			Distinctiveness:  0.7,
			ClauseType:       "limit",
			Description:      "literal .limit(N) call matching the SQL LIMIT literal",
		})
	}
	if stmt.OffsetLiteral != nil {
		out = append(out, model.SearchPattern{
			RegexOrSubstring: fmt.Sprintf(`\.offset\(\s*%d\s*\)`, *stmt.OffsetLiteral),
			Distinctiveness:  0.7,
			ClauseType:       "offset",
			Description:      "literal .offset(N) call matching the SQL OFFSET literal",
			Optional:         true,
		})
	}
	if stmt.HasLimit && stmt.HasOffset {
		out = append(out, model.SearchPattern{
			RegexOrSubstring: `\.page\(`,
			Distinctiveness:  0.3,
			ClauseType:       "pagination",
			Description:      "Kaminari-style .page(N).per(M) pagination",
			Optional:         true,
		})
	}
	return out
}

func (LimitOffsetRule) Locations(stmt model.Statement) []model.SearchLocation {
	if !stmt.HasLimit && !stmt.HasOffset {
		return nil
	}
	return []model.SearchLocation{
		{Glob: "app/controllers/**/*.rb", Priority: 1},
		{Glob: "app/models/**/*.rb", Priority: 2},
	}
}

// ScopeDefinitionRule targets WHERE conditions on columns with
// conventional nullable/boolean names (disabled_at, active, etc.), which
// are frequently expressed as named scopes.
type ScopeDefinitionRule struct{}

func (ScopeDefinitionRule) Name() string { return "scope_definition" }

func (ScopeDefinitionRule) Patterns(stmt model.Statement) []model.SearchPattern {
	var out []model.SearchPattern
	for _, c := range stmt.Where {
		out = append(out, model.SearchPattern{
			RegexOrSubstring: fmt.Sprintf(`scope\s+:\w+.*\b%s\b`, strings.ToLower(c.Column)),
			Distinctiveness:  0.55,
			ClauseType:       "where",
			Description:      fmt.Sprintf("scope definition mentioning column %q", c.Column),
			Optional:         true,
		})
	}
	return out
}

func (ScopeDefinitionRule) Locations(stmt model.Statement) []model.SearchLocation {
	if modelGuess(stmt.PrimaryTable) == "" {
		return nil
	}
	return []model.SearchLocation{
		{Glob: "app/models/**/*.rb", Priority: 0},
	}
}

// AssociationRule targets WHERE conditions on foreign-key-shaped columns
// (ending in _id), which typically surface as association traversals
// rather than explicit where() calls.
type AssociationRule struct{}

func (AssociationRule) Name() string { return "association" }

func (AssociationRule) Patterns(stmt model.Statement) []model.SearchPattern {
	var out []model.SearchPattern
	for _, c := range stmt.Where {
		if !strings.HasSuffix(strings.ToLower(c.Column), "_id") {
			continue
		}
		assoc := strings.TrimSuffix(strings.ToLower(c.Column), "_id")
		out = append(out, model.SearchPattern{
			RegexOrSubstring: fmt.Sprintf(`belongs_to\s+:%s`, assoc),
			Distinctiveness:  0.5,
			ClauseType:       "where",
			Description:      fmt.Sprintf("belongs_to :%s association declaration", assoc),
			Optional:         true,
		})
		out = append(out, model.SearchPattern{
			RegexOrSubstring: fmt.Sprintf(`has_(many|one)\s+:%ss?`, assoc),
			Distinctiveness:  0.45,
			ClauseType:       "where",
			Description:      fmt.Sprintf("has_many/has_one :%s association declaration", assoc),
			Optional:         true,
		})
	}
	return out
}

func (AssociationRule) Locations(stmt model.Statement) []model.SearchLocation {
	return []model.SearchLocation{{Glob: "app/models/**/*.rb", Priority: 0}}
}

// OrderByRule targets explicit .order(...) calls matching the SQL's
// ORDER BY columns.
type OrderByRule struct{}

func (OrderByRule) Name() string { return "order_by" }

func (OrderByRule) Patterns(stmt model.Statement) []model.SearchPattern {
	var out []model.SearchPattern
	for _, k := range stmt.OrderBy {
		out = append(out, model.SearchPattern{
			RegexOrSubstring: fmt.Sprintf(`\.order\([^)]*\b%s\b`, strings.ToLower(k.Column)),
			Distinctiveness:  0.4,
			ClauseType:       "order_by",
			Description:      fmt.Sprintf("explicit .order() call referencing %q", k.Column),
			Optional:         true,
		})
	}
	return out
}

func (OrderByRule) Locations(model.Statement) []model.SearchLocation { return nil }

// GenericQueryRule is the low-distinctiveness fallback: a hash-form and
// a string-form fragment per WHERE column, searched last across models
// and controllers. When the statement has no WHERE at all it falls
// back further to the bare model/table name so a query still surfaces
// something.
type GenericQueryRule struct{}

func (GenericQueryRule) Name() string { return "generic_query" }

func (GenericQueryRule) Patterns(stmt model.Statement) []model.SearchPattern {
	var out []model.SearchPattern
	for _, c := range stmt.Where {
		col := strings.ToLower(c.Column)
		out = append(out, model.SearchPattern{
			RegexOrSubstring: fmt.Sprintf(`%s:\s*`, col),
			Distinctiveness:  0.4,
			ClauseType:       "where",
			Description:      fmt.Sprintf("hash-form %q key in a where(...) call", col),
			Optional:         true,
		})
		out = append(out, model.SearchPattern{
			RegexOrSubstring: fmt.Sprintf(`%s\s*(=|IS|LIKE)`, col),
			Distinctiveness:  0.5,
			ClauseType:       "where",
			Description:      fmt.Sprintf("string-form %q comparison fragment", col),
			Optional:         true,
		})
	}
	if len(out) == 0 && stmt.PrimaryTable != "" {
		m := modelGuess(stmt.PrimaryTable)
		out = append(out, model.SearchPattern{
			RegexOrSubstring: m,
			Distinctiveness:  0.1,
			ClauseType:       "generic",
			Description:      fmt.Sprintf("bare model name %q", m),
		})
	}
	return out
}

func (GenericQueryRule) Locations(model.Statement) []model.SearchLocation {
	return []model.SearchLocation{
		{Glob: "app/models/**/*.rb", Priority: 3},
		{Glob: "app/controllers/**/*.rb", Priority: 4},
		{Glob: "db/migrate/**/*.rb", Priority: 6},
		{Glob: "config/routes.rb", Priority: 7},
	}
}

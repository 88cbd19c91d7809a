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
	"regexp"
	"strings"

	"github.com/sqltracer/sqltracer/internal/model"
)

var reOrderCall = regexp.MustCompile(`\.order\(\s*([^)]*)\s*\)`)

// ExtractSnippetOrderBy scans a source snippet for the first .order(...)
// call and normalizes its arguments to OrderKeys, in argument order.
// Supports bare symbols (:col), "col desc"/"col asc" strings, and
// hash-style col: :desc pairs.
func ExtractSnippetOrderBy(snippet string) []model.OrderKey {
	m := reOrderCall.FindStringSubmatch(snippet)
	if m == nil {
		return nil
	}
	var keys []model.OrderKey
	for _, arg := range strings.Split(m[1], ",") {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		keys = append(keys, parseOrderArg(arg))
	}
	return keys
}

func parseOrderArg(arg string) model.OrderKey {
	desc := false
	col := arg

	if idx := strings.Index(arg, ":"); idx > 0 && strings.Contains(arg[idx:], "desc") {
		col = strings.TrimSpace(arg[:idx])
		desc = true
	} else if idx := strings.Index(arg, ":"); idx > 0 && strings.Contains(arg[idx:], "asc") {
		col = strings.TrimSpace(arg[:idx])
	}

	col = strings.TrimPrefix(col, ":")
	col = strings.Trim(col, `'"`)

	fields := strings.Fields(col)
	if len(fields) == 2 {
		col = fields[0]
		switch strings.ToLower(fields[1]) {
		case "desc":
			desc = true
		case "asc":
			desc = false
		}
	}
	return model.OrderKey{Column: strings.ToLower(strings.TrimSpace(col)), Desc: desc}
}

// MatchOrderBy reports whether a source snippet's derived ORDER BY
// sequence matches the SQL statement's, column-for-column and
// direction-for-direction, in order.
func MatchOrderBy(want, got []model.OrderKey) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if !strings.EqualFold(want[i].Column, got[i].Column) || want[i].Desc != got[i].Desc {
			return false
		}
	}
	return true
}

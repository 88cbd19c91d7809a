// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package matchtrail renders a MatchResult's matched/missing/extra WHERE
// conditions as a unified-diff-style annotation: a condition present in the
// SQL but absent from the source reads as a removed line, a condition the
// source adds beyond the SQL reads as an added line, and a matched
// condition is unchanged context. This is cosmetic — the actual score and
// strict-cap trail (package matcher) never depend on this rendering, and
// no code in this module calls Render.
package matchtrail

import (
	"fmt"
	"sort"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/sqltracer/sqltracer/internal/model"
)

// Render produces a unified diff of sqlLabel's WHERE conditions against
// codeLabel's, with matched conditions shown as context lines.
func Render(sqlLabel, codeLabel string, result model.MatchResult) (string, error) {
	var body []byte
	for _, c := range sortedConditions(result.Matched) {
		body = append(body, ' ')
		body = append(body, []byte(conditionLine(c))...)
		body = append(body, '\n')
	}
	for _, c := range sortedConditions(result.Missing) {
		body = append(body, '-')
		body = append(body, []byte(conditionLine(c))...)
		body = append(body, '\n')
	}
	for _, c := range sortedConditions(result.Extra) {
		body = append(body, '+')
		body = append(body, []byte(conditionLine(c))...)
		body = append(body, '\n')
	}

	total := len(result.Matched) + len(result.Missing) + len(result.Extra)
	fd := &diff.FileDiff{
		OrigName: sqlLabel,
		NewName:  codeLabel,
		Hunks: []*diff.Hunk{{
			OrigStartLine: 1,
			OrigLines:     int32(len(result.Matched) + len(result.Missing)),
			NewStartLine:  1,
			NewLines:      int32(len(result.Matched) + len(result.Extra)),
			Body:          body,
		}},
	}
	if total == 0 {
		return "", nil
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("matchtrail: rendering diff: %w", err)
	}
	return string(out), nil
}

func conditionLine(c model.Condition) string {
	if c.Value != nil {
		return fmt.Sprintf("%s %s %s", c.Column, c.Operator, *c.Value)
	}
	return fmt.Sprintf("%s %s", c.Column, c.Operator)
}

// sortedConditions returns conditions ordered by column then operator
// so Render's output is deterministic across runs.
func sortedConditions(cs []model.Condition) []model.Condition {
	out := make([]model.Condition, len(cs))
	copy(out, cs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Column != out[j].Column {
			return out[i].Column < out[j].Column
		}
		return out[i].Operator < out[j].Operator
	})
	return out
}

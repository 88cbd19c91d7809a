// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlstmt classifies a raw SQL statement and extracts its
// primary table, columns, and a normalized WHERE/ORDER/LIMIT/OFFSET
// skeleton.
package sqlstmt

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sqltracer/sqltracer/internal/model"
)

var (
	reLeadingKeyword = regexp.MustCompile(`(?is)^\s*(SELECT|INSERT|UPDATE|DELETE|BEGIN|COMMIT|ROLLBACK)\b`)
	reFromTable      = regexp.MustCompile(`(?is)\bFROM\s+` + "`" + `?(\w+)` + "`" + `?`)
	reIntoTable      = regexp.MustCompile(`(?is)\bINTO\s+` + "`" + `?(\w+)` + "`" + `?`)
	reUpdateTable    = regexp.MustCompile(`(?is)^\s*UPDATE\s+` + "`" + `?(\w+)` + "`" + `?`)
	reSelectCols     = regexp.MustCompile(`(?is)^\s*SELECT\s+(.*?)\s+FROM\b`)
	reWhereClause    = regexp.MustCompile(`(?is)\bWHERE\s+(.*?)(?:\bORDER\s+BY\b|\bLIMIT\b|\bOFFSET\b|\bGROUP\s+BY\b|$)`)
	reOrderClause    = regexp.MustCompile(`(?is)\bORDER\s+BY\s+(.*?)(?:\bLIMIT\b|\bOFFSET\b|$)`)
	reLimitClause    = regexp.MustCompile(`(?is)\bLIMIT\s+(\d+)`)
	reOffsetClause   = regexp.MustCompile(`(?is)\bOFFSET\s+(\d+)`)

	reIsNotNull = regexp.MustCompile(`(?is)^\s*([\w.` + "`" + `]+)\s+IS\s+NOT\s+NULL\s*$`)
	reIsNull    = regexp.MustCompile(`(?is)^\s*([\w.` + "`" + `]+)\s+IS\s+NULL\s*$`)
	reBinop     = regexp.MustCompile(`(?is)^\s*([\w.` + "`" + `]+)\s*(!=|<>|<=|>=|=|<|>)\s*(.+?)\s*$`)
	reDigits    = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// Parse classifies raw SQL and extracts a normalized Statement. Parse
// degrades gracefully: unparseable fragments become Kind=OTHER or
// contribute UNKNOWN-operator conditions rather than returning an error,
// since the matcher treats UNKNOWN conditions as never-matching.
func Parse(raw string) model.Statement {
	stmt := model.Statement{Kind: model.KindOther, Raw: raw}

	kw := reLeadingKeyword.FindStringSubmatch(raw)
	if kw == nil {
		return stmt
	}
	switch strings.ToUpper(kw[1]) {
	case "SELECT":
		stmt.Kind = model.KindSelect
	case "INSERT":
		stmt.Kind = model.KindInsert
	case "UPDATE":
		stmt.Kind = model.KindUpdate
	case "DELETE":
		stmt.Kind = model.KindDelete
	case "BEGIN":
		stmt.Kind = model.KindBegin
	case "COMMIT":
		stmt.Kind = model.KindCommit
	case "ROLLBACK":
		stmt.Kind = model.KindRollback
	}

	stmt.PrimaryTable = extractTable(raw, stmt.Kind)
	stmt.Columns = extractColumns(raw, stmt.Kind)
	stmt.Where = parseWhere(raw)
	stmt.OrderBy = parseOrderBy(raw)

	if m := reLimitClause.FindStringSubmatch(raw); m != nil {
		stmt.HasLimit = true
		if v, err := strconv.Atoi(m[1]); err == nil {
			stmt.LimitLiteral = &v
		}
	}
	if m := reOffsetClause.FindStringSubmatch(raw); m != nil {
		stmt.HasOffset = true
		if v, err := strconv.Atoi(m[1]); err == nil {
			stmt.OffsetLiteral = &v
		}
	}
	return stmt
}

func extractTable(raw string, kind model.StatementKind) string {
	switch kind {
	case model.KindSelect, model.KindUpdate, model.KindDelete:
		if kind == model.KindUpdate {
			if m := reUpdateTable.FindStringSubmatch(raw); m != nil {
				return strings.ToLower(m[1])
			}
		}
		if m := reFromTable.FindStringSubmatch(raw); m != nil {
			return strings.ToLower(m[1])
		}
	case model.KindInsert:
		if m := reIntoTable.FindStringSubmatch(raw); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

func extractColumns(raw string, kind model.StatementKind) []string {
	if kind != model.KindSelect {
		return nil
	}
	m := reSelectCols.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	body := strings.TrimSpace(m[1])
	if body == "*" {
		return []string{"*"}
	}
	parts := strings.Split(body, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		cols = append(cols, strings.ToLower(stripQualifier(strings.TrimSpace(p))))
	}
	return cols
}

// parseWhere isolates the WHERE clause and splits it at top-level AND,
// the first pass of the semantic matcher. The split is conservative
// string-level splitting: nested OR/parentheses degrade gracefully into
// UNKNOWN conditions, which never match.
func parseWhere(raw string) []model.Condition {
	m := reWhereClause.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	fragments := splitTopLevelAnd(m[1])
	conditions := make([]model.Condition, 0, len(fragments))
	for _, frag := range fragments {
		conditions = append(conditions, parseFragment(frag))
	}
	return conditions
}

func splitTopLevelAnd(clause string) []string {
	// String-level AND split: case-insensitive, word-boundary delimited.
	re := regexp.MustCompile(`(?i)\s+AND\s+`)
	parts := re.Split(clause, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFragment(frag string) model.Condition {
	if m := reIsNotNull.FindStringSubmatch(frag); m != nil {
		return model.Condition{Column: normalizeColumn(m[1]), Operator: model.OpIsNotNull}
	}
	if m := reIsNull.FindStringSubmatch(frag); m != nil {
		return model.Condition{Column: normalizeColumn(m[1]), Operator: model.OpIsNull}
	}
	if m := reBinop.FindStringSubmatch(frag); m != nil {
		col := normalizeColumn(m[1])
		op := normalizeOperator(m[2])
		val := normalizeValue(m[3])
		c := model.Condition{Column: col, Operator: op}
		if val != nil {
			c.Value = val
		}
		return c
	}
	// Unrecognized shape (OR, parens, IN (...), LIKE, etc. beyond this
	// conservative scope): surface the raw fragment as an UNKNOWN
	// condition so it contributes to "missing" rather than silently
	// vanishing.
	return model.Condition{Column: strings.ToLower(strings.TrimSpace(frag)), Operator: model.OpUnknown}
}

func normalizeOperator(op string) model.Operator {
	switch op {
	case "=":
		return model.OpEQ
	case "!=", "<>":
		return model.OpNEQ
	case "<":
		return model.OpLT
	case "<=":
		return model.OpLTE
	case ">":
		return model.OpGT
	case ">=":
		return model.OpGTE
	default:
		return model.OpUnknown
	}
}

// normalizeColumn lowercases a column reference, strips backticks, and
// drops any table-qualifier prefix ("table.column" -> "column").
func normalizeColumn(col string) string {
	return strings.ToLower(stripQualifier(col))
}

func stripQualifier(col string) string {
	col = strings.ReplaceAll(col, "`", "")
	col = strings.TrimSpace(col)
	if idx := strings.LastIndex(col, "."); idx >= 0 {
		col = col[idx+1:]
	}
	return col
}

// normalizeValue strips surrounding quotes and decides whether the
// literal is preserved verbatim (multi-digit numerics and quoted
// strings) or treated as parameterized (absent value).
func normalizeValue(raw string) *string {
	v := strings.TrimSpace(raw)
	if len(v) >= 2 && (v[0] == '\'' && v[len(v)-1] == '\'' || v[0] == '"' && v[len(v)-1] == '"') {
		inner := v[1 : len(v)-1]
		return &inner
	}
	if reDigits.MatchString(v) && len(strings.TrimPrefix(v, "-")) > 1 {
		return &v
	}
	if v == "NULL" || v == "null" {
		return nil
	}
	// Bound parameter placeholders (?, $1, :name) and bare identifiers are
	// parameterized: no concrete literal value.
	return nil
}

func parseOrderBy(raw string) []model.OrderKey {
	m := reOrderClause.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	parts := strings.Split(m[1], ",")
	keys := make([]model.OrderKey, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		desc := false
		upper := strings.ToUpper(p)
		switch {
		case strings.HasSuffix(upper, " DESC"):
			desc = true
			p = strings.TrimSpace(p[:len(p)-5])
		case strings.HasSuffix(upper, " ASC"):
			p = strings.TrimSpace(p[:len(p)-4])
		}
		keys = append(keys, model.OrderKey{Column: normalizeColumn(p), Desc: desc})
	}
	return keys
}

// Print renders a Statement back to a normalized, reparsable string.
// Print only emits clause shapes Parse already recognizes, so
// Parse(Print(Parse(s))) carries the same parsed fields as Parse(s).
// Raw holds the text that was parsed, so the two results are equal as a
// whole only when s is already in Print's normalized form.
func Print(stmt model.Statement) string {
	var b strings.Builder
	b.WriteString(string(stmt.Kind))
	if stmt.Kind == model.KindSelect {
		b.WriteString(" ")
		if len(stmt.Columns) == 0 {
			b.WriteString("*")
		} else {
			b.WriteString(strings.Join(stmt.Columns, ", "))
		}
		b.WriteString(" FROM ")
		b.WriteString(stmt.PrimaryTable)
	}
	switch stmt.Kind {
	case model.KindDelete:
		b.WriteString(" FROM " + stmt.PrimaryTable)
	case model.KindUpdate:
		b.WriteString(" " + stmt.PrimaryTable)
	case model.KindInsert:
		b.WriteString(" INTO " + stmt.PrimaryTable)
	}
	if len(stmt.Where) > 0 {
		b.WriteString(" WHERE ")
		frags := make([]string, 0, len(stmt.Where))
		for _, c := range stmt.Where {
			frags = append(frags, printCondition(c))
		}
		b.WriteString(strings.Join(frags, " AND "))
	}
	if len(stmt.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		frags := make([]string, 0, len(stmt.OrderBy))
		for _, k := range stmt.OrderBy {
			if k.Desc {
				frags = append(frags, k.Column+" DESC")
			} else {
				frags = append(frags, k.Column)
			}
		}
		b.WriteString(strings.Join(frags, ", "))
	}
	if stmt.HasLimit && stmt.LimitLiteral != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*stmt.LimitLiteral))
	}
	if stmt.HasOffset && stmt.OffsetLiteral != nil {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(*stmt.OffsetLiteral))
	}
	return b.String()
}

func printCondition(c model.Condition) string {
	switch c.Operator {
	case model.OpIsNull:
		return c.Column + " IS NULL"
	case model.OpIsNotNull:
		return c.Column + " IS NOT NULL"
	case model.OpUnknown:
		return c.Column
	default:
		if c.Value == nil {
			return c.Column + " " + string(c.Operator) + " ?"
		}
		if reDigits.MatchString(*c.Value) {
			return c.Column + " " + string(c.Operator) + " " + *c.Value
		}
		return c.Column + " " + string(c.Operator) + " '" + *c.Value + "'"
	}
}

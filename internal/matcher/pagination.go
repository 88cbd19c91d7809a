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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sqltracer/sqltracer/internal/model"
)

// PaginationClass is the outcome of comparing a SQL statement's
// LIMIT/OFFSET against a source snippet's pagination call.
type PaginationClass string

const (
	PaginationPerfect      PaginationClass = "PERFECT"
	PaginationCompatible   PaginationClass = "COMPATIBLE"
	PaginationIncompatible PaginationClass = "INCOMPATIBLE"
	PaginationUnknown      PaginationClass = "UNKNOWN"
)

// PaginationResult carries the classification and a human-readable
// explanation, surfaced verbatim in the agent's step log.
type PaginationResult struct {
	Class  PaginationClass
	Reason string
}

// SourcePagination is the pagination call extracted from a code snippet.
//
// Two offset forms are recognized: a direct literal/constant
// (.offset(50), .offset(PAGE_OFFSET)) and the conventional Kaminari-style
// `(page - 1) * page_size` expression, which pins down page_size without
// ever revealing the runtime page number.
type SourcePagination struct {
	HasLimit  bool
	Limit     int
	LimitRaw  string // raw .limit(...) argument text, resolved or not
	HasOffset bool
	Offset    int

	HasPagedOffset          bool // offset uses the (expr - n) * size convention
	PagedOffsetSizeRaw      string
	PagedOffsetSizeVal      int
	PagedOffsetSizeResolved bool

	HasPage     bool
	Page        int
	HasPageSize bool
	PageSize    int
}

var (
	rePageCall      = regexp.MustCompile(`\.page\(\s*(\d+)\s*\)`)
	rePerCall       = regexp.MustCompile(`\.per\(\s*(\d+)\s*\)`)
	reOffsetFormula = regexp.MustCompile(`^\(\s*([A-Za-z_]\w*|\d+)\s*-\s*(\d+)\s*\)\s*\*\s*([A-Za-z_]\w*|\d+)\s*$`)
	reDigitsOnly    = regexp.MustCompile(`^\d+$`)
)

// ExtractSourcePagination scans a source snippet for .limit(...),
// .offset(...) and Kaminari-style .page(N).per(M) calls.
//
// `.limit`/`.offset` arguments may be a bare digit literal or a named
// identifier; identifiers are resolved against constants (a model's
// extracted `NAME = <digits>` assignments, see analyzers.ModelFacts).
// An .offset argument matching the conventional `(page - 1) * size`
// form is recognized even when it cannot be fully resolved: it still
// establishes page_size = size, per §4.5.1.
func ExtractSourcePagination(snippet string, constants map[string]int) SourcePagination {
	var p SourcePagination

	if arg, ok := extractCallArg(snippet, "limit"); ok {
		p.LimitRaw = arg
		if v, resolved := resolvePaginationSymbol(arg, constants); resolved {
			p.HasLimit = true
			p.Limit = v
		}
	}
	if arg, ok := extractCallArg(snippet, "offset"); ok {
		if m := reOffsetFormula.FindStringSubmatch(arg); m != nil {
			p.HasPagedOffset = true
			p.PagedOffsetSizeRaw = m[3]
			if v, resolved := resolvePaginationSymbol(m[3], constants); resolved {
				p.PagedOffsetSizeVal = v
				p.PagedOffsetSizeResolved = true
			}
		} else if v, resolved := resolvePaginationSymbol(arg, constants); resolved {
			p.HasOffset = true
			p.Offset = v
		}
	}
	if m := rePageCall.FindStringSubmatch(snippet); m != nil {
		p.HasPage = true
		p.Page, _ = strconv.Atoi(m[1])
	}
	if m := rePerCall.FindStringSubmatch(snippet); m != nil {
		p.HasPageSize = true
		p.PageSize, _ = strconv.Atoi(m[1])
	}
	return p
}

// extractCallArg returns the raw argument text of the first `.name(...)`
// call in snippet, scanning for the matching close paren so a formula
// argument with its own nested parens (e.g. `(page-1)*page_size`) comes
// back whole.
func extractCallArg(snippet, name string) (string, bool) {
	needle := "." + name + "("
	idx := strings.Index(snippet, needle)
	if idx < 0 {
		return "", false
	}
	start := idx + len(needle)
	depth := 1
	for i := start; i < len(snippet); i++ {
		switch snippet[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(snippet[start:i]), true
			}
		}
	}
	return "", false
}

// resolvePaginationSymbol resolves a raw argument to an int: digit
// literals resolve directly, identifiers resolve via constants.
func resolvePaginationSymbol(raw string, constants map[string]int) (int, bool) {
	if reDigitsOnly.MatchString(raw) {
		v, _ := strconv.Atoi(raw)
		return v, true
	}
	if constants != nil {
		if v, ok := constants[raw]; ok {
			return v, true
		}
	}
	return 0, false
}

// MatchPagination classifies how a SQL statement's LIMIT/OFFSET relates
// to a source snippet's pagination call, per §4.5.1.
//
// Neither side paginating is PERFECT (nothing to reconcile). One side
// paginating and the other not is INCOMPATIBLE. Both paginating: a
// direct .limit/.offset (or .page/.per) match against SQL's literals is
// PERFECT when exact, COMPATIBLE when partial, INCOMPATIBLE when they
// disagree. A `(page - 1) * size` offset formula is judged by §4.5.1's
// modulo rule against the resolved page_size rather than exact
// equality, since the runtime page number is never statically known.
func MatchPagination(stmt model.Statement, src SourcePagination) PaginationResult {
	sqlPaginates := stmt.HasLimit || stmt.HasOffset
	srcPaginates := src.HasLimit || src.HasOffset || src.HasPagedOffset || src.LimitRaw != "" || (src.HasPage && src.HasPageSize)

	if !sqlPaginates && !srcPaginates {
		return PaginationResult{Class: PaginationPerfect, Reason: "neither side paginates"}
	}
	if sqlPaginates && !srcPaginates {
		return PaginationResult{Class: PaginationIncompatible, Reason: "SQL paginates but the candidate snippet has no limit/offset/page call"}
	}
	if !sqlPaginates && srcPaginates {
		return PaginationResult{Class: PaginationIncompatible, Reason: "candidate snippet paginates but the SQL statement carries no LIMIT/OFFSET"}
	}

	if src.HasPage && src.HasPageSize {
		derivedLimit := src.PageSize
		derivedOffset := (src.Page - 1) * src.PageSize
		return comparePaginationLiterals(stmt, derivedLimit, true, derivedOffset, true)
	}

	if src.HasPagedOffset {
		return matchPagedOffsetFormula(stmt, src)
	}

	return comparePaginationLiterals(stmt, src.Limit, src.HasLimit, src.Offset, src.HasOffset)
}

// matchPagedOffsetFormula handles the `.offset((page-1)*size).limit(size)`
// convention. The size operand may resolve directly (a digit literal or
// a named constant); failing that, if the snippet's .limit(...) call
// uses that exact same identifier, page_size is pinned to the SQL
// statement's own LIMIT literal by construction (both calls reference
// the same runtime value).
func matchPagedOffsetFormula(stmt model.Statement, src SourcePagination) PaginationResult {
	pageSize, known := src.PagedOffsetSizeVal, src.PagedOffsetSizeResolved
	if !known && src.LimitRaw != "" && src.LimitRaw == src.PagedOffsetSizeRaw && stmt.LimitLiteral != nil {
		pageSize, known = *stmt.LimitLiteral, true
	}
	if !known {
		return PaginationResult{Class: PaginationUnknown, Reason: "offset uses the (page-1)*size convention but the size operand could not be resolved to a literal or named constant"}
	}

	if stmt.LimitLiteral != nil && *stmt.LimitLiteral != pageSize {
		return PaginationResult{Class: PaginationIncompatible, Reason: fmt.Sprintf("LIMIT incompatible: SQL LIMIT %d does not equal the source's page_size=%d", *stmt.LimitLiteral, pageSize)}
	}
	if stmt.OffsetLiteral != nil && pageSize > 0 && *stmt.OffsetLiteral%pageSize != 0 {
		return PaginationResult{Class: PaginationIncompatible, Reason: fmt.Sprintf("OFFSET incompatible: %d is not a multiple of page_size=%d", *stmt.OffsetLiteral, pageSize)}
	}
	return PaginationResult{Class: PaginationCompatible, Reason: fmt.Sprintf("offset formula resolves to page_size=%d, consistent with SQL LIMIT/OFFSET", pageSize)}
}

func comparePaginationLiterals(stmt model.Statement, derivedLimit int, haveDerivedLimit bool, derivedOffset int, haveDerivedOffset bool) PaginationResult {
	wantLimit, wantOffset := stmt.LimitLiteral, stmt.OffsetLiteral

	var haveLimit, haveOffset bool
	limitMatches, offsetMatches := true, true
	if wantLimit != nil {
		haveLimit = true
		limitMatches = haveDerivedLimit && *wantLimit == derivedLimit
	}
	if wantOffset != nil {
		haveOffset = true
		offsetMatches = haveDerivedOffset && *wantOffset == derivedOffset
	}

	if !haveLimit && !haveOffset {
		return PaginationResult{Class: PaginationUnknown, Reason: "SQL has no literal LIMIT/OFFSET to compare against the paginating snippet"}
	}

	switch {
	case limitMatches && offsetMatches:
		return PaginationResult{Class: PaginationPerfect, Reason: fmt.Sprintf("limit=%d offset=%d match exactly", derivedLimit, derivedOffset)}
	case limitMatches || offsetMatches:
		return PaginationResult{Class: PaginationCompatible, Reason: "one of limit/offset matches; the other is absent or unconfirmable in the snippet"}
	default:
		return PaginationResult{Class: PaginationIncompatible, Reason: fmt.Sprintf("SQL limit/offset literals disagree with the snippet's derived limit=%d offset=%d", derivedLimit, derivedOffset)}
	}
}

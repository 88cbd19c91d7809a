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
	"regexp"
	"strings"

	"github.com/sqltracer/sqltracer/internal/inflect"
	"github.com/sqltracer/sqltracer/internal/model"
	"github.com/sqltracer/sqltracer/internal/resolver"
)

// callToken is one segment of a dotted method-chain: a name and,
// when the segment was a call, its raw (unparenthesized) argument text.
type callToken struct {
	name    string
	args    string
	hasArgs bool
}

// ExtractSnippetConditions performs Pass B: converts an expanded source
// snippet into a normalized Condition slice via association implication,
// scope resolution (with heuristic fallback), custom finder expansion
// (recursing at most once), and literal .where(...) calls.
//
// modelHint is the class name of the model the snippet is understood to
// operate on (the file the candidate line was found in, or an
// association target inferred along the way).
func ExtractSnippetConditions(ctx context.Context, r *resolver.Resolver, modelHint string, snippet string) []model.Condition {
	tokens := tokenizeChain(snippet)
	if len(tokens) == 0 {
		return nil
	}
	recursed := false
	return extractFromTokens(ctx, r, modelHint, tokens, &recursed)
}

func extractFromTokens(ctx context.Context, r *resolver.Resolver, currentModel string, tokens []callToken, recursed *bool) []model.Condition {
	var out []model.Condition
	parentVar := tokens[0].name

	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]

		if tok.name == "where" && !tok.hasArgs {
			if i+1 < len(tokens) && tokens[i+1].name == "not" && tokens[i+1].hasArgs {
				out = append(out, hashOrStringConditions(tokens[i+1].args, true)...)
				i++
				continue
			}
			continue
		}
		if tok.name == "where" && tok.hasArgs {
			out = append(out, hashOrStringConditions(tok.args, false)...)
			continue
		}
		if resolver.IsFrameworkMethod(tok.name) {
			continue
		}

		// Association traversal: plural bare identifier, no call args.
		if !tok.hasArgs && looksPlural(tok.name) {
			fk := parentVar + "_id"
			out = append(out, model.Condition{Column: fk, Operator: model.OpEQ})
			currentModel = inflect.TableToModel(tok.name)
			parentVar = tok.name
			continue
		}

		// Scope resolution (exact) then heuristic inference.
		if scope, ok := r.ResolveScope(ctx, currentModel, tok.name); ok {
			for clause := range scope.WhereClauses {
				out = append(out, clauseToCondition(clause))
			}
			parentVar = tok.name
			continue
		}
		if cond, ok := heuristicScope(tok.name); ok {
			out = append(out, cond)
			parentVar = tok.name
			continue
		}

		// Custom finder expansion: recurse at most once.
		if !*recursed {
			if info, ok := r.ResolveMethod(ctx, currentModel, tok.name); ok && info.ReturnsRelation {
				last, found := resolver.LastExpression(info.Body)
				if found {
					*recursed = true
					remaining := reconstructChain(tokens[i+1:])
					innerTokens := tokenizeChain(last + remaining)
					out = append(out, extractFromTokens(ctx, r, currentModel, innerTokens, recursed)...)
					return out
				}
			}
		}
		parentVar = tok.name
	}
	return out
}

// looksPlural is a shallow heuristic: the identifier ends in "s" but
// not in a known singular-but-s-ending exception, and is not itself a
// framework method (callers already filter those out).
func looksPlural(name string) bool {
	if len(name) < 2 || !strings.HasSuffix(name, "s") {
		return false
	}
	singular := inflect.Singularize(name)
	return singular != name
}

func clauseToCondition(c model.NormalizedClause) model.Condition {
	cond := model.Condition{Column: c.Column, Operator: c.Operator}
	if c.HasValue {
		v := c.Value
		cond.Value = &v
	}
	return cond
}

// heuristicScope infers a WHERE condition from a scope name's shape
// when the scope could not be resolved from the model file directly.
func heuristicScope(name string) (model.Condition, bool) {
	switch {
	case strings.HasPrefix(name, "having_"):
		return model.Condition{Column: name[len("having_"):], Operator: model.OpIsNotNull}, true
	case strings.HasPrefix(name, "without_"):
		return model.Condition{Column: name[len("without_"):], Operator: model.OpIsNull}, true
	case strings.HasPrefix(name, "for_"):
		return model.Condition{Column: name[len("for_"):], Operator: model.OpEQ}, true
	case strings.HasPrefix(name, "by_"):
		return model.Condition{Column: name[len("by_"):], Operator: model.OpEQ}, true
	case strings.HasPrefix(name, "with_"):
		return model.Condition{Column: name[len("with_"):], Operator: model.OpEQ}, true
	case strings.HasSuffix(name, "_is"):
		return model.Condition{Column: name[:len(name)-len("_is")], Operator: model.OpEQ}, true
	default:
		return model.Condition{}, false
	}
}

var reFragmentSplit = regexp.MustCompile(`(?i)\s+AND\s+`)

// hashOrStringConditions handles the two .where(...) syntactic forms: a
// quoted SQL-fragment string, or a Ruby hash literal of column:value pairs.
func hashOrStringConditions(args string, negated bool) []model.Condition {
	trimmed := strings.TrimSpace(args)
	if len(trimmed) >= 2 && (trimmed[0] == '"' || trimmed[0] == '\'') && trimmed[len(trimmed)-1] == trimmed[0] {
		inner := trimmed[1 : len(trimmed)-1]
		var out []model.Condition
		for _, frag := range reFragmentSplit.Split(inner, -1) {
			out = append(out, parseWhereFragment(frag))
		}
		return out
	}
	return hashPairsToConditions(trimmed, negated)
}

var reHashPairTok = regexp.MustCompile(`(\w+):\s*([^,]+)`)

func hashPairsToConditions(hashBody string, negated bool) []model.Condition {
	// A bare `nil` argument (`.where(nil)`) denotes no conditions.
	if strings.TrimSpace(hashBody) == "nil" || strings.TrimSpace(hashBody) == "" {
		return nil
	}
	var out []model.Condition
	for _, m := range reHashPairTok.FindAllStringSubmatch(hashBody, -1) {
		col := m[1]
		val := strings.TrimSpace(m[2])
		switch {
		case val == "nil":
			op := model.OpIsNull
			if negated {
				op = model.OpIsNotNull
			}
			out = append(out, model.Condition{Column: col, Operator: op})
		case isLiteral(val):
			lit := stripQuoteOrSymbol(val)
			op := model.OpEQ
			if negated {
				op = model.OpNEQ
			}
			out = append(out, model.Condition{Column: col, Operator: op, Value: &lit})
		default:
			// identifier/expression: parameterized, value absent.
			op := model.OpEQ
			if negated {
				op = model.OpNEQ
			}
			out = append(out, model.Condition{Column: col, Operator: op})
		}
	}
	return out
}

func isLiteral(v string) bool {
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return true
	}
	if strings.HasPrefix(v, ":") {
		return true
	}
	for _, r := range v {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			return isNumeric(v)
		}
	}
	return isNumeric(v)
}

func isNumeric(v string) bool {
	if v == "" {
		return false
	}
	for i, r := range v {
		if r == '-' && i == 0 {
			continue
		}
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func stripQuoteOrSymbol(v string) string {
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return strings.TrimPrefix(v, ":")
}

func parseWhereFragment(frag string) model.Condition {
	frag = strings.TrimSpace(frag)
	if idx := strings.Index(strings.ToUpper(frag), " IS NOT NULL"); idx >= 0 {
		return model.Condition{Column: normalizeCol(frag[:idx]), Operator: model.OpIsNotNull}
	}
	if idx := strings.Index(strings.ToUpper(frag), " IS NULL"); idx >= 0 {
		return model.Condition{Column: normalizeCol(frag[:idx]), Operator: model.OpIsNull}
	}
	for _, op := range []string{"!=", "<>", "<=", ">=", "=", "<", ">"} {
		if idx := strings.Index(frag, op); idx >= 0 {
			col := normalizeCol(frag[:idx])
			val := strings.TrimSpace(frag[idx+len(op):])
			opNorm := model.OpEQ
			switch op {
			case "!=", "<>":
				opNorm = model.OpNEQ
			case "<=":
				opNorm = model.OpLTE
			case ">=":
				opNorm = model.OpGTE
			case "<":
				opNorm = model.OpLT
			case ">":
				opNorm = model.OpGT
			}
			lit := stripQuoteOrSymbol(val)
			return model.Condition{Column: col, Operator: opNorm, Value: &lit}
		}
	}
	return model.Condition{Column: strings.ToLower(frag), Operator: model.OpUnknown}
}

func normalizeCol(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "`", "")
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	return strings.ToLower(s)
}

// reconstructChain re-joins remaining call tokens back into dotted
// method-chain syntax, used when splicing a custom finder's expanded
// body back in front of the caller's trailing chain.
func reconstructChain(tokens []callToken) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('.')
		b.WriteString(t.name)
		if t.hasArgs {
			b.WriteByte('(')
			b.WriteString(t.args)
			b.WriteByte(')')
		}
	}
	return b.String()
}

// tokenizeChain splits a dotted method-chain expression into tokens at
// top-level dots (outside parens/brackets/quotes). tokens[0] is the
// receiver (no args); remaining tokens are chained calls/identifiers.
func tokenizeChain(expr string) []callToken {
	expr = strings.TrimSpace(expr)
	var segments []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case inQuote != 0:
			if c == inQuote && (i == 0 || expr[i-1] != '\\') {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '.' && depth == 0:
			segments = append(segments, expr[start:i])
			start = i + 1
		}
	}
	segments = append(segments, expr[start:])

	tokens := make([]callToken, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		tokens = append(tokens, parseSegment(seg))
	}
	return tokens
}

var reSegment = regexp.MustCompile(`^([\w?!=@]+)\s*(\((.*)\))?$`)

func parseSegment(seg string) callToken {
	m := reSegment.FindStringSubmatch(seg)
	if m == nil {
		return callToken{name: seg}
	}
	name := strings.TrimPrefix(m[1], "@")
	if m[2] == "" {
		return callToken{name: name}
	}
	return callToken{name: name, args: m[3], hasArgs: true}
}

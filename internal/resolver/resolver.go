// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver implements the scope & finder resolver: given a model
// name and a scope name or custom finder method, it reads the model
// file, parses the method/scope body, and yields normalized WHERE
// conditions, following scope composition chains and detecting methods
// that return a query relation.
package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sqltracer/sqltracer/internal/analyzers"
	"github.com/sqltracer/sqltracer/internal/model"
)

// knownFrameworkMethods is the deny-list used to decide whether a
// chained call is a custom finder/scope versus a built-in query
// method.
var knownFrameworkMethods = buildSet(
	"where", "not", "order", "limit", "offset", "select", "joins", "includes",
	"group", "having", "distinct", "readonly", "lock", "references",
	"eager_load", "preload", "from", "unscope", "only", "except", "extending",
	"find", "find_by", "find_by!", "find_or_create_by", "find_or_initialize_by",
	"all", "first", "first!", "last", "last!", "take", "take!", "exists?",
	"any?", "many?", "none?", "one?", "count", "sum", "average", "minimum",
	"maximum", "calculate", "pluck", "ids", "pick", "create", "create!",
	"new", "build", "update", "update!", "update_all", "update_column",
	"update_columns", "destroy", "destroy!", "destroy_all", "delete",
	"delete_all", "find_each", "find_in_batches", "in_batches", "scope",
	"default_scope",
)

func buildSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsFrameworkMethod reports whether name is a built-in query-DSL method
// rather than a candidate scope or custom finder.
func IsFrameworkMethod(name string) bool {
	_, ok := knownFrameworkMethods[name]
	return ok
}

// Resolver resolves scopes and custom finders against model files under
// modelsDir. Its caches are scoped to the lifetime of one query; callers
// construct a fresh Resolver per query.
type Resolver struct {
	modelsDir string

	scopeCache  map[string]model.Scope      // key: "Model.scope_name"
	methodCache map[string][]analyzers.MethodDef // key: "Model"
	factsCache  map[string]analyzers.ModelFacts
}

// New constructs a query-scoped Resolver. modelsDir is the project's
// app/models directory.
func New(modelsDir string) *Resolver {
	return &Resolver{
		modelsDir:   modelsDir,
		scopeCache:  make(map[string]model.Scope),
		methodCache: make(map[string][]analyzers.MethodDef),
		factsCache:  make(map[string]analyzers.ModelFacts),
	}
}

func (r *Resolver) facts(ctx context.Context, modelName string) (analyzers.ModelFacts, error) {
	if f, ok := r.factsCache[modelName]; ok {
		return f, nil
	}
	path := filepath.Join(r.modelsDir, snakeFile(modelName))
	f := analyzers.AnalyzeModel(ctx, path)
	r.factsCache[modelName] = f
	if f.Error != "" {
		return f, fmt.Errorf("resolver: %s", f.Error)
	}
	return f, nil
}

func snakeFile(modelName string) string {
	return camelToSnake(modelName) + ".rb"
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveScope resolves modelName.scopeName into a Scope whose
// WhereClauses is the transitive union over every scope it composes.
// Composition is followed via the scope body's leading chain of other
// scope names on the same model (e.g. `not_disabled.where.not(...)`).
func (r *Resolver) ResolveScope(ctx context.Context, modelName, scopeName string) (model.Scope, bool) {
	key := modelName + "." + scopeName
	if cached, ok := r.scopeCache[key]; ok {
		return cached, true
	}

	facts, err := r.facts(ctx, modelName)
	if err != nil {
		return model.Scope{}, false
	}
	var def *analyzers.ScopeDef
	for i := range facts.Scopes {
		if facts.Scopes[i].Name == scopeName {
			def = &facts.Scopes[i]
			break
		}
	}
	if def == nil {
		return model.Scope{}, false
	}

	scope := model.Scope{
		Name:          scopeName,
		WhereClauses:  make(map[model.NormalizedClause]struct{}),
		SourceLine:    def.Line,
		RawDefinition: def.Body,
	}

	// Mark as in-progress (empty) before recursing, to break composition
	// cycles defensively even though well-formed scope chains are acyclic.
	r.scopeCache[key] = scope

	chain, ownClauses := splitScopeChain(def.Body)
	for _, composed := range chain {
		if composedScope, ok := r.ResolveScope(ctx, modelName, composed); ok {
			scope.ComposedFrom = append(scope.ComposedFrom, composed)
			for clause := range composedScope.WhereClauses {
				scope.WhereClauses[clause] = struct{}{}
			}
		}
	}
	for _, c := range ownClauses {
		scope.WhereClauses[c.Clause()] = struct{}{}
	}

	r.scopeCache[key] = scope
	return scope, true
}

var (
	reScopeLambda   = regexp.MustCompile(`->\s*\{\s*(.*)\s*\}\s*$`)
	reLeadingIdent  = regexp.MustCompile(`^(\w+)(\.|$)`)
	reWhereNotHash  = regexp.MustCompile(`where\.not\(([^)]*)\)`)
	reWhereHash     = regexp.MustCompile(`\bwhere\(([^)]*)\)`)
	reHashPair      = regexp.MustCompile(`(\w+):\s*([^,]+)`)
)

// splitScopeChain extracts the leading chain of other scope names
// referenced before the first where(...)/where.not(...) call, and the
// own where-clause conditions contributed directly by this scope body.
func splitScopeChain(body string) (chain []string, own []model.Condition) {
	lambda := reScopeLambda.FindStringSubmatch(body)
	content := body
	if lambda != nil {
		content = lambda[1]
	}

	// Walk leading dotted identifiers; stop at the first known framework
	// method (where/where.not/etc.) or once the chain runs out.
	remaining := content
	for {
		m := reLeadingIdent.FindStringSubmatch(remaining)
		if m == nil {
			break
		}
		ident := m[1]
		if IsFrameworkMethod(ident) {
			break
		}
		chain = append(chain, ident)
		remaining = remaining[len(m[0]):]
		if m[2] != "." {
			break
		}
	}

	for _, m := range reWhereNotHash.FindAllStringSubmatch(content, -1) {
		own = append(own, hashToConditions(m[1], true)...)
	}
	for _, m := range reWhereHash.FindAllStringSubmatch(content, -1) {
		own = append(own, hashToConditions(m[1], false)...)
	}
	return chain, own
}

// hashToConditions converts a `.where(col: value, ...)` hash-literal
// body into Conditions. A nil value yields IS_NULL, or IS_NOT_NULL when
// negated (the `.where.not` case); any other value yields EQ, or NEQ
// when negated.
func hashToConditions(hashBody string, negated bool) []model.Condition {
	var out []model.Condition
	for _, m := range reHashPair.FindAllStringSubmatch(hashBody, -1) {
		col := m[1]
		val := strings.TrimSpace(m[2])
		switch {
		case val == "nil":
			if negated {
				out = append(out, model.Condition{Column: col, Operator: model.OpIsNotNull})
			} else {
				out = append(out, model.Condition{Column: col, Operator: model.OpIsNull})
			}
		default:
			lit := stripQuotes(val)
			op := model.OpEQ
			if negated {
				op = model.OpNEQ
			}
			out = append(out, model.Condition{Column: col, Operator: op, Value: &lit})
		}
	}
	return out
}

func stripQuotes(v string) string {
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// Constants returns modelName's named numeric constants (e.g.
// `VC_PAGE_SIZE = 1000`), used by the pagination matcher (C8) to
// resolve a source snippet's named page-size constant. Returns nil if
// the model file cannot be read or analyzed.
func (r *Resolver) Constants(ctx context.Context, modelName string) map[string]int {
	facts, err := r.facts(ctx, modelName)
	if err != nil {
		return nil
	}
	return facts.Constants
}

// ResolveMethod looks up a custom instance/class method on modelName
// and reports whether its body's last non-comment expression returns a
// query relation, as judged by methodReturnsRelation.
func (r *Resolver) ResolveMethod(ctx context.Context, modelName, methodName string) (model.MethodInfo, bool) {
	methods, ok := r.methodCache[modelName]
	if !ok {
		facts, err := r.facts(ctx, modelName)
		if err != nil {
			return model.MethodInfo{}, false
		}
		methods = facts.Methods
		r.methodCache[modelName] = methods
	}
	for _, m := range methods {
		if m.Name == methodName {
			return model.MethodInfo{
				Name:            m.Name,
				Body:            m.Body,
				ReturnsRelation: methodReturnsRelation(m.Body),
				FilePath:        snakeFile(modelName),
			}, true
		}
	}
	return model.MethodInfo{}, false
}

var reLastExprLine = regexp.MustCompile(`(?m)^\s*(\S.*\S)\s*$`)

// methodReturnsRelation reports whether the body's last non-comment,
// non-"end" line contains a "." or "(", which is this analyzer's proxy
// for "returns an ActiveRecord::Relation". Any method call counts, query
// DSL or not: a last line of `email.downcase` also reports true.
func methodReturnsRelation(body string) bool {
	lines := strings.Split(body, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || line == "end" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "def ") {
			continue
		}
		return strings.Contains(line, ".") || strings.Contains(line, "(")
	}
	return false
}

// LastExpression returns the method body's last non-comment,
// non-"def"/"end" expression line, used by custom-finder expansion
// (Pass B.3) to textually substitute the finder call.
func LastExpression(body string) (string, bool) {
	lines := strings.Split(body, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || line == "end" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "def ") {
			continue
		}
		return line, true
	}
	return "", false
}

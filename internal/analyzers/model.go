// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzers extracts structured facts from model, controller,
// route, and migration files. The model, controller, and route analyzers
// each read a single file; the migration analyzer reads every file of a
// migrations directory. Every analyzer
// returns a {error} shape rather than raising, so the tool-error
// path can treat parse/IO failures as first-class tool results.
package analyzers

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sqltracer/sqltracer/internal/railsparse"
)

var modelTracer = otel.Tracer("analyzers.model")

// Association describes a belongs_to/has_one/has_many/habtm declaration.
type Association struct {
	Macro string // "belongs_to", "has_one", "has_many", "has_and_belongs_to_many"
	Name  string
	Line  int
}

// Validation describes a validates/validates_presence_of style call.
type Validation struct {
	Fields []string
	On     string // optional "on: :create" style field
	Raw    string
	Line   int
}

// Callback describes a before_/after_/around_ lifecycle hook.
type Callback struct {
	Event  string // "before_save", "after_create", ...
	Method string
	Line   int
}

// MethodDef describes a def/self.def found in the file.
type MethodDef struct {
	Name       string
	IsClass    bool
	Body       string
	StartLine  int
	EndLine    int
}

// ScopeDef describes a `scope :name, -> { ... }` declaration.
type ScopeDef struct {
	Name string
	Body string
	Line int
}

// ModelFacts is the structured result of the model analyzer.
type ModelFacts struct {
	ClassDefinition string
	Associations    []Association
	Validations     []Validation
	Callbacks       []Callback
	Methods         []MethodDef
	Scopes          []ScopeDef
	Concerns        []string
	Constants       map[string]int
	Summary         string
	Error           string `json:"error,omitempty"`
}

var (
	reClassDef   = regexp.MustCompile(`(?m)^\s*class\s+(\w+)(\s*<\s*[\w:]+)?`)
	reAssoc      = regexp.MustCompile(`(?m)^\s*(belongs_to|has_one|has_many|has_and_belongs_to_many)\s+:(\w+)`)
	reValidates  = regexp.MustCompile(`(?m)^\s*validates?(?:_\w+)?\s+((?:[:\w]+(?:,\s*)?)+)(.*)$`)
	reValidOn    = regexp.MustCompile(`on:\s*:(\w+)`)
	reCallback   = regexp.MustCompile(`(?m)^\s*(before_\w+|after_\w+|around_\w+)\s+:(\w+)`)
	reDef        = regexp.MustCompile(`(?m)^\s*def\s+(self\.)?([\w?!=]+)`)
	reScope      = regexp.MustCompile(`(?m)^\s*scope\s+:(\w+)\s*,`)
	reInclude    = regexp.MustCompile(`(?m)^\s*include\s+([\w:]+)`)
	reFieldToken = regexp.MustCompile(`:(\w+)`)
	reConstant   = regexp.MustCompile(`(?m)^\s*([A-Z][A-Z0-9_]*)\s*=\s*(\d+)\s*$`)
)

// AnalyzeModel parses a model file's raw source into ModelFacts.
func AnalyzeModel(ctx context.Context, path string) ModelFacts {
	ctx, span := modelTracer.Start(ctx, "AnalyzeModel")
	defer span.End()
	span.SetAttributes(attribute.String("file", path))

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("model analyzer: read failed", slog.String("path", path), slog.Any("err", err))
		return ModelFacts{Error: "cannot read file: " + err.Error()}
	}
	src := string(data)

	facts := ModelFacts{
		Associations: extractAssociations(src),
		Validations:  extractValidations(src),
		Callbacks:    extractCallbacks(src),
		Scopes:       extractScopes(src),
		Concerns:     extractIncludes(src),
		Constants:    extractConstants(src),
	}
	if m := reClassDef.FindStringSubmatch(src); m != nil {
		facts.ClassDefinition = strings.TrimSpace(m[0])
	}

	facts.Methods = extractMethods(ctx, data)
	facts.Summary = summarizeModel(facts)
	return facts
}

func extractAssociations(src string) []Association {
	var out []Association
	for _, m := range reAssoc.FindAllStringSubmatchIndex(src, -1) {
		macro := src[m[2]:m[3]]
		name := src[m[4]:m[5]]
		line := 1 + strings.Count(src[:m[0]], "\n")
		out = append(out, Association{Macro: macro, Name: name, Line: line})
	}
	return out
}

func extractValidations(src string) []Validation {
	var out []Validation
	for _, m := range reValidates.FindAllStringSubmatchIndex(src, -1) {
		raw := src[m[0]:m[1]]
		fieldsPart := src[m[2]:m[3]]
		line := 1 + strings.Count(src[:m[0]], "\n")
		var fields []string
		for _, fm := range reFieldToken.FindAllStringSubmatch(fieldsPart, -1) {
			fields = append(fields, fm[1])
		}
		v := Validation{Fields: fields, Raw: strings.TrimSpace(raw), Line: line}
		if onm := reValidOn.FindStringSubmatch(raw); onm != nil {
			v.On = onm[1]
		}
		out = append(out, v)
	}
	return out
}

func extractCallbacks(src string) []Callback {
	var out []Callback
	for _, m := range reCallback.FindAllStringSubmatchIndex(src, -1) {
		event := src[m[2]:m[3]]
		method := src[m[4]:m[5]]
		line := 1 + strings.Count(src[:m[0]], "\n")
		out = append(out, Callback{Event: event, Method: method, Line: line})
	}
	return out
}

func extractScopes(src string) []ScopeDef {
	var out []ScopeDef
	for _, m := range reScope.FindAllStringSubmatchIndex(src, -1) {
		name := src[m[2]:m[3]]
		// The leading \s* of reScope can span preceding blank lines; start
		// at the "scope" keyword itself.
		start := m[0] + strings.Index(src[m[0]:m[1]], "scope")
		line := 1 + strings.Count(src[:start], "\n")
		body := extractBalancedLine(src, start)
		out = append(out, ScopeDef{Name: name, Body: body, Line: line})
	}
	return out
}

// extractBalancedLine returns the full logical line (balanced on
// braces/parens) starting at byte offset start, for scope one-liners
// of the form `scope :name, -> { where(...).other(...) }`.
func extractBalancedLine(src string, start int) string {
	depth := 0
	i := start
	for i < len(src) {
		switch src[i] {
		case '{', '(':
			depth++
		case '}', ')':
			depth--
		case '\n':
			if depth <= 0 {
				return strings.TrimSpace(src[start:i])
			}
		}
		i++
	}
	return strings.TrimSpace(src[start:])
}

// extractConstants collects top-level `NAME = <digits>` assignments
// (the Ruby convention for a class-level numeric constant, e.g.
// `VC_PAGE_SIZE = 1000`), keyed by name. Pagination matching (C8)
// resolves a source snippet's named page-size constants against this
// map.
func extractConstants(src string) map[string]int {
	out := make(map[string]int)
	for _, m := range reConstant.FindAllStringSubmatch(src, -1) {
		if v, err := strconv.Atoi(m[2]); err == nil {
			out[m[1]] = v
		}
	}
	return out
}

func extractIncludes(src string) []string {
	var out []string
	for _, m := range reInclude.FindAllStringSubmatch(src, -1) {
		out = append(out, m[1])
	}
	return out
}

func extractMethods(ctx context.Context, data []byte) []MethodDef {
	tree, err := railsparse.Parse(ctx, data)
	if err != nil {
		// Fall back to regex-only method discovery (names, no precise
		// body boundaries) when tree-sitter parsing fails on malformed
		// source.
		return extractMethodsRegexFallback(string(data))
	}
	defer tree.Close()

	spans := railsparse.FindSpans(tree.RootNode(), data, "method", "singleton_method")
	methods := make([]MethodDef, 0, len(spans))
	for _, sp := range spans {
		m := reDef.FindStringSubmatch(sp.Text)
		if m == nil {
			continue
		}
		methods = append(methods, MethodDef{
			Name:      m[2],
			IsClass:   m[1] != "",
			Body:      sp.Text,
			StartLine: sp.StartLine,
			EndLine:   sp.EndLine,
		})
	}
	return methods
}

func extractMethodsRegexFallback(src string) []MethodDef {
	var out []MethodDef
	for _, m := range reDef.FindAllStringSubmatchIndex(src, -1) {
		name := src[m[4]:m[5]]
		isClass := m[2] >= 0
		line := 1 + strings.Count(src[:m[0]], "\n")
		out = append(out, MethodDef{Name: name, IsClass: isClass, StartLine: line})
	}
	return out
}

func summarizeModel(f ModelFacts) string {
	var b strings.Builder
	b.WriteString(f.ClassDefinition)
	if len(f.Associations) > 0 {
		b.WriteString(" | associations: ")
		for i, a := range f.Associations {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Macro + " :" + a.Name)
		}
	}
	if len(f.Scopes) > 0 {
		b.WriteString(" | scopes: ")
		for i, s := range f.Scopes {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.Name)
		}
	}
	return b.String()
}

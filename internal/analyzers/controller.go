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
	"log/slog"
	"os"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var controllerTracer = otel.Tracer("analyzers.controller")

// Visibility tags a controller method's access level.
type Visibility string

const (
	VisPublic    Visibility = "public"
	VisPrivate   Visibility = "private"
	VisProtected Visibility = "protected"
)

// Action is a public controller method (a candidate request handler).
type Action struct {
	Name string
	Line int
}

// Filter describes a before_action/after_action/around_action declaration.
type Filter struct {
	Kind   string // "before_action", "after_action", "around_action"
	Method string
	Only   []string
	Except []string
	Line   int
}

// ControllerFacts is the structured result of the controller analyzer.
type ControllerFacts struct {
	ClassDefinition string
	Actions         []Action
	Filters         []Filter
	PrivateMethods  []MethodDef
	ProtectedMethods []MethodDef
	Concerns        []string
	Error           string `json:"error,omitempty"`
}

var (
	reFilter        = regexp.MustCompile(`(?m)^\s*(before_action|after_action|around_action|before_filter|after_filter)\s+:(\w+)(.*)$`)
	reVisibilityCur = regexp.MustCompile(`(?m)^\s*(private|protected|public)\s*$`)
	reOnlyClause    = regexp.MustCompile(`only:\s*\[([^\]]*)\]|only:\s*:(\w+)`)
	reExceptClause  = regexp.MustCompile(`except:\s*\[([^\]]*)\]|except:\s*:(\w+)`)
)

// AnalyzeController parses a controller file into ControllerFacts,
// tracking a running private/protected visibility cursor: any def
// after a bare `private`/`protected` line is classified accordingly,
// per the framework's convention (no explicit per-method modifier).
func AnalyzeController(ctx context.Context, path string) ControllerFacts {
	_, span := controllerTracer.Start(ctx, "AnalyzeController")
	defer span.End()
	span.SetAttributes(attribute.String("file", path))

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("controller analyzer: read failed", slog.String("path", path), slog.Any("err", err))
		return ControllerFacts{Error: "cannot read file: " + err.Error()}
	}
	src := string(data)

	facts := ControllerFacts{
		Filters:  extractFilters(src),
		Concerns: extractIncludes(src),
	}
	if m := reClassDef.FindStringSubmatch(src); m != nil {
		facts.ClassDefinition = strings.TrimSpace(m[0])
	}

	lines := strings.Split(src, "\n")
	visibility := VisPublic
	for i, line := range lines {
		if reVisibilityCur.MatchString(line) {
			switch strings.TrimSpace(line) {
			case "private":
				visibility = VisPrivate
			case "protected":
				visibility = VisProtected
			case "public":
				visibility = VisPublic
			}
			continue
		}
		m := reDef.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[2]
		lineNo := i + 1
		switch visibility {
		case VisPublic:
			facts.Actions = append(facts.Actions, Action{Name: name, Line: lineNo})
		case VisPrivate:
			facts.PrivateMethods = append(facts.PrivateMethods, MethodDef{Name: name, StartLine: lineNo})
		case VisProtected:
			facts.ProtectedMethods = append(facts.ProtectedMethods, MethodDef{Name: name, StartLine: lineNo})
		}
	}
	return facts
}

func extractFilters(src string) []Filter {
	var out []Filter
	for _, m := range reFilter.FindAllStringSubmatchIndex(src, -1) {
		kind := src[m[2]:m[3]]
		method := src[m[4]:m[5]]
		tail := src[m[6]:m[7]]
		line := 1 + strings.Count(src[:m[0]], "\n")
		f := Filter{Kind: kind, Method: method, Line: line}
		if om := reOnlyClause.FindStringSubmatch(tail); om != nil {
			f.Only = splitSymbolList(om)
		}
		if em := reExceptClause.FindStringSubmatch(tail); em != nil {
			f.Except = splitSymbolList(em)
		}
		out = append(out, f)
	}
	return out
}

func splitSymbolList(m []string) []string {
	// m[1] is the bracketed-list capture, m[2] is the single-symbol capture.
	if m[1] != "" {
		var syms []string
		for _, tok := range reFieldToken.FindAllStringSubmatch(m[1], -1) {
			syms = append(syms, tok[1])
		}
		return syms
	}
	if len(m) > 2 && m[2] != "" {
		return []string{m[2]}
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the progressive search engine: rank
// candidate patterns by distinctiveness, search rarest-first, narrow the
// candidate file set by intersecting complementary patterns, and expand
// context around surviving hits.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sqltracer/sqltracer/internal/fsio"
	"github.com/sqltracer/sqltracer/internal/model"
	"github.com/sqltracer/sqltracer/internal/rules"
	"github.com/sqltracer/sqltracer/internal/textsearch"
)

var tracer = otel.Tracer("search")

// LinesBefore and LinesAfter bound the tight context window pulled in
// around each surviving hit for the caller's downstream matching pass.
// Asymmetric and intentionally narrow: a wider span folds in unrelated
// branches from neighboring methods.
const (
	LinesBefore = 3
	LinesAfter  = 2
)

// Engine runs the progressive search algorithm against one project.
type Engine struct {
	backend *textsearch.Backend
	reader  *fsio.Reader
	rules   []rules.Rule
}

// New constructs an Engine rooted at the given project backend/reader
// pair, using the default rule set.
func New(backend *textsearch.Backend, reader *fsio.Reader) *Engine {
	return &Engine{backend: backend, reader: reader, rules: rules.DefaultRules()}
}

type fileSet map[string]struct{}

// Run executes the progressive search for stmt and returns ranked
// candidate locations with expanded context, most-promising first.
func (e *Engine) Run(ctx context.Context, stmt model.Statement) ([]model.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.String("table", stmt.PrimaryTable))

	patterns, locations := rules.Generate(e.rules, stmt)
	if len(patterns) == 0 {
		return nil, nil
	}

	opts := textsearch.Options{Extensions: []string{".rb"}}
	if len(locations) > 0 {
		opts.ExcludeGlobs = nil // location hints are not applied; every .rb file under the root is searched
	}

	var candidates fileSet
	hitsByFile := make(map[string][]textsearch.Hit)
	matchedPatterns := make(map[string]map[string]struct{}) // file -> pattern descriptions

	mandatory, optional := splitByOptionality(patterns)

	for _, p := range mandatory {
		hits, err := textsearch.Search(ctx, e.backend, p.RegexOrSubstring, opts)
		if err != nil {
			slog.WarnContext(ctx, "search: pattern failed", "pattern", p.RegexOrSubstring, "err", err)
			continue
		}
		files := filesOf(hits)
		if candidates == nil {
			candidates = files
		} else {
			narrowed := intersect(candidates, files)
			if len(narrowed) > 0 {
				candidates = narrowed
			}
			// A complementary pattern with zero overlap does not erase
			// the running candidate set; it simply contributes nothing.
		}
		recordHits(hitsByFile, matchedPatterns, hits, p, candidates)
	}

	if candidates == nil {
		// No mandatory pattern hit anything; fall back to the optional/
		// generic patterns so the search still surfaces something.
		for _, p := range optional {
			hits, err := textsearch.Search(ctx, e.backend, p.RegexOrSubstring, opts)
			if err != nil {
				continue
			}
			files := filesOf(hits)
			if candidates == nil {
				candidates = files
			} else {
				candidates = union(candidates, files)
			}
			recordHits(hitsByFile, matchedPatterns, hits, p, candidates)
		}
	} else {
		for _, p := range optional {
			hits, err := textsearch.Search(ctx, e.backend, p.RegexOrSubstring, opts)
			if err != nil {
				continue
			}
			filtered := filterToSet(hits, candidates)
			recordHits(hitsByFile, matchedPatterns, filtered, p, candidates)
		}
	}

	var results []model.SearchResult
	for file, hits := range hitsByFile {
		for _, h := range hits {
			results = append(results, model.SearchResult{
				File:            file,
				Line:            h.Line,
				Content:         e.expandContext(file, h.Line),
				MatchedPatterns: toSet(matchedPatterns[file]),
				Why:             []string{fmt.Sprintf("matched %d pattern(s) at line %d", len(matchedPatterns[file]), h.Line)},
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return len(results[i].MatchedPatterns) > len(results[j].MatchedPatterns)
	})
	return results, nil
}

func splitByOptionality(patterns []model.SearchPattern) (mandatory, optional []model.SearchPattern) {
	for _, p := range patterns {
		if p.Optional {
			optional = append(optional, p)
		} else {
			mandatory = append(mandatory, p)
		}
	}
	return mandatory, optional
}

func filesOf(hits []textsearch.Hit) fileSet {
	s := make(fileSet, len(hits))
	for _, h := range hits {
		s[h.Path] = struct{}{}
	}
	return s
}

func intersect(a, b fileSet) fileSet {
	out := make(fileSet)
	for f := range a {
		if _, ok := b[f]; ok {
			out[f] = struct{}{}
		}
	}
	return out
}

func union(a, b fileSet) fileSet {
	out := make(fileSet, len(a)+len(b))
	for f := range a {
		out[f] = struct{}{}
	}
	for f := range b {
		out[f] = struct{}{}
	}
	return out
}

func filterToSet(hits []textsearch.Hit, keep fileSet) []textsearch.Hit {
	var out []textsearch.Hit
	for _, h := range hits {
		if _, ok := keep[h.Path]; ok {
			out = append(out, h)
		}
	}
	return out
}

func recordHits(hitsByFile map[string][]textsearch.Hit, matchedPatterns map[string]map[string]struct{}, hits []textsearch.Hit, p model.SearchPattern, keep fileSet) {
	for _, h := range hits {
		if keep != nil {
			if _, ok := keep[h.Path]; !ok {
				continue
			}
		}
		hitsByFile[h.Path] = append(hitsByFile[h.Path], h)
		if matchedPatterns[h.Path] == nil {
			matchedPatterns[h.Path] = make(map[string]struct{})
		}
		desc := p.Description
		if desc == "" {
			desc = p.RegexOrSubstring
		}
		matchedPatterns[h.Path][desc] = struct{}{}
	}
}

func toSet(m map[string]struct{}) map[string]struct{} {
	if m == nil {
		return make(map[string]struct{})
	}
	return m
}

// expandContext pulls LinesBefore/LinesAfter of surrounding source
// around line via the bounded file reader, joined with single spaces,
// falling back to an empty string if the file cannot be read (the
// reader is sandboxed to the project root).
func (e *Engine) expandContext(file string, line int) string {
	start := line - LinesBefore
	if start < 1 {
		start = 1
	}
	end := line + LinesAfter
	text, err := e.reader.RawLines(file, start, end)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Split(text, "\n"), " ")
}

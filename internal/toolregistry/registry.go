// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolregistry implements the tool registry (spec component
// C12): named analyzers exposed as JSON-schema tools to the LLM
// adapter, with a synonym map for alternate names the model may emit
// and isolated per-tool initialization errors.
package toolregistry

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/sqltracer/sqltracer/internal/fsio"
	"github.com/sqltracer/sqltracer/internal/search"
	"github.com/sqltracer/sqltracer/internal/textsearch"
)

// modelsSubdir is the conventional location of model source files
// relative to a Rails project's root, used to seed the scope/finder
// resolver each progressive_search call constructs.
const modelsSubdir = "app/models"

// Handler executes one tool call against validated input and returns a
// JSON-serializable result (or ErrorResult-shaped value on failure).
type Handler func(ctx context.Context, input map[string]any) (any, error)

// Tool is one callable exposed to the LLM adapter.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler
}

// Registry holds the active tool set for one project root.
//
// Description:
//
//	Tools are registered by name; a synonym map lets the model refer to
//	a tool by an alternate name without the caller needing to normalize
//	every prompt. Each tool's construction is isolated: a failure
//	building one tool (e.g. a reader that cannot stat its root) is
//	recorded against that tool alone and does not prevent the rest of
//	the registry from initializing.
//
// Thread Safety: Registry is built once per query and then only read;
// it is not safe for concurrent Refresh calls.
type Registry struct {
	tools           map[string]Tool
	synonyms        map[string]string
	initErrors      map[string]string
	projectRoot     string
}

// synonymGroups maps each canonical tool name to the alternate names a
// model may plausibly emit for it.
var synonymGroups = map[string][]string{
	"search_code":      {"grep", "find_pattern", "text_search"},
	"read_file":        {"view_file", "cat_file", "show_file"},
	"analyze_model":    {"inspect_model", "read_model"},
	"analyze_controller": {"inspect_controller"},
	"analyze_routes":   {"inspect_routes", "read_routes"},
	"analyze_migrations": {"inspect_schema", "read_migrations"},
	"progressive_search": {"trace_search", "smart_search"},
}

// New builds the full tool set for a project rooted at root. Per-tool
// initialization errors are captured rather than propagated, so a
// single misconfigured tool never prevents the rest of the registry
// from being usable.
func New(root string) *Registry {
	r := &Registry{
		tools:       make(map[string]Tool),
		synonyms:    make(map[string]string),
		initErrors:  make(map[string]string),
		projectRoot: root,
	}
	for canonical, alts := range synonymGroups {
		for _, a := range alts {
			r.synonyms[a] = canonical
		}
	}
	r.registerAll(root)
	return r
}

func (r *Registry) registerAll(root string) {
	r.tryRegister("search_code", buildSearchCodeTool, root)
	r.tryRegister("read_file", buildReadFileTool, root)
	r.tryRegister("analyze_model", buildAnalyzeModelTool, root)
	r.tryRegister("analyze_controller", buildAnalyzeControllerTool, root)
	r.tryRegister("analyze_routes", buildAnalyzeRoutesTool, root)
	r.tryRegister("analyze_migrations", buildAnalyzeMigrationsTool, root)
	r.tryRegister("progressive_search", buildProgressiveSearchTool, root)
}

func (r *Registry) tryRegister(name string, build func(root string) (Tool, error), root string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.initErrors[name] = fmt.Sprintf("panic during initialization: %v", rec)
		}
	}()
	t, err := build(root)
	if err != nil {
		r.initErrors[name] = err.Error()
		return
	}
	r.tools[name] = t
}

// InitializationErrors returns the per-tool errors recorded while
// building the registry, keyed by tool name.
func (r *Registry) InitializationErrors() map[string]string {
	return r.initErrors
}

// Resolve looks up a tool by its canonical name or any registered
// synonym.
func (r *Registry) Resolve(name string) (Tool, bool) {
	if t, ok := r.tools[name]; ok {
		return t, true
	}
	if canonical, ok := r.synonyms[name]; ok {
		t, ok := r.tools[canonical]
		return t, ok
	}
	return Tool{}, false
}

// Call resolves name and invokes its handler.
func (r *Registry) Call(ctx context.Context, name string, input map[string]any) (any, error) {
	t, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("toolregistry: unknown tool %q", name)
	}
	return t.Handler(ctx, input)
}

// Schemas returns every registered tool's {name, description, schema}
// triple, sorted by name, suitable for handing to the LLM adapter.
func (r *Registry) Schemas() []map[string]any {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"input_schema": t.Schema,
		})
	}
	return out
}

// Refresh rebuilds the registry against a new project root, e.g. after
// the CLI's filesystem watcher observes a change.
func (r *Registry) Refresh(root string) {
	r.tools = make(map[string]Tool)
	r.initErrors = make(map[string]string)
	r.projectRoot = root
	r.registerAll(root)
}

func stringArg(input map[string]any, key string) (string, bool) {
	v, ok := input[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intArgPtr(input map[string]any, key string) *int {
	v, ok := input[key]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case float64:
		i := int(n)
		return &i
	}
	return nil
}

func buildReadFileTool(root string) (Tool, error) {
	reader, err := fsio.NewReader(root)
	if err != nil {
		return Tool{}, err
	}
	return Tool{
		Name:        "read_file",
		Description: "Read a numbered slice of a project source file.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":       map[string]any{"type": "string"},
				"line_start": map[string]any{"type": "integer"},
				"line_end":   map[string]any{"type": "integer"},
			},
			"required": []string{"path"},
		},
		Handler: func(_ context.Context, input map[string]any) (any, error) {
			path, ok := stringArg(input, "path")
			if !ok {
				return fsio.ErrorResult{Error: "path is required"}, nil
			}
			return reader.Read(path, intArgPtr(input, "line_start"), intArgPtr(input, "line_end")), nil
		},
	}, nil
}

func buildSearchCodeTool(root string) (Tool, error) {
	backend := textsearch.NewBackend(root)
	return Tool{
		Name:        "search_code",
		Description: "Search project source files for a regular expression, excluding test/spec files by default.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern":       map[string]any{"type": "string"},
				"extensions":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"include_tests": map[string]any{"type": "boolean"},
			},
			"required": []string{"pattern"},
		},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			pattern, ok := stringArg(input, "pattern")
			if !ok {
				return nil, fmt.Errorf("pattern is required")
			}
			opts := textsearch.Options{Extensions: []string{".rb"}}
			if exts, ok := input["extensions"].([]any); ok && len(exts) > 0 {
				opts.Extensions = nil
				for _, e := range exts {
					if s, ok := e.(string); ok {
						opts.Extensions = append(opts.Extensions, s)
					}
				}
			}
			if includeTests, ok := input["include_tests"].(bool); ok {
				opts.IncludeTests = includeTests
			}
			return textsearch.Search(ctx, backend, pattern, opts)
		},
	}, nil
}

func buildProgressiveSearchTool(root string) (Tool, error) {
	reader, err := fsio.NewReader(root)
	if err != nil {
		return Tool{}, err
	}
	backend := textsearch.NewBackend(root)
	engine := search.New(backend, reader)
	modelsDir := filepath.Join(root, modelsSubdir)
	return Tool{
		Name: "progressive_search",
		Description: "Run the ranked, rarest-pattern-first progressive search for the source location of a SQL " +
			"statement, then score every surviving candidate by how completely its WHERE/ORDER BY/LIMIT/OFFSET " +
			"match the statement's.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql":   map[string]any{"type": "string", "description": "the raw SQL statement being traced"},
				"table": map[string]any{"type": "string", "description": "fallback: the bare table name, when sql is unavailable"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			stmt, err := statementFromInput(input)
			if err != nil {
				return nil, err
			}
			results, err := engine.Run(ctx, stmt)
			if err != nil {
				return nil, err
			}
			return scoreResults(ctx, modelsDir, stmt, results), nil
		},
	}, nil
}

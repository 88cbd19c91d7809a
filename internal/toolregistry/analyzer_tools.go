// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolregistry

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/sqltracer/sqltracer/internal/analyzers"
	"github.com/sqltracer/sqltracer/internal/inflect"
	"github.com/sqltracer/sqltracer/internal/matcher"
	"github.com/sqltracer/sqltracer/internal/model"
	"github.com/sqltracer/sqltracer/internal/resolver"
	"github.com/sqltracer/sqltracer/internal/sqlstmt"
)

// statementFromInput builds the Statement progressive_search scores
// candidates against: the full parse of the "sql" argument when given,
// or a bare-table stand-in built from "table" as a degraded fallback
// (patterns still narrow by table name, but WHERE/ORDER BY/LIMIT rules
// and confidence scoring have nothing to compare against).
func statementFromInput(input map[string]any) (model.Statement, error) {
	if raw, ok := stringArg(input, "sql"); ok && raw != "" {
		return sqlstmt.Parse(raw), nil
	}
	if table, ok := stringArg(input, "table"); ok && table != "" {
		return model.Statement{PrimaryTable: table}, nil
	}
	return model.Statement{}, fmt.Errorf("progressive_search: either sql or table is required")
}

// scoreResults runs the confidence scorer over every progressive-search
// candidate, populating Confidence and Why, and returns them ranked
// highest-confidence first.
func scoreResults(ctx context.Context, modelsDir string, stmt model.Statement, results []model.SearchResult) []model.SearchResult {
	if stmt.PrimaryTable == "" {
		return results
	}
	modelHint := inflect.TableToModel(stmt.PrimaryTable)
	r := resolver.New(modelsDir)
	constants := r.Constants(ctx, modelHint)
	for i := range results {
		patternMatched := len(results[i].MatchedPatterns) > 0
		score, why := matcher.Evaluate(ctx, r, modelHint, stmt, results[i].Content, constants, patternMatched)
		results[i].Confidence = score
		results[i].Why = append(results[i].Why, why...)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results
}

func buildAnalyzeModelTool(root string) (Tool, error) {
	return Tool{
		Name:        "analyze_model",
		Description: "Parse a Rails model file into its associations, validations, callbacks, scopes, and custom finder methods.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "path relative to app/models"},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			rel, ok := stringArg(input, "path")
			if !ok {
				return nil, fmt.Errorf("path is required")
			}
			return analyzers.AnalyzeModel(ctx, resolveUnder(root, rel)), nil
		},
	}, nil
}

func buildAnalyzeControllerTool(root string) (Tool, error) {
	return Tool{
		Name:        "analyze_controller",
		Description: "Parse a Rails controller file into its actions, before/after filters, and included concerns.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "path relative to app/controllers"},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			rel, ok := stringArg(input, "path")
			if !ok {
				return nil, fmt.Errorf("path is required")
			}
			return analyzers.AnalyzeController(ctx, resolveUnder(root, rel)), nil
		},
	}, nil
}

func buildAnalyzeRoutesTool(root string) (Tool, error) {
	return Tool{
		Name:        "analyze_routes",
		Description: "Parse config/routes.rb, optionally filtered to routes for one controller.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"controller": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			filter, _ := stringArg(input, "controller")
			return analyzers.AnalyzeRoutes(ctx, filepath.Join(root, "config", "routes.rb"), filter), nil
		},
	}, nil
}

func buildAnalyzeMigrationsTool(root string) (Tool, error) {
	return Tool{
		Name:        "analyze_migrations",
		Description: "Parse every file under db/migrate for table/column definitions relevant to a SQL statement's table.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return analyzers.AnalyzeMigrations(ctx, filepath.Join(root, "db", "migrate")), nil
		},
	}, nil
}

func resolveUnder(root, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, rel)
}

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
	"os"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var routeTracer = otel.Tracer("analyzers.route")

// RouteEntry is one recognized routes.rb declaration.
type RouteEntry struct {
	Kind       string // "resource", "resources", "namespace", "verb", "root"
	Name       string // resource/namespace name, or HTTP verb for "verb"
	Path       string
	Target     string // "controller#action"
	Line       int
}

// RouteFacts is the structured result of the route analyzer.
type RouteFacts struct {
	Entries []RouteEntry
	Error   string `json:"error,omitempty"`
}

var (
	reResource  = regexp.MustCompile(`(?m)^\s*(resources?)\s+:(\w+)`)
	reNamespace = regexp.MustCompile(`(?m)^\s*namespace\s+:(\w+)\s+do\b`)
	reVerb      = regexp.MustCompile(`(?m)^\s*(get|post|put|patch|delete|match)\s+["']([^"']+)["']\s*,?\s*(?:to:\s*)?["']?([\w#./]+)?["']?`)
	reRoot      = regexp.MustCompile(`(?m)^\s*root\s+(?:to:\s*)?["']?([\w#./]+)?["']?`)
)

// AnalyzeRoutes parses config/routes.rb into RouteFacts. When
// controllerFilter is non-empty, only entries whose Target contains
// it as a substring are returned.
func AnalyzeRoutes(ctx context.Context, path string, controllerFilter string) RouteFacts {
	_, span := routeTracer.Start(ctx, "AnalyzeRoutes")
	defer span.End()
	span.SetAttributes(attribute.String("file", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return RouteFacts{Error: "cannot read file: " + err.Error()}
	}
	src := string(data)

	var entries []RouteEntry
	for _, m := range reResource.FindAllStringSubmatchIndex(src, -1) {
		entries = append(entries, RouteEntry{
			Kind: src[m[2]:m[3]], Name: src[m[4]:m[5]],
			Line: 1 + strings.Count(src[:m[0]], "\n"),
		})
	}
	for _, m := range reNamespace.FindAllStringSubmatchIndex(src, -1) {
		entries = append(entries, RouteEntry{
			Kind: "namespace", Name: src[m[2]:m[3]],
			Line: 1 + strings.Count(src[:m[0]], "\n"),
		})
	}
	for _, m := range reVerb.FindAllStringSubmatchIndex(src, -1) {
		e := RouteEntry{
			Kind: "verb",
			Name: strings.ToUpper(src[m[2]:m[3]]),
			Path: src[m[4]:m[5]],
			Line: 1 + strings.Count(src[:m[0]], "\n"),
		}
		if m[6] >= 0 {
			e.Target = src[m[6]:m[7]]
		}
		entries = append(entries, e)
	}
	for _, m := range reRoot.FindAllStringSubmatchIndex(src, -1) {
		e := RouteEntry{Kind: "root", Line: 1 + strings.Count(src[:m[0]], "\n")}
		if m[2] >= 0 {
			e.Target = src[m[2]:m[3]]
		}
		entries = append(entries, e)
	}

	if controllerFilter != "" {
		var filtered []RouteEntry
		for _, e := range entries {
			if strings.Contains(e.Target, controllerFilter) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	return RouteFacts{Entries: entries}
}

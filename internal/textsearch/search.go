// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textsearch executes a regex over files under a project root,
// filtered by extension and exclusion globs, and returns {path, line,
// content} rows. Production-only search (excluding test/spec files) is
// a correctness requirement, not a performance heuristic.
package textsearch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("textsearch")

// Timeout is the hard wall-clock budget for one invocation.
const Timeout = 10 * time.Second

// Hit is one matching line.
type Hit struct {
	Path    string
	Line    int
	Content string
}

// DefaultExcludeDirs are skipped unless Options.IncludeTests is set,
// matching the framework's conventional test directories.
var DefaultExcludeDirs = []string{"test", "spec", "tests", "node_modules", ".git", "tmp", "log"}

var testFileSuffixes = []string{
	"_test.rb", "_spec.rb", "_test.py", "_spec.py", "_test.js", "_spec.js",
	"_test.ts", "_spec.ts", "_test.go", "_spec.go",
}

// Backend executes searches rooted at Root.
type Backend struct {
	root string
}

// NewBackend constructs a Backend rooted at root.
func NewBackend(root string) *Backend {
	return &Backend{root: root}
}

// Options configures one Search call.
type Options struct {
	Extensions     []string // e.g. []string{".rb"}; empty means all files
	ExcludeGlobs   []string
	IncludeTests   bool // when false (default), test-directory/file matches are dropped
	MaxResults     int
}

// Search walks the project tree, applying pattern (a Go regexp, treated
// as an approximation of the caller's intended regex dialect) to every
// line of every file that passes the extension/exclusion filters.
//
// Search is killed on Timeout expiry via ctx cancellation; callers that
// do not already carry a deadline get one installed here.
func Search(ctx context.Context, b *Backend, pattern string, opts Options) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()
	span.SetAttributes(attribute.String("pattern", pattern))

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, Timeout)
		defer cancel()
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("textsearch: invalid pattern: %w", err)
	}

	var hits []Hit
	walkErr := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole walk
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out")
		default:
		}
		if d.IsDir() {
			if isExcludedDir(path, opts) {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchesExtension(path, opts.Extensions) {
			return nil
		}
		if !opts.IncludeTests && isTestPath(path) {
			return nil
		}
		if matchesAnyGlob(path, opts.ExcludeGlobs) {
			return nil
		}
		fileHits, ferr := searchFile(path, re)
		if ferr != nil {
			return nil // unreadable file: skip, do not abort
		}
		hits = append(hits, fileHits...)
		if opts.MaxResults > 0 && len(hits) >= opts.MaxResults {
			hits = hits[:opts.MaxResults]
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr.Error() == "timed out" {
		return nil, fmt.Errorf("timed out")
	}
	return hits, nil
}

func searchFile(path string, re *regexp.Regexp) ([]Hit, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		if re.MatchString(line) {
			hits = append(hits, Hit{Path: path, Line: i + 1, Content: line})
		}
	}
	return hits, nil
}

func isExcludedDir(path string, opts Options) bool {
	base := filepath.Base(path)
	if !opts.IncludeTests {
		for _, d := range DefaultExcludeDirs {
			if base == d {
				return true
			}
		}
	}
	return matchesAnyGlob(path, opts.ExcludeGlobs)
}

func matchesExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, want := range exts {
		if ext == want {
			return true
		}
	}
	return false
}

func matchesAnyGlob(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

// isTestPath reports whether path is a test-only location: it contains
// a /test/, /spec/, or /tests/ path segment, or its basename ends with
// a recognized _test/_spec suffix.
func isTestPath(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, seg := range []string{"/test/", "/spec/", "/tests/"} {
		if strings.Contains(normalized, seg) {
			return true
		}
	}
	base := filepath.Base(path)
	for _, suffix := range testFileSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fsio implements bounded, path-safe file reading rooted at a
// designated project root.
package fsio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxLines caps the number of lines returned by a single Read call when
// no explicit end line is given.
const MaxLines = 500

// Result is the file reader's success shape.
type Result struct {
	FilePath   string `json:"file_path"`
	TotalLines int    `json:"total_lines"`
	LinesShown int    `json:"lines_shown"`
	LineRange  [2]int `json:"line_range"`
	Content    string `json:"content"`
	Truncated  bool   `json:"truncated"`
	Message    string `json:"message,omitempty"`
}

// ErrorResult is the file reader's failure shape; Error is always
// non-empty and callers treat its presence as a terminal tool error.
type ErrorResult struct {
	Error string `json:"error"`
}

// Reader reads files rooted at Root. The zero value is not usable;
// construct with NewReader.
type Reader struct {
	root string
}

// NewReader constructs a Reader rooted at root. root must exist and be
// a directory.
func NewReader(root string) (*Reader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fsio: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("fsio: project root does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fsio: project root is not a directory: %s", abs)
	}
	return &Reader{root: abs}, nil
}

// Read returns line-numbered content for path (relative or absolute,
// resolved against the project root), optionally scoped to
// [lineStart, lineEnd] (1-based, inclusive). Either bound may be nil.
func (r *Reader) Read(path string, lineStart, lineEnd *int) any {
	resolved, err := r.resolve(path)
	if err != nil {
		return ErrorResult{Error: err.Error()}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ErrorResult{Error: "file not found: " + path}
	}
	if info.IsDir() {
		return ErrorResult{Error: "path is a directory, not a file: " + path}
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult{Error: "cannot read file: " + err.Error()}
	}
	text := decode(raw)
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)

	if lineStart != nil && *lineStart < 1 {
		return ErrorResult{Error: fmt.Sprintf("line_start must be >= 1, got %d", *lineStart)}
	}
	if lineStart != nil && lineEnd != nil && *lineEnd < *lineStart {
		return ErrorResult{Error: fmt.Sprintf("line_end (%d) must be >= line_start (%d)", *lineEnd, *lineStart)}
	}
	if lineStart != nil && *lineStart > total {
		return ErrorResult{Error: fmt.Sprintf("line_start (%d) exceeds total_lines (%d)", *lineStart, total)}
	}

	start := 1
	if lineStart != nil {
		start = *lineStart
	}
	end := total
	truncated := false
	switch {
	case lineEnd != nil:
		end = *lineEnd
		if end > total {
			end = total
		}
	case end-start+1 > MaxLines:
		end = start + MaxLines - 1
		truncated = true
	}

	res := Result{
		FilePath:   path,
		TotalLines: total,
		LineRange:  [2]int{start, end},
		Content:    formatNumbered(lines, start, end),
	}
	res.LinesShown = end - start + 1
	if res.LinesShown < 0 {
		res.LinesShown = 0
	}
	res.Truncated = truncated
	if truncated {
		res.Message = fmt.Sprintf("showing lines %d-%d of %d; pass line_start/line_end to see more", start, end, total)
	}
	return res
}

// RawLines returns the unformatted text of path between start and end
// (1-indexed, inclusive), clamped to the file's bounds, with no
// line-number gutter. Used internally by the progressive search engine
// to build source snippets for the semantic matcher, which parses the
// snippet as source code rather than tool-result display text.
func (r *Reader) RawLines(path string, start, end int) (string, error) {
	resolved, err := r.resolve(path)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("cannot read file: %w", err)
	}
	text := decode(raw)
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end < start {
		return "", nil
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

func formatNumbered(lines []string, start, end int) string {
	var b strings.Builder
	for i := start; i <= end && i <= len(lines); i++ {
		fmt.Fprintf(&b, "%5d | %s\n", i, lines[i-1])
	}
	return b.String()
}

// decode tries utf-8 first, falling back to latin-1 (every byte
// sequence decodes under latin-1, so this path never fails).
func decode(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// resolve normalizes path separators, resolves symlinks, and rejects
// any result that escapes the project root.
func (r *Reader) resolve(path string) (string, error) {
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(r.root, candidate)
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// The path may not exist yet on disk; fall back to the
		// lexically-cleaned candidate so a "not found" error (rather
		// than an "outside root" error) is reported for typos.
		resolved = filepath.Clean(candidate)
	}
	rootWithSep := r.root + string(filepath.Separator)
	if resolved != r.root && !strings.HasPrefix(resolved, rootWithSep) {
		return "", fmt.Errorf("outside project root")
	}
	return resolved, nil
}

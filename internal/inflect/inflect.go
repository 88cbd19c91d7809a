// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inflect implements the framework's plural/singular and
// table-to-class-name conventions. The tables are process-wide and
// read-only after package init.
package inflect

import "strings"

// irregular maps plural -> singular for words that do not follow any
// suffix rule.
var irregular = map[string]string{
	"people":   "person",
	"men":      "man",
	"women":    "woman",
	"children": "child",
	"teeth":    "tooth",
	"feet":     "foot",
	"mice":     "mouse",
	"geese":    "goose",
	"octopi":   "octopus",
	"octopuses": "octopus",
	"octopus":  "octopus",
	"analyses": "analysis",
	"crises":   "crisis",
	"theses":   "thesis",
	"axes":     "axis",
	"indices":  "index",
	"matrices": "matrix",
	"vertices": "vertex",
	"quizzes":  "quiz",
}

// irregularSingularToPlural is the inverse of irregular, built at init.
var irregularSingularToPlural = func() map[string]string {
	m := make(map[string]string, len(irregular))
	for plural, singular := range irregular {
		if _, exists := m[singular]; !exists {
			m[singular] = plural
		}
	}
	// octopus/octopi has two plural spellings recorded above; prefer "octopi".
	m["octopus"] = "octopi"
	return m
}()

// uncountable words have identical singular and plural forms.
var uncountable = map[string]struct{}{
	"equipment": {}, "information": {}, "rice": {}, "money": {},
	"species": {}, "series": {}, "fish": {}, "sheep": {}, "jeans": {},
	"police": {}, "metadata": {}, "data": {}, "news": {},
}

// Singularize converts a plural noun (typically a table name) to its
// singular form following the framework's canonical rules: irregular
// lookup, then uncountable passthrough, then suffix rules.
func Singularize(word string) string {
	lower := strings.ToLower(word)
	if singular, ok := irregular[lower]; ok {
		return singular
	}
	if _, ok := uncountable[lower]; ok {
		return lower
	}
	switch {
	case strings.HasSuffix(lower, "ies") && len(lower) > 3:
		return lower[:len(lower)-3] + "y"
	case strings.HasSuffix(lower, "ves") && len(lower) > 3:
		stem := lower[:len(lower)-3]
		return stem + "fe"
	case strings.HasSuffix(lower, "ses") && len(lower) > 3:
		return lower[:len(lower)-2]
	case strings.HasSuffix(lower, "xes") || strings.HasSuffix(lower, "ches") ||
		strings.HasSuffix(lower, "shes") || strings.HasSuffix(lower, "zes"):
		return lower[:len(lower)-2]
	case strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss") && len(lower) > 1:
		return lower[:len(lower)-1]
	default:
		return lower
	}
}

// Pluralize converts a singular noun to its plural form. It is the
// approximate inverse of Singularize, sufficient for the round-trip law
// singularize(pluralize(w)) == w over the inflector's regular-case domain.
func Pluralize(word string) string {
	lower := strings.ToLower(word)
	if plural, ok := irregularSingularToPlural[lower]; ok {
		return plural
	}
	if _, ok := uncountable[lower]; ok {
		return lower
	}
	switch {
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !isVowel(lower[len(lower)-2]):
		return lower[:len(lower)-1] + "ies"
	case strings.HasSuffix(lower, "fe"):
		return lower[:len(lower)-2] + "ves"
	case strings.HasSuffix(lower, "s") || strings.HasSuffix(lower, "x") ||
		strings.HasSuffix(lower, "ch") || strings.HasSuffix(lower, "sh") ||
		strings.HasSuffix(lower, "z"):
		return lower + "es"
	default:
		return lower + "s"
	}
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	default:
		return false
	}
}

// TableToModel converts a snake_case table name to its CamelCase model
// class name: singularize the last segment (it carries the noun's
// number), then title-case every segment.
func TableToModel(table string) string {
	segments := strings.Split(strings.ToLower(table), "_")
	if len(segments) == 0 {
		return ""
	}
	last := len(segments) - 1
	segments[last] = Singularize(segments[last])
	for i, seg := range segments {
		segments[i] = titleCase(seg)
	}
	return strings.Join(segments, "")
}

// ModelToTable converts a CamelCase model class name to its conventional
// snake_case, pluralized table name.
func ModelToTable(class string) string {
	snake := camelToSnake(class)
	segments := strings.Split(snake, "_")
	if len(segments) == 0 {
		return ""
	}
	last := len(segments) - 1
	segments[last] = Pluralize(segments[last])
	return strings.Join(segments, "_")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
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

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
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var migrationTracer = otel.Tracer("analyzers.migration")

// SchemaOp is one schema-changing call found in a migration file.
type SchemaOp struct {
	Kind  string // "create_table", "drop_table", "add_column", "remove_column", "add_index", "change_column"
	Table string
	Detail string
	Migration string // basename of the migration file it came from
}

// TableFacts aggregates schema deltas for a single table across all
// migrations, newest-first.
type TableFacts struct {
	CreateOperations []SchemaOp
	ModifyOperations []SchemaOp
	RecentMigrations []string
}

// MigrationFacts is the structured result of the migration analyzer,
// keyed by table name.
type MigrationFacts struct {
	Tables map[string]*TableFacts
	Error  string `json:"error,omitempty"`
}

var (
	reCreateTable = regexp.MustCompile(`create_table\s+:(\w+)`)
	reDropTable   = regexp.MustCompile(`drop_table\s+:(\w+)`)
	reAddColumn   = regexp.MustCompile(`add_column\s+:(\w+)\s*,\s*:(\w+)`)
	reRemoveCol   = regexp.MustCompile(`remove_column\s+:(\w+)\s*,\s*:(\w+)`)
	reAddIndex    = regexp.MustCompile(`add_index\s+:(\w+)`)
	reChangeCol   = regexp.MustCompile(`change_column\s+:(\w+)\s*,\s*:(\w+)`)
	reMigrationTS = regexp.MustCompile(`^(\d+)_`)
)

// AnalyzeMigrations scans every *_migration.rb-style file under dir
// (db/migrate/<timestamp>_*.rb), processed newest-first, and aggregates
// schema operations per table.
func AnalyzeMigrations(ctx context.Context, dir string) MigrationFacts {
	_, span := migrationTracer.Start(ctx, "AnalyzeMigrations")
	defer span.End()
	span.SetAttributes(attribute.String("dir", dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return MigrationFacts{Error: "cannot read migrations dir: " + err.Error()}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".rb") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Slice(files, func(i, j int) bool {
		return migrationTimestamp(files[i]) > migrationTimestamp(files[j])
	})

	tables := make(map[string]*TableFacts)
	ensure := func(t string) *TableFacts {
		if tf, ok := tables[t]; ok {
			return tf
		}
		tf := &TableFacts{}
		tables[t] = tf
		return tf
	}

	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		src := string(data)
		for _, m := range reCreateTable.FindAllStringSubmatch(src, -1) {
			tf := ensure(m[1])
			tf.CreateOperations = append(tf.CreateOperations, SchemaOp{Kind: "create_table", Table: m[1], Migration: name})
			tf.RecentMigrations = appendUnique(tf.RecentMigrations, name)
		}
		for _, m := range reDropTable.FindAllStringSubmatch(src, -1) {
			tf := ensure(m[1])
			tf.ModifyOperations = append(tf.ModifyOperations, SchemaOp{Kind: "drop_table", Table: m[1], Migration: name})
			tf.RecentMigrations = appendUnique(tf.RecentMigrations, name)
		}
		for _, m := range reAddColumn.FindAllStringSubmatch(src, -1) {
			tf := ensure(m[1])
			tf.ModifyOperations = append(tf.ModifyOperations, SchemaOp{Kind: "add_column", Table: m[1], Detail: m[2], Migration: name})
			tf.RecentMigrations = appendUnique(tf.RecentMigrations, name)
		}
		for _, m := range reRemoveCol.FindAllStringSubmatch(src, -1) {
			tf := ensure(m[1])
			tf.ModifyOperations = append(tf.ModifyOperations, SchemaOp{Kind: "remove_column", Table: m[1], Detail: m[2], Migration: name})
			tf.RecentMigrations = appendUnique(tf.RecentMigrations, name)
		}
		for _, m := range reAddIndex.FindAllStringSubmatch(src, -1) {
			tf := ensure(m[1])
			tf.ModifyOperations = append(tf.ModifyOperations, SchemaOp{Kind: "add_index", Table: m[1], Migration: name})
			tf.RecentMigrations = appendUnique(tf.RecentMigrations, name)
		}
		for _, m := range reChangeCol.FindAllStringSubmatch(src, -1) {
			tf := ensure(m[1])
			tf.ModifyOperations = append(tf.ModifyOperations, SchemaOp{Kind: "change_column", Table: m[1], Detail: m[2], Migration: name})
			tf.RecentMigrations = appendUnique(tf.RecentMigrations, name)
		}
	}
	return MigrationFacts{Tables: tables}
}

func migrationTimestamp(filename string) string {
	if m := reMigrationTS.FindStringSubmatch(filename); m != nil {
		return m[1]
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

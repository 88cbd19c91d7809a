// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model holds the value types shared across the SQL tracing
// pipeline: parsed SQL statements, normalized conditions, scope and
// finder metadata, search patterns, and the ReAct step log.
//
// Thread Safety: every type in this package is a plain value type. Callers
// own mutation; nothing here is safe for concurrent write access to the
// same value, but distinct values may be read and written concurrently.
package model

// StatementKind classifies a parsed SQL statement.
type StatementKind string

const (
	KindSelect   StatementKind = "SELECT"
	KindInsert   StatementKind = "INSERT"
	KindUpdate   StatementKind = "UPDATE"
	KindDelete   StatementKind = "DELETE"
	KindBegin    StatementKind = "BEGIN"
	KindCommit   StatementKind = "COMMIT"
	KindRollback StatementKind = "ROLLBACK"
	KindOther    StatementKind = "OTHER"
)

// Operator is a normalized comparison operator for a Condition.
type Operator string

const (
	OpEQ         Operator = "="
	OpNEQ        Operator = "!="
	OpLT         Operator = "<"
	OpLTE        Operator = "<="
	OpGT         Operator = ">"
	OpGTE        Operator = ">="
	OpIsNull     Operator = "IS_NULL"
	OpIsNotNull  Operator = "IS_NOT_NULL"
	OpLike       Operator = "LIKE"
	OpNotLike    Operator = "NOT_LIKE"
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT_IN"
	OpBetween    Operator = "BETWEEN"
	OpUnknown    Operator = "UNKNOWN"
)

// Condition is a single normalized WHERE predicate: a column, operator,
// and (for value-bearing operators) a literal value. Value is absent for
// IS_NULL/IS_NOT_NULL and for parameterized (non-literal) comparisons.
type Condition struct {
	Column   string
	Operator Operator
	Value    *string
}

// HasValue reports whether the condition carries a concrete literal.
func (c Condition) HasValue() bool { return c.Value != nil }

// NormalizedClause is the hashable subset of a Condition used as a map
// key when composing scope where-clause sets.
type NormalizedClause struct {
	Column   string
	Operator Operator
	Value    string // empty when Condition.Value is absent
	HasValue bool
}

// Clause reduces a Condition to its NormalizedClause form.
func (c Condition) Clause() NormalizedClause {
	nc := NormalizedClause{Column: c.Column, Operator: c.Operator}
	if c.Value != nil {
		nc.Value = *c.Value
		nc.HasValue = true
	}
	return nc
}

// OrderKey is one column of an ORDER BY clause.
type OrderKey struct {
	Column string
	Desc   bool
}

// Statement is an immutable parsed SQL statement.
type Statement struct {
	Kind          StatementKind
	PrimaryTable  string
	Columns       []string
	Where         []Condition
	OrderBy       []OrderKey
	HasLimit      bool
	LimitLiteral  *int
	HasOffset     bool
	OffsetLiteral *int
	Raw           string
}

// MatchResult is the outcome of matching a Statement's WHERE conditions
// against a source snippet's normalized conditions.
type MatchResult struct {
	Matched          []Condition
	Missing          []Condition
	Extra            []Condition
	MatchPercentage  float64
}

// IsComplete reports whether every SQL condition found a code-side match.
func (m MatchResult) IsComplete() bool { return len(m.Missing) == 0 }

// Scope is a named query fragment resolved from a model file.
type Scope struct {
	Name          string
	WhereClauses  map[NormalizedClause]struct{}
	ComposedFrom  []string
	SourceLine    int
	RawDefinition string
}

// MethodInfo describes a custom finder method discovered on a model.
type MethodInfo struct {
	Name            string
	Body            string
	ReturnsRelation bool
	FilePath        string
}

// SearchPattern is a candidate text-search pattern emitted by a rule,
// ranked by Distinctiveness (rarer patterns are searched first).
type SearchPattern struct {
	RegexOrSubstring string
	Distinctiveness  float64
	ClauseType       string
	Optional         bool
	Description      string
}

// SearchLocation is a glob to restrict a pattern search to, ordered by
// Priority (lower is searched first).
type SearchLocation struct {
	Glob     string
	Priority int
}

// SearchResult is one surviving candidate after progressive search and
// confidence scoring.
type SearchResult struct {
	File            string
	Line            int
	Content         string
	MatchedPatterns map[string]struct{}
	Confidence      float64
	Why             []string
}

// ReActStepKind enumerates the step log entry kinds.
type ReActStepKind string

const (
	StepThought     ReActStepKind = "THOUGHT"
	StepAction      ReActStepKind = "ACTION"
	StepObservation ReActStepKind = "OBSERVATION"
	StepAnswer      ReActStepKind = "ANSWER"
)

// ReActStep is one entry in the agent's step log.
type ReActStep struct {
	Kind       ReActStepKind
	Content    string
	ToolName   string
	ToolInput  map[string]any
	ToolOutput any
}

// ToolCallRecord tracks, per step, whether any tool calls were issued.
type ToolCallRecord struct {
	StepIdx      int
	HadToolCalls bool
}

// ReActState is the mutable state of one ReAct loop run. It is owned and
// mutated only by the driving state machine (package react).
type ReActState struct {
	Steps                  []ReActStep
	CurrentStep            int
	ToolsUsed              map[string]struct{}
	ToolCallHistory        []ToolCallRecord
	ConsecutiveNoToolCalls int
	FinalizeRequested      bool
	StepsSinceFinalization int
	ShouldStop             bool
	StopReason             string
}

// NewReActState returns a fresh, empty ReActState.
func NewReActState() *ReActState {
	return &ReActState{ToolsUsed: make(map[string]struct{})}
}

// Role is a Message's author role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlockKind tags a ContentBlock's variant.
type ContentBlockKind string

const (
	BlockText       ContentBlockKind = "text"
	BlockToolUse    ContentBlockKind = "tool_use"
	BlockToolResult ContentBlockKind = "tool_result"
)

// ContentBlock is a tagged union: exactly one of Text/ToolUse*/ToolResult*
// fields is meaningful, selected by Kind.
type ContentBlock struct {
	Kind BlockKind

	Text string // BlockText

	ToolUseID    string // BlockToolUse
	ToolUseName  string
	ToolUseInput map[string]any

	ToolResultToolUseID string // BlockToolResult
	ToolResultContent   string

	// Metadata carries ambient annotations (e.g. "compressed": true) that
	// do not change the block's semantic kind.
	Metadata map[string]any
}

// BlockKind is an alias retained for readability at call sites.
type BlockKind = ContentBlockKind

// Message is one turn in the conversation. Content is either a plain
// string (simple text messages) or an ordered sequence of ContentBlock
// (tool-bearing assistant/user turns).
type Message struct {
	Role    Role
	Text    string
	Blocks  []ContentBlock
}

// HasBlocks reports whether this message uses the ContentBlock form.
func (m Message) HasBlocks() bool { return len(m.Blocks) > 0 }

// ToolCall is one LLM-adapter-reported tool invocation.
type ToolCall struct {
	ID     string
	Name   string
	Input  map[string]any
	Result string
}

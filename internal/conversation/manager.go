// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation implements the conversation manager: an ordered
// message history with tool-use/tool-result pairing, and compression
// of old tool results once the history exceeds a token budget.
package conversation

import (
	"fmt"

	"github.com/sqltracer/sqltracer/internal/model"
)

// estimateTokens is a rough, provider-agnostic token estimate (~4
// bytes/token for English/code text), used only to decide when to
// compress history, never to bill usage.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// HistoryWindow is how many of the most recent messages are always kept
// verbatim; compression only ever touches older turns.
const HistoryWindow = 6

// compressedNote replaces a compressed tool-result block's
// content.
const compressedNote = "[older tool result compressed to stay under the token budget]"

// Manager owns one ReAct run's message history.
//
// Thread Safety: Manager is not safe for concurrent use; one ReAct run
// owns a single Manager.
type Manager struct {
	messages    []model.Message
	tokenBudget int
}

// New constructs an empty Manager with the given token budget, the
// context-compaction threshold for this run.
func New(tokenBudget int) *Manager {
	return &Manager{tokenBudget: tokenBudget}
}

// AppendSystem appends a system message.
func (m *Manager) AppendSystem(text string) {
	m.messages = append(m.messages, model.Message{Role: model.RoleSystem, Text: text})
}

// AppendUser appends a plain-text user turn.
func (m *Manager) AppendUser(text string) {
	m.messages = append(m.messages, model.Message{Role: model.RoleUser, Text: text})
}

// AppendAssistantText appends a plain-text assistant turn (a THOUGHT or
// ANSWER with no tool calls).
func (m *Manager) AppendAssistantText(text string) {
	m.messages = append(m.messages, model.Message{Role: model.RoleAssistant, Text: text})
}

// AppendAssistantToolUse appends an assistant turn that issued one or
// more tool calls.
func (m *Manager) AppendAssistantToolUse(text string, calls []model.ToolCall) {
	blocks := make([]model.ContentBlock, 0, len(calls)+1)
	if text != "" {
		blocks = append(blocks, model.ContentBlock{Kind: model.BlockText, Text: text})
	}
	for _, c := range calls {
		blocks = append(blocks, model.ContentBlock{
			Kind:         model.BlockToolUse,
			ToolUseID:    c.ID,
			ToolUseName:  c.Name,
			ToolUseInput: c.Input,
		})
	}
	m.messages = append(m.messages, model.Message{Role: model.RoleAssistant, Blocks: blocks})
}

// AppendToolResult appends a user-role message carrying the tool's
// observation, paired to its originating tool_use block by ID.
func (m *Manager) AppendToolResult(toolUseID, content string) {
	m.messages = append(m.messages, model.Message{
		Role: model.RoleUser,
		Blocks: []model.ContentBlock{{
			Kind:                model.BlockToolResult,
			ToolResultToolUseID: toolUseID,
			ToolResultContent:   content,
		}},
	})
}

// Messages returns the live history. Callers must not mutate the
// returned slice.
func (m *Manager) Messages() []model.Message {
	return m.messages
}

// TotalEstimatedTokens sums the estimated token cost of every message
// currently in history.
func (m *Manager) TotalEstimatedTokens() int {
	total := 0
	for _, msg := range m.messages {
		total += estimateTokens(msg.Text)
		for _, b := range msg.Blocks {
			total += estimateTokens(b.Text)
			total += estimateTokens(b.ToolResultContent)
		}
	}
	return total
}

// Compress drops detail from tool-result blocks outside the most recent
// HistoryWindow messages until the estimated total fits the token
// budget, oldest first. It is idempotent: already-compressed blocks are
// skipped. Returns the number of blocks compressed.
func (m *Manager) Compress() int {
	if m.tokenBudget <= 0 {
		return 0
	}
	windowStart := len(m.messages) - HistoryWindow
	if windowStart < 0 {
		windowStart = 0
	}

	compressed := 0
	for i := 0; i < windowStart && m.TotalEstimatedTokens() > m.tokenBudget; i++ {
		msg := &m.messages[i]
		for j := range msg.Blocks {
			b := &msg.Blocks[j]
			if b.Kind != model.BlockToolResult {
				continue
			}
			if b.Metadata != nil {
				if v, ok := b.Metadata["compressed"]; ok && v == true {
					continue
				}
			}
			if b.Metadata == nil {
				b.Metadata = make(map[string]any)
			}
			b.Metadata["compressed"] = true
			b.Metadata["original_length"] = len(b.ToolResultContent)
			b.ToolResultContent = compressedNote
			compressed++
		}
	}
	return compressed
}

// Sanitized returns the history with any tool_use block whose matching
// tool_result is missing (e.g. the run was interrupted mid tool-call)
// dropped, so a re-sent history never violates the provider's
// tool-use/tool-result pairing requirement.
func (m *Manager) Sanitized() []model.Message {
	resultIDs := make(map[string]struct{})
	for _, msg := range m.messages {
		for _, b := range msg.Blocks {
			if b.Kind == model.BlockToolResult {
				resultIDs[b.ToolResultToolUseID] = struct{}{}
			}
		}
	}

	out := make([]model.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if len(msg.Blocks) == 0 {
			out = append(out, msg)
			continue
		}
		kept := make([]model.ContentBlock, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			if b.Kind == model.BlockToolUse {
				if _, ok := resultIDs[b.ToolUseID]; !ok {
					continue // orphaned tool call, no observation to pair it with
				}
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			continue
		}
		clone := msg
		clone.Blocks = kept
		out = append(out, clone)
	}
	return out
}

// String renders a short human-readable summary, used in debug logging.
func (m *Manager) String() string {
	return fmt.Sprintf("conversation{messages=%d, ~tokens=%d, budget=%d}", len(m.messages), m.TotalEstimatedTokens(), m.tokenBudget)
}

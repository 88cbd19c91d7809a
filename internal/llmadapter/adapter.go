// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmadapter implements the LLM adapter: a one-shot call that
// consumes a tagged event stream from an underlying provider client and
// aggregates it into a single {text, tool_calls, tokens, cost, error}
// result, the shape the ReAct state machine operates on.
package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqltracer/sqltracer/internal/model"
)

// EventType tags one entry of the underlying provider's streamed
// response.
type EventType string

const (
	EventModel          EventType = "model"
	EventText           EventType = "text"
	EventToolStart      EventType = "tool_start"
	EventToolInputDelta EventType = "tool_input_delta"
	EventToolReady      EventType = "tool_ready"
	EventTokens         EventType = "tokens"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is one tagged entry of the stream. Only the fields relevant to
// its Type are meaningful; this mirrors the Anthropic SSE
// content_block_start/delta/stop framing this adapter is modeled on.
type Event struct {
	Type EventType

	Model string // EventModel

	TextDelta string // EventText

	ToolUseID     string // EventToolStart / EventToolInputDelta / EventToolReady
	ToolName      string // EventToolStart
	ToolInputJSON string // EventToolInputDelta: one chunk of the running JSON arguments

	InputTokens  int // EventTokens
	OutputTokens int

	Err error // EventError
}

// Result is the adapter's aggregated, non-streaming output.
type Result struct {
	Text         string
	ToolCalls    []model.ToolCall
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Error        string
}

// StreamFunc opens a streamed chat completion and returns a channel of
// Events; the channel is closed by the implementation once the stream
// ends (EventDone/EventError observed or the connection drops).
type StreamFunc func(ctx context.Context, messages []model.Message, tools []map[string]any) (<-chan Event, error)

// PricingPerMillion is the per-model cost used to convert token counts
// into an estimated USD cost.
type PricingPerMillion struct {
	InputUSD  float64
	OutputUSD float64
}

// Adapter wraps one provider's StreamFunc with model name and pricing.
//
// Thread Safety: Adapter holds no mutable state; Call is safe to invoke
// concurrently from multiple goroutines against the same Adapter.
type Adapter struct {
	stream  StreamFunc
	model   string
	pricing PricingPerMillion
}

// New constructs an Adapter around a provider's streaming function.
func New(stream StreamFunc, modelName string, pricing PricingPerMillion) *Adapter {
	return &Adapter{stream: stream, model: modelName, pricing: pricing}
}

type toolBuilder struct {
	name      string
	inputJSON strings.Builder
}

// Call performs one provider round-trip: opens the stream, drains and
// aggregates every event, and returns the assembled Result.
//
// Description:
//
//	Text deltas are concatenated in arrival order. Tool calls are
//	tracked by ToolUseID from their tool_start event through
//	tool_input_delta chunks; once the stream is drained, each call's
//	accumulated JSON is parsed into its Input map. Token counts
//	come from the terminal EventTokens entry; cost is derived from the
//	Adapter's configured per-million pricing.
//
// Outputs:
//   - Result: always returned, even on stream error (Result.Error is
//     populated rather than an error return; the ReAct loop records it
//     as an OBSERVATION and then stops with stop reason "llm_error").
//   - error: non-nil only when the stream could not be opened at all.
//
// Thread Safety: safe for concurrent use.
func (a *Adapter) Call(ctx context.Context, messages []model.Message, tools []map[string]any) (Result, error) {
	ch, err := a.stream(ctx, messages, tools)
	if err != nil {
		return Result{Error: err.Error()}, fmt.Errorf("llmadapter: opening stream: %w", err)
	}

	var res Result
	builders := make(map[string]*toolBuilder)
	var order []string

	for ev := range ch {
		switch ev.Type {
		case EventModel:
			// Informational only; surfaced for logging, not aggregated.
			slog.DebugContext(ctx, "llmadapter: model", "model", ev.Model)
		case EventText:
			res.Text += ev.TextDelta
		case EventToolStart:
			builders[ev.ToolUseID] = &toolBuilder{name: ev.ToolName}
			order = append(order, ev.ToolUseID)
		case EventToolInputDelta:
			if b, ok := builders[ev.ToolUseID]; ok {
				b.inputJSON.WriteString(ev.ToolInputJSON)
			}
		case EventToolReady:
			// Input is finalized and parsed once, below, after the loop.
		case EventTokens:
			res.InputTokens = ev.InputTokens
			res.OutputTokens = ev.OutputTokens
		case EventError:
			if ev.Err != nil {
				res.Error = ev.Err.Error()
			}
		case EventDone:
		}
	}

	for _, id := range order {
		b := builders[id]
		var input map[string]any
		raw := b.inputJSON.String()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				slog.WarnContext(ctx, "llmadapter: tool input did not parse as JSON", "tool_use_id", id, "err", err)
			}
		}
		res.ToolCalls = append(res.ToolCalls, model.ToolCall{ID: id, Name: b.name, Input: input})
	}

	res.CostUSD = float64(res.InputTokens)/1_000_000*a.pricing.InputUSD + float64(res.OutputTokens)/1_000_000*a.pricing.OutputUSD
	return res, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llmadapter

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/model"
)

func fakeStream(events []Event) StreamFunc {
	return func(ctx context.Context, messages []model.Message, tools []map[string]any) (<-chan Event, error) {
		ch := make(chan Event, len(events))
		for _, e := range events {
			ch <- e
		}
		close(ch)
		return ch, nil
	}
}

func TestCallAggregatesTextAndTokens(t *testing.T) {
	events := []Event{
		{Type: EventModel, Model: "claude-test"},
		{Type: EventText, TextDelta: "THOUGHT: "},
		{Type: EventText, TextDelta: "looking at the members table"},
		{Type: EventTokens, InputTokens: 100, OutputTokens: 20},
		{Type: EventDone},
	}
	a := New(fakeStream(events), "claude-test", PricingPerMillion{InputUSD: 3, OutputUSD: 15})
	res, err := a.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "THOUGHT: looking at the members table", res.Text)
	assert.Equal(t, 100, res.InputTokens)
	assert.Equal(t, 20, res.OutputTokens)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Empty(t, res.Error)
}

func TestCallAssemblesToolCallFromDeltas(t *testing.T) {
	events := []Event{
		{Type: EventToolStart, ToolUseID: "tu_1", ToolName: "read_file"},
		{Type: EventToolInputDelta, ToolUseID: "tu_1", ToolInputJSON: `{"path":`},
		{Type: EventToolInputDelta, ToolUseID: "tu_1", ToolInputJSON: `"app/models/member.rb"}`},
		{Type: EventToolReady, ToolUseID: "tu_1"},
		{Type: EventTokens, InputTokens: 50, OutputTokens: 10},
		{Type: EventDone},
	}
	a := New(fakeStream(events), "claude-test", PricingPerMillion{})
	res, err := a.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "read_file", res.ToolCalls[0].Name)
	assert.Equal(t, "app/models/member.rb", res.ToolCalls[0].Input["path"])
}

func TestCallCapturesStreamErrorEvent(t *testing.T) {
	events := []Event{
		{Type: EventError, Err: fmt.Errorf("rate limited")},
	}
	a := New(fakeStream(events), "claude-test", PricingPerMillion{})
	res, err := a.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "rate limited", res.Error)
}

func TestCallReturnsErrorWhenStreamFailsToOpen(t *testing.T) {
	streamFn := func(ctx context.Context, messages []model.Message, tools []map[string]any) (<-chan Event, error) {
		return nil, fmt.Errorf("connection refused")
	}
	a := New(streamFn, "claude-test", PricingPerMillion{})
	_, err := a.Call(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestCallMultipleToolCallsPreserveOrder(t *testing.T) {
	events := []Event{
		{Type: EventToolStart, ToolUseID: "a", ToolName: "search_code"},
		{Type: EventToolInputDelta, ToolUseID: "a", ToolInputJSON: `{"pattern":"foo"}`},
		{Type: EventToolReady, ToolUseID: "a"},
		{Type: EventToolStart, ToolUseID: "b", ToolName: "read_file"},
		{Type: EventToolInputDelta, ToolUseID: "b", ToolInputJSON: `{"path":"bar.rb"}`},
		{Type: EventToolReady, ToolUseID: "b"},
	}
	a := New(fakeStream(events), "claude-test", PricingPerMillion{})
	res, err := a.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "search_code", res.ToolCalls[0].Name)
	assert.Equal(t, "read_file", res.ToolCalls[1].Name)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anthropicstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltracer/sqltracer/internal/llmadapter"
	"github.com/sqltracer/sqltracer/internal/model"
)

const sseFixture = "event: message_start\n" +
	"data: {\"message\":{\"model\":\"claude-test\",\"usage\":{\"input_tokens\":42}}}\n\n" +
	"event: content_block_start\n" +
	"data: {\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"ANSWER: \"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"app/models/member.rb:12\"}}\n\n" +
	"event: content_block_stop\n" +
	"data: {\"index\":0}\n\n" +
	"event: content_block_start\n" +
	"data: {\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"call_1\",\"name\":\"search_code\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"pattern\\\":\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"owner_id\\\"}\"}}\n\n" +
	"event: content_block_stop\n" +
	"data: {\"index\":1}\n\n" +
	"event: message_delta\n" +
	"data: {\"usage\":{\"output_tokens\":17}}\n\n" +
	"event: message_stop\n" +
	"data: {}\n\n"

func TestStreamAggregatesTextAndToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sseFixture))
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-test", WithBaseURL(srv.URL))
	adapter := llmadapter.New(client.Stream, "claude-test", llmadapter.PricingPerMillion{InputUSD: 3, OutputUSD: 15})

	res, err := adapter.Call(context.Background(), []model.Message{
		{Role: model.RoleSystem, Text: "system prompt"},
		{Role: model.RoleUser, Text: "trace this SQL"},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ANSWER: app/models/member.rb:12", res.Text)
	assert.Equal(t, 42, res.InputTokens)
	assert.Equal(t, 17, res.OutputTokens)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "search_code", res.ToolCalls[0].Name)
	assert.Equal(t, "owner_id", res.ToolCalls[0].Input["pattern"])
	assert.Empty(t, res.Error)
}

func TestStreamSurfacesHTTPError(t *testing.T) {
	fakeKey := "sk-ant-api03-" + strings.Repeat("x", 24)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"` + fakeKey + ` bad key"}}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", "claude-test", WithBaseURL(srv.URL))
	_, err := client.Stream(context.Background(), nil, nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), fakeKey)
	assert.Contains(t, err.Error(), "[REDACTED:anthropic_key]")
}

func TestToWireMessageRoundTripsToolBlocks(t *testing.T) {
	msg := model.Message{
		Role: model.RoleAssistant,
		Blocks: []model.ContentBlock{
			{Kind: model.BlockText, Text: "looking"},
			{Kind: model.BlockToolUse, ToolUseID: "id1", ToolUseName: "read_file", ToolUseInput: map[string]any{"path": "a.rb"}},
		},
	}
	wire := toWireMessage(msg)
	assert.Equal(t, "assistant", wire.Role)
	require.Len(t, wire.Content, 2)
}

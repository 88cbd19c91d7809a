// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package anthropicstream is a thin external adapter that satisfies the
// llmadapter.StreamFunc contract against the real Anthropic Messages
// API. It translates model.Message history and tool schemas into
// Anthropic's wire format on the way in, and aggregates the
// content_block_start/delta/stop SSE framing into llmadapter.Event
// values on the way out.
package anthropicstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sqltracer/sqltracer/internal/llmadapter"
	"github.com/sqltracer/sqltracer/internal/model"
)

const (
	apiVersion     = "2023-06-01"
	defaultBaseURL = "https://api.anthropic.com/v1/messages"
	// cacheControlFloor is the point past which a system prompt is worth
	// marking for prompt caching (the donor applies the same threshold).
	cacheControlFloor = 1024
)

// Client holds the fixed per-run configuration for one Anthropic
// Messages API endpoint.
//
// Thread Safety: Client holds no mutable state; Stream is safe to call
// concurrently against the same Client.
type Client struct {
	http      *http.Client
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
}

// Option configures a Client at construction.
type Option func(*Client)

// WithBaseURL overrides the default Anthropic endpoint, e.g. to target
// a test double.
func WithBaseURL(url string) Option { return func(c *Client) { c.baseURL = url } }

// WithMaxTokens overrides the response token ceiling (default 4096).
func WithMaxTokens(n int) Option { return func(c *Client) { c.maxTokens = n } }

// WithHTTPClient overrides the transport, e.g. for test injection.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// NewClient constructs a Client for modelName, authenticating with
// apiKey.
func NewClient(apiKey, modelName string, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 5 * time.Minute},
		apiKey:    apiKey,
		model:     modelName,
		baseURL:   defaultBaseURL,
		maxTokens: 4096,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stream implements llmadapter.StreamFunc.
func (c *Client) Stream(ctx context.Context, messages []model.Message, tools []map[string]any) (<-chan llmadapter.Event, error) {
	body, err := c.buildRequest(messages, tools)
	if err != nil {
		return nil, fmt.Errorf("anthropicstream: building request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropicstream: creating request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropicstream: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropicstream: API returned status %d: %s", resp.StatusCode, safeLogString(string(raw)))
	}

	ch := make(chan llmadapter.Event, 16)
	go c.pump(ctx, resp.Body, ch)
	return ch, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	System    []systemBlock `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []any         `json:"tools,omitempty"`
	Stream    bool          `json:"stream"`
}

func (c *Client) buildRequest(messages []model.Message, tools []map[string]any) ([]byte, error) {
	var systemParts []string
	var wire []wireMessage

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if msg.Text != "" {
				systemParts = append(systemParts, msg.Text)
			}
			continue
		}
		wire = append(wire, toWireMessage(msg))
	}

	var systemBlocks []systemBlock
	if len(systemParts) > 0 {
		text := strings.Join(systemParts, "\n\n")
		sb := systemBlock{Type: "text", Text: text}
		if len(text) > cacheControlFloor {
			sb.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, sb)
	}

	apiTools := make([]any, 0, len(tools))
	for _, t := range tools {
		apiTools = append(apiTools, t)
	}

	req := wireRequest{
		Model:     c.model,
		Messages:  wire,
		System:    systemBlocks,
		MaxTokens: c.maxTokens,
		Tools:     apiTools,
		Stream:    true,
	}
	return json.Marshal(req)
}

func toWireMessage(msg model.Message) wireMessage {
	role := string(msg.Role)
	if !msg.HasBlocks() {
		return wireMessage{Role: role, Content: []any{map[string]any{"type": "text", "text": msg.Text}}}
	}

	content := make([]any, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		switch b.Kind {
		case model.BlockText:
			content = append(content, map[string]any{"type": "text", "text": b.Text})
		case model.BlockToolUse:
			input := b.ToolUseInput
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    b.ToolUseID,
				"name":  b.ToolUseName,
				"input": input,
			})
		case model.BlockToolResult:
			content = append(content, map[string]any{
				"type":        "tool_result",
				"tool_use_id": b.ToolResultToolUseID,
				"content":     b.ToolResultContent,
			})
		}
	}
	return wireMessage{Role: role, Content: content}
}

// blockState tracks one in-flight content_block's kind and (for
// tool_use) accumulated id, across its start/delta/stop SSE trio.
type blockState struct {
	kind string // "text" or "tool_use"
	id   string
}

// pump reads the SSE response body, translates each event into zero or
// more llmadapter.Events, and closes ch when the stream ends.
func (c *Client) pump(ctx context.Context, body io.ReadCloser, ch chan<- llmadapter.Event) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	blocks := make(map[int]*blockState)
	usage := &tokenUsage{}
	var eventType string
	var data strings.Builder

	emit := func(ev llmadapter.Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			emit(llmadapter.Event{Type: llmadapter.EventError, Err: ctx.Err()})
			return
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 && eventType != "" {
				c.handleEvent(eventType, data.String(), blocks, usage, emit)
			}
			eventType, data = "", strings.Builder{}
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		emit(llmadapter.Event{Type: llmadapter.EventError, Err: fmt.Errorf("anthropicstream: reading stream: %w", err)})
		return
	}
	emit(llmadapter.Event{Type: llmadapter.EventDone})
}

// tokenUsage accumulates the input-token count from message_start so it
// can be re-emitted alongside the output-token count that only arrives
// later, in message_delta (the adapter's EventTokens overwrites both
// fields together on every occurrence).
type tokenUsage struct {
	input int
}

func (c *Client) handleEvent(eventType, data string, blocks map[int]*blockState, usage *tokenUsage, emit func(llmadapter.Event)) {
	switch eventType {
	case "message_start":
		var env struct {
			Message struct {
				Model string `json:"model"`
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(data), &env); err == nil {
			usage.input = env.Message.Usage.InputTokens
			emit(llmadapter.Event{Type: llmadapter.EventModel, Model: env.Message.Model})
		}

	case "content_block_start":
		var env struct {
			Index        int `json:"index"`
			ContentBlock struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
		}
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			slog.Warn("anthropicstream: malformed content_block_start", "err", err)
			return
		}
		blocks[env.Index] = &blockState{kind: env.ContentBlock.Type, id: env.ContentBlock.ID}
		if env.ContentBlock.Type == "tool_use" {
			emit(llmadapter.Event{Type: llmadapter.EventToolStart, ToolUseID: env.ContentBlock.ID, ToolName: env.ContentBlock.Name})
		}

	case "content_block_delta":
		var env struct {
			Index int `json:"index"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			slog.Warn("anthropicstream: malformed content_block_delta", "err", err)
			return
		}
		st := blocks[env.Index]
		switch env.Delta.Type {
		case "text_delta":
			if env.Delta.Text != "" {
				emit(llmadapter.Event{Type: llmadapter.EventText, TextDelta: env.Delta.Text})
			}
		case "input_json_delta":
			if st != nil {
				emit(llmadapter.Event{Type: llmadapter.EventToolInputDelta, ToolUseID: st.id, ToolInputJSON: env.Delta.PartialJSON})
			}
		}

	case "content_block_stop":
		var env struct {
			Index int `json:"index"`
		}
		if err := json.Unmarshal([]byte(data), &env); err == nil {
			if st := blocks[env.Index]; st != nil && st.kind == "tool_use" {
				emit(llmadapter.Event{Type: llmadapter.EventToolReady, ToolUseID: st.id})
			}
		}

	case "message_delta":
		var env struct {
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &env); err == nil && env.Usage.OutputTokens > 0 {
			emit(llmadapter.Event{Type: llmadapter.EventTokens, InputTokens: usage.input, OutputTokens: env.Usage.OutputTokens})
		}

	case "error":
		var env struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &env); err == nil {
			emit(llmadapter.Event{Type: llmadapter.EventError, Err: fmt.Errorf("anthropic: %s: %s", env.Error.Type, safeLogString(env.Error.Message))})
		}

	case "message_stop", "ping":
		// No adapter-visible effect; ping is a keepalive and message_stop
		// is redundant with the scanner reaching EOF.
	default:
		slog.Debug("anthropicstream: unhandled SSE event", "type", eventType)
	}
}

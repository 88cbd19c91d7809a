// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package react drives the ReAct state machine: the per-step loop that
// calls the LLM adapter, executes any requested tools, appends
// observations, and decides when the run is finished — whether by a
// clean final answer, a forced finalization after the model appears
// stuck, or a hard step ceiling.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sqltracer/sqltracer/internal/conversation"
	"github.com/sqltracer/sqltracer/internal/llmadapter"
	"github.com/sqltracer/sqltracer/internal/metrics"
	"github.com/sqltracer/sqltracer/internal/model"
	"github.com/sqltracer/sqltracer/internal/toolregistry"
)

var tracer = otel.Tracer("react")

// Defaults for the loop's bounds.
const (
	DefaultMaxSteps        = 15
	DefaultStuckThreshold  = 2 // consecutive no-tool-call steps before a finalize nudge
	DefaultFinalizeGrace   = 2 // steps allowed after the nudge before a forced stop
	DefaultMaxToolRepeats  = 3 // identical (tool, input) calls before the repetition guard fires
)

// finalAnswerMarkers is the closed set of phrases whose case-insensitive
// presence anywhere in the response text marks it as a final answer
// rather than another THOUGHT.
var finalAnswerMarkers = []string{
	"I FOUND THE SOURCE CODE AT",
	"THE EXACT CODE THAT GENERATES THIS SQL IS",
	"LOCATED THE",
	"HERE IS THE SPECIFIC",
	"FOUND THE",
	"## FINAL ANSWER",
	"## CONCLUSION",
	"ANSWER:",
}

// locationPattern matches a Rails source location (file:line).
var locationPattern = regexp.MustCompile(`app/[\w/]+\.rb:\d+`)

// structuralKeywords are the Ruby/Rails keywords required alongside a
// location before the text counts as a final answer.
var structuralKeywords = []string{"def ", "class ", "scope ", "where(", "validates"}

// highConfidenceThreshold is the tool-result score at or above which a run is
// eligible to finalize without an explicit marker phrase.
const highConfidenceThreshold = 0.80

// finalizeNudge is appended to the conversation once the loop suspects
// the model is stuck (DefaultStuckThreshold consecutive steps with no
// tool calls and no final answer).
const finalizeNudge = "You have taken several steps without calling a tool or giving a final answer. " +
	"If you have enough information, respond now with a line starting 'ANSWER:' summarizing your best finding " +
	"and its confidence. Otherwise call exactly one tool."

// Options configures a Machine's bounds; zero values fall back to the
// package defaults.
type Options struct {
	MaxSteps       int
	StuckThreshold int
	FinalizeGrace  int
	MaxToolRepeats int
}

func (o Options) withDefaults() Options {
	if o.MaxSteps == 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.StuckThreshold == 0 {
		o.StuckThreshold = DefaultStuckThreshold
	}
	if o.FinalizeGrace == 0 {
		o.FinalizeGrace = DefaultFinalizeGrace
	}
	if o.MaxToolRepeats == 0 {
		o.MaxToolRepeats = DefaultMaxToolRepeats
	}
	return o
}

// FinalResponse is the loop's terminal output.
type FinalResponse struct {
	Answer     string
	StepsUsed  int
	StopReason string
	Steps      []model.ReActStep
}

// Machine drives one ReAct run end to end.
//
// Thread Safety: a Machine is owned by exactly one run and must not be
// shared across goroutines.
type Machine struct {
	adapter *llmadapter.Adapter
	conv    *conversation.Manager
	tools   *toolregistry.Registry
	opts    Options
	state   *model.ReActState
	metrics *metrics.Metrics

	toolCallSignatures []string // sliding history of "name|input-json" for the repetition guard
	bestConfidence     float64  // highest confidence seen across all tool results this run
}

// New constructs a Machine. conv should already carry the system
// prompt and the user's initial request as its first turns. m may be
// nil, in which case metric observation is skipped.
func New(adapter *llmadapter.Adapter, conv *conversation.Manager, tools *toolregistry.Registry, opts Options, m *metrics.Metrics) *Machine {
	return &Machine{
		adapter: adapter,
		conv:    conv,
		tools:   tools,
		opts:    opts.withDefaults(),
		state:   model.NewReActState(),
		metrics: m,
	}
}

// Run executes the loop until a stop condition fires.
func (m *Machine) Run(ctx context.Context) (FinalResponse, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.Int("max_steps", m.opts.MaxSteps))

	for !m.state.ShouldStop {
		if m.state.CurrentStep >= m.opts.MaxSteps {
			m.state.ShouldStop = true
			m.state.StopReason = "max_steps"
			break
		}

		res, err := m.adapter.Call(ctx, m.conv.Sanitized(), m.tools.Schemas())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return m.finalResponse(), fmt.Errorf("react: llm call failed at step %d: %w", m.state.CurrentStep, err)
		}
		m.state.CurrentStep++

		if res.Error != "" {
			m.recordStep(model.StepObservation, fmt.Sprintf("LLM call error: %s", res.Error), "", nil, nil)
			m.state.ShouldStop = true
			m.state.StopReason = "llm_error"
			break
		}

		if answer, ok := m.detectFinalAnswer(res.Text); ok {
			m.conv.AppendAssistantText(res.Text)
			m.recordStep(model.StepAnswer, answer, "", nil, nil)
			m.state.ShouldStop = true
			m.state.StopReason = "final_answer"
			break
		}

		if len(res.ToolCalls) == 0 {
			m.conv.AppendAssistantText(res.Text)
			m.recordStep(model.StepThought, res.Text, "", nil, nil)
			m.state.ConsecutiveNoToolCalls++
			m.state.ToolCallHistory = append(m.state.ToolCallHistory, model.ToolCallRecord{StepIdx: m.state.CurrentStep, HadToolCalls: false})

			if !m.state.FinalizeRequested && m.state.ConsecutiveNoToolCalls >= m.opts.StuckThreshold {
				m.state.FinalizeRequested = true
				m.state.StepsSinceFinalization = 0
				m.conv.AppendUser(finalizeNudge)
				slog.InfoContext(ctx, "react: requesting finalization", "step", m.state.CurrentStep)
			} else if m.state.FinalizeRequested {
				m.state.StepsSinceFinalization++
				if m.state.StepsSinceFinalization > m.opts.FinalizeGrace {
					m.state.ShouldStop = true
					m.state.StopReason = "finalize_timeout"
				}
			}
			continue
		}

		m.state.ConsecutiveNoToolCalls = 0
		m.state.ToolCallHistory = append(m.state.ToolCallHistory, model.ToolCallRecord{StepIdx: m.state.CurrentStep, HadToolCalls: true})
		m.conv.AppendAssistantToolUse(res.Text, res.ToolCalls)
		if res.Text != "" {
			m.recordStep(model.StepThought, res.Text, "", nil, nil)
		}

		if m.repeatedCallDetected(res.ToolCalls) {
			m.conv.AppendUser("You have called the same tool with the same arguments too many times. Respond with a final 'ANSWER:' using what you already know.")
			m.state.FinalizeRequested = true
			m.state.StepsSinceFinalization = 0
		}

		stepHighConfidence := false
		for _, call := range res.ToolCalls {
			m.state.ToolsUsed[call.Name] = struct{}{}
			start := time.Now()
			out, err := m.tools.Call(ctx, call.Name, call.Input)
			if m.metrics != nil {
				m.metrics.ObserveToolCall(call.Name, err, time.Since(start))
			}
			var observation string
			var toolErrMsg string
			switch {
			case err != nil:
				observation = fmt.Sprintf(`{"error": %q}`, err.Error())
				toolErrMsg = err.Error()
			default:
				observation = renderObservation(out)
				if msg, isErr := errorField(out); isErr {
					toolErrMsg = msg
				} else {
					if c := maxConfidence(out); c > m.bestConfidence {
						m.bestConfidence = c
					}
					if maxConfidence(out) >= highConfidenceThreshold {
						stepHighConfidence = true
					}
				}
			}
			m.recordStep(model.StepAction, "", call.Name, call.Input, out)
			m.recordStep(model.StepObservation, observation, call.Name, nil, out)
			m.conv.AppendToolResult(call.ID, observation)

			if toolErrMsg != "" {
				m.state.ShouldStop = true
				m.state.StopReason = fmt.Sprintf("tool_error: %s: %s", call.Name, toolErrMsg)
				break
			}
		}

		if stepHighConfidence && !m.state.FinalizeRequested && !m.state.ShouldStop {
			m.state.FinalizeRequested = true
			m.state.StepsSinceFinalization = 0
			m.conv.AppendUser("Based on the high-confidence results above, please provide a concrete final answer citing the file and line.")
		}

		m.conv.Compress()
	}

	if m.metrics != nil {
		m.metrics.ObserveSteps(m.state.CurrentStep)
		m.metrics.ObserveFinalAnswer(m.state.StopReason)
		if m.bestConfidence > 0 {
			m.metrics.ObserveConfidence(m.bestConfidence)
		}
	}

	return m.finalResponse(), nil
}

// maxConfidence extracts the highest model.SearchResult.Confidence value
// from a tool handler's output, or 0 if out does not carry one.
func maxConfidence(out any) float64 {
	switch v := out.(type) {
	case []model.SearchResult:
		best := 0.0
		for _, r := range v {
			if r.Confidence > best {
				best = r.Confidence
			}
		}
		return best
	case model.SearchResult:
		return v.Confidence
	default:
		return 0
	}
}

func (m *Machine) recordStep(kind model.ReActStepKind, content, toolName string, toolInput map[string]any, toolOutput any) {
	m.state.Steps = append(m.state.Steps, model.ReActStep{
		Kind:       kind,
		Content:    content,
		ToolName:   toolName,
		ToolInput:  toolInput,
		ToolOutput: toolOutput,
	})
}

func (m *Machine) finalResponse() FinalResponse {
	answer := ""
	for i := len(m.state.Steps) - 1; i >= 0; i-- {
		if m.state.Steps[i].Kind == model.StepAnswer {
			answer = m.state.Steps[i].Content
			break
		}
	}
	if answer == "" {
		// No clean final answer surfaced: fall back to the last THOUGHT
		// so the caller always gets something rather than an empty string.
		for i := len(m.state.Steps) - 1; i >= 0; i-- {
			if m.state.Steps[i].Kind == model.StepThought && m.state.Steps[i].Content != "" {
				answer = m.state.Steps[i].Content
				break
			}
		}
	}
	return FinalResponse{
		Answer:     answer,
		StepsUsed:  m.state.CurrentStep,
		StopReason: m.state.StopReason,
		Steps:      m.state.Steps,
	}
}

// detectFinalAnswer reports whether text counts as a final answer: it
// carries a closed marker phrase, a Rails source location alongside a
// structural keyword, or a tool result this run already scored at or
// above the high-confidence threshold.
func (m *Machine) detectFinalAnswer(text string) (string, bool) {
	if answer, ok := extractFinalAnswer(text); ok {
		return answer, true
	}
	if locationPattern.MatchString(text) {
		lower := strings.ToLower(text)
		for _, kw := range structuralKeywords {
			if strings.Contains(lower, kw) {
				return strings.TrimSpace(text), true
			}
		}
	}
	if text != "" && m.bestConfidence >= highConfidenceThreshold {
		return strings.TrimSpace(text), true
	}
	return "", false
}

// extractFinalAnswer reports whether text contains one of the closed
// final-answer marker phrases (case-insensitive substring match) and
// returns the text following the earliest such marker.
func extractFinalAnswer(text string) (string, bool) {
	upper := strings.ToUpper(text)
	bestIdx := -1
	bestLen := 0
	for _, marker := range finalAnswerMarkers {
		idx := strings.Index(upper, marker)
		if idx == -1 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx {
			bestIdx = idx
			bestLen = len(marker)
		}
	}
	if bestIdx == -1 {
		return "", false
	}
	rest := strings.TrimSpace(text[bestIdx+bestLen:])
	rest = strings.TrimPrefix(rest, ":")
	return strings.TrimSpace(rest), true
}

func (m *Machine) repeatedCallDetected(calls []model.ToolCall) bool {
	fired := false
	for _, c := range calls {
		inputJSON, _ := json.Marshal(c.Input)
		sig := c.Name + "|" + string(inputJSON)
		m.toolCallSignatures = append(m.toolCallSignatures, sig)
		count := 0
		for _, s := range m.toolCallSignatures {
			if s == sig {
				count++
			}
		}
		if count >= m.opts.MaxToolRepeats {
			fired = true
		}
	}
	return fired
}

// errorField reports whether out is a tool result carrying a non-empty
// top-level "error" field (the contract of §7 ToolExecutionError: tool
// failures are a JSON shape, not a Go error). It marshals out generically
// so it works across every analyzer's distinct *Facts/ErrorResult type
// without each one needing a shared interface.
func errorField(out any) (string, bool) {
	b, err := json.Marshal(out)
	if err != nil {
		return "", false
	}
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return "", false
	}
	return probe.Error, probe.Error != ""
}

func renderObservation(out any) string {
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(b)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package uicolor renders a ReAct step trail to a terminal, coloring
// each step by kind. Colors are disabled automatically when stdout is
// not a TTY.
package uicolor

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/sqltracer/sqltracer/internal/model"
)

var (
	thought     = color.New(color.FgCyan)
	action      = color.New(color.FgYellow)
	observation = color.New(color.FgWhite, color.Faint)
	answer      = color.New(color.FgGreen, color.Bold)
)

// DetectTTY reports whether w is a terminal that should receive color
// codes. Pass the result to Init.
func DetectTTY(w *os.File) bool {
	return isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
}

// Init sets the package-wide color.NoColor switch. Call once at
// startup with !DetectTTY(os.Stdout) || userDisabled.
func Init(noColor bool) {
	color.NoColor = noColor
}

// PrintStep writes one step log entry to w, colored by its kind.
func PrintStep(w io.Writer, step model.ReActStep) {
	switch step.Kind {
	case model.StepThought:
		thought.Fprintf(w, "THOUGHT: %s\n", step.Content)
	case model.StepAction:
		action.Fprintf(w, "ACTION: %s(%v)\n", step.ToolName, step.ToolInput)
	case model.StepObservation:
		observation.Fprintf(w, "OBSERVATION[%s]: %s\n", step.ToolName, truncate(step.Content, 400))
	case model.StepAnswer:
		answer.Fprintf(w, "ANSWER: %s\n", step.Content)
	default:
		fmt.Fprintf(w, "%s: %s\n", step.Kind, step.Content)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}

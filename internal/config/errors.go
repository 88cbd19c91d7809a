// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "fmt"

// ConfigurationError wraps a failure loading or validating runtime
// configuration (an unreadable or malformed .sqltrace.yml, a missing
// ANTHROPIC_API_KEY). An unparseable env override does not produce one;
// it is logged and the default kept.
type ConfigurationError struct {
	Context string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Context, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError constructs a ConfigurationError.
func NewConfigurationError(context string, err error) *ConfigurationError {
	return &ConfigurationError{Context: context, Err: err}
}

// ProjectError wraps a failure resolving or validating the target
// project root (missing directory, not a Rails app, unreadable tree).
type ProjectError struct {
	ProjectRoot string
	Err         error
}

func (e *ProjectError) Error() string {
	return fmt.Sprintf("project error (%s): %v", e.ProjectRoot, e.Err)
}

func (e *ProjectError) Unwrap() error { return e.Err }

// NewProjectError constructs a ProjectError.
func NewProjectError(projectRoot string, err error) *ProjectError {
	return &ProjectError{ProjectRoot: projectRoot, Err: err}
}

// ToolInitializationError wraps a failure constructing one tool in the
// registry. One tool's initialization failure is isolated and never
// aborts registry construction as a whole; this type is how that
// per-tool failure is represented wherever it needs to surface as an
// error value (e.g. diagnostics, CLI --check output).
type ToolInitializationError struct {
	ToolName string
	Err      error
}

func (e *ToolInitializationError) Error() string {
	return fmt.Sprintf("tool %q failed to initialize: %v", e.ToolName, e.Err)
}

func (e *ToolInitializationError) Unwrap() error { return e.Err }

// NewToolInitializationError constructs a ToolInitializationError.
func NewToolInitializationError(toolName string, err error) *ToolInitializationError {
	return &ToolInitializationError{ToolName: toolName, Err: err}
}

// ToolExecutionError wraps a failure invoking a tool during a ReAct
// run. Unlike ToolInitializationError, this is a per-call failure: the
// tool is registered and usable, but this particular invocation failed
// (bad arguments, a path outside the project root, a search timeout).
type ToolExecutionError struct {
	ToolName string
	Input    map[string]any
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// NewToolExecutionError constructs a ToolExecutionError.
func NewToolExecutionError(toolName string, input map[string]any, err error) *ToolExecutionError {
	return &ToolExecutionError{ToolName: toolName, Input: input, Err: err}
}

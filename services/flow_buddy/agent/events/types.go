// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries progress notifications out of a build session.
//
// The build loop and tool dispatcher publish here; the websocket handler,
// the CLI progress view, and tests subscribe. Publishing never blocks the
// build and a panicking subscriber never takes the session down.
package events

import "time"

// Type identifies the kind of event.
type Type string

// Event types emitted during a build session.
const (
	// TypeSessionStart fires once when a session begins.
	TypeSessionStart Type = "session_start"

	// TypeSessionEnd fires once when a session reaches a terminal state.
	TypeSessionEnd Type = "session_end"

	// TypeStateTransition fires on every build loop state change.
	TypeStateTransition Type = "state_transition"

	// TypeToolProgress fires when a tool call starts, completes, or fails.
	TypeToolProgress Type = "tool_progress"

	// TypeWorkflowUpdated fires with a document snapshot after edits and
	// validations, for progressive rendering.
	TypeWorkflowUpdated Type = "workflow_updated"

	// TypeAssistantMessage fires when the model produces prose.
	TypeAssistantMessage Type = "assistant_message"

	// TypeValidationOutcome fires after each validation pass.
	TypeValidationOutcome Type = "validation_outcome"

	// TypeIterationComplete fires at the end of each model turn.
	TypeIterationComplete Type = "iteration_complete"

	// TypeError fires for failures worth surfacing to watchers.
	TypeError Type = "error"
)

// ProgressStatus is the lifecycle of one tool invocation.
type ProgressStatus string

const (
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressError     ProgressStatus = "error"
)

// Metadata carries optional correlation context.
type Metadata struct {
	// TraceID links the event to a distributed trace.
	TraceID string `json:"trace_id,omitempty"`

	// Source identifies where the event originated.
	Source string `json:"source,omitempty"`
}

// Event is one progress notification.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is the event kind; Data's shape depends on it.
	Type Type `json:"type"`

	// SessionID is the build session this event belongs to.
	SessionID string `json:"session_id,omitempty"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Iteration is the build iteration the event belongs to.
	Iteration int `json:"iteration"`

	// Data is the typed payload, one of the *Data structs below.
	Data any `json:"data,omitempty"`

	// Metadata is optional correlation context.
	Metadata *Metadata `json:"metadata,omitempty"`
}

// =============================================================================
// Typed Payloads
// =============================================================================

// SessionStartData accompanies TypeSessionStart.
type SessionStartData struct {
	Instruction string `json:"instruction"`
	Path        string `json:"path"`
	HasBaseline bool   `json:"has_baseline"`
}

// SessionEndData accompanies TypeSessionEnd.
type SessionEndData struct {
	FinalState string `json:"final_state"`
	Iterations int    `json:"iterations"`
	Success    bool   `json:"success"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StateTransitionData accompanies TypeStateTransition.
type StateTransitionData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// ToolProgressData accompanies TypeToolProgress. CallID correlates the
// running event with its completed or error counterpart.
type ToolProgressData struct {
	Tool   string         `json:"tool"`
	CallID string         `json:"call_id"`
	Status ProgressStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// WorkflowUpdatedData accompanies TypeWorkflowUpdated.
type WorkflowUpdatedData struct {
	// Snapshot is the full document text after the change.
	Snapshot string `json:"snapshot"`

	// Version counts document mutations within the session.
	Version int `json:"version"`
}

// AssistantMessageData accompanies TypeAssistantMessage.
type AssistantMessageData struct {
	Text string `json:"text"`
}

// ValidationOutcomeData accompanies TypeValidationOutcome.
type ValidationOutcomeData struct {
	// ParseError is set when the document did not parse.
	ParseError string `json:"parse_error,omitempty"`

	// NewWarnings counts findings the model had not seen before.
	NewWarnings int `json:"new_warnings"`

	// TotalWarnings counts all findings of this pass.
	TotalWarnings int `json:"total_warnings"`

	// Converged is true when the pass surfaced nothing new.
	Converged bool `json:"converged"`
}

// IterationData accompanies TypeIterationComplete.
type IterationData struct {
	Iteration int `json:"iteration"`
	ToolCalls int `json:"tool_calls"`
}

// ErrorData accompanies TypeError.
type ErrorData struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

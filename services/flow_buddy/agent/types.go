// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent drives the iterative build loop that turns a natural
// language request into a validated workflow document.
//
// Each iteration invokes the model with the full message history, routes
// the returned tool calls through the dispatcher, and folds the responses
// back into the conversation. The loop ends when a validation pass
// surfaces nothing new, when the iteration or finalize ceilings are hit,
// or when the caller cancels. Those ceilings and cancellation are the
// only terminal conditions; every edit or validation failure becomes
// feedback the model can act on.
//
// Thread Safety:
//
//	A session is driven by exactly one goroutine, but its state may be
//	inspected concurrently (HTTP status reads, event watchers), so
//	Session guards its fields internally.
package agent

import (
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/warnings"
)

// State is a position in the build loop state machine.
//
// Valid transitions are enforced by the state machine. Invalid
// transitions return ErrInvalidTransition.
type State string

const (
	// StateIdle is the initial state before the build request is accepted.
	StateIdle State = "IDLE"

	// StateInvokingModel is an in-flight model call.
	StateInvokingModel State = "INVOKING_MODEL"

	// StateDispatchingTools executes the tool calls of one model turn.
	StateDispatchingTools State = "DISPATCHING_TOOLS"

	// StateReady means a validation pass surfaced nothing new.
	StateReady State = "READY"

	// StateContinuing means the turn produced feedback and the loop goes on.
	StateContinuing State = "CONTINUING"

	// StateAutoFinalizing validates on the model's behalf after a turn
	// with no tool calls.
	StateAutoFinalizing State = "AUTO_FINALIZING"

	// StateDone is the successful terminal state.
	StateDone State = "DONE"

	// StateFailed is the unsuccessful terminal state: ceiling exhausted,
	// cancellation, or an unrecoverable model failure.
	StateFailed State = "FAILED"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the state ends the session (DONE or FAILED).
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// IsActive returns true if the state allows continued execution.
func (s State) IsActive() bool {
	switch s {
	case StateInvokingModel, StateDispatchingTools, StateReady, StateContinuing, StateAutoFinalizing:
		return true
	default:
		return false
	}
}

// AllStates returns all valid build loop states.
func AllStates() []State {
	return []State{
		StateIdle,
		StateInvokingModel,
		StateDispatchingTools,
		StateReady,
		StateContinuing,
		StateAutoFinalizing,
		StateDone,
		StateFailed,
	}
}

// HistoryEntry records a single step in the session's execution history.
type HistoryEntry struct {
	// Step is the 0-indexed step number.
	Step int `json:"step"`

	// Type describes what happened (state_transition, model_turn,
	// tool_dispatch, auto_finalize, model_error).
	Type string `json:"type"`

	// State is the session state at this step.
	State State `json:"state"`

	// Iteration is the build iteration this step belongs to.
	Iteration int `json:"iteration,omitempty"`

	// Input contains the prompt or transition description.
	Input string `json:"input,omitempty"`

	// Output contains the model prose or tool feedback.
	Output string `json:"output,omitempty"`

	// ToolCalls is how many calls the model issued this step.
	ToolCalls int `json:"tool_calls,omitempty"`

	// DurationMs is how long this step took in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Timestamp is when this step occurred.
	Timestamp time.Time `json:"timestamp"`

	// Error contains any error message from this step.
	Error string `json:"error,omitempty"`
}

// MetricField identifies a session metric for IncrementMetric.
type MetricField string

const (
	// MetricIterations counts started build iterations.
	MetricIterations MetricField = "iterations"

	// MetricLLMCalls counts completed model calls.
	MetricLLMCalls MetricField = "llm_calls"

	// MetricToolCalls counts dispatched tool calls.
	MetricToolCalls MetricField = "tool_calls"

	// MetricFinalizeAttempts counts auto-finalize validation passes.
	MetricFinalizeAttempts MetricField = "finalize_attempts"

	// MetricInputTokens counts prompt tokens across all model calls.
	MetricInputTokens MetricField = "input_tokens"

	// MetricOutputTokens counts completion tokens across all model calls.
	MetricOutputTokens MetricField = "output_tokens"
)

// SessionMetrics tracks counters for one session.
type SessionMetrics struct {
	// Iterations is the number of build iterations started.
	Iterations int `json:"iterations"`

	// LLMCalls is the number of model calls that returned.
	LLMCalls int `json:"llm_calls"`

	// ToolCalls is the number of tool calls dispatched.
	ToolCalls int `json:"tool_calls"`

	// FinalizeAttempts is the number of auto-finalize passes run.
	FinalizeAttempts int `json:"finalize_attempts"`

	// InputTokens is the total prompt tokens reported by the provider.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the total completion tokens reported by the provider.
	OutputTokens int `json:"output_tokens"`
}

// BuildRequest starts a session.
type BuildRequest struct {
	// Instruction is the natural language description of the workflow.
	Instruction string `json:"instruction"`

	// Path is the logical document path. Defaults to DefaultDocumentPath.
	Path string `json:"path,omitempty"`

	// Baseline is an existing workflow document to repair or extend.
	// Findings already present in it are labeled pre-existing in feedback.
	Baseline string `json:"baseline,omitempty"`

	// Config overrides the session defaults when non-nil.
	Config *SessionConfig `json:"config,omitempty"`
}

// BuildResult is the terminal outcome of a session.
type BuildResult struct {
	// SessionID identifies the session that produced this result.
	SessionID string `json:"session_id"`

	// State is the terminal state, DONE or FAILED.
	State State `json:"state"`

	// WorkflowSource is the document text at session end, empty if the
	// model never created one.
	WorkflowSource string `json:"workflow_source,omitempty"`

	// Iterations is how many build iterations ran.
	Iterations int `json:"iterations"`

	// FinalizeAttempts is how many auto-finalize passes ran.
	FinalizeAttempts int `json:"finalize_attempts"`

	// Warnings is the full occurrence/resolution timeline of every
	// validation finding the session saw.
	Warnings []warnings.Tracked `json:"warnings,omitempty"`

	// Cancelled marks a failure caused by external cancellation rather
	// than exhausted ceilings or a model fault.
	Cancelled bool `json:"cancelled,omitempty"`

	// Error describes why a FAILED session failed.
	Error string `json:"error,omitempty"`

	// DurationMs is the wall time of the run in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Metrics is a copy of the session counters at termination.
	Metrics SessionMetrics `json:"metrics"`
}

// Succeeded reports whether the session produced a validated document.
func (r *BuildResult) Succeeded() bool {
	return r.State == StateDone
}

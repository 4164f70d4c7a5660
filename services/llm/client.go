// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm abstracts the chat model behind one tool-calling interface.
//
// The build loop needs a single capability: send a conversation plus tool
// definitions, get back prose and/or tool calls. Client captures exactly
// that. OpenAIClient talks to OpenAI-compatible APIs, OllamaClient to a
// local Ollama daemon, and MockClient scripts turns for tests.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation history.
type Message struct {
	// Role identifies the speaker.
	Role Role `json:"role"`

	// Content is the message text. May be empty on assistant turns that
	// only carry tool calls.
	Content string `json:"content"`

	// ToolCalls are the calls requested by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool turn with the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the tool name on tool turns.
	Name string `json:"name,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the model-assigned correlation ID. Calls without one cannot
	// be answered and are dropped by the dispatcher.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the raw JSON argument object exactly as the model
	// produced it. Parsing and validation happen at the tool boundary.
	Arguments string `json:"arguments"`
}

// ToolSpec describes one tool advertised to the model.
type ToolSpec struct {
	// Name is the tool name the model will call.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// Parameters is the JSON Schema of the argument object.
	Parameters json.RawMessage `json:"parameters"`
}

// TurnRequest is one model invocation.
type TurnRequest struct {
	// Messages is the full conversation so far.
	Messages []Message

	// Tools are the tools available this turn.
	Tools []ToolSpec

	// Model overrides the client's default model when non-empty.
	Model string

	// MaxTokens caps the completion length. Zero uses the client default.
	MaxTokens int

	// Temperature controls sampling. Nil uses the provider default.
	Temperature *float32
}

// TurnResult is what the model produced for one turn.
type TurnResult struct {
	// Content is the prose part of the reply, possibly empty.
	Content string

	// ToolCalls are the requested tool invocations, in model order.
	ToolCalls []ToolCall

	// FinishReason is the provider's stop reason, e.g. "stop" or
	// "tool_calls".
	FinishReason string

	// Model is the model that actually served the turn.
	Model string

	// InputTokens and OutputTokens are the provider-reported usage,
	// zero when the provider does not report them.
	InputTokens  int
	OutputTokens int
}

// Sentinel errors. Implementations wrap provider failures into these so
// callers can branch with errors.Is without importing provider packages.
var (
	ErrRateLimited   = errors.New("model provider rate limited the request")
	ErrAuth          = errors.New("model provider rejected credentials")
	ErrContextLength = errors.New("conversation exceeds the model context window")
	ErrUnavailable   = errors.New("model provider unavailable")
	ErrEmptyResponse = errors.New("model returned no choices")
)

// Client is the chat model as the build loop sees it.
type Client interface {
	// ChatWithTools sends the conversation and returns the model's turn.
	// Blocks until the provider answers, the context ends, or the
	// configured timeout fires.
	ChatWithTools(ctx context.Context, req *TurnRequest, opts ...Option) (*TurnResult, error)
}

// =============================================================================
// Call Options
// =============================================================================

// CallOptions are per-call overrides.
type CallOptions struct {
	// Timeout bounds this call. Zero keeps the client default.
	Timeout time.Duration

	// MaxTokens overrides the request's cap when positive.
	MaxTokens int

	// Temperature overrides the request's temperature when non-nil.
	Temperature *float32
}

// Option mutates CallOptions.
type Option func(*CallOptions)

// WithTimeout bounds a single call.
func WithTimeout(d time.Duration) Option {
	return func(o *CallOptions) { o.Timeout = d }
}

// WithMaxTokens overrides the completion cap for one call.
func WithMaxTokens(n int) Option {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// WithTemperature overrides sampling temperature for one call.
func WithTemperature(t float32) Option {
	return func(o *CallOptions) { o.Temperature = &t }
}

// ApplyOptions folds options into a CallOptions value.
func ApplyOptions(opts ...Option) CallOptions {
	var out CallOptions
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

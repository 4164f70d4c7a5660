// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt renders the instruction text a build session sends to
// the model: the system prompt describing the editing protocol, the
// opening user message, and the synthetic exchange used when the model
// stops calling tools before validating.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/AleutianAI/AleutianFlow/services/llm"
)

// =============================================================================
// Templates
// =============================================================================

// systemPromptTemplate instructs the model on the single-document
// editing protocol. The tool list is injected so prompt text and tool
// schemas cannot drift apart.
const systemPromptTemplate = `You are a workflow engineer. You build automation workflows by editing a single JSON document, {{.Path}}, through tool calls.

## Document Format
A workflow is a JSON object:
{
  "name": "My Workflow",
  "nodes": [
    {"id": "1", "name": "Webhook", "type": "flow.trigger.webhook", "typeVersion": 1, "parameters": {"path": "/hook"}}
  ],
  "connections": [
    {"from": "Webhook", "to": "Send Message"}
  ]
}
Every workflow needs exactly one enabled trigger node and a connection path from it to every other node. Node names must be unique; connections reference nodes by name.

## Available Tools
{{range .Tools}}- {{.Name}}: {{.Description}}
{{end}}
## Protocol
1. Use search_nodes to find the exact node type strings before using them.
2. Create the document once with create, then refine it with replace, insert, or batch_replace.
3. The old text of a replace must match the document exactly once. When a replace fails, view the document and retry with more context.
4. Call validate when you believe the workflow is complete. Fix every issue it reports, then validate again.
5. Stop when validation passes.
{{if .HasBaseline}}
## Existing Document
{{.Path}} already contains a workflow. Modify it to satisfy the request; do not recreate it from scratch unless asked. Findings labeled [pre-existing] were present before your edits; fix them only when they block the request.
{{end}}`

// userPromptTemplate carries the build request.
const userPromptTemplate = `{{if .HasBaseline}}Update the workflow in {{.Path}}: {{.Instruction}}{{else}}Build a workflow in {{.Path}}: {{.Instruction}}{{end}}`

// =============================================================================
// Builder
// =============================================================================

// Data feeds the prompt templates.
type Data struct {
	// Path is the logical document path, fixed for the session.
	Path string

	// Tools is the tool table offered to the model.
	Tools []llm.ToolSpec

	// HasBaseline marks a session that starts from an existing document.
	HasBaseline bool

	// Instruction is the user's build request.
	Instruction string
}

// Builder renders session prompts.
//
// Thread Safety: safe for concurrent use after construction.
type Builder struct {
	system *template.Template
	user   *template.Template
}

// NewBuilder parses the prompt templates.
func NewBuilder() (*Builder, error) {
	system, err := template.New("system").Parse(systemPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	user, err := template.New("user").Parse(userPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse user prompt: %w", err)
	}
	return &Builder{system: system, user: user}, nil
}

// BuildSystemPrompt renders the protocol prompt.
func (b *Builder) BuildSystemPrompt(data Data) (string, error) {
	var buf bytes.Buffer
	if err := b.system.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

// BuildUserPrompt renders the opening request message.
func (b *Builder) BuildUserPrompt(data Data) (string, error) {
	var buf bytes.Buffer
	if err := b.user.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render user prompt: %w", err)
	}
	return buf.String(), nil
}

// =============================================================================
// Finalize Exchange
// =============================================================================

// FinalizeExchange builds the assistant/tool message pair appended when
// the session validates on the model's behalf. Shaping it as a normal
// validate call keeps the conversation structurally identical to a turn
// the model drove itself, which models continue far more reliably than
// an out-of-band user interjection.
func FinalizeExchange(path, callID, feedback string) (llm.Message, llm.Message) {
	assistant := llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{
			ID:        callID,
			Name:      "validate",
			Arguments: fmt.Sprintf(`{"path":%q}`, path),
		}},
	}
	tool := llm.Message{
		Role:       llm.RoleTool,
		Content:    feedback,
		ToolCallID: callID,
		Name:       "validate",
	}
	return assistant, tool
}

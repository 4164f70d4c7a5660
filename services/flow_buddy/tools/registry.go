// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools routes one model turn's tool calls onto the document
// store, the validation gateway, and the node catalog, and folds each
// outcome back into a tool response message the model can act on.
package tools

import (
	"encoding/json"

	"github.com/AleutianAI/AleutianFlow/services/llm"
)

// Kind is the enumerated routing target of a tool call. Names the
// model invents that we do not recognize route to KindGeneric.
type Kind int

const (
	KindGeneric Kind = iota
	KindView
	KindCreate
	KindReplace
	KindInsert
	KindBatchReplace
	KindValidate
	KindSearchNodes
)

// String returns the canonical tool name for a kind.
func (k Kind) String() string {
	switch k {
	case KindView:
		return "view"
	case KindCreate:
		return "create"
	case KindReplace:
		return "replace"
	case KindInsert:
		return "insert"
	case KindBatchReplace:
		return "batch_replace"
	case KindValidate:
		return "validate"
	case KindSearchNodes:
		return "search_nodes"
	default:
		return "generic"
	}
}

// Definition describes one tool offered to the model.
type Definition struct {
	Name        string
	Kind        Kind
	Description string
	Parameters  json.RawMessage
}

// Registry is the fixed table of built-in tools plus the name -> kind
// lookup used by the dispatcher.
//
// Thread Safety: immutable after construction, safe for concurrent use.
type Registry struct {
	defs   []Definition
	byName map[string]Kind
}

// NewRegistry builds the registry with the built-in tool set.
func NewRegistry() *Registry {
	defs := builtins()
	byName := make(map[string]Kind, len(defs)+1)
	for _, d := range defs {
		byName[d.Name] = d.Kind
	}
	// Older prompt revisions used the camelCase name.
	byName["batchReplace"] = KindBatchReplace
	return &Registry{defs: defs, byName: byName}
}

// KindOf resolves a tool name to its routing kind. Unrecognized names
// are KindGeneric.
func (r *Registry) KindOf(name string) Kind {
	if k, ok := r.byName[name]; ok {
		return k
	}
	return KindGeneric
}

// Definitions returns the built-in tool table in presentation order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Specs converts the table into the shape the model client sends.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, llm.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

func builtins() []Definition {
	return []Definition{
		{
			Name:        "view",
			Kind:        KindView,
			Description: "View the workflow document with 1-indexed line numbers. Optionally restrict to a line range.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "The document path. Always workflow.json."},
					"range": {
						"type": "array",
						"items": {"type": "integer"},
						"minItems": 2,
						"maxItems": 2,
						"description": "Optional [start, end] line range, 1-indexed inclusive."
					}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        "create",
			Kind:        KindCreate,
			Description: "Create the workflow document with the given JSON text. Overwrites any existing content.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "The document path. Always workflow.json."},
					"text": {"type": "string", "description": "The complete workflow JSON."}
				},
				"required": ["path", "text"]
			}`),
		},
		{
			Name:        "replace",
			Kind:        KindReplace,
			Description: "Replace one exact occurrence of a string in the workflow document. The old text must appear exactly once.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "The document path. Always workflow.json."},
					"old": {"type": "string", "description": "The exact text to replace. Must occur exactly once."},
					"new": {"type": "string", "description": "The replacement text."}
				},
				"required": ["path", "old", "new"]
			}`),
		},
		{
			Name:        "insert",
			Kind:        KindInsert,
			Description: "Insert a new line into the workflow document immediately after the given 1-indexed line. Line 0 inserts at the start.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "The document path. Always workflow.json."},
					"line": {"type": "integer", "description": "Insert after this line. 0 inserts at the start."},
					"text": {"type": "string", "description": "The line to insert."}
				},
				"required": ["path", "line", "text"]
			}`),
		},
		{
			Name:        "batch_replace",
			Kind:        KindBatchReplace,
			Description: "Apply several exact replacements as one atomic unit. If any replacement fails, none are applied.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"replacements": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"old": {"type": "string"},
								"new": {"type": "string"}
							},
							"required": ["old", "new"]
						},
						"description": "Ordered replacements. Each old string must occur exactly once."
					}
				},
				"required": ["replacements"]
			}`),
		},
		{
			Name:        "validate",
			Kind:        KindValidate,
			Description: "Parse and validate the workflow document. Call this after your edits to check whether the workflow is complete.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "The document path. Always workflow.json."}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        "search_nodes",
			Kind:        KindSearchNodes,
			Description: "Search the node catalog for node types matching a description. Use this to discover the exact type string for a node.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "What the node should do, e.g. 'send a slack message'."},
					"limit": {"type": "integer", "description": "Maximum results. Defaults to 5."}
				},
				"required": ["query"]
			}`),
		},
	}
}

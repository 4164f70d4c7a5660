// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/AleutianFlow/services/compiler/catalog"
)

// MaxDefinitionSize caps workflow documents to prevent memory exhaustion
// from runaway generation.
const MaxDefinitionSize = 1 * 1024 * 1024 // 1MB

// Sentinel errors for parsing.
var (
	ErrEmptyDefinition = errors.New("workflow definition is empty")
	ErrDefinitionSize  = errors.New("workflow definition exceeds maximum size")
)

// Compiler parses and validates workflow definitions against a catalog.
type Compiler struct {
	catalog *catalog.Catalog
}

// New creates a compiler bound to a node catalog.
//
// Inputs:
//
//	cat - Node type catalog. Must not be nil.
//
// Outputs:
//
//	*Compiler - The configured compiler
//	error - Non-nil if cat is nil
func New(cat *catalog.Catalog) (*Compiler, error) {
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}
	return &Compiler{catalog: cat}, nil
}

// Parse decodes a workflow definition from JSON source text.
//
// Description:
//
//	Parsing is strict about syntax and tolerant about unknown fields, so
//	a definition written for a newer schema still loads. Structural and
//	catalog problems are not parse errors; they surface from the two
//	validation stages.
//
// Inputs:
//
//	source - Raw JSON text of the definition.
//
// Outputs:
//
//	*Workflow - The decoded definition
//	error - Non-nil on empty input, oversized input, or JSON syntax errors
func (c *Compiler) Parse(source string) (*Workflow, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyDefinition
	}
	if len(source) > MaxDefinitionSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)",
			ErrDefinitionSize, len(source), MaxDefinitionSize)
	}
	var wf Workflow
	if err := json.Unmarshal([]byte(source), &wf); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", describeJSONError(source, err))
	}
	return &wf, nil
}

// describeJSONError adds a line number to JSON syntax errors so feedback
// can point at the offending spot in the document.
func describeJSONError(source string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line := 1 + strings.Count(source[:syntaxErr.Offset], "\n")
		return fmt.Errorf("line %d: %w", line, err)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line := 1 + strings.Count(source[:typeErr.Offset], "\n")
		return fmt.Errorf("line %d: field %q expects %s: %w",
			line, typeErr.Field, typeErr.Type, err)
	}
	return err
}

// ValidateStructure runs graph-level checks on a parsed workflow.
//
// Description:
//
//	Checks node naming, connection endpoints, trigger presence,
//	reachability from triggers, and the declared schema version. Catalog
//	knowledge is only consulted to classify triggers; per-node parameter
//	checks belong to ValidateArtifact.
//
// Inputs:
//
//	wf - Parsed workflow. Must not be nil.
//
// Outputs:
//
//	Report - Errors and warnings found; empty report means structurally sound
func (c *Compiler) ValidateStructure(wf *Workflow) Report {
	var rep Report
	if wf == nil || len(wf.Nodes) == 0 {
		rep.Errors = append(rep.Errors, Warning{
			Code:    CodeEmptyWorkflow,
			Message: "the workflow has no nodes",
		})
		return rep
	}

	names := make(map[string]int, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.Name == "" {
			rep.Errors = append(rep.Errors, Warning{
				Code:    CodeMissingNodeName,
				Message: fmt.Sprintf("a node of type %q has no name", n.Type),
			})
			continue
		}
		names[n.Name]++
	}
	for name, count := range names {
		if count > 1 {
			rep.Errors = append(rep.Errors, Warning{
				Code:     CodeDuplicateNodeName,
				Message:  fmt.Sprintf("node name appears %d times; names must be unique", count),
				NodeName: name,
			})
		}
	}

	for _, conn := range wf.Connections {
		if _, ok := names[conn.From]; !ok {
			rep.Errors = append(rep.Errors, Warning{
				Code:     CodeUnknownConnectionSource,
				Message:  fmt.Sprintf("connection source %q is not a node in this workflow", conn.From),
				NodeName: conn.From,
			})
		}
		if _, ok := names[conn.To]; !ok {
			rep.Errors = append(rep.Errors, Warning{
				Code:     CodeUnknownConnectionTarget,
				Message:  fmt.Sprintf("connection target %q is not a node in this workflow", conn.To),
				NodeName: conn.To,
			})
		}
		if conn.From != "" && conn.From == conn.To {
			rep.Warnings = append(rep.Warnings, Warning{
				Code:     CodeSelfConnection,
				Message:  "node connects to itself",
				NodeName: conn.From,
			})
		}
	}

	triggers := c.triggerNames(wf)
	if len(triggers) == 0 {
		rep.Errors = append(rep.Errors, Warning{
			Code:    CodeMissingTrigger,
			Message: "the workflow has no trigger node; add one so runs can start",
		})
	} else {
		for _, name := range c.unreachableFrom(wf, triggers) {
			rep.Warnings = append(rep.Warnings, Warning{
				Code:     CodeUnreachableNode,
				Message:  "node is not reachable from any trigger",
				NodeName: name,
			})
		}
	}

	if wf.Meta != nil && wf.Meta.SchemaVersion != "" {
		v := wf.Meta.SchemaVersion
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		if !semver.IsValid(v) {
			rep.Warnings = append(rep.Warnings, Warning{
				Code:          CodeInvalidSchemaVersion,
				Message:       fmt.Sprintf("schemaVersion %q is not a valid semantic version", wf.Meta.SchemaVersion),
				ParameterPath: "meta.schemaVersion",
			})
		}
	}

	return rep
}

// ValidateArtifact runs node-level checks against the catalog.
//
// Inputs:
//
//	wf - Parsed workflow. Must not be nil.
//
// Outputs:
//
//	Report - Errors and warnings found; empty report means every node
//	passes its catalog contract
func (c *Compiler) ValidateArtifact(wf *Workflow) Report {
	var rep Report
	if wf == nil {
		return rep
	}

	for _, n := range wf.Nodes {
		entry := c.catalog.Lookup(n.Type)
		if entry == nil {
			rep.Errors = append(rep.Errors, Warning{
				Code:     CodeUnknownNodeType,
				Message:  fmt.Sprintf("node type %q is not in the catalog; use search_nodes to find valid types", n.Type),
				NodeName: n.Name,
			})
			continue
		}
		if !entry.SupportsVersion(n.TypeVersion) {
			rep.Errors = append(rep.Errors, Warning{
				Code: CodeUnsupportedTypeVersion,
				Message: fmt.Sprintf("typeVersion %v is not supported by %s (latest is %v)",
					n.TypeVersion, n.Type, entry.LatestVersion()),
				NodeName:      n.Name,
				ParameterPath: "typeVersion",
			})
		}
		for _, param := range entry.RequiredParameters {
			if !hasParameter(n.Parameters, param) {
				rep.Errors = append(rep.Errors, Warning{
					Code:          CodeMissingRequiredParameter,
					Message:       fmt.Sprintf("required parameter %q is not set", param),
					NodeName:      n.Name,
					ParameterPath: "parameters." + param,
				})
			}
		}
		for _, kind := range entry.Credentials {
			if _, ok := n.Credentials[kind]; !ok {
				rep.Warnings = append(rep.Warnings, Warning{
					Code:          CodeMissingCredentials,
					Message:       fmt.Sprintf("node needs a %q credential before it can run", kind),
					NodeName:      n.Name,
					ParameterPath: "credentials." + kind,
				})
			}
		}
	}

	return rep
}

// triggerNames returns the names of nodes whose catalog kind is trigger.
// Disabled triggers do not count; a workflow of only disabled triggers
// cannot start.
func (c *Compiler) triggerNames(wf *Workflow) []string {
	var out []string
	for _, n := range wf.Nodes {
		if n.Disabled {
			continue
		}
		if entry := c.catalog.Lookup(n.Type); entry != nil && entry.Kind == catalog.KindTrigger {
			out = append(out, n.Name)
		}
	}
	return out
}

// unreachableFrom walks the connection graph from the given roots and
// returns the names of nodes never visited, in definition order.
func (c *Compiler) unreachableFrom(wf *Workflow, roots []string) []string {
	adjacent := make(map[string][]string, len(wf.Nodes))
	for _, conn := range wf.Connections {
		adjacent[conn.From] = append(adjacent[conn.From], conn.To)
	}

	visited := make(map[string]bool, len(wf.Nodes))
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		visited[r] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacent[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	var out []string
	for _, n := range wf.Nodes {
		if n.Name != "" && !visited[n.Name] {
			out = append(out, n.Name)
		}
	}
	return out
}

// hasParameter reports whether a required key is present and non-empty.
// Dot paths descend into nested parameter objects.
func hasParameter(params map[string]any, path string) bool {
	if params == nil {
		return false
	}
	parts := strings.Split(path, ".")
	var cur any = params
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[part]
		if !ok {
			return false
		}
	}
	switch v := cur.(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

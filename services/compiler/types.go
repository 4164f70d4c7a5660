// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compiler parses automation-workflow definitions and validates
// them against the node catalog.
//
// A workflow definition is a JSON document describing a directed graph of
// nodes. The compiler performs three separable steps:
//   - Parse: strict JSON decode into the Workflow struct.
//   - ValidateStructure: graph-level checks (names, connections, triggers,
//     reachability, schema version).
//   - ValidateArtifact: node-level checks against the catalog (known types,
//     supported versions, required parameters, credentials).
//
// Validation never mutates the workflow. Both validation steps report
// findings as Warning values partitioned into errors and warnings; callers
// decide how to surface them.
//
// Thread Safety:
//
//	Compiler is safe for concurrent use after construction.
package compiler

import "fmt"

// =============================================================================
// Workflow Definition
// =============================================================================

// Workflow is the artifact under construction: a named directed graph of
// nodes joined by connections.
type Workflow struct {
	// Name is the human-readable workflow name.
	Name string `json:"name"`

	// Nodes are the units of computation in the workflow.
	Nodes []Node `json:"nodes"`

	// Connections wire node outputs to node inputs by node name.
	Connections []Connection `json:"connections"`

	// Settings holds optional execution settings.
	Settings *Settings `json:"settings,omitempty"`

	// Meta holds optional metadata about the definition itself.
	Meta *Meta `json:"meta,omitempty"`
}

// Node is a single unit of computation.
type Node struct {
	// ID is an optional stable identifier. Names, not IDs, are the
	// connection addressing scheme.
	ID string `json:"id,omitempty"`

	// Name is the unique display name used by connections and warnings.
	Name string `json:"name"`

	// Type is the catalog node type, e.g. "aleutian.httpRequest".
	Type string `json:"type"`

	// TypeVersion selects the node type revision. Zero means version 1.
	TypeVersion float64 `json:"typeVersion,omitempty"`

	// Parameters is the node configuration. Shapes vary per node type,
	// so this stays open; required keys are enforced via the catalog.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Credentials maps credential kinds to credential names.
	Credentials map[string]string `json:"credentials,omitempty"`

	// Position is an optional [x, y] canvas hint.
	Position []float64 `json:"position,omitempty"`

	// Disabled marks a node as present but inactive.
	Disabled bool `json:"disabled,omitempty"`
}

// Connection wires one node's output to another node's input.
type Connection struct {
	// From is the source node name.
	From string `json:"from"`

	// To is the target node name.
	To string `json:"to"`

	// Output is the source output index (0 = main).
	Output int `json:"output,omitempty"`

	// Input is the target input index (0 = main).
	Input int `json:"input,omitempty"`
}

// Settings holds optional workflow execution settings.
type Settings struct {
	// Timezone for schedule evaluation, IANA name.
	Timezone string `json:"timezone,omitempty"`

	// ErrorPolicy selects failure handling: "stop" or "continue".
	ErrorPolicy string `json:"errorPolicy,omitempty"`
}

// Meta holds metadata about the definition document.
type Meta struct {
	// SchemaVersion is the definition schema version, semver.
	SchemaVersion string `json:"schemaVersion,omitempty"`
}

// =============================================================================
// Validation Findings
// =============================================================================

// Warning is a single validation finding. The same shape carries both
// errors and warnings; Report partitions them.
type Warning struct {
	// Code is the machine-readable finding kind.
	Code string `json:"code"`

	// Message is the human-readable description. Message text is
	// deliberately excluded from warning identity so rewording a finding
	// does not make it look new.
	Message string `json:"message"`

	// NodeName is the affected node, when the finding is node-scoped.
	NodeName string `json:"nodeName,omitempty"`

	// ParameterPath locates the affected parameter, when applicable,
	// e.g. "parameters.url".
	ParameterPath string `json:"parameterPath,omitempty"`
}

// String renders the warning for feedback messages.
func (w Warning) String() string {
	switch {
	case w.NodeName != "" && w.ParameterPath != "":
		return fmt.Sprintf("[%s] node %q, %s: %s", w.Code, w.NodeName, w.ParameterPath, w.Message)
	case w.NodeName != "":
		return fmt.Sprintf("[%s] node %q: %s", w.Code, w.NodeName, w.Message)
	default:
		return fmt.Sprintf("[%s] %s", w.Code, w.Message)
	}
}

// Report is the outcome of one validation stage.
type Report struct {
	// Errors are findings that make the workflow unrunnable.
	Errors []Warning `json:"errors"`

	// Warnings are findings the workflow can run with.
	Warnings []Warning `json:"warnings"`
}

// Empty reports whether the stage produced no findings at all.
func (r Report) Empty() bool {
	return len(r.Errors) == 0 && len(r.Warnings) == 0
}

// All returns errors followed by warnings as one list.
func (r Report) All() []Warning {
	if r.Empty() {
		return nil
	}
	all := make([]Warning, 0, len(r.Errors)+len(r.Warnings))
	all = append(all, r.Errors...)
	all = append(all, r.Warnings...)
	return all
}

// Finding codes produced by the compiler.
const (
	CodeEmptyWorkflow            = "empty_workflow"
	CodeMissingNodeName          = "missing_node_name"
	CodeDuplicateNodeName        = "duplicate_node_name"
	CodeUnknownConnectionSource  = "unknown_connection_source"
	CodeUnknownConnectionTarget  = "unknown_connection_target"
	CodeSelfConnection           = "self_connection"
	CodeMissingTrigger           = "missing_trigger"
	CodeUnreachableNode          = "unreachable_node"
	CodeInvalidSchemaVersion     = "invalid_schema_version"
	CodeUnknownNodeType          = "unknown_node_type"
	CodeUnsupportedTypeVersion   = "unsupported_type_version"
	CodeMissingRequiredParameter = "missing_required_parameter"
	CodeMissingCredentials       = "missing_credentials"
)

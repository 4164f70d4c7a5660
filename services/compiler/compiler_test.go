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
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianFlow/services/compiler/catalog"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	cat, err := catalog.LoadDefault()
	if err != nil {
		t.Fatalf("load default catalog: %v", err)
	}
	c, err := New(cat)
	if err != nil {
		t.Fatalf("new compiler: %v", err)
	}
	return c
}

func codes(ws []Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

func hasCode(ws []Warning, code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestParse(t *testing.T) {
	c := newTestCompiler(t)

	tests := []struct {
		name    string
		source  string
		wantErr error
	}{
		{
			name:   "minimal valid document",
			source: `{"name": "test", "nodes": [], "connections": []}`,
		},
		{
			name:    "empty source",
			source:  "",
			wantErr: ErrEmptyDefinition,
		},
		{
			name:    "whitespace only",
			source:  "  \n\t ",
			wantErr: ErrEmptyDefinition,
		},
		{
			name:   "unknown fields tolerated",
			source: `{"name": "test", "nodes": [], "connections": [], "pinData": {}}`,
		},
		{
			name:   "syntax error",
			source: `{"name": "test", "nodes": [}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := c.Parse(tt.source)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if tt.name == "syntax error" {
				if err == nil {
					t.Fatal("Parse() expected syntax error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if wf == nil {
				t.Fatal("Parse() returned nil workflow without error")
			}
		})
	}
}

func TestParse_SyntaxErrorIncludesLine(t *testing.T) {
	c := newTestCompiler(t)
	source := "{\n  \"name\": \"test\",\n  \"nodes\": [,]\n}"

	_, err := c.Parse(source)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("error %q should name line 3", err.Error())
	}
}

func TestParse_SizeCap(t *testing.T) {
	c := newTestCompiler(t)
	big := `{"name": "` + strings.Repeat("x", MaxDefinitionSize) + `"}`

	_, err := c.Parse(big)
	if !errors.Is(err, ErrDefinitionSize) {
		t.Fatalf("Parse() error = %v, want ErrDefinitionSize", err)
	}
}

func TestValidateStructure(t *testing.T) {
	c := newTestCompiler(t)

	trigger := Node{Name: "Start", Type: "aleutian.manualTrigger"}
	action := func(name string) Node {
		return Node{Name: name, Type: "aleutian.setFields", Parameters: map[string]any{"fields": []any{"a"}}}
	}

	tests := []struct {
		name         string
		wf           *Workflow
		wantErrCodes []string
		wantWarn     []string
	}{
		{
			name:         "empty workflow",
			wf:           &Workflow{Name: "empty"},
			wantErrCodes: []string{CodeEmptyWorkflow},
		},
		{
			name: "valid linear flow",
			wf: &Workflow{
				Name:  "ok",
				Nodes: []Node{trigger, action("Shape")},
				Connections: []Connection{
					{From: "Start", To: "Shape"},
				},
			},
		},
		{
			name: "duplicate node names",
			wf: &Workflow{
				Name:  "dup",
				Nodes: []Node{trigger, action("Shape"), action("Shape")},
				Connections: []Connection{
					{From: "Start", To: "Shape"},
				},
			},
			wantErrCodes: []string{CodeDuplicateNodeName},
		},
		{
			name: "connection to unknown node",
			wf: &Workflow{
				Name:  "dangling",
				Nodes: []Node{trigger},
				Connections: []Connection{
					{From: "Start", To: "Ghost"},
				},
			},
			wantErrCodes: []string{CodeUnknownConnectionTarget},
		},
		{
			name: "connection from unknown node",
			wf: &Workflow{
				Name:  "dangling-src",
				Nodes: []Node{trigger},
				Connections: []Connection{
					{From: "Ghost", To: "Start"},
				},
			},
			wantErrCodes: []string{CodeUnknownConnectionSource},
		},
		{
			name: "no trigger",
			wf: &Workflow{
				Name:  "headless",
				Nodes: []Node{action("Shape")},
			},
			wantErrCodes: []string{CodeMissingTrigger},
		},
		{
			name: "disabled trigger does not count",
			wf: &Workflow{
				Name:  "disabled",
				Nodes: []Node{{Name: "Start", Type: "aleutian.manualTrigger", Disabled: true}},
			},
			wantErrCodes: []string{CodeMissingTrigger},
		},
		{
			name: "unreachable node",
			wf: &Workflow{
				Name:  "island",
				Nodes: []Node{trigger, action("Shape"), action("Island")},
				Connections: []Connection{
					{From: "Start", To: "Shape"},
				},
			},
			wantWarn: []string{CodeUnreachableNode},
		},
		{
			name: "self connection",
			wf: &Workflow{
				Name:  "loop",
				Nodes: []Node{trigger, action("Shape")},
				Connections: []Connection{
					{From: "Start", To: "Shape"},
					{From: "Shape", To: "Shape"},
				},
			},
			wantWarn: []string{CodeSelfConnection},
		},
		{
			name: "bad schema version",
			wf: &Workflow{
				Name:  "versioned",
				Nodes: []Node{trigger},
				Meta:  &Meta{SchemaVersion: "not-a-version"},
			},
			wantWarn: []string{CodeInvalidSchemaVersion},
		},
		{
			name: "good schema version without v prefix",
			wf: &Workflow{
				Name:  "versioned-ok",
				Nodes: []Node{trigger},
				Meta:  &Meta{SchemaVersion: "1.2.0"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := c.ValidateStructure(tt.wf)

			for _, code := range tt.wantErrCodes {
				if !hasCode(rep.Errors, code) {
					t.Errorf("errors %v missing code %s", codes(rep.Errors), code)
				}
			}
			for _, code := range tt.wantWarn {
				if !hasCode(rep.Warnings, code) {
					t.Errorf("warnings %v missing code %s", codes(rep.Warnings), code)
				}
			}
			if len(tt.wantErrCodes) == 0 && len(rep.Errors) != 0 {
				t.Errorf("unexpected errors: %v", codes(rep.Errors))
			}
			if len(tt.wantWarn) == 0 && len(rep.Warnings) != 0 {
				t.Errorf("unexpected warnings: %v", codes(rep.Warnings))
			}
		})
	}
}

func TestValidateArtifact(t *testing.T) {
	c := newTestCompiler(t)

	tests := []struct {
		name         string
		node         Node
		wantErrCodes []string
		wantWarn     []string
	}{
		{
			name: "fully configured node",
			node: Node{
				Name: "Fetch",
				Type: "aleutian.httpRequest",
				Parameters: map[string]any{
					"url":    "https://example.com",
					"method": "GET",
				},
			},
		},
		{
			name:         "unknown type",
			node:         Node{Name: "Mystery", Type: "aleutian.doesNotExist"},
			wantErrCodes: []string{CodeUnknownNodeType},
		},
		{
			name: "unsupported version",
			node: Node{
				Name:        "Fetch",
				Type:        "aleutian.httpRequest",
				TypeVersion: 9,
				Parameters:  map[string]any{"url": "https://example.com", "method": "GET"},
			},
			wantErrCodes: []string{CodeUnsupportedTypeVersion},
		},
		{
			name:         "missing required parameters",
			node:         Node{Name: "Fetch", Type: "aleutian.httpRequest"},
			wantErrCodes: []string{CodeMissingRequiredParameter},
		},
		{
			name: "empty string does not satisfy required parameter",
			node: Node{
				Name:       "Fetch",
				Type:       "aleutian.httpRequest",
				Parameters: map[string]any{"url": "", "method": "GET"},
			},
			wantErrCodes: []string{CodeMissingRequiredParameter},
		},
		{
			name: "missing credential is a warning",
			node: Node{
				Name: "Notify",
				Type: "aleutian.slackMessage",
				Parameters: map[string]any{
					"channel": "#ops",
					"text":    "done",
				},
			},
			wantWarn: []string{CodeMissingCredentials},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := c.ValidateArtifact(&Workflow{Name: "t", Nodes: []Node{tt.node}})

			for _, code := range tt.wantErrCodes {
				if !hasCode(rep.Errors, code) {
					t.Errorf("errors %v missing code %s", codes(rep.Errors), code)
				}
			}
			for _, code := range tt.wantWarn {
				if !hasCode(rep.Warnings, code) {
					t.Errorf("warnings %v missing code %s", codes(rep.Warnings), code)
				}
			}
			if len(tt.wantErrCodes) == 0 && len(rep.Errors) != 0 {
				t.Errorf("unexpected errors: %v", codes(rep.Errors))
			}
		})
	}
}

func TestValidateArtifact_ParameterPath(t *testing.T) {
	c := newTestCompiler(t)
	rep := c.ValidateArtifact(&Workflow{
		Name:  "t",
		Nodes: []Node{{Name: "Fetch", Type: "aleutian.httpRequest"}},
	})

	found := false
	for _, w := range rep.Errors {
		if w.Code == CodeMissingRequiredParameter && w.ParameterPath == "parameters.url" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing_required_parameter error at parameters.url, got %+v", rep.Errors)
	}
}

func TestHasParameter(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		path   string
		want   bool
	}{
		{"nil map", nil, "url", false},
		{"present string", map[string]any{"url": "x"}, "url", true},
		{"empty string", map[string]any{"url": ""}, "url", false},
		{"present number", map[string]any{"port": 8080}, "port", true},
		{"nil value", map[string]any{"url": nil}, "url", false},
		{"nested path", map[string]any{"auth": map[string]any{"token": "t"}}, "auth.token", true},
		{"nested missing", map[string]any{"auth": map[string]any{}}, "auth.token", false},
		{"path through scalar", map[string]any{"auth": "basic"}, "auth.token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasParameter(tt.params, tt.path); got != tt.want {
				t.Errorf("hasParameter(%v, %q) = %v, want %v", tt.params, tt.path, got, tt.want)
			}
		})
	}
}

func TestWarningString(t *testing.T) {
	tests := []struct {
		name string
		w    Warning
		want string
	}{
		{
			name: "bare",
			w:    Warning{Code: "empty_workflow", Message: "no nodes"},
			want: "[empty_workflow] no nodes",
		},
		{
			name: "node scoped",
			w:    Warning{Code: "unknown_node_type", Message: "bad", NodeName: "Fetch"},
			want: `[unknown_node_type] node "Fetch": bad`,
		},
		{
			name: "parameter scoped",
			w: Warning{
				Code:          "missing_required_parameter",
				Message:       "not set",
				NodeName:      "Fetch",
				ParameterPath: "parameters.url",
			},
			want: `[missing_required_parameter] node "Fetch", parameters.url: not set`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReportAll(t *testing.T) {
	rep := Report{
		Errors:   []Warning{{Code: "a"}},
		Warnings: []Warning{{Code: "b"}, {Code: "c"}},
	}
	all := rep.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d findings, want 3", len(all))
	}
	if all[0].Code != "a" || all[2].Code != "c" {
		t.Errorf("All() should keep errors before warnings: %v", codes(all))
	}

	if !(Report{}).Empty() {
		t.Error("zero Report should be Empty")
	}
	if (Report{}).All() != nil {
		t.Error("empty Report.All() should be nil")
	}
}

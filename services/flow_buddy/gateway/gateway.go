// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway is the single entry point through which build sessions
// reach the workflow compiler.
//
// The compiler distinguishes parse failures, structural findings, and
// catalog findings. The build loop does not care: it needs one recoverable
// "did not parse" outcome and one flat list of findings it can feed through
// the warning ledger. The gateway does that folding in exactly one place so
// every caller sees identical semantics.
package gateway

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianFlow/services/compiler"
)

var gatewayTracer = otel.Tracer("flowbuddy.gateway")

// Compiler is the slice of the workflow compiler the gateway needs.
// *compiler.Compiler satisfies it.
type Compiler interface {
	Parse(source string) (*compiler.Workflow, error)
	ValidateStructure(wf *compiler.Workflow) compiler.Report
	ValidateArtifact(wf *compiler.Workflow) compiler.Report
}

// Result is a successful parse plus every finding from both validation
// stages, folded into one list: structural errors, then structural
// warnings, then catalog errors, then catalog warnings.
type Result struct {
	Workflow *compiler.Workflow
	Warnings []compiler.Warning
}

// Clean reports whether validation produced no findings at all.
func (r *Result) Clean() bool { return len(r.Warnings) == 0 }

// Gateway validates document text through the compiler.
type Gateway struct {
	compiler Compiler
	logger   *slog.Logger
}

// New creates a gateway over a compiler. A nil logger selects slog.Default.
func New(c Compiler, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{compiler: c, logger: logger}
}

// ParseAndValidate parses source text and runs both validation stages.
//
// A parse failure returns a non-nil error and no result; the caller turns
// that into feedback, it is not a fault. A successful parse always returns
// a result, however many findings it carries.
func (g *Gateway) ParseAndValidate(ctx context.Context, source string) (*Result, error) {
	ctx, span := gatewayTracer.Start(ctx, "gateway.ParseAndValidate")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wf, err := g.compiler.Parse(source)
	if err != nil {
		span.SetAttributes(attribute.Bool("parse.ok", false))
		g.logger.Debug("Document failed to parse", "error", err)
		return nil, err
	}

	structure := g.compiler.ValidateStructure(wf)
	artifact := g.compiler.ValidateArtifact(wf)

	res := &Result{Workflow: wf}
	res.Warnings = append(res.Warnings, structure.Errors...)
	res.Warnings = append(res.Warnings, structure.Warnings...)
	res.Warnings = append(res.Warnings, artifact.Errors...)
	res.Warnings = append(res.Warnings, artifact.Warnings...)

	span.SetAttributes(
		attribute.Bool("parse.ok", true),
		attribute.Int("findings.structure", len(structure.Errors)+len(structure.Warnings)),
		attribute.Int("findings.artifact", len(artifact.Errors)+len(artifact.Warnings)),
	)
	g.logger.Debug("Validated document",
		"nodes", len(wf.Nodes),
		"findings", len(res.Warnings))
	return res, nil
}

// Preview reports whether source parses, without running validation.
// Used for progressive feedback after individual edits.
func (g *Gateway) Preview(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := g.compiler.Parse(source)
	return err
}

// ValidateBaseline validates a document supplied at session start, before
// any edit. Returns the folded findings used to seed the warning ledger's
// pre-existing set. Skipped entirely when there is nothing to evaluate:
// an empty, unparseable, or node-free baseline yields nil, never an
// error, since the build loop repairs the document from there anyway.
func (g *Gateway) ValidateBaseline(ctx context.Context, source string) []compiler.Warning {
	if source == "" {
		return nil
	}
	wf, err := g.compiler.Parse(source)
	if err != nil {
		g.logger.Warn("Baseline document does not parse, skipping baseline validation",
			"error", err)
		return nil
	}
	if wf == nil || len(wf.Nodes) == 0 {
		return nil
	}
	_, span := gatewayTracer.Start(ctx, "gateway.ValidateBaseline")
	defer span.End()

	structure := g.compiler.ValidateStructure(wf)
	artifact := g.compiler.ValidateArtifact(wf)

	var ws []compiler.Warning
	ws = append(ws, structure.Errors...)
	ws = append(ws, structure.Warnings...)
	ws = append(ws, artifact.Errors...)
	ws = append(ws, artifact.Warnings...)

	span.SetAttributes(attribute.Int("findings.baseline", len(ws)))
	g.logger.Info("Validated baseline document",
		"nodes", len(wf.Nodes),
		"findings", len(ws))
	return ws
}

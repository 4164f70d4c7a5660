// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianFlow/services/compiler"
	"github.com/AleutianAI/AleutianFlow/services/compiler/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent/events"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/document"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/gateway"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/warnings"
	"github.com/AleutianAI/AleutianFlow/services/llm"
)

var dispatcherTracer = otel.Tracer("flowbuddy.tools")

// MaxToolCallsPerTurn limits how many calls one model turn may issue.
// Excess calls are dropped, not failed; ceilings are the only terminal
// conditions in a session.
const MaxToolCallsPerTurn = 20

// TriState is a flag the iteration may have no evidence for. It starts
// Unknown each turn and is recomputed from the last relevant call.
type TriState int

const (
	TriUnknown TriState = iota
	TriFalse
	TriTrue
)

// NodeSearcher is the slice of the node catalog the dispatcher needs.
// *catalog.Catalog satisfies it.
type NodeSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]catalog.Hit, error)
}

// GenericInvoker runs tool calls that target none of the built-ins.
type GenericInvoker interface {
	Invoke(ctx context.Context, name, arguments string) (string, error)
}

// TurnOutcome aggregates the dispatch of one model turn.
type TurnOutcome struct {
	// Responses holds one tool message per executed call, correlated
	// by tool call ID, in execution order.
	Responses []llm.Message

	// Ready is set when a validate call found no new findings. Further
	// calls in the same turn are skipped once it is set.
	Ready bool

	// HasUnvalidatedEdits tracks whether the document was edited after
	// the last create or validate. Recomputed from the last call seen:
	// replace, insert, and batch_replace set it true; create and
	// validate set it false; view and generic calls leave it alone.
	HasUnvalidatedEdits TriState

	// DocumentChanged is set when any call mutated the buffer.
	DocumentChanged bool
}

type handlerFunc func(ctx context.Context, iteration int, call llm.ToolCall, outcome *TurnOutcome) (string, error)

// Dispatcher routes one turn's tool calls to their handlers.
//
// Description:
//
//	Calls execute strictly in the order the model issued them. Every
//	call gets a response message, success or failure, so the model can
//	self-correct; edit failures are feedback, never faults. Calls
//	without an ID cannot be correlated to a response and are dropped.
//
// Thread Safety: a Dispatcher belongs to one session goroutine.
type Dispatcher struct {
	registry *Registry
	store    *document.Store
	gateway  *gateway.Gateway
	ledger   *warnings.Ledger
	handlers map[Kind]handlerFunc
	searcher NodeSearcher
	generic  GenericInvoker
	emitter  events.Publisher
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSearcher enables the search_nodes tool.
func WithSearcher(s NodeSearcher) Option {
	return func(d *Dispatcher) { d.searcher = s }
}

// WithGenericInvoker handles tool names outside the built-in set.
func WithGenericInvoker(g GenericInvoker) Option {
	return func(d *Dispatcher) { d.generic = g }
}

// WithEmitter streams tool progress and document updates.
func WithEmitter(e events.Publisher) Option {
	return func(d *Dispatcher) { d.emitter = e }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher wires a dispatcher over its collaborators. Returns nil
// if any required collaborator is nil.
func NewDispatcher(registry *Registry, store *document.Store, gw *gateway.Gateway, ledger *warnings.Ledger, opts ...Option) *Dispatcher {
	if registry == nil || store == nil || gw == nil || ledger == nil {
		return nil
	}
	d := &Dispatcher{
		registry: registry,
		store:    store,
		gateway:  gw,
		ledger:   ledger,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = map[Kind]handlerFunc{
		KindView:         d.handleView,
		KindCreate:       d.handleCreate,
		KindReplace:      d.handleReplace,
		KindInsert:       d.handleInsert,
		KindBatchReplace: d.handleBatchReplace,
		KindValidate:     d.handleValidate,
		KindSearchNodes:  d.handleSearch,
	}
	return d
}

// ExecuteTurn runs one model turn's tool calls in order.
//
// Description:
//
//	Each call produces a tool response message and a pair of progress
//	events (running, then completed or error). Readiness short-circuits
//	the remaining calls in the turn. The returned error is non-nil only
//	for context cancellation; every tool-level failure is folded into
//	the response messages instead.
//
// Inputs:
//
//	ctx - Cancellation unwinds before the next call starts.
//	iteration - The session iteration, for ledger bookkeeping.
//	calls - The turn's tool calls, in model order.
func (d *Dispatcher) ExecuteTurn(ctx context.Context, iteration int, calls []llm.ToolCall) (*TurnOutcome, error) {
	ctx, span := dispatcherTracer.Start(ctx, "Dispatcher.ExecuteTurn")
	defer span.End()
	span.SetAttributes(
		attribute.Int("turn.iteration", iteration),
		attribute.Int("turn.num_calls", len(calls)),
	)

	if len(calls) > MaxToolCallsPerTurn {
		d.logger.Warn("Dropping excess tool calls",
			"got", len(calls),
			"max", MaxToolCallsPerTurn)
		calls = calls[:MaxToolCallsPerTurn]
	}

	outcome := &TurnOutcome{}
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		if call.ID == "" {
			d.logger.Warn("Dropping tool call without id", "tool", call.Name)
			continue
		}

		kind := d.registry.KindOf(call.Name)
		d.emitProgress(call, events.ProgressRunning, "")

		handler, ok := d.handlers[kind]
		if !ok {
			handler = d.handleGeneric
		}
		text, callErr := handler(ctx, iteration, call, outcome)
		if callErr != nil {
			d.emitProgress(call, events.ProgressError, callErr.Error())
			d.logger.Debug("Tool call failed",
				"tool", call.Name,
				"call_id", call.ID,
				"error", callErr)
		} else {
			d.emitProgress(call, events.ProgressCompleted, "")
		}

		outcome.Responses = append(outcome.Responses, llm.Message{
			Role:       llm.RoleTool,
			Content:    text,
			ToolCallID: call.ID,
			Name:       call.Name,
		})

		if outcome.Ready {
			break
		}
	}

	span.SetAttributes(
		attribute.Bool("turn.ready", outcome.Ready),
		attribute.Bool("turn.document_changed", outcome.DocumentChanged),
		attribute.Int("turn.responses", len(outcome.Responses)),
	)
	return outcome, nil
}

// ===== Handlers =====

func (d *Dispatcher) handleView(_ context.Context, _ int, call llm.ToolCall, _ *TurnOutcome) (string, error) {
	var p ViewParams
	if err := decodeParams(call.Arguments, &p); err != nil {
		return "Invalid arguments for view: " + err.Error(), err
	}
	if editErr := d.checkPath(p.Path); editErr != nil {
		return FormatEditError(editErr), editErr
	}
	rng, err := viewRangeOf(&p)
	if err != nil {
		return "Invalid arguments for view: " + err.Error(), err
	}
	text, editErr := d.store.View(rng)
	if editErr != nil {
		return FormatEditError(editErr), editErr
	}
	return text, nil
}

func (d *Dispatcher) handleCreate(ctx context.Context, iteration int, call llm.ToolCall, outcome *TurnOutcome) (string, error) {
	var p CreateParams
	if err := decodeParams(call.Arguments, &p); err != nil {
		return "Invalid arguments for create: " + err.Error(), err
	}
	if editErr := d.checkPath(p.Path); editErr != nil {
		return FormatEditError(editErr), editErr
	}
	if len(p.Text) > document.MaxDocumentSize {
		err := fmt.Errorf("document too large: %d bytes (max %d)", len(p.Text), document.MaxDocumentSize)
		return "The document is too large to create: " + err.Error(), err
	}

	replaced := d.store.Create(p.Text)
	outcome.DocumentChanged = true
	outcome.HasUnvalidatedEdits = TriFalse
	d.emitWorkflowUpdated()

	confirm := fmt.Sprintf("Created %s (%d lines).", d.store.Path(), d.store.LineCount())
	if replaced {
		confirm = fmt.Sprintf("Replaced the contents of %s (%d lines).", d.store.Path(), d.store.LineCount())
	}

	// Fold an immediate validation pass into the same response so the
	// model learns about problems one turn earlier. Readiness stays
	// with the explicit validate call.
	summary := d.runValidation(ctx, iteration)
	return confirm + "\n" + summary.text, nil
}

func (d *Dispatcher) handleReplace(ctx context.Context, _ int, call llm.ToolCall, outcome *TurnOutcome) (string, error) {
	var p ReplaceParams
	if err := decodeParams(call.Arguments, &p); err != nil {
		return "Invalid arguments for replace: " + err.Error(), err
	}
	if editErr := d.checkPath(p.Path); editErr != nil {
		return FormatEditError(editErr), editErr
	}
	if editErr := d.store.Replace(p.Old, p.New); editErr != nil {
		return FormatEditError(editErr), editErr
	}
	outcome.DocumentChanged = true
	outcome.HasUnvalidatedEdits = TriTrue
	d.emitWorkflowUpdated()
	return fmt.Sprintf("Replaced 1 occurrence in %s.", d.store.Path()) + d.previewNote(ctx), nil
}

func (d *Dispatcher) handleInsert(ctx context.Context, _ int, call llm.ToolCall, outcome *TurnOutcome) (string, error) {
	var p InsertParams
	if err := decodeParams(call.Arguments, &p); err != nil {
		return "Invalid arguments for insert: " + err.Error(), err
	}
	if editErr := d.checkPath(p.Path); editErr != nil {
		return FormatEditError(editErr), editErr
	}
	if editErr := d.store.Insert(p.Line, p.Text); editErr != nil {
		return FormatEditError(editErr), editErr
	}
	outcome.DocumentChanged = true
	outcome.HasUnvalidatedEdits = TriTrue
	d.emitWorkflowUpdated()
	return fmt.Sprintf("Inserted 1 line after line %d in %s.", p.Line, d.store.Path()) + d.previewNote(ctx), nil
}

func (d *Dispatcher) handleBatchReplace(ctx context.Context, _ int, call llm.ToolCall, outcome *TurnOutcome) (string, error) {
	p, err := decodeBatchParams(call.Arguments)
	if err != nil {
		return "Invalid arguments for batch_replace: " + err.Error(), err
	}
	if editErr := d.store.BatchReplace(p.Replacements); editErr != nil {
		return FormatEditError(editErr), editErr
	}
	outcome.DocumentChanged = true
	outcome.HasUnvalidatedEdits = TriTrue
	d.emitWorkflowUpdated()
	return fmt.Sprintf("Applied %d replacement(s) to %s.", len(p.Replacements), d.store.Path()) + d.previewNote(ctx), nil
}

func (d *Dispatcher) handleValidate(ctx context.Context, iteration int, call llm.ToolCall, outcome *TurnOutcome) (string, error) {
	var p ValidateParams
	if err := decodeParams(call.Arguments, &p); err != nil {
		return "Invalid arguments for validate: " + err.Error(), err
	}
	if editErr := d.checkPath(p.Path); editErr != nil {
		return FormatEditError(editErr), editErr
	}
	if !d.store.Exists() {
		editErr := &document.EditError{Kind: document.KindNotFound}
		return FormatEditError(editErr), editErr
	}

	summary := d.runValidation(ctx, iteration)
	outcome.HasUnvalidatedEdits = TriFalse
	if summary.parseErr == nil && len(summary.newWarnings) == 0 {
		outcome.Ready = true
	}
	return summary.text, nil
}

func (d *Dispatcher) handleSearch(ctx context.Context, _ int, call llm.ToolCall, _ *TurnOutcome) (string, error) {
	var p SearchParams
	if err := decodeParams(call.Arguments, &p); err != nil {
		return "Invalid arguments for search_nodes: " + err.Error(), err
	}
	if p.Query == "" {
		err := fmt.Errorf("missing query")
		return "search_nodes requires a query describing what the node should do.", err
	}
	if d.searcher == nil {
		err := fmt.Errorf("node search is not configured")
		return "Node search is not available in this session.", err
	}
	hits, err := d.searcher.Search(ctx, p.Query, p.Limit)
	if err != nil {
		return "Node search failed: " + err.Error(), err
	}
	return formatHits(p.Query, hits), nil
}

func (d *Dispatcher) handleGeneric(ctx context.Context, _ int, call llm.ToolCall, _ *TurnOutcome) (string, error) {
	if d.generic == nil {
		err := fmt.Errorf("tool %q is not available", call.Name)
		return fmt.Sprintf(
			"Tool %q is not available. Use one of: view, create, replace, insert, batch_replace, validate, search_nodes.",
			call.Name), err
	}
	out, err := d.generic.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		return fmt.Sprintf("Tool %q failed: %v", call.Name, err), err
	}
	return out, nil
}

// ===== Validation Plumbing =====

type validationSummary struct {
	parseErr      error
	totalWarnings int
	newWarnings   []compiler.Warning
	text          string
}

// runValidation validates the current buffer and performs the ledger
// bookkeeping: previously shown findings are filtered from the text,
// every current finding is recorded, and findings that disappeared are
// closed at this iteration.
func (d *Dispatcher) runValidation(ctx context.Context, iteration int) *validationSummary {
	source, ok := d.store.Content()
	if !ok {
		return &validationSummary{
			parseErr: fmt.Errorf("no document"),
			text:     "No document exists yet. Use create first.",
		}
	}

	res, err := d.gateway.ParseAndValidate(ctx, source)
	if err != nil {
		s := &validationSummary{
			parseErr: err,
			text:     fmt.Sprintf("The document does not parse: %v\nFix the JSON, then call validate again.", err),
		}
		d.emitValidationOutcome(s)
		return s
	}

	newWs := d.ledger.FilterNew(res.Warnings)
	d.ledger.MarkSeen(res.Warnings)
	for _, w := range res.Warnings {
		d.ledger.RecordWarning(w, iteration)
	}
	d.ledger.UpdateResolutionStatus(res.Warnings, iteration)

	s := &validationSummary{
		totalWarnings: len(res.Warnings),
		newWarnings:   newWs,
	}
	switch {
	case len(res.Warnings) == 0:
		s.text = "Validation passed with no issues."
	case len(newWs) == 0:
		s.text = "Validation passed. All remaining findings were reported earlier."
	default:
		s.text = formatWarnings(newWs, d.ledger.IsPreExisting)
	}
	d.emitValidationOutcome(s)
	return s
}

// checkPath validates an explicit path argument. An absent path means
// the session document.
func (d *Dispatcher) checkPath(p string) *document.EditError {
	if p == "" {
		return nil
	}
	return d.store.CheckPath(p)
}

// previewNote parses the buffer after an edit and reports a failure as
// an advisory note rather than a tool error.
func (d *Dispatcher) previewNote(ctx context.Context) string {
	source, ok := d.store.Content()
	if !ok {
		return ""
	}
	if err := d.gateway.Preview(ctx, source); err != nil {
		return fmt.Sprintf("\nNote: the document does not currently parse: %v", err)
	}
	return ""
}

// ===== Events =====

func (d *Dispatcher) emitProgress(call llm.ToolCall, status events.ProgressStatus, errText string) {
	if d.emitter == nil {
		return
	}
	d.emitter.Emit(events.TypeToolProgress, events.ToolProgressData{
		Tool:   call.Name,
		CallID: call.ID,
		Status: status,
		Error:  errText,
	})
}

func (d *Dispatcher) emitWorkflowUpdated() {
	if d.emitter == nil {
		return
	}
	snapshot, _ := d.store.Content()
	d.emitter.Emit(events.TypeWorkflowUpdated, events.WorkflowUpdatedData{
		Snapshot: snapshot,
		Version:  d.store.Version(),
	})
}

func (d *Dispatcher) emitValidationOutcome(s *validationSummary) {
	if d.emitter == nil {
		return
	}
	data := events.ValidationOutcomeData{
		NewWarnings:   len(s.newWarnings),
		TotalWarnings: s.totalWarnings,
		Converged:     s.parseErr == nil && len(s.newWarnings) == 0 && s.totalWarnings > 0,
	}
	if s.parseErr != nil {
		data.ParseError = s.parseErr.Error()
	}
	d.emitter.Emit(events.TypeValidationOutcome, data)
}

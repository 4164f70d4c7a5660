// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent/events"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/gateway"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/prompt"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/tools"
	"github.com/AleutianAI/AleutianFlow/services/llm"
)

var loopTracer = otel.Tracer("flowbuddy.agent")

// SessionStore manages session lookup.
type SessionStore interface {
	// Get retrieves a session by ID.
	Get(id string) (*Session, bool)

	// Put stores a session.
	Put(session *Session)

	// Delete removes a session.
	Delete(id string)

	// List returns all stored session IDs.
	List() []string
}

// Loop drives build sessions from request to terminal state.
//
// Description:
//
//	One iteration is: invoke the model with the full conversation,
//	dispatch its tool calls, fold the responses back in, and decide
//	whether the session is done, failed, or continues. A model turn
//	with no tool calls triggers the auto-finalize fallback, which
//	validates the document on the model's behalf.
//
// Thread Safety: Loop is safe for concurrent use across sessions. A
// single session is driven by one Run call at a time.
type Loop struct {
	mu sync.RWMutex

	// client calls the model.
	client llm.Client

	// gateway validates document text through the compiler.
	gateway *gateway.Gateway

	// registry defines the tool table offered to the model.
	registry *tools.Registry

	// prompts renders the session's prompt messages.
	prompts *prompt.Builder

	// sessions stores active sessions.
	sessions SessionStore

	// stateMachine validates loop state transitions.
	stateMachine *StateMachine

	// searcher backs the search_nodes tool (nil disables it).
	searcher tools.NodeSearcher

	// generic handles tool calls outside the built-in set.
	generic tools.GenericInvoker

	logger *slog.Logger

	// maxConcurrent limits concurrent sessions (0 = unlimited).
	maxConcurrent int

	// activeSessions tracks currently running sessions.
	activeSessions int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithSessionStore sets the session store.
func WithSessionStore(store SessionStore) LoopOption {
	return func(l *Loop) {
		if store != nil {
			l.sessions = store
		}
	}
}

// WithSearcher enables the search_nodes tool for all sessions.
func WithSearcher(s tools.NodeSearcher) LoopOption {
	return func(l *Loop) { l.searcher = s }
}

// WithGenericInvoker handles tool names outside the built-in set.
func WithGenericInvoker(g tools.GenericInvoker) LoopOption {
	return func(l *Loop) { l.generic = g }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMaxConcurrentSessions limits concurrent sessions (0 = unlimited).
func WithMaxConcurrentSessions(max int) LoopOption {
	return func(l *Loop) { l.maxConcurrent = max }
}

// NewLoop wires a loop over its collaborators. Returns nil if any
// required collaborator is nil.
//
// Inputs:
//
//	client - The model client.
//	gw - The validation gateway.
//	registry - The tool registry.
//	prompts - The prompt builder.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Loop - The configured loop, or nil on missing collaborators.
func NewLoop(client llm.Client, gw *gateway.Gateway, registry *tools.Registry, prompts *prompt.Builder, opts ...LoopOption) *Loop {
	if client == nil || gw == nil || registry == nil || prompts == nil {
		return nil
	}
	l := &Loop{
		client:       client,
		gateway:      gw,
		registry:     registry,
		prompts:      prompts,
		sessions:     NewInMemorySessionStore(),
		stateMachine: DefaultStateMachine,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start prepares a session for a build request.
//
// Description:
//
//	Creates the session, wires its dispatcher, loads and validates the
//	baseline document when one is supplied (tagging its findings as
//	pre-existing), and renders the opening prompt messages. The session
//	is stored and left in IDLE state; Run drives it from there.
//
// Inputs:
//
//	ctx - Context for baseline validation.
//	req - The build request.
//
// Outputs:
//
//	*Session - The prepared session.
//	error - Non-nil if the request or configuration is invalid.
func (l *Loop) Start(ctx context.Context, req *BuildRequest) (*Session, error) {
	var cfg *SessionConfig
	if req != nil {
		cfg = req.Config
	}
	session, err := NewSession(req, cfg)
	if err != nil {
		return nil, err
	}

	session.dispatcher = tools.NewDispatcher(l.registry, session.Document, l.gateway, session.Ledger,
		tools.WithEmitter(session.emitter),
		tools.WithSearcher(l.searcher),
		tools.WithGenericInvoker(l.generic),
		tools.WithLogger(l.logger),
	)

	hasBaseline := req.Baseline != ""
	if hasBaseline {
		session.Document.Create(req.Baseline)
		baseline := l.gateway.ValidateBaseline(ctx, req.Baseline)
		session.Ledger.MarkAsPreExisting(baseline)
		l.logger.Info("Loaded baseline document",
			"session_id", session.ID,
			"lines", session.Document.LineCount(),
			"findings", len(baseline))
	}

	data := prompt.Data{
		Path:        session.Path(),
		Tools:       l.registry.Specs(),
		HasBaseline: hasBaseline,
		Instruction: req.Instruction,
	}
	systemPrompt, err := l.prompts.BuildSystemPrompt(data)
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	userPrompt, err := l.prompts.BuildUserPrompt(data)
	if err != nil {
		return nil, fmt.Errorf("build user prompt: %w", err)
	}
	session.AppendMessages(
		llm.Message{Role: llm.RoleSystem, Content: systemPrompt},
		llm.Message{Role: llm.RoleUser, Content: userPrompt},
	)

	l.sessions.Put(session)
	session.emitter.Emit(events.TypeSessionStart, events.SessionStartData{
		Instruction: req.Instruction,
		Path:        session.Path(),
		HasBaseline: hasBaseline,
	})
	if hasBaseline {
		text, _ := session.Document.Content()
		session.emitter.Emit(events.TypeWorkflowUpdated, events.WorkflowUpdatedData{
			Snapshot: text,
			Version:  session.Document.Version(),
		})
	}

	l.logger.Info("Build session started",
		"session_id", session.ID,
		"path", session.Path(),
		"has_baseline", hasBaseline)
	return session, nil
}

// Run drives a session to a terminal state.
//
// Description:
//
//	Blocks until the session reaches DONE or FAILED. Ceiling exhaustion
//	and cancellation come back inside the result, not as an error; the
//	returned error covers only pre-flight problems such as a session
//	already being driven.
//
// Inputs:
//
//	ctx - Cancelling it aborts the session, reported as cancelled.
//	session - A session obtained from Start, in IDLE state.
//
// Outputs:
//
//	*BuildResult - The terminal outcome.
//	error - Non-nil only when the run never began.
//
// Thread Safety: This method is safe for concurrent use with different
// sessions.
func (l *Loop) Run(ctx context.Context, session *Session) (*BuildResult, error) {
	if session == nil || session.dispatcher == nil {
		return nil, fmt.Errorf("%w: session must come from Start", ErrInvalidSession)
	}
	if state := session.GetState(); state != StateIdle {
		if state.IsTerminal() {
			return nil, ErrSessionTerminated
		}
		return nil, fmt.Errorf("%w: cannot run from %s", ErrInvalidTransition, state)
	}
	if !session.TryAcquire() {
		return nil, ErrSessionInProgress
	}
	defer session.Release()

	if err := l.acquireSlot(); err != nil {
		return nil, err
	}
	defer l.releaseSlot()

	var cancel context.CancelFunc
	if session.Config.TotalTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, session.Config.TotalTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	session.bindCancel(cancel)
	defer cancel()

	ctx, span := loopTracer.Start(ctx, "agent.Run")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", session.ID))

	result := l.runLoop(ctx, session)
	span.SetAttributes(
		attribute.String("session.state", result.State.String()),
		attribute.Int("session.iterations", result.Iterations),
	)
	if result.State == StateFailed {
		span.SetStatus(codes.Error, result.Error)
	}
	return result, nil
}

// GetSession returns a stored session.
func (l *Loop) GetSession(id string) (*Session, error) {
	session, ok := l.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Cancel aborts a running session. Already-terminated sessions are a
// no-op.
//
// Outputs:
//
//	error - ErrSessionNotFound if the session does not exist.
func (l *Loop) Cancel(id string) error {
	session, ok := l.sessions.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if session.IsTerminated() {
		return nil
	}
	session.Cancel()
	return nil
}

// SessionIDs returns the IDs of all stored sessions.
func (l *Loop) SessionIDs() []string {
	return l.sessions.List()
}

// ===== Main Loop =====

// runLoop executes iterations until a terminal state.
func (l *Loop) runLoop(ctx context.Context, session *Session) *BuildResult {
	start := time.Now()

	if err := l.transition(session, StateInvokingModel, "build request accepted"); err != nil {
		return l.failResult(session, err, start)
	}

	for {
		if err := ctx.Err(); err != nil {
			return l.failResult(session, err, start)
		}

		iteration, ok := session.Budget.NextIteration()
		if !ok {
			return l.failResult(session,
				fmt.Errorf("%w after %d iterations", ErrIterationBudget, iteration), start)
		}
		session.IncrementMetric(MetricIterations, 1)
		session.emitter.SetIteration(iteration)

		turn, err := l.invokeModel(ctx, session)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return l.failResult(session, err, start)
			}
			if errors.Is(err, llm.ErrAuth) || errors.Is(err, llm.ErrContextLength) {
				return l.failResult(session, fmt.Errorf("%w: %v", ErrModelFailed, err), start)
			}
			// Transient provider failure. The iteration is spent, so the
			// ceiling still bounds total work.
			l.logger.Warn("Model call failed, retrying",
				"session_id", session.ID,
				"iteration", iteration,
				"error", err)
			session.AddHistoryEntry(HistoryEntry{Type: "model_error", Iteration: iteration, Error: err.Error()})
			continue
		}

		session.IncrementMetric(MetricLLMCalls, 1)
		session.IncrementMetric(MetricInputTokens, turn.InputTokens)
		session.IncrementMetric(MetricOutputTokens, turn.OutputTokens)
		session.AppendMessages(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   turn.Content,
			ToolCalls: turn.ToolCalls,
		})
		if turn.Content != "" {
			session.emitter.Emit(events.TypeAssistantMessage, events.AssistantMessageData{Text: turn.Content})
		}
		session.AddHistoryEntry(HistoryEntry{
			Type:      "model_turn",
			Iteration: iteration,
			Output:    turn.Content,
			ToolCalls: len(turn.ToolCalls),
		})

		if len(turn.ToolCalls) == 0 {
			if err := l.transition(session, StateAutoFinalizing, "model turn carried no tool calls"); err != nil {
				return l.failResult(session, err, start)
			}
			done, finErr := l.autoFinalize(ctx, session, iteration)
			if finErr != nil {
				return l.failResult(session, finErr, start)
			}
			if done {
				if err := l.transition(session, StateDone, "finalize pass clean or converged"); err != nil {
					return l.failResult(session, err, start)
				}
				return l.doneResult(session, start)
			}
			if err := l.transition(session, StateInvokingModel, "corrective exchange appended"); err != nil {
				return l.failResult(session, err, start)
			}
			continue
		}

		if err := l.transition(session, StateDispatchingTools, "model turn carried tool calls"); err != nil {
			return l.failResult(session, err, start)
		}
		outcome, dispatchErr := session.dispatcher.ExecuteTurn(ctx, iteration, turn.ToolCalls)
		session.AppendMessages(outcome.Responses...)
		session.IncrementMetric(MetricToolCalls, len(outcome.Responses))
		session.AddHistoryEntry(HistoryEntry{
			Type:      "tool_dispatch",
			Iteration: iteration,
			ToolCalls: len(outcome.Responses),
		})
		session.emitter.Emit(events.TypeIterationComplete, events.IterationData{
			Iteration: iteration,
			ToolCalls: len(outcome.Responses),
		})
		if dispatchErr != nil {
			// ExecuteTurn fails only on cancellation; edit and validation
			// problems come back as response messages.
			return l.failResult(session, dispatchErr, start)
		}

		if outcome.Ready {
			if err := l.transition(session, StateReady, "a validate call surfaced nothing new"); err != nil {
				return l.failResult(session, err, start)
			}
			if err := l.transition(session, StateDone, "document accepted"); err != nil {
				return l.failResult(session, err, start)
			}
			return l.doneResult(session, start)
		}

		if err := l.transition(session, StateContinuing, "feedback folded into conversation"); err != nil {
			return l.failResult(session, err, start)
		}
		if err := l.transition(session, StateInvokingModel, "next iteration within ceiling"); err != nil {
			return l.failResult(session, err, start)
		}
	}
}

// invokeModel calls the model with the full conversation and tool table.
func (l *Loop) invokeModel(ctx context.Context, session *Session) (*llm.TurnResult, error) {
	ctx, span := loopTracer.Start(ctx, "agent.invokeModel")
	defer span.End()

	req := &llm.TurnRequest{
		Messages:  session.Messages(),
		Tools:     l.registry.Specs(),
		Model:     session.Config.Model,
		MaxTokens: session.Config.MaxTokensPerTurn,
	}
	opts := []llm.Option{llm.WithTimeout(session.Config.TurnTimeout)}
	if session.Config.Temperature > 0 {
		opts = append(opts, llm.WithTemperature(session.Config.Temperature))
	}

	turn, err := l.client.ChatWithTools(ctx, req, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("turn.tool_calls", len(turn.ToolCalls)),
		attribute.Int("turn.output_tokens", turn.OutputTokens),
	)
	return turn, nil
}

// autoFinalize validates on the model's behalf after a turn without tool
// calls.
//
// Description:
//
//	Runs a real validate call through the dispatcher so ledger
//	bookkeeping, readiness, and progress events behave exactly as if
//	the model had asked. A clean or converged pass ends the session
//	with no extra message. Anything else appends a corrective exchange
//	shaped like a model-driven validate call and hands control back.
//
// Outputs:
//
//	bool - True when the session is done.
//	error - The finalize ceiling or cancellation; both are terminal.
func (l *Loop) autoFinalize(ctx context.Context, session *Session, iteration int) (bool, error) {
	if !session.Budget.UseFinalizeAttempt() {
		return false, fmt.Errorf("%w after %d attempts", ErrFinalizeBudget, session.Budget.FinalizeAttempts())
	}
	session.IncrementMetric(MetricFinalizeAttempts, 1)

	callID := "finalize_" + uuid.NewString()[:8]
	call := llm.ToolCall{
		ID:        callID,
		Name:      "validate",
		Arguments: fmt.Sprintf(`{"path":%q}`, session.Path()),
	}
	outcome, err := session.dispatcher.ExecuteTurn(ctx, iteration, []llm.ToolCall{call})
	if err != nil {
		return false, err
	}
	if outcome.Ready {
		l.logger.Info("Auto-finalize accepted the document",
			"session_id", session.ID,
			"iteration", iteration)
		return true, nil
	}

	feedback := "Validation could not run."
	if len(outcome.Responses) > 0 {
		feedback = outcome.Responses[0].Content
	}
	assistant, tool := prompt.FinalizeExchange(session.Path(), callID, feedback)
	session.AppendMessages(assistant, tool)
	session.AddHistoryEntry(HistoryEntry{Type: "auto_finalize", Iteration: iteration, Output: feedback})
	l.logger.Info("Auto-finalize appended corrective feedback",
		"session_id", session.ID,
		"iteration", iteration,
		"attempts", session.Budget.FinalizeAttempts())
	return false, nil
}

// ===== Results =====

// doneResult finalizes a successful session.
func (l *Loop) doneResult(session *Session, start time.Time) *BuildResult {
	result := l.buildResult(session, start)
	session.setResult(result)
	l.emitSessionEnd(session, result)
	l.logger.Info("Build session done",
		"session_id", session.ID,
		"iterations", result.Iterations,
		"duration_ms", result.DurationMs)
	return result
}

// failResult finalizes a failed session, distinguishing cancellation.
func (l *Loop) failResult(session *Session, cause error, start time.Time) *BuildResult {
	cause = normalizeFailure(cause)
	if err := l.transition(session, StateFailed, cause.Error()); err != nil {
		session.SetState(StateFailed)
	}

	result := l.buildResult(session, start)
	result.Cancelled = errors.Is(cause, ErrCanceled)
	result.Error = cause.Error()
	session.setResult(result)
	l.emitSessionEnd(session, result)
	l.logger.Warn("Build session failed",
		"session_id", session.ID,
		"cancelled", result.Cancelled,
		"error", cause)
	return result
}

// buildResult snapshots the session into a terminal result.
func (l *Loop) buildResult(session *Session, start time.Time) *BuildResult {
	text, _ := session.Document.Content()
	return &BuildResult{
		SessionID:        session.ID,
		State:            session.GetState(),
		WorkflowSource:   text,
		Iterations:       session.Budget.Iteration(),
		FinalizeAttempts: session.Budget.FinalizeAttempts(),
		Warnings:         session.Ledger.Timeline(),
		DurationMs:       time.Since(start).Milliseconds(),
		Metrics:          session.GetMetrics(),
	}
}

// normalizeFailure maps context errors onto the session sentinels so
// callers can test with errors.Is without knowing about contexts.
func normalizeFailure(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

func (l *Loop) emitSessionEnd(session *Session, result *BuildResult) {
	session.emitter.Emit(events.TypeSessionEnd, events.SessionEndData{
		FinalState: result.State.String(),
		Iterations: result.Iterations,
		Success:    result.Succeeded(),
		Cancelled:  result.Cancelled,
		Error:      result.Error,
	})
}

// ===== Plumbing =====

// transition attempts a state transition, recording it in history and on
// the event stream.
func (l *Loop) transition(session *Session, to State, reason string) error {
	from := session.GetState()
	if err := l.stateMachine.Transition(session, to); err != nil {
		l.logger.Error("State transition failed",
			"session_id", session.ID,
			"from", from.String(),
			"to", to.String(),
			"error", err)
		return err
	}

	l.logger.Debug("State transition",
		"session_id", session.ID,
		"from", from.String(),
		"to", to.String(),
		"reason", reason)
	session.AddHistoryEntry(HistoryEntry{
		Type:  "state_transition",
		Input: fmt.Sprintf("%s -> %s: %s", from, to, reason),
	})
	session.emitter.Emit(events.TypeStateTransition, events.StateTransitionData{
		From:   from.String(),
		To:     to.String(),
		Reason: reason,
	})
	return nil
}

// acquireSlot attempts to acquire a concurrent session slot.
func (l *Loop) acquireSlot() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConcurrent > 0 && l.activeSessions >= l.maxConcurrent {
		return fmt.Errorf("maximum concurrent sessions reached (%d)", l.maxConcurrent)
	}
	l.activeSessions++
	return nil
}

// releaseSlot releases a concurrent session slot.
func (l *Loop) releaseSlot() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.activeSessions > 0 {
		l.activeSessions--
	}
}

// ActiveSessions returns the number of sessions currently running.
//
// Thread Safety: Safe for concurrent use.
func (l *Loop) ActiveSessions() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(l.activeSessions)
}

// ===== In-Memory Store =====

// InMemorySessionStore is a simple in-memory session store.
//
// Thread Safety: InMemorySessionStore is safe for concurrent use.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemorySessionStore creates a new in-memory session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]*Session),
	}
}

// Get implements SessionStore.
func (s *InMemorySessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Put implements SessionStore.
func (s *InMemorySessionStore) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

// Delete implements SessionStore.
func (s *InMemorySessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List implements SessionStore.
func (s *InMemorySessionStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent/events"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/document"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/tools"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/warnings"
	"github.com/AleutianAI/AleutianFlow/services/llm"
)

// DefaultDocumentPath is the logical path of the session document when
// the build request does not name one.
const DefaultDocumentPath = "workflow.json"

// SessionConfig holds all tunable parameters for a session.
//
// Thread Safety:
//
//	SessionConfig is immutable after creation. Modifications require
//	creating a new config.
type SessionConfig struct {
	// MaxIterations is the build iteration ceiling.
	// Default: 12
	MaxIterations int `json:"max_iterations"`

	// MaxFinalizeAttempts is the auto-finalize pass ceiling.
	// Default: 3
	MaxFinalizeAttempts int `json:"max_finalize_attempts"`

	// Model overrides the client's configured model when non-empty.
	Model string `json:"model,omitempty"`

	// MaxTokensPerTurn caps completion tokens per model call.
	// Default: 4096
	MaxTokensPerTurn int `json:"max_tokens_per_turn"`

	// Temperature is the sampling temperature passed to the model.
	// Default: 0.2
	Temperature float32 `json:"temperature"`

	// TurnTimeout is the maximum duration of a single model call.
	// Default: 2m
	TurnTimeout time.Duration `json:"turn_timeout"`

	// TotalTimeout is the maximum duration of the entire session.
	// Default: 15m
	TotalTimeout time.Duration `json:"total_timeout"`
}

// DefaultSessionConfig returns production-ready default configuration.
//
// Outputs:
//
//	*SessionConfig - Configuration with default values
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		MaxIterations:       DefaultMaxIterations,
		MaxFinalizeAttempts: DefaultMaxFinalizeAttempts,
		MaxTokensPerTurn:    4096,
		Temperature:         0.2,
		TurnTimeout:         2 * time.Minute,
		TotalTimeout:        15 * time.Minute,
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//
//	error - Non-nil if configuration is invalid, contains validation details
func (c *SessionConfig) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: MaxIterations must be positive", ErrInvalidSession)
	}
	if c.MaxFinalizeAttempts <= 0 {
		return fmt.Errorf("%w: MaxFinalizeAttempts must be positive", ErrInvalidSession)
	}
	if c.MaxTokensPerTurn <= 0 {
		return fmt.Errorf("%w: MaxTokensPerTurn must be positive", ErrInvalidSession)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: Temperature must be between 0 and 2", ErrInvalidSession)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("%w: TurnTimeout must be positive", ErrInvalidSession)
	}
	if c.TotalTimeout <= 0 {
		return fmt.Errorf("%w: TotalTimeout must be positive", ErrInvalidSession)
	}
	return nil
}

// Session is the explicit context object one build runs inside: the
// document under edit, the warning ledger, the conversation, the budget,
// and the loop state all live here and are passed by reference.
//
// Thread Safety:
//
//	Exported state is guarded internally and safe to read concurrently.
//	The document store and warning ledger are owned by the goroutine
//	driving the session; their contents surface in View once the
//	session reaches a terminal state.
type Session struct {
	mu sync.RWMutex

	// ID is the unique session identifier.
	ID string `json:"id"`

	// Instruction is the build request being served.
	Instruction string `json:"instruction"`

	// State is the current loop state.
	State State `json:"state"`

	// Config holds the session configuration.
	Config *SessionConfig `json:"config"`

	// History records all execution steps.
	History []HistoryEntry `json:"history"`

	// Metrics tracks session counters.
	Metrics *SessionMetrics `json:"metrics"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// LastActiveAt is when the session last made progress.
	LastActiveAt time.Time `json:"last_active_at"`

	// Document is the single text buffer under edit.
	Document *document.Store `json:"-"`

	// Ledger tracks validation findings across iterations.
	Ledger *warnings.Ledger `json:"-"`

	// Budget enforces the iteration and finalize ceilings.
	Budget *Budget `json:"-"`

	// messages is the conversation sent to the model each turn.
	messages []llm.Message

	// emitter streams progress to watchers.
	emitter *events.Emitter

	// dispatcher routes this session's tool calls.
	dispatcher *tools.Dispatcher

	// cancel aborts the running loop, set while Run is active.
	cancel context.CancelFunc

	// result is the terminal outcome, set exactly once.
	result *BuildResult

	// inProgress indicates the loop is currently driving this session.
	inProgress bool
}

// SessionView is a point-in-time snapshot safe to serialize.
type SessionView struct {
	ID           string             `json:"id"`
	Path         string             `json:"path"`
	Instruction  string             `json:"instruction"`
	State        State              `json:"state"`
	Budget       BudgetStatus       `json:"budget"`
	Metrics      SessionMetrics     `json:"metrics"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActiveAt time.Time          `json:"last_active_at"`
	Workflow     string             `json:"workflow,omitempty"`
	Warnings     []warnings.Tracked `json:"warnings,omitempty"`
	Result       *BuildResult       `json:"result,omitempty"`
}

// NewSession creates a session for a build request.
//
// Description:
//
//	The session starts in IDLE state with an empty document buffer; a
//	baseline, when present, is loaded by the loop before the first
//	model call so its findings can be tagged pre-existing.
//
// Inputs:
//
//	req - The build request.
//	config - Session configuration (uses defaults if nil).
//
// Outputs:
//
//	*Session - The new session.
//	error - Non-nil if the request or configuration is invalid.
func NewSession(req *BuildRequest, config *SessionConfig) (*Session, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request must not be nil", ErrInvalidSession)
	}
	if req.Instruction == "" {
		return nil, ErrEmptyInstruction
	}

	if config == nil {
		config = DefaultSessionConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	path := req.Path
	if path == "" {
		path = DefaultDocumentPath
	}

	id := uuid.NewString()
	now := time.Now()
	return &Session{
		ID:           id,
		Instruction:  req.Instruction,
		State:        StateIdle,
		Config:       config,
		History:      make([]HistoryEntry, 0),
		Metrics:      &SessionMetrics{},
		CreatedAt:    now,
		LastActiveAt: now,
		Document:     document.NewStore(path),
		Ledger:       warnings.NewLedger(),
		Budget:       NewBudget(config.MaxIterations, config.MaxFinalizeAttempts),
		emitter:      events.NewEmitter(events.WithSessionID(id)),
	}, nil
}

// Path returns the logical document path, fixed for the session.
func (s *Session) Path() string {
	return s.Document.Path()
}

// Events returns the session's event emitter for watchers to subscribe.
func (s *Session) Events() *events.Emitter {
	return s.emitter
}

// GetState returns the current session state.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// SetState updates the session state.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
	s.LastActiveAt = time.Now()
}

// IsTerminated returns true once the session reached DONE or FAILED.
func (s *Session) IsTerminated() bool {
	return s.GetState().IsTerminal()
}

// AppendMessages extends the conversation.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) AppendMessages(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
	s.LastActiveAt = time.Now()
}

// Messages returns a copy of the conversation.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the conversation length.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// AddHistoryEntry appends a history entry, stamping step, state, and time.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) AddHistoryEntry(entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Step = len(s.History)
	entry.State = s.State
	entry.Timestamp = time.Now()
	s.History = append(s.History, entry)
	s.LastActiveAt = time.Now()
}

// GetHistory returns a copy of the history.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) GetHistory() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.History))
	copy(out, s.History)
	return out
}

// IncrementMetric adds a value to a session counter.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) IncrementMetric(field MetricField, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch field {
	case MetricIterations:
		s.Metrics.Iterations += value
	case MetricLLMCalls:
		s.Metrics.LLMCalls += value
	case MetricToolCalls:
		s.Metrics.ToolCalls += value
	case MetricFinalizeAttempts:
		s.Metrics.FinalizeAttempts += value
	case MetricInputTokens:
		s.Metrics.InputTokens += value
	case MetricOutputTokens:
		s.Metrics.OutputTokens += value
	}
}

// GetMetrics returns a copy of the session counters.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) GetMetrics() SessionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.Metrics
}

// TryAcquire marks the session as in progress.
//
// Outputs:
//
//	bool - False if the session is already being driven.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return false
	}
	s.inProgress = true
	return true
}

// Release clears the in-progress flag.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = false
}

// Cancel aborts a running session. A no-op before Run or after
// termination. The loop reports the outcome as cancelled, not failed
// with an error.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) Cancel() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// bindCancel installs the loop's cancel function for the run's duration.
func (s *Session) bindCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// setResult records the terminal outcome. First write wins.
func (s *Session) setResult(r *BuildResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		s.result = r
	}
}

// Result returns the terminal outcome, nil while the session is active.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) Result() *BuildResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// View snapshots the session for status reads.
//
// Description:
//
//	The document text and warning timeline belong to the goroutine
//	driving the loop, so they are included only once the session has
//	terminated; live progress should come from the event stream.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) View() *SessionView {
	s.mu.RLock()
	view := &SessionView{
		ID:           s.ID,
		Path:         s.Document.Path(),
		Instruction:  s.Instruction,
		State:        s.State,
		Metrics:      *s.Metrics,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		Result:       s.result,
	}
	terminal := s.State.IsTerminal()
	s.mu.RUnlock()

	view.Budget = s.Budget.Status()
	if terminal {
		if text, ok := s.Document.Content(); ok {
			view.Workflow = text
		}
		view.Warnings = s.Ledger.Timeline()
	}
	return view
}

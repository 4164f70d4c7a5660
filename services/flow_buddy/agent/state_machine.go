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
	"fmt"
	"sync"
)

// StateMachine manages valid state transitions for the build loop.
//
// The state machine enforces the following transition graph:
//
//	IDLE → INVOKING_MODEL              : Build request accepted
//	INVOKING_MODEL → DISPATCHING_TOOLS : Model turn carried tool calls
//	INVOKING_MODEL → AUTO_FINALIZING   : Model turn carried no tool calls
//	DISPATCHING_TOOLS → READY          : A validate call surfaced nothing new
//	DISPATCHING_TOOLS → CONTINUING     : Feedback folded into conversation
//	READY → DONE                       : Document accepted
//	CONTINUING → INVOKING_MODEL        : Next iteration within ceiling
//	AUTO_FINALIZING → DONE             : Finalize pass clean or converged
//	AUTO_FINALIZING → INVOKING_MODEL   : Corrective exchange appended
//	* → FAILED                         : Ceiling, cancellation, model fault
//
// Thread Safety:
//
//	StateMachine is safe for concurrent use.
type StateMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[State]map[State]bool
}

// NewStateMachine creates a new state machine with all valid transitions.
//
// Outputs:
//
//	*StateMachine - Configured state machine
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[State]map[State]bool),
	}

	// Initialize all states with empty transition maps
	for _, state := range AllStates() {
		sm.transitions[state] = make(map[State]bool)
	}

	// Define valid transitions
	sm.addTransition(StateIdle, StateInvokingModel)

	sm.addTransition(StateInvokingModel, StateDispatchingTools)
	sm.addTransition(StateInvokingModel, StateAutoFinalizing)

	sm.addTransition(StateDispatchingTools, StateReady)
	sm.addTransition(StateDispatchingTools, StateContinuing)

	sm.addTransition(StateReady, StateDone)

	sm.addTransition(StateContinuing, StateInvokingModel)

	sm.addTransition(StateAutoFinalizing, StateDone)
	sm.addTransition(StateAutoFinalizing, StateInvokingModel)

	// Any non-terminal state can fail: ceilings, cancellation, and
	// unrecoverable model faults strike at every suspension point.
	for _, state := range AllStates() {
		if !state.IsTerminal() {
			sm.addTransition(state, StateFailed)
		}
	}

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to State) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition from one state to another is valid.
//
// Inputs:
//
//	from - Current state
//	to - Target state
//
// Outputs:
//
//	bool - True if the transition is valid
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) CanTransition(from, to State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition attempts to transition a session from one state to another.
//
// Description:
//
//	Validates the transition and updates the session state if valid.
//	Returns an error if the transition is not allowed.
//
// Inputs:
//
//	session - The session to transition
//	to - Target state
//
// Outputs:
//
//	error - ErrInvalidTransition if transition not allowed
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) Transition(session *Session, to State) error {
	from := session.GetState()

	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	session.SetState(to)
	return nil
}

// ValidTransitionsFrom returns all valid transitions from a given state.
//
// Inputs:
//
//	from - The source state
//
// Outputs:
//
//	[]State - All valid target states
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) ValidTransitionsFrom(from State) []State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []State
	if toMap, ok := sm.transitions[from]; ok {
		for state, valid := range toMap {
			if valid {
				result = append(result, state)
			}
		}
	}
	return result
}

// TransitionReason provides a human-readable description of a transition.
//
// Inputs:
//
//	from - Source state
//	to - Target state
//
// Outputs:
//
//	string - Description of why this transition occurs
func (sm *StateMachine) TransitionReason(from, to State) string {
	if to == StateFailed {
		return "Ceiling exhausted, cancellation, or model fault"
	}

	key := from.String() + "->" + to.String()

	reasons := map[string]string{
		"IDLE->INVOKING_MODEL":              "Build request accepted",
		"INVOKING_MODEL->DISPATCHING_TOOLS": "Model turn carried tool calls",
		"INVOKING_MODEL->AUTO_FINALIZING":   "Model turn carried no tool calls",
		"DISPATCHING_TOOLS->READY":          "A validate call surfaced nothing new",
		"DISPATCHING_TOOLS->CONTINUING":     "Feedback folded into conversation",
		"READY->DONE":                       "Document accepted",
		"CONTINUING->INVOKING_MODEL":        "Next iteration within ceiling",
		"AUTO_FINALIZING->DONE":             "Finalize pass clean or converged",
		"AUTO_FINALIZING->INVOKING_MODEL":   "Corrective exchange appended",
	}

	if reason, ok := reasons[key]; ok {
		return reason
	}
	return "Unknown transition"
}

// DefaultStateMachine is the shared state machine instance.
var DefaultStateMachine = NewStateMachine()

// Transition is a convenience function using the default state machine.
func Transition(session *Session, to State) error {
	return DefaultStateMachine.Transition(session, to)
}

// CanTransition is a convenience function using the default state machine.
func CanTransition(from, to State) bool {
	return DefaultStateMachine.CanTransition(from, to)
}

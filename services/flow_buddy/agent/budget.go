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

import "sync"

const (
	// DefaultMaxIterations bounds build iterations per session.
	DefaultMaxIterations = 12

	// DefaultMaxFinalizeAttempts bounds auto-finalize passes per session.
	// Smaller than the iteration ceiling: a model that has stopped
	// calling tools rarely recovers after a couple of nudges.
	DefaultMaxFinalizeAttempts = 3
)

// Budget enforces the two ceilings that bound a session's work. They are
// the loop's sole liveness guarantee: however the model behaves, a
// session performs at most MaxIterations model turns and
// MaxFinalizeAttempts finalize passes.
//
// Thread Safety: Safe for concurrent use via mutex.
type Budget struct {
	mu               sync.Mutex
	maxIterations    int
	maxFinalize      int
	iteration        int
	finalizeAttempts int
}

// BudgetStatus is a point-in-time snapshot for logging and status reads.
type BudgetStatus struct {
	// Iteration is the latest started iteration (0 before the first).
	Iteration int `json:"iteration"`

	// MaxIterations is the iteration ceiling.
	MaxIterations int `json:"max_iterations"`

	// IterationsRemaining is how many more iterations may start.
	IterationsRemaining int `json:"iterations_remaining"`

	// FinalizeAttempts is how many auto-finalize passes have run.
	FinalizeAttempts int `json:"finalize_attempts"`

	// MaxFinalizeAttempts is the auto-finalize ceiling.
	MaxFinalizeAttempts int `json:"max_finalize_attempts"`
}

// NewBudget creates a budget with the given ceilings. Non-positive
// values fall back to the defaults.
//
// Inputs:
//
//	maxIterations - Iteration ceiling.
//	maxFinalize - Auto-finalize ceiling.
//
// Outputs:
//
//	*Budget - The configured budget.
func NewBudget(maxIterations, maxFinalize int) *Budget {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if maxFinalize <= 0 {
		maxFinalize = DefaultMaxFinalizeAttempts
	}
	return &Budget{
		maxIterations: maxIterations,
		maxFinalize:   maxFinalize,
	}
}

// NextIteration claims the next iteration number, 1-based.
//
// Outputs:
//
//	int - The iteration number claimed, or the last one when denied.
//	bool - False when the ceiling is exhausted.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Budget) NextIteration() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.iteration >= b.maxIterations {
		return b.iteration, false
	}
	b.iteration++
	return b.iteration, true
}

// UseFinalizeAttempt claims one auto-finalize pass.
//
// Outputs:
//
//	bool - False when the finalize ceiling is exhausted.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Budget) UseFinalizeAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalizeAttempts >= b.maxFinalize {
		return false
	}
	b.finalizeAttempts++
	return true
}

// Iteration returns the latest started iteration number.
func (b *Budget) Iteration() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.iteration
}

// FinalizeAttempts returns how many auto-finalize passes have run.
func (b *Budget) FinalizeAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalizeAttempts
}

// Status returns a snapshot of both ceilings.
func (b *Budget) Status() BudgetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BudgetStatus{
		Iteration:           b.iteration,
		MaxIterations:       b.maxIterations,
		IterationsRemaining: b.maxIterations - b.iteration,
		FinalizeAttempts:    b.finalizeAttempts,
		MaxFinalizeAttempts: b.maxFinalize,
	}
}
